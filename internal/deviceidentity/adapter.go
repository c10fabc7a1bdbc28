// Package deviceidentity implements the optional reshaping applied to
// entries stored under the reserved "device_identity:" blinded-id
// prefix. It is consulted only by the Request Facade — the Local
// Store and Epidemic Engine treat these entries as fully opaque, per
// the design note that the reserved prefix is a smell best kept out
// of the core.
//
// Ported from original_source/dsm_storage_node/src/api/handlers.rs's
// retrieval-path special case for device_identity: ids.
package deviceidentity

import (
	"encoding/base64"
	"encoding/json"

	"github.com/aegismesh/sentrynode/internal/storetypes"
)

// Prefix marks a blinded id as carrying a device identity record.
const Prefix = storetypes.DeviceIdentityPrefix

// record mirrors the original's DeviceIdentity payload shape.
type record struct {
	DeviceID      string          `json:"device_id"`
	CreatedAt     uint64          `json:"created_at"`
	UpdatedAt     uint64          `json:"updated_at"`
	GenesisState  json.RawMessage `json:"genesis_state"`
	DeviceEntropy []byte          `json:"device_entropy"`
	BlindKey      []byte          `json:"blind_key"`
}

// View is the reshaped response returned for a device_identity: id.
type View struct {
	DeviceID      string          `json:"device_id"`
	Threshold     int             `json:"threshold"`
	CreatedAt     uint64          `json:"created_at"`
	UpdatedAt     uint64          `json:"updated_at"`
	GenesisState  json.RawMessage `json:"genesis_state,omitempty"`
	DeviceEntropy string          `json:"device_entropy"`
	BlindKey      string          `json:"blind_key"`
}

// mpcThreshold is fixed at 3, matching the original's hardcoded MPC
// threshold for device-identity responses.
const mpcThreshold = 3

// IsDeviceIdentity reports whether blindedID carries a device identity record.
func IsDeviceIdentity(blindedID string) bool {
	return len(blindedID) >= len(Prefix) && blindedID[:len(Prefix)] == Prefix
}

// Reshape decodes a device identity entry's payload into the named,
// base64-encoded view. On decode failure it returns an error so the
// facade can fall back to returning the raw entry.
func Reshape(payload []byte) (*View, error) {
	var rec record
	if err := json.Unmarshal(payload, &rec); err != nil {
		return nil, storetypes.Wrap(storetypes.KindSerialization, "decode device identity payload", err)
	}
	return &View{
		DeviceID:      rec.DeviceID,
		Threshold:     mpcThreshold,
		CreatedAt:     rec.CreatedAt,
		UpdatedAt:     rec.UpdatedAt,
		GenesisState:  rec.GenesisState,
		DeviceEntropy: base64.StdEncoding.EncodeToString(rec.DeviceEntropy),
		BlindKey:      base64.StdEncoding.EncodeToString(rec.BlindKey),
	}, nil
}
