// Package transport implements the epidemic engine's peer-to-peer RPCs
// over plain JSON-over-HTTP, in the same net/http + encoding/json style
// cmd/cie/serve.go uses for its local query API. The wire shape is
// one concrete choice among many, not a prescribed protocol.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aegismesh/sentrynode/internal/storetypes"
	"github.com/aegismesh/sentrynode/internal/wire"
)

const (
	pathDigestPush     = "/v1/gossip/digest"
	pathDigestExchange = "/v1/reconcile/digest"
	pathTransferPull   = "/v1/reconcile/transfer"
	pathTransferPush   = "/v1/transfer"
)

// HTTP implements epidemic.Transport by POSTing JSON bodies to a
// peer's endpoint, which is expected to be reachable as an http://
// base address (e.g. "10.0.0.2:7946").
type HTTP struct {
	client *http.Client
}

// NewHTTP builds a transport with a bounded per-request timeout.
func NewHTTP(timeout time.Duration) *HTTP {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTP{client: &http.Client{Timeout: timeout}}
}

func (t *HTTP) post(ctx context.Context, endpoint, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return storetypes.Wrap(storetypes.KindSerialization, "encode request", err)
	}
	url := fmt.Sprintf("http://%s%s", endpoint, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return storetypes.Wrap(storetypes.KindNetwork, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return storetypes.Wrap(storetypes.KindNetwork, "peer unreachable: "+endpoint, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return storetypes.Wrap(storetypes.KindNetwork, "read response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return storetypes.New(storetypes.KindNetwork, fmt.Sprintf("peer %s returned %d: %s", endpoint, resp.StatusCode, string(data)))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return storetypes.Wrap(storetypes.KindSerialization, "decode response", err)
	}
	return nil
}

// SendDigest implements epidemic.Transport's fire-and-forget gossip push.
func (t *HTTP) SendDigest(ctx context.Context, peer storetypes.PeerRecord, digest wire.Digest) error {
	return t.post(ctx, peer.Endpoint, pathDigestPush, digest, nil)
}

// ExchangeDigest implements epidemic.Transport's two-way anti-entropy digest swap.
func (t *HTTP) ExchangeDigest(ctx context.Context, peer storetypes.PeerRecord, digest wire.Digest) (wire.Digest, error) {
	var out wire.Digest
	err := t.post(ctx, peer.Endpoint, pathDigestExchange, digest, &out)
	return out, err
}

// RequestTransfer implements epidemic.Transport's payload pull.
func (t *HTTP) RequestTransfer(ctx context.Context, peer storetypes.PeerRecord, ids []string) (wire.Transfer, error) {
	var out wire.Transfer
	err := t.post(ctx, peer.Endpoint, pathTransferPull, struct {
		IDs []string `json:"ids"`
	}{IDs: ids}, &out)
	return out, err
}

// SendTransfer implements epidemic.Transport's payload push.
func (t *HTTP) SendTransfer(ctx context.Context, peer storetypes.PeerRecord, transfer wire.Transfer) error {
	return t.post(ctx, peer.Endpoint, pathTransferPush, transfer, nil)
}
