// Package storetypes defines the data model shared by every core
// component: blinded entries, policy anchors, peer records, and the
// error taxonomy the rest of the node propagates.
package storetypes

import "fmt"

// Kind classifies a core error so callers can branch on failure mode
// without inspecting error strings.
type Kind int

const (
	// KindInternal covers unexpected failures with no clearer classification.
	KindInternal Kind = iota
	// KindInvalidState marks a request rejected before any side effect.
	KindInvalidState
	// KindNotFound marks an absent or expired entry.
	KindNotFound
	// KindAuthentication marks a missing or malformed credential.
	KindAuthentication
	// KindRateLimited marks a request rejected by the sliding-window limiter.
	KindRateLimited
	// KindCrypto marks a KEM/AEAD/signature failure.
	KindCrypto
	// KindIntegrity marks a proof-hash mismatch on ingest or gossip.
	KindIntegrity
	// KindStorage marks a backend failure.
	KindStorage
	// KindSerialization marks a schema mismatch.
	KindSerialization
	// KindNetwork marks a peer-unreachable condition; always retried in background tasks.
	KindNetwork
	// KindNotImplemented marks an unsupported operation on a given backend.
	KindNotImplemented
)

func (k Kind) String() string {
	switch k {
	case KindInvalidState:
		return "invalid_state"
	case KindNotFound:
		return "not_found"
	case KindAuthentication:
		return "authentication"
	case KindRateLimited:
		return "rate_limited"
	case KindCrypto:
		return "crypto"
	case KindIntegrity:
		return "integrity"
	case KindStorage:
		return "storage"
	case KindSerialization:
		return "serialization"
	case KindNetwork:
		return "network"
	case KindNotImplemented:
		return "not_implemented"
	default:
		return "internal"
	}
}

// Error is the core error type. It wraps an optional cause so
// slog/fmt can still print the underlying detail.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a *Error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds a *Error carrying an underlying cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf extracts the Kind from an error produced by this package,
// defaulting to KindInternal for anything else.
func KindOf(err error) Kind {
	var e *Error
	if err == nil {
		return KindInternal
	}
	if ok := asError(err, &e); ok {
		return e.Kind
	}
	return KindInternal
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
