package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound signals an operation referenced an entity, snapshot or hold
	// absent from the store.
	ErrNotFound = errors.New("not found")

	// ErrConflictExhausted signals a transactional write retried past its
	// budget; the caller may retry or surface the contention to the user.
	ErrConflictExhausted = errors.New("transaction conflict budget exhausted")

	// ErrTxAbort is returned by a transact function to cancel with no write.
	ErrTxAbort = errors.New("transaction aborted")

	// ErrStoreUnavailable signals a transport-level failure talking to the
	// remote store. Reconnection is the adapter's concern, not the engine's.
	ErrStoreUnavailable = errors.New("remote store unavailable")
)

// IntegrityError reports a partition inconsistency, e.g. a counter entry
// with no matching static entry. It is logged loudly and the sync proceeds
// on best-available defaults rather than failing outright.
type IntegrityError struct {
	EntityID string
	Detail   string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity violation for entity %s: %s", e.EntityID, e.Detail)
}
