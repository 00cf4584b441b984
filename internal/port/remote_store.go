package port

import (
	"context"
	"encoding/json"
	"time"
)

// ChildObserver receives child events for one subscribed path. On attach the
// store replays every existing child as an added event before any live event.
type ChildObserver interface {
	OnChildAdded(key string, value json.RawMessage)
	OnChildChanged(key string, value json.RawMessage)
	OnChildRemoved(key string)
}

// TxFunc computes the next value for a transactional read-modify-write.
// Returning domain.ErrTxAbort cancels the transaction with no write.
type TxFunc func(current json.RawMessage) (json.RawMessage, error)

// RemoteStore is the hierarchical, path-addressed realtime store the engine
// synchronizes against. Paths are slash-separated; a child key is the last
// segment under a subscribed path.
type RemoteStore interface {
	// Read returns the value at path, or nil with no error when absent.
	Read(ctx context.Context, path string) (json.RawMessage, error)

	// ReadChildren bulk-reads every direct child of path, keyed by child key.
	ReadChildren(ctx context.Context, path string) (map[string]json.RawMessage, error)

	// Write overwrites the value at path.
	Write(ctx context.Context, path string, value json.RawMessage) error

	// Update applies a multi-path overwrite batch; a nil value deletes the
	// path. Adapters apply it atomically where the backend allows, and as a
	// best-effort batch otherwise.
	Update(ctx context.Context, values map[string]json.RawMessage) error

	// Transact runs an optimistic read-modify-write at path, retrying on
	// conflicting concurrent writers up to an adapter-owned budget. It
	// returns the final value, or domain.ErrConflictExhausted once the
	// budget runs out. An aborted transaction returns the current value
	// with no error.
	Transact(ctx context.Context, path string, fn TxFunc) (json.RawMessage, error)

	// Push appends value under path with a store-generated unique key whose
	// lexicographic order follows server time.
	Push(ctx context.Context, path string, value json.RawMessage) (string, error)

	// Subscribe attaches a child observer to path. Delivery within one path
	// follows write order for a single writer; no ordering is guaranteed
	// across paths. Transport failures are reported through onErr.
	// The returned function detaches the observer.
	Subscribe(path string, obs ChildObserver, onErr func(error)) (func(), error)

	// ServerTime returns the store's clock, used for server-assigned
	// timestamps.
	ServerTime(ctx context.Context) (time.Time, error)
}
