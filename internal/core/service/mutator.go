package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ptduy/livecount/internal/core/domain"
	"github.com/ptduy/livecount/internal/port"
	"github.com/ptduy/livecount/pkg/logger"
)

// Mutator performs conflict-safe counter mutations against the remote store.
// It never touches the local mirror: the authoritative result flows back
// through the subscription echo, so a failed call leaves the mirror exactly
// as it was.
type Mutator struct {
	store  port.RemoteStore
	mirror *Mirror
	parts  *Partitioner
	audit  *AuditLogger
	log    *logger.Logger
}

func NewMutator(store port.RemoteStore, engine *Engine, audit *AuditLogger, log *logger.Logger) *Mutator {
	if log == nil {
		log = logger.Nop()
	}
	return &Mutator{
		store:  store,
		mirror: engine.Mirror(),
		parts:  engine.Partitioner(),
		audit:  audit,
		log:    log,
	}
}

// AdjustCounter applies delta to the entity's counter atomically, clamped to
// [0, capacity]. It returns the value the counter holds after the call. A
// clamp down to a zero realized delta is a no-op: nothing is written and no
// audit record is appended. Concurrent writers are serialized by the store's
// optimistic transaction; once its retry budget runs out the caller gets
// domain.ErrConflictExhausted and may retry manually.
func (m *Mutator) AdjustCounter(ctx context.Context, id string, delta int, actorID, source string) (int, error) {
	return m.mutate(ctx, id, actorID, source, func(current, capacity int) int {
		return domain.Clamp(current+delta, capacity)
	})
}

// SetCounter assigns the counter directly, clamped to [0, capacity].
func (m *Mutator) SetCounter(ctx context.Context, id string, value int, actorID, source string) (int, error) {
	return m.mutate(ctx, id, actorID, source, func(_, capacity int) int {
		return domain.Clamp(value, capacity)
	})
}

func (m *Mutator) mutate(ctx context.Context, id, actorID, source string, next func(current, capacity int) int) (int, error) {
	capacity, err := m.capacity(ctx, id)
	if err != nil {
		return 0, err
	}

	var realized int
	final, err := m.store.Transact(ctx, counterPath(id), func(raw json.RawMessage) (json.RawMessage, error) {
		current, err := decodeCounter(raw)
		if err != nil {
			return nil, fmt.Errorf("decode counter for %s: %w", id, err)
		}
		target := next(current, capacity)
		realized = target - current
		if realized == 0 {
			return nil, domain.ErrTxAbort
		}
		return encodeCounter(target), nil
	})
	if err != nil {
		return 0, fmt.Errorf("adjust counter %s: %w", id, err)
	}

	value, err := decodeCounter(final)
	if err != nil {
		return 0, fmt.Errorf("decode counter for %s: %w", id, err)
	}
	if realized == 0 {
		return value, nil
	}

	if m.audit != nil {
		if _, err := m.audit.Record(ctx, id, realized, actorID, source); err != nil {
			// The counter mutation itself committed; losing the audit entry
			// is logged loudly rather than reported as a failed adjustment.
			m.log.Error(m.log.WithEntityID(ctx, id), "audit record append failed", err)
		}
	}
	return value, nil
}

// capacity resolves the entity's capacity from the mirror, falling back to a
// point read of the static partition for callers running without a mirror
// fill. An entity absent from both signals NotFound.
func (m *Mutator) capacity(ctx context.Context, id string) (int, error) {
	if ent, ok := m.mirror.Get(id); ok {
		return ent.Static.Capacity, nil
	}
	static, err := m.parts.ReadStatic(ctx, id)
	if err != nil {
		return 0, err
	}
	if static == nil {
		return 0, fmt.Errorf("entity %s: %w", id, domain.ErrNotFound)
	}
	return static.Capacity, nil
}
