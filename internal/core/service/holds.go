package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ptduy/livecount/internal/core/domain"
	"github.com/ptduy/livecount/internal/port"
	"github.com/ptduy/livecount/pkg/logger"
)

// HoldObserver receives hold lifecycle events for one watched entity.
type HoldObserver interface {
	OnHoldSet(h domain.Hold)
	OnHoldRemoved(entityID, actorID string)
}

// HoldCoordinator runs the soft-reservation lifecycle. Holds live under a
// path scoped by (entity, actor), so several cashiers can eye the same item
// at once without clobbering each other; every transition fans out to all
// connected actors through the usual subscription mechanism.
type HoldCoordinator struct {
	store   port.RemoteStore
	mutator *Mutator
	log     *logger.Logger
}

func NewHoldCoordinator(store port.RemoteStore, mutator *Mutator, log *logger.Logger) *HoldCoordinator {
	if log == nil {
		log = logger.Nop()
	}
	return &HoldCoordinator{store: store, mutator: mutator, log: log}
}

// Claim opens a draft hold of quantity for (entityID, actorID), replacing
// any previous draft by the same actor.
func (h *HoldCoordinator) Claim(ctx context.Context, entityID, actorID string, quantity int) (domain.Hold, error) {
	if quantity <= 0 {
		return domain.Hold{}, fmt.Errorf("claim quantity must be positive, got %d", quantity)
	}
	now, err := h.store.ServerTime(ctx)
	if err != nil {
		return domain.Hold{}, err
	}
	hold := domain.Hold{
		EntityID:  entityID,
		ActorID:   actorID,
		Quantity:  quantity,
		Draft:     true,
		ClaimedAt: now,
	}
	raw, err := json.Marshal(hold)
	if err != nil {
		return domain.Hold{}, fmt.Errorf("encode hold: %w", err)
	}
	if err := h.store.Write(ctx, holdPath(entityID, actorID), raw); err != nil {
		return domain.Hold{}, fmt.Errorf("claim %s/%s: %w", entityID, actorID, err)
	}
	return hold, nil
}

// Add adjusts the draft quantity by delta, in place, floored at 1. Use
// Discard to drop a hold entirely.
func (h *HoldCoordinator) Add(ctx context.Context, entityID, actorID string, delta int) (domain.Hold, error) {
	return h.adjust(ctx, entityID, actorID, func(q int) int {
		q += delta
		if q < 1 {
			q = 1
		}
		return q
	})
}

// SetQuantity assigns the draft quantity directly.
func (h *HoldCoordinator) SetQuantity(ctx context.Context, entityID, actorID string, quantity int) (domain.Hold, error) {
	if quantity <= 0 {
		return domain.Hold{}, fmt.Errorf("hold quantity must be positive, got %d", quantity)
	}
	return h.adjust(ctx, entityID, actorID, func(int) int { return quantity })
}

// adjust rewrites the hold transactionally so two devices of the same actor
// cannot clobber each other's update.
func (h *HoldCoordinator) adjust(ctx context.Context, entityID, actorID string, next func(int) int) (domain.Hold, error) {
	var hold domain.Hold
	_, err := h.store.Transact(ctx, holdPath(entityID, actorID), func(current json.RawMessage) (json.RawMessage, error) {
		if current == nil {
			return nil, fmt.Errorf("hold %s/%s: %w", entityID, actorID, domain.ErrNotFound)
		}
		if err := json.Unmarshal(current, &hold); err != nil {
			return nil, fmt.Errorf("decode hold %s/%s: %w", entityID, actorID, err)
		}
		target := next(hold.Quantity)
		if target == hold.Quantity {
			return nil, domain.ErrTxAbort
		}
		hold.Quantity = target
		return json.Marshal(hold)
	})
	if err != nil {
		return domain.Hold{}, err
	}
	return hold, nil
}

// Discard removes the hold with no counter effect. Removing an absent hold
// is a no-op.
func (h *HoldCoordinator) Discard(ctx context.Context, entityID, actorID string) error {
	err := h.store.Update(ctx, map[string]json.RawMessage{holdPath(entityID, actorID): nil})
	if err != nil {
		return fmt.Errorf("discard hold %s/%s: %w", entityID, actorID, err)
	}
	return nil
}

// Confirm merges the held quantity into the entity's committed counter via
// the transactional mutator, then removes the hold. The returned value is
// the counter after the merge (the merge clamps like any other adjustment).
func (h *HoldCoordinator) Confirm(ctx context.Context, entityID, actorID string) (int, error) {
	raw, err := h.store.Read(ctx, holdPath(entityID, actorID))
	if err != nil {
		return 0, fmt.Errorf("read hold %s/%s: %w", entityID, actorID, err)
	}
	if raw == nil {
		return 0, fmt.Errorf("hold %s/%s: %w", entityID, actorID, domain.ErrNotFound)
	}
	var hold domain.Hold
	if err := json.Unmarshal(raw, &hold); err != nil {
		return 0, fmt.Errorf("decode hold %s/%s: %w", entityID, actorID, err)
	}

	value, err := h.mutator.AdjustCounter(ctx, entityID, hold.Quantity, actorID, "hold-confirm")
	if err != nil {
		return 0, err
	}
	if err := h.Discard(ctx, entityID, actorID); err != nil {
		// The counter merge committed; a dangling hold record is recoverable
		// by a later discard, so report it but keep the new value.
		h.log.Error(h.log.WithEntityID(ctx, entityID), "confirmed hold not removed", err)
		return value, err
	}
	return value, nil
}

// Holds lists every live hold against one entity.
func (h *HoldCoordinator) Holds(ctx context.Context, entityID string) ([]domain.Hold, error) {
	children, err := h.store.ReadChildren(ctx, holdsEntityPath(entityID))
	if err != nil {
		return nil, fmt.Errorf("read holds for %s: %w", entityID, err)
	}
	holds := make([]domain.Hold, 0, len(children))
	for actorID, raw := range children {
		var hold domain.Hold
		if err := json.Unmarshal(raw, &hold); err != nil {
			h.log.Error(ctx, "undecodable hold "+entityID+"/"+actorID, err)
			continue
		}
		holds = append(holds, hold)
	}
	return holds, nil
}

// WatchEntity subscribes an observer to every hold transition on entityID.
func (h *HoldCoordinator) WatchEntity(entityID string, obs HoldObserver, onErr func(error)) (func(), error) {
	return h.store.Subscribe(holdsEntityPath(entityID), &holdObserver{entityID: entityID, obs: obs, onErr: onErr}, onErr)
}

type holdObserver struct {
	entityID string
	obs      HoldObserver
	onErr    func(error)
}

func (o *holdObserver) OnChildAdded(actorID string, raw json.RawMessage) {
	o.set(actorID, raw)
}

func (o *holdObserver) OnChildChanged(actorID string, raw json.RawMessage) {
	o.set(actorID, raw)
}

func (o *holdObserver) set(actorID string, raw json.RawMessage) {
	var hold domain.Hold
	if err := json.Unmarshal(raw, &hold); err != nil {
		if o.onErr != nil {
			o.onErr(fmt.Errorf("decode hold %s/%s: %w", o.entityID, actorID, err))
		}
		return
	}
	o.obs.OnHoldSet(hold)
}

func (o *holdObserver) OnChildRemoved(actorID string) {
	o.obs.OnHoldRemoved(o.entityID, actorID)
}
