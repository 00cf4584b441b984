package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ptduy/livecount/internal/core/domain"
	"github.com/ptduy/livecount/internal/port"
	"github.com/ptduy/livecount/pkg/logger"
)

// Observer receives entity notifications once they are reconciled into the
// local mirror. Implementations are per consumer (a view, a notifier).
type Observer interface {
	OnAdded(e domain.Entity)
	OnChanged(e domain.Entity)
	OnRemoved(id string)
	OnSyncReady()
}

// Engine attaches to the remote store's partition subscriptions, reconciles
// inbound deltas into its own local mirror, and tells replayed data apart
// from genuinely live events so a fresh attach does not re-trigger "new
// item" side effects for everything that already existed.
//
// Each Engine owns its Mirror; independent instances (tests, multiple shops)
// share nothing but the store.
type Engine struct {
	store  port.RemoteStore
	parts  *Partitioner
	mirror *Mirror
	log    *logger.Logger
	obs    Observer
	onErr  func(error)

	mu         sync.Mutex
	preloaded  bool
	replayDone bool
	readyFired bool
	expected   int
	seen       int
	pending    map[string]int // counter values parked until their static half arrives
	unsubs     []func()
}

func NewEngine(store port.RemoteStore, log *logger.Logger, obs Observer, onErr func(error)) *Engine {
	if log == nil {
		log = logger.Nop()
	}
	return &Engine{
		store:   store,
		parts:   NewPartitioner(store),
		mirror:  NewMirror(),
		log:     log,
		obs:     obs,
		onErr:   onErr,
		pending: make(map[string]int),
	}
}

func (e *Engine) Mirror() *Mirror           { return e.mirror }
func (e *Engine) Partitioner() *Partitioner { return e.parts }

// LoadAll pre-populates the mirror with a bulk read of both partitions.
// After a successful load every subsequent added event is treated as live.
func (e *Engine) LoadAll(ctx context.Context) error {
	entities, violations, err := e.parts.LoadAll(ctx)
	if err != nil {
		return err
	}
	for _, v := range violations {
		e.reportError(v)
	}
	e.mu.Lock()
	for _, ent := range entities {
		e.mirror.Upsert(ent)
	}
	e.preloaded = true
	e.replayDone = true
	e.mu.Unlock()
	return nil
}

// Attach subscribes to both partitions. Without a prior LoadAll the engine
// counts replayed added events against the expected count fetched from the
// metadata path and suppresses side-effect callbacks until they match.
func (e *Engine) Attach(ctx context.Context) error {
	e.mu.Lock()
	if !e.preloaded {
		e.mu.Unlock()
		raw, err := e.store.Read(ctx, expectedCountPath)
		if err != nil {
			return fmt.Errorf("read expected count: %w", err)
		}
		expected, err := decodeCounter(raw)
		if err != nil {
			return fmt.Errorf("decode expected count: %w", err)
		}
		e.mu.Lock()
		e.expected = expected
		if expected <= e.seen {
			e.replayDone = true
		}
	}
	e.mu.Unlock()

	unsubStatic, err := e.store.Subscribe(staticPartitionPath, &staticObserver{e}, e.reportError)
	if err != nil {
		return fmt.Errorf("subscribe static partition: %w", err)
	}
	unsubCounter, err := e.store.Subscribe(counterPartitionPath, &counterObserver{e}, e.reportError)
	if err != nil {
		unsubStatic()
		return fmt.Errorf("subscribe counter partition: %w", err)
	}

	e.mu.Lock()
	e.unsubs = append(e.unsubs, unsubStatic, unsubCounter)
	done := e.replayDone
	e.mu.Unlock()
	if done {
		e.fireSyncReady()
	}
	return nil
}

// Detach drops the partition subscriptions.
func (e *Engine) Detach() {
	e.mu.Lock()
	unsubs := e.unsubs
	e.unsubs = nil
	e.mu.Unlock()
	for _, u := range unsubs {
		u()
	}
}

// Register creates a new entity in both partitions and bumps the expected
// count used for replay classification on later attaches.
func (e *Engine) Register(ctx context.Context, id string, static domain.StaticFields, initialCount int) error {
	if static.AddedAt.IsZero() {
		now, err := e.store.ServerTime(ctx)
		if err != nil {
			return err
		}
		static.AddedAt = now
	}
	raw, err := json.Marshal(static)
	if err != nil {
		return fmt.Errorf("encode entity %s: %w", id, err)
	}
	batch := map[string]json.RawMessage{
		staticPath(id):  raw,
		counterPath(id): encodeCounter(domain.Clamp(initialCount, static.Capacity)),
	}
	if err := e.store.Update(ctx, batch); err != nil {
		return fmt.Errorf("register entity %s: %w", id, err)
	}
	return e.bumpExpectedCount(ctx, 1)
}

// Unregister removes both partition entries and decrements the expected
// count. It reports ErrNotFound when the entity does not exist remotely.
func (e *Engine) Unregister(ctx context.Context, id string) error {
	static, err := e.parts.ReadStatic(ctx, id)
	if err != nil {
		return err
	}
	if static == nil {
		return fmt.Errorf("unregister %s: %w", id, domain.ErrNotFound)
	}
	if err := e.parts.DeleteEntity(ctx, id); err != nil {
		return fmt.Errorf("unregister entity %s: %w", id, err)
	}
	return e.bumpExpectedCount(ctx, -1)
}

func (e *Engine) bumpExpectedCount(ctx context.Context, delta int) error {
	_, err := e.store.Transact(ctx, expectedCountPath, func(current json.RawMessage) (json.RawMessage, error) {
		n, err := decodeCounter(current)
		if err != nil {
			n = 0 // recover from a corrupt counter rather than wedging registration
		}
		n += delta
		if n < 0 {
			n = 0
		}
		return encodeCounter(n), nil
	})
	if err != nil {
		return fmt.Errorf("update expected count: %w", err)
	}
	return nil
}

func (e *Engine) fireSyncReady() {
	e.mu.Lock()
	if e.readyFired {
		e.mu.Unlock()
		return
	}
	e.readyFired = true
	e.mu.Unlock()
	if e.obs != nil {
		e.obs.OnSyncReady()
	}
}

func (e *Engine) reportError(err error) {
	if err == nil {
		return
	}
	e.log.Error(context.Background(), "sync error", err)
	if e.onErr != nil {
		e.onErr(err)
	}
}

// staticObserver feeds static-partition events into the engine.
type staticObserver struct{ e *Engine }

func (o *staticObserver) OnChildAdded(id string, raw json.RawMessage) {
	e := o.e
	var static domain.StaticFields
	if err := json.Unmarshal(raw, &static); err != nil {
		e.reportError(&domain.IntegrityError{EntityID: id, Detail: fmt.Sprintf("undecodable static record: %v", err)})
		return
	}

	e.mu.Lock()
	if _, exists := e.mirror.Get(id); exists {
		// Duplicate delivery, or replay of a preloaded record.
		e.mu.Unlock()
		return
	}
	ent := domain.Entity{ID: id, Static: static}
	if v, ok := e.pending[id]; ok {
		ent.CounterValue = v
		delete(e.pending, id)
	}
	e.mirror.Upsert(ent)
	live := e.replayDone
	var ready bool
	if !e.replayDone && !e.preloaded {
		e.seen++
		if e.seen >= e.expected {
			e.replayDone = true
			ready = true
		}
	}
	e.mu.Unlock()

	if live && e.obs != nil {
		e.obs.OnAdded(ent)
	}
	if ready {
		e.fireSyncReady()
	}
}

func (o *staticObserver) OnChildChanged(id string, raw json.RawMessage) {
	e := o.e
	var static domain.StaticFields
	if err := json.Unmarshal(raw, &static); err != nil {
		e.reportError(&domain.IntegrityError{EntityID: id, Detail: fmt.Sprintf("undecodable static record: %v", err)})
		return
	}

	e.mu.Lock()
	ent, ok := e.mirror.Get(id)
	if !ok {
		// A changed for an unknown key can happen when deliveries cross
		// paths; treat it as the add we have not seen yet.
		ent = domain.Entity{ID: id}
		if v, pok := e.pending[id]; pok {
			ent.CounterValue = v
			delete(e.pending, id)
		}
	}
	// Merge rule: inbound static fields win, the locally-held counter value
	// is preserved. The counter partition has its own listener, so this stays
	// correct whichever of the two deltas arrives first.
	ent.Static = static
	e.mirror.Upsert(ent)
	e.mu.Unlock()

	if e.obs != nil {
		e.obs.OnChanged(ent)
	}
}

func (o *staticObserver) OnChildRemoved(id string) {
	e := o.e
	e.mu.Lock()
	_, ok := e.mirror.Get(id)
	if ok {
		e.mirror.Remove(id)
	}
	delete(e.pending, id)
	e.mu.Unlock()

	if ok && e.obs != nil {
		e.obs.OnRemoved(id)
	}
}

// counterObserver feeds counter-partition events into the engine. A counter
// delta touches only the CounterValue of the mirrored entry.
type counterObserver struct{ e *Engine }

func (o *counterObserver) OnChildAdded(id string, raw json.RawMessage) {
	o.apply(id, raw)
}

func (o *counterObserver) OnChildChanged(id string, raw json.RawMessage) {
	o.apply(id, raw)
}

func (o *counterObserver) apply(id string, raw json.RawMessage) {
	e := o.e
	value, err := decodeCounter(raw)
	if err != nil {
		e.reportError(&domain.IntegrityError{EntityID: id, Detail: fmt.Sprintf("undecodable counter value: %v", err)})
		return
	}

	e.mu.Lock()
	ent, ok := e.mirror.Get(id)
	if !ok {
		// The static half has not arrived yet; park the value so the merge
		// is order-independent across the two partition subscriptions.
		e.pending[id] = value
		e.mu.Unlock()
		e.log.Debug(context.Background(), "counter event parked awaiting static record: "+id)
		return
	}
	changed := ent.CounterValue != value
	ent.CounterValue = value
	ent.LastMutatedAt = time.Now()
	e.mirror.Upsert(ent)
	live := e.replayDone
	e.mu.Unlock()

	if live && changed && e.obs != nil {
		e.obs.OnChanged(ent)
	}
}

func (o *counterObserver) OnChildRemoved(id string) {
	e := o.e
	e.mu.Lock()
	delete(e.pending, id)
	ent, ok := e.mirror.Get(id)
	live := e.replayDone
	if ok && ent.CounterValue != 0 {
		ent.CounterValue = 0
		e.mirror.Upsert(ent)
	} else {
		ok = false
	}
	e.mu.Unlock()

	if ok && live && e.obs != nil {
		e.obs.OnChanged(ent)
	}
}
