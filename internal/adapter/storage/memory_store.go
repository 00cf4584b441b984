package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ptduy/livecount/internal/core/domain"
	"github.com/ptduy/livecount/internal/port"
)

const memoryTxRetries = 16

// MemoryStore is an in-process RemoteStore. It backs local development and
// the service tests; events are delivered synchronously in write order, so a
// writer observes its own echo before the write call returns.
type MemoryStore struct {
	mu      sync.Mutex
	values  map[string]json.RawMessage
	subs    map[string]map[int]*memorySub
	nextSub int
	lastKey int64
}

type memorySub struct {
	obs   port.ChildObserver
	onErr func(error)
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values: make(map[string]json.RawMessage),
		subs:   make(map[string]map[int]*memorySub),
	}
}

func (m *MemoryStore) Read(ctx context.Context, path string) (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[path]
	if !ok {
		return nil, nil
	}
	return append(json.RawMessage(nil), v...), nil
}

func (m *MemoryStore) ReadChildren(ctx context.Context, path string) (map[string]json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]json.RawMessage)
	prefix := path + "/"
	for p, v := range m.values {
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		key := p[len(prefix):]
		if strings.Contains(key, "/") {
			continue // grandchild, not a direct child
		}
		out[key] = append(json.RawMessage(nil), v...)
	}
	return out, nil
}

func (m *MemoryStore) Write(ctx context.Context, path string, value json.RawMessage) error {
	m.mu.Lock()
	_, existed := m.values[path]
	m.values[path] = append(json.RawMessage(nil), value...)
	targets := m.observersFor(path)
	m.mu.Unlock()

	kind := eventAdded
	if existed {
		kind = eventChanged
	}
	dispatch(targets, kind, childKey(path), value)
	return nil
}

func (m *MemoryStore) Update(ctx context.Context, values map[string]json.RawMessage) error {
	type pending struct {
		targets []*memorySub
		kind    string
		key     string
		value   json.RawMessage
	}
	var events []pending

	m.mu.Lock()
	// Apply deterministically so two adapters batching the same paths
	// observe a stable order.
	paths := make([]string, 0, len(values))
	for p := range values {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		v := values[p]
		_, existed := m.values[p]
		if v == nil {
			if !existed {
				continue
			}
			delete(m.values, p)
			events = append(events, pending{m.observersFor(p), eventRemoved, childKey(p), nil})
			continue
		}
		m.values[p] = append(json.RawMessage(nil), v...)
		kind := eventAdded
		if existed {
			kind = eventChanged
		}
		events = append(events, pending{m.observersFor(p), kind, childKey(p), v})
	}
	m.mu.Unlock()

	for _, ev := range events {
		dispatch(ev.targets, ev.kind, ev.key, ev.value)
	}
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, path string) error {
	return m.Update(ctx, map[string]json.RawMessage{path: nil})
}

func (m *MemoryStore) Transact(ctx context.Context, path string, fn port.TxFunc) (json.RawMessage, error) {
	for attempt := 0; attempt < memoryTxRetries; attempt++ {
		m.mu.Lock()
		current := append(json.RawMessage(nil), m.values[path]...)
		if len(current) == 0 {
			current = nil
		}
		m.mu.Unlock()

		next, err := fn(current)
		if err != nil {
			if err == domain.ErrTxAbort {
				return current, nil
			}
			return nil, err
		}

		m.mu.Lock()
		latest := m.values[path]
		if !bytes.Equal(latest, current) {
			m.mu.Unlock()
			continue // concurrent writer got in between, retry
		}
		_, existed := m.values[path]
		m.values[path] = append(json.RawMessage(nil), next...)
		targets := m.observersFor(path)
		m.mu.Unlock()

		kind := eventAdded
		if existed {
			kind = eventChanged
		}
		dispatch(targets, kind, childKey(path), next)
		return append(json.RawMessage(nil), next...), nil
	}
	return nil, domain.ErrConflictExhausted
}

func (m *MemoryStore) Push(ctx context.Context, path string, value json.RawMessage) (string, error) {
	m.mu.Lock()
	now := time.Now().UnixNano()
	if now <= m.lastKey {
		now = m.lastKey + 1
	}
	m.lastKey = now
	key := fmt.Sprintf("%020d-%s", now, uuid.NewString()[:8])
	full := path + "/" + key
	m.values[full] = append(json.RawMessage(nil), value...)
	targets := m.observersFor(full)
	m.mu.Unlock()

	dispatch(targets, eventAdded, key, value)
	return key, nil
}

func (m *MemoryStore) Subscribe(path string, obs port.ChildObserver, onErr func(error)) (func(), error) {
	existing, err := m.ReadChildren(context.Background(), path)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.subs[path] == nil {
		m.subs[path] = make(map[int]*memorySub)
	}
	id := m.nextSub
	m.nextSub++
	m.subs[path][id] = &memorySub{obs: obs, onErr: onErr}
	m.mu.Unlock()

	// Replay existing children as added events, like a fresh attach against
	// the real store. Sorted for determinism.
	keys := make([]string, 0, len(existing))
	for k := range existing {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		obs.OnChildAdded(k, existing[k])
	}

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs[path], id)
	}, nil
}

func (m *MemoryStore) ServerTime(ctx context.Context) (time.Time, error) {
	return time.Now(), nil
}

// observersFor must be called with m.mu held; the returned slice is used
// after unlock so observers can call back into the store.
func (m *MemoryStore) observersFor(path string) []*memorySub {
	parent := parentPath(path)
	if parent == "" {
		return nil
	}
	var out []*memorySub
	for _, s := range m.subs[parent] {
		out = append(out, s)
	}
	return out
}

const (
	eventAdded   = "added"
	eventChanged = "changed"
	eventRemoved = "removed"
)

func dispatch(targets []*memorySub, kind, key string, value json.RawMessage) {
	for _, s := range targets {
		switch kind {
		case eventAdded:
			s.obs.OnChildAdded(key, value)
		case eventChanged:
			s.obs.OnChildChanged(key, value)
		case eventRemoved:
			s.obs.OnChildRemoved(key)
		}
	}
}

func parentPath(path string) string {
	i := strings.LastIndex(path, "/")
	if i < 0 {
		return ""
	}
	return path[:i]
}

func childKey(path string) string {
	i := strings.LastIndex(path, "/")
	if i < 0 {
		return path
	}
	return path[i+1:]
}
