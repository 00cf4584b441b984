package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ptduy/livecount/internal/core/domain"
	"github.com/ptduy/livecount/internal/port"
	"github.com/ptduy/livecount/pkg/logger"
)

const defaultSnapshotCacheTTL = 2 * time.Minute

// SnapshotManager saves and restores point-in-time copies of the full entity
// set ("cart history"). Snapshots serialize the locally observed mirror, not
// a fresh remote read; restoring one overwrites the live entity set.
type SnapshotManager struct {
	store    port.RemoteStore
	mirror   *Mirror
	log      *logger.Logger
	cacheTTL time.Duration

	mu       sync.Mutex
	cached   []domain.Snapshot
	cachedAt time.Time
}

func NewSnapshotManager(store port.RemoteStore, engine *Engine, log *logger.Logger, cacheTTL time.Duration) *SnapshotManager {
	if log == nil {
		log = logger.Nop()
	}
	if cacheTTL <= 0 {
		cacheTTL = defaultSnapshotCacheTTL
	}
	return &SnapshotManager{
		store:    store,
		mirror:   engine.Mirror(),
		log:      log,
		cacheTTL: cacheTTL,
	}
}

// Save serializes every mirrored entity into one immutable payload keyed by
// a monotonic id derived from the save timestamp, then prepends the id to
// the newest-first metadata list.
func (s *SnapshotManager) Save(ctx context.Context, label string) (string, error) {
	now, err := s.store.ServerTime(ctx)
	if err != nil {
		return "", fmt.Errorf("snapshot timestamp: %w", err)
	}
	id := fmt.Sprintf("%020d", now.UnixNano())

	entries := make(map[string]domain.SnapshotEntry)
	for _, ent := range s.mirror.All() {
		entries[ent.ID] = domain.SnapshotEntry{Static: ent.Static, CounterValue: ent.CounterValue}
	}
	snap := domain.Snapshot{ID: id, Label: label, SavedAt: now, Entries: entries}
	raw, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}
	if err := s.store.Write(ctx, snapshotPath(id), raw); err != nil {
		return "", fmt.Errorf("write snapshot %s: %w", id, err)
	}
	if err := s.updateMeta(ctx, func(ids []string) []string {
		return append([]string{id}, ids...)
	}); err != nil {
		return "", err
	}

	s.invalidate()
	return id, nil
}

// List bulk-reads all snapshot payloads plus the metadata list and
// reconciles them. Payloads missing a metadata entry are surfaced as
// orphaned; metadata ids missing their payload are reported as an error
// alongside whatever did load.
func (s *SnapshotManager) List(ctx context.Context) ([]domain.Snapshot, error) {
	s.mu.Lock()
	if s.cached != nil && time.Since(s.cachedAt) < s.cacheTTL {
		out := append([]domain.Snapshot(nil), s.cached...)
		s.mu.Unlock()
		return out, nil
	}
	s.mu.Unlock()

	payloads, err := s.store.ReadChildren(ctx, snapshotItemsPath)
	if err != nil {
		return nil, fmt.Errorf("read snapshots: %w", err)
	}
	ids, err := s.readIDs(ctx)
	if err != nil {
		return nil, err
	}

	known := make(map[string]bool, len(ids))
	var snapshots []domain.Snapshot
	var loadErrs []error
	for _, id := range ids {
		known[id] = true
		raw, ok := payloads[id]
		if !ok {
			loadErrs = append(loadErrs, fmt.Errorf("snapshot %s listed but payload missing: %w", id, domain.ErrNotFound))
			continue
		}
		snap, err := decodeSnapshot(id, raw)
		if err != nil {
			loadErrs = append(loadErrs, err)
			continue
		}
		snapshots = append(snapshots, snap)
	}
	for id, raw := range payloads {
		if known[id] {
			continue
		}
		snap, err := decodeSnapshot(id, raw)
		if err != nil {
			loadErrs = append(loadErrs, err)
			continue
		}
		snap.Orphaned = true
		snapshots = append(snapshots, snap)
	}

	// Ids encode the save timestamp, so newest-first is a reverse sort.
	sort.Slice(snapshots, func(i, j int) bool { return snapshots[i].ID > snapshots[j].ID })

	if len(loadErrs) == 0 {
		s.mu.Lock()
		s.cached = append([]domain.Snapshot(nil), snapshots...)
		s.cachedAt = time.Now()
		s.mu.Unlock()
	}
	return snapshots, errors.Join(loadErrs...)
}

// Restore overwrites the live entity set with the snapshot's captured
// entries in a single multi-path batch: entries are written back, live
// entities absent from the snapshot are deleted, and the expected-count
// metadata is reset to match.
func (s *SnapshotManager) Restore(ctx context.Context, snapshotID string) error {
	raw, err := s.store.Read(ctx, snapshotPath(snapshotID))
	if err != nil {
		return fmt.Errorf("read snapshot %s: %w", snapshotID, err)
	}
	if raw == nil {
		return fmt.Errorf("snapshot %s: %w", snapshotID, domain.ErrNotFound)
	}
	snap, err := decodeSnapshot(snapshotID, raw)
	if err != nil {
		return err
	}

	batch := make(map[string]json.RawMessage)
	for _, ent := range s.mirror.All() {
		if _, ok := snap.Entries[ent.ID]; !ok {
			batch[staticPath(ent.ID)] = nil
			batch[counterPath(ent.ID)] = nil
		}
	}
	for id, entry := range snap.Entries {
		staticRaw, err := json.Marshal(entry.Static)
		if err != nil {
			return fmt.Errorf("encode snapshot entry %s: %w", id, err)
		}
		batch[staticPath(id)] = staticRaw
		batch[counterPath(id)] = encodeCounter(entry.CounterValue)
	}
	batch[expectedCountPath] = encodeCounter(len(snap.Entries))

	if err := s.store.Update(ctx, batch); err != nil {
		return fmt.Errorf("restore snapshot %s: %w", snapshotID, err)
	}
	return nil
}

// Delete removes the payload and its metadata entry; an already-absent
// metadata entry is tolerated.
func (s *SnapshotManager) Delete(ctx context.Context, snapshotID string) error {
	if err := s.store.Update(ctx, map[string]json.RawMessage{snapshotPath(snapshotID): nil}); err != nil {
		return fmt.Errorf("delete snapshot %s: %w", snapshotID, err)
	}
	if err := s.updateMeta(ctx, func(ids []string) []string {
		out := ids[:0]
		for _, id := range ids {
			if id != snapshotID {
				out = append(out, id)
			}
		}
		return out
	}); err != nil {
		return err
	}

	s.invalidate()
	return nil
}

// updateMeta rewrites the newest-first id list transactionally and keeps the
// count field in step.
func (s *SnapshotManager) updateMeta(ctx context.Context, mutate func([]string) []string) error {
	var count int
	_, err := s.store.Transact(ctx, snapshotIDsPath, func(current json.RawMessage) (json.RawMessage, error) {
		var ids []string
		if current != nil {
			if err := json.Unmarshal(current, &ids); err != nil {
				return nil, fmt.Errorf("decode snapshot id list: %w", err)
			}
		}
		ids = mutate(ids)
		count = len(ids)
		return json.Marshal(ids)
	})
	if err != nil {
		return fmt.Errorf("update snapshot metadata: %w", err)
	}
	if err := s.store.Write(ctx, snapshotCountPath, encodeCounter(count)); err != nil {
		return fmt.Errorf("update snapshot count: %w", err)
	}
	return nil
}

func (s *SnapshotManager) readIDs(ctx context.Context) ([]string, error) {
	raw, err := s.store.Read(ctx, snapshotIDsPath)
	if err != nil {
		return nil, fmt.Errorf("read snapshot id list: %w", err)
	}
	if raw == nil {
		return nil, nil
	}
	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, fmt.Errorf("decode snapshot id list: %w", err)
	}
	return ids, nil
}

func (s *SnapshotManager) invalidate() {
	s.mu.Lock()
	s.cached = nil
	s.cachedAt = time.Time{}
	s.mu.Unlock()
}

func decodeSnapshot(id string, raw json.RawMessage) (domain.Snapshot, error) {
	var snap domain.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return domain.Snapshot{}, fmt.Errorf("decode snapshot %s: %w", id, err)
	}
	snap.ID = id
	return snap, nil
}
