package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ptduy/livecount/internal/adapter/storage"
	"github.com/ptduy/livecount/internal/core/domain"
	"github.com/ptduy/livecount/internal/port"
	"github.com/ptduy/livecount/pkg/logger"
)

func newSnapshotFixture(t *testing.T, store port.RemoteStore, ttl time.Duration) (*Engine, *SnapshotManager) {
	t.Helper()
	eng, _ := newAttachedEngine(t, store)
	return eng, NewSnapshotManager(store, eng, logger.Nop(), ttl)
}

func TestSaveAndListSnapshots(t *testing.T) {
	store := storage.NewMemoryStore()
	eng, snaps := newSnapshotFixture(t, store, time.Hour)
	ctx := context.Background()

	require.NoError(t, eng.Register(ctx, "tee", testStatic("Limited Tee", 10), 3))
	require.NoError(t, eng.Register(ctx, "mug", testStatic("Mug", 5), 1))

	firstID, err := snaps.Save(ctx, "before show")
	require.NoError(t, err)
	secondID, err := snaps.Save(ctx, "after intro")
	require.NoError(t, err)
	require.NotEqual(t, firstID, secondID)

	list, err := snaps.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, secondID, list[0].ID, "newest snapshot first")
	assert.Equal(t, "after intro", list[0].Label)
	assert.Equal(t, firstID, list[1].ID)

	require.Len(t, list[1].Entries, 2)
	assert.Equal(t, 3, list[1].Entries["tee"].CounterValue)
	assert.Equal(t, "Mug", list[1].Entries["mug"].Static.DisplayName)
}

func TestRestoreOverwritesLiveSet(t *testing.T) {
	store := storage.NewMemoryStore()
	eng, snaps := newSnapshotFixture(t, store, time.Hour)
	ctx := context.Background()

	require.NoError(t, eng.Register(ctx, "tee", testStatic("Limited Tee", 10), 5))
	require.NoError(t, eng.Register(ctx, "mug", testStatic("Mug", 5), 0))

	snapID, err := snaps.Save(ctx, "mid show")
	require.NoError(t, err)

	// Diverge: drop one entity, add another, move a counter.
	require.NoError(t, eng.Unregister(ctx, "mug"))
	require.NoError(t, eng.Register(ctx, "hat", testStatic("Hat", 3), 2))
	require.NoError(t, store.Write(ctx, counterPath("tee"), encodeCounter(9)))

	require.NoError(t, snaps.Restore(ctx, snapID))

	assert.Equal(t, 2, eng.Mirror().Len())
	tee, ok := eng.Mirror().Get("tee")
	require.True(t, ok)
	assert.Equal(t, 5, tee.CounterValue)
	_, ok = eng.Mirror().Get("mug")
	assert.True(t, ok, "entity deleted after the save must come back")
	_, ok = eng.Mirror().Get("hat")
	assert.False(t, ok, "entity added after the save must go away")

	raw, err := store.Read(ctx, expectedCountPath)
	require.NoError(t, err)
	assert.Equal(t, "2", string(raw))
}

func TestRestoreUnknownSnapshot(t *testing.T) {
	store := storage.NewMemoryStore()
	_, snaps := newSnapshotFixture(t, store, time.Hour)

	err := snaps.Restore(context.Background(), "00000000000000000001")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDeleteSnapshot(t *testing.T) {
	store := storage.NewMemoryStore()
	eng, snaps := newSnapshotFixture(t, store, time.Hour)
	ctx := context.Background()

	require.NoError(t, eng.Register(ctx, "tee", testStatic("Limited Tee", 10), 1))
	snapID, err := snaps.Save(ctx, "only one")
	require.NoError(t, err)

	require.NoError(t, snaps.Delete(ctx, snapID))

	list, err := snaps.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	// Deleting again is tolerated.
	require.NoError(t, snaps.Delete(ctx, snapID))
}

func TestListSurfacesOrphanedPayload(t *testing.T) {
	store := storage.NewMemoryStore()
	_, snaps := newSnapshotFixture(t, store, time.Hour)
	ctx := context.Background()

	orphan := domain.Snapshot{
		Label:   "imported by hand",
		SavedAt: time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC),
		Entries: map[string]domain.SnapshotEntry{},
	}
	raw, err := json.Marshal(orphan)
	require.NoError(t, err)
	require.NoError(t, store.Write(ctx, snapshotPath("00000000000000000042"), raw))

	list, err := snaps.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].Orphaned)
	assert.Equal(t, "00000000000000000042", list[0].ID)
}

func TestListReportsMissingPayload(t *testing.T) {
	store := storage.NewMemoryStore()
	eng, snaps := newSnapshotFixture(t, store, time.Hour)
	ctx := context.Background()

	require.NoError(t, eng.Register(ctx, "tee", testStatic("Limited Tee", 10), 1))
	lostID, err := snaps.Save(ctx, "will lose payload")
	require.NoError(t, err)
	keptID, err := snaps.Save(ctx, "intact")
	require.NoError(t, err)

	// Payload vanishes while the metadata entry survives.
	require.NoError(t, store.Update(ctx, map[string]json.RawMessage{snapshotPath(lostID): nil}))

	list, err := snaps.List(ctx)
	require.ErrorIs(t, err, domain.ErrNotFound)
	require.Len(t, list, 1, "intact snapshots still load")
	assert.Equal(t, keptID, list[0].ID)
}

func TestListServesFromCacheWithinTTL(t *testing.T) {
	store := storage.NewMemoryStore()
	eng, snaps := newSnapshotFixture(t, store, time.Hour)
	ctx := context.Background()

	require.NoError(t, eng.Register(ctx, "tee", testStatic("Limited Tee", 10), 1))
	_, err := snaps.Save(ctx, "cached")
	require.NoError(t, err)

	first, err := snaps.List(ctx)
	require.NoError(t, err)
	require.Len(t, first, 1)

	// A payload slipped in behind the manager's back stays invisible until
	// the cache expires or a save/delete invalidates it.
	raw, err := json.Marshal(domain.Snapshot{Label: "sneaky"})
	require.NoError(t, err)
	require.NoError(t, store.Write(ctx, snapshotPath("00000000000000000099"), raw))

	second, err := snaps.List(ctx)
	require.NoError(t, err)
	assert.Len(t, second, 1)

	_, err = snaps.Save(ctx, "invalidates")
	require.NoError(t, err)
	third, err := snaps.List(ctx)
	require.NoError(t, err)
	assert.Len(t, third, 3, "save invalidates the cache")
}
