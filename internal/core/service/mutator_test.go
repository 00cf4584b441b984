package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ptduy/livecount/internal/adapter/storage"
	"github.com/ptduy/livecount/internal/core/domain"
	"github.com/ptduy/livecount/pkg/logger"
)

func newMutatorFixture(t *testing.T) (*Engine, *AuditLogger, *Mutator) {
	t.Helper()
	store := storage.NewMemoryStore()
	eng, _ := newAttachedEngine(t, store)
	audit := NewAuditLogger(store, logger.Nop(), 64)
	return eng, audit, NewMutator(store, eng, audit, logger.Nop())
}

func TestAdjustCounterAppliesDelta(t *testing.T) {
	eng, audit, mut := newMutatorFixture(t)
	ctx := context.Background()
	require.NoError(t, eng.Register(ctx, "tee", testStatic("Limited Tee", 10), 2))

	value, err := mut.AdjustCounter(ctx, "tee", 3, "cashier-1", "sale")
	require.NoError(t, err)
	assert.Equal(t, 5, value)

	// The authoritative result flows back through the subscription echo.
	ent, ok := eng.Mirror().Get("tee")
	require.True(t, ok)
	assert.Equal(t, 5, ent.CounterValue)

	records, err := audit.QueryRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "tee", records[0].EntityID)
	assert.Equal(t, 3, records[0].Delta)
	assert.Equal(t, "cashier-1", records[0].ActorID)
	assert.Equal(t, "sale", records[0].Source)
}

func TestAdjustCounterClampsAtCapacity(t *testing.T) {
	eng, audit, mut := newMutatorFixture(t)
	ctx := context.Background()
	require.NoError(t, eng.Register(ctx, "tee", testStatic("Limited Tee", 10), 8))

	value, err := mut.AdjustCounter(ctx, "tee", 5, "cashier-1", "sale")
	require.NoError(t, err)
	assert.Equal(t, 10, value)

	// Only the realized part of the requested delta is audited.
	records, err := audit.QueryRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 2, records[0].Delta)
}

func TestAdjustCounterZeroRealizedDeltaIsNoOp(t *testing.T) {
	eng, audit, mut := newMutatorFixture(t)
	ctx := context.Background()
	require.NoError(t, eng.Register(ctx, "tee", testStatic("Limited Tee", 10), 10))

	value, err := mut.AdjustCounter(ctx, "tee", 1, "cashier-1", "sale")
	require.NoError(t, err)
	assert.Equal(t, 10, value, "caller still learns the current value")

	records, err := audit.QueryRecent(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, records, "a fully clamped adjustment writes nothing")
}

func TestAdjustCounterFloorsAtZero(t *testing.T) {
	eng, audit, mut := newMutatorFixture(t)
	ctx := context.Background()
	require.NoError(t, eng.Register(ctx, "tee", testStatic("Limited Tee", 10), 2))

	value, err := mut.AdjustCounter(ctx, "tee", -5, "cashier-1", "correction")
	require.NoError(t, err)
	assert.Equal(t, 0, value)

	records, err := audit.QueryRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, -2, records[0].Delta)
}

func TestSetCounter(t *testing.T) {
	eng, audit, mut := newMutatorFixture(t)
	ctx := context.Background()
	require.NoError(t, eng.Register(ctx, "tee", testStatic("Limited Tee", 10), 2))

	value, err := mut.SetCounter(ctx, "tee", 7, "admin-1", "correction")
	require.NoError(t, err)
	assert.Equal(t, 7, value)

	records, err := audit.QueryRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 5, records[0].Delta)

	value, err = mut.SetCounter(ctx, "tee", 99, "admin-1", "correction")
	require.NoError(t, err)
	assert.Equal(t, 10, value, "set clamps to capacity like any mutation")
}

func TestAdjustCounterUnknownEntity(t *testing.T) {
	_, _, mut := newMutatorFixture(t)

	_, err := mut.AdjustCounter(context.Background(), "ghost", 1, "cashier-1", "sale")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestConcurrentAdjustersRespectCapacity(t *testing.T) {
	eng, audit, mut := newMutatorFixture(t)
	ctx := context.Background()
	require.NoError(t, eng.Register(ctx, "tee", testStatic("Last One", 1), 0))

	const writers = 8
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := mut.AdjustCounter(ctx, "tee", 1, "cashier", "sale")
			// Losing the race is either a clean clamp (nil) or an exhausted
			// retry budget under heavy contention; both are acceptable here.
			if err != nil && !errors.Is(err, domain.ErrConflictExhausted) {
				t.Errorf("unexpected adjust error: %v", err)
			}
		}()
	}
	wg.Wait()

	ent, ok := eng.Mirror().Get("tee")
	require.True(t, ok)
	assert.Equal(t, 1, ent.CounterValue)

	records, err := audit.QueryRecent(ctx, writers)
	require.NoError(t, err)
	assert.Len(t, records, 1, "only the winning adjustment is audited")
}
