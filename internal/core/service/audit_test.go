package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ptduy/livecount/internal/adapter/storage"
	"github.com/ptduy/livecount/internal/core/domain"
	"github.com/ptduy/livecount/pkg/logger"
)

type fakeArchive struct {
	saved []domain.AuditRecord
}

func (f *fakeArchive) Save(_ context.Context, rec domain.AuditRecord) error {
	f.saved = append(f.saved, rec)
	return nil
}

func (f *fakeArchive) QueryByDate(_ context.Context, date string) ([]domain.AuditRecord, error) {
	var out []domain.AuditRecord
	for _, rec := range f.saved {
		if rec.Date == date {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (f *fakeArchive) QueryRange(_ context.Context, from, to time.Time) ([]domain.AuditRecord, error) {
	var out []domain.AuditRecord
	for _, rec := range f.saved {
		if !rec.Timestamp.Before(from) && !rec.Timestamp.After(to) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func TestRecordAndQueryByDate(t *testing.T) {
	store := storage.NewMemoryStore()
	audit := NewAuditLogger(store, logger.Nop(), 16)
	ctx := context.Background()

	first, err := audit.Record(ctx, "tee", 2, "cashier-1", "sale")
	require.NoError(t, err)
	require.NotEmpty(t, first.ID)
	require.NotEmpty(t, first.Date)
	_, err = audit.Record(ctx, "tee", -1, "cashier-2", "correction")
	require.NoError(t, err)
	_, err = audit.Record(ctx, "mug", 1, "cashier-1", "sale")
	require.NoError(t, err)

	records, err := audit.QueryByDate(ctx, first.Date)
	require.NoError(t, err)
	require.Len(t, records, 3)
	for i := 1; i < len(records); i++ {
		assert.False(t, records[i-1].Timestamp.Before(records[i].Timestamp), "records must be newest first")
	}
}

func TestQueryByDateEmptyBucket(t *testing.T) {
	store := storage.NewMemoryStore()
	audit := NewAuditLogger(store, logger.Nop(), 16)

	records, err := audit.QueryByDate(context.Background(), "1999-01-01")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestQueryRecentHonorsLimit(t *testing.T) {
	store := storage.NewMemoryStore()
	audit := NewAuditLogger(store, logger.Nop(), 16)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := audit.Record(ctx, "tee", 1, "cashier-1", "sale")
		require.NoError(t, err)
	}

	records, err := audit.QueryRecent(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, records, 3)

	records, err = audit.QueryRecent(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestArchiveWorkerDrainsQueue(t *testing.T) {
	store := storage.NewMemoryStore()
	audit := NewAuditLogger(store, logger.Nop(), 16)
	ctx := context.Background()

	_, err := audit.Record(ctx, "tee", 2, "cashier-1", "sale")
	require.NoError(t, err)
	_, err = audit.Record(ctx, "mug", 1, "cashier-2", "sale")
	require.NoError(t, err)
	audit.Close()

	archive := &fakeArchive{}
	ArchiveWorker(0, audit.Queue(), archive, logger.Nop())

	require.Len(t, archive.saved, 2)
	assert.Equal(t, "tee", archive.saved[0].EntityID)
	assert.Equal(t, "mug", archive.saved[1].EntityID)
}

func TestRecordWithFullQueueDoesNotBlock(t *testing.T) {
	store := storage.NewMemoryStore()
	audit := NewAuditLogger(store, logger.Nop(), 1)
	ctx := context.Background()

	var date string
	for i := 0; i < 3; i++ {
		rec, err := audit.Record(ctx, "tee", 1, "cashier-1", "sale")
		require.NoError(t, err)
		date = rec.Date
	}

	// The realtime log keeps every record even when archiving lags.
	records, err := audit.QueryByDate(ctx, date)
	require.NoError(t, err)
	assert.Len(t, records, 3)
}
