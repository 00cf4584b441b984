package port

import (
	"context"
	"time"

	"github.com/ptduy/livecount/internal/core/domain"
)

// AuditArchive persists audit records durably, off the hot path.
type AuditArchive interface {
	// Save inserts one audit record.
	Save(ctx context.Context, rec domain.AuditRecord) error

	// QueryByDate returns records for one yyyy-mm-dd bucket, newest first.
	QueryByDate(ctx context.Context, date string) ([]domain.AuditRecord, error)

	// QueryRange returns records between from and to inclusive, newest first.
	QueryRange(ctx context.Context, from, to time.Time) ([]domain.AuditRecord, error)
}
