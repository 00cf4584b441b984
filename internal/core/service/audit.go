package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/ptduy/livecount/internal/core/domain"
	"github.com/ptduy/livecount/internal/port"
	"github.com/ptduy/livecount/pkg/logger"
)

// How far back QueryRecent walks the per-day buckets before giving up.
const recentLookbackDays = 14

// AuditLogger appends one immutable record per counter mutation to the
// store's append-only log, bucketed by date. Records are also handed to a
// bounded queue drained by archive workers; the realtime log stays
// authoritative even if archiving lags or drops.
type AuditLogger struct {
	store port.RemoteStore
	log   *logger.Logger
	queue chan domain.AuditRecord
}

func NewAuditLogger(store port.RemoteStore, log *logger.Logger, queueSize int) *AuditLogger {
	if log == nil {
		log = logger.Nop()
	}
	if queueSize <= 0 {
		queueSize = 1024
	}
	return &AuditLogger{
		store: store,
		log:   log,
		queue: make(chan domain.AuditRecord, queueSize),
	}
}

// Queue exposes the archive feed; cmd wiring drains it into the durable
// archive with a worker pool.
func (a *AuditLogger) Queue() <-chan domain.AuditRecord {
	return a.queue
}

// Close stops accepting archive work. Record keeps working against the
// realtime log; further records simply skip the archive feed.
func (a *AuditLogger) Close() {
	close(a.queue)
}

// Record appends one audit record with a server-assigned timestamp.
func (a *AuditLogger) Record(ctx context.Context, entityID string, delta int, actorID, source string) (domain.AuditRecord, error) {
	ts, err := a.store.ServerTime(ctx)
	if err != nil {
		return domain.AuditRecord{}, fmt.Errorf("audit timestamp: %w", err)
	}
	rec := domain.AuditRecord{
		ID:        uuid.NewString(),
		EntityID:  entityID,
		Delta:     delta,
		ActorID:   actorID,
		Source:    source,
		Timestamp: ts,
		Date:      ts.Format("2006-01-02"),
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return domain.AuditRecord{}, fmt.Errorf("encode audit record: %w", err)
	}
	if _, err := a.store.Push(ctx, auditDatePath(rec.Date), raw); err != nil {
		return domain.AuditRecord{}, fmt.Errorf("append audit record: %w", err)
	}

	select {
	case a.queue <- rec:
	default:
		a.log.Warn(a.log.WithEntityID(ctx, entityID), "audit archive queue full, record not archived")
	}
	return rec, nil
}

// QueryByDate returns the records of one yyyy-mm-dd bucket, newest first.
func (a *AuditLogger) QueryByDate(ctx context.Context, date string) ([]domain.AuditRecord, error) {
	children, err := a.store.ReadChildren(ctx, auditDatePath(date))
	if err != nil {
		return nil, fmt.Errorf("read audit bucket %s: %w", date, err)
	}
	records := make([]domain.AuditRecord, 0, len(children))
	for key, raw := range children {
		var rec domain.AuditRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			a.log.Error(ctx, "undecodable audit record "+key, err)
			continue
		}
		records = append(records, rec)
	}
	sortNewestFirst(records)
	return records, nil
}

// QueryRecent returns up to limit records, newest first, walking backwards
// from today's bucket.
func (a *AuditLogger) QueryRecent(ctx context.Context, limit int) ([]domain.AuditRecord, error) {
	if limit <= 0 {
		return nil, nil
	}
	now, err := a.store.ServerTime(ctx)
	if err != nil {
		return nil, fmt.Errorf("audit timestamp: %w", err)
	}

	var out []domain.AuditRecord
	for day := 0; day < recentLookbackDays && len(out) < limit; day++ {
		date := now.AddDate(0, 0, -day).Format("2006-01-02")
		records, err := a.QueryByDate(ctx, date)
		if err != nil {
			return nil, err
		}
		out = append(out, records...)
	}
	sortNewestFirst(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func sortNewestFirst(records []domain.AuditRecord) {
	sort.Slice(records, func(i, j int) bool {
		return records[i].Timestamp.After(records[j].Timestamp)
	})
}

// RunArchivePump polls today's bucket on every tick and offers each record
// to the archive queue until ctx is cancelled. Together with an idempotent
// archive Save this catches records appended by other clients, which never
// pass through this process's Record call.
func (a *AuditLogger) RunArchivePump(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now, err := a.store.ServerTime(ctx)
			if err != nil {
				a.log.Error(ctx, "archive pump: server time", err)
				continue
			}
			records, err := a.QueryByDate(ctx, now.Format("2006-01-02"))
			if err != nil {
				a.log.Error(ctx, "archive pump: query failed", err)
				continue
			}
			for _, rec := range records {
				select {
				case a.queue <- rec:
				default:
					a.log.Warn(ctx, "audit archive queue full during pump")
				}
			}
		}
	}
}

// ArchiveWorker drains the audit queue into the durable archive until the
// queue closes. Archive failures are logged and skipped; the realtime log
// already holds the record.
func ArchiveWorker(id int, queue <-chan domain.AuditRecord, archive port.AuditArchive, log *logger.Logger) {
	if log == nil {
		log = logger.Nop()
	}
	for rec := range queue {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := archive.Save(ctx, rec); err != nil {
			log.Error(log.WithEntityID(ctx, rec.EntityID),
				fmt.Sprintf("archive worker %d: failed to archive audit record %s", id, rec.ID), err)
		}
		cancel()
	}
}
