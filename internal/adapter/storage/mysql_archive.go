package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ptduy/livecount/internal/core/domain"
)

// MySQLArchive persists audit records durably for operational reporting.
// The realtime store remains the authoritative log; this table is the
// queryable long-term copy written off the hot path.
//
// Schema:
//
//	CREATE TABLE audit_records (
//	    id         VARCHAR(64)  PRIMARY KEY,
//	    entity_id  VARCHAR(128) NOT NULL,
//	    delta      INT          NOT NULL,
//	    actor_id   VARCHAR(128) NOT NULL,
//	    source     VARCHAR(64)  NOT NULL,
//	    ts         DATETIME(6)  NOT NULL,
//	    date       CHAR(10)     NOT NULL,
//	    KEY idx_date (date, ts),
//	    KEY idx_entity (entity_id, ts)
//	);
type MySQLArchive struct {
	db *sql.DB
}

func NewMySQLArchive(db *sql.DB) *MySQLArchive {
	return &MySQLArchive{db: db}
}

func (m *MySQLArchive) Save(ctx context.Context, rec domain.AuditRecord) error {
	// Idempotent on id so the poll-based archive pump can re-offer records.
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO audit_records (id, entity_id, delta, actor_id, source, ts, date)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE id = id`,
		rec.ID, rec.EntityID, rec.Delta, rec.ActorID, rec.Source,
		rec.Timestamp, rec.Date,
	)
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	return nil
}

func (m *MySQLArchive) QueryByDate(ctx context.Context, date string) ([]domain.AuditRecord, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, entity_id, delta, actor_id, source, ts, date
		FROM audit_records WHERE date = ?
		ORDER BY ts DESC`, date,
	)
	if err != nil {
		return nil, fmt.Errorf("query audit by date: %w", err)
	}
	defer rows.Close()
	return scanAuditRows(rows)
}

func (m *MySQLArchive) QueryRange(ctx context.Context, from, to time.Time) ([]domain.AuditRecord, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, entity_id, delta, actor_id, source, ts, date
		FROM audit_records WHERE ts BETWEEN ? AND ?
		ORDER BY ts DESC`, from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("query audit range: %w", err)
	}
	defer rows.Close()
	return scanAuditRows(rows)
}

func scanAuditRows(rows *sql.Rows) ([]domain.AuditRecord, error) {
	var out []domain.AuditRecord
	for rows.Next() {
		var rec domain.AuditRecord
		if err := rows.Scan(&rec.ID, &rec.EntityID, &rec.Delta, &rec.ActorID,
			&rec.Source, &rec.Timestamp, &rec.Date); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit records: %w", err)
	}
	return out, nil
}
