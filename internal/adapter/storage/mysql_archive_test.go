package storage

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/ptduy/livecount/internal/core/domain"
)

// The MySQL tests need a reachable server with the audit_records table; they
// read the DSN from LIVECOUNT_MYSQL_TEST_DSN (parseTime=true required) and
// skip when it is unset.
func setupMySQLArchive(t *testing.T) *MySQLArchive {
	t.Helper()
	dsn := os.Getenv("LIVECOUNT_MYSQL_TEST_DSN")
	if dsn == "" {
		t.Skip("LIVECOUNT_MYSQL_TEST_DSN not set")
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		t.Fatalf("open mysql: %v", err)
	}
	if err := db.PingContext(context.Background()); err != nil {
		db.Close()
		t.Skipf("mysql not available: %v", err)
	}
	if _, err := db.ExecContext(context.Background(), `DELETE FROM audit_records`); err != nil {
		db.Close()
		t.Fatalf("clear audit_records: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewMySQLArchive(db)
}

func TestMySQLArchiveSaveIsIdempotent(t *testing.T) {
	archive := setupMySQLArchive(t)
	ctx := context.Background()

	rec := domain.AuditRecord{
		ID:        "rec-1",
		EntityID:  "tee",
		Delta:     2,
		ActorID:   "cashier-1",
		Source:    "sale",
		Timestamp: time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC),
		Date:      "2026-01-15",
	}
	if err := archive.Save(ctx, rec); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	// The pump re-offers records; a second save of the same id must not
	// duplicate the row.
	if err := archive.Save(ctx, rec); err != nil {
		t.Fatalf("second save failed: %v", err)
	}

	got, err := archive.QueryByDate(ctx, "2026-01-15")
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 record, got %d", len(got))
	}
	if got[0].ID != rec.ID || got[0].EntityID != rec.EntityID || got[0].Delta != rec.Delta {
		t.Fatalf("record mismatch: %+v", got[0])
	}
}

func TestMySQLArchiveQueryRange(t *testing.T) {
	archive := setupMySQLArchive(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"rec-a", "rec-b", "rec-c"} {
		rec := domain.AuditRecord{
			ID:        id,
			EntityID:  "tee",
			Delta:     1,
			ActorID:   "cashier-1",
			Source:    "sale",
			Timestamp: base.Add(time.Duration(i) * time.Hour),
			Date:      "2026-01-15",
		}
		if err := archive.Save(ctx, rec); err != nil {
			t.Fatalf("save %s failed: %v", id, err)
		}
	}

	got, err := archive.QueryRange(ctx, base, base.Add(time.Hour))
	if err != nil {
		t.Fatalf("query range failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 records in range, got %d", len(got))
	}
	if got[0].ID != "rec-b" || got[1].ID != "rec-a" {
		t.Fatalf("expected newest first [rec-b rec-a], got [%s %s]", got[0].ID, got[1].ID)
	}
}
