package domain

import "time"

// AuditRecord describes one committed counter mutation. Records are
// append-only: nothing in the engine mutates or deletes them.
type AuditRecord struct {
	ID        string    `json:"id"`
	EntityID  string    `json:"entity_id"`
	Delta     int       `json:"delta"` // realized delta after clamping
	ActorID   string    `json:"actor_id"`
	Source    string    `json:"source"` // e.g. "sale", "hold-confirm", "restore"
	Timestamp time.Time `json:"timestamp"`
	Date      string    `json:"date"` // yyyy-mm-dd bucket for range queries
}
