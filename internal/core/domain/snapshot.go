package domain

import "time"

// SnapshotEntry captures one entity inside a snapshot payload.
type SnapshotEntry struct {
	Static       StaticFields `json:"static"`
	CounterValue int          `json:"counter_value"`
}

// Snapshot is an immutable point-in-time copy of the full entity set. The
// SavedAt id doubles as the storage key and sorts newest-first by value.
type Snapshot struct {
	ID       string                   `json:"id"`
	Label    string                   `json:"label"`
	SavedAt  time.Time                `json:"saved_at"`
	Entries  map[string]SnapshotEntry `json:"entries"`
	Orphaned bool                     `json:"-"` // payload present without a metadata entry
}
