package domain

import "time"

// Hold is a provisional per-actor reservation against an entity. Multiple
// actors may hold the same entity at once; a hold ends by being discarded or
// confirmed into the entity's committed counter.
type Hold struct {
	EntityID  string    `json:"entity_id"`
	ActorID   string    `json:"actor_id"`
	Quantity  int       `json:"quantity"`
	Draft     bool      `json:"draft"`
	ClaimedAt time.Time `json:"claimed_at"`
}
