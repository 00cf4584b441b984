package domain

import "time"

// StaticFields is the low-churn half of an entity: everything that rarely
// changes after the item is registered. It lives in the static partition.
type StaticFields struct {
	DisplayName string            `json:"display_name"`
	Attributes  map[string]string `json:"attributes,omitempty"` // price, image URL, unit
	Capacity    int               `json:"capacity"`
	Hidden      bool              `json:"hidden"`
	AddedAt     time.Time         `json:"added_at"`
}

// Entity is the merged view of one trackable item: static fields plus the
// high-churn counter value held in the counter partition.
type Entity struct {
	ID            string
	Static        StaticFields
	CounterValue  int
	LastMutatedAt time.Time
}

// Clamp bounds value to [0, capacity].
func Clamp(value, capacity int) int {
	if value < 0 {
		return 0
	}
	if value > capacity {
		return capacity
	}
	return value
}

// Clone returns a copy safe to hand to observers while the mirror keeps mutating.
func (e Entity) Clone() Entity {
	out := e
	if e.Static.Attributes != nil {
		out.Static.Attributes = make(map[string]string, len(e.Static.Attributes))
		for k, v := range e.Static.Attributes {
			out.Static.Attributes[k] = v
		}
	}
	return out
}
