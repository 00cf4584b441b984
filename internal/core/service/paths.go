package service

// Storage layout. The static and counter partitions are keyed identically by
// entity id so a record can be merged back together on read; everything else
// hangs off its own root.
const (
	staticPartitionPath  = "products/static"
	counterPartitionPath = "products/count"
	expectedCountPath    = "products/meta/expectedCount"

	snapshotItemsPath = "snapshots/items"
	snapshotIDsPath   = "snapshots/meta/sortedIds"
	snapshotCountPath = "snapshots/meta/count"

	auditRootPath = "audit"
	holdsRootPath = "holds"
)

func staticPath(id string) string  { return staticPartitionPath + "/" + id }
func counterPath(id string) string { return counterPartitionPath + "/" + id }

func auditDatePath(date string) string { return auditRootPath + "/" + date }

func snapshotPath(id string) string { return snapshotItemsPath + "/" + id }

func holdsEntityPath(entityID string) string { return holdsRootPath + "/" + entityID }

func holdPath(entityID, actorID string) string {
	return holdsRootPath + "/" + entityID + "/" + actorID
}
