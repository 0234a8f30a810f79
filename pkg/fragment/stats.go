package fragment

import "time"

// TierStats is what a single storage backend reports about itself.
type TierStats struct {
	// Fragments is the number of fragments currently stored.
	Fragments int64 `json:"fragments"`

	// SizeBytes is the approximate payload footprint.
	SizeBytes int64 `json:"size_bytes"`
}

// TierUsage extends TierStats with the configured capacity so callers can
// reason about pressure without knowing per-tier configuration.
type TierUsage struct {
	TierStats

	// Capacity is the configured maximum fragment count, 0 for unbounded.
	Capacity int64 `json:"capacity"`

	// Utilization is Fragments/Capacity, 0 when Capacity is 0.
	Utilization float64 `json:"utilization"`
}

// OpCounters tracks attempted/succeeded/failed counts for one operation
// family (promotions, demotions, evictions).
type OpCounters struct {
	Attempted int64 `json:"attempted"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
}

// Add folds another set of counters into c.
func (c *OpCounters) Add(other OpCounters) {
	c.Attempted += other.Attempted
	c.Succeeded += other.Succeeded
	c.Failed += other.Failed
}

// MemoryStats is the aggregate view the coordinator exposes to monitoring.
type MemoryStats struct {
	Timestamp time.Time `json:"timestamp"`

	// Tiers maps tier name to its usage snapshot.
	Tiers map[string]TierUsage `json:"tiers"`

	Promotions OpCounters `json:"promotions"`
	Demotions  OpCounters `json:"demotions"`
	Evictions  OpCounters `json:"evictions"`

	// Ingested counts fragments accepted by Ingest since start.
	Ingested int64 `json:"ingested"`

	LastOptimization time.Time `json:"last_optimization,omitzero"`
	LastCleanup      time.Time `json:"last_cleanup,omitzero"`

	// Errors counts operational errors observed since start.
	Errors int64 `json:"errors"`

	// LastError holds the most recent error message, empty when none.
	LastError string `json:"last_error,omitempty"`
}
