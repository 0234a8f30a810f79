package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/papercomputeco/strata/pkg/fragment"
)

// statsTracker accumulates operation counters behind a mutex. Per-tier
// usage figures come from the backends at read time; only the counters and
// cycle timestamps live here.
type statsTracker struct {
	mu               sync.Mutex
	ingested         int64
	promotions       fragment.OpCounters
	demotions        fragment.OpCounters
	evictions        fragment.OpCounters
	lastOptimization time.Time
	lastCleanup      time.Time
	errors           int64
	lastError        string
}

func (t *statsTracker) recordIngest() {
	t.mu.Lock()
	t.ingested++
	t.mu.Unlock()
}

func (t *statsTracker) recordError(err error) {
	t.mu.Lock()
	t.errors++
	t.lastError = err.Error()
	t.mu.Unlock()
}

func (t *statsTracker) recordOptimization(promotion, demotion, eviction fragment.OpCounters) {
	t.mu.Lock()
	t.promotions.Add(promotion)
	t.demotions.Add(demotion)
	t.evictions.Add(eviction)
	t.lastOptimization = time.Now().UTC()
	t.mu.Unlock()
}

func (t *statsTracker) recordCleanup(eviction fragment.OpCounters) {
	t.mu.Lock()
	t.evictions.Add(eviction)
	t.lastCleanup = time.Now().UTC()
	t.mu.Unlock()
}

// ControllerStatus reports the coordinator's liveness and wiring.
type ControllerStatus struct {
	Running          bool      `json:"running"`
	StartedAt        time.Time `json:"started_at,omitempty"`
	LastOptimization time.Time `json:"last_optimization,omitempty"`
	LastCleanup      time.Time `json:"last_cleanup,omitempty"`
	HasAnalyzer      bool      `json:"has_analyzer"`
	Tiers            []string  `json:"tiers"`
}

// Status returns the coordinator's running state and component presence.
func (c *Coordinator) Status() ControllerStatus {
	c.mu.Lock()
	running := c.running
	startedAt := c.startedAt
	c.mu.Unlock()

	c.stats.mu.Lock()
	lastOpt := c.stats.lastOptimization
	lastCleanup := c.stats.lastCleanup
	c.stats.mu.Unlock()

	var tiers []string
	for _, tier := range fragment.Tiers {
		if c.storage.HasTier(tier) {
			tiers = append(tiers, tier.String())
		}
	}

	return ControllerStatus{
		Running:          running,
		StartedAt:        startedAt,
		LastOptimization: lastOpt,
		LastCleanup:      lastCleanup,
		HasAnalyzer:      c.analyzer != nil,
		Tiers:            tiers,
	}
}

// Stats snapshots the operation counters and current per-tier usage.
func (c *Coordinator) Stats(ctx context.Context) (fragment.MemoryStats, error) {
	usage, err := c.storage.Stats(ctx)
	if err != nil {
		c.stats.recordError(err)
		return fragment.MemoryStats{}, err
	}

	tiers := make(map[string]fragment.TierUsage, len(usage))
	for tier, u := range usage {
		tiers[tier.String()] = u
	}

	c.stats.mu.Lock()
	defer c.stats.mu.Unlock()
	return fragment.MemoryStats{
		Timestamp:        time.Now().UTC(),
		Tiers:            tiers,
		Promotions:       c.stats.promotions,
		Demotions:        c.stats.demotions,
		Evictions:        c.stats.evictions,
		Ingested:         c.stats.ingested,
		LastOptimization: c.stats.lastOptimization,
		LastCleanup:      c.stats.lastCleanup,
		Errors:           c.stats.errors,
		LastError:        c.stats.lastError,
	}, nil
}
