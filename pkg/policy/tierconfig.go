// Package policy implements the decision engines that move fragments
// between tiers: promotion toward hotter tiers, demotion toward colder
// ones, and eviction out of the system entirely.
package policy

import (
	"time"

	"github.com/papercomputeco/strata/pkg/fragment"
)

// EvictionPolicy selects how capacity-forced eviction orders its victims.
type EvictionPolicy string

const (
	// EvictLRUPriority evicts least-recently-used first, lowest priority
	// breaking ties.
	EvictLRUPriority EvictionPolicy = "lru_priority"

	// EvictLFUAge evicts least-frequently-used first, oldest breaking ties.
	EvictLFUAge EvictionPolicy = "lfu_age"

	// EvictTTLPriority evicts closest-to-expiry first, lowest priority
	// breaking ties.
	EvictTTLPriority EvictionPolicy = "ttl_priority"

	// EvictTTLOnly evicts strictly by expiry deadline.
	EvictTTLOnly EvictionPolicy = "ttl_only"
)

// TierConfig carries the per-tier thresholds the policy engines decide on.
type TierConfig struct {
	// TTL is the retention window. It bounds both the ExpiresAt deadline
	// written on placement and the max age used for demotion and TTL
	// eviction.
	TTL time.Duration

	// Capacity is the fragment-count ceiling for the tier.
	Capacity int64

	// CapacityCeiling is the utilization fraction above which forced
	// demotion and eviction engage.
	CapacityCeiling float64

	// MinFrequency is the accesses-per-day floor below which a fragment is
	// a demotion candidate.
	MinFrequency float64

	// PriorityFloor is the priority below which a fragment is a demotion
	// candidate.
	PriorityFloor float64

	// DemotionBatch bounds how many fragments one demotion stage moves off
	// this tier per cycle. Zero disables demotion from the tier.
	DemotionBatch int

	// Eviction selects the victim ordering for capacity-forced eviction.
	Eviction EvictionPolicy
}

// Config maps each tier to its policy thresholds.
type Config struct {
	Tiers map[fragment.Tier]TierConfig

	// PromotionFrequency is the accesses-per-day threshold for the
	// frequency-driven promotion rule.
	PromotionFrequency float64

	// PromotionRecency is the most recent access age (in hours) the
	// frequency-driven promotion rule accepts.
	PromotionRecency float64

	// PromotionImportance is the importance threshold for the
	// importance-driven promotion rule.
	PromotionImportance float64

	// DecisionCacheTTL is how long a per-fragment promotion decision is
	// reused before the fragment is re-evaluated.
	DecisionCacheTTL time.Duration

	// MaxEvictionFraction caps how much of a tier one eviction analysis
	// pass may flag.
	MaxEvictionFraction float64
}

// NewDefaultConfig returns the default policy thresholds.
func NewDefaultConfig() *Config {
	return &Config{
		Tiers: map[fragment.Tier]TierConfig{
			fragment.TierHot: {
				TTL:             24 * time.Hour,
				Capacity:        10_000,
				CapacityCeiling: 0.9,
				MinFrequency:    2.0,
				PriorityFloor:   0.6,
				DemotionBatch:   50,
				Eviction:        EvictLRUPriority,
			},
			fragment.TierWarm: {
				TTL:             7 * 24 * time.Hour,
				Capacity:        100_000,
				CapacityCeiling: 0.85,
				MinFrequency:    0.5,
				PriorityFloor:   0.4,
				DemotionBatch:   30,
				Eviction:        EvictLFUAge,
			},
			fragment.TierSemantic: {
				TTL:             30 * 24 * time.Hour,
				Capacity:        1_000_000,
				CapacityCeiling: 0.8,
				MinFrequency:    0.1,
				PriorityFloor:   0.2,
				DemotionBatch:   20,
				Eviction:        EvictTTLPriority,
			},
			fragment.TierCold: {
				TTL:             365 * 24 * time.Hour,
				Capacity:        10_000_000,
				CapacityCeiling: 0.95,
				Eviction:        EvictTTLOnly,
			},
		},
		PromotionFrequency:  3.0,
		PromotionRecency:    12,
		PromotionImportance: 0.5,
		DecisionCacheTTL:    5 * time.Minute,
		MaxEvictionFraction: 0.3,
	}
}

// Tier returns the config for a tier, zero-valued when absent.
func (c *Config) Tier(t fragment.Tier) TierConfig {
	return c.Tiers[t]
}

// Capacities returns the per-tier fragment ceilings for the router.
func (c *Config) Capacities() map[fragment.Tier]int64 {
	out := make(map[fragment.Tier]int64, len(c.Tiers))
	for t, tc := range c.Tiers {
		out[t] = tc.Capacity
	}
	return out
}

// ExpiryFor computes the ExpiresAt deadline for a fragment placed on a
// tier at the given time, nil when the tier has no TTL.
func (c *Config) ExpiryFor(tier fragment.Tier, now time.Time) *time.Time {
	tc, ok := c.Tiers[tier]
	if !ok || tc.TTL <= 0 {
		return nil
	}
	t := now.Add(tc.TTL)
	return &t
}
