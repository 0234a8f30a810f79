package coordinator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/papercomputeco/strata/pkg/eventstream"
	"github.com/papercomputeco/strata/pkg/fragment"
	"github.com/papercomputeco/strata/pkg/policy"
)

// emergencyDemotionBatch bounds forced demotion per tier during emergency
// optimization.
const emergencyDemotionBatch = 20

// CycleReport is the outcome of one maintenance cycle, staged in the order
// the stages ran.
type CycleReport struct {
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`

	Promotion *policy.Report `json:"promotion"`
	Demotion  *policy.Report `json:"demotion"`
	Eviction  *policy.Report `json:"eviction"`
}

func counters(r *policy.Report) fragment.OpCounters {
	return fragment.OpCounters{
		Attempted: int64(r.Attempted),
		Succeeded: int64(r.Succeeded),
		Failed:    int64(r.Failed),
	}
}

// RunOptimizationCycle runs one full maintenance pass: promotion first,
// then demotion, then eviction, each stage walking tiers hottest to
// coldest. Per-fragment failures stay inside the stage reports.
func (c *Coordinator) RunOptimizationCycle(ctx context.Context) *CycleReport {
	report := &CycleReport{
		StartedAt: time.Now().UTC(),
		Promotion: &policy.Report{},
		Demotion:  &policy.Report{},
		Eviction:  &policy.Report{},
	}

	for _, tier := range fragment.Tiers {
		report.Promotion.Merge(c.promotionStage(ctx, tier))
	}
	for _, tier := range fragment.Tiers {
		batch := c.policy.Tier(tier).DemotionBatch
		report.Demotion.Merge(c.demotionStage(ctx, tier, false, batch))
	}
	for _, tier := range fragment.Tiers {
		report.Eviction.Merge(c.evictionStage(ctx, tier, false))
	}

	c.stats.recordOptimization(counters(report.Promotion), counters(report.Demotion), counters(report.Eviction))
	report.Duration = time.Since(report.StartedAt)
	return report
}

// RunCleanup runs an eviction-only pass across all tiers: TTL expiry and
// duplicate reconciliation, no capacity forcing.
func (c *Coordinator) RunCleanup(ctx context.Context) *policy.Report {
	total := &policy.Report{}
	start := time.Now()

	for _, tier := range fragment.Tiers {
		total.Merge(c.evictionStage(ctx, tier, false))
	}

	c.stats.recordCleanup(counters(total))
	total.Duration = time.Since(start)
	return total
}

// EmergencyOptimize forces every tier down toward the target utilization:
// an emergency eviction pass per tier plus a bounded forced-demotion stage
// to relieve the hot tiers.
func (c *Coordinator) EmergencyOptimize(ctx context.Context, targetUtilization float64) *CycleReport {
	report := &CycleReport{
		StartedAt: time.Now().UTC(),
		Promotion: &policy.Report{},
		Demotion:  &policy.Report{},
		Eviction:  &policy.Report{},
	}

	c.logger.Warn("emergency optimization requested",
		zap.Float64("target_utilization", targetUtilization),
	)

	for _, tier := range fragment.Tiers {
		if !c.storage.HasTier(tier) {
			continue
		}
		cleanup, err := c.evictor.EmergencyCleanup(ctx, tier, targetUtilization)
		if err != nil {
			c.stats.recordError(err)
			c.logger.Warn("emergency cleanup failed",
				zap.String("tier", tier.String()),
				zap.Error(err),
			)
			continue
		}
		report.Eviction.Merge(cleanup)
	}

	for _, tier := range fragment.Tiers {
		report.Demotion.Merge(c.demotionStage(ctx, tier, true, emergencyDemotionBatch))
	}

	c.stats.recordOptimization(counters(report.Promotion), counters(report.Demotion), counters(report.Eviction))
	report.Duration = time.Since(report.StartedAt)
	return report
}

// promotionStage analyzes one tier and promotes its candidates one tier
// hotter, emitting a transition event per executed move.
func (c *Coordinator) promotionStage(ctx context.Context, tier fragment.Tier) *policy.Report {
	if !c.storage.HasTier(tier) {
		return &policy.Report{}
	}

	candidates, err := c.promoter.AnalyzeCandidates(ctx, tier)
	if err != nil {
		c.stats.recordError(err)
		c.logger.Warn("promotion analysis failed",
			zap.String("tier", tier.String()),
			zap.Error(err),
		)
		return &policy.Report{}
	}
	if len(candidates) == 0 {
		return &policy.Report{}
	}

	_, report := c.promoter.ExecuteBatch(ctx, candidates)

	for _, cand := range candidates {
		if cand.State != policy.StateExecuted {
			continue
		}
		if target, ok := tier.NextHotter(); ok {
			c.publish(ctx, eventstream.NewTierTransition(cand.Fragment, tier, target, cand.Reason))
		}
	}
	return report
}

// demotionStage analyzes one tier and demotes up to batch candidates one
// tier colder, emitting a transition event per executed move.
func (c *Coordinator) demotionStage(ctx context.Context, tier fragment.Tier, force bool, batch int) *policy.Report {
	target, ok := tier.NextColder()
	if !ok || batch <= 0 || !c.storage.HasTier(tier) {
		return &policy.Report{}
	}

	candidates, err := c.demoter.AnalyzeCandidates(ctx, tier, force)
	if err != nil {
		c.stats.recordError(err)
		c.logger.Warn("demotion analysis failed",
			zap.String("tier", tier.String()),
			zap.Error(err),
		)
		return &policy.Report{}
	}
	if len(candidates) > batch {
		candidates = candidates[:batch]
	}
	if len(candidates) == 0 {
		return &policy.Report{}
	}

	report := c.demoter.Execute(ctx, candidates, target)

	for _, cand := range candidates {
		if cand.State == policy.StateExecuted {
			c.publish(ctx, eventstream.NewTierTransition(cand.Fragment, tier, target, cand.Reason))
		}
	}
	return report
}

// evictionStage analyzes one tier and evicts its candidates, emitting an
// eviction event per removal.
func (c *Coordinator) evictionStage(ctx context.Context, tier fragment.Tier, force bool) *policy.Report {
	if !c.storage.HasTier(tier) {
		return &policy.Report{}
	}

	candidates, err := c.evictor.AnalyzeCandidates(ctx, tier, force)
	if err != nil {
		c.stats.recordError(err)
		c.logger.Warn("eviction analysis failed",
			zap.String("tier", tier.String()),
			zap.Error(err),
		)
		return &policy.Report{}
	}
	if len(candidates) == 0 {
		return &policy.Report{}
	}

	report := c.evictor.Execute(ctx, candidates)

	for _, cand := range candidates {
		if cand.State == policy.StateExecuted {
			c.publish(ctx, eventstream.NewEvicted(cand.Fragment, cand.Reason))
		}
	}
	return report
}
