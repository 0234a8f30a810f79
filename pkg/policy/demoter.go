package policy

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/papercomputeco/strata/pkg/fragment"
	"github.com/papercomputeco/strata/pkg/multitier"
)

const (
	// ReasonAgeExceeded marks demotion of a fragment older than its tier's
	// retention window.
	ReasonAgeExceeded = "age_exceeded"

	// ReasonLowFrequency marks demotion of a fragment accessed less often
	// than the tier's floor.
	ReasonLowFrequency = "low_frequency"

	// ReasonLowPriority marks demotion of a fragment below the tier's
	// priority floor.
	ReasonLowPriority = "low_priority"

	// ReasonCapacityPressure marks forced demotion off an over-full tier.
	ReasonCapacityPressure = "capacity_pressure"

	// ReasonWeightDecayed marks demotion of a fragment whose caller-supplied
	// weight has decayed away.
	ReasonWeightDecayed = "weight_decayed"

	// demotionPenalty is the priority multiplier applied on every demotion.
	demotionPenalty = 0.8

	// capacityPriorityMidpoint protects important fragments from forced
	// capacity demotion.
	capacityPriorityMidpoint = 0.5

	// weightHalfLife and weightFloor govern the optional weight-decay
	// criterion.
	weightHalfLife = 7 * 24 * time.Hour
	weightFloor    = 0.1
)

// Demoter flags and moves stale or low-value fragments toward colder tiers.
type Demoter struct {
	storage  *multitier.Storage
	analyzer AccessAnalyzer
	cfg      *Config
	logger   *zap.Logger
}

// NewDemoter creates a demoter over the router. The analyzer is optional.
func NewDemoter(storage *multitier.Storage, analyzer AccessAnalyzer, cfg *Config, logger *zap.Logger) *Demoter {
	if cfg == nil {
		cfg = NewDefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Demoter{
		storage:  storage,
		analyzer: analyzer,
		cfg:      cfg,
		logger:   logger,
	}
}

// decayedWeight returns the caller-supplied weight attribute decayed by the
// fragment's age, and whether the attribute was present and numeric.
func decayedWeight(frag *fragment.Fragment, now time.Time) (float64, bool) {
	raw, ok := frag.Attributes["weight"]
	if !ok {
		return 0, false
	}
	w, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	halfLives := frag.Age(now).Hours() / weightHalfLife.Hours()
	return w * math.Pow(0.5, halfLives), true
}

// shouldDemote applies the demotion criteria to one fragment. overFull
// reports whether the fragment's tier is past its capacity ceiling; it only
// matters in force mode.
func (d *Demoter) shouldDemote(frag *fragment.Fragment, pattern AccessPattern, tc TierConfig, now time.Time, force, overFull bool) (bool, string) {
	if tc.TTL > 0 && frag.Age(now) > tc.TTL {
		return true, ReasonAgeExceeded
	}
	if tc.MinFrequency > 0 && pattern.Frequency < tc.MinFrequency {
		return true, ReasonLowFrequency
	}
	if tc.PriorityFloor > 0 && frag.Priority < tc.PriorityFloor {
		return true, ReasonLowPriority
	}
	if force && overFull && frag.Priority < capacityPriorityMidpoint {
		return true, ReasonCapacityPressure
	}
	if w, ok := decayedWeight(frag, now); ok && w < weightFloor {
		return true, ReasonWeightDecayed
	}
	return false, ""
}

// AnalyzeCandidates flags fragments on the tier that should move one tier
// colder. The coldest tier never yields candidates; eviction owns it.
func (d *Demoter) AnalyzeCandidates(ctx context.Context, tier fragment.Tier, force bool) ([]*Candidate, error) {
	if _, ok := tier.NextColder(); !ok {
		return nil, nil
	}

	tc := d.cfg.Tier(tier)
	frags, err := d.storage.ListByTier(ctx, tier, analysisListLimit)
	if err != nil {
		return nil, fmt.Errorf("analyzing tier %s for demotion: %w", tier, err)
	}

	overFull := false
	if force && tc.CapacityCeiling > 0 {
		util, err := d.storage.Utilization(ctx, tier)
		if err != nil {
			d.logger.Warn("utilization check failed, capacity criterion disabled for this pass",
				zap.String("tier", tier.String()),
				zap.Error(err),
			)
		} else {
			overFull = util > tc.CapacityCeiling
		}
	}

	now := time.Now().UTC()
	var candidates []*Candidate
	for _, frag := range frags {
		pattern := patternFor(ctx, d.analyzer, frag, now)
		if demote, reason := d.shouldDemote(frag, pattern, tc, now, force, overFull); demote {
			candidates = append(candidates, newCandidate(frag, reason))
		}
	}

	// Least valuable first, so batch truncation drops the right fragments.
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i].Fragment, candidates[j].Fragment
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		return a.LastAccessedAt.Before(b.LastAccessedAt)
	})

	d.logger.Debug("demotion analysis complete",
		zap.String("tier", tier.String()),
		zap.Bool("force", force),
		zap.Int("scanned", len(frags)),
		zap.Int("candidates", len(candidates)),
	)
	return candidates, nil
}

// Execute demotes candidates to the target tier, applying the priority
// penalty and the target tier's expiry window. Criteria are re-checked per
// fragment because time has passed since analysis; fragments that no longer
// qualify are skipped. Per-item failures never abort siblings.
func (d *Demoter) Execute(ctx context.Context, candidates []*Candidate, target fragment.Tier) *Report {
	report := newReport()
	start := time.Now()
	now := start.UTC()

	for _, cand := range candidates {
		frag := cand.Fragment

		if !target.Colder(frag.Tier) {
			cand.State = StateFailed
			cand.Err = InvalidTransitionError{From: frag.Tier, To: target}
			d.logger.Error("rejected demotion",
				zap.String("fragment_id", frag.ID),
				zap.Error(cand.Err),
			)
			report.count(cand)
			continue
		}

		current, found, err := d.storage.Get(ctx, frag.ID, frag.Tier)
		if err != nil {
			cand.State = StateFailed
			cand.Err = err
			report.count(cand)
			continue
		}
		if !found {
			cand.State = StateSkipped
			report.count(cand)
			continue
		}

		// Capacity pressure was judged at analysis time; other criteria are
		// re-checked on the current copy.
		if cand.Reason != ReasonCapacityPressure {
			tc := d.cfg.Tier(frag.Tier)
			pattern := patternFor(ctx, d.analyzer, current, now)
			if demote, _ := d.shouldDemote(current, pattern, tc, now, false, false); !demote {
				cand.State = StateSkipped
				report.count(cand)
				continue
			}
		}

		expiry := d.cfg.ExpiryFor(target, now)
		err = d.storage.Migrate(ctx, frag.ID, frag.Tier, target, func(f *fragment.Fragment) {
			f.Priority *= demotionPenalty
			f.ExpiresAt = expiry
		})
		if err != nil {
			cand.State = StateFailed
			cand.Err = err
			d.logger.Warn("demotion failed",
				zap.String("fragment_id", frag.ID),
				zap.String("target", target.String()),
				zap.Error(err),
			)
			report.count(cand)
			continue
		}

		cand.State = StateExecuted
		report.count(cand)
	}

	report.Duration = time.Since(start)
	return report
}

// RunChain demotes one stage per tier from hottest to coldest, each stage
// bounded by the tier's demotion batch size. Hottest-first order means a
// fragment moves at most one tier per chain run.
func (d *Demoter) RunChain(ctx context.Context, force bool) *Report {
	total := newReport()
	start := time.Now()

	for _, tier := range fragment.Tiers {
		target, ok := tier.NextColder()
		if !ok {
			continue
		}
		batch := d.cfg.Tier(tier).DemotionBatch
		if batch <= 0 {
			continue
		}

		candidates, err := d.AnalyzeCandidates(ctx, tier, force)
		if err != nil {
			d.logger.Warn("demotion stage skipped",
				zap.String("tier", tier.String()),
				zap.Error(err),
			)
			continue
		}
		if len(candidates) > batch {
			candidates = candidates[:batch]
		}
		if len(candidates) == 0 {
			continue
		}

		total.Merge(d.Execute(ctx, candidates, target))
	}

	total.Duration = time.Since(start)
	return total
}
