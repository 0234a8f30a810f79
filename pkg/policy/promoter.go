package policy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/papercomputeco/strata/pkg/fragment"
	"github.com/papercomputeco/strata/pkg/multitier"
)

const (
	// ReasonHighFrequency marks promotion driven by frequent recent access.
	ReasonHighFrequency = "high_frequency_recent"

	// ReasonHighImportance marks promotion driven by importance and priority.
	ReasonHighImportance = "high_importance"

	// analysisListLimit bounds how many fragments one analysis pass reads
	// off a tier.
	analysisListLimit = 1000
)

// promotionDecision is a cached per-fragment analysis result.
type promotionDecision struct {
	at      time.Time
	promote bool
	reason  string
}

// Promoter flags and moves fragments toward hotter tiers.
type Promoter struct {
	storage  *multitier.Storage
	analyzer AccessAnalyzer
	cfg      *Config
	logger   *zap.Logger

	mu        sync.Mutex
	decisions map[string]promotionDecision
}

// NewPromoter creates a promoter over the router. The analyzer is optional.
func NewPromoter(storage *multitier.Storage, analyzer AccessAnalyzer, cfg *Config, logger *zap.Logger) *Promoter {
	if cfg == nil {
		cfg = NewDefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Promoter{
		storage:   storage,
		analyzer:  analyzer,
		cfg:       cfg,
		logger:    logger,
		decisions: make(map[string]promotionDecision),
	}
}

// shouldPromote applies the promotion rule to one fragment.
func (p *Promoter) shouldPromote(frag *fragment.Fragment, pattern AccessPattern) (bool, string) {
	if pattern.Frequency >= p.cfg.PromotionFrequency && pattern.RecencyHours <= p.cfg.PromotionRecency {
		return true, ReasonHighFrequency
	}
	if pattern.Importance >= p.cfg.PromotionImportance && frag.Priority >= 0.6 {
		return true, ReasonHighImportance
	}
	return false, ""
}

// decide evaluates the promotion rule with a short-TTL per-fragment cache
// so unchanged fragments are not re-scored on every tick.
func (p *Promoter) decide(ctx context.Context, frag *fragment.Fragment, now time.Time) (bool, string) {
	p.mu.Lock()
	if d, ok := p.decisions[frag.ID]; ok && now.Sub(d.at) < p.cfg.DecisionCacheTTL {
		p.mu.Unlock()
		return d.promote, d.reason
	}
	p.mu.Unlock()

	pattern := patternFor(ctx, p.analyzer, frag, now)
	promote, reason := p.shouldPromote(frag, pattern)

	p.mu.Lock()
	p.decisions[frag.ID] = promotionDecision{at: now, promote: promote, reason: reason}
	p.mu.Unlock()

	return promote, reason
}

// forget drops the cached decision for a fragment whose state just changed.
func (p *Promoter) forget(id string) {
	p.mu.Lock()
	delete(p.decisions, id)
	p.mu.Unlock()
}

// AnalyzeCandidates flags fragments on the tier that qualify for promotion.
// The hottest tier never yields candidates.
func (p *Promoter) AnalyzeCandidates(ctx context.Context, tier fragment.Tier) ([]*Candidate, error) {
	if _, ok := tier.NextHotter(); !ok {
		return nil, nil
	}

	frags, err := p.storage.ListByTier(ctx, tier, analysisListLimit)
	if err != nil {
		return nil, fmt.Errorf("analyzing tier %s for promotion: %w", tier, err)
	}

	now := time.Now().UTC()
	var candidates []*Candidate
	for _, frag := range frags {
		if promote, reason := p.decide(ctx, frag, now); promote {
			candidates = append(candidates, newCandidate(frag, reason))
		}
	}

	p.logger.Debug("promotion analysis complete",
		zap.String("tier", tier.String()),
		zap.Int("scanned", len(frags)),
		zap.Int("candidates", len(candidates)),
	)
	return candidates, nil
}

// Execute promotes one candidate to the target tier. The transition must be
// strictly hotter than the fragment's tier; a full target skips the
// candidate for this cycle. The promoted copy gets a fresh access stamp and
// the target tier's expiry window.
func (p *Promoter) Execute(ctx context.Context, cand *Candidate, target fragment.Tier) error {
	frag := cand.Fragment

	if !target.Hotter(frag.Tier) {
		cand.State = StateFailed
		cand.Err = InvalidTransitionError{From: frag.Tier, To: target}
		p.logger.Error("rejected promotion",
			zap.String("fragment_id", frag.ID),
			zap.Error(cand.Err),
		)
		return cand.Err
	}

	// Time has passed since analysis; re-check before moving.
	now := time.Now().UTC()
	current, found, err := p.storage.Get(ctx, frag.ID, frag.Tier)
	if err != nil {
		cand.State = StateFailed
		cand.Err = err
		return err
	}
	if !found {
		cand.State = StateSkipped
		return nil
	}
	if promote, _ := p.shouldPromote(current, patternFor(ctx, p.analyzer, current, now)); !promote {
		cand.State = StateSkipped
		p.forget(frag.ID)
		return nil
	}

	util, err := p.storage.Utilization(ctx, target)
	if err != nil {
		cand.State = StateFailed
		cand.Err = err
		return err
	}
	if ceiling := p.cfg.Tier(target).CapacityCeiling; ceiling > 0 && util >= ceiling {
		cand.State = StateSkipped
		cand.Err = CapacityError{Tier: target, Utilization: util}
		p.logger.Debug("promotion skipped, target tier full",
			zap.String("fragment_id", frag.ID),
			zap.String("target", target.String()),
			zap.Float64("utilization", util),
		)
		return nil
	}

	expiry := p.cfg.ExpiryFor(target, now)
	err = p.storage.Migrate(ctx, frag.ID, frag.Tier, target, func(f *fragment.Fragment) {
		f.LastAccessedAt = now
		f.ExpiresAt = expiry
	})
	if err != nil {
		cand.State = StateFailed
		cand.Err = err
		return fmt.Errorf("promoting fragment %s to %s: %w", frag.ID, target, err)
	}

	cand.State = StateExecuted
	p.forget(frag.ID)
	return nil
}

// ExecuteBatch promotes each candidate one tier hotter and returns a
// per-id outcome map. One failure never aborts the rest.
func (p *Promoter) ExecuteBatch(ctx context.Context, candidates []*Candidate) (map[string]error, *Report) {
	report := newReport()
	start := time.Now()
	outcomes := make(map[string]error, len(candidates))

	for _, cand := range candidates {
		target, ok := cand.Fragment.Tier.NextHotter()
		if !ok {
			cand.State = StateFailed
			cand.Err = InvalidTransitionError{From: cand.Fragment.Tier, To: cand.Fragment.Tier}
			outcomes[cand.Fragment.ID] = cand.Err
			report.count(cand)
			continue
		}
		outcomes[cand.Fragment.ID] = p.Execute(ctx, cand, target)
		report.count(cand)
	}

	report.Duration = time.Since(start)
	return outcomes, report
}
