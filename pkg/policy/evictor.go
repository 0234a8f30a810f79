package policy

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/papercomputeco/strata/pkg/fragment"
	"github.com/papercomputeco/strata/pkg/multitier"
)

const (
	// ReasonTTLExpired marks eviction of a fragment past its retention
	// deadline.
	ReasonTTLExpired = "ttl_expired"

	// ReasonDuplicate marks eviction of a fragment whose normalized content
	// already exists on the tier.
	ReasonDuplicate = "duplicate"

	// ReasonCapacityForced marks eviction driven by tier pressure.
	ReasonCapacityForced = "capacity_forced"

	// ReasonEmergency marks eviction by an emergency cleanup call.
	ReasonEmergency = "emergency_cleanup"
)

// Evictor permanently removes expired, duplicated or surplus fragments.
type Evictor struct {
	storage *multitier.Storage
	cfg     *Config
	logger  *zap.Logger

	mu        sync.RWMutex
	protected map[string]struct{}
}

// NewEvictor creates an evictor over the router.
func NewEvictor(storage *multitier.Storage, cfg *Config, logger *zap.Logger) *Evictor {
	if cfg == nil {
		cfg = NewDefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evictor{
		storage:   storage,
		cfg:       cfg,
		logger:    logger,
		protected: make(map[string]struct{}),
	}
}

// Protect excludes a fragment from all eviction paths until Unprotect.
func (e *Evictor) Protect(id string) {
	e.mu.Lock()
	e.protected[id] = struct{}{}
	e.mu.Unlock()
}

// Unprotect removes a fragment from the protected set.
func (e *Evictor) Unprotect(id string) {
	e.mu.Lock()
	delete(e.protected, id)
	e.mu.Unlock()
}

// IsProtected reports whether a fragment is shielded from eviction.
func (e *Evictor) IsProtected(id string) bool {
	e.mu.RLock()
	_, ok := e.protected[id]
	e.mu.RUnlock()
	return ok
}

// sortByPolicy orders eviction victims worst-first for the given policy.
func sortByPolicy(frags []*fragment.Fragment, policy EvictionPolicy) {
	less := func(i, j *fragment.Fragment) bool { return i.CreatedAt.Before(j.CreatedAt) }

	switch policy {
	case EvictLRUPriority:
		less = func(i, j *fragment.Fragment) bool {
			if !i.LastAccessedAt.Equal(j.LastAccessedAt) {
				return i.LastAccessedAt.Before(j.LastAccessedAt)
			}
			return i.Priority < j.Priority
		}
	case EvictLFUAge:
		less = func(i, j *fragment.Fragment) bool {
			if i.AccessCount != j.AccessCount {
				return i.AccessCount < j.AccessCount
			}
			return i.CreatedAt.Before(j.CreatedAt)
		}
	case EvictTTLPriority:
		less = func(i, j *fragment.Fragment) bool {
			if c := compareExpiry(i, j); c != 0 {
				return c < 0
			}
			return i.Priority < j.Priority
		}
	case EvictTTLOnly:
		less = func(i, j *fragment.Fragment) bool {
			return compareExpiry(i, j) < 0
		}
	}

	sort.SliceStable(frags, func(i, j int) bool { return less(frags[i], frags[j]) })
}

// compareExpiry orders by expiry deadline, fragments without one last.
func compareExpiry(a, b *fragment.Fragment) int {
	switch {
	case a.ExpiresAt == nil && b.ExpiresAt == nil:
		return 0
	case a.ExpiresAt == nil:
		return 1
	case b.ExpiresAt == nil:
		return -1
	case a.ExpiresAt.Before(*b.ExpiresAt):
		return -1
	case b.ExpiresAt.Before(*a.ExpiresAt):
		return 1
	default:
		return 0
	}
}

// AnalyzeCandidates flags fragments on the tier for permanent removal.
// Expired fragments and content duplicates are always flagged; capacity
// pressure only adds victims when force is set or utilization is past the
// ceiling, ordered by the tier's eviction policy. One pass never flags more
// than the configured fraction of the tier, and protected fragments are
// never flagged.
func (e *Evictor) AnalyzeCandidates(ctx context.Context, tier fragment.Tier, force bool) ([]*Candidate, error) {
	tc := e.cfg.Tier(tier)

	frags, err := e.storage.ListByTier(ctx, tier, 0)
	if err != nil {
		return nil, fmt.Errorf("analyzing tier %s for eviction: %w", tier, err)
	}

	maxFlagged := len(frags)
	if e.cfg.MaxEvictionFraction > 0 {
		maxFlagged = int(math.Ceil(float64(len(frags)) * e.cfg.MaxEvictionFraction))
	}

	now := time.Now().UTC()
	flagged := make(map[string]struct{})
	var candidates []*Candidate
	flag := func(frag *fragment.Fragment, reason string) {
		if len(candidates) >= maxFlagged {
			return
		}
		if _, done := flagged[frag.ID]; done || e.IsProtected(frag.ID) {
			return
		}
		flagged[frag.ID] = struct{}{}
		candidates = append(candidates, newCandidate(frag, reason))
	}

	// TTL eviction runs regardless of force mode.
	for _, frag := range frags {
		if frag.Expired(now) || (tc.TTL > 0 && frag.Age(now) > tc.TTL) {
			flag(frag, ReasonTTLExpired)
		}
	}

	// All but the first occurrence of identical normalized content.
	seen := make(map[string]bool)
	for _, frag := range frags {
		hash := frag.ContentHash()
		if seen[hash] {
			flag(frag, ReasonDuplicate)
			continue
		}
		seen[hash] = true
	}

	engaged := force
	if !engaged && tc.CapacityCeiling > 0 && tc.Capacity > 0 {
		engaged = float64(len(frags))/float64(tc.Capacity) > tc.CapacityCeiling
	}
	if engaged && tc.Capacity > 0 {
		surplus := len(frags) - len(candidates) - int(tc.CapacityCeiling*float64(tc.Capacity))
		if surplus > 0 {
			victims := make([]*fragment.Fragment, 0, len(frags))
			for _, frag := range frags {
				if _, done := flagged[frag.ID]; !done {
					victims = append(victims, frag)
				}
			}
			sortByPolicy(victims, tc.Eviction)
			for _, frag := range victims {
				if surplus == 0 {
					break
				}
				before := len(candidates)
				flag(frag, ReasonCapacityForced)
				if len(candidates) > before {
					surplus--
				}
			}
		}
	}

	e.logger.Debug("eviction analysis complete",
		zap.String("tier", tier.String()),
		zap.Bool("force", force),
		zap.Int("scanned", len(frags)),
		zap.Int("candidates", len(candidates)),
	)
	return candidates, nil
}

// Execute deletes candidates from their tiers, accumulating bytes freed and
// a reason histogram. A fragment that vanished or became protected since
// analysis is skipped; per-item failures never abort the batch.
func (e *Evictor) Execute(ctx context.Context, candidates []*Candidate) *Report {
	report := newReport()
	start := time.Now()

	for _, cand := range candidates {
		frag := cand.Fragment

		if e.IsProtected(frag.ID) {
			cand.State = StateSkipped
			report.count(cand)
			continue
		}

		_, found, err := e.storage.Get(ctx, frag.ID, frag.Tier)
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

		if err := e.storage.Delete(ctx, frag.ID, frag.Tier); err != nil {
			cand.State = StateFailed
			cand.Err = err
			e.logger.Warn("eviction failed",
				zap.String("fragment_id", frag.ID),
				zap.String("tier", frag.Tier.String()),
				zap.Error(err),
			)
			report.count(cand)
			continue
		}

		cand.State = StateExecuted
		report.BytesFreed += frag.Size()
		report.count(cand)
	}

	report.Duration = time.Since(start)
	return report
}

// EmergencyCleanup removes as many fragments as needed to bring the tier
// down to the target utilization, least important and oldest first. One run
// never removes more than MaxEvictionFraction of the tier, and protected
// fragments are passed over; either can leave the target unmet until the
// next run.
func (e *Evictor) EmergencyCleanup(ctx context.Context, tier fragment.Tier, targetUtilization float64) (*Report, error) {
	tc := e.cfg.Tier(tier)
	if tc.Capacity <= 0 {
		return newReport(), nil
	}

	frags, err := e.storage.ListByTier(ctx, tier, 0)
	if err != nil {
		return nil, fmt.Errorf("emergency cleanup of tier %s: %w", tier, err)
	}

	surplus := len(frags) - int(targetUtilization*float64(tc.Capacity))
	if e.cfg.MaxEvictionFraction > 0 {
		if bound := int(float64(len(frags)) * e.cfg.MaxEvictionFraction); surplus > bound {
			surplus = bound
		}
	}
	if surplus <= 0 {
		return newReport(), nil
	}

	sort.SliceStable(frags, func(i, j int) bool {
		if frags[i].Priority != frags[j].Priority {
			return frags[i].Priority < frags[j].Priority
		}
		return frags[i].CreatedAt.Before(frags[j].CreatedAt)
	})

	var candidates []*Candidate
	for _, frag := range frags {
		if len(candidates) >= surplus {
			break
		}
		if e.IsProtected(frag.ID) {
			continue
		}
		candidates = append(candidates, newCandidate(frag, ReasonEmergency))
	}

	e.logger.Info("emergency cleanup",
		zap.String("tier", tier.String()),
		zap.Float64("target_utilization", targetUtilization),
		zap.Int("surplus", surplus),
		zap.Int("candidates", len(candidates)),
	)
	return e.Execute(ctx, candidates), nil
}
