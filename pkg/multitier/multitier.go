// Package multitier routes fragment operations across the tiered storage
// backends. It owns initial placement, cross-tier lookup and the
// write-confirm-then-delete migration step that every promotion and
// demotion goes through.
package multitier

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/papercomputeco/strata/pkg/backend"
	"github.com/papercomputeco/strata/pkg/fragment"
)

// ErrNoBackends indicates the router was constructed without any tier backend.
var ErrNoBackends = errors.New("no tier backends configured")

// TierUnavailableError indicates a tier has no configured backend.
type TierUnavailableError struct {
	Tier fragment.Tier
}

func (e TierUnavailableError) Error() string {
	return fmt.Sprintf("tier %s has no configured backend", e.Tier)
}

// Config holds configuration for the multi-tier router.
type Config struct {
	// Backends maps each tier to its storage backend. Tiers without an
	// entry are treated as unavailable; at least one is required.
	Backends map[fragment.Tier]backend.Driver

	// Capacities maps each tier to its fragment-count ceiling. Zero means
	// unbounded for utilization reporting.
	Capacities map[fragment.Tier]int64

	Logger *zap.Logger
}

// Storage routes operations to per-tier backends.
type Storage struct {
	backends   map[fragment.Tier]backend.Driver
	capacities map[fragment.Tier]int64
	logger     *zap.Logger
}

// NewStorage creates a multi-tier router over the configured backends.
func NewStorage(cfg Config) (*Storage, error) {
	if len(cfg.Backends) == 0 {
		return nil, ErrNoBackends
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	backends := make(map[fragment.Tier]backend.Driver, len(cfg.Backends))
	for tier, drv := range cfg.Backends {
		if !tier.Valid() {
			return nil, fmt.Errorf("invalid tier %d in backend map", tier)
		}
		if drv == nil {
			return nil, fmt.Errorf("nil backend for tier %s", tier)
		}
		backends[tier] = drv
	}

	capacities := make(map[fragment.Tier]int64, len(cfg.Capacities))
	for tier, c := range cfg.Capacities {
		capacities[tier] = c
	}

	return &Storage{
		backends:   backends,
		capacities: capacities,
		logger:     logger,
	}, nil
}

// Backend returns the driver for a tier, or a TierUnavailableError.
func (s *Storage) Backend(tier fragment.Tier) (backend.Driver, error) {
	drv, ok := s.backends[tier]
	if !ok {
		return nil, TierUnavailableError{Tier: tier}
	}
	return drv, nil
}

// HasTier reports whether the tier has a configured backend.
func (s *Storage) HasTier(tier fragment.Tier) bool {
	_, ok := s.backends[tier]
	return ok
}

// Capacity returns the configured fragment ceiling for a tier, 0 when
// unbounded.
func (s *Storage) Capacity(tier fragment.Tier) int64 {
	return s.capacities[tier]
}

// InitialTier picks the placement tier for a new fragment from its
// priority. High-priority fragments land hot; mid-priority warm; longer
// low-priority content goes to the semantic index; everything else cold.
func InitialTier(frag *fragment.Fragment) fragment.Tier {
	switch {
	case frag.Priority >= 0.8:
		return fragment.TierHot
	case frag.Priority >= 0.5:
		return fragment.TierWarm
	case frag.Priority >= 0.2 && len(frag.Content) > 50:
		return fragment.TierSemantic
	default:
		return fragment.TierCold
	}
}

// Store writes a fragment to the given tier. TierUnknown lets the router
// pick a tier from priority. When the chosen tier's backend is missing or
// fails, the router falls back through the remaining tiers hottest-first;
// an error is returned only when every tier refused the fragment.
func (s *Storage) Store(ctx context.Context, frag *fragment.Fragment, tier fragment.Tier) error {
	if frag == nil {
		return errors.New("cannot store nil fragment")
	}

	if tier == fragment.TierUnknown {
		tier = InitialTier(frag)
	}
	if !tier.Valid() {
		return fmt.Errorf("invalid target tier %d", tier)
	}

	var firstErr error
	for _, candidate := range storeOrder(tier) {
		drv, ok := s.backends[candidate]
		if !ok {
			continue
		}

		frag.Tier = candidate
		if err := drv.Store(ctx, frag); err != nil {
			s.logger.Warn("tier store failed, falling back",
				zap.String("fragment_id", frag.ID),
				zap.String("tier", candidate.String()),
				zap.Error(err),
			)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		if candidate != tier {
			s.logger.Info("fragment stored on fallback tier",
				zap.String("fragment_id", frag.ID),
				zap.String("wanted", tier.String()),
				zap.String("actual", candidate.String()),
			)
		}
		return nil
	}

	if firstErr != nil {
		return fmt.Errorf("no tier accepted fragment %s: %w", frag.ID, firstErr)
	}
	return fmt.Errorf("no tier accepted fragment %s: %w", frag.ID, ErrNoBackends)
}

// storeOrder returns the preferred tier followed by the remaining tiers
// hottest-first.
func storeOrder(preferred fragment.Tier) []fragment.Tier {
	order := make([]fragment.Tier, 0, len(fragment.Tiers))
	order = append(order, preferred)
	for _, t := range fragment.Tiers {
		if t != preferred {
			order = append(order, t)
		}
	}
	return order
}

// Get fetches a fragment. With no tiers given it searches hottest to
// coldest and returns the first hit; with tiers given only those are
// checked, in the given order. Backend failures during the search are
// logged and skipped so one dead tier cannot mask a hit on a colder one.
func (s *Storage) Get(ctx context.Context, id string, tiers ...fragment.Tier) (*fragment.Fragment, bool, error) {
	search := tiers
	if len(search) == 0 {
		search = fragment.Tiers
	}

	var firstErr error
	for _, tier := range search {
		drv, ok := s.backends[tier]
		if !ok {
			continue
		}

		frag, found, err := drv.Get(ctx, id)
		if err != nil {
			s.logger.Warn("tier get failed, continuing search",
				zap.String("fragment_id", id),
				zap.String("tier", tier.String()),
				zap.Error(err),
			)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if found {
			frag.Tier = tier
			return frag, true, nil
		}
	}

	if firstErr != nil {
		return nil, false, fmt.Errorf("getting fragment %s: %w", id, firstErr)
	}
	return nil, false, nil
}

// Touch bumps access bookkeeping on whichever tier holds the fragment.
func (s *Storage) Touch(ctx context.Context, frag *fragment.Fragment) error {
	drv, err := s.Backend(frag.Tier)
	if err != nil {
		return err
	}
	return drv.Touch(ctx, frag.ID, frag.LastAccessedAt)
}

// Delete removes a fragment. With no tiers given it deletes every copy on
// every tier (stale migration duplicates included); with tiers given only
// those are touched. Returns NotFoundError when no tier held the fragment.
func (s *Storage) Delete(ctx context.Context, id string, tiers ...fragment.Tier) error {
	search := tiers
	if len(search) == 0 {
		search = fragment.Tiers
	}

	deleted := false
	var firstErr error
	for _, tier := range search {
		drv, ok := s.backends[tier]
		if !ok {
			continue
		}

		_, found, err := drv.Get(ctx, id)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if !found {
			continue
		}

		if err := drv.Delete(ctx, id); err != nil {
			s.logger.Warn("tier delete failed",
				zap.String("fragment_id", id),
				zap.String("tier", tier.String()),
				zap.Error(err),
			)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		deleted = true
	}

	if firstErr != nil && !deleted {
		return fmt.Errorf("deleting fragment %s: %w", id, firstErr)
	}
	if !deleted {
		return backend.NotFoundError{ID: id}
	}
	return nil
}

// ListByTier returns up to limit fragments from one tier.
func (s *Storage) ListByTier(ctx context.Context, tier fragment.Tier, limit int) ([]*fragment.Fragment, error) {
	drv, err := s.Backend(tier)
	if err != nil {
		return nil, err
	}

	frags, err := drv.List(ctx, limit, 0)
	if err != nil {
		return nil, fmt.Errorf("listing tier %s: %w", tier, err)
	}
	for _, f := range frags {
		f.Tier = tier
	}
	return frags, nil
}

// ListByPriority merges fragments across all tiers whose priority falls in
// [min, max], sorted by priority descending, truncated to limit. A failing
// tier is skipped so the merged view degrades instead of disappearing.
func (s *Storage) ListByPriority(ctx context.Context, min, max float64, limit int) ([]*fragment.Fragment, error) {
	var merged []*fragment.Fragment
	for _, tier := range fragment.Tiers {
		drv, ok := s.backends[tier]
		if !ok {
			continue
		}

		frags, err := drv.List(ctx, 0, 0)
		if err != nil {
			s.logger.Warn("tier list failed, skipping in priority merge",
				zap.String("tier", tier.String()),
				zap.Error(err),
			)
			continue
		}
		for _, f := range frags {
			if f.Priority >= min && f.Priority <= max {
				f.Tier = tier
				merged = append(merged, f)
			}
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Priority > merged[j].Priority
	})
	if limit > 0 && len(merged) > limit {
		merged = merged[:limit]
	}
	return merged, nil
}

// Stats returns per-tier usage plus aggregate totals.
func (s *Storage) Stats(ctx context.Context) (map[fragment.Tier]fragment.TierUsage, error) {
	out := make(map[fragment.Tier]fragment.TierUsage, len(s.backends))
	var firstErr error
	for tier, drv := range s.backends {
		stats, err := drv.Stats(ctx)
		if err != nil {
			s.logger.Warn("tier stats failed",
				zap.String("tier", tier.String()),
				zap.Error(err),
			)
			if firstErr == nil {
				firstErr = fmt.Errorf("stats for tier %s: %w", tier, err)
			}
			continue
		}

		usage := fragment.TierUsage{
			TierStats: stats,
			Capacity:  s.capacities[tier],
		}
		if usage.Capacity > 0 {
			usage.Utilization = float64(stats.Fragments) / float64(usage.Capacity)
		}
		out[tier] = usage
	}

	if len(out) == 0 && firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}

// Utilization returns the fragment-count utilization of one tier in [0,∞).
// Tiers without a configured capacity report 0.
func (s *Storage) Utilization(ctx context.Context, tier fragment.Tier) (float64, error) {
	drv, err := s.Backend(tier)
	if err != nil {
		return 0, err
	}

	capacity := s.capacities[tier]
	if capacity <= 0 {
		return 0, nil
	}

	stats, err := drv.Stats(ctx)
	if err != nil {
		return 0, fmt.Errorf("stats for tier %s: %w", tier, err)
	}
	return float64(stats.Fragments) / float64(capacity), nil
}

// Close closes every backend, returning the first error seen.
func (s *Storage) Close() error {
	var firstErr error
	for tier, drv := range s.backends {
		if err := drv.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing tier %s: %w", tier, err)
		}
	}
	return firstErr
}
