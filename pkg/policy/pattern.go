package policy

import (
	"context"
	"time"

	"github.com/papercomputeco/strata/pkg/fragment"
)

// AccessPattern is the derived usage signal promotion and demotion
// decisions run on.
type AccessPattern struct {
	// Frequency is accesses per day over the fragment's lifetime.
	Frequency float64

	// RecencyHours is how many hours ago the fragment was last accessed.
	RecencyHours float64

	// Importance is a [0,1] score of how valuable the fragment appears,
	// independent of the caller-assigned priority.
	Importance float64
}

// AccessAnalyzer supplies access patterns from an external signal source.
// The coordinator works without one; DerivePattern is the fallback.
type AccessAnalyzer interface {
	Analyze(ctx context.Context, fragmentID, ownerID string) (AccessPattern, error)
}

// DerivePattern approximates an access pattern from the fragment's own
// bookkeeping fields. Used whenever no analyzer is configured or the
// analyzer fails.
func DerivePattern(frag *fragment.Fragment, now time.Time) AccessPattern {
	ageDays := frag.Age(now).Hours() / 24
	if ageDays < 1.0/24 {
		ageDays = 1.0 / 24
	}

	freq := float64(frag.AccessCount) / ageDays

	// Without an external importance signal, priority is the best
	// available proxy, nudged by observed usage.
	importance := frag.Priority
	if freq > 1 {
		importance += 0.1
	}

	return AccessPattern{
		Frequency:    freq,
		RecencyHours: frag.Idle(now).Hours(),
		Importance:   fragment.ClampPriority(importance),
	}
}

// patternFor consults the analyzer when present and falls back to the
// derived pattern on error or absence.
func patternFor(ctx context.Context, analyzer AccessAnalyzer, frag *fragment.Fragment, now time.Time) AccessPattern {
	if analyzer != nil {
		if p, err := analyzer.Analyze(ctx, frag.ID, frag.OwnerID); err == nil {
			return p
		}
	}
	return DerivePattern(frag, now)
}
