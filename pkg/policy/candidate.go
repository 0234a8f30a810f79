package policy

import "github.com/papercomputeco/strata/pkg/fragment"

// CandidateState tracks a candidate through the analyze/execute lifecycle.
type CandidateState int

const (
	// StateUnevaluated is the initial state before analysis.
	StateUnevaluated CandidateState = iota

	// StateAnalyzed means the candidate met its criteria at analysis time
	// and carries a reason.
	StateAnalyzed

	// StateExecuted means the move or removal completed.
	StateExecuted

	// StateSkipped means the criteria no longer held when execution
	// re-checked them.
	StateSkipped

	// StateFailed means storage rejected the operation; the candidate is
	// picked up again on the next cycle, never retried within this one.
	StateFailed
)

// String returns the lowercase state name.
func (s CandidateState) String() string {
	switch s {
	case StateAnalyzed:
		return "analyzed"
	case StateExecuted:
		return "executed"
	case StateSkipped:
		return "skipped"
	case StateFailed:
		return "failed"
	default:
		return "unevaluated"
	}
}

// Candidate is one fragment flagged by an analysis pass, annotated with the
// reason it was flagged and where the execution attempt left it.
type Candidate struct {
	Fragment *fragment.Fragment
	Reason   string
	State    CandidateState
	Err      error
}

// newCandidate returns an analyzed candidate for the fragment.
func newCandidate(frag *fragment.Fragment, reason string) *Candidate {
	return &Candidate{
		Fragment: frag,
		Reason:   reason,
		State:    StateAnalyzed,
	}
}
