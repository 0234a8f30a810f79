package policy

import (
	"fmt"

	"github.com/papercomputeco/strata/pkg/fragment"
)

// InvalidTransitionError indicates a move that violates tier ordering.
// This is a logic error, never retried.
type InvalidTransitionError struct {
	From fragment.Tier
	To   fragment.Tier
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid tier transition %s -> %s", e.From, e.To)
}

// CapacityError indicates the target tier has no room; the candidate is
// skipped this cycle and re-evaluated on the next one.
type CapacityError struct {
	Tier        fragment.Tier
	Utilization float64
}

func (e CapacityError) Error() string {
	return fmt.Sprintf("tier %s at %.0f%% utilization, no capacity for transfer", e.Tier, e.Utilization*100)
}
