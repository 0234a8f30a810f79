package policy

import "time"

// Report summarizes one batch of policy executions. Per-item failures are
// counted here instead of aborting siblings.
type Report struct {
	Attempted int `json:"attempted"`
	Succeeded int `json:"succeeded"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`

	// BytesFreed is the payload footprint removed; only eviction fills it.
	BytesFreed int64 `json:"bytes_freed,omitempty"`

	// Reasons histograms the analysis reasons of the processed candidates.
	Reasons map[string]int `json:"reasons,omitempty"`

	Duration time.Duration `json:"duration"`
}

// newReport returns an empty report with the histogram allocated.
func newReport() *Report {
	return &Report{Reasons: make(map[string]int)}
}

// count records a candidate outcome in the report.
func (r *Report) count(c *Candidate) {
	r.Attempted++
	if c.Reason != "" {
		r.Reasons[c.Reason]++
	}
	switch c.State {
	case StateExecuted:
		r.Succeeded++
	case StateSkipped:
		r.Skipped++
	case StateFailed:
		r.Failed++
	}
}

// Merge folds another report into r.
func (r *Report) Merge(other *Report) {
	if other == nil {
		return
	}
	r.Attempted += other.Attempted
	r.Succeeded += other.Succeeded
	r.Skipped += other.Skipped
	r.Failed += other.Failed
	r.BytesFreed += other.BytesFreed
	for reason, n := range other.Reasons {
		if r.Reasons == nil {
			r.Reasons = make(map[string]int)
		}
		r.Reasons[reason] += n
	}
}
