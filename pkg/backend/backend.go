// Package backend defines the storage contract every tier implements.
// The multi-tier router treats all backends identically regardless of the
// engine behind them (key-value cache, relational store, vector index or
// archive).
package backend

import (
	"context"
	"time"

	"github.com/papercomputeco/strata/pkg/fragment"
)

// Driver is the per-tier storage contract. Implementations own their own
// concurrency safety; every method may block on I/O and must honor ctx
// cancellation.
type Driver interface {
	// Store upserts a fragment. Storing an existing ID replaces it.
	Store(ctx context.Context, frag *fragment.Fragment) error

	// Get retrieves a fragment by ID. The bool reports presence; an error
	// is returned only for backend failures, not for absence.
	Get(ctx context.Context, id string) (*fragment.Fragment, bool, error)

	// Delete removes a fragment. Deleting an absent ID is a no-op.
	Delete(ctx context.Context, id string) error

	// List returns up to limit fragments starting at offset. Iteration
	// order is stable for a given backend but otherwise unspecified.
	List(ctx context.Context, limit, offset int) ([]*fragment.Fragment, error)

	// Touch atomically increments the fragment's access count and advances
	// its last-accessed time to at (never backwards). Backends must apply
	// this with compare-and-swap or equivalent so concurrent touches are
	// not lost.
	Touch(ctx context.Context, id string, at time.Time) error

	// Stats reports the backend's current footprint.
	Stats(ctx context.Context) (fragment.TierStats, error)

	// Close releases backend resources.
	Close() error
}

// NotFoundError is returned by operations that require an existing
// fragment (such as Touch) when the ID is absent.
type NotFoundError struct {
	ID string
}

func (e NotFoundError) Error() string {
	if e.ID == "" {
		return "fragment not found"
	}
	return "fragment not found: " + e.ID
}
