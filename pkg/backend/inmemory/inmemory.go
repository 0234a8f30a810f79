// Package inmemory provides a map-backed backend.Driver. It serves any
// tier, backs the test suites, and is the fallback engine when no external
// store is configured.
package inmemory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/papercomputeco/strata/pkg/backend"
	"github.com/papercomputeco/strata/pkg/fragment"
)

// Driver implements backend.Driver using an in-memory map.
type Driver struct {
	// mu guards fragments. Touch runs under the write lock, which gives
	// the compare-and-swap semantics the contract requires.
	mu sync.RWMutex

	// fragments maps fragment ID to the stored copy.
	fragments map[string]*fragment.Fragment
}

// NewDriver creates an empty in-memory backend.
func NewDriver() *Driver {
	return &Driver{
		fragments: make(map[string]*fragment.Fragment),
	}
}

// Store upserts a fragment. The driver keeps its own copy so later caller
// mutations do not leak into storage.
func (d *Driver) Store(_ context.Context, frag *fragment.Fragment) error {
	if frag == nil {
		return errors.New("cannot store nil fragment")
	}
	if frag.ID == "" {
		return errors.New("cannot store fragment without an ID")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.fragments[frag.ID] = frag.Clone()
	return nil
}

// Get retrieves a copy of the fragment by ID.
func (d *Driver) Get(_ context.Context, id string) (*fragment.Fragment, bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	frag, ok := d.fragments[id]
	if !ok {
		return nil, false, nil
	}
	return frag.Clone(), true, nil
}

// Delete removes a fragment. Absent IDs are a no-op.
func (d *Driver) Delete(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.fragments, id)
	return nil
}

// List returns up to limit fragments starting at offset, ordered by
// creation time then ID so pagination is stable.
func (d *Driver) List(_ context.Context, limit, offset int) ([]*fragment.Fragment, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	all := make([]*fragment.Fragment, 0, len(d.fragments))
	for _, frag := range d.fragments {
		all = append(all, frag)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.Before(all[j].CreatedAt)
		}
		return all[i].ID < all[j].ID
	})

	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}

	out := make([]*fragment.Fragment, len(all))
	for i, frag := range all {
		out[i] = frag.Clone()
	}
	return out, nil
}

// Touch bumps the access counter and advances the last-access time. The
// update happens under the write lock so concurrent touches all land.
func (d *Driver) Touch(_ context.Context, id string, at time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	frag, ok := d.fragments[id]
	if !ok {
		return backend.NotFoundError{ID: id}
	}

	frag.AccessCount++
	if at.After(frag.LastAccessedAt) {
		frag.LastAccessedAt = at
	}
	return nil
}

// Stats reports the current fragment count and byte footprint.
func (d *Driver) Stats(_ context.Context) (fragment.TierStats, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	stats := fragment.TierStats{Fragments: int64(len(d.fragments))}
	for _, frag := range d.fragments {
		stats.SizeBytes += frag.Size()
	}
	return stats, nil
}

// Count returns the number of stored fragments.
func (d *Driver) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.fragments)
}

// Close is a no-op for the in-memory backend.
func (d *Driver) Close() error {
	return nil
}
