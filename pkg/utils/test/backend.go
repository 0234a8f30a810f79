package testutils

import (
	"context"
	"fmt"
	"time"

	"github.com/papercomputeco/strata/pkg/backend"
	"github.com/papercomputeco/strata/pkg/backend/inmemory"
	"github.com/papercomputeco/strata/pkg/fragment"
)

// MockBackend wraps the in-memory driver with switchable failure modes so
// tests can exercise fallback and partial-failure paths.
type MockBackend struct {
	*inmemory.Driver

	// FailStore, FailGet, FailDelete and FailTouch make the corresponding
	// operation return an error.
	FailStore  bool
	FailGet    bool
	FailDelete bool
	FailTouch  bool

	// StoreCalls counts Store invocations, failures included.
	StoreCalls int
}

// NewMockBackend creates an empty mock backend.
func NewMockBackend() *MockBackend {
	return &MockBackend{Driver: inmemory.NewDriver()}
}

func (m *MockBackend) Store(ctx context.Context, frag *fragment.Fragment) error {
	m.StoreCalls++
	if m.FailStore {
		return fmt.Errorf("mock store failure")
	}
	return m.Driver.Store(ctx, frag)
}

func (m *MockBackend) Get(ctx context.Context, id string) (*fragment.Fragment, bool, error) {
	if m.FailGet {
		return nil, false, fmt.Errorf("mock get failure")
	}
	return m.Driver.Get(ctx, id)
}

func (m *MockBackend) Delete(ctx context.Context, id string) error {
	if m.FailDelete {
		return fmt.Errorf("mock delete failure")
	}
	return m.Driver.Delete(ctx, id)
}

func (m *MockBackend) Touch(ctx context.Context, id string, at time.Time) error {
	if m.FailTouch {
		return fmt.Errorf("mock touch failure")
	}
	return m.Driver.Touch(ctx, id, at)
}

var _ backend.Driver = (*MockBackend)(nil)
