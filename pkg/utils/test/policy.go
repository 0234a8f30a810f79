package testutils

import (
	"context"
	"fmt"
	"sync"

	"github.com/papercomputeco/strata/pkg/eventstream"
	"github.com/papercomputeco/strata/pkg/policy"
)

// MockAnalyzer returns canned access patterns per fragment ID.
type MockAnalyzer struct {
	// Patterns maps fragment ID to the pattern Analyze returns.
	Patterns map[string]policy.AccessPattern

	// FailOn causes Analyze to error for a matching fragment ID.
	FailOn string
}

// NewMockAnalyzer creates an analyzer with no canned patterns.
func NewMockAnalyzer() *MockAnalyzer {
	return &MockAnalyzer{Patterns: make(map[string]policy.AccessPattern)}
}

func (m *MockAnalyzer) Analyze(_ context.Context, fragmentID, _ string) (policy.AccessPattern, error) {
	if m.FailOn != "" && fragmentID == m.FailOn {
		return policy.AccessPattern{}, fmt.Errorf("mock analyzer failure for: %s", fragmentID)
	}
	if p, ok := m.Patterns[fragmentID]; ok {
		return p, nil
	}
	return policy.AccessPattern{}, fmt.Errorf("no pattern for fragment %s", fragmentID)
}

// MockPublisher records published fragment events.
type MockPublisher struct {
	mu     sync.Mutex
	events []*eventstream.FragmentEvent

	// FailPublish causes PublishFragment to return an error.
	FailPublish bool
}

// NewMockPublisher creates an empty recording publisher.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

func (m *MockPublisher) PublishFragment(_ context.Context, event *eventstream.FragmentEvent) error {
	if event == nil {
		return eventstream.ErrNilFragmentEvent
	}
	if m.FailPublish {
		return fmt.Errorf("mock publish failure")
	}
	m.mu.Lock()
	m.events = append(m.events, event)
	m.mu.Unlock()
	return nil
}

func (m *MockPublisher) Close() error {
	return nil
}

// Events returns a snapshot of everything published so far.
func (m *MockPublisher) Events() []*eventstream.FragmentEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*eventstream.FragmentEvent, len(m.events))
	copy(out, m.events)
	return out
}

// EventsOfType filters the published events by event type.
func (m *MockPublisher) EventsOfType(eventType string) []*eventstream.FragmentEvent {
	var out []*eventstream.FragmentEvent
	for _, ev := range m.Events() {
		if ev.EventType == eventType {
			out = append(out, ev)
		}
	}
	return out
}
