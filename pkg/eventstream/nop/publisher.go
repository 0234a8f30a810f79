package nop

import (
	"context"

	"github.com/papercomputeco/strata/pkg/eventstream"
)

// Publisher discards every event. It stands in when event publishing is
// disabled and throughout the test suites.
type Publisher struct{}

var _ eventstream.Publisher = (*Publisher)(nil)

// NewPublisher creates a new no-op eventstream publisher.
func NewPublisher() *Publisher {
	return &Publisher{}
}

// PublishFragment validates input and otherwise does nothing.
func (p *Publisher) PublishFragment(_ context.Context, event *eventstream.FragmentEvent) error {
	if event == nil {
		return eventstream.ErrNilFragmentEvent
	}

	return nil
}

// Close is a no-op.
func (p *Publisher) Close() error {
	return nil
}
