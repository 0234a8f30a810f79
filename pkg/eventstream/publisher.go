package eventstream

import "context"

// Publisher publishes fragment lifecycle events to an event stream backend.
type Publisher interface {
	PublishFragment(ctx context.Context, event *FragmentEvent) error
	Close() error
}
