package eventstream

import "errors"

// ErrNilFragmentEvent indicates a nil event payload was provided to a publisher.
var ErrNilFragmentEvent = errors.New("nil fragment event")
