package eventstream

import (
	"time"

	"github.com/google/uuid"

	"github.com/papercomputeco/strata/pkg/fragment"
)

const (
	// SchemaVersionV1 is the first version of the event payload schema.
	SchemaVersionV1 = 1

	// EventTypeFragmentIngested is emitted after a fragment is first stored.
	EventTypeFragmentIngested = "strata.fragment.ingested"

	// EventTypeTierTransition is emitted after a fragment moves between tiers.
	EventTypeTierTransition = "strata.fragment.tier_transition"

	// EventTypeFragmentEvicted is emitted after a fragment is removed by policy.
	EventTypeFragmentEvicted = "strata.fragment.evicted"
)

// FragmentEvent is a transport-neutral event payload for a fragment
// lifecycle change.
type FragmentEvent struct {
	SchemaVersion int       `json:"schema_version"`
	EventType     string    `json:"event_type"`
	EventID       string    `json:"event_id"`
	EmittedAt     time.Time `json:"emitted_at"`

	FragmentID string  `json:"fragment_id"`
	OwnerID    string  `json:"owner_id,omitempty"`
	Priority   float64 `json:"priority"`

	// FromTier is empty for ingestion events.
	FromTier string `json:"from_tier,omitempty"`
	ToTier   string `json:"to_tier,omitempty"`

	// Reason carries the policy decision that caused the change, empty for
	// plain ingestion.
	Reason string `json:"reason,omitempty"`
}

// NewIngested builds an ingestion event for a freshly stored fragment.
func NewIngested(frag *fragment.Fragment) *FragmentEvent {
	return newEvent(EventTypeFragmentIngested, frag, fragment.TierUnknown, frag.Tier, "")
}

// NewTierTransition builds a transition event for a migrated fragment.
func NewTierTransition(frag *fragment.Fragment, from, to fragment.Tier, reason string) *FragmentEvent {
	return newEvent(EventTypeTierTransition, frag, from, to, reason)
}

// NewEvicted builds an eviction event.
func NewEvicted(frag *fragment.Fragment, reason string) *FragmentEvent {
	return newEvent(EventTypeFragmentEvicted, frag, frag.Tier, fragment.TierUnknown, reason)
}

func newEvent(eventType string, frag *fragment.Fragment, from, to fragment.Tier, reason string) *FragmentEvent {
	ev := &FragmentEvent{
		SchemaVersion: SchemaVersionV1,
		EventType:     eventType,
		EventID:       uuid.NewString(),
		EmittedAt:     time.Now().UTC(),
		FragmentID:    frag.ID,
		OwnerID:       frag.OwnerID,
		Priority:      frag.Priority,
		Reason:        reason,
	}
	if from.Valid() {
		ev.FromTier = from.String()
	}
	if to.Valid() {
		ev.ToTier = to.String()
	}
	return ev
}
