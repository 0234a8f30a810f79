// Package fragment defines the data model shared by every layer of the
// strata coordinator: the cached item itself, the storage tiers it moves
// between, and the statistics the coordinator reports about them.
package fragment

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Tier identifies one of the four storage levels, ordered by access speed.
// Lower values are hotter.
type Tier int

const (
	// TierUnknown means no tier has been assigned yet. Storing a fragment
	// with TierUnknown lets the multi-tier router pick one from priority.
	TierUnknown Tier = iota

	// TierHot is the fastest, smallest tier (key-value cache).
	TierHot

	// TierWarm is the intermediate relational tier.
	TierWarm

	// TierSemantic is the vector/similarity index tier.
	TierSemantic

	// TierCold is the archive tier: largest, slowest, last resort.
	TierCold
)

// Tiers lists all tiers in hottest-to-coldest order. Background cycles
// iterate this order so a fragment is never cascaded through several tiers
// in one pass.
var Tiers = []Tier{TierHot, TierWarm, TierSemantic, TierCold}

// String returns the canonical lowercase tier name.
func (t Tier) String() string {
	switch t {
	case TierHot:
		return "hot"
	case TierWarm:
		return "warm"
	case TierSemantic:
		return "semantic"
	case TierCold:
		return "cold"
	default:
		return "unknown"
	}
}

// Valid reports whether t is one of the four storage tiers.
func (t Tier) Valid() bool {
	return t >= TierHot && t <= TierCold
}

// Hotter reports whether t is strictly hotter than other.
func (t Tier) Hotter(other Tier) bool {
	return t.Valid() && other.Valid() && t < other
}

// Colder reports whether t is strictly colder than other.
func (t Tier) Colder(other Tier) bool {
	return t.Valid() && other.Valid() && t > other
}

// NextHotter returns the adjacent hotter tier and false when t is already
// the hottest tier (or invalid).
func (t Tier) NextHotter() (Tier, bool) {
	if t <= TierHot || t > TierCold {
		return TierUnknown, false
	}
	return t - 1, true
}

// NextColder returns the adjacent colder tier and false when t is already
// the coldest tier (or invalid).
func (t Tier) NextColder() (Tier, bool) {
	if t < TierHot || t >= TierCold {
		return TierUnknown, false
	}
	return t + 1, true
}

// ParseTier converts a tier name to a Tier. Unrecognized names map to
// TierUnknown.
func ParseTier(s string) Tier {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "hot":
		return TierHot
	case "warm":
		return TierWarm
	case "semantic":
		return TierSemantic
	case "cold":
		return TierCold
	default:
		return TierUnknown
	}
}

// Kind classifies a fragment's payload. The coordinator carries it for
// observability but never branches on it.
type Kind string

const (
	KindDialogue Kind = "dialogue"
	KindContext  Kind = "context"
	KindSummary  Kind = "summary"
	KindOther    Kind = "other"
)

// Fragment is the unit of caching: an opaque payload plus the placement and
// access metadata the coordinator needs to move it between tiers.
type Fragment struct {
	// ID is a stable unique identifier. Ingest assigns a UUID when empty.
	ID string `json:"id"`

	// OwnerID is an opaque caller-supplied owner identifier.
	OwnerID string `json:"owner_id"`

	// Content is the payload. The coordinator never interprets it beyond
	// size and duplicate hashing.
	Content string `json:"content"`

	// Kind classifies the payload for observability.
	Kind Kind `json:"kind"`

	// Priority is the caller-assigned importance in [0,1]. Always clamped.
	Priority float64 `json:"priority"`

	CreatedAt      time.Time `json:"created_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
	AccessCount    int64     `json:"access_count"`

	// Tier is the storage level the fragment currently lives on. The
	// multi-tier router is the source of truth for this mapping.
	Tier Tier `json:"tier"`

	// ExpiresAt is the tier-dependent TTL deadline, nil for none.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`

	// Attributes is an open string-keyed map of caller metadata. The
	// coordinator stores it verbatim; only external collaborators give
	// individual keys meaning.
	Attributes map[string]string `json:"attributes,omitempty"`
}

// New creates a fragment with a fresh UUID and timestamps set to now.
func New(ownerID, content string, kind Kind, priority float64) *Fragment {
	now := time.Now().UTC()
	return &Fragment{
		ID:             uuid.NewString(),
		OwnerID:        ownerID,
		Content:        content,
		Kind:           kind,
		Priority:       ClampPriority(priority),
		CreatedAt:      now,
		LastAccessedAt: now,
	}
}

// ClampPriority bounds p to [0,1].
func ClampPriority(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

// Size approximates the fragment's footprint in bytes: payload plus
// attribute keys and values.
func (f *Fragment) Size() int64 {
	n := int64(len(f.Content))
	for k, v := range f.Attributes {
		n += int64(len(k) + len(v))
	}
	return n
}

// Age returns how long ago the fragment was created.
func (f *Fragment) Age(now time.Time) time.Duration {
	return now.Sub(f.CreatedAt)
}

// Idle returns how long ago the fragment was last accessed.
func (f *Fragment) Idle(now time.Time) time.Duration {
	return now.Sub(f.LastAccessedAt)
}

// Expired reports whether the fragment's TTL deadline has passed.
func (f *Fragment) Expired(now time.Time) bool {
	return f.ExpiresAt != nil && now.After(*f.ExpiresAt)
}

// Clone returns a deep copy. Backends hand out clones so callers cannot
// mutate stored state through shared pointers.
func (f *Fragment) Clone() *Fragment {
	c := *f
	if f.ExpiresAt != nil {
		t := *f.ExpiresAt
		c.ExpiresAt = &t
	}
	if f.Attributes != nil {
		c.Attributes = make(map[string]string, len(f.Attributes))
		for k, v := range f.Attributes {
			c.Attributes[k] = v
		}
	}
	return &c
}

// ContentHash returns a hex sha256 over the trimmed, lower-cased content.
// Fragments whose normalized content collides are duplicates.
func (f *Fragment) ContentHash() string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(f.Content))))
	return hex.EncodeToString(sum[:])
}
