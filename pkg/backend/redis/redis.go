// Package redis provides the Redis-backed hot-tier storage backend.
// Fragments are stored as hashes so access bookkeeping can use Redis's
// atomic hash increments, with a sorted-set index for stable listing.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/papercomputeco/strata/pkg/backend"
	"github.com/papercomputeco/strata/pkg/fragment"
)

const (
	fragmentKeyPrefix = "strata:fragment:"
	createdIndexKey   = "strata:index:created"
	bytesCounterKey   = "strata:stats:bytes"
)

// Config holds configuration for the Redis backend.
type Config struct {
	// Addr is the Redis server address (e.g. "localhost:6379").
	Addr string

	// Password is optional.
	Password string

	// DB selects the Redis logical database.
	DB int
}

// Driver implements backend.Driver on a Redis server.
type Driver struct {
	client *goredis.Client
}

// NewDriver connects to Redis and verifies the connection.
func NewDriver(ctx context.Context, cfg Config) (*Driver, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("pinging redis at %s: %w", cfg.Addr, err)
	}

	return &Driver{client: client}, nil
}

func fragmentKey(id string) string {
	return fragmentKeyPrefix + id
}

// Store upserts a fragment hash, refreshes the created-at index and keeps
// the byte counter in sync. A TTL is applied when the fragment carries an
// expiry deadline.
func (d *Driver) Store(ctx context.Context, frag *fragment.Fragment) error {
	if frag == nil {
		return errors.New("cannot store nil fragment")
	}
	if frag.ID == "" {
		return errors.New("cannot store fragment without an ID")
	}

	attrs, err := json.Marshal(frag.Attributes)
	if err != nil {
		return fmt.Errorf("marshaling attributes: %w", err)
	}

	key := fragmentKey(frag.ID)

	// Byte-counter delta against any previous copy of this fragment.
	oldSize, err := d.storedSize(ctx, key)
	if err != nil {
		return err
	}

	fields := map[string]any{
		"id":               frag.ID,
		"owner_id":         frag.OwnerID,
		"content":          frag.Content,
		"kind":             string(frag.Kind),
		"priority":         strconv.FormatFloat(fragment.ClampPriority(frag.Priority), 'f', -1, 64),
		"created_at":       frag.CreatedAt.UTC().Format(time.RFC3339Nano),
		"last_accessed_at": frag.LastAccessedAt.UTC().Format(time.RFC3339Nano),
		"access_count":     frag.AccessCount,
		"tier":             frag.Tier.String(),
		"attributes":       string(attrs),
	}
	if frag.ExpiresAt != nil {
		fields["expires_at"] = frag.ExpiresAt.UTC().Format(time.RFC3339Nano)
	}

	pipe := d.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, fields)
	pipe.ZAdd(ctx, createdIndexKey, goredis.Z{
		Score:  float64(frag.CreatedAt.UnixNano()),
		Member: frag.ID,
	})
	pipe.IncrBy(ctx, bytesCounterKey, frag.Size()-oldSize)
	if frag.ExpiresAt != nil {
		pipe.ExpireAt(ctx, key, *frag.ExpiresAt)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("storing fragment %s: %w", frag.ID, err)
	}
	return nil
}

// Get retrieves a fragment. A dangling index entry (hash expired by Redis
// TTL) is removed on the way out.
func (d *Driver) Get(ctx context.Context, id string) (*fragment.Fragment, bool, error) {
	fields, err := d.client.HGetAll(ctx, fragmentKey(id)).Result()
	if err != nil {
		return nil, false, fmt.Errorf("getting fragment %s: %w", id, err)
	}
	if len(fields) == 0 {
		d.client.ZRem(ctx, createdIndexKey, id)
		return nil, false, nil
	}

	frag, err := fragmentFromFields(fields)
	if err != nil {
		return nil, false, fmt.Errorf("decoding fragment %s: %w", id, err)
	}
	return frag, true, nil
}

// Delete removes the fragment hash, its index entry and its byte share.
func (d *Driver) Delete(ctx context.Context, id string) error {
	key := fragmentKey(id)

	size, err := d.storedSize(ctx, key)
	if err != nil {
		return err
	}

	pipe := d.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.ZRem(ctx, createdIndexKey, id)
	if size > 0 {
		pipe.DecrBy(ctx, bytesCounterKey, size)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("deleting fragment %s: %w", id, err)
	}
	return nil
}

// List pages through the created-at index, oldest first.
func (d *Driver) List(ctx context.Context, limit, offset int) ([]*fragment.Fragment, error) {
	if offset < 0 {
		offset = 0
	}
	stop := int64(-1)
	if limit > 0 {
		stop = int64(offset + limit - 1)
	}

	ids, err := d.client.ZRange(ctx, createdIndexKey, int64(offset), stop).Result()
	if err != nil {
		return nil, fmt.Errorf("listing fragment index: %w", err)
	}

	out := make([]*fragment.Fragment, 0, len(ids))
	for _, id := range ids {
		frag, ok, err := d.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, frag)
		}
	}
	return out, nil
}

// Touch bumps access_count with an atomic hash increment and advances
// last_accessed_at.
func (d *Driver) Touch(ctx context.Context, id string, at time.Time) error {
	key := fragmentKey(id)

	exists, err := d.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("touching fragment %s: %w", id, err)
	}
	if exists == 0 {
		return backend.NotFoundError{ID: id}
	}

	pipe := d.client.TxPipeline()
	pipe.HIncrBy(ctx, key, "access_count", 1)
	pipe.HSet(ctx, key, "last_accessed_at", at.UTC().Format(time.RFC3339Nano))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("touching fragment %s: %w", id, err)
	}
	return nil
}

// Stats reports the index cardinality and the running byte counter. The
// counter can drift slightly when Redis expires a key before the eviction
// pass deletes it explicitly; the next store/delete of that ID reconciles.
func (d *Driver) Stats(ctx context.Context) (fragment.TierStats, error) {
	count, err := d.client.ZCard(ctx, createdIndexKey).Result()
	if err != nil {
		return fragment.TierStats{}, fmt.Errorf("reading fragment count: %w", err)
	}

	var size int64
	raw, err := d.client.Get(ctx, bytesCounterKey).Result()
	switch {
	case errors.Is(err, goredis.Nil):
		size = 0
	case err != nil:
		return fragment.TierStats{}, fmt.Errorf("reading byte counter: %w", err)
	default:
		size, _ = strconv.ParseInt(raw, 10, 64)
	}
	if size < 0 {
		size = 0
	}

	return fragment.TierStats{Fragments: count, SizeBytes: size}, nil
}

// Close closes the Redis client.
func (d *Driver) Close() error {
	return d.client.Close()
}

// storedSize returns the byte footprint of the fragment currently stored
// at key, 0 when absent.
func (d *Driver) storedSize(ctx context.Context, key string) (int64, error) {
	vals, err := d.client.HMGet(ctx, key, "content", "attributes").Result()
	if err != nil {
		return 0, fmt.Errorf("reading stored size: %w", err)
	}

	var size int64
	if s, ok := vals[0].(string); ok {
		size += int64(len(s))
	}
	if s, ok := vals[1].(string); ok && s != "" && s != "null" {
		var attrs map[string]string
		if json.Unmarshal([]byte(s), &attrs) == nil {
			for k, v := range attrs {
				size += int64(len(k) + len(v))
			}
		}
	}
	return size, nil
}

func fragmentFromFields(fields map[string]string) (*fragment.Fragment, error) {
	frag := &fragment.Fragment{
		ID:      fields["id"],
		OwnerID: fields["owner_id"],
		Content: fields["content"],
		Kind:    fragment.Kind(fields["kind"]),
		Tier:    fragment.ParseTier(fields["tier"]),
	}

	var err error
	if frag.Priority, err = strconv.ParseFloat(fields["priority"], 64); err != nil {
		return nil, fmt.Errorf("parsing priority: %w", err)
	}
	if frag.CreatedAt, err = time.Parse(time.RFC3339Nano, fields["created_at"]); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if frag.LastAccessedAt, err = time.Parse(time.RFC3339Nano, fields["last_accessed_at"]); err != nil {
		return nil, fmt.Errorf("parsing last_accessed_at: %w", err)
	}
	if raw := fields["access_count"]; raw != "" {
		if frag.AccessCount, err = strconv.ParseInt(raw, 10, 64); err != nil {
			return nil, fmt.Errorf("parsing access_count: %w", err)
		}
	}
	if raw := fields["expires_at"]; raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("parsing expires_at: %w", err)
		}
		frag.ExpiresAt = &t
	}
	if raw := fields["attributes"]; raw != "" && raw != "null" && raw != "{}" {
		if err := json.Unmarshal([]byte(raw), &frag.Attributes); err != nil {
			return nil, fmt.Errorf("unmarshaling attributes: %w", err)
		}
	}
	return frag, nil
}
