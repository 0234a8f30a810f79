package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/papercomputeco/strata/pkg/eventstream"
	"github.com/papercomputeco/strata/pkg/fragment"
	"github.com/papercomputeco/strata/pkg/multitier"
	"github.com/papercomputeco/strata/pkg/utils"
)

// Ingest accepts a new fragment: assigns identity and timestamps, clamps
// priority, picks the initial tier from priority and stores it with
// hottest-first fallback. It fails only when no tier accepted the fragment.
func (c *Coordinator) Ingest(ctx context.Context, frag *fragment.Fragment) error {
	if frag == nil {
		return errors.New("cannot ingest nil fragment")
	}
	if frag.Content == "" {
		return errors.New("cannot ingest fragment without content")
	}

	now := time.Now().UTC()
	if frag.ID == "" {
		frag.ID = uuid.NewString()
	}
	if frag.Kind == "" {
		frag.Kind = fragment.KindOther
	}
	frag.Priority = fragment.ClampPriority(frag.Priority)
	if frag.CreatedAt.IsZero() {
		frag.CreatedAt = now
	}
	if frag.LastAccessedAt.IsZero() {
		frag.LastAccessedAt = now
	}

	tier := multitier.InitialTier(frag)
	frag.ExpiresAt = c.policy.ExpiryFor(tier, now)

	if err := c.storage.Store(ctx, frag, tier); err != nil {
		c.stats.recordError(err)
		return fmt.Errorf("ingesting fragment %s: %w", frag.ID, err)
	}
	c.stats.recordIngest()

	c.publish(ctx, eventstream.NewIngested(frag))

	// Every ingest wakes the optimization loop; the buffered trigger
	// channel coalesces bursts into a single pass.
	c.triggerOptimization()

	c.logger.Debug("fragment ingested",
		zap.String("fragment_id", frag.ID),
		zap.String("tier", frag.Tier.String()),
		zap.Float64("priority", frag.Priority),
		zap.String("preview", utils.Truncate(frag.Content, 60)),
	)
	return nil
}

// Get fetches a fragment from whichever tier holds it, hottest first, and
// bumps its access bookkeeping. A failed bump never fails the read.
func (c *Coordinator) Get(ctx context.Context, id string) (*fragment.Fragment, bool, error) {
	frag, found, err := c.storage.Get(ctx, id)
	if err != nil {
		c.stats.recordError(err)
		return nil, false, err
	}
	if !found {
		return nil, false, nil
	}

	now := time.Now().UTC()
	frag.AccessCount++
	frag.LastAccessedAt = now
	if err := c.storage.Touch(ctx, frag); err != nil {
		c.logger.Warn("access bookkeeping failed",
			zap.String("fragment_id", id),
			zap.String("tier", frag.Tier.String()),
			zap.Error(err),
		)
	}

	return frag, true, nil
}

// Delete removes every copy of the fragment from every tier.
func (c *Coordinator) Delete(ctx context.Context, id string) error {
	if err := c.storage.Delete(ctx, id); err != nil {
		c.stats.recordError(err)
		return err
	}
	c.evictor.Unprotect(id)
	return nil
}

// publish sends a lifecycle event best-effort; event failures are logged
// and never surface to the caller.
func (c *Coordinator) publish(ctx context.Context, ev *eventstream.FragmentEvent) {
	if err := c.publisher.PublishFragment(ctx, ev); err != nil {
		c.logger.Warn("event publish failed",
			zap.String("event_type", ev.EventType),
			zap.String("fragment_id", ev.FragmentID),
			zap.Error(err),
		)
	}
}
