package multitier

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/papercomputeco/strata/pkg/backend"
	"github.com/papercomputeco/strata/pkg/fragment"
)

// MigrationRequest names one fragment move for BatchMigrate.
type MigrationRequest struct {
	ID   string
	From fragment.Tier
	To   fragment.Tier
}

// MigrationResult is the per-item outcome of a batch migration.
type MigrationResult struct {
	Request MigrationRequest
	Err     error
}

// Migrate moves a fragment between tiers: write to the target, confirm the
// write succeeded, then delete from the source. A failed source delete does
// not fail the migration; the fragment is duplicated until the next cleanup
// pass reconciles it, and the inconsistency is logged rather than hidden.
// Mutators run on the copy bound for the target tier, so policy engines can
// adjust priority or expiry in the same step as the move.
func (s *Storage) Migrate(ctx context.Context, id string, from, to fragment.Tier, mutators ...func(*fragment.Fragment)) error {
	if from == to {
		return fmt.Errorf("migrating fragment %s: source and target tier are both %s", id, from)
	}

	source, err := s.Backend(from)
	if err != nil {
		return err
	}
	target, err := s.Backend(to)
	if err != nil {
		return err
	}

	frag, found, err := source.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("reading fragment %s from %s: %w", id, from, err)
	}
	if !found {
		return backend.NotFoundError{ID: id}
	}

	moved := frag.Clone()
	moved.Tier = to
	for _, mutate := range mutators {
		mutate(moved)
	}
	moved.Priority = fragment.ClampPriority(moved.Priority)
	if err := target.Store(ctx, moved); err != nil {
		return fmt.Errorf("writing fragment %s to %s: %w", id, to, err)
	}

	if err := source.Delete(ctx, id); err != nil {
		s.logger.Warn("source delete failed after confirmed migration, fragment duplicated until cleanup",
			zap.String("fragment_id", id),
			zap.String("from", from.String()),
			zap.String("to", to.String()),
			zap.Error(err),
		)
		return nil
	}

	s.logger.Debug("migrated fragment",
		zap.String("fragment_id", id),
		zap.String("from", from.String()),
		zap.String("to", to.String()),
	)
	return nil
}

// BatchMigrate applies each request independently and reports a per-item
// outcome. One failure never aborts the rest of the batch.
func (s *Storage) BatchMigrate(ctx context.Context, reqs []MigrationRequest) []MigrationResult {
	results := make([]MigrationResult, 0, len(reqs))
	for _, req := range reqs {
		results = append(results, MigrationResult{
			Request: req,
			Err:     s.Migrate(ctx, req.ID, req.From, req.To),
		})
	}
	return results
}
