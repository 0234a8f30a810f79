// Package sqlstore implements backend.Driver on top of database/sql. The
// sqlite and postgres packages wrap it with engine-specific connection
// setup, the same way both relational tiers in the original system share
// one row layout.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/papercomputeco/strata/pkg/backend"
	"github.com/papercomputeco/strata/pkg/fragment"
)

// Dialect selects the SQL flavor for placeholders and the few expressions
// that differ between engines.
type Dialect int

const (
	// DialectSQLite targets mattn/go-sqlite3.
	DialectSQLite Dialect = iota

	// DialectPostgres targets pgx through database/sql.
	DialectPostgres
)

// Schema statements run one at a time: pgx's extended protocol rejects
// multi-statement strings.
var schema = []string{`
CREATE TABLE IF NOT EXISTS fragments (
	id               TEXT PRIMARY KEY,
	owner_id         TEXT NOT NULL DEFAULT '',
	content          TEXT NOT NULL DEFAULT '',
	kind             TEXT NOT NULL DEFAULT 'other',
	priority         DOUBLE PRECISION NOT NULL DEFAULT 0.5,
	created_at       TIMESTAMP NOT NULL,
	last_accessed_at TIMESTAMP NOT NULL,
	access_count     BIGINT NOT NULL DEFAULT 0,
	tier             TEXT NOT NULL DEFAULT '',
	expires_at       TIMESTAMP,
	attributes       TEXT NOT NULL DEFAULT '{}'
)`,
	`CREATE INDEX IF NOT EXISTS idx_fragments_created_at ON fragments (created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_fragments_priority ON fragments (priority)`,
}

// DB implements backend.Driver over a *sql.DB handle.
type DB struct {
	db      *sql.DB
	dialect Dialect
}

// New wraps db and runs the idempotent schema migration.
func New(ctx context.Context, db *sql.DB, dialect Dialect) (*DB, error) {
	s := &DB{db: db, dialect: dialect}
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("creating fragments schema: %w", err)
		}
	}
	return s, nil
}

// rebind rewrites ? placeholders to $1..$n for postgres.
func (s *DB) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Store upserts a fragment row.
func (s *DB) Store(ctx context.Context, frag *fragment.Fragment) error {
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

	var expires *time.Time
	if frag.ExpiresAt != nil {
		t := frag.ExpiresAt.UTC()
		expires = &t
	}

	query := s.rebind(`
INSERT INTO fragments
	(id, owner_id, content, kind, priority, created_at, last_accessed_at, access_count, tier, expires_at, attributes)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
	owner_id = excluded.owner_id,
	content = excluded.content,
	kind = excluded.kind,
	priority = excluded.priority,
	created_at = excluded.created_at,
	last_accessed_at = excluded.last_accessed_at,
	access_count = excluded.access_count,
	tier = excluded.tier,
	expires_at = excluded.expires_at,
	attributes = excluded.attributes`)

	_, err = s.db.ExecContext(ctx, query,
		frag.ID, frag.OwnerID, frag.Content, string(frag.Kind),
		fragment.ClampPriority(frag.Priority),
		frag.CreatedAt.UTC(), frag.LastAccessedAt.UTC(), frag.AccessCount,
		frag.Tier.String(), expires, string(attrs),
	)
	if err != nil {
		return fmt.Errorf("storing fragment %s: %w", frag.ID, err)
	}
	return nil
}

const selectColumns = `id, owner_id, content, kind, priority, created_at, last_accessed_at, access_count, tier, expires_at, attributes`

// Get retrieves a fragment by ID.
func (s *DB) Get(ctx context.Context, id string) (*fragment.Fragment, bool, error) {
	query := s.rebind(`SELECT ` + selectColumns + ` FROM fragments WHERE id = ?`)

	frag, err := scanFragment(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("getting fragment %s: %w", id, err)
	}
	return frag, true, nil
}

// Delete removes a fragment row. Absent IDs are a no-op.
func (s *DB) Delete(ctx context.Context, id string) error {
	query := s.rebind(`DELETE FROM fragments WHERE id = ?`)
	if _, err := s.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("deleting fragment %s: %w", id, err)
	}
	return nil
}

// List returns fragments ordered by creation time then ID.
func (s *DB) List(ctx context.Context, limit, offset int) ([]*fragment.Fragment, error) {
	if limit <= 0 {
		limit = 1 << 30
	}
	if offset < 0 {
		offset = 0
	}

	query := s.rebind(`SELECT ` + selectColumns + ` FROM fragments ORDER BY created_at, id LIMIT ? OFFSET ?`)

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing fragments: %w", err)
	}
	defer rows.Close()

	var out []*fragment.Fragment
	for rows.Next() {
		frag, err := scanFragment(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning fragment row: %w", err)
		}
		out = append(out, frag)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating fragment rows: %w", err)
	}
	return out, nil
}

// Touch increments the access counter and advances the last-access time in
// a single statement, so concurrent touches serialize inside the engine.
func (s *DB) Touch(ctx context.Context, id string, at time.Time) error {
	greatest := "MAX(last_accessed_at, ?)"
	if s.dialect == DialectPostgres {
		greatest = "GREATEST(last_accessed_at, ?)"
	}

	query := s.rebind(`UPDATE fragments SET access_count = access_count + 1, last_accessed_at = ` + greatest + ` WHERE id = ?`)

	res, err := s.db.ExecContext(ctx, query, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("touching fragment %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("touching fragment %s: %w", id, err)
	}
	if n == 0 {
		return backend.NotFoundError{ID: id}
	}
	return nil
}

// Stats reports row count and approximate payload bytes.
func (s *DB) Stats(ctx context.Context) (fragment.TierStats, error) {
	var stats fragment.TierStats
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(LENGTH(content) + LENGTH(attributes)), 0) FROM fragments`,
	).Scan(&stats.Fragments, &stats.SizeBytes)
	if err != nil {
		return fragment.TierStats{}, fmt.Errorf("reading fragment stats: %w", err)
	}
	return stats, nil
}

// Close closes the underlying database handle.
func (s *DB) Close() error {
	return s.db.Close()
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanFragment(row scanner) (*fragment.Fragment, error) {
	var (
		frag    fragment.Fragment
		kind    string
		tier    string
		expires sql.NullTime
		attrs   string
	)
	err := row.Scan(
		&frag.ID, &frag.OwnerID, &frag.Content, &kind, &frag.Priority,
		&frag.CreatedAt, &frag.LastAccessedAt, &frag.AccessCount,
		&tier, &expires, &attrs,
	)
	if err != nil {
		return nil, err
	}

	frag.Kind = fragment.Kind(kind)
	frag.Tier = fragment.ParseTier(tier)
	if expires.Valid {
		t := expires.Time
		frag.ExpiresAt = &t
	}
	if attrs != "" && attrs != "{}" && attrs != "null" {
		if err := json.Unmarshal([]byte(attrs), &frag.Attributes); err != nil {
			return nil, fmt.Errorf("unmarshaling attributes for %s: %w", frag.ID, err)
		}
	}
	return &frag, nil
}
