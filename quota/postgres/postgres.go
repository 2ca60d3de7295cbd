// Package postgres provides a PostgreSQL-backed SnapshotStore for keyrotor.
//
// Counters are stored one row per (pool, day, fingerprint) and upserted with
// GREATEST, so concurrent savers only ever raise a count.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ineyio/keyrotor"
)

// Store is a PostgreSQL-backed SnapshotStore.
type Store struct {
	pool        *pgxpool.Pool
	tablePrefix string
}

var (
	_ keyrotor.SnapshotStore  = (*Store)(nil)
	_ keyrotor.SnapshotPruner = (*Store)(nil)
)

// Option configures Store.
type Option func(*Store)

// WithTablePrefix sets the table name prefix (default "keyrotor_").
func WithTablePrefix(prefix string) Option {
	return func(s *Store) { s.tablePrefix = prefix }
}

// New creates a new PostgreSQL-backed SnapshotStore.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{
		pool:        pool,
		tablePrefix: "keyrotor_",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) usageTable() string { return s.tablePrefix + "key_usage" }

// EnsureSchema creates the required table if it doesn't exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	q := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			pool TEXT NOT NULL,
			day TEXT NOT NULL,
			fingerprint TEXT NOT NULL,
			used INTEGER NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (pool, day, fingerprint)
		);
	`, s.usageTable())
	_, err := s.pool.Exec(ctx, q)
	if err != nil {
		return fmt.Errorf("keyrotor/postgres: ensure schema: %w", err)
	}
	return nil
}

// Load returns the snapshot for pool on day.
func (s *Store) Load(ctx context.Context, pool, day string) (keyrotor.Snapshot, error) {
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT fingerprint, used FROM %s WHERE pool = $1 AND day = $2`, s.usageTable()),
		pool, day,
	)
	if err != nil {
		return keyrotor.Snapshot{}, fmt.Errorf("keyrotor/postgres: load: %w", err)
	}
	defer rows.Close()

	usage := make(map[string]int)
	for rows.Next() {
		var (
			fp   string
			used int
		)
		if err := rows.Scan(&fp, &used); err != nil {
			return keyrotor.Snapshot{}, fmt.Errorf("keyrotor/postgres: load: scan: %w", err)
		}
		usage[fp] = used
	}
	if err := rows.Err(); err != nil {
		return keyrotor.Snapshot{}, fmt.Errorf("keyrotor/postgres: load: %w", err)
	}

	return keyrotor.Snapshot{Pool: pool, Day: day, Usage: usage}, nil
}

// Save upserts every counter of snap in one transaction.
func (s *Store) Save(ctx context.Context, snap keyrotor.Snapshot) error {
	if len(snap.Usage) == 0 {
		return nil
	}

	q := fmt.Sprintf(`
		INSERT INTO %s (pool, day, fingerprint, used, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (pool, day, fingerprint)
		DO UPDATE SET used = GREATEST(%s.used, EXCLUDED.used), updated_at = now()
	`, s.usageTable(), s.usageTable())

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for fp, n := range snap.Usage {
			batch.Queue(q, snap.Pool, snap.Day, fp, n)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return fmt.Errorf("keyrotor/postgres: save: %w", err)
	}
	return nil
}

// Prune deletes rows for days other than keepDay.
func (s *Store) Prune(ctx context.Context, keepDay string) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE day <> $1`, s.usageTable()),
		keepDay,
	)
	if err != nil {
		return 0, fmt.Errorf("keyrotor/postgres: prune: %w", err)
	}
	return tag.RowsAffected(), nil
}
