package leafstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// advisoryLockKey is a stable PostgreSQL advisory lock key used to serialise
// concurrent Append calls. The value is arbitrary but must be consistent
// across all stampd instances sharing a database.
const advisoryLockKey = int64(2_024_061_117)

// PostgresStore persists the leaf journal to a PostgreSQL database.
// It implements the Store interface.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresStore creates a PostgresStore backed by the given connection pool.
func NewPostgresStore(pool *pgxpool.Pool, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{pool: pool, logger: logger}
}

// Append implements Store.
// It takes a transaction-scoped advisory lock, checks that leaf.Index is the
// next free index and inserts the row, all in one transaction.
func (s *PostgresStore) Append(ctx context.Context, leaf Leaf) error {
	if err := leaf.check(); err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", advisoryLockKey); err != nil {
		return fmt.Errorf("acquire advisory lock: %w", err)
	}

	var next int64
	if err := tx.QueryRow(ctx,
		"SELECT COALESCE(MAX(idx) + 1, 0) FROM stamp_leaves",
	).Scan(&next); err != nil {
		return fmt.Errorf("read journal tail: %w", err)
	}
	if uint64(next) != leaf.Index {
		return fmt.Errorf("%w: got %d, next is %d", ErrOutOfOrder, leaf.Index, next)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO stamp_leaves (idx, checksum, leaf_hash, stamped_at)
		 VALUES ($1, $2, $3, $4)`,
		int64(leaf.Index), leaf.Checksum, leaf.LeafHash, leaf.StampedAt,
	); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%w: %s", ErrDuplicate, leaf.Checksum)
		}
		return fmt.Errorf("insert leaf: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit journal tx: %w", err)
	}

	s.logger.Debug("leaf journaled",
		zap.Uint64("idx", leaf.Index),
		zap.String("checksum", leaf.Checksum),
	)
	return nil
}

// Leaves implements Store.
func (s *PostgresStore) Leaves(ctx context.Context) ([]Leaf, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT idx, checksum, leaf_hash, stamped_at
		 FROM stamp_leaves ORDER BY idx ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	var leaves []Leaf
	for rows.Next() {
		var (
			idx  int64
			leaf Leaf
		)
		if err := rows.Scan(&idx, &leaf.Checksum, &leaf.LeafHash, &leaf.StampedAt); err != nil {
			return nil, fmt.Errorf("scan journal row: %w", err)
		}
		leaf.Index = uint64(idx)
		leaves = append(leaves, leaf)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate journal: %w", err)
	}
	return leaves, nil
}

// Len implements Store.
func (s *PostgresStore) Len(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM stamp_leaves").Scan(&n); err != nil {
		return 0, fmt.Errorf("count journal rows: %w", err)
	}
	return n, nil
}

// Verify implements Store. It loads the whole journal; O(n) in journal length.
func (s *PostgresStore) Verify(ctx context.Context) error {
	leaves, err := s.Leaves(ctx)
	if err != nil {
		return err
	}
	return verifyChain(leaves)
}
