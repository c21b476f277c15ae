package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"solana-trade-exec/internal/domain"
	"solana-trade-exec/internal/storage"
)

// SnapshotStore implements storage.SnapshotStore using PostgreSQL.
type SnapshotStore struct {
	pool *Pool
}

// NewSnapshotStore creates a new SnapshotStore.
func NewSnapshotStore(pool *Pool) *SnapshotStore {
	return &SnapshotStore{pool: pool}
}

// Compile-time interface check.
var _ storage.SnapshotStore = (*SnapshotStore)(nil)

// Record appends a snapshot.
func (s *SnapshotStore) Record(ctx context.Context, snap domain.PortfolioSnapshot) error {
	if snap.Timestamp.IsZero() {
		return storage.ErrInvalidInput
	}

	query := `INSERT INTO portfolio_snapshots (recorded_at, total_usd) VALUES ($1, $2)`
	if _, err := s.pool.Exec(ctx, query, snap.Timestamp.UTC(), snap.TotalUSD); err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// Latest returns the most recent snapshot.
func (s *SnapshotStore) Latest(ctx context.Context) (domain.PortfolioSnapshot, error) {
	query := `
		SELECT recorded_at, total_usd FROM portfolio_snapshots
		ORDER BY recorded_at DESC LIMIT 1
	`
	return s.queryOne(ctx, query)
}

// BaselineAtOrBefore returns the latest snapshot at or before t, falling
// back to the earliest available when history does not reach that far.
func (s *SnapshotStore) BaselineAtOrBefore(ctx context.Context, t time.Time) (domain.PortfolioSnapshot, error) {
	query := `
		SELECT recorded_at, total_usd FROM portfolio_snapshots
		WHERE recorded_at <= $1
		ORDER BY recorded_at DESC LIMIT 1
	`
	snap, err := s.queryOne(ctx, query, t.UTC())
	if errors.Is(err, storage.ErrNoSnapshots) {
		// Short history: earliest available stands in for the baseline.
		earliest := `
			SELECT recorded_at, total_usd FROM portfolio_snapshots
			ORDER BY recorded_at ASC LIMIT 1
		`
		return s.queryOne(ctx, earliest)
	}
	return snap, err
}

// PruneOlderThan removes snapshots older than horizon.
func (s *SnapshotStore) PruneOlderThan(ctx context.Context, horizon time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM portfolio_snapshots WHERE recorded_at < $1`, horizon.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune snapshots: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *SnapshotStore) queryOne(ctx context.Context, query string, args ...interface{}) (domain.PortfolioSnapshot, error) {
	var snap domain.PortfolioSnapshot
	err := s.pool.QueryRow(ctx, query, args...).Scan(&snap.Timestamp, &snap.TotalUSD)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.PortfolioSnapshot{}, storage.ErrNoSnapshots
		}
		return domain.PortfolioSnapshot{}, fmt.Errorf("query snapshot: %w", err)
	}
	return snap, nil
}
