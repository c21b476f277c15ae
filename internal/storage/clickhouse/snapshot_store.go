package clickhouse

import (
	"context"
	"fmt"
	"time"

	"solana-trade-exec/internal/domain"
	"solana-trade-exec/internal/storage"
)

// SnapshotStore implements storage.SnapshotStore using ClickHouse.
// Pruning is handled by the table's TTL; PruneOlderThan issues an explicit
// lightweight delete for callers that want a tighter horizon.
type SnapshotStore struct {
	conn *Conn
}

// NewSnapshotStore creates a new SnapshotStore.
func NewSnapshotStore(conn *Conn) *SnapshotStore {
	return &SnapshotStore{conn: conn}
}

// Compile-time interface check.
var _ storage.SnapshotStore = (*SnapshotStore)(nil)

// Record appends a snapshot.
func (s *SnapshotStore) Record(ctx context.Context, snap domain.PortfolioSnapshot) error {
	if snap.Timestamp.IsZero() {
		return storage.ErrInvalidInput
	}

	query := `INSERT INTO portfolio_snapshots (recorded_at, total_usd) VALUES (?, ?)`
	if err := s.conn.Exec(ctx, query, snap.Timestamp.UTC(), snap.TotalUSD); err != nil {
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
		WHERE recorded_at <= ?
		ORDER BY recorded_at DESC LIMIT 1
	`
	snap, err := s.queryOne(ctx, query, t.UTC())
	if err == storage.ErrNoSnapshots {
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
	// Count first; lightweight deletes do not report affected rows.
	var count uint64
	countQuery := `SELECT count() FROM portfolio_snapshots WHERE recorded_at < ?`
	if err := s.conn.QueryRow(ctx, countQuery, horizon.UTC()).Scan(&count); err != nil {
		return 0, fmt.Errorf("count prunable snapshots: %w", err)
	}
	if count == 0 {
		return 0, nil
	}

	if err := s.conn.Exec(ctx, `DELETE FROM portfolio_snapshots WHERE recorded_at < ?`, horizon.UTC()); err != nil {
		return 0, fmt.Errorf("prune snapshots: %w", err)
	}
	return int(count), nil
}

func (s *SnapshotStore) queryOne(ctx context.Context, query string, args ...interface{}) (domain.PortfolioSnapshot, error) {
	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return domain.PortfolioSnapshot{}, fmt.Errorf("query snapshot: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return domain.PortfolioSnapshot{}, storage.ErrNoSnapshots
	}

	var snap domain.PortfolioSnapshot
	if err := rows.Scan(&snap.Timestamp, &snap.TotalUSD); err != nil {
		return domain.PortfolioSnapshot{}, fmt.Errorf("scan snapshot: %w", err)
	}
	return snap, nil
}
