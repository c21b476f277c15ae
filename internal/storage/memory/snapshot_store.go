// Package memory provides an in-memory SnapshotStore for tests and dry runs.
package memory

import (
	"context"
	"sync"
	"time"

	"solana-trade-exec/internal/domain"
	"solana-trade-exec/internal/storage"
)

// SnapshotStore is an in-memory implementation of storage.SnapshotStore.
// Snapshots are kept sorted by timestamp ascending.
type SnapshotStore struct {
	mu        sync.RWMutex
	snapshots []domain.PortfolioSnapshot
}

// NewSnapshotStore creates an empty in-memory snapshot store.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{}
}

// Compile-time interface check.
var _ storage.SnapshotStore = (*SnapshotStore)(nil)

// Record appends a snapshot, keeping timestamp order.
func (s *SnapshotStore) Record(_ context.Context, snap domain.PortfolioSnapshot) error {
	if snap.Timestamp.IsZero() {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Appends arrive in order from the single writer; the insertion scan
	// only matters for backfills in tests.
	i := len(s.snapshots)
	for i > 0 && s.snapshots[i-1].Timestamp.After(snap.Timestamp) {
		i--
	}
	s.snapshots = append(s.snapshots, domain.PortfolioSnapshot{})
	copy(s.snapshots[i+1:], s.snapshots[i:])
	s.snapshots[i] = snap
	return nil
}

// Latest returns the most recent snapshot.
func (s *SnapshotStore) Latest(_ context.Context) (domain.PortfolioSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.snapshots) == 0 {
		return domain.PortfolioSnapshot{}, storage.ErrNoSnapshots
	}
	return s.snapshots[len(s.snapshots)-1], nil
}

// BaselineAtOrBefore returns the latest snapshot at or before t, falling
// back to the earliest available when history does not reach that far.
func (s *SnapshotStore) BaselineAtOrBefore(_ context.Context, t time.Time) (domain.PortfolioSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.snapshots) == 0 {
		return domain.PortfolioSnapshot{}, storage.ErrNoSnapshots
	}
	for i := len(s.snapshots) - 1; i >= 0; i-- {
		if !s.snapshots[i].Timestamp.After(t) {
			return s.snapshots[i], nil
		}
	}
	return s.snapshots[0], nil
}

// PruneOlderThan removes snapshots older than horizon.
func (s *SnapshotStore) PruneOlderThan(_ context.Context, horizon time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cut := 0
	for cut < len(s.snapshots) && s.snapshots[cut].Timestamp.Before(horizon) {
		cut++
	}
	if cut == 0 {
		return 0, nil
	}
	s.snapshots = append([]domain.PortfolioSnapshot{}, s.snapshots[cut:]...)
	return cut, nil
}
