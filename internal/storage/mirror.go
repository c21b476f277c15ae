package storage

import (
	"context"
	"log"
	"time"

	"solana-trade-exec/internal/domain"
)

// MirroredStore writes every snapshot to a primary store and a mirror,
// and serves all reads from the primary. The mirror is an analytics
// copy: a mirror write failure is logged and ignored, it never blocks
// the risk path.
type MirroredStore struct {
	primary SnapshotStore
	mirror  SnapshotStore
	logger  *log.Logger
}

// NewMirroredStore wraps primary with a best-effort mirror.
func NewMirroredStore(primary, mirror SnapshotStore, logger *log.Logger) *MirroredStore {
	if logger == nil {
		logger = log.Default()
	}
	return &MirroredStore{primary: primary, mirror: mirror, logger: logger}
}

func (m *MirroredStore) Record(ctx context.Context, s domain.PortfolioSnapshot) error {
	if err := m.primary.Record(ctx, s); err != nil {
		return err
	}
	if err := m.mirror.Record(ctx, s); err != nil {
		m.logger.Printf("[storage] mirror record: %v", err)
	}
	return nil
}

func (m *MirroredStore) Latest(ctx context.Context) (domain.PortfolioSnapshot, error) {
	return m.primary.Latest(ctx)
}

func (m *MirroredStore) BaselineAtOrBefore(ctx context.Context, t time.Time) (domain.PortfolioSnapshot, error) {
	return m.primary.BaselineAtOrBefore(ctx, t)
}

// PruneOlderThan prunes only the primary. The mirror keeps the longer
// analytics history and ages out on its own retention.
func (m *MirroredStore) PruneOlderThan(ctx context.Context, horizon time.Time) (int, error) {
	return m.primary.PruneOlderThan(ctx, horizon)
}
