// Package storage defines the portfolio snapshot store contract and its
// shared errors. Snapshots are an append-only, timestamp-ordered log; there
// is a single writer by design (the risk monitor), so implementations only
// need ordinary durable-append semantics.
package storage

import (
	"context"
	"time"

	"solana-trade-exec/internal/domain"
)

// SnapshotStore provides access to portfolio snapshot storage.
type SnapshotStore interface {
	// Record appends a snapshot. The store never rejects a write for being
	// too close to the previous one; spacing policy belongs to the caller.
	Record(ctx context.Context, s domain.PortfolioSnapshot) error

	// Latest returns the most recent snapshot.
	// Returns ErrNoSnapshots when the store is empty.
	Latest(ctx context.Context) (domain.PortfolioSnapshot, error)

	// BaselineAtOrBefore returns the latest snapshot with timestamp <= t.
	// When no snapshot is that old, the earliest available snapshot is
	// returned instead: a documented degraded fallback for short history,
	// not a hidden default. Returns ErrNoSnapshots when the store is empty.
	BaselineAtOrBefore(ctx context.Context, t time.Time) (domain.PortfolioSnapshot, error)

	// PruneOlderThan removes snapshots with timestamp before horizon and
	// returns how many were removed.
	PruneOlderThan(ctx context.Context, horizon time.Time) (int, error)
}
