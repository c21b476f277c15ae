package domain

import "time"

// PortfolioSnapshot is one timestamped total-portfolio-value record.
// Snapshots are append-only: never mutated after creation, only pruned
// once they fall outside the retention window.
type PortfolioSnapshot struct {
	Timestamp time.Time
	TotalUSD  float64
}

// DefaultSnapshotRetention is how long snapshots are kept before lazy
// pruning on write removes them.
const DefaultSnapshotRetention = 24 * time.Hour
