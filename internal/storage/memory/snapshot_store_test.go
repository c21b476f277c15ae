package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"solana-trade-exec/internal/domain"
	"solana-trade-exec/internal/storage"
)

func TestSnapshotStore_RecordAndLatest(t *testing.T) {
	store := NewSnapshotStore()
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		snap := domain.PortfolioSnapshot{
			Timestamp: base.Add(time.Duration(i) * time.Hour),
			TotalUSD:  1000 + float64(i)*10,
		}
		if err := store.Record(ctx, snap); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	latest, err := store.Latest(ctx)
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	if latest.TotalUSD != 1020 {
		t.Errorf("Latest TotalUSD = %.2f, want 1020", latest.TotalUSD)
	}
}

func TestSnapshotStore_RecordRejectsZeroTimestamp(t *testing.T) {
	store := NewSnapshotStore()
	err := store.Record(context.Background(), domain.PortfolioSnapshot{TotalUSD: 100})
	if !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Record(zero timestamp) = %v, want ErrInvalidInput", err)
	}
}

func TestSnapshotStore_EmptyStore(t *testing.T) {
	store := NewSnapshotStore()
	ctx := context.Background()

	if _, err := store.Latest(ctx); !errors.Is(err, storage.ErrNoSnapshots) {
		t.Errorf("Latest on empty store = %v, want ErrNoSnapshots", err)
	}
	if _, err := store.BaselineAtOrBefore(ctx, time.Now()); !errors.Is(err, storage.ErrNoSnapshots) {
		t.Errorf("BaselineAtOrBefore on empty store = %v, want ErrNoSnapshots", err)
	}
}

func TestSnapshotStore_BaselineAtOrBefore(t *testing.T) {
	store := NewSnapshotStore()
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		store.Record(ctx, domain.PortfolioSnapshot{
			Timestamp: base.Add(time.Duration(i) * time.Hour),
			TotalUSD:  float64(i),
		})
	}

	// Between snapshots: the latest at-or-before wins.
	got, err := store.BaselineAtOrBefore(ctx, base.Add(90*time.Minute))
	if err != nil {
		t.Fatalf("BaselineAtOrBefore failed: %v", err)
	}
	if got.TotalUSD != 1 {
		t.Errorf("baseline TotalUSD = %.0f, want 1", got.TotalUSD)
	}

	// Exact timestamp match counts as at-or-before.
	got, _ = store.BaselineAtOrBefore(ctx, base.Add(2*time.Hour))
	if got.TotalUSD != 2 {
		t.Errorf("baseline TotalUSD = %.0f, want 2", got.TotalUSD)
	}
}

func TestSnapshotStore_BaselineFallsBackToEarliest(t *testing.T) {
	store := NewSnapshotStore()
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	store.Record(ctx, domain.PortfolioSnapshot{Timestamp: base, TotalUSD: 500})
	store.Record(ctx, domain.PortfolioSnapshot{Timestamp: base.Add(time.Hour), TotalUSD: 600})

	// History does not reach 12h back; earliest available is the baseline.
	got, err := store.BaselineAtOrBefore(ctx, base.Add(-12*time.Hour))
	if err != nil {
		t.Fatalf("BaselineAtOrBefore failed: %v", err)
	}
	if got.TotalUSD != 500 {
		t.Errorf("fallback baseline TotalUSD = %.0f, want earliest (500)", got.TotalUSD)
	}
}

func TestSnapshotStore_OutOfOrderBackfill(t *testing.T) {
	store := NewSnapshotStore()
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	store.Record(ctx, domain.PortfolioSnapshot{Timestamp: base.Add(2 * time.Hour), TotalUSD: 2})
	store.Record(ctx, domain.PortfolioSnapshot{Timestamp: base, TotalUSD: 0})
	store.Record(ctx, domain.PortfolioSnapshot{Timestamp: base.Add(time.Hour), TotalUSD: 1})

	latest, _ := store.Latest(ctx)
	if latest.TotalUSD != 2 {
		t.Errorf("Latest TotalUSD = %.0f, want 2 after backfill", latest.TotalUSD)
	}
	baseline, _ := store.BaselineAtOrBefore(ctx, base.Add(time.Hour))
	if baseline.TotalUSD != 1 {
		t.Errorf("baseline TotalUSD = %.0f, want 1 after backfill", baseline.TotalUSD)
	}
}

func TestSnapshotStore_PruneOlderThan(t *testing.T) {
	store := NewSnapshotStore()
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		store.Record(ctx, domain.PortfolioSnapshot{
			Timestamp: base.Add(time.Duration(i) * time.Hour),
			TotalUSD:  float64(i),
		})
	}

	pruned, err := store.PruneOlderThan(ctx, base.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("PruneOlderThan failed: %v", err)
	}
	if pruned != 2 {
		t.Errorf("pruned %d snapshots, want 2", pruned)
	}

	// The snapshot exactly at the horizon survives.
	baseline, err := store.BaselineAtOrBefore(ctx, base.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("BaselineAtOrBefore after prune failed: %v", err)
	}
	if baseline.TotalUSD != 2 {
		t.Errorf("baseline after prune = %.0f, want 2", baseline.TotalUSD)
	}

	// Pruning again is a no-op.
	pruned, _ = store.PruneOlderThan(ctx, base.Add(2*time.Hour))
	if pruned != 0 {
		t.Errorf("second prune removed %d, want 0", pruned)
	}
}
