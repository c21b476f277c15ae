package domain

import (
	"fmt"
	"math"
	"time"
)

// Default allocation parameters. Tolerance is 3% of target with an absolute
// floor of $0.10, which doubles as the dust floor for full exits: a residual
// below one minimum order increment counts as closed.
const (
	DefaultTolerancePct    = 0.03
	DefaultToleranceMinUSD = 0.10
	DefaultMaxIterations   = 20
	DefaultRetryCount      = 3
	DefaultRetryBackoff    = 30 * time.Second
	DefaultSettleDelay     = 15 * time.Second
	DefaultSlippageBps     = 199
)

// TargetAllocation describes one convergence run: drive the held position in
// Token toward TargetUSD in chunks of at most MaxOrderUSD. Immutable for the
// duration of the run. TargetUSD of zero means fully exit.
type TargetAllocation struct {
	Token       string  // token mint address (base58)
	Wallet      string  // wallet whose holdings are driven
	TargetUSD   float64 // >= 0; 0 = full exit
	MaxOrderUSD float64 // > 0; hard cap on a single chunk
	SlippageBps int     // venue slippage tolerance, basis points
	RetryCount  int     // per-chunk submission retries

	// Loop pacing. Zero values fall back to the package defaults.
	MaxIterations int
	RetryBackoff  time.Duration
	SettleDelay   time.Duration
}

// Validate checks the allocation invariants.
func (a TargetAllocation) Validate() error {
	if err := ValidateMint(a.Token); err != nil {
		return fmt.Errorf("token: %w", err)
	}
	if a.TargetUSD < 0 {
		return fmt.Errorf("target usd must be >= 0, got %.2f", a.TargetUSD)
	}
	if a.MaxOrderUSD <= 0 {
		return fmt.Errorf("max order usd must be > 0, got %.2f", a.MaxOrderUSD)
	}
	return nil
}

// ToleranceUSD returns the convergence tolerance band for this target:
// 3% of target, never below the $0.10 absolute floor.
func (a TargetAllocation) ToleranceUSD() float64 {
	return math.Max(DefaultTolerancePct*a.TargetUSD, DefaultToleranceMinUSD)
}

// ChunkUSD returns the next chunk size for a position currently worth
// currentUSD: the remaining gap capped at MaxOrderUSD.
func (a TargetAllocation) ChunkUSD(currentUSD float64) float64 {
	return math.Min(a.MaxOrderUSD, math.Abs(a.TargetUSD-currentUSD))
}

// SideFor returns the order side for a position currently worth currentUSD.
func (a TargetAllocation) SideFor(currentUSD float64) OrderSide {
	if currentUSD < a.TargetUSD {
		return SideBuy
	}
	return SideSell
}

// OrderChunk is one bounded-size instruction derived from the gap between
// current and target value. BaseQty is computed from the latest observed
// price at submission time, never from a cached price.
type OrderChunk struct {
	Token   string
	Side    OrderSide
	USD     float64
	BaseQty float64
}

// MakeChunk converts a USD chunk into base quantity at the given price.
func MakeChunk(token string, side OrderSide, usd, price float64) (OrderChunk, error) {
	if price <= 0 {
		return OrderChunk{}, fmt.Errorf("non-positive price %.10f for %s", price, token)
	}
	return OrderChunk{
		Token:   token,
		Side:    side,
		USD:     usd,
		BaseQty: usd / price,
	}, nil
}
