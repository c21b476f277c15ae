// Package convergence drives a held position toward a target USD value by
// submitting bounded-size market orders until the position is within
// tolerance. Every iteration re-reads quantity and price through the market
// facade; the engine never trusts a locally cached quantity, since venue
// settlement latency makes caching unsafe.
package convergence

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"os"
	"time"

	"solana-trade-exec/internal/domain"
	"solana-trade-exec/internal/market"
	"solana-trade-exec/internal/observability"
)

// ErrTokenBusy is returned when a convergence run is already in progress
// for the same token.
var ErrTokenBusy = errors.New("convergence already in progress for token")

// maxConsecutiveOutages is how many back-to-back unavailable price/balance
// reads terminate a run as Aborted rather than GaveUp, so callers can tell
// "converging slowly" from "venue is down".
const maxConsecutiveOutages = 3

// Engine executes convergence runs. Safe for concurrent use; runs for
// different tokens proceed in parallel, runs for the same token are refused.
type Engine struct {
	facade market.Facade
	locks  *lockRegistry
	logger *log.Logger
}

// Option configures Engine.
type Option func(*Engine)

// WithLogger sets the engine's logger.
func WithLogger(l *log.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New creates a convergence engine over the given facade.
func New(facade market.Facade, opts ...Option) *Engine {
	e := &Engine{
		facade: facade,
		locks:  newLockRegistry(),
		logger: log.New(os.Stdout, "[converge] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Converge drives the allocation's token toward its target USD value.
// The returned error is non-nil only for precondition failures (invalid
// allocation, token already converging); every started run produces exactly
// one terminal ConvergenceResult, and LastUSD always carries the last
// observed position value so partial progress is never lost.
func (e *Engine) Converge(ctx context.Context, alloc domain.TargetAllocation) (domain.ConvergenceResult, error) {
	if err := alloc.Validate(); err != nil {
		return domain.ConvergenceResult{}, fmt.Errorf("invalid allocation: %w", err)
	}

	release := e.locks.tryAcquire(alloc.Token)
	if release == nil {
		return domain.ConvergenceResult{}, fmt.Errorf("%w: %s", ErrTokenBusy, alloc.Token)
	}
	defer release()

	result := e.run(ctx, alloc)
	observability.RecordConvergenceRun(string(result.Outcome))
	e.logger.Printf("%s", result)
	return result, nil
}

// run executes the bounded iteration loop for one allocation.
func (e *Engine) run(ctx context.Context, alloc domain.TargetAllocation) domain.ConvergenceResult {
	maxIter := alloc.MaxIterations
	if maxIter <= 0 {
		maxIter = domain.DefaultMaxIterations
	}
	retryCount := alloc.RetryCount
	if retryCount <= 0 {
		retryCount = domain.DefaultRetryCount
	}
	backoff := alloc.RetryBackoff
	if backoff <= 0 {
		backoff = domain.DefaultRetryBackoff
	}
	settle := alloc.SettleDelay
	if settle <= 0 {
		settle = domain.DefaultSettleDelay
	}
	tolerance := alloc.ToleranceUSD()

	var lastUSD float64
	outages := 0

	for iter := 1; iter <= maxIter; iter++ {
		// Cancellation is honored between iterations, never mid-submission.
		// A partially-converged position is the operationally relevant fact,
		// so cancellation reports GaveUp with the last observed value.
		if err := ctx.Err(); err != nil {
			return e.gaveUp(alloc, lastUSD, iter-1, "cancelled")
		}

		price, qty, err := e.readPosition(ctx, alloc)
		if err != nil {
			outages++
			e.logger.Printf("%s read %d/%d failed: %v", short(alloc.Token), outages, maxConsecutiveOutages, err)
			if outages >= maxConsecutiveOutages {
				return domain.ConvergenceResult{
					Token:      alloc.Token,
					Outcome:    domain.OutcomeAborted,
					LastUSD:    lastUSD,
					TargetUSD:  alloc.TargetUSD,
					Iterations: iter,
					Err:        err,
				}
			}
			if !sleepCtx(ctx, backoff) {
				return e.gaveUp(alloc, lastUSD, iter, "cancelled")
			}
			continue
		}
		outages = 0
		currentUSD := qty * price
		lastUSD = currentUSD

		// Within tolerance is terminal. For a full exit the $0.10 floor is
		// the dust cutoff: residue below one minimum order increment counts
		// as closed rather than being chased forever.
		if math.Abs(currentUSD-alloc.TargetUSD) <= tolerance {
			return domain.ConvergenceResult{
				Token:      alloc.Token,
				Outcome:    domain.OutcomeConverged,
				LastUSD:    currentUSD,
				TargetUSD:  alloc.TargetUSD,
				Iterations: iter - 1,
			}
		}

		side := alloc.SideFor(currentUSD)
		chunk, err := domain.MakeChunk(alloc.Token, side, alloc.ChunkUSD(currentUSD), price)
		if err != nil {
			return e.gaveUp(alloc, lastUSD, iter, err.Error())
		}

		e.logger.Printf("%s iter %d/%d: $%.2f -> $%.2f, %s chunk $%.2f (%.6f tokens at $%.6f)",
			short(alloc.Token), iter, maxIter, currentUSD, alloc.TargetUSD, chunk.Side, chunk.USD, chunk.BaseQty, price)

		submitted, cancelled := e.submitWithRetry(ctx, alloc, chunk, retryCount, backoff)
		if cancelled {
			return e.gaveUp(alloc, lastUSD, iter, "cancelled")
		}
		if !submitted {
			// Iteration failed; the next one re-reads ground truth.
			continue
		}

		// Fire-and-forget: wait out venue finality, then re-read the
		// balance instead of polling the transaction.
		if !sleepCtx(ctx, settle) {
			return e.gaveUp(alloc, lastUSD, iter, "cancelled")
		}
	}

	return e.gaveUp(alloc, lastUSD, maxIter, "iteration budget exhausted")
}

// readPosition re-reads ground truth: the current price and held quantity.
// The price is also what the next chunk converts USD through, so it is read
// fresh every iteration, never cached across them.
func (e *Engine) readPosition(ctx context.Context, alloc domain.TargetAllocation) (price, qty float64, err error) {
	price, err = e.facade.CurrentPrice(ctx, alloc.Token)
	if err != nil {
		return 0, 0, err
	}
	qty, err = e.facade.HeldQuantity(ctx, alloc.Wallet, alloc.Token)
	if err != nil {
		return 0, 0, err
	}
	return price, qty, nil
}

// submitWithRetry submits one chunk, retrying venue failures with a fixed
// backoff. Returns submitted=false once retries are exhausted or the error
// is a hard rejection; cancelled=true if the context ended while backing off.
func (e *Engine) submitWithRetry(ctx context.Context, alloc domain.TargetAllocation, chunk domain.OrderChunk, retryCount int, backoff time.Duration) (submitted, cancelled bool) {
	for attempt := 0; ; attempt++ {
		receipt, err := e.facade.SubmitOrder(ctx, chunk.Token, chunk.Side, chunk.BaseQty, alloc.SlippageBps)
		if err == nil {
			observability.RecordOrderSubmitted(string(chunk.Side), chunk.USD)
			e.logger.Printf("%s submitted %s %.6f tokens: %s", short(chunk.Token), chunk.Side, chunk.BaseQty, receipt.TxSignature)
			return true, false
		}

		var venueErr *market.VenueError
		if errors.As(err, &venueErr) && !venueErr.Retryable {
			e.logger.Printf("%s order rejected, not retrying: %v", short(chunk.Token), err)
			return false, false
		}
		if attempt >= retryCount {
			e.logger.Printf("%s order failed after %d retries: %v", short(chunk.Token), retryCount, err)
			return false, false
		}

		e.logger.Printf("%s order failed (attempt %d/%d), retrying in %s: %v",
			short(chunk.Token), attempt+1, retryCount, backoff, err)
		if !sleepCtx(ctx, backoff) {
			return false, true
		}
	}
}

func (e *Engine) gaveUp(alloc domain.TargetAllocation, lastUSD float64, iterations int, reason string) domain.ConvergenceResult {
	return domain.ConvergenceResult{
		Token:      alloc.Token,
		Outcome:    domain.OutcomeGaveUp,
		LastUSD:    lastUSD,
		TargetUSD:  alloc.TargetUSD,
		Iterations: iterations,
		Reason:     reason,
	}
}

// sleepCtx sleeps for d unless the context ends first.
// Returns false when the context ended.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func short(mint string) string {
	if len(mint) > 8 {
		return mint[:8]
	}
	return mint
}
