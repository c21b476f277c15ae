// Package liquidation drives every tracked position to zero.
// It fans convergence runs out over a bounded worker pool and reports
// per-token outcomes; one token failing never stops the others.
package liquidation

import (
	"context"
	"log"
	"sync"
	"time"

	"solana-trade-exec/internal/convergence"
	"solana-trade-exec/internal/domain"
	"solana-trade-exec/internal/observability"
)

const defaultWorkers = 4

// TokenResult is the outcome of liquidating a single token.
type TokenResult struct {
	Token  string
	Result domain.ConvergenceResult
	Err    error
}

// Report aggregates the results of a liquidation sweep.
type Report struct {
	Started  time.Time
	Finished time.Time
	Results  []TokenResult
}

// AllConverged reports whether every token reached its zero target.
func (r Report) AllConverged() bool {
	for _, tr := range r.Results {
		if tr.Err != nil || !tr.Result.Converged() {
			return false
		}
	}
	return true
}

// Failed returns the results that did not converge.
func (r Report) Failed() []TokenResult {
	var failed []TokenResult
	for _, tr := range r.Results {
		if tr.Err != nil || !tr.Result.Converged() {
			failed = append(failed, tr)
		}
	}
	return failed
}

// Coordinator runs liquidation sweeps against a convergence engine.
type Coordinator struct {
	engine     *convergence.Engine
	wallet     string
	maxOrder   float64
	exclusions map[string]struct{}
	workers    int
	backoff    time.Duration
	settle     time.Duration
	maxIter    int
	logger     *log.Logger
}

// Options configures a Coordinator.
type Options struct {
	Engine      *convergence.Engine
	Wallet      string
	MaxOrderUSD float64

	// Exclusions are mints never liquidated. Defaults to USDC and
	// wrapped SOL when nil.
	Exclusions []string

	// Workers bounds concurrent convergence runs. Defaults to 4.
	Workers int

	// Per-token convergence pacing. Zero values use the engine defaults.
	RetryBackoff  time.Duration
	SettleDelay   time.Duration
	MaxIterations int

	Logger *log.Logger
}

// New creates a Coordinator.
func New(opts Options) *Coordinator {
	exclusions := opts.Exclusions
	if exclusions == nil {
		exclusions = domain.DefaultExclusions()
	}
	set := make(map[string]struct{}, len(exclusions))
	for _, mint := range exclusions {
		set[mint] = struct{}{}
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Coordinator{
		engine:     opts.Engine,
		wallet:     opts.Wallet,
		maxOrder:   opts.MaxOrderUSD,
		exclusions: set,
		workers:    workers,
		backoff:    opts.RetryBackoff,
		settle:     opts.SettleDelay,
		maxIter:    opts.MaxIterations,
		logger:     logger,
	}
}

// LiquidateAll converges every non-excluded token toward zero and
// returns a per-token report. The report is complete even when some
// tokens fail.
func (c *Coordinator) LiquidateAll(ctx context.Context, tokens []string) Report {
	report := Report{Started: time.Now().UTC()}

	var targets []string
	for _, token := range tokens {
		if _, skip := c.exclusions[token]; skip {
			continue
		}
		targets = append(targets, token)
	}
	c.logger.Printf("[liquidation] sweeping %d tokens (%d excluded)",
		len(targets), len(tokens)-len(targets))

	results := make([]TokenResult, len(targets))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < c.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = c.liquidate(ctx, targets[i])
			}
		}()
	}
	for i := range targets {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	report.Results = results
	report.Finished = time.Now().UTC()

	for _, tr := range report.Results {
		status := "failed"
		if tr.Err == nil && tr.Result.Converged() {
			status = "converged"
		}
		observability.RecordLiquidationToken(status)
	}
	return report
}

func (c *Coordinator) liquidate(ctx context.Context, token string) TokenResult {
	alloc := domain.TargetAllocation{
		Token:         token,
		Wallet:        c.wallet,
		TargetUSD:     0,
		MaxOrderUSD:   c.maxOrder,
		RetryBackoff:  c.backoff,
		SettleDelay:   c.settle,
		MaxIterations: c.maxIter,
	}
	res, err := c.engine.Converge(ctx, alloc)
	if err != nil {
		c.logger.Printf("[liquidation] %s: %v", token, err)
		return TokenResult{Token: token, Err: err}
	}
	c.logger.Printf("[liquidation] %s: %s", token, res)
	return TokenResult{Token: token, Result: res}
}
