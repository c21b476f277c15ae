// Package monitor runs the periodic risk limit check: value the
// portfolio, compare against a lookback baseline, and liquidate when a
// configured limit is breached and the advisor does not override.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"solana-trade-exec/internal/advisory"
	"solana-trade-exec/internal/domain"
	"solana-trade-exec/internal/liquidation"
	"solana-trade-exec/internal/observability"
	"solana-trade-exec/internal/portfolio"
	"solana-trade-exec/internal/storage"
)

// State is the monitor's position in its two-state machine.
type State string

const (
	StateNormal        State = "NORMAL"
	StateLimitBreached State = "LIMIT_BREACHED"
)

// DefaultAdvisoryTimeout bounds a single advisory call. The advisor is
// the only unbounded-latency dependency in the tick path.
const DefaultAdvisoryTimeout = 30 * time.Second

// RiskTickReport describes what one tick observed and did.
type RiskTickReport struct {
	Timestamp   time.Time
	Skipped     bool
	SkipReason  string
	CurrentUSD  float64
	BaselineUSD float64
	State       State
	Breached    bool
	LimitType   domain.LimitType
	Decision    *domain.OverrideDecision
	Liquidation *liquidation.Report
}

// Monitor evaluates risk limits on a fixed interval.
type Monitor struct {
	valuer     *portfolio.Valuer
	snapshots  storage.SnapshotStore
	advisor    advisory.Advisor
	liquidator *liquidation.Coordinator
	cfg        domain.RiskLimitConfig
	interval   time.Duration
	minSpacing time.Duration
	retention  time.Duration
	advTimeout time.Duration
	logger     *log.Logger
	now        func() time.Time

	state State
}

// Options configures a Monitor.
type Options struct {
	Valuer     *portfolio.Valuer
	Snapshots  storage.SnapshotStore
	Liquidator *liquidation.Coordinator
	Config     domain.RiskLimitConfig

	// Advisor may be nil; a breach then always takes the liquidation
	// path.
	Advisor advisory.Advisor

	// Interval between ticks. Defaults to 5 minutes.
	Interval time.Duration

	// MinSnapshotSpacing skips the snapshot write when the latest
	// stored snapshot is younger than this. Zero records every tick.
	MinSnapshotSpacing time.Duration

	// SnapshotRetention is the prune horizon. Defaults to 24h.
	SnapshotRetention time.Duration

	// AdvisoryTimeout bounds each advisory call. Defaults to 30s.
	AdvisoryTimeout time.Duration

	Logger *log.Logger
}

// New creates a Monitor in the Normal state.
func New(opts Options) (*Monitor, error) {
	if opts.Valuer == nil {
		return nil, errors.New("monitor: valuer is required")
	}
	if opts.Snapshots == nil {
		return nil, errors.New("monitor: snapshot store is required")
	}
	if opts.Liquidator == nil {
		return nil, errors.New("monitor: liquidator is required")
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, fmt.Errorf("monitor: %w", err)
	}

	m := &Monitor{
		valuer:     opts.Valuer,
		snapshots:  opts.Snapshots,
		advisor:    opts.Advisor,
		liquidator: opts.Liquidator,
		cfg:        opts.Config,
		interval:   opts.Interval,
		minSpacing: opts.MinSnapshotSpacing,
		retention:  opts.SnapshotRetention,
		advTimeout: opts.AdvisoryTimeout,
		logger:     opts.Logger,
		now:        time.Now,
		state:      StateNormal,
	}
	if m.interval <= 0 {
		m.interval = domain.DefaultTickInterval
	}
	if m.retention <= 0 {
		m.retention = domain.DefaultSnapshotRetention
	}
	if m.advTimeout <= 0 {
		m.advTimeout = DefaultAdvisoryTimeout
	}
	if m.logger == nil {
		m.logger = log.Default()
	}
	return m, nil
}

// State returns the monitor's current state.
func (m *Monitor) State() State {
	return m.state
}

// Run ticks until the context is cancelled. Ticks never overlap: a
// slow tick delays the next one.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Printf("[monitor] started, interval %s, lookback %.1fh",
		m.interval, m.cfg.LookbackHours)
	for {
		select {
		case <-ctx.Done():
			m.logger.Printf("[monitor] stopped: %v", ctx.Err())
			return ctx.Err()
		case <-ticker.C:
			report := m.Tick(ctx)
			if report.Skipped {
				m.logger.Printf("[monitor] tick skipped: %s", report.SkipReason)
			}
		}
	}
}

// Tick runs one risk evaluation cycle and reports what happened.
func (m *Monitor) Tick(ctx context.Context) RiskTickReport {
	report := RiskTickReport{Timestamp: m.now().UTC(), State: m.state}

	current, err := m.valuer.TotalUSD(ctx)
	if err != nil {
		// Unknown is never treated as breached. No snapshot either:
		// a partial or zero reading would poison the baseline.
		report.Skipped = true
		report.SkipReason = fmt.Sprintf("portfolio valuation: %v", err)
		observability.RecordRiskTick("skipped")
		return report
	}
	report.CurrentUSD = current

	m.recordSnapshot(ctx, report.Timestamp, current)

	baseline, err := m.snapshots.BaselineAtOrBefore(ctx, report.Timestamp.Add(-m.cfg.Lookback()))
	if err != nil {
		report.Skipped = true
		report.SkipReason = fmt.Sprintf("baseline lookup: %v", err)
		observability.RecordRiskTick("skipped")
		return report
	}
	report.BaselineUSD = baseline.TotalUSD
	observability.UpdatePortfolioValue(current, baseline.TotalUSD)

	limitType, breached := m.cfg.Breached(baseline.TotalUSD, current)
	if !breached && m.cfg.MinimumBalanceUSD > 0 && current < m.cfg.MinimumBalanceUSD {
		// Absolute floor, independent of the lookback delta.
		limitType, breached = domain.LimitTypeLoss, true
		m.logger.Printf("[monitor] balance %.2f below floor %.2f", current, m.cfg.MinimumBalanceUSD)
	}
	if !breached {
		m.state = StateNormal
		report.State = m.state
		observability.RecordRiskTick("ok")
		return report
	}

	m.state = StateLimitBreached
	report.State = m.state
	report.Breached = true
	report.LimitType = limitType
	observability.RecordRiskTick("breach")
	observability.RecordLimitBreach(string(limitType))
	m.logger.Printf("[monitor] %s limit breached: baseline %.2f, current %.2f",
		limitType, baseline.TotalUSD, current)

	decision := m.consult(ctx, limitType, current, baseline.TotalUSD)
	report.Decision = &decision
	observability.RecordAdvisoryDecision(string(decision.Verdict))

	if decision.Verdict == domain.VerdictOverride {
		// Positions stay open. The breach is re-evaluated on the next
		// tick; only the cached decision TTL limits how long an
		// override holds.
		m.logger.Printf("[monitor] advisory override: %s", decision.Rationale)
		return report
	}

	lr := m.liquidator.LiquidateAll(ctx, m.valuer.Tokens())
	report.Liquidation = &lr
	m.state = StateNormal
	report.State = m.state
	return report
}

// recordSnapshot appends the current valuation unless the latest entry
// is still within the minimum spacing, then prunes the retention tail.
// Snapshot failures degrade the baseline but never block the risk check.
func (m *Monitor) recordSnapshot(ctx context.Context, ts time.Time, totalUSD float64) {
	if m.minSpacing > 0 {
		latest, err := m.snapshots.Latest(ctx)
		if err == nil && ts.Sub(latest.Timestamp) < m.minSpacing {
			return
		}
		if err != nil && !errors.Is(err, storage.ErrNoSnapshots) {
			m.logger.Printf("[monitor] latest snapshot: %v", err)
		}
	}
	if err := m.snapshots.Record(ctx, domain.PortfolioSnapshot{Timestamp: ts, TotalUSD: totalUSD}); err != nil {
		m.logger.Printf("[monitor] record snapshot: %v", err)
		return
	}
	pruned, err := m.snapshots.PruneOlderThan(ctx, ts.Add(-m.retention))
	if err != nil {
		m.logger.Printf("[monitor] prune snapshots: %v", err)
		return
	}
	observability.RecordSnapshot(pruned)
}

// consult asks the advisor for a verdict under the advisory timeout.
// A nil advisor, an error, or a timeout all resolve to Respect: the
// advisor can only relax enforcement, never tighten it.
func (m *Monitor) consult(ctx context.Context, limitType domain.LimitType, current, baseline float64) domain.OverrideDecision {
	respect := domain.OverrideDecision{
		LimitType: limitType,
		Verdict:   domain.VerdictRespect,
		Rationale: "advisory unavailable",
		Timestamp: m.now().UTC(),
	}
	if m.advisor == nil {
		respect.Rationale = "advisory disabled"
		return respect
	}

	pctx := domain.PositionContext{
		TotalUSD: current,
		Baseline: baseline,
	}
	if positions, err := m.valuer.Positions(ctx); err == nil {
		pctx.Positions = positions
	}

	actx, cancel := context.WithTimeout(ctx, m.advTimeout)
	defer cancel()
	decision, err := m.advisor.Decide(actx, limitType, pctx)
	if err != nil {
		m.logger.Printf("[monitor] advisory: %v", err)
		return respect
	}
	return decision
}
