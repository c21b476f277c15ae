package convergence

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"sync"
	"testing"
	"time"

	"solana-trade-exec/internal/domain"
	"solana-trade-exec/internal/market"
	"solana-trade-exec/internal/market/stub"
)

const (
	testMint   = "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263"
	testWallet = "4Nd1mBQtrMJVYVfKf2PW9vCMwiuVSHkCVr6aqZxUb6yP"
)

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func fastAlloc(targetUSD, maxOrderUSD float64) domain.TargetAllocation {
	return domain.TargetAllocation{
		Token:        testMint,
		Wallet:       testWallet,
		TargetUSD:    targetUSD,
		MaxOrderUSD:  maxOrderUSD,
		RetryBackoff: time.Millisecond,
		SettleDelay:  time.Millisecond,
	}
}

func TestConverge_BuildsPositionInChunks(t *testing.T) {
	m := stub.NewMarket()
	m.SetPrice(testMint, 1.00)
	m.SetHolding(testWallet, testMint, 0)
	engine := New(m, WithLogger(quietLogger()))

	res, err := engine.Converge(context.Background(), fastAlloc(30, 10))
	if err != nil {
		t.Fatalf("Converge failed: %v", err)
	}

	if res.Outcome != domain.OutcomeConverged {
		t.Fatalf("Outcome = %s, want %s (reason=%q err=%v)", res.Outcome, domain.OutcomeConverged, res.Reason, res.Err)
	}
	if math.Abs(res.LastUSD-30) > 0.90 {
		t.Errorf("LastUSD = %.2f, want 30 +/- 0.90", res.LastUSD)
	}

	orders := m.Orders()
	if len(orders) != 3 {
		t.Fatalf("submitted %d orders, want 3", len(orders))
	}
	for i, o := range orders {
		if o.Side != domain.SideBuy {
			t.Errorf("order %d side = %s, want %s", i, o.Side, domain.SideBuy)
		}
		if o.BaseQty*1.00 > 10+1e-9 {
			t.Errorf("order %d worth $%.2f exceeds max order $10", i, o.BaseQty)
		}
	}
}

func TestConverge_SellsDownToTarget(t *testing.T) {
	m := stub.NewMarket()
	m.SetPrice(testMint, 2.00)
	m.SetHolding(testWallet, testMint, 25) // $50 held
	engine := New(m, WithLogger(quietLogger()))

	res, err := engine.Converge(context.Background(), fastAlloc(20, 15))
	if err != nil {
		t.Fatalf("Converge failed: %v", err)
	}

	if res.Outcome != domain.OutcomeConverged {
		t.Fatalf("Outcome = %s, want %s", res.Outcome, domain.OutcomeConverged)
	}
	if math.Abs(res.LastUSD-20) > 0.60 {
		t.Errorf("LastUSD = %.2f, want 20 +/- 0.60", res.LastUSD)
	}
	for i, o := range m.Orders() {
		if o.Side != domain.SideSell {
			t.Errorf("order %d side = %s, want %s", i, o.Side, domain.SideSell)
		}
	}
}

func TestConverge_MonotonicApproach(t *testing.T) {
	m := stub.NewMarket()
	m.SetPrice(testMint, 1.00)
	m.SetHolding(testWallet, testMint, 0)
	rec := &recordingFacade{Facade: m}
	engine := New(rec, WithLogger(quietLogger()))

	res, err := engine.Converge(context.Background(), fastAlloc(50, 10))
	if err != nil {
		t.Fatalf("Converge failed: %v", err)
	}
	if res.Outcome != domain.OutcomeConverged {
		t.Fatalf("Outcome = %s, want %s", res.Outcome, domain.OutcomeConverged)
	}

	gaps := rec.Gaps(50)
	for i := 1; i < len(gaps); i++ {
		if gaps[i] >= gaps[i-1] {
			t.Errorf("gap[%d] = %.2f, not smaller than gap[%d] = %.2f", i, gaps[i], i-1, gaps[i-1])
		}
	}
}

func TestConverge_AlreadyConvergedSubmitsNothing(t *testing.T) {
	m := stub.NewMarket()
	m.SetPrice(testMint, 1.00)
	m.SetHolding(testWallet, testMint, 30)
	engine := New(m, WithLogger(quietLogger()))

	res, err := engine.Converge(context.Background(), fastAlloc(30, 10))
	if err != nil {
		t.Fatalf("Converge failed: %v", err)
	}

	if res.Outcome != domain.OutcomeConverged {
		t.Fatalf("Outcome = %s, want %s", res.Outcome, domain.OutcomeConverged)
	}
	if res.Iterations != 0 {
		t.Errorf("Iterations = %d, want 0", res.Iterations)
	}
	if len(m.Orders()) != 0 {
		t.Errorf("submitted %d orders, want 0", len(m.Orders()))
	}
}

func TestConverge_FrozenVenueExhaustsIterationBudget(t *testing.T) {
	m := stub.NewMarket()
	m.SetPrice(testMint, 1.00)
	m.SetHolding(testWallet, testMint, 0)
	m.Frozen = true
	engine := New(m, WithLogger(quietLogger()))

	res, err := engine.Converge(context.Background(), fastAlloc(30, 10))
	if err != nil {
		t.Fatalf("Converge failed: %v", err)
	}

	if res.Outcome != domain.OutcomeGaveUp {
		t.Fatalf("Outcome = %s, want %s", res.Outcome, domain.OutcomeGaveUp)
	}
	if res.Iterations != domain.DefaultMaxIterations {
		t.Errorf("Iterations = %d, want %d", res.Iterations, domain.DefaultMaxIterations)
	}
	if res.LastUSD != 0 {
		t.Errorf("LastUSD = %.2f, want 0", res.LastUSD)
	}
}

func TestConverge_ConsecutiveOutagesAbort(t *testing.T) {
	m := stub.NewMarket()
	m.SetPrice(testMint, 1.00)
	m.SetHolding(testWallet, testMint, 0)
	m.PriceUnavailable[testMint] = true
	engine := New(m, WithLogger(quietLogger()))

	res, err := engine.Converge(context.Background(), fastAlloc(30, 10))
	if err != nil {
		t.Fatalf("Converge failed: %v", err)
	}

	if res.Outcome != domain.OutcomeAborted {
		t.Fatalf("Outcome = %s, want %s", res.Outcome, domain.OutcomeAborted)
	}
	if res.Iterations != maxConsecutiveOutages {
		t.Errorf("Iterations = %d, want %d", res.Iterations, maxConsecutiveOutages)
	}
	if !errors.Is(res.Err, market.ErrUnavailable) {
		t.Errorf("Err = %v, want wrapped %v", res.Err, market.ErrUnavailable)
	}
}

func TestConverge_RecoveredOutageResetsCounter(t *testing.T) {
	m := stub.NewMarket()
	m.SetPrice(testMint, 1.00)
	m.SetHolding(testWallet, testMint, 0)
	flaky := &flakyPriceFacade{Facade: m, failEvery: 2}
	engine := New(flaky, WithLogger(quietLogger()))

	res, err := engine.Converge(context.Background(), fastAlloc(20, 10))
	if err != nil {
		t.Fatalf("Converge failed: %v", err)
	}
	if res.Outcome != domain.OutcomeConverged {
		t.Fatalf("Outcome = %s, want %s: intermittent reads must not abort", res.Outcome, domain.OutcomeConverged)
	}
}

func TestConverge_FullExitLeavesDustAlone(t *testing.T) {
	m := stub.NewMarket()
	m.SetPrice(testMint, 1.00)
	m.SetHolding(testWallet, testMint, 0.05) // 5 cents of dust
	engine := New(m, WithLogger(quietLogger()))

	res, err := engine.Converge(context.Background(), fastAlloc(0, 10))
	if err != nil {
		t.Fatalf("Converge failed: %v", err)
	}

	if res.Outcome != domain.OutcomeConverged {
		t.Fatalf("Outcome = %s, want %s", res.Outcome, domain.OutcomeConverged)
	}
	if len(m.Orders()) != 0 {
		t.Errorf("submitted %d orders against dust, want 0", len(m.Orders()))
	}
}

func TestConverge_FullExitSellsEverything(t *testing.T) {
	m := stub.NewMarket()
	m.SetPrice(testMint, 1.00)
	m.SetHolding(testWallet, testMint, 25)
	engine := New(m, WithLogger(quietLogger()))

	res, err := engine.Converge(context.Background(), fastAlloc(0, 10))
	if err != nil {
		t.Fatalf("Converge failed: %v", err)
	}

	if res.Outcome != domain.OutcomeConverged {
		t.Fatalf("Outcome = %s, want %s", res.Outcome, domain.OutcomeConverged)
	}
	if res.LastUSD > 0.10 {
		t.Errorf("LastUSD = %.2f, want <= 0.10", res.LastUSD)
	}
	if got := len(m.Orders()); got != 3 {
		t.Errorf("submitted %d orders, want 3 (10+10+5)", got)
	}
}

func TestConverge_SameTokenRefused(t *testing.T) {
	m := stub.NewMarket()
	m.SetPrice(testMint, 1.00)
	m.SetHolding(testWallet, testMint, 0)
	m.Frozen = true
	engine := New(m, WithLogger(quietLogger()))

	alloc := fastAlloc(30, 10)
	alloc.SettleDelay = 20 * time.Millisecond

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		engine.Converge(context.Background(), alloc)
	}()

	time.Sleep(30 * time.Millisecond)
	_, err := engine.Converge(context.Background(), alloc)
	if !errors.Is(err, ErrTokenBusy) {
		t.Errorf("second Converge err = %v, want %v", err, ErrTokenBusy)
	}
	wg.Wait()

	// The lock is free again after the first run finishes.
	m.Frozen = false
	m.SetHolding(testWallet, testMint, 30)
	if _, err := engine.Converge(context.Background(), alloc); err != nil {
		t.Errorf("Converge after release failed: %v", err)
	}
}

func TestConverge_CancellationReportsLastValue(t *testing.T) {
	m := stub.NewMarket()
	m.SetPrice(testMint, 1.00)
	m.SetHolding(testWallet, testMint, 0)
	m.Frozen = true
	engine := New(m, WithLogger(quietLogger()))

	alloc := fastAlloc(30, 10)
	alloc.SettleDelay = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(25 * time.Millisecond)
		cancel()
	}()

	res, err := engine.Converge(ctx, alloc)
	if err != nil {
		t.Fatalf("Converge failed: %v", err)
	}
	if res.Outcome != domain.OutcomeGaveUp {
		t.Errorf("Outcome = %s, want %s on cancellation", res.Outcome, domain.OutcomeGaveUp)
	}
	if res.Reason != "cancelled" {
		t.Errorf("Reason = %q, want %q", res.Reason, "cancelled")
	}
}

func TestConverge_HardRejectionNotRetried(t *testing.T) {
	m := stub.NewMarket()
	m.SetPrice(testMint, 1.00)
	m.SetHolding(testWallet, testMint, 0)
	rej := &rejectingFacade{Facade: m}
	engine := New(rej, WithLogger(quietLogger()))

	alloc := fastAlloc(30, 10)
	alloc.MaxIterations = 2

	res, err := engine.Converge(context.Background(), alloc)
	if err != nil {
		t.Fatalf("Converge failed: %v", err)
	}
	if res.Outcome != domain.OutcomeGaveUp {
		t.Errorf("Outcome = %s, want %s", res.Outcome, domain.OutcomeGaveUp)
	}
	// One attempt per iteration: hard rejections skip the retry loop.
	if rej.attempts != 2 {
		t.Errorf("submission attempts = %d, want 2", rej.attempts)
	}
}

func TestConverge_TransientVenueFailureRetries(t *testing.T) {
	m := stub.NewMarket()
	m.SetPrice(testMint, 1.00)
	m.SetHolding(testWallet, testMint, 0)
	m.FailOrdersN[testMint] = 2
	engine := New(m, WithLogger(quietLogger()))

	res, err := engine.Converge(context.Background(), fastAlloc(10, 10))
	if err != nil {
		t.Fatalf("Converge failed: %v", err)
	}
	if res.Outcome != domain.OutcomeConverged {
		t.Fatalf("Outcome = %s, want %s after transient failures", res.Outcome, domain.OutcomeConverged)
	}
}

func TestConverge_InvalidAllocationRejected(t *testing.T) {
	engine := New(stub.NewMarket(), WithLogger(quietLogger()))

	cases := []domain.TargetAllocation{
		{Token: "not-a-mint", Wallet: testWallet, TargetUSD: 10, MaxOrderUSD: 5},
		{Token: testMint, Wallet: testWallet, TargetUSD: -1, MaxOrderUSD: 5},
		{Token: testMint, Wallet: testWallet, TargetUSD: 10, MaxOrderUSD: 0},
	}
	for i, alloc := range cases {
		if _, err := engine.Converge(context.Background(), alloc); err == nil {
			t.Errorf("case %d: Converge accepted invalid allocation", i)
		}
	}
}

// recordingFacade logs the gap trajectory observed through HeldQuantity.
type recordingFacade struct {
	market.Facade
	mu   sync.Mutex
	qtys []float64
}

func (r *recordingFacade) HeldQuantity(ctx context.Context, wallet, token string) (float64, error) {
	qty, err := r.Facade.HeldQuantity(ctx, wallet, token)
	if err == nil {
		r.mu.Lock()
		r.qtys = append(r.qtys, qty)
		r.mu.Unlock()
	}
	return qty, err
}

// Gaps converts observed quantities (at price 1.0) into |current - target|.
func (r *recordingFacade) Gaps(target float64) []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	gaps := make([]float64, len(r.qtys))
	for i, q := range r.qtys {
		gaps[i] = math.Abs(q - target)
	}
	return gaps
}

// flakyPriceFacade fails every Nth price read.
type flakyPriceFacade struct {
	market.Facade
	mu        sync.Mutex
	calls     int
	failEvery int
}

func (f *flakyPriceFacade) CurrentPrice(ctx context.Context, token string) (float64, error) {
	f.mu.Lock()
	f.calls++
	fail := f.calls%f.failEvery == 0
	f.mu.Unlock()
	if fail {
		return 0, fmt.Errorf("%w: flaky read", market.ErrUnavailable)
	}
	return f.Facade.CurrentPrice(ctx, token)
}

// rejectingFacade refuses every submission with a non-retryable error.
type rejectingFacade struct {
	market.Facade
	attempts int
}

func (r *rejectingFacade) SubmitOrder(ctx context.Context, token string, side domain.OrderSide, baseQty float64, slippageBps int) (domain.OrderReceipt, error) {
	r.attempts++
	return domain.OrderReceipt{}, &market.VenueError{
		Side: side, Token: token, Retryable: false,
		Err: errors.New("insufficient funds"),
	}
}
