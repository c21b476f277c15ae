// Package stub provides a scripted advisor for tests.
package stub

import (
	"context"
	"sync"
	"time"

	"solana-trade-exec/internal/domain"
)

// Advisor returns a scripted decision, or a scripted error, and
// records how many times it was consulted.
type Advisor struct {
	mu       sync.Mutex
	Verdict  domain.Verdict
	Err      error
	Delay    time.Duration
	calls    int
	lastType domain.LimitType
}

func New(verdict domain.Verdict) *Advisor {
	return &Advisor{Verdict: verdict}
}

func (a *Advisor) Decide(ctx context.Context, limitType domain.LimitType, _ domain.PositionContext) (domain.OverrideDecision, error) {
	a.mu.Lock()
	a.calls++
	a.lastType = limitType
	verdict, err, delay := a.Verdict, a.Err, a.Delay
	a.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return domain.OverrideDecision{}, ctx.Err()
		}
	}
	if err != nil {
		return domain.OverrideDecision{}, err
	}
	return domain.OverrideDecision{
		LimitType:  limitType,
		Verdict:    verdict,
		Rationale:  "scripted",
		Confidence: 1,
		Timestamp:  time.Now().UTC(),
		CacheTTL:   domain.DefaultDecisionTTL,
	}, nil
}

// Calls reports how many times Decide ran.
func (a *Advisor) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

// LastLimitType reports the limit type of the most recent call.
func (a *Advisor) LastLimitType() domain.LimitType {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastType
}
