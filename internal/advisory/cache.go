package advisory

import (
	"context"
	"sync"
	"time"

	"solana-trade-exec/internal/domain"
)

// CachedAdvisor memoizes decisions per limit type so a breached limit
// does not hammer the model on every monitor tick. A cached verdict is
// reused until its TTL lapses.
type CachedAdvisor struct {
	inner Advisor
	now   func() time.Time

	mu      sync.Mutex
	entries map[domain.LimitType]domain.OverrideDecision
}

// NewCachedAdvisor wraps an advisor with a per-limit-type decision cache.
func NewCachedAdvisor(inner Advisor) *CachedAdvisor {
	return &CachedAdvisor{
		inner:   inner,
		now:     time.Now,
		entries: make(map[domain.LimitType]domain.OverrideDecision),
	}
}

func (c *CachedAdvisor) Decide(ctx context.Context, limitType domain.LimitType, pctx domain.PositionContext) (domain.OverrideDecision, error) {
	c.mu.Lock()
	cached, ok := c.entries[limitType]
	c.mu.Unlock()
	if ok && cached.Fresh(c.now()) {
		return cached, nil
	}

	d, err := c.inner.Decide(ctx, limitType, pctx)
	if err != nil {
		// A stale cache entry is not a substitute for a live verdict;
		// the caller falls back to respecting the limit.
		return domain.OverrideDecision{}, err
	}

	c.mu.Lock()
	c.entries[limitType] = d
	c.mu.Unlock()
	return d, nil
}

// Invalidate drops any cached decision for the given limit type.
func (c *CachedAdvisor) Invalidate(limitType domain.LimitType) {
	c.mu.Lock()
	delete(c.entries, limitType)
	c.mu.Unlock()
}
