// Package advisory asks an external model whether a breached risk
// limit should be overridden. Callers treat any failure as a vote to
// respect the limit; the advisor can only ever relax enforcement, so
// erring toward liquidation is the safe default.
package advisory

import (
	"context"
	"errors"

	"solana-trade-exec/internal/domain"
)

// ErrUnavailable reports that the advisor could not produce a verdict.
var ErrUnavailable = errors.New("advisory: unavailable")

// Advisor renders an override decision for a breached limit.
type Advisor interface {
	Decide(ctx context.Context, limitType domain.LimitType, pctx domain.PositionContext) (domain.OverrideDecision, error)
}
