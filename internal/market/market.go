// Package market wraps the external price/balance oracle and order venue
// behind one narrow facade. The facade is a pure pass-through: no retries,
// no caching. Resilience policy lives entirely in the convergence engine so
// there is a single source of truth for it.
package market

import (
	"context"
	"errors"
	"fmt"

	"solana-trade-exec/internal/domain"
)

// Facade is the only surface the execution core sees of the outside market.
type Facade interface {
	// CurrentPrice returns the spot USD price for a token mint.
	// Returns an error wrapping ErrUnavailable when the oracle cannot answer.
	CurrentPrice(ctx context.Context, token string) (float64, error)

	// HeldQuantity returns the wallet's balance of a token in whole-token
	// units. Returns an error wrapping ErrUnavailable when the balance
	// cannot be read. A wallet that simply holds none returns 0, nil.
	HeldQuantity(ctx context.Context, wallet, token string) (float64, error)

	// SubmitOrder submits a market order for baseQty tokens and returns the
	// venue receipt. Failures surface as *VenueError.
	SubmitOrder(ctx context.Context, token string, side domain.OrderSide, baseQty float64, slippageBps int) (domain.OrderReceipt, error)
}

// ErrUnavailable marks transient oracle failures: price or balance could not
// be read. The engine counts consecutive occurrences and aborts a run after
// too many; it never treats them as venue rejections.
var ErrUnavailable = errors.New("market data unavailable")

// VenueError is an order submission failure. Retryable distinguishes venue
// hiccups (rate limits, congestion) from hard rejections the engine should
// not resubmit verbatim.
type VenueError struct {
	Side      domain.OrderSide
	Token     string
	Retryable bool
	Err       error
}

func (e *VenueError) Error() string {
	kind := "rejected"
	if e.Retryable {
		kind = "failed"
	}
	return fmt.Sprintf("venue %s %s order for %s: %v", kind, e.Side, short(e.Token), e.Err)
}

func (e *VenueError) Unwrap() error { return e.Err }

func short(mint string) string {
	if len(mint) > 8 {
		return mint[:8]
	}
	return mint
}
