// Package portfolio values a tracked token set through the market facade.
package portfolio

import (
	"context"
	"fmt"

	"solana-trade-exec/internal/domain"
	"solana-trade-exec/internal/market"
)

// Valuer computes the total USD value of a wallet's tracked positions.
// It reads every balance and price fresh through the facade; a valuation is
// only as current as the instant its reads happened.
type Valuer struct {
	facade market.Facade
	wallet string
	tokens []string
}

// NewValuer creates a valuer over the tracked token set. The quote stable
// should be part of tokens so idle cash counts toward portfolio value.
func NewValuer(facade market.Facade, wallet string, tokens []string) *Valuer {
	return &Valuer{facade: facade, wallet: wallet, tokens: tokens}
}

// Tokens returns the tracked token set.
func (v *Valuer) Tokens() []string {
	out := make([]string, len(v.tokens))
	copy(out, v.tokens)
	return out
}

// TotalUSD values the whole tracked set. Any single failed read fails the
// valuation: a partial total would understate the portfolio and could fake
// a loss breach.
func (v *Valuer) TotalUSD(ctx context.Context) (float64, error) {
	positions, err := v.Positions(ctx)
	if err != nil {
		return 0, err
	}
	var total float64
	for _, p := range positions {
		total += p.USDValue()
	}
	return total, nil
}

// Positions returns the current observed position for every tracked token,
// including zero-quantity ones so callers can distinguish "not held" from
// "not tracked". The quote stable is valued at par without an oracle call.
func (v *Valuer) Positions(ctx context.Context) ([]domain.Position, error) {
	positions := make([]domain.Position, 0, len(v.tokens))
	for _, token := range v.tokens {
		qty, err := v.facade.HeldQuantity(ctx, v.wallet, token)
		if err != nil {
			return nil, fmt.Errorf("value %s: %w", token, err)
		}

		price := 1.0
		if token != domain.USDCMint {
			price, err = v.facade.CurrentPrice(ctx, token)
			if err != nil {
				return nil, fmt.Errorf("value %s: %w", token, err)
			}
		}

		positions = append(positions, domain.Position{
			Token:    token,
			Quantity: qty,
			Price:    price,
		})
	}
	return positions, nil
}
