// Package stub provides a scripted in-memory market.Facade for tests.
package stub

import (
	"context"
	"fmt"
	"sync"

	"solana-trade-exec/internal/domain"
	"solana-trade-exec/internal/market"
)

// Market implements market.Facade against scripted prices and balances.
// Orders fill instantly and adjust the held quantity at the current price,
// unless the token is configured to fail.
type Market struct {
	mu sync.Mutex

	prices   map[string]float64
	holdings map[string]float64 // keyed by wallet|token

	// PriceUnavailable and BalanceUnavailable make reads fail per token.
	PriceUnavailable   map[string]bool
	BalanceUnavailable map[string]bool

	// FailOrders makes every submission for a token fail. FailOrdersN fails
	// only the first N submissions, then fills normally.
	FailOrders  map[string]bool
	FailOrdersN map[string]int

	// FillFactor scales how much of each order actually settles (default 1).
	FillFactor float64

	// Frozen stops orders from changing holdings, simulating a venue that
	// accepts submissions but never settles.
	Frozen bool

	orders []domain.OrderReceipt
	seq    int
}

// NewMarket creates an empty scripted market.
func NewMarket() *Market {
	return &Market{
		prices:             make(map[string]float64),
		holdings:           make(map[string]float64),
		PriceUnavailable:   make(map[string]bool),
		BalanceUnavailable: make(map[string]bool),
		FailOrders:         make(map[string]bool),
		FailOrdersN:        make(map[string]int),
		FillFactor:         1.0,
	}
}

// SetPrice scripts the spot price for a token.
func (m *Market) SetPrice(token string, price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[token] = price
}

// SetHolding scripts a wallet's balance of a token.
func (m *Market) SetHolding(wallet, token string, qty float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.holdings[wallet+"|"+token] = qty
}

// Orders returns all receipts issued so far.
func (m *Market) Orders() []domain.OrderReceipt {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.OrderReceipt, len(m.orders))
	copy(out, m.orders)
	return out
}

// CurrentPrice returns the scripted price.
func (m *Market) CurrentPrice(_ context.Context, token string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PriceUnavailable[token] {
		return 0, fmt.Errorf("%w: scripted outage for %s", market.ErrUnavailable, token)
	}
	price, ok := m.prices[token]
	if !ok {
		return 0, fmt.Errorf("%w: no scripted price for %s", market.ErrUnavailable, token)
	}
	return price, nil
}

// HeldQuantity returns the scripted balance.
func (m *Market) HeldQuantity(_ context.Context, wallet, token string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.BalanceUnavailable[token] {
		return 0, fmt.Errorf("%w: scripted outage for %s", market.ErrUnavailable, token)
	}
	return m.holdings[wallet+"|"+token], nil
}

// SubmitOrder fills the order instantly against every wallet holding the
// token, scaled by FillFactor.
func (m *Market) SubmitOrder(_ context.Context, token string, side domain.OrderSide, baseQty float64, _ int) (domain.OrderReceipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailOrders[token] {
		return domain.OrderReceipt{}, &market.VenueError{
			Side: side, Token: token, Retryable: true,
			Err: fmt.Errorf("scripted order failure"),
		}
	}
	if n := m.FailOrdersN[token]; n > 0 {
		m.FailOrdersN[token] = n - 1
		return domain.OrderReceipt{}, &market.VenueError{
			Side: side, Token: token, Retryable: true,
			Err: fmt.Errorf("scripted transient failure (%d left)", n-1),
		}
	}

	if !m.Frozen {
		fill := baseQty * m.FillFactor
		for key := range m.holdings {
			if len(key) > len(token) && key[len(key)-len(token):] == token {
				if side == domain.SideBuy {
					m.holdings[key] += fill
				} else {
					m.holdings[key] -= fill
					if m.holdings[key] < 0 {
						m.holdings[key] = 0
					}
				}
			}
		}
	}

	m.seq++
	receipt := domain.OrderReceipt{
		TxSignature: fmt.Sprintf("stub-tx-%d", m.seq),
		Token:       token,
		Side:        side,
		BaseQty:     baseQty,
	}
	m.orders = append(m.orders, receipt)
	return receipt, nil
}
