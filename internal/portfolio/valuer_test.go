package portfolio

import (
	"context"
	"testing"

	"solana-trade-exec/internal/domain"
	"solana-trade-exec/internal/market/stub"
)

const (
	mintA  = "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263"
	mintB  = "EKpQGSJtjMFqKZ9KQanSqYXRcF8fBopzLHYxdM65zcjm"
	wallet = "test-wallet"
)

func TestValuer_TotalUSD(t *testing.T) {
	m := stub.NewMarket()
	m.SetPrice(mintA, 2.00)
	m.SetHolding(wallet, mintA, 100) // $200
	m.SetHolding(wallet, domain.USDCMint, 50)

	v := NewValuer(m, wallet, []string{mintA, domain.USDCMint})
	total, err := v.TotalUSD(context.Background())
	if err != nil {
		t.Fatalf("TotalUSD failed: %v", err)
	}
	if total != 250 {
		t.Errorf("TotalUSD = %.2f, want 250", total)
	}
}

func TestValuer_USDCValuedAtPar(t *testing.T) {
	m := stub.NewMarket()
	// No price scripted for USDC: the valuer must not ask the oracle.
	m.SetHolding(wallet, domain.USDCMint, 123)

	v := NewValuer(m, wallet, []string{domain.USDCMint})
	total, err := v.TotalUSD(context.Background())
	if err != nil {
		t.Fatalf("TotalUSD failed: %v", err)
	}
	if total != 123 {
		t.Errorf("TotalUSD = %.2f, want 123 at par", total)
	}
}

func TestValuer_FailedReadFailsWholeValuation(t *testing.T) {
	m := stub.NewMarket()
	m.SetPrice(mintA, 2.00)
	m.SetHolding(wallet, mintA, 100)
	m.SetHolding(wallet, mintB, 50)
	m.PriceUnavailable[mintB] = true

	v := NewValuer(m, wallet, []string{mintA, mintB})
	if _, err := v.TotalUSD(context.Background()); err == nil {
		t.Fatal("TotalUSD produced a partial total through a failed read")
	}
}

func TestValuer_PositionsIncludeZeroHoldings(t *testing.T) {
	m := stub.NewMarket()
	m.SetPrice(mintA, 2.00)
	m.SetPrice(mintB, 1.00)
	m.SetHolding(wallet, mintA, 10)
	// mintB is tracked but not held.

	v := NewValuer(m, wallet, []string{mintA, mintB})
	positions, err := v.Positions(context.Background())
	if err != nil {
		t.Fatalf("Positions failed: %v", err)
	}
	if len(positions) != 2 {
		t.Fatalf("got %d positions, want 2 including the zero holding", len(positions))
	}
	for _, p := range positions {
		if p.Token == mintB && p.Quantity != 0 {
			t.Errorf("mintB quantity = %.2f, want 0", p.Quantity)
		}
	}
}

func TestValuer_TokensReturnsCopy(t *testing.T) {
	v := NewValuer(stub.NewMarket(), wallet, []string{mintA, mintB})
	tokens := v.Tokens()
	tokens[0] = "mutated"

	if got := v.Tokens()[0]; got != mintA {
		t.Errorf("Tokens()[0] = %s after caller mutation, want %s", got, mintA)
	}
}
