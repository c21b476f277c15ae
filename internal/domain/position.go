// Package domain defines the core value types shared across the execution
// and risk packages. All USD amounts are float64; token quantities are
// float64 in whole-token units (decimals already applied).
package domain

// Position is one observed holding: a token mint, the quantity held, and
// the price at which it was last observed. Quantity is owned by the wallet;
// callers must re-read it through the market facade rather than cache it,
// since venue settlement can change it between any two calls.
type Position struct {
	Token    string  // token mint address (base58)
	Quantity float64 // held quantity, whole-token units; >= 0
	Price    float64 // last observed price in USD per token
}

// USDValue returns the position's value at its last observed price.
func (p Position) USDValue() float64 {
	return p.Quantity * p.Price
}

// OrderSide is the direction of a submitted order chunk.
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// OrderReceipt identifies one accepted order submission. Submissions are
// fire-and-forget: the engine never polls the signature, only the resulting
// balance after the settlement delay.
type OrderReceipt struct {
	TxSignature string // venue transaction identifier
	Token       string
	Side        OrderSide
	BaseQty     float64 // submitted quantity, whole-token units
}
