package domain

import (
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// Well-known mints, excluded from trading and liquidation by default:
// the quote currency and the gas token are never positions to close.
const (
	USDCMint = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	WSOLMint = "So11111111111111111111111111111111111111112"
)

// DefaultExclusions returns the standard liquidation exclusion set.
func DefaultExclusions() []string {
	return []string{USDCMint, WSOLMint}
}

// ErrInvalidAddress is returned for strings that do not decode to a 32-byte
// base58 Solana address.
var ErrInvalidAddress = errors.New("invalid solana address")

// ValidateMint checks that a token mint is a well-formed base58 address.
func ValidateMint(mint string) error {
	_, err := decode32(mint)
	return err
}

// ValidateWallet checks that a wallet address is a well-formed base58
// address whose bytes are a valid ed25519 curve point. System wallets are
// ed25519 public keys; a decode that passes base58 but fails the curve
// check is almost always a PDA or a typo.
func ValidateWallet(address string) error {
	raw, err := decode32(address)
	if err != nil {
		return err
	}
	if _, err := new(edwards25519.Point).SetBytes(raw); err != nil {
		return fmt.Errorf("%w: %s not on ed25519 curve", ErrInvalidAddress, shortMint(address))
	}
	return nil
}

func decode32(s string) ([]byte, error) {
	if s == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidAddress)
	}
	raw, err := base58.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("%w: decoded to %d bytes, want 32", ErrInvalidAddress, len(raw))
	}
	return raw, nil
}
