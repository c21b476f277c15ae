package market

import (
	"crypto/ed25519"
	"fmt"
)

// signTransaction signs a serialized Solana transaction with the fee payer
// key. Wire layout: compact-u16 signature count, then count 64-byte
// signatures, then the message. The aggregator returns the transaction with
// placeholder signatures; the fee payer's signature is always slot zero.
func signTransaction(rawTx []byte, key ed25519.PrivateKey) ([]byte, error) {
	sigCount, offset, err := decodeCompactU16(rawTx)
	if err != nil {
		return nil, fmt.Errorf("read signature count: %w", err)
	}
	if sigCount == 0 {
		return nil, fmt.Errorf("transaction declares zero signatures")
	}

	msgStart := offset + sigCount*ed25519.SignatureSize
	if msgStart >= len(rawTx) {
		return nil, fmt.Errorf("truncated transaction: %d bytes, message starts at %d", len(rawTx), msgStart)
	}

	sig := ed25519.Sign(key, rawTx[msgStart:])

	signed := make([]byte, len(rawTx))
	copy(signed, rawTx)
	copy(signed[offset:], sig)
	return signed, nil
}

// decodeCompactU16 reads a Solana compact-u16 length prefix and returns the
// value and the number of bytes consumed.
func decodeCompactU16(b []byte) (int, int, error) {
	var value, shift int
	for i := 0; i < 3; i++ {
		if i >= len(b) {
			return 0, 0, fmt.Errorf("truncated compact-u16")
		}
		value |= int(b[i]&0x7f) << shift
		if b[i]&0x80 == 0 {
			return value, i + 1, nil
		}
		shift += 7
	}
	return 0, 0, fmt.Errorf("compact-u16 longer than 3 bytes")
}
