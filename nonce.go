package klstore

import (
	"fmt"
	"math/big"
)

// Nonce is a 128-bit monotonic identifier (§3). Go has no native u128, so it is backed by
// math/big the same way the rest of the pack reaches for a standard-library numeric type
// rather than hand-rolling fixed-width arithmetic. Next and Prev each allocate a new
// big.Int for their result.
type Nonce struct {
	v *big.Int
}

// ZeroNonce is the nonce assigned to the first record of a fresh key.
var ZeroNonce = Nonce{v: big.NewInt(0)}

// NonceFromUint64 constructs a Nonce from a plain uint64, the common case.
func NonceFromUint64(n uint64) Nonce {
	return Nonce{v: new(big.Int).SetUint64(n)}
}

// NonceFromString parses a decimal nonce, as decoded from an object name field.
func NonceFromString(s string) (Nonce, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return Nonce{}, fmt.Errorf("invalid nonce %q", s)
	}
	if v.Sign() < 0 {
		return Nonce{}, fmt.Errorf("nonce %q is negative", s)
	}
	return Nonce{v: v}, nil
}

// Next returns n+1, used to derive a batch's nextNonce (§3: "nextNonce is lastNonce + 1").
func (n Nonce) Next() Nonce {
	return Nonce{v: new(big.Int).Add(n.v, big.NewInt(1))}
}

// Cmp reports -1, 0, or 1 per the usual comparator contract.
func (n Nonce) Cmp(o Nonce) int {
	return n.v.Cmp(o.v)
}

// Prev returns n-1, used to recover a batch's lastNonce from its stored nextNonce field
// (§3: KeyMetadata derivation).
func (n Nonce) Prev() Nonce {
	return Nonce{v: new(big.Int).Sub(n.v, big.NewInt(1))}
}

func (n Nonce) String() string {
	s := n.v.String()
	if len(s) > nonceWidth {
		return s // will fail validation upstream; never silently truncate
	}
	pad := nonceWidth - len(s)
	if pad == 0 {
		return s
	}
	b := make([]byte, nonceWidth)
	for i := 0; i < pad; i++ {
		b[i] = '0'
	}
	copy(b[pad:], s)
	return string(b)
}

func padNonce(n Nonce) string {
	return n.String()
}
