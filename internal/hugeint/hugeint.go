// Package hugeint implements the 512-bit unsigned arithmetic backing the
// liquidation-multiplier accumulator. Values are eight little-endian
// 64-bit limbs with explicit carry propagation; the only operation that
// needs more than limb arithmetic (512-by-256 division) goes through
// math/big.
package hugeint

import (
	"fmt"
	"math/big"
	"math/bits"

	"github.com/holiman/uint256"
)

// Uint512 is an unsigned 512-bit integer, limbs little-endian.
type Uint512 struct {
	limbs [8]uint64
}

// Zero returns the zero value.
func Zero() Uint512 {
	return Uint512{}
}

// Mul256 returns x * y as a full 512-bit product (schoolbook over the
// four 64-bit limbs of each operand, no overflow possible).
func Mul256(x, y *uint256.Int) Uint512 {
	var r [8]uint64
	for i := 0; i < 4; i++ {
		var carry uint64
		for j := 0; j < 4; j++ {
			hi, lo := bits.Mul64(x[i], y[j])
			var c uint64
			lo, c = bits.Add64(lo, carry, 0)
			hi += c
			r[i+j], c = bits.Add64(r[i+j], lo, 0)
			hi += c
			carry = hi
		}
		r[i+4] = carry
	}
	return Uint512{limbs: r}
}

// Add returns z + v. The accumulator is a sum of 512-bit products of
// 256-bit magnitudes over a bounded book, so a carry out of the top limb
// means corrupted state, not a representable value.
func (z Uint512) Add(v Uint512) Uint512 {
	var r Uint512
	var carry uint64
	for i := 0; i < 8; i++ {
		r.limbs[i], carry = bits.Add64(z.limbs[i], v.limbs[i], carry)
	}
	if carry != 0 {
		panic("hugeint: 512-bit add overflow")
	}
	return r
}

// Sub returns z - v. Underflow panics: the accumulator only ever removes
// products it previously added.
func (z Uint512) Sub(v Uint512) Uint512 {
	var r Uint512
	var borrow uint64
	for i := 0; i < 8; i++ {
		r.limbs[i], borrow = bits.Sub64(z.limbs[i], v.limbs[i], borrow)
	}
	if borrow != 0 {
		panic("hugeint: 512-bit sub underflow")
	}
	return r
}

// IsZero reports whether all limbs are zero.
func (z Uint512) IsZero() bool {
	for _, l := range z.limbs {
		if l != 0 {
			return false
		}
	}
	return true
}

// Cmp returns -1, 0 or 1 comparing z to v.
func (z Uint512) Cmp(v Uint512) int {
	for i := 7; i >= 0; i-- {
		if z.limbs[i] < v.limbs[i] {
			return -1
		}
		if z.limbs[i] > v.limbs[i] {
			return 1
		}
	}
	return 0
}

// Div returns z / d truncated, provided the quotient fits in 256 bits.
func (z Uint512) Div(d *uint256.Int) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, fmt.Errorf("hugeint: division by zero")
	}
	q := new(big.Int).Quo(z.ToBig(), d.ToBig())
	res, overflow := uint256.FromBig(q)
	if overflow {
		return nil, fmt.Errorf("hugeint: quotient overflows 256 bits")
	}
	return res, nil
}

// ToBig converts z to a math/big integer.
func (z Uint512) ToBig() *big.Int {
	v := new(big.Int)
	for i := 7; i >= 0; i-- {
		v.Lsh(v, 64)
		v.Or(v, new(big.Int).SetUint64(z.limbs[i]))
	}
	return v
}

// FromBig converts a non-negative big integer to a Uint512. Returns an
// error if v is negative or wider than 512 bits (used by snapshot restore).
func FromBig(v *big.Int) (Uint512, error) {
	if v.Sign() < 0 {
		return Uint512{}, fmt.Errorf("hugeint: negative value")
	}
	if v.BitLen() > 512 {
		return Uint512{}, fmt.Errorf("hugeint: value wider than 512 bits")
	}
	var z Uint512
	words := v.Bits()
	for i, w := range words {
		z.limbs[i] = uint64(w)
	}
	return z, nil
}

// String renders the decimal value (diagnostics only).
func (z Uint512) String() string {
	return z.ToBig().String()
}
