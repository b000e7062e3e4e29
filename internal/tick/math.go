// Package tick maps prices to discretized ticks and tracks populated
// ticks in a sparse hierarchical bitmap.
//
// The price of tick t is 1.0001^t scaled by 10^18, so tick 0 is the unit
// price and each tick moves the price by one basis point. Ticks are
// clamped to [MinTick, MaxTick]; usable ticks are additionally multiples
// of the configured tick spacing.
package tick

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

const (
	// MinTick and MaxTick bound the representable price range
	// (~1e4 wei to ~3.6e60 wei at 18 decimals).
	MinTick int32 = -322_378
	MaxTick int32 = 980_000

	// PriceDecimals is the fixed-point scale of tick prices.
	PriceDecimals = 18
)

var (
	ErrTickOutOfRange  = fmt.Errorf("tick out of range [%d, %d]", MinTick, MaxTick)
	ErrPriceOutOfRange = fmt.Errorf("price outside representable tick range")

	priceScale = new(big.Float).SetPrec(floatPrec).SetInt64(1_000_000_000_000_000_000)
)

// floatPrec is the mantissa precision for tick price computation. The
// relative error after ~40 multiplications stays far below one part in
// 10^18, so adjacent ticks never collide.
const floatPrec = 128

// MinUsableTick returns the lowest tick that is a multiple of tickSpacing.
func MinUsableTick(tickSpacing int32) int32 {
	// Round toward +inf so the result stays in range.
	q := MinTick / tickSpacing
	if MinTick%tickSpacing != 0 {
		q++ // MinTick is negative
	}
	return q * tickSpacing
}

// MaxUsableTick returns the highest tick that is a multiple of tickSpacing.
func MaxUsableTick(tickSpacing int32) int32 {
	return (MaxTick / tickSpacing) * tickSpacing
}

// RoundDown rounds t toward negative infinity to a multiple of tickSpacing.
func RoundDown(t, tickSpacing int32) int32 {
	q := t / tickSpacing
	if t%tickSpacing != 0 && t < 0 {
		q--
	}
	return q * tickSpacing
}

// PriceAtTick returns the price of tick t, scaled by 10^18.
func PriceAtTick(t int32) (*uint256.Int, error) {
	if t < MinTick || t > MaxTick {
		return nil, ErrTickOutOfRange
	}
	f := pow10001(t)
	f.Mul(f, priceScale)
	i, _ := f.Int(nil)
	price, overflow := uint256.FromBig(i)
	if overflow {
		return nil, ErrPriceOutOfRange
	}
	return price, nil
}

// TickAtPrice returns the highest tick whose price is at or below the
// given price (the floor tick).
func TickAtPrice(price *uint256.Int) (int32, error) {
	minPrice, _ := PriceAtTick(MinTick)
	if price.Lt(minPrice) {
		return 0, ErrPriceOutOfRange
	}

	// PriceAtTick is strictly increasing, so binary-search the largest
	// tick with price(tick) <= price.
	lo, hi := MinTick, MaxTick
	for lo < hi {
		mid := lo + (hi-lo+1)/2
		p, err := PriceAtTick(mid)
		if err != nil {
			return 0, err
		}
		if p.Gt(price) {
			hi = mid - 1
		} else {
			lo = mid
		}
	}
	return lo, nil
}

// TickFromDesiredLiqPrice converts a desired (unadjusted) liquidation
// price into the storage tick for a new position: the floor tick is
// rounded DOWN to the tick spacing (conservative for the position
// holder), then offset upward by the tick's liquidation penalty.
//
// At very low desired prices the result is clamped to
// minUsableTick + penalty, in which case the effective liquidation price
// is not guaranteed to be at or below the desired one; this is a
// documented approximation of the boundary behavior.
func TickFromDesiredLiqPrice(desired *uint256.Int, penalty uint8, tickSpacing int32) (int32, error) {
	t, err := TickAtPrice(desired)
	if err != nil {
		return 0, err
	}
	withoutPenalty := RoundDown(t, tickSpacing)

	minUsable := MinUsableTick(tickSpacing)
	if withoutPenalty < minUsable {
		withoutPenalty = minUsable
	}

	storageTick := withoutPenalty + int32(penalty)*tickSpacing
	if maxUsable := MaxUsableTick(tickSpacing); storageTick > maxUsable {
		storageTick = maxUsable
	}
	return storageTick, nil
}

// WithoutPenalty returns the tick whose price is the true liquidation
// price of positions stored at t with the given penalty.
func WithoutPenalty(t int32, penalty uint8, tickSpacing int32) int32 {
	return t - int32(penalty)*tickSpacing
}

// pow10001 computes 1.0001^t by binary exponentiation on big.Float.
func pow10001(t int32) *big.Float {
	neg := t < 0
	n := uint32(t)
	if neg {
		n = uint32(-t)
	}

	base := new(big.Float).SetPrec(floatPrec).Quo(
		new(big.Float).SetPrec(floatPrec).SetInt64(10_001),
		new(big.Float).SetPrec(floatPrec).SetInt64(10_000),
	)
	result := new(big.Float).SetPrec(floatPrec).SetInt64(1)
	for n > 0 {
		if n&1 == 1 {
			result.Mul(result, base)
		}
		base.Mul(base, base)
		n >>= 1
	}

	if neg {
		result.Quo(new(big.Float).SetPrec(floatPrec).SetInt64(1), result)
	}
	return result
}
