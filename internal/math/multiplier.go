package math

import (
	"math/big"

	"TickVault/internal/hugeint"

	"github.com/holiman/uint256"
)

// FixedPrecisionMultiplier derives the funding-adjusted liquidation
// multiplier (multiplier scale) from the 512-bit accumulator:
//
//	accumulator * scale / (longTradingExpo * referencePrice)
//
// The identity multiplier (exactly 1.0 scaled) is returned when the long
// side has no trading expo or the accumulator is empty.
func FixedPrecisionMultiplier(acc hugeint.Uint512, longTradingExpo, referencePrice *uint256.Int) *uint256.Int {
	if longTradingExpo.IsZero() || acc.IsZero() {
		return new(uint256.Int).Set(MultiplierScale)
	}

	// accumulator*scale needs up to 572 bits of intermediate precision.
	numerator := new(big.Int).Mul(acc.ToBig(), MultiplierScale.ToBig())
	denominator := hugeint.Mul256(longTradingExpo, referencePrice).ToBig()
	numerator.Quo(numerator, denominator)

	m, overflow := uint256.FromBig(numerator)
	if overflow {
		// A multiplier beyond 256 bits means the accumulator no longer
		// matches the book; treat as corrupted state.
		panic("math: liquidation multiplier overflows 256 bits")
	}
	return m
}

// AdjustPrice applies the multiplier to an unadjusted tick price, yielding
// the current effective liquidation price.
func AdjustPrice(unadjusted, multiplier *uint256.Int) *uint256.Int {
	p, err := hugeint.Mul256(unadjusted, multiplier).Div(MultiplierScale)
	if err != nil {
		panic("math: adjusted price overflows 256 bits")
	}
	return p
}

// UnadjustPrice inverts AdjustPrice: converts an effective (desired)
// price back to the unadjusted tick-price domain.
func UnadjustPrice(adjusted, multiplier *uint256.Int) *uint256.Int {
	if multiplier.IsZero() {
		return new(uint256.Int).Set(adjusted)
	}
	p, err := hugeint.Mul256(adjusted, MultiplierScale).Div(multiplier)
	if err != nil {
		panic("math: unadjusted price overflows 256 bits")
	}
	return p
}

// ImbalanceBps expresses a signed imbalance as basis points of a reference
// exposure. Returns 0 when the reference is zero.
func ImbalanceBps(imbalance, referenceExpo *big.Int) *big.Int {
	if referenceExpo.Sign() == 0 {
		return new(big.Int)
	}
	v := new(big.Int).Mul(imbalance, big.NewInt(BPSDivisor))
	return v.Quo(v, referenceExpo)
}

// SharesForDeposit converts a vault deposit into stable-token shares at
// the current share price (1:1 bootstrap on an empty vault).
func SharesForDeposit(amount, totalShares, vaultAvailable *uint256.Int) *uint256.Int {
	if totalShares.IsZero() || vaultAvailable.IsZero() {
		return new(uint256.Int).Set(amount)
	}
	shares, err := hugeint.Mul256(amount, totalShares).Div(vaultAvailable)
	if err != nil {
		panic("math: share amount overflows 256 bits")
	}
	return shares
}

// AssetsForShares converts stable-token shares back into vault assets.
func AssetsForShares(shares, totalShares, vaultAvailable *uint256.Int) *uint256.Int {
	if totalShares.IsZero() {
		return new(uint256.Int)
	}
	assets, err := hugeint.Mul256(shares, vaultAvailable).Div(totalShares)
	if err != nil {
		panic("math: asset amount overflows 256 bits")
	}
	return assets
}
