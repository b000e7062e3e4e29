// Package math holds the pure fixed-point arithmetic of the pool engine:
// funding rates, EMA smoothing, position sizing and the funding-adjusted
// liquidation-multiplier. All functions are side-effect free; callers own
// the state.
package math

import (
	"math/big"

	"github.com/holiman/uint256"
)

const (
	// RateDecimals is the fixed-point scale of funding rates and the EMA.
	RateDecimals = 18
	// FundingSFDecimals is the scale of the configured funding scaling factor.
	FundingSFDecimals = 3
	// LeverageDecimals is the scale of leverage values.
	LeverageDecimals = 18
	// MultiplierDecimals is the scale of the fixed-precision liquidation
	// multiplier (1.0 == 10^18).
	MultiplierDecimals = 18

	// BPSDivisor converts basis points to fractions.
	BPSDivisor = 10_000

	SecondsPerDay = 86_400
)

var (
	// RateScale is 10^RateDecimals.
	RateScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(RateDecimals), nil)
	// MultiplierScale is 10^MultiplierDecimals as a uint256.
	MultiplierScale = uint256.NewInt(1_000_000_000_000_000_000)
	// LeverageScale is 10^LeverageDecimals.
	LeverageScale = uint256.NewInt(1_000_000_000_000_000_000)

	// sfToRate converts the scaling factor scale to the rate scale
	// (10^(RateDecimals-FundingSFDecimals)).
	sfToRate = new(big.Int).Exp(big.NewInt(10), big.NewInt(RateDecimals-FundingSFDecimals), nil)
)
