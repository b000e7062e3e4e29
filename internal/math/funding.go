package math

import (
	"math/big"

	"github.com/holiman/uint256"
)

// FundingPerDay computes the daily funding rate (rate scale) from the two
// sides' trading exposures, the configured scaling factor (SF scale) and
// the current EMA (rate scale).
//
// Funding is proportional to the SQUARE of the relative imbalance between
// the trading exposures: halving the imbalance quarters the rate. When the
// vault side has no trading expo the rate saturates at the full scaling
// factor in the direction of the long side.
func FundingPerDay(longTradingExpo, vaultTradingExpo *uint256.Int, scalingFactor, ema *big.Int) *big.Int {
	long := longTradingExpo.ToBig()
	vault := vaultTradingExpo.ToBig()

	base := new(big.Int).Mul(scalingFactor, sfToRate)

	if vault.Sign() == 0 {
		if long.Sign() == 0 {
			return new(big.Int).Set(ema)
		}
		return base.Add(base, ema)
	}

	imbalance := new(big.Int).Sub(long, vault)
	sign := imbalance.Sign()
	if sign == 0 {
		return new(big.Int).Set(ema)
	}

	numerator := new(big.Int).Mul(imbalance, imbalance) // imbalance^2, always positive

	denominator := long
	if vault.Cmp(long) > 0 {
		denominator = vault
	}
	denominator = new(big.Int).Mul(denominator, denominator)

	rate := numerator.Mul(numerator, base)
	rate.Quo(rate, denominator)
	if sign < 0 {
		rate.Neg(rate)
	}
	return rate.Add(rate, ema)
}

// CumulativeFunding scales a daily rate to the elapsed interval.
func CumulativeFunding(fundingPerDay *big.Int, elapsedSeconds int64) *big.Int {
	f := new(big.Int).Mul(fundingPerDay, big.NewInt(elapsedSeconds))
	return f.Quo(f, big.NewInt(SecondsPerDay))
}

// UpdateEMA decays the EMA toward the latest funding rate with a time
// constant of emaPeriod seconds. Once a full period has elapsed the EMA
// snaps exactly to the latest rate.
func UpdateEMA(fundingPerDay, prevEMA *big.Int, elapsedSeconds, emaPeriod int64) *big.Int {
	if elapsedSeconds >= emaPeriod {
		return new(big.Int).Set(fundingPerDay)
	}
	// (rate*elapsed + ema*(period-elapsed)) / period
	a := new(big.Int).Mul(fundingPerDay, big.NewInt(elapsedSeconds))
	b := new(big.Int).Mul(prevEMA, big.NewInt(emaPeriod-elapsedSeconds))
	a.Add(a, b)
	return a.Quo(a, big.NewInt(emaPeriod))
}

// FundingAsset converts a cumulative funding rate into asset units owed by
// the paying side, given the long trading expo the rate applies to.
// Positive means the long side pays the vault.
func FundingAsset(cumulativeFunding *big.Int, longTradingExpo *uint256.Int) *big.Int {
	f := new(big.Int).Mul(cumulativeFunding, longTradingExpo.ToBig())
	return f.Quo(f, RateScale)
}
