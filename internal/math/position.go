package math

import (
	"fmt"
	"math/big"

	"TickVault/internal/hugeint"

	"github.com/holiman/uint256"
)

// ErrLiqPriceNotBelowStart is returned when a position's liquidation price
// would not sit strictly below its entry price.
var ErrLiqPriceNotBelowStart = fmt.Errorf("liquidation price must be below start price")

// PositionTotalExpo computes the leveraged exposure of a position from its
// collateral amount, entry price and (unadjusted) liquidation price:
// amount * startPrice / (startPrice - liqPrice). Always >= amount.
func PositionTotalExpo(amount, startPrice, liqPrice *uint256.Int) (*uint256.Int, error) {
	if !liqPrice.Lt(startPrice) {
		return nil, ErrLiqPriceNotBelowStart
	}
	delta := new(uint256.Int).Sub(startPrice, liqPrice)
	expo, err := hugeint.Mul256(amount, startPrice).Div(delta)
	if err != nil {
		return nil, err
	}
	return expo, nil
}

// Leverage returns totalExpo/amount at leverage scale.
func Leverage(amount, totalExpo *uint256.Int) (*uint256.Int, error) {
	if amount.IsZero() {
		return nil, fmt.Errorf("zero amount")
	}
	return hugeint.Mul256(totalExpo, LeverageScale).Div(amount)
}

// LiqPriceFromLeverage derives the unadjusted liquidation price implied by
// an entry price and a target leverage (leverage scale):
// startPrice - startPrice*scale/leverage.
func LiqPriceFromLeverage(startPrice, leverage *uint256.Int) (*uint256.Int, error) {
	if leverage.IsZero() {
		return nil, fmt.Errorf("zero leverage")
	}
	inv, err := hugeint.Mul256(startPrice, LeverageScale).Div(leverage)
	if err != nil {
		return nil, err
	}
	return new(uint256.Int).Sub(startPrice, inv), nil
}

// TickValue returns the net collateral a fully liquidated tick is worth at
// the current price, signed: positive flows long -> vault, negative
// (underwater past the liquidation price) flows vault -> long.
//
//	value = totalExpo * (currentPrice - liqPriceWithoutPenalty) / currentPrice
func TickValue(totalExpo, liqPriceWithoutPenalty, currentPrice *uint256.Int) *big.Int {
	diff := new(big.Int).Sub(currentPrice.ToBig(), liqPriceWithoutPenalty.ToBig())
	v := diff.Mul(diff, totalExpo.ToBig())
	return v.Quo(v, currentPrice.ToBig())
}

// PositionValue returns what a single position is worth at the current
// price, signed the same way as TickValue.
func PositionValue(totalExpo, liqPriceWithoutPenalty, currentPrice *uint256.Int) *big.Int {
	return TickValue(totalExpo, liqPriceWithoutPenalty, currentPrice)
}

// LongAssetAvailable applies the price PnL since oldPrice to the long
// balance: balanceLong + longTradingExpo*(newPrice-oldPrice)/newPrice.
// The result may be negative before the caller's bad-debt clamping.
func LongAssetAvailable(totalExpo, balanceLong, newPrice, oldPrice *uint256.Int) *big.Int {
	tradingExpo := new(big.Int).Sub(totalExpo.ToBig(), balanceLong.ToBig())
	pnl := tradingExpo.Mul(tradingExpo, new(big.Int).Sub(newPrice.ToBig(), oldPrice.ToBig()))
	pnl.Quo(pnl, newPrice.ToBig())
	return pnl.Add(pnl, balanceLong.ToBig())
}
