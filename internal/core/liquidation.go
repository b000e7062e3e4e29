package core

import (
	"math/big"

	"TickVault/internal/event"
	fpmath "TickVault/internal/math"
	"TickVault/internal/oracle"
	"TickVault/internal/tick"

	"github.com/holiman/uint256"
)

// LiquidationResult summarizes one sweep.
type LiquidationResult struct {
	LiquidatedPositions uint32
	LiquidatedTicks     uint16
	// RemainingCollateral is the signed net value moved long -> vault
	// across all cleared ticks.
	RemainingCollateral *big.Int
}

// Liquidate is the public entry point: brings funding current, runs a
// bounded sweep at the oracle price, and may trigger the rebalancer.
func (e *Engine) Liquidate(timestamp int64, maxIterations uint16, extraData []byte) (LiquidationResult, error) {
	price, err := e.oracle.GetPrice(oracle.ActionLiquidation, timestamp, extraData)
	if err != nil {
		return LiquidationResult{}, err
	}
	if err := e.applyPnLAndFunding(price.Price, price.Timestamp); err != nil {
		return LiquidationResult{}, err
	}
	res := e.sweep(price.Price, price.Timestamp, maxIterations)
	e.maybeTriggerRebalancer(price.Price, price.Timestamp)
	e.updateStateGauges()
	return res, nil
}

// sweep clears underwater ticks from the top of the book down, at most
// maxIterations of them (hard-capped by configuration). Balances must
// already be funding-current. One event per cleared tick; the
// highest-tick notification fires once, with the final value.
func (e *Engine) sweep(currentPrice *uint256.Int, timestamp int64, maxIterations uint16) LiquidationResult {
	if maxIterations == 0 || maxIterations > e.params.MaxLiquidationIteration {
		maxIterations = e.params.MaxLiquidationIteration
	}

	res := LiquidationResult{RemainingCollateral: new(big.Int)}

	// The whole sweep settles against one multiplier observation: the
	// accumulator shrinks as ticks clear, but re-deriving the multiplier
	// mid-sweep would price earlier and later ticks inconsistently.
	mult := e.multiplier(currentPrice)

	// Ticks strictly above the current price's unadjusted tick hold
	// positions whose liquidation price is at or above the market.
	unadjusted := fpmath.UnadjustPrice(currentPrice, mult)
	currentTick, err := tick.TickAtPrice(unadjusted)
	if err != nil {
		// Price outside the tick domain: below range means every tick is
		// underwater, above range means none is.
		if !tickBelowRange(unadjusted) {
			return res
		}
		currentTick = tick.MinTick
	}

	highestBefore := e.book.HighestPopulatedTick()

	for res.LiquidatedTicks < maxIterations {
		// Retiring a tick advances the pointer, so each iteration reads
		// the current top of the book. The boundary is exclusive: the
		// tick holding the current price survives the sweep — its
		// liquidation price is at or below the market, and at exact
		// equality the tick's remaining value is zero, so any further
		// decline clears it with the next sweep.
		t := e.book.HighestPopulatedTick()
		if t <= currentTick || !e.bookHasTick(t) {
			break
		}
		liquidatedVersion := e.book.TickVersion(t)

		data, err := e.book.LiquidateTick(t)
		if err != nil {
			break
		}

		liqPriceWithoutPenalty, perr := e.effectiveTickPrice(t, data.LiquidationPenalty, mult)
		if perr != nil {
			// Should be unreachable for a populated tick; surface loudly.
			panic("core: populated tick outside price domain")
		}
		value := fpmath.TickValue(data.TotalExpo, liqPriceWithoutPenalty, currentPrice)
		e.transferTickValue(value)

		if serr := e.subFromAccumulator(t, data.LiquidationPenalty, data.TotalExpo); serr != nil {
			panic("core: populated tick outside price domain")
		}
		e.storage.TotalExpo.Sub(e.storage.TotalExpo, data.TotalExpo)

		res.LiquidatedTicks++
		res.LiquidatedPositions += data.TotalPositions
		res.RemainingCollateral.Add(res.RemainingCollateral, value)

		e.emit(timestamp, &event.TickLiquidated{
			Tick:        t,
			TickVersion: liquidatedVersion,
			Positions:   data.TotalPositions,
			TotalExpo:   data.TotalExpo.Dec(),
			TickValue:   value.String(),
			Price:       currentPrice.Dec(),
			Timestamp:   timestamp,
		})
	}

	if res.LiquidatedTicks > 0 && e.book.HighestPopulatedTick() != highestBefore {
		e.emit(timestamp, &event.HighestTickUpdated{
			Tick:      e.book.HighestPopulatedTick(),
			Timestamp: timestamp,
		})
	}

	if e.metrics != nil && res.LiquidatedTicks > 0 {
		e.metrics.TicksLiquidated.Add(float64(res.LiquidatedTicks))
		e.metrics.PositionsLiquidated.Add(float64(res.LiquidatedPositions))
		e.metrics.SweepIterations.Observe(float64(res.LiquidatedTicks))
	}
	return res
}

// transferTickValue settles a cleared tick's collateral between the two
// sides with bad-debt clamping: positive flows long -> vault, negative
// vault -> long, and a side short of funds gives what it has.
func (e *Engine) transferTickValue(value *big.Int) {
	switch value.Sign() {
	case 0:
		return
	case 1:
		v, _ := uint256.FromBig(value)
		if e.storage.BalanceLong.Lt(v) {
			v = new(uint256.Int).Set(e.storage.BalanceLong)
		}
		e.storage.BalanceLong.Sub(e.storage.BalanceLong, v)
		e.storage.BalanceVault.Add(e.storage.BalanceVault, v)
	default:
		v, _ := uint256.FromBig(new(big.Int).Neg(value))
		if e.storage.BalanceVault.Lt(v) {
			v = new(uint256.Int).Set(e.storage.BalanceVault)
		}
		e.storage.BalanceVault.Sub(e.storage.BalanceVault, v)
		e.storage.BalanceLong.Add(e.storage.BalanceLong, v)
	}
}

func (e *Engine) bookHasTick(t int32) bool {
	_, err := e.book.TickData(t)
	return err == nil
}

func tickBelowRange(unadjusted *uint256.Int) bool {
	minPrice, err := tick.PriceAtTick(tick.MinTick)
	if err != nil {
		return false
	}
	return unadjusted.Lt(minPrice)
}
