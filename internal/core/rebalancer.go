package core

import (
	"math/big"

	"TickVault/internal/event"
	fpmath "TickVault/internal/math"
	"TickVault/internal/state"
	"TickVault/internal/tick"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// maybeTriggerRebalancer corrects a vault-heavy pool after a
// balance-affecting operation: the rebalancer's previous position is
// closed back into the vault and, if it has assets staged, a new position
// sized to fill the missing trading expo is opened, with a bonus paid
// from the vault as an incentive. No-op when no rebalancer is registered,
// the imbalance is under the trigger threshold, or the rebalancer has
// nothing to act with.
func (e *Engine) maybeTriggerRebalancer(price *uint256.Int, timestamp int64) {
	if e.rebalancer == nil {
		return
	}
	threshold := e.params.CloseExpoImbalanceLimitBps
	if threshold == 0 {
		return
	}

	tradingExpo := e.storage.LongTradingExpo().ToBig()
	if tradingExpo.Sign() <= 0 {
		return
	}
	imbalance := new(big.Int).Sub(e.storage.BalanceVault.ToBig(), tradingExpo)
	if imbalance.Sign() <= 0 {
		return
	}
	bps := fpmath.ImbalanceBps(imbalance, tradingExpo)
	if bps.Cmp(big.NewInt(threshold)) < 0 {
		return
	}

	id, hasPosition := e.rebalancer.CurrentPosition()
	pending := e.rebalancer.PendingAssets()
	hasPending := pending != nil && !pending.IsZero()
	if !hasPosition && !hasPending {
		return
	}

	// Roll the previous rebalancer position back into the vault, capped
	// by what the long side holds.
	closedValue := new(big.Int)
	mult := e.multiplier(price)
	if hasPosition {
		if pos, err := e.book.Position(id); err == nil {
			penalty := e.tickPenalty(id.Tick)
			if liqPrice, perr := e.effectiveTickPrice(id.Tick, penalty, mult); perr == nil {
				value := fpmath.PositionValue(pos.TotalExpo, liqPrice, price)
				expo := new(uint256.Int).Set(pos.TotalExpo)
				if _, _, rerr := e.book.RemovePosition(id); rerr == nil {
					if aerr := e.subFromAccumulator(id.Tick, penalty, expo); aerr != nil {
						panic("core: rebalancer tick outside price domain")
					}
					e.storage.TotalExpo.Sub(e.storage.TotalExpo, expo)
					closedValue = e.takeFromLong(value)
					cv, _ := uint256.FromBig(closedValue)
					e.storage.BalanceVault.Add(e.storage.BalanceVault, cv)
				}
			}
		}
	}

	if !hasPending {
		e.recordRebalance(bps, closedValue, new(uint256.Int), new(uint256.Int), new(uint256.Int), timestamp)
		return
	}

	// Size the new position so its trading expo fills the remaining gap,
	// bounded by the protocol and the rebalancer's own leverage caps.
	missing := new(big.Int).Sub(e.storage.BalanceVault.ToBig(), e.storage.LongTradingExpo().ToBig())
	if missing.Sign() <= 0 {
		e.recordRebalance(bps, closedValue, new(uint256.Int), new(uint256.Int), new(uint256.Int), timestamp)
		return
	}
	missingU, overflow := uint256.FromBig(missing)
	if overflow {
		return
	}
	targetExpo := new(uint256.Int).Add(pending, missingU)

	leverage, err := fpmath.Leverage(pending, targetExpo)
	if err != nil {
		return
	}
	maxLev := e.params.MaxLeverage
	if r := e.rebalancer.MaxLeverage(); r != nil && r.Lt(maxLev) {
		maxLev = r
	}
	if leverage.Gt(maxLev) {
		leverage = new(uint256.Int).Set(maxLev)
	}
	if leverage.Lt(e.params.MinLeverage) {
		leverage = new(uint256.Int).Set(e.params.MinLeverage)
	}

	liqPrice, err := fpmath.LiqPriceFromLeverage(price, leverage)
	if err != nil || liqPrice.IsZero() {
		return
	}
	unadjustedDesired := fpmath.UnadjustPrice(liqPrice, mult)
	targetTick, err := tick.TickFromDesiredLiqPrice(unadjustedDesired, e.params.LiquidationPenalty, e.params.TickSpacing)
	if err != nil {
		return
	}
	penalty := e.tickPenalty(targetTick)
	liqWithoutPenalty, err := e.effectiveTickPrice(targetTick, penalty, mult)
	if err != nil {
		return
	}
	totalExpo, err := fpmath.PositionTotalExpo(pending, price, liqWithoutPenalty)
	if err != nil {
		return
	}

	// Incentive: a share of the corrected gap moves vault -> long.
	bonus := new(uint256.Int).Mul(missingU, uint256.NewInt(uint64(e.params.RebalancerBonusBps)))
	bonus.Div(bonus, uint256.NewInt(fpmath.BPSDivisor))
	if bonus.Gt(e.storage.BalanceVault) {
		bonus = new(uint256.Int).Set(e.storage.BalanceVault)
	}

	pos := &state.Position{
		User:      uuid.Nil,
		Amount:    new(uint256.Int).Set(pending),
		TotalExpo: totalExpo,
		Timestamp: timestamp,
	}
	newID, newHighest := e.book.AddPosition(targetTick, pos, penalty)
	e.storage.TotalExpo.Add(e.storage.TotalExpo, totalExpo)
	e.storage.BalanceLong.Add(e.storage.BalanceLong, pending)
	e.storage.BalanceVault.Sub(e.storage.BalanceVault, bonus)
	e.storage.BalanceLong.Add(e.storage.BalanceLong, bonus)
	if err := e.addToAccumulator(targetTick, penalty, totalExpo); err != nil {
		panic("core: rebalancer tick outside price domain")
	}
	e.rebalancer.NotifyPositionAssigned(newID, pending)

	if newHighest {
		e.emit(timestamp, &event.HighestTickUpdated{
			Tick:      e.book.HighestPopulatedTick(),
			Timestamp: timestamp,
		})
	}
	e.recordRebalance(bps, closedValue, pending, leverage, bonus, timestamp)
}

func (e *Engine) recordRebalance(bps, closedValue *big.Int, opened, leverage, bonus *uint256.Int, timestamp int64) {
	e.emit(timestamp, &event.RebalancerTriggered{
		ImbalanceBps:   bps.Int64(),
		ClosedValue:    closedValue.String(),
		OpenedAmount:   opened.Dec(),
		OpenedLeverage: leverage.Dec(),
		Bonus:          bonus.Dec(),
		Timestamp:      timestamp,
	})
	if e.metrics != nil {
		e.metrics.RebalancerTriggers.Inc()
	}
	e.updateStateGauges()
}
