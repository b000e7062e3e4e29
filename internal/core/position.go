package core

import (
	"math/big"

	"TickVault/internal/event"
	"TickVault/internal/hugeint"
	fpmath "TickVault/internal/math"
	"TickVault/internal/oracle"
	"TickVault/internal/state"
	"TickVault/internal/tick"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// InitiateOpen starts a two-phase leveraged open. The target tick is
// pinned now; the position enters the book only at validation, with its
// exposure recomputed against the fresher price.
func (e *Engine) InitiateOpen(user, to, validator uuid.UUID, amount, desiredLiqPrice *uint256.Int, timestamp int64, extraData []byte) error {
	if amount == nil || amount.IsZero() {
		return ErrZeroAmount
	}
	if amount.Lt(e.params.MinPositionAmount) {
		return ErrAmountTooSmall
	}
	price, err := e.oracle.GetPrice(oracle.ActionInitiateOpen, timestamp, extraData)
	if err != nil {
		return err
	}
	if err := e.ensurePendingSlot(user, price.Timestamp); err != nil {
		return err
	}
	if err := e.applyPnLAndFunding(price.Price, price.Timestamp); err != nil {
		return err
	}
	e.sweep(price.Price, price.Timestamp, e.params.MaxLiquidationIteration)

	targetTick, totalExpo, err := e.sizeOpen(amount, desiredLiqPrice, price.Price)
	if err != nil {
		return err
	}

	deltaExpo := new(big.Int).Sub(totalExpo.ToBig(), amount.ToBig())
	if err := e.checkImbalanceLimit(longHeavy, e.params.OpenExpoImbalanceLimitBps,
		new(big.Int), deltaExpo); err != nil {
		return err
	}

	if err := e.custody.TransferIn(user, amount); err != nil {
		return err
	}
	if err := e.custody.TransferIn(user, e.params.SecurityDeposit); err != nil {
		return err
	}

	action := &state.OpenPositionAction{
		ActionInfo: state.ActionInfo{
			User:            user,
			To:              to,
			Validator:       validator,
			Timestamp:       price.Timestamp,
			SecurityDeposit: new(uint256.Int).Set(e.params.SecurityDeposit),
		},
		Amount:          new(uint256.Int).Set(amount),
		Tick:            targetTick,
		TickVersion:     e.book.TickVersion(targetTick),
		DesiredLiqPrice: new(uint256.Int).Set(desiredLiqPrice),
	}
	if _, err := e.queue.Add(action); err != nil {
		return err
	}

	e.emit(price.Timestamp, &event.PositionOpenInitiated{
		User:        user,
		Tick:        targetTick,
		TickVersion: action.TickVersion,
		Amount:      amount.Dec(),
		Timestamp:   price.Timestamp,
	})
	e.recordAction("initiate_open")
	return nil
}

// ValidateOpen finishes an open: the tick and exposure are recomputed
// against the validation price and the position is written into the book.
// A stale action (target tick liquidated in between) is voided silently,
// refunding only the security deposit.
func (e *Engine) ValidateOpen(user uuid.UUID, timestamp int64, extraData []byte) error {
	a, raw, err := e.queue.Require(user)
	if err != nil {
		return err
	}
	open, ok := a.(*state.OpenPositionAction)
	if !ok {
		return ErrActionMismatch
	}
	price, err := e.oracle.GetPrice(oracle.ActionValidateOpen, timestamp, extraData)
	if err != nil {
		return err
	}
	if err := e.applyPnLAndFunding(price.Price, price.Timestamp); err != nil {
		return err
	}
	e.sweep(price.Price, price.Timestamp, e.params.MaxLiquidationIteration)

	// The sweep may have just retired the target tick.
	if e.book.TickVersion(open.Tick) != open.TickVersion {
		if err := e.refundDeposit(open.Validator, open.SecurityDeposit); err != nil {
			return err
		}
		if err := e.queue.ClearAt(raw); err != nil {
			return err
		}
		e.emit(price.Timestamp, &event.StalePendingActionRemoved{
			User:        user,
			Tick:        open.Tick,
			TickVersion: open.TickVersion,
			Timestamp:   price.Timestamp,
		})
		if e.metrics != nil {
			e.metrics.StaleActionsEvicted.Inc()
		}
		return nil
	}

	fee := e.positionFee(open.Amount)
	amount := new(uint256.Int).Sub(open.Amount, fee)

	targetTick, totalExpo, err := e.sizeOpen(amount, open.DesiredLiqPrice, price.Price)
	if err != nil {
		return err
	}

	if err := e.refundDeposit(open.Validator, open.SecurityDeposit); err != nil {
		return err
	}

	penalty := e.tickPenalty(targetTick)
	pos := &state.Position{
		User:      open.To,
		Amount:    amount,
		TotalExpo: totalExpo,
		Timestamp: open.Timestamp,
	}
	id, newHighest := e.book.AddPosition(targetTick, pos, penalty)
	e.storage.TotalExpo.Add(e.storage.TotalExpo, totalExpo)
	e.storage.BalanceLong.Add(e.storage.BalanceLong, amount)
	e.storage.BalanceVault.Add(e.storage.BalanceVault, fee)
	if err := e.addToAccumulator(targetTick, penalty, totalExpo); err != nil {
		panic("core: opened tick outside price domain")
	}
	if err := e.queue.ClearAt(raw); err != nil {
		return err
	}

	if newHighest {
		e.emit(price.Timestamp, &event.HighestTickUpdated{
			Tick:      e.book.HighestPopulatedTick(),
			Timestamp: price.Timestamp,
		})
	}
	e.emit(price.Timestamp, &event.PositionOpenValidated{
		User:        user,
		Tick:        id.Tick,
		TickVersion: id.Version,
		Index:       id.Index,
		Amount:      amount.Dec(),
		TotalExpo:   totalExpo.Dec(),
		Timestamp:   price.Timestamp,
	})
	e.maybeTriggerRebalancer(price.Price, price.Timestamp)
	e.recordAction("validate_open")
	return nil
}

// InitiateClose lifts (all or part of) a position out of the book; the
// payout settles at validation against a second price.
func (e *Engine) InitiateClose(user, to, validator uuid.UUID, id state.PositionID, amountToClose *uint256.Int, timestamp int64, extraData []byte) error {
	if amountToClose == nil || amountToClose.IsZero() {
		return ErrZeroAmount
	}
	price, err := e.oracle.GetPrice(oracle.ActionInitiateClose, timestamp, extraData)
	if err != nil {
		return err
	}
	if err := e.ensurePendingSlot(user, price.Timestamp); err != nil {
		return err
	}
	if err := e.applyPnLAndFunding(price.Price, price.Timestamp); err != nil {
		return err
	}
	e.sweep(price.Price, price.Timestamp, e.params.MaxLiquidationIteration)

	// Resolve after the sweep: the position may just have been liquidated.
	pos, err := e.book.Position(id)
	if err != nil {
		return err
	}
	if pos.User != user {
		return ErrNotOwner
	}
	if amountToClose.Gt(pos.Amount) {
		return ErrCloseExceedsPosition
	}
	remaining := new(uint256.Int).Sub(pos.Amount, amountToClose)
	if !remaining.IsZero() && remaining.Lt(e.params.MinPositionAmount) {
		return ErrAmountTooSmall
	}

	// Pro-rata share of the position's exposure.
	expoToClose, err := hugeMulDiv(pos.TotalExpo, amountToClose, pos.Amount)
	if err != nil {
		return err
	}

	mult := e.multiplier(price.Price)
	penalty := e.tickPenalty(id.Tick)
	liqPriceWithoutPenalty, err := e.effectiveTickPrice(id.Tick, penalty, mult)
	if err != nil {
		return err
	}
	value := fpmath.PositionValue(expoToClose, liqPriceWithoutPenalty, price.Price)

	deltaExpo := new(big.Int).Neg(new(big.Int).Sub(expoToClose.ToBig(), value))
	if err := e.checkImbalanceLimit(vaultHeavy, e.params.CloseExpoImbalanceLimitBps,
		new(big.Int), deltaExpo); err != nil {
		return err
	}

	if err := e.custody.TransferIn(user, e.params.SecurityDeposit); err != nil {
		return err
	}

	// Remove the closed share from the book and hold its current value
	// aside until validation settles the final payout.
	if amountToClose.Eq(pos.Amount) {
		if _, _, err := e.book.RemovePosition(id); err != nil {
			return err
		}
	} else {
		if err := e.book.ReduceExposure(id, amountToClose, expoToClose); err != nil {
			return err
		}
	}
	if err := e.subFromAccumulator(id.Tick, penalty, expoToClose); err != nil {
		panic("core: closed tick outside price domain")
	}
	e.storage.TotalExpo.Sub(e.storage.TotalExpo, expoToClose)

	tempTransfer := e.takeFromLong(value)

	action := &state.ClosePositionAction{
		ActionInfo: state.ActionInfo{
			User:            user,
			To:              to,
			Validator:       validator,
			Timestamp:       price.Timestamp,
			SecurityDeposit: new(uint256.Int).Set(e.params.SecurityDeposit),
		},
		Tick:          id.Tick,
		TickVersion:   id.Version,
		Amount:        new(uint256.Int).Set(amountToClose),
		TotalExpo:     expoToClose,
		LiqMultiplier: mult,
		TempTransfer:  tempTransfer,
	}
	if _, err := e.queue.Add(action); err != nil {
		return err
	}

	e.emit(price.Timestamp, &event.PositionCloseInitiated{
		User:        user,
		Tick:        id.Tick,
		TickVersion: id.Version,
		Index:       id.Index,
		Amount:      amountToClose.Dec(),
		TotalExpo:   expoToClose.Dec(),
		Timestamp:   price.Timestamp,
	})
	e.recordAction("initiate_close")
	return nil
}

// ValidateClose settles a pending close at the validation price. If the
// price crossed the position's liquidation price while pending, the user
// is liquidated instead of paid: the held value goes to the vault.
func (e *Engine) ValidateClose(user uuid.UUID, timestamp int64, extraData []byte) error {
	a, raw, err := e.queue.Require(user)
	if err != nil {
		return err
	}
	cl, ok := a.(*state.ClosePositionAction)
	if !ok {
		return ErrActionMismatch
	}
	price, err := e.oracle.GetPrice(oracle.ActionValidateClose, timestamp, extraData)
	if err != nil {
		return err
	}
	if err := e.applyPnLAndFunding(price.Price, price.Timestamp); err != nil {
		return err
	}
	e.sweep(price.Price, price.Timestamp, e.params.MaxLiquidationIteration)

	penalty := e.tickPenalty(cl.Tick)
	liqPriceWithoutPenalty, err := e.effectiveTickPrice(cl.Tick, penalty, cl.LiqMultiplier)
	if err != nil {
		return err
	}
	liqPrice, err := e.effectiveLiqPrice(cl.Tick, cl.LiqMultiplier)
	if err != nil {
		return err
	}

	var payout *uint256.Int
	if !price.Price.Gt(liqPrice) {
		// Liquidated while pending: nothing for the user, the held value
		// is socialized to the vault.
		payout = new(uint256.Int)
	} else {
		v := fpmath.PositionValue(cl.TotalExpo, liqPriceWithoutPenalty, price.Price)
		if v.Sign() < 0 {
			v.SetInt64(0)
		}
		fee := new(big.Int).Mul(v, big.NewInt(e.params.PositionFeeBps))
		fee.Quo(fee, big.NewInt(fpmath.BPSDivisor))
		v.Sub(v, fee)
		payout, _ = uint256.FromBig(v)
	}

	if err := e.custody.TransferOut(cl.To, payout); err != nil {
		return err
	}
	if err := e.refundDeposit(cl.Validator, cl.SecurityDeposit); err != nil {
		return err
	}

	// Settle the held value against the final payout: any difference is
	// absorbed by (or drawn from) the vault side.
	diff := new(big.Int).Sub(cl.TempTransfer, payout.ToBig())
	if diff.Sign() > 0 {
		d, _ := uint256.FromBig(diff)
		e.storage.BalanceVault.Add(e.storage.BalanceVault, d)
	} else if diff.Sign() < 0 {
		d, _ := uint256.FromBig(new(big.Int).Neg(diff))
		if d.Gt(e.storage.BalanceVault) {
			d = new(uint256.Int).Set(e.storage.BalanceVault)
		}
		e.storage.BalanceVault.Sub(e.storage.BalanceVault, d)
	}
	if err := e.queue.ClearAt(raw); err != nil {
		return err
	}

	e.emit(price.Timestamp, &event.PositionCloseValidated{
		User:      user,
		To:        cl.To,
		Tick:      cl.Tick,
		Payout:    payout.Dec(),
		Timestamp: price.Timestamp,
	})
	e.maybeTriggerRebalancer(price.Price, price.Timestamp)
	e.recordAction("validate_close")
	return nil
}

// sizeOpen maps a desired liquidation price to its tick and computes the
// position's exposure at the given entry price, enforcing leverage bounds.
func (e *Engine) sizeOpen(amount, desiredLiqPrice, entryPrice *uint256.Int) (int32, *uint256.Int, error) {
	mult := e.multiplier(entryPrice)
	unadjustedDesired := fpmath.UnadjustPrice(desiredLiqPrice, mult)

	penalty := e.params.LiquidationPenalty
	targetTick, err := tick.TickFromDesiredLiqPrice(unadjustedDesired, penalty, e.params.TickSpacing)
	if err != nil {
		return 0, nil, ErrInvalidLiquidationPrice
	}
	// An already-populated tick keeps its own penalty.
	penalty = e.tickPenalty(targetTick)

	liqPriceWithoutPenalty, err := e.effectiveTickPrice(targetTick, penalty, mult)
	if err != nil {
		return 0, nil, ErrInvalidLiquidationPrice
	}
	totalExpo, err := fpmath.PositionTotalExpo(amount, entryPrice, liqPriceWithoutPenalty)
	if err != nil {
		return 0, nil, ErrInvalidLiquidationPrice
	}
	leverage, err := fpmath.Leverage(amount, totalExpo)
	if err != nil {
		return 0, nil, err
	}
	if leverage.Lt(e.params.MinLeverage) {
		return 0, nil, ErrLeverageTooLow
	}
	if leverage.Gt(e.params.MaxLeverage) {
		return 0, nil, ErrLeverageTooHigh
	}
	return targetTick, totalExpo, nil
}

// tickPenalty is the penalty new positions in a tick inherit: the tick's
// own if populated, the configured default otherwise.
func (e *Engine) tickPenalty(t int32) uint8 {
	if td, err := e.book.TickData(t); err == nil {
		return td.LiquidationPenalty
	}
	return e.params.LiquidationPenalty
}

// effectiveLiqPrice is the tick's funding-adjusted price with the penalty
// included (the price at which its positions actually liquidate).
func (e *Engine) effectiveLiqPrice(t int32, mult *uint256.Int) (*uint256.Int, error) {
	unadj, err := tick.PriceAtTick(t)
	if err != nil {
		return nil, err
	}
	return fpmath.AdjustPrice(unadj, mult), nil
}

// takeFromLong moves a signed value out of the long balance (clamped to
// what it holds) and returns the amount actually taken.
func (e *Engine) takeFromLong(value *big.Int) *big.Int {
	if value.Sign() <= 0 {
		return new(big.Int)
	}
	v, _ := uint256.FromBig(value)
	if v.Gt(e.storage.BalanceLong) {
		v = new(uint256.Int).Set(e.storage.BalanceLong)
	}
	e.storage.BalanceLong.Sub(e.storage.BalanceLong, v)
	return v.ToBig()
}

// hugeMulDiv computes a*b/c with 512-bit intermediate precision.
func hugeMulDiv(a, b, c *uint256.Int) (*uint256.Int, error) {
	return hugeint.Mul256(a, b).Div(c)
}
