package core

import (
	"fmt"
	"math/big"

	"TickVault/internal/event"
	fpmath "TickVault/internal/math"
	"TickVault/internal/state"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// ensurePendingSlot guarantees the user can queue a new action. A live
// entry fails with ErrPendingActionExists unless it is an OpenPosition
// action whose target tick was liquidated since initiation: that entry is
// evicted and only its security deposit refunded.
func (e *Engine) ensurePendingSlot(user uuid.UUID, timestamp int64) error {
	existing, _ := e.queue.Get(user)
	if existing == nil {
		return nil
	}
	open, ok := existing.(*state.OpenPositionAction)
	if !ok || e.book.TickVersion(open.Tick) == open.TickVersion {
		return state.ErrPendingActionExists
	}

	// Stale open: refund the deposit before touching the queue so a
	// rejected transfer leaves everything in place.
	if err := e.custody.RefundSecurityDeposit(user, open.SecurityDeposit); err != nil {
		return fmt.Errorf("%w: %v", ErrRefundFailed, err)
	}
	if _, err := e.queue.Remove(user); err != nil {
		return err
	}
	e.emit(timestamp, &event.StalePendingActionRemoved{
		User:        user,
		Tick:        open.Tick,
		TickVersion: open.TickVersion,
		Timestamp:   timestamp,
	})
	if e.metrics != nil {
		e.metrics.StaleActionsEvicted.Inc()
	}
	return nil
}

// imbalance direction markers for checkImbalanceLimit.
type imbalanceSide uint8

const (
	// vaultHeavy: the action grows the vault side relative to the long
	// trading expo (deposits, closes).
	vaultHeavy imbalanceSide = iota
	// longHeavy: the action grows the long trading expo relative to the
	// vault (opens, withdrawals).
	longHeavy
)

// checkImbalanceLimit rejects an action that would push the pool past the
// configured imbalance limit for its direction. deltaVault and deltaTradingExpo
// are the action's projected effect, signed. A zero limit disables the check.
func (e *Engine) checkImbalanceLimit(side imbalanceSide, limitBps int64, deltaVault, deltaTradingExpo *big.Int) error {
	if limitBps == 0 {
		return nil
	}
	vault := new(big.Int).Add(e.storage.BalanceVault.ToBig(), deltaVault)
	tradingExpo := new(big.Int).Add(e.storage.LongTradingExpo().ToBig(), deltaTradingExpo)

	var imbalance, reference *big.Int
	switch side {
	case vaultHeavy:
		// (vault - longTradingExpo) / longTradingExpo
		reference = tradingExpo
		imbalance = new(big.Int).Sub(vault, tradingExpo)
	default:
		// (longTradingExpo - vault) / vault
		reference = vault
		imbalance = new(big.Int).Sub(tradingExpo, vault)
	}
	if reference.Sign() <= 0 {
		return ErrZeroTradingExpo
	}
	bps := fpmath.ImbalanceBps(imbalance, reference)
	if bps.Cmp(big.NewInt(limitBps)) > 0 {
		return ErrImbalanceLimitReached
	}
	return nil
}

// refundDeposit returns an action's security deposit to its validator (or
// whoever completed the action).
func (e *Engine) refundDeposit(to uuid.UUID, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return nil
	}
	if err := e.custody.RefundSecurityDeposit(to, amount); err != nil {
		return fmt.Errorf("%w: %v", ErrRefundFailed, err)
	}
	return nil
}
