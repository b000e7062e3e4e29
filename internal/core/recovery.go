package core

import (
	"TickVault/internal/event"
	fpmath "TickVault/internal/math"
	"TickVault/internal/state"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// recoveryGraceSeconds is added on top of both validation deadlines
// before an admin may force-remove a blocked action.
const recoveryGraceSeconds = 3_600

// RemoveBlockedPendingAction force-removes a pending action that can no
// longer be validated. Permitted only after the validator deadline, the
// low-latency deadline and a one-hour grace have all elapsed since the
// action's timestamp. With cleanup, the action's provisional effects are
// reversed and its value refunded to the given address; without, only the
// queue entry is dropped. A rejected security-deposit transfer aborts the
// whole recovery with nothing applied.
func (e *Engine) RemoveBlockedPendingAction(user, to uuid.UUID, cleanup bool, timestamp int64) error {
	a, raw, err := e.queue.Require(user)
	if err != nil {
		return err
	}
	info := a.Info()
	deadline := info.Timestamp + e.params.ValidatorDeadline + e.params.LowLatencyDeadline + recoveryGraceSeconds
	if timestamp < deadline {
		return ErrUnauthorized
	}

	// All custody calls run before any state change, and the deposit
	// refund runs last: a rejected cleanup transfer aborts with the
	// deposit unpaid and the entry intact, so a retry never pays twice.
	if cleanup {
		if err := e.reverseActionCustody(a, to); err != nil {
			return err
		}
	}
	if err := e.refundDeposit(to, info.SecurityDeposit); err != nil {
		return err
	}
	if cleanup {
		e.reverseActionState(a)
	}
	if err := e.queue.ClearAt(raw); err != nil {
		return err
	}

	e.emit(timestamp, &event.PendingActionRemoved{
		User:      user,
		Action:    a.Kind().String(),
		Cleanup:   cleanup,
		Timestamp: timestamp,
	})
	if e.metrics != nil {
		label := "false"
		if cleanup {
			label = "true"
		}
		e.metrics.BlockedActionsRemoved.WithLabelValues(label).Inc()
	}
	e.updateStateGauges()
	return nil
}

// reverseActionCustody pays an action's provisional value back to the
// recipient. No state is touched: a rejected transfer must leave the
// entry intact for a retry.
func (e *Engine) reverseActionCustody(a state.PendingAction, to uuid.UUID) error {
	switch act := a.(type) {
	case *state.DepositAction:
		// The collateral was pulled in at initiation; hand it back.
		return e.custody.TransferOut(to, act.Amount)

	case *state.WithdrawalAction:
		// The shares sit in escrow; return them.
		return e.custody.ReturnEscrowedShares(to, act.Shares)

	case *state.OpenPositionAction:
		// The position never entered the book; refund the collateral.
		return e.custody.TransferOut(to, act.Amount)

	case *state.ClosePositionAction:
		// The closed share's value was held aside at initiation; pay it
		// out rather than re-inserting a position the book has moved past.
		if act.TempTransfer.Sign() > 0 {
			v, _ := uint256.FromBig(act.TempTransfer)
			return e.custody.TransferOut(to, v)
		}
	}
	return nil
}

// reverseActionState releases the reservations recorded at initiation.
func (e *Engine) reverseActionState(a state.PendingAction) {
	switch act := a.(type) {
	case *state.DepositAction:
		e.storage.PendingBalanceVault.Sub(e.storage.PendingBalanceVault, act.Amount.ToBig())

	case *state.WithdrawalAction:
		assets := fpmath.AssetsForShares(act.Shares, act.TotalShares, act.BalanceVault)
		e.storage.PendingBalanceVault.Add(e.storage.PendingBalanceVault, assets.ToBig())
	}
}
