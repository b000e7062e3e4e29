package core_test

import (
	"errors"
	"testing"

	"TickVault/internal/core"
	"TickVault/internal/event"
	"TickVault/internal/state"

	"github.com/google/uuid"
)

// recoveryDeadline is the earliest instant an initiated-at-startTime
// action may be force-removed: both validation deadlines plus the grace.
func recoveryDeadline(h interface{ Params() state.Params }) int64 {
	p := h.Params()
	return startTime + p.ValidatorDeadline + p.LowLatencyDeadline + 3600
}

func TestRecoveryRejectsBeforeDeadline(t *testing.T) {
	h := newVaultHarness(t)
	user := uuid.New()
	admin := uuid.New()
	if err := h.Engine.InitiateDeposit(user, user, user, e18(100), startTime, nil); err != nil {
		t.Fatalf("initiate deposit: %v", err)
	}

	early := recoveryDeadline(h.Engine) - 1
	if err := h.Engine.RemoveBlockedPendingAction(user, admin, true, early); !errors.Is(err, core.ErrUnauthorized) {
		t.Fatalf("early recovery = %v, want ErrUnauthorized", err)
	}
	if got := h.Engine.Queue().Len(); got != 1 {
		t.Errorf("queue length after rejected recovery = %d, want 1", got)
	}
}

func TestRecoveryWithoutCleanupDropsEntryOnly(t *testing.T) {
	h := newVaultHarness(t)
	user := uuid.New()
	admin := uuid.New()
	amount := e18(100)
	if err := h.Engine.InitiateDeposit(user, user, user, amount, startTime, nil); err != nil {
		t.Fatalf("initiate deposit: %v", err)
	}

	if err := h.Engine.RemoveBlockedPendingAction(user, admin, false, recoveryDeadline(h.Engine)); err != nil {
		t.Fatalf("recovery: %v", err)
	}
	if got := h.Engine.Queue().Len(); got != 0 {
		t.Errorf("queue length = %d, want 0", got)
	}
	// The security deposit goes to the recipient, but the provisional
	// deposit is deliberately left in place.
	if got := h.Custody.Refunded[admin]; got == nil || !got.Eq(h.Engine.Params().SecurityDeposit) {
		t.Errorf("refund %v, want %s", got, h.Engine.Params().SecurityDeposit)
	}
	if got := h.Custody.Out[admin]; got != nil {
		t.Errorf("unexpected payout %s without cleanup", got)
	}
	if h.Engine.Storage().PendingBalanceVault.Cmp(amount.ToBig()) != 0 {
		t.Errorf("pending vault balance = %s, want %s", h.Engine.Storage().PendingBalanceVault, amount.ToBig())
	}

	evs := h.EventsOfKind(event.KindPendingActionRemoved)
	if len(evs) != 1 {
		t.Fatalf("PendingActionRemoved events = %d, want 1", len(evs))
	}
	if p := evs[0].Payload.(*event.PendingActionRemoved); p.Cleanup {
		t.Errorf("event cleanup flag = true, want false")
	}
}

func TestRecoveryWithCleanupReversesDeposit(t *testing.T) {
	h := newVaultHarness(t)
	user := uuid.New()
	admin := uuid.New()
	amount := e18(100)
	if err := h.Engine.InitiateDeposit(user, user, user, amount, startTime, nil); err != nil {
		t.Fatalf("initiate deposit: %v", err)
	}

	if err := h.Engine.RemoveBlockedPendingAction(user, admin, true, recoveryDeadline(h.Engine)); err != nil {
		t.Fatalf("recovery: %v", err)
	}
	if got := h.Custody.Out[admin]; got == nil || !got.Eq(amount) {
		t.Errorf("cleanup payout %v, want %s", got, amount)
	}
	if h.Engine.Storage().PendingBalanceVault.Sign() != 0 {
		t.Errorf("pending vault balance = %s, want 0", h.Engine.Storage().PendingBalanceVault)
	}
}

func TestRecoveryWithCleanupReturnsEscrowedShares(t *testing.T) {
	h := newVaultHarness(t)
	user := uuid.New()
	admin := uuid.New()
	bootstrapVault(t, h, user, e18(1000))

	shares := e18(400)
	if err := h.Engine.InitiateWithdrawal(user, user, user, shares, startTime, nil); err != nil {
		t.Fatalf("initiate withdrawal: %v", err)
	}

	if err := h.Engine.RemoveBlockedPendingAction(user, admin, true, recoveryDeadline(h.Engine)); err != nil {
		t.Fatalf("recovery: %v", err)
	}
	if h.Custody.Escrowed.Sign() != 0 {
		t.Errorf("escrow not released: %s", h.Custody.Escrowed)
	}
	if h.Custody.Burned.Sign() != 0 {
		t.Errorf("shares burned during recovery: %s", h.Custody.Burned)
	}
	// The projected payout reservation is released.
	if h.Engine.Storage().PendingBalanceVault.Sign() != 0 {
		t.Errorf("pending vault balance = %s, want 0", h.Engine.Storage().PendingBalanceVault)
	}
}

func TestRecoveryAbortsWhenRefundRejected(t *testing.T) {
	h := newVaultHarness(t)
	user := uuid.New()
	admin := uuid.New()
	amount := e18(100)
	if err := h.Engine.InitiateDeposit(user, user, user, amount, startTime, nil); err != nil {
		t.Fatalf("initiate deposit: %v", err)
	}

	h.Custody.FailRefund = true
	err := h.Engine.RemoveBlockedPendingAction(user, admin, true, recoveryDeadline(h.Engine))
	if !errors.Is(err, core.ErrRefundFailed) {
		t.Fatalf("recovery with rejected refund = %v, want ErrRefundFailed", err)
	}
	// Engine state untouched: the action is still queued and the
	// provisional deposit reservation stands.
	if got := h.Engine.Queue().Len(); got != 1 {
		t.Errorf("queue length = %d, want 1", got)
	}
	if h.Engine.Storage().PendingBalanceVault.Cmp(amount.ToBig()) != 0 {
		t.Errorf("pending vault balance = %s, want %s", h.Engine.Storage().PendingBalanceVault, amount.ToBig())
	}
	if got := h.Custody.Refunded[admin]; got != nil {
		t.Errorf("deposit refunded %s despite aborted recovery", got)
	}
}

// A rejected cleanup transfer must abort before the security deposit is
// paid, so a retry never refunds it twice.
func TestRecoveryAbortsWhenCleanupRejected(t *testing.T) {
	h := newVaultHarness(t)
	user := uuid.New()
	admin := uuid.New()
	amount := e18(100)
	if err := h.Engine.InitiateDeposit(user, user, user, amount, startTime, nil); err != nil {
		t.Fatalf("initiate deposit: %v", err)
	}

	h.Custody.FailTransferOut = true
	err := h.Engine.RemoveBlockedPendingAction(user, admin, true, recoveryDeadline(h.Engine))
	if err == nil {
		t.Fatal("recovery with rejected cleanup succeeded")
	}
	if got := h.Engine.Queue().Len(); got != 1 {
		t.Errorf("queue length = %d, want 1", got)
	}
	if got := h.Custody.Refunded[admin]; got != nil {
		t.Errorf("deposit refunded %s before cleanup completed", got)
	}
	if h.Engine.Storage().PendingBalanceVault.Cmp(amount.ToBig()) != 0 {
		t.Errorf("pending vault balance = %s, want %s", h.Engine.Storage().PendingBalanceVault, amount.ToBig())
	}

	// The retry applies everything exactly once.
	h.Custody.FailTransferOut = false
	if err := h.Engine.RemoveBlockedPendingAction(user, admin, true, recoveryDeadline(h.Engine)); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if got := h.Custody.Refunded[admin]; got == nil || !got.Eq(h.Engine.Params().SecurityDeposit) {
		t.Errorf("refund %v, want %s", got, h.Engine.Params().SecurityDeposit)
	}
	if got := h.Custody.Out[admin]; got == nil || !got.Eq(amount) {
		t.Errorf("cleanup payout %v, want %s", got, amount)
	}
	if h.Engine.Storage().PendingBalanceVault.Sign() != 0 {
		t.Errorf("pending vault balance = %s, want 0", h.Engine.Storage().PendingBalanceVault)
	}
}

func TestRecoveryWithoutPendingAction(t *testing.T) {
	h := newVaultHarness(t)
	err := h.Engine.RemoveBlockedPendingAction(uuid.New(), uuid.New(), true, recoveryDeadline(h.Engine))
	if !errors.Is(err, state.ErrNoPendingAction) {
		t.Fatalf("recovery without pending = %v, want ErrNoPendingAction", err)
	}
}
