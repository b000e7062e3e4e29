package core_test

import (
	"errors"
	"math/big"
	"testing"

	"TickVault/internal/core"
	"TickVault/internal/event"
	"TickVault/internal/state"
	"TickVault/internal/testutil"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

func e18(n uint64) *uint256.Int {
	v := uint256.NewInt(n)
	return v.Mul(v, uint256.NewInt(1_000_000_000_000_000_000))
}

const startTime = int64(1_700_000_000)

func newVaultHarness(t *testing.T) *testutil.Harness {
	t.Helper()
	return testutil.NewHarness(t, testutil.TestParams(), e18(2000), startTime, nil)
}

// bootstrapVault runs a full deposit through both phases so later tests
// start from a funded vault.
func bootstrapVault(t *testing.T, h *testutil.Harness, user uuid.UUID, amount *uint256.Int) {
	t.Helper()
	if err := h.Engine.InitiateDeposit(user, user, user, amount, startTime, nil); err != nil {
		t.Fatalf("bootstrap initiate deposit: %v", err)
	}
	if err := h.Engine.ValidateDeposit(user, startTime, nil); err != nil {
		t.Fatalf("bootstrap validate deposit: %v", err)
	}
	h.Events() // discard bootstrap events
}

func TestDepositLifecycle(t *testing.T) {
	h := newVaultHarness(t)
	user := uuid.New()
	to := uuid.New()
	validator := uuid.New()
	deposit := e18(100)

	if err := h.Engine.InitiateDeposit(user, to, validator, deposit, startTime, nil); err != nil {
		t.Fatalf("initiate deposit: %v", err)
	}
	if got := h.Engine.Queue().Len(); got != 1 {
		t.Fatalf("queue length after initiate = %d, want 1", got)
	}
	if h.Engine.Storage().PendingBalanceVault.Cmp(deposit.ToBig()) != 0 {
		t.Errorf("pending vault balance = %s, want %s", h.Engine.Storage().PendingBalanceVault, deposit.ToBig())
	}
	wantIn := new(uint256.Int).Add(deposit, h.Engine.Params().SecurityDeposit)
	if got := h.Custody.In[user]; got == nil || !got.Eq(wantIn) {
		t.Errorf("pulled in %v, want %s", got, wantIn)
	}

	// One pending action per user.
	err := h.Engine.InitiateDeposit(user, to, validator, deposit, startTime, nil)
	if !errors.Is(err, state.ErrPendingActionExists) {
		t.Fatalf("second initiate error = %v, want ErrPendingActionExists", err)
	}

	if err := h.Engine.ValidateDeposit(user, startTime, nil); err != nil {
		t.Fatalf("validate deposit: %v", err)
	}
	if got := h.Engine.Queue().Len(); got != 0 {
		t.Errorf("queue length after validate = %d, want 0", got)
	}
	// Empty vault bootstraps shares 1:1.
	if got := h.Custody.Minted[to]; got == nil || !got.Eq(deposit) {
		t.Errorf("minted %v, want %s", got, deposit)
	}
	if got := h.Custody.Refunded[validator]; got == nil || !got.Eq(h.Engine.Params().SecurityDeposit) {
		t.Errorf("validator refund %v, want %s", got, h.Engine.Params().SecurityDeposit)
	}
	if !h.Engine.Storage().BalanceVault.Eq(deposit) {
		t.Errorf("vault balance = %s, want %s", h.Engine.Storage().BalanceVault, deposit)
	}
	if !h.Engine.Storage().StableTotalShares.Eq(deposit) {
		t.Errorf("total shares = %s, want %s", h.Engine.Storage().StableTotalShares, deposit)
	}
	if h.Engine.Storage().PendingBalanceVault.Sign() != 0 {
		t.Errorf("pending vault balance = %s, want 0", h.Engine.Storage().PendingBalanceVault)
	}

	if got := len(h.EventsOfKind(event.KindDepositValidated)); got != 1 {
		t.Errorf("DepositValidated events = %d, want 1", got)
	}
}

func TestWithdrawalLifecycle(t *testing.T) {
	h := newVaultHarness(t)
	user := uuid.New()
	to := uuid.New()
	bootstrapVault(t, h, user, e18(1000))

	shares := e18(400)
	if err := h.Engine.InitiateWithdrawal(user, to, user, shares, startTime, nil); err != nil {
		t.Fatalf("initiate withdrawal: %v", err)
	}
	if !h.Custody.Escrowed.Eq(shares) {
		t.Errorf("escrowed = %s, want %s", h.Custody.Escrowed, shares)
	}
	wantPending := new(big.Int).Neg(e18(400).ToBig())
	if h.Engine.Storage().PendingBalanceVault.Cmp(wantPending) != 0 {
		t.Errorf("pending vault balance = %s, want %s", h.Engine.Storage().PendingBalanceVault, wantPending)
	}

	if err := h.Engine.ValidateWithdrawal(user, startTime, nil); err != nil {
		t.Fatalf("validate withdrawal: %v", err)
	}
	if got := h.Custody.Out[to]; got == nil || !got.Eq(e18(400)) {
		t.Errorf("paid out %v, want %s", got, e18(400))
	}
	if !h.Engine.Storage().BalanceVault.Eq(e18(600)) {
		t.Errorf("vault balance = %s, want %s", h.Engine.Storage().BalanceVault, e18(600))
	}
	if !h.Engine.Storage().StableTotalShares.Eq(e18(600)) {
		t.Errorf("total shares = %s, want %s", h.Engine.Storage().StableTotalShares, e18(600))
	}
	if !h.Custody.Burned.Eq(shares) {
		t.Errorf("burned = %s, want %s", h.Custody.Burned, shares)
	}
	if h.Custody.Escrowed.Sign() != 0 {
		t.Errorf("escrow not emptied: %s", h.Custody.Escrowed)
	}
	if h.Engine.Storage().PendingBalanceVault.Sign() != 0 {
		t.Errorf("pending vault balance = %s, want 0", h.Engine.Storage().PendingBalanceVault)
	}
}

// A deposit is minted at the worse of the initiation and validation share
// prices: if the vault appreciates in between, the user gets the fewer
// shares of the validation-time price.
func TestDepositMintsAtWorsePrice(t *testing.T) {
	h := newVaultHarness(t)
	founder := uuid.New()
	bootstrapVault(t, h, founder, e18(1000))

	user := uuid.New()
	if err := h.Engine.InitiateDeposit(user, user, user, e18(100), startTime, nil); err != nil {
		t.Fatalf("initiate deposit: %v", err)
	}

	// Vault value doubles while the deposit is pending.
	h.Engine.Storage().BalanceVault.Add(h.Engine.Storage().BalanceVault, e18(1000))

	if err := h.Engine.ValidateDeposit(user, startTime, nil); err != nil {
		t.Fatalf("validate deposit: %v", err)
	}
	// 100 assets against a 2000 vault holding 1000 shares -> 50 shares,
	// less than the 100 the initiation price implied.
	if got := h.Custody.Minted[user]; got == nil || !got.Eq(e18(50)) {
		t.Errorf("minted %v, want %s", got, e18(50))
	}
}

func TestValidateRequiresMatchingKind(t *testing.T) {
	h := newVaultHarness(t)
	user := uuid.New()
	if err := h.Engine.InitiateDeposit(user, user, user, e18(100), startTime, nil); err != nil {
		t.Fatalf("initiate deposit: %v", err)
	}
	if err := h.Engine.ValidateWithdrawal(user, startTime, nil); !errors.Is(err, core.ErrActionMismatch) {
		t.Fatalf("validate withdrawal over deposit = %v, want ErrActionMismatch", err)
	}
	if err := h.Engine.ValidateOpen(user, startTime, nil); !errors.Is(err, core.ErrActionMismatch) {
		t.Fatalf("validate open over deposit = %v, want ErrActionMismatch", err)
	}
}

func TestPendingActionIsExclusiveAcrossKinds(t *testing.T) {
	h := newVaultHarness(t)
	user := uuid.New()
	bootstrapVault(t, h, uuid.New(), e18(1000))

	if err := h.Engine.InitiateDeposit(user, user, user, e18(10), startTime, nil); err != nil {
		t.Fatalf("initiate deposit: %v", err)
	}
	if err := h.Engine.InitiateWithdrawal(user, user, user, e18(1), startTime, nil); !errors.Is(err, state.ErrPendingActionExists) {
		t.Errorf("withdrawal over pending deposit = %v, want ErrPendingActionExists", err)
	}
	if err := h.Engine.InitiateOpen(user, user, user, e18(10), e18(1000), startTime, nil); !errors.Is(err, state.ErrPendingActionExists) {
		t.Errorf("open over pending deposit = %v, want ErrPendingActionExists", err)
	}
}

func TestValidateWithoutPending(t *testing.T) {
	h := newVaultHarness(t)
	if err := h.Engine.ValidateDeposit(uuid.New(), startTime, nil); !errors.Is(err, state.ErrNoPendingAction) {
		t.Fatalf("validate without pending = %v, want ErrNoPendingAction", err)
	}
}

func TestDepositRejectsZeroAmount(t *testing.T) {
	h := newVaultHarness(t)
	err := h.Engine.InitiateDeposit(uuid.New(), uuid.New(), uuid.New(), new(uint256.Int), startTime, nil)
	if !errors.Is(err, core.ErrZeroAmount) {
		t.Fatalf("zero deposit = %v, want ErrZeroAmount", err)
	}
}
