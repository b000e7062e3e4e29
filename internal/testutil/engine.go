package testutil

import (
	"fmt"
	"testing"

	"TickVault/internal/core"
	"TickVault/internal/event"
	"TickVault/internal/oracle"
	"TickVault/internal/state"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// Custody is an in-memory core.AssetCustody that records every movement
// and can be told to reject individual call kinds.
type Custody struct {
	In       map[uuid.UUID]*uint256.Int
	Out      map[uuid.UUID]*uint256.Int
	Minted   map[uuid.UUID]*uint256.Int
	Refunded map[uuid.UUID]*uint256.Int
	Escrowed *uint256.Int
	Burned   *uint256.Int

	FailTransferIn  bool
	FailTransferOut bool
	FailMint        bool
	FailRefund      bool
}

func NewCustody() *Custody {
	return &Custody{
		In:       make(map[uuid.UUID]*uint256.Int),
		Out:      make(map[uuid.UUID]*uint256.Int),
		Minted:   make(map[uuid.UUID]*uint256.Int),
		Refunded: make(map[uuid.UUID]*uint256.Int),
		Escrowed: new(uint256.Int),
		Burned:   new(uint256.Int),
	}
}

func accumulate(m map[uuid.UUID]*uint256.Int, key uuid.UUID, amount *uint256.Int) {
	if cur, ok := m[key]; ok {
		cur.Add(cur, amount)
		return
	}
	m[key] = new(uint256.Int).Set(amount)
}

func (c *Custody) TransferIn(user uuid.UUID, amount *uint256.Int) error {
	if c.FailTransferIn {
		return fmt.Errorf("transfer in rejected")
	}
	accumulate(c.In, user, amount)
	return nil
}

func (c *Custody) TransferOut(to uuid.UUID, amount *uint256.Int) error {
	if c.FailTransferOut {
		return fmt.Errorf("transfer out rejected")
	}
	accumulate(c.Out, to, amount)
	return nil
}

func (c *Custody) MintShares(to uuid.UUID, shares *uint256.Int) error {
	if c.FailMint {
		return fmt.Errorf("mint rejected")
	}
	accumulate(c.Minted, to, shares)
	return nil
}

func (c *Custody) EscrowShares(_ uuid.UUID, shares *uint256.Int) error {
	c.Escrowed.Add(c.Escrowed, shares)
	return nil
}

func (c *Custody) BurnEscrowedShares(shares *uint256.Int) error {
	c.Escrowed.Sub(c.Escrowed, shares)
	c.Burned.Add(c.Burned, shares)
	return nil
}

func (c *Custody) ReturnEscrowedShares(_ uuid.UUID, shares *uint256.Int) error {
	c.Escrowed.Sub(c.Escrowed, shares)
	return nil
}

func (c *Custody) RefundSecurityDeposit(to uuid.UUID, amount *uint256.Int) error {
	if c.FailRefund {
		return fmt.Errorf("refund rejected")
	}
	accumulate(c.Refunded, to, amount)
	return nil
}

// Rebalancer is a scripted core.Rebalancer.
type Rebalancer struct {
	Pending  *uint256.Int
	MaxLev   *uint256.Int
	Position state.PositionID
	HasPos   bool
	Assigned int
}

func (r *Rebalancer) PendingAssets() *uint256.Int { return r.Pending }
func (r *Rebalancer) MaxLeverage() *uint256.Int   { return r.MaxLev }

func (r *Rebalancer) CurrentPosition() (state.PositionID, bool) {
	return r.Position, r.HasPos
}

func (r *Rebalancer) NotifyPositionAssigned(id state.PositionID, _ *uint256.Int) {
	r.Position = id
	r.HasPos = true
	r.Pending = new(uint256.Int)
	r.Assigned++
}

// TestParams is DefaultParams with imbalance limits disabled so lifecycle
// tests can bootstrap an empty pool through the public API.
func TestParams() state.Params {
	p := state.DefaultParams()
	p.OpenExpoImbalanceLimitBps = 0
	p.DepositExpoImbalanceLimitBps = 0
	p.WithdrawalExpoImbalanceLimitBps = 0
	p.CloseExpoImbalanceLimitBps = 0
	return p
}

// Harness bundles an engine with its fakes and an event capture channel.
type Harness struct {
	Engine  *core.Engine
	Oracle  *oracle.Fixed
	Custody *Custody

	events chan core.Output
}

// NewHarness builds an engine over fresh storage at the given starting
// price and timestamp. rebalancer may be nil.
func NewHarness(t *testing.T, params state.Params, price *uint256.Int, timestamp int64, rebalancer core.Rebalancer) *Harness {
	t.Helper()

	px := oracle.NewFixed(price, timestamp)
	custody := NewCustody()
	events := make(chan core.Output, 4096)

	eng, err := core.NewEngine(core.Config{
		Params:      params,
		Storage:     state.NewStorage(price, timestamp),
		Oracle:      px,
		Custody:     custody,
		Rebalancer:  rebalancer,
		PersistChan: events,
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return &Harness{Engine: eng, Oracle: px, Custody: custody, events: events}
}

// Events drains and returns everything emitted since the last call.
func (h *Harness) Events() []event.Envelope {
	var out []event.Envelope
	for {
		select {
		case o := <-h.events:
			out = append(out, o.Envelope)
		default:
			return out
		}
	}
}

// EventsOfKind drains the capture channel and keeps only one kind.
func (h *Harness) EventsOfKind(kind event.Kind) []event.Envelope {
	var out []event.Envelope
	for _, env := range h.Events() {
		if env.Kind == kind {
			out = append(out, env)
		}
	}
	return out
}

// SeedPool writes balances directly into storage, for tests that need an
// established pool without replaying a bootstrap sequence.
func SeedPool(h *Harness, balanceLong, balanceVault, totalExpo *uint256.Int) {
	s := h.Engine.Storage()
	s.BalanceLong = new(uint256.Int).Set(balanceLong)
	s.BalanceVault = new(uint256.Int).Set(balanceVault)
	s.TotalExpo = new(uint256.Int).Set(totalExpo)
}
