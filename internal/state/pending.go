package state

import (
	"fmt"
	"math/big"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

var (
	// ErrPendingActionExists is returned when a user initiates a second
	// action while one is already queued.
	ErrPendingActionExists = fmt.Errorf("user already has a pending action")
	// ErrNoPendingAction is returned when a lookup requires an entry and
	// the user has none.
	ErrNoPendingAction = fmt.Errorf("user has no pending action")
	// ErrQueueEmpty is returned when clearing a raw index that holds nothing.
	ErrQueueEmpty = fmt.Errorf("no pending action at this index")
)

// ActionKind tags the pending-action variants.
type ActionKind uint8

const (
	ActionNone ActionKind = iota
	ActionDeposit
	ActionWithdrawal
	ActionOpenPosition
	ActionClosePosition
)

func (k ActionKind) String() string {
	switch k {
	case ActionDeposit:
		return "deposit"
	case ActionWithdrawal:
		return "withdrawal"
	case ActionOpenPosition:
		return "open_position"
	case ActionClosePosition:
		return "close_position"
	default:
		return "none"
	}
}

// ActionInfo carries the fields shared by every pending-action variant.
type ActionInfo struct {
	User            uuid.UUID
	To              uuid.UUID
	Validator       uuid.UUID
	Timestamp       int64
	SecurityDeposit *uint256.Int
}

// PendingAction is an in-flight two-phase user operation awaiting its
// validate call. Implemented by one struct per action kind.
type PendingAction interface {
	Kind() ActionKind
	Info() *ActionInfo
}

// DepositAction is a vault deposit awaiting validation.
type DepositAction struct {
	ActionInfo
	// Amount is the deposited collateral, fee already deducted.
	Amount *uint256.Int
	// BalanceVault and TotalShares snapshot the share price observed at
	// initiation; validation mints at the worse of the two observations.
	BalanceVault *uint256.Int
	TotalShares  *uint256.Int
}

func (a *DepositAction) Kind() ActionKind { return ActionDeposit }
func (a *DepositAction) Info() *ActionInfo { return &a.ActionInfo }

// WithdrawalAction is a stable-share redemption awaiting validation.
type WithdrawalAction struct {
	ActionInfo
	Shares       *uint256.Int
	BalanceVault *uint256.Int
	TotalShares  *uint256.Int
}

func (a *WithdrawalAction) Kind() ActionKind { return ActionWithdrawal }
func (a *WithdrawalAction) Info() *ActionInfo { return &a.ActionInfo }

// OpenPositionAction is a leveraged open awaiting validation. The position
// is provisional: it does not exist in the book until validated.
type OpenPositionAction struct {
	ActionInfo
	Amount *uint256.Int
	// Tick, TickVersion pin the tick targeted at initiation so staleness
	// (tick liquidated in between) is detectable.
	Tick        int32
	TickVersion uint64
	// DesiredLiqPrice re-derives the tick against the validation price.
	DesiredLiqPrice *uint256.Int
}

func (a *OpenPositionAction) Kind() ActionKind { return ActionOpenPosition }
func (a *OpenPositionAction) Info() *ActionInfo { return &a.ActionInfo }

// ClosePositionAction is a close awaiting validation. The position has
// already been lifted out of the book; its exposure rides here until the
// validation price settles the PnL.
type ClosePositionAction struct {
	ActionInfo
	Tick        int32
	TickVersion uint64
	Amount      *uint256.Int
	TotalExpo   *uint256.Int
	// LiqMultiplier freezes the funding-adjusted multiplier observed at
	// initiation so the close settles against a consistent price basis.
	LiqMultiplier *uint256.Int
	// TempTransfer is the provisional value moved out of the long balance
	// at initiation, refunded or settled at validation.
	TempTransfer *big.Int
}

func (a *ClosePositionAction) Kind() ActionKind { return ActionClosePosition }
func (a *ClosePositionAction) Info() *ActionInfo { return &a.ActionInfo }

// PendingQueue is a double-ended queue of pending actions keyed by raw
// insertion index, with a user index for O(1) lookup. Raw indices start at
// 1 so 0 always means "absent".
type PendingQueue struct {
	entries map[uint64]PendingAction
	byUser  map[uuid.UUID]uint64
	front   uint64 // lowest raw index that may hold an entry
	next    uint64 // next raw index to assign
}

// NewPendingQueue returns an empty queue.
func NewPendingQueue() *PendingQueue {
	return &PendingQueue{
		entries: make(map[uint64]PendingAction),
		byUser:  make(map[uuid.UUID]uint64),
		front:   1,
		next:    1,
	}
}

// Len reports the number of queued actions.
func (q *PendingQueue) Len() int { return len(q.entries) }

// Add appends an action for its user. Fails with ErrPendingActionExists
// when the user already has an entry; staleness eviction is the caller's
// job (it needs tick-version and refund context the queue does not have).
func (q *PendingQueue) Add(a PendingAction) (uint64, error) {
	user := a.Info().User
	if q.byUser[user] != 0 {
		return 0, ErrPendingActionExists
	}
	raw := q.next
	q.next++
	q.entries[raw] = a
	q.byUser[user] = raw
	return raw, nil
}

// Get returns the user's pending action and its raw index, or (nil, 0)
// when absent.
func (q *PendingQueue) Get(user uuid.UUID) (PendingAction, uint64) {
	raw := q.byUser[user]
	if raw == 0 {
		return nil, 0
	}
	return q.entries[raw], raw
}

// Require is Get that fails with ErrNoPendingAction when absent.
func (q *PendingQueue) Require(user uuid.UUID) (PendingAction, uint64, error) {
	a, raw := q.Get(user)
	if raw == 0 {
		return nil, 0, ErrNoPendingAction
	}
	return a, raw, nil
}

// ClearAt removes the entry at a raw index. Fails with ErrQueueEmpty when
// the index holds nothing (already cleared or never assigned).
func (q *PendingQueue) ClearAt(raw uint64) error {
	a, ok := q.entries[raw]
	if !ok {
		return ErrQueueEmpty
	}
	delete(q.entries, raw)
	delete(q.byUser, a.Info().User)
	q.advanceFront()
	return nil
}

// Remove clears the user's entry and returns it.
func (q *PendingQueue) Remove(user uuid.UUID) (PendingAction, error) {
	a, raw, err := q.Require(user)
	if err != nil {
		return nil, err
	}
	delete(q.entries, raw)
	delete(q.byUser, user)
	q.advanceFront()
	return a, nil
}

// Front returns the oldest queued action, skipping holes left by
// mid-queue removals.
func (q *PendingQueue) Front() (PendingAction, uint64, bool) {
	for raw := q.front; raw < q.next; raw++ {
		if a, ok := q.entries[raw]; ok {
			return a, raw, true
		}
	}
	return nil, 0, false
}

// All returns the queued actions in insertion order.
func (q *PendingQueue) All() []PendingAction {
	out := make([]PendingAction, 0, len(q.entries))
	for raw := q.front; raw < q.next; raw++ {
		if a, ok := q.entries[raw]; ok {
			out = append(out, a)
		}
	}
	return out
}

// RestorePendingQueue rebuilds a queue from actions in insertion order.
// Raw indices are reassigned from 1; they only matter within a single
// engine call, so a snapshot round-trip does not need to preserve them.
func RestorePendingQueue(actions []PendingAction) (*PendingQueue, error) {
	q := NewPendingQueue()
	for _, a := range actions {
		if _, err := q.Add(a); err != nil {
			return nil, fmt.Errorf("restore pending action for %s: %w", a.Info().User, err)
		}
	}
	return q, nil
}

func (q *PendingQueue) advanceFront() {
	for q.front < q.next {
		if _, ok := q.entries[q.front]; ok {
			return
		}
		q.front++
	}
}
