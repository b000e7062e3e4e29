package state_test

import (
	"testing"

	"TickVault/internal/state"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

func depositFor(user uuid.UUID, ts int64) *state.DepositAction {
	return &state.DepositAction{
		ActionInfo: state.ActionInfo{
			User:            user,
			To:              user,
			Validator:       user,
			Timestamp:       ts,
			SecurityDeposit: uint256.NewInt(100),
		},
		Amount:       uint256.NewInt(1_000),
		BalanceVault: uint256.NewInt(0),
		TotalShares:  uint256.NewInt(0),
	}
}

func TestPendingQueueAtMostOnePerUser(t *testing.T) {
	q := state.NewPendingQueue()
	user := uuid.New()

	raw, err := q.Add(depositFor(user, 1))
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if raw == 0 {
		t.Fatal("raw index 0 is reserved for absence")
	}

	if _, err := q.Add(depositFor(user, 2)); err != state.ErrPendingActionExists {
		t.Errorf("second add: err = %v, want ErrPendingActionExists", err)
	}

	// Cleared entry frees the slot for a new action.
	if err := q.ClearAt(raw); err != nil {
		t.Fatalf("ClearAt: %v", err)
	}
	if _, err := q.Add(depositFor(user, 3)); err != nil {
		t.Errorf("add after clear: %v", err)
	}
}

func TestPendingQueueLookups(t *testing.T) {
	q := state.NewPendingQueue()
	user := uuid.New()

	// Absent user: Get returns nil and index 0, Require fails.
	if a, raw := q.Get(user); a != nil || raw != 0 {
		t.Errorf("Get on empty queue = (%v, %d)", a, raw)
	}
	if _, _, err := q.Require(user); err != state.ErrNoPendingAction {
		t.Errorf("Require on empty queue: err = %v", err)
	}

	want := depositFor(user, 5)
	raw, _ := q.Add(want)

	a, gotRaw := q.Get(user)
	if a != want || gotRaw != raw {
		t.Errorf("Get = (%v, %d), want (%v, %d)", a, gotRaw, want, raw)
	}
	if a.Kind() != state.ActionDeposit {
		t.Errorf("kind = %v, want deposit", a.Kind())
	}
}

func TestPendingQueueClearErrors(t *testing.T) {
	q := state.NewPendingQueue()

	if err := q.ClearAt(1); err != state.ErrQueueEmpty {
		t.Errorf("ClearAt on empty queue: err = %v", err)
	}

	raw, _ := q.Add(depositFor(uuid.New(), 1))
	if err := q.ClearAt(raw); err != nil {
		t.Fatalf("ClearAt: %v", err)
	}
	if err := q.ClearAt(raw); err != state.ErrQueueEmpty {
		t.Errorf("double clear: err = %v", err)
	}
}

func TestPendingQueueOrder(t *testing.T) {
	q := state.NewPendingQueue()
	users := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	raws := make([]uint64, len(users))
	for i, u := range users {
		raws[i], _ = q.Add(depositFor(u, int64(i)))
	}

	a, raw, ok := q.Front()
	if !ok || raw != raws[0] || a.Info().User != users[0] {
		t.Fatalf("Front = (%v, %d, %v)", a, raw, ok)
	}

	// Removing the middle entry leaves a hole Front must skip over.
	if _, err := q.Remove(users[0]); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := q.Remove(users[1]); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	a, _, ok = q.Front()
	if !ok || a.Info().User != users[2] {
		t.Errorf("Front after removals = %v", a)
	}

	all := q.All()
	if len(all) != 1 || all[0].Info().User != users[2] {
		t.Errorf("All = %v", all)
	}
	if q.Len() != 1 {
		t.Errorf("Len = %d, want 1", q.Len())
	}
}
