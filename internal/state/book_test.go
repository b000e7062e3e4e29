package state_test

import (
	"testing"

	"TickVault/internal/state"
	"TickVault/internal/tick"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

func newPos(expo uint64) *state.Position {
	return &state.Position{
		User:      uuid.New(),
		Amount:    uint256.NewInt(expo / 2),
		TotalExpo: uint256.NewInt(expo),
		Timestamp: 1_700_000_000,
	}
}

func TestBookAddAndResolve(t *testing.T) {
	b := state.NewBook(100)

	id, newHighest := b.AddPosition(500, newPos(1_000), 2)
	if !newHighest {
		t.Error("first position should raise the high-water mark")
	}
	if id.Tick != 500 || id.Version != 0 || id.Index != 0 {
		t.Fatalf("unexpected handle %v", id)
	}

	pos, err := b.Position(id)
	if err != nil {
		t.Fatalf("Position: %v", err)
	}
	if pos.TotalExpo.Uint64() != 1_000 {
		t.Errorf("resolved expo = %d, want 1000", pos.TotalExpo.Uint64())
	}

	td, err := b.TickData(500)
	if err != nil {
		t.Fatalf("TickData: %v", err)
	}
	if td.TotalPositions != 1 || td.TotalExpo.Uint64() != 1_000 {
		t.Errorf("tick data = %+v", td)
	}
	if td.LiquidationPenalty != 2 {
		t.Errorf("penalty = %d, want 2", td.LiquidationPenalty)
	}

	// A second position in the same tick keeps the original penalty.
	id2, newHighest := b.AddPosition(500, newPos(500), 9)
	if newHighest {
		t.Error("same tick should not raise the high-water mark")
	}
	if id2.Index != 1 {
		t.Errorf("second index = %d, want 1", id2.Index)
	}
	td, _ = b.TickData(500)
	if td.LiquidationPenalty != 2 {
		t.Errorf("penalty changed to %d on second open", td.LiquidationPenalty)
	}
	if td.TotalExpo.Uint64() != 1_500 || td.TotalPositions != 2 {
		t.Errorf("tick data after second open = %+v", td)
	}
}

func TestBookHighestPopulatedTick(t *testing.T) {
	b := state.NewBook(100)
	minUsable := tick.MinUsableTick(100)

	if b.HighestPopulatedTick() != minUsable {
		t.Fatalf("empty book highest = %d, want %d", b.HighestPopulatedTick(), minUsable)
	}

	b.AddPosition(-300, newPos(10), 2)
	b.AddPosition(700, newPos(10), 2)
	b.AddPosition(200, newPos(10), 2)
	if b.HighestPopulatedTick() != 700 {
		t.Errorf("highest = %d, want 700", b.HighestPopulatedTick())
	}

	// Liquidating the top tick moves the pointer to the next populated one.
	if _, err := b.LiquidateTick(700); err != nil {
		t.Fatalf("LiquidateTick: %v", err)
	}
	if b.HighestPopulatedTick() != 200 {
		t.Errorf("highest after liquidation = %d, want 200", b.HighestPopulatedTick())
	}

	b.LiquidateTick(200)
	b.LiquidateTick(-300)
	if b.HighestPopulatedTick() != minUsable {
		t.Errorf("highest after clearing book = %d, want %d", b.HighestPopulatedTick(), minUsable)
	}
}

func TestBookStaleHandles(t *testing.T) {
	b := state.NewBook(100)

	id, _ := b.AddPosition(500, newPos(1_000), 2)
	if _, err := b.LiquidateTick(500); err != nil {
		t.Fatalf("LiquidateTick: %v", err)
	}

	// The old handle must never resolve again.
	if _, err := b.Position(id); err != state.ErrStalePosition {
		t.Errorf("stale handle resolved: err = %v", err)
	}
	if b.TickVersion(500) != 1 {
		t.Errorf("tick version = %d, want 1", b.TickVersion(500))
	}

	// Repopulating the tick issues handles under the new version.
	id2, _ := b.AddPosition(500, newPos(2_000), 3)
	if id2.Version != 1 {
		t.Errorf("new handle version = %d, want 1", id2.Version)
	}
	if _, err := b.Position(id); err != state.ErrStalePosition {
		t.Error("old-version handle resolved against repopulated tick")
	}
	if _, err := b.Position(id2); err != nil {
		t.Errorf("fresh handle failed: %v", err)
	}

	// The repopulated tick takes the new penalty.
	td, _ := b.TickData(500)
	if td.LiquidationPenalty != 3 {
		t.Errorf("repopulated penalty = %d, want 3", td.LiquidationPenalty)
	}
}

func TestBookRemovePosition(t *testing.T) {
	b := state.NewBook(100)

	id1, _ := b.AddPosition(500, newPos(1_000), 2)
	id2, _ := b.AddPosition(500, newPos(500), 2)

	pos, retired, err := b.RemovePosition(id1)
	if err != nil {
		t.Fatalf("RemovePosition: %v", err)
	}
	if retired {
		t.Error("tick retired while a position remains")
	}
	if pos.TotalExpo.Uint64() != 1_000 {
		t.Errorf("removed expo = %d, want 1000", pos.TotalExpo.Uint64())
	}

	// Removing the same handle twice fails: the slot is a hole now.
	if _, _, err := b.RemovePosition(id1); err != state.ErrStalePosition {
		t.Errorf("double remove: err = %v", err)
	}

	_, retired, err = b.RemovePosition(id2)
	if err != nil {
		t.Fatalf("RemovePosition: %v", err)
	}
	if !retired {
		t.Error("removing the last position should retire the tick")
	}
	if b.TickVersion(500) != 1 {
		t.Errorf("tick version after retire = %d, want 1", b.TickVersion(500))
	}
	if _, err := b.TickData(500); err != state.ErrEmptyTick {
		t.Errorf("retired tick data: err = %v", err)
	}
}

func TestBookReduceExposure(t *testing.T) {
	b := state.NewBook(100)
	id, _ := b.AddPosition(500, newPos(1_000), 2)

	if err := b.ReduceExposure(id, uint256.NewInt(100), uint256.NewInt(400)); err != nil {
		t.Fatalf("ReduceExposure: %v", err)
	}
	pos, _ := b.Position(id)
	if pos.Amount.Uint64() != 400 || pos.TotalExpo.Uint64() != 600 {
		t.Errorf("position after reduce = %d/%d, want 400/600", pos.Amount.Uint64(), pos.TotalExpo.Uint64())
	}
	td, _ := b.TickData(500)
	if td.TotalExpo.Uint64() != 600 {
		t.Errorf("tick expo after reduce = %d, want 600", td.TotalExpo.Uint64())
	}

	// Over-reduction is rejected.
	if err := b.ReduceExposure(id, uint256.NewInt(1), uint256.NewInt(10_000)); err == nil {
		t.Error("expected error reducing beyond position size")
	}
}

func TestBookHighWaterMarkOnlyRisesOnChange(t *testing.T) {
	b := state.NewBook(100)

	if _, newHighest := b.AddPosition(500, newPos(10), 2); !newHighest {
		t.Error("first position should raise the high-water mark")
	}

	// A single-tick book must not report a rise for further positions in
	// that same tick.
	if _, newHighest := b.AddPosition(500, newPos(10), 2); newHighest {
		t.Error("second position in the only populated tick reported a rise")
	}
	if b.HighestPopulatedTick() != 500 {
		t.Fatalf("highest = %d, want 500", b.HighestPopulatedTick())
	}

	if _, newHighest := b.AddPosition(200, newPos(10), 2); newHighest {
		t.Error("lower tick reported a rise")
	}
	if _, newHighest := b.AddPosition(700, newPos(10), 2); !newHighest {
		t.Error("higher tick did not report a rise")
	}

	// Populating an empty book at the minimum usable tick still counts as
	// a change: the pointer moves from the empty sentinel to a live tick.
	b2 := state.NewBook(100)
	if _, newHighest := b2.AddPosition(tick.MinUsableTick(100), newPos(10), 2); !newHighest {
		t.Error("first position at the minimum usable tick did not report a rise")
	}
}

func TestBookExportRestore(t *testing.T) {
	b := state.NewBook(100)

	// A tick with a hole (removed position) and a retired tick: both shapes
	// must survive the round-trip.
	hole, _ := b.AddPosition(500, newPos(1_000), 2)
	kept, _ := b.AddPosition(500, newPos(700), 2)
	b.AddPosition(200, newPos(300), 3)
	if _, _, err := b.RemovePosition(hole); err != nil {
		t.Fatalf("RemovePosition: %v", err)
	}
	retired, _ := b.AddPosition(900, newPos(50), 2)
	if _, err := b.LiquidateTick(900); err != nil {
		t.Fatalf("LiquidateTick: %v", err)
	}

	restored, err := state.RestoreBook(100, b.Export())
	if err != nil {
		t.Fatalf("RestoreBook: %v", err)
	}

	if got, want := restored.HighestPopulatedTick(), b.HighestPopulatedTick(); got != want {
		t.Errorf("highest = %d, want %d", got, want)
	}

	// The surviving handle resolves to an identical position.
	pos, err := restored.Position(kept)
	if err != nil {
		t.Fatalf("kept handle: %v", err)
	}
	if pos.TotalExpo.Uint64() != 700 {
		t.Errorf("kept expo = %d, want 700", pos.TotalExpo.Uint64())
	}

	// The hole stays a hole and the retired version stays bumped.
	if _, err := restored.Position(hole); err != state.ErrStalePosition {
		t.Errorf("hole resolved: err = %v", err)
	}
	if _, err := restored.Position(retired); err != state.ErrStalePosition {
		t.Errorf("retired handle resolved: err = %v", err)
	}
	if restored.TickVersion(900) != 1 {
		t.Errorf("retired tick version = %d, want 1", restored.TickVersion(900))
	}

	td, err := restored.TickData(500)
	if err != nil {
		t.Fatalf("TickData: %v", err)
	}
	if td.TotalPositions != 1 || td.TotalExpo.Uint64() != 700 {
		t.Errorf("tick 500 data = %+v", td)
	}
	if td.LiquidationPenalty != 2 {
		t.Errorf("tick 500 penalty = %d, want 2", td.LiquidationPenalty)
	}

	// A new position in the restored tick lands after the preserved slots.
	next, _ := restored.AddPosition(500, newPos(10), 2)
	if next.Index != 2 {
		t.Errorf("next index = %d, want 2", next.Index)
	}
}
