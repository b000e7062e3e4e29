package state

import (
	"fmt"
	"sort"

	"TickVault/internal/tick"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// ErrStalePosition is returned when a position handle refers to a tick
// version that has since been liquidated.
var ErrStalePosition = fmt.Errorf("position reference is stale")

// ErrEmptyTick is returned when an operation targets a tick with no live data.
var ErrEmptyTick = fmt.Errorf("tick holds no positions")

// Position is a live leveraged position. The liquidation price is never
// stored: it is reconstructed from the tick, the tick's penalty and the
// current funding-adjusted multiplier.
type Position struct {
	User      uuid.UUID
	Amount    *uint256.Int
	TotalExpo *uint256.Int
	Timestamp int64
}

// PositionID is a generation-counted handle: (tick, tickVersion, index).
// Handles into liquidated tick versions never resolve.
type PositionID struct {
	Tick    int32
	Version uint64
	Index   uint32
}

func (id PositionID) String() string {
	return fmt.Sprintf("%d/%d/%d", id.Tick, id.Version, id.Index)
}

// TickData aggregates the live positions sharing a tick.
type TickData struct {
	// TotalExpo is the summed leveraged exposure in the tick.
	TotalExpo *uint256.Int
	// TotalPositions counts live positions (holes from closed positions
	// remain in the arena but are not counted).
	TotalPositions uint32
	// LiquidationPenalty is fixed for the tick's lifetime once populated,
	// in multiples of the tick spacing.
	LiquidationPenalty uint8
}

// Book is the tick-indexed position store: per-tick position arenas,
// per-tick generation counters and the populated-tick bitmap.
type Book struct {
	bitmap   *tick.Bitmap
	ticks    map[int32]*TickData
	arenas   map[int32][]*Position
	versions map[int32]uint64

	// highest is the cached highest populated tick, or the minimum usable
	// tick when the book is empty.
	highest int32
}

// NewBook returns an empty book for the given tick spacing.
func NewBook(tickSpacing int32) *Book {
	return &Book{
		bitmap:   tick.NewBitmap(tickSpacing),
		ticks:    make(map[int32]*TickData),
		arenas:   make(map[int32][]*Position),
		versions: make(map[int32]uint64),
		highest:  tick.MinUsableTick(tickSpacing),
	}
}

// TickSpacing returns the spacing the book was built with.
func (b *Book) TickSpacing() int32 { return b.bitmap.TickSpacing() }

// TickVersion returns the current generation of a tick. Zero for ticks
// never populated.
func (b *Book) TickVersion(t int32) uint64 { return b.versions[t] }

// TickData returns the live data for a populated tick.
func (b *Book) TickData(t int32) (*TickData, error) {
	td := b.ticks[t]
	if td == nil {
		return nil, ErrEmptyTick
	}
	return td, nil
}

// HighestPopulatedTick returns the cached high-water mark of the book.
func (b *Book) HighestPopulatedTick() int32 { return b.highest }

// HighestAtOrBelow finds the highest populated tick at or below start, or
// the minimum usable tick if none.
func (b *Book) HighestAtOrBelow(start int32) int32 {
	if t, ok := b.bitmap.HighestAtOrBelow(start); ok {
		return t
	}
	return tick.MinUsableTick(b.TickSpacing())
}

// AddPosition writes a position into a tick, creating the tick (with the
// given penalty) if it holds nothing. An already-populated tick keeps its
// original penalty; the argument is ignored. Returns the position's handle
// and whether the book's high-water mark rose.
func (b *Book) AddPosition(t int32, pos *Position, penalty uint8) (PositionID, bool) {
	wasEmpty := len(b.ticks) == 0
	td := b.ticks[t]
	if td == nil {
		td = &TickData{
			TotalExpo:          new(uint256.Int),
			LiquidationPenalty: penalty,
		}
		b.ticks[t] = td
		b.bitmap.Set(t)
	}
	td.TotalExpo.Add(td.TotalExpo, pos.TotalExpo)
	td.TotalPositions++

	arena := b.arenas[t]
	index := uint32(len(arena))
	b.arenas[t] = append(arena, pos)

	newHighest := false
	if t > b.highest || wasEmpty {
		b.highest = t
		newHighest = true
	}
	return PositionID{Tick: t, Version: b.versions[t], Index: index}, newHighest
}

// Position resolves a handle, failing on stale versions or holes left by
// removed positions.
func (b *Book) Position(id PositionID) (*Position, error) {
	if b.versions[id.Tick] != id.Version {
		return nil, ErrStalePosition
	}
	arena := b.arenas[id.Tick]
	if int(id.Index) >= len(arena) || arena[id.Index] == nil {
		return nil, ErrStalePosition
	}
	return arena[id.Index], nil
}

// RemovePosition takes a position out of its tick. When the last position
// leaves, the tick is retired: version incremented, bitmap bit cleared,
// data dropped so stale handles never resolve. Returns the removed
// position and whether the tick was retired.
func (b *Book) RemovePosition(id PositionID) (*Position, bool, error) {
	pos, err := b.Position(id)
	if err != nil {
		return nil, false, err
	}
	td := b.ticks[id.Tick]
	td.TotalExpo.Sub(td.TotalExpo, pos.TotalExpo)
	td.TotalPositions--
	b.arenas[id.Tick][id.Index] = nil

	if td.TotalPositions > 0 {
		return pos, false, nil
	}
	b.retire(id.Tick)
	return pos, true, nil
}

// ReduceExposure shrinks a position in place (partial close), keeping its
// handle valid.
func (b *Book) ReduceExposure(id PositionID, amount, totalExpo *uint256.Int) error {
	pos, err := b.Position(id)
	if err != nil {
		return err
	}
	if pos.Amount.Lt(amount) || pos.TotalExpo.Lt(totalExpo) {
		return fmt.Errorf("reduction exceeds position size")
	}
	pos.Amount.Sub(pos.Amount, amount)
	pos.TotalExpo.Sub(pos.TotalExpo, totalExpo)
	b.ticks[id.Tick].TotalExpo.Sub(b.ticks[id.Tick].TotalExpo, totalExpo)
	return nil
}

// LiquidateTick clears an entire tick at once: all positions dropped,
// version incremented, bitmap bit cleared. Returns the tick data as it
// stood at liquidation.
func (b *Book) LiquidateTick(t int32) (TickData, error) {
	td := b.ticks[t]
	if td == nil {
		return TickData{}, ErrEmptyTick
	}
	out := TickData{
		TotalExpo:          new(uint256.Int).Set(td.TotalExpo),
		TotalPositions:     td.TotalPositions,
		LiquidationPenalty: td.LiquidationPenalty,
	}
	b.retire(t)
	return out, nil
}

// SetHighestPopulatedTick overrides the cached high-water mark. Used after
// sweeps and on snapshot restore.
func (b *Book) SetHighestPopulatedTick(t int32) { b.highest = t }

// ArenaSlot pairs a position with its arena index. Holes left by removed
// positions are not exported; the index keeps handles stable across a
// snapshot round-trip.
type ArenaSlot struct {
	Index    uint32
	Position *Position
}

// TickExport is one populated tick's full contents.
type TickExport struct {
	Tick               int32
	Version            uint64
	LiquidationPenalty uint8
	Slots              []ArenaSlot
}

// BookExport is the book's full contents for snapshotting. Versions covers
// retired ticks too: without them, restored pending actions could resolve
// against a tick generation that no longer exists.
type BookExport struct {
	Ticks    []TickExport
	Versions map[int32]uint64
	Highest  int32
}

// Export deep-copies the book, ticks in ascending order.
func (b *Book) Export() BookExport {
	exp := BookExport{
		Versions: make(map[int32]uint64, len(b.versions)),
		Highest:  b.highest,
	}
	for t, v := range b.versions {
		exp.Versions[t] = v
	}

	order := make([]int32, 0, len(b.ticks))
	for t := range b.ticks {
		order = append(order, t)
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })

	for _, t := range order {
		td := b.ticks[t]
		te := TickExport{
			Tick:               t,
			Version:            b.versions[t],
			LiquidationPenalty: td.LiquidationPenalty,
		}
		for i, pos := range b.arenas[t] {
			if pos == nil {
				continue
			}
			te.Slots = append(te.Slots, ArenaSlot{
				Index: uint32(i),
				Position: &Position{
					User:      pos.User,
					Amount:    new(uint256.Int).Set(pos.Amount),
					TotalExpo: new(uint256.Int).Set(pos.TotalExpo),
					Timestamp: pos.Timestamp,
				},
			})
		}
		exp.Ticks = append(exp.Ticks, te)
	}
	return exp
}

// RestoreBook rebuilds a book from an export.
func RestoreBook(tickSpacing int32, exp BookExport) (*Book, error) {
	b := NewBook(tickSpacing)
	for t, v := range exp.Versions {
		if v != 0 {
			b.versions[t] = v
		}
	}
	for _, te := range exp.Ticks {
		if len(te.Slots) == 0 {
			return nil, fmt.Errorf("tick %d exported with no positions", te.Tick)
		}
		td := &TickData{
			TotalExpo:          new(uint256.Int),
			LiquidationPenalty: te.LiquidationPenalty,
		}
		var arena []*Position
		for _, slot := range te.Slots {
			for uint32(len(arena)) < slot.Index {
				arena = append(arena, nil)
			}
			arena = append(arena, slot.Position)
			td.TotalExpo.Add(td.TotalExpo, slot.Position.TotalExpo)
			td.TotalPositions++
		}
		b.ticks[te.Tick] = td
		b.arenas[te.Tick] = arena
		b.versions[te.Tick] = te.Version
		b.bitmap.Set(te.Tick)
		if te.Tick > b.highest || len(b.ticks) == 1 {
			b.highest = te.Tick
		}
	}
	if exp.Highest != 0 || len(exp.Ticks) > 0 {
		b.highest = exp.Highest
	}
	return b, nil
}

func (b *Book) retire(t int32) {
	delete(b.ticks, t)
	delete(b.arenas, t)
	b.versions[t]++
	b.bitmap.Clear(t)
	if t == b.highest {
		b.highest = b.HighestAtOrBelow(t)
	}
}
