package tick

import (
	"math/bits"
)

// bitmapLevels gives three 64-way fan-out levels: enough for the full
// dense index range at tick spacing 1 ((MaxTick-MinTick) < 64^4).
const bitmapLevels = 3

// Bitmap marks populated ticks in a sparse hierarchical bitset keyed by
// dense tick index. Level 0 holds one bit per usable tick; each higher
// level summarizes which words of the level below are non-empty, so the
// highest-set-bit-at-or-below query touches at most one word per level.
type Bitmap struct {
	tickSpacing int32
	anchor      int32 // MinUsableTick(tickSpacing), dense index 0
	levels      [bitmapLevels]map[uint32]uint64
}

// NewBitmap creates an empty bitmap for the given tick spacing.
func NewBitmap(tickSpacing int32) *Bitmap {
	b := &Bitmap{
		tickSpacing: tickSpacing,
		anchor:      MinUsableTick(tickSpacing),
	}
	for i := range b.levels {
		b.levels[i] = make(map[uint32]uint64)
	}
	return b
}

// TickSpacing returns the spacing the bitmap was built for.
func (b *Bitmap) TickSpacing() int32 { return b.tickSpacing }

// IndexForTick converts a usable tick (a multiple of the tick spacing)
// to its dense, gap-free bitmap index.
func (b *Bitmap) IndexForTick(t int32) uint32 {
	return uint32((t - b.anchor) / b.tickSpacing)
}

// TickForIndex is the inverse of IndexForTick.
func (b *Bitmap) TickForIndex(index uint32) int32 {
	return int32(index)*b.tickSpacing + b.anchor
}

// Set marks the tick as populated.
func (b *Bitmap) Set(t int32) {
	c := b.IndexForTick(t)
	for k := 0; k < bitmapLevels; k++ {
		w, bit := c>>6, c&63
		b.levels[k][w] |= 1 << bit
		c = w
	}
}

// Clear marks the tick as empty, pruning empty summary words.
func (b *Bitmap) Clear(t int32) {
	c := b.IndexForTick(t)
	for k := 0; k < bitmapLevels; k++ {
		w, bit := c>>6, c&63
		word := b.levels[k][w] &^ (1 << bit)
		if word != 0 {
			b.levels[k][w] = word
			return
		}
		delete(b.levels[k], w)
		c = w
	}
}

// Has reports whether the tick is populated.
func (b *Bitmap) Has(t int32) bool {
	c := b.IndexForTick(t)
	return b.levels[0][c>>6]&(1<<(c&63)) != 0
}

// HighestAtOrBelow returns the highest populated tick at or below start,
// or false if none exists.
func (b *Bitmap) HighestAtOrBelow(start int32) (int32, bool) {
	if start < b.anchor {
		return 0, false
	}
	if max := MaxUsableTick(b.tickSpacing); start > max {
		start = max
	}
	idx, ok := b.highest(0, b.IndexForTick(start))
	if !ok {
		return 0, false
	}
	return b.TickForIndex(idx), true
}

// highest finds the highest set bit at or below idx on the given level.
func (b *Bitmap) highest(level int, idx uint32) (uint32, bool) {
	w, bit := idx>>6, idx&63
	if word := b.levels[level][w] & leMask(bit); word != 0 {
		return w<<6 | uint32(bits.Len64(word)-1), true
	}
	if w == 0 {
		return 0, false
	}

	if level == bitmapLevels-1 {
		// Top level: a handful of words at most, scan downward.
		for ww := int64(w) - 1; ww >= 0; ww-- {
			if word := b.levels[level][uint32(ww)]; word != 0 {
				return uint32(ww)<<6 | uint32(bits.Len64(word)-1), true
			}
		}
		return 0, false
	}

	pw, ok := b.highest(level+1, w-1)
	if !ok {
		return 0, false
	}
	word := b.levels[level][pw]
	return pw<<6 | uint32(bits.Len64(word)-1), true
}

// leMask returns a mask of all bits at or below position bit.
func leMask(bit uint32) uint64 {
	return ^uint64(0) >> (63 - bit)
}
