// Package book implements the price-indexed order book: a per-venue index of
// resting order ids keyed by quantized price level (tick). Occupied levels
// are tracked in a sparse bitmap so a price move can jump straight to the
// next occupied tick instead of probing every level in between.
package book

import (
	"math/bits"
	"sort"

	"github.com/openpredict/rangebook/pkg/engine/idblock"
)

// level is the dense id storage for one occupied tick.
// Ids are kept packed: the occupied slots are always the first count slots
// across the block run, so removal is a swap with the last occupied slot.
type level struct {
	blocks []idblock.Block
	count  int
}

// Book indexes the resting orders of a single venue by registration tick.
// Only ticks that are multiples of the venue's spacing are ever inserted.
//
// Invariants:
//   - a tick's bitmap bit is set iff its level count is nonzero
//   - a level with count zero is torn down, never left as an empty shell
type Book struct {
	spacing int64
	nextID  uint64

	// words maps word index -> occupancy bits over compressed ticks
	// (compressed tick = tick / spacing, floor division).
	words  map[int64]uint64
	levels map[int64]*level
}

// New creates a book for a venue. Spacing is fixed for the book's lifetime.
func New(spacing int64) *Book {
	return &Book{
		spacing: spacing,
		nextID:  1,
		words:   make(map[int64]uint64),
		levels:  make(map[int64]*level),
	}
}

// Spacing returns the tick spacing the book was created with.
func (b *Book) Spacing() int64 {
	return b.spacing
}

// NextID returns the next order id and advances the counter. Ids start at 1;
// 0 is reserved as the invalid id.
func (b *Book) NextID() uint64 {
	id := b.nextID
	b.nextID++
	return id
}

// SetNextID restores the id counter, used when reloading a venue from disk.
func (b *Book) SetNextID(next uint64) {
	if next > b.nextID {
		b.nextID = next
	}
}

// PeekNextID returns the counter without advancing it.
func (b *Book) PeekNextID() uint64 {
	return b.nextID
}

func floorDiv(a, d int64) int64 {
	q := a / d
	if a%d != 0 && (a < 0) != (d < 0) {
		q--
	}
	return q
}

func ceilDiv(a, d int64) int64 {
	return -floorDiv(-a, d)
}

func (b *Book) compress(tick int64) int64 {
	return floorDiv(tick, b.spacing)
}

func wordOf(c int64) (word int64, bit uint) {
	word = floorDiv(c, 64)
	bit = uint(c - word*64)
	return
}

func (b *Book) setBit(c int64) {
	w, bit := wordOf(c)
	b.words[w] |= 1 << bit
}

func (b *Book) clearBit(c int64) {
	w, bit := wordOf(c)
	word := b.words[w] &^ (1 << bit)
	if word == 0 {
		delete(b.words, w)
	} else {
		b.words[w] = word
	}
}

// Insert registers id at tick. The tick must be a multiple of the book's
// spacing. Duplicate registrations are the caller's responsibility.
func (b *Book) Insert(tick int64, id uint64) {
	c := b.compress(tick)
	lv := b.levels[c]
	if lv == nil {
		lv = &level{}
		b.levels[c] = lv
		b.setBit(c)
	}
	blockIdx := lv.count / idblock.Capacity
	if blockIdx == len(lv.blocks) {
		lv.blocks = append(lv.blocks, idblock.Block{})
	}
	lv.blocks[blockIdx].Set(lv.count%idblock.Capacity, id)
	lv.count++
}

// Remove unregisters id from tick by overwriting its slot with the value of
// the last occupied slot (swap-with-last). A tick whose count reaches zero is
// torn down and its bitmap bit cleared. Removing an id that is not present is
// a no-op.
func (b *Book) Remove(tick int64, id uint64) bool {
	c := b.compress(tick)
	lv := b.levels[c]
	if lv == nil {
		return false
	}

	found := -1
	for bi := range lv.blocks {
		if slot := lv.blocks[bi].Find(id); slot >= 0 {
			found = bi*idblock.Capacity + slot
			break
		}
	}
	if found < 0 {
		return false
	}

	last := lv.count - 1
	lastVal := lv.blocks[last/idblock.Capacity].Get(last % idblock.Capacity)
	lv.blocks[found/idblock.Capacity].Set(found%idblock.Capacity, lastVal)
	lv.blocks[last/idblock.Capacity].Clear(last % idblock.Capacity)
	lv.count--

	if lv.count == 0 {
		delete(b.levels, c)
		b.clearBit(c)
		return true
	}
	// Drop a fully emptied trailing block.
	if lv.count%idblock.Capacity == 0 && len(lv.blocks)*idblock.Capacity-lv.count >= idblock.Capacity {
		lv.blocks = lv.blocks[:len(lv.blocks)-1]
	}
	return true
}

// Contains reports whether id is registered at tick.
func (b *Book) Contains(tick int64, id uint64) bool {
	lv := b.levels[b.compress(tick)]
	if lv == nil {
		return false
	}
	for bi := range lv.blocks {
		if lv.blocks[bi].Find(id) >= 0 {
			return true
		}
	}
	return false
}

// Count returns the number of ids registered at tick.
func (b *Book) Count(tick int64) int {
	lv := b.levels[b.compress(tick)]
	if lv == nil {
		return 0
	}
	return lv.count
}

// Len returns the total number of registrations across all ticks.
func (b *Book) Len() int {
	n := 0
	for _, lv := range b.levels {
		n += lv.count
	}
	return n
}

// CollectAndClear removes and returns the id blocks of every occupied tick
// crossed by a price move from fromTick to toTick. The scanned interval is
// [min(from,to) - spacing, max(from,to)) so that an order resting exactly at
// the starting price is included. Blocks are returned in ascending tick
// order; calling again over the same interval returns nothing.
func (b *Book) CollectAndClear(fromTick, toTick int64) []idblock.Block {
	lo, hi := fromTick, toTick
	if lo > hi {
		lo, hi = hi, lo
	}
	lo -= b.spacing

	// Registered ticks are spacing-aligned, so the interval translates to
	// compressed ticks [ceil(lo/s), ceil(hi/s)).
	cLo := ceilDiv(lo, b.spacing)
	cHi := ceilDiv(hi, b.spacing)
	if cLo >= cHi {
		return nil
	}

	wLo := floorDiv(cLo, 64)
	wHi := floorDiv(cHi-1, 64)

	// Walk only occupied words; the tick space is far larger than the number
	// of resting orders, so probing every tick is off the table.
	occupied := make([]int64, 0, len(b.words))
	for w := range b.words {
		if w >= wLo && w <= wHi {
			occupied = append(occupied, w)
		}
	}
	sort.Slice(occupied, func(i, j int) bool { return occupied[i] < occupied[j] })

	var out []idblock.Block
	for _, w := range occupied {
		word := b.words[w]
		for word != 0 {
			bit := bits.TrailingZeros64(word)
			word &^= 1 << uint(bit)
			c := w*64 + int64(bit)
			if c < cLo || c >= cHi {
				continue
			}
			lv := b.levels[c]
			used := (lv.count + idblock.Capacity - 1) / idblock.Capacity
			out = append(out, lv.blocks[:used]...)
			delete(b.levels, c)
			b.clearBit(c)
		}
	}
	return out
}
