// Package idblock provides a fixed-capacity container for numeric order
// identifiers. Price levels in the tick book store their resident order ids
// as a dense run of blocks, so scanning a level touches at most a handful of
// contiguous arrays instead of a pointer-chased list.
package idblock

import "encoding/binary"

// Capacity is the number of identifier slots per block.
const Capacity = 8

// Block holds up to Capacity order ids. A zero id marks an empty slot
// (id 0 is reserved and never assigned to an order).
type Block struct {
	ids [Capacity]uint64
}

// Get returns the id stored at slot i.
func (b *Block) Get(i int) uint64 {
	return b.ids[i]
}

// Set stores id at slot i, overwriting whatever was there.
func (b *Block) Set(i int, id uint64) {
	b.ids[i] = id
}

// Clear empties slot i.
func (b *Block) Clear(i int) {
	b.ids[i] = 0
}

// Find returns the slot index holding id, or -1 if the block does not
// contain it.
func (b *Block) Find(id uint64) int {
	if id == 0 {
		return -1
	}
	for i, v := range b.ids {
		if v == id {
			return i
		}
	}
	return -1
}

// Count returns the number of occupied slots.
func (b *Block) Count() int {
	n := 0
	for _, v := range b.ids {
		if v != 0 {
			n++
		}
	}
	return n
}

// Full reports whether every slot is occupied.
func (b *Block) Full() bool {
	for _, v := range b.ids {
		if v == 0 {
			return false
		}
	}
	return true
}

// Append stores id in the first empty slot and reports whether a slot was
// available.
func (b *Block) Append(id uint64) bool {
	for i, v := range b.ids {
		if v == 0 {
			b.ids[i] = id
			return true
		}
	}
	return false
}

// IDs returns the occupied ids in slot order.
func (b *Block) IDs() []uint64 {
	out := make([]uint64, 0, Capacity)
	for _, v := range b.ids {
		if v != 0 {
			out = append(out, v)
		}
	}
	return out
}

// EncodedSize is the length of a block's stable binary encoding.
const EncodedSize = Capacity * 8

// AppendBytes appends the block's stable binary encoding (big-endian, slot
// order, empty slots included) to dst. Deferred batches are keyed by a
// content hash over this encoding, so it must never change shape.
func (b *Block) AppendBytes(dst []byte) []byte {
	var buf [8]byte
	for _, v := range b.ids {
		binary.BigEndian.PutUint64(buf[:], v)
		dst = append(dst, buf[:]...)
	}
	return dst
}

// DecodeBlock reconstructs a block from its stable binary encoding.
// The input must be exactly EncodedSize bytes.
func DecodeBlock(src []byte) Block {
	var b Block
	for i := 0; i < Capacity; i++ {
		b.ids[i] = binary.BigEndian.Uint64(src[i*8:])
	}
	return b
}
