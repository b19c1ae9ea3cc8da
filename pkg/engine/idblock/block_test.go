package idblock

import (
	"bytes"
	"testing"
)

func TestAppendAndCount(t *testing.T) {
	var b Block

	if b.Count() != 0 {
		t.Fatalf("empty block count = %d, want 0", b.Count())
	}

	for i := 1; i <= Capacity; i++ {
		if !b.Append(uint64(i * 10)) {
			t.Fatalf("append %d failed on non-full block", i)
		}
		if b.Count() != i {
			t.Fatalf("count after %d appends = %d", i, b.Count())
		}
	}

	if !b.Full() {
		t.Fatal("block with 8 ids should be full")
	}
	if b.Append(999) {
		t.Fatal("append on full block should fail")
	}
}

func TestFindAndClear(t *testing.T) {
	var b Block
	b.Append(7)
	b.Append(11)
	b.Append(13)

	tests := []struct {
		id   uint64
		want int
	}{
		{7, 0},
		{11, 1},
		{13, 2},
		{99, -1},
		{0, -1}, // zero is the empty marker, never found
	}
	for _, tt := range tests {
		if got := b.Find(tt.id); got != tt.want {
			t.Errorf("Find(%d) = %d, want %d", tt.id, got, tt.want)
		}
	}

	b.Clear(1)
	if b.Find(11) != -1 {
		t.Fatal("cleared id still found")
	}
	if b.Count() != 2 {
		t.Fatalf("count after clear = %d, want 2", b.Count())
	}
}

func TestSwapSemantics(t *testing.T) {
	// Overwriting a slot with the last occupied slot's value keeps the block
	// dense; membership must be order independent.
	var b Block
	for _, id := range []uint64{1, 2, 3, 4} {
		b.Append(id)
	}

	last := b.Get(3)
	b.Set(1, last)
	b.Clear(3)

	want := map[uint64]bool{1: true, 3: true, 4: true}
	got := b.IDs()
	if len(got) != len(want) {
		t.Fatalf("ids after swap-remove = %v", got)
	}
	for _, id := range got {
		if !want[id] {
			t.Fatalf("unexpected id %d after swap-remove", id)
		}
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	var b Block
	b.Append(1)
	b.Append(1 << 40)
	b.Append(42)

	enc := b.AppendBytes(nil)
	if len(enc) != EncodedSize {
		t.Fatalf("encoded size = %d, want %d", len(enc), EncodedSize)
	}

	dec := DecodeBlock(enc)
	if dec != b {
		t.Fatalf("decode mismatch: %v != %v", dec, b)
	}

	// The encoding must be stable: identical content, identical bytes.
	enc2 := b.AppendBytes(nil)
	if !bytes.Equal(enc, enc2) {
		t.Fatal("encoding is not deterministic")
	}
}
