package book

import (
	"sort"
	"testing"

	"github.com/openpredict/rangebook/pkg/engine/idblock"
)

func collectIDs(blocks []idblock.Block) []uint64 {
	var ids []uint64
	for i := range blocks {
		ids = append(ids, blocks[i].IDs()...)
	}
	sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })
	return ids
}

func TestNextID(t *testing.T) {
	b := New(10)
	if got := b.NextID(); got != 1 {
		t.Fatalf("first id = %d, want 1", got)
	}
	if got := b.NextID(); got != 2 {
		t.Fatalf("second id = %d, want 2", got)
	}
	b.SetNextID(100)
	if got := b.NextID(); got != 100 {
		t.Fatalf("restored id = %d, want 100", got)
	}
	// SetNextID never rewinds the counter.
	b.SetNextID(5)
	if got := b.NextID(); got != 101 {
		t.Fatalf("id after rewind attempt = %d, want 101", got)
	}
}

func TestInsertRemove(t *testing.T) {
	b := New(10)

	b.Insert(100, 1)
	b.Insert(100, 2)
	b.Insert(100, 3)
	b.Insert(200, 4)

	if b.Count(100) != 3 || b.Count(200) != 1 {
		t.Fatalf("counts = %d,%d want 3,1", b.Count(100), b.Count(200))
	}

	// Swap-with-last removal changes internal order; assert membership only.
	if !b.Remove(100, 1) {
		t.Fatal("remove existing id failed")
	}
	if b.Count(100) != 2 {
		t.Fatalf("count after remove = %d, want 2", b.Count(100))
	}
	if b.Contains(100, 1) {
		t.Fatal("removed id still present")
	}
	if !b.Contains(100, 2) || !b.Contains(100, 3) {
		t.Fatal("surviving ids lost by swap-remove")
	}

	// Removing an absent id is a no-op.
	if b.Remove(100, 99) {
		t.Fatal("remove of absent id reported success")
	}
	if b.Remove(300, 1) {
		t.Fatal("remove at empty tick reported success")
	}
}

func TestLevelTeardown(t *testing.T) {
	b := New(10)
	b.Insert(100, 1)
	b.Remove(100, 1)

	// The level must be gone, not an empty shell: a collect over the tick
	// finds nothing.
	if got := b.CollectAndClear(50, 150); len(got) != 0 {
		t.Fatalf("collect over torn-down level returned %v", got)
	}
	if b.Len() != 0 {
		t.Fatalf("book len = %d after teardown, want 0", b.Len())
	}
}

func TestLevelGrowsPastOneBlock(t *testing.T) {
	b := New(10)
	for id := uint64(1); id <= 20; id++ {
		b.Insert(100, id)
	}
	if b.Count(100) != 20 {
		t.Fatalf("count = %d, want 20", b.Count(100))
	}

	got := collectIDs(b.CollectAndClear(50, 150))
	if len(got) != 20 {
		t.Fatalf("collected %d ids, want 20", len(got))
	}
	for i, id := range got {
		if id != uint64(i+1) {
			t.Fatalf("missing id %d in %v", i+1, got)
		}
	}
}

func TestCollectAndClearRange(t *testing.T) {
	tests := []struct {
		name     string
		from, to int64
		want     []uint64
	}{
		// Book below: id 1 @ 40, id 2 @ 50, id 3 @ 110, id 4 @ 200, id 5 @ 250
		{"rising full sweep", 50, 250, []uint64{1, 2, 3, 4}},
		{"rising excludes end tick", 50, 200, []uint64{1, 2, 3}},
		{"start tick included via one-spacing lead", 50, 60, []uint64{1, 2}},
		{"falling sweep", 250, 50, []uint64{1, 2, 3, 4}},
		{"no occupied ticks", 300, 400, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New(10)
			b.Insert(40, 1)
			b.Insert(50, 2)
			b.Insert(110, 3)
			b.Insert(200, 4)
			b.Insert(250, 5)

			got := collectIDs(b.CollectAndClear(tt.from, tt.to))
			if len(got) != len(tt.want) {
				t.Fatalf("collected %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("collected %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestCollectAndClearIdempotent(t *testing.T) {
	b := New(10)
	b.Insert(100, 1)
	b.Insert(150, 2)
	b.Insert(190, 3)

	first := collectIDs(b.CollectAndClear(50, 250))
	if len(first) != 3 {
		t.Fatalf("first collect = %v, want 3 ids", first)
	}
	second := b.CollectAndClear(50, 250)
	if len(second) != 0 {
		t.Fatalf("second collect on unchanged book = %v, want empty", second)
	}
}

func TestNegativeTicks(t *testing.T) {
	b := New(10)
	b.Insert(-200, 1)
	b.Insert(-100, 2)
	b.Insert(-10, 3)
	b.Insert(0, 4)
	b.Insert(100, 5)

	// Falling move across zero.
	got := collectIDs(b.CollectAndClear(150, -150))
	want := []uint64{2, 3, 4, 5}
	if len(got) != len(want) {
		t.Fatalf("collected %v, want %v", got, want)
	}
	for i := range got {
		if got[i] != want[i] {
			t.Fatalf("collected %v, want %v", got, want)
		}
	}
	if !b.Contains(-200, 1) {
		t.Fatal("tick outside range was cleared")
	}
}

func TestUnalignedMoveEndpoints(t *testing.T) {
	// Venue ticks need not be spacing aligned; only registrations are.
	b := New(10)
	b.Insert(100, 1)
	b.Insert(110, 2)

	got := collectIDs(b.CollectAndClear(95, 105))
	if len(got) != 1 || got[0] != 1 {
		t.Fatalf("collected %v, want [1]", got)
	}
	if !b.Contains(110, 2) {
		t.Fatal("tick past unaligned end was cleared")
	}
}
