package queue

import (
	"math/rand"
	"sort"
	"testing"
)

func TestMinHeapOrder(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	pq := NewMin(16)
	var ref []float32
	for i := 0; i < 100; i++ {
		d := rng.Float32()
		pq.Push(Item{ID: uint64(i), Distance: d})
		ref = append(ref, d)
	}
	sort.Slice(ref, func(i, j int) bool { return ref[i] < ref[j] })
	for i, want := range ref {
		got, ok := pq.Pop()
		if !ok {
			t.Fatalf("pop %d: queue exhausted early", i)
		}
		if got.Distance != want {
			t.Fatalf("pop %d: distance %g, want %g", i, got.Distance, want)
		}
	}
	if _, ok := pq.Pop(); ok {
		t.Fatal("pop on empty queue reported ok")
	}
}

func TestMaxHeapTop(t *testing.T) {
	pq := NewMax(4)
	for _, d := range []float32{3, 1, 4, 1.5} {
		pq.Push(Item{Distance: d})
	}
	top, ok := pq.Top()
	if !ok || top.Distance != 4 {
		t.Fatalf("top = %v, want distance 4", top)
	}
	if pq.Len() != 4 {
		t.Fatalf("Top must not remove, len = %d", pq.Len())
	}
}

func TestMaxHeapTieBreaksByHigherID(t *testing.T) {
	// Equal distances at the root of a max-heap must surface the higher id
	// first so bounded top-k eviction drops it and keeps the lower id.
	pq := NewMax(4)
	pq.Push(Item{ID: 5, Distance: 1})
	pq.Push(Item{ID: 2, Distance: 1})
	pq.Push(Item{ID: 9, Distance: 1})
	top, _ := pq.Top()
	if top.ID != 9 {
		t.Fatalf("root id = %d, want 9", top.ID)
	}
}

func TestBoundedTopK(t *testing.T) {
	// Keep the 3 closest of a stream using the max-heap idiom.
	const k = 3
	top := NewMax(k)
	for i, d := range []float32{9, 2, 7, 1, 8, 3, 5} {
		it := Item{ID: uint64(i), Distance: d}
		if top.Len() < k {
			top.Push(it)
			continue
		}
		if worst, _ := top.Top(); it.Distance < worst.Distance {
			top.Pop()
			top.Push(it)
		}
	}
	var got []float32
	for top.Len() > 0 {
		it, _ := top.Pop()
		got = append(got, it.Distance)
	}
	want := []float32{3, 2, 1} // max-heap pops descending
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestReset(t *testing.T) {
	pq := NewMin(2)
	pq.Push(Item{Distance: 1})
	pq.Reset()
	if pq.Len() != 0 {
		t.Fatalf("len after reset = %d", pq.Len())
	}
}
