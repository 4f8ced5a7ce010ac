package storage

import "testing"

func TestPageHeapExtractsAscending(t *testing.T) {
	h := NewPageHeap()
	for _, id := range []uint32{5, 1, 4, 2, 8, 0, 9, 3} {
		h.Insert(id)
	}

	want := []uint32{0, 1, 2, 3, 4, 5, 8, 9}
	for i, w := range want {
		got, ok := h.ExtractMin()
		if !ok {
			t.Fatalf("ExtractMin failed at step %d", i)
		}
		if got != w {
			t.Fatalf("ExtractMin() = %d, want %d at step %d", got, w, i)
		}
	}

	if !h.Empty() {
		t.Fatalf("heap should be empty after draining all entries")
	}
	if _, ok := h.ExtractMin(); ok {
		t.Fatalf("ExtractMin on empty heap should report false")
	}
}

func TestPageHeapMinimumDoesNotRemove(t *testing.T) {
	h := NewPageHeap()
	h.Insert(7)
	h.Insert(3)

	min, ok := h.Minimum()
	if !ok || min != 3 {
		t.Fatalf("Minimum() = (%d, %v), want (3, true)", min, ok)
	}
	if h.Size() != 2 {
		t.Fatalf("Minimum should not remove, size = %d, want 2", h.Size())
	}
}
