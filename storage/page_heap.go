package storage

// PageHeap is an array-backed binary min-heap over page IDs. DiskManager
// uses it to hand out the smallest free page ID first when reusing
// deallocated pages.
type PageHeap struct {
	data []uint32
}

// NewPageHeap constructs an empty heap.
func NewPageHeap() *PageHeap {
	return &PageHeap{data: make([]uint32, 0, 16)}
}

// Size returns the number of page IDs currently held.
func (h *PageHeap) Size() int { return len(h.data) }

// Empty reports whether the heap holds no page IDs.
func (h *PageHeap) Empty() bool { return len(h.data) == 0 }

// Minimum returns the smallest page ID without removing it.
func (h *PageHeap) Minimum() (uint32, bool) {
	if h.Empty() {
		return 0, false
	}
	return h.data[0], true
}

// Insert adds a page ID to the heap.
func (h *PageHeap) Insert(pageID uint32) {
	h.data = append(h.data, pageID)
	h.siftUp(len(h.data) - 1)
}

// Heapify rebuilds heap order from an arbitrary batch of page IDs, replacing
// the heap's current contents. Bottom-up sift-down over all internal nodes,
// each O(log n) call starting from the last parent.
func (h *PageHeap) Heapify(pageIDs []uint32) {
	h.data = append(h.data[:0], pageIDs...)
	for i := parent(len(h.data) - 1); i >= 0; i-- {
		h.siftDown(i)
	}
}

// ExtractMin removes and returns the smallest page ID.
func (h *PageHeap) ExtractMin() (uint32, bool) {
	if h.Empty() {
		return 0, false
	}

	min := h.data[0]
	last := len(h.data) - 1
	h.data[0] = h.data[last]
	h.data = h.data[:last]
	if len(h.data) > 0 {
		h.siftDown(0)
	}
	return min, true
}

func parent(i int) int      { return (i - 1) / 2 }
func leftChild(i int) int   { return 2*i + 1 }
func rightChild(i int) int  { return 2*i + 2 }

func (h *PageHeap) siftUp(i int) {
	for i > 0 {
		p := parent(i)
		if h.data[p] <= h.data[i] {
			break
		}
		h.data[p], h.data[i] = h.data[i], h.data[p]
		i = p
	}
}

func (h *PageHeap) siftDown(i int) {
	n := len(h.data)
	for {
		smallest := i
		l, r := leftChild(i), rightChild(i)
		if l < n && h.data[l] < h.data[smallest] {
			smallest = l
		}
		if r < n && h.data[r] < h.data[smallest] {
			smallest = r
		}
		if smallest == i {
			break
		}
		h.data[i], h.data[smallest] = h.data[smallest], h.data[i]
		i = smallest
	}
}
