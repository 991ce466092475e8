package heap

import "sync/atomic"

// LimitedHeap wraps a Heap with a byte budget. Once an allocation
// would push usage past the budget it returns nil instead, which is
// how tests stand in for genuine allocator exhaustion.
type LimitedHeap struct {
	inner  Heap
	budget int64
	used   atomic.Int64
}

// NewLimitedHeap creates a LimitedHeap with the given budget in bytes.
func NewLimitedHeap(inner Heap, budget int64) *LimitedHeap {
	return &LimitedHeap{inner: inner, budget: budget}
}

// charge reserves usable bytes against the budget, returning false if
// the budget would be exceeded.
func (h *LimitedHeap) charge(usable int) bool {
	if h.used.Add(int64(usable)) > h.budget {
		h.used.Add(-int64(usable))
		return false
	}
	return true
}

// Malloc allocates through the inner heap if the budget allows.
func (h *LimitedHeap) Malloc(size int) *Block {
	b := h.inner.Malloc(size)
	if b == nil {
		return nil
	}
	if !h.charge(UsableSize(b)) {
		h.inner.Free(b)
		return nil
	}
	return b
}

// Calloc allocates zeroed memory through the inner heap if the budget
// allows.
func (h *LimitedHeap) Calloc(count, size int) *Block {
	b := h.inner.Calloc(count, size)
	if b == nil {
		return nil
	}
	if !h.charge(UsableSize(b)) {
		h.inner.Free(b)
		return nil
	}
	return b
}

// Realloc resizes b if the budget allows. On failure the original
// block is left untouched, per standard realloc failure semantics.
func (h *LimitedHeap) Realloc(b *Block, size int) *Block {
	if b == nil {
		return h.Malloc(size)
	}
	old := UsableSize(b)
	nb := h.Malloc(size)
	if nb == nil {
		return nil
	}
	copy(nb.data, b.data)
	h.used.Add(-int64(old))
	h.inner.Free(b)
	return nb
}

// Free releases b and refunds its usable size.
func (h *LimitedHeap) Free(b *Block) {
	if b == nil {
		return
	}
	h.used.Add(-int64(UsableSize(b)))
	h.inner.Free(b)
}

// Memalign allocates aligned memory through the inner heap if the
// budget allows.
func (h *LimitedHeap) Memalign(align, size int) *Block {
	b := h.inner.Memalign(align, size)
	if b == nil {
		return nil
	}
	if !h.charge(UsableSize(b)) {
		h.inner.Free(b)
		return nil
	}
	return b
}

// BytesUsed returns the bytes currently charged against the budget.
func (h *LimitedHeap) BytesUsed() int64 {
	return h.used.Load()
}
