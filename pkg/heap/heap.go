// Package heap models a malloc-shaped allocator over arrow memory.
//
// A Block is the unit of allocation. Its usable size may exceed the
// requested size because implementations round requests up to size
// classes; callers may safely use the full usable extent.
package heap

import (
	"sync/atomic"

	"github.com/apache/arrow-go/v18/arrow/memory"
)

// Block is a single allocated unit. Block identity is the pointer
// itself; two allocations never share a *Block.
type Block struct {
	data []byte
}

// NewBlock wraps an existing buffer in a Block. Intended for allocator
// implementations (the bootstrap arena wraps claimed arena ranges).
func NewBlock(data []byte) *Block {
	return &Block{data: data}
}

// Bytes returns the usable extent of the block.
func (b *Block) Bytes() []byte {
	return b.data
}

// UsableSize returns the usable size of a block. A nil block has
// usable size zero, matching malloc_usable_size(NULL).
func UsableSize(b *Block) int {
	if b == nil {
		return 0
	}
	return len(b.data)
}

// Heap is the allocator contract shared by the genuine allocator, the
// bootstrap arena, and every interception layer. A nil *Block result
// means the allocation did not happen; implementations must not panic
// on exhaustion.
type Heap interface {
	// Malloc allocates at least size bytes.
	Malloc(size int) *Block
	// Calloc allocates at least count*size zeroed bytes. Overflow of
	// count*size yields nil.
	Calloc(count, size int) *Block
	// Realloc resizes b, preserving contents up to min(old, new). A nil
	// b behaves like Malloc. On failure the original block stays valid.
	Realloc(b *Block, size int) *Block
	// Free releases b. Freeing nil is a no-op.
	Free(b *Block)
	// Memalign allocates at least size bytes with usable size a
	// multiple of align. align must be a power of two.
	Memalign(align, size int) *Block
}

// GoHeap is the genuine allocator: arrow-backed, with power-of-two
// size classes and atomic byte accounting.
type GoHeap struct {
	alloc     memory.Allocator
	bytesUsed atomic.Int64
}

// NewGoHeap creates a GoHeap over the given arrow allocator. A nil
// allocator selects memory.DefaultAllocator.
func NewGoHeap(alloc memory.Allocator) *GoHeap {
	if alloc == nil {
		alloc = memory.DefaultAllocator
	}
	return &GoHeap{alloc: alloc}
}

// Malloc allocates a block whose usable size is the size class of
// size. Zero-size requests get the minimum class, never nil.
func (h *GoHeap) Malloc(size int) *Block {
	if size < 0 {
		return nil
	}
	usable := ClassSize(size)
	buf := h.alloc.Allocate(usable)
	if buf == nil {
		return nil
	}
	h.bytesUsed.Add(int64(usable))
	return &Block{data: buf}
}

// Calloc allocates count*size zeroed bytes.
func (h *GoHeap) Calloc(count, size int) *Block {
	if count < 0 || size < 0 {
		return nil
	}
	total := count * size
	if count != 0 && total/count != size {
		// count*size overflowed
		return nil
	}
	b := h.Malloc(total)
	if b != nil {
		memory.Set(b.data, 0)
	}
	return b
}

// Realloc resizes b to at least size bytes.
func (h *GoHeap) Realloc(b *Block, size int) *Block {
	if b == nil {
		return h.Malloc(size)
	}
	if size < 0 {
		return nil
	}
	usable := ClassSize(size)
	old := len(b.data)
	if usable == old {
		return b
	}
	buf := h.alloc.Reallocate(usable, b.data)
	if buf == nil {
		return nil
	}
	h.bytesUsed.Add(int64(usable - old))
	b.data = nil
	return &Block{data: buf}
}

// Free releases a block back to the arrow allocator.
func (h *GoHeap) Free(b *Block) {
	if b == nil || b.data == nil {
		return
	}
	h.bytesUsed.Add(-int64(len(b.data)))
	h.alloc.Free(b.data)
	b.data = nil
}

// Memalign allocates a block whose usable size is a multiple of align.
func (h *GoHeap) Memalign(align, size int) *Block {
	if size < 0 || align <= 0 || align&(align-1) != 0 {
		return nil
	}
	usable := alignUp(ClassSize(size), align)
	buf := h.alloc.Allocate(usable)
	if buf == nil {
		return nil
	}
	h.bytesUsed.Add(int64(usable))
	return &Block{data: buf}
}

// BytesUsed returns the current number of bytes allocated.
func (h *GoHeap) BytesUsed() int64 {
	return h.bytesUsed.Load()
}
