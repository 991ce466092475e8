package shim

import (
	"sync"
	"sync/atomic"

	"github.com/TFMV/alloctrace/pkg/errors"
	"github.com/TFMV/alloctrace/pkg/heap"
)

// DefaultArenaCapacity is the default bootstrap arena size. The
// resolution window is short-lived and low-volume; 1 KiB has been
// enough for every lookup path seen so far.
const DefaultArenaCapacity = 1024

// bootstrapArena satisfies allocations that arrive while the genuine
// allocator is still being resolved. It is a fixed-capacity buffer
// with a monotonic cursor: claims never overlap, freed ranges are
// never reused, and exhaustion is a fatal configuration error.
type bootstrapArena struct {
	buf    []byte
	cursor atomic.Int64
	allocs atomic.Int64
	owned  sync.Map // *heap.Block -> struct{}
}

func newBootstrapArena(capacity int) *bootstrapArena {
	if capacity <= 0 {
		capacity = DefaultArenaCapacity
	}
	return &bootstrapArena{buf: make([]byte, capacity)}
}

// claim atomically reserves size bytes starting at the given
// alignment and returns the claimed range, or nil past capacity.
func (a *bootstrapArena) claim(align, size int) []byte {
	for {
		start := a.cursor.Load()
		begin := int(start)
		if align > 1 {
			begin = alignUp(begin, align)
		}
		end := begin + size
		if end > len(a.buf) {
			panic(errors.ErrArenaExhausted.WithDetail("capacity", len(a.buf)))
		}
		if a.cursor.CompareAndSwap(start, int64(end)) {
			return a.buf[begin:end:end]
		}
	}
}

func (a *bootstrapArena) alloc(size int) *heap.Block {
	if size < 0 {
		return nil
	}
	b := heap.NewBlock(a.claim(1, size))
	a.allocs.Add(1)
	a.owned.Store(b, struct{}{})
	return b
}

func (a *bootstrapArena) allocAligned(align, size int) *heap.Block {
	if size < 0 || align <= 0 || align&(align-1) != 0 {
		return nil
	}
	b := heap.NewBlock(a.claim(align, size))
	a.allocs.Add(1)
	a.owned.Store(b, struct{}{})
	return b
}

// realloc grows into a fresh claim; the old range is abandoned, never
// reclaimed.
func (a *bootstrapArena) realloc(b *heap.Block, size int) *heap.Block {
	if b == nil {
		return a.alloc(size)
	}
	nb := a.alloc(size)
	copy(nb.Bytes(), b.Bytes())
	return nb
}

// owns reports whether b was handed out by this arena. Frees against
// arena-backed blocks are silently accepted as no-ops.
func (a *bootstrapArena) owns(b *heap.Block) bool {
	_, ok := a.owned.Load(b)
	return ok
}

// Allocs returns the number of allocations the arena served.
func (a *bootstrapArena) Allocs() int64 {
	return a.allocs.Load()
}

// BytesUsed returns the cursor position: bytes claimed so far.
func (a *bootstrapArena) BytesUsed() int64 {
	return a.cursor.Load()
}

// alignUp rounds n up to the next multiple of align (a power of two).
func alignUp(n, align int) int {
	return (n + align - 1) &^ (align - 1)
}
