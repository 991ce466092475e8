package shim

import (
	"github.com/TFMV/alloctrace/pkg/heap"
)

// LazyHeap is the symbol-resolving interceptor: a Heap whose entry
// points resolve the genuine allocator on first use and forward to it
// afterward. Requests that arrive inside the resolution window are
// satisfied by the bootstrap arena, so the lookup machinery may itself
// allocate without recursing into the unresolved table.
//
// Steady state is a single atomic load ahead of the forward; no trace
// lines are emitted here. Tracing is the Tracer's job.
type LazyHeap struct {
	resolver *Resolver
	arena    *bootstrapArena
}

// LazyOption configures a LazyHeap.
type LazyOption func(*LazyHeap)

// WithArenaCapacity sets the bootstrap arena capacity in bytes.
func WithArenaCapacity(capacity int) LazyOption {
	return func(l *LazyHeap) {
		l.arena = newBootstrapArena(capacity)
	}
}

// NewLazyHeap creates a LazyHeap over the given resolver.
func NewLazyHeap(resolver *Resolver, opts ...LazyOption) *LazyHeap {
	l := &LazyHeap{
		resolver: resolver,
		arena:    newBootstrapArena(DefaultArenaCapacity),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Malloc forwards to the genuine allocator, or to the arena inside the
// resolution window.
func (l *LazyHeap) Malloc(size int) *heap.Block {
	if fns := l.resolver.ensure(); fns != nil {
		return fns.malloc(size)
	}
	return l.arena.alloc(size)
}

// Calloc forwards to the genuine allocator, or to the arena (whose
// fresh claims are already zeroed) inside the resolution window.
func (l *LazyHeap) Calloc(count, size int) *heap.Block {
	if fns := l.resolver.ensure(); fns != nil {
		return fns.calloc(count, size)
	}
	if count < 0 || size < 0 {
		return nil
	}
	total := count * size
	if count != 0 && total/count != size {
		return nil
	}
	return l.arena.alloc(total)
}

// Realloc forwards to the genuine allocator. Arena-backed blocks are
// resized within the arena; their old ranges are never reclaimed.
func (l *LazyHeap) Realloc(b *heap.Block, size int) *heap.Block {
	if fns := l.resolver.ensure(); fns != nil && (b == nil || !l.arena.owns(b)) {
		return fns.realloc(b, size)
	}
	return l.arena.realloc(b, size)
}

// Free forwards to the genuine allocator. Frees of arena-backed blocks
// are silently accepted as no-ops: the arena never reclaims.
func (l *LazyHeap) Free(b *heap.Block) {
	if b == nil || l.arena.owns(b) {
		return
	}
	if fns := l.resolver.ensure(); fns != nil {
		fns.free(b)
	}
	// A non-arena free inside the window has nothing to forward to;
	// dropping it is the only safe move and the window never sees one
	// in practice (nothing real has been handed out yet).
}

// Memalign forwards to the genuine allocator, or claims an aligned
// arena range inside the resolution window.
func (l *LazyHeap) Memalign(align, size int) *heap.Block {
	if fns := l.resolver.ensure(); fns != nil {
		return fns.memalign(align, size)
	}
	return l.arena.allocAligned(align, size)
}

// ArenaAllocs returns how many allocations the bootstrap arena served.
func (l *LazyHeap) ArenaAllocs() int64 {
	return l.arena.Allocs()
}

// ArenaBytesUsed returns the bootstrap arena cursor position.
func (l *LazyHeap) ArenaBytesUsed() int64 {
	return l.arena.BytesUsed()
}
