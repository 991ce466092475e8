// Package interpose implements loader-style symbol substitution for
// the process-wide heap dispatch.
//
// A Table collects read-only bindings pairing a replacement entry
// point with the allocator symbol it shadows, then Apply produces the
// effective dispatch before any application code allocates through it.
// An empty table leaves the base heap untouched: when the mechanism is
// not in play, interception silently does not occur.
package interpose

import (
	"fmt"
	"sync"

	"github.com/TFMV/alloctrace/pkg/errors"
	"github.com/TFMV/alloctrace/pkg/heap"
)

// Symbol is the name of an intercepted allocator entry point. The
// substitution is keyed on these exact names.
type Symbol string

// Intercepted symbols.
const (
	SymMalloc   Symbol = "malloc"
	SymFree     Symbol = "free"
	SymCalloc   Symbol = "calloc"
	SymRealloc  Symbol = "realloc"
	SymMemalign Symbol = "memalign"
)

// Replacement entry point shapes, one per symbol.
type (
	MallocFn   func(size int) *heap.Block
	FreeFn     func(b *heap.Block)
	CallocFn   func(count, size int) *heap.Block
	ReallocFn  func(b *heap.Block, size int) *heap.Block
	MemalignFn func(align, size int) *heap.Block
)

// Binding is a read-only registration record: the replacement entry
// point for a process-wide symbol.
type Binding struct {
	Symbol      Symbol
	Replacement interface{}
}

// Table collects bindings until Apply seals it.
type Table struct {
	mu       sync.Mutex
	bindings map[Symbol]interface{}
	sealed   bool
}

// NewTable creates an empty interpose table.
func NewTable() *Table {
	return &Table{bindings: make(map[Symbol]interface{})}
}

// Bind registers a replacement for a symbol. The replacement must have
// the symbol's entry point shape. Binding after Apply fails with
// ErrTableSealed.
func (t *Table) Bind(sym Symbol, replacement interface{}) error {
	if err := checkShape(sym, replacement); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sealed {
		return errors.ErrTableSealed
	}
	t.bindings[sym] = replacement
	return nil
}

// MustBind is Bind that panics on error. Registration happens during
// process setup where a bad binding is a programming error.
func (t *Table) MustBind(sym Symbol, replacement interface{}) {
	if err := t.Bind(sym, replacement); err != nil {
		panic(err)
	}
}

// Bindings returns a snapshot of the registered bindings.
func (t *Table) Bindings() []Binding {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Binding, 0, len(t.bindings))
	for sym, repl := range t.bindings {
		out = append(out, Binding{Symbol: sym, Replacement: repl})
	}
	return out
}

// Apply seals the table and returns the effective dispatch: bound
// symbols route to their replacements, unbound symbols fall through to
// base. Replacements are expected to forward to base themselves; the
// dispatch never re-enters them.
func (t *Table) Apply(base heap.Heap) heap.Heap {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sealed = true

	d := &dispatchHeap{
		malloc:   base.Malloc,
		free:     base.Free,
		calloc:   base.Calloc,
		realloc:  base.Realloc,
		memalign: base.Memalign,
	}
	for sym, repl := range t.bindings {
		switch sym {
		case SymMalloc:
			d.malloc = repl.(MallocFn)
		case SymFree:
			d.free = repl.(FreeFn)
		case SymCalloc:
			d.calloc = repl.(CallocFn)
		case SymRealloc:
			d.realloc = repl.(ReallocFn)
		case SymMemalign:
			d.memalign = repl.(MemalignFn)
		}
	}
	return d
}

// checkShape validates a replacement against its symbol's shape.
func checkShape(sym Symbol, replacement interface{}) error {
	var ok bool
	switch sym {
	case SymMalloc:
		_, ok = replacement.(MallocFn)
	case SymFree:
		_, ok = replacement.(FreeFn)
	case SymCalloc:
		_, ok = replacement.(CallocFn)
	case SymRealloc:
		_, ok = replacement.(ReallocFn)
	case SymMemalign:
		_, ok = replacement.(MemalignFn)
	default:
		return errors.New(errors.CodeInvalidConfig, fmt.Sprintf("unknown symbol %q", sym))
	}
	if !ok {
		return errors.New(errors.CodeInvalidConfig,
			fmt.Sprintf("replacement for %q has the wrong shape %T", sym, replacement))
	}
	return nil
}

// dispatchHeap is the effective process-wide heap after Apply.
type dispatchHeap struct {
	malloc   MallocFn
	free     FreeFn
	calloc   CallocFn
	realloc  ReallocFn
	memalign MemalignFn
}

func (d *dispatchHeap) Malloc(size int) *heap.Block { return d.malloc(size) }

func (d *dispatchHeap) Free(b *heap.Block) { d.free(b) }

func (d *dispatchHeap) Calloc(count, size int) *heap.Block { return d.calloc(count, size) }

func (d *dispatchHeap) Realloc(b *heap.Block, size int) *heap.Block { return d.realloc(b, size) }

func (d *dispatchHeap) Memalign(align, size int) *heap.Block { return d.memalign(align, size) }
