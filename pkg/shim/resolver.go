package shim

import (
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/TFMV/alloctrace/pkg/errors"
	"github.com/TFMV/alloctrace/pkg/heap"
	"github.com/TFMV/alloctrace/pkg/interpose"
)

// SymbolSource looks up allocator entry points in one loaded object.
// A Resolver walks a chain of sources the way the dynamic linker walks
// the objects loaded after the shim.
type SymbolSource interface {
	// Lookup returns the entry point bound to sym, if this source
	// exports it. The returned value has the symbol's interpose shape.
	Lookup(sym interpose.Symbol) (interface{}, bool)
}

// HeapSource exposes a Heap's five entry points as a SymbolSource.
func HeapSource(h heap.Heap) SymbolSource {
	return heapSource{h: h}
}

type heapSource struct {
	h heap.Heap
}

func (s heapSource) Lookup(sym interpose.Symbol) (interface{}, bool) {
	switch sym {
	case interpose.SymMalloc:
		return interpose.MallocFn(s.h.Malloc), true
	case interpose.SymFree:
		return interpose.FreeFn(s.h.Free), true
	case interpose.SymCalloc:
		return interpose.CallocFn(s.h.Calloc), true
	case interpose.SymRealloc:
		return interpose.ReallocFn(s.h.Realloc), true
	case interpose.SymMemalign:
		return interpose.MemalignFn(s.h.Memalign), true
	}
	return nil, false
}

// resolvedFuncs is the resolved function table: one slot per
// intercepted symbol. Once published it never changes.
type resolvedFuncs struct {
	malloc   interpose.MallocFn
	free     interpose.FreeFn
	calloc   interpose.CallocFn
	realloc  interpose.ReallocFn
	memalign interpose.MemalignFn
}

// Resolution gate states.
const (
	stateUnresolved uint32 = iota
	stateResolving
	stateResolved
)

// Resolver locates the genuine allocator entry points exactly once,
// on first use. Racing callers during the window are served by the
// bootstrap arena; the lookup body runs on the single goroutine that
// wins the gate.
type Resolver struct {
	next    []SymbolSource
	state   atomic.Uint32
	funcs   atomic.Pointer[resolvedFuncs]
	lookups atomic.Int64
	fatal   func(sym interpose.Symbol)
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithFatalHandler replaces the handler invoked when a symbol cannot
// be resolved. The default logs the symbol and terminates the process;
// if a custom handler returns, the resolver panics with
// ErrSymbolNotFound instead.
func WithFatalHandler(fn func(sym interpose.Symbol)) ResolverOption {
	return func(r *Resolver) {
		r.fatal = fn
	}
}

// NewResolver creates a Resolver over the chain of sources loaded
// after the shim, in link order.
func NewResolver(next []SymbolSource, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		next: next,
		fatal: func(sym interpose.Symbol) {
			log.Fatal().Str("symbol", string(sym)).Msg("cannot resolve genuine allocator symbol")
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ensure returns the resolved table, triggering resolution on first
// use. It returns nil while the resolution window is open, including
// for re-entrant calls from the lookup machinery itself; those callers
// must fall back to the bootstrap arena.
func (r *Resolver) ensure() *resolvedFuncs {
	if fns := r.funcs.Load(); fns != nil {
		return fns
	}
	if !r.state.CompareAndSwap(stateUnresolved, stateResolving) {
		// Another caller holds the gate, or resolution just finished.
		return r.funcs.Load()
	}

	r.lookups.Add(1)
	fns := &resolvedFuncs{
		malloc:   r.lookup(interpose.SymMalloc).(interpose.MallocFn),
		free:     r.lookup(interpose.SymFree).(interpose.FreeFn),
		calloc:   r.lookup(interpose.SymCalloc).(interpose.CallocFn),
		realloc:  r.lookup(interpose.SymRealloc).(interpose.ReallocFn),
		memalign: r.lookup(interpose.SymMemalign).(interpose.MemalignFn),
	}
	r.funcs.Store(fns)
	r.state.Store(stateResolved)
	return fns
}

// lookup walks the source chain for one symbol. A miss is fatal: there
// is no safe continuation without a genuine allocator.
func (r *Resolver) lookup(sym interpose.Symbol) interface{} {
	for _, src := range r.next {
		if fn, ok := src.Lookup(sym); ok {
			return fn
		}
	}
	r.fatal(sym)
	panic(errors.ErrSymbolNotFound.WithDetail("symbol", string(sym)))
}

// Resolved reports whether the genuine entry points are published.
func (r *Resolver) Resolved() bool {
	return r.funcs.Load() != nil
}

// LookupCount returns how many times the lookup body ran. It is 1 for
// the process lifetime once any allocation has happened.
func (r *Resolver) LookupCount() int64 {
	return r.lookups.Load()
}
