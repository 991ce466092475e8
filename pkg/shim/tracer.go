package shim

import (
	"fmt"
	"io"
	"os"

	"github.com/TFMV/alloctrace/pkg/heap"
	"github.com/TFMV/alloctrace/pkg/infrastructure/metrics"
	"github.com/TFMV/alloctrace/pkg/interpose"
)

// DefaultTag prefixes every trace line.
const DefaultTag = "alloctrace"

// Tracer is the table-based interceptor: it wraps the original heap
// entry points and emits one line per successful allocation event with
// the block's usable size. Failed (nil-returning) calls produce no
// line; the nil propagates unchanged. Allocator semantics, including
// the zero-size policy, belong to the wrapped heap.
type Tracer struct {
	orig      heap.Heap
	tag       string
	sink      io.Writer
	collector metrics.Collector
}

// TracerOption configures a Tracer.
type TracerOption func(*Tracer)

// WithTag sets the trace line tag.
func WithTag(tag string) TracerOption {
	return func(t *Tracer) {
		t.tag = tag
	}
}

// WithSink sets the trace line sink.
func WithSink(w io.Writer) TracerOption {
	return func(t *Tracer) {
		t.sink = w
	}
}

// WithCollector sets the metrics collector.
func WithCollector(c metrics.Collector) TracerOption {
	return func(t *Tracer) {
		t.collector = c
	}
}

// NewTracer creates a Tracer forwarding to orig. Defaults: tag
// "alloctrace", sink stdout, no-op metrics.
func NewTracer(orig heap.Heap, opts ...TracerOption) *Tracer {
	t := &Tracer{
		orig:      orig,
		tag:       DefaultTag,
		sink:      os.Stdout,
		collector: metrics.NewNoOpCollector(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Malloc forwards and traces the usable size on success.
func (t *Tracer) Malloc(size int) *heap.Block {
	b := t.orig.Malloc(size)
	if b != nil {
		t.trace("malloc", heap.UsableSize(b))
	}
	return b
}

// Calloc forwards and traces the usable size on success. Overflow of
// count*size is the wrapped allocator's responsibility.
func (t *Tracer) Calloc(count, size int) *heap.Block {
	b := t.orig.Calloc(count, size)
	if b != nil {
		t.trace("calloc", heap.UsableSize(b))
	}
	return b
}

// Realloc captures the prior usable size, forwards, and traces both
// sizes on success. On failure the original block stays valid and no
// line is emitted.
func (t *Tracer) Realloc(b *heap.Block, size int) *heap.Block {
	oldSize := heap.UsableSize(b)
	nb := t.orig.Realloc(b, size)
	if nb != nil {
		newSize := heap.UsableSize(nb)
		// One Write per line so concurrent events never interleave.
		fmt.Fprintf(t.sink, "%s:realloc %d %d\n", t.tag, newSize, oldSize)
		t.collector.IncrementCounter("alloctrace_operations_total", "op", "realloc")
		t.collector.RecordHistogram("alloctrace_block_bytes", float64(newSize), "op", "realloc")
	}
	return nb
}

// Free forwards without tracing. Deallocation events are counted in
// metrics only.
func (t *Tracer) Free(b *heap.Block) {
	if b != nil {
		t.collector.IncrementCounter("alloctrace_operations_total", "op", "free")
	}
	t.orig.Free(b)
}

// Memalign forwards without tracing.
func (t *Tracer) Memalign(align, size int) *heap.Block {
	return t.orig.Memalign(align, size)
}

// Bind registers the trio in an interpose table. free and memalign
// stay unbound: they fall through to the original entry points.
func (t *Tracer) Bind(table *interpose.Table) error {
	if err := table.Bind(interpose.SymMalloc, interpose.MallocFn(t.Malloc)); err != nil {
		return err
	}
	if err := table.Bind(interpose.SymCalloc, interpose.CallocFn(t.Calloc)); err != nil {
		return err
	}
	return table.Bind(interpose.SymRealloc, interpose.ReallocFn(t.Realloc))
}

func (t *Tracer) trace(op string, usable int) {
	// One Write per line so concurrent events never interleave.
	fmt.Fprintf(t.sink, "%s:%s %d\n", t.tag, op, usable)
	t.collector.IncrementCounter("alloctrace_operations_total", "op", op)
	t.collector.RecordHistogram("alloctrace_block_bytes", float64(usable), "op", op)
}
