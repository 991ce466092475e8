package shim

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TFMV/alloctrace/pkg/heap"
	"github.com/TFMV/alloctrace/pkg/interpose"
)

func TestTracer(t *testing.T) {
	t.Run("MallocLine", func(t *testing.T) {
		var sink bytes.Buffer
		tr := NewTracer(newTestHeap(), WithSink(&sink))

		b := tr.Malloc(10)
		require.NotNil(t, b)
		assert.Equal(t, fmt.Sprintf("alloctrace:malloc %d\n", heap.UsableSize(b)), sink.String())
		assert.GreaterOrEqual(t, heap.UsableSize(b), 10)
		tr.Free(b)
	})

	t.Run("CallocLine", func(t *testing.T) {
		var sink bytes.Buffer
		tr := NewTracer(newTestHeap(), WithSink(&sink))

		b := tr.Calloc(3, 10)
		require.NotNil(t, b)
		assert.Equal(t, fmt.Sprintf("alloctrace:calloc %d\n", heap.UsableSize(b)), sink.String())
		tr.Free(b)
	})

	t.Run("ReallocLineCarriesBothSizes", func(t *testing.T) {
		var sink bytes.Buffer
		tr := NewTracer(newTestHeap(), WithSink(&sink))

		b := tr.Malloc(10)
		require.NotNil(t, b)
		oldSize := heap.UsableSize(b)
		sink.Reset()

		nb := tr.Realloc(b, 1000)
		require.NotNil(t, nb)
		assert.Equal(t,
			fmt.Sprintf("alloctrace:realloc %d %d\n", heap.UsableSize(nb), oldSize),
			sink.String())
		tr.Free(nb)
	})

	t.Run("ReallocNilTreatedAsFresh", func(t *testing.T) {
		var sink bytes.Buffer
		tr := NewTracer(newTestHeap(), WithSink(&sink))

		b := tr.Realloc(nil, 10)
		require.NotNil(t, b)
		assert.Equal(t,
			fmt.Sprintf("alloctrace:realloc %d 0\n", heap.UsableSize(b)),
			sink.String())
		tr.Free(b)
	})

	t.Run("CustomTag", func(t *testing.T) {
		var sink bytes.Buffer
		tr := NewTracer(newTestHeap(), WithSink(&sink), WithTag("LD_PRELOAD"))

		b := tr.Malloc(10)
		require.NotNil(t, b)
		assert.True(t, strings.HasPrefix(sink.String(), "LD_PRELOAD:malloc "))
		tr.Free(b)
	})

	t.Run("NoLineOnExhaustion", func(t *testing.T) {
		var sink bytes.Buffer
		limited := heap.NewLimitedHeap(newTestHeap(), 64)
		tr := NewTracer(limited, WithSink(&sink))

		assert.Nil(t, tr.Malloc(1000))
		assert.Nil(t, tr.Calloc(100, 100))
		assert.Empty(t, sink.String(), "failed calls must not be traced")

		b := tr.Malloc(10)
		require.NotNil(t, b)
		sink.Reset()

		// Realloc failure: no line, original still valid.
		assert.Nil(t, tr.Realloc(b, 1000))
		assert.Empty(t, sink.String())
		assert.GreaterOrEqual(t, heap.UsableSize(b), 10)
		tr.Free(b)
	})

	t.Run("FreeIsSilent", func(t *testing.T) {
		var sink bytes.Buffer
		tr := NewTracer(newTestHeap(), WithSink(&sink))

		b := tr.Malloc(10)
		require.NotNil(t, b)
		sink.Reset()
		tr.Free(b)
		assert.Empty(t, sink.String())
	})

	t.Run("BindRegistersTheTrio", func(t *testing.T) {
		var sink bytes.Buffer
		base := newTestHeap()
		tr := NewTracer(base, WithSink(&sink))

		table := interpose.NewTable()
		require.NoError(t, tr.Bind(table))
		proc := table.Apply(base)

		b := proc.Malloc(10)
		require.NotNil(t, b)
		assert.Contains(t, sink.String(), "alloctrace:malloc ")

		sink.Reset()
		proc.Free(b)
		assert.Empty(t, sink.String(), "free stays unbound")
	})

	t.Run("ConcurrentLinesDoNotInterleave", func(t *testing.T) {
		var mu sync.Mutex
		var lines []string
		sink := writerFunc(func(p []byte) (int, error) {
			mu.Lock()
			lines = append(lines, string(p))
			mu.Unlock()
			return len(p), nil
		})
		tr := NewTracer(newTestHeap(), WithSink(sink))

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 50; j++ {
					b := tr.Malloc(100)
					tr.Free(b)
				}
			}()
		}
		wg.Wait()

		assert.Len(t, lines, 8*50)
		for _, line := range lines {
			assert.Regexp(t, `^alloctrace:malloc \d+\n$`, line)
		}
	})
}

type writerFunc func(p []byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }
