package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, p *PrometheusCollector) string {
	t.Helper()
	srv := httptest.NewServer(p.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func TestPrometheusCollector(t *testing.T) {
	t.Run("Counter", func(t *testing.T) {
		p := NewPrometheusCollector()
		p.IncrementCounter("alloctrace_operations_total", "op", "malloc")
		p.IncrementCounter("alloctrace_operations_total", "op", "malloc")
		p.IncrementCounter("alloctrace_operations_total", "op", "calloc")

		body := scrape(t, p)
		assert.Contains(t, body, `alloctrace_operations_total{op="malloc"} 2`)
		assert.Contains(t, body, `alloctrace_operations_total{op="calloc"} 1`)
	})

	t.Run("Histogram", func(t *testing.T) {
		p := NewPrometheusCollector()
		p.RecordHistogram("alloctrace_block_bytes", 64, "op", "malloc")
		p.RecordHistogram("alloctrace_block_bytes", 128, "op", "malloc")

		body := scrape(t, p)
		assert.Contains(t, body, `alloctrace_block_bytes_count{op="malloc"} 2`)
		assert.Contains(t, body, `alloctrace_block_bytes_sum{op="malloc"} 192`)
	})

	t.Run("Gauge", func(t *testing.T) {
		p := NewPrometheusCollector()
		p.RecordGauge("alloctrace_arena_bytes", 512)
		p.RecordGauge("alloctrace_arena_bytes", 768)

		body := scrape(t, p)
		assert.Contains(t, body, "alloctrace_arena_bytes 768")
	})

	t.Run("IsolatedRegistries", func(t *testing.T) {
		a := NewPrometheusCollector()
		b := NewPrometheusCollector()
		a.IncrementCounter("alloctrace_operations_total", "op", "malloc")

		assert.NotContains(t, scrape(t, b), "alloctrace_operations_total")
	})

	t.Run("OddLabelDropped", func(t *testing.T) {
		names, values := parseLabelPairs([]string{"op", "malloc", "dangling"})
		assert.Equal(t, []string{"op"}, names)
		assert.Equal(t, []string{"malloc"}, values)
	})

	t.Run("NoOpCollectorIsInert", func(t *testing.T) {
		c := NewNoOpCollector()
		assert.NotPanics(t, func() {
			c.IncrementCounter("x", "op", "malloc")
			c.RecordHistogram("x", 1)
			c.RecordGauge("x", 1)
		})
	})
}
