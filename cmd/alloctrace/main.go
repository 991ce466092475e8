// Package main provides the entry point for the allocation-tracing driver.
package main

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/TFMV/alloctrace/cmd/alloctrace/config"
	"github.com/TFMV/alloctrace/pkg/heap"
	"github.com/TFMV/alloctrace/pkg/infrastructure/metrics"
	"github.com/TFMV/alloctrace/pkg/interpose"
	"github.com/TFMV/alloctrace/pkg/shim"
	"github.com/TFMV/alloctrace/pkg/tdigest"
)

var (
	// Version information (set by build flags)
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "alloctrace",
	Short: "Allocation-tracing shim driver",
	Long: `A tracing interposition layer over a malloc-shaped heap.

alloctrace wires the interceptors around the genuine allocator and
drives the t-digest example workload through them, printing one trace
line per allocation event.`,
}

var traceCmd = &cobra.Command{
	Use:   "trace",
	Short: "Run the t-digest workload under the tracing shim",
	Long: `Run the t-digest example workload with allocation tracing.

Example:
  alloctrace trace
  alloctrace trace --values 100 --digest-size 100 --sink trace.out`,
	RunE: runTrace,
}

func init() {
	rootCmd.AddCommand(traceCmd)

	traceCmd.Flags().StringP("config", "c", "", "config file path")
	traceCmd.Flags().String("tag", shim.DefaultTag, "trace line tag")
	traceCmd.Flags().String("sink", "", "trace output path (default stdout)")
	traceCmd.Flags().Int("arena-capacity", shim.DefaultArenaCapacity, "bootstrap arena capacity in bytes")
	traceCmd.Flags().Int("digest-size", tdigest.DefaultMaxSize, "t-digest target size")
	traceCmd.Flags().Int("values", 100, "number of values to push")
	traceCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	traceCmd.Flags().Bool("metrics", false, "expose Prometheus metrics")
	traceCmd.Flags().String("metrics-address", ":9090", "metrics listen address")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("alloctrace %s (commit %s, built %s)\n", version, commit, buildDate)
		},
	})
}

func runTrace(cmd *cobra.Command, args []string) error {
	v := viper.New()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	cfg, err := config.LoadFromViper(v)
	if err != nil {
		return err
	}

	logger := newLogger(cfg.LogLevel)
	runID := uuid.New().String()
	logger.Info().
		Str("run_id", runID).
		Str("version", version).
		Int("values", cfg.Values).
		Int("digest_size", cfg.DigestSize).
		Msg("starting traced run")

	sink := os.Stdout
	if cfg.Sink != "" {
		f, err := os.Create(cfg.Sink)
		if err != nil {
			return fmt.Errorf("opening trace sink: %w", err)
		}
		defer f.Close()
		sink = f
	}

	var collector metrics.Collector = metrics.NewNoOpCollector()
	if cfg.Metrics.Enabled {
		prom := metrics.NewPrometheusCollector()
		collector = prom
		mux := http.NewServeMux()
		mux.Handle("/metrics", prom.Handler())
		srv := &http.Server{Addr: cfg.Metrics.Address, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			logger.Info().Str("address", cfg.Metrics.Address).Msg("metrics listening")
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Warn().Err(err).Msg("metrics server stopped")
			}
		}()
		defer srv.Close()
	}

	// The genuine allocator, the resolution gate over it, and the
	// interpose table with the tracing trio bound.
	base := heap.NewGoHeap(memory.NewGoAllocator())
	resolver := shim.NewResolver([]shim.SymbolSource{shim.HeapSource(base)})
	lazy := shim.NewLazyHeap(resolver, shim.WithArenaCapacity(cfg.ArenaCapacity))
	tracer := shim.NewTracer(lazy,
		shim.WithTag(cfg.Tag),
		shim.WithSink(sink),
		shim.WithCollector(collector),
	)
	table := interpose.NewTable()
	if err := tracer.Bind(table); err != nil {
		return err
	}
	proc := table.Apply(lazy)

	formatted, err := runWorkload(proc, cfg)
	if err != nil {
		return err
	}
	fmt.Println(formatted)
	collector.RecordGauge("alloctrace_arena_bytes", float64(lazy.ArenaBytesUsed()))

	logger.Info().
		Str("run_id", runID).
		Int64("arena_allocs", lazy.ArenaAllocs()).
		Int64("heap_bytes", base.BytesUsed()).
		Msg("run complete")
	return nil
}

// runWorkload drives the reference scenario: push 1.0 .. Values into a
// builder, build, and serialize through the interposed heap.
func runWorkload(proc heap.Heap, cfg *config.Config) (string, error) {
	builder := tdigest.NewBuilder(cfg.DigestSize)
	for value := 1.0; value <= float64(cfg.Values); value++ {
		if err := builder.Push(value); err != nil {
			return "", err
		}
	}

	td, err := builder.Build()
	if err != nil {
		return "", err
	}

	block := td.FormatForPostgresInto(proc)
	if block == nil {
		return "", fmt.Errorf("serializing digest: allocation failed")
	}
	formatted := strings.TrimRight(string(block.Bytes()), "\x00")
	proc.Free(block)
	return formatted, nil
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(lvl).
		With().
		Timestamp().
		Logger()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
