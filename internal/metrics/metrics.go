// Package metrics exposes Prometheus instrumentation for builds, embedding
// batches and searches. A nil *Metrics is valid and records nothing.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dshills/omengrep/internal/logging"
)

const namespace = "omengrep"

// File outcomes counted per build
const (
	FileIndexed   = "indexed"
	FileUnchanged = "unchanged"
	FileRemoved   = "removed"
	FileSkipped   = "skipped"
	FileFailed    = "failed"
)

// Block operations
const (
	BlockUpserted  = "upserted"
	BlockRetracted = "retracted"
)

// Metrics owns a private registry so several instances can coexist in
// one process
type Metrics struct {
	registry *prometheus.Registry

	builds        *prometheus.CounterVec
	buildDuration prometheus.Histogram
	files         *prometheus.CounterVec
	blocks        *prometheus.CounterVec
	embedLatency  *prometheus.HistogramVec
	embedTexts    prometheus.Counter
	searchLatency *prometheus.HistogramVec
	indexedBlocks prometheus.Gauge
}

// New creates and registers every collector
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		builds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "builds_total",
			Help:      "Index builds by status",
		}, []string{"status"}),
		buildDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "build_duration_seconds",
			Help:      "Wall time of index builds",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
		}),
		files: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_total",
			Help:      "Files seen by builds, by outcome",
		}, []string{"outcome"}),
		blocks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocks_total",
			Help:      "Blocks submitted to the store, by operation",
		}, []string{"op"}),
		embedLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "embed_batch_duration_seconds",
			Help:      "Latency of embedding backend calls",
			Buckets:   prometheus.DefBuckets,
		}, []string{"status"}),
		embedTexts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedded_texts_total",
			Help:      "Texts sent to the embedding backend",
		}),
		searchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_duration_seconds",
			Help:      "Latency of searches",
			Buckets:   prometheus.DefBuckets,
		}, []string{"mode", "status"}),
		indexedBlocks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "indexed_blocks",
			Help:      "Blocks in the store after the last build",
		}),
	}

	m.registry.MustRegister(
		m.builds,
		m.buildDuration,
		m.files,
		m.blocks,
		m.embedLatency,
		m.embedTexts,
		m.searchLatency,
		m.indexedBlocks,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// ObserveBuild records a finished build
func (m *Metrics) ObserveBuild(d time.Duration, err error) {
	if m == nil {
		return
	}
	m.builds.WithLabelValues(status(err)).Inc()
	m.buildDuration.Observe(d.Seconds())
}

// AddFiles counts n files with the given outcome
func (m *Metrics) AddFiles(outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.files.WithLabelValues(outcome).Add(float64(n))
}

// AddBlocks counts n block operations
func (m *Metrics) AddBlocks(op string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.blocks.WithLabelValues(op).Add(float64(n))
}

// ObserveBatch matches embedder.BatchObserver
func (m *Metrics) ObserveBatch(size int, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.embedLatency.WithLabelValues(status(err)).Observe(elapsed.Seconds())
	if err == nil {
		m.embedTexts.Add(float64(size))
	}
}

// ObserveSearch records one search
func (m *Metrics) ObserveSearch(mode string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.searchLatency.WithLabelValues(mode, status(err)).Observe(elapsed.Seconds())
}

// SetIndexedBlocks publishes the store size
func (m *Metrics) SetIndexedBlocks(n int) {
	if m == nil {
		return
	}
	m.indexedBlocks.Set(float64(n))
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled
func (m *Metrics) Serve(ctx context.Context, addr string, log *logging.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("metrics endpoint listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
