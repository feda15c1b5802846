// Package workspace assembles the components that serve one indexed
// project: store, embedding pipeline, snapshot, indexer and searcher. The
// CLI and the MCP server both go through it.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dshills/omengrep/internal/chunker"
	"github.com/dshills/omengrep/internal/config"
	"github.com/dshills/omengrep/internal/embedder"
	"github.com/dshills/omengrep/internal/indexer"
	"github.com/dshills/omengrep/internal/logging"
	"github.com/dshills/omengrep/internal/metrics"
	"github.com/dshills/omengrep/internal/models"
	"github.com/dshills/omengrep/internal/scanner"
	"github.com/dshills/omengrep/internal/searcher"
	"github.com/dshills/omengrep/internal/snapshot"
	"github.com/dshills/omengrep/internal/storage"
)

// DefaultLockTimeout bounds the wait for another process's build
const DefaultLockTimeout = 30 * time.Second

// ErrNotIndexed is returned when a project has no usable snapshot
var ErrNotIndexed = errors.New("project is not indexed")

// Workspace is an opened project
type Workspace struct {
	Root   string
	Config *config.Config

	store     *storage.SQLiteStore
	pipeline  *embedder.Pipeline
	snapshots *snapshot.FileStore
	indexer   *indexer.Indexer
	searcher  *searcher.Searcher
	log       *logging.Logger
}

type options struct {
	log     *logging.Logger
	metrics *metrics.Metrics
}

// Option configures Open
type Option func(*options)

// WithLogger sets the logger shared by every component
func WithLogger(l *logging.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithMetrics instruments builds, batches and searches
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// Open prepares root for indexing and searching. The index directory is
// created when missing.
func Open(ctx context.Context, root string, cfg *config.Config, opts ...Option) (*Workspace, error) {
	o := options{log: logging.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logging.Nop()
	}

	root, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root: %w", err)
	}
	if cfg.IndexDir == "" {
		cfg.SetDefaults(root)
	}
	if err := os.MkdirAll(cfg.IndexDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}

	ws := &Workspace{
		Root:      root,
		Config:    cfg,
		snapshots: snapshot.NewFileStore(cfg.SnapshotPath()),
		log:       o.log,
	}

	ws.pipeline, err = NewPipeline(ctx, cfg, o.log, o.metrics)
	if err != nil {
		return nil, err
	}

	ws.store, err = storage.Open(ctx, cfg.StorePath())
	if err != nil {
		ws.closePipeline()
		return nil, err
	}

	ws.indexer, err = indexer.New(indexer.Deps{
		Scanner: scanner.New(
			scanner.WithExclude(cfg.Exclude...),
			scanner.WithGlobalIgnore(cfg.GlobalIgnore),
			scanner.WithMaxSize(cfg.MaxFileSize),
			scanner.WithLogger(o.log),
		),
		Extractor: chunker.New(
			chunker.WithWindow(cfg.WindowLines, cfg.WindowOverlap),
			chunker.WithMaxBlockLines(cfg.MaxBlockLines),
		),
		Embedder:  ws.pipeline,
		Store:     ws.store,
		Snapshots: ws.snapshots,
		Logger:    o.log,
		Metrics:   o.metrics,
	}, indexer.Config{
		Workers:     cfg.Workers,
		CallTimeout: cfg.CallTimeout,
		LockPath:    cfg.LockPath(),
		LockTimeout: DefaultLockTimeout,
	})
	if err != nil {
		_ = ws.Close()
		return nil, err
	}

	ws.searcher = searcher.New(ws.store, ws.pipeline,
		searcher.WithLogger(o.log),
		searcher.WithMetrics(o.metrics),
	)
	return ws, nil
}

// NewPipeline builds the embedding pipeline described by cfg
func NewPipeline(ctx context.Context, cfg *config.Config, log *logging.Logger, m *metrics.Metrics) (*embedder.Pipeline, error) {
	fetcher := models.NewFetcher(cfg.CacheDir,
		models.WithEndpoint(cfg.HubEndpoint),
		models.WithToken(cfg.HubToken),
	)
	p, err := embedder.New(ctx, embedder.Config{
		Backend:      cfg.Backend,
		InferenceURL: cfg.InferenceURL,
		APIKey:       cfg.InferenceAPIKey,
		RPS:          cfg.InferenceRPS,
		CallTimeout:  cfg.CallTimeout,
	}, cfg.ModelConfig(), fetcher,
		embedder.WithLogger(log),
		embedder.WithObserver(m.ObserveBatch),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	return p, nil
}

// Build brings the index up to date
func (w *Workspace) Build(ctx context.Context, force bool) (*indexer.Summary, error) {
	return w.indexer.Build(ctx, w.Root, indexer.WithForce(force))
}

// Search runs a query against the index
func (w *Workspace) Search(ctx context.Context, req searcher.Request) (*searcher.Response, error) {
	return w.searcher.Search(ctx, req)
}

// Watch rebuilds the index whenever the tree changes, until ctx ends
func (w *Workspace) Watch(ctx context.Context, debounce time.Duration, onBuild func(*indexer.Summary, error)) error {
	return w.indexer.Watch(ctx, w.Root, indexer.WatchOptions{
		Debounce: debounce,
		SkipDirs: []string{w.Config.IndexDir},
		OnBuild:  onBuild,
	})
}

// Status describes the index without touching the embedder
func (w *Workspace) Status(ctx context.Context) (*Status, error) {
	return Inspect(ctx, w.Root, w.Config)
}

// Close releases the store and the embedding backend
func (w *Workspace) Close() error {
	var errs []error
	if w.store != nil {
		errs = append(errs, w.store.Close())
	}
	errs = append(errs, w.closePipeline())
	return errors.Join(errs...)
}

func (w *Workspace) closePipeline() error {
	if w.pipeline == nil {
		return nil
	}
	err := w.pipeline.Close()
	w.pipeline = nil
	return err
}
