package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"slices"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/omengrep/internal/chunker"
	"github.com/dshills/omengrep/internal/fslock"
	"github.com/dshills/omengrep/internal/logging"
	"github.com/dshills/omengrep/internal/metrics"
	"github.com/dshills/omengrep/internal/scanner"
	"github.com/dshills/omengrep/internal/snapshot"
	"github.com/dshills/omengrep/internal/storage"
	"github.com/dshills/omengrep/internal/tokenizer"
	"github.com/dshills/omengrep/pkg/types"
)

var (
	// ErrBuildInProgress is returned when Build is called while another
	// build on the same Indexer is running
	ErrBuildInProgress = errors.New("index build already in progress")
	// ErrMissingDependency is returned by New when a required collaborator is nil
	ErrMissingDependency = errors.New("missing indexer dependency")
)

// State is a stage of a build
type State string

const (
	StateIdle              State = "idle"
	StateScanStarted       State = "scan_started"
	StateChangesClassified State = "changes_classified"
	StateProcessing        State = "processing"
	StateFlushed           State = "flushed"
	StateSnapshotCommitted State = "snapshot_committed"
	StateFailed            State = "failed"
)

// FileScanner is the part of *scanner.Scanner the indexer needs
type FileScanner interface {
	ScanMetadata(root string) (map[string]scanner.FileMetadata, error)
	ReadFile(root, rel string) (scanner.ScannedFile, error)
}

// BlockEmbedder embeds block texts in document mode. Version tags the
// snapshot; a change of version forces a full rebuild.
type BlockEmbedder interface {
	EmbedBlocks(ctx context.Context, texts []string) (types.TokenEmbeddings, error)
	Version() string
}

// Deps are the collaborators of a build
type Deps struct {
	Scanner   FileScanner
	Extractor chunker.Extractor
	Embedder  BlockEmbedder
	Store     storage.Store
	Snapshots snapshot.Store
	Logger    *logging.Logger
	Metrics   *metrics.Metrics
}

// Config contains configuration for the indexer
type Config struct {
	Workers     int           // Concurrent file tasks (default: runtime.NumCPU())
	CallTimeout time.Duration // Bounds the store flush; zero means no bound
	Force       bool          // Reprocess every file regardless of metadata

	// LockPath, when set, holds a cross-process lock for the whole build
	LockPath    string
	LockTimeout time.Duration
}

// Summary describes a finished (or failed) build
type Summary struct {
	BuildID         string        `json:"build_id"`
	State           State         `json:"state"`
	Root            string        `json:"root"`
	ModelVersion    string        `json:"model_version"`
	Rebuilt         bool          `json:"rebuilt"`
	FilesScanned    int           `json:"files_scanned"`
	Unchanged       int           `json:"unchanged"`
	Added           int           `json:"added"`
	Modified        int           `json:"modified"`
	Removed         int           `json:"removed"`
	FilesIndexed    int           `json:"files_indexed"`
	FilesSkipped    int           `json:"files_skipped"`
	FilesFailed     int           `json:"files_failed"`
	BlocksUpserted  int           `json:"blocks_upserted"`
	BlocksRetracted int           `json:"blocks_retracted"`
	TotalBlocks     int           `json:"total_blocks"`
	Duration        time.Duration `json:"duration"`
	Errors          []string      `json:"errors,omitempty"`
}

// Indexer coordinates the incremental pipeline:
// scan -> classify -> extract -> embed -> submit -> flush -> commit
type Indexer struct {
	deps Deps
	cfg  Config
	lock IndexLock

	state atomic.Value // State
}

// New creates a new Indexer instance
func New(deps Deps, cfg Config) (*Indexer, error) {
	switch {
	case deps.Scanner == nil:
		return nil, fmt.Errorf("%w: scanner", ErrMissingDependency)
	case deps.Extractor == nil:
		return nil, fmt.Errorf("%w: extractor", ErrMissingDependency)
	case deps.Embedder == nil:
		return nil, fmt.Errorf("%w: embedder", ErrMissingDependency)
	case deps.Store == nil:
		return nil, fmt.Errorf("%w: store", ErrMissingDependency)
	case deps.Snapshots == nil:
		return nil, fmt.Errorf("%w: snapshot store", ErrMissingDependency)
	}
	if deps.Logger == nil {
		deps.Logger = logging.Nop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}

	idx := &Indexer{deps: deps, cfg: cfg}
	idx.state.Store(StateIdle)
	return idx, nil
}

// State returns the stage of the current or last build
func (idx *Indexer) State() State {
	return idx.state.Load().(State)
}

// BuildOption adjusts a single build
type BuildOption func(*buildOptions)

type buildOptions struct {
	force bool
}

// WithForce reprocesses every file for this build, as Config.Force does
func WithForce(force bool) BuildOption {
	return func(o *buildOptions) { o.force = o.force || force }
}

// fileResult is the outcome of one added or modified file
type fileResult struct {
	path      string
	meta      scanner.FileMetadata
	blocks    []string // ids now owned by the file
	attempted []string // ids submitted before a failure
	upserted  int
	retracted int
	gone      bool // no longer indexable: treated as removed
	err       error
}

// buildRun carries the per-build state shared by the file tasks
type buildRun struct {
	root    string
	prev    *snapshot.Snapshot
	fresh   bool // store was reset; previous block ids are meaningless
	log     *logging.Logger
	summary *Summary
}

// Build brings the index for root up to date. File-level failures are
// reported in the summary and never abort the build. The snapshot is
// committed only after every task finished and the store flush succeeded;
// on error nothing is committed and the previous snapshot stays in force.
func (idx *Indexer) Build(ctx context.Context, root string, opts ...BuildOption) (*Summary, error) {
	o := buildOptions{force: idx.cfg.Force}
	for _, opt := range opts {
		opt(&o)
	}

	if !idx.lock.TryAcquire() {
		return nil, ErrBuildInProgress
	}
	defer idx.lock.Release()

	if idx.cfg.LockPath != "" {
		release, err := fslock.Acquire(ctx, idx.cfg.LockPath, idx.cfg.LockTimeout)
		if err != nil {
			return nil, fmt.Errorf("failed to lock index: %w", err)
		}
		defer release()
	}

	start := time.Now()
	summary := &Summary{
		BuildID:      uuid.NewString(),
		Root:         root,
		ModelVersion: idx.deps.Embedder.Version(),
	}
	log := idx.deps.Logger.WithBuild(summary.BuildID)

	err := idx.build(ctx, root, o.force, summary, log)
	summary.Duration = time.Since(start)
	if err != nil {
		idx.discard(ctx, log)
		idx.setState(ctx, log, summary, StateFailed, "error", err)
	}

	idx.deps.Metrics.ObserveBuild(summary.Duration, err)
	if err != nil {
		return summary, err
	}

	log.InfoContext(ctx, "build completed",
		"files_scanned", summary.FilesScanned,
		"indexed", summary.FilesIndexed,
		"unchanged", summary.Unchanged,
		"removed", summary.Removed,
		"failed", summary.FilesFailed,
		"blocks_upserted", summary.BlocksUpserted,
		"blocks_retracted", summary.BlocksRetracted,
		"duration", summary.Duration,
	)
	return summary, nil
}

func (idx *Indexer) build(ctx context.Context, root string, force bool, summary *Summary, log *logging.Logger) error {
	prev, err := idx.loadSnapshot(ctx, log)
	if err != nil {
		return err
	}

	idx.setState(ctx, log, summary, StateScanStarted, "root", root)
	current, err := idx.deps.Scanner.ScanMetadata(root)
	if err != nil {
		return err
	}
	summary.FilesScanned = len(current)

	version := summary.ModelVersion
	stale := prev.Stale(version)
	if stale {
		log.InfoContext(ctx, "model version changed, rebuilding",
			"previous", prev.ModelVersion,
			"current", version,
		)
	}
	changes := snapshot.Detect(current, prev, snapshot.Rebuild(force || stale))
	summary.Unchanged = len(changes.Unchanged)
	summary.Added = len(changes.Added)
	summary.Modified = len(changes.Modified)
	summary.Removed = len(changes.Removed)
	idx.setState(ctx, log, summary, StateChangesClassified,
		"unchanged", summary.Unchanged,
		"added", summary.Added,
		"modified", summary.Modified,
		"removed", summary.Removed,
	)

	run := &buildRun{
		root:    root,
		prev:    prev,
		fresh:   prev == nil || stale,
		log:     log,
		summary: summary,
	}
	summary.Rebuilt = run.fresh || force

	// Without a usable snapshot nothing is known about what the store holds
	if run.fresh {
		if err := idx.deps.Store.Reset(ctx); err != nil {
			return err
		}
	}

	var (
		results []fileResult
		removed map[string]bool
	)
	if !run.fresh && changes.Empty() {
		log.DebugContext(ctx, "index up to date")
	} else {
		idx.setState(ctx, log, summary, StateProcessing, "files", len(changes.Added)+len(changes.Modified))
		results, err = idx.processFiles(ctx, run, changes.Pending())
		if err != nil {
			return err
		}
		removed = idx.retractRemoved(ctx, run, changes.Removed)
		if err := ctx.Err(); err != nil {
			return err
		}

		// Blocks about to land must be owned by some committed snapshot,
		// or a failed commit below would leave them unreachable
		if intent := idx.intentSnapshot(run, results); intent != nil {
			if err := idx.deps.Snapshots.Commit(ctx, intent); err != nil {
				return fmt.Errorf("failed to record pending blocks: %w", err)
			}
		}

		flushCtx, cancel := idx.callContext(ctx)
		err = idx.deps.Store.Flush(flushCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("failed to flush store: %w", err)
		}
		idx.setState(ctx, log, summary, StateFlushed)
	}

	next := idx.nextSnapshot(run, changes, results, removed)
	next.BuildID = summary.BuildID
	next.CreatedAt = time.Now().UTC()
	if err := idx.deps.Snapshots.Commit(ctx, next); err != nil {
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}
	summary.TotalBlocks = next.BlockCount()
	idx.setState(ctx, log, summary, StateSnapshotCommitted, "blocks", summary.TotalBlocks)

	m := idx.deps.Metrics
	m.AddFiles(metrics.FileIndexed, summary.FilesIndexed)
	m.AddFiles(metrics.FileUnchanged, summary.Unchanged)
	m.AddFiles(metrics.FileRemoved, summary.Removed)
	m.AddFiles(metrics.FileSkipped, summary.FilesSkipped)
	m.AddFiles(metrics.FileFailed, summary.FilesFailed)
	m.AddBlocks(metrics.BlockUpserted, summary.BlocksUpserted)
	m.AddBlocks(metrics.BlockRetracted, summary.BlocksRetracted)
	m.SetIndexedBlocks(summary.TotalBlocks)
	return nil
}

// loadSnapshot returns the previous snapshot, or nil when there is none.
// An unreadable snapshot is discarded, which triggers a full rebuild.
func (idx *Indexer) loadSnapshot(ctx context.Context, log *logging.Logger) (*snapshot.Snapshot, error) {
	prev, err := idx.deps.Snapshots.Load(ctx)
	switch {
	case err == nil:
		return prev, nil
	case errors.Is(err, snapshot.ErrCorrupt), errors.Is(err, snapshot.ErrUnsupportedVersion):
		log.WarnContext(ctx, "discarding unusable snapshot", "error", err)
		return nil, nil
	default:
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
}

// processFiles runs one task per pending path on a bounded pool. Tasks
// never fail the group; only cancellation stops the build.
func (idx *Indexer) processFiles(ctx context.Context, run *buildRun, paths []string) ([]fileResult, error) {
	results := make([]fileResult, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(idx.cfg.Workers)
	for i, path := range paths {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			results[i] = idx.processFile(gctx, run, path)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for _, r := range results {
		run.summary.BlocksUpserted += r.upserted
		run.summary.BlocksRetracted += r.retracted
		switch {
		case r.err != nil:
			run.summary.FilesFailed++
			run.summary.Errors = append(run.summary.Errors, fmt.Sprintf("%s: %v", r.path, r.err))
		case r.gone:
			run.summary.FilesSkipped++
		default:
			run.summary.FilesIndexed++
		}
	}
	return results, nil
}

// processFile reads, extracts, embeds and submits one file
func (idx *Indexer) processFile(ctx context.Context, run *buildRun, path string) (res fileResult) {
	res.path = path
	defer func() {
		total := len(res.blocks)
		if res.err != nil {
			total = 0
		}
		run.log.LogFile(ctx, path, total, res.err)
	}()

	prev, hadPrev := run.prev.Lookup(path)
	var owned []string
	if hadPrev && !run.fresh {
		owned = prev.Blocks
	}

	file, err := idx.deps.Scanner.ReadFile(run.root, path)
	if err != nil {
		if !unindexable(err) {
			res.err = err
			return res
		}
		// Became binary, oversized or vanished since the metadata scan
		res.gone = true
		res.retracted, res.err = idx.retract(ctx, owned)
		if res.err != nil {
			res.attempted = owned
		}
		return res
	}
	res.meta = scanner.FileMetadata{Size: file.Size, MTime: file.MTime}

	blocks, err := idx.deps.Extractor.Extract(path, file.Content)
	if err != nil {
		res.err = fmt.Errorf("extract: %w", err)
		return res
	}

	var embeddings types.TokenEmbeddings
	if len(blocks) > 0 {
		texts := make([]string, len(blocks))
		for i, b := range blocks {
			texts[i] = b.Text
		}
		embeddings, err = idx.deps.Embedder.EmbedBlocks(ctx, texts)
		if err != nil {
			res.err = describeEmbedError(blocks, err)
			return res
		}
		if len(embeddings) != len(blocks) {
			res.err = fmt.Errorf("embedder returned %d matrices for %d blocks", len(embeddings), len(blocks))
			return res
		}
	}

	ids := make([]string, 0, len(blocks))
	for i, b := range blocks {
		res.attempted = append(res.attempted, b.ID)
		err := idx.deps.Store.Upsert(ctx, types.BlockRecord{
			ID:       b.ID,
			Tokens:   embeddings[i],
			Text:     b.Text,
			Metadata: b.Metadata,
		})
		if err != nil {
			res.err = err
			return res
		}
		res.upserted++
		ids = append(ids, b.ID)
	}

	var obsolete []string
	for _, id := range owned {
		if !slices.Contains(ids, id) {
			obsolete = append(obsolete, id)
		}
	}
	res.retracted, err = idx.retract(ctx, obsolete)
	if err != nil {
		res.err = err
		return res
	}

	res.blocks = ids
	res.attempted = nil
	return res
}

// retractRemoved retracts the blocks of deleted files. It returns the paths
// whose retraction went through; the others keep their snapshot entries.
func (idx *Indexer) retractRemoved(ctx context.Context, run *buildRun, paths []string) map[string]bool {
	done := make(map[string]bool, len(paths))
	for _, path := range paths {
		if run.fresh {
			done[path] = true
			continue
		}
		entry, _ := run.prev.Lookup(path)
		n, err := idx.retract(ctx, entry.Blocks)
		run.summary.BlocksRetracted += n
		if err != nil {
			run.summary.FilesFailed++
			run.summary.Errors = append(run.summary.Errors, fmt.Sprintf("%s: %v", path, err))
			run.log.LogFile(ctx, path, 0, err)
			continue
		}
		done[path] = true
	}
	return done
}

func (idx *Indexer) retract(ctx context.Context, ids []string) (int, error) {
	for i, id := range ids {
		if err := idx.deps.Store.Retract(ctx, id); err != nil {
			return i, err
		}
	}
	return len(ids), nil
}

// intentSnapshot returns the previous snapshot widened by every id this
// build submitted, or nil when no file gained ids. Fresh builds need none:
// until a snapshot for the current model commits, the next build resets
// the store anyway.
func (idx *Indexer) intentSnapshot(run *buildRun, results []fileResult) *snapshot.Snapshot {
	if run.fresh {
		return nil
	}
	var intent *snapshot.Snapshot
	for _, r := range results {
		prev, _ := run.prev.Lookup(r.path)
		ids := union(prev.Blocks, union(r.blocks, r.attempted))
		if len(ids) == len(prev.Blocks) {
			continue
		}
		if intent == nil {
			intent = run.prev.Clone()
		}
		// Previous metadata keeps the file marked as changed
		intent.Set(r.path, prev.FileMetadata, ids)
	}
	return intent
}

// nextSnapshot assembles the snapshot to commit. Failed files keep their
// previous entry widened by any ids they submitted, so the next build both
// retries them and retracts everything they might own. A failed file with
// no usable previous entry is recorded with zeroed metadata, which never
// matches a real file.
func (idx *Indexer) nextSnapshot(run *buildRun, changes snapshot.Changes, results []fileResult, removed map[string]bool) *snapshot.Snapshot {
	var next *snapshot.Snapshot
	if run.fresh {
		next = snapshot.New(run.root, run.summary.ModelVersion)
	} else {
		next = run.prev.Clone()
		next.Root = run.root
		for _, path := range changes.Removed {
			if removed[path] {
				next.Delete(path)
			}
		}
	}

	for _, r := range results {
		switch {
		case r.err == nil && r.gone:
			next.Delete(r.path)
		case r.err == nil:
			next.Set(r.path, r.meta, r.blocks)
		default:
			prev, hadPrev := run.prev.Lookup(r.path)
			if hadPrev && !run.fresh {
				next.Set(r.path, prev.FileMetadata, union(prev.Blocks, r.attempted))
			} else if len(r.attempted) > 0 {
				next.Set(r.path, scanner.FileMetadata{}, r.attempted)
			}
		}
	}
	return next
}

// discard drops writes a failed build left buffered, so the next flush
// cannot apply blocks no snapshot records
func (idx *Indexer) discard(ctx context.Context, log *logging.Logger) {
	if err := idx.deps.Store.Discard(context.WithoutCancel(ctx)); err != nil {
		log.WarnContext(ctx, "failed to discard buffered writes", "error", err)
	}
}

func (idx *Indexer) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if idx.cfg.CallTimeout > 0 {
		return context.WithTimeout(ctx, idx.cfg.CallTimeout)
	}
	return context.WithCancel(ctx)
}

func (idx *Indexer) setState(ctx context.Context, log *logging.Logger, summary *Summary, s State, attrs ...any) {
	idx.state.Store(s)
	summary.State = s
	log.LogState(ctx, string(s), attrs...)
}

// unindexable reports read failures that mean the file left the indexable set
func unindexable(err error) bool {
	return errors.Is(err, scanner.ErrBinary) ||
		errors.Is(err, scanner.ErrNotUTF8) ||
		errors.Is(err, scanner.ErrTooLarge) ||
		errors.Is(err, scanner.ErrIneligible) ||
		errors.Is(err, os.ErrNotExist)
}

func union(a, b []string) []string {
	out := slices.Clone(a)
	for _, id := range b {
		if !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}

// describeEmbedError names the offending block when tokenization failed
func describeEmbedError(blocks []types.Block, err error) error {
	var tokErr *tokenizer.TokenizeError
	if errors.As(err, &tokErr) && tokErr.Index >= 0 && tokErr.Index < len(blocks) {
		return fmt.Errorf("block %s: %w", blocks[tokErr.Index].ID, err)
	}
	return fmt.Errorf("embed: %w", err)
}
