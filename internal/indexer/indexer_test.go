package indexer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/omengrep/internal/chunker"
	"github.com/dshills/omengrep/internal/scanner"
	"github.com/dshills/omengrep/internal/snapshot"
	"github.com/dshills/omengrep/internal/storage"
	"github.com/dshills/omengrep/pkg/types"
)

const (
	twoFuncs = "package a\n\nfunc One() int { return 1 }\n\nfunc Two() int { return 2 }\n"
	oneFunc  = "package a\n\nfunc One() int { return 1 }\n"
)

// fakeEmbedder returns one unit row per text. Calls fail when any text
// contains failOn.
type fakeEmbedder struct {
	mu      sync.Mutex
	version string
	failOn  string
	calls   int
	texts   []string

	started chan struct{} // closed on the first call when set
	release chan struct{} // calls block until closed when set
	once    sync.Once

	// Calls with a text containing hangOn close hung and wait for
	// cancellation
	hangOn   string
	hung     chan struct{}
	hungOnce sync.Once
}

func newFakeEmbedder() *fakeEmbedder {
	return &fakeEmbedder{version: "test-v1"}
}

func (f *fakeEmbedder) EmbedBlocks(ctx context.Context, texts []string) (types.TokenEmbeddings, error) {
	if f.started != nil {
		f.once.Do(func() { close(f.started) })
	}
	if f.hangOn != "" && slices.ContainsFunc(texts, func(t string) bool { return strings.Contains(t, f.hangOn) }) {
		f.hungOnce.Do(func() { close(f.hung) })
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	for _, t := range texts {
		if f.failOn != "" && strings.Contains(t, f.failOn) {
			return nil, errors.New("backend unavailable")
		}
	}
	f.texts = append(f.texts, texts...)

	out := make(types.TokenEmbeddings, len(texts))
	for i := range texts {
		out[i] = types.Matrix{{1, 0}}
	}
	return out, nil
}

func (f *fakeEmbedder) Version() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.version
}

func (f *fakeEmbedder) setVersion(v string) {
	f.mu.Lock()
	f.version = v
	f.mu.Unlock()
}

func (f *fakeEmbedder) setFailOn(s string) {
	f.mu.Lock()
	f.failOn = s
	f.mu.Unlock()
}

func (f *fakeEmbedder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type storeOp struct {
	kind   string
	id     string
	record types.BlockRecord
}

// memStore is an in-memory storage.Store with the same buffered write
// model as the SQLite store
type memStore struct {
	mu      sync.Mutex
	blocks  map[string]types.BlockRecord
	pending []storeOp

	upsertErr  func(id string) error
	retractErr func(id string) error
	flushErr   error
	resets     int
	flushes    int
}

func newMemStore() *memStore {
	return &memStore{blocks: make(map[string]types.BlockRecord)}
}

func (m *memStore) Upsert(_ context.Context, r types.BlockRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertErr != nil {
		if err := m.upsertErr(r.ID); err != nil {
			return err
		}
	}
	m.pending = append(m.pending, storeOp{kind: "upsert", id: r.ID, record: r})
	return nil
}

func (m *memStore) Retract(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.retractErr != nil {
		if err := m.retractErr(id); err != nil {
			return err
		}
	}
	m.pending = append(m.pending, storeOp{kind: "retract", id: id})
	return nil
}

func (m *memStore) Reset(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = []storeOp{{kind: "reset"}}
	return nil
}

func (m *memStore) Flush(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ops := m.pending
	m.pending = nil
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.flushErr != nil {
		return m.flushErr
	}
	m.flushes++
	for _, op := range ops {
		switch op.kind {
		case "reset":
			m.resets++
			m.blocks = make(map[string]types.BlockRecord)
		case "upsert":
			m.blocks[op.id] = op.record
		case "retract":
			delete(m.blocks, op.id)
		}
	}
	return nil
}

func (m *memStore) Discard(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = nil
	return nil
}

func (m *memStore) flushCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flushes
}

func (m *memStore) SearchHybrid(context.Context, string, types.Matrix, int, *storage.SearchOptions) ([]types.SearchResult, error) {
	return nil, nil
}

func (m *memStore) SearchVector(context.Context, types.Matrix, int, *storage.SearchOptions) ([]types.SearchResult, error) {
	return nil, nil
}

func (m *memStore) Stats(context.Context) (*storage.Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &storage.Stats{Blocks: len(m.blocks), Pending: len(m.pending)}, nil
}

func (m *memStore) Close() error { return nil }

func (m *memStore) ids() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.blocks))
	for id := range m.blocks {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// commitGate passes commits through to the snapshot store unless fail
// returns an error
type commitGate struct {
	snapshot.Store
	mu   sync.Mutex
	fail func() error
}

func (g *commitGate) Commit(ctx context.Context, s *snapshot.Snapshot) error {
	g.mu.Lock()
	fail := g.fail
	g.mu.Unlock()
	if fail != nil {
		if err := fail(); err != nil {
			return err
		}
	}
	return g.Store.Commit(ctx, s)
}

func (g *commitGate) setFail(fail func() error) {
	g.mu.Lock()
	g.fail = fail
	g.mu.Unlock()
}

// harness wires a real scanner, chunker and snapshot store around the fakes
type harness struct {
	root  string
	store *memStore
	emb   *fakeEmbedder
	snaps *snapshot.FileStore
	gate  *commitGate
	idx   *Indexer
	clock time.Time
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		root:  t.TempDir(),
		store: newMemStore(),
		emb:   newFakeEmbedder(),
		snaps: snapshot.NewFileStore(filepath.Join(t.TempDir(), "snapshot.json")),
		clock: time.Unix(1_700_000_000, 0),
	}
	h.gate = &commitGate{Store: h.snaps}
	idx, err := New(Deps{
		Scanner:   scanner.New(scanner.WithGlobalIgnore("")),
		Extractor: chunker.New(),
		Embedder:  h.emb,
		Store:     h.store,
		Snapshots: h.gate,
	}, cfg)
	require.NoError(t, err)
	h.idx = idx
	return h
}

// write creates or replaces a file and gives it a fresh mtime, so edits
// within the same second are still detected
func (h *harness) write(t testing.TB, rel, content string) {
	t.Helper()
	full := filepath.Join(h.root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	h.clock = h.clock.Add(10 * time.Second)
	require.NoError(t, os.Chtimes(full, h.clock, h.clock))
}

func (h *harness) remove(t *testing.T, rel string) {
	t.Helper()
	require.NoError(t, os.Remove(filepath.Join(h.root, filepath.FromSlash(rel))))
}

func (h *harness) build(t *testing.T) *Summary {
	t.Helper()
	sum, err := h.idx.Build(context.Background(), h.root)
	require.NoError(t, err)
	return sum
}

func (h *harness) snapshot(t *testing.T) *snapshot.Snapshot {
	t.Helper()
	s, err := h.snaps.Load(context.Background())
	require.NoError(t, err)
	require.NotNil(t, s)
	return s
}

func (h *harness) snapshotOrNil(t *testing.T) *snapshot.Snapshot {
	t.Helper()
	s, err := h.snaps.Load(context.Background())
	require.NoError(t, err)
	return s
}

func TestNew_MissingDependencies(t *testing.T) {
	full := Deps{
		Scanner:   scanner.New(),
		Extractor: chunker.New(),
		Embedder:  newFakeEmbedder(),
		Store:     newMemStore(),
		Snapshots: snapshot.NewFileStore(filepath.Join(t.TempDir(), "s.json")),
	}

	tests := []struct {
		name  string
		strip func(*Deps)
	}{
		{"scanner", func(d *Deps) { d.Scanner = nil }},
		{"extractor", func(d *Deps) { d.Extractor = nil }},
		{"embedder", func(d *Deps) { d.Embedder = nil }},
		{"store", func(d *Deps) { d.Store = nil }},
		{"snapshots", func(d *Deps) { d.Snapshots = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := full
			tt.strip(&deps)
			_, err := New(deps, Config{})
			assert.ErrorIs(t, err, ErrMissingDependency)
		})
	}

	idx, err := New(full, Config{})
	require.NoError(t, err)
	assert.Equal(t, StateIdle, idx.State())
}

func TestBuild_FirstBuild(t *testing.T) {
	h := newHarness(t, Config{Workers: 2})
	h.write(t, "a.go", twoFuncs)
	h.write(t, "notes.txt", "hello notes\n")

	sum := h.build(t)

	assert.Equal(t, StateSnapshotCommitted, sum.State)
	assert.Equal(t, StateSnapshotCommitted, h.idx.State())
	assert.True(t, sum.Rebuilt)
	assert.NotEmpty(t, sum.BuildID)
	assert.Equal(t, "test-v1", sum.ModelVersion)
	assert.Equal(t, 2, sum.FilesScanned)
	assert.Equal(t, 2, sum.Added)
	assert.Equal(t, 2, sum.FilesIndexed)
	assert.Equal(t, 3, sum.BlocksUpserted)
	assert.Equal(t, 3, sum.TotalBlocks)
	assert.Empty(t, sum.Errors)

	assert.Equal(t, []string{"a.go:3-3", "a.go:5-5", "notes.txt:1-1"}, h.store.ids())
	assert.Equal(t, 1, h.store.resets, "a build without snapshot starts from an empty store")

	snap := h.snapshot(t)
	assert.Equal(t, sum.BuildID, snap.BuildID)
	assert.Equal(t, "test-v1", snap.ModelVersion)
	entry, ok := snap.Lookup("a.go")
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"a.go:3-3", "a.go:5-5"}, entry.Blocks)
	assert.Equal(t, uint64(len(twoFuncs)), entry.Size)
	assert.Equal(t, uint64(h.clock.Add(-10*time.Second).Unix()), entry.MTime)

	rec := h.store.blocks["a.go:5-5"]
	assert.Equal(t, types.BlockFunction, rec.Metadata.Kind)
	assert.Equal(t, "Two", rec.Metadata.Name)
}

func TestBuild_Unchanged(t *testing.T) {
	h := newHarness(t, Config{})
	h.write(t, "a.go", twoFuncs)
	h.build(t)
	calls := h.emb.callCount()

	sum := h.build(t)

	assert.False(t, sum.Rebuilt)
	assert.Equal(t, 1, sum.Unchanged)
	assert.Zero(t, sum.FilesIndexed)
	assert.Zero(t, sum.BlocksUpserted)
	assert.Equal(t, 2, sum.TotalBlocks)
	assert.Equal(t, calls, h.emb.callCount(), "unchanged files are not embedded")
	assert.Equal(t, 1, h.store.resets)
}

func TestBuild_ModifiedRetractsObsolete(t *testing.T) {
	h := newHarness(t, Config{})
	h.write(t, "a.go", twoFuncs)
	h.build(t)

	h.write(t, "a.go", oneFunc)
	sum := h.build(t)

	assert.Equal(t, 1, sum.Modified)
	assert.Equal(t, 1, sum.FilesIndexed)
	assert.Equal(t, 1, sum.BlocksUpserted)
	assert.Equal(t, 1, sum.BlocksRetracted)
	assert.Equal(t, []string{"a.go:3-3"}, h.store.ids())

	entry, ok := h.snapshot(t).Lookup("a.go")
	require.True(t, ok)
	assert.Equal(t, []string{"a.go:3-3"}, entry.Blocks)
	assert.Equal(t, uint64(len(oneFunc)), entry.Size)
}

func TestBuild_Removed(t *testing.T) {
	h := newHarness(t, Config{})
	h.write(t, "a.go", twoFuncs)
	h.write(t, "notes.txt", "hello notes\n")
	h.build(t)

	h.remove(t, "a.go")
	sum := h.build(t)

	assert.Equal(t, 1, sum.Removed)
	assert.Equal(t, 1, sum.Unchanged)
	assert.Equal(t, 2, sum.BlocksRetracted)
	assert.Equal(t, []string{"notes.txt:1-1"}, h.store.ids())

	_, ok := h.snapshot(t).Lookup("a.go")
	assert.False(t, ok)
}

func TestBuild_RemovedRetractionFailureKeepsEntry(t *testing.T) {
	h := newHarness(t, Config{})
	h.write(t, "a.go", twoFuncs)
	h.build(t)

	h.remove(t, "a.go")
	h.store.retractErr = func(string) error { return errors.New("disk full") }
	sum := h.build(t)

	assert.Equal(t, 1, sum.FilesFailed)
	require.Len(t, sum.Errors, 1)
	assert.Contains(t, sum.Errors[0], "a.go")

	entry, ok := h.snapshot(t).Lookup("a.go")
	require.True(t, ok, "the next build must retry the retraction")
	assert.ElementsMatch(t, []string{"a.go:3-3", "a.go:5-5"}, entry.Blocks)

	h.store.retractErr = nil
	sum = h.build(t)
	assert.Equal(t, 1, sum.Removed)
	assert.Empty(t, h.store.ids())
}

func TestBuild_EmbedFailureKeepsPreviousEntry(t *testing.T) {
	h := newHarness(t, Config{})
	h.write(t, "a.go", twoFuncs)
	h.build(t)
	before, _ := h.snapshot(t).Lookup("a.go")

	h.write(t, "a.go", oneFunc+"\nfunc Three() int { return 3 }\n")
	h.emb.setFailOn("Three")
	sum := h.build(t)

	assert.Equal(t, 1, sum.FilesFailed)
	assert.Zero(t, sum.FilesIndexed)
	require.Len(t, sum.Errors, 1)
	assert.Contains(t, sum.Errors[0], "backend unavailable")

	entry, ok := h.snapshot(t).Lookup("a.go")
	require.True(t, ok)
	assert.Equal(t, before.FileMetadata, entry.FileMetadata, "old metadata forces a retry")
	assert.ElementsMatch(t, before.Blocks, entry.Blocks)
	assert.Equal(t, []string{"a.go:3-3", "a.go:5-5"}, h.store.ids())

	h.emb.setFailOn("")
	sum = h.build(t)
	assert.Equal(t, 1, sum.Modified)
	assert.Equal(t, 1, sum.FilesIndexed)
	assert.Equal(t, []string{"a.go:3-3", "a.go:5-5"}, h.store.ids())
	assert.Equal(t, "Three", h.store.blocks["a.go:5-5"].Metadata.Name)
}

func TestBuild_EmbedFailureNewFileNotRecorded(t *testing.T) {
	h := newHarness(t, Config{})
	h.write(t, "a.go", twoFuncs)
	h.emb.setFailOn("Two")

	sum := h.build(t)

	assert.Equal(t, 1, sum.FilesFailed)
	_, ok := h.snapshot(t).Lookup("a.go")
	assert.False(t, ok, "nothing was submitted, so nothing is owned")

	h.emb.setFailOn("")
	sum = h.build(t)
	assert.Equal(t, 1, sum.Added)
	assert.Equal(t, 1, sum.FilesIndexed)
}

func TestBuild_UpsertFailureRecordsAttempted(t *testing.T) {
	h := newHarness(t, Config{})
	h.write(t, "a.go", twoFuncs)
	h.store.upsertErr = func(id string) error {
		if id == "a.go:5-5" {
			return errors.New("constraint failed")
		}
		return nil
	}

	sum := h.build(t)
	assert.Equal(t, 1, sum.FilesFailed)
	assert.Equal(t, 1, sum.BlocksUpserted)

	entry, ok := h.snapshot(t).Lookup("a.go")
	require.True(t, ok)
	assert.Equal(t, scanner.FileMetadata{}, entry.FileMetadata, "zeroed metadata never matches a real file")
	assert.ElementsMatch(t, []string{"a.go:3-3", "a.go:5-5"}, entry.Blocks)

	h.store.upsertErr = nil
	sum = h.build(t)
	assert.Equal(t, 1, sum.Modified)
	assert.Equal(t, 1, sum.FilesIndexed)
	assert.Equal(t, []string{"a.go:3-3", "a.go:5-5"}, h.store.ids())
}

func TestBuild_FlushFailureCommitsNothing(t *testing.T) {
	h := newHarness(t, Config{})
	h.write(t, "a.go", twoFuncs)
	first := h.build(t)

	h.write(t, "a.go", oneFunc)
	h.store.flushErr = errors.New("database is locked")
	sum, err := h.idx.Build(context.Background(), h.root)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "database is locked")
	require.NotNil(t, sum)
	assert.Equal(t, StateFailed, sum.State)
	assert.Equal(t, StateFailed, h.idx.State())

	snap := h.snapshot(t)
	assert.Equal(t, first.BuildID, snap.BuildID)
	assert.Equal(t, []string{"a.go:3-3", "a.go:5-5"}, h.store.ids())

	h.store.flushErr = nil
	sum = h.build(t)
	assert.Equal(t, 1, sum.Modified)
	assert.Equal(t, []string{"a.go:3-3"}, h.store.ids())
}

func TestBuild_Cancelled(t *testing.T) {
	h := newHarness(t, Config{})
	h.write(t, "a.go", twoFuncs)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := h.idx.Build(ctx, h.root)

	assert.ErrorIs(t, err, context.Canceled)
	s, err := h.snaps.Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, s)
	assert.Empty(t, h.store.ids())
}

// ownedIDs lists every block id the committed snapshot records
func ownedIDs(s *snapshot.Snapshot) []string {
	var out []string
	for _, e := range s.Files {
		out = append(out, e.Blocks...)
	}
	slices.Sort(out)
	return out
}

func TestBuild_CancelledBuildLeavesNoOrphans(t *testing.T) {
	h := newHarness(t, Config{Workers: 1})
	h.write(t, "a.go", "package a\n\nfunc Old() {}\n")
	h.build(t)

	// a.go is submitted before the build stalls embedding b.go
	h.write(t, "a.go", "package a\n\n\nfunc Mid() {}\n")
	h.write(t, "b.go", "package a\n\nfunc B() {}\n")
	h.emb.hangOn = "B()"
	h.emb.hung = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := h.idx.Build(ctx, h.root)
		done <- err
	}()
	<-h.emb.hung
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	st, err := h.store.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, st.Pending, "a failed build leaves nothing buffered")
	assert.Equal(t, []string{"a.go:3-3"}, h.store.ids())

	h.emb.hangOn = ""
	h.write(t, "a.go", "package a\n\n\n\nfunc New() {}\n")
	h.build(t)

	assert.Equal(t, []string{"a.go:5-5", "b.go:3-3"}, h.store.ids())
	assert.Equal(t, h.store.ids(), ownedIDs(h.snapshot(t)))
}

func TestBuild_CommitFailureLeavesNoOrphans(t *testing.T) {
	h := newHarness(t, Config{})
	h.write(t, "a.go", "package a\n\nfunc Old() {}\n")
	h.build(t)

	// The store flush lands but the snapshot commit after it does not
	flushed := h.store.flushCount()
	h.gate.setFail(func() error {
		if h.store.flushCount() > flushed {
			return errors.New("read-only file system")
		}
		return nil
	})
	h.write(t, "a.go", "package a\n\n\nfunc Mid() {}\n")
	_, err := h.idx.Build(context.Background(), h.root)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read-only file system")
	assert.Equal(t, []string{"a.go:4-4"}, h.store.ids())

	entry, ok := h.snapshot(t).Lookup("a.go")
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"a.go:3-3", "a.go:4-4"}, entry.Blocks, "submitted ids are recorded before the flush")

	h.gate.setFail(nil)
	h.write(t, "a.go", "package a\n\n\n\nfunc New() {}\n")
	sum := h.build(t)

	assert.Equal(t, 1, sum.Modified)
	assert.Equal(t, []string{"a.go:5-5"}, h.store.ids())
	assert.Equal(t, []string{"a.go:5-5"}, ownedIDs(h.snapshot(t)))
}

func TestBuild_IntentFailureAbortsBeforeFlush(t *testing.T) {
	h := newHarness(t, Config{})
	h.write(t, "a.go", "package a\n\nfunc Old() {}\n")
	h.build(t)

	h.gate.setFail(func() error { return errors.New("read-only file system") })
	h.write(t, "a.go", "package a\n\n\nfunc Mid() {}\n")
	_, err := h.idx.Build(context.Background(), h.root)
	require.Error(t, err)

	assert.Equal(t, []string{"a.go:3-3"}, h.store.ids(), "nothing lands without a recorded owner")
	st, err := h.store.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, st.Pending)
}

func TestBuild_RootMissing(t *testing.T) {
	h := newHarness(t, Config{})

	_, err := h.idx.Build(context.Background(), filepath.Join(h.root, "missing"))

	var rootErr *scanner.RootScanError
	assert.ErrorAs(t, err, &rootErr)
	assert.Equal(t, StateFailed, h.idx.State())
}

func TestBuild_InProgress(t *testing.T) {
	h := newHarness(t, Config{})
	h.write(t, "a.go", twoFuncs)
	h.emb.started = make(chan struct{})
	h.emb.release = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := h.idx.Build(context.Background(), h.root)
		done <- err
	}()

	<-h.emb.started
	_, err := h.idx.Build(context.Background(), h.root)
	assert.ErrorIs(t, err, ErrBuildInProgress)

	close(h.emb.release)
	require.NoError(t, <-done)

	// The lock is released afterwards
	_, err = h.idx.Build(context.Background(), h.root)
	assert.NoError(t, err)
}

func TestBuild_ModelVersionChangeRebuilds(t *testing.T) {
	h := newHarness(t, Config{})
	h.write(t, "a.go", twoFuncs)
	h.build(t)

	h.emb.setVersion("test-v2")
	sum := h.build(t)

	assert.True(t, sum.Rebuilt)
	assert.Equal(t, 1, sum.Modified)
	assert.Zero(t, sum.BlocksRetracted, "the reset already dropped every block")
	assert.Equal(t, 2, h.store.resets)
	assert.Equal(t, "test-v2", h.snapshot(t).ModelVersion)
	assert.Equal(t, []string{"a.go:3-3", "a.go:5-5"}, h.store.ids())
}

func TestBuild_Force(t *testing.T) {
	h := newHarness(t, Config{})
	h.write(t, "a.go", twoFuncs)
	h.write(t, "notes.txt", "hello notes\n")
	h.build(t)

	forced, err := New(h.idx.deps, Config{Force: true})
	require.NoError(t, err)
	sum, err := forced.Build(context.Background(), h.root)
	require.NoError(t, err)

	assert.True(t, sum.Rebuilt)
	assert.Equal(t, 2, sum.Modified)
	assert.Equal(t, 2, sum.FilesIndexed)
	assert.Equal(t, 1, h.store.resets, "force reprocesses files without resetting the store")
	assert.Equal(t, 3, sum.TotalBlocks)
}

func TestBuild_WithForceOption(t *testing.T) {
	h := newHarness(t, Config{})
	h.write(t, "a.go", twoFuncs)
	h.build(t)

	sum, err := h.idx.Build(context.Background(), h.root, WithForce(true))
	require.NoError(t, err)
	assert.True(t, sum.Rebuilt)
	assert.Equal(t, 1, sum.Modified)

	sum = h.build(t)
	assert.False(t, sum.Rebuilt, "force applies to one build only")
	assert.Equal(t, 1, sum.Unchanged)
}

func TestBuild_FileTurnedBinary(t *testing.T) {
	h := newHarness(t, Config{})
	h.write(t, "a.go", twoFuncs)
	h.write(t, "notes.txt", "hello notes\n")
	h.build(t)

	h.write(t, "notes.txt", "hello\x00binary")
	sum := h.build(t)

	assert.Equal(t, 1, sum.Modified)
	assert.Equal(t, 1, sum.FilesSkipped)
	assert.Zero(t, sum.FilesFailed)
	assert.Equal(t, 1, sum.BlocksRetracted)
	assert.Equal(t, []string{"a.go:3-3", "a.go:5-5"}, h.store.ids())

	_, ok := h.snapshot(t).Lookup("notes.txt")
	assert.False(t, ok)
}

func TestBuild_CorruptSnapshotRebuilds(t *testing.T) {
	h := newHarness(t, Config{})
	h.write(t, "a.go", twoFuncs)
	h.build(t)

	require.NoError(t, os.WriteFile(h.snaps.Path(), []byte("{not json"), 0o644))
	sum := h.build(t)

	assert.True(t, sum.Rebuilt)
	assert.Equal(t, 1, sum.Added)
	assert.Equal(t, 2, h.store.resets)
	assert.Equal(t, 2, h.snapshot(t).BlockCount())
}

func TestBuild_CrossProcessLock(t *testing.T) {
	h := newHarness(t, Config{})
	h.write(t, "a.go", twoFuncs)

	locked, err := New(h.idx.deps, Config{
		LockPath:    filepath.Join(t.TempDir(), "index.lock"),
		LockTimeout: time.Second,
	})
	require.NoError(t, err)

	sum, err := locked.Build(context.Background(), h.root)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.FilesIndexed)
}

func TestUnion(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, union([]string{"a", "b"}, []string{"b", "c"}))
	assert.Equal(t, []string{"x"}, union(nil, []string{"x"}))
}
