package embedder

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/omengrep/internal/models"
	"github.com/dshills/omengrep/internal/retry"
	"github.com/dshills/omengrep/internal/tokenizer"
	"github.com/dshills/omengrep/pkg/types"
)

const testDim = 8

var errBackend = errors.New("backend down")

// fakeEmbedder returns matrices with one row per word plus two special
// tokens, followed by extraRows rows of padding garbage
type fakeEmbedder struct {
	mu         sync.Mutex
	batches    [][]string
	queries    int
	failFirst  int // fail this many calls before succeeding
	failWith   error
	extraRows  int
	dropOutput bool
	delay      time.Duration
}

func (f *fakeEmbedder) matrix(text string) types.Matrix {
	n := len(strings.Fields(text)) + 2 + f.extraRows
	m := make(types.Matrix, n)
	for i := range m {
		row := make([]float32, testDim)
		row[0] = float32(i + 1)
		m[i] = row
	}
	return m
}

func (f *fakeEmbedder) fail(ctx context.Context) error {
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(f.delay):
		}
	}
	if f.failFirst > 0 {
		f.failFirst--
		if f.failWith != nil {
			return f.failWith
		}
		return errBackend
	}
	return nil
}

func (f *fakeEmbedder) EmbedDocuments(ctx context.Context, texts []string) (types.TokenEmbeddings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, append([]string(nil), texts...))
	if err := f.fail(ctx); err != nil {
		return nil, err
	}
	out := make(types.TokenEmbeddings, 0, len(texts))
	for _, text := range texts {
		out = append(out, f.matrix(text))
	}
	if f.dropOutput {
		out = out[:len(out)-1]
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedQuery(ctx context.Context, text string) (types.Matrix, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries++
	if err := f.fail(ctx); err != nil {
		return nil, err
	}
	return f.matrix(text), nil
}

func (f *fakeEmbedder) Dimension() int { return testDim }
func (f *fakeEmbedder) Close() error   { return nil }

// spaceVocab tokenizes on whitespace and rejects texts containing "\x00"
type spaceVocab struct{}

func (spaceVocab) Encode(text string) ([]int, error) {
	if strings.Contains(text, "\x00") {
		return nil, errors.New("invalid byte")
	}
	ids := []int{1}
	for range strings.Fields(text) {
		ids = append(ids, 7)
	}
	return append(ids, 2), nil
}

func (spaceVocab) PadID() int { return 0 }

func testModelConfig(batch int) models.ModelConfig {
	cfg := models.Default()
	cfg.BatchSize = batch
	cfg.DocMaxLength = 16
	cfg.QueryMaxLength = 8
	cfg.TokenDim = testDim
	return cfg
}

func fastRetry() retry.Config {
	return retry.Config{Attempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
}

func newTestPipeline(t *testing.T, emb Embedder, batch int, opts ...PipelineOption) *Pipeline {
	t.Helper()
	cfg := testModelConfig(batch)
	tok, err := tokenizer.New(spaceVocab{}, cfg)
	require.NoError(t, err)
	p, err := NewPipeline(emb, tok, cfg, append([]PipelineOption{WithRetry(fastRetry())}, opts...)...)
	require.NoError(t, err)
	return p
}

func TestPipeline_BatchingAndOrder(t *testing.T) {
	emb := &fakeEmbedder{}
	p := newTestPipeline(t, emb, 3)

	texts := []string{"a", "a b", "a b c", "a b c d", "x", "y z", "q"}
	out, err := p.EmbedBlocks(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, out, len(texts))

	require.Len(t, emb.batches, 3)
	assert.Len(t, emb.batches[0], 3)
	assert.Len(t, emb.batches[1], 3)
	assert.Len(t, emb.batches[2], 1)
	assert.Equal(t, texts[3:6], emb.batches[1])

	for i, text := range texts {
		assert.Equal(t, len(strings.Fields(text))+2, out[i].Rows(), "text %d", i)
		assert.Equal(t, testDim, out[i].Dim())
	}
}

func TestPipeline_StripsPadding(t *testing.T) {
	emb := &fakeEmbedder{extraRows: 5}
	p := newTestPipeline(t, emb, 8)

	out, err := p.EmbedBlocks(context.Background(), []string{"one two three"})
	require.NoError(t, err)
	assert.Equal(t, 5, out[0].Rows())

	q, err := p.EmbedQuery(context.Background(), "find this")
	require.NoError(t, err)
	assert.Equal(t, 4, q.Rows())
}

func TestPipeline_TruncatedTokenCount(t *testing.T) {
	emb := &fakeEmbedder{}
	p := newTestPipeline(t, emb, 8)

	// 50 words exceed the document length of 16
	out, err := p.EmbedBlocks(context.Background(), []string{strings.Repeat("w ", 50)})
	require.NoError(t, err)
	assert.Equal(t, 16, out[0].Rows())
}

func TestPipeline_RetriesTransientFailure(t *testing.T) {
	emb := &fakeEmbedder{failFirst: 2}
	var observed []error
	p := newTestPipeline(t, emb, 4, WithObserver(func(size int, _ time.Duration, err error) {
		observed = append(observed, err)
	}))

	out, err := p.EmbedBlocks(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Len(t, out, 2)
	assert.Len(t, emb.batches, 3)
	require.Len(t, observed, 3)
	assert.Error(t, observed[0])
	assert.NoError(t, observed[2])
}

func TestPipeline_AllOrNothing(t *testing.T) {
	emb := &fakeEmbedder{failFirst: 100}
	p := newTestPipeline(t, emb, 2)

	out, err := p.EmbedBlocks(context.Background(), []string{"a", "b", "c"})
	assert.Nil(t, out)
	assert.ErrorIs(t, err, ErrEmbed)
	assert.ErrorIs(t, err, errBackend)
	assert.Len(t, emb.batches, 3, "first batch attempted three times, second never reached")
}

func TestPipeline_PermanentErrorsNotRetried(t *testing.T) {
	emb := &fakeEmbedder{failFirst: 100, failWith: &APIError{StatusCode: 400, Body: "bad"}}
	p := newTestPipeline(t, emb, 2)

	_, err := p.EmbedBlocks(context.Background(), []string{"a"})
	var apiErr *APIError
	assert.True(t, errors.As(err, &apiErr))
	assert.ErrorIs(t, err, ErrEmbed)
	assert.Len(t, emb.batches, 1)
}

func TestPipeline_ShapeMismatch(t *testing.T) {
	emb := &fakeEmbedder{dropOutput: true}
	p := newTestPipeline(t, emb, 4)

	_, err := p.EmbedBlocks(context.Background(), []string{"a", "b"})
	assert.ErrorIs(t, err, ErrShapeMismatch)
	assert.Len(t, emb.batches, 1)
}

func TestPipeline_TokenizeErrorNamesDocument(t *testing.T) {
	emb := &fakeEmbedder{}
	p := newTestPipeline(t, emb, 2)

	texts := []string{"ok", "fine", "good", "bad\x00", "never"}
	_, err := p.EmbedBlocks(context.Background(), texts)

	var tokErr *tokenizer.TokenizeError
	require.True(t, errors.As(err, &tokErr))
	assert.Equal(t, 3, tokErr.Index)
	assert.Len(t, emb.batches, 1, "the failing batch never reaches the backend")
}

func TestPipeline_CallTimeout(t *testing.T) {
	emb := &fakeEmbedder{delay: 200 * time.Millisecond}
	p := newTestPipeline(t, emb, 2,
		WithCallTimeout(10*time.Millisecond),
		WithRetry(retry.Config{Attempts: 1}),
	)

	_, err := p.EmbedBlocks(context.Background(), []string{"a"})
	assert.ErrorIs(t, err, ErrEmbed)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPipeline_Cancelled(t *testing.T) {
	emb := &fakeEmbedder{}
	p := newTestPipeline(t, emb, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.EmbedBlocks(ctx, []string{"a", "b"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, emb.batches)
}

func TestPipeline_QueryCache(t *testing.T) {
	emb := &fakeEmbedder{}
	p := newTestPipeline(t, emb, 4)
	ctx := context.Background()

	first, err := p.EmbedQuery(ctx, "parse config")
	require.NoError(t, err)
	first[0][0] = -1 // callers cannot poison the cache

	second, err := p.EmbedQuery(ctx, "parse config")
	require.NoError(t, err)
	assert.Equal(t, 1, emb.queries)
	assert.Equal(t, float32(1), second[0][0])

	p.InvalidateCache()
	_, err = p.EmbedQuery(ctx, "parse config")
	require.NoError(t, err)
	assert.Equal(t, 2, emb.queries)
}

func TestPipeline_QueryCacheDisabled(t *testing.T) {
	emb := &fakeEmbedder{}
	p := newTestPipeline(t, emb, 4, WithQueryCache(0))

	for i := 0; i < 3; i++ {
		_, err := p.EmbedQuery(context.Background(), "q")
		require.NoError(t, err)
	}
	assert.Equal(t, 3, emb.queries)
}

func TestNewPipeline_Validation(t *testing.T) {
	cfg := testModelConfig(0)
	tok, err := tokenizer.New(spaceVocab{}, testModelConfig(1))
	require.NoError(t, err)

	_, err = NewPipeline(&fakeEmbedder{}, tok, cfg)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = NewPipeline(nil, tok, testModelConfig(1))
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestModelEmbedder_HashModel(t *testing.T) {
	cfg := testModelConfig(4)
	tok, err := tokenizer.New(tokenizer.NewHashVocabulary(1024), cfg)
	require.NoError(t, err)
	emb := NewModelEmbedder(tok, NewHashModel(cfg.TokenDim))

	texts := []string{"func main", "type Config struct { Name string }"}
	out, err := emb.EmbedDocuments(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, 4, out[0].Rows(), "CLS func main SEP, padding stripped")
	assert.Equal(t, 9, out[1].Rows())

	q, err := emb.EmbedQuery(context.Background(), "main")
	require.NoError(t, err)
	assert.Equal(t, 3, q.Rows())
	// The query token "main" embeds identically to the document token
	assert.Equal(t, out[0][2], q[1])

	empty, err := emb.EmbedDocuments(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

type brokenModel struct {
	rows int
	dim  int
	err  error
}

func (b brokenModel) Run(_ context.Context, ids, _ [][]int) ([][][]float32, error) {
	if b.err != nil {
		return nil, b.err
	}
	out := make([][][]float32, len(ids))
	for i := range out {
		out[i] = make([][]float32, b.rows)
		for j := range out[i] {
			out[i][j] = make([]float32, b.dim)
		}
	}
	return out, nil
}
func (b brokenModel) Dimension() int { return testDim }
func (b brokenModel) Close() error   { return nil }

func TestModelEmbedder_Errors(t *testing.T) {
	cfg := testModelConfig(4)
	tok, err := tokenizer.New(spaceVocab{}, cfg)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = NewModelEmbedder(tok, brokenModel{err: errBackend}).EmbedDocuments(ctx, []string{"a"})
	assert.ErrorIs(t, err, ErrEmbed)
	assert.ErrorIs(t, err, errBackend)

	_, err = NewModelEmbedder(tok, brokenModel{rows: 1, dim: testDim}).EmbedDocuments(ctx, []string{"a b"})
	assert.ErrorIs(t, err, ErrShapeMismatch)

	_, err = NewModelEmbedder(tok, brokenModel{rows: 8, dim: 3}).EmbedQuery(ctx, "a")
	assert.ErrorIs(t, err, ErrShapeMismatch)
}
