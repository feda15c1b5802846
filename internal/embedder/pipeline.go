package embedder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dshills/omengrep/internal/logging"
	"github.com/dshills/omengrep/internal/models"
	"github.com/dshills/omengrep/internal/retry"
	"github.com/dshills/omengrep/internal/tokenizer"
	"github.com/dshills/omengrep/pkg/types"
)

// BatchObserver is notified after every backend call
type BatchObserver func(size int, elapsed time.Duration, err error)

// Pipeline batches block texts through an Embedder. It guarantees order,
// one matrix per text and that no padding rows survive.
type Pipeline struct {
	emb       Embedder
	tok       *tokenizer.Pipeline
	version   string
	batchSize int
	timeout   time.Duration
	retry     retry.Config
	cache     *QueryCache
	observe   BatchObserver
	log       *logging.Logger
}

// PipelineOption configures a Pipeline
type PipelineOption func(*Pipeline)

// WithCallTimeout bounds every backend call. A timeout counts as a backend
// failure.
func WithCallTimeout(d time.Duration) PipelineOption {
	return func(p *Pipeline) { p.timeout = d }
}

// WithRetry sets the retry policy for failed batches
func WithRetry(c retry.Config) PipelineOption {
	return func(p *Pipeline) { p.retry = c }
}

// WithQueryCache sets the number of cached query embeddings. Zero disables
// the cache.
func WithQueryCache(size int) PipelineOption {
	return func(p *Pipeline) {
		if size <= 0 {
			p.cache = nil
			return
		}
		p.cache = NewQueryCache(size)
	}
}

// WithObserver registers a callback for batch metrics
func WithObserver(fn BatchObserver) PipelineOption {
	return func(p *Pipeline) { p.observe = fn }
}

// WithLogger sets the logger
func WithLogger(l *logging.Logger) PipelineOption {
	return func(p *Pipeline) {
		if l != nil {
			p.log = l
		}
	}
}

// NewPipeline creates the embedding pipeline for cfg. tok must be the
// pipeline emb tokenizes with; it supplies the unpadded token counts.
func NewPipeline(emb Embedder, tok *tokenizer.Pipeline, cfg models.ModelConfig, opts ...PipelineOption) (*Pipeline, error) {
	if emb == nil || tok == nil {
		return nil, fmt.Errorf("%w: embedder and tokenizer are required", ErrInvalidInput)
	}
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("%w: batch size must be positive", ErrInvalidInput)
	}
	p := &Pipeline{
		emb:       emb,
		tok:       tok,
		version:   cfg.Version,
		batchSize: cfg.BatchSize,
		retry:     retry.DefaultConfig(),
		cache:     NewQueryCache(DefaultQueryCacheSize),
		log:       logging.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Dimension returns the token row width
func (p *Pipeline) Dimension() int { return p.emb.Dimension() }

// Version returns the tag recorded with every snapshot built by p
func (p *Pipeline) Version() string { return p.version }

// Close releases the embedder
func (p *Pipeline) Close() error { return p.emb.Close() }

// BatchSize returns the maximum number of texts per backend call
func (p *Pipeline) BatchSize() int { return p.batchSize }

// EmbedBlocks embeds texts in batches of at most BatchSize. The result has
// one matrix per text in input order. Any failing batch fails the call;
// a *tokenizer.TokenizeError names the offending text by its index in texts.
func (p *Pipeline) EmbedBlocks(ctx context.Context, texts []string) (types.TokenEmbeddings, error) {
	out := make(types.TokenEmbeddings, 0, len(texts))
	for start := 0; start < len(texts); start += p.batchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(start+p.batchSize, len(texts))

		batch, err := p.embedBatch(ctx, texts[start:end])
		if err != nil {
			var tokErr *tokenizer.TokenizeError
			if errors.As(err, &tokErr) && tokErr.Index >= 0 {
				return nil, &tokenizer.TokenizeError{Index: start + tokErr.Index, Err: tokErr.Err}
			}
			return nil, fmt.Errorf("batch %d-%d: %w", start, end, err)
		}
		out = append(out, batch...)
	}
	return out, nil
}

func (p *Pipeline) embedBatch(ctx context.Context, texts []string) (types.TokenEmbeddings, error) {
	encs, err := p.tok.EncodeDocuments(texts)
	if err != nil {
		return nil, err
	}
	counts := make([]int, len(encs))
	for i, enc := range encs {
		counts[i] = enc.Len()
	}

	result, err := retry.Do(ctx, p.retry, func(int) (types.TokenEmbeddings, error) {
		return p.call(ctx, len(texts), func(ctx context.Context) (types.TokenEmbeddings, error) {
			return p.emb.EmbedDocuments(ctx, texts)
		})
	})
	if err != nil {
		return nil, err
	}
	return trim(result, counts)
}

// EmbedQuery embeds a search query in query mode, consulting the cache
func (p *Pipeline) EmbedQuery(ctx context.Context, text string) (types.Matrix, error) {
	var key string
	if p.cache != nil {
		key = CacheKey(p.version, text)
		if m, ok := p.cache.Get(key); ok {
			return m, nil
		}
	}

	enc, err := p.tok.EncodeQuery(text)
	if err != nil {
		return nil, err
	}

	result, err := retry.Do(ctx, p.retry, func(int) (types.TokenEmbeddings, error) {
		return p.call(ctx, 1, func(ctx context.Context) (types.TokenEmbeddings, error) {
			m, err := p.emb.EmbedQuery(ctx, text)
			if err != nil {
				return nil, err
			}
			return types.TokenEmbeddings{m}, nil
		})
	})
	if err != nil {
		return nil, err
	}
	trimmed, err := trim(result, []int{enc.Len()})
	if err != nil {
		return nil, err
	}

	if p.cache != nil {
		p.cache.Set(key, trimmed[0])
	}
	return trimmed[0], nil
}

// InvalidateCache drops every cached query embedding
func (p *Pipeline) InvalidateCache() {
	if p.cache != nil {
		p.cache.Purge()
	}
}

// call runs one backend invocation under the call timeout
func (p *Pipeline) call(ctx context.Context, size int, fn func(context.Context) (types.TokenEmbeddings, error)) (types.TokenEmbeddings, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	started := time.Now()
	out, err := fn(ctx)
	elapsed := time.Since(started)

	if err == nil && len(out) != size {
		err = fmt.Errorf("%w: %w: got %d matrices for %d inputs", ErrEmbed, ErrShapeMismatch, len(out), size)
	}
	if p.observe != nil {
		p.observe(size, elapsed, err)
	}
	p.log.LogBatch(ctx, size, elapsed, err)

	if err == nil {
		return out, nil
	}
	if !errors.Is(err, ErrEmbed) {
		var tokErr *tokenizer.TokenizeError
		if !errors.As(err, &tokErr) {
			err = fmt.Errorf("%w: %w", ErrEmbed, err)
		}
	}
	if !retryable(err) {
		return nil, retry.Permanent(err)
	}
	return nil, err
}

// retryable reports whether another attempt of the same batch can succeed
func retryable(err error) bool {
	var tokErr *tokenizer.TokenizeError
	if errors.As(err, &tokErr) || errors.Is(err, ErrShapeMismatch) || errors.Is(err, ErrInvalidInput) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	return true
}

// trim cuts each matrix to its unpadded token count
func trim(in types.TokenEmbeddings, counts []int) (types.TokenEmbeddings, error) {
	out := make(types.TokenEmbeddings, len(in))
	for i, m := range in {
		if m.Rows() < counts[i] {
			return nil, fmt.Errorf("%w: %w: input %d has %d rows, want %d", ErrEmbed, ErrShapeMismatch, i, m.Rows(), counts[i])
		}
		m = m.Truncate(counts[i])
		if err := m.Validate(); err != nil {
			return nil, fmt.Errorf("%w: input %d: %w", ErrEmbed, i, err)
		}
		out[i] = m
	}
	return out, nil
}
