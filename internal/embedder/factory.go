package embedder

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dshills/omengrep/internal/models"
	"github.com/dshills/omengrep/internal/tokenizer"
)

// Config selects and tunes the embedding backend
type Config struct {
	Backend        string
	InferenceURL   string
	APIKey         string
	RPS            float64
	CallTimeout    time.Duration
	QueryCacheSize int // 0 selects the default, negative disables
}

// hashVocabSize is the id space of the offline vocabulary
const hashVocabSize = 1 << 18

// Version returns the index version tag for a model served by backend.
// Offline hash embeddings are not comparable with real model output, so
// they are tagged separately.
func Version(backend string, mc models.ModelConfig) string {
	if strings.EqualFold(backend, BackendHash) {
		return mc.Version + "+" + BackendHash
	}
	return mc.Version
}

// NewModel creates the inference engine for cfg.Backend
func NewModel(cfg Config, mc models.ModelConfig) (Model, error) {
	switch strings.ToLower(cfg.Backend) {
	case BackendHash, "":
		return NewHashModel(mc.TokenDim), nil
	case BackendHTTP:
		if cfg.InferenceURL == "" {
			return nil, fmt.Errorf("%w: %s backend requires an inference URL", ErrUnsupportedModel, BackendHTTP)
		}
		return NewHTTPModel(cfg.InferenceURL, mc.Repo, mc.TokenDim,
			WithAPIKey(cfg.APIKey),
			WithRateLimit(cfg.RPS),
			WithTimeout(cfg.CallTimeout),
		), nil
	default:
		return nil, fmt.Errorf("%w: unknown backend %s", ErrUnsupportedModel, cfg.Backend)
	}
}

// LoadTokenizer builds the tokenizer pipeline for cfg.Backend. The hash
// backend uses the offline vocabulary; every other backend needs the
// model's tokenizer.json, fetched through f.
func LoadTokenizer(ctx context.Context, cfg Config, mc models.ModelConfig, f *models.Fetcher) (*tokenizer.Pipeline, error) {
	if strings.EqualFold(cfg.Backend, BackendHash) || cfg.Backend == "" {
		return tokenizer.New(tokenizer.NewHashVocabulary(hashVocabSize), mc)
	}
	if f == nil {
		return nil, fmt.Errorf("%w: no artifact fetcher configured", models.ErrArtifactFetch)
	}
	path, err := f.ResolveTokenizer(ctx, mc)
	if err != nil {
		return nil, err
	}
	return tokenizer.Load(path, mc)
}

// New assembles the embedding pipeline: tokenizer, model and batching.
// Construction failures (vocabulary, artifact fetch) are fatal.
func New(ctx context.Context, cfg Config, mc models.ModelConfig, f *models.Fetcher, opts ...PipelineOption) (*Pipeline, error) {
	tok, err := LoadTokenizer(ctx, cfg, mc, f)
	if err != nil {
		return nil, err
	}
	model, err := NewModel(cfg, mc)
	if err != nil {
		return nil, err
	}

	cacheSize := cfg.QueryCacheSize
	if cacheSize == 0 {
		cacheSize = DefaultQueryCacheSize
	}
	base := []PipelineOption{
		WithCallTimeout(cfg.CallTimeout),
		WithQueryCache(cacheSize),
	}
	mc.Version = Version(cfg.Backend, mc)
	p, err := NewPipeline(NewModelEmbedder(tok, model), tok, mc, append(base, opts...)...)
	if err != nil {
		_ = model.Close()
		return nil, err
	}
	return p, nil
}
