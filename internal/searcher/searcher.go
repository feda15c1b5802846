package searcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dshills/omengrep/internal/logging"
	"github.com/dshills/omengrep/internal/metrics"
	"github.com/dshills/omengrep/internal/storage"
	"github.com/dshills/omengrep/pkg/types"
)

// Mode selects the retrieval strategy
type Mode string

const (
	ModeHybrid   Mode = "hybrid"   // bm25 + MaxSim fused with RRF
	ModeSemantic Mode = "semantic" // MaxSim only
)

const (
	DefaultLimit = 10
	MaxLimit     = 100
)

// ErrUnsupportedMode is returned for a Mode other than hybrid or semantic
var ErrUnsupportedMode = errors.New("unsupported search mode")

// QueryEmbedder embeds queries in query mode. *embedder.Pipeline
// satisfies it.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) (types.Matrix, error)
	InvalidateCache()
}

// Request contains parameters for a search operation
type Request struct {
	Query   string
	Limit   int
	Mode    Mode
	Options *storage.SearchOptions
}

// Response contains search results and metadata
type Response struct {
	Results  []types.SearchResult `json:"results"`
	Mode     Mode                 `json:"mode"`
	Duration time.Duration        `json:"duration"`
}

// Searcher runs queries against the store
type Searcher struct {
	store   storage.Store
	emb     QueryEmbedder
	log     *logging.Logger
	metrics *metrics.Metrics
}

// Option configures a Searcher
type Option func(*Searcher)

// WithLogger sets the logger
func WithLogger(l *logging.Logger) Option {
	return func(s *Searcher) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetrics records search latency
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Searcher) { s.metrics = m }
}

// New creates a new Searcher instance
func New(store storage.Store, emb QueryEmbedder, opts ...Option) *Searcher {
	s := &Searcher{
		store: store,
		emb:   emb,
		log:   logging.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Search embeds the query and asks the store for the best blocks. Results
// come back in store order.
func (s *Searcher) Search(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	if err := validateRequest(&req); err != nil {
		return nil, fmt.Errorf("invalid search request: %w", err)
	}

	results, err := s.search(ctx, req)
	elapsed := time.Since(start)
	s.metrics.ObserveSearch(string(req.Mode), elapsed, err)
	s.log.LogSearch(ctx, req.Query, len(results), elapsed, err)
	if err != nil {
		return nil, err
	}

	return &Response{
		Results:  results,
		Mode:     req.Mode,
		Duration: elapsed,
	}, nil
}

func (s *Searcher) search(ctx context.Context, req Request) ([]types.SearchResult, error) {
	tokens, err := s.emb.EmbedQuery(ctx, req.Query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	switch req.Mode {
	case ModeSemantic:
		return s.store.SearchVector(ctx, tokens, req.Limit, req.Options)
	default:
		return s.store.SearchHybrid(ctx, req.Query, tokens, req.Limit, req.Options)
	}
}

// InvalidateCache drops cached query embeddings. Call it after the model
// changes.
func (s *Searcher) InvalidateCache() {
	s.emb.InvalidateCache()
}

// validateRequest applies defaults and rejects unusable requests
func validateRequest(req *Request) error {
	if strings.TrimSpace(req.Query) == "" {
		return storage.ErrEmptyQuery
	}

	if req.Limit <= 0 {
		req.Limit = DefaultLimit
	}
	if req.Limit > MaxLimit {
		req.Limit = MaxLimit
	}

	switch req.Mode {
	case "":
		req.Mode = ModeHybrid
	case ModeHybrid, ModeSemantic:
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedMode, req.Mode)
	}
	return nil
}
