package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dshills/omengrep/pkg/types"
)

// Common errors
var (
	// ErrEmbed wraps every embedding backend failure. A batch that fails
	// with ErrEmbed produced no output at all.
	ErrEmbed = errors.New("embedding failed")

	ErrInvalidInput     = errors.New("invalid input")
	ErrShapeMismatch    = errors.New("embedding shape mismatch")
	ErrUnsupportedModel = errors.New("unsupported embedding backend")
)

// DefaultQueryCacheSize is the number of query embeddings kept in memory
const DefaultQueryCacheSize = 128

// Embedder produces per-token embeddings. EmbedDocuments returns one matrix
// per text in input order, each with one row per unpadded document-mode
// token. EmbedQuery does the same for a single query in query mode.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) (types.TokenEmbeddings, error)
	EmbedQuery(ctx context.Context, text string) (types.Matrix, error)

	// Dimension returns the width of every token row
	Dimension() int

	// Close releases any resources held by the embedder
	Close() error
}

// Model is the numerical inference engine: a padded batch of token ids and
// its attention mask in, one [tokens][dim] matrix per sequence out. Rows for
// padding positions may be present; callers strip them using the mask.
type Model interface {
	Run(ctx context.Context, ids, mask [][]int) ([][][]float32, error)
	Dimension() int
	Close() error
}

// QueryCache keeps recent query embeddings keyed by model version and text
type QueryCache struct {
	cache *lru.Cache[string, types.Matrix]
}

// NewQueryCache creates a cache holding up to size entries
func NewQueryCache(size int) *QueryCache {
	if size <= 0 {
		size = DefaultQueryCacheSize
	}
	cache, err := lru.New[string, types.Matrix](size)
	if err != nil {
		// Should never happen with positive size, but fallback to default
		cache, _ = lru.New[string, types.Matrix](DefaultQueryCacheSize)
	}
	return &QueryCache{cache: cache}
}

// Get returns a deep copy so callers cannot mutate cached values
func (c *QueryCache) Get(key string) (types.Matrix, bool) {
	m, ok := c.cache.Get(key)
	if !ok {
		return nil, false
	}
	return m.Clone(), true
}

// Set stores a copy of m
func (c *QueryCache) Set(key string, m types.Matrix) {
	c.cache.Add(key, m.Clone())
}

// Len returns the number of cached queries
func (c *QueryCache) Len() int {
	return c.cache.Len()
}

// Purge empties the cache
func (c *QueryCache) Purge() {
	c.cache.Purge()
}

// CacheKey derives the cache key for a query under a model version
func CacheKey(version, text string) string {
	h := sha256.New()
	h.Write([]byte(version))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}
