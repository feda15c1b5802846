package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"slices"
	"strings"

	"github.com/dshills/omengrep/pkg/types"
)

var (
	// ErrNotFound is returned when a requested block doesn't exist
	ErrNotFound = errors.New("not found")
	// ErrClosed is returned by every operation after Close
	ErrClosed = errors.New("store is closed")
	// ErrDimensionMismatch is returned when query and stored token widths differ
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	// ErrEmptyQuery is returned when a search has neither text nor tokens
	ErrEmptyQuery = errors.New("empty query")
)

// StoreError attaches the failing operation and block id to a store failure
type StoreError struct {
	Op  string
	ID  string
	Err error
}

func (e *StoreError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("store %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("store %s %s: %v", e.Op, e.ID, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// Store is the hybrid retrieval store the indexer writes to.
//
// Upsert, Retract and Reset are buffered; nothing is visible to searches
// until Flush applies the buffer atomically. At most one record exists per
// block id.
type Store interface {
	Upsert(ctx context.Context, record types.BlockRecord) error
	Retract(ctx context.Context, id string) error
	// Reset schedules removal of every stored block ahead of the buffered
	// operations that follow it
	Reset(ctx context.Context) error
	Flush(ctx context.Context) error
	// Discard drops buffered writes, including a scheduled Reset, without
	// touching stored blocks
	Discard(ctx context.Context) error

	SearchHybrid(ctx context.Context, query string, tokens types.Matrix, limit int, opts *SearchOptions) ([]types.SearchResult, error)
	SearchVector(ctx context.Context, tokens types.Matrix, limit int, opts *SearchOptions) ([]types.SearchResult, error)

	Stats(ctx context.Context) (*Stats, error)
	Close() error
}

// SearchOptions narrows a search. The zero value matches every block.
type SearchOptions struct {
	// Extensions keeps files with one of these extensions ("go" or ".go")
	Extensions []string
	// Exclude drops files matching any of these globs. A pattern matches
	// the full relative path or any single path element.
	Exclude []string
	// PathPrefix keeps files under this slash-separated directory
	PathPrefix string
	// Kinds keeps blocks of these kinds
	Kinds []types.BlockKind
	// MinScore drops results whose semantic similarity is below it
	MinScore float64
}

// Match reports whether a block passes the filters
func (o *SearchOptions) Match(meta types.BlockMetadata) bool {
	if o == nil {
		return true
	}

	if len(o.Extensions) > 0 {
		ext := strings.TrimPrefix(strings.ToLower(path.Ext(meta.File)), ".")
		if !slices.ContainsFunc(o.Extensions, func(want string) bool {
			return strings.TrimPrefix(strings.ToLower(want), ".") == ext
		}) {
			return false
		}
	}

	if o.PathPrefix != "" {
		prefix := strings.TrimSuffix(o.PathPrefix, "/")
		if meta.File != prefix && !strings.HasPrefix(meta.File, prefix+"/") {
			return false
		}
	}

	if len(o.Kinds) > 0 && !slices.Contains(o.Kinds, meta.Kind) {
		return false
	}

	for _, pattern := range o.Exclude {
		if excluded(pattern, meta.File) {
			return false
		}
	}
	return true
}

func excluded(pattern, file string) bool {
	pattern = strings.TrimSuffix(pattern, "/")
	if ok, _ := path.Match(pattern, file); ok {
		return true
	}
	for _, elem := range strings.Split(file, "/") {
		if ok, _ := path.Match(pattern, elem); ok {
			return true
		}
	}
	return false
}

// Stats summarizes the stored index
type Stats struct {
	Blocks        int    `json:"blocks"`
	Files         int    `json:"files"`
	Dimension     int    `json:"dimension"`
	Pending       int    `json:"pending"`
	SchemaVersion string `json:"schema_version"`
	SizeBytes     int64  `json:"size_bytes"`
	Driver        string `json:"driver"`
}
