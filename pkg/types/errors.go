package types

import "errors"

// Domain errors for type validation
var (
	// Block errors
	ErrEmptyBlockID  = errors.New("block ID cannot be empty")
	ErrNoTokens      = errors.New("block has no token embeddings")
	ErrZeroDimension = errors.New("embedding dimension must be positive")
	ErrRaggedMatrix  = errors.New("token rows have inconsistent dimensions")

	// Search result errors
	ErrInvalidRank           = errors.New("rank must be >= 1")
	ErrInvalidRelevanceScore = errors.New("relevance score must be finite")
	ErrEmptyContent          = errors.New("content cannot be empty")
)
