package types

import "math"

// SearchResult represents a single search result with relevance information
type SearchResult struct {
	// Identification
	BlockID string `json:"id"`
	Rank    int    `json:"rank"` // Position in result set (1-based)

	// Scoring
	Score float64 `json:"score"`

	// Content
	Text     string        `json:"content"`
	Metadata BlockMetadata `json:"metadata"`
}

// Validate checks if the search result is valid
func (sr *SearchResult) Validate() error {
	if sr.BlockID == "" {
		return ErrEmptyBlockID
	}

	if sr.Rank < 1 {
		return ErrInvalidRank
	}

	if math.IsNaN(sr.Score) || math.IsInf(sr.Score, 0) {
		return ErrInvalidRelevanceScore
	}

	if sr.Text == "" {
		return ErrEmptyContent
	}

	return nil
}
