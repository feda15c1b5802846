package types

import (
	"errors"
	"fmt"
)

// BlockKind represents the syntactic kind of an indexed block
type BlockKind string

const (
	BlockFunction   BlockKind = "function"
	BlockMethod     BlockKind = "method"
	BlockType       BlockKind = "type"
	BlockConstGroup BlockKind = "const"
	BlockVarGroup   BlockKind = "var"
	BlockFile       BlockKind = "file"
	BlockSection    BlockKind = "section"
)

// BlockMetadata is the metadata stored next to every block record.
// The JSON field names are part of the on-disk format.
type BlockMetadata struct {
	File      string    `json:"file"`
	Kind      BlockKind `json:"type"`
	Name      string    `json:"name"`
	StartLine int       `json:"start_line"`
	EndLine   int       `json:"end_line"`
}

// Block is a contiguous span of a source file produced by block extraction
type Block struct {
	ID       string
	Text     string
	Metadata BlockMetadata
}

// BlockRecord is the unit submitted to the retrieval store
type BlockRecord struct {
	ID       string
	Tokens   Matrix
	Text     string
	Metadata BlockMetadata
}

// Validate checks line numbers and kind
func (m *BlockMetadata) Validate() error {
	if m.File == "" {
		return errors.New("block file is required")
	}

	if m.StartLine <= 0 || m.EndLine <= 0 {
		return errors.New("line numbers must be positive")
	}

	if m.StartLine > m.EndLine {
		return errors.New("start line must be before or equal to end line")
	}

	switch m.Kind {
	case BlockFunction, BlockMethod, BlockType, BlockConstGroup, BlockVarGroup, BlockFile, BlockSection:
		return nil
	default:
		return fmt.Errorf("invalid block kind %q", m.Kind)
	}
}

// Validate performs comprehensive validation of the block
func (b *Block) Validate() error {
	if b.ID == "" {
		return ErrEmptyBlockID
	}
	if b.Text == "" {
		return ErrEmptyContent
	}
	return b.Metadata.Validate()
}

// Validate checks that the record is storable: non-empty id, at least one
// token row and a consistent row width.
func (r *BlockRecord) Validate() error {
	if r.ID == "" {
		return ErrEmptyBlockID
	}
	if r.Tokens.Rows() == 0 {
		return fmt.Errorf("%w: block %s", ErrNoTokens, r.ID)
	}
	if err := r.Tokens.Validate(); err != nil {
		return fmt.Errorf("block %s: %w", r.ID, err)
	}
	return r.Metadata.Validate()
}
