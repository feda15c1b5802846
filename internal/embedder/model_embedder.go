package embedder

import (
	"context"
	"fmt"

	"github.com/dshills/omengrep/internal/tokenizer"
	"github.com/dshills/omengrep/pkg/types"
)

// ModelEmbedder implements Embedder on top of a tokenizer pipeline and an
// inference Model
type ModelEmbedder struct {
	tok   *tokenizer.Pipeline
	model Model
}

// NewModelEmbedder wires tok and model together
func NewModelEmbedder(tok *tokenizer.Pipeline, model Model) *ModelEmbedder {
	return &ModelEmbedder{tok: tok, model: model}
}

// Tokenizer returns the pipeline the embedder encodes with
func (e *ModelEmbedder) Tokenizer() *tokenizer.Pipeline { return e.tok }

// EmbedDocuments tokenizes texts in document mode and runs them as one batch
func (e *ModelEmbedder) EmbedDocuments(ctx context.Context, texts []string) (types.TokenEmbeddings, error) {
	if len(texts) == 0 {
		return types.TokenEmbeddings{}, nil
	}
	encs, err := e.tok.EncodeDocuments(texts)
	if err != nil {
		return nil, err
	}
	return e.run(ctx, encs)
}

// EmbedQuery tokenizes text in query mode and embeds it
func (e *ModelEmbedder) EmbedQuery(ctx context.Context, text string) (types.Matrix, error) {
	enc, err := e.tok.EncodeQuery(text)
	if err != nil {
		return nil, err
	}
	out, err := e.run(ctx, []tokenizer.Encoding{enc})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (e *ModelEmbedder) run(ctx context.Context, encs []tokenizer.Encoding) (types.TokenEmbeddings, error) {
	ids := make([][]int, len(encs))
	mask := make([][]int, len(encs))
	for i, enc := range encs {
		ids[i] = enc.IDs
		mask[i] = enc.AttentionMask
	}

	raw, err := e.model.Run(ctx, ids, mask)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbed, err)
	}
	if len(raw) != len(encs) {
		return nil, fmt.Errorf("%w: %w: got %d matrices for %d inputs", ErrEmbed, ErrShapeMismatch, len(raw), len(encs))
	}

	dim := e.model.Dimension()
	out := make(types.TokenEmbeddings, len(encs))
	for i, enc := range encs {
		n := enc.Len()
		if len(raw[i]) < n {
			return nil, fmt.Errorf("%w: %w: input %d has %d rows, want %d", ErrEmbed, ErrShapeMismatch, i, len(raw[i]), n)
		}
		m := types.Matrix(raw[i][:n])
		if m.Dim() != dim {
			return nil, fmt.Errorf("%w: %w: input %d has width %d, want %d", ErrEmbed, ErrShapeMismatch, i, m.Dim(), dim)
		}
		if err := m.Validate(); err != nil {
			return nil, fmt.Errorf("%w: input %d: %w", ErrEmbed, i, err)
		}
		out[i] = m
	}
	return out, nil
}

// Dimension returns the model's token width
func (e *ModelEmbedder) Dimension() int { return e.model.Dimension() }

// Close closes the model
func (e *ModelEmbedder) Close() error { return e.model.Close() }
