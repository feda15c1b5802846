package tokenizer

import (
	"errors"
	"fmt"

	"github.com/dshills/omengrep/internal/models"
)

// Pipeline holds the document and query encoders for one model. Both are
// built from the same Vocabulary value, so indexed and queried token ids
// always agree.
type Pipeline struct {
	vocab    Vocabulary
	Document *Encoder
	Query    *Encoder
}

// New builds the pipeline for cfg on top of vocab
func New(vocab Vocabulary, cfg models.ModelConfig) (*Pipeline, error) {
	if vocab == nil {
		return nil, fmt.Errorf("%w: nil vocabulary", ErrVocabulary)
	}
	if cfg.DocMaxLength <= 0 || cfg.QueryMaxLength <= 0 {
		return nil, errors.New("tokenizer: truncation lengths must be positive")
	}
	return &Pipeline{
		vocab:    vocab,
		Document: NewEncoder(vocab, cfg.DocMaxLength, true),
		Query:    NewEncoder(vocab, cfg.QueryMaxLength, true),
	}, nil
}

// Load reads the vocabulary at path and builds the pipeline for cfg
func Load(path string, cfg models.ModelConfig) (*Pipeline, error) {
	vocab, err := LoadVocabulary(path)
	if err != nil {
		return nil, err
	}
	return New(vocab, cfg)
}

// Vocabulary returns the shared base vocabulary
func (p *Pipeline) Vocabulary() Vocabulary { return p.vocab }

// EncodeDocuments tokenizes block texts in document mode, padded to the
// longest in the batch
func (p *Pipeline) EncodeDocuments(texts []string) ([]Encoding, error) {
	return p.Document.EncodeBatch(texts)
}

// EncodeQuery tokenizes a search query in query mode
func (p *Pipeline) EncodeQuery(text string) (Encoding, error) {
	return p.Query.Encode(text)
}
