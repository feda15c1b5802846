package tokenizer

import (
	"errors"
	"fmt"
)

// ErrEmptyEncoding is returned when the vocabulary yields no tokens
var ErrEmptyEncoding = errors.New("text produced no tokens")

// TokenizeError reports a text that failed to encode. Index is the
// position within the batch, or -1 for a single encode.
type TokenizeError struct {
	Index int
	Err   error
}

func (e *TokenizeError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("tokenize: %v", e.Err)
	}
	return fmt.Sprintf("tokenize document %d: %v", e.Index, e.Err)
}

func (e *TokenizeError) Unwrap() error { return e.Err }

// Encoding is one tokenized text. IDs may carry trailing padding; the
// attention mask is 1 for real tokens and 0 for padding.
type Encoding struct {
	IDs           []int
	AttentionMask []int
}

// Len returns the number of real (unpadded) tokens
func (e Encoding) Len() int {
	n := 0
	for _, m := range e.AttentionMask {
		n += m
	}
	return n
}

// Encoder applies one truncation/padding policy on top of a shared
// Vocabulary. It holds no mutable state and is safe for concurrent use.
type Encoder struct {
	vocab     Vocabulary
	maxLength int
	pad       bool
}

// NewEncoder wraps vocab with a truncation length. When pad is set,
// EncodeBatch pads every encoding to the longest in the batch.
func NewEncoder(vocab Vocabulary, maxLength int, pad bool) *Encoder {
	return &Encoder{vocab: vocab, maxLength: maxLength, pad: pad}
}


// Vocabulary returns the underlying vocabulary
func (e *Encoder) Vocabulary() Vocabulary { return e.vocab }

// Encode tokenizes a single text. A single encoding is never padded.
func (e *Encoder) Encode(text string) (Encoding, error) {
	enc, err := e.encode(text)
	if err != nil {
		return Encoding{}, &TokenizeError{Index: -1, Err: err}
	}
	return enc, nil
}

// EncodeBatch tokenizes texts in order. The batch fails as a whole; the
// returned *TokenizeError names the first offending index.
func (e *Encoder) EncodeBatch(texts []string) ([]Encoding, error) {
	out := make([]Encoding, len(texts))
	longest := 0
	for i, text := range texts {
		enc, err := e.encode(text)
		if err != nil {
			return nil, &TokenizeError{Index: i, Err: err}
		}
		out[i] = enc
		longest = max(longest, len(enc.IDs))
	}

	if e.pad {
		padID := e.vocab.PadID()
		for i := range out {
			out[i] = padTo(out[i], longest, padID)
		}
	}
	return out, nil
}

func (e *Encoder) encode(text string) (Encoding, error) {
	ids, err := e.vocab.Encode(text)
	if err != nil {
		return Encoding{}, err
	}
	if len(ids) == 0 {
		return Encoding{}, ErrEmptyEncoding
	}

	ids = truncate(ids, e.maxLength)
	mask := make([]int, len(ids))
	for i := range mask {
		mask[i] = 1
	}
	return Encoding{IDs: ids, AttentionMask: mask}, nil
}

// truncate keeps the first maxLength-1 tokens plus the final one, so the
// closing special token survives
func truncate(ids []int, maxLength int) []int {
	if maxLength <= 0 || len(ids) <= maxLength {
		return ids
	}
	if maxLength == 1 {
		return ids[:1]
	}
	out := make([]int, 0, maxLength)
	out = append(out, ids[:maxLength-1]...)
	return append(out, ids[len(ids)-1])
}

func padTo(enc Encoding, length, padID int) Encoding {
	n := length - len(enc.IDs)
	if n <= 0 {
		return enc
	}
	ids := make([]int, length)
	mask := make([]int, length)
	copy(ids, enc.IDs)
	copy(mask, enc.AttentionMask)
	for i := len(enc.IDs); i < length; i++ {
		ids[i] = padID
	}
	return Encoding{IDs: ids, AttentionMask: mask}
}
