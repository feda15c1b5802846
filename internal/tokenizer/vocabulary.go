package tokenizer

import (
	"errors"
	"fmt"
	"runtime"

	hf "github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"

	"github.com/dshills/omengrep/internal/tokenizer/internal/quietlog"
)

// The library has initialised by now; its startup notice was dropped
func init() {
	quietlog.Restore()
}

// ErrVocabulary means the vocabulary artifact could not be loaded
var ErrVocabulary = errors.New("load vocabulary")

// Vocabulary turns text into token ids. Encode returns the full,
// untruncated sequence including the model's special tokens.
// Implementations must be safe for concurrent use.
type Vocabulary interface {
	Encode(text string) ([]int, error)
	PadID() int
}

// HFVocabulary is a HuggingFace tokenizer.json loaded through
// github.com/sugarme/tokenizer.
//
// A library tokenizer is not safe for concurrent use, so HFVocabulary keeps
// a free list of instances. A caller takes one for the duration of an
// Encode and hands it back; when none is idle another is loaded from the
// same file. At most GOMAXPROCS idle instances are retained.
type HFVocabulary struct {
	path  string
	idle  chan *hf.Tokenizer
	padID int
}

// padTokens are tried in order to find the padding id
var padTokens = []string{"[PAD]", "<pad>"}

// LoadVocabulary loads a tokenizer.json file. Any failure is fatal for
// pipeline construction and wraps ErrVocabulary.
func LoadVocabulary(path string) (*HFVocabulary, error) {
	tk, err := loadTokenizer(path)
	if err != nil {
		return nil, err
	}

	v := &HFVocabulary{
		path: path,
		idle: make(chan *hf.Tokenizer, runtime.GOMAXPROCS(0)),
	}
	for _, tok := range padTokens {
		if id, ok := tk.TokenToId(tok); ok {
			v.padID = id
			break
		}
	}
	v.idle <- tk
	return v, nil
}

func loadTokenizer(path string) (*hf.Tokenizer, error) {
	tk, err := pretrained.FromFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrVocabulary, path, err)
	}

	// Length policies are applied by Encoder, not by the library
	tk.WithTruncation(nil)
	tk.WithPadding(nil)
	return tk, nil
}

func (v *HFVocabulary) acquire() (*hf.Tokenizer, error) {
	select {
	case tk := <-v.idle:
		return tk, nil
	default:
		return loadTokenizer(v.path)
	}
}

func (v *HFVocabulary) release(tk *hf.Tokenizer) {
	select {
	case v.idle <- tk:
	default:
	}
}

// Encode tokenizes text with special tokens added
func (v *HFVocabulary) Encode(text string) ([]int, error) {
	tk, err := v.acquire()
	if err != nil {
		return nil, err
	}
	defer v.release(tk)

	enc, err := tk.EncodeSingle(text, true)
	if err != nil {
		return nil, err
	}
	ids := make([]int, len(enc.Ids))
	copy(ids, enc.Ids)
	return ids, nil
}

// PadID returns the padding token id, 0 if the vocabulary defines none
func (v *HFVocabulary) PadID() int {
	return v.padID
}
