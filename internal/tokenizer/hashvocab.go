package tokenizer

import (
	"hash/fnv"
	"unicode"
)

// Reserved ids of HashVocabulary
const (
	HashPadID   = 0
	HashCLSID   = 1
	HashSEPID   = 2
	hashIDStart = 3
)

// HashVocabulary is an offline vocabulary that needs no artifact. Words
// (runs of letters, digits and underscores) and individual punctuation
// runes are hashed into a fixed id space, framed by CLS and SEP.
type HashVocabulary struct {
	size int
}

// NewHashVocabulary returns a hashing vocabulary with size ids
func NewHashVocabulary(size int) *HashVocabulary {
	if size <= hashIDStart {
		size = 1 << 16
	}
	return &HashVocabulary{size: size}
}

// Encode never fails
func (v *HashVocabulary) Encode(text string) ([]int, error) {
	ids := []int{HashCLSID}
	start := -1
	flush := func(end int) {
		if start >= 0 {
			ids = append(ids, v.id(text[start:end]))
			start = -1
		}
	}
	for i, r := range text {
		switch {
		case r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r):
			if start < 0 {
				start = i
			}
		case unicode.IsSpace(r):
			flush(i)
		default:
			flush(i)
			ids = append(ids, v.id(string(r)))
		}
	}
	flush(len(text))
	return append(ids, HashSEPID), nil
}

// PadID returns HashPadID
func (v *HashVocabulary) PadID() int { return HashPadID }

func (v *HashVocabulary) id(word string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(word))
	return hashIDStart + int(h.Sum32()%uint32(v.size-hashIDStart))
}
