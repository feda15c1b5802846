package snapshot

import (
	"slices"
	"time"

	"github.com/dshills/omengrep/internal/scanner"
)

// FormatVersion is bumped whenever the on-disk layout changes incompatibly
const FormatVersion = 1

// Entry is the recorded state of one indexed file: the metadata it was
// indexed under and the block ids it owns in the store
type Entry struct {
	scanner.FileMetadata
	Blocks []string `json:"blocks,omitempty"`
}

// Snapshot is the persisted change-detection state of one index root
type Snapshot struct {
	Version      int              `json:"version"`
	Root         string           `json:"root"`
	ModelVersion string           `json:"model_version"`
	BuildID      string           `json:"build_id,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	Files        map[string]Entry `json:"files"`
}

// New returns an empty snapshot for root
func New(root, modelVersion string) *Snapshot {
	return &Snapshot{
		Version:      FormatVersion,
		Root:         root,
		ModelVersion: modelVersion,
		Files:        make(map[string]Entry),
	}
}

// Stale reports whether the snapshot was recorded under a different model.
// A nil snapshot is never stale; it is simply empty.
func (s *Snapshot) Stale(modelVersion string) bool {
	if s == nil {
		return false
	}
	return s.ModelVersion != modelVersion
}

// Lookup returns the entry recorded for path
func (s *Snapshot) Lookup(path string) (Entry, bool) {
	if s == nil {
		return Entry{}, false
	}
	e, ok := s.Files[path]
	return e, ok
}

// Set records path with the given metadata and owned block ids
func (s *Snapshot) Set(path string, meta scanner.FileMetadata, blocks []string) {
	if s.Files == nil {
		s.Files = make(map[string]Entry)
	}
	s.Files[path] = Entry{FileMetadata: meta, Blocks: slices.Clone(blocks)}
}

// Delete drops path from the snapshot
func (s *Snapshot) Delete(path string) {
	delete(s.Files, path)
}

// BlockCount returns the total number of block ids recorded
func (s *Snapshot) BlockCount() int {
	if s == nil {
		return 0
	}
	n := 0
	for _, e := range s.Files {
		n += len(e.Blocks)
	}
	return n
}

// Clone returns a deep copy
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	out := *s
	out.Files = make(map[string]Entry, len(s.Files))
	for p, e := range s.Files {
		out.Files[p] = Entry{FileMetadata: e.FileMetadata, Blocks: slices.Clone(e.Blocks)}
	}
	return &out
}
