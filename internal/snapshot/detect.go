package snapshot

import (
	"slices"

	"github.com/dshills/omengrep/internal/scanner"
)

// Changes is the classification of every path seen in either scan. Each
// slice is sorted.
type Changes struct {
	Unchanged []string
	Modified  []string
	Added     []string
	Removed   []string
}

// Pending returns the paths that need (re-)embedding, sorted
func (c Changes) Pending() []string {
	out := make([]string, 0, len(c.Added)+len(c.Modified))
	out = append(out, c.Added...)
	out = append(out, c.Modified...)
	slices.Sort(out)
	return out
}

// Empty reports whether nothing needs to be done
func (c Changes) Empty() bool {
	return len(c.Added) == 0 && len(c.Modified) == 0 && len(c.Removed) == 0
}

type detectConfig struct {
	rebuild bool
}

// DetectOption adjusts classification
type DetectOption func(*detectConfig)

// Rebuild classifies every path present in both scans as modified,
// regardless of metadata. Used for forced rebuilds and model changes.
func Rebuild(enabled bool) DetectOption {
	return func(c *detectConfig) { c.rebuild = enabled }
}

// Detect compares the current metadata scan with the previous snapshot.
// A path is unchanged only when both size and mtime are equal; any single
// differing field marks it modified. A nil previous snapshot classifies
// everything as added.
func Detect(current map[string]scanner.FileMetadata, previous *Snapshot, opts ...DetectOption) Changes {
	var cfg detectConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	var ch Changes
	for path, meta := range current {
		prev, ok := previous.Lookup(path)
		switch {
		case !ok:
			ch.Added = append(ch.Added, path)
		case cfg.rebuild || prev.FileMetadata != meta:
			ch.Modified = append(ch.Modified, path)
		default:
			ch.Unchanged = append(ch.Unchanged, path)
		}
	}
	if previous != nil {
		for path := range previous.Files {
			if _, ok := current[path]; !ok {
				ch.Removed = append(ch.Removed, path)
			}
		}
	}

	slices.Sort(ch.Unchanged)
	slices.Sort(ch.Modified)
	slices.Sort(ch.Added)
	slices.Sort(ch.Removed)
	return ch
}
