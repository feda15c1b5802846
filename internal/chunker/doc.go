// Package chunker splits file content into the blocks that get embedded and
// stored.
//
// # Segmentation
//
// Go files are cut along top-level declarations found by internal/parser:
// one block per function, method and type, and one per const or var group.
// Markdown files are cut at headings. Every other file, and any Go file the
// parser recovers nothing from, is covered by overlapping line windows; a
// file that fits in a single window becomes one "file" block.
//
// Blocks taller than the configured maximum are split into overlapping
// parts that keep the kind and name of the original declaration.
//
// # Block ids
//
// A block id is "<path>:<start>-<end>" using 1-based inclusive lines. Two
// blocks on the same lines get a "#n" suffix. Extraction is deterministic,
// so an unchanged file produces the same ids on every build.
//
//	c := chunker.New()
//	blocks, err := c.Extract("internal/config/config.go", content)
package chunker
