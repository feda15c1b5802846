package chunker

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/dshills/omengrep/internal/parser"
	"github.com/dshills/omengrep/pkg/types"
)

const (
	// DefaultWindowLines is the height of a line window for files without
	// a structural segmentation
	DefaultWindowLines = 60

	// DefaultOverlapLines is how many lines consecutive windows share
	DefaultOverlapLines = 10

	// DefaultMaxBlockLines caps a structural block; longer ones are split
	// into windows so the tail still lands inside the token budget
	DefaultMaxBlockLines = 200
)

// ErrEmptyPath is returned when Extract is called without a file path
var ErrEmptyPath = errors.New("block extraction requires a file path")

// Extractor turns the text of one file into blocks. Implementations must be
// deterministic: the same path and content always yield the same ids.
type Extractor interface {
	Extract(path, content string) ([]types.Block, error)
}

// Option configures a Chunker
type Option func(*Chunker)

// WithWindow sets the line window height and overlap used by the fallback
// segmentation. Invalid values are ignored.
func WithWindow(lines, overlap int) Option {
	return func(c *Chunker) {
		if lines > 0 && overlap >= 0 && overlap < lines {
			c.window, c.overlap = lines, overlap
		}
	}
}

// WithMaxBlockLines sets the height above which a block is split
func WithMaxBlockLines(n int) Option {
	return func(c *Chunker) {
		if n > 0 {
			c.maxLines = n
		}
	}
}

// Chunker is the default Extractor. Go files are split along top-level
// declarations, Markdown along headings, everything else into overlapping
// line windows.
type Chunker struct {
	parser   *parser.Parser
	window   int
	overlap  int
	maxLines int
}

var _ Extractor = (*Chunker)(nil)

// New creates a new Chunker instance
func New(opts ...Option) *Chunker {
	c := &Chunker{
		parser:   parser.New(),
		window:   DefaultWindowLines,
		overlap:  DefaultOverlapLines,
		maxLines: DefaultMaxBlockLines,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// span is a 1-based inclusive line range awaiting its text
type span struct {
	start, end int
	kind       types.BlockKind
	name       string
}

func (s span) height() int { return s.end - s.start + 1 }

// Extract splits content into blocks. path is the slash-separated path
// relative to the indexed root; it prefixes every block id.
func (c *Chunker) Extract(filePath, content string) ([]types.Block, error) {
	if filePath == "" {
		return nil, ErrEmptyPath
	}
	if strings.TrimSpace(content) == "" {
		return nil, nil
	}

	lines := splitLines(content)

	var spans []span
	switch strings.ToLower(path.Ext(filePath)) {
	case ".go":
		spans = c.goSpans(filePath, content, len(lines))
	case ".md", ".markdown":
		spans = markdownSpans(filePath, lines)
	}
	if len(spans) == 0 {
		spans = c.windowSpans(filePath, 1, len(lines), types.BlockFile)
	}

	ids := newIDAllocator(filePath)
	blocks := make([]types.Block, 0, len(spans))
	for _, s := range c.splitOversized(spans) {
		text := strings.Join(lines[s.start-1:s.end], "\n")
		if strings.TrimSpace(text) == "" {
			continue
		}
		blocks = append(blocks, types.Block{
			ID:   ids.next(s.start, s.end),
			Text: text,
			Metadata: types.BlockMetadata{
				File:      filePath,
				Kind:      s.kind,
				Name:      s.name,
				StartLine: s.start,
				EndLine:   s.end,
			},
		})
	}
	return blocks, nil
}

// goSpans uses the parser's top-level symbols. A file whose parse recovered
// no symbols yields nothing and falls back to line windows.
func (c *Chunker) goSpans(filePath, content string, lineCount int) []span {
	result, err := c.parser.ParseSource(filePath, []byte(content))
	if err != nil || len(result.Symbols) == 0 {
		return nil
	}

	spans := make([]span, 0, len(result.Symbols))
	for i := range result.Symbols {
		sym := &result.Symbols[i]
		if sym.Start.Line <= 0 || sym.Start.Line > lineCount {
			continue
		}
		name := sym.Name
		if sym.Receiver != "" {
			name = sym.Receiver + "." + sym.Name
		}
		spans = append(spans, span{
			start: sym.Start.Line,
			end:   min(max(sym.End.Line, sym.Start.Line), lineCount),
			kind:  sym.BlockKind(),
			name:  name,
		})
	}
	return spans
}

// markdownSpans cuts at ATX headings outside fenced code. Text before the
// first heading becomes a section named after the file.
func markdownSpans(filePath string, lines []string) []span {
	var (
		spans   []span
		inFence bool
		current = span{start: 1, kind: types.BlockSection, name: path.Base(filePath)}
	)
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			inFence = !inFence
			continue
		}
		if inFence || !isHeading(trimmed) {
			continue
		}
		if i > 0 {
			current.end = i
			spans = append(spans, current)
		}
		current = span{start: i + 1, kind: types.BlockSection, name: strings.TrimSpace(strings.TrimLeft(trimmed, "#"))}
	}
	if len(spans) == 0 && current.start == 1 && !isHeading(strings.TrimSpace(lines[0])) {
		return nil
	}
	current.end = len(lines)
	return append(spans, current)
}

func isHeading(line string) bool {
	level := len(line) - len(strings.TrimLeft(line, "#"))
	if level == 0 || level > 6 {
		return false
	}
	return len(line) == level || line[level] == ' '
}

// windowSpans covers [from, to] with overlapping windows. A range that fits
// in one window yields a single span of the given kind; otherwise every
// window is a section.
func (c *Chunker) windowSpans(filePath string, from, to int, kind types.BlockKind) []span {
	name := path.Base(filePath)
	if to-from+1 <= c.window {
		return []span{{start: from, end: to, kind: kind, name: name}}
	}

	step := c.window - c.overlap
	var spans []span
	for start := from; ; start += step {
		end := min(start+c.window-1, to)
		spans = append(spans, span{start: start, end: end, kind: types.BlockSection, name: name})
		if end == to {
			break
		}
	}
	return spans
}

// splitOversized breaks blocks taller than maxLines into windows that keep
// the original kind and name
func (c *Chunker) splitOversized(spans []span) []span {
	out := make([]span, 0, len(spans))
	step := max(c.maxLines-c.overlap, 1)
	for _, s := range spans {
		if s.height() <= c.maxLines {
			out = append(out, s)
			continue
		}
		for start := s.start; ; start += step {
			end := min(start+c.maxLines-1, s.end)
			out = append(out, span{start: start, end: end, kind: s.kind, name: s.name})
			if end == s.end {
				break
			}
		}
	}
	return out
}

// splitLines splits on newlines without producing a phantom last line for
// a trailing newline
func splitLines(content string) []string {
	lines := strings.Split(content, "\n")
	if len(lines) > 1 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// idAllocator hands out "path:start-end" ids, suffixing repeats with #n so
// two blocks on the same lines never share an id
type idAllocator struct {
	path string
	seen map[string]int
}

func newIDAllocator(filePath string) *idAllocator {
	return &idAllocator{path: filePath, seen: make(map[string]int)}
}

func (a *idAllocator) next(start, end int) string {
	id := fmt.Sprintf("%s:%d-%d", a.path, start, end)
	a.seen[id]++
	if n := a.seen[id]; n > 1 {
		return fmt.Sprintf("%s#%d", id, n)
	}
	return id
}
