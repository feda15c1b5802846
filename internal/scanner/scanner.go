package scanner

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/dshills/omengrep/internal/logging"
)

const (
	// MaxFileSize is the largest file that is indexed, in bytes
	MaxFileSize = 1_000_000

	// binarySniffLen is how many leading bytes are checked for NUL
	binarySniffLen = 8192
)

// Per-file rejection reasons. They surface wrapped in a *ScanError.
var (
	ErrIneligible = errors.New("file is not eligible for indexing")
	ErrTooLarge   = errors.New("file exceeds size limit")
	ErrBinary     = errors.New("file looks binary")
	ErrNotUTF8    = errors.New("file is not valid UTF-8")
)

// ScanError is a non-fatal error for a single file
type ScanError struct {
	Path string
	Err  error
}

func (e *ScanError) Error() string {
	return fmt.Sprintf("scan %s: %v", e.Path, e.Err)
}

func (e *ScanError) Unwrap() error { return e.Err }

// RootScanError is returned when the root itself cannot be walked
type RootScanError struct {
	Root string
	Err  error
}

func (e *RootScanError) Error() string {
	return fmt.Sprintf("scan root %s: %v", e.Root, e.Err)
}

func (e *RootScanError) Unwrap() error { return e.Err }

// FileMetadata is the change-detection fingerprint of a file
type FileMetadata struct {
	Size  uint64 `json:"size"`
	MTime uint64 `json:"mtime"` // seconds since the Unix epoch
}

// ScannedFile is a fully read text file. MTime was taken before the read, so
// it is never newer than Content.
type ScannedFile struct {
	Path    string
	Content string
	MTime   uint64
	Size    uint64
}

// Scanner walks a directory tree applying ignore rules and eligibility filters
type Scanner struct {
	exclude      []string
	maxSize      int64
	globalIgnore string
	log          *logging.Logger
}

// Option configures a Scanner
type Option func(*Scanner)

// WithExclude adds glob patterns matched against base names and relative paths
func WithExclude(patterns ...string) Option {
	return func(s *Scanner) {
		s.exclude = append(s.exclude, patterns...)
	}
}

// WithMaxSize overrides the size ceiling. Non-positive values are ignored.
func WithMaxSize(n int64) Option {
	return func(s *Scanner) {
		if n > 0 {
			s.maxSize = n
		}
	}
}

// WithGlobalIgnore sets the user-wide git excludes file. An empty path
// disables it.
func WithGlobalIgnore(path string) Option {
	return func(s *Scanner) { s.globalIgnore = path }
}

// WithLogger sets the logger used for skipped-file diagnostics
func WithLogger(l *logging.Logger) Option {
	return func(s *Scanner) {
		if l != nil {
			s.log = l
		}
	}
}

// New creates a Scanner with the default filters
func New(opts ...Option) *Scanner {
	s := &Scanner{
		maxSize:      MaxFileSize,
		globalIgnore: DefaultGlobalIgnore(),
		log:          logging.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DefaultGlobalIgnore mirrors git's default core.excludesFile location
func DefaultGlobalIgnore() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "git", "ignore")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", "git", "ignore")
	}
	return ""
}

// ScanMetadata returns size and mtime for every eligible file under root,
// keyed by slash-separated path relative to root. File contents are never read.
func (s *Scanner) ScanMetadata(root string) (map[string]FileMetadata, error) {
	results := make(map[string]FileMetadata)
	err := s.walk(root, func(rel string, info fs.FileInfo) {
		results[rel] = metadataOf(info)
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// ReadFile reads one file in full mode. The returned error is always a
// *ScanError wrapping the reason.
func (s *Scanner) ReadFile(root, rel string) (ScannedFile, error) {
	full := filepath.Join(root, filepath.FromSlash(rel))
	fail := func(err error) (ScannedFile, error) {
		return ScannedFile{}, &ScanError{Path: rel, Err: err}
	}

	if skipName(path.Base(rel)) || s.excluded(rel) {
		return fail(ErrIneligible)
	}

	// Stat before read so mtime is never newer than the content we index
	info, err := os.Lstat(full)
	if err != nil {
		return fail(err)
	}
	if !info.Mode().IsRegular() {
		return fail(ErrIneligible)
	}
	if info.Size() > s.maxSize {
		return fail(ErrTooLarge)
	}
	meta := metadataOf(info)

	raw, err := os.ReadFile(full)
	if err != nil {
		return fail(err)
	}
	if int64(len(raw)) > s.maxSize {
		return fail(ErrTooLarge)
	}
	if isBinary(raw) {
		return fail(ErrBinary)
	}
	if !utf8.Valid(raw) {
		return fail(ErrNotUTF8)
	}

	return ScannedFile{
		Path:    rel,
		Content: string(raw),
		MTime:   meta.MTime,
		Size:    uint64(len(raw)),
	}, nil
}

// walk visits every eligible regular file under root
func (s *Scanner) walk(root string, visit func(rel string, info fs.FileInfo)) error {
	rootInfo, err := os.Stat(root)
	if err != nil {
		return &RootScanError{Root: root, Err: err}
	}
	if !rootInfo.IsDir() {
		return &RootScanError{Root: root, Err: errors.New("not a directory")}
	}

	rules := newIgnoreRules(root, s.globalIgnore)

	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if p == root {
			if walkErr != nil {
				return &RootScanError{Root: root, Err: walkErr}
			}
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if walkErr != nil {
			s.log.Debug("skipping unreadable entry", "path", rel, "error", walkErr)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		// Never follow or index symlinks
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}

		name := d.Name()
		if d.IsDir() {
			if strings.HasPrefix(name, ".") || s.excluded(rel) || rules.ignored(rel, true) {
				return filepath.SkipDir
			}
			return nil
		}

		if !d.Type().IsRegular() {
			return nil
		}
		if skipName(name) || s.excluded(rel) || rules.ignored(rel, false) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.Size() > s.maxSize {
			return nil
		}

		visit(rel, info)
		return nil
	})

	var rootErr *RootScanError
	if errors.As(err, &rootErr) {
		return rootErr
	}
	if err != nil {
		return &RootScanError{Root: root, Err: err}
	}
	return nil
}

// excluded reports whether rel matches a user exclude pattern, either by
// base name or by full relative path
func (s *Scanner) excluded(rel string) bool {
	if len(s.exclude) == 0 {
		return false
	}
	base := path.Base(rel)
	for _, pattern := range s.exclude {
		pattern = strings.TrimSuffix(pattern, "/")
		if ok, _ := path.Match(pattern, base); ok {
			return true
		}
		if ok, _ := path.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

func metadataOf(info fs.FileInfo) FileMetadata {
	mtime := info.ModTime().Unix()
	if mtime < 0 {
		mtime = 0
	}
	return FileMetadata{
		Size:  uint64(info.Size()),
		MTime: uint64(mtime),
	}
}

func isBinary(raw []byte) bool {
	n := len(raw)
	if n > binarySniffLen {
		n = binarySniffLen
	}
	return bytes.IndexByte(raw[:n], 0) >= 0
}
