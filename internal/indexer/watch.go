package indexer

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dshills/omengrep/internal/scanner"
)

// DefaultDebounce is how long the tree must stay quiet before a rebuild
const DefaultDebounce = 500 * time.Millisecond

// WatchOptions configures Watch
type WatchOptions struct {
	Debounce time.Duration
	// SkipDirs are absolute directories never watched, typically the index
	// directory itself so its writes do not retrigger builds
	SkipDirs []string
	// OnBuild receives the outcome of every build, including the initial one
	OnBuild func(*Summary, error)
}

// Watch builds root once and then rebuilds after every burst of file system
// activity until ctx is cancelled. Hidden directories are not watched.
// Builds that fail are reported through OnBuild and do not stop watching.
func (idx *Indexer) Watch(ctx context.Context, root string, opts WatchOptions) error {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	report := opts.OnBuild
	if report == nil {
		report = func(*Summary, error) {}
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	skip := func(dir string) bool {
		if dir != root && strings.HasPrefix(filepath.Base(dir), ".") {
			return true
		}
		for _, s := range opts.SkipDirs {
			if dir == s {
				return true
			}
		}
		return false
	}
	if err := addTree(w, root, skip); err != nil {
		return err
	}

	report(idx.Build(ctx, root))

	timer := time.NewTimer(opts.Debounce)
	timer.Stop()
	pending := false

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if inSkipped(event.Name, root, skip) || !relevant(event.Name) {
				continue
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() && !skip(event.Name) {
					_ = addTree(w, event.Name, skip)
				}
			}
			if event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write) {
				continue
			}
			pending = true
			timer.Reset(opts.Debounce)

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			idx.deps.Logger.WarnContext(ctx, "watch error", "error", err)

		case <-timer.C:
			if !pending {
				continue
			}
			pending = false
			sum, err := idx.Build(ctx, root)
			if errors.Is(err, ErrBuildInProgress) {
				// Someone else is building; try again after another quiet period
				pending = true
				timer.Reset(opts.Debounce)
				continue
			}
			report(sum, err)
		}
	}
}

// addTree watches dir and every directory below it that skip allows
func addTree(w *fsnotify.Watcher, dir string, skip func(string) bool) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if skip(path) {
			return filepath.SkipDir
		}
		if err := w.Add(path); err != nil && path == dir {
			return err
		}
		return nil
	})
}

// relevant reports whether an event on name can change the index: the
// name is indexable, or it is an ignore file that changes what is
func relevant(name string) bool {
	switch filepath.Base(name) {
	case ".gitignore", ".ignore":
		return true
	}
	return scanner.Eligible(filepath.ToSlash(name))
}

// inSkipped reports whether name lies inside a skipped directory. The
// name itself is not checked, so edits to .gitignore still count.
func inSkipped(name, root string, skip func(string) bool) bool {
	for dir := filepath.Dir(name); dir != root && dir != "." && dir != string(filepath.Separator); dir = filepath.Dir(dir) {
		if skip(dir) {
			return true
		}
		if filepath.Dir(dir) == dir {
			break
		}
	}
	return false
}
