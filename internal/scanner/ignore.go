package scanner

import (
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	ignore "github.com/sabhiram/go-gitignore"
)

// Per-directory ignore files, in precedence order
var ignoreFileNames = []string{".gitignore", ".ignore"}

// matcher is one compiled ignore file and the directory it is relative to
type matcher struct {
	base string // slash-separated, "" for root
	gi   *ignore.GitIgnore
}

func (m matcher) matches(rel string, isDir bool) bool {
	sub := rel
	if m.base != "" {
		if !strings.HasPrefix(rel, m.base+"/") {
			return false
		}
		sub = strings.TrimPrefix(rel, m.base+"/")
	}
	if m.gi.MatchesPath(sub) {
		return true
	}
	return isDir && m.gi.MatchesPath(sub+"/")
}

// ignoreRules resolves gitignore-style rules for a tree: the global excludes
// file, .git/info/exclude and every .gitignore / .ignore found on the way
// down. Directory matchers are loaded lazily and cached.
type ignoreRules struct {
	root   string
	global []matcher

	mu   sync.Mutex
	dirs map[string][]matcher
}

func newIgnoreRules(root, globalIgnore string) *ignoreRules {
	r := &ignoreRules{
		root: root,
		dirs: make(map[string][]matcher),
	}
	if globalIgnore != "" {
		if gi := compile(globalIgnore); gi != nil {
			r.global = append(r.global, matcher{gi: gi})
		}
	}
	if gi := compile(filepath.Join(root, ".git", "info", "exclude")); gi != nil {
		r.global = append(r.global, matcher{gi: gi})
	}
	return r
}

func compile(file string) *ignore.GitIgnore {
	info, err := os.Stat(file)
	if err != nil || !info.Mode().IsRegular() {
		return nil
	}
	gi, err := ignore.CompileIgnoreFile(file)
	if err != nil {
		return nil
	}
	return gi
}

// forDir returns the matchers declared in dir itself
func (r *ignoreRules) forDir(dir string) []matcher {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ms, ok := r.dirs[dir]; ok {
		return ms
	}
	var ms []matcher
	for _, name := range ignoreFileNames {
		if gi := compile(filepath.Join(r.root, filepath.FromSlash(dir), name)); gi != nil {
			ms = append(ms, matcher{base: dir, gi: gi})
		}
	}
	r.dirs[dir] = ms
	return ms
}

// ignored reports whether rel is excluded by any applicable rule
func (r *ignoreRules) ignored(rel string, isDir bool) bool {
	for _, m := range r.global {
		if m.matches(rel, isDir) {
			return true
		}
	}

	// Walk the ancestors from the root down to the entry's parent
	dir := ""
	parent := path.Dir(rel)
	for {
		for _, m := range r.forDir(dir) {
			if m.matches(rel, isDir) {
				return true
			}
		}
		if parent == "." || dir == parent {
			return false
		}
		next := parent
		if dir != "" {
			rest := strings.TrimPrefix(parent, dir+"/")
			if i := strings.IndexByte(rest, '/'); i >= 0 {
				next = dir + "/" + rest[:i]
			}
		} else if i := strings.IndexByte(parent, '/'); i >= 0 {
			next = parent[:i]
		}
		dir = next
	}
}
