// Package quietlog drops the cache directory notice that
// github.com/sugarme/tokenizer prints through the standard logger when it
// initialises. It imports nothing beyond io and log, so Go's import path
// ordering initialises it ahead of that package; Restore is called once
// the library is loaded. Every other line passes through unchanged.
package quietlog

import (
	"io"
	"log"
)

const notice = "INFO: CachedDir="

var saved io.Writer

func init() {
	saved = log.Writer()
	log.SetOutput(filter{saved})
}

// Restore reinstates the standard logger's original writer
func Restore() {
	log.SetOutput(saved)
}

type filter struct{ w io.Writer }

func (f filter) Write(p []byte) (int, error) {
	if contains(p, notice) {
		return len(p), nil
	}
	return f.w.Write(p)
}

func contains(p []byte, s string) bool {
	for i := 0; i+len(s) <= len(p); i++ {
		if string(p[i:i+len(s)]) == s {
			return true
		}
	}
	return false
}
