//go:build sqlite_cgo

package storage

// Built with the sqlite_cgo tag the store uses the cgo driver. FTS5 must be
// enabled explicitly for it:
//
//	CGO_ENABLED=1 go build -tags "sqlite_cgo sqlite_fts5" ./...

import (
	_ "github.com/mattn/go-sqlite3"
)

const (
	// DriverName is the SQLite driver to use
	DriverName = "sqlite3"

	// BuildMode describes the current build configuration
	BuildMode = "cgo"
)
