// Package snapshot records which files an index was built from and detects
// what changed since.
//
// A Snapshot maps every indexed path to the size and mtime it was indexed
// under, plus the block ids it owns in the store so they can be retracted
// when the file changes or disappears. The orchestrator loads it at the
// start of a build and replaces it in one step at the end; a build that
// never reaches that step leaves the previous snapshot untouched.
package snapshot
