// Package storage provides the SQLite-backed hybrid retrieval store.
//
// Each block is one row holding its text, metadata and token matrix. The
// matrix is stored as a zstd-compressed blob of little-endian float32 rows.
// An external-content FTS5 table indexes the text, name and file columns
// for lexical retrieval.
//
// # Write model
//
// Upsert, Retract and Reset only buffer work. Flush applies the buffer in
// one transaction, in call order, so a failed or cancelled flush leaves the
// database exactly as it was. The indexer relies on this to commit its
// snapshot only after the store is consistent.
//
//	store, err := storage.Open(ctx, filepath.Join(indexDir, "index.db"))
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	_ = store.Upsert(ctx, record)
//	_ = store.Retract(ctx, "internal/old.go:10-24")
//	if err := store.Flush(ctx); err != nil {
//	    return err
//	}
//
// # Retrieval
//
// SearchVector scores blocks with MaxSim: each query token row takes its
// best dot product over the block's rows and the total is averaged over
// the query rows. SearchHybrid merges the bm25 ranking of the full-text
// index with the MaxSim ranking through reciprocal-rank fusion (k = 60).
// SearchOptions filters by extension, path prefix, exclude glob, block kind
// and minimum similarity.
//
// # Build Modes
//
// The default build uses modernc.org/sqlite. Building with the sqlite_cgo
// tag switches to github.com/mattn/go-sqlite3, which also needs the
// sqlite_fts5 tag.
//
// # Schema Migrations
//
// Migrations are versioned with semantic versions and recorded in the
// schema_version table. Open applies any that are missing and refuses a
// database written by a newer schema.
package storage
