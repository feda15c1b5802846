// Package indexer keeps a retrieval store in step with a directory tree.
//
// A build scans file metadata, classifies every path against the previous
// snapshot and reprocesses only added and modified files:
//
//	scan -> classify -> extract -> embed -> submit -> flush -> commit
//
// File tasks run on a bounded errgroup pool. Each task reads the file in
// full, extracts blocks, embeds their texts in document mode and submits
// the records. Block ids the file owned before but no longer produces are
// retracted.
//
// # Consistency
//
// Store writes are buffered and applied by a single Flush. The snapshot is
// committed only after the flush succeeded, so a failed or cancelled build
// leaves both the store and the snapshot as they were. A file that fails
// keeps its previous snapshot entry, widened by the ids it submitted, which
// makes the next build retry it and retract anything it may own.
//
// A missing or unreadable snapshot, or one recorded under another model
// version, resets the store and rebuilds everything.
//
//	idx, err := indexer.New(indexer.Deps{
//	    Scanner:   scanner.New(),
//	    Extractor: chunker.New(),
//	    Embedder:  pipeline,
//	    Store:     store,
//	    Snapshots: snapshot.NewFileStore(cfg.SnapshotPath()),
//	    Logger:    log,
//	}, indexer.Config{Workers: cfg.Workers})
//	if err != nil {
//	    return err
//	}
//	summary, err := idx.Build(ctx, root)
//
// Watch wraps Build with fsnotify and rebuilds after every quiet period.
package indexer
