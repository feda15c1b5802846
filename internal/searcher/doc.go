// Package searcher is the query-time path of the index.
//
// A query is embedded in query mode (short maximum length, cached by the
// embedding pipeline) and handed to the store, either for hybrid retrieval
// or for MaxSim scoring alone:
//
//	s := searcher.New(store, pipeline, searcher.WithLogger(log))
//	resp, err := s.Search(ctx, searcher.Request{
//	    Query: "open the database",
//	    Limit: 10,
//	    Mode:  searcher.ModeHybrid,
//	    Options: &storage.SearchOptions{
//	        Extensions: []string{"go"},
//	        MinScore:   0.3,
//	    },
//	})
//
// Limit defaults to 10 and is capped at 100. An empty Mode means hybrid.
package searcher
