package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dshills/omengrep/internal/indexer"
	"github.com/dshills/omengrep/internal/searcher"
	"github.com/dshills/omengrep/internal/storage"
	"github.com/dshills/omengrep/internal/workspace"
	"github.com/dshills/omengrep/pkg/types"
)

type searchFlags struct {
	limit     int
	asJSON    bool
	semantic  bool
	types     []string
	kinds     []string
	exclude   []string
	prefix    string
	threshold float64
	noUpdate  bool
	quiet     bool
}

func (a *app) searchCommand() *cobra.Command {
	var f searchFlags
	cmd := &cobra.Command{
		Use:   "search <query> [path]",
		Short: "Search an indexed directory",
		Long: `Search the index of a directory with a natural language or keyword query.
The index is brought up to date first unless --no-update is given.

Exit status is 0 when something matched, 1 when nothing did and 2 on error.`,
		Example: `  omengrep search "parse config file"
  omengrep search -n 5 --json "retry with backoff" ./internal
  omengrep search -t go,rs --semantic "connection pool"`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runSearch(cmd, args, f)
		},
	}
	fl := cmd.Flags()
	fl.IntVarP(&f.limit, "limit", "n", searcher.DefaultLimit, "maximum number of results")
	fl.BoolVar(&f.asJSON, "json", false, "print results as JSON")
	fl.BoolVar(&f.semantic, "semantic", false, "rank by embedding similarity only")
	fl.StringSliceVarP(&f.types, "type", "t", nil, "only files with these extensions (e.g. go,py)")
	fl.StringSliceVar(&f.kinds, "kind", nil, "only blocks of these kinds (function, method, type, ...)")
	fl.StringSliceVar(&f.exclude, "exclude", nil, "drop files matching these globs")
	fl.StringVar(&f.prefix, "path-prefix", "", "only files under this relative directory")
	fl.Float64Var(&f.threshold, "threshold", 0, "minimum semantic similarity (0 disables)")
	fl.BoolVar(&f.noUpdate, "no-update", false, "search the existing index without updating it")
	fl.BoolVarP(&f.quiet, "quiet", "q", false, "suppress progress messages")
	return cmd
}

func (a *app) runSearch(cmd *cobra.Command, args []string, f searchFlags) error {
	ctx := cmd.Context()
	root, err := resolveRoot(args, 1)
	if err != nil {
		return err
	}
	if a.logLevel == "" {
		// Keep the terminal clean unless asked otherwise
		a.logLevel = "warn"
	}
	cfg, err := a.loadConfig(root)
	if err != nil {
		return err
	}

	if f.noUpdate {
		st, err := workspace.Inspect(ctx, root, cfg)
		if err != nil {
			return err
		}
		switch err := st.Searchable(); {
		case errors.Is(err, workspace.ErrNotIndexed):
			return fmt.Errorf("%w: run 'omengrep build %s' first", err, root)
		case err != nil:
			return fmt.Errorf("%w: run 'omengrep build %s' to re-embed", err, root)
		}
	}

	ws, err := workspace.Open(ctx, root, cfg, workspace.WithLogger(a.log))
	if err != nil {
		return err
	}
	defer ws.Close()

	if !f.noUpdate {
		summary, err := ws.Build(ctx, false)
		switch {
		case errors.Is(err, indexer.ErrBuildInProgress):
			a.log.Warn("another build is running, searching the current index")
		case err != nil:
			return err
		case !f.quiet && !f.asJSON && (summary.Added+summary.Modified+summary.Removed) > 0:
			fmt.Fprintf(a.stderr, "Updated index: %d added, %d modified, %d removed\n",
				summary.Added, summary.Modified, summary.Removed)
		}
	}

	mode := searcher.ModeHybrid
	if f.semantic {
		mode = searcher.ModeSemantic
	}
	kinds := make([]types.BlockKind, 0, len(f.kinds))
	for _, k := range splitList(f.kinds) {
		kinds = append(kinds, types.BlockKind(k))
	}
	resp, err := ws.Search(ctx, searcher.Request{
		Query: args[0],
		Limit: f.limit,
		Mode:  mode,
		Options: &storage.SearchOptions{
			Extensions: splitList(f.types),
			Exclude:    splitList(f.exclude),
			PathPrefix: f.prefix,
			Kinds:      kinds,
			MinScore:   f.threshold,
		},
	})
	if err != nil {
		return err
	}

	if f.asJSON {
		if err := writeResultsJSON(a.stdout, resp.Results); err != nil {
			return err
		}
	} else {
		writeResultsText(a.stdout, resp.Results)
	}
	if len(resp.Results) == 0 {
		return errNoMatch
	}
	return nil
}
