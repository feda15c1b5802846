package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/omengrep/internal/indexer"
	"github.com/dshills/omengrep/internal/metrics"
	"github.com/dshills/omengrep/internal/workspace"
)

func (a *app) watchCommand() *cobra.Command {
	var (
		debounce    time.Duration
		metricsAddr string
		exclude     []string
	)
	cmd := &cobra.Command{
		Use:   "watch [path]",
		Short: "Keep a directory's index up to date as files change",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := resolveRoot(args, 0)
			if err != nil {
				return err
			}
			cfg, err := a.loadConfig(root)
			if err != nil {
				return err
			}
			cfg.Exclude = append(cfg.Exclude, splitList(exclude)...)
			if metricsAddr == "" {
				metricsAddr = cfg.MetricsAddr
			}

			var m *metrics.Metrics
			if metricsAddr != "" {
				m = metrics.New()
			}
			ws, err := workspace.Open(cmd.Context(), root, cfg,
				workspace.WithLogger(a.log), workspace.WithMetrics(m))
			if err != nil {
				return err
			}
			defer ws.Close()

			g, ctx := errgroup.WithContext(cmd.Context())
			ctx, cancel := context.WithCancel(ctx)
			defer cancel()
			if m != nil {
				g.Go(func() error { return m.Serve(ctx, metricsAddr, a.log) })
			}
			g.Go(func() error {
				defer cancel()
				fmt.Fprintf(a.stderr, "Watching %s (Ctrl-C to stop)\n", root)
				return ws.Watch(ctx, debounce, func(s *indexer.Summary, err error) {
					if err != nil {
						a.log.Error("build failed", "error", err)
						return
					}
					if s.Added+s.Modified+s.Removed == 0 && !s.Rebuilt {
						return
					}
					writeSummaryText(a.stdout, s)
				})
			})
			return g.Wait()
		},
	}
	cmd.Flags().DurationVar(&debounce, "debounce", indexer.DefaultDebounce, "quiet period before rebuilding")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "expose Prometheus metrics on this address")
	cmd.Flags().StringSliceVar(&exclude, "exclude", nil, "glob patterns to skip (repeatable)")
	return cmd
}
