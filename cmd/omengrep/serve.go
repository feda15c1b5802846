package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/omengrep/internal/config"
	"github.com/dshills/omengrep/internal/mcp"
	"github.com/dshills/omengrep/internal/metrics"
	"github.com/dshills/omengrep/internal/workspace"
)

func (a *app) serveCommand() *cobra.Command {
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server over stdio",
		Long: `Serve the index_codebase, search_code and get_status tools over the
Model Context Protocol on stdin and stdout. Logs go to stderr.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Validates the flags once up front and sets up the logger
			base, err := a.loadConfig("")
			if err != nil {
				return err
			}
			if metricsAddr == "" {
				metricsAddr = base.MetricsAddr
			}
			return a.serve(cmd.Context(), metricsAddr)
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "expose Prometheus metrics on this address (e.g. :9090)")
	return cmd
}

func (a *app) serve(ctx context.Context, metricsAddr string) error {
	var m *metrics.Metrics
	if metricsAddr != "" {
		m = metrics.New()
	}

	load := func(root string) (*config.Config, error) {
		cfg, err := config.Load(root, a.projectConfig(root))
		if err != nil {
			return nil, err
		}
		a.applyFlags(cfg, root)
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid config: %w", err)
		}
		return cfg, nil
	}
	srv, err := mcp.NewServer(load, a.log, workspace.WithLogger(a.log), workspace.WithMetrics(m))
	if err != nil {
		return err
	}
	defer srv.Close()

	g, ctx := errgroup.WithContext(ctx)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if m != nil {
		g.Go(func() error { return m.Serve(ctx, metricsAddr, a.log) })
	}
	g.Go(func() error {
		defer cancel()
		return srv.Serve(ctx, a.stdin, a.stdout)
	})
	return g.Wait()
}

// projectConfig returns --config when it was given as an absolute path.
// A relative --config is resolved against each project root.
func (a *app) projectConfig(root string) string {
	if a.configPath == "" || filepath.IsAbs(a.configPath) {
		return a.configPath
	}
	return filepath.Join(root, a.configPath)
}
