package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dshills/omengrep/internal/models"
)

func (a *app) modelCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "model",
		Short: "Manage embedding model artifacts",
	}
	cmd.AddCommand(a.modelListCommand(), a.modelInstallCommand())
	return cmd
}

func (a *app) modelListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List known models and whether they are installed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig("")
			if err != nil {
				return err
			}
			fetcher := models.NewFetcher(cfg.CacheDir)
			fmt.Fprintln(a.stdout, "Available models:")
			for _, m := range models.All() {
				state := "not installed"
				if fetcher.Installed(m) {
					state = "installed"
				}
				marker := " "
				if m.Name == cfg.Model {
					marker = "*"
				}
				fmt.Fprintf(a.stdout, "%s %-8s %-36s (%s)\n", marker, m.Name, m.Repo, state)
			}
			return nil
		},
	}
}

func (a *app) modelInstallCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "install [name]",
		Short: "Download a model's weights and tokenizer into the cache",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig("")
			if err != nil {
				return err
			}
			name := cfg.Model
			if len(args) == 1 {
				name = args[0]
			}
			mc, ok := models.Resolve(name)
			if !ok {
				return fmt.Errorf("unknown model %q", name)
			}

			fetcher := models.NewFetcher(cfg.CacheDir,
				models.WithEndpoint(cfg.HubEndpoint),
				models.WithToken(cfg.HubToken),
			)
			fmt.Fprintf(a.stdout, "Downloading %s...\n", mc.Repo)
			art, err := fetcher.Resolve(cmd.Context(), mc)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "  %s -> %s\n", mc.ModelFile, art.ModelPath)
			fmt.Fprintf(a.stdout, "  %s -> %s\n", mc.TokenizerFile, art.TokenizerPath)
			fmt.Fprintf(a.stdout, "Model installed: %s\n", mc.Repo)
			return nil
		},
	}
}
