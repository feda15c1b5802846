package main

import (
	"github.com/spf13/cobra"

	"github.com/dshills/omengrep/internal/workspace"
)

func (a *app) buildCommand() *cobra.Command {
	var (
		force   bool
		asJSON  bool
		exclude []string
	)
	cmd := &cobra.Command{
		Use:   "build [path]",
		Short: "Create or update the index of a directory",
		Long: `Scan the directory, re-embed files whose size or modification time
changed and retract blocks of removed files. --force re-embeds everything.`,
		Args: cobra.MaximumNArgs(1),
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

			ws, err := workspace.Open(cmd.Context(), root, cfg, workspace.WithLogger(a.log))
			if err != nil {
				return err
			}
			defer ws.Close()

			summary, err := ws.Build(cmd.Context(), force)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(a.stdout, summary)
			}
			writeSummaryText(a.stdout, summary)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "re-embed every file")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the build summary as JSON")
	cmd.Flags().StringSliceVar(&exclude, "exclude", nil, "glob patterns to skip (repeatable)")
	return cmd
}
