package commands

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"
)

func NewRootCommand() *cobra.Command {
	var verbose bool

	root := &cobra.Command{
		Use:          "wpaccount",
		Short:        "Look up WordPress.com account details",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelWarn
			if verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))
		},
	}

	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log requests to stderr")

	root.AddCommand(meCmd(), migrateCmd())
	return root
}

func Execute(ctx context.Context) error {
	return NewRootCommand().ExecuteContext(ctx)
}
