package commands

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Amund211/wpaccount/internal/adapters/database"
	"github.com/Amund211/wpaccount/internal/config"
)

func migrateCmd() *cobra.Command {
	var schema string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations for the configured environment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if os.Getenv("WPACCOUNT_ENVIRONMENT") == "development" {
				if err := config.LoadDotEnv(); err != nil {
					return err
				}
			}

			conf, err := config.ConfigFromEnv()
			if err != nil {
				return err
			}

			if schema == "" {
				schema = database.GetSchemaName(!conf.IsProduction())
			}

			db, err := database.NewCloudsqlPostgresDatabase(conf)
			if err != nil {
				return err
			}
			defer db.Close()

			logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), nil)).With("component", "migrator")
			return database.NewDatabaseMigrator(db, logger).Migrate(cmd.Context(), schema)
		},
	}

	cmd.Flags().StringVar(&schema, "schema", "", "schema to migrate (default from WPACCOUNT_ENVIRONMENT)")
	return cmd
}
