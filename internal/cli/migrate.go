package cli

import (
	"github.com/spf13/cobra"

	"github.com/m3xD/parkus/internal/app"
	"github.com/m3xD/parkus/internal/repository/postgresql"
)

// MigrateOptions holds flags for the migrate command.
type MigrateOptions struct {
	*RootOptions
	Status bool
}

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MigrateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Long: `Apply every pending PostgreSQL migration, including the change feed trigger.

Example:
  parkus migrate
  parkus migrate --status`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.Status, "status", false, "print the applied state of each migration instead of migrating")

	return cmd
}

func runMigrate(cmd *cobra.Command, opts *MigrateOptions) error {
	cfg := opts.Config
	logger := app.NewLogger(cfg.App.Env, "stderr")
	defer logger.Sync()

	ctx := cmd.Context()
	pool, err := postgresql.NewPool(ctx, cfg)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to connect to database", err)
	}
	defer pool.Close()

	if opts.Status {
		if err := postgresql.MigrationStatus(ctx, pool); err != nil {
			return WrapExitError(ExitFailure, "failed to read migration status", err)
		}
		return nil
	}
	if err := postgresql.Migrate(ctx, pool); err != nil {
		return WrapExitError(ExitFailure, "failed to migrate", err)
	}
	logger.Info("database is up to date")
	return nil
}
