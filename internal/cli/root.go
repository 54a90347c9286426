// Package cli wires configuration, stores and transports into the parkus commands.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/m3xD/parkus/internal/config"
)

// RootOptions holds state shared by every subcommand.
type RootOptions struct {
	// Config is loaded once before any subcommand runs.
	Config *config.Config
}

// NewRootCommand creates the parkus command tree.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "parkus",
		Short: "Parking slot occupancy and booking service",
		Long: `parkus tracks parking slot occupancy from user bookings and ML sensor detections,
serves the booking API, and publishes every slot change as a live feed.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to load configuration", err)
			}
			opts.Config = cfg
			return nil
		},
	}

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))

	return cmd
}
