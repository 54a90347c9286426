package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/m3xD/parkus/internal/app"
	"github.com/m3xD/parkus/internal/watcher"
)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	URL     string
	Format  string
	NoColor bool
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print live parking slot changes",
		Long: `Subscribe to the change feed and print every slot change as it is committed.
The watcher reconnects after connectivity loss; changes made while it was
disconnected are not replayed.

Example:
  parkus watch
  parkus watch --url ws://parking.local:8000/ws --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.URL, "url", "", "feed URL (overrides WATCH_URL)")
	cmd.Flags().StringVar(&opts.Format, "format", "", "output format, text or json (overrides WATCH_FORMAT)")
	cmd.Flags().BoolVar(&opts.NoColor, "no-color", false, "disable colored output")

	return cmd
}

func runWatch(cmd *cobra.Command, opts *WatchOptions) error {
	cfg := opts.Config
	url := cfg.Watch.URL
	if opts.URL != "" {
		url = opts.URL
	}
	format := cfg.Watch.Format
	if opts.Format != "" {
		format = opts.Format
	}

	renderer, err := watcher.NewRenderer(format, cmd.OutOrStdout(), cfg.Location(), opts.NoColor)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid output format", err)
	}

	logger := app.NewLogger(cfg.App.Env, "stderr")
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	w := watcher.New(watcher.Options{
		URL:           url,
		RetryDelay:    cfg.Watch.RetryDelay,
		MaxRetryDelay: cfg.Watch.MaxRetryDelay,
	}, renderer, logger)

	if err := w.Run(ctx); err != nil {
		logger.Error("watcher stopped", zap.Error(err))
		return WrapExitError(ExitFailure, "watcher stopped", err)
	}
	return nil
}

