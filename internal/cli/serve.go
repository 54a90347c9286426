package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/m3xD/parkus/internal/api"
	"github.com/m3xD/parkus/internal/app"
	"github.com/m3xD/parkus/internal/config"
	"github.com/m3xD/parkus/internal/feed"
	"github.com/m3xD/parkus/internal/ingest"
	"github.com/m3xD/parkus/internal/service"
)

const expiryRunTimeout = 30 * time.Second

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Port  string
	Store string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the booking API and the live change feed",
		Long: `Run the HTTP API, the WebSocket change feed at /ws and, when configured,
the ML detection queue consumer and the booking expiry job.

Example:
  parkus serve
  parkus serve --port 9000 --store memory`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Port != "" {
				opts.Config.HTTP.Port = opts.Port
			}
			if opts.Store != "" {
				opts.Config.Store.Driver = config.StoreDriver(opts.Store)
			}
			return runServe(cmd.Context(), opts.Config)
		},
	}

	cmd.Flags().StringVar(&opts.Port, "port", "", "HTTP port (overrides SERVER_PORT)")
	cmd.Flags().StringVar(&opts.Store, "store", "", "store driver, postgres or memory (overrides STORE_DRIVER)")

	return cmd
}

func runServe(ctx context.Context, cfg *config.Config) error {
	logger := app.NewLogger(cfg.App.Env, "stdout")
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to open store", err)
	}
	defer st.close()

	hub := feed.NewHub(cfg.Feed.SubscriberBuffer, logger)
	parkingService := service.NewParkingService(st.slots, logger,
		service.WithOverridePolicy(cfg.ML.OverridePolicy))

	srv := &http.Server{
		Addr:              ":" + cfg.HTTP.Port,
		Handler:           api.SetupRouter(parkingService, hub, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return hub.Run(gctx, st.changes)
	})

	g.Go(func() error {
		logger.Info("server listening", zap.String("port", cfg.HTTP.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if cfg.ML.SQSQueueURL == "" {
		logger.Warn("ML_SQS_QUEUE_URL is not set; the detection queue consumer will not run")
	} else {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.ML.AWSRegion))
		if err != nil {
			return WrapExitError(ExitFailure, "failed to load AWS config", err)
		}
		detections := service.NewDetectionService(parkingService, st.logs, logger)
		consumer := ingest.NewSQSConsumer(sqs.NewFromConfig(awsCfg), cfg.ML.SQSQueueURL, detections, logger)
		g.Go(func() error {
			consumer.Start(gctx)
			return nil
		})
	}

	if cfg.Expiry.Enabled {
		g.Go(func() error {
			runExpiryJob(gctx, parkingService, cfg.Expiry.Grace, cfg.Expiry.Interval, logger)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("server stopped", zap.Error(err))
		return WrapExitError(ExitFailure, "server stopped", err)
	}
	logger.Info("server stopped")
	return nil
}

// runExpiryJob releases overdue bookings every interval until ctx is done.
func runExpiryJob(ctx context.Context, ps *service.ParkingService, grace, interval time.Duration, logger *zap.Logger) {
	logger = logger.Named("expiry")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		runCtx, cancel := context.WithTimeout(ctx, expiryRunTimeout)
		count, err := ps.ExpireOverdueBookings(runCtx, grace)
		cancel()
		if err != nil {
			logger.Error("failed to expire overdue bookings", zap.Error(err))
		} else if count > 0 {
			logger.Info("expired overdue bookings", zap.Int("count", count))
		}
	}
}
