package cli

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/m3xD/parkus/internal/config"
	"github.com/m3xD/parkus/internal/repository"
	"github.com/m3xD/parkus/internal/repository/memory"
	"github.com/m3xD/parkus/internal/repository/postgresql"
)

// store bundles the repositories and change source of one storage driver.
type store struct {
	slots   repository.ParkingSlotRepository
	logs    repository.DetectionLogRepository
	changes repository.ChangeStream
	close   func()
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*store, error) {
	switch cfg.Store.Driver {
	case config.DriverMemory:
		slots := memory.NewParkingSlotRepository()
		logger.Warn("using the in-memory store; slots are lost on restart")
		return &store{
			slots:   slots,
			logs:    memory.NewDetectionLogRepository(),
			changes: slots,
			close:   func() {},
		}, nil

	case config.DriverPostgres:
		pool, err := postgresql.NewPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		logger.Info("connected to database",
			zap.String("host", cfg.Store.DBHost), zap.String("database", cfg.Store.DBName))

		if cfg.Store.AutoMigrate {
			if err := postgresql.Migrate(ctx, pool); err != nil {
				pool.Close()
				return nil, err
			}
		}
		return &store{
			slots:   postgresql.NewPgParkingSlotRepository(pool),
			logs:    postgresql.NewPgDetectionLogRepository(pool),
			changes: postgresql.NewChangeListener(cfg.DSN(), cfg.Feed.MinReconnect, cfg.Feed.MaxReconnect, logger),
			close:   pool.Close,
		}, nil
	}
	return nil, fmt.Errorf("unsupported store driver %q", cfg.Store.Driver)
}
