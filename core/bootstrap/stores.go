package bootstrap

import (
	"context"
	"fmt"

	coreconfig "github.com/m3rciful/telemenu/core/config"
	"github.com/m3rciful/telemenu/core/logger"
	"github.com/m3rciful/telemenu/core/storage"
	"github.com/m3rciful/telemenu/core/storage/boltstore"
	"github.com/m3rciful/telemenu/core/storage/memory"
	"github.com/m3rciful/telemenu/core/storage/pgstore"
	"github.com/m3rciful/telemenu/core/storage/redisstore"
	"log/slog"
)

// OpenStore opens the session store selected by cfg.Storage.Driver.
// The memory driver needs no external service and is the default.
func OpenStore(ctx context.Context, cfg *coreconfig.Config) (storage.Store, error) {
	driver := cfg.Storage.Driver

	var (
		store storage.Store
		err   error
	)
	switch driver {
	case coreconfig.StorageMemory:
		store = memory.New()
	case coreconfig.StorageBolt:
		store, err = boltstore.Open(cfg.Storage.Bolt.Path)
	case coreconfig.StoragePostgres:
		store, err = pgstore.Open(cfg.Storage.Postgres)
	case coreconfig.StorageRedis:
		store, err = redisstore.Open(cfg.Storage.Redis)
	default:
		return nil, fmt.Errorf("bootstrap: unknown storage driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("bootstrap: open %s store: %w", driver, err)
	}

	logger.BOOT.LogAttrs(ctx, slog.LevelInfo, "store.ready",
		slog.String("status", "ok"),
		slog.String("driver", driver),
	)
	return store, nil
}
