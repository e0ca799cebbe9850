package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/findwatch/findwatch/internal/config"
	"github.com/findwatch/findwatch/internal/store"
	"github.com/findwatch/findwatch/internal/store/postgres"
	"github.com/findwatch/findwatch/internal/store/sqlite"
)

// openStore opens the configured storage backend.
func openStore(cfg *config.Config) (store.Store, error) {
	switch cfg.Storage.Driver {
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.SQLitePath), 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
		return sqlite.Open(cfg.Storage.SQLitePath, cfg.Storage.MaxOpenConns, cfg.Storage.MaxIdleConns)
	case "postgres":
		if cfg.Storage.PostgresURL == "" {
			return nil, fmt.Errorf("DATABASE_URL environment variable is required for the postgres driver")
		}
		return postgres.Open(cfg.Storage.PostgresURL, cfg.Storage.MaxOpenConns, cfg.Storage.MaxIdleConns)
	default:
		return nil, fmt.Errorf("unknown storage driver %q (want sqlite or postgres)", cfg.Storage.Driver)
	}
}
