package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmcleod/panelgate/config"
	"github.com/jmcleod/panelgate/storage"
	bboltstorage "github.com/jmcleod/panelgate/storage/bbolt"
	levelstorage "github.com/jmcleod/panelgate/storage/leveldb"
	"github.com/jmcleod/panelgate/storage/memory"
	pgstorage "github.com/jmcleod/panelgate/storage/postgres"
	sqlitestorage "github.com/jmcleod/panelgate/storage/sqlite"
)

// openRepository opens the durable backend selected by cfg, creating its
// parent directory when needed. ctx bounds connection setup only.
func openRepository(ctx context.Context, cfg config.StorageConfig) (storage.Repository, error) {
	switch cfg.Backend {
	case "memory":
		return memory.NewRepository(), nil
	case "postgres":
		repo, err := pgstorage.NewRepositoryFromDSN(ctx, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres storage: %w", err)
		}
		return repo, nil
	}

	dir := filepath.Dir(cfg.Path)
	if cfg.Backend == "leveldb" {
		dir = cfg.Path
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	var (
		repo storage.Repository
		err  error
	)
	switch cfg.Backend {
	case "bbolt":
		repo, err = bboltstorage.NewRepositoryFromFile(cfg.Path, nil)
	case "sqlite":
		repo, err = sqlitestorage.Open(sqlitestorage.Config{Path: cfg.Path})
	case "leveldb":
		repo, err = levelstorage.Open(cfg.Path)
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s storage: %w", cfg.Backend, err)
	}
	return repo, nil
}
