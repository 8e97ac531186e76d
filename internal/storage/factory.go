package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/johnayoung/go-health-series/internal/config"
	apperrors "github.com/johnayoung/go-health-series/internal/errors"
)

// New builds the backend named by cfg.Type and initializes it. Connecting
// and migrating run under the classifier's "storage" retry policy so a
// database that is still starting up does not fail the process. classifier
// may be nil, in which case initialization is attempted once.
func New(ctx context.Context, cfg config.StorageConfig, classifier *apperrors.ErrorClassifier, logger *slog.Logger) (FullStorage, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var (
		store FullStorage
		err   error
	)
	switch strings.ToLower(cfg.Type) {
	case "memory":
		store = NewMemoryStorage()
	case "duckdb":
		if err := ensureDir(cfg.DatabaseURL); err != nil {
			return nil, err
		}
		store, err = NewSQLStorage(DuckDBDialect, cfg.DatabaseURL, cfg.BatchSize, logger)
	case "postgres", "postgresql":
		dialect := PostgresDialect
		if cfg.MaxConns > 0 {
			dialect.MaxOpenConns = cfg.MaxConns
		}
		store, err = NewSQLStorage(dialect, cfg.DatabaseURL, cfg.BatchSize, logger)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
	if err != nil {
		return nil, err
	}

	initialize := func() error { return store.Initialize(ctx) }
	if classifier != nil {
		err = classifier.Retry(ctx, "storage", "initialize", initialize)
	} else {
		err = initialize()
	}
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to initialize %s storage: %w", cfg.Type, err)
	}

	logger.Info("storage ready", "type", cfg.Type)
	return store, nil
}

// ensureDir creates the parent directory of a DuckDB file path.
func ensureDir(path string) error {
	if path == "" || path == ":memory:" {
		return nil
	}
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create database directory %s: %w", dir, err)
	}
	return nil
}
