package cache

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/johnayoung/go-health-series/internal/config"
	apperrors "github.com/johnayoung/go-health-series/internal/errors"
)

// NewStore creates the configured backend. Type "none" returns a nil
// store, which NewPatternCache treats as caching disabled. Redis
// reachability is verified through the classifier's retry policy.
func NewStore(ctx context.Context, cfg config.CacheConfig, classifier *apperrors.ErrorClassifier, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Type {
	case "", "none":
		logger.Info("Pattern cache disabled")
		return nil, nil
	case "memory":
		logger.Info("Using in-memory pattern cache")
		return NewMemoryStore(), nil
	case "redis":
		store := NewRedisStore(cfg)
		ping := func() error { return store.Ping(ctx) }

		var err error
		if classifier != nil {
			err = classifier.Retry(ctx, "cache", "connect", ping)
		} else {
			err = ping()
		}
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.RedisAddr, err)
		}

		logger.Info("Using redis pattern cache", "addr", cfg.RedisAddr, "db", cfg.RedisDB)
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}
