package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/johnayoung/go-health-series/internal/cache"
	"github.com/johnayoung/go-health-series/internal/config"
	apperrors "github.com/johnayoung/go-health-series/internal/errors"
	"github.com/johnayoung/go-health-series/internal/events"
	"github.com/johnayoung/go-health-series/internal/gaps"
	"github.com/johnayoung/go-health-series/internal/generator"
	"github.com/johnayoung/go-health-series/internal/imputation"
	"github.com/johnayoung/go-health-series/internal/logger"
	"github.com/johnayoung/go-health-series/internal/metrics"
	"github.com/johnayoung/go-health-series/internal/query"
	"github.com/johnayoung/go-health-series/internal/storage"
)

// App holds the wired service graph shared by every command.
type App struct {
	config     *config.AppConfig
	logs       *logger.LoggerManager
	logger     *slog.Logger
	classifier *apperrors.ErrorClassifier
	metrics    *metrics.MetricsCollector
	storage    storage.FullStorage
	patterns   *cache.PatternCache
	notifier   *events.Notifier
	detector   *gaps.GapDetectorImpl
	integrator *query.Integrator
	query      *query.Service
	generator  *generator.Generator
}

// newApp loads configuration and builds the graph. Storage is connected
// and migrated before it returns.
func newApp(ctx context.Context, configPath string) (*App, error) {
	cfg, err := config.NewConfigManager(configPath, nil).LoadConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logs, err := logger.NewLoggerManager(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to setup logging: %w", err)
	}
	slog.SetDefault(logs.GetLogger())

	app := &App{
		config: cfg,
		logs:   logs,
		logger: logs.GetComponentLogger("cli"),
	}
	app.classifier = apperrors.NewErrorClassifier(cfg.ErrorHandling, logs.GetComponentLogger("errors"))
	app.metrics = metrics.NewMetricsCollector(cfg.Metrics, logs.GetLogger())

	app.storage, err = storage.New(ctx, cfg.Storage, app.classifier, logs.GetComponentLogger("storage"))
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	app.metrics.RegisterHealthChecker("storage", app.storage)

	cacheStore, err := cache.NewStore(ctx, cfg.Cache, app.classifier, logs.GetComponentLogger("cache"))
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize cache: %w", err)
	}
	if cacheStore != nil {
		app.metrics.RegisterHealthChecker("cache", pingChecker{cacheStore})
	}
	cacheOpts := []cache.Option{
		cache.WithTTL(config.ParseDurationOr(cfg.Cache.TTL, cache.DefaultTTL)),
		cache.WithKeyPrefix(cfg.Cache.KeyPrefix),
		cache.WithRecorder(app.metrics),
	}
	if cfg.ErrorHandling.EnableCircuitBreaker {
		cacheOpts = append(cacheOpts, cache.WithCircuitBreaker(app.classifier.CircuitBreaker("cache")))
	}
	app.patterns = cache.NewPatternCache(app.storage, cacheStore, cacheOpts...)

	app.notifier = events.NewNotifier(events.NewPublisher(cfg.Events, logs.GetComponentLogger("events")), app.metrics)
	app.detector = gaps.NewGapDetector(app.storage)

	if cfg.Imputation.Enabled {
		loc, err := time.LoadLocation(cfg.Imputation.Timezone)
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("invalid imputation timezone %q: %w", cfg.Imputation.Timezone, err)
		}
		pattern := imputation.NewPatternPredictor(app.patterns,
			imputation.WithLocation(loc),
			imputation.WithPredictorLogger(logs.GetComponentLogger("pattern_predictor")),
		)
		engine := imputation.NewEngine(imputation.NewLinearFiller(), pattern, app.metrics)
		app.integrator = query.NewIntegrator(app.detector, engine,
			imputation.NewPersister(app.storage, app.metrics),
			query.WithNotifier(app.notifier),
			query.WithGapRecorder(app.metrics),
		)
	}

	app.query, err = query.NewService(app.storage, app.integrator, cfg.Query)
	if err != nil {
		app.Close()
		return nil, err
	}

	app.generator = generator.NewGenerator(
		cache.NewInvalidatingWriter(app.storage, app.patterns),
		cfg.Generator,
		generator.WithDateRules(app.query.Rules()),
		generator.WithRecorder(app.metrics),
	)
	return app, nil
}

// Close releases every resource that was opened.
func (a *App) Close() error {
	var errs []error
	if a.notifier != nil {
		errs = append(errs, a.notifier.Close())
	}
	if a.patterns != nil {
		errs = append(errs, a.patterns.Close())
	}
	if a.storage != nil {
		errs = append(errs, a.storage.Close())
	}
	if a.logs != nil {
		errs = append(errs, a.logs.Close())
	}
	return errors.Join(errs...)
}

type pingChecker struct {
	store cache.Store
}

func (p pingChecker) HealthCheck(ctx context.Context) error {
	return p.store.Ping(ctx)
}
