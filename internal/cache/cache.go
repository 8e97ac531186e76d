// Package cache provides a read-through cache for the historical windows
// the pattern predictor reads, backed by process memory or Redis.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	apperrors "github.com/johnayoung/go-health-series/internal/errors"
	"github.com/johnayoung/go-health-series/internal/imputation"
	"github.com/johnayoung/go-health-series/internal/models"
	"github.com/johnayoung/go-health-series/internal/storage"
)

// DefaultTTL applies when no TTL is configured.
const DefaultTTL = 15 * time.Minute

// Store is a byte-oriented key/value backend with per-entry expiry.
type Store interface {
	// Get returns the value stored at key. ok is false on a miss.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)

	// Set stores value at key for ttl.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// DeletePrefix removes every key starting with prefix and returns how
	// many were removed.
	DeletePrefix(ctx context.Context, prefix string) (int, error)

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error

	Close() error
}

// LookupRecorder counts cache lookups by result (hit, miss, error).
// metrics.MetricsCollector satisfies it.
type LookupRecorder interface {
	RecordCacheLookup(result string)
}

// PatternCache sits in front of the real-point history read. Entries are
// keyed by (user, metric, window start, window end) so a cached read
// selects exactly the points a direct read would. Any backend failure
// degrades to a direct read.
type PatternCache struct {
	source   imputation.HistorySource
	store    Store
	ttl      time.Duration
	prefix   string
	breaker  *apperrors.CircuitBreaker
	recorder LookupRecorder
	logger   *slog.Logger
}

// Option configures a PatternCache.
type Option func(*PatternCache)

// WithTTL sets the entry lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(c *PatternCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithKeyPrefix namespaces every key.
func WithKeyPrefix(prefix string) Option {
	return func(c *PatternCache) {
		if prefix != "" {
			c.prefix = prefix
		}
	}
}

// WithCircuitBreaker routes backend calls through cb.
func WithCircuitBreaker(cb *apperrors.CircuitBreaker) Option {
	return func(c *PatternCache) { c.breaker = cb }
}

// WithRecorder counts lookups.
func WithRecorder(r LookupRecorder) Option {
	return func(c *PatternCache) { c.recorder = r }
}

// NewPatternCache wraps source. A nil store disables caching and every
// read goes straight to source.
func NewPatternCache(source imputation.HistorySource, store Store, opts ...Option) *PatternCache {
	c := &PatternCache{
		source: source,
		store:  store,
		ttl:    DefaultTTL,
		prefix: "healthseries:patterns",
		logger: slog.Default().With("component", "pattern_cache"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// QueryReal returns the real points of a series in [start, end], from the
// cache when present.
func (c *PatternCache) QueryReal(ctx context.Context, userID string, metric models.MetricType, start, end time.Time) ([]models.DataPoint, error) {
	if c.store == nil {
		return c.source.QueryReal(ctx, userID, metric, start, end)
	}

	key := c.key(userID, metric, start, end)

	var (
		cached []byte
		hit    bool
	)
	err := c.call(func() error {
		var err error
		cached, hit, err = c.store.Get(ctx, key)
		return err
	})
	switch {
	case err != nil:
		c.record("error")
		c.logger.Warn("Cache read failed, reading storage directly", "key", key, "error", err)
	case hit:
		var points []models.DataPoint
		if err := json.Unmarshal(cached, &points); err == nil {
			c.record("hit")
			return points, nil
		}
		c.record("error")
		c.logger.Warn("Discarding undecodable cache entry", "key", key)
	default:
		c.record("miss")
	}

	points, err := c.source.QueryReal(ctx, userID, metric, start, end)
	if err != nil {
		return nil, err
	}

	encoded, err := json.Marshal(points)
	if err != nil {
		return points, nil
	}
	if err := c.call(func() error { return c.store.Set(ctx, key, encoded, c.ttl) }); err != nil {
		c.logger.Warn("Cache write failed", "key", key, "error", err)
	}
	return points, nil
}

// Invalidate drops every cached window of a series.
func (c *PatternCache) Invalidate(ctx context.Context, userID string, metric models.MetricType) error {
	if c.store == nil {
		return nil
	}

	prefix := c.seriesPrefix(userID, metric)
	var removed int
	err := c.call(func() error {
		var err error
		removed, err = c.store.DeletePrefix(ctx, prefix)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to invalidate %s/%s: %w", userID, metric, err)
	}

	if removed > 0 {
		c.logger.Debug("Invalidated cached windows", "user_id", userID, "metric", metric, "removed", removed)
	}
	return nil
}

// Close releases the backend.
func (c *PatternCache) Close() error {
	if c.store == nil {
		return nil
	}
	return c.store.Close()
}

func (c *PatternCache) key(userID string, metric models.MetricType, start, end time.Time) string {
	return fmt.Sprintf("%s%d:%d", c.seriesPrefix(userID, metric), start.UTC().Unix(), end.UTC().Unix())
}

func (c *PatternCache) seriesPrefix(userID string, metric models.MetricType) string {
	return fmt.Sprintf("%s:%s:%s:", c.prefix, userID, metric)
}

func (c *PatternCache) call(fn func() error) error {
	if c.breaker == nil {
		return fn()
	}
	return c.breaker.Call(fn)
}

func (c *PatternCache) record(result string) {
	if c.recorder != nil {
		c.recorder.RecordCacheLookup(result)
	}
}

// InvalidatingWriter drops cached history for every series it writes real
// points to.
type InvalidatingWriter struct {
	storage.PointWriter
	cache *PatternCache
}

// NewInvalidatingWriter wraps writer.
func NewInvalidatingWriter(writer storage.PointWriter, cache *PatternCache) *InvalidatingWriter {
	return &InvalidatingWriter{PointWriter: writer, cache: cache}
}

// StoreReal writes points and then invalidates the affected series.
// Invalidation failures are logged; the write result stands.
func (w *InvalidatingWriter) StoreReal(ctx context.Context, points []models.DataPoint) (int64, error) {
	saved, err := w.PointWriter.StoreReal(ctx, points)
	if err != nil || w.cache == nil {
		return saved, err
	}

	type series struct {
		user   string
		metric models.MetricType
	}
	seen := make(map[series]struct{})
	for _, p := range points {
		s := series{p.UserID, p.MetricType}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		if err := w.cache.Invalidate(ctx, s.user, s.metric); err != nil {
			w.cache.logger.Warn("Failed to invalidate pattern cache", "user_id", s.user, "metric", s.metric, "error", err)
		}
	}
	return saved, nil
}

var (
	_ imputation.HistorySource = (*PatternCache)(nil)
	_ storage.PointWriter      = (*InvalidatingWriter)(nil)
)
