// Package metrics exposes Prometheus instrumentation for the health-series
// service: HTTP traffic, gap detection, imputation, ingest, cache and event
// publishing. Collectors live in a private registry served on the metrics
// path configured for the API.
package metrics

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/johnayoung/go-health-series/internal/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthChecker is implemented by components that can report their health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// HealthStatus represents the health status of a component
type HealthStatus struct {
	Status    string        `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"duration"`
	Error     string        `json:"error,omitempty"`
}

// MetricsCollector owns the Prometheus registry and the service's collectors.
type MetricsCollector struct {
	config    config.MetricsConfig
	logger    *slog.Logger
	registry  *prometheus.Registry
	startTime time.Time

	requestsTotal      *prometheus.CounterVec
	requestDuration    *prometheus.HistogramVec
	gapsDetected       *prometheus.CounterVec
	pointsImputed      *prometheus.CounterVec
	imputationFailures *prometheus.CounterVec
	pointsGenerated    *prometheus.CounterVec
	cacheLookups       *prometheus.CounterVec
	eventsPublished    *prometheus.CounterVec
	healthGauge        *prometheus.GaugeVec

	mu       sync.RWMutex
	checkers map[string]HealthChecker
}

// NewMetricsCollector creates a collector with a fresh registry. A nil logger
// falls back to slog.Default.
func NewMetricsCollector(cfg config.MetricsConfig, logger *slog.Logger) *MetricsCollector {
	if logger == nil {
		logger = slog.Default()
	}
	ns := cfg.Namespace

	mc := &MetricsCollector{
		config:    cfg,
		logger:    logger.With("component", "metrics"),
		registry:  prometheus.NewRegistry(),
		startTime: time.Now(),
		checkers:  make(map[string]HealthChecker),

		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		gapsDetected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "gaps",
			Name:      "detected_total",
			Help:      "Gaps detected by metric and category.",
		}, []string{"metric", "category"}),
		pointsImputed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "imputation",
			Name:      "points_total",
			Help:      "Imputed points produced by metric and method.",
		}, []string{"metric", "method"}),
		imputationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "imputation",
			Name:      "failures_total",
			Help:      "Imputation pipeline failures by stage.",
		}, []string{"stage"}),
		pointsGenerated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "generator",
			Name:      "points_total",
			Help:      "Synthetic points generated and saved.",
		}, []string{"outcome"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Pattern cache lookups by result.",
		}, []string{"result"}),
		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Published events by type and result.",
		}, []string{"type", "result"}),
		healthGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "component_up",
			Help:      "1 when the component's last health check passed.",
		}, []string{"component"}),
	}

	mc.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		mc.requestsTotal,
		mc.requestDuration,
		mc.gapsDetected,
		mc.pointsImputed,
		mc.imputationFailures,
		mc.pointsGenerated,
		mc.cacheLookups,
		mc.eventsPublished,
		mc.healthGauge,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "uptime_seconds",
			Help:      "Seconds since the collector was created.",
		}, func() float64 { return time.Since(mc.startTime).Seconds() }),
	)

	return mc
}

// Registry returns the underlying registry.
func (mc *MetricsCollector) Registry() *prometheus.Registry {
	return mc.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (mc *MetricsCollector) Handler() http.Handler {
	return promhttp.HandlerFor(mc.registry, promhttp.HandlerOpts{Registry: mc.registry})
}

// Enabled reports whether metrics are configured to be served.
func (mc *MetricsCollector) Enabled() bool {
	return mc != nil && mc.config.Enabled
}

// RecordRequest records one completed HTTP request.
func (mc *MetricsCollector) RecordRequest(route string, status int, duration time.Duration) {
	if mc == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	mc.requestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
	mc.requestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordGaps adds detected gap counts keyed by category.
func (mc *MetricsCollector) RecordGaps(metric string, byCategory map[string]int) {
	if mc == nil {
		return
	}
	for category, n := range byCategory {
		mc.gapsDetected.WithLabelValues(metric, category).Add(float64(n))
	}
}

// RecordImputed adds n imputed points produced with method.
func (mc *MetricsCollector) RecordImputed(metric, method string, n int) {
	if mc == nil || n <= 0 {
		return
	}
	mc.pointsImputed.WithLabelValues(metric, method).Add(float64(n))
}

// RecordImputationFailure counts a failure in the named pipeline stage
// (detect, fill, persist, integrate).
func (mc *MetricsCollector) RecordImputationFailure(stage string) {
	if mc == nil {
		return
	}
	mc.imputationFailures.WithLabelValues(stage).Inc()
}

// RecordGenerated counts generated and saved synthetic points.
func (mc *MetricsCollector) RecordGenerated(total int, saved int64) {
	if mc == nil {
		return
	}
	mc.pointsGenerated.WithLabelValues("generated").Add(float64(total))
	mc.pointsGenerated.WithLabelValues("saved").Add(float64(saved))
}

// RecordCacheLookup counts a pattern cache lookup (hit, miss, error).
func (mc *MetricsCollector) RecordCacheLookup(result string) {
	if mc == nil {
		return
	}
	mc.cacheLookups.WithLabelValues(result).Inc()
}

// RecordEvent counts a publish attempt.
func (mc *MetricsCollector) RecordEvent(eventType string, err error) {
	if mc == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	mc.eventsPublished.WithLabelValues(eventType, result).Inc()
}

// RegisterHealthChecker registers a component for CheckHealth.
func (mc *MetricsCollector) RegisterHealthChecker(name string, checker HealthChecker) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.checkers[name] = checker
	mc.logger.Debug("registered health checker", "name", name)
}

// CheckHealth runs every registered checker and updates the component_up gauge.
func (mc *MetricsCollector) CheckHealth(ctx context.Context) map[string]HealthStatus {
	mc.mu.RLock()
	names := make([]string, 0, len(mc.checkers))
	for name := range mc.checkers {
		names = append(names, name)
	}
	checkers := make(map[string]HealthChecker, len(mc.checkers))
	for k, v := range mc.checkers {
		checkers[k] = v
	}
	mc.mu.RUnlock()
	sort.Strings(names)

	results := make(map[string]HealthStatus, len(names))
	for _, name := range names {
		start := time.Now()
		err := checkers[name].HealthCheck(ctx)

		status := HealthStatus{Status: "healthy", Timestamp: start, Duration: time.Since(start)}
		up := 1.0
		if err != nil {
			status.Status = "unhealthy"
			status.Error = err.Error()
			up = 0
			mc.logger.Warn("health check failed", "checker", name, "error", err)
		}
		mc.healthGauge.WithLabelValues(name).Set(up)
		results[name] = status
	}
	return results
}
