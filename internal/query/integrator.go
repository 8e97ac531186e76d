package query

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/johnayoung/go-health-series/internal/gaps"
	"github.com/johnayoung/go-health-series/internal/imputation"
	"github.com/johnayoung/go-health-series/internal/models"
)

// Notifier publishes pipeline outcomes. Implementations are best effort;
// returned errors are logged and otherwise ignored.
type Notifier interface {
	gaps.GapEventNotifier
	NotifyImputationPersisted(ctx context.Context, userID string, metric models.MetricType, result imputation.PersistResult) error
}

// GapRecorder receives detection counters. metrics.MetricsCollector
// satisfies it.
type GapRecorder interface {
	RecordGaps(metric string, byCategory map[string]int)
	RecordImputationFailure(stage string)
}

// IntegrationResult is what a query returns after the gap pipeline ran.
type IntegrationResult struct {
	Points  []models.DataPoint
	Gaps    []models.Gap
	Summary models.DataSummary
	Applied bool
	Status  models.ResultStatus
	Persist imputation.PersistResult
	Err     error
}

// Integrator runs detection, filling and persistence over the rows of one
// range query and merges the synthesized points into them.
type Integrator struct {
	detector  gaps.GapDetector
	engine    *imputation.Engine
	persister *imputation.Persister
	notifier  Notifier
	recorder  GapRecorder
	logger    *slog.Logger
}

// IntegratorOption configures an Integrator.
type IntegratorOption func(*Integrator)

// WithNotifier publishes detection and persistence events.
func WithNotifier(n Notifier) IntegratorOption {
	return func(i *Integrator) { i.notifier = n }
}

// WithGapRecorder records detection counters.
func WithGapRecorder(r GapRecorder) IntegratorOption {
	return func(i *Integrator) { i.recorder = r }
}

// NewIntegrator wires the pipeline stages together.
func NewIntegrator(detector gaps.GapDetector, engine *imputation.Engine, persister *imputation.Persister, opts ...IntegratorOption) *Integrator {
	i := &Integrator{
		detector:  detector,
		engine:    engine,
		persister: persister,
		logger:    slog.Default().With("component", "query_integrator"),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Integrate detects gaps in the real subset of points, fills and persists
// them, and returns the merged sequence with a recomputed summary. Any
// failure, including a panic, yields the original points unchanged with a
// failed status.
func (i *Integrator) Integrate(ctx context.Context, points []models.DataPoint) (result IntegrationResult) {
	fallback := func(err error) IntegrationResult {
		return IntegrationResult{
			Points:  points,
			Summary: models.Summarize(points),
			Status:  models.ResultFailed,
			Err:     err,
		}
	}

	defer func() {
		if r := recover(); r != nil {
			i.logger.Error("Imputation pipeline panicked, returning original data", "panic", r)
			i.recordFailure("pipeline")
			result = fallback(fmt.Errorf("imputation pipeline panicked: %v", r))
		}
	}()

	measured, _ := models.SplitByImputation(points)
	if len(measured) < 2 {
		return IntegrationResult{Points: points, Summary: models.Summarize(points), Status: models.ResultSuccess}
	}

	detection := i.detector.DetectInSequence(ctx, measured)
	if detection.Failed() {
		i.logger.Warn("Gap detection failed, returning original data", "error", detection.Err)
		i.recordFailure("detect")
		return fallback(detection.Err)
	}

	userID, metric := measured[0].UserID, measured[0].MetricType
	i.recordGaps(metric, detection)
	if len(detection.Gaps) > 0 && i.notifier != nil {
		// Publish failures are logged and counted by the notifier.
		_ = i.notifier.NotifyGapsDetected(ctx, userID, metric, detection.Gaps)
	}

	result = IntegrationResult{
		Gaps:    detection.Gaps,
		Status:  detection.Status,
		Applied: len(detection.Gaps) > 0,
	}

	imputed, fills := i.engine.FillGaps(ctx, detection.Gaps)
	for _, fill := range fills {
		if fill.Status != models.ResultSuccess {
			result.Status = models.ResultPartial
		}
	}

	result.Persist = i.persister.Persist(ctx, imputed)
	if result.Persist.Failed() {
		result.Status = models.ResultPartial
	}
	if len(imputed) > 0 && i.notifier != nil {
		_ = i.notifier.NotifyImputationPersisted(ctx, userID, metric, result.Persist)
	}

	result.Points = Merge(points, imputed)
	result.Summary = models.Summarize(result.Points)

	i.logger.Debug("Imputation applied",
		"user_id", userID,
		"metric", metric,
		"gaps", len(detection.Gaps),
		"imputed", len(imputed),
		"status", result.Status,
	)
	return result
}

// Merge overlays synthesized points on fetched ones and sorts the union by
// timestamp. A synthesized point replaces a fetched imputed point at the
// same key and never a fetched real one.
func Merge(fetched, synthesized []models.DataPoint) []models.DataPoint {
	merged := make([]models.DataPoint, 0, len(fetched)+len(synthesized))
	index := make(map[models.PointKey]int, len(fetched)+len(synthesized))

	for _, p := range fetched {
		index[p.Key()] = len(merged)
		merged = append(merged, p)
	}
	for _, p := range synthesized {
		if at, ok := index[p.Key()]; ok {
			if merged[at].IsImputed {
				merged[at] = p
			}
			continue
		}
		index[p.Key()] = len(merged)
		merged = append(merged, p)
	}

	sort.SliceStable(merged, func(a, b int) bool {
		return merged[a].Timestamp.Before(merged[b].Timestamp)
	})
	return merged
}

func (i *Integrator) recordGaps(metric models.MetricType, detection gaps.DetectionResult) {
	if i.recorder == nil || len(detection.Gaps) == 0 {
		return
	}
	counts := make(map[string]int, 3)
	for category, n := range detection.CountByCategory() {
		counts[string(category)] = n
	}
	i.recorder.RecordGaps(string(metric), counts)
}

func (i *Integrator) recordFailure(stage string) {
	if i.recorder != nil {
		i.recorder.RecordImputationFailure(stage)
	}
}
