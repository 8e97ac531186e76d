// Package generator produces synthetic hourly health-metric series with
// intentional gaps, keeps an incremental ingest cursor on disk and runs
// ingest on a cron schedule.
package generator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/johnayoung/go-health-series/internal/config"
	"github.com/johnayoung/go-health-series/internal/logger"
	"github.com/johnayoung/go-health-series/internal/models"
	"github.com/johnayoung/go-health-series/internal/storage"
)

// Gap shape of the synthetic series. A skipped slot opens a gap whose
// length falls in one of three bands.
const (
	DefaultGapProbability = 0.2
	shortBandShare        = 0.6 // 2-3h
	mediumBandShare       = 0.3 // 4-8h, the rest is 12-24h
	maxValue              = 100.0
)

// DateValidator checks a requested window. query.DateRules satisfies it.
type DateValidator interface {
	Validate(start, end time.Time) error
}

// GenerationRecorder counts generated points. metrics.MetricsCollector
// satisfies it.
type GenerationRecorder interface {
	RecordGenerated(total int, saved int64)
}

// Result reports one generation run.
type Result struct {
	JobID       string    `json:"job_id"`
	TotalPoints int       `json:"total_points"`
	SavedPoints int64     `json:"saved_points"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	Logs        []string  `json:"logs"`
}

// Generator writes deterministic synthetic series for a user.
type Generator struct {
	writer         storage.PointWriter
	seed           int64
	gapProbability float64
	metrics        []models.MetricType
	rules          DateValidator
	recorder       GenerationRecorder
	logger         *slog.Logger
}

// Option configures a Generator.
type Option func(*Generator)

// WithDateRules validates windows passed to Generate.
func WithDateRules(rules DateValidator) Option {
	return func(g *Generator) { g.rules = rules }
}

// WithRecorder counts generated points.
func WithRecorder(r GenerationRecorder) Option {
	return func(g *Generator) { g.recorder = r }
}

// WithMetrics limits generation to the given metrics. Each metric keeps
// the seed offset of its position in the list.
func WithMetrics(metrics ...models.MetricType) Option {
	return func(g *Generator) { g.metrics = metrics }
}

// NewGenerator creates a generator writing through writer.
func NewGenerator(writer storage.PointWriter, cfg config.GeneratorConfig, opts ...Option) *Generator {
	g := &Generator{
		writer:         writer,
		seed:           cfg.Seed,
		gapProbability: cfg.GapProbability,
		metrics:        models.AllMetrics,
		logger:         slog.Default().With("component", "generator"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Points builds the synthetic series for every metric. Metric i draws
// from a source seeded with seed+i, so a window always yields the same
// points. The walk starts at start truncated to the hour and includes end.
func (g *Generator) Points(userID string, start, end time.Time) []models.DataPoint {
	var points []models.DataPoint
	first := start.UTC().Truncate(time.Hour)

	for i, metric := range g.metrics {
		r := rand.New(rand.NewSource(g.seed + int64(i)))

		for current := first; !current.After(end); {
			if r.Float64() < g.gapProbability {
				current = current.Add(time.Duration(gapHours(r)) * time.Hour)
				continue
			}
			points = append(points, models.NewRealPoint(current, userID, metric, r.Float64()*maxValue))
			current = current.Add(time.Hour)
		}
	}
	return points
}

func gapHours(r *rand.Rand) int {
	roll := r.Float64()
	switch {
	case roll < shortBandShare:
		return 2 + r.Intn(2)
	case roll < shortBandShare+mediumBandShare:
		return 4 + r.Intn(5)
	default:
		return 12 + r.Intn(13)
	}
}

// Generate validates the window, writes the synthetic series and returns
// the counts together with the log lines of the run. The result is
// non-nil even on failure so callers can surface the logs.
func (g *Generator) Generate(ctx context.Context, userID string, start, end time.Time) (*Result, error) {
	if userID == "" {
		return nil, &models.ValidationError{Field: "user_id", Message: "user_id is required"}
	}
	if g.rules != nil {
		if err := g.rules.Validate(start, end); err != nil {
			return nil, err
		}
	}
	return g.run(ctx, models.JobTypeGenerate, userID, start, end)
}

func (g *Generator) run(ctx context.Context, jobType models.JobType, userID string, start, end time.Time) (*Result, error) {
	job := models.NewJob(uuid.NewString(), jobType, userID, start.UTC(), end.UTC())
	result := &Result{JobID: job.ID, StartTime: start, EndTime: end}

	capture := newLogCapture(g.logger.Handler())
	log := slog.New(capture).With("job_id", job.ID)
	ctx = logger.WithJobID(logger.WithUserID(ctx, userID), job.ID)
	defer func() { result.Logs = capture.Lines() }()

	if err := job.Validate(); err != nil {
		var jobErr models.JobError
		errors.As(err, &jobErr)
		return result, &models.ValidationError{Field: jobErr.Field, Message: jobErr.Message}
	}
	if err := job.Start(); err != nil {
		return result, err
	}

	log.InfoContext(ctx, fmt.Sprintf("Received request for user %s", userID),
		"type", jobType,
		"start", job.StartTime,
		"end", job.EndTime,
	)

	err := logger.TimedOperation(ctx, log, "generate_"+string(jobType), func() error {
		points := g.Points(userID, start, end)
		for _, metric := range g.metrics {
			log.InfoContext(ctx, fmt.Sprintf("Generated %d points for %s", countMetric(points, metric), metric))
		}

		saved, err := g.writer.StoreReal(ctx, points)
		if err != nil {
			return fmt.Errorf("failed to save %d points: %w", len(points), err)
		}

		result.TotalPoints = len(points)
		result.SavedPoints = saved
		return nil
	})
	if err != nil {
		job.Fail(err.Error())
		log.ErrorContext(ctx, "Generation failed", "error", err)
		return result, err
	}

	job.Complete(result.TotalPoints, result.SavedPoints)
	if g.recorder != nil {
		g.recorder.RecordGenerated(result.TotalPoints, result.SavedPoints)
	}
	log.InfoContext(ctx, job.Summary(), "points_per_second", job.PointsPerSecond().String())
	return result, nil
}

func countMetric(points []models.DataPoint, metric models.MetricType) int {
	n := 0
	for _, p := range points {
		if p.MetricType == metric {
			n++
		}
	}
	return n
}
