package imputation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/johnayoung/go-health-series/internal/models"
)

// EngineStats counts work done by an Engine over its lifetime.
type EngineStats struct {
	GapsFilled    int64
	GapsSkipped   int64
	GapsFailed    int64
	PointsImputed int64
}

// Engine dispatches each gap to the filler of its tier. Short gaps go to
// the linear filler, medium gaps to the pattern predictor, long gaps are
// skipped.
type Engine struct {
	linear   GapFiller
	pattern  GapFiller
	recorder Recorder
	logger   *slog.Logger

	mu    sync.Mutex
	stats EngineStats
}

// NewEngine creates an engine. recorder may be nil.
func NewEngine(linear, pattern GapFiller, recorder Recorder) *Engine {
	return &Engine{
		linear:   linear,
		pattern:  pattern,
		recorder: recorder,
		logger:   slog.Default().With("component", "imputation_engine"),
	}
}

// FillGap fills a single gap. A panic inside a filler is recovered into a
// failed result.
func (e *Engine) FillGap(ctx context.Context, gap models.Gap) (result FillResult) {
	defer func() {
		if r := recover(); r != nil {
			result = FillResult{Gap: gap, Status: models.ResultFailed, Err: fmt.Errorf("filler panicked: %v", r)}
		}
	}()

	switch gap.Category {
	case models.GapShort:
		return e.linear.Fill(ctx, gap)
	case models.GapMedium:
		return e.pattern.Fill(ctx, gap)
	default:
		return FillResult{Gap: gap, Status: models.ResultSuccess}
	}
}

// FillGaps fills every gap in order and returns the produced points with the
// per-gap results. A failed gap is logged and skipped.
func (e *Engine) FillGaps(ctx context.Context, gaps []models.Gap) ([]models.DataPoint, []FillResult) {
	var points []models.DataPoint
	results := make([]FillResult, 0, len(gaps))

	for _, gap := range gaps {
		if !gap.Fillable() {
			e.bump(func(s *EngineStats) { s.GapsSkipped++ })
			results = append(results, FillResult{Gap: gap, Status: models.ResultSuccess})
			continue
		}

		result := e.FillGap(ctx, gap)
		results = append(results, result)

		if result.Failed() {
			e.logger.Warn("Skipping gap that could not be filled",
				"user_id", gap.StartPoint.UserID,
				"metric", gap.StartPoint.MetricType,
				"gap", gap.String(),
				"error", result.Err,
			)
			e.bump(func(s *EngineStats) { s.GapsFailed++ })
			if e.recorder != nil {
				e.recorder.RecordImputationFailure("fill")
			}
			continue
		}

		points = append(points, result.Points...)
		e.bump(func(s *EngineStats) {
			s.GapsFilled++
			s.PointsImputed += int64(len(result.Points))
		})
		if e.recorder != nil {
			for method, n := range result.CountByMethod() {
				e.recorder.RecordImputed(string(gap.StartPoint.MetricType), string(method), n)
			}
		}
	}

	return points, results
}

// Stats returns a snapshot of the engine counters.
func (e *Engine) Stats() EngineStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

func (e *Engine) bump(fn func(*EngineStats)) {
	e.mu.Lock()
	fn(&e.stats)
	e.mu.Unlock()
}
