// Package imputation synthesizes values for missing hours of a health-metric
// series. Short gaps are filled by linear interpolation, medium gaps by a
// weighted same-hour prediction from recent days, and long gaps are left
// unfilled.
package imputation

import (
	"context"
	"time"

	"github.com/johnayoung/go-health-series/internal/models"
)

// Lookback is one historical offset consulted by the pattern predictor.
type Lookback struct {
	Offset time.Duration
	Weight float64
}

const (
	day = 24 * time.Hour

	// HourMatchTolerance is how many hours of day a historical point may sit
	// from the target hour and still count as a match.
	HourMatchTolerance = 1
)

// DefaultLookbacks are the offsets and recency weights of the pattern
// predictor. Weights of offsets without a match are dropped and the rest
// renormalized.
var DefaultLookbacks = []Lookback{
	{Offset: 1 * day, Weight: 0.4},
	{Offset: 2 * day, Weight: 0.25},
	{Offset: 7 * day, Weight: 0.25},
	{Offset: 14 * day, Weight: 0.1},
}

// GapFiller produces synthesized points for the missing hours of a gap.
type GapFiller interface {
	// Fill synthesizes one point per missing hour strictly between the
	// bounding points of gap.
	//
	// Parameters:
	//   - ctx: Context for cancellation
	//   - gap: A detected gap bounded by real points
	//
	// Returns:
	//   - FillResult: the points plus a status. A failed result carries no
	//     points; a partial result carries points produced under degraded
	//     conditions (for example history that could not be read).
	Fill(ctx context.Context, gap models.Gap) FillResult
}

// HistorySource reads measured points for a series. storage.PointReader and
// cache.PatternCache both satisfy it.
type HistorySource interface {
	QueryReal(ctx context.Context, userID string, metric models.MetricType, start, end time.Time) ([]models.DataPoint, error)
}

// Recorder receives imputation counters. metrics.MetricsCollector satisfies it.
type Recorder interface {
	RecordImputed(metric, method string, n int)
	RecordImputationFailure(stage string)
}

// FillResult is the tagged outcome of filling one gap.
type FillResult struct {
	Gap    models.Gap
	Points []models.DataPoint
	Status models.ResultStatus
	Err    error
}

// Failed reports whether the gap produced nothing usable.
func (r FillResult) Failed() bool {
	return r.Status == models.ResultFailed
}

// CountByMethod tallies produced points per imputation method.
func (r FillResult) CountByMethod() map[models.ImputationMethod]int {
	counts := make(map[models.ImputationMethod]int, 2)
	for _, p := range r.Points {
		counts[p.ImputationMethod]++
	}
	return counts
}

// PersistResult is the tagged outcome of writing a batch of imputed points.
type PersistResult struct {
	Attempted int
	Written   int64
	Status    models.ResultStatus
	Err       error
}

// Failed reports whether the batch was not written.
func (r PersistResult) Failed() bool {
	return r.Status == models.ResultFailed
}
