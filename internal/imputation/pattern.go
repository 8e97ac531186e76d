package imputation

import (
	"context"
	"log/slog"
	"time"

	"github.com/johnayoung/go-health-series/internal/models"
)

// PatternPredictor fills gaps with a recency-weighted average of the values
// recorded around the same hour of day on earlier days. Hours with no
// historical match fall back to linear interpolation.
type PatternPredictor struct {
	history   HistorySource
	location  *time.Location
	lookbacks []Lookback
	logger    *slog.Logger
}

// PredictorOption configures a PatternPredictor.
type PredictorOption func(*PatternPredictor)

// WithLocation sets the zone in which hours of day are compared.
func WithLocation(loc *time.Location) PredictorOption {
	return func(p *PatternPredictor) {
		if loc != nil {
			p.location = loc
		}
	}
}

// WithLookbacks replaces DefaultLookbacks.
func WithLookbacks(lookbacks []Lookback) PredictorOption {
	return func(p *PatternPredictor) {
		if len(lookbacks) > 0 {
			p.lookbacks = lookbacks
		}
	}
}

// WithPredictorLogger sets the logger.
func WithPredictorLogger(logger *slog.Logger) PredictorOption {
	return func(p *PatternPredictor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPatternPredictor creates a predictor reading history from source.
// Hours of day are compared in UTC unless WithLocation is given.
func NewPatternPredictor(source HistorySource, opts ...PredictorOption) *PatternPredictor {
	p := &PatternPredictor{
		history:   source,
		location:  time.UTC,
		lookbacks: DefaultLookbacks,
		logger:    slog.Default().With("component", "pattern_predictor"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Fill produces one point per missing hour, pattern based where history
// matches and linear_fallback elsewhere. History that cannot be read is
// treated as empty and degrades the result to partial.
func (p *PatternPredictor) Fill(ctx context.Context, gap models.Gap) FillResult {
	if err := ctx.Err(); err != nil {
		return FillResult{Gap: gap, Status: models.ResultFailed, Err: err}
	}
	if err := checkBounds(gap); err != nil {
		return FillResult{Gap: gap, Status: models.ResultFailed, Err: err}
	}

	result := FillResult{Gap: gap, Status: models.ResultSuccess}

	history, err := p.fetchHistory(ctx, gap)
	if err != nil {
		p.logger.Warn("Historical lookup failed, falling back to interpolation",
			"user_id", gap.StartPoint.UserID,
			"metric", gap.StartPoint.MetricType,
			"gap", gap.String(),
			"error", err,
		)
		result.Status = models.ResultPartial
		result.Err = err
	}
	windows := p.splitByLookback(gap, history)

	hours := gap.MissingHours()
	result.Points = make([]models.DataPoint, 0, len(hours))
	for _, ts := range hours {
		if value, ok := p.Predict(ts, windows); ok {
			result.Points = append(result.Points, imputedPoint(gap, ts, value, models.MethodPatternBased))
			continue
		}
		result.Points = append(result.Points, imputedPoint(gap, ts, interpolate(gap, ts), models.MethodLinearFallback))
	}

	return result
}

// fetchHistory reads every lookback window in one range query spanning the
// oldest window start to the newest window end.
func (p *PatternPredictor) fetchHistory(ctx context.Context, gap models.Gap) ([]models.DataPoint, error) {
	if p.history == nil {
		return nil, nil
	}
	minOffset, maxOffset := p.lookbacks[0].Offset, p.lookbacks[0].Offset
	for _, lb := range p.lookbacks[1:] {
		if lb.Offset < minOffset {
			minOffset = lb.Offset
		}
		if lb.Offset > maxOffset {
			maxOffset = lb.Offset
		}
	}

	return p.history.QueryReal(ctx,
		gap.StartPoint.UserID,
		gap.StartPoint.MetricType,
		gap.Start().Add(-maxOffset),
		gap.End().Add(-minOffset),
	)
}

// splitByLookback assigns fetched points to the window [start-offset,
// end-offset] of every lookback. A point may land in several windows.
func (p *PatternPredictor) splitByLookback(gap models.Gap, history []models.DataPoint) [][]models.DataPoint {
	windows := make([][]models.DataPoint, len(p.lookbacks))
	for i, lb := range p.lookbacks {
		from, to := gap.Start().Add(-lb.Offset), gap.End().Add(-lb.Offset)
		for _, point := range history {
			if point.IsImputed || point.Timestamp.Before(from) || point.Timestamp.After(to) {
				continue
			}
			windows[i] = append(windows[i], point)
		}
	}
	return windows
}

// Predict combines, for every lookback window, the mean of the points whose
// hour of day lies within HourMatchTolerance of target's. Hours are compared
// as integers in [0, 23] without wrapping around midnight. The weighted mean
// is divided by the weights of the windows that matched.
func (p *PatternPredictor) Predict(target time.Time, windows [][]models.DataPoint) (float64, bool) {
	targetHour := target.In(p.location).Hour()

	var weighted, weights float64
	for i, window := range windows {
		if i >= len(p.lookbacks) {
			break
		}

		var sum float64
		var n int
		for _, point := range window {
			if abs(point.Timestamp.In(p.location).Hour()-targetHour) <= HourMatchTolerance {
				sum += point.Value
				n++
			}
		}
		if n == 0 {
			continue
		}

		weight := p.lookbacks[i].Weight
		weighted += weight * (sum / float64(n))
		weights += weight
	}

	if weights == 0 {
		return 0, false
	}
	return weighted / weights, true
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

var _ GapFiller = (*PatternPredictor)(nil)
