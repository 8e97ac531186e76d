package gaps

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/johnayoung/go-health-series/internal/models"
	"github.com/johnayoung/go-health-series/internal/storage"
)

// ToleranceFactor is how far past the expected cadence two adjacent points
// may drift before the interval between them counts as a gap.
const ToleranceFactor = 1.5

// GapThreshold is the spacing above which a gap exists (90 minutes).
const GapThreshold = time.Duration(float64(models.ExpectedInterval) * ToleranceFactor)

// GapDetectorImpl implements GapDetector over hourly real-point series.
type GapDetectorImpl struct {
	reader storage.PointReader
	logger *slog.Logger
}

// NewGapDetector creates a detector. The reader is only needed for
// DetectInRange and may be nil otherwise.
func NewGapDetector(reader storage.PointReader) *GapDetectorImpl {
	return &GapDetectorImpl{
		reader: reader,
		logger: slog.Default().With("component", "gap_detector"),
	}
}

// DetectInSequence scans adjacent pairs of an ordered real series. A pair
// with a zero timestamp, a non-finite value or a non-increasing timestamp
// is skipped and the result degrades to partial.
func (gd *GapDetectorImpl) DetectInSequence(ctx context.Context, points []models.DataPoint) DetectionResult {
	if err := ctx.Err(); err != nil {
		return DetectionResult{Status: models.ResultFailed, Err: err}
	}

	series := make([]models.DataPoint, 0, len(points))
	for _, p := range points {
		if p.IsImputed {
			continue
		}
		series = append(series, p)
	}

	if len(series) < 2 {
		return DetectionResult{Status: models.ResultSuccess}
	}

	if err := checkSingleSeries(series); err != nil {
		gd.logger.Error("Refusing to detect gaps across series", "error", err)
		return DetectionResult{Status: models.ResultFailed, Err: err}
	}

	result := DetectionResult{Status: models.ResultSuccess}
	for i := 0; i < len(series)-1; i++ {
		current := series[i]
		next := series[i+1]

		if reason := malformedPair(current, next); reason != "" {
			gd.logger.Warn("Skipping malformed pair",
				"user_id", current.UserID,
				"metric", current.MetricType,
				"index", i,
				"reason", reason,
			)
			result.Skipped++
			continue
		}

		if next.Timestamp.Sub(current.Timestamp) <= GapThreshold {
			continue
		}

		gap, err := models.NewGap(current, next)
		if err != nil {
			gd.logger.Warn("Failed to create gap", "index", i, "error", err)
			result.Skipped++
			continue
		}
		result.Gaps = append(result.Gaps, *gap)
	}

	if result.Skipped > 0 {
		result.Status = models.ResultPartial
	}

	gd.logger.Debug("Gap detection completed",
		"user_id", series[0].UserID,
		"metric", series[0].MetricType,
		"points", len(series),
		"gaps_found", len(result.Gaps),
		"skipped", result.Skipped,
	)

	return result
}

// DetectInRange loads the real points in the window and scans them.
func (gd *GapDetectorImpl) DetectInRange(ctx context.Context, userID string, metric models.MetricType, start, end time.Time) (DetectionResult, error) {
	if gd.reader == nil {
		return DetectionResult{}, fmt.Errorf("gap detector has no storage reader")
	}

	gd.logger.Info("Starting gap detection",
		"user_id", userID,
		"metric", metric,
		"start_time", start,
		"end_time", end,
	)

	points, err := gd.reader.QueryReal(ctx, userID, metric, start, end)
	if err != nil {
		return DetectionResult{}, fmt.Errorf("failed to query real points: %w", err)
	}

	return gd.DetectInSequence(ctx, points), nil
}

func checkSingleSeries(points []models.DataPoint) error {
	user, metric := points[0].UserID, points[0].MetricType
	for _, p := range points[1:] {
		if p.UserID != user || p.MetricType != metric {
			return fmt.Errorf("sequence mixes series %s/%s and %s/%s", user, metric, p.UserID, p.MetricType)
		}
	}
	return nil
}

func malformedPair(current, next models.DataPoint) string {
	switch {
	case current.Timestamp.IsZero() || next.Timestamp.IsZero():
		return "zero timestamp"
	case !isFinite(current.Value) || !isFinite(next.Value):
		return "non-finite value"
	case !next.Timestamp.After(current.Timestamp):
		return "timestamps out of order"
	}
	return ""
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

var _ GapDetector = (*GapDetectorImpl)(nil)
