// Package gaps detects missing intervals in hourly health-metric series and
// classifies them by severity.
package gaps

import (
	"context"
	"time"

	"github.com/johnayoung/go-health-series/internal/models"
)

// GapDetector identifies missing intervals between adjacent real points.
type GapDetector interface {
	// DetectInSequence scans an ordered sequence of real points for a single
	// (user, metric) and reports every interval whose spacing exceeds the
	// tolerance.
	//
	// Parameters:
	//   - ctx: Context for cancellation
	//   - points: Real points ordered by timestamp
	//
	// Returns:
	//   - DetectionResult: gaps plus a status. Malformed pairs are skipped
	//     and yield ResultPartial; a sequence mixing users or metrics yields
	//     ResultFailed.
	DetectInSequence(ctx context.Context, points []models.DataPoint) DetectionResult

	// DetectInRange loads the real points of a user and metric from storage
	// and runs DetectInSequence over them.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout control
	//   - userID: User whose series is scanned
	//   - metric: Metric to scan
	//   - start, end: Inclusive time window
	//
	// Returns:
	//   - DetectionResult: as DetectInSequence
	//   - error: Error if the points could not be read
	DetectInRange(ctx context.Context, userID string, metric models.MetricType, start, end time.Time) (DetectionResult, error)
}

// GapEventNotifier receives detection outcomes for observability. Notifiers
// are best effort and must not block the request path for long.
type GapEventNotifier interface {
	NotifyGapsDetected(ctx context.Context, userID string, metric models.MetricType, gaps []models.Gap) error
}

// DetectionResult is the tagged outcome of a detection run.
type DetectionResult struct {
	Gaps    []models.Gap
	Status  models.ResultStatus
	Skipped int
	Err     error
}

// CountByCategory tallies gaps per tier.
func (r DetectionResult) CountByCategory() map[models.GapCategory]int {
	counts := make(map[models.GapCategory]int, 3)
	for _, g := range r.Gaps {
		counts[g.Category]++
	}
	return counts
}

// Failed reports whether detection produced nothing usable.
func (r DetectionResult) Failed() bool {
	return r.Status == models.ResultFailed
}
