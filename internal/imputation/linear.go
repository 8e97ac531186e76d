package imputation

import (
	"context"
	"fmt"
	"time"

	"github.com/johnayoung/go-health-series/internal/models"
)

// LinearFiller interpolates along the straight line between the bounding
// points of a gap.
type LinearFiller struct{}

// NewLinearFiller creates a linear filler.
func NewLinearFiller() *LinearFiller {
	return &LinearFiller{}
}

// Fill produces one linear point per missing hour.
func (f *LinearFiller) Fill(ctx context.Context, gap models.Gap) FillResult {
	if err := ctx.Err(); err != nil {
		return FillResult{Gap: gap, Status: models.ResultFailed, Err: err}
	}
	if err := checkBounds(gap); err != nil {
		return FillResult{Gap: gap, Status: models.ResultFailed, Err: err}
	}

	hours := gap.MissingHours()
	points := make([]models.DataPoint, 0, len(hours))
	for _, ts := range hours {
		points = append(points, imputedPoint(gap, ts, interpolate(gap, ts), models.MethodLinear))
	}

	return FillResult{Gap: gap, Points: points, Status: models.ResultSuccess}
}

// interpolate returns the value on the line between the gap's bounding
// points at ts.
func interpolate(gap models.Gap, ts time.Time) float64 {
	start, end := gap.StartPoint, gap.EndPoint
	ratio := ts.Sub(start.Timestamp).Seconds() / end.Timestamp.Sub(start.Timestamp).Seconds()
	return start.Value + ratio*(end.Value-start.Value)
}

func imputedPoint(gap models.Gap, ts time.Time, value float64, method models.ImputationMethod) models.DataPoint {
	return models.NewImputedPoint(ts, gap.StartPoint.UserID, gap.StartPoint.MetricType, value, method, gap.TruncatedHours())
}

func checkBounds(gap models.Gap) error {
	if gap.StartPoint.Timestamp.IsZero() || gap.EndPoint.Timestamp.IsZero() {
		return fmt.Errorf("gap %s has a zero bound", gap.String())
	}
	if !gap.End().After(gap.Start()) {
		return fmt.Errorf("gap %s ends before it starts", gap.String())
	}
	if gap.StartPoint.UserID != gap.EndPoint.UserID || gap.StartPoint.MetricType != gap.EndPoint.MetricType {
		return fmt.Errorf("gap %s spans two series", gap.String())
	}
	return nil
}

var _ GapFiller = (*LinearFiller)(nil)
