// Package models provides the data structures and validation for hourly
// health-metric time series: data points, metric types, imputation methods,
// detected gaps and users.
package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ExpectedInterval is the baseline cadence of a real series.
const ExpectedInterval = time.Hour

// ImputationMethod records how a data point came to exist.
type ImputationMethod string

const (
	MethodNone           ImputationMethod = "none"            // MethodNone marks a measured point
	MethodLinear         ImputationMethod = "linear"          // MethodLinear marks straight-line interpolation
	MethodPatternBased   ImputationMethod = "pattern_based"   // MethodPatternBased marks a historical-pattern prediction
	MethodLinearFallback ImputationMethod = "linear_fallback" // MethodLinearFallback marks interpolation used when no history matched
)

// IsValid reports whether the method is one of the known imputation methods.
func (m ImputationMethod) IsValid() bool {
	switch m {
	case MethodNone, MethodLinear, MethodPatternBased, MethodLinearFallback:
		return true
	}
	return false
}

// MarshalJSON writes real points as null to keep the wire format of the
// data endpoint stable.
func (m ImputationMethod) MarshalJSON() ([]byte, error) {
	if m == "" || m == MethodNone {
		return []byte("null"), nil
	}
	return []byte(`"` + string(m) + `"`), nil
}

// UnmarshalJSON accepts null as MethodNone.
func (m *ImputationMethod) UnmarshalJSON(data []byte) error {
	s := string(data)
	if s == "null" || s == `""` {
		*m = MethodNone
		return nil
	}
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return fmt.Errorf("invalid imputation method: %s", s)
	}
	method := ImputationMethod(s[1 : len(s)-1])
	if !method.IsValid() {
		return fmt.Errorf("invalid imputation method: %s", method)
	}
	*m = method
	return nil
}

// DataPoint is one observation or synthesized value for a user and metric.
type DataPoint struct {
	Timestamp        time.Time        `json:"timestamp" db:"timestamp"`
	UserID           string           `json:"user_id" db:"user_id"`
	MetricType       MetricType       `json:"metric_type" db:"metric_type"`
	Value            float64          `json:"value" db:"value"`
	IsImputed        bool             `json:"is_imputed" db:"is_imputed"`
	ImputationMethod ImputationMethod `json:"imputation_method" db:"imputation_method"`
	GapDurationHours *int             `json:"gap_duration_hours" db:"gap_duration_hours"`
}

// NewRealPoint creates a measured data point.
func NewRealPoint(ts time.Time, userID string, metric MetricType, value float64) DataPoint {
	return DataPoint{
		Timestamp:        ts,
		UserID:           userID,
		MetricType:       metric,
		Value:            value,
		ImputationMethod: MethodNone,
	}
}

// NewImputedPoint creates a synthesized data point tagged with the method
// and the truncated duration of the gap it fills. The value is rounded to
// two decimal places.
func NewImputedPoint(ts time.Time, userID string, metric MetricType, value float64, method ImputationMethod, gapHours int) DataPoint {
	hours := gapHours
	return DataPoint{
		Timestamp:        ts,
		UserID:           userID,
		MetricType:       metric,
		Value:            RoundValue(value),
		IsImputed:        true,
		ImputationMethod: method,
		GapDurationHours: &hours,
	}
}

// Key returns the uniqueness key of the point.
func (p DataPoint) Key() PointKey {
	return PointKey{Timestamp: p.Timestamp.UTC(), UserID: p.UserID, MetricType: p.MetricType}
}

// PointKey is the (timestamp, user, metric) triple that identifies at most
// one stored value.
type PointKey struct {
	Timestamp  time.Time
	UserID     string
	MetricType MetricType
}

// Validate checks field presence and the consistency between IsImputed,
// ImputationMethod and GapDurationHours.
func (p *DataPoint) Validate() error {
	if p.Timestamp.IsZero() {
		return &ValidationError{Field: "timestamp", Message: "timestamp cannot be zero"}
	}
	if p.UserID == "" {
		return &ValidationError{Field: "user_id", Message: "user_id cannot be empty"}
	}
	if p.MetricType == "" {
		return &ValidationError{Field: "metric_type", Message: "metric_type cannot be empty"}
	}

	method := p.ImputationMethod
	if method == "" {
		method = MethodNone
	}
	if !method.IsValid() {
		return &ValidationError{Field: "imputation_method", Message: fmt.Sprintf("unknown method %q", method)}
	}

	if p.IsImputed {
		if method == MethodNone {
			return &ValidationError{Field: "imputation_method", Message: "imputed point must carry an imputation method"}
		}
		if p.GapDurationHours == nil {
			return &ValidationError{Field: "gap_duration_hours", Message: "imputed point must carry its gap duration"}
		}
	} else {
		if method != MethodNone {
			return &ValidationError{Field: "imputation_method", Message: "real point cannot carry an imputation method"}
		}
		if p.GapDurationHours != nil {
			return &ValidationError{Field: "gap_duration_hours", Message: "real point cannot carry a gap duration"}
		}
	}

	return nil
}

// String returns a compact representation for logs.
func (p DataPoint) String() string {
	if p.IsImputed {
		return fmt.Sprintf("DataPoint{%s %s %s value=%.2f imputed=%s}",
			p.Timestamp.Format(time.RFC3339), p.UserID, p.MetricType, p.Value, p.ImputationMethod)
	}
	return fmt.Sprintf("DataPoint{%s %s %s value=%.2f}",
		p.Timestamp.Format(time.RFC3339), p.UserID, p.MetricType, p.Value)
}

// RoundValue rounds a measurement to two decimal places.
func RoundValue(v float64) float64 {
	return RoundTo(v, 2)
}

// RoundTo rounds v half away from zero to the given number of places.
func RoundTo(v float64, places int32) float64 {
	return decimal.NewFromFloat(v).Round(places).InexactFloat64()
}

// SplitByImputation partitions points into measured and synthesized subsets,
// preserving order.
func SplitByImputation(points []DataPoint) (measured, imputed []DataPoint) {
	measured = make([]DataPoint, 0, len(points))
	for _, p := range points {
		if p.IsImputed {
			imputed = append(imputed, p)
			continue
		}
		measured = append(measured, p)
	}
	return measured, imputed
}
