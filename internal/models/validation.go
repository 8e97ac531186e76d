package models

import (
	"errors"
	"fmt"
)

// ValidationError represents a validation failure with the offending field.
type ValidationError struct {
	Field   string // Field is the name of the field that failed validation
	Message string // Message explains the failure
}

// Error implements the error interface for ValidationError.
func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field %s: %s", e.Field, e.Message)
}

// IsValidationError reports whether err wraps a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// DataSummary carries the counts recomputed after every query.
type DataSummary struct {
	TotalPoints          int     `json:"total_points"`
	RealPoints           int     `json:"real_points"`
	ImputedPoints        int     `json:"imputed_points"`
	ImputationPercentage float64 `json:"imputation_percentage"`
}

// Summarize counts real and imputed points. The percentage is rounded to
// one decimal place and is zero for an empty set.
func Summarize(points []DataPoint) DataSummary {
	summary := DataSummary{TotalPoints: len(points)}
	for _, p := range points {
		if p.IsImputed {
			summary.ImputedPoints++
		}
	}
	summary.RealPoints = summary.TotalPoints - summary.ImputedPoints
	if summary.TotalPoints > 0 {
		summary.ImputationPercentage = RoundTo(float64(summary.ImputedPoints)/float64(summary.TotalPoints)*100, 1)
	}
	return summary
}
