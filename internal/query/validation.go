package query

import (
	"fmt"
	"strings"
	"time"

	"github.com/johnayoung/go-health-series/internal/models"
)

// timestampLayouts are the ISO-8601 forms accepted for request dates.
// Layouts without a zone are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTimestamp parses an ISO-8601 timestamp. A trailing Z or an explicit
// offset is honored; a naive value is taken as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid ISO 8601 timestamp %q", s)
}

// DateRules enforces the window constraints shared by data queries and
// synthetic generation. Comparisons happen in Location.
type DateRules struct {
	Location     *time.Location
	MaxRangeDays int
	Now          func() time.Time
}

// NewDateRules creates rules for the named zone.
func NewDateRules(timezone string, maxRangeDays int) (DateRules, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return DateRules{}, fmt.Errorf("invalid validation timezone %q: %w", timezone, err)
	}
	return DateRules{Location: loc, MaxRangeDays: maxRangeDays, Now: time.Now}, nil
}

// Validate rejects windows that end in the future, are empty or inverted,
// or span more than MaxRangeDays.
func (r DateRules) Validate(start, end time.Time) error {
	loc := r.Location
	if loc == nil {
		loc = time.UTC
	}
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}

	current := now().In(loc)
	if end.In(loc).After(current) {
		return invalid("end_date", "End date cannot be later than %s", current.Format("2006-01-02 15:04:05 MST"))
	}
	if !start.Before(end) {
		return invalid("start_date", "Start date must be before end date")
	}
	if r.MaxRangeDays > 0 && end.Sub(start) > time.Duration(r.MaxRangeDays)*24*time.Hour {
		return invalid("end_date", "Date range cannot exceed %d days", r.MaxRangeDays)
	}
	return nil
}

func invalid(field, format string, args ...any) error {
	return &models.ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}
