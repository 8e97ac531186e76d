package models

import (
	"errors"
	"fmt"
	"time"
)

// GapCategory is the severity tier of a gap. It decides which fill
// strategy applies.
type GapCategory string

const (
	// GapShort covers gaps up to ShortGapMaxHours; filled by linear interpolation
	GapShort GapCategory = "short"
	// GapMedium covers gaps up to MediumGapMaxHours; filled from historical patterns
	GapMedium GapCategory = "medium"
	// GapLong covers anything longer; reported but never filled
	GapLong GapCategory = "long"
)

const (
	ShortGapMaxHours  = 2.0
	MediumGapMaxHours = 10.0
)

// CategorizeGap maps an unrounded duration in hours onto its tier.
func CategorizeGap(hours float64) GapCategory {
	switch {
	case hours <= ShortGapMaxHours:
		return GapShort
	case hours <= MediumGapMaxHours:
		return GapMedium
	default:
		return GapLong
	}
}

// Gap is a missing interval bounded by two real points. Gaps are computed
// per request and never stored.
type Gap struct {
	StartPoint    DataPoint   `json:"start_point"`
	EndPoint      DataPoint   `json:"end_point"`
	DurationHours float64     `json:"duration_hours"`
	Category      GapCategory `json:"category"`
}

// NewGap builds a gap between two real points and classifies it.
func NewGap(start, end DataPoint) (*Gap, error) {
	gap := &Gap{StartPoint: start, EndPoint: end}
	if err := gap.validateBounds(); err != nil {
		return nil, fmt.Errorf("invalid gap: %w", err)
	}

	gap.DurationHours = end.Timestamp.Sub(start.Timestamp).Hours()
	gap.Category = CategorizeGap(gap.DurationHours)
	return gap, nil
}

func (g *Gap) validateBounds() error {
	if g.StartPoint.Timestamp.IsZero() {
		return errors.New("gap start time cannot be zero")
	}
	if g.EndPoint.Timestamp.IsZero() {
		return errors.New("gap end time cannot be zero")
	}
	if !g.EndPoint.Timestamp.After(g.StartPoint.Timestamp) {
		return errors.New("gap end time must be after start time")
	}
	if g.StartPoint.IsImputed || g.EndPoint.IsImputed {
		return errors.New("gap must be bounded by real points")
	}
	return nil
}

// Start returns the timestamp of the bounding point before the gap.
func (g *Gap) Start() time.Time { return g.StartPoint.Timestamp }

// End returns the timestamp of the bounding point after the gap.
func (g *Gap) End() time.Time { return g.EndPoint.Timestamp }

// Duration returns the exact length of the gap.
func (g *Gap) Duration() time.Duration { return g.End().Sub(g.Start()) }

// TruncatedHours is the whole-hour duration stamped on every point that
// fills this gap.
func (g *Gap) TruncatedHours() int { return int(g.DurationHours) }

// MissingHours lists the hour steps strictly between the bounding points,
// starting one hour after the start.
func (g *Gap) MissingHours() []time.Time {
	var hours []time.Time
	for ts := g.Start().Add(ExpectedInterval); ts.Before(g.End()); ts = ts.Add(ExpectedInterval) {
		hours = append(hours, ts)
	}
	return hours
}

// Fillable reports whether the gap's tier permits synthesis.
func (g *Gap) Fillable() bool {
	return g.Category == GapShort || g.Category == GapMedium
}

// String returns a compact representation for logs.
func (g *Gap) String() string {
	return fmt.Sprintf("Gap{%s -> %s, %.2fh, %s}",
		g.Start().Format(time.RFC3339), g.End().Format(time.RFC3339), g.DurationHours, g.Category)
}

// GapReport is the observable form of a gap returned to API callers.
type GapReport struct {
	GapStart         time.Time   `json:"gap_start"`
	GapEnd           time.Time   `json:"gap_end"`
	GapDurationHours int         `json:"gap_duration_hours"`
	GapType          GapCategory `json:"gap_type"`
}

// Report converts the gap into its API form.
func (g *Gap) Report() GapReport {
	return GapReport{
		GapStart:         g.Start(),
		GapEnd:           g.End(),
		GapDurationHours: g.TruncatedHours(),
		GapType:          g.Category,
	}
}

// GapReports converts a slice of gaps, never returning nil.
func GapReports(gaps []Gap) []GapReport {
	reports := make([]GapReport, 0, len(gaps))
	for i := range gaps {
		reports = append(reports, gaps[i].Report())
	}
	return reports
}
