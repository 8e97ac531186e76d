package models

import "fmt"

// MetricType names one of the intraday health metrics collected per user.
type MetricType string

const (
	MetricHeartRate         MetricType = "intraday_heart_rate"
	MetricBreathRate        MetricType = "intraday_breath_rate"
	MetricActiveZoneMinutes MetricType = "intraday_active_zone_minutes"
	MetricActivity          MetricType = "intraday_activity"
	MetricHRV               MetricType = "intraday_hrv"
	MetricSpO2              MetricType = "intraday_spo2"
)

// AllMetrics lists the catalogue in its canonical order. The order matters:
// the synthetic generator seeds each metric with its index.
var AllMetrics = []MetricType{
	MetricHeartRate,
	MetricBreathRate,
	MetricActiveZoneMinutes,
	MetricActivity,
	MetricHRV,
	MetricSpO2,
}

// IsValid reports whether m belongs to the catalogue.
func (m MetricType) IsValid() bool {
	for _, known := range AllMetrics {
		if m == known {
			return true
		}
	}
	return false
}

// ParseMetricType converts a raw string into a known MetricType.
func ParseMetricType(s string) (MetricType, error) {
	m := MetricType(s)
	if !m.IsValid() {
		return "", &ValidationError{Field: "metric", Message: fmt.Sprintf("Unknown metric '%s'", s)}
	}
	return m, nil
}

// MetricNames returns the catalogue as plain strings.
func MetricNames() []string {
	names := make([]string, len(AllMetrics))
	for i, m := range AllMetrics {
		names[i] = string(m)
	}
	return names
}
