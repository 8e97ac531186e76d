package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCategorizeGap(t *testing.T) {
	tests := []struct {
		hours float64
		want  GapCategory
	}{
		{1.6, GapShort},
		{2, GapShort},
		{2.01, GapMedium},
		{5, GapMedium},
		{10, GapMedium},
		{10.5, GapLong},
		{48, GapLong},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, CategorizeGap(tt.hours), "hours=%v", tt.hours)
	}
}

func TestNewGap(t *testing.T) {
	start := NewRealPoint(baseTime, "user_1", MetricHeartRate, 10)

	t.Run("classifies and truncates", func(t *testing.T) {
		end := NewRealPoint(baseTime.Add(3*time.Hour+30*time.Minute), "user_1", MetricHeartRate, 40)
		gap, err := NewGap(start, end)
		require.NoError(t, err)

		assert.Equal(t, 3.5, gap.DurationHours)
		assert.Equal(t, GapMedium, gap.Category)
		assert.Equal(t, 3, gap.TruncatedHours())
		assert.True(t, gap.Fillable())
	})

	t.Run("end before start", func(t *testing.T) {
		end := NewRealPoint(baseTime.Add(-time.Hour), "user_1", MetricHeartRate, 40)
		_, err := NewGap(start, end)
		assert.Error(t, err)
	})

	t.Run("imputed bound rejected", func(t *testing.T) {
		end := NewImputedPoint(baseTime.Add(3*time.Hour), "user_1", MetricHeartRate, 40, MethodLinear, 3)
		_, err := NewGap(start, end)
		assert.Error(t, err)
	})

	t.Run("long gap is not fillable", func(t *testing.T) {
		end := NewRealPoint(baseTime.Add(15*time.Hour), "user_1", MetricHeartRate, 40)
		gap, err := NewGap(start, end)
		require.NoError(t, err)
		assert.Equal(t, GapLong, gap.Category)
		assert.False(t, gap.Fillable())
	})
}

func TestGapMissingHours(t *testing.T) {
	start := NewRealPoint(baseTime, "user_1", MetricHeartRate, 10)
	end := NewRealPoint(baseTime.Add(3*time.Hour), "user_1", MetricHeartRate, 40)
	gap, err := NewGap(start, end)
	require.NoError(t, err)

	hours := gap.MissingHours()
	require.Len(t, hours, 2)
	assert.Equal(t, baseTime.Add(time.Hour), hours[0])
	assert.Equal(t, baseTime.Add(2*time.Hour), hours[1])

	report := gap.Report()
	assert.Equal(t, 3, report.GapDurationHours)
	assert.Equal(t, GapMedium, report.GapType)
	assert.Equal(t, baseTime, report.GapStart)
}

func TestGapReportsNeverNil(t *testing.T) {
	assert.NotNil(t, GapReports(nil))
	assert.Empty(t, GapReports(nil))
}
