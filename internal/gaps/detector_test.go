package gaps

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/johnayoung/go-health-series/internal/models"
	"github.com/johnayoung/go-health-series/internal/storage"
)

// MockReader implements storage.PointReader.
type MockReader struct {
	mock.Mock
}

func (m *MockReader) Query(ctx context.Context, req storage.QueryRequest) (*storage.QueryResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*storage.QueryResponse), args.Error(1)
}

func (m *MockReader) QueryReal(ctx context.Context, userID string, metric models.MetricType, start, end time.Time) ([]models.DataPoint, error) {
	args := m.Called(ctx, userID, metric, start, end)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.DataPoint), args.Error(1)
}

func (m *MockReader) ListMetrics(ctx context.Context) ([]models.MetricType, error) {
	args := m.Called(ctx)
	return args.Get(0).([]models.MetricType), args.Error(1)
}

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// at builds real heart-rate points at the given minute offsets.
func at(minutes ...int) []models.DataPoint {
	points := make([]models.DataPoint, 0, len(minutes))
	for _, m := range minutes {
		points = append(points, models.NewRealPoint(t0.Add(time.Duration(m)*time.Minute), "user_1", models.MetricHeartRate, 70))
	}
	return points
}

func TestDetectInSequence(t *testing.T) {
	tests := []struct {
		name       string
		points     []models.DataPoint
		wantGaps   []models.GapCategory
		wantStatus models.ResultStatus
	}{
		{
			name:       "empty sequence",
			points:     nil,
			wantStatus: models.ResultSuccess,
		},
		{
			name:       "single point",
			points:     at(0),
			wantStatus: models.ResultSuccess,
		},
		{
			name:       "regular hourly series",
			points:     at(0, 60, 120, 180),
			wantStatus: models.ResultSuccess,
		},
		{
			name:       "ninety minutes is within tolerance",
			points:     at(0, 90),
			wantStatus: models.ResultSuccess,
		},
		{
			name:       "ninety one minutes is a short gap",
			points:     at(0, 91),
			wantGaps:   []models.GapCategory{models.GapShort},
			wantStatus: models.ResultSuccess,
		},
		{
			name:       "three hours is medium",
			points:     at(0, 180),
			wantGaps:   []models.GapCategory{models.GapMedium},
			wantStatus: models.ResultSuccess,
		},
		{
			name:       "ten hours is medium",
			points:     at(0, 600),
			wantGaps:   []models.GapCategory{models.GapMedium},
			wantStatus: models.ResultSuccess,
		},
		{
			name:       "over ten hours is long",
			points:     at(0, 601),
			wantGaps:   []models.GapCategory{models.GapLong},
			wantStatus: models.ResultSuccess,
		},
		{
			name:       "multiple gaps in order",
			points:     at(0, 60, 240, 300, 1200),
			wantGaps:   []models.GapCategory{models.GapMedium, models.GapLong},
			wantStatus: models.ResultSuccess,
		},
	}

	detector := NewGapDetector(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := detector.DetectInSequence(context.Background(), tt.points)

			assert.Equal(t, tt.wantStatus, result.Status)
			require.Len(t, result.Gaps, len(tt.wantGaps))
			for i, want := range tt.wantGaps {
				assert.Equal(t, want, result.Gaps[i].Category)
			}
		})
	}
}

func TestDetectInSequence_GapBounds(t *testing.T) {
	detector := NewGapDetector(nil)
	points := at(0, 60, 330)

	result := detector.DetectInSequence(context.Background(), points)
	require.Len(t, result.Gaps, 1)

	gap := result.Gaps[0]
	assert.True(t, gap.Start().Equal(t0.Add(time.Hour)))
	assert.True(t, gap.End().Equal(t0.Add(330*time.Minute)))
	assert.InDelta(t, 4.5, gap.DurationHours, 1e-9)
	assert.Equal(t, 4, gap.TruncatedHours())
	assert.Equal(t, models.GapMedium, gap.Category)
}

func TestDetectInSequence_TwoHourBoundary(t *testing.T) {
	detector := NewGapDetector(nil)

	result := detector.DetectInSequence(context.Background(), at(0, 120))
	require.Len(t, result.Gaps, 1)
	assert.Equal(t, models.GapShort, result.Gaps[0].Category)
}

func TestDetectInSequence_IgnoresImputedPoints(t *testing.T) {
	detector := NewGapDetector(nil)
	points := at(0)
	points = append(points,
		models.NewImputedPoint(t0.Add(time.Hour), "user_1", models.MetricHeartRate, 70, models.MethodLinear, 3),
		models.NewImputedPoint(t0.Add(2*time.Hour), "user_1", models.MetricHeartRate, 70, models.MethodLinear, 3),
	)
	points = append(points, at(180)...)

	result := detector.DetectInSequence(context.Background(), points)
	assert.Equal(t, models.ResultSuccess, result.Status)
	require.Len(t, result.Gaps, 1)
	assert.Equal(t, 3.0, result.Gaps[0].DurationHours)
}

func TestDetectInSequence_MalformedPairs(t *testing.T) {
	detector := NewGapDetector(nil)

	t.Run("non-finite value", func(t *testing.T) {
		points := at(0, 60, 300)
		points[1].Value = math.NaN()

		result := detector.DetectInSequence(context.Background(), points)
		assert.Equal(t, models.ResultPartial, result.Status)
		assert.Equal(t, 2, result.Skipped)
		assert.Empty(t, result.Gaps)
	})

	t.Run("out of order", func(t *testing.T) {
		points := at(0, 300, 240, 600)

		result := detector.DetectInSequence(context.Background(), points)
		assert.Equal(t, models.ResultPartial, result.Status)
		assert.Equal(t, 1, result.Skipped)
		assert.Len(t, result.Gaps, 2)
	})

	t.Run("zero timestamp", func(t *testing.T) {
		points := at(0, 300)
		points = append(points, models.DataPoint{UserID: "user_1", MetricType: models.MetricHeartRate})

		result := detector.DetectInSequence(context.Background(), points)
		assert.Equal(t, models.ResultPartial, result.Status)
		assert.Len(t, result.Gaps, 1)
	})
}

func TestDetectInSequence_MixedSeriesFails(t *testing.T) {
	detector := NewGapDetector(nil)
	points := at(0, 300)
	points[1].UserID = "user_2"

	result := detector.DetectInSequence(context.Background(), points)
	assert.True(t, result.Failed())
	assert.Error(t, result.Err)
	assert.Empty(t, result.Gaps)
}

func TestDetectInSequence_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := NewGapDetector(nil).DetectInSequence(ctx, at(0, 300))
	assert.True(t, result.Failed())
	assert.ErrorIs(t, result.Err, context.Canceled)
}

func TestDetectInRange(t *testing.T) {
	ctx := context.Background()
	start, end := t0, t0.Add(24*time.Hour)

	t.Run("reads real points from storage", func(t *testing.T) {
		reader := new(MockReader)
		reader.On("QueryReal", ctx, "user_1", models.MetricHeartRate, start, end).Return(at(0, 60, 600), nil)

		result, err := NewGapDetector(reader).DetectInRange(ctx, "user_1", models.MetricHeartRate, start, end)
		require.NoError(t, err)
		require.Len(t, result.Gaps, 1)
		assert.Equal(t, models.GapMedium, result.Gaps[0].Category)
		reader.AssertExpectations(t)
	})

	t.Run("storage error", func(t *testing.T) {
		reader := new(MockReader)
		reader.On("QueryReal", ctx, "user_1", models.MetricHeartRate, start, end).Return(nil, errors.New("connection refused"))

		_, err := NewGapDetector(reader).DetectInRange(ctx, "user_1", models.MetricHeartRate, start, end)
		assert.ErrorContains(t, err, "connection refused")
	})

	t.Run("no reader", func(t *testing.T) {
		_, err := NewGapDetector(nil).DetectInRange(ctx, "user_1", models.MetricHeartRate, start, end)
		assert.Error(t, err)
	})
}

func TestDetectionResult_CountByCategory(t *testing.T) {
	result := NewGapDetector(nil).DetectInSequence(context.Background(), at(0, 120, 600, 1500, 2200))
	counts := result.CountByCategory()

	assert.Equal(t, 1, counts[models.GapShort])
	assert.Equal(t, 1, counts[models.GapMedium])
	assert.Equal(t, 2, counts[models.GapLong])
}
