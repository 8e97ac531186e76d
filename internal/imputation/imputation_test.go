package imputation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/johnayoung/go-health-series/internal/models"
	"github.com/johnayoung/go-health-series/internal/storage"
)

// MockHistory implements HistorySource.
type MockHistory struct {
	mock.Mock
}

func (m *MockHistory) QueryReal(ctx context.Context, userID string, metric models.MetricType, start, end time.Time) ([]models.DataPoint, error) {
	args := m.Called(ctx, userID, metric, start, end)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.DataPoint), args.Error(1)
}

// MockWriter implements storage.PointWriter.
type MockWriter struct {
	mock.Mock
}

func (m *MockWriter) StoreReal(ctx context.Context, points []models.DataPoint) (int64, error) {
	args := m.Called(ctx, points)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockWriter) UpsertImputed(ctx context.Context, points []models.DataPoint) (int64, error) {
	args := m.Called(ctx, points)
	return args.Get(0).(int64), args.Error(1)
}

// countingRecorder implements Recorder.
type countingRecorder struct {
	imputed  map[string]int
	failures map[string]int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{imputed: map[string]int{}, failures: map[string]int{}}
}

func (r *countingRecorder) RecordImputed(metric, method string, n int) { r.imputed[method] += n }
func (r *countingRecorder) RecordImputationFailure(stage string)      { r.failures[stage]++ }

var day0 = time.Date(2024, 5, 20, 0, 0, 0, 0, time.UTC)

func measured(hour float64, value float64) models.DataPoint {
	return models.NewRealPoint(day0.Add(time.Duration(hour*float64(time.Hour))), "user_1", models.MetricHeartRate, value)
}

func mustGap(t *testing.T, start, end models.DataPoint) models.Gap {
	t.Helper()
	gap, err := models.NewGap(start, end)
	require.NoError(t, err)
	return *gap
}

func TestLinearFiller_Fill(t *testing.T) {
	tests := []struct {
		name       string
		start, end models.DataPoint
		want       []float64
	}{
		{name: "two hour gap", start: measured(0, 10), end: measured(2, 20), want: []float64{15}},
		{name: "descending values", start: measured(0, 60), end: measured(3, 0), want: []float64{40, 20}},
		{name: "rounds to two decimals", start: measured(0, 0), end: measured(3, 1), want: []float64{0.33, 0.67}},
		{name: "unaligned end", start: measured(0, 0), end: measured(2.5, 50), want: []float64{20, 40}},
	}

	filler := NewLinearFiller()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := filler.Fill(context.Background(), mustGap(t, tt.start, tt.end))
			require.Equal(t, models.ResultSuccess, result.Status)
			require.Len(t, result.Points, len(tt.want))

			for i, p := range result.Points {
				assert.Equal(t, tt.want[i], p.Value)
				assert.True(t, p.Timestamp.Equal(tt.start.Timestamp.Add(time.Duration(i+1)*time.Hour)))
				assert.True(t, p.IsImputed)
				assert.Equal(t, models.MethodLinear, p.ImputationMethod)
				require.NotNil(t, p.GapDurationHours)
				assert.Equal(t, int(tt.end.Timestamp.Sub(tt.start.Timestamp).Hours()), *p.GapDurationHours)
				assert.NoError(t, p.Validate())
			}
		})
	}
}

func TestLinearFiller_InvalidGap(t *testing.T) {
	gap := models.Gap{StartPoint: measured(3, 1), EndPoint: measured(1, 1), Category: models.GapShort}
	result := NewLinearFiller().Fill(context.Background(), gap)
	assert.True(t, result.Failed())
	assert.Empty(t, result.Points)
}

func TestPatternPredictor_FallsBackWithoutHistory(t *testing.T) {
	ctx := context.Background()
	gap := mustGap(t, measured(0, 10), measured(3, 40))

	history := new(MockHistory)
	history.On("QueryReal", ctx, "user_1", models.MetricHeartRate,
		gap.Start().Add(-14*24*time.Hour), gap.End().Add(-24*time.Hour)).Return([]models.DataPoint{}, nil).Once()

	result := NewPatternPredictor(history).Fill(ctx, gap)
	require.Equal(t, models.ResultSuccess, result.Status)
	require.Len(t, result.Points, 2)
	assert.Equal(t, 20.0, result.Points[0].Value)
	assert.Equal(t, 30.0, result.Points[1].Value)
	for _, p := range result.Points {
		assert.Equal(t, models.MethodLinearFallback, p.ImputationMethod)
		assert.Equal(t, 3, *p.GapDurationHours)
	}
	history.AssertExpectations(t)
}

func TestPatternPredictor_RenormalizesWeights(t *testing.T) {
	ctx := context.Background()
	gap := mustGap(t, measured(10, 10), measured(14, 50))

	oneDay := -24 * time.Hour
	sevenDays := -7 * 24 * time.Hour
	points := []models.DataPoint{
		models.NewRealPoint(day0.Add(oneDay+12*time.Hour), "user_1", models.MetricHeartRate, 100),
		models.NewRealPoint(day0.Add(sevenDays+12*time.Hour), "user_1", models.MetricHeartRate, 40),
		// outside every window
		models.NewRealPoint(day0.Add(-3*24*time.Hour+12*time.Hour), "user_1", models.MetricHeartRate, 1000),
		// imputed history never counts
		models.NewImputedPoint(day0.Add(oneDay+13*time.Hour), "user_1", models.MetricHeartRate, 999, models.MethodLinear, 3),
	}

	history := new(MockHistory)
	history.On("QueryReal", ctx, "user_1", models.MetricHeartRate, mock.Anything, mock.Anything).Return(points, nil).Once()

	result := NewPatternPredictor(history).Fill(ctx, gap)
	require.Equal(t, models.ResultSuccess, result.Status)
	require.Len(t, result.Points, 3)

	// (0.4*100 + 0.25*40) / (0.4 + 0.25)
	for _, p := range result.Points {
		assert.Equal(t, 76.92, p.Value)
		assert.Equal(t, models.MethodPatternBased, p.ImputationMethod)
		assert.Equal(t, 4, *p.GapDurationHours)
	}
}

func TestPatternPredictor_MixesPatternAndFallback(t *testing.T) {
	ctx := context.Background()
	gap := mustGap(t, measured(10, 10), measured(14, 50))

	history := new(MockHistory)
	history.On("QueryReal", ctx, "user_1", models.MetricHeartRate, mock.Anything, mock.Anything).Return([]models.DataPoint{
		models.NewRealPoint(day0.Add(-24*time.Hour+10*time.Hour), "user_1", models.MetricHeartRate, 100),
	}, nil)

	result := NewPatternPredictor(history).Fill(ctx, gap)
	require.Len(t, result.Points, 3)

	assert.Equal(t, 100.0, result.Points[0].Value)
	assert.Equal(t, models.MethodPatternBased, result.Points[0].ImputationMethod)

	assert.Equal(t, 30.0, result.Points[1].Value)
	assert.Equal(t, models.MethodLinearFallback, result.Points[1].ImputationMethod)

	assert.Equal(t, 40.0, result.Points[2].Value)
	assert.Equal(t, models.MethodLinearFallback, result.Points[2].ImputationMethod)
}

func TestPatternPredictor_HistoryErrorDegrades(t *testing.T) {
	ctx := context.Background()
	gap := mustGap(t, measured(0, 10), measured(3, 40))

	history := new(MockHistory)
	history.On("QueryReal", ctx, "user_1", models.MetricHeartRate, mock.Anything, mock.Anything).Return(nil, errors.New("connection reset"))

	result := NewPatternPredictor(history).Fill(ctx, gap)
	assert.Equal(t, models.ResultPartial, result.Status)
	assert.Error(t, result.Err)
	require.Len(t, result.Points, 2)
	assert.Equal(t, models.MethodLinearFallback, result.Points[0].ImputationMethod)
}

func TestPatternPredictor_Predict(t *testing.T) {
	p := NewPatternPredictor(nil)
	at := func(hour int, value float64) models.DataPoint {
		return models.NewRealPoint(day0.Add(time.Duration(hour)*time.Hour), "user_1", models.MetricHeartRate, value)
	}

	t.Run("averages matches within one hour", func(t *testing.T) {
		windows := [][]models.DataPoint{{at(9, 10), at(10, 20), at(11, 30), at(12, 1000)}}
		value, ok := p.Predict(day0.Add(10*time.Hour), windows)
		require.True(t, ok)
		assert.InDelta(t, 20.0, value, 1e-9)
	})

	t.Run("no wraparound at midnight", func(t *testing.T) {
		windows := [][]models.DataPoint{{at(23, 50)}}
		_, ok := p.Predict(day0, windows)
		assert.False(t, ok)
	})

	t.Run("all four offsets", func(t *testing.T) {
		windows := [][]models.DataPoint{{at(5, 10)}, {at(5, 20)}, {at(5, 30)}, {at(5, 40)}}
		value, ok := p.Predict(day0.Add(5*time.Hour), windows)
		require.True(t, ok)
		assert.InDelta(t, 0.4*10+0.25*20+0.25*30+0.1*40, value, 1e-9)
	})

	t.Run("hour of day follows the configured zone", func(t *testing.T) {
		tokyo := time.FixedZone("JST", 9*60*60)
		zoned := NewPatternPredictor(nil, WithLocation(tokyo))

		// 15:00 UTC is 00:00 in Tokyo; 14:00 UTC is 23:00 in Tokyo.
		windows := [][]models.DataPoint{{at(14, 50)}}
		_, ok := zoned.Predict(day0.Add(15*time.Hour), windows)
		assert.False(t, ok)

		_, ok = p.Predict(day0.Add(15*time.Hour), windows)
		assert.True(t, ok)
	})
}

func TestPersister(t *testing.T) {
	ctx := context.Background()
	gap := mustGap(t, measured(0, 10), measured(3, 40))
	points := NewLinearFiller().Fill(ctx, gap).Points

	t.Run("writes through storage", func(t *testing.T) {
		store := storage.NewMemoryStorage()
		require.NoError(t, store.Initialize(ctx))

		result := NewPersister(store, nil).Persist(ctx, points)
		assert.Equal(t, models.ResultSuccess, result.Status)
		assert.Equal(t, int64(2), result.Written)

		again := NewPersister(store, nil).Persist(ctx, points)
		assert.Equal(t, models.ResultSuccess, again.Status)

		resp, err := store.Query(ctx, storage.QueryRequest{
			UserID: "user_1", Metric: models.MetricHeartRate,
			Start: day0, End: day0.Add(3 * time.Hour), IncludeImputed: true,
		})
		require.NoError(t, err)
		assert.Len(t, resp.Points, 2)
	})

	t.Run("failure is reported not raised", func(t *testing.T) {
		writer := new(MockWriter)
		writer.On("UpsertImputed", ctx, points).Return(int64(0), errors.New("disk full"))
		recorder := newCountingRecorder()

		result := NewPersister(writer, recorder).Persist(ctx, points)
		assert.True(t, result.Failed())
		assert.Equal(t, 2, result.Attempted)
		assert.ErrorContains(t, result.Err, "disk full")
		assert.Equal(t, 1, recorder.failures["persist"])
	})

	t.Run("empty batch", func(t *testing.T) {
		writer := new(MockWriter)
		result := NewPersister(writer, nil).Persist(ctx, nil)
		assert.Equal(t, models.ResultSuccess, result.Status)
		writer.AssertNotCalled(t, "UpsertImputed", mock.Anything, mock.Anything)
	})
}

// panicFiller implements GapFiller.
type panicFiller struct{}

func (panicFiller) Fill(context.Context, models.Gap) FillResult { panic("boom") }

func TestEngine_FillGaps(t *testing.T) {
	ctx := context.Background()
	history := new(MockHistory)
	history.On("QueryReal", ctx, "user_1", models.MetricHeartRate, mock.Anything, mock.Anything).Return([]models.DataPoint{}, nil)

	recorder := newCountingRecorder()
	engine := NewEngine(NewLinearFiller(), NewPatternPredictor(history), recorder)

	gaps := []models.Gap{
		mustGap(t, measured(0, 10), measured(2, 20)),  // short
		mustGap(t, measured(2, 20), measured(6, 60)),  // medium
		mustGap(t, measured(6, 60), measured(21, 10)), // long
	}

	points, results := engine.FillGaps(ctx, gaps)
	require.Len(t, results, 3)
	assert.Len(t, points, 1+3)
	assert.Empty(t, results[2].Points)

	assert.Equal(t, models.MethodLinear, points[0].ImputationMethod)
	for _, p := range points[1:] {
		assert.Equal(t, models.MethodLinearFallback, p.ImputationMethod)
	}

	stats := engine.Stats()
	assert.Equal(t, int64(2), stats.GapsFilled)
	assert.Equal(t, int64(1), stats.GapsSkipped)
	assert.Equal(t, int64(4), stats.PointsImputed)

	assert.Equal(t, 1, recorder.imputed[string(models.MethodLinear)])
	assert.Equal(t, 3, recorder.imputed[string(models.MethodLinearFallback)])
}

func TestEngine_RecoversFromPanickingFiller(t *testing.T) {
	ctx := context.Background()
	recorder := newCountingRecorder()
	engine := NewEngine(panicFiller{}, NewLinearFiller(), recorder)

	gaps := []models.Gap{
		mustGap(t, measured(0, 10), measured(2, 20)),
		mustGap(t, measured(2, 20), measured(5, 50)),
	}

	points, results := engine.FillGaps(ctx, gaps)
	require.Len(t, results, 2)
	assert.True(t, results[0].Failed())
	assert.ErrorContains(t, results[0].Err, "boom")
	assert.Len(t, points, 2)
	assert.Equal(t, int64(1), engine.Stats().GapsFailed)
	assert.Equal(t, 1, recorder.failures["fill"])
}
