package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/johnayoung/go-health-series/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func hourly(userID string, metric models.MetricType, hours ...int) []models.DataPoint {
	points := make([]models.DataPoint, 0, len(hours))
	for _, h := range hours {
		points = append(points, models.NewRealPoint(baseTime.Add(time.Duration(h)*time.Hour), userID, metric, float64(10+h)))
	}
	return points
}

func imputedAt(userID string, metric models.MetricType, value float64, hours ...int) []models.DataPoint {
	points := make([]models.DataPoint, 0, len(hours))
	for _, h := range hours {
		points = append(points, models.NewImputedPoint(baseTime.Add(time.Duration(h)*time.Hour), userID, metric, value, models.MethodLinear, 4))
	}
	return points
}

// runStorageContract exercises the behavior every FullStorage backend shares.
func runStorageContract(t *testing.T, newStore func(t *testing.T) FullStorage) {
	ctx := context.Background()

	t.Run("store and read real points", func(t *testing.T) {
		store := newStore(t)

		written, err := store.StoreReal(ctx, hourly("user_1", models.MetricHeartRate, 2, 0, 1))
		require.NoError(t, err)
		assert.Equal(t, int64(3), written)

		points, err := store.QueryReal(ctx, "user_1", models.MetricHeartRate, baseTime, baseTime.Add(2*time.Hour))
		require.NoError(t, err)
		require.Len(t, points, 3)
		for i, p := range points {
			assert.True(t, p.Timestamp.Equal(baseTime.Add(time.Duration(i)*time.Hour)))
			assert.Equal(t, time.UTC, p.Timestamp.Location())
			assert.False(t, p.IsImputed)
			assert.Nil(t, p.GapDurationHours)
		}
		assert.Equal(t, 10.0, points[0].Value)
	})

	t.Run("window bounds are inclusive", func(t *testing.T) {
		store := newStore(t)
		_, err := store.StoreReal(ctx, hourly("user_1", models.MetricActivity, 0, 1, 2, 3))
		require.NoError(t, err)

		points, err := store.QueryReal(ctx, "user_1", models.MetricActivity, baseTime.Add(time.Hour), baseTime.Add(2*time.Hour))
		require.NoError(t, err)
		assert.Len(t, points, 2)
	})

	t.Run("imputed points never replace real ones", func(t *testing.T) {
		store := newStore(t)
		_, err := store.StoreReal(ctx, hourly("user_1", models.MetricHeartRate, 0))
		require.NoError(t, err)

		_, err = store.UpsertImputed(ctx, imputedAt("user_1", models.MetricHeartRate, 99, 0, 1))
		require.NoError(t, err)

		resp, err := store.Query(ctx, QueryRequest{
			UserID: "user_1", Metric: models.MetricHeartRate,
			Start: baseTime, End: baseTime.Add(time.Hour), IncludeImputed: true,
		})
		require.NoError(t, err)
		require.Len(t, resp.Points, 2)

		assert.False(t, resp.Points[0].IsImputed)
		assert.Equal(t, 10.0, resp.Points[0].Value)

		assert.True(t, resp.Points[1].IsImputed)
		assert.Equal(t, models.MethodLinear, resp.Points[1].ImputationMethod)
		require.NotNil(t, resp.Points[1].GapDurationHours)
		assert.Equal(t, 4, *resp.Points[1].GapDurationHours)
	})

	t.Run("imputed points refresh in place", func(t *testing.T) {
		store := newStore(t)
		_, err := store.UpsertImputed(ctx, imputedAt("user_1", models.MetricHeartRate, 50, 3))
		require.NoError(t, err)

		refreshed := models.NewImputedPoint(baseTime.Add(3*time.Hour), "user_1", models.MetricHeartRate, 61.257, models.MethodPatternBased, 6)
		_, err = store.UpsertImputed(ctx, []models.DataPoint{refreshed})
		require.NoError(t, err)

		resp, err := store.Query(ctx, QueryRequest{
			UserID: "user_1", Metric: models.MetricHeartRate,
			Start: baseTime, End: baseTime.Add(5 * time.Hour), IncludeImputed: true,
		})
		require.NoError(t, err)
		require.Len(t, resp.Points, 1)
		assert.Equal(t, 61.26, resp.Points[0].Value)
		assert.Equal(t, models.MethodPatternBased, resp.Points[0].ImputationMethod)
		assert.Equal(t, 6, *resp.Points[0].GapDurationHours)
	})

	t.Run("real points replace imputed ones", func(t *testing.T) {
		store := newStore(t)
		_, err := store.UpsertImputed(ctx, imputedAt("user_1", models.MetricSpO2, 5, 1))
		require.NoError(t, err)

		_, err = store.StoreReal(ctx, hourly("user_1", models.MetricSpO2, 1))
		require.NoError(t, err)

		points, err := store.QueryReal(ctx, "user_1", models.MetricSpO2, baseTime, baseTime.Add(time.Hour))
		require.NoError(t, err)
		require.Len(t, points, 1)
		assert.Equal(t, 11.0, points[0].Value)
		assert.Equal(t, models.MethodNone, points[0].ImputationMethod)
		assert.Nil(t, points[0].GapDurationHours)
	})

	t.Run("a second measurement does not overwrite the first", func(t *testing.T) {
		store := newStore(t)
		_, err := store.StoreReal(ctx, hourly("user_1", models.MetricHeartRate, 0))
		require.NoError(t, err)

		again := models.NewRealPoint(baseTime, "user_1", models.MetricHeartRate, 77)
		_, err = store.StoreReal(ctx, []models.DataPoint{again})
		require.NoError(t, err)

		points, err := store.QueryReal(ctx, "user_1", models.MetricHeartRate, baseTime, baseTime)
		require.NoError(t, err)
		require.Len(t, points, 1)
		assert.Equal(t, 10.0, points[0].Value)
	})

	t.Run("sub-second timestamps are distinct points", func(t *testing.T) {
		store := newStore(t)
		batch := []models.DataPoint{
			models.NewRealPoint(baseTime, "user_1", models.MetricHeartRate, 60),
			models.NewRealPoint(baseTime.Add(500*time.Millisecond), "user_1", models.MetricHeartRate, 61),
		}

		written, err := store.StoreReal(ctx, batch)
		require.NoError(t, err)
		assert.Equal(t, int64(2), written)

		points, err := store.QueryReal(ctx, "user_1", models.MetricHeartRate, baseTime, baseTime.Add(time.Second))
		require.NoError(t, err)
		require.Len(t, points, 2)
		assert.Equal(t, 60.0, points[0].Value)
		assert.Equal(t, 61.0, points[1].Value)
	})

	t.Run("invalid batches are rejected", func(t *testing.T) {
		store := newStore(t)

		_, err := store.StoreReal(ctx, imputedAt("user_1", models.MetricHeartRate, 1, 0))
		assert.Error(t, err)

		_, err = store.UpsertImputed(ctx, hourly("user_1", models.MetricHeartRate, 0))
		assert.Error(t, err)

		_, err = store.StoreReal(ctx, []models.DataPoint{{UserID: "user_1", MetricType: models.MetricHeartRate}})
		assert.Error(t, err)

		written, err := store.StoreReal(ctx, nil)
		assert.NoError(t, err)
		assert.Zero(t, written)
	})

	t.Run("query pagination and ordering", func(t *testing.T) {
		store := newStore(t)
		_, err := store.StoreReal(ctx, hourly("user_1", models.MetricHeartRate, 0, 1, 2, 3, 4))
		require.NoError(t, err)
		_, err = store.UpsertImputed(ctx, imputedAt("user_1", models.MetricHeartRate, 1, 5, 6))
		require.NoError(t, err)

		req := QueryRequest{
			UserID: "user_1", Metric: models.MetricHeartRate,
			Start: baseTime, End: baseTime.Add(10 * time.Hour),
			IncludeImputed: true, Limit: 3, Offset: 2,
		}
		resp, err := store.Query(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, int64(7), resp.Total)
		require.Len(t, resp.Points, 3)
		assert.True(t, resp.Points[0].Timestamp.Equal(baseTime.Add(2*time.Hour)))
		assert.True(t, resp.HasMore)
		assert.Equal(t, 5, resp.NextOffset)

		req.IncludeImputed = false
		req.Offset = 0
		req.Limit = 0
		resp, err = store.Query(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, int64(5), resp.Total)
		assert.Len(t, resp.Points, 5)
		assert.False(t, resp.HasMore)

		req.OrderBy = "timestamp_desc"
		resp, err = store.Query(ctx, req)
		require.NoError(t, err)
		assert.True(t, resp.Points[0].Timestamp.Equal(baseTime.Add(4*time.Hour)))
	})

	t.Run("query validation", func(t *testing.T) {
		store := newStore(t)
		tests := []QueryRequest{
			{Metric: models.MetricHeartRate, Start: baseTime, End: baseTime},
			{UserID: "user_1", Start: baseTime, End: baseTime},
			{UserID: "user_1", Metric: models.MetricHeartRate, Start: baseTime, End: baseTime.Add(-time.Hour)},
			{UserID: "user_1", Metric: models.MetricHeartRate, Start: baseTime, End: baseTime, Offset: -1},
			{UserID: "user_1", Metric: models.MetricHeartRate, Start: baseTime, End: baseTime, OrderBy: "value"},
		}
		for _, req := range tests {
			_, err := store.Query(ctx, req)
			assert.Error(t, err, "request %+v", req)
		}
	})

	t.Run("list metrics", func(t *testing.T) {
		store := newStore(t)

		metrics, err := store.ListMetrics(ctx)
		require.NoError(t, err)
		assert.Empty(t, metrics)

		_, err = store.StoreReal(ctx, hourly("user_1", models.MetricActivity, 0))
		require.NoError(t, err)
		_, err = store.StoreReal(ctx, hourly("user_2", models.MetricHeartRate, 0))
		require.NoError(t, err)
		_, err = store.StoreReal(ctx, hourly("user_2", models.MetricActivity, 1))
		require.NoError(t, err)

		metrics, err = store.ListMetrics(ctx)
		require.NoError(t, err)
		assert.Equal(t, []models.MetricType{models.MetricActivity, models.MetricHeartRate}, metrics)
	})

	t.Run("enrollment lifecycle", func(t *testing.T) {
		store := newStore(t)

		first, err := models.NewUser("alice", baseTime)
		require.NoError(t, err)
		second, err := models.NewUser("bob", baseTime.Add(24*time.Hour))
		require.NoError(t, err)

		require.NoError(t, store.EnrollUser(ctx, *first))
		require.NoError(t, store.EnrollUser(ctx, *second))
		assert.ErrorIs(t, store.EnrollUser(ctx, *first), ErrUserExists)

		_, err = store.StoreReal(ctx, hourly("alice", models.MetricHeartRate, 0, 1, 30))
		require.NoError(t, err)
		_, err = store.StoreReal(ctx, hourly("alice", models.MetricActivity, 0))
		require.NoError(t, err)

		enrolled, err := store.GetEnrolledUsers(ctx)
		require.NoError(t, err)
		require.Len(t, enrolled, 2)
		assert.Equal(t, "bob", enrolled[0].UserID)
		assert.Zero(t, enrolled[0].TotalRecords)
		assert.Equal(t, "alice", enrolled[1].UserID)
		assert.True(t, enrolled[1].EnrollmentDate.Equal(baseTime))
		assert.Equal(t, int64(4), enrolled[1].TotalRecords)
		assert.Equal(t, 2, enrolled[1].MetricsCount)
		assert.Equal(t, 2, enrolled[1].DaysWithData)

		deleted, err := store.DeleteUser(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, int64(4), deleted)

		points, err := store.QueryReal(ctx, "alice", models.MetricHeartRate, baseTime, baseTime.Add(48*time.Hour))
		require.NoError(t, err)
		assert.Empty(t, points)

		_, err = store.DeleteUser(ctx, "alice")
		assert.ErrorIs(t, err, ErrUserNotFound)

		enrolled, err = store.GetEnrolledUsers(ctx)
		require.NoError(t, err)
		assert.Len(t, enrolled, 1)
	})

	t.Run("user stats", func(t *testing.T) {
		store := newStore(t)
		_, err := store.StoreReal(ctx, hourly("user_2", models.MetricHeartRate, 0, 5))
		require.NoError(t, err)
		_, err = store.StoreReal(ctx, hourly("user_1", models.MetricActivity, 3))
		require.NoError(t, err)

		stats, err := store.GetUserStats(ctx)
		require.NoError(t, err)
		require.Len(t, stats, 2)
		assert.Equal(t, "user_1", stats[0].UserID)
		assert.Equal(t, "user_2", stats[1].UserID)
		assert.Equal(t, int64(2), stats[1].TotalRecords)
		require.NotNil(t, stats[1].FirstRecord)
		require.NotNil(t, stats[1].LastRecord)
		assert.True(t, stats[1].FirstRecord.Equal(baseTime))
		assert.True(t, stats[1].LastRecord.Equal(baseTime.Add(5*time.Hour)))
		assert.Equal(t, 1, stats[1].MetricsCount)
		assert.Equal(t, 1, stats[1].DaysWithData)
	})

	t.Run("storage stats", func(t *testing.T) {
		store := newStore(t)
		_, err := store.StoreReal(ctx, hourly("user_1", models.MetricHeartRate, 0, 4))
		require.NoError(t, err)
		_, err = store.UpsertImputed(ctx, imputedAt("user_1", models.MetricHeartRate, 1, 1, 2, 3))
		require.NoError(t, err)
		user, err := models.NewUser("user_1", baseTime)
		require.NoError(t, err)
		require.NoError(t, store.EnrollUser(ctx, *user))

		stats, err := store.GetStats(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(5), stats.TotalPoints)
		assert.Equal(t, int64(3), stats.ImputedPoints)
		assert.Equal(t, 1, stats.TotalUsers)
		assert.Equal(t, 1, stats.EnrolledUsers)
		assert.True(t, stats.EarliestData.Equal(baseTime))
		assert.True(t, stats.LatestData.Equal(baseTime.Add(4*time.Hour)))
		assert.NotEmpty(t, stats.QueryPerformance)
	})

	t.Run("closed storage", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.HealthCheck(ctx))
		require.NoError(t, store.Close())
		require.NoError(t, store.Close())

		_, err := store.StoreReal(ctx, hourly("user_1", models.MetricHeartRate, 0))
		assert.True(t, errors.Is(err, ErrStorageClosed))
		_, err = store.QueryReal(ctx, "user_1", models.MetricHeartRate, baseTime, baseTime)
		assert.True(t, errors.Is(err, ErrStorageClosed))
		assert.Error(t, store.HealthCheck(ctx))
	})
}
