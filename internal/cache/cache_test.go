package cache

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/johnayoung/go-health-series/internal/config"
	apperrors "github.com/johnayoung/go-health-series/internal/errors"
	"github.com/johnayoung/go-health-series/internal/models"
	"github.com/johnayoung/go-health-series/internal/storage"
)

var (
	windowStart = time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	windowEnd   = windowStart.Add(14 * 24 * time.Hour)
)

// MockSource implements imputation.HistorySource.
type MockSource struct {
	mock.Mock
}

func (m *MockSource) QueryReal(ctx context.Context, userID string, metric models.MetricType, start, end time.Time) ([]models.DataPoint, error) {
	args := m.Called(ctx, userID, metric, start, end)
	if points := args.Get(0); points != nil {
		return points.([]models.DataPoint), args.Error(1)
	}
	return nil, args.Error(1)
}

type countingRecorder struct {
	mu     sync.Mutex
	counts map[string]int
}

func (r *countingRecorder) RecordCacheLookup(result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.counts == nil {
		r.counts = make(map[string]int)
	}
	r.counts[result]++
}

// brokenStore fails every operation and counts calls.
type brokenStore struct {
	calls int
}

func (b *brokenStore) Get(context.Context, string) ([]byte, bool, error) {
	b.calls++
	return nil, false, errors.New("connection refused")
}

func (b *brokenStore) Set(context.Context, string, []byte, time.Duration) error {
	b.calls++
	return errors.New("connection refused")
}

func (b *brokenStore) DeletePrefix(context.Context, string) (int, error) {
	b.calls++
	return 0, errors.New("connection refused")
}

func (b *brokenStore) Ping(context.Context) error { return errors.New("connection refused") }
func (b *brokenStore) Close() error               { return nil }

func history() []models.DataPoint {
	return []models.DataPoint{
		models.NewRealPoint(windowStart.Add(time.Hour), "user_1", models.MetricHeartRate, 61.5),
		models.NewRealPoint(windowStart.Add(25*time.Hour), "user_1", models.MetricHeartRate, 64),
	}
}

func TestPatternCache_ReadThrough(t *testing.T) {
	ctx := context.Background()
	source := new(MockSource)
	source.On("QueryReal", ctx, "user_1", models.MetricHeartRate, windowStart, windowEnd).Return(history(), nil).Once()

	recorder := &countingRecorder{}
	c := NewPatternCache(source, NewMemoryStore(), WithRecorder(recorder))

	first, err := c.QueryReal(ctx, "user_1", models.MetricHeartRate, windowStart, windowEnd)
	require.NoError(t, err)
	second, err := c.QueryReal(ctx, "user_1", models.MetricHeartRate, windowStart, windowEnd)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, map[string]int{"miss": 1, "hit": 1}, recorder.counts)
	source.AssertExpectations(t)
}

func TestPatternCache_KeysByWindow(t *testing.T) {
	ctx := context.Background()
	source := new(MockSource)
	source.On("QueryReal", ctx, "user_1", models.MetricHeartRate, mock.Anything, mock.Anything).Return(history(), nil).Twice()

	c := NewPatternCache(source, NewMemoryStore())
	_, err := c.QueryReal(ctx, "user_1", models.MetricHeartRate, windowStart, windowEnd)
	require.NoError(t, err)
	_, err = c.QueryReal(ctx, "user_1", models.MetricHeartRate, windowStart, windowEnd.Add(time.Hour))
	require.NoError(t, err)

	source.AssertExpectations(t)
}

func TestPatternCache_Expiry(t *testing.T) {
	ctx := context.Background()
	source := new(MockSource)
	source.On("QueryReal", ctx, "user_1", models.MetricHeartRate, windowStart, windowEnd).Return(history(), nil).Twice()

	now := windowEnd
	store := NewMemoryStore()
	store.now = func() time.Time { return now }
	c := NewPatternCache(source, store, WithTTL(time.Minute))

	_, err := c.QueryReal(ctx, "user_1", models.MetricHeartRate, windowStart, windowEnd)
	require.NoError(t, err)

	now = now.Add(59 * time.Second)
	_, err = c.QueryReal(ctx, "user_1", models.MetricHeartRate, windowStart, windowEnd)
	require.NoError(t, err)
	source.AssertNumberOfCalls(t, "QueryReal", 1)

	now = now.Add(time.Second)
	_, err = c.QueryReal(ctx, "user_1", models.MetricHeartRate, windowStart, windowEnd)
	require.NoError(t, err)
	source.AssertExpectations(t)
}

func TestMemoryStore_SweepsExpiredEntries(t *testing.T) {
	ctx := context.Background()
	now := windowStart
	store := NewMemoryStore()
	store.now = func() time.Time { return now }

	require.NoError(t, store.Set(ctx, "a", []byte("1"), time.Minute))
	require.NoError(t, store.Set(ctx, "b", []byte("2"), time.Hour))
	require.Equal(t, 2, store.Len())

	now = now.Add(2 * time.Minute)
	require.NoError(t, store.Set(ctx, "c", []byte("3"), time.Minute))
	assert.Equal(t, 2, store.Len())

	_, ok, err := store.Get(ctx, "b")
	require.NoError(t, err)
	assert.True(t, ok)

	// One-off keys never read again stay bounded by the TTL.
	for i := 0; i < 10000; i++ {
		now = now.Add(time.Minute)
		require.NoError(t, store.Set(ctx, fmt.Sprintf("window:%d", i), []byte("[]"), 15*time.Minute))
	}
	assert.LessOrEqual(t, store.Len(), 16)

	require.NoError(t, store.Close())
	assert.Zero(t, store.Len())
}

func TestPatternCache_Invalidate(t *testing.T) {
	ctx := context.Background()
	source := new(MockSource)
	source.On("QueryReal", ctx, mock.Anything, mock.Anything, windowStart, windowEnd).Return([]models.DataPoint{}, nil)

	store := NewMemoryStore()
	c := NewPatternCache(source, store)
	for _, series := range []struct {
		user   string
		metric models.MetricType
	}{
		{"user_1", models.MetricHeartRate},
		{"user_1", models.MetricHRV},
		{"user_2", models.MetricHeartRate},
	} {
		_, err := c.QueryReal(ctx, series.user, series.metric, windowStart, windowEnd)
		require.NoError(t, err)
	}
	require.Equal(t, 3, store.Len())

	require.NoError(t, c.Invalidate(ctx, "user_1", models.MetricHeartRate))
	assert.Equal(t, 2, store.Len())

	require.NoError(t, c.Invalidate(ctx, "user_1", models.MetricHeartRate))
	assert.Equal(t, 2, store.Len())
}

func TestPatternCache_DegradesToStorage(t *testing.T) {
	ctx := context.Background()

	t.Run("backend errors", func(t *testing.T) {
		source := new(MockSource)
		source.On("QueryReal", ctx, "user_1", models.MetricHeartRate, windowStart, windowEnd).Return(history(), nil).Twice()

		recorder := &countingRecorder{}
		c := NewPatternCache(source, &brokenStore{}, WithRecorder(recorder))
		for i := 0; i < 2; i++ {
			points, err := c.QueryReal(ctx, "user_1", models.MetricHeartRate, windowStart, windowEnd)
			require.NoError(t, err)
			assert.Len(t, points, 2)
		}
		assert.Equal(t, 2, recorder.counts["error"])
		assert.Error(t, c.Invalidate(ctx, "user_1", models.MetricHeartRate))
	})

	t.Run("open breaker skips the backend", func(t *testing.T) {
		source := new(MockSource)
		source.On("QueryReal", ctx, "user_1", models.MetricHeartRate, windowStart, windowEnd).Return(history(), nil)

		store := &brokenStore{}
		breaker := apperrors.NewCircuitBreaker("cache", config.CircuitBreakerConfig{
			FailureThreshold: 1,
			RecoveryTimeout:  "1h",
		})
		c := NewPatternCache(source, store, WithCircuitBreaker(breaker))

		_, err := c.QueryReal(ctx, "user_1", models.MetricHeartRate, windowStart, windowEnd)
		require.NoError(t, err)
		assert.Equal(t, 1, store.calls)
		assert.Equal(t, apperrors.CircuitOpen, breaker.GetState())

		points, err := c.QueryReal(ctx, "user_1", models.MetricHeartRate, windowStart, windowEnd)
		require.NoError(t, err)
		assert.Len(t, points, 2)
		assert.Equal(t, 1, store.calls)
	})

	t.Run("source errors are returned and not cached", func(t *testing.T) {
		source := new(MockSource)
		source.On("QueryReal", ctx, "user_1", models.MetricHeartRate, windowStart, windowEnd).Return(nil, errors.New("database is locked")).Once()
		source.On("QueryReal", ctx, "user_1", models.MetricHeartRate, windowStart, windowEnd).Return(history(), nil).Once()

		store := NewMemoryStore()
		c := NewPatternCache(source, store)

		_, err := c.QueryReal(ctx, "user_1", models.MetricHeartRate, windowStart, windowEnd)
		assert.ErrorContains(t, err, "database is locked")
		assert.Zero(t, store.Len())

		points, err := c.QueryReal(ctx, "user_1", models.MetricHeartRate, windowStart, windowEnd)
		require.NoError(t, err)
		assert.Len(t, points, 2)
	})
}

func TestPatternCache_Disabled(t *testing.T) {
	ctx := context.Background()
	source := new(MockSource)
	source.On("QueryReal", ctx, "user_1", models.MetricHeartRate, windowStart, windowEnd).Return(history(), nil).Twice()

	c := NewPatternCache(source, nil)
	for i := 0; i < 2; i++ {
		_, err := c.QueryReal(ctx, "user_1", models.MetricHeartRate, windowStart, windowEnd)
		require.NoError(t, err)
	}
	assert.NoError(t, c.Invalidate(ctx, "user_1", models.MetricHeartRate))
	assert.NoError(t, c.Close())
	source.AssertExpectations(t)
}

func TestInvalidatingWriter(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemoryStorage()
	require.NoError(t, backend.Initialize(ctx))

	store := NewMemoryStore()
	c := NewPatternCache(backend, store)
	writer := NewInvalidatingWriter(backend, c)

	before, err := c.QueryReal(ctx, "user_1", models.MetricHeartRate, windowStart, windowEnd)
	require.NoError(t, err)
	assert.Empty(t, before)
	require.Equal(t, 1, store.Len())

	saved, err := writer.StoreReal(ctx, history())
	require.NoError(t, err)
	assert.Equal(t, int64(2), saved)
	assert.Zero(t, store.Len())

	after, err := c.QueryReal(ctx, "user_1", models.MetricHeartRate, windowStart, windowEnd)
	require.NoError(t, err)
	assert.Len(t, after, 2)

	imputed := models.NewImputedPoint(windowStart.Add(2*time.Hour), "user_1", models.MetricHeartRate, 62, models.MethodLinear, 24)
	_, err = writer.UpsertImputed(ctx, []models.DataPoint{imputed})
	require.NoError(t, err)
	assert.Equal(t, 1, store.Len())
}

// MockRedisClient implements redisClient.
type MockRedisClient struct {
	mock.Mock
}

func (m *MockRedisClient) Get(ctx context.Context, key string) *redis.StringCmd {
	return m.Called(ctx, key).Get(0).(*redis.StringCmd)
}

func (m *MockRedisClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	return m.Called(ctx, key, value, expiration).Get(0).(*redis.StatusCmd)
}

func (m *MockRedisClient) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	return m.Called(ctx, keys).Get(0).(*redis.IntCmd)
}

func (m *MockRedisClient) Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd {
	return m.Called(ctx, cursor, match, count).Get(0).(*redis.ScanCmd)
}

func (m *MockRedisClient) Ping(ctx context.Context) *redis.StatusCmd {
	return m.Called(ctx).Get(0).(*redis.StatusCmd)
}

func (m *MockRedisClient) Close() error {
	return m.Called().Error(0)
}

func TestRedisStore(t *testing.T) {
	ctx := context.Background()

	t.Run("get hit and miss", func(t *testing.T) {
		client := new(MockRedisClient)
		client.On("Get", ctx, "k1").Return(redis.NewStringResult(`[]`, nil))
		client.On("Get", ctx, "k2").Return(redis.NewStringResult("", redis.Nil))
		client.On("Get", ctx, "k3").Return(redis.NewStringResult("", errors.New("i/o timeout")))
		store := newRedisStore(client)

		value, ok, err := store.Get(ctx, "k1")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, []byte(`[]`), value)

		_, ok, err = store.Get(ctx, "k2")
		require.NoError(t, err)
		assert.False(t, ok)

		_, _, err = store.Get(ctx, "k3")
		assert.ErrorContains(t, err, "i/o timeout")
	})

	t.Run("set passes ttl", func(t *testing.T) {
		client := new(MockRedisClient)
		client.On("Set", ctx, "k", []byte("v"), 5*time.Minute).Return(redis.NewStatusResult("OK", nil)).Once()

		require.NoError(t, newRedisStore(client).Set(ctx, "k", []byte("v"), 5*time.Minute))
		client.AssertExpectations(t)
	})

	t.Run("delete prefix follows the cursor", func(t *testing.T) {
		client := new(MockRedisClient)
		client.On("Scan", ctx, uint64(0), "p:u:m:*", int64(scanBatch)).Return(redis.NewScanCmdResult([]string{"p:u:m:1", "p:u:m:2"}, 7, nil)).Once()
		client.On("Scan", ctx, uint64(7), "p:u:m:*", int64(scanBatch)).Return(redis.NewScanCmdResult([]string{}, 9, nil)).Once()
		client.On("Scan", ctx, uint64(9), "p:u:m:*", int64(scanBatch)).Return(redis.NewScanCmdResult([]string{"p:u:m:3"}, 0, nil)).Once()
		client.On("Del", ctx, []string{"p:u:m:1", "p:u:m:2"}).Return(redis.NewIntResult(2, nil)).Once()
		client.On("Del", ctx, []string{"p:u:m:3"}).Return(redis.NewIntResult(1, nil)).Once()

		removed, err := newRedisStore(client).DeletePrefix(ctx, "p:u:m:")
		require.NoError(t, err)
		assert.Equal(t, 3, removed)
		client.AssertExpectations(t)
	})

	t.Run("delete prefix matches glob characters literally", func(t *testing.T) {
		client := new(MockRedisClient)
		client.On("Scan", ctx, uint64(0), `p:user_\[1\]:m:*`, int64(scanBatch)).Return(redis.NewScanCmdResult([]string{"p:user_[1]:m:1"}, 0, nil)).Once()
		client.On("Del", ctx, []string{"p:user_[1]:m:1"}).Return(redis.NewIntResult(1, nil)).Once()

		removed, err := newRedisStore(client).DeletePrefix(ctx, "p:user_[1]:m:")
		require.NoError(t, err)
		assert.Equal(t, 1, removed)
		client.AssertExpectations(t)
	})

	t.Run("scan failure", func(t *testing.T) {
		client := new(MockRedisClient)
		client.On("Scan", ctx, uint64(0), "p:*", int64(scanBatch)).Return(redis.NewScanCmdResult(nil, 0, errors.New("LOADING"))).Once()

		_, err := newRedisStore(client).DeletePrefix(ctx, "p:")
		assert.ErrorContains(t, err, "redis scan")
	})
}

func TestGlobEscaper(t *testing.T) {
	tests := []struct {
		prefix string
		own    string
		other  string
	}{
		{prefix: "p:user_[1]:m:", own: "p:user_[1]:m:10:20", other: "p:user_1:m:10:20"},
		{prefix: "p:user_*:m:", own: "p:user_*:m:10:20", other: "p:user_2:m:10:20"},
		{prefix: "p:user_?:m:", own: "p:user_?:m:10:20", other: "p:user_x:m:10:20"},
		{prefix: `p:user_\a:m:`, own: `p:user_\a:m:10:20`, other: "p:user_a:m:10:20"},
	}

	for _, tt := range tests {
		t.Run(tt.prefix, func(t *testing.T) {
			pattern := globEscaper.Replace(tt.prefix) + "*"

			matched, err := path.Match(pattern, tt.own)
			require.NoError(t, err)
			assert.True(t, matched)

			matched, err = path.Match(pattern, tt.other)
			require.NoError(t, err)
			assert.False(t, matched)
		})
	}
}

func TestNewStore(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.CacheConfig
		wantNil bool
		wantErr bool
	}{
		{name: "disabled", cfg: config.CacheConfig{Type: "none"}, wantNil: true},
		{name: "empty type", cfg: config.CacheConfig{}, wantNil: true},
		{name: "memory", cfg: config.CacheConfig{Type: "memory"}},
		{name: "unknown", cfg: config.CacheConfig{Type: "memcached"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := NewStore(context.Background(), tt.cfg, nil, nil)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.wantNil {
				assert.Nil(t, store)
				return
			}
			assert.NotNil(t, store)
			assert.NoError(t, store.Ping(context.Background()))
		})
	}
}
