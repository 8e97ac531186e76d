package storage

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/johnayoung/go-health-series/internal/models"
)

type seriesKey struct {
	userID string
	metric models.MetricType
}

// MemoryStorage provides an in-memory implementation of all storage
// interfaces. It is used for tests and for the `memory` storage type.
type MemoryStorage struct {
	mu sync.RWMutex

	// points: series -> unix microseconds -> point
	points map[seriesKey]map[int64]models.DataPoint

	users map[string]models.User

	initialized bool
	closed      bool

	perfMu     sync.Mutex
	queryTimes map[string][]time.Duration
}

// NewMemoryStorage creates a new in-memory storage instance.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		points:     make(map[seriesKey]map[int64]models.DataPoint),
		users:      make(map[string]models.User),
		queryTimes: make(map[string][]time.Duration),
	}
}

// StoreReal inserts measured points. Existing real points win; existing
// imputed points are replaced.
func (m *MemoryStorage) StoreReal(ctx context.Context, points []models.DataPoint) (int64, error) {
	defer m.trackQueryTime("StoreReal", time.Now())

	if ctx.Err() != nil {
		return 0, NewInsertError("raw_data", ctx.Err())
	}
	if len(points) == 0 {
		return 0, nil
	}
	if err := validatePoints(points, false); err != nil {
		return 0, NewInsertError("raw_data", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, NewInsertError("raw_data", ErrStorageClosed)
	}

	var written int64
	for _, p := range points {
		series := m.series(p.UserID, p.MetricType)
		key := pointKey(p.Timestamp)
		if existing, ok := series[key]; ok && !existing.IsImputed {
			continue
		}
		stored := p
		stored.Timestamp = p.Timestamp.UTC().Truncate(time.Microsecond)
		stored.ImputationMethod = models.MethodNone
		series[key] = stored
		written++
	}

	return written, nil
}

// UpsertImputed writes synthesized points. The batch is validated as a
// whole before any point is applied, so a bad batch changes nothing.
func (m *MemoryStorage) UpsertImputed(ctx context.Context, points []models.DataPoint) (int64, error) {
	defer m.trackQueryTime("UpsertImputed", time.Now())

	if ctx.Err() != nil {
		return 0, NewInsertError("raw_data", ctx.Err())
	}
	if len(points) == 0 {
		return 0, nil
	}
	if err := validatePoints(points, true); err != nil {
		return 0, NewInsertError("raw_data", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, NewInsertError("raw_data", ErrStorageClosed)
	}

	var written int64
	for _, p := range points {
		series := m.series(p.UserID, p.MetricType)
		key := pointKey(p.Timestamp)
		if existing, ok := series[key]; ok && !existing.IsImputed {
			continue
		}
		stored := p
		stored.Timestamp = p.Timestamp.UTC().Truncate(time.Microsecond)
		if p.GapDurationHours != nil {
			hours := *p.GapDurationHours
			stored.GapDurationHours = &hours
		}
		series[key] = stored
		written++
	}

	return written, nil
}

// pointKey matches the microsecond resolution of the SQL timestamp columns.
func pointKey(ts time.Time) int64 {
	return ts.UnixMicro()
}

func (m *MemoryStorage) series(userID string, metric models.MetricType) map[int64]models.DataPoint {
	key := seriesKey{userID: userID, metric: metric}
	s, ok := m.points[key]
	if !ok {
		s = make(map[int64]models.DataPoint)
		m.points[key] = s
	}
	return s
}

// Query retrieves points for one series with pagination.
func (m *MemoryStorage) Query(ctx context.Context, req QueryRequest) (*QueryResponse, error) {
	start := time.Now()
	defer m.trackQueryTime("Query", start)

	if ctx.Err() != nil {
		return nil, NewQueryError("raw_data", "", ctx.Err())
	}
	if err := validateQueryRequest(&req); err != nil {
		return nil, NewQueryError("raw_data", "", err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, NewQueryError("raw_data", "", ErrStorageClosed)
	}

	matches := m.collect(req.UserID, req.Metric, req.Start, req.End, req.IncludeImputed)
	if req.OrderBy == "timestamp_desc" {
		sort.Slice(matches, func(i, j int) bool {
			return matches[i].Timestamp.After(matches[j].Timestamp)
		})
	}

	total := len(matches)
	from := req.Offset
	if from > total {
		from = total
	}
	to := total
	if req.Limit > 0 && from+req.Limit < total {
		to = from + req.Limit
	}

	return &QueryResponse{
		Points:     matches[from:to],
		Total:      int64(total),
		HasMore:    to < total,
		NextOffset: to,
		QueryTime:  time.Since(start),
	}, nil
}

// QueryReal returns measured points in [start, end] ordered by timestamp.
func (m *MemoryStorage) QueryReal(ctx context.Context, userID string, metric models.MetricType, start, end time.Time) ([]models.DataPoint, error) {
	defer m.trackQueryTime("QueryReal", time.Now())

	if ctx.Err() != nil {
		return nil, NewQueryError("raw_data", "", ctx.Err())
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, NewQueryError("raw_data", "", ErrStorageClosed)
	}

	return m.collect(userID, metric, start, end, false), nil
}

// collect returns matching points sorted ascending. Callers hold the lock.
func (m *MemoryStorage) collect(userID string, metric models.MetricType, start, end time.Time, includeImputed bool) []models.DataPoint {
	series := m.points[seriesKey{userID: userID, metric: metric}]
	matches := make([]models.DataPoint, 0, len(series))
	for _, p := range series {
		if p.Timestamp.Before(start) || p.Timestamp.After(end) {
			continue
		}
		if p.IsImputed && !includeImputed {
			continue
		}
		matches = append(matches, p)
	}
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].Timestamp.Before(matches[j].Timestamp)
	})
	return matches
}

// ListMetrics returns the distinct metrics with stored data, sorted.
func (m *MemoryStorage) ListMetrics(ctx context.Context) ([]models.MetricType, error) {
	if ctx.Err() != nil {
		return nil, NewQueryError("raw_data", "", ctx.Err())
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, NewQueryError("raw_data", "", ErrStorageClosed)
	}

	seen := make(map[models.MetricType]bool)
	for key, series := range m.points {
		if len(series) > 0 {
			seen[key.metric] = true
		}
	}
	metrics := make([]models.MetricType, 0, len(seen))
	for metric := range seen {
		metrics = append(metrics, metric)
	}
	sort.Slice(metrics, func(i, j int) bool { return metrics[i] < metrics[j] })
	return metrics, nil
}

// EnrollUser stores a new enrollment.
func (m *MemoryStorage) EnrollUser(ctx context.Context, user models.User) error {
	if ctx.Err() != nil {
		return NewInsertError("users", ctx.Err())
	}
	if err := user.Validate(); err != nil {
		return NewInsertError("users", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return NewInsertError("users", ErrStorageClosed)
	}
	if _, exists := m.users[user.UserID]; exists {
		return ErrUserExists
	}

	user.EnrollmentDate = user.EnrollmentDate.UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	m.users[user.UserID] = user
	return nil
}

// GetEnrolledUsers returns enrollments with data statistics, newest first.
func (m *MemoryStorage) GetEnrolledUsers(ctx context.Context) ([]models.EnrolledUser, error) {
	if ctx.Err() != nil {
		return nil, NewQueryError("users", "", ctx.Err())
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, NewQueryError("users", "", ErrStorageClosed)
	}

	stats := m.statsByUser()
	enrolled := make([]models.EnrolledUser, 0, len(m.users))
	for _, u := range m.users {
		e := models.EnrolledUser{UserID: u.UserID, EnrollmentDate: u.EnrollmentDate}
		if s, ok := stats[u.UserID]; ok {
			e.TotalRecords = s.TotalRecords
			e.MetricsCount = s.MetricsCount
			e.DaysWithData = s.DaysWithData
		}
		enrolled = append(enrolled, e)
	}
	sort.Slice(enrolled, func(i, j int) bool {
		return enrolled[i].EnrollmentDate.After(enrolled[j].EnrollmentDate)
	})
	return enrolled, nil
}

// GetUserStats returns statistics for every user with stored data.
func (m *MemoryStorage) GetUserStats(ctx context.Context) ([]models.UserStats, error) {
	if ctx.Err() != nil {
		return nil, NewQueryError("raw_data", "", ctx.Err())
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, NewQueryError("raw_data", "", ErrStorageClosed)
	}

	byUser := m.statsByUser()
	stats := make([]models.UserStats, 0, len(byUser))
	for _, s := range byUser {
		stats = append(stats, *s)
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].UserID < stats[j].UserID })
	return stats, nil
}

func (m *MemoryStorage) statsByUser() map[string]*models.UserStats {
	byUser := make(map[string]*models.UserStats)
	metrics := make(map[string]map[models.MetricType]bool)
	days := make(map[string]map[string]bool)

	for key, series := range m.points {
		for _, p := range series {
			s, ok := byUser[key.userID]
			if !ok {
				s = &models.UserStats{UserID: key.userID}
				byUser[key.userID] = s
				metrics[key.userID] = make(map[models.MetricType]bool)
				days[key.userID] = make(map[string]bool)
			}
			s.TotalRecords++
			ts := p.Timestamp
			if s.FirstRecord == nil || ts.Before(*s.FirstRecord) {
				first := ts
				s.FirstRecord = &first
			}
			if s.LastRecord == nil || ts.After(*s.LastRecord) {
				last := ts
				s.LastRecord = &last
			}
			metrics[key.userID][key.metric] = true
			days[key.userID][ts.UTC().Format("2006-01-02")] = true
		}
	}

	for userID, s := range byUser {
		s.MetricsCount = len(metrics[userID])
		s.DaysWithData = len(days[userID])
	}
	return byUser
}

// DeleteUser removes an enrolled user and their data points.
func (m *MemoryStorage) DeleteUser(ctx context.Context, userID string) (int64, error) {
	if ctx.Err() != nil {
		return 0, NewDeleteError("users", ctx.Err())
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, NewDeleteError("users", ErrStorageClosed)
	}
	if _, exists := m.users[userID]; !exists {
		return 0, ErrUserNotFound
	}

	var deleted int64
	for key, series := range m.points {
		if key.userID == userID {
			deleted += int64(len(series))
			delete(m.points, key)
		}
	}
	delete(m.users, userID)
	return deleted, nil
}

// Initialize prepares the memory storage for operation.
func (m *MemoryStorage) Initialize(ctx context.Context) error {
	if ctx.Err() != nil {
		return NewStorageError("initialize", "", "", ctx.Err())
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return NewStorageError("initialize", "", "", ErrStorageClosed)
	}

	m.initialized = true
	return nil
}

// Close shuts down the memory storage. Closing twice is not an error.
func (m *MemoryStorage) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	return nil
}

// Migrate is a no-op for memory storage beyond version checks.
func (m *MemoryStorage) Migrate(ctx context.Context, version int) error {
	if ctx.Err() != nil {
		return NewStorageError("migrate", "", "", ctx.Err())
	}
	if version < 1 {
		return NewStorageError("migrate", "", "", errors.New("invalid migration version: must be >= 1"))
	}
	return nil
}

// GetStats returns operational statistics about the memory storage.
func (m *MemoryStorage) GetStats(ctx context.Context) (*StorageStats, error) {
	if ctx.Err() != nil {
		return nil, NewStorageError("stats", "", "", ctx.Err())
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, NewStorageError("stats", "", "", ErrStorageClosed)
	}

	stats := &StorageStats{
		EnrolledUsers:    len(m.users),
		QueryPerformance: m.averageQueryTimes(),
	}
	users := make(map[string]bool)
	for key, series := range m.points {
		for _, p := range series {
			stats.TotalPoints++
			if p.IsImputed {
				stats.ImputedPoints++
			}
			users[key.userID] = true
			if stats.EarliestData.IsZero() || p.Timestamp.Before(stats.EarliestData) {
				stats.EarliestData = p.Timestamp
			}
			if stats.LatestData.IsZero() || p.Timestamp.After(stats.LatestData) {
				stats.LatestData = p.Timestamp
			}
		}
	}
	stats.TotalUsers = len(users)

	return stats, nil
}

// HealthCheck verifies that the memory storage is operational.
func (m *MemoryStorage) HealthCheck(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return ErrStorageClosed
	}
	if !m.initialized {
		return errors.New("storage is not initialized")
	}
	return nil
}

// trackQueryTime keeps the last 100 durations per operation.
func (m *MemoryStorage) trackQueryTime(operation string, start time.Time) {
	m.perfMu.Lock()
	defer m.perfMu.Unlock()

	times := append(m.queryTimes[operation], time.Since(start))
	if len(times) > 100 {
		times = times[1:]
	}
	m.queryTimes[operation] = times
}

func (m *MemoryStorage) averageQueryTimes() map[string]time.Duration {
	m.perfMu.Lock()
	defer m.perfMu.Unlock()

	avg := make(map[string]time.Duration, len(m.queryTimes))
	for operation, times := range m.queryTimes {
		if len(times) == 0 {
			continue
		}
		var total time.Duration
		for _, t := range times {
			total += t
		}
		avg[operation] = total / time.Duration(len(times))
	}
	return avg
}

// validateQueryRequest validates query request parameters.
func validateQueryRequest(req *QueryRequest) error {
	if req.UserID == "" {
		return errors.New("user_id cannot be empty")
	}
	if req.Metric == "" {
		return errors.New("metric cannot be empty")
	}
	if req.End.Before(req.Start) {
		return errors.New("end time must not be before start time")
	}
	if req.Offset < 0 {
		return errors.New("offset cannot be negative")
	}
	if req.Limit < 0 {
		return errors.New("limit cannot be negative")
	}
	if req.OrderBy != "" && req.OrderBy != "timestamp_asc" && req.OrderBy != "timestamp_desc" {
		return errors.New("orderBy must be 'timestamp_asc' or 'timestamp_desc'")
	}
	return nil
}

var _ FullStorage = (*MemoryStorage)(nil)
