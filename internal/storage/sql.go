package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/johnayoung/go-health-series/internal/models"
	_ "github.com/lib/pq"
	_ "github.com/marcboeker/go-duckdb/v2"
)

const (
	pointColumns = "timestamp, user_id, metric_type, value, is_imputed, imputation_method, gap_duration_hours"

	// A measurement replaces an imputed row but never another measurement.
	storeRealQuery = `
		INSERT INTO raw_data (` + pointColumns + `)
		VALUES ($1, $2, $3, $4, FALSE, NULL, NULL)
		ON CONFLICT (timestamp, user_id, metric_type) DO UPDATE SET
			value = EXCLUDED.value,
			is_imputed = FALSE,
			imputation_method = NULL,
			gap_duration_hours = NULL
		WHERE raw_data.is_imputed = TRUE`

	// Imputed rows refresh in place; real rows are never touched.
	upsertImputedQuery = `
		INSERT INTO raw_data (` + pointColumns + `)
		VALUES ($1, $2, $3, $4, TRUE, $5, $6)
		ON CONFLICT (timestamp, user_id, metric_type) DO UPDATE SET
			value = EXCLUDED.value,
			is_imputed = EXCLUDED.is_imputed,
			imputation_method = EXCLUDED.imputation_method,
			gap_duration_hours = EXCLUDED.gap_duration_hours
		WHERE raw_data.is_imputed = TRUE`
)

// SQLStorage implements FullStorage on database/sql. The same queries serve
// DuckDB and Postgres; Dialect covers the DDL differences.
type SQLStorage struct {
	db         *sql.DB
	dialect    Dialect
	dsn        string
	batchSize  int
	logger     *slog.Logger
	migrations *MigrationManager

	mu sync.RWMutex

	perfMu     sync.Mutex
	queryTimes map[string][]time.Duration
}

// NewDuckDBStorage opens a DuckDB database. path may be ":memory:".
func NewDuckDBStorage(path string, logger *slog.Logger) (*SQLStorage, error) {
	return NewSQLStorage(DuckDBDialect, path, 0, logger)
}

// NewPostgresStorage opens a Postgres database through lib/pq.
func NewPostgresStorage(dsn string, maxConns int, logger *slog.Logger) (*SQLStorage, error) {
	d := PostgresDialect
	if maxConns > 0 {
		d.MaxOpenConns = maxConns
	}
	return NewSQLStorage(d, dsn, 0, logger)
}

// NewSQLStorage opens dsn with the dialect's driver. batchSize bounds the
// rows written per transaction by StoreReal; zero means 1000.
func NewSQLStorage(dialect Dialect, dsn string, batchSize int, logger *slog.Logger) (*SQLStorage, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if batchSize <= 0 {
		batchSize = 1000
	}

	db, err := sql.Open(dialect.Driver, dsn)
	if err != nil {
		return nil, NewStorageError("open", "", "", fmt.Errorf("failed to open %s database: %w", dialect.Name, err))
	}

	db.SetMaxOpenConns(dialect.MaxOpenConns)
	db.SetMaxIdleConns(dialect.MaxOpenConns)
	if dialect.Name == DuckDBDialect.Name {
		db.SetConnMaxLifetime(0)
	} else {
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	logger = logger.With("component", "storage", "dialect", dialect.Name)
	return &SQLStorage{
		db:         db,
		dialect:    dialect,
		dsn:        dsn,
		batchSize:  batchSize,
		logger:     logger,
		migrations: NewMigrationManager(db, dialect, logger),
		queryTimes: make(map[string][]time.Duration),
	}, nil
}

// SetBatchSize changes the StoreReal transaction size.
func (s *SQLStorage) SetBatchSize(n int) {
	if n > 0 {
		s.batchSize = n
	}
}

// conn returns the open database or ErrStorageClosed.
func (s *SQLStorage) conn() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, ErrStorageClosed
	}
	return s.db, nil
}

// Initialize verifies connectivity and applies pending migrations.
func (s *SQLStorage) Initialize(ctx context.Context) error {
	db, err := s.conn()
	if err != nil {
		return NewStorageError("initialize", "", "", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return NewStorageError("initialize", "", "", fmt.Errorf("failed to reach database: %w", err))
	}
	if err := s.migrations.MigrateToLatest(ctx); err != nil {
		return NewStorageError("initialize", "", "", err)
	}

	s.logger.Info("storage initialized", "schema_version", s.migrations.LatestVersion())
	return nil
}

// StoreReal writes measured points in transactions of batchSize rows.
func (s *SQLStorage) StoreReal(ctx context.Context, points []models.DataPoint) (int64, error) {
	defer s.trackQueryTime("store_real", time.Now())

	if len(points) == 0 {
		return 0, nil
	}
	if err := validatePoints(points, false); err != nil {
		return 0, NewInsertError("raw_data", err)
	}
	db, err := s.conn()
	if err != nil {
		return 0, NewInsertError("raw_data", err)
	}

	var written int64
	for start := 0; start < len(points); start += s.batchSize {
		end := start + s.batchSize
		if end > len(points) {
			end = len(points)
		}
		n, err := s.execBatch(ctx, db, storeRealQuery, points[start:end], realArgs)
		if err != nil {
			return written, NewInsertError("raw_data", fmt.Errorf("batch %d-%d: %w", start, end, err))
		}
		written += n
	}

	s.logger.Debug("stored real points", "count", len(points), "written", written)
	return written, nil
}

// UpsertImputed writes the whole batch in one transaction.
func (s *SQLStorage) UpsertImputed(ctx context.Context, points []models.DataPoint) (int64, error) {
	defer s.trackQueryTime("upsert_imputed", time.Now())

	if len(points) == 0 {
		return 0, nil
	}
	if err := validatePoints(points, true); err != nil {
		return 0, NewInsertError("raw_data", err)
	}
	db, err := s.conn()
	if err != nil {
		return 0, NewInsertError("raw_data", err)
	}

	written, err := s.execBatch(ctx, db, upsertImputedQuery, points, imputedArgs)
	if err != nil {
		return 0, NewInsertError("raw_data", err)
	}
	return written, nil
}

func realArgs(p models.DataPoint) []any {
	return []any{p.Timestamp.UTC(), p.UserID, string(p.MetricType), p.Value}
}

func imputedArgs(p models.DataPoint) []any {
	var gap any
	if p.GapDurationHours != nil {
		gap = *p.GapDurationHours
	}
	return []any{p.Timestamp.UTC(), p.UserID, string(p.MetricType), p.Value, string(p.ImputationMethod), gap}
}

// execBatch runs query once per point inside a single transaction.
func (s *SQLStorage) execBatch(ctx context.Context, db *sql.DB, query string, points []models.DataPoint, args func(models.DataPoint) []any) (int64, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	var written int64
	for _, p := range points {
		res, err := stmt.ExecContext(ctx, args(p)...)
		if err != nil {
			return 0, fmt.Errorf("failed to write %s: %w", p.String(), err)
		}
		if n, err := res.RowsAffected(); err == nil {
			written += n
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return written, nil
}

// Query retrieves points for one series with pagination.
func (s *SQLStorage) Query(ctx context.Context, req QueryRequest) (*QueryResponse, error) {
	start := time.Now()
	defer s.trackQueryTime("query", start)

	if err := validateQueryRequest(&req); err != nil {
		return nil, NewQueryError("raw_data", "", err)
	}
	db, err := s.conn()
	if err != nil {
		return nil, NewQueryError("raw_data", "", err)
	}

	where, args := seriesWhere(req.UserID, req.Metric, req.Start, req.End, req.IncludeImputed)

	var total int64
	countQuery := "SELECT COUNT(*) FROM raw_data WHERE " + where
	if err := db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, NewQueryError("raw_data", countQuery, fmt.Errorf("failed to get count: %w", err))
	}

	order := "ASC"
	if req.OrderBy == "timestamp_desc" {
		order = "DESC"
	}
	query := fmt.Sprintf("SELECT %s FROM raw_data WHERE %s ORDER BY timestamp %s", pointColumns, where, order)
	if req.Limit > 0 {
		args = append(args, req.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if req.Offset > 0 {
		args = append(args, req.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	points, err := s.queryPoints(ctx, db, query, args...)
	if err != nil {
		return nil, err
	}

	next := req.Offset + len(points)
	return &QueryResponse{
		Points:     points,
		Total:      total,
		HasMore:    int64(next) < total,
		NextOffset: next,
		QueryTime:  time.Since(start),
	}, nil
}

// QueryReal returns measured points in [start, end] ordered by timestamp.
func (s *SQLStorage) QueryReal(ctx context.Context, userID string, metric models.MetricType, start, end time.Time) ([]models.DataPoint, error) {
	defer s.trackQueryTime("query_real", time.Now())

	db, err := s.conn()
	if err != nil {
		return nil, NewQueryError("raw_data", "", err)
	}

	where, args := seriesWhere(userID, metric, start, end, false)
	query := fmt.Sprintf("SELECT %s FROM raw_data WHERE %s ORDER BY timestamp ASC", pointColumns, where)
	return s.queryPoints(ctx, db, query, args...)
}

func seriesWhere(userID string, metric models.MetricType, start, end time.Time, includeImputed bool) (string, []any) {
	conditions := []string{
		"user_id = $1",
		"metric_type = $2",
		"timestamp >= $3",
		"timestamp <= $4",
	}
	if !includeImputed {
		conditions = append(conditions, "is_imputed = FALSE")
	}
	return strings.Join(conditions, " AND "), []any{userID, string(metric), start.UTC(), end.UTC()}
}

func (s *SQLStorage) queryPoints(ctx context.Context, db *sql.DB, query string, args ...any) ([]models.DataPoint, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, NewQueryError("raw_data", query, fmt.Errorf("failed to execute query: %w", err))
	}
	defer rows.Close()

	var points []models.DataPoint
	for rows.Next() {
		p, err := scanPoint(rows)
		if err != nil {
			return nil, NewQueryError("raw_data", query, fmt.Errorf("failed to scan row: %w", err))
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, NewQueryError("raw_data", query, fmt.Errorf("row iteration error: %w", err))
	}
	return points, nil
}

func scanPoint(rows *sql.Rows) (models.DataPoint, error) {
	var (
		p      models.DataPoint
		metric string
		method sql.NullString
		gap    sql.NullInt64
	)
	if err := rows.Scan(&p.Timestamp, &p.UserID, &metric, &p.Value, &p.IsImputed, &method, &gap); err != nil {
		return p, err
	}

	p.Timestamp = p.Timestamp.UTC()
	p.MetricType = models.MetricType(metric)
	if method.Valid {
		p.ImputationMethod = models.ImputationMethod(method.String)
	}
	if gap.Valid {
		hours := int(gap.Int64)
		p.GapDurationHours = &hours
	}
	return p, nil
}

// ListMetrics returns the distinct metrics with stored data, sorted.
func (s *SQLStorage) ListMetrics(ctx context.Context) ([]models.MetricType, error) {
	db, err := s.conn()
	if err != nil {
		return nil, NewQueryError("raw_data", "", err)
	}

	query := "SELECT DISTINCT metric_type FROM raw_data ORDER BY metric_type"
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, NewQueryError("raw_data", query, err)
	}
	defer rows.Close()

	metrics := []models.MetricType{}
	for rows.Next() {
		var metric string
		if err := rows.Scan(&metric); err != nil {
			return nil, NewQueryError("raw_data", query, err)
		}
		metrics = append(metrics, models.MetricType(metric))
	}
	if err := rows.Err(); err != nil {
		return nil, NewQueryError("raw_data", query, err)
	}
	return metrics, nil
}

// EnrollUser stores a new enrollment.
func (s *SQLStorage) EnrollUser(ctx context.Context, user models.User) error {
	if err := user.Validate(); err != nil {
		return NewInsertError("users", err)
	}
	db, err := s.conn()
	if err != nil {
		return NewInsertError("users", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return NewInsertError("users", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM users WHERE user_id = $1", user.UserID).Scan(&exists); err != nil {
		return NewQueryError("users", "", err)
	}
	if exists > 0 {
		return ErrUserExists
	}

	createdAt := user.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO users (user_id, enrollment_date, created_at) VALUES ($1, $2, $3)",
		user.UserID, user.EnrollmentDate.UTC(), createdAt.UTC()); err != nil {
		return NewInsertError("users", err)
	}

	if err := tx.Commit(); err != nil {
		return NewInsertError("users", err)
	}
	return nil
}

// GetEnrolledUsers returns enrollments with data statistics, newest first.
func (s *SQLStorage) GetEnrolledUsers(ctx context.Context) ([]models.EnrolledUser, error) {
	db, err := s.conn()
	if err != nil {
		return nil, NewQueryError("users", "", err)
	}

	query := `
		SELECT u.user_id, u.enrollment_date,
			COALESCE(s.total_records, 0),
			COALESCE(s.metrics_count, 0),
			COALESCE(s.days_with_data, 0)
		FROM users u
		LEFT JOIN (
			SELECT user_id,
				COUNT(*) AS total_records,
				COUNT(DISTINCT metric_type) AS metrics_count,
				COUNT(DISTINCT CAST(timestamp AS DATE)) AS days_with_data
			FROM raw_data
			GROUP BY user_id
		) s ON s.user_id = u.user_id
		ORDER BY u.enrollment_date DESC`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, NewQueryError("users", query, err)
	}
	defer rows.Close()

	users := []models.EnrolledUser{}
	for rows.Next() {
		var u models.EnrolledUser
		if err := rows.Scan(&u.UserID, &u.EnrollmentDate, &u.TotalRecords, &u.MetricsCount, &u.DaysWithData); err != nil {
			return nil, NewQueryError("users", query, err)
		}
		u.EnrollmentDate = u.EnrollmentDate.UTC()
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, NewQueryError("users", query, err)
	}
	return users, nil
}

// GetUserStats returns statistics for every user with stored data.
func (s *SQLStorage) GetUserStats(ctx context.Context) ([]models.UserStats, error) {
	db, err := s.conn()
	if err != nil {
		return nil, NewQueryError("raw_data", "", err)
	}

	query := `
		SELECT user_id,
			COUNT(*),
			MIN(timestamp),
			MAX(timestamp),
			COUNT(DISTINCT metric_type),
			COUNT(DISTINCT CAST(timestamp AS DATE))
		FROM raw_data
		GROUP BY user_id
		ORDER BY user_id`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, NewQueryError("raw_data", query, err)
	}
	defer rows.Close()

	stats := []models.UserStats{}
	for rows.Next() {
		var (
			st          models.UserStats
			first, last sql.NullTime
		)
		if err := rows.Scan(&st.UserID, &st.TotalRecords, &first, &last, &st.MetricsCount, &st.DaysWithData); err != nil {
			return nil, NewQueryError("raw_data", query, err)
		}
		if first.Valid {
			t := first.Time.UTC()
			st.FirstRecord = &t
		}
		if last.Valid {
			t := last.Time.UTC()
			st.LastRecord = &t
		}
		stats = append(stats, st)
	}
	if err := rows.Err(); err != nil {
		return nil, NewQueryError("raw_data", query, err)
	}
	return stats, nil
}

// DeleteUser removes an enrolled user and their data points in one transaction.
func (s *SQLStorage) DeleteUser(ctx context.Context, userID string) (int64, error) {
	db, err := s.conn()
	if err != nil {
		return 0, NewDeleteError("users", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, NewDeleteError("users", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM users WHERE user_id = $1", userID).Scan(&exists); err != nil {
		return 0, NewQueryError("users", "", err)
	}
	if exists == 0 {
		return 0, ErrUserNotFound
	}

	res, err := tx.ExecContext(ctx, "DELETE FROM raw_data WHERE user_id = $1", userID)
	if err != nil {
		return 0, NewDeleteError("raw_data", err)
	}
	deleted, _ := res.RowsAffected()

	if _, err := tx.ExecContext(ctx, "DELETE FROM users WHERE user_id = $1", userID); err != nil {
		return 0, NewDeleteError("users", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, NewDeleteError("users", err)
	}

	s.logger.Info("deleted user", "user_id", userID, "deleted_records", deleted)
	return deleted, nil
}

// Close releases the connection pool. Closing twice is not an error.
func (s *SQLStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	s.logger.Info("closing storage")
	err := s.db.Close()
	s.db = nil
	if err != nil {
		return NewStorageError("close", "", "", fmt.Errorf("failed to close database: %w", err))
	}
	return nil
}

// Migrate applies schema migrations up to version.
func (s *SQLStorage) Migrate(ctx context.Context, version int) error {
	if _, err := s.conn(); err != nil {
		return NewStorageError("migrate", "", "", err)
	}
	if err := s.migrations.Migrate(ctx, version); err != nil {
		return NewStorageError("migrate", "schema_migrations", "", err)
	}
	return nil
}

// MigrationStatus reports applied and pending migrations.
func (s *SQLStorage) MigrationStatus(ctx context.Context) (*MigrationStatus, error) {
	if _, err := s.conn(); err != nil {
		return nil, NewStorageError("migrate", "", "", err)
	}
	return s.migrations.GetStatus(ctx)
}

// GetStats returns operational statistics.
func (s *SQLStorage) GetStats(ctx context.Context) (*StorageStats, error) {
	defer s.trackQueryTime("get_stats", time.Now())

	db, err := s.conn()
	if err != nil {
		return nil, NewStorageError("stats", "", "", err)
	}

	var (
		stats            StorageStats
		earliest, latest sql.NullTime
	)
	query := `
		SELECT COUNT(*),
			COUNT(CASE WHEN is_imputed THEN 1 END),
			COUNT(DISTINCT user_id),
			MIN(timestamp),
			MAX(timestamp)
		FROM raw_data`
	if err := db.QueryRowContext(ctx, query).Scan(
		&stats.TotalPoints, &stats.ImputedPoints, &stats.TotalUsers, &earliest, &latest); err != nil {
		return nil, NewStorageError("stats", "raw_data", query, err)
	}
	if earliest.Valid {
		stats.EarliestData = earliest.Time.UTC()
	}
	if latest.Valid {
		stats.LatestData = latest.Time.UTC()
	}

	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&stats.EnrolledUsers); err != nil {
		return nil, NewStorageError("stats", "users", "", err)
	}

	stats.QueryPerformance = s.averageQueryTimes()
	return &stats, nil
}

// HealthCheck performs a lightweight round trip to the database.
func (s *SQLStorage) HealthCheck(ctx context.Context) error {
	db, err := s.conn()
	if err != nil {
		return NewStorageError("health_check", "", "", err)
	}

	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return NewStorageError("health_check", "", "SELECT 1", fmt.Errorf("database health check failed: %w", err))
	}
	if result != 1 {
		return NewStorageError("health_check", "", "SELECT 1", errors.New("unexpected health check result"))
	}
	return nil
}

func (s *SQLStorage) trackQueryTime(operation string, start time.Time) {
	s.perfMu.Lock()
	defer s.perfMu.Unlock()

	times := append(s.queryTimes[operation], time.Since(start))
	if len(times) > 100 {
		times = times[1:]
	}
	s.queryTimes[operation] = times
}

func (s *SQLStorage) averageQueryTimes() map[string]time.Duration {
	s.perfMu.Lock()
	defer s.perfMu.Unlock()

	avg := make(map[string]time.Duration, len(s.queryTimes))
	for operation, times := range s.queryTimes {
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

var _ FullStorage = (*SQLStorage)(nil)
