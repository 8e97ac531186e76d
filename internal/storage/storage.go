// Package storage defines the storage layer for hourly health-metric data
// points and enrolled users, with in-memory and SQL (DuckDB, Postgres)
// backends.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/johnayoung/go-health-series/internal/models"
)

var (
	// ErrStorageClosed is returned by every operation after Close.
	ErrStorageClosed = errors.New("storage is closed")
	// ErrUserExists is returned when enrolling a user twice.
	ErrUserExists = errors.New("user is already enrolled")
	// ErrUserNotFound is returned when deleting an unknown user.
	ErrUserNotFound = errors.New("user not found")
)

// PointWriter handles data point persistence.
type PointWriter interface {
	// StoreReal persists measured points. An existing imputed point at the
	// same key is replaced by the measurement; an existing real point is
	// left untouched. Returns the number of rows inserted or replaced.
	StoreReal(ctx context.Context, points []models.DataPoint) (int64, error)

	// UpsertImputed persists synthesized points keyed by (timestamp, user,
	// metric). On conflict with an imputed row the value and imputation
	// columns are refreshed; a conflicting real row is never modified.
	// The whole batch runs in one transaction. Returns the rows written.
	UpsertImputed(ctx context.Context, points []models.DataPoint) (int64, error)
}

// PointReader handles data point retrieval.
type PointReader interface {
	// Query retrieves points for one user and metric with pagination.
	Query(ctx context.Context, req QueryRequest) (*QueryResponse, error)

	// QueryReal returns the measured points of a user and metric whose
	// timestamps fall in [start, end], ordered by timestamp.
	QueryReal(ctx context.Context, userID string, metric models.MetricType, start, end time.Time) ([]models.DataPoint, error)

	// ListMetrics returns the distinct metrics that have stored data.
	ListMetrics(ctx context.Context) ([]models.MetricType, error)
}

// UserStorage manages enrollments and per-user statistics.
type UserStorage interface {
	// EnrollUser stores a new enrollment. Returns ErrUserExists if the user
	// is already enrolled.
	EnrollUser(ctx context.Context, user models.User) error

	// GetEnrolledUsers returns enrolled users with their data statistics,
	// newest enrollment first.
	GetEnrolledUsers(ctx context.Context) ([]models.EnrolledUser, error)

	// GetUserStats returns statistics for every user with stored data,
	// ordered by user ID.
	GetUserStats(ctx context.Context) ([]models.UserStats, error)

	// DeleteUser removes an enrolled user and all of their data points.
	// Returns ErrUserNotFound if the user is not enrolled.
	DeleteUser(ctx context.Context, userID string) (int64, error)
}

// StorageManager handles storage lifecycle and operational concerns.
type StorageManager interface {
	// Initialize prepares the backend, applying pending schema migrations.
	// Safe to call multiple times.
	Initialize(ctx context.Context) error

	// Close releases connections. The instance must not be used afterwards.
	Close() error

	// Migrate applies schema migrations up to the given version.
	Migrate(ctx context.Context, version int) error

	// GetStats returns operational statistics about the backend.
	GetStats(ctx context.Context) (*StorageStats, error)

	HealthChecker
}

// HealthChecker provides health monitoring for storage backends.
type HealthChecker interface {
	// HealthCheck performs a lightweight round trip to the backend.
	HealthCheck(ctx context.Context) error
}

// PointStorage combines point reads and writes.
type PointStorage interface {
	PointWriter
	PointReader
}

// FullStorage combines all storage capabilities. Backends implement this.
type FullStorage interface {
	PointStorage
	UserStorage
	StorageManager
}

// QueryRequest defines parameters for a paginated point query.
type QueryRequest struct {
	// UserID and Metric identify the series
	UserID string
	Metric models.MetricType

	// Start and End bound the window, both inclusive
	Start time.Time
	End   time.Time

	// IncludeImputed keeps previously synthesized points in the results
	IncludeImputed bool

	// Limit is the maximum number of results to return (0 = no limit)
	Limit int

	// Offset is the number of results to skip for pagination
	Offset int

	// OrderBy is "timestamp_asc" (default) or "timestamp_desc"
	OrderBy string
}

// QueryResponse contains the results of a point query.
type QueryResponse struct {
	Points []models.DataPoint

	// Total is the number of matches before limit/offset
	Total int64

	HasMore    bool
	NextOffset int
	QueryTime  time.Duration
}

// StorageStats provides operational statistics about storage.
type StorageStats struct {
	TotalPoints      int64
	ImputedPoints    int64
	TotalUsers       int
	EnrolledUsers    int
	EarliestData     time.Time
	LatestData       time.Time
	QueryPerformance map[string]time.Duration
}

// StorageError represents errors that occur during storage operations.
type StorageError struct {
	// Operation is the storage operation that failed (e.g., "insert", "query")
	Operation string

	// Table is the database table involved in the operation
	Table string

	// Query is the SQL statement (may be empty)
	Query string

	// Err is the underlying error
	Err error
}

// Error implements the error interface for StorageError.
func (e *StorageError) Error() string {
	if e.Table != "" {
		return fmt.Sprintf("storage operation %s on table %s failed: %v", e.Operation, e.Table, e.Err)
	}
	return fmt.Sprintf("storage operation %s failed: %v", e.Operation, e.Err)
}

// Unwrap returns the underlying error for error chain support.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// NewStorageError creates a new StorageError with the provided details.
func NewStorageError(operation, table, query string, err error) *StorageError {
	return &StorageError{Operation: operation, Table: table, Query: query, Err: err}
}

// NewQueryError creates a StorageError for query operations.
func NewQueryError(table, query string, err error) *StorageError {
	return &StorageError{Operation: "query", Table: table, Query: query, Err: err}
}

// NewInsertError creates a StorageError for insert operations.
func NewInsertError(table string, err error) *StorageError {
	return &StorageError{Operation: "insert", Table: table, Err: err}
}

// NewDeleteError creates a StorageError for delete operations.
func NewDeleteError(table string, err error) *StorageError {
	return &StorageError{Operation: "delete", Table: table, Err: err}
}

func validatePoints(points []models.DataPoint, imputed bool) error {
	for i := range points {
		if err := points[i].Validate(); err != nil {
			return fmt.Errorf("point %d: %w", i, err)
		}
		if points[i].IsImputed != imputed {
			if imputed {
				return fmt.Errorf("point %d: expected an imputed point", i)
			}
			return fmt.Errorf("point %d: expected a real point", i)
		}
	}
	return nil
}
