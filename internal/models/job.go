package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// JobStatus represents the current state of a generation run.
type JobStatus string

const (
	StatusPending   JobStatus = "pending"   // StatusPending indicates the run is queued but not yet started
	StatusRunning   JobStatus = "running"   // StatusRunning indicates the run is executing
	StatusCompleted JobStatus = "completed" // StatusCompleted indicates the run finished successfully
	StatusFailed    JobStatus = "failed"    // StatusFailed indicates the run encountered an error
)

// JobType distinguishes on-demand generation from incremental ingest.
type JobType string

const (
	JobTypeGenerate JobType = "generate" // JobTypeGenerate for explicit range generation
	JobTypeIngest   JobType = "ingest"   // JobTypeIngest for last-run driven ingest
)

// Job tracks one synthetic data run from creation through completion.
type Job struct {
	ID          string    `json:"id"`
	Type        JobType   `json:"type"`
	UserID      string    `json:"user_id"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	Status      JobStatus `json:"status"`
	TotalPoints int       `json:"total_points"`
	SavedPoints int64     `json:"saved_points"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	StartedAt   time.Time `json:"started_at,omitempty"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
}

// JobError represents a job state or field error.
type JobError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error implements the error interface for JobError.
func (e JobError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// NewJob creates a pending job.
//
// Example:
//
//	job := NewJob(uuid.NewString(), JobTypeGenerate, "user_1", start, end)
func NewJob(id string, jobType JobType, userID string, startTime, endTime time.Time) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:        id,
		Type:      jobType,
		UserID:    userID,
		StartTime: startTime,
		EndTime:   endTime,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Validate checks required fields and the time window.
func (j *Job) Validate() error {
	if j.ID == "" {
		return JobError{Field: "id", Message: "job ID cannot be empty"}
	}
	switch j.Type {
	case JobTypeGenerate, JobTypeIngest:
	default:
		return JobError{Field: "type", Message: fmt.Sprintf("invalid job type: %s", j.Type)}
	}
	if j.UserID == "" {
		return JobError{Field: "user_id", Message: "user ID cannot be empty"}
	}
	if j.StartTime.IsZero() || j.EndTime.IsZero() {
		return JobError{Field: "start_time", Message: "start and end time are required"}
	}
	if j.EndTime.Before(j.StartTime) {
		return JobError{Field: "end_time", Message: "end time must not be before start time"}
	}
	return nil
}

// Start moves a pending job to running.
func (j *Job) Start() error {
	if j.Status != StatusPending {
		return JobError{Field: "status", Message: fmt.Sprintf("cannot start job in %s status", j.Status)}
	}
	now := time.Now().UTC()
	j.Status = StatusRunning
	j.StartedAt = now
	j.UpdatedAt = now
	return nil
}

// Complete records the outcome of a running job.
func (j *Job) Complete(total int, saved int64) error {
	if j.Status != StatusRunning {
		return JobError{Field: "status", Message: fmt.Sprintf("cannot complete job in %s status", j.Status)}
	}
	now := time.Now().UTC()
	j.Status = StatusCompleted
	j.TotalPoints = total
	j.SavedPoints = saved
	j.CompletedAt = now
	j.UpdatedAt = now
	return nil
}

// Fail marks the job failed with the given message.
func (j *Job) Fail(errorMsg string) error {
	if j.Status == StatusCompleted {
		return JobError{Field: "status", Message: "cannot fail a completed job"}
	}
	now := time.Now().UTC()
	j.Status = StatusFailed
	j.Error = errorMsg
	j.CompletedAt = now
	j.UpdatedAt = now
	return nil
}

// Elapsed returns how long the job ran, or has been running.
func (j *Job) Elapsed() time.Duration {
	if j.StartedAt.IsZero() {
		return 0
	}
	if j.CompletedAt.IsZero() {
		return time.Since(j.StartedAt)
	}
	return j.CompletedAt.Sub(j.StartedAt)
}

// PointsPerSecond returns the generation throughput.
func (j *Job) PointsPerSecond() decimal.Decimal {
	elapsed := j.Elapsed()
	if elapsed <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(j.TotalPoints)).
		Div(decimal.NewFromFloat(elapsed.Seconds())).
		Round(2)
}

// Summary returns a single log-friendly line.
func (j *Job) Summary() string {
	return fmt.Sprintf("Job %s (%s) for %s: %s, %d points, %d saved, window %s - %s",
		j.ID, j.Type, j.UserID, j.Status, j.TotalPoints, j.SavedPoints,
		j.StartTime.Format(time.RFC3339), j.EndTime.Format(time.RFC3339))
}

// ToJSON serializes the job.
func (j *Job) ToJSON() (string, error) {
	data, err := json.Marshal(j)
	if err != nil {
		return "", fmt.Errorf("failed to marshal job: %w", err)
	}
	return string(data), nil
}
