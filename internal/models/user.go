package models

import (
	"strings"
	"time"
)

// DefaultUserID is used when no user is given to generation and ingest.
const DefaultUserID = "user_1"

// User is an enrolled participant.
type User struct {
	UserID         string    `json:"user_id" db:"user_id"`
	EnrollmentDate time.Time `json:"enrollment_date" db:"enrollment_date"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// NewUser validates the identifier and normalizes the enrollment date to UTC.
func NewUser(userID string, enrollment time.Time) (*User, error) {
	u := &User{
		UserID:         strings.TrimSpace(userID),
		EnrollmentDate: enrollment.UTC(),
		CreatedAt:      time.Now().UTC(),
	}
	if err := u.Validate(); err != nil {
		return nil, err
	}
	return u, nil
}

// Validate checks the user identifier and enrollment date.
func (u *User) Validate() error {
	if u.UserID == "" {
		return &ValidationError{Field: "user_id", Message: "user_id cannot be empty"}
	}
	if u.EnrollmentDate.IsZero() {
		return &ValidationError{Field: "enrollment_date", Message: "enrollment_date cannot be zero"}
	}
	return nil
}

// UserStats summarizes the stored data of a user.
type UserStats struct {
	UserID       string     `json:"user_id"`
	TotalRecords int64      `json:"total_records"`
	FirstRecord  *time.Time `json:"first_record,omitempty"`
	LastRecord   *time.Time `json:"last_record,omitempty"`
	MetricsCount int        `json:"metrics_count"`
	DaysWithData int        `json:"days_with_data"`
}

// EnrolledUser joins an enrollment with the user's data statistics.
type EnrolledUser struct {
	UserID         string    `json:"user_id"`
	EnrollmentDate time.Time `json:"enrollment_date"`
	TotalRecords   int64     `json:"total_records"`
	MetricsCount   int       `json:"metrics_count"`
	DaysWithData   int       `json:"days_with_data"`
}
