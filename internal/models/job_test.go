package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobLifecycle(t *testing.T) {
	job := NewJob("job-1", JobTypeGenerate, DefaultUserID, baseTime, baseTime.Add(24*time.Hour))
	require.NoError(t, job.Validate())
	assert.Equal(t, StatusPending, job.Status)

	require.NoError(t, job.Start())
	assert.Equal(t, StatusRunning, job.Status)
	assert.Error(t, job.Start())

	require.NoError(t, job.Complete(120, 100))
	assert.Equal(t, StatusCompleted, job.Status)
	assert.Equal(t, 120, job.TotalPoints)
	assert.Equal(t, int64(100), job.SavedPoints)
	assert.Error(t, job.Fail("late failure"))
	assert.Contains(t, job.Summary(), "completed")

	data, err := job.ToJSON()
	require.NoError(t, err)
	assert.Contains(t, data, `"type":"generate"`)
}

func TestJobValidate(t *testing.T) {
	tests := []struct {
		name  string
		job   *Job
		field string
	}{
		{"missing id", NewJob("", JobTypeIngest, "u", baseTime, baseTime), "id"},
		{"bad type", NewJob("j", "backfill", "u", baseTime, baseTime), "type"},
		{"missing user", NewJob("j", JobTypeIngest, "", baseTime, baseTime), "user_id"},
		{"inverted window", NewJob("j", JobTypeIngest, "u", baseTime, baseTime.Add(-time.Hour)), "end_time"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.job.Validate()
			require.Error(t, err)
			var je JobError
			require.ErrorAs(t, err, &je)
			assert.Equal(t, tt.field, je.Field)
		})
	}
}

func TestNewUser(t *testing.T) {
	loc := time.FixedZone("PDT", -7*3600)
	u, err := NewUser("  alice ", time.Date(2024, 1, 2, 3, 0, 0, 0, loc))
	require.NoError(t, err)
	assert.Equal(t, "alice", u.UserID)
	assert.Equal(t, time.UTC, u.EnrollmentDate.Location())
	assert.Equal(t, 10, u.EnrollmentDate.Hour())

	_, err = NewUser("", time.Now())
	assert.True(t, IsValidationError(err))
}
