package scanning

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobStatusTransitions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		from    JobStatus
		to      JobStatus
		wantErr bool
	}{
		{name: "pending to running", from: JobStatusPending, to: JobStatusRunning},
		{name: "pending to failed", from: JobStatusPending, to: JobStatusFailed},
		{name: "pending to cancelled", from: JobStatusPending, to: JobStatusCancelled},
		{name: "pending to success skips running", from: JobStatusPending, to: JobStatusSuccess, wantErr: true},
		{name: "running to success", from: JobStatusRunning, to: JobStatusSuccess},
		{name: "running to failed", from: JobStatusRunning, to: JobStatusFailed},
		{name: "running to cancelled", from: JobStatusRunning, to: JobStatusCancelled},
		{name: "running back to pending", from: JobStatusRunning, to: JobStatusPending, wantErr: true},
		{name: "success is terminal", from: JobStatusSuccess, to: JobStatusRunning, wantErr: true},
		{name: "failed is terminal", from: JobStatusFailed, to: JobStatusRunning, wantErr: true},
		{name: "cancelled is terminal", from: JobStatusCancelled, to: JobStatusRunning, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			err := tc.from.validateTransition(tc.to)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestJobLifecycle(t *testing.T) {
	t.Parallel()

	job := NewJob("scan-1", uuid.New(), uuid.New())
	require.Equal(t, JobStatusPending, job.Status())
	require.False(t, job.QueuedAt().IsZero())
	require.True(t, job.StartTime().IsZero())

	_, ok := job.EndTime()
	require.False(t, ok)

	require.NoError(t, job.UpdateStatus(JobStatusRunning))
	assert.False(t, job.StartTime().IsZero())

	require.NoError(t, job.Complete())
	assert.Equal(t, JobStatusSuccess, job.Status())
	assert.Equal(t, 100, job.Progress())

	end, ok := job.EndTime()
	require.True(t, ok)
	assert.False(t, end.IsZero())
}

func TestJobFailStoresMessage(t *testing.T) {
	t.Parallel()

	job := NewJob("scan-1", uuid.New(), uuid.New())
	require.NoError(t, job.UpdateStatus(JobStatusRunning))
	require.NoError(t, job.Fail("image acquisition failed"))

	assert.Equal(t, JobStatusFailed, job.Status())
	assert.Equal(t, "image acquisition failed", job.ErrorMessage())
}

func TestJobSetProgress(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		updates      [][2]any // progress, step
		wantProgress int
		wantStep     string
	}{
		{
			name:         "advances and records step",
			updates:      [][2]any{{10, "Downloading image"}, {55, "Scanning with trivy"}},
			wantProgress: 55,
			wantStep:     "Scanning with trivy",
		},
		{
			name:         "never moves backwards",
			updates:      [][2]any{{60, "Scanning"}, {30, "Stale update"}},
			wantProgress: 60,
			wantStep:     "Stale update",
		},
		{
			name:         "clamps above 100",
			updates:      [][2]any{{150, "Overshoot"}},
			wantProgress: 100,
			wantStep:     "Overshoot",
		},
		{
			name:         "clamps below 0",
			updates:      [][2]any{{-5, "Undershoot"}},
			wantProgress: 0,
			wantStep:     "Undershoot",
		},
		{
			name:         "empty step keeps previous label",
			updates:      [][2]any{{10, "Downloading image"}, {20, ""}},
			wantProgress: 20,
			wantStep:     "Downloading image",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			job := NewJob("scan-1", uuid.New(), uuid.New())
			require.NoError(t, job.UpdateStatus(JobStatusRunning))

			for _, u := range tc.updates {
				require.NoError(t, job.SetProgress(u[0].(int), u[1].(string)))
			}

			assert.Equal(t, tc.wantProgress, job.Progress())
			assert.Equal(t, tc.wantStep, job.Step())
		})
	}
}

func TestJobSetProgressRejectsTerminal(t *testing.T) {
	t.Parallel()

	job := NewJob("scan-1", uuid.New(), uuid.New())
	require.NoError(t, job.UpdateStatus(JobStatusCancelled))

	assert.Error(t, job.SetProgress(50, "late update"))
}
