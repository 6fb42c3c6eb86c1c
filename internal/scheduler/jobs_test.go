package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/simaogato/autoinvest-backend/internal/domain"
)

type MockDueExecutionOpener struct {
	mock.Mock
}

func (m *MockDueExecutionOpener) OpenDueExecutions(ctx context.Context, now time.Time) ([]*domain.AutoInvestExecution, error) {
	args := m.Called(ctx, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.AutoInvestExecution), args.Error(1)
}

type MockPauseReconciler struct {
	mock.Mock
}

func (m *MockPauseReconciler) ResumeExpiredPauses(ctx context.Context, now time.Time) (int, error) {
	args := m.Called(ctx, now)
	return args.Int(0), args.Error(1)
}

var jobNow = time.Date(2024, 2, 29, 6, 0, 0, 0, time.UTC)

func TestDueExecutionsJob_Run(t *testing.T) {
	tests := []struct {
		name        string
		opened      []*domain.AutoInvestExecution
		openErr     error
		expectError bool
	}{
		{
			name:   "Opens executions for due plans",
			opened: []*domain.AutoInvestExecution{{ID: uuid.New()}, {ID: uuid.New()}},
		},
		{
			name:   "Nothing due",
			opened: []*domain.AutoInvestExecution{},
		},
		{
			name:        "Store failure",
			openErr:     errors.New("connection refused"),
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Setup
			opener := new(MockDueExecutionOpener)
			opener.On("OpenDueExecutions", mock.Anything, jobNow).Return(tt.opened, tt.openErr).Once()

			job := NewDueExecutionsJob(opener, zerolog.Nop())
			job.now = func() time.Time { return jobNow }

			// Execute
			err := job.Run()

			// Assert
			if tt.expectError {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "failed to open due executions")
			} else {
				assert.NoError(t, err)
			}
			opener.AssertExpectations(t)
		})
	}
}

func TestPauseReconcileJob_Run(t *testing.T) {
	// Setup
	reconciler := new(MockPauseReconciler)
	reconciler.On("ResumeExpiredPauses", mock.Anything, jobNow).Return(3, nil).Once()

	job := NewPauseReconcileJob(reconciler, zerolog.Nop())
	job.now = func() time.Time { return jobNow }

	// Execute
	err := job.Run()

	// Assert
	assert.NoError(t, err)
	assert.Equal(t, "pause_reconcile", job.Name())
	reconciler.AssertExpectations(t)
}

func TestPauseReconcileJob_Run_PartialFailure(t *testing.T) {
	reconciler := new(MockPauseReconciler)
	reconciler.On("ResumeExpiredPauses", mock.Anything, jobNow).Return(1, errors.New("plan x: timeout")).Once()

	job := NewPauseReconcileJob(reconciler, zerolog.Nop())
	job.now = func() time.Time { return jobNow }

	err := job.Run()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "plan x: timeout")
}

type countingJob struct {
	runs atomic.Int32
	err  error
}

func (j *countingJob) Run() error {
	j.runs.Add(1)
	return j.err
}

func (j *countingJob) Name() string {
	return "counting"
}

func TestScheduler_AddJob(t *testing.T) {
	s := New(zerolog.Nop())

	assert.NoError(t, s.AddJob("0 */5 * * * *", &countingJob{}))
	assert.NoError(t, s.AddJob("@every 1s", &countingJob{}))
	assert.Error(t, s.AddJob("*/5 * * * *", &countingJob{}), "five-field specs are rejected")
	assert.Error(t, s.AddJob("not a schedule", &countingJob{}))
}

func TestScheduler_RunsJobs(t *testing.T) {
	s := New(zerolog.Nop())
	job := &countingJob{err: errors.New("fails every time")}

	require.NoError(t, s.AddJob("@every 1s", job))
	s.Start()
	defer s.Stop()

	assert.Eventually(t, func() bool {
		return job.runs.Load() >= 1
	}, 3*time.Second, 50*time.Millisecond)
}

func TestScheduler_RunNow(t *testing.T) {
	s := New(zerolog.Nop())
	job := &countingJob{}

	assert.NoError(t, s.RunNow(job))
	assert.Equal(t, int32(1), job.runs.Load())
}
