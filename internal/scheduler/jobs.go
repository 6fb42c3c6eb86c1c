package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/simaogato/autoinvest-backend/internal/domain"
)

// defaultJobTimeout bounds one run of a job
const defaultJobTimeout = 2 * time.Minute

// DueExecutionOpener opens pending executions for plans that are due
type DueExecutionOpener interface {
	OpenDueExecutions(ctx context.Context, now time.Time) ([]*domain.AutoInvestExecution, error)
}

// PauseReconciler resumes plans whose pause has expired
type PauseReconciler interface {
	ResumeExpiredPauses(ctx context.Context, now time.Time) (int, error)
}

// DueExecutionsJob opens a pending execution for every due active plan.
// The trade pipeline picks them up with ListPendingExecutions.
type DueExecutionsJob struct {
	opener  DueExecutionOpener
	now     func() time.Time
	timeout time.Duration
	log     zerolog.Logger
}

// NewDueExecutionsJob creates a new DueExecutionsJob
func NewDueExecutionsJob(opener DueExecutionOpener, log zerolog.Logger) *DueExecutionsJob {
	return &DueExecutionsJob{
		opener:  opener,
		now:     func() time.Time { return time.Now().UTC() },
		timeout: defaultJobTimeout,
		log:     log.With().Str("job", "due_executions").Logger(),
	}
}

// Name returns the job name
func (j *DueExecutionsJob) Name() string {
	return "due_executions"
}

// Run opens executions for all plans due at the current time
func (j *DueExecutionsJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	opened, err := j.opener.OpenDueExecutions(ctx, j.now())
	if len(opened) > 0 {
		j.log.Info().Int("opened", len(opened)).Msg("Opened due executions")
	}
	if err != nil {
		return fmt.Errorf("failed to open due executions: %w", err)
	}
	return nil
}

// PauseReconcileJob resumes paused plans whose pause_until has passed
type PauseReconcileJob struct {
	reconciler PauseReconciler
	now        func() time.Time
	timeout    time.Duration
	log        zerolog.Logger
}

// NewPauseReconcileJob creates a new PauseReconcileJob
func NewPauseReconcileJob(reconciler PauseReconciler, log zerolog.Logger) *PauseReconcileJob {
	return &PauseReconcileJob{
		reconciler: reconciler,
		now:        func() time.Time { return time.Now().UTC() },
		timeout:    defaultJobTimeout,
		log:        log.With().Str("job", "pause_reconcile").Logger(),
	}
}

// Name returns the job name
func (j *PauseReconcileJob) Name() string {
	return "pause_reconcile"
}

// Run resumes every plan whose pause expired at or before the current time
func (j *PauseReconcileJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	resumed, err := j.reconciler.ResumeExpiredPauses(ctx, j.now())
	if resumed > 0 {
		j.log.Info().Int("resumed", resumed).Msg("Resumed plans with expired pauses")
	}
	if err != nil {
		return fmt.Errorf("failed to reconcile pauses: %w", err)
	}
	return nil
}
