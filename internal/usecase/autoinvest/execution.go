package autoinvest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/simaogato/autoinvest-backend/internal/domain"
	"github.com/simaogato/autoinvest-backend/internal/usecase/allocator"
	"github.com/simaogato/autoinvest-backend/internal/usecase/recurrence"
)

// TargetResult is the trade outcome reported by the execution pipeline for one target
type TargetResult struct {
	Target        domain.AllocationTarget
	TargetName    string
	TokenPrice    *decimal.Decimal
	TransactionID *string
	FailureReason string // Empty on success
}

func (r TargetResult) succeeded() bool {
	return r.TransactionID != nil && r.FailureReason == ""
}

// RecordExecutionInput carries the outcome of one execution attempt
type RecordExecutionInput struct {
	// ExecutionID finalizes an open execution created by OpenDueExecutions.
	// When nil a new execution row is written.
	ExecutionID *uuid.UUID

	// AttemptedAmount defaults to the open execution's total, then to the plan amount
	AttemptedAmount decimal.Decimal

	// AvailableFunds is the balance of the funding source. Nil means funds are sufficient.
	AvailableFunds *decimal.Decimal

	Results []TargetResult
	Now     time.Time
}

// ExecutionOutcome is the recorded execution and the plan as it stands afterwards
type ExecutionOutcome struct {
	Execution *domain.AutoInvestExecution
	Plan      *domain.AutoInvestPlan
}

// RecordExecution records one execution attempt of an active plan and updates the
// plan's schedule and totals. Calls for the same plan are serialized.
// Insufficient funds are handled by the plan's policy and never returned as an error.
func (s *PlanService) RecordExecution(ctx context.Context, planID uuid.UUID, input RecordExecutionInput) (*ExecutionOutcome, error) {
	var outcome *ExecutionOutcome
	err := s.withPlanLock(ctx, planID, func() error {
		var err error
		outcome, err = s.recordExecution(ctx, planID, input)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("plan_id", planID.String()).
		Str("execution_id", outcome.Execution.ID.String()).
		Str("status", string(outcome.Execution.Status)).
		Str("actual_amount", outcome.Execution.ActualAmount.String()).
		Time("next_execution_date", outcome.Plan.NextExecutionDate).
		Msg("Execution recorded")

	return outcome, nil
}

func (s *PlanService) recordExecution(ctx context.Context, planID uuid.UUID, input RecordExecutionInput) (*ExecutionOutcome, error) {
	now := input.Now
	plan, err := s.PlanRepo.GetByID(ctx, planID)
	if err != nil {
		return nil, err
	}
	if plan.Status != domain.PlanStatusActive {
		return nil, domain.NewValidationError("status", "only active plans can be executed")
	}

	var open *domain.AutoInvestExecution
	if input.ExecutionID != nil {
		open, err = s.ExecutionRepo.GetByID(ctx, *input.ExecutionID)
		if err != nil {
			return nil, err
		}
		if open.PlanID != planID {
			return nil, domain.NewValidationError("execution_id", "execution does not belong to this plan")
		}
		if !open.Status.IsOpen() {
			return nil, &domain.ConcurrencyError{Resource: "execution", ID: open.ID.String()}
		}
	}

	attempted := input.AttemptedAmount
	if attempted.IsZero() {
		attempted = plan.Amount
		if open != nil {
			attempted = open.TotalAmount
		}
	}
	if attempted.LessThanOrEqual(decimal.Zero) {
		return nil, domain.NewValidationError("attempted_amount", "attempted amount must be positive")
	}

	targets := allocator.FromAllocations(plan.Allocations)
	intended, err := allocator.Allocate(attempted, targets)
	if err != nil {
		return nil, &domain.ValidationError{Field: "allocations", Message: err.Error(), Err: err}
	}

	execution := &domain.AutoInvestExecution{
		ID:            uuid.New(),
		PlanID:        planID,
		ExecutionDate: now,
		TotalAmount:   attempted,
		ActualAmount:  decimal.Zero,
		CreatedAt:     now,
	}
	if open != nil {
		execution.ID = open.ID
		execution.ExecutionDate = open.ExecutionDate
		execution.CreatedAt = open.CreatedAt
	}

	// One period after this execution, never before the plan starts
	next, err := recurrence.Next(plan.Frequency, plan.ScheduleAnchor, now)
	if err != nil {
		return nil, err
	}
	if next.Before(plan.StartDate) {
		next = plan.StartDate
	}

	active := domain.PlanStatusActive
	patch := domain.PlanPatch{ExpectStatus: &active, UpdatedAt: now}

	investTotal := attempted
	var shortfallReason *string
	if input.AvailableFunds != nil && input.AvailableFunds.LessThan(attempted) {
		shortfall := &domain.InsufficientFundsError{Required: attempted, Available: *input.AvailableFunds}
		s.log.Warn().
			Str("plan_id", planID.String()).
			Str("policy", string(plan.InsufficientFundsAction)).
			Msg(shortfall.Error())

		reason := domain.FailureInsufficientFunds
		switch {
		case plan.InsufficientFundsAction == domain.InsufficientFundsPause:
			failExecution(execution, reason)
			paused := domain.PlanStatusPaused
			patch.Status = &paused
			patch.PausedAt = &now
			patch.ClearPause = true
			return s.persistOutcome(ctx, plan, execution, open != nil, patch)

		case plan.InsufficientFundsAction == domain.InsufficientFundsPartial && shortfall.Available.GreaterThan(decimal.Zero):
			investTotal = shortfall.Available
			shortfallReason = &reason

		default:
			failExecution(execution, reason)
			patch.NextExecutionDate = &next
			return s.persistOutcome(ctx, plan, execution, open != nil, patch)
		}
	}

	shares, err := allocator.Allocate(investTotal, targets)
	if err != nil {
		return nil, &domain.ValidationError{Field: "allocations", Message: err.Error(), Err: err}
	}

	results := make(map[string]TargetResult, len(input.Results))
	for _, r := range input.Results {
		results[r.Target.Key()] = r
	}

	succeeded := 0
	for i, share := range shares {
		detail := buildDetail(execution.ID, share, intended[i].Amount, results)
		if detail.Status == domain.DetailStatusSuccess {
			succeeded++
			execution.ActualAmount = execution.ActualAmount.Add(detail.ActualAmount)
		}
		execution.Details = append(execution.Details, detail)
	}

	patch.NextExecutionDate = &next
	switch {
	case succeeded == 0:
		failExecution(execution, domain.FailureAllTargetsFailed)
		execution.ActualAmount = decimal.Zero
		return s.persistOutcome(ctx, plan, execution, open != nil, patch)

	case shortfallReason != nil:
		completeExecution(execution, domain.ExecutionStatusPartial, shortfallReason, now)

	case succeeded < len(shares):
		reason := domain.FailureTargetFailed
		completeExecution(execution, domain.ExecutionStatusPartial, &reason, now)

	default:
		completeExecution(execution, domain.ExecutionStatusCompleted, nil, now)
	}

	patch.LastExecutionDate = &now
	patch.InvestedDelta = execution.ActualAmount
	patch.ExecutionsDelta = 1
	return s.persistOutcome(ctx, plan, execution, open != nil, patch)
}

func (s *PlanService) persistOutcome(
	ctx context.Context,
	plan *domain.AutoInvestPlan,
	execution *domain.AutoInvestExecution,
	finalize bool,
	patch domain.PlanPatch,
) (*ExecutionOutcome, error) {
	if err := execution.Validate(); err != nil {
		return nil, fmt.Errorf("invalid execution: %w", err)
	}

	// The execution row and the plan's schedule and totals move together
	err := s.Tx.WithinTx(ctx, func(ctx context.Context) error {
		if finalize {
			if err := s.ExecutionRepo.Finalize(ctx, execution); err != nil {
				return fmt.Errorf("failed to finalize execution: %w", err)
			}
		} else {
			if err := s.ExecutionRepo.Create(ctx, execution); err != nil {
				return fmt.Errorf("failed to create execution: %w", err)
			}
		}

		if err := s.PlanRepo.Update(ctx, plan.ID, patch); err != nil {
			return fmt.Errorf("failed to update plan after execution: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &ExecutionOutcome{Execution: execution, Plan: applyPatch(plan, patch)}, nil
}

func buildDetail(executionID uuid.UUID, share allocator.Share, intended decimal.Decimal, results map[string]TargetResult) domain.AutoInvestExecutionDetail {
	detail := domain.AutoInvestExecutionDetail{
		ID:             uuid.New(),
		ExecutionID:    executionID,
		Target:         share.Target,
		TargetName:     share.Target.Category,
		IntendedAmount: intended,
		ActualAmount:   decimal.Zero,
		Status:         domain.DetailStatusFailed,
	}

	r, ok := results[share.Target.Key()]
	if !ok {
		reason := domain.FailureNoTradeResult
		detail.FailureReason = &reason
		return detail
	}
	if r.TargetName != "" {
		detail.TargetName = r.TargetName
	}
	detail.TokenPrice = r.TokenPrice

	if !r.succeeded() {
		reason := r.FailureReason
		if reason == "" {
			reason = domain.FailureTargetFailed
		}
		detail.FailureReason = &reason
		return detail
	}

	detail.Status = domain.DetailStatusSuccess
	detail.ActualAmount = share.Amount
	detail.TransactionID = r.TransactionID
	if share.Target.Type == domain.TargetTypeProperty && r.TokenPrice != nil {
		if tokens, ok := allocator.TokenQuantity(share.Amount, *r.TokenPrice); ok {
			detail.TokensPurchased = &tokens
		}
	}
	return detail
}

func failExecution(execution *domain.AutoInvestExecution, reason string) {
	execution.Status = domain.ExecutionStatusFailed
	execution.FailureReason = &reason
	execution.CompletedAt = nil
}

func completeExecution(execution *domain.AutoInvestExecution, status domain.ExecutionStatus, reason *string, now time.Time) {
	execution.Status = status
	execution.FailureReason = reason
	execution.CompletedAt = &now
}

// OpenDueExecutions writes a pending execution for every active plan that is due and
// has no open execution yet. Returns the executions opened by this call.
func (s *PlanService) OpenDueExecutions(ctx context.Context, now time.Time) ([]*domain.AutoInvestExecution, error) {
	plans, err := s.PlanRepo.ListDue(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list due plans: %w", err)
	}

	var opened []*domain.AutoInvestExecution
	var errs []error
	for _, plan := range plans {
		execution, err := s.openExecution(ctx, plan, now)
		if err != nil {
			var cErr *domain.ConcurrencyError
			if errors.As(err, &cErr) {
				s.log.Warn().Err(err).Str("plan_id", plan.ID.String()).Msg("Plan busy, will retry on next run")
				continue
			}
			errs = append(errs, fmt.Errorf("plan %s: %w", plan.ID, err))
			continue
		}
		if execution != nil {
			opened = append(opened, execution)
		}
	}

	if len(opened) > 0 {
		s.log.Info().Int("count", len(opened)).Msg("Opened due executions")
	}
	return opened, errors.Join(errs...)
}

func (s *PlanService) openExecution(ctx context.Context, plan *domain.AutoInvestPlan, now time.Time) (*domain.AutoInvestExecution, error) {
	var execution *domain.AutoInvestExecution
	err := s.withPlanLock(ctx, plan.ID, func() error {
		hasOpen, err := s.ExecutionRepo.HasOpen(ctx, plan.ID)
		if err != nil {
			return err
		}
		if hasOpen {
			return nil
		}

		execution = &domain.AutoInvestExecution{
			ID:            uuid.New(),
			PlanID:        plan.ID,
			ExecutionDate: plan.NextExecutionDate,
			TotalAmount:   plan.Amount,
			ActualAmount:  decimal.Zero,
			Status:        domain.ExecutionStatusPending,
			CreatedAt:     now,
		}
		return s.ExecutionRepo.Create(ctx, execution)
	})
	if err != nil {
		return nil, err
	}
	return execution, nil
}

// ClaimExecution moves a pending execution to processing so that only one worker runs it
func (s *PlanService) ClaimExecution(ctx context.Context, executionID uuid.UUID) (*domain.AutoInvestExecution, error) {
	execution, err := s.ExecutionRepo.GetByID(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if execution.Status != domain.ExecutionStatusPending {
		return nil, &domain.ConcurrencyError{Resource: "execution", ID: executionID.String()}
	}

	if err := s.ExecutionRepo.Claim(ctx, executionID); err != nil {
		return nil, err
	}
	execution.Status = domain.ExecutionStatusProcessing

	s.log.Debug().Str("execution_id", executionID.String()).Msg("Execution claimed")
	return execution, nil
}

// ListPendingExecutions retrieves pending executions, oldest first
func (s *PlanService) ListPendingExecutions(ctx context.Context, limit int) ([]*domain.AutoInvestExecution, error) {
	if limit <= 0 {
		return nil, domain.NewValidationError("limit", "must be positive")
	}
	return s.ExecutionRepo.ListPending(ctx, limit)
}
