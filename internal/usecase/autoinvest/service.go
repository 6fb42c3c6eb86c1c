package autoinvest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/simaogato/autoinvest-backend/internal/domain"
	"github.com/simaogato/autoinvest-backend/internal/usecase/allocator"
	"github.com/simaogato/autoinvest-backend/internal/usecase/recurrence"
)

// AllocationInput represents one weighted target of a new plan
type AllocationInput struct {
	TargetType domain.TargetType `json:"target_type" validate:"required,oneof=property loan category"`
	TargetID   *uuid.UUID        `json:"target_id"`
	Category   string            `json:"category"`
	Percent    decimal.Decimal   `json:"allocation_percent"`
}

// CreatePlanInput represents the input for creating a plan
type CreatePlanInput struct {
	UserID                  uuid.UUID                      `json:"user_id"`
	Name                    string                         `json:"name" validate:"required,max=120"`
	Frequency               domain.Frequency               `json:"frequency" validate:"required,oneof=weekly biweekly monthly quarterly"`
	Amount                  decimal.Decimal                `json:"amount"`
	FundingSource           domain.FundingSource           `json:"funding_source" validate:"required,oneof=wallet linked_account"`
	LinkedAccountID         *uuid.UUID                     `json:"linked_account_id" validate:"required_if=FundingSource linked_account"`
	InsufficientFundsAction domain.InsufficientFundsAction `json:"insufficient_funds_action" validate:"required,oneof=skip partial pause"`
	StartDate               time.Time                      `json:"start_date"`
	Allocations             []AllocationInput              `json:"allocations" validate:"required,min=1,dive"`
}

// UpdatePlanInput represents an edit of a plan. Nil fields are left untouched.
type UpdatePlanInput struct {
	Name                    *string
	Amount                  *decimal.Decimal
	InsufficientFundsAction *domain.InsufficientFundsAction
	AllocationPercents      map[uuid.UUID]decimal.Decimal // Keyed by allocation ID
}

// PlanService handles plan lifecycle and execution recording
type PlanService struct {
	PlanRepo      domain.PlanRepository
	ExecutionRepo domain.ExecutionRepository
	Tx            domain.Transactor
	Locker        domain.Locker
	log           zerolog.Logger
}

// NewPlanService creates a new PlanService instance
func NewPlanService(
	planRepo domain.PlanRepository,
	executionRepo domain.ExecutionRepository,
	tx domain.Transactor,
	locker domain.Locker,
	log zerolog.Logger,
) *PlanService {
	return &PlanService{
		PlanRepo:      planRepo,
		ExecutionRepo: executionRepo,
		Tx:            tx,
		Locker:        locker,
		log:           log.With().Str("service", "autoinvest").Logger(),
	}
}

// CreatePlan validates the input and persists a new active plan with its allocations.
// The first execution is scheduled on the start date.
func (s *PlanService) CreatePlan(ctx context.Context, input CreatePlanInput, now time.Time) (*domain.AutoInvestPlan, error) {
	input.Name = strings.TrimSpace(input.Name)
	if input.FundingSource == "" {
		input.FundingSource = domain.FundingSourceWallet
	}
	if input.InsufficientFundsAction == "" {
		input.InsufficientFundsAction = domain.InsufficientFundsSkip
	}

	if err := validateStruct(input); err != nil {
		return nil, err
	}
	if input.UserID == uuid.Nil {
		return nil, domain.NewValidationError("user_id", "is required")
	}
	if input.Amount.LessThanOrEqual(decimal.Zero) {
		return nil, domain.NewValidationError("amount", "amount must be positive")
	}
	if input.StartDate.IsZero() {
		return nil, domain.NewValidationError("start_date", "is required")
	}

	planID := uuid.New()
	allocations := make([]domain.AutoInvestAllocation, 0, len(input.Allocations))
	for _, a := range input.Allocations {
		allocations = append(allocations, domain.AutoInvestAllocation{
			ID:     uuid.New(),
			PlanID: planID,
			Target: domain.AllocationTarget{
				Type:     a.TargetType,
				ID:       a.TargetID,
				Category: strings.TrimSpace(a.Category),
			},
			AllocationPercent: a.Percent,
		})
	}
	if err := checkAllocationSum(allocations); err != nil {
		return nil, err
	}

	plan := &domain.AutoInvestPlan{
		ID:                      planID,
		UserID:                  input.UserID,
		Name:                    input.Name,
		Status:                  domain.PlanStatusActive,
		Frequency:               input.Frequency,
		Amount:                  input.Amount,
		FundingSource:           input.FundingSource,
		LinkedAccountID:         input.LinkedAccountID,
		InsufficientFundsAction: input.InsufficientFundsAction,
		StartDate:               input.StartDate,
		ScheduleAnchor:          input.StartDate,
		NextExecutionDate:       input.StartDate,
		TotalInvested:           decimal.Zero,
		TotalExecutions:         0,
		CreatedAt:               now,
		UpdatedAt:               now,
		Allocations:             allocations,
	}

	if err := plan.Validate(); err != nil {
		return nil, err
	}

	if err := s.PlanRepo.Create(ctx, plan); err != nil {
		return nil, fmt.Errorf("failed to create plan: %w", err)
	}

	s.log.Info().
		Str("plan_id", plan.ID.String()).
		Str("user_id", plan.UserID.String()).
		Str("frequency", string(plan.Frequency)).
		Str("amount", plan.Amount.String()).
		Time("next_execution_date", plan.NextExecutionDate).
		Msg("Plan created")

	return plan, nil
}

// UpdatePlan edits name, amount, insufficient-funds policy and allocation percents.
// Cancelled plans cannot be edited.
func (s *PlanService) UpdatePlan(ctx context.Context, planID uuid.UUID, input UpdatePlanInput, now time.Time) (*domain.AutoInvestPlan, error) {
	var updated *domain.AutoInvestPlan
	err := s.withPlanLock(ctx, planID, func() error {
		plan, err := s.PlanRepo.GetByID(ctx, planID)
		if err != nil {
			return err
		}
		if plan.Status == domain.PlanStatusCancelled {
			return domain.NewValidationError("status", "cancelled plans cannot be edited")
		}

		patch := domain.PlanPatch{ExpectStatus: &plan.Status, UpdatedAt: now}
		if input.Name != nil {
			name := strings.TrimSpace(*input.Name)
			if name == "" {
				return domain.NewValidationError("name", "plan name cannot be empty")
			}
			patch.Name = &name
		}
		if input.Amount != nil {
			if input.Amount.LessThanOrEqual(decimal.Zero) {
				return domain.NewValidationError("amount", "amount must be positive")
			}
			patch.Amount = input.Amount
		}
		if input.InsufficientFundsAction != nil {
			switch *input.InsufficientFundsAction {
			case domain.InsufficientFundsSkip, domain.InsufficientFundsPartial, domain.InsufficientFundsPause:
			default:
				return domain.NewValidationError("insufficient_funds_action", "must be one of: skip, partial, pause")
			}
			patch.InsufficientFundsAction = input.InsufficientFundsAction
		}

		var merged []domain.AutoInvestAllocation
		if len(input.AllocationPercents) > 0 {
			merged = make([]domain.AutoInvestAllocation, len(plan.Allocations))
			copy(merged, plan.Allocations)
			matched := 0
			for i := range merged {
				if p, ok := input.AllocationPercents[merged[i].ID]; ok {
					merged[i].AllocationPercent = p
					matched++
				}
			}
			if matched != len(input.AllocationPercents) {
				return domain.NewValidationError("allocations", "unknown allocation id for this plan")
			}
			for i := range merged {
				if err := merged[i].Validate(); err != nil {
					return err
				}
			}
			if err := checkAllocationSum(merged); err != nil {
				return err
			}
		}

		err = s.Tx.WithinTx(ctx, func(ctx context.Context) error {
			if len(input.AllocationPercents) > 0 {
				if err := s.PlanRepo.UpdateAllocationPercents(ctx, planID, input.AllocationPercents); err != nil {
					return fmt.Errorf("failed to update allocations: %w", err)
				}
			}
			return s.PlanRepo.Update(ctx, planID, patch)
		})
		if err != nil {
			return err
		}
		if merged != nil {
			plan.Allocations = merged
		}

		updated = applyPatch(plan, patch)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("plan_id", planID.String()).Msg("Plan updated")
	return updated, nil
}

// PausePlan pauses an active plan, or updates pause_until of an already paused one.
// A nil pauseUntil pauses indefinitely until a manual resume.
func (s *PlanService) PausePlan(ctx context.Context, planID uuid.UUID, pauseUntil *time.Time, now time.Time) (*domain.AutoInvestPlan, error) {
	if pauseUntil != nil && !pauseUntil.After(now) {
		return nil, domain.NewValidationError("pause_until", "must be in the future")
	}

	var updated *domain.AutoInvestPlan
	err := s.withPlanLock(ctx, planID, func() error {
		plan, err := s.PlanRepo.GetByID(ctx, planID)
		if err != nil {
			return err
		}
		if !plan.CanPause() {
			return domain.NewValidationError("status", "only active or paused plans can be paused")
		}

		paused := domain.PlanStatusPaused
		patch := domain.PlanPatch{
			ExpectStatus: &plan.Status,
			Status:       &paused,
			PausedAt:     &now,
			PauseUntil:   pauseUntil,
			ClearPause:   true, // pause_until resets to NULL when not given
			UpdatedAt:    now,
		}
		if err := s.PlanRepo.Update(ctx, planID, patch); err != nil {
			return err
		}

		updated = applyPatch(plan, patch)
		return nil
	})
	if err != nil {
		return nil, err
	}

	evt := s.log.Info().Str("plan_id", planID.String())
	if pauseUntil != nil {
		evt = evt.Time("pause_until", *pauseUntil)
	}
	evt.Msg("Plan paused")

	return updated, nil
}

// ResumePlan reactivates a paused plan. The next execution is scheduled one day after
// now (never before the start date) and the cadence restarts from there.
func (s *PlanService) ResumePlan(ctx context.Context, planID uuid.UUID, now time.Time) (*domain.AutoInvestPlan, error) {
	var updated *domain.AutoInvestPlan
	err := s.withPlanLock(ctx, planID, func() error {
		plan, err := s.PlanRepo.GetByID(ctx, planID)
		if err != nil {
			return err
		}
		if !plan.CanResume() {
			return domain.NewValidationError("status", "only paused plans can be resumed")
		}

		next, err := recurrence.ResumeDate(plan.Frequency, now)
		if err != nil {
			return err
		}
		if next.Before(plan.StartDate) {
			next = plan.StartDate
		}

		active := domain.PlanStatusActive
		patch := domain.PlanPatch{
			ExpectStatus:      &plan.Status,
			Status:            &active,
			ClearPause:        true,
			NextExecutionDate: &next,
			ScheduleAnchor:    &next,
			UpdatedAt:         now,
		}
		if err := s.PlanRepo.Update(ctx, planID, patch); err != nil {
			return err
		}

		updated = applyPatch(plan, patch)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("plan_id", planID.String()).
		Time("next_execution_date", updated.NextExecutionDate).
		Msg("Plan resumed")

	return updated, nil
}

// CancelPlan cancels an active or paused plan. Cancelled is terminal.
// Holdings bought by past executions are not affected.
func (s *PlanService) CancelPlan(ctx context.Context, planID uuid.UUID, now time.Time) (*domain.AutoInvestPlan, error) {
	var updated *domain.AutoInvestPlan
	err := s.withPlanLock(ctx, planID, func() error {
		plan, err := s.PlanRepo.GetByID(ctx, planID)
		if err != nil {
			return err
		}
		if !plan.CanCancel() {
			return domain.NewValidationError("status", "plan is already cancelled")
		}

		cancelled := domain.PlanStatusCancelled
		patch := domain.PlanPatch{
			ExpectStatus: &plan.Status,
			Status:       &cancelled,
			ClearPause:   true,
			UpdatedAt:    now,
		}
		if err := s.PlanRepo.Update(ctx, planID, patch); err != nil {
			return err
		}

		updated = applyPatch(plan, patch)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("plan_id", planID.String()).Msg("Plan cancelled")
	return updated, nil
}

// DeletePlan removes a plan and its allocations. Execution history referencing the
// plan is kept for review.
func (s *PlanService) DeletePlan(ctx context.Context, planID uuid.UUID) error {
	err := s.withPlanLock(ctx, planID, func() error {
		if _, err := s.PlanRepo.GetByID(ctx, planID); err != nil {
			return err
		}
		return s.PlanRepo.Delete(ctx, planID)
	})
	if err != nil {
		return err
	}

	s.log.Info().Str("plan_id", planID.String()).Msg("Plan deleted")
	return nil
}

// GetPlan retrieves a plan with its allocations
func (s *PlanService) GetPlan(ctx context.Context, planID uuid.UUID) (*domain.AutoInvestPlan, error) {
	return s.PlanRepo.GetByID(ctx, planID)
}

// ListPlans retrieves the plans of a user
func (s *PlanService) ListPlans(ctx context.Context, userID uuid.UUID) ([]*domain.AutoInvestPlan, error) {
	plans, err := s.PlanRepo.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	return plans, nil
}

// ListAllocations retrieves the allocations of a plan
func (s *PlanService) ListAllocations(ctx context.Context, planID uuid.UUID) ([]domain.AutoInvestAllocation, error) {
	return s.PlanRepo.ListAllocations(ctx, planID)
}

// ListExecutions retrieves execution history, optionally for a single plan
func (s *PlanService) ListExecutions(ctx context.Context, planID *uuid.UUID) ([]*domain.AutoInvestExecution, error) {
	executions, err := s.ExecutionRepo.List(ctx, planID)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	return executions, nil
}

// ResumeExpiredPauses resumes paused plans whose pause_until has passed.
// Plans that changed concurrently are skipped and picked up on the next run.
func (s *PlanService) ResumeExpiredPauses(ctx context.Context, now time.Time) (int, error) {
	plans, err := s.PlanRepo.ListPauseExpired(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("failed to list expired pauses: %w", err)
	}

	resumed := 0
	var errs []error
	for _, plan := range plans {
		if _, err := s.ResumePlan(ctx, plan.ID, now); err != nil {
			var cErr *domain.ConcurrencyError
			var vErr *domain.ValidationError
			if errors.As(err, &cErr) || errors.As(err, &vErr) {
				s.log.Warn().Err(err).Str("plan_id", plan.ID.String()).Msg("Skipping pause reconciliation")
				continue
			}
			errs = append(errs, fmt.Errorf("plan %s: %w", plan.ID, err))
			continue
		}
		resumed++
	}

	return resumed, errors.Join(errs...)
}

func (s *PlanService) withPlanLock(ctx context.Context, planID uuid.UUID, fn func() error) error {
	release, err := s.Locker.Obtain(ctx, "plan:"+planID.String())
	if err != nil {
		return err
	}
	defer release()
	return fn()
}

// checkAllocationSum wraps allocation engine failures as a field-level validation error
func checkAllocationSum(allocations []domain.AutoInvestAllocation) error {
	if err := allocator.ValidatePercents(allocator.FromAllocations(allocations)); err != nil {
		return &domain.ValidationError{Field: "allocations", Message: err.Error(), Err: err}
	}
	return nil
}

// applyPatch returns a copy of plan with patch applied, mirroring what the store does
func applyPatch(plan *domain.AutoInvestPlan, patch domain.PlanPatch) *domain.AutoInvestPlan {
	p := *plan
	if patch.Name != nil {
		p.Name = *patch.Name
	}
	if patch.Amount != nil {
		p.Amount = *patch.Amount
	}
	if patch.InsufficientFundsAction != nil {
		p.InsufficientFundsAction = *patch.InsufficientFundsAction
	}
	if patch.Status != nil {
		p.Status = *patch.Status
	}
	if patch.ScheduleAnchor != nil {
		p.ScheduleAnchor = *patch.ScheduleAnchor
	}
	if patch.NextExecutionDate != nil {
		p.NextExecutionDate = *patch.NextExecutionDate
	}
	if patch.LastExecutionDate != nil {
		last := *patch.LastExecutionDate
		p.LastExecutionDate = &last
	}
	if patch.ClearPause {
		p.PausedAt = nil
		p.PauseUntil = nil
	}
	if patch.PausedAt != nil {
		at := *patch.PausedAt
		p.PausedAt = &at
	}
	if patch.PauseUntil != nil {
		until := *patch.PauseUntil
		p.PauseUntil = &until
	}
	p.TotalInvested = p.TotalInvested.Add(patch.InvestedDelta)
	p.TotalExecutions += patch.ExecutionsDelta
	if !patch.UpdatedAt.IsZero() {
		p.UpdatedAt = patch.UpdatedAt
	}
	return &p
}
