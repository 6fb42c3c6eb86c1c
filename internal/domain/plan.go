package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PlanStatus represents the lifecycle state of an auto-invest plan
type PlanStatus string

const (
	PlanStatusActive    PlanStatus = "active"
	PlanStatusPaused    PlanStatus = "paused"
	PlanStatusCancelled PlanStatus = "cancelled"
)

// Frequency represents how often a plan contributes
type Frequency string

const (
	FrequencyWeekly    Frequency = "weekly"
	FrequencyBiweekly  Frequency = "biweekly"
	FrequencyMonthly   Frequency = "monthly"
	FrequencyQuarterly Frequency = "quarterly"
)

// Valid reports whether f is a known frequency
func (f Frequency) Valid() bool {
	switch f {
	case FrequencyWeekly, FrequencyBiweekly, FrequencyMonthly, FrequencyQuarterly:
		return true
	}
	return false
}

// FundingSource represents where a plan draws its contribution from
type FundingSource string

const (
	FundingSourceWallet        FundingSource = "wallet"
	FundingSourceLinkedAccount FundingSource = "linked_account"
)

// InsufficientFundsAction is the policy applied when available funds are below the plan amount
type InsufficientFundsAction string

const (
	InsufficientFundsSkip    InsufficientFundsAction = "skip"
	InsufficientFundsPartial InsufficientFundsAction = "partial"
	InsufficientFundsPause   InsufficientFundsAction = "pause"
)

// AutoInvestPlan is a recurring contribution instruction
type AutoInvestPlan struct {
	ID                      uuid.UUID
	UserID                  uuid.UUID
	Name                    string
	Status                  PlanStatus
	Frequency               Frequency
	Amount                  decimal.Decimal
	FundingSource           FundingSource
	LinkedAccountID         *uuid.UUID // NOT NULL iff FundingSource is linked_account
	InsufficientFundsAction InsufficientFundsAction
	StartDate               time.Time
	ScheduleAnchor          time.Time // Cadence is computed from here: StartDate, or the resume date after a resume
	NextExecutionDate       time.Time
	LastExecutionDate       *time.Time
	TotalInvested           decimal.Decimal
	TotalExecutions         int
	PausedAt                *time.Time
	PauseUntil              *time.Time
	CreatedAt               time.Time
	UpdatedAt               time.Time

	Allocations []AutoInvestAllocation
}

// Validate ensures the plan adheres to domain rules.
// Allocation percent sums are checked by the allocation engine, not here.
func (p *AutoInvestPlan) Validate() error {
	if p.Name == "" {
		return NewValidationError("name", "plan name cannot be empty")
	}
	if p.Amount.LessThanOrEqual(decimal.Zero) {
		return NewValidationError("amount", "amount must be positive")
	}
	if !p.Frequency.Valid() {
		return NewValidationError("frequency", "frequency must be weekly, biweekly, monthly, or quarterly")
	}

	switch p.FundingSource {
	case FundingSourceWallet:
		if p.LinkedAccountID != nil {
			return NewValidationError("linked_account_id", "linked_account_id must be empty for wallet funding")
		}
	case FundingSourceLinkedAccount:
		if p.LinkedAccountID == nil {
			return NewValidationError("linked_account_id", "linked_account_id is required for linked_account funding")
		}
	default:
		return NewValidationError("funding_source", "funding_source must be wallet or linked_account")
	}

	switch p.InsufficientFundsAction {
	case InsufficientFundsSkip, InsufficientFundsPartial, InsufficientFundsPause:
	default:
		return NewValidationError("insufficient_funds_action", "insufficient_funds_action must be skip, partial, or pause")
	}

	if p.StartDate.IsZero() {
		return NewValidationError("start_date", "start_date is required")
	}
	if p.NextExecutionDate.Before(p.StartDate) {
		return NewValidationError("next_execution_date", "next_execution_date cannot be before start_date")
	}

	for i := range p.Allocations {
		if err := p.Allocations[i].Validate(); err != nil {
			return err
		}
	}

	return nil
}

// CanPause reports whether the plan may be paused. Re-pausing a paused plan is allowed.
func (p *AutoInvestPlan) CanPause() bool {
	return p.Status == PlanStatusActive || p.Status == PlanStatusPaused
}

// CanResume reports whether the plan may be resumed
func (p *AutoInvestPlan) CanResume() bool {
	return p.Status == PlanStatusPaused
}

// CanCancel reports whether the plan may be cancelled. Cancelled is terminal.
func (p *AutoInvestPlan) CanCancel() bool {
	return p.Status == PlanStatusActive || p.Status == PlanStatusPaused
}

// PlanPatch describes a partial update of a plan.
// Nil fields are left untouched. Deltas are applied as atomic increments by the store.
type PlanPatch struct {
	ExpectStatus *PlanStatus // Guard: the update applies only while the plan is in this status

	Name                    *string
	Amount                  *decimal.Decimal
	InsufficientFundsAction *InsufficientFundsAction
	Status                  *PlanStatus
	ScheduleAnchor          *time.Time
	NextExecutionDate       *time.Time
	LastExecutionDate       *time.Time
	PausedAt                *time.Time
	PauseUntil              *time.Time
	ClearPause              bool // Sets paused_at and pause_until to NULL unless a value is given for them

	InvestedDelta   decimal.Decimal
	ExecutionsDelta int

	UpdatedAt time.Time
}
