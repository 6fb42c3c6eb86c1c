package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ExecutionStatus represents the state of one execution attempt
type ExecutionStatus string

const (
	ExecutionStatusPending    ExecutionStatus = "pending"
	ExecutionStatusProcessing ExecutionStatus = "processing"
	ExecutionStatusCompleted  ExecutionStatus = "completed"
	ExecutionStatusFailed     ExecutionStatus = "failed"
	ExecutionStatusPartial    ExecutionStatus = "partial"
)

// IsOpen reports whether the execution has not reached a terminal state
func (s ExecutionStatus) IsOpen() bool {
	return s == ExecutionStatusPending || s == ExecutionStatusProcessing
}

// DetailStatus represents the outcome for a single allocation target
type DetailStatus string

const (
	DetailStatusSuccess DetailStatus = "success"
	DetailStatusFailed  DetailStatus = "failed"
)

// AutoInvestExecution is one dated, historical attempt to apply a plan's contribution
type AutoInvestExecution struct {
	ID            uuid.UUID
	PlanID        uuid.UUID
	ExecutionDate time.Time
	TotalAmount   decimal.Decimal // Intended
	ActualAmount  decimal.Decimal // Realized, <= TotalAmount
	Status        ExecutionStatus
	FailureReason *string    // NOT NULL iff Status is failed or partial
	CompletedAt   *time.Time // NOT NULL iff Status is completed or partial
	CreatedAt     time.Time

	Details []AutoInvestExecutionDetail
}

// AutoInvestExecutionDetail is the per-target outcome of one execution
type AutoInvestExecutionDetail struct {
	ID              uuid.UUID
	ExecutionID     uuid.UUID
	Target          AllocationTarget
	TargetName      string
	IntendedAmount  decimal.Decimal
	ActualAmount    decimal.Decimal
	TokensPurchased *decimal.Decimal // NULL when the target has no token price
	TokenPrice      *decimal.Decimal
	Status          DetailStatus
	FailureReason   *string
	TransactionID   *string // NOT NULL iff Status is success
}

// Validate ensures the execution adheres to its status invariants
func (e *AutoInvestExecution) Validate() error {
	if e.TotalAmount.LessThan(decimal.Zero) || e.ActualAmount.LessThan(decimal.Zero) {
		return errors.New("execution amounts cannot be negative")
	}
	if e.ActualAmount.GreaterThan(e.TotalAmount) {
		return errors.New("actual amount cannot exceed total amount")
	}

	switch e.Status {
	case ExecutionStatusPending, ExecutionStatusProcessing:
		if e.FailureReason != nil || e.CompletedAt != nil {
			return errors.New("open execution cannot carry a failure reason or completion time")
		}
	case ExecutionStatusCompleted:
		if e.FailureReason != nil {
			return errors.New("completed execution cannot carry a failure reason")
		}
		if e.CompletedAt == nil {
			return errors.New("completed execution must have completed_at")
		}
	case ExecutionStatusPartial:
		if e.FailureReason == nil {
			return errors.New("partial execution must have a failure reason")
		}
		if e.CompletedAt == nil {
			return errors.New("partial execution must have completed_at")
		}
	case ExecutionStatusFailed:
		if e.FailureReason == nil {
			return errors.New("failed execution must have a failure reason")
		}
		if e.CompletedAt != nil {
			return errors.New("failed execution cannot have completed_at")
		}
	default:
		return errors.New("execution status must be pending, processing, completed, failed, or partial")
	}

	for _, d := range e.Details {
		if (d.Status == DetailStatusSuccess) != (d.TransactionID != nil) {
			return errors.New("execution detail must have a transaction id iff it succeeded")
		}
	}

	return nil
}
