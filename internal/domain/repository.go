package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PlanRepository defines the interface for plan and allocation persistence operations
type PlanRepository interface {
	// GetByID retrieves a plan with its allocations. Returns ErrNotFound when missing.
	GetByID(ctx context.Context, id uuid.UUID) (*AutoInvestPlan, error)

	// ListByUser retrieves all plans owned by a user, newest first
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*AutoInvestPlan, error)

	// Create persists a plan together with its allocations in one transaction
	Create(ctx context.Context, plan *AutoInvestPlan) error

	// Update applies a partial update. Deltas are applied as atomic increments.
	// Returns a *ConcurrencyError when patch.ExpectStatus does not match the stored status.
	Update(ctx context.Context, id uuid.UUID, patch PlanPatch) error

	// Delete removes a plan and its allocations. Execution history is kept.
	Delete(ctx context.Context, id uuid.UUID) error

	// ListAllocations retrieves the allocations of a plan
	ListAllocations(ctx context.Context, planID uuid.UUID) ([]AutoInvestAllocation, error)

	// UpdateAllocationPercents edits allocation percents keyed by allocation ID
	UpdateAllocationPercents(ctx context.Context, planID uuid.UUID, percents map[uuid.UUID]decimal.Decimal) error

	// ListDue retrieves active plans whose next execution date is at or before now
	ListDue(ctx context.Context, now time.Time) ([]*AutoInvestPlan, error)

	// ListPauseExpired retrieves paused plans whose pause_until is at or before now
	ListPauseExpired(ctx context.Context, now time.Time) ([]*AutoInvestPlan, error)
}

// ExecutionRepository defines the interface for execution history persistence operations
type ExecutionRepository interface {
	// Create inserts an execution and its details in one transaction
	Create(ctx context.Context, execution *AutoInvestExecution) error

	// Finalize moves an open execution to its terminal state and inserts its details.
	// Returns a *ConcurrencyError when the stored execution is no longer open.
	Finalize(ctx context.Context, execution *AutoInvestExecution) error

	// GetByID retrieves an execution with its details. Returns ErrNotFound when missing.
	GetByID(ctx context.Context, id uuid.UUID) (*AutoInvestExecution, error)

	// List retrieves executions, newest first. If planID is nil, returns all executions.
	List(ctx context.Context, planID *uuid.UUID) ([]*AutoInvestExecution, error)

	// ListPending retrieves pending executions, oldest first
	ListPending(ctx context.Context, limit int) ([]*AutoInvestExecution, error)

	// HasOpen reports whether the plan has a pending or processing execution
	HasOpen(ctx context.Context, planID uuid.UUID) (bool, error)

	// Claim moves a pending execution to processing.
	// Returns a *ConcurrencyError when it is no longer pending.
	Claim(ctx context.Context, id uuid.UUID) error
}

// DripRepository defines the interface for DRIP settings and accrual persistence operations
type DripRepository interface {
	// GetSettings retrieves the global settings of a user. Returns ErrNotFound when missing.
	GetSettings(ctx context.Context, userID uuid.UUID) (*DRIPSettings, error)

	// UpsertSettings creates or replaces the global settings of a user
	UpsertSettings(ctx context.Context, settings *DRIPSettings) error

	// ListPropertySettings retrieves all per-holding overrides of a user
	ListPropertySettings(ctx context.Context, userID uuid.UUID) ([]DRIPPropertySetting, error)

	// UpsertPropertySetting creates or replaces one per-holding override
	UpsertPropertySetting(ctx context.Context, setting *DRIPPropertySetting) error

	// ListCustomAllocations retrieves the custom strategy allocations of a user
	ListCustomAllocations(ctx context.Context, userID uuid.UUID) ([]DRIPCustomAllocation, error)

	// ReplaceCustomAllocations replaces the custom strategy allocations of a user
	ReplaceCustomAllocations(ctx context.Context, userID uuid.UUID, allocations []DRIPCustomAllocation) error

	// AddAccrual atomically adds delta to the (user, target) bucket and returns the new total
	AddAccrual(ctx context.Context, userID, targetID uuid.UUID, delta decimal.Decimal) (decimal.Decimal, error)

	// ReleaseAccrual atomically subtracts a released amount from the (user, target) bucket
	ReleaseAccrual(ctx context.Context, userID, targetID uuid.UUID, amount decimal.Decimal) error

	// ListAccruals retrieves the non-empty accrual buckets of a user
	ListAccruals(ctx context.Context, userID uuid.UUID) ([]ReinvestAccrual, error)

	// GetProcessedDistribution retrieves the stored outcome of an event.
	// Returns ErrNotFound when the event was never processed.
	GetProcessedDistribution(ctx context.Context, eventID uuid.UUID) (*ProcessedDistribution, error)

	// SaveProcessedDistribution stores the outcome of an event with its releases.
	// Returns a *ConcurrencyError when the event is already stored.
	SaveProcessedDistribution(ctx context.Context, processed *ProcessedDistribution) error
}

// HoldingRepository defines the interface for reading current holdings
type HoldingRepository interface {
	// ListByUser retrieves the current holdings of a user
	ListByUser(ctx context.Context, userID uuid.UUID) ([]Holding, error)
}

// Transactor runs fn as one unit of work. Repository calls made with the context passed
// to fn commit together, or roll back together when fn returns an error.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Locker serializes work on a key across processes.
// Obtain blocks until the lock is held or fails with a *ConcurrencyError.
type Locker interface {
	Obtain(ctx context.Context, key string) (release func(), err error)
}
