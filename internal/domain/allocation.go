package domain

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TargetType represents what an allocation points at
type TargetType string

const (
	TargetTypeProperty TargetType = "property"
	TargetTypeLoan     TargetType = "loan"
	TargetTypeCategory TargetType = "category"
)

// AllocationTarget identifies an investment target: a specific property or loan,
// or a whole category
type AllocationTarget struct {
	Type     TargetType
	ID       *uuid.UUID // NOT NULL for property and loan
	Category string     // NOT EMPTY for category
}

// Key returns a stable string identifying the target, used to match trade results
func (t AllocationTarget) Key() string {
	if t.Type == TargetTypeCategory {
		return string(t.Type) + ":" + t.Category
	}
	if t.ID == nil {
		return string(t.Type) + ":"
	}
	return string(t.Type) + ":" + t.ID.String()
}

// Validate checks that the target carries the identifier its type requires
func (t AllocationTarget) Validate() error {
	switch t.Type {
	case TargetTypeProperty, TargetTypeLoan:
		if t.ID == nil {
			return NewValidationError("target_id", "target_id is required for "+string(t.Type)+" targets")
		}
		if t.Category != "" {
			return NewValidationError("category", "category must be empty for "+string(t.Type)+" targets")
		}
	case TargetTypeCategory:
		if t.Category == "" {
			return NewValidationError("category", "category is required for category targets")
		}
		if t.ID != nil {
			return NewValidationError("target_id", "target_id must be empty for category targets")
		}
	default:
		return NewValidationError("target_type", "target_type must be property, loan, or category")
	}
	return nil
}

// AutoInvestAllocation is a weighted target belonging to exactly one plan
type AutoInvestAllocation struct {
	ID                uuid.UUID
	PlanID            uuid.UUID
	Target            AllocationTarget
	AllocationPercent decimal.Decimal // 0 < value <= 100
}

var hundred = decimal.NewFromInt(100)

// Validate ensures the allocation percent is in (0, 100] and the target is well-formed
func (a *AutoInvestAllocation) Validate() error {
	if err := a.Target.Validate(); err != nil {
		return err
	}
	if a.AllocationPercent.LessThanOrEqual(decimal.Zero) || a.AllocationPercent.GreaterThan(hundred) {
		return NewValidationError("allocation_percent", "allocation_percent must be greater than 0 and at most 100")
	}
	return nil
}
