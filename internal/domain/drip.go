package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DistributionCategory classifies a cash distribution
type DistributionCategory string

const (
	CategoryEquityDividend     DistributionCategory = "equity_dividend"
	CategoryDebtInterest       DistributionCategory = "debt_interest"
	CategoryPredictionWinnings DistributionCategory = "prediction_winnings"
)

// DRIPType selects where reinvested distributions go when no per-holding override applies
type DRIPType string

const (
	DRIPTypeSameProperty    DRIPType = "same_property"
	DRIPTypeSpreadPortfolio DRIPType = "spread_portfolio"
	DRIPTypeCustom          DRIPType = "custom"
)

// DRIPSettings are the global reinvestment settings of one user
type DRIPSettings struct {
	UserID                     uuid.UUID
	IsEnabled                  bool
	ReinvestEquityDividends    bool
	ReinvestDebtInterest       bool
	ReinvestPredictionWinnings bool
	DripType                   DRIPType
	MinimumReinvestAmount      decimal.Decimal // Amounts below this accrue instead of reinvesting
	UpdatedAt                  time.Time
}

// Validate ensures the settings adhere to domain rules
func (s *DRIPSettings) Validate() error {
	switch s.DripType {
	case DRIPTypeSameProperty, DRIPTypeSpreadPortfolio, DRIPTypeCustom:
	default:
		return NewValidationError("drip_type", "drip_type must be same_property, spread_portfolio, or custom")
	}
	if s.MinimumReinvestAmount.LessThanOrEqual(decimal.Zero) {
		return NewValidationError("minimum_reinvest_amount", "minimum_reinvest_amount must be positive")
	}
	return nil
}

// ReinvestsCategory reports whether the per-category flag allows reinvesting c
func (s *DRIPSettings) ReinvestsCategory(c DistributionCategory) bool {
	switch c {
	case CategoryEquityDividend:
		return s.ReinvestEquityDividends
	case CategoryDebtInterest:
		return s.ReinvestDebtInterest
	case CategoryPredictionWinnings:
		return s.ReinvestPredictionWinnings
	}
	return false
}

// DRIPPropertySetting is a per-holding override of the global settings
type DRIPPropertySetting struct {
	UserID     uuid.UUID
	HoldingID  uuid.UUID
	IsEnabled  bool
	ReinvestTo *uuid.UUID // NULL leaves the global drip_type in charge
	UpdatedAt  time.Time
}

// DRIPCustomAllocation is one weighted target of a custom DRIP strategy
type DRIPCustomAllocation struct {
	UserID    uuid.UUID
	TargetID  uuid.UUID
	Percent   decimal.Decimal
	UpdatedAt time.Time
}

// ReinvestAccrual is the durable running total held below the minimum-reinvest threshold
type ReinvestAccrual struct {
	UserID    uuid.UUID
	TargetID  uuid.UUID
	Amount    decimal.Decimal
	UpdatedAt time.Time
}

// DistributionEvent is a dividend, interest payment or winning credited to a user
type DistributionEvent struct {
	ID              uuid.UUID
	UserID          uuid.UUID
	SourceHoldingID uuid.UUID
	Category        DistributionCategory
	Amount          decimal.Decimal
	OccurredAt      time.Time
}

// Validate ensures the event can be processed
func (e *DistributionEvent) Validate() error {
	switch e.Category {
	case CategoryEquityDividend, CategoryDebtInterest, CategoryPredictionWinnings:
	default:
		return NewValidationError("category", "category must be equity_dividend, debt_interest, or prediction_winnings")
	}
	if e.Amount.LessThanOrEqual(decimal.Zero) {
		return NewValidationError("amount", "distribution amount must be positive")
	}
	if e.UserID == uuid.Nil {
		return NewValidationError("user_id", "user_id is required")
	}
	if e.SourceHoldingID == uuid.Nil {
		return NewValidationError("source_holding_id", "source_holding_id is required")
	}
	return nil
}

// ProcessedDistribution is the stored outcome of a distribution event. An event that is
// delivered again gets this outcome back instead of being accrued a second time.
type ProcessedDistribution struct {
	EventID     uuid.UUID
	UserID      uuid.UUID
	Mode        string
	CashReason  string
	CashAmount  decimal.Decimal
	Releases    []DistributionRelease
	ProcessedAt time.Time
}

// DistributionRelease is an amount released from an accrual bucket for reinvestment
type DistributionRelease struct {
	TargetID uuid.UUID
	Amount   decimal.Decimal
}
