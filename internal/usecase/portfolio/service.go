package portfolio

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/simaogato/autoinvest-backend/internal/domain"
)

// Weight is one holding's share of the user's total holding value
type Weight struct {
	TargetID   uuid.UUID
	TargetName string
	Value      decimal.Decimal
	Percent    decimal.Decimal // Rounded to 2 decimal places
}

// Summary represents the auto-invest overview of one user
type Summary struct {
	HoldingsValue     decimal.Decimal
	TotalInvested     decimal.Decimal // Across all plans, including cancelled ones
	ActivePlans       int
	PausedPlans       int
	MonthlyCommitment decimal.Decimal // Active plan amounts normalized to one month
	PendingAccruals   decimal.Decimal // DRIP amounts waiting below the reinvest threshold
}

// PortfolioService handles read-only portfolio views
type PortfolioService struct {
	HoldingRepo domain.HoldingRepository
	PlanRepo    domain.PlanRepository
	DripRepo    domain.DripRepository
}

// NewPortfolioService creates a new PortfolioService instance
func NewPortfolioService(
	holdingRepo domain.HoldingRepository,
	planRepo domain.PlanRepository,
	dripRepo domain.DripRepository,
) *PortfolioService {
	return &PortfolioService{
		HoldingRepo: holdingRepo,
		PlanRepo:    planRepo,
		DripRepo:    dripRepo,
	}
}

var (
	hundred = decimal.NewFromInt(100)
	twelve  = decimal.NewFromInt(12)
)

// periodsPerYear is how many contributions each frequency makes in a year
var periodsPerYear = map[domain.Frequency]decimal.Decimal{
	domain.FrequencyWeekly:    decimal.NewFromInt(52),
	domain.FrequencyBiweekly:  decimal.NewFromInt(26),
	domain.FrequencyMonthly:   decimal.NewFromInt(12),
	domain.FrequencyQuarterly: decimal.NewFromInt(4),
}

// GetWeights returns the value weights of a user's holdings
// Logic:
//   - Holdings with no positive value are left out
//   - Percent = value / total value * 100
func (s *PortfolioService) GetWeights(ctx context.Context, userID uuid.UUID) ([]Weight, error) {
	holdings, err := s.HoldingRepo.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list holdings: %w", err)
	}

	total := decimal.Zero
	for _, h := range holdings {
		if h.CurrentValue.GreaterThan(decimal.Zero) {
			total = total.Add(h.CurrentValue)
		}
	}

	weights := []Weight{}
	if total.IsZero() {
		return weights, nil
	}

	for _, h := range holdings {
		if h.CurrentValue.LessThanOrEqual(decimal.Zero) {
			continue
		}
		weights = append(weights, Weight{
			TargetID:   h.TargetID,
			TargetName: h.TargetName,
			Value:      h.CurrentValue,
			Percent:    h.CurrentValue.Mul(hundred).Div(total).Round(2),
		})
	}
	return weights, nil
}

// GetSummary calculates the auto-invest overview of a user
// Logic:
//  1. Holdings value: sum of current holding values
//  2. Plans: totals across all plans, commitment across active plans only
//  3. Pending accruals: sum of DRIP buckets below the threshold
func (s *PortfolioService) GetSummary(ctx context.Context, userID uuid.UUID) (*Summary, error) {
	summary := &Summary{
		HoldingsValue:     decimal.Zero,
		TotalInvested:     decimal.Zero,
		MonthlyCommitment: decimal.Zero,
		PendingAccruals:   decimal.Zero,
	}

	// 1. Holdings
	holdings, err := s.HoldingRepo.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list holdings: %w", err)
	}
	for _, h := range holdings {
		summary.HoldingsValue = summary.HoldingsValue.Add(h.CurrentValue)
	}

	// 2. Plans
	plans, err := s.PlanRepo.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	for _, p := range plans {
		summary.TotalInvested = summary.TotalInvested.Add(p.TotalInvested)
		switch p.Status {
		case domain.PlanStatusActive:
			summary.ActivePlans++
			summary.MonthlyCommitment = summary.MonthlyCommitment.Add(MonthlyAmount(p.Frequency, p.Amount))
		case domain.PlanStatusPaused:
			summary.PausedPlans++
		}
	}
	summary.MonthlyCommitment = summary.MonthlyCommitment.Round(2)

	// 3. DRIP accruals
	accruals, err := s.DripRepo.ListAccruals(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list accruals: %w", err)
	}
	for _, a := range accruals {
		summary.PendingAccruals = summary.PendingAccruals.Add(a.Amount)
	}

	return summary, nil
}

// MonthlyAmount normalizes a per-period contribution to a monthly amount
func MonthlyAmount(frequency domain.Frequency, amount decimal.Decimal) decimal.Decimal {
	periods, ok := periodsPerYear[frequency]
	if !ok {
		return decimal.Zero
	}
	return amount.Mul(periods).Div(twelve)
}
