package allocator

import (
	"errors"

	"github.com/shopspring/decimal"
	"github.com/simaogato/autoinvest-backend/internal/domain"
)

const (
	// AmountPrecision is the number of decimal places kept on allocated amounts
	AmountPrecision = 2
	// TokenPrecision is the number of decimal places kept on token quantities
	TokenPrecision = 4
)

var (
	hundred = decimal.NewFromInt(100)
	// PercentEpsilon is the tolerance allowed on the sum of percents
	PercentEpsilon = decimal.NewFromFloat(0.01)
)

// Target is a weighted allocation input
type Target struct {
	Target  domain.AllocationTarget
	Percent decimal.Decimal
}

// Share is the amount allocated to one target
type Share struct {
	Target  domain.AllocationTarget
	Percent decimal.Decimal
	Amount  decimal.Decimal
}

// FromAllocations converts plan allocations into allocation targets
func FromAllocations(allocations []domain.AutoInvestAllocation) []Target {
	targets := make([]Target, 0, len(allocations))
	for _, a := range allocations {
		targets = append(targets, Target{Target: a.Target, Percent: a.AllocationPercent})
	}
	return targets
}

// ValidatePercents checks that every percent is in (0, 100] and that they sum to 100
// within PercentEpsilon. Returns an *domain.InvalidAllocationError otherwise.
func ValidatePercents(targets []Target) error {
	if len(targets) == 0 {
		return &domain.InvalidAllocationError{Reason: "at least one allocation is required"}
	}

	sum := decimal.Zero
	for _, t := range targets {
		if t.Percent.LessThanOrEqual(decimal.Zero) || t.Percent.GreaterThan(hundred) {
			return &domain.InvalidAllocationError{Reason: "each percent must be greater than 0 and at most 100"}
		}
		sum = sum.Add(t.Percent)
	}

	if sum.Sub(hundred).Abs().GreaterThan(PercentEpsilon) {
		return &domain.InvalidAllocationError{Sum: sum}
	}
	return nil
}

// Allocate distributes totalAmount across targets proportionally to their percents.
// Logic:
//  1. Validate percents (sum must be 100 within PercentEpsilon, never normalized)
//  2. amount_i = total * percent_i / 100, truncated to AmountPrecision
//  3. Assign the residual (total - sum of amounts) to the largest-percent target
//
// Output preserves input order. Safety: the amounts always sum to totalAmount exactly.
func Allocate(totalAmount decimal.Decimal, targets []Target) ([]Share, error) {
	if totalAmount.LessThanOrEqual(decimal.Zero) {
		return nil, errors.New("total amount must be positive")
	}

	if err := ValidatePercents(targets); err != nil {
		return nil, err
	}

	shares := make([]Share, len(targets))
	allocated := decimal.Zero
	largest := 0
	for i, t := range targets {
		amount := totalAmount.Mul(t.Percent).Div(hundred).Truncate(AmountPrecision)
		shares[i] = Share{Target: t.Target, Percent: t.Percent, Amount: amount}
		allocated = allocated.Add(amount)

		if t.Percent.GreaterThan(targets[largest].Percent) {
			largest = i
		}
	}

	residual := totalAmount.Sub(allocated)
	if !residual.IsZero() {
		shares[largest].Amount = shares[largest].Amount.Add(residual)
	}

	// Safety check: Ensure total allocation equals total amount exactly
	total := decimal.Zero
	for _, s := range shares {
		total = total.Add(s.Amount)
	}
	if !total.Equal(totalAmount) {
		return nil, errors.New("total allocation does not equal total amount")
	}

	return shares, nil
}

// TokenQuantity converts an amount into a token quantity at the given price,
// truncated to TokenPrecision decimal places. ok is false when the price is unknown.
func TokenQuantity(amount, price decimal.Decimal) (tokens decimal.Decimal, ok bool) {
	if price.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, false
	}
	return amount.Div(price).Truncate(TokenPrecision), true
}
