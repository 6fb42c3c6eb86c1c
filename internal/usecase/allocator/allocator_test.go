package allocator

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simaogato/autoinvest-backend/internal/domain"
)

func propertyTarget() domain.AllocationTarget {
	id := uuid.New()
	return domain.AllocationTarget{Type: domain.TargetTypeProperty, ID: &id}
}

func pct(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v)
}

func sumShares(shares []Share) decimal.Decimal {
	total := decimal.Zero
	for _, s := range shares {
		total = total.Add(s.Amount)
	}
	return total
}

func TestAllocate_SixtyForty(t *testing.T) {
	// 500 split 60/40 across two properties
	a, b := propertyTarget(), propertyTarget()
	targets := []Target{
		{Target: a, Percent: pct(60)},
		{Target: b, Percent: pct(40)},
	}

	shares, err := Allocate(decimal.NewFromInt(500), targets)

	require.NoError(t, err)
	require.Len(t, shares, 2)
	assert.Equal(t, a.Key(), shares[0].Target.Key(), "output must preserve input order")
	assert.True(t, shares[0].Amount.Equal(decimal.NewFromInt(300)), "A should be 300, got %s", shares[0].Amount)
	assert.True(t, shares[1].Amount.Equal(decimal.NewFromInt(200)), "B should be 200, got %s", shares[1].Amount)
}

func TestAllocate_SumEqualsTotal(t *testing.T) {
	tests := []struct {
		name     string
		total    decimal.Decimal
		percents []float64
	}{
		{"thirds", decimal.NewFromInt(100), []float64{33.33, 33.33, 33.34}},
		{"odd cents", decimal.RequireFromString("1000.01"), []float64{12.5, 12.5, 25, 50}},
		{"single target", decimal.RequireFromString("99.99"), []float64{100}},
		{"many small buckets", decimal.RequireFromString("1234.56"), []float64{7, 11, 13, 17, 19, 33}},
		{"inside epsilon low", decimal.NewFromInt(1000), []float64{33.33, 33.33, 33.333}},
		{"inside epsilon high", decimal.NewFromInt(1000), []float64{50.005, 50}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			targets := make([]Target, 0, len(tt.percents))
			for _, p := range tt.percents {
				targets = append(targets, Target{Target: propertyTarget(), Percent: pct(p)})
			}

			shares, err := Allocate(tt.total, targets)
			require.NoError(t, err)

			diff := sumShares(shares).Sub(tt.total).Abs()
			assert.True(t, diff.LessThanOrEqual(decimal.NewFromFloat(1e-6)), "sum drifted by %s", diff)
			assert.True(t, sumShares(shares).Equal(tt.total), "sum must be exact")
		})
	}
}

func TestAllocate_ResidualGoesToLargestBucket(t *testing.T) {
	// 33.33 + 33.33 + 33.333 = 99.993, residual of 0.07 lands on the third (largest) bucket
	targets := []Target{
		{Target: propertyTarget(), Percent: pct(33.33)},
		{Target: propertyTarget(), Percent: pct(33.33)},
		{Target: propertyTarget(), Percent: pct(33.333)},
	}

	shares, err := Allocate(decimal.NewFromInt(1000), targets)

	require.NoError(t, err)
	assert.True(t, shares[0].Amount.Equal(decimal.RequireFromString("333.3")))
	assert.True(t, shares[1].Amount.Equal(decimal.RequireFromString("333.3")))
	assert.True(t, shares[2].Amount.Equal(decimal.RequireFromString("333.4")))
}

func TestAllocate_CentPrecision(t *testing.T) {
	tests := []struct {
		name     string
		total    decimal.Decimal
		percents []float64
		expected []string
	}{
		{"ten in thirds", decimal.NewFromInt(10), []float64{33.33, 33.33, 33.34}, []string{"3.33", "3.33", "3.34"}},
		{"hundred in thirds", decimal.NewFromInt(100), []float64{33.333, 33.333, 33.334}, []string{"33.33", "33.33", "33.34"}},
		{"exact cents", decimal.RequireFromString("0.05"), []float64{40, 60}, []string{"0.02", "0.03"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Setup
			targets := make([]Target, 0, len(tt.percents))
			for _, p := range tt.percents {
				targets = append(targets, Target{Target: propertyTarget(), Percent: pct(p)})
			}

			// Execute
			shares, err := Allocate(tt.total, targets)

			// Assert
			require.NoError(t, err)
			require.Len(t, shares, len(tt.expected))
			for i, want := range tt.expected {
				assert.True(t, shares[i].Amount.Equal(decimal.RequireFromString(want)), "share %d: want %s, got %s", i, want, shares[i].Amount)
				assert.LessOrEqual(t, -shares[i].Amount.Exponent(), int32(AmountPrecision), "share %d has sub-cent digits", i)
			}
			assert.True(t, sumShares(shares).Equal(tt.total), "sum must be exact")
		})
	}
}

func TestAllocate_RejectsBadSums(t *testing.T) {
	tests := []struct {
		name     string
		percents []float64
	}{
		{"sum 90", []float64{50, 40}},
		{"sum 110", []float64{60, 50}},
		{"just outside epsilon", []float64{50, 49.98}},
		{"zero percent", []float64{100, 0}},
		{"over 100 single", []float64{101}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			targets := make([]Target, 0, len(tt.percents))
			for _, p := range tt.percents {
				targets = append(targets, Target{Target: propertyTarget(), Percent: pct(p)})
			}

			shares, err := Allocate(decimal.NewFromInt(1000), targets)

			assert.Nil(t, shares)
			var allocErr *domain.InvalidAllocationError
			assert.True(t, errors.As(err, &allocErr), "expected InvalidAllocationError, got %v", err)
		})
	}
}

func TestAllocate_EmptyTargets(t *testing.T) {
	_, err := Allocate(decimal.NewFromInt(100), nil)

	var allocErr *domain.InvalidAllocationError
	assert.True(t, errors.As(err, &allocErr))
}

func TestAllocate_NonPositiveTotal(t *testing.T) {
	targets := []Target{{Target: propertyTarget(), Percent: pct(100)}}

	_, err := Allocate(decimal.Zero, targets)
	assert.EqualError(t, err, "total amount must be positive")

	_, err = Allocate(decimal.NewFromInt(-10), targets)
	assert.Error(t, err)
}

func TestFromAllocations(t *testing.T) {
	a := propertyTarget()
	allocations := []domain.AutoInvestAllocation{
		{ID: uuid.New(), Target: a, AllocationPercent: pct(70)},
		{ID: uuid.New(), Target: domain.AllocationTarget{Type: domain.TargetTypeCategory, Category: "debt"}, AllocationPercent: pct(30)},
	}

	targets := FromAllocations(allocations)

	require.Len(t, targets, 2)
	assert.Equal(t, a.Key(), targets[0].Target.Key())
	assert.True(t, targets[1].Percent.Equal(pct(30)))
}

func TestTokenQuantity(t *testing.T) {
	tokens, ok := TokenQuantity(decimal.NewFromInt(300), decimal.NewFromInt(50))
	assert.True(t, ok)
	assert.True(t, tokens.Equal(decimal.NewFromInt(6)))

	tokens, ok = TokenQuantity(decimal.NewFromInt(100), decimal.NewFromInt(3))
	assert.True(t, ok)
	assert.Equal(t, "33.3333", tokens.String(), "tokens are truncated to 4 decimal places")

	_, ok = TokenQuantity(decimal.NewFromInt(100), decimal.Zero)
	assert.False(t, ok, "category and loan targets without a price have no token quantity")
}
