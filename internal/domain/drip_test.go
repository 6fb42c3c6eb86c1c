package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestDRIPSettings_Validate(t *testing.T) {
	tests := []struct {
		name     string
		settings DRIPSettings
		wantErr  bool
	}{
		{
			name:     "valid same property",
			settings: DRIPSettings{DripType: DRIPTypeSameProperty, MinimumReinvestAmount: decimal.NewFromInt(10)},
		},
		{
			name:     "unknown drip type",
			settings: DRIPSettings{DripType: DRIPType("random"), MinimumReinvestAmount: decimal.NewFromInt(10)},
			wantErr:  true,
		},
		{
			name:     "zero minimum",
			settings: DRIPSettings{DripType: DRIPTypeCustom, MinimumReinvestAmount: decimal.Zero},
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.settings.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDRIPSettings_ReinvestsCategory(t *testing.T) {
	settings := DRIPSettings{
		ReinvestEquityDividends:    true,
		ReinvestDebtInterest:       false,
		ReinvestPredictionWinnings: true,
	}

	assert.True(t, settings.ReinvestsCategory(CategoryEquityDividend))
	assert.False(t, settings.ReinvestsCategory(CategoryDebtInterest))
	assert.True(t, settings.ReinvestsCategory(CategoryPredictionWinnings))
	assert.False(t, settings.ReinvestsCategory(DistributionCategory("bonus")))
}

func TestDistributionEvent_Validate(t *testing.T) {
	valid := DistributionEvent{
		ID:              uuid.New(),
		UserID:          uuid.New(),
		SourceHoldingID: uuid.New(),
		Category:        CategoryEquityDividend,
		Amount:          decimal.NewFromInt(5),
		OccurredAt:      time.Now(),
	}
	assert.NoError(t, valid.Validate())

	noAmount := valid
	noAmount.Amount = decimal.Zero
	assert.Error(t, noAmount.Validate())

	badCategory := valid
	badCategory.Category = DistributionCategory("rent")
	assert.Error(t, badCategory.Validate())

	noHolding := valid
	noHolding.SourceHoldingID = uuid.Nil
	assert.Error(t, noHolding.Validate())
}
