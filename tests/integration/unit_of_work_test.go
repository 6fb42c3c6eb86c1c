//go:build integration

package integration

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simaogato/autoinvest-backend/internal/adapter/lock"
	"github.com/simaogato/autoinvest-backend/internal/adapter/repository/postgres"
	"github.com/simaogato/autoinvest-backend/internal/domain"
	"github.com/simaogato/autoinvest-backend/internal/usecase/autoinvest"
	"github.com/simaogato/autoinvest-backend/internal/usecase/drip"
)

var errStoreUnavailable = errors.New("store unavailable")

// failingPlanRepo rejects every plan update
type failingPlanRepo struct {
	domain.PlanRepository
}

func (failingPlanRepo) Update(context.Context, uuid.UUID, domain.PlanPatch) error {
	return errStoreUnavailable
}

// failingAccrualRepo fails accruals into one target
type failingAccrualRepo struct {
	domain.DripRepository
	target uuid.UUID
}

func (r failingAccrualRepo) AddAccrual(ctx context.Context, userID, targetID uuid.UUID, delta decimal.Decimal) (decimal.Decimal, error) {
	if targetID == r.target {
		return decimal.Zero, errStoreUnavailable
	}
	return r.DripRepository.AddAccrual(ctx, userID, targetID, delta)
}

func TestRecordExecution_PlanUpdateFailureKeepsNoExecution(t *testing.T) {
	// Setup
	ctx := context.Background()
	planRepo := postgres.NewPlanRepository(db)
	executionRepo := postgres.NewExecutionRepository(db)
	service := autoinvest.NewPlanService(failingPlanRepo{planRepo}, executionRepo, db, lock.NewLocalLocker(), zerolog.Nop())

	start := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
	targetID := uuid.New()
	plan := &domain.AutoInvestPlan{
		ID:                      uuid.New(),
		UserID:                  uuid.New(),
		Name:                    "Rollback plan",
		Status:                  domain.PlanStatusActive,
		Frequency:               domain.FrequencyMonthly,
		Amount:                  decimal.NewFromInt(100),
		FundingSource:           domain.FundingSourceWallet,
		InsufficientFundsAction: domain.InsufficientFundsSkip,
		StartDate:               start,
		ScheduleAnchor:          start,
		NextExecutionDate:       start,
		TotalInvested:           decimal.Zero,
		CreatedAt:               start,
		UpdatedAt:               start,
	}
	plan.Allocations = []domain.AutoInvestAllocation{{
		ID:                uuid.New(),
		PlanID:            plan.ID,
		Target:            domain.AllocationTarget{Type: domain.TargetTypeProperty, ID: &targetID},
		AllocationPercent: decimal.NewFromInt(100),
	}}
	require.NoError(t, planRepo.Create(ctx, plan))
	t.Cleanup(func() { _ = planRepo.Delete(context.Background(), plan.ID) })

	txID := "tx-rollback"
	input := autoinvest.RecordExecutionInput{
		Now: start,
		Results: []autoinvest.TargetResult{
			{Target: plan.Allocations[0].Target, TargetName: "A", TransactionID: &txID},
		},
	}

	// Execute
	outcome, err := service.RecordExecution(ctx, plan.ID, input)

	// Assert
	require.ErrorIs(t, err, errStoreUnavailable)
	assert.Nil(t, outcome)

	executions, err := executionRepo.List(ctx, &plan.ID)
	require.NoError(t, err)
	assert.Empty(t, executions, "execution must roll back with the plan update")

	stored, err := planRepo.GetByID(ctx, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.TotalExecutions)
	assert.Equal(t, start, stored.NextExecutionDate)
}

func TestProcessDistribution_FailedShareKeepsBuckets(t *testing.T) {
	// Setup
	ctx := context.Background()
	dripRepo := postgres.NewDripRepository(db)
	userID := uuid.New()
	a, b := uuid.New(), uuid.New()
	seedHolding(t, userID, a, "Alder", "500", "10")
	seedHolding(t, userID, b, "Birch", "500", "10")

	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, dripRepo.UpsertSettings(ctx, &domain.DRIPSettings{
		UserID:                  userID,
		IsEnabled:               true,
		ReinvestEquityDividends: true,
		DripType:                domain.DRIPTypeSpreadPortfolio,
		MinimumReinvestAmount:   decimal.NewFromInt(10),
		UpdatedAt:               now,
	}))
	_, err := dripRepo.AddAccrual(ctx, userID, a, decimal.NewFromInt(3))
	require.NoError(t, err)

	holdingRepo := postgres.NewHoldingRepository(db)
	failing := drip.NewService(failingAccrualRepo{DripRepository: dripRepo, target: b}, holdingRepo, db, lock.NewLocalLocker(), zerolog.Nop())
	healthy := drip.NewService(dripRepo, holdingRepo, db, lock.NewLocalLocker(), zerolog.Nop())

	event := domain.DistributionEvent{
		ID:              uuid.New(),
		UserID:          userID,
		SourceHoldingID: a,
		Category:        domain.CategoryEquityDividend,
		Amount:          decimal.NewFromInt(40),
		OccurredAt:      now,
	}

	// Execute
	_, err = failing.ProcessDistribution(ctx, event)

	// Assert: A's release is undone and the event can be processed again
	require.ErrorIs(t, err, errStoreUnavailable)
	accruals, err := dripRepo.ListAccruals(ctx, userID)
	require.NoError(t, err)
	require.Len(t, accruals, 1)
	assert.Equal(t, a, accruals[0].TargetID)
	assert.True(t, accruals[0].Amount.Equal(decimal.NewFromInt(3)), "got %s", accruals[0].Amount)

	_, err = dripRepo.GetProcessedDistribution(ctx, event.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// Execute: redeliver twice through the healthy service
	first, err := healthy.ProcessDistribution(ctx, event)
	require.NoError(t, err)
	second, err := healthy.ProcessDistribution(ctx, event)
	require.NoError(t, err)

	// Assert
	assert.False(t, first.Replayed)
	require.Len(t, first.Reinvestments, 2)
	released := map[uuid.UUID]decimal.Decimal{}
	for _, r := range first.Reinvestments {
		released[r.TargetID] = r.Amount
	}
	assert.True(t, released[a].Equal(decimal.NewFromInt(23)), "got %s", released[a])
	assert.True(t, released[b].Equal(decimal.NewFromInt(20)), "got %s", released[b])
	assert.True(t, second.Replayed)
	assert.Len(t, second.Reinvestments, 2)

	accruals, err = dripRepo.ListAccruals(ctx, userID)
	require.NoError(t, err)
	assert.Empty(t, accruals)
}
