package drip

import (
	"context"
	"errors"
	"maps"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/simaogato/autoinvest-backend/internal/adapter/lock"
	"github.com/simaogato/autoinvest-backend/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockDripRepository is a mock implementation of DripRepository for testing
type MockDripRepository struct {
	mock.Mock
}

func (m *MockDripRepository) GetSettings(ctx context.Context, userID uuid.UUID) (*domain.DRIPSettings, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.DRIPSettings), args.Error(1)
}

func (m *MockDripRepository) UpsertSettings(ctx context.Context, settings *domain.DRIPSettings) error {
	args := m.Called(ctx, settings)
	return args.Error(0)
}

func (m *MockDripRepository) ListPropertySettings(ctx context.Context, userID uuid.UUID) ([]domain.DRIPPropertySetting, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.DRIPPropertySetting), args.Error(1)
}

func (m *MockDripRepository) UpsertPropertySetting(ctx context.Context, setting *domain.DRIPPropertySetting) error {
	args := m.Called(ctx, setting)
	return args.Error(0)
}

func (m *MockDripRepository) ListCustomAllocations(ctx context.Context, userID uuid.UUID) ([]domain.DRIPCustomAllocation, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.DRIPCustomAllocation), args.Error(1)
}

func (m *MockDripRepository) ReplaceCustomAllocations(ctx context.Context, userID uuid.UUID, allocations []domain.DRIPCustomAllocation) error {
	args := m.Called(ctx, userID, allocations)
	return args.Error(0)
}

func (m *MockDripRepository) AddAccrual(ctx context.Context, userID, targetID uuid.UUID, delta decimal.Decimal) (decimal.Decimal, error) {
	args := m.Called(ctx, userID, targetID, delta)
	if fn, ok := args.Get(0).(func(uuid.UUID, decimal.Decimal) decimal.Decimal); ok {
		return fn(targetID, delta), args.Error(1)
	}
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *MockDripRepository) ReleaseAccrual(ctx context.Context, userID, targetID uuid.UUID, amount decimal.Decimal) error {
	args := m.Called(ctx, userID, targetID, amount)
	return args.Error(0)
}

func (m *MockDripRepository) ListAccruals(ctx context.Context, userID uuid.UUID) ([]domain.ReinvestAccrual, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.ReinvestAccrual), args.Error(1)
}

func (m *MockDripRepository) GetProcessedDistribution(ctx context.Context, eventID uuid.UUID) (*domain.ProcessedDistribution, error) {
	args := m.Called(ctx, eventID)
	if fn, ok := args.Get(0).(func(uuid.UUID) (*domain.ProcessedDistribution, error)); ok {
		return fn(eventID)
	}
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ProcessedDistribution), args.Error(1)
}

func (m *MockDripRepository) SaveProcessedDistribution(ctx context.Context, processed *domain.ProcessedDistribution) error {
	args := m.Called(ctx, processed)
	return args.Error(0)
}

// MockHoldingRepository is a mock implementation of HoldingRepository for testing
type MockHoldingRepository struct {
	mock.Mock
}

func (m *MockHoldingRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]domain.Holding, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Holding), args.Error(1)
}

var testNow = time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)

// memoryAccruals backs AddAccrual and ReleaseAccrual with a map so that sequences of
// events can be asserted end to end
type memoryAccruals map[uuid.UUID]decimal.Decimal

func (a memoryAccruals) wire(repo *MockDripRepository) {
	repo.On("AddAccrual", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(func(target uuid.UUID, delta decimal.Decimal) decimal.Decimal {
			a[target] = a[target].Add(delta)
			return a[target]
		}, nil)
	repo.On("ReleaseAccrual", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			target := args.Get(2).(uuid.UUID)
			a[target] = a[target].Sub(args.Get(3).(decimal.Decimal))
		}).
		Return(nil)
}

// stagedTx is a Transactor over in-memory state. A failed unit of work restores the
// accrual buckets and processed events to what they held when it began.
type stagedTx struct {
	accruals  memoryAccruals
	events    map[uuid.UUID]*domain.ProcessedDistribution
	commits   int
	rollbacks int
}

func newStagedTx() *stagedTx {
	return &stagedTx{accruals: memoryAccruals{}, events: map[uuid.UUID]*domain.ProcessedDistribution{}}
}

func (tx *stagedTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	accruals := maps.Clone(tx.accruals)
	events := maps.Clone(tx.events)

	if err := fn(ctx); err != nil {
		clear(tx.accruals)
		maps.Copy(tx.accruals, accruals)
		clear(tx.events)
		maps.Copy(tx.events, events)
		tx.rollbacks++
		return err
	}
	tx.commits++
	return nil
}

// wireEvents backs the processed-event lookups with the transaction's event map
func (tx *stagedTx) wireEvents(repo *MockDripRepository) {
	repo.On("GetProcessedDistribution", mock.Anything, mock.Anything).
		Return(func(eventID uuid.UUID) (*domain.ProcessedDistribution, error) {
			if processed, ok := tx.events[eventID]; ok {
				return processed, nil
			}
			return nil, domain.ErrNotFound
		})
	repo.On("SaveProcessedDistribution", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			processed := args.Get(1).(*domain.ProcessedDistribution)
			tx.events[processed.EventID] = processed
		}).
		Return(nil)
}

func newTestService() (*Service, *MockDripRepository, *MockHoldingRepository) {
	repo := new(MockDripRepository)
	holdings := new(MockHoldingRepository)
	return NewService(repo, holdings, newStagedTx(), lock.NewLocalLocker(), zerolog.Nop()), repo, holdings
}

// newDistributionService returns a service whose processed-event store is wired
func newDistributionService() (*Service, *MockDripRepository, *MockHoldingRepository, *stagedTx) {
	service, repo, holdings := newTestService()
	tx := service.Tx.(*stagedTx)
	tx.wireEvents(repo)
	return service, repo, holdings, tx
}

func TestProcessDistribution_AccruesUntilThreshold(t *testing.T) {
	ctx := context.Background()
	service, repo, _, _ := newDistributionService()
	settings := enabledSettings(domain.DRIPTypeSameProperty)
	source := uuid.New()
	accruals := memoryAccruals{}

	repo.On("GetSettings", ctx, settings.UserID).Return(settings, nil)
	repo.On("ListPropertySettings", ctx, settings.UserID).Return([]domain.DRIPPropertySetting{}, nil)
	accruals.wire(repo)

	first := dividend(source, 5)
	first.UserID = settings.UserID
	second := dividend(source, 7)
	second.UserID = settings.UserID

	// Execute: $5 then $7 with a $10 minimum
	r1, err := service.ProcessDistribution(ctx, first)
	require.NoError(t, err)
	r2, err := service.ProcessDistribution(ctx, second)
	require.NoError(t, err)

	// Assert: the first accrues, the second releases a single $12 reinvestment
	assert.Empty(t, r1.Reinvestments)
	require.Len(t, r1.Accrued, 1)
	assert.True(t, r1.Accrued[0].Amount.Equal(decimal.NewFromInt(5)))

	require.Len(t, r2.Reinvestments, 1)
	assert.Equal(t, source, r2.Reinvestments[0].TargetID)
	assert.True(t, r2.Reinvestments[0].Amount.Equal(decimal.NewFromInt(12)), "got %s", r2.Reinvestments[0].Amount)
	assert.Empty(t, r2.Accrued)
	assert.True(t, accruals[source].IsZero(), "bucket must reset to zero")
}

func TestProcessDistribution_CashWhenDisabled(t *testing.T) {
	ctx := context.Background()
	service, repo, _, _ := newDistributionService()
	event := dividend(uuid.New(), 20)
	repo.On("GetSettings", ctx, event.UserID).Return(nil, domain.ErrNotFound)

	result, err := service.ProcessDistribution(ctx, event)

	require.NoError(t, err)
	assert.False(t, result.Decision.Reinvests())
	assert.True(t, result.CashAmount.Equal(decimal.NewFromInt(20)))
	repo.AssertNotCalled(t, "AddAccrual", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	repo.AssertNotCalled(t, "ListPropertySettings", mock.Anything, mock.Anything)
}

func TestProcessDistribution_SpreadByHoldingValue(t *testing.T) {
	ctx := context.Background()
	service, repo, holdings, _ := newDistributionService()
	settings := enabledSettings(domain.DRIPTypeSpreadPortfolio)
	a, b, empty := uuid.New(), uuid.New(), uuid.New()
	accruals := memoryAccruals{}

	repo.On("GetSettings", ctx, settings.UserID).Return(settings, nil)
	repo.On("ListPropertySettings", ctx, settings.UserID).Return([]domain.DRIPPropertySetting{}, nil)
	holdings.On("ListByUser", ctx, settings.UserID).Return([]domain.Holding{
		{UserID: settings.UserID, TargetID: a, CurrentValue: decimal.NewFromInt(3000)},
		{UserID: settings.UserID, TargetID: b, CurrentValue: decimal.NewFromInt(1000)},
		{UserID: settings.UserID, TargetID: empty, CurrentValue: decimal.Zero},
	}, nil)
	accruals.wire(repo)

	event := dividend(a, 40)
	event.UserID = settings.UserID

	// Execute
	result, err := service.ProcessDistribution(ctx, event)

	// Assert: 75/25 split of $40
	require.NoError(t, err)
	require.Len(t, result.Reinvestments, 2)
	assert.True(t, result.Reinvestments[0].Amount.Equal(decimal.NewFromInt(30)), "got %s", result.Reinvestments[0].Amount)
	assert.True(t, result.Reinvestments[1].Amount.Equal(decimal.NewFromInt(10)), "got %s", result.Reinvestments[1].Amount)
	_, touched := accruals[empty]
	assert.False(t, touched)
}

func TestProcessDistribution_SpreadWithoutHoldingsFallsBackToSource(t *testing.T) {
	ctx := context.Background()
	service, repo, holdings, _ := newDistributionService()
	settings := enabledSettings(domain.DRIPTypeSpreadPortfolio)
	source := uuid.New()
	accruals := memoryAccruals{}

	repo.On("GetSettings", ctx, settings.UserID).Return(settings, nil)
	repo.On("ListPropertySettings", ctx, settings.UserID).Return([]domain.DRIPPropertySetting{}, nil)
	holdings.On("ListByUser", ctx, settings.UserID).Return([]domain.Holding{}, nil)
	accruals.wire(repo)

	event := dividend(source, 25)
	event.UserID = settings.UserID

	result, err := service.ProcessDistribution(ctx, event)

	require.NoError(t, err)
	require.Len(t, result.Reinvestments, 1)
	assert.Equal(t, source, result.Reinvestments[0].TargetID)
}

func TestProcessDistribution_CustomWithoutAllocations(t *testing.T) {
	ctx := context.Background()
	service, repo, _, _ := newDistributionService()
	settings := enabledSettings(domain.DRIPTypeCustom)

	repo.On("GetSettings", ctx, settings.UserID).Return(settings, nil)
	repo.On("ListPropertySettings", ctx, settings.UserID).Return([]domain.DRIPPropertySetting{}, nil)
	repo.On("ListCustomAllocations", ctx, settings.UserID).Return([]domain.DRIPCustomAllocation{}, nil)

	event := dividend(uuid.New(), 25)
	event.UserID = settings.UserID

	_, err := service.ProcessDistribution(ctx, event)

	var cfgErr *domain.ConfigurationError
	assert.True(t, errors.As(err, &cfgErr))
	repo.AssertNotCalled(t, "AddAccrual", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessDistribution_InvalidEvent(t *testing.T) {
	service, repo, _ := newTestService()
	event := dividend(uuid.New(), 0)

	_, err := service.ProcessDistribution(context.Background(), event)

	var vErr *domain.ValidationError
	require.True(t, errors.As(err, &vErr))
	assert.Equal(t, "amount", vErr.Field)
	repo.AssertNotCalled(t, "GetSettings", mock.Anything, mock.Anything)
}

func TestProcessDistribution_FailedShareRollsBackEarlierReleases(t *testing.T) {
	ctx := context.Background()
	service, repo, holdings, tx := newDistributionService()
	settings := enabledSettings(domain.DRIPTypeSpreadPortfolio)
	a, b := uuid.New(), uuid.New()

	// Setup: bucket A already holds $3, the first accrual into B fails
	tx.accruals[a] = decimal.NewFromInt(3)
	repo.On("GetSettings", ctx, settings.UserID).Return(settings, nil)
	repo.On("ListPropertySettings", ctx, settings.UserID).Return([]domain.DRIPPropertySetting{}, nil)
	holdings.On("ListByUser", ctx, settings.UserID).Return([]domain.Holding{
		{UserID: settings.UserID, TargetID: a, CurrentValue: decimal.NewFromInt(500)},
		{UserID: settings.UserID, TargetID: b, CurrentValue: decimal.NewFromInt(500)},
	}, nil)
	repo.On("AddAccrual", mock.Anything, settings.UserID, b, mock.Anything).
		Return(decimal.Zero, errors.New("connection reset")).Once()
	tx.accruals.wire(repo)

	event := dividend(a, 40)
	event.UserID = settings.UserID

	// Execute
	result, err := service.ProcessDistribution(ctx, event)

	// Assert: A's release of $23 is undone and the event is not recorded
	require.Error(t, err)
	assert.Nil(t, result)
	assert.True(t, tx.accruals[a].Equal(decimal.NewFromInt(3)), "bucket A must be restored, got %s", tx.accruals[a])
	assert.True(t, tx.accruals[b].IsZero())
	assert.Equal(t, 1, tx.rollbacks)
	assert.Equal(t, 0, tx.commits)
	repo.AssertCalled(t, "ReleaseAccrual", mock.Anything, settings.UserID, a, mock.MatchedBy(func(amount decimal.Decimal) bool {
		return amount.Equal(decimal.NewFromInt(23))
	}))
	repo.AssertNotCalled(t, "SaveProcessedDistribution", mock.Anything, mock.Anything)

	// Execute: the same event is delivered again
	retry, err := service.ProcessDistribution(ctx, event)

	// Assert: both buckets release once
	require.NoError(t, err)
	assert.False(t, retry.Replayed)
	require.Len(t, retry.Reinvestments, 2)
	assert.True(t, retry.Reinvestments[0].Amount.Equal(decimal.NewFromInt(23)), "got %s", retry.Reinvestments[0].Amount)
	assert.True(t, retry.Reinvestments[1].Amount.Equal(decimal.NewFromInt(20)), "got %s", retry.Reinvestments[1].Amount)
	assert.True(t, tx.accruals[a].IsZero())
	assert.True(t, tx.accruals[b].IsZero())
	assert.Equal(t, 1, tx.commits)
}

func TestProcessDistribution_RedeliveredEvent(t *testing.T) {
	ctx := context.Background()
	source := uuid.New()

	t.Run("same user gets the stored outcome", func(t *testing.T) {
		// Setup
		service, repo, _, tx := newDistributionService()
		settings := enabledSettings(domain.DRIPTypeSameProperty)
		repo.On("GetSettings", ctx, settings.UserID).Return(settings, nil)
		repo.On("ListPropertySettings", ctx, settings.UserID).Return([]domain.DRIPPropertySetting{}, nil)
		tx.accruals.wire(repo)

		event := dividend(source, 15)
		event.UserID = settings.UserID

		// Execute
		first, err := service.ProcessDistribution(ctx, event)
		require.NoError(t, err)
		second, err := service.ProcessDistribution(ctx, event)

		// Assert
		require.NoError(t, err)
		assert.False(t, first.Replayed)
		assert.True(t, second.Replayed)
		assert.Equal(t, ModeSingle, second.Decision.Mode)
		require.Len(t, second.Reinvestments, 1)
		assert.Equal(t, source, second.Reinvestments[0].TargetID)
		assert.True(t, second.Reinvestments[0].Amount.Equal(decimal.NewFromInt(15)))
		repo.AssertNumberOfCalls(t, "AddAccrual", 1)
		repo.AssertNumberOfCalls(t, "ReleaseAccrual", 1)
		repo.AssertNumberOfCalls(t, "GetSettings", 1)
		assert.True(t, tx.accruals[source].IsZero())
	})

	t.Run("cash outcome is replayed", func(t *testing.T) {
		// Setup
		service, repo, _, _ := newDistributionService()
		event := dividend(source, 20)
		repo.On("GetSettings", ctx, event.UserID).Return(nil, domain.ErrNotFound)

		// Execute
		_, err := service.ProcessDistribution(ctx, event)
		require.NoError(t, err)
		replay, err := service.ProcessDistribution(ctx, event)

		// Assert
		require.NoError(t, err)
		assert.True(t, replay.Replayed)
		assert.Equal(t, ModeCash, replay.Decision.Mode)
		assert.Equal(t, CashReasonDisabled, replay.Decision.CashReason)
		assert.True(t, replay.CashAmount.Equal(decimal.NewFromInt(20)))
		repo.AssertNumberOfCalls(t, "GetSettings", 1)
	})

	t.Run("event of another user is rejected", func(t *testing.T) {
		// Setup
		service, repo, _, tx := newDistributionService()
		event := dividend(source, 20)
		tx.events[event.ID] = &domain.ProcessedDistribution{EventID: event.ID, UserID: uuid.New(), Mode: string(ModeCash)}

		// Execute
		result, err := service.ProcessDistribution(ctx, event)

		// Assert
		assert.Nil(t, result)
		var vErr *domain.ValidationError
		require.True(t, errors.As(err, &vErr))
		assert.Equal(t, "event_id", vErr.Field)
		repo.AssertNotCalled(t, "GetSettings", mock.Anything, mock.Anything)
	})
}

func TestProcessDistribution_SpreadSkipsNegligibleHoldings(t *testing.T) {
	ctx := context.Background()
	service, repo, holdings, tx := newDistributionService()
	settings := enabledSettings(domain.DRIPTypeSpreadPortfolio)
	large, dust := uuid.New(), uuid.New()

	// Setup: the dust holding's weight rounds to zero percent
	repo.On("GetSettings", ctx, settings.UserID).Return(settings, nil)
	repo.On("ListPropertySettings", ctx, settings.UserID).Return([]domain.DRIPPropertySetting{}, nil)
	holdings.On("ListByUser", ctx, settings.UserID).Return([]domain.Holding{
		{UserID: settings.UserID, TargetID: large, CurrentValue: decimal.NewFromInt(1000)},
		{UserID: settings.UserID, TargetID: dust, CurrentValue: decimal.New(1, -20)},
	}, nil)
	tx.accruals.wire(repo)

	event := dividend(large, 40)
	event.UserID = settings.UserID

	// Execute
	result, err := service.ProcessDistribution(ctx, event)

	// Assert
	require.NoError(t, err)
	require.Len(t, result.Reinvestments, 1)
	assert.Equal(t, large, result.Reinvestments[0].TargetID)
	assert.True(t, result.Reinvestments[0].Amount.Equal(decimal.NewFromInt(40)), "got %s", result.Reinvestments[0].Amount)
	_, touched := tx.accruals[dust]
	assert.False(t, touched)
}

func TestGetSettings_DefaultsWhenMissing(t *testing.T) {
	ctx := context.Background()
	service, repo, _ := newTestService()
	userID := uuid.New()
	repo.On("GetSettings", ctx, userID).Return(nil, domain.ErrNotFound)

	settings, err := service.GetSettings(ctx, userID)

	require.NoError(t, err)
	assert.False(t, settings.IsEnabled)
	assert.Equal(t, userID, settings.UserID)
	assert.True(t, settings.MinimumReinvestAmount.Equal(DefaultMinimumReinvestAmount))
}

func TestUpdateSettings_Invalid(t *testing.T) {
	service, repo, _ := newTestService()
	settings := enabledSettings("weekly")

	_, err := service.UpdateSettings(context.Background(), settings, testNow)

	var vErr *domain.ValidationError
	require.True(t, errors.As(err, &vErr))
	assert.Equal(t, "drip_type", vErr.Field)
	repo.AssertNotCalled(t, "UpsertSettings", mock.Anything, mock.Anything)
}

func TestSetCustomAllocations(t *testing.T) {
	ctx := context.Background()
	userID := uuid.New()
	a, b := uuid.New(), uuid.New()

	t.Run("valid list is saved", func(t *testing.T) {
		service, repo, _ := newTestService()
		allocations := []domain.DRIPCustomAllocation{
			{TargetID: a, Percent: decimal.NewFromInt(70)},
			{TargetID: b, Percent: decimal.NewFromInt(30)},
		}
		repo.On("ReplaceCustomAllocations", ctx, userID, mock.Anything).Return(nil)

		err := service.SetCustomAllocations(ctx, userID, allocations, testNow)

		require.NoError(t, err)
		assert.Equal(t, userID, allocations[0].UserID)
		repo.AssertExpectations(t)
	})

	t.Run("sum must be 100", func(t *testing.T) {
		service, repo, _ := newTestService()
		allocations := []domain.DRIPCustomAllocation{
			{TargetID: a, Percent: decimal.NewFromInt(70)},
			{TargetID: b, Percent: decimal.NewFromInt(20)},
		}

		err := service.SetCustomAllocations(ctx, userID, allocations, testNow)

		var aErr *domain.InvalidAllocationError
		assert.True(t, errors.As(err, &aErr))
		repo.AssertNotCalled(t, "ReplaceCustomAllocations", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("duplicate target", func(t *testing.T) {
		service, _, _ := newTestService()
		allocations := []domain.DRIPCustomAllocation{
			{TargetID: a, Percent: decimal.NewFromInt(50)},
			{TargetID: a, Percent: decimal.NewFromInt(50)},
		}

		err := service.SetCustomAllocations(ctx, userID, allocations, testNow)

		var vErr *domain.ValidationError
		assert.True(t, errors.As(err, &vErr))
	})
}

func TestSetPropertyOverride_RedirectOnDisabled(t *testing.T) {
	service, repo, _ := newTestService()
	target := uuid.New()
	setting := &domain.DRIPPropertySetting{UserID: uuid.New(), HoldingID: uuid.New(), IsEnabled: false, ReinvestTo: &target}

	err := service.SetPropertyOverride(context.Background(), setting, testNow)

	assert.Error(t, err)
	repo.AssertNotCalled(t, "UpsertPropertySetting", mock.Anything, mock.Anything)
}
