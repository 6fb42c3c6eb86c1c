package autoinvest

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/simaogato/autoinvest-backend/internal/domain"
	"github.com/stretchr/testify/mock"
)

// MockPlanRepository is a mock implementation of PlanRepository for testing
type MockPlanRepository struct {
	mock.Mock
}

func (m *MockPlanRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.AutoInvestPlan, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.AutoInvestPlan), args.Error(1)
}

func (m *MockPlanRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]*domain.AutoInvestPlan, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.AutoInvestPlan), args.Error(1)
}

func (m *MockPlanRepository) Create(ctx context.Context, plan *domain.AutoInvestPlan) error {
	args := m.Called(ctx, plan)
	return args.Error(0)
}

func (m *MockPlanRepository) Update(ctx context.Context, id uuid.UUID, patch domain.PlanPatch) error {
	args := m.Called(ctx, id, patch)
	return args.Error(0)
}

func (m *MockPlanRepository) Delete(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockPlanRepository) ListAllocations(ctx context.Context, planID uuid.UUID) ([]domain.AutoInvestAllocation, error) {
	args := m.Called(ctx, planID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.AutoInvestAllocation), args.Error(1)
}

func (m *MockPlanRepository) UpdateAllocationPercents(ctx context.Context, planID uuid.UUID, percents map[uuid.UUID]decimal.Decimal) error {
	args := m.Called(ctx, planID, percents)
	return args.Error(0)
}

func (m *MockPlanRepository) ListDue(ctx context.Context, now time.Time) ([]*domain.AutoInvestPlan, error) {
	args := m.Called(ctx, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.AutoInvestPlan), args.Error(1)
}

func (m *MockPlanRepository) ListPauseExpired(ctx context.Context, now time.Time) ([]*domain.AutoInvestPlan, error) {
	args := m.Called(ctx, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.AutoInvestPlan), args.Error(1)
}

// MockExecutionRepository is a mock implementation of ExecutionRepository for testing
type MockExecutionRepository struct {
	mock.Mock
}

func (m *MockExecutionRepository) Create(ctx context.Context, execution *domain.AutoInvestExecution) error {
	args := m.Called(ctx, execution)
	return args.Error(0)
}

func (m *MockExecutionRepository) Finalize(ctx context.Context, execution *domain.AutoInvestExecution) error {
	args := m.Called(ctx, execution)
	return args.Error(0)
}

func (m *MockExecutionRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.AutoInvestExecution, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.AutoInvestExecution), args.Error(1)
}

func (m *MockExecutionRepository) List(ctx context.Context, planID *uuid.UUID) ([]*domain.AutoInvestExecution, error) {
	args := m.Called(ctx, planID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.AutoInvestExecution), args.Error(1)
}

func (m *MockExecutionRepository) ListPending(ctx context.Context, limit int) ([]*domain.AutoInvestExecution, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.AutoInvestExecution), args.Error(1)
}

func (m *MockExecutionRepository) HasOpen(ctx context.Context, planID uuid.UUID) (bool, error) {
	args := m.Called(ctx, planID)
	return args.Bool(0), args.Error(1)
}

func (m *MockExecutionRepository) Claim(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// MockLocker is a mock implementation of Locker for testing
type MockLocker struct {
	mock.Mock
	released int
}

func (m *MockLocker) Obtain(ctx context.Context, key string) (func(), error) {
	args := m.Called(ctx, key)
	if err := args.Error(0); err != nil {
		return nil, err
	}
	return func() { m.released++ }, nil
}

// FakeTransactor runs the unit of work in place and records whether it committed
type FakeTransactor struct {
	commits   int
	rollbacks int
}

func (f *FakeTransactor) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := fn(ctx); err != nil {
		f.rollbacks++
		return err
	}
	f.commits++
	return nil
}
