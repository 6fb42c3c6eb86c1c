package grpc

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/simaogato/autoinvest-backend/internal/domain"
	"github.com/simaogato/autoinvest-backend/internal/usecase/autoinvest"
	"github.com/simaogato/autoinvest-backend/internal/usecase/drip"
	"github.com/simaogato/autoinvest-backend/internal/usecase/portfolio"
)

// Server implements the AutoInvestService gRPC server
type Server struct {
	PlanService      *autoinvest.PlanService
	DripService      *drip.Service
	PortfolioService *portfolio.PortfolioService

	// PendingBatchSize is the ListPendingExecutions limit when the request sets none
	PendingBatchSize int

	now func() time.Time
}

// NewServer creates a new gRPC server instance
func NewServer(
	planService *autoinvest.PlanService,
	dripService *drip.Service,
	portfolioService *portfolio.PortfolioService,
) *Server {
	return &Server{
		PlanService:      planService,
		DripService:      dripService,
		PortfolioService: portfolioService,
		PendingBatchSize: 100,
		now:              func() time.Time { return time.Now().UTC() },
	}
}

// CreatePlan handles the CreatePlan RPC
func (s *Server) CreatePlan(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	f := requestFields(req)

	userID, err := f.uuid("user_id")
	if err != nil {
		return nil, err
	}
	amount, err := f.decimal("amount")
	if err != nil {
		return nil, err
	}
	linkedAccountID, err := f.optUUID("linked_account_id")
	if err != nil {
		return nil, err
	}

	now := s.now()
	// Plans without a start date start today
	startDate := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if f.has("start_date") {
		if startDate, err = f.time("start_date"); err != nil {
			return nil, err
		}
	}

	allocations := make([]autoinvest.AllocationInput, 0)
	for _, a := range f.list("allocations") {
		targetID, err := a.optUUID("target_id")
		if err != nil {
			return nil, err
		}
		percent, err := a.decimal("allocation_percent")
		if err != nil {
			return nil, err
		}
		allocations = append(allocations, autoinvest.AllocationInput{
			TargetType: domain.TargetType(a.str("target_type")),
			TargetID:   targetID,
			Category:   a.str("category"),
			Percent:    percent,
		})
	}

	input := autoinvest.CreatePlanInput{
		UserID:                  userID,
		Name:                    f.str("name"),
		Frequency:               domain.Frequency(f.str("frequency")),
		Amount:                  amount,
		FundingSource:           domain.FundingSource(f.str("funding_source")),
		LinkedAccountID:         linkedAccountID,
		InsufficientFundsAction: domain.InsufficientFundsAction(f.str("insufficient_funds_action")),
		StartDate:               startDate,
		Allocations:             allocations,
	}

	plan, err := s.PlanService.CreatePlan(ctx, input, now)
	if err != nil {
		return nil, mapError(err)
	}

	return respond(document{"plan": planDocument(plan)})
}

// GetPlan handles the GetPlan RPC
func (s *Server) GetPlan(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	planID, err := requestFields(req).uuid("plan_id")
	if err != nil {
		return nil, err
	}

	plan, err := s.PlanService.GetPlan(ctx, planID)
	if err != nil {
		return nil, mapError(err)
	}

	return respond(document{"plan": planDocument(plan)})
}

// ListPlans handles the ListPlans RPC
func (s *Server) ListPlans(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, err := requestFields(req).uuid("user_id")
	if err != nil {
		return nil, err
	}

	plans, err := s.PlanService.ListPlans(ctx, userID)
	if err != nil {
		return nil, mapError(err)
	}

	out := make([]interface{}, 0, len(plans))
	for _, p := range plans {
		out = append(out, planDocument(p))
	}
	return respond(document{"plans": out})
}

// UpdatePlan handles the UpdatePlan RPC
func (s *Server) UpdatePlan(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	f := requestFields(req)

	planID, err := f.uuid("plan_id")
	if err != nil {
		return nil, err
	}
	amount, err := f.optDecimal("amount")
	if err != nil {
		return nil, err
	}

	input := autoinvest.UpdatePlanInput{
		Name:   f.optStr("name"),
		Amount: amount,
	}
	if f.has("insufficient_funds_action") {
		action := domain.InsufficientFundsAction(f.str("insufficient_funds_action"))
		input.InsufficientFundsAction = &action
	}

	// allocation_percents maps allocation IDs to new percents
	if f.has("allocation_percents") {
		percents := f.object("allocation_percents")
		input.AllocationPercents = make(map[uuid.UUID]decimal.Decimal, len(percents))
		for key := range percents {
			allocationID, err := uuid.Parse(key)
			if err != nil {
				return nil, status.Errorf(codes.InvalidArgument, "invalid allocation id %q: %v", key, err)
			}
			percent, err := percents.decimal(key)
			if err != nil {
				return nil, err
			}
			input.AllocationPercents[allocationID] = percent
		}
	}

	plan, err := s.PlanService.UpdatePlan(ctx, planID, input, s.now())
	if err != nil {
		return nil, mapError(err)
	}

	return respond(document{"plan": planDocument(plan)})
}

// PausePlan handles the PausePlan RPC
func (s *Server) PausePlan(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	f := requestFields(req)

	planID, err := f.uuid("plan_id")
	if err != nil {
		return nil, err
	}
	pauseUntil, err := f.optTime("pause_until")
	if err != nil {
		return nil, err
	}

	plan, err := s.PlanService.PausePlan(ctx, planID, pauseUntil, s.now())
	if err != nil {
		return nil, mapError(err)
	}

	return respond(document{"plan": planDocument(plan)})
}

// ResumePlan handles the ResumePlan RPC
func (s *Server) ResumePlan(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	planID, err := requestFields(req).uuid("plan_id")
	if err != nil {
		return nil, err
	}

	plan, err := s.PlanService.ResumePlan(ctx, planID, s.now())
	if err != nil {
		return nil, mapError(err)
	}

	return respond(document{"plan": planDocument(plan)})
}

// CancelPlan handles the CancelPlan RPC
func (s *Server) CancelPlan(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	planID, err := requestFields(req).uuid("plan_id")
	if err != nil {
		return nil, err
	}

	plan, err := s.PlanService.CancelPlan(ctx, planID, s.now())
	if err != nil {
		return nil, mapError(err)
	}

	return respond(document{"plan": planDocument(plan)})
}

// DeletePlan handles the DeletePlan RPC
func (s *Server) DeletePlan(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	planID, err := requestFields(req).uuid("plan_id")
	if err != nil {
		return nil, err
	}

	if err := s.PlanService.DeletePlan(ctx, planID); err != nil {
		return nil, mapError(err)
	}

	return respond(document{"deleted": true})
}

// ListAllocations handles the ListAllocations RPC
func (s *Server) ListAllocations(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	planID, err := requestFields(req).uuid("plan_id")
	if err != nil {
		return nil, err
	}

	allocations, err := s.PlanService.ListAllocations(ctx, planID)
	if err != nil {
		return nil, mapError(err)
	}

	out := make([]interface{}, 0, len(allocations))
	for _, a := range allocations {
		out = append(out, allocationDocument(a))
	}
	return respond(document{"allocations": out})
}

// ListExecutions handles the ListExecutions RPC. Without plan_id all executions are returned.
func (s *Server) ListExecutions(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	planID, err := requestFields(req).optUUID("plan_id")
	if err != nil {
		return nil, err
	}

	executions, err := s.PlanService.ListExecutions(ctx, planID)
	if err != nil {
		return nil, mapError(err)
	}

	return respond(document{"executions": executionList(executions)})
}

// ListPendingExecutions handles the ListPendingExecutions RPC
func (s *Server) ListPendingExecutions(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	limit := s.PendingBatchSize
	if f := requestFields(req); f.has("limit") {
		limit = f.integer("limit")
	}

	executions, err := s.PlanService.ListPendingExecutions(ctx, limit)
	if err != nil {
		return nil, mapError(err)
	}

	return respond(document{"executions": executionList(executions)})
}

// ClaimExecution handles the ClaimExecution RPC
func (s *Server) ClaimExecution(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	executionID, err := requestFields(req).uuid("execution_id")
	if err != nil {
		return nil, err
	}

	execution, err := s.PlanService.ClaimExecution(ctx, executionID)
	if err != nil {
		return nil, mapError(err)
	}

	return respond(document{"execution": executionDocument(execution)})
}

// RecordExecution handles the RecordExecution RPC
func (s *Server) RecordExecution(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	f := requestFields(req)

	planID, err := f.uuid("plan_id")
	if err != nil {
		return nil, err
	}
	executionID, err := f.optUUID("execution_id")
	if err != nil {
		return nil, err
	}
	availableFunds, err := f.optDecimal("available_funds")
	if err != nil {
		return nil, err
	}

	input := autoinvest.RecordExecutionInput{
		ExecutionID:    executionID,
		AvailableFunds: availableFunds,
		Now:            s.now(),
	}
	if f.has("attempted_amount") {
		if input.AttemptedAmount, err = f.decimal("attempted_amount"); err != nil {
			return nil, err
		}
	}
	if f.has("executed_at") {
		if input.Now, err = f.time("executed_at"); err != nil {
			return nil, err
		}
	}

	for _, r := range f.list("results") {
		target, err := r.target()
		if err != nil {
			return nil, err
		}
		tokenPrice, err := r.optDecimal("token_price")
		if err != nil {
			return nil, err
		}
		input.Results = append(input.Results, autoinvest.TargetResult{
			Target:        target,
			TargetName:    r.str("target_name"),
			TokenPrice:    tokenPrice,
			TransactionID: r.optStr("transaction_id"),
			FailureReason: r.str("failure_reason"),
		})
	}

	outcome, err := s.PlanService.RecordExecution(ctx, planID, input)
	if err != nil {
		return nil, mapError(err)
	}

	return respond(document{
		"execution": executionDocument(outcome.Execution),
		"plan":      planDocument(outcome.Plan),
	})
}

// mapError converts domain errors to gRPC status errors
func mapError(err error) error {
	if err == nil {
		return nil
	}

	errorMsg := err.Error()

	// Lifecycle rule violations, e.g. resuming a cancelled plan
	var vErr *domain.ValidationError
	if errors.As(err, &vErr) && vErr.Field == "status" {
		return status.Errorf(codes.FailedPrecondition, "%s", errorMsg)
	}

	var aErr *domain.InvalidAllocationError
	if errors.As(err, &vErr) || errors.As(err, &aErr) {
		return status.Errorf(codes.InvalidArgument, "%s", errorMsg)
	}

	var cfgErr *domain.ConfigurationError
	if errors.As(err, &cfgErr) {
		return status.Errorf(codes.FailedPrecondition, "%s", errorMsg)
	}

	var cErr *domain.ConcurrencyError
	if errors.As(err, &cErr) {
		return status.Errorf(codes.Aborted, "%s", errorMsg)
	}

	if errors.Is(err, domain.ErrNotFound) {
		return status.Errorf(codes.NotFound, "%s", errorMsg)
	}

	if errors.Is(err, context.Canceled) {
		return status.Errorf(codes.Canceled, "%s", errorMsg)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return status.Errorf(codes.DeadlineExceeded, "%s", errorMsg)
	}

	// Default to Internal error for unknown errors
	return status.Errorf(codes.Internal, "%s", errorMsg)
}
