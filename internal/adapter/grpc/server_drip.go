package grpc

import (
	"context"

	"github.com/google/uuid"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/simaogato/autoinvest-backend/internal/domain"
)

// GetDripSettings handles the GetDripSettings RPC
func (s *Server) GetDripSettings(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, err := requestFields(req).uuid("user_id")
	if err != nil {
		return nil, err
	}

	settings, err := s.DripService.GetSettings(ctx, userID)
	if err != nil {
		return nil, mapError(err)
	}

	return respond(document{"settings": dripSettingsDocument(settings)})
}

// UpdateDripSettings handles the UpdateDripSettings RPC
func (s *Server) UpdateDripSettings(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	f := requestFields(req)

	userID, err := f.uuid("user_id")
	if err != nil {
		return nil, err
	}
	minimum, err := f.decimal("minimum_reinvest_amount")
	if err != nil {
		return nil, err
	}

	settings := &domain.DRIPSettings{
		UserID:                     userID,
		IsEnabled:                  f.boolean("is_enabled"),
		ReinvestEquityDividends:    f.boolean("reinvest_equity_dividends"),
		ReinvestDebtInterest:       f.boolean("reinvest_debt_interest"),
		ReinvestPredictionWinnings: f.boolean("reinvest_prediction_winnings"),
		DripType:                   domain.DRIPType(f.str("drip_type")),
		MinimumReinvestAmount:      minimum,
	}

	saved, err := s.DripService.UpdateSettings(ctx, settings, s.now())
	if err != nil {
		return nil, mapError(err)
	}

	return respond(document{"settings": dripSettingsDocument(saved)})
}

// SetDripPropertyOverride handles the SetDripPropertyOverride RPC
func (s *Server) SetDripPropertyOverride(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	f := requestFields(req)

	userID, err := f.uuid("user_id")
	if err != nil {
		return nil, err
	}
	holdingID, err := f.uuid("holding_id")
	if err != nil {
		return nil, err
	}
	reinvestTo, err := f.optUUID("reinvest_to")
	if err != nil {
		return nil, err
	}

	setting := &domain.DRIPPropertySetting{
		UserID:     userID,
		HoldingID:  holdingID,
		IsEnabled:  f.boolean("is_enabled"),
		ReinvestTo: reinvestTo,
	}
	if err := s.DripService.SetPropertyOverride(ctx, setting, s.now()); err != nil {
		return nil, mapError(err)
	}

	return respond(document{
		"user_id":     setting.UserID.String(),
		"holding_id":  setting.HoldingID.String(),
		"is_enabled":  setting.IsEnabled,
		"reinvest_to": optUUIDValue(setting.ReinvestTo),
	})
}

// SetDripCustomAllocations handles the SetDripCustomAllocations RPC
func (s *Server) SetDripCustomAllocations(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	f := requestFields(req)

	userID, err := f.uuid("user_id")
	if err != nil {
		return nil, err
	}

	allocations := make([]domain.DRIPCustomAllocation, 0)
	for _, a := range f.list("allocations") {
		targetID, err := a.uuid("target_id")
		if err != nil {
			return nil, err
		}
		percent, err := a.decimal("percent")
		if err != nil {
			return nil, err
		}
		allocations = append(allocations, domain.DRIPCustomAllocation{TargetID: targetID, Percent: percent})
	}

	if err := s.DripService.SetCustomAllocations(ctx, userID, allocations, s.now()); err != nil {
		return nil, mapError(err)
	}

	out := make([]interface{}, 0, len(allocations))
	for _, a := range allocations {
		out = append(out, document{"target_id": a.TargetID.String(), "percent": a.Percent.String()})
	}
	return respond(document{"allocations": out})
}

// ProcessDistribution handles the ProcessDistribution RPC
func (s *Server) ProcessDistribution(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	f := requestFields(req)

	userID, err := f.uuid("user_id")
	if err != nil {
		return nil, err
	}
	holdingID, err := f.uuid("source_holding_id")
	if err != nil {
		return nil, err
	}
	amount, err := f.decimal("amount")
	if err != nil {
		return nil, err
	}

	event := domain.DistributionEvent{
		ID:              uuid.New(),
		UserID:          userID,
		SourceHoldingID: holdingID,
		Category:        domain.DistributionCategory(f.str("category")),
		Amount:          amount,
		OccurredAt:      s.now(),
	}
	if f.has("event_id") {
		if event.ID, err = f.uuid("event_id"); err != nil {
			return nil, err
		}
	}
	if f.has("occurred_at") {
		if event.OccurredAt, err = f.time("occurred_at"); err != nil {
			return nil, err
		}
	}

	result, err := s.DripService.ProcessDistribution(ctx, event)
	if err != nil {
		return nil, mapError(err)
	}

	reinvestments := make([]interface{}, 0, len(result.Reinvestments))
	for _, r := range result.Reinvestments {
		reinvestments = append(reinvestments, document{"target_id": r.TargetID.String(), "amount": r.Amount.String()})
	}
	accrued := make([]interface{}, 0, len(result.Accrued))
	for _, a := range result.Accrued {
		accrued = append(accrued, accrualDocument(a))
	}

	doc := document{
		"event_id":      result.EventID.String(),
		"mode":          string(result.Decision.Mode),
		"cash_amount":   result.CashAmount.String(),
		"reinvestments": reinvestments,
		"accrued":       accrued,
		"replayed":      result.Replayed,
	}
	if result.Decision.CashReason != "" {
		doc["cash_reason"] = result.Decision.CashReason
	}
	return respond(doc)
}

// ListAccruals handles the ListAccruals RPC
func (s *Server) ListAccruals(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, err := requestFields(req).uuid("user_id")
	if err != nil {
		return nil, err
	}

	accruals, err := s.DripService.ListAccruals(ctx, userID)
	if err != nil {
		return nil, mapError(err)
	}

	out := make([]interface{}, 0, len(accruals))
	for _, a := range accruals {
		out = append(out, accrualDocument(a))
	}
	return respond(document{"accruals": out})
}

// GetPortfolioSummary handles the GetPortfolioSummary RPC
func (s *Server) GetPortfolioSummary(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, err := requestFields(req).uuid("user_id")
	if err != nil {
		return nil, err
	}

	summary, err := s.PortfolioService.GetSummary(ctx, userID)
	if err != nil {
		return nil, mapError(err)
	}

	return respond(document{
		"holdings_value":     summary.HoldingsValue.String(),
		"total_invested":     summary.TotalInvested.String(),
		"active_plans":       summary.ActivePlans,
		"paused_plans":       summary.PausedPlans,
		"monthly_commitment": summary.MonthlyCommitment.String(),
		"pending_accruals":   summary.PendingAccruals.String(),
	})
}

// GetPortfolioWeights handles the GetPortfolioWeights RPC
func (s *Server) GetPortfolioWeights(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, err := requestFields(req).uuid("user_id")
	if err != nil {
		return nil, err
	}

	weights, err := s.PortfolioService.GetWeights(ctx, userID)
	if err != nil {
		return nil, mapError(err)
	}

	out := make([]interface{}, 0, len(weights))
	for _, w := range weights {
		out = append(out, document{
			"target_id":   w.TargetID.String(),
			"target_name": w.TargetName,
			"value":       w.Value.String(),
			"percent":     w.Percent.String(),
		})
	}
	return respond(document{"weights": out})
}
