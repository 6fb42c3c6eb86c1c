package grpc

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/simaogato/autoinvest-backend/internal/domain"
)

const dateLayout = "2006-01-02"

// fields reads typed values out of a request Struct.
// Malformed values become InvalidArgument status errors naming the field.
type fields map[string]*structpb.Value

func requestFields(req *structpb.Struct) fields {
	if req == nil {
		return fields{}
	}
	return fields(req.GetFields())
}

func (f fields) has(key string) bool {
	v, ok := f[key]
	if !ok || v == nil {
		return false
	}
	_, isNull := v.GetKind().(*structpb.Value_NullValue)
	return !isNull
}

func (f fields) str(key string) string {
	return f[key].GetStringValue()
}

func (f fields) optStr(key string) *string {
	if !f.has(key) {
		return nil
	}
	s := f.str(key)
	return &s
}

func (f fields) boolean(key string) bool {
	return f[key].GetBoolValue()
}

func (f fields) integer(key string) int {
	return int(f[key].GetNumberValue())
}

func (f fields) uuid(key string) (uuid.UUID, error) {
	id, err := uuid.Parse(f.str(key))
	if err != nil {
		return uuid.Nil, status.Errorf(codes.InvalidArgument, "invalid %s format: %v", key, err)
	}
	return id, nil
}

func (f fields) optUUID(key string) (*uuid.UUID, error) {
	if !f.has(key) || f.str(key) == "" {
		return nil, nil
	}
	id, err := f.uuid(key)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

// decimal accepts both string and number values. Strings are preferred for money.
func (f fields) decimal(key string) (decimal.Decimal, error) {
	v := f[key]
	if n, ok := v.GetKind().(*structpb.Value_NumberValue); ok {
		return decimal.NewFromFloat(n.NumberValue), nil
	}
	d, err := decimal.NewFromString(v.GetStringValue())
	if err != nil {
		return decimal.Zero, status.Errorf(codes.InvalidArgument, "invalid %s format: %v", key, err)
	}
	return d, nil
}

func (f fields) optDecimal(key string) (*decimal.Decimal, error) {
	if !f.has(key) {
		return nil, nil
	}
	d, err := f.decimal(key)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// time accepts RFC 3339 timestamps and plain dates, both read as UTC
func (f fields) time(key string) (time.Time, error) {
	s := f.str(key)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, status.Errorf(codes.InvalidArgument, "invalid %s format: expected RFC 3339 or YYYY-MM-DD", key)
	}
	return t, nil
}

func (f fields) optTime(key string) (*time.Time, error) {
	if !f.has(key) || f.str(key) == "" {
		return nil, nil
	}
	t, err := f.time(key)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (f fields) list(key string) []fields {
	values := f[key].GetListValue().GetValues()
	out := make([]fields, 0, len(values))
	for _, v := range values {
		out = append(out, fields(v.GetStructValue().GetFields()))
	}
	return out
}

func (f fields) object(key string) fields {
	return fields(f[key].GetStructValue().GetFields())
}

// target reads an allocation target from target_type, target_id and category
func (f fields) target() (domain.AllocationTarget, error) {
	id, err := f.optUUID("target_id")
	if err != nil {
		return domain.AllocationTarget{}, err
	}
	return domain.AllocationTarget{
		Type:     domain.TargetType(f.str("target_type")),
		ID:       id,
		Category: f.str("category"),
	}, nil
}

// Response encoding. Values must be types structpb.NewValue understands.

type document = map[string]interface{}

func respond(doc document) (*structpb.Struct, error) {
	out, err := structpb.NewStruct(doc)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode response: %v", err)
	}
	return out, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func optTimeValue(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func optUUIDValue(id *uuid.UUID) interface{} {
	if id == nil {
		return nil
	}
	return id.String()
}

func optDecimalValue(d *decimal.Decimal) interface{} {
	if d == nil {
		return nil
	}
	return d.String()
}

func optStringValue(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}

func targetDocument(doc document, t domain.AllocationTarget) document {
	doc["target_type"] = string(t.Type)
	doc["target_id"] = optUUIDValue(t.ID)
	if t.Category != "" {
		doc["category"] = t.Category
	} else {
		doc["category"] = nil
	}
	return doc
}

func planDocument(p *domain.AutoInvestPlan) document {
	allocations := make([]interface{}, 0, len(p.Allocations))
	for _, a := range p.Allocations {
		allocations = append(allocations, allocationDocument(a))
	}

	return document{
		"id":                        p.ID.String(),
		"user_id":                   p.UserID.String(),
		"name":                      p.Name,
		"status":                    string(p.Status),
		"frequency":                 string(p.Frequency),
		"amount":                    p.Amount.String(),
		"funding_source":            string(p.FundingSource),
		"linked_account_id":         optUUIDValue(p.LinkedAccountID),
		"insufficient_funds_action": string(p.InsufficientFundsAction),
		"start_date":                formatTime(p.StartDate),
		"next_execution_date":       formatTime(p.NextExecutionDate),
		"last_execution_date":       optTimeValue(p.LastExecutionDate),
		"total_invested":            p.TotalInvested.String(),
		"total_executions":          p.TotalExecutions,
		"paused_at":                 optTimeValue(p.PausedAt),
		"pause_until":               optTimeValue(p.PauseUntil),
		"created_at":                formatTime(p.CreatedAt),
		"updated_at":                formatTime(p.UpdatedAt),
		"allocations":               allocations,
	}
}

func allocationDocument(a domain.AutoInvestAllocation) document {
	return targetDocument(document{
		"id":                 a.ID.String(),
		"plan_id":            a.PlanID.String(),
		"allocation_percent": a.AllocationPercent.String(),
	}, a.Target)
}

func executionDocument(e *domain.AutoInvestExecution) document {
	details := make([]interface{}, 0, len(e.Details))
	for _, d := range e.Details {
		details = append(details, targetDocument(document{
			"id":               d.ID.String(),
			"target_name":      d.TargetName,
			"intended_amount":  d.IntendedAmount.String(),
			"actual_amount":    d.ActualAmount.String(),
			"tokens_purchased": optDecimalValue(d.TokensPurchased),
			"token_price":      optDecimalValue(d.TokenPrice),
			"status":           string(d.Status),
			"failure_reason":   optStringValue(d.FailureReason),
			"transaction_id":   optStringValue(d.TransactionID),
		}, d.Target))
	}

	return document{
		"id":             e.ID.String(),
		"plan_id":        e.PlanID.String(),
		"execution_date": formatTime(e.ExecutionDate),
		"total_amount":   e.TotalAmount.String(),
		"actual_amount":  e.ActualAmount.String(),
		"status":         string(e.Status),
		"failure_reason": optStringValue(e.FailureReason),
		"completed_at":   optTimeValue(e.CompletedAt),
		"created_at":     formatTime(e.CreatedAt),
		"details":        details,
	}
}

func executionList(executions []*domain.AutoInvestExecution) []interface{} {
	out := make([]interface{}, 0, len(executions))
	for _, e := range executions {
		out = append(out, executionDocument(e))
	}
	return out
}

func dripSettingsDocument(s *domain.DRIPSettings) document {
	return document{
		"user_id":                      s.UserID.String(),
		"is_enabled":                   s.IsEnabled,
		"reinvest_equity_dividends":    s.ReinvestEquityDividends,
		"reinvest_debt_interest":       s.ReinvestDebtInterest,
		"reinvest_prediction_winnings": s.ReinvestPredictionWinnings,
		"drip_type":                    string(s.DripType),
		"minimum_reinvest_amount":      s.MinimumReinvestAmount.String(),
	}
}

func accrualDocument(a domain.ReinvestAccrual) document {
	return document{
		"target_id":  a.TargetID.String(),
		"amount":     a.Amount.String(),
		"updated_at": formatTime(a.UpdatedAt),
	}
}
