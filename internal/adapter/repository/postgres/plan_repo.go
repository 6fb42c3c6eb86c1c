package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/simaogato/autoinvest-backend/internal/domain"
)

// planRepository implements domain.PlanRepository
type planRepository struct {
	db *DB
}

// NewPlanRepository creates a new plan repository
func NewPlanRepository(db *DB) domain.PlanRepository {
	return &planRepository{db: db}
}

const planColumns = `
	id, user_id, name, status, frequency, amount, funding_source, linked_account_id,
	insufficient_funds_action, start_date, schedule_anchor, next_execution_date,
	last_execution_date, total_invested, total_executions, paused_at, pause_until,
	created_at, updated_at`

// GetByID retrieves a plan with its allocations
func (r *planRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.AutoInvestPlan, error) {
	query := `SELECT` + planColumns + ` FROM auto_invest_plans WHERE id = $1`

	plan, err := scanPlan(r.db.conn(ctx).QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("plan %s not found: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get plan by ID: %w", err)
	}

	allocations, err := r.ListAllocations(ctx, id)
	if err != nil {
		return nil, err
	}
	plan.Allocations = allocations

	return plan, nil
}

// ListByUser retrieves all plans owned by a user, newest first
func (r *planRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]*domain.AutoInvestPlan, error) {
	query := `SELECT` + planColumns + ` FROM auto_invest_plans WHERE user_id = $1 ORDER BY created_at DESC`
	return r.queryPlans(ctx, query, userID)
}

// ListDue retrieves active plans whose next execution date is at or before now
func (r *planRepository) ListDue(ctx context.Context, now time.Time) ([]*domain.AutoInvestPlan, error) {
	query := `SELECT` + planColumns + `
		FROM auto_invest_plans
		WHERE status = 'active' AND next_execution_date <= $1
		ORDER BY next_execution_date`
	return r.queryPlans(ctx, query, now)
}

// ListPauseExpired retrieves paused plans whose pause_until is at or before now
func (r *planRepository) ListPauseExpired(ctx context.Context, now time.Time) ([]*domain.AutoInvestPlan, error) {
	query := `SELECT` + planColumns + `
		FROM auto_invest_plans
		WHERE status = 'paused' AND pause_until IS NOT NULL AND pause_until <= $1
		ORDER BY pause_until`
	return r.queryPlans(ctx, query, now)
}

func (r *planRepository) queryPlans(ctx context.Context, query string, args ...interface{}) ([]*domain.AutoInvestPlan, error) {
	rows, err := r.db.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query plans: %w", err)
	}
	defer rows.Close()

	var plans []*domain.AutoInvestPlan
	byID := make(map[uuid.UUID]*domain.AutoInvestPlan)
	for rows.Next() {
		plan, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan plan: %w", err)
		}
		plans = append(plans, plan)
		byID[plan.ID] = plan
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating plans: %w", err)
	}
	if len(plans) == 0 {
		return []*domain.AutoInvestPlan{}, nil
	}

	// Load allocations for all plans in one round trip
	ids := make([]uuid.UUID, 0, len(plans))
	for _, p := range plans {
		ids = append(ids, p.ID)
	}
	allocations, err := r.listAllocations(ctx, `plan_id = ANY($1::uuid[])`, uuidStrings(ids))
	if err != nil {
		return nil, err
	}
	for _, a := range allocations {
		if p, ok := byID[a.PlanID]; ok {
			p.Allocations = append(p.Allocations, a)
		}
	}

	return plans, nil
}

// Create persists a plan together with its allocations in one transaction
func (r *planRepository) Create(ctx context.Context, plan *domain.AutoInvestPlan) error {
	return r.db.WithinTx(ctx, func(ctx context.Context) error {
		q := r.db.conn(ctx)

		insertPlanQuery := `
			INSERT INTO auto_invest_plans (` + planColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		`

		_, err := q.ExecContext(ctx, insertPlanQuery,
			plan.ID,
			plan.UserID,
			plan.Name,
			string(plan.Status),
			string(plan.Frequency),
			plan.Amount.String(),
			string(plan.FundingSource),
			uuidArg(plan.LinkedAccountID),
			string(plan.InsufficientFundsAction),
			plan.StartDate,
			plan.ScheduleAnchor,
			plan.NextExecutionDate,
			timeArg(plan.LastExecutionDate),
			plan.TotalInvested.String(),
			plan.TotalExecutions,
			timeArg(plan.PausedAt),
			timeArg(plan.PauseUntil),
			plan.CreatedAt,
			plan.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert plan: %w", err)
		}

		insertAllocationQuery := `
			INSERT INTO auto_invest_allocations (id, plan_id, target_type, target_id, category, allocation_percent, position)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`

		for i, a := range plan.Allocations {
			_, err = q.ExecContext(ctx, insertAllocationQuery,
				a.ID,
				plan.ID,
				string(a.Target.Type),
				uuidArg(a.Target.ID),
				categoryArg(a.Target),
				a.AllocationPercent.String(),
				i,
			)
			if err != nil {
				return fmt.Errorf("failed to insert allocation: %w", err)
			}
		}

		return nil
	})
}

// Update applies a partial update in a single statement.
// Totals are incremented in SQL so concurrent writers never lose an increment.
func (r *planRepository) Update(ctx context.Context, id uuid.UUID, patch domain.PlanPatch) error {
	var sets []string
	var args []interface{}
	set := func(expr string, value interface{}) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf(expr, len(args)))
	}

	if patch.Name != nil {
		set("name = $%d", *patch.Name)
	}
	if patch.Amount != nil {
		set("amount = $%d", patch.Amount.String())
	}
	if patch.InsufficientFundsAction != nil {
		set("insufficient_funds_action = $%d", string(*patch.InsufficientFundsAction))
	}
	if patch.Status != nil {
		set("status = $%d", string(*patch.Status))
	}
	if patch.ScheduleAnchor != nil {
		set("schedule_anchor = $%d", *patch.ScheduleAnchor)
	}
	if patch.NextExecutionDate != nil {
		set("next_execution_date = $%d", *patch.NextExecutionDate)
	}
	if patch.LastExecutionDate != nil {
		set("last_execution_date = $%d", *patch.LastExecutionDate)
	}

	switch {
	case patch.PausedAt != nil:
		set("paused_at = $%d", *patch.PausedAt)
	case patch.ClearPause:
		sets = append(sets, "paused_at = NULL")
	}
	switch {
	case patch.PauseUntil != nil:
		set("pause_until = $%d", *patch.PauseUntil)
	case patch.ClearPause:
		sets = append(sets, "pause_until = NULL")
	}

	if !patch.InvestedDelta.IsZero() {
		set("total_invested = total_invested + $%d", patch.InvestedDelta.String())
	}
	if patch.ExecutionsDelta != 0 {
		set("total_executions = total_executions + $%d", patch.ExecutionsDelta)
	}
	if patch.UpdatedAt.IsZero() {
		sets = append(sets, "updated_at = NOW()")
	} else {
		set("updated_at = $%d", patch.UpdatedAt)
	}

	args = append(args, id)
	query := fmt.Sprintf("UPDATE auto_invest_plans SET %s WHERE id = $%d", strings.Join(sets, ", "), len(args))
	if patch.ExpectStatus != nil {
		args = append(args, string(*patch.ExpectStatus))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}

	result, err := r.db.conn(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update plan: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected > 0 {
		return nil
	}

	// Tell a missing plan apart from a lost status guard
	var exists bool
	if err := r.db.conn(ctx).QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM auto_invest_plans WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check plan existence: %w", err)
	}
	if !exists {
		return fmt.Errorf("plan %s not found: %w", id, domain.ErrNotFound)
	}
	return &domain.ConcurrencyError{Resource: "plan", ID: id.String()}
}

// Delete removes a plan. Allocations cascade, executions are kept.
func (r *planRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.conn(ctx).ExecContext(ctx, `DELETE FROM auto_invest_plans WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete plan: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("plan %s not found: %w", id, domain.ErrNotFound)
	}

	return nil
}

// ListAllocations retrieves the allocations of a plan in creation order
func (r *planRepository) ListAllocations(ctx context.Context, planID uuid.UUID) ([]domain.AutoInvestAllocation, error) {
	return r.listAllocations(ctx, `plan_id = $1`, planID)
}

func (r *planRepository) listAllocations(ctx context.Context, where string, arg interface{}) ([]domain.AutoInvestAllocation, error) {
	query := `
		SELECT id, plan_id, target_type, target_id, category, allocation_percent
		FROM auto_invest_allocations
		WHERE ` + where + `
		ORDER BY plan_id, position
	`

	rows, err := r.db.conn(ctx).QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to query allocations: %w", err)
	}
	defer rows.Close()

	allocations := []domain.AutoInvestAllocation{}
	for rows.Next() {
		var a domain.AutoInvestAllocation
		var targetID, category sql.NullString
		var percentStr string

		if err := rows.Scan(&a.ID, &a.PlanID, &a.Target.Type, &targetID, &category, &percentStr); err != nil {
			return nil, fmt.Errorf("failed to scan allocation: %w", err)
		}

		if a.Target.ID, err = parseNullUUID("target_id", targetID); err != nil {
			return nil, err
		}
		a.Target.Category = category.String
		if a.AllocationPercent, err = parseDecimal("allocation_percent", percentStr); err != nil {
			return nil, err
		}

		allocations = append(allocations, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating allocations: %w", err)
	}

	return allocations, nil
}

// UpdateAllocationPercents edits allocation percents keyed by allocation ID in one transaction
func (r *planRepository) UpdateAllocationPercents(ctx context.Context, planID uuid.UUID, percents map[uuid.UUID]decimal.Decimal) error {
	return r.db.WithinTx(ctx, func(ctx context.Context) error {
		query := `UPDATE auto_invest_allocations SET allocation_percent = $1 WHERE id = $2 AND plan_id = $3`
		for id, percent := range percents {
			result, err := r.db.conn(ctx).ExecContext(ctx, query, percent.String(), id, planID)
			if err != nil {
				return fmt.Errorf("failed to update allocation: %w", err)
			}
			rowsAffected, err := result.RowsAffected()
			if err != nil {
				return fmt.Errorf("failed to get rows affected: %w", err)
			}
			if rowsAffected == 0 {
				return fmt.Errorf("allocation %s not found: %w", id, domain.ErrNotFound)
			}
		}
		return nil
	})
}

func scanPlan(row scanner) (*domain.AutoInvestPlan, error) {
	var plan domain.AutoInvestPlan
	var amountStr, investedStr string
	var linkedAccountID sql.NullString
	var lastExecution, pausedAt, pauseUntil sql.NullTime

	err := row.Scan(
		&plan.ID,
		&plan.UserID,
		&plan.Name,
		&plan.Status,
		&plan.Frequency,
		&amountStr,
		&plan.FundingSource,
		&linkedAccountID,
		&plan.InsufficientFundsAction,
		&plan.StartDate,
		&plan.ScheduleAnchor,
		&plan.NextExecutionDate,
		&lastExecution,
		&investedStr,
		&plan.TotalExecutions,
		&pausedAt,
		&pauseUntil,
		&plan.CreatedAt,
		&plan.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if plan.Amount, err = parseDecimal("amount", amountStr); err != nil {
		return nil, err
	}
	if plan.TotalInvested, err = parseDecimal("total_invested", investedStr); err != nil {
		return nil, err
	}
	if plan.LinkedAccountID, err = parseNullUUID("linked_account_id", linkedAccountID); err != nil {
		return nil, err
	}

	plan.StartDate = plan.StartDate.UTC()
	plan.ScheduleAnchor = plan.ScheduleAnchor.UTC()
	plan.NextExecutionDate = plan.NextExecutionDate.UTC()
	plan.CreatedAt = plan.CreatedAt.UTC()
	plan.UpdatedAt = plan.UpdatedAt.UTC()
	plan.LastExecutionDate = nullTime(lastExecution)
	plan.PausedAt = nullTime(pausedAt)
	plan.PauseUntil = nullTime(pauseUntil)

	return &plan, nil
}
