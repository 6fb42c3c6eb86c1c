package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/simaogato/autoinvest-backend/internal/domain"
)

// executionRepository implements domain.ExecutionRepository
type executionRepository struct {
	db *DB
}

// NewExecutionRepository creates a new execution repository
func NewExecutionRepository(db *DB) domain.ExecutionRepository {
	return &executionRepository{db: db}
}

const executionColumns = `
	id, plan_id, execution_date, total_amount, actual_amount, status, failure_reason, completed_at, created_at`

// Create inserts an execution and its details in one transaction.
// A second open execution for the same plan is rejected with a *domain.ConcurrencyError.
func (r *executionRepository) Create(ctx context.Context, execution *domain.AutoInvestExecution) error {
	return r.db.WithinTx(ctx, func(ctx context.Context) error {
		q := r.db.conn(ctx)

		insertQuery := `
			INSERT INTO auto_invest_executions (` + executionColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`

		_, err := q.ExecContext(ctx, insertQuery,
			execution.ID,
			execution.PlanID,
			execution.ExecutionDate,
			execution.TotalAmount.String(),
			execution.ActualAmount.String(),
			string(execution.Status),
			stringArg(execution.FailureReason),
			timeArg(execution.CompletedAt),
			execution.CreatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return &domain.ConcurrencyError{Resource: "plan execution", ID: execution.PlanID.String()}
			}
			return fmt.Errorf("failed to insert execution: %w", err)
		}

		return insertDetails(ctx, q, execution)
	})
}

// Finalize moves an open execution to its terminal state and inserts its details
func (r *executionRepository) Finalize(ctx context.Context, execution *domain.AutoInvestExecution) error {
	return r.db.WithinTx(ctx, func(ctx context.Context) error {
		q := r.db.conn(ctx)

		updateQuery := `
			UPDATE auto_invest_executions
			SET total_amount = $1, actual_amount = $2, status = $3, failure_reason = $4, completed_at = $5
			WHERE id = $6 AND status IN ('pending', 'processing')
		`

		result, err := q.ExecContext(ctx, updateQuery,
			execution.TotalAmount.String(),
			execution.ActualAmount.String(),
			string(execution.Status),
			stringArg(execution.FailureReason),
			timeArg(execution.CompletedAt),
			execution.ID,
		)
		if err != nil {
			return fmt.Errorf("failed to finalize execution: %w", err)
		}

		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rowsAffected == 0 {
			return &domain.ConcurrencyError{Resource: "execution", ID: execution.ID.String()}
		}

		return insertDetails(ctx, q, execution)
	})
}

func insertDetails(ctx context.Context, q querier, execution *domain.AutoInvestExecution) error {
	insertDetailQuery := `
		INSERT INTO auto_invest_execution_details (
			id, execution_id, target_type, target_id, category, target_name, intended_amount,
			actual_amount, tokens_purchased, token_price, status, failure_reason, transaction_id, position
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	for i, d := range execution.Details {
		_, err := q.ExecContext(ctx, insertDetailQuery,
			d.ID,
			execution.ID,
			string(d.Target.Type),
			uuidArg(d.Target.ID),
			categoryArg(d.Target),
			d.TargetName,
			d.IntendedAmount.String(),
			d.ActualAmount.String(),
			decimalArg(d.TokensPurchased),
			decimalArg(d.TokenPrice),
			string(d.Status),
			stringArg(d.FailureReason),
			stringArg(d.TransactionID),
			i,
		)
		if err != nil {
			return fmt.Errorf("failed to insert execution detail: %w", err)
		}
	}
	return nil
}

// GetByID retrieves an execution with its details
func (r *executionRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.AutoInvestExecution, error) {
	query := `SELECT` + executionColumns + ` FROM auto_invest_executions WHERE id = $1`

	execution, err := scanExecution(r.db.conn(ctx).QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("execution %s not found: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get execution by ID: %w", err)
	}

	if err := r.attachDetails(ctx, []*domain.AutoInvestExecution{execution}); err != nil {
		return nil, err
	}
	return execution, nil
}

// List retrieves executions, newest first. If planID is nil, returns all executions.
func (r *executionRepository) List(ctx context.Context, planID *uuid.UUID) ([]*domain.AutoInvestExecution, error) {
	query := `SELECT` + executionColumns + ` FROM auto_invest_executions`
	var args []interface{}
	if planID != nil {
		query += ` WHERE plan_id = $1`
		args = append(args, *planID)
	}
	query += ` ORDER BY execution_date DESC, created_at DESC`

	return r.queryExecutions(ctx, query, args...)
}

// ListPending retrieves pending executions, oldest first
func (r *executionRepository) ListPending(ctx context.Context, limit int) ([]*domain.AutoInvestExecution, error) {
	query := `SELECT` + executionColumns + `
		FROM auto_invest_executions
		WHERE status = 'pending'
		ORDER BY execution_date, created_at
		LIMIT $1`

	return r.queryExecutions(ctx, query, limit)
}

// HasOpen reports whether the plan has a pending or processing execution
func (r *executionRepository) HasOpen(ctx context.Context, planID uuid.UUID) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM auto_invest_executions
			WHERE plan_id = $1 AND status IN ('pending', 'processing')
		)
	`

	var exists bool
	if err := r.db.conn(ctx).QueryRowContext(ctx, query, planID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check open executions: %w", err)
	}
	return exists, nil
}

// Claim moves a pending execution to processing
func (r *executionRepository) Claim(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.conn(ctx).ExecContext(ctx,
		`UPDATE auto_invest_executions SET status = 'processing' WHERE id = $1 AND status = 'pending'`, id)
	if err != nil {
		return fmt.Errorf("failed to claim execution: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return &domain.ConcurrencyError{Resource: "execution", ID: id.String()}
	}
	return nil
}

func (r *executionRepository) queryExecutions(ctx context.Context, query string, args ...interface{}) ([]*domain.AutoInvestExecution, error) {
	rows, err := r.db.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}
	defer rows.Close()

	executions := []*domain.AutoInvestExecution{}
	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		executions = append(executions, execution)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}

	if err := r.attachDetails(ctx, executions); err != nil {
		return nil, err
	}
	return executions, nil
}

// attachDetails loads the details of all executions in one round trip
func (r *executionRepository) attachDetails(ctx context.Context, executions []*domain.AutoInvestExecution) error {
	if len(executions) == 0 {
		return nil
	}

	ids := make([]uuid.UUID, 0, len(executions))
	byID := make(map[uuid.UUID]*domain.AutoInvestExecution, len(executions))
	for _, e := range executions {
		ids = append(ids, e.ID)
		byID[e.ID] = e
	}

	query := `
		SELECT id, execution_id, target_type, target_id, category, target_name, intended_amount,
			actual_amount, tokens_purchased, token_price, status, failure_reason, transaction_id
		FROM auto_invest_execution_details
		WHERE execution_id = ANY($1::uuid[])
		ORDER BY execution_id, position
	`

	rows, err := r.db.conn(ctx).QueryContext(ctx, query, uuidStrings(ids))
	if err != nil {
		return fmt.Errorf("failed to query execution details: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var d domain.AutoInvestExecutionDetail
		var targetID, category, tokens, price, failureReason, transactionID sql.NullString
		var intendedStr, actualStr string

		err := rows.Scan(
			&d.ID,
			&d.ExecutionID,
			&d.Target.Type,
			&targetID,
			&category,
			&d.TargetName,
			&intendedStr,
			&actualStr,
			&tokens,
			&price,
			&d.Status,
			&failureReason,
			&transactionID,
		)
		if err != nil {
			return fmt.Errorf("failed to scan execution detail: %w", err)
		}

		if d.Target.ID, err = parseNullUUID("target_id", targetID); err != nil {
			return err
		}
		d.Target.Category = category.String
		if d.IntendedAmount, err = parseDecimal("intended_amount", intendedStr); err != nil {
			return err
		}
		if d.ActualAmount, err = parseDecimal("actual_amount", actualStr); err != nil {
			return err
		}
		if d.TokensPurchased, err = parseNullDecimal("tokens_purchased", tokens); err != nil {
			return err
		}
		if d.TokenPrice, err = parseNullDecimal("token_price", price); err != nil {
			return err
		}
		d.FailureReason = nullString(failureReason)
		d.TransactionID = nullString(transactionID)

		if e, ok := byID[d.ExecutionID]; ok {
			e.Details = append(e.Details, d)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating execution details: %w", err)
	}

	return nil
}

func scanExecution(row scanner) (*domain.AutoInvestExecution, error) {
	var e domain.AutoInvestExecution
	var totalStr, actualStr string
	var failureReason sql.NullString
	var completedAt sql.NullTime

	err := row.Scan(
		&e.ID,
		&e.PlanID,
		&e.ExecutionDate,
		&totalStr,
		&actualStr,
		&e.Status,
		&failureReason,
		&completedAt,
		&e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if e.TotalAmount, err = parseDecimal("total_amount", totalStr); err != nil {
		return nil, err
	}
	if e.ActualAmount, err = parseDecimal("actual_amount", actualStr); err != nil {
		return nil, err
	}
	e.ExecutionDate = e.ExecutionDate.UTC()
	e.CreatedAt = e.CreatedAt.UTC()
	e.FailureReason = nullString(failureReason)
	e.CompletedAt = nullTime(completedAt)

	return &e, nil
}
