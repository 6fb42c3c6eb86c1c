package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/simaogato/autoinvest-backend/internal/domain"
)

// dripRepository implements domain.DripRepository
type dripRepository struct {
	db *DB
}

// NewDripRepository creates a new DRIP repository
func NewDripRepository(db *DB) domain.DripRepository {
	return &dripRepository{db: db}
}

// GetSettings retrieves the global settings of a user
func (r *dripRepository) GetSettings(ctx context.Context, userID uuid.UUID) (*domain.DRIPSettings, error) {
	query := `
		SELECT user_id, is_enabled, reinvest_equity_dividends, reinvest_debt_interest,
			reinvest_prediction_winnings, drip_type, minimum_reinvest_amount, updated_at
		FROM drip_settings
		WHERE user_id = $1
	`

	var s domain.DRIPSettings
	var minimumStr string

	err := r.db.conn(ctx).QueryRowContext(ctx, query, userID).Scan(
		&s.UserID,
		&s.IsEnabled,
		&s.ReinvestEquityDividends,
		&s.ReinvestDebtInterest,
		&s.ReinvestPredictionWinnings,
		&s.DripType,
		&minimumStr,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("drip settings for user %s not found: %w", userID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get drip settings: %w", err)
	}

	if s.MinimumReinvestAmount, err = parseDecimal("minimum_reinvest_amount", minimumStr); err != nil {
		return nil, err
	}
	s.UpdatedAt = s.UpdatedAt.UTC()

	return &s, nil
}

// UpsertSettings creates or replaces the global settings of a user
func (r *dripRepository) UpsertSettings(ctx context.Context, settings *domain.DRIPSettings) error {
	query := `
		INSERT INTO drip_settings (
			user_id, is_enabled, reinvest_equity_dividends, reinvest_debt_interest,
			reinvest_prediction_winnings, drip_type, minimum_reinvest_amount, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id) DO UPDATE SET
			is_enabled = EXCLUDED.is_enabled,
			reinvest_equity_dividends = EXCLUDED.reinvest_equity_dividends,
			reinvest_debt_interest = EXCLUDED.reinvest_debt_interest,
			reinvest_prediction_winnings = EXCLUDED.reinvest_prediction_winnings,
			drip_type = EXCLUDED.drip_type,
			minimum_reinvest_amount = EXCLUDED.minimum_reinvest_amount,
			updated_at = EXCLUDED.updated_at
	`

	_, err := r.db.conn(ctx).ExecContext(ctx, query,
		settings.UserID,
		settings.IsEnabled,
		settings.ReinvestEquityDividends,
		settings.ReinvestDebtInterest,
		settings.ReinvestPredictionWinnings,
		string(settings.DripType),
		settings.MinimumReinvestAmount.String(),
		settings.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert drip settings: %w", err)
	}
	return nil
}

// ListPropertySettings retrieves all per-holding overrides of a user
func (r *dripRepository) ListPropertySettings(ctx context.Context, userID uuid.UUID) ([]domain.DRIPPropertySetting, error) {
	query := `
		SELECT user_id, holding_id, is_enabled, reinvest_to, updated_at
		FROM drip_property_settings
		WHERE user_id = $1
		ORDER BY holding_id
	`

	rows, err := r.db.conn(ctx).QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query property settings: %w", err)
	}
	defer rows.Close()

	settings := []domain.DRIPPropertySetting{}
	for rows.Next() {
		var s domain.DRIPPropertySetting
		var reinvestTo sql.NullString

		if err := rows.Scan(&s.UserID, &s.HoldingID, &s.IsEnabled, &reinvestTo, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan property setting: %w", err)
		}
		if s.ReinvestTo, err = parseNullUUID("reinvest_to", reinvestTo); err != nil {
			return nil, err
		}
		s.UpdatedAt = s.UpdatedAt.UTC()

		settings = append(settings, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating property settings: %w", err)
	}

	return settings, nil
}

// UpsertPropertySetting creates or replaces one per-holding override
func (r *dripRepository) UpsertPropertySetting(ctx context.Context, setting *domain.DRIPPropertySetting) error {
	query := `
		INSERT INTO drip_property_settings (user_id, holding_id, is_enabled, reinvest_to, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, holding_id) DO UPDATE SET
			is_enabled = EXCLUDED.is_enabled,
			reinvest_to = EXCLUDED.reinvest_to,
			updated_at = EXCLUDED.updated_at
	`

	_, err := r.db.conn(ctx).ExecContext(ctx, query,
		setting.UserID,
		setting.HoldingID,
		setting.IsEnabled,
		uuidArg(setting.ReinvestTo),
		setting.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert property setting: %w", err)
	}
	return nil
}

// ListCustomAllocations retrieves the custom strategy allocations of a user
func (r *dripRepository) ListCustomAllocations(ctx context.Context, userID uuid.UUID) ([]domain.DRIPCustomAllocation, error) {
	query := `
		SELECT user_id, target_id, percent, updated_at
		FROM drip_custom_allocations
		WHERE user_id = $1
		ORDER BY percent DESC, target_id
	`

	rows, err := r.db.conn(ctx).QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query custom allocations: %w", err)
	}
	defer rows.Close()

	allocations := []domain.DRIPCustomAllocation{}
	for rows.Next() {
		var a domain.DRIPCustomAllocation
		var percentStr string

		if err := rows.Scan(&a.UserID, &a.TargetID, &percentStr, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan custom allocation: %w", err)
		}
		if a.Percent, err = parseDecimal("percent", percentStr); err != nil {
			return nil, err
		}
		a.UpdatedAt = a.UpdatedAt.UTC()

		allocations = append(allocations, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating custom allocations: %w", err)
	}

	return allocations, nil
}

// ReplaceCustomAllocations replaces the custom strategy allocations of a user in one transaction
func (r *dripRepository) ReplaceCustomAllocations(ctx context.Context, userID uuid.UUID, allocations []domain.DRIPCustomAllocation) error {
	return r.db.WithinTx(ctx, func(ctx context.Context) error {
		q := r.db.conn(ctx)

		if _, err := q.ExecContext(ctx, `DELETE FROM drip_custom_allocations WHERE user_id = $1`, userID); err != nil {
			return fmt.Errorf("failed to delete custom allocations: %w", err)
		}

		insertQuery := `
			INSERT INTO drip_custom_allocations (user_id, target_id, percent, updated_at)
			VALUES ($1, $2, $3, $4)
		`
		for _, a := range allocations {
			if _, err := q.ExecContext(ctx, insertQuery, userID, a.TargetID, a.Percent.String(), a.UpdatedAt); err != nil {
				return fmt.Errorf("failed to insert custom allocation: %w", err)
			}
		}
		return nil
	})
}

// AddAccrual atomically adds delta to the (user, target) bucket and returns the new total
func (r *dripRepository) AddAccrual(ctx context.Context, userID, targetID uuid.UUID, delta decimal.Decimal) (decimal.Decimal, error) {
	query := `
		INSERT INTO drip_accruals (user_id, target_id, amount, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (user_id, target_id) DO UPDATE SET
			amount = drip_accruals.amount + EXCLUDED.amount,
			updated_at = NOW()
		RETURNING amount
	`

	var totalStr string
	if err := r.db.conn(ctx).QueryRowContext(ctx, query, userID, targetID, delta.String()).Scan(&totalStr); err != nil {
		return decimal.Zero, fmt.Errorf("failed to add accrual: %w", err)
	}
	return parseDecimal("amount", totalStr)
}

// ReleaseAccrual atomically subtracts a released amount from the (user, target) bucket.
// Fails with a *domain.ConcurrencyError when the bucket holds less than amount.
func (r *dripRepository) ReleaseAccrual(ctx context.Context, userID, targetID uuid.UUID, amount decimal.Decimal) error {
	query := `
		UPDATE drip_accruals
		SET amount = amount - $3, updated_at = NOW()
		WHERE user_id = $1 AND target_id = $2 AND amount >= $3
	`

	result, err := r.db.conn(ctx).ExecContext(ctx, query, userID, targetID, amount.String())
	if err != nil {
		return fmt.Errorf("failed to release accrual: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return &domain.ConcurrencyError{Resource: "accrual", ID: userID.String() + "/" + targetID.String()}
	}
	return nil
}

// ListAccruals retrieves the non-empty accrual buckets of a user
func (r *dripRepository) ListAccruals(ctx context.Context, userID uuid.UUID) ([]domain.ReinvestAccrual, error) {
	query := `
		SELECT user_id, target_id, amount, updated_at
		FROM drip_accruals
		WHERE user_id = $1 AND amount > 0
		ORDER BY updated_at DESC
	`

	rows, err := r.db.conn(ctx).QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query accruals: %w", err)
	}
	defer rows.Close()

	accruals := []domain.ReinvestAccrual{}
	for rows.Next() {
		var a domain.ReinvestAccrual
		var amountStr string

		if err := rows.Scan(&a.UserID, &a.TargetID, &amountStr, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan accrual: %w", err)
		}
		if a.Amount, err = parseDecimal("amount", amountStr); err != nil {
			return nil, err
		}
		a.UpdatedAt = a.UpdatedAt.UTC()

		accruals = append(accruals, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating accruals: %w", err)
	}

	return accruals, nil
}

// GetProcessedDistribution retrieves the stored outcome of an event with its releases
func (r *dripRepository) GetProcessedDistribution(ctx context.Context, eventID uuid.UUID) (*domain.ProcessedDistribution, error) {
	q := r.db.conn(ctx)

	query := `
		SELECT event_id, user_id, mode, cash_reason, cash_amount, processed_at
		FROM drip_processed_events
		WHERE event_id = $1
	`

	var p domain.ProcessedDistribution
	var cashStr string

	err := q.QueryRowContext(ctx, query, eventID).Scan(
		&p.EventID,
		&p.UserID,
		&p.Mode,
		&p.CashReason,
		&cashStr,
		&p.ProcessedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("distribution event %s not found: %w", eventID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get processed distribution: %w", err)
	}
	if p.CashAmount, err = parseDecimal("cash_amount", cashStr); err != nil {
		return nil, err
	}
	p.ProcessedAt = p.ProcessedAt.UTC()

	rows, err := q.QueryContext(ctx, `
		SELECT target_id, amount
		FROM drip_event_releases
		WHERE event_id = $1
		ORDER BY position
	`, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to query event releases: %w", err)
	}
	defer rows.Close()

	p.Releases = []domain.DistributionRelease{}
	for rows.Next() {
		var release domain.DistributionRelease
		var amountStr string

		if err := rows.Scan(&release.TargetID, &amountStr); err != nil {
			return nil, fmt.Errorf("failed to scan event release: %w", err)
		}
		if release.Amount, err = parseDecimal("amount", amountStr); err != nil {
			return nil, err
		}
		p.Releases = append(p.Releases, release)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating event releases: %w", err)
	}

	return &p, nil
}

// SaveProcessedDistribution stores the outcome of an event with its releases in one transaction
func (r *dripRepository) SaveProcessedDistribution(ctx context.Context, processed *domain.ProcessedDistribution) error {
	return r.db.WithinTx(ctx, func(ctx context.Context) error {
		q := r.db.conn(ctx)

		_, err := q.ExecContext(ctx, `
			INSERT INTO drip_processed_events (event_id, user_id, mode, cash_reason, cash_amount, processed_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`,
			processed.EventID,
			processed.UserID,
			processed.Mode,
			processed.CashReason,
			processed.CashAmount.String(),
			processed.ProcessedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return &domain.ConcurrencyError{Resource: "distribution event", ID: processed.EventID.String()}
			}
			return fmt.Errorf("failed to insert processed distribution: %w", err)
		}

		insertQuery := `
			INSERT INTO drip_event_releases (event_id, target_id, amount, position)
			VALUES ($1, $2, $3, $4)
		`
		for i, release := range processed.Releases {
			if _, err := q.ExecContext(ctx, insertQuery, processed.EventID, release.TargetID, release.Amount.String(), i); err != nil {
				return fmt.Errorf("failed to insert event release: %w", err)
			}
		}
		return nil
	})
}
