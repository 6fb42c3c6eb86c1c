package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/simaogato/autoinvest-backend/internal/domain"
)

// holdingRepository implements domain.HoldingRepository
type holdingRepository struct {
	db *DB
}

// NewHoldingRepository creates a new holding repository
func NewHoldingRepository(db *DB) domain.HoldingRepository {
	return &holdingRepository{db: db}
}

// ListByUser retrieves the current holdings of a user, largest first
func (r *holdingRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]domain.Holding, error) {
	query := `
		SELECT user_id, target_id, target_name, current_value, token_price
		FROM holdings
		WHERE user_id = $1
		ORDER BY current_value DESC, target_id
	`

	rows, err := r.db.conn(ctx).QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query holdings: %w", err)
	}
	defer rows.Close()

	holdings := []domain.Holding{}
	for rows.Next() {
		var h domain.Holding
		var valueStr, priceStr string

		if err := rows.Scan(&h.UserID, &h.TargetID, &h.TargetName, &valueStr, &priceStr); err != nil {
			return nil, fmt.Errorf("failed to scan holding: %w", err)
		}

		// Parse current_value and token_price (NUMERIC)
		if h.CurrentValue, err = parseDecimal("current_value", valueStr); err != nil {
			return nil, err
		}
		if h.TokenPrice, err = parseDecimal("token_price", priceStr); err != nil {
			return nil, err
		}

		holdings = append(holdings, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating holdings: %w", err)
	}

	return holdings, nil
}
