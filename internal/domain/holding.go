package domain

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Holding is a user's current position in one target
// CurrentValue is the market value, TokenPrice the latest price per token (zero when unknown)
type Holding struct {
	UserID       uuid.UUID
	TargetID     uuid.UUID
	TargetName   string
	CurrentValue decimal.Decimal
	TokenPrice   decimal.Decimal
}
