package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrNotFound is returned by repositories when the requested row does not exist
var ErrNotFound = errors.New("not found")

// Failure reasons recorded on executions and execution details
const (
	FailureInsufficientFunds = "insufficient_funds"
	FailureTargetFailed      = "target_failed"
	FailureAllTargetsFailed  = "all_targets_failed"
	FailureNoTradeResult     = "no_trade_result"
)

// ValidationError reports malformed input. Field names the offending input field when known.
// Err optionally carries a more specific cause, e.g. an *InvalidAllocationError.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError creates a field-level validation error
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// InvalidAllocationError is returned when allocation percents are out of range
// or do not sum to 100
type InvalidAllocationError struct {
	Sum    decimal.Decimal
	Reason string
}

func (e *InvalidAllocationError) Error() string {
	if e.Reason != "" {
		return "invalid allocation: " + e.Reason
	}
	return fmt.Sprintf("invalid allocation: percents sum to %s, expected 100", e.Sum.String())
}

// ConfigurationError reports settings that cannot be acted on, e.g. a custom DRIP
// strategy without an allocation list.
type ConfigurationError struct {
	Message string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Message
}

// InsufficientFundsError describes a shortfall at execution time.
// It is consumed by the insufficient-funds policy and never returned to callers.
type InsufficientFundsError struct {
	Required  decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: required %s, available %s", e.Required.String(), e.Available.String())
}

// ConcurrencyError is returned when a conflicting concurrent update was detected.
// Callers should retry the whole operation from a fresh read.
type ConcurrencyError struct {
	Resource string
	ID       string
}

func (e *ConcurrencyError) Error() string {
	return fmt.Sprintf("concurrent update detected on %s %s", e.Resource, e.ID)
}
