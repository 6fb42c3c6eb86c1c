package drip

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/simaogato/autoinvest-backend/internal/domain"
	"github.com/simaogato/autoinvest-backend/internal/usecase/allocator"
)

// DefaultMinimumReinvestAmount applies to users that never saved settings
var DefaultMinimumReinvestAmount = decimal.NewFromInt(10)

// Reinvestment is an amount released for purchase of one target
type Reinvestment struct {
	TargetID uuid.UUID
	Amount   decimal.Decimal // Includes previously accrued amounts
}

// Result describes what happened to one distribution
type Result struct {
	EventID       uuid.UUID
	Decision      Decision
	CashAmount    decimal.Decimal
	Reinvestments []Reinvestment
	Accrued       []domain.ReinvestAccrual // Buckets still below the threshold after this event
	Replayed      bool                     // The event was processed before; nothing was accrued again
}

// Service applies DRIP settings to distributions and manages the settings themselves
type Service struct {
	Repo     domain.DripRepository
	Holdings domain.HoldingRepository
	Tx       domain.Transactor
	Locker   domain.Locker
	log      zerolog.Logger
}

// NewService creates a new DRIP Service instance
func NewService(repo domain.DripRepository, holdings domain.HoldingRepository, tx domain.Transactor, locker domain.Locker, log zerolog.Logger) *Service {
	return &Service{
		Repo:     repo,
		Holdings: holdings,
		Tx:       tx,
		Locker:   locker,
		log:      log.With().Str("service", "drip").Logger(),
	}
}

// ProcessDistribution resolves where a distribution goes, splits it across targets and
// runs every split through the user's accrual buckets. A bucket that reaches the
// minimum reinvest amount is released in full and reset to zero.
//
// All bucket changes and the processed-event record commit together. An event that was
// already processed returns its stored outcome with Replayed set.
func (s *Service) ProcessDistribution(ctx context.Context, event domain.DistributionEvent) (*Result, error) {
	if err := event.Validate(); err != nil {
		return nil, err
	}

	release, err := s.Locker.Obtain(ctx, "drip:"+event.UserID.String())
	if err != nil {
		return nil, err
	}
	defer release()

	var result *Result
	err = s.Tx.WithinTx(ctx, func(ctx context.Context) error {
		processed, err := s.Repo.GetProcessedDistribution(ctx, event.ID)
		switch {
		case err == nil:
			if processed.UserID != event.UserID {
				return domain.NewValidationError("event_id", "event "+event.ID.String()+" belongs to another user")
			}
			result = replayedResult(processed)
			return nil
		case !errors.Is(err, domain.ErrNotFound):
			return fmt.Errorf("failed to get processed distribution: %w", err)
		}

		result, err = s.process(ctx, event)
		if err != nil {
			return err
		}

		if err := s.Repo.SaveProcessedDistribution(ctx, processedRecord(event, result)); err != nil {
			return fmt.Errorf("failed to record distribution %s: %w", event.ID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Replayed {
		s.log.Info().Str("event_id", event.ID.String()).Msg("Distribution already processed")
		return result, nil
	}

	s.log.Info().
		Str("event_id", event.ID.String()).
		Str("mode", string(result.Decision.Mode)).
		Int("reinvestments", len(result.Reinvestments)).
		Int("accrued", len(result.Accrued)).
		Msg("Distribution processed")

	return result, nil
}

func (s *Service) process(ctx context.Context, event domain.DistributionEvent) (*Result, error) {
	settings, err := s.loadSettings(ctx, event.UserID)
	if err != nil {
		return nil, err
	}

	var overrides []domain.DRIPPropertySetting
	var custom []domain.DRIPCustomAllocation
	if settings != nil && settings.IsEnabled {
		overrides, err = s.Repo.ListPropertySettings(ctx, event.UserID)
		if err != nil {
			return nil, fmt.Errorf("failed to list property settings: %w", err)
		}
		if settings.DripType == domain.DRIPTypeCustom {
			custom, err = s.Repo.ListCustomAllocations(ctx, event.UserID)
			if err != nil {
				return nil, fmt.Errorf("failed to list custom allocations: %w", err)
			}
		}
	}

	decision, err := Resolve(event, settings, overrides, custom)
	if err != nil {
		return nil, err
	}

	result := &Result{EventID: event.ID, Decision: decision, CashAmount: decimal.Zero}
	if !decision.Reinvests() {
		result.CashAmount = event.Amount
		s.log.Debug().
			Str("event_id", event.ID.String()).
			Str("reason", decision.CashReason).
			Msg("Distribution paid as cash")
		return result, nil
	}

	shares, err := s.split(ctx, event, decision)
	if err != nil {
		return nil, err
	}

	for _, share := range shares {
		if share.Amount.IsZero() {
			continue
		}
		targetID := *share.Target.ID

		total, err := s.Repo.AddAccrual(ctx, event.UserID, targetID, share.Amount)
		if err != nil {
			return nil, fmt.Errorf("failed to accrue %s: %w", targetID, err)
		}

		if total.LessThan(settings.MinimumReinvestAmount) {
			result.Accrued = append(result.Accrued, domain.ReinvestAccrual{
				UserID:    event.UserID,
				TargetID:  targetID,
				Amount:    total,
				UpdatedAt: event.OccurredAt,
			})
			continue
		}

		if err := s.Repo.ReleaseAccrual(ctx, event.UserID, targetID, total); err != nil {
			return nil, fmt.Errorf("failed to release accrual %s: %w", targetID, err)
		}
		result.Reinvestments = append(result.Reinvestments, Reinvestment{TargetID: targetID, Amount: total})
	}

	return result, nil
}

func processedRecord(event domain.DistributionEvent, result *Result) *domain.ProcessedDistribution {
	releases := make([]domain.DistributionRelease, 0, len(result.Reinvestments))
	for _, r := range result.Reinvestments {
		releases = append(releases, domain.DistributionRelease{TargetID: r.TargetID, Amount: r.Amount})
	}
	return &domain.ProcessedDistribution{
		EventID:     event.ID,
		UserID:      event.UserID,
		Mode:        string(result.Decision.Mode),
		CashReason:  result.Decision.CashReason,
		CashAmount:  result.CashAmount,
		Releases:    releases,
		ProcessedAt: event.OccurredAt,
	}
}

func replayedResult(processed *domain.ProcessedDistribution) *Result {
	result := &Result{
		EventID:    processed.EventID,
		Decision:   Decision{Mode: Mode(processed.Mode), CashReason: processed.CashReason},
		CashAmount: processed.CashAmount,
		Replayed:   true,
	}
	for _, r := range processed.Releases {
		result.Reinvestments = append(result.Reinvestments, Reinvestment{TargetID: r.TargetID, Amount: r.Amount})
	}
	return result
}

func (s *Service) split(ctx context.Context, event domain.DistributionEvent, decision Decision) ([]allocator.Share, error) {
	var targets []allocator.Target

	switch decision.Mode {
	case ModeSingle:
		targets = []allocator.Target{propertyTarget(decision.TargetID, hundred)}

	case ModeSpread:
		weights, err := s.valueWeights(ctx, event.UserID)
		if err != nil {
			return nil, err
		}
		if len(weights) == 0 {
			s.log.Debug().Str("event_id", event.ID.String()).Msg("No valued holdings, reinvesting into source")
			weights = []allocator.Target{propertyTarget(event.SourceHoldingID, hundred)}
		}
		targets = weights

	case ModeCustom:
		for _, a := range decision.Allocations {
			targets = append(targets, propertyTarget(a.TargetID, a.Percent))
		}
	}

	shares, err := allocator.Allocate(event.Amount, targets)
	if err != nil {
		var aErr *domain.InvalidAllocationError
		if errors.As(err, &aErr) {
			return nil, &domain.ConfigurationError{Message: aErr.Error()}
		}
		return nil, err
	}
	return shares, nil
}

// valueWeights returns one target per holding with a positive value, weighted by its
// share of the user's total holding value
func (s *Service) valueWeights(ctx context.Context, userID uuid.UUID) ([]allocator.Target, error) {
	holdings, err := s.Holdings.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list holdings: %w", err)
	}

	total := decimal.Zero
	for _, h := range holdings {
		if h.CurrentValue.GreaterThan(decimal.Zero) {
			total = total.Add(h.CurrentValue)
		}
	}
	if total.IsZero() {
		return nil, nil
	}

	var targets []allocator.Target
	for _, h := range holdings {
		if h.CurrentValue.LessThanOrEqual(decimal.Zero) {
			continue
		}
		percent := h.CurrentValue.Mul(hundred).Div(total)
		if percent.IsZero() {
			// Too small to carry any weight at decimal division precision
			continue
		}
		targets = append(targets, propertyTarget(h.TargetID, percent))
	}
	return targets, nil
}

var hundred = decimal.NewFromInt(100)

func propertyTarget(id uuid.UUID, percent decimal.Decimal) allocator.Target {
	return allocator.Target{
		Target:  domain.AllocationTarget{Type: domain.TargetTypeProperty, ID: &id},
		Percent: percent,
	}
}

func (s *Service) loadSettings(ctx context.Context, userID uuid.UUID) (*domain.DRIPSettings, error) {
	settings, err := s.Repo.GetSettings(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get drip settings: %w", err)
	}
	return settings, nil
}

// GetSettings returns the user's settings, or disabled defaults when none were saved
func (s *Service) GetSettings(ctx context.Context, userID uuid.UUID) (*domain.DRIPSettings, error) {
	settings, err := s.loadSettings(ctx, userID)
	if err != nil {
		return nil, err
	}
	if settings == nil {
		return DefaultSettings(userID), nil
	}
	return settings, nil
}

// DefaultSettings returns disabled settings for a user
func DefaultSettings(userID uuid.UUID) *domain.DRIPSettings {
	return &domain.DRIPSettings{
		UserID:                  userID,
		IsEnabled:               false,
		ReinvestEquityDividends: true,
		ReinvestDebtInterest:    true,
		DripType:                domain.DRIPTypeSameProperty,
		MinimumReinvestAmount:   DefaultMinimumReinvestAmount,
	}
}

// UpdateSettings validates and saves the global settings of a user
func (s *Service) UpdateSettings(ctx context.Context, settings *domain.DRIPSettings, now time.Time) (*domain.DRIPSettings, error) {
	if settings.UserID == uuid.Nil {
		return nil, domain.NewValidationError("user_id", "user_id is required")
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	settings.UpdatedAt = now
	if err := s.Repo.UpsertSettings(ctx, settings); err != nil {
		return nil, fmt.Errorf("failed to save drip settings: %w", err)
	}

	if settings.DripType == domain.DRIPTypeCustom {
		custom, err := s.Repo.ListCustomAllocations(ctx, settings.UserID)
		if err != nil {
			return nil, fmt.Errorf("failed to list custom allocations: %w", err)
		}
		if len(custom) == 0 {
			s.log.Warn().Str("user_id", settings.UserID.String()).Msg("Custom DRIP strategy saved without allocations")
		}
	}

	s.log.Info().
		Str("user_id", settings.UserID.String()).
		Bool("enabled", settings.IsEnabled).
		Str("drip_type", string(settings.DripType)).
		Msg("DRIP settings updated")

	return settings, nil
}

// SetPropertyOverride saves a per-holding override
func (s *Service) SetPropertyOverride(ctx context.Context, setting *domain.DRIPPropertySetting, now time.Time) error {
	if setting.UserID == uuid.Nil {
		return domain.NewValidationError("user_id", "user_id is required")
	}
	if setting.HoldingID == uuid.Nil {
		return domain.NewValidationError("holding_id", "holding_id is required")
	}
	if setting.ReinvestTo != nil && *setting.ReinvestTo == uuid.Nil {
		return domain.NewValidationError("reinvest_to", "reinvest_to must be a holding id")
	}
	if !setting.IsEnabled && setting.ReinvestTo != nil {
		return domain.NewValidationError("reinvest_to", "reinvest_to cannot be set on a disabled override")
	}

	setting.UpdatedAt = now
	if err := s.Repo.UpsertPropertySetting(ctx, setting); err != nil {
		return fmt.Errorf("failed to save property setting: %w", err)
	}
	return nil
}

// SetCustomAllocations replaces the allocation list of the custom strategy.
// Percents must sum to 100 and each target may appear once.
func (s *Service) SetCustomAllocations(ctx context.Context, userID uuid.UUID, allocations []domain.DRIPCustomAllocation, now time.Time) error {
	if userID == uuid.Nil {
		return domain.NewValidationError("user_id", "user_id is required")
	}

	seen := make(map[uuid.UUID]bool, len(allocations))
	targets := make([]allocator.Target, 0, len(allocations))
	for i := range allocations {
		a := &allocations[i]
		if a.TargetID == uuid.Nil {
			return domain.NewValidationError("target_id", "target_id is required")
		}
		if seen[a.TargetID] {
			return domain.NewValidationError("target_id", "duplicate target "+a.TargetID.String())
		}
		seen[a.TargetID] = true
		a.UserID = userID
		a.UpdatedAt = now
		targets = append(targets, propertyTarget(a.TargetID, a.Percent))
	}

	if err := allocator.ValidatePercents(targets); err != nil {
		return &domain.ValidationError{Field: "allocations", Message: err.Error(), Err: err}
	}

	if err := s.Repo.ReplaceCustomAllocations(ctx, userID, allocations); err != nil {
		return fmt.Errorf("failed to save custom allocations: %w", err)
	}
	return nil
}

// ListAccruals returns the amounts waiting below the minimum reinvest threshold
func (s *Service) ListAccruals(ctx context.Context, userID uuid.UUID) ([]domain.ReinvestAccrual, error) {
	return s.Repo.ListAccruals(ctx, userID)
}
