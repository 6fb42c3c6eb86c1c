package drip

import (
	"github.com/google/uuid"

	"github.com/simaogato/autoinvest-backend/internal/domain"
)

// Mode is where a distribution ends up
type Mode string

const (
	ModeCash   Mode = "cash"   // Paid out, not reinvested
	ModeSingle Mode = "single" // Reinvested into TargetID
	ModeSpread Mode = "spread" // Spread across holdings weighted by current value
	ModeCustom Mode = "custom" // Split across Allocations
)

// Reasons a distribution is paid out as cash
const (
	CashReasonDisabled         = "drip_disabled"
	CashReasonCategoryDisabled = "category_disabled"
	CashReasonHoldingDisabled  = "holding_disabled"
)

// Decision is the outcome of resolving one distribution against DRIP settings
type Decision struct {
	Mode        Mode
	CashReason  string // Set when Mode is cash
	TargetID    uuid.UUID
	Allocations []domain.DRIPCustomAllocation
}

// Reinvests reports whether the distribution is reinvested at all
func (d Decision) Reinvests() bool {
	return d.Mode != ModeCash
}

// Resolve decides where a distribution goes. Rules apply in order:
//
//  1. Global and per-category gate. Missing settings mean DRIP is disabled.
//  2. Per-holding override of the source holding. A disabled override pays cash,
//     a reinvest_to target redirects the distribution there.
//  3. The global drip_type: same_property reinvests into the source holding,
//     spread_portfolio spreads across holdings, custom uses the allocation list.
//
// Resolve is pure. A custom strategy without allocations is a *domain.ConfigurationError.
func Resolve(
	event domain.DistributionEvent,
	settings *domain.DRIPSettings,
	overrides []domain.DRIPPropertySetting,
	custom []domain.DRIPCustomAllocation,
) (Decision, error) {
	if settings == nil || !settings.IsEnabled {
		return Decision{Mode: ModeCash, CashReason: CashReasonDisabled}, nil
	}
	if !settings.ReinvestsCategory(event.Category) {
		return Decision{Mode: ModeCash, CashReason: CashReasonCategoryDisabled}, nil
	}

	for _, o := range overrides {
		if o.HoldingID != event.SourceHoldingID {
			continue
		}
		if !o.IsEnabled {
			return Decision{Mode: ModeCash, CashReason: CashReasonHoldingDisabled}, nil
		}
		if o.ReinvestTo != nil {
			return Decision{Mode: ModeSingle, TargetID: *o.ReinvestTo}, nil
		}
		// Enabled without a redirect falls through to the global strategy
		break
	}

	switch settings.DripType {
	case domain.DRIPTypeSameProperty:
		return Decision{Mode: ModeSingle, TargetID: event.SourceHoldingID}, nil
	case domain.DRIPTypeSpreadPortfolio:
		return Decision{Mode: ModeSpread}, nil
	case domain.DRIPTypeCustom:
		if len(custom) == 0 {
			return Decision{}, &domain.ConfigurationError{Message: "custom DRIP strategy has no allocations"}
		}
		return Decision{Mode: ModeCustom, Allocations: custom}, nil
	}

	return Decision{}, &domain.ConfigurationError{Message: "unknown drip_type " + string(settings.DripType)}
}
