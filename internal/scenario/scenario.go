// Package scenario holds the table of market regimes a generation run samples from.
package scenario

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrConfiguration is returned for an empty or invalid scenario table.
var ErrConfiguration = errors.New("scenario configuration error")

// Tier is the coarse price segment a scenario belongs to.
type Tier string

const (
	TierLow  Tier = "Low Ticket"
	TierHigh Tier = "High Ticket"
)

// ParseTier accepts the canonical labels plus the short aliases "low"/"high".
func ParseTier(raw string) (Tier, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "low ticket", "low", "low_ticket":
		return TierLow, nil
	case "high ticket", "high", "high_ticket":
		return TierHigh, nil
	default:
		return "", fmt.Errorf("%w: unknown tier %q", ErrConfiguration, raw)
	}
}

// Scenario is one immutable market regime.
type Scenario struct {
	Tier      Tier    `yaml:"tier" json:"tier"`
	PriceMin  float64 `yaml:"price_min" json:"price_min"`
	PriceMax  float64 `yaml:"price_max" json:"price_max"`
	Budget    float64 `yaml:"budget" json:"budget"`
	CPATarget float64 `yaml:"cpa_target" json:"cpa_target"`
}

// Midpoint is the reference price of the band.
func (s Scenario) Midpoint() float64 {
	return (s.PriceMin + s.PriceMax) / 2
}

func (s Scenario) Validate() error {
	if s.Tier != TierLow && s.Tier != TierHigh {
		return fmt.Errorf("%w: unknown tier %q", ErrConfiguration, s.Tier)
	}
	for name, v := range map[string]float64{
		"price_min": s.PriceMin, "price_max": s.PriceMax,
		"budget": s.Budget, "cpa_target": s.CPATarget,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s is not finite", ErrConfiguration, name)
		}
	}
	if s.PriceMin < 0 {
		return fmt.Errorf("%w: price_min must be >= 0 (got %g)", ErrConfiguration, s.PriceMin)
	}
	if s.PriceMin >= s.PriceMax {
		return fmt.Errorf("%w: price_min (%g) must be < price_max (%g)", ErrConfiguration, s.PriceMin, s.PriceMax)
	}
	if s.Budget <= 0 {
		return fmt.Errorf("%w: budget must be > 0 (got %g)", ErrConfiguration, s.Budget)
	}
	if s.CPATarget <= 0 {
		return fmt.Errorf("%w: cpa_target must be > 0 (got %g)", ErrConfiguration, s.CPATarget)
	}
	return nil
}

func (s Scenario) String() string {
	return fmt.Sprintf("%s [%g,%g] budget=%g cpa=%g", s.Tier, s.PriceMin, s.PriceMax, s.Budget, s.CPATarget)
}

// ArticleTable is the built-in table of twelve regimes. Low Ticket rows aim
// for a CPA around 25-30% of the mid price, High Ticket rows 15-25%.
var ArticleTable = []Scenario{
	{Tier: TierLow, PriceMin: 10, PriceMax: 20, Budget: 100, CPATarget: 5},
	{Tier: TierLow, PriceMin: 50, PriceMax: 100, Budget: 200, CPATarget: 20},
	{Tier: TierLow, PriceMin: 20, PriceMax: 50, Budget: 1000, CPATarget: 10},
	{Tier: TierLow, PriceMin: 50, PriceMax: 100, Budget: 1000, CPATarget: 22},
	{Tier: TierLow, PriceMin: 20, PriceMax: 50, Budget: 10000, CPATarget: 12},
	{Tier: TierLow, PriceMin: 50, PriceMax: 100, Budget: 10000, CPATarget: 25},
	{Tier: TierHigh, PriceMin: 500, PriceMax: 1000, Budget: 2000, CPATarget: 150},
	{Tier: TierHigh, PriceMin: 1000, PriceMax: 2000, Budget: 5000, CPATarget: 350},
	{Tier: TierHigh, PriceMin: 2000, PriceMax: 5000, Budget: 10000, CPATarget: 800},
	{Tier: TierHigh, PriceMin: 2000, PriceMax: 5000, Budget: 50000, CPATarget: 900},
	{Tier: TierHigh, PriceMin: 5000, PriceMax: 10000, Budget: 100000, CPATarget: 1800},
	{Tier: TierHigh, PriceMin: 10000, PriceMax: 25000, Budget: 200000, CPATarget: 4000},
}
