package scenario

import (
	"fmt"
	"math"
)

// Range is a closed numeric interval.
type Range struct {
	Min float64 `json:"min" yaml:"min" mapstructure:"min"`
	Max float64 `json:"max" yaml:"max" mapstructure:"max"`
}

func (r Range) Mid() float64 { return (r.Min + r.Max) / 2 }

// MarketDocument is the configurator's market description.
type MarketDocument struct {
	LowTicketRange  Range      `json:"low_ticket_range" yaml:"low_ticket_range" mapstructure:"low_ticket_range"`
	HighTicketRange Range      `json:"high_ticket_range" yaml:"high_ticket_range" mapstructure:"high_ticket_range"`
	BudgetRange     Range      `json:"budget_range" yaml:"budget_range" mapstructure:"budget_range"`
	CPARatioRange   [2]float64 `json:"cpa_ratio_range" yaml:"cpa_ratio_range" mapstructure:"cpa_ratio_range"`
}

// DefaultCPARatio is used when the document leaves cpa_ratio_range empty.
var DefaultCPARatio = [2]float64{0.20, 0.45}

const bandsPerTier = 3

func (d MarketDocument) Validate() error {
	check := func(name string, r Range) error {
		if math.IsNaN(r.Min) || math.IsNaN(r.Max) || r.Min < 0 || r.Min >= r.Max {
			return fmt.Errorf("%w: %s must satisfy 0 <= min < max (got %g..%g)", ErrConfiguration, name, r.Min, r.Max)
		}
		return nil
	}
	if err := check("low_ticket_range", d.LowTicketRange); err != nil {
		return err
	}
	if err := check("high_ticket_range", d.HighTicketRange); err != nil {
		return err
	}
	if err := check("budget_range", d.BudgetRange); err != nil {
		return err
	}
	if d.BudgetRange.Min <= 0 {
		return fmt.Errorf("%w: budget_range.min must be > 0", ErrConfiguration)
	}
	ratio := d.cpaRatio()
	if ratio[0] <= 0 || ratio[0] > ratio[1] || ratio[1] >= 1 {
		return fmt.Errorf("%w: cpa_ratio_range must satisfy 0 < min <= max < 1 (got %v)", ErrConfiguration, ratio)
	}
	return nil
}

func (d MarketDocument) cpaRatio() [2]float64 {
	if d.CPARatioRange == [2]float64{} {
		return DefaultCPARatio
	}
	return d.CPARatioRange
}

// FromMarket derives a catalog from a market document: each tier's price
// range is split into equal bands, each band is crossed with the low,
// geometric-mid and high budget, and the CPA target is the band midpoint
// times the mean CPA ratio.
func FromMarket(doc MarketDocument) (*Catalog, error) {
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	ratio := doc.cpaRatio()
	meanRatio := (ratio[0] + ratio[1]) / 2
	budgets := []float64{
		doc.BudgetRange.Min,
		math.Sqrt(doc.BudgetRange.Min * doc.BudgetRange.Max),
		doc.BudgetRange.Max,
	}
	var list []Scenario
	for _, tier := range []struct {
		tier Tier
		r    Range
	}{
		{TierLow, doc.LowTicketRange},
		{TierHigh, doc.HighTicketRange},
	} {
		width := (tier.r.Max - tier.r.Min) / bandsPerTier
		for b := 0; b < bandsPerTier; b++ {
			lo := tier.r.Min + float64(b)*width
			hi := lo + width
			if b == bandsPerTier-1 {
				hi = tier.r.Max
			}
			for _, budget := range budgets {
				list = append(list, Scenario{
					Tier:      tier.tier,
					PriceMin:  lo,
					PriceMax:  hi,
					Budget:    budget,
					CPATarget: (lo + hi) / 2 * meanRatio,
				})
			}
		}
	}
	return NewCatalog(list)
}
