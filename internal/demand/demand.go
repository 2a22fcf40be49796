// Package demand is the closed-form economic model: sampled price and
// acquisition cost, conversion volume, and the two reward regimes.
package demand

import (
	"math"
	"math/rand/v2"

	"github.com/raphalvezz/loocac/internal/scenario"
)

const (
	// DecayRate is the exponential conversion loss per currency unit above the midpoint.
	DecayRate = 0.05
	// ReferenceBudget yields a baseline of BaseConversions.
	ReferenceBudget = 1000.0
	BaseConversions = 100.0

	costNoiseLow  = 0.9
	costNoiseHigh = 1.1

	baseChurn     = 0.1
	churnPerPrice = 1.0 / 1000
)

func uniform(rng *rand.Rand, lo, hi float64) float64 {
	return lo + (hi-lo)*rng.Float64()
}

// SamplePriceAndCost draws price ~ U[price_min, price_max] and an
// acquisition cost within ±10% of the scenario's CPA target.
func SamplePriceAndCost(s scenario.Scenario, rng *rand.Rand) (price, cost float64) {
	price = uniform(rng, s.PriceMin, s.PriceMax)
	cost = math.Max(0, s.CPATarget*uniform(rng, costNoiseLow, costNoiseHigh))
	return price, cost
}

// Baseline is the conversion volume at or below the reference price.
func Baseline(budget float64) float64 {
	if budget <= 0 {
		return 0
	}
	return BaseConversions * math.Log1p(budget) / math.Log1p(ReferenceBudget)
}

// Conversions is flat up to the band midpoint and decays exponentially above it.
func Conversions(s scenario.Scenario, price float64) float64 {
	base := Baseline(s.Budget)
	mid := s.Midpoint()
	conv := base
	if price > mid {
		conv = base * math.Exp(-DecayRate*(price-mid))
	}
	return math.Max(0, conv)
}

// OneShotReward is the immediate profit of a single sale at price with the given cost.
func OneShotReward(s scenario.Scenario, price, cost float64) float64 {
	return math.Max(0, Conversions(s, price)*(price-cost))
}

// ChurnRate rises linearly with price.
func ChurnRate(price float64) float64 {
	return baseChurn + price*churnPerPrice
}

// LifetimeValueReward is price over churn less the acquisition cost, floored at 0.
func LifetimeValueReward(price, cost float64) float64 {
	churn := ChurnRate(price)
	if churn <= 0 {
		return 0
	}
	return math.Max(0, price/churn-cost)
}

// ExpectedProfit evaluates the one-shot reward at the noise-free CPA target.
func ExpectedProfit(s scenario.Scenario, price float64) float64 {
	return OneShotReward(s, price, s.CPATarget)
}

// AnalyticOptimum returns the price in [price_min, price_max] that maximises
// ExpectedProfit. Below the midpoint profit rises with price; above it the
// curve B·e^{-k(p-m)}·(p-c) peaks at p = c + 1/k.
func AnalyticOptimum(s scenario.Scenario) (price, profit float64) {
	mid := s.Midpoint()
	price = s.CPATarget + 1/DecayRate
	if price < mid {
		price = mid
	}
	if price > s.PriceMax {
		price = s.PriceMax
	}
	return price, ExpectedProfit(s, price)
}
