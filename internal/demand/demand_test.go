package demand

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"

	"github.com/raphalvezz/loocac/internal/scenario"
)

func genScenario() gopter.Gen {
	return gopter.CombineGens(
		gen.Float64Range(0, 5000),
		gen.Float64Range(1, 5000),
		gen.Float64Range(1, 1e6),
		gen.Float64Range(0.5, 2000),
	).Map(func(v []interface{}) scenario.Scenario {
		lo := v[0].(float64)
		return scenario.Scenario{
			Tier:      scenario.TierLow,
			PriceMin:  lo,
			PriceMax:  lo + v[1].(float64),
			Budget:    v[2].(float64),
			CPATarget: v[3].(float64),
		}
	})
}

func TestDemandProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("sampled price stays in band and cost in noise band", prop.ForAll(
		func(s scenario.Scenario, seed uint64) bool {
			rng := rand.New(rand.NewPCG(seed, 0))
			for i := 0; i < 50; i++ {
				price, cost := SamplePriceAndCost(s, rng)
				if price < s.PriceMin || price > s.PriceMax {
					return false
				}
				if cost < s.CPATarget*0.9-1e-9 || cost > s.CPATarget*1.1+1e-9 || cost < 0 {
					return false
				}
			}
			return true
		},
		genScenario(), gen.UInt64(),
	))

	properties.Property("conversions are never negative", prop.ForAll(
		func(s scenario.Scenario, price float64) bool {
			return Conversions(s, price) >= 0
		},
		genScenario(), gen.Float64Range(-1e5, 1e5),
	))

	properties.Property("midpoint price yields the baseline", prop.ForAll(
		func(s scenario.Scenario) bool {
			return Conversions(s, s.Midpoint()) == Baseline(s.Budget)
		},
		genScenario(),
	))

	properties.Property("conversions strictly decrease above the midpoint", prop.ForAll(
		func(s scenario.Scenario, above, gap float64) bool {
			p1 := s.Midpoint() + above
			p2 := p1 + gap
			return Conversions(s, p2) < Conversions(s, p1)
		},
		genScenario(), gen.Float64Range(0.01, 200), gen.Float64Range(0.01, 100),
	))

	properties.Property("rewards are never negative", prop.ForAll(
		func(s scenario.Scenario, seed uint64) bool {
			rng := rand.New(rand.NewPCG(seed, 1))
			price, cost := SamplePriceAndCost(s, rng)
			return OneShotReward(s, price, cost) >= 0 && LifetimeValueReward(price, cost) >= 0
		},
		genScenario(), gen.UInt64(),
	))

	properties.Property("analytic optimum beats a price grid", prop.ForAll(
		func(s scenario.Scenario) bool {
			best, profit := AnalyticOptimum(s)
			if best < s.PriceMin || best > s.PriceMax {
				return false
			}
			const steps = 400
			for i := 0; i <= steps; i++ {
				p := s.PriceMin + (s.PriceMax-s.PriceMin)*float64(i)/steps
				if ExpectedProfit(s, p) > profit*(1+1e-9)+1e-9 {
					return false
				}
			}
			return true
		},
		genScenario(),
	))

	properties.TestingRun(t)
}

func TestBaseline(t *testing.T) {
	assert.InDelta(t, 100.0, Baseline(1000), 1e-9)
	assert.Less(t, Baseline(100), Baseline(1000))
	assert.Equal(t, 0.0, Baseline(0))
}

func TestConversions_FlatBelowMidpoint(t *testing.T) {
	s := scenario.Scenario{Tier: scenario.TierLow, PriceMin: 10, PriceMax: 20, Budget: 100, CPATarget: 5}
	base := Baseline(s.Budget)
	assert.Equal(t, base, Conversions(s, 10))
	assert.Equal(t, base, Conversions(s, 15))
	assert.InDelta(t, base*math.Exp(-0.25), Conversions(s, 20), 1e-12)
}

func TestLifetimeValueReward(t *testing.T) {
	assert.InDelta(t, 0.2, ChurnRate(100), 1e-12)
	assert.InDelta(t, 100/0.2-50, LifetimeValueReward(100, 50), 1e-9)
	assert.Equal(t, 0.0, LifetimeValueReward(1, 1000))
}

func TestAnalyticOptimum(t *testing.T) {
	t.Run("peak inside band", func(t *testing.T) {
		s := scenario.Scenario{Tier: scenario.TierLow, PriceMin: 50, PriceMax: 100, Budget: 1000, CPATarget: 70}
		price, _ := AnalyticOptimum(s)
		assert.InDelta(t, 90.0, price, 1e-9)
	})
	t.Run("clamped to midpoint", func(t *testing.T) {
		s := scenario.Scenario{Tier: scenario.TierHigh, PriceMin: 2000, PriceMax: 5000, Budget: 50000, CPATarget: 900}
		price, profit := AnalyticOptimum(s)
		assert.InDelta(t, 3500.0, price, 1e-9)
		assert.InDelta(t, Baseline(50000)*(3500-900), profit, 1e-6)
	})
	t.Run("clamped to band max", func(t *testing.T) {
		s := scenario.Scenario{Tier: scenario.TierLow, PriceMin: 10, PriceMax: 20, Budget: 100, CPATarget: 5}
		price, _ := AnalyticOptimum(s)
		assert.InDelta(t, 20.0, price, 1e-9)
	})
}
