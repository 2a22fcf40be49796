package risk

import (
	"context"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphalvezz/loocac/internal/generator"
	"github.com/raphalvezz/loocac/internal/scenario"
)

func TestPercentile(t *testing.T) {
	values := []float64{4, 1, 3, 2, 5}
	cases := []struct {
		q    float64
		want float64
	}{
		{0, 1}, {5, 1.2}, {25, 2}, {50, 3}, {90, 4.6}, {100, 5},
	}
	for _, tc := range cases {
		got, err := Percentile(values, tc.q)
		require.NoError(t, err)
		assert.InDelta(t, tc.want, got, 1e-12, "q=%v", tc.q)
	}
	single, err := Percentile([]float64{7}, 5)
	require.NoError(t, err)
	assert.Equal(t, 7.0, single)

	_, err = Percentile(nil, 5)
	assert.ErrorIs(t, err, ErrEmptySample)
}

func TestTail(t *testing.T) {
	t.Run("interpolated var", func(t *testing.T) {
		s, err := Tail([]float64{10, 20, 30, 40, 50}, 5)
		require.NoError(t, err)
		assert.InDelta(t, 12.0, s.VaR, 1e-12)
		assert.InDelta(t, 10.0, s.CVaR, 1e-12)
		assert.InDelta(t, 30.0, s.Mean, 1e-12)
	})
	t.Run("degenerate sample", func(t *testing.T) {
		s, err := Tail([]float64{3, 3, 3}, 5)
		require.NoError(t, err)
		assert.Equal(t, 3.0, s.VaR)
		assert.Equal(t, 3.0, s.CVaR)
	})
	t.Run("non finite", func(t *testing.T) {
		_, err := Tail([]float64{1, nan()}, 5)
		assert.ErrorIs(t, err, ErrNonFinite)
	})
}

func nan() float64 {
	var zero float64
	return zero / zero
}

func TestTailProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 300
	properties := gopter.NewProperties(parameters)

	properties.Property("cvar <= var and var within sample range", prop.ForAll(
		func(values []float64) bool {
			if len(values) == 0 {
				return true
			}
			s, err := Tail(values, DefaultLevel)
			if err != nil {
				return false
			}
			lo, hi := values[0], values[0]
			for _, v := range values {
				lo = min(lo, v)
				hi = max(hi, v)
			}
			return s.CVaR <= s.VaR && s.VaR >= lo && s.VaR <= hi
		},
		gen.SliceOf(gen.Float64Range(-1e6, 1e6)),
	))

	properties.TestingRun(t)
}

func TestTail_HighTicketScenario(t *testing.T) {
	sc := scenario.Scenario{Tier: scenario.TierHigh, PriceMin: 2000, PriceMax: 5000, Budget: 50000, CPATarget: 900}
	cat, err := scenario.NewCatalog([]scenario.Scenario{sc})
	require.NoError(t, err)
	g, err := generator.New(cat, generator.Options{SamplesPerScenario: 5000, Seed: 42})
	require.NoError(t, err)
	ds, err := g.Generate(context.Background())
	require.NoError(t, err)

	for _, set := range [][]generator.Transition{ds.OneShot, ds.Subscription} {
		rewards := make([]float64, len(set))
		for i, tr := range set {
			rewards[i] = tr.Reward
		}
		quantiles := make([]float64, 51)
		for i := range quantiles {
			quantiles[i], err = Percentile(rewards, float64(i)*2)
			require.NoError(t, err)
		}
		s, err := Tail(quantiles, DefaultLevel)
		require.NoError(t, err)
		assert.LessOrEqual(t, s.VaR, s.Mean)
		assert.LessOrEqual(t, s.CVaR, s.VaR)
	}
}
