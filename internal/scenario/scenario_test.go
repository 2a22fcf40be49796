package scenario

import (
	"errors"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalog_Sample(t *testing.T) {
	t.Run("empty table", func(t *testing.T) {
		_, err := NewCatalog(nil)
		assert.ErrorIs(t, err, ErrConfiguration)

		var c *Catalog
		_, err = c.Sample(rand.New(rand.NewPCG(1, 2)))
		assert.ErrorIs(t, err, ErrConfiguration)
	})

	t.Run("draws only configured rows", func(t *testing.T) {
		c := Default()
		rng := rand.New(rand.NewPCG(42, 0))
		seen := map[Scenario]int{}
		for i := 0; i < 5000; i++ {
			s, err := c.Sample(rng)
			require.NoError(t, err)
			seen[s]++
		}
		assert.Len(t, seen, len(ArticleTable))
		for _, s := range ArticleTable {
			assert.Greater(t, seen[s], 0, s.String())
		}
	})

	t.Run("same seed same sequence", func(t *testing.T) {
		c := Default()
		a := rand.New(rand.NewPCG(7, 7))
		b := rand.New(rand.NewPCG(7, 7))
		for i := 0; i < 100; i++ {
			sa, _ := c.Sample(a)
			sb, _ := c.Sample(b)
			assert.Equal(t, sa, sb)
		}
	})
}

func TestScenario_Validate(t *testing.T) {
	base := Scenario{Tier: TierLow, PriceMin: 10, PriceMax: 20, Budget: 100, CPATarget: 5}
	assert.NoError(t, base.Validate())
	assert.Equal(t, 15.0, base.Midpoint())

	cases := map[string]func(*Scenario){
		"inverted band": func(s *Scenario) { s.PriceMin, s.PriceMax = 20, 10 },
		"equal band":    func(s *Scenario) { s.PriceMax = s.PriceMin },
		"zero budget":   func(s *Scenario) { s.Budget = 0 },
		"zero cpa":      func(s *Scenario) { s.CPATarget = 0 },
		"bad tier":      func(s *Scenario) { s.Tier = "Mid Ticket" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			s := base
			mutate(&s)
			assert.ErrorIs(t, s.Validate(), ErrConfiguration)
		})
	}
}

func TestParseTier(t *testing.T) {
	tier, err := ParseTier("high")
	require.NoError(t, err)
	assert.Equal(t, TierHigh, tier)
	tier, err = ParseTier("Low Ticket")
	require.NoError(t, err)
	assert.Equal(t, TierLow, tier)
	_, err = ParseTier("vip")
	assert.True(t, errors.Is(err, ErrConfiguration))
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "scenarios.yaml")
	require.NoError(t, os.WriteFile(good, []byte(`scenarios:
  - tier: Low Ticket
    price_min: 10
    price_max: 20
    budget: 100
    cpa_target: 5
`), 0o644))
	c, err := LoadFile(good)
	require.NoError(t, err)
	assert.Equal(t, 1, c.Len())

	unknown := filepath.Join(dir, "unknown.yaml")
	require.NoError(t, os.WriteFile(unknown, []byte(`scenarios:
  - tier: Low Ticket
    price_min: 10
    price_max: 20
    budget: 100
    cpa_target: 5
    colour: red
`), 0o644))
	_, err = LoadFile(unknown)
	assert.ErrorIs(t, err, ErrConfiguration)

	empty := filepath.Join(dir, "empty.yaml")
	require.NoError(t, os.WriteFile(empty, []byte("scenarios: []\n"), 0o644))
	_, err = LoadFile(empty)
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestFromMarket(t *testing.T) {
	doc := MarketDocument{
		LowTicketRange:  Range{Min: 10, Max: 100},
		HighTicketRange: Range{Min: 500, Max: 5000},
		BudgetRange:     Range{Min: 100, Max: 10000},
		CPARatioRange:   [2]float64{0.2, 0.4},
	}
	c, err := FromMarket(doc)
	require.NoError(t, err)
	list := c.Scenarios()
	require.Len(t, list, 18)

	first := list[0]
	assert.Equal(t, TierLow, first.Tier)
	assert.InDelta(t, 10.0, first.PriceMin, 1e-9)
	assert.InDelta(t, 40.0, first.PriceMax, 1e-9)
	assert.InDelta(t, 100.0, first.Budget, 1e-9)
	assert.InDelta(t, 25*0.3, first.CPATarget, 1e-9)
	assert.InDelta(t, 1000.0, list[1].Budget, 1e-9)
	assert.InDelta(t, 10000.0, list[2].Budget, 1e-9)

	last := list[len(list)-1]
	assert.Equal(t, TierHigh, last.Tier)
	assert.Equal(t, 5000.0, last.PriceMax)

	t.Run("default cpa ratio", func(t *testing.T) {
		d := doc
		d.CPARatioRange = [2]float64{}
		c, err := FromMarket(d)
		require.NoError(t, err)
		assert.InDelta(t, 25*0.325, c.Scenarios()[0].CPATarget, 1e-9)
	})

	t.Run("invalid ranges", func(t *testing.T) {
		d := doc
		d.LowTicketRange = Range{Min: 50, Max: 50}
		_, err := FromMarket(d)
		assert.ErrorIs(t, err, ErrConfiguration)

		d = doc
		d.CPARatioRange = [2]float64{0.5, 0.3}
		_, err = FromMarket(d)
		assert.ErrorIs(t, err, ErrConfiguration)
	})
}
