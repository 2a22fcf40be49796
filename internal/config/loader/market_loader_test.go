package loader

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphalvezz/loocac/internal/scenario"
)

const validDoc = `{
  "low_ticket_range": {"min": 10, "max": 100},
  "high_ticket_range": {"min": 500, "max": 5000},
  "budget_range": {"min": 100, "max": 10000},
  "cpa_ratio_range": [0.2, 0.45]
}`

func TestParseDocument(t *testing.T) {
	doc, err := ParseDocument([]byte(validDoc))
	require.NoError(t, err)
	assert.Equal(t, 100.0, doc.LowTicketRange.Max)
	assert.Equal(t, [2]float64{0.2, 0.45}, doc.CPARatioRange)

	bad := map[string]string{
		"unknown field":  `{"low_ticket_range":{"min":1,"max":2},"high_ticket_range":{"min":3,"max":4},"budget_range":{"min":1,"max":2},"extra":1}`,
		"missing budget": `{"low_ticket_range":{"min":1,"max":2},"high_ticket_range":{"min":3,"max":4}}`,
		"ratio above 1":  `{"low_ticket_range":{"min":1,"max":2},"high_ticket_range":{"min":3,"max":4},"budget_range":{"min":1,"max":2},"cpa_ratio_range":[0.2,1.5]}`,
		"not json":       `{`,
	}
	for name, raw := range bad {
		t.Run(name, func(t *testing.T) {
			_, err := ParseDocument([]byte(raw))
			assert.ErrorIs(t, err, ErrInvalidDocument)
		})
	}

	_, err = ParseDocument([]byte(`{"low_ticket_range":{"min":50,"max":20},"high_ticket_range":{"min":3,"max":4},"budget_range":{"min":1,"max":2}}`))
	assert.ErrorIs(t, err, scenario.ErrConfiguration)
}

func TestMarketLoader_WriteAndSubscribe(t *testing.T) {
	path := filepath.Join(t.TempDir(), "configs", "market.json")
	l, err := NewMarketLoader(path, Options{DefaultCPARatio: [2]float64{0.25, 0.35}})
	require.NoError(t, err)

	_, ok := l.Snapshot()
	assert.False(t, ok)

	got := make(chan MarketSnapshot, 4)
	l.Subscribe(func(s MarketSnapshot) { got <- s })

	doc, err := ParseDocument([]byte(validDoc))
	require.NoError(t, err)
	doc.CPARatioRange = [2]float64{}
	snap, err := l.Write(doc)
	require.NoError(t, err)
	assert.EqualValues(t, 1, snap.Version)
	assert.Equal(t, [2]float64{0.25, 0.35}, snap.Document.CPARatioRange)
	assert.Equal(t, 18, snap.Catalog.Len())

	select {
	case s := <-got:
		assert.EqualValues(t, 1, s.Version)
	case <-time.After(2 * time.Second):
		t.Fatal("listener not called")
	}

	_, err = os.Stat(path)
	require.NoError(t, err)

	// same content is not a new version
	again, err := l.Write(doc)
	require.NoError(t, err)
	assert.EqualValues(t, 1, again.Version)

	// reopening reads the file back
	l2, err := NewMarketLoader(path, Options{DefaultCPARatio: [2]float64{0.25, 0.35}})
	require.NoError(t, err)
	snap2, ok := l2.Snapshot()
	require.True(t, ok)
	assert.Equal(t, snap.Document, snap2.Document)
}

func TestMarketLoader_RejectsInvalidWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "market.json")
	l, err := NewMarketLoader(path, Options{})
	require.NoError(t, err)
	_, err = l.Write(scenario.MarketDocument{
		LowTicketRange:  scenario.Range{Min: 10, Max: 5},
		HighTicketRange: scenario.Range{Min: 500, Max: 5000},
		BudgetRange:     scenario.Range{Min: 100, Max: 1000},
	})
	require.Error(t, err)
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestMarketLoader_WatchPicksUpEdits(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "market.json")
	require.NoError(t, os.WriteFile(path, []byte(validDoc), 0o644))

	l, err := NewMarketLoader(path, Options{Watch: true})
	require.NoError(t, err)
	snap, ok := l.Snapshot()
	require.True(t, ok)
	assert.EqualValues(t, 1, snap.Version)

	got := make(chan MarketSnapshot, 4)
	l.Subscribe(func(s MarketSnapshot) { got <- s })

	edited := `{
  "low_ticket_range": {"min": 20, "max": 200},
  "high_ticket_range": {"min": 500, "max": 5000},
  "budget_range": {"min": 100, "max": 10000}
}`
	require.NoError(t, os.WriteFile(path, []byte(edited), 0o644))

	select {
	case s := <-got:
		assert.Equal(t, 200.0, s.Document.LowTicketRange.Max)
		assert.Greater(t, s.Version, int64(1))
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not publish the edit")
	}
}
