package policy

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphalvezz/loocac/internal/demand"
	"github.com/raphalvezz/loocac/internal/features"
	"github.com/raphalvezz/loocac/internal/generator"
	"github.com/raphalvezz/loocac/internal/replay"
	"github.com/raphalvezz/loocac/internal/scenario"
)

type fixture struct {
	pipeline *features.Pipeline
	dataset  *generator.Dataset
	oneShot  *replay.Buffer
}

func newFixture(t *testing.T, catalog *scenario.Catalog, samples int) fixture {
	t.Helper()
	g, err := generator.New(catalog, generator.Options{
		SamplesPerScenario: samples, Seed: 5, Balanced: true,
		Regions: []string{"Europe"}, Platforms: []string{"Instagram"},
	})
	require.NoError(t, err)
	ds, err := g.Generate(context.Background())
	require.NoError(t, err)
	obs := func(ts []generator.Transition) []generator.CampaignState {
		out := make([]generator.CampaignState, len(ts))
		for i := range ts {
			out[i] = ts[i].Observation
		}
		return out
	}
	p, err := features.Fit(obs(ds.OneShot), obs(ds.Subscription))
	require.NoError(t, err)
	buf, err := replay.Build(context.Background(), p, generator.RegimeOneShot, ds.OneShot)
	require.NoError(t, err)
	return fixture{pipeline: p, dataset: ds, oneShot: buf}
}

func TestEmpiricalTrainer_RecoversOptimum(t *testing.T) {
	sc := scenario.Scenario{Tier: scenario.TierLow, PriceMin: 50, PriceMax: 100, Budget: 1000, CPATarget: 70}
	cat, err := scenario.NewCatalog([]scenario.Scenario{sc})
	require.NoError(t, err)
	fx := newFixture(t, cat, 20000)

	pol, err := EmpiricalTrainer{ActionBins: 25}.TrainEmpirical(context.Background(), fx.oneShot)
	require.NoError(t, err)
	require.Len(t, pol.Entries, 1)

	state := fx.oneShot.Episodes[0].Observations[0]
	action, err := pol.Predict(context.Background(), state)
	require.NoError(t, err)
	price := fx.oneShot.ActionScaler.Denormalize(float64(action))
	best, _ := demand.AnalyticOptimum(sc)
	assert.InDelta(t, best, price, 8.0)

	qs, err := pol.PredictValue(context.Background(), state, action)
	require.NoError(t, err)
	assert.Len(t, qs, DefaultQuantiles)
	for i := 1; i < len(qs); i++ {
		assert.LessOrEqual(t, qs[i-1], qs[i])
	}
}

func TestEmpiricalPolicy_UnseenStateAndWidth(t *testing.T) {
	fx := newFixture(t, scenario.Default(), 200)
	pol, err := EmpiricalTrainer{}.TrainEmpirical(context.Background(), fx.oneShot)
	require.NoError(t, err)
	// two pairs of article rows share tier and budget
	assert.Len(t, pol.Entries, 10)

	unseen := generator.CampaignState{
		Region: "Mars", Platform: "Instagram", Tier: scenario.TierHigh,
		AgeBand: "25-34", Gender: "Female", ContentType: "Video", Budget: 50000,
	}
	vec, err := fx.pipeline.Transform(unseen, generator.RegimeOneShot)
	require.NoError(t, err)
	_, err = pol.Predict(context.Background(), vec)
	assert.NoError(t, err)

	_, err = pol.Predict(context.Background(), vec[:3])
	assert.ErrorIs(t, err, ErrWidth)

	_, err = EmpiricalTrainer{}.Train(context.Background(), nil)
	assert.Error(t, err)
}

func TestEmpiricalPolicy_Persistence(t *testing.T) {
	fx := newFixture(t, scenario.Default(), 100)
	pol, err := EmpiricalTrainer{}.TrainEmpirical(context.Background(), fx.oneShot)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "policy.json")
	require.NoError(t, pol.WriteFile(path))
	loaded, err := LoadEmpirical(path)
	require.NoError(t, err)

	state := fx.oneShot.Episodes[0].Observations[42]
	a1, _ := pol.Predict(context.Background(), state)
	a2, _ := loaded.Predict(context.Background(), state)
	assert.Equal(t, a1, a2)
}

func TestPickBest(t *testing.T) {
	bins := []binStats{
		{Count: 10, MeanReward: 1},
		{Count: 2, MeanReward: 9},
		{Count: 6, MeanReward: 3},
		{},
	}
	assert.Equal(t, 2, pickBest(bins, 5))
	assert.Equal(t, 1, pickBest(bins, 1))
	assert.Equal(t, 1, pickBest(bins, 50))
}

func TestHTTPPolicy(t *testing.T) {
	var lastModel string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		lastModel, _ = body["model"].(string)
		switch r.URL.Path {
		case "/v1/predict":
			_, _ = w.Write([]byte(`{"action": [0.25]}`))
		case "/v1/predict_value":
			_, _ = w.Write([]byte(`{"quantiles": [-1, 0, 1.5]}`))
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	p, err := NewHTTPPolicy(srv.URL+"/v1", "one_shot", time.Second)
	require.NoError(t, err)
	action, err := p.Predict(context.Background(), []float32{1, 0})
	require.NoError(t, err)
	assert.Equal(t, float32(0.25), action)
	assert.Equal(t, "one_shot", lastModel)

	qs, err := p.PredictValue(context.Background(), []float32{1, 0}, action)
	require.NoError(t, err)
	assert.Equal(t, []float32{-1, 0, 1.5}, qs)

	bad, err := NewHTTPPolicy(srv.URL+"/missing", "one_shot", time.Second)
	require.NoError(t, err)
	_, err = bad.Predict(context.Background(), []float32{1})
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.True(t, se.Temporary())

	_, err = NewHTTPPolicy(" ", "x", 0)
	assert.Error(t, err)
}

func TestHTTPPolicy_MalformedOutput(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"action": "high", "quantiles": ["a"]}`))
	}))
	defer srv.Close()
	p, err := NewHTTPPolicy(srv.URL, "m", time.Second)
	require.NoError(t, err)
	_, err = p.Predict(context.Background(), nil)
	assert.ErrorIs(t, err, ErrMalformedOutput)
	_, err = p.PredictValue(context.Background(), nil, 0)
	assert.ErrorIs(t, err, ErrMalformedOutput)
}

func TestProfitEstimator(t *testing.T) {
	fx := newFixture(t, scenario.Default(), 100)
	est, err := FitProfitEstimator(fx.pipeline, fx.dataset.Supervised)
	require.NoError(t, err)
	assert.Len(t, est.States, 10)

	row := fx.dataset.Supervised[0]
	vec, err := fx.pipeline.Transform(row.State, generator.RegimeOneShot)
	require.NoError(t, err)
	got, err := est.Predict(vec)
	require.NoError(t, err)

	var sum float64
	for _, r := range fx.dataset.Supervised[:100] {
		sum += r.RealizedProfit
	}
	assert.InDelta(t, sum/100, got, 1e-6)

	path := filepath.Join(t.TempDir(), "estimator.json")
	require.NoError(t, est.WriteFile(path))
	loaded, err := LoadProfitEstimator(path)
	require.NoError(t, err)
	again, err := loaded.Predict(vec)
	require.NoError(t, err)
	assert.Equal(t, got, again)

	other := make([]float32, len(vec))
	g, err := est.Predict(other)
	require.NoError(t, err)
	assert.Equal(t, est.Global, g)
}
