package recommend

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/raphalvezz/loocac/internal/artifact"
	"github.com/raphalvezz/loocac/internal/features"
	"github.com/raphalvezz/loocac/internal/generator"
	"github.com/raphalvezz/loocac/internal/pkg/circuit"
	"github.com/raphalvezz/loocac/internal/policy"
	"github.com/raphalvezz/loocac/internal/registry"
	"github.com/raphalvezz/loocac/internal/scenario"
	"github.com/raphalvezz/loocac/internal/store"
)

type mockPolicy struct{ mock.Mock }

func (m *mockPolicy) Predict(ctx context.Context, state []float32) (float32, error) {
	args := m.Called(ctx, state)
	return args.Get(0).(float32), args.Error(1)
}

func (m *mockPolicy) PredictValue(ctx context.Context, state []float32, action float32) ([]float32, error) {
	args := m.Called(ctx, state, action)
	q, _ := args.Get(0).([]float32)
	return q, args.Error(1)
}

type staticSource struct {
	b   *artifact.Bundle
	err error
}

func (s staticSource) Get() (*artifact.Bundle, error) { return s.b, s.err }

type memAuditor struct {
	mu      sync.Mutex
	entries []store.AuditEntry
}

func (a *memAuditor) Append(_ context.Context, e store.AuditEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, e)
	return nil
}

var baseState = generator.CampaignState{
	Region:          "Europe",
	Platform:        "Instagram",
	Tier:            scenario.TierLow,
	AgeBand:         "25-34",
	Gender:          "Female",
	ContentType:     "Video",
	ProductType:     "InfoProduto",
	BillingModel:    "Venda Unica",
	OfferComplexity: "Media",
	Budget:          100,
}

func baseRequest() Request {
	return Request{
		Region:      "Europe",
		Platform:    "Instagram",
		Tier:        "Low Ticket",
		Budget:      100,
		AgeBand:     "25-34",
		Gender:      "Female",
		ContentType: "Video",
	}
}

func newBundle(t *testing.T, oneShot, subscription policy.Policy) *artifact.Bundle {
	t.Helper()
	other := baseState
	other.Region = "Asia"
	other.Tier = scenario.TierHigh
	other.Budget = 5000
	sub1, sub2 := baseState, other
	sub1.Memory = generator.Memory{DaysSinceLastInteraction: 30, CLVPercentile: 0.5, AvgPrice90d: 10, PriceVolatility30d: 1}
	sub2.Memory = generator.Memory{DaysSinceLastInteraction: 30, CLVPercentile: 0.5, AvgPrice90d: 1000, PriceVolatility30d: 1}

	p, err := features.Fit([]generator.CampaignState{baseState, other}, []generator.CampaignState{sub1, sub2})
	require.NoError(t, err)

	return &artifact.Bundle{
		Manifest: artifact.Manifest{ReleaseID: "rel-test"},
		Pipeline: p,
		Scalers: map[generator.Regime]artifact.RegimeScalers{
			generator.RegimeOneShot: {
				Action: features.ValueScaler{Name: "action", Mean: 15, Scale: 5},
				Reward: features.ValueScaler{Name: "reward", Mean: 100, Scale: 50},
			},
			generator.RegimeSubscription: {
				Action: features.ValueScaler{Name: "action", Mean: 100, Scale: 10},
				Reward: features.ValueScaler{Name: "reward", Mean: 1000, Scale: 100},
			},
		},
		Policies: map[generator.Regime]policy.Policy{
			generator.RegimeOneShot:      oneShot,
			generator.RegimeSubscription: subscription,
		},
		LoadedAt: time.Now(),
	}
}

func TestRecommend_OneShotWithoutMemoryFields(t *testing.T) {
	pol := &mockPolicy{}
	pol.On("Predict", mock.Anything, mock.Anything).Return(float32(1), nil)
	pol.On("PredictValue", mock.Anything, mock.Anything, float32(1)).Return([]float32{-2, -1, 0, 1, 2}, nil)

	aud := &memAuditor{}
	svc := NewService(staticSource{b: newBundle(t, pol, &mockPolicy{})}, Config{}, WithAuditor(aud))
	rec, err := svc.Recommend(context.Background(), generator.RegimeOneShot, baseRequest())
	require.NoError(t, err)

	assert.Equal(t, "RL (One-Shot) Dynamic", rec.ModelName)
	assert.Equal(t, "rel-test", rec.ReleaseID)
	assert.InDelta(t, 20.0, rec.Price, 1e-9)
	// rewards 0,50,100,150,200: VaR5 interpolates to 10, only 0 lies below it
	assert.InDelta(t, 10.0, rec.VaR5, 1e-9)
	assert.InDelta(t, 0.0, rec.CVaR5, 1e-9)
	assert.InDelta(t, 100.0, rec.ExpectedProfit, 1e-9)
	assert.InDelta(t, 100.0, rec.PolicyExpectedValue, 1e-9)
	assert.GreaterOrEqual(t, rec.LatencyMS, 0.0)
	assert.LessOrEqual(t, rec.CVaR5, rec.VaR5)

	states := pol.Calls[0].Arguments.Get(1).([]float32)
	schema, err := newBundle(t, pol, pol).Pipeline.Schema(generator.RegimeOneShot)
	require.NoError(t, err)
	assert.Len(t, states, schema.Width())

	require.Len(t, aud.entries, 1)
	assert.Equal(t, CodeOK, aud.entries[0].Code)
	assert.Equal(t, "one_shot", aud.entries[0].Regime)
}

func TestRecommend_SubscriptionUsesOwnActionScaler(t *testing.T) {
	pol := &mockPolicy{}
	pol.On("Predict", mock.Anything, mock.Anything).Return(float32(0.5), nil)
	pol.On("PredictValue", mock.Anything, mock.Anything, float32(0.5)).Return([]float32{0, 0, 0}, nil)

	svc := NewService(staticSource{b: newBundle(t, &mockPolicy{}, pol)}, Config{})
	req := baseRequest()
	req.DaysSinceLastInteraction = 12
	req.AvgPrice90d = 14
	rec, err := svc.Recommend(context.Background(), generator.RegimeSubscription, req)
	require.NoError(t, err)
	assert.InDelta(t, 105.0, rec.Price, 1e-9)
	assert.InDelta(t, 1000.0, rec.VaR5, 1e-9)
	assert.InDelta(t, 1000.0, rec.CVaR5, 1e-9)
	assert.Equal(t, "RL (Subscription) LTV", rec.ModelName)
}

func TestRecommend_NegativePriceClamped(t *testing.T) {
	pol := &mockPolicy{}
	pol.On("Predict", mock.Anything, mock.Anything).Return(float32(-10), nil)
	pol.On("PredictValue", mock.Anything, mock.Anything, float32(-10)).Return([]float32{-1, 1}, nil)

	svc := NewService(staticSource{b: newBundle(t, pol, pol)}, Config{})
	rec, err := svc.Recommend(context.Background(), generator.RegimeOneShot, baseRequest())
	require.NoError(t, err)
	assert.Equal(t, 0.0, rec.Price)
}

func TestRecommend_UnknownTierEncodesAsUnseen(t *testing.T) {
	pol := &mockPolicy{}
	pol.On("Predict", mock.Anything, mock.Anything).Return(float32(0), nil)
	pol.On("PredictValue", mock.Anything, mock.Anything, float32(0)).Return([]float32{0}, nil)

	svc := NewService(staticSource{b: newBundle(t, pol, pol)}, Config{})
	req := baseRequest()
	req.Tier = "Mid Ticket"
	_, err := svc.Recommend(context.Background(), generator.RegimeOneShot, req)
	require.NoError(t, err)
}

func TestRecommend_Failures(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		svc := NewService(staticSource{err: registry.ErrModelNotLoaded}, Config{})
		_, err := svc.Recommend(context.Background(), generator.RegimeOneShot, baseRequest())
		require.ErrorIs(t, err, registry.ErrModelNotLoaded)
		assert.Equal(t, CodeNotConfigured, Code(err))
		assert.False(t, Retryable(err))
	})

	t.Run("missing field", func(t *testing.T) {
		pol := &mockPolicy{}
		svc := NewService(staticSource{b: newBundle(t, pol, pol)}, Config{})
		req := baseRequest()
		req.Region = " "
		_, err := svc.Recommend(context.Background(), generator.RegimeOneShot, req)
		require.Error(t, err)
		assert.Equal(t, CodeEncoding, Code(err))
		pol.AssertNotCalled(t, "Predict", mock.Anything, mock.Anything)
	})

	t.Run("non positive budget", func(t *testing.T) {
		pol := &mockPolicy{}
		svc := NewService(staticSource{b: newBundle(t, pol, pol)}, Config{})
		req := baseRequest()
		req.Budget = 0
		_, err := svc.Recommend(context.Background(), generator.RegimeOneShot, req)
		assert.Equal(t, CodeEncoding, Code(err))
	})

	t.Run("unknown regime", func(t *testing.T) {
		svc := NewService(staticSource{}, Config{})
		_, err := svc.Recommend(context.Background(), generator.Regime("weekly"), baseRequest())
		assert.Equal(t, CodeEncoding, Code(err))
	})

	t.Run("empty quantiles", func(t *testing.T) {
		pol := &mockPolicy{}
		pol.On("Predict", mock.Anything, mock.Anything).Return(float32(0), nil)
		pol.On("PredictValue", mock.Anything, mock.Anything, float32(0)).Return([]float32{}, nil)
		svc := NewService(staticSource{b: newBundle(t, pol, pol)}, Config{})
		_, err := svc.Recommend(context.Background(), generator.RegimeOneShot, baseRequest())
		var pq *PolicyQueryError
		require.ErrorAs(t, err, &pq)
		assert.Equal(t, "predict_value", pq.Call)
		assert.Equal(t, CodePolicyError, Code(err))
	})

	t.Run("missing regime policy", func(t *testing.T) {
		b := newBundle(t, &mockPolicy{}, &mockPolicy{})
		delete(b.Policies, generator.RegimeSubscription)
		svc := NewService(staticSource{b: b}, Config{})
		_, err := svc.Recommend(context.Background(), generator.RegimeSubscription, baseRequest())
		assert.Equal(t, CodeNotConfigured, Code(err))
	})
}

type slowPolicy struct{}

func (slowPolicy) Predict(ctx context.Context, _ []float32) (float32, error) {
	<-ctx.Done()
	return 0, ctx.Err()
}

func (slowPolicy) PredictValue(ctx context.Context, _ []float32, _ float32) ([]float32, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestRecommend_PolicyTimeoutIsRetryable(t *testing.T) {
	svc := NewService(staticSource{b: newBundle(t, slowPolicy{}, slowPolicy{})}, Config{PolicyTimeout: 20 * time.Millisecond})
	_, err := svc.Recommend(context.Background(), generator.RegimeOneShot, baseRequest())
	require.ErrorIs(t, err, ErrPolicyTimeout)
	assert.Equal(t, CodePolicyTimeout, Code(err))
	assert.True(t, Retryable(err))
}

type failingPolicy struct{ calls atomic.Int32 }

func (f *failingPolicy) Predict(context.Context, []float32) (float32, error) {
	f.calls.Add(1)
	return 0, &policy.StatusError{Code: 500, Body: "boom"}
}

func (f *failingPolicy) PredictValue(context.Context, []float32, float32) ([]float32, error) {
	return nil, errors.New("unreachable")
}

func TestRecommend_BreakerOpensAfterFailures(t *testing.T) {
	pol := &failingPolicy{}
	svc := NewService(staticSource{b: newBundle(t, pol, pol)}, Config{BreakerThreshold: 2, BreakerCooldown: time.Hour})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := svc.Recommend(ctx, generator.RegimeOneShot, baseRequest())
		assert.Equal(t, CodePolicyError, Code(err))
		assert.True(t, Retryable(err), "5xx from the policy server is temporary")
	}
	_, err := svc.Recommend(ctx, generator.RegimeOneShot, baseRequest())
	require.ErrorIs(t, err, ErrPolicyUnavailable)
	assert.Equal(t, CodePolicyUnavailable, Code(err))
	assert.True(t, Retryable(err))
	assert.EqualValues(t, 2, pol.calls.Load())

	// the other regime has its own breaker
	assert.Equal(t, circuit.StateClosed, svc.BreakerState(generator.RegimeSubscription))
	assert.Equal(t, circuit.StateOpen, svc.BreakerState(generator.RegimeOneShot))
}

func TestRecommend_EstimatorOverridesPolicyMean(t *testing.T) {
	pol := &mockPolicy{}
	pol.On("Predict", mock.Anything, mock.Anything).Return(float32(0), nil)
	pol.On("PredictValue", mock.Anything, mock.Anything, float32(0)).Return([]float32{0, 1}, nil)

	b := newBundle(t, pol, pol)
	est, err := policy.FitProfitEstimator(b.Pipeline, []generator.SupervisedRow{
		{State: baseState, SampledPrice: 15, AcquisitionCost: 5, RealizedProfit: 40},
		{State: baseState, SampledPrice: 16, AcquisitionCost: 5, RealizedProfit: 44},
	})
	require.NoError(t, err)
	b.Estimator = est

	svc := NewService(staticSource{b: b}, Config{})
	for _, regime := range []generator.Regime{generator.RegimeOneShot, generator.RegimeSubscription} {
		t.Run(string(regime), func(t *testing.T) {
			rec, err := svc.Recommend(context.Background(), regime, baseRequest())
			require.NoError(t, err)
			assert.InDelta(t, 42.0, rec.ExpectedProfit, 1e-9)
			assert.NotEqual(t, rec.ExpectedProfit, rec.PolicyExpectedValue)
		})
	}
}

func TestCode(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, CodeOK},
		{fmt.Errorf("wrap: %w", registry.ErrModelNotLoaded), CodeNotConfigured},
		{&features.EncodingError{Field: "region", Reason: "required"}, CodeEncoding},
		{fmt.Errorf("x: %w", features.ErrSchemaMismatch), CodeSchemaMismatch},
		{&PolicyQueryError{Call: "predict", Err: ErrPolicyTimeout, Retryable: true}, CodePolicyTimeout},
		{&PolicyQueryError{Call: "predict", Err: policy.ErrMalformedOutput}, CodePolicyError},
		{ErrPolicyUnavailable, CodePolicyUnavailable},
		{context.Canceled, CodeCanceled},
		{errors.New("other"), CodeInternal},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Code(tc.err), "%v", tc.err)
	}
}
