// Package recommend turns a campaign description into a price with its
// expected profit and lower-tail risk.
package recommend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/raphalvezz/loocac/internal/artifact"
	"github.com/raphalvezz/loocac/internal/features"
	"github.com/raphalvezz/loocac/internal/generator"
	"github.com/raphalvezz/loocac/internal/logger"
	"github.com/raphalvezz/loocac/internal/pkg/circuit"
	"github.com/raphalvezz/loocac/internal/policy"
	"github.com/raphalvezz/loocac/internal/registry"
	"github.com/raphalvezz/loocac/internal/risk"
	"github.com/raphalvezz/loocac/internal/store"
)

// BundleSource hands out the release currently being served.
type BundleSource interface {
	Get() (*artifact.Bundle, error)
}

// Observer receives per-request outcomes, typically for metrics.
type Observer interface {
	ObserveRecommendation(regime generator.Regime, code string, latency time.Duration)
	ObservePolicyCall(regime generator.Regime, call string, latency time.Duration, err error)
	ObserveBreaker(name string, state circuit.State)
}

// Auditor persists served recommendations.
type Auditor interface {
	Append(ctx context.Context, e store.AuditEntry) error
}

type Config struct {
	PolicyTimeout    time.Duration
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

func (c Config) withDefaults() Config {
	if c.PolicyTimeout <= 0 {
		c.PolicyTimeout = 2 * time.Second
	}
	return c
}

type Service struct {
	source   BundleSource
	cfg      Config
	breakers map[generator.Regime]*circuit.CircuitBreaker
	observer Observer
	auditor  Auditor
	now      func() time.Time
}

type Option func(*Service)

func WithObserver(o Observer) Option { return func(s *Service) { s.observer = o } }

func WithAuditor(a Auditor) Option { return func(s *Service) { s.auditor = a } }

// WithClock overrides time.Now; tests only.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func NewService(source BundleSource, cfg Config, opts ...Option) *Service {
	s := &Service{
		source:   source,
		cfg:      cfg.withDefaults(),
		breakers: make(map[generator.Regime]*circuit.CircuitBreaker, 2),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	for _, regime := range []generator.Regime{generator.RegimeOneShot, generator.RegimeSubscription} {
		cb := circuit.NewCircuitBreaker("policy-"+string(regime), s.cfg.BreakerThreshold, s.cfg.BreakerCooldown)
		if s.observer != nil {
			obs := s.observer
			cb.SetStateChangeHandler(func(name string, from, to circuit.State) {
				logger.Warnf("circuit %s: %s -> %s", name, from, to)
				obs.ObserveBreaker(name, to)
			})
		}
		s.breakers[regime] = cb
	}
	return s
}

// BreakerState is exposed for health output.
func (s *Service) BreakerState(regime generator.Regime) circuit.State {
	if cb, ok := s.breakers[regime]; ok {
		return cb.State()
	}
	return circuit.StateClosed
}

// Recommend runs validate, encode, policy, de-normalise and risk in order.
// Errors can be classified with Code and Retryable.
func (s *Service) Recommend(ctx context.Context, regime generator.Regime, req Request) (Recommendation, error) {
	start := s.now()
	rec, releaseID, err := s.recommend(ctx, regime, req)
	elapsed := s.now().Sub(start)
	rec.LatencyMS = round(float64(elapsed.Microseconds())/1000, 3)
	code := Code(err)
	if s.observer != nil {
		s.observer.ObserveRecommendation(regime, code, elapsed)
	}
	s.audit(ctx, regime, releaseID, req, rec, code)
	if err != nil {
		logger.Debugf("recommend %s: %s: %v", regime, code, err)
		return Recommendation{}, err
	}
	return rec, nil
}

func (s *Service) recommend(ctx context.Context, regime generator.Regime, req Request) (Recommendation, string, error) {
	if !regime.Valid() {
		return Recommendation{}, "", &features.EncodingError{Field: "regime", Value: string(regime), Reason: "unknown regime"}
	}
	b, err := s.source.Get()
	if err != nil {
		return Recommendation{}, "", err
	}
	releaseID := b.Manifest.ReleaseID
	pol, ok := b.Policies[regime]
	if !ok || pol == nil {
		return Recommendation{}, releaseID, fmt.Errorf("%w: no %s policy in release %s", registry.ErrModelNotLoaded, regime, releaseID)
	}
	scalers, ok := b.Scalers[regime]
	if !ok {
		return Recommendation{}, releaseID, fmt.Errorf("%w: no %s scalers in release %s", registry.ErrModelNotLoaded, regime, releaseID)
	}

	state := req.State()
	if err := features.Validate(state, regime); err != nil {
		return Recommendation{}, releaseID, err
	}
	vec, err := b.Pipeline.Transform(state, regime)
	if err != nil {
		return Recommendation{}, releaseID, err
	}

	action, err := query(ctx, s, regime, "predict", func(ctx context.Context) (float32, error) {
		return pol.Predict(ctx, vec)
	})
	if err != nil {
		return Recommendation{}, releaseID, err
	}
	price := scalers.Action.Denormalize(float64(action))
	if math.IsNaN(price) || math.IsInf(price, 0) {
		return Recommendation{}, releaseID, &PolicyQueryError{Call: "predict", Err: policy.ErrMalformedOutput}
	}
	price = math.Max(0, price)

	normQ, err := query(ctx, s, regime, "predict_value", func(ctx context.Context) ([]float32, error) {
		return pol.PredictValue(ctx, vec, action)
	})
	if err != nil {
		return Recommendation{}, releaseID, err
	}
	quantiles := make([]float64, len(normQ))
	for i, q := range normQ {
		quantiles[i] = scalers.Reward.Denormalize(float64(q))
	}
	tail, err := risk.Tail(quantiles, risk.DefaultLevel)
	if err != nil {
		return Recommendation{}, releaseID, &PolicyQueryError{Call: "predict_value", Err: fmt.Errorf("%w: %v", policy.ErrMalformedOutput, err)}
	}

	expected := tail.Mean
	if b.Estimator != nil {
		if v, err := s.estimate(b, state, regime, vec); err != nil {
			logger.Warnf("recommend %s: profit estimator: %v", regime, err)
		} else {
			expected = v
		}
	}

	return Recommendation{
		ModelName:           ModelName(regime),
		Regime:              regime,
		ReleaseID:           releaseID,
		Price:               round(price, 2),
		ExpectedProfit:      round(expected, 2),
		PolicyExpectedValue: round(tail.Mean, 2),
		VaR5:                round(tail.VaR, 2),
		CVaR5:               round(tail.CVaR, 2),
	}, releaseID, nil
}

// estimate scores the one-shot encoding of state; the supervised dataset
// carries no memory columns.
func (s *Service) estimate(b *artifact.Bundle, state generator.CampaignState, regime generator.Regime, vec []float32) (float64, error) {
	if regime != generator.RegimeOneShot {
		var err error
		vec, err = b.Pipeline.Transform(state, generator.RegimeOneShot)
		if err != nil {
			return 0, err
		}
	}
	return b.Estimator.Predict(vec)
}

// query bounds fn by the policy timeout and routes it through the regime's
// breaker. Caller cancellation does not count as a policy failure.
func query[T any](ctx context.Context, s *Service, regime generator.Regime, call string, fn func(context.Context) (T, error)) (T, error) {
	var out T
	started := s.now()
	cb := s.breakers[regime]
	err := cb.Do(func() error {
		v, err := withDeadline(ctx, s.cfg.PolicyTimeout, fn)
		if err == nil {
			out = v
		}
		return err
	}, countable)
	if s.observer != nil {
		s.observer.ObservePolicyCall(regime, call, s.now().Sub(started), err)
	}
	switch {
	case err == nil:
		return out, nil
	case errors.Is(err, circuit.ErrOpen):
		return out, fmt.Errorf("%w: %s breaker open", ErrPolicyUnavailable, regime)
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		return out, err
	case isTimeout(err):
		return out, &PolicyQueryError{Call: call, Err: fmt.Errorf("%w: %v", ErrPolicyTimeout, err), Retryable: true}
	case errors.Is(err, policy.ErrWidth):
		return out, fmt.Errorf("%w: %v", features.ErrSchemaMismatch, err)
	}
	return out, &PolicyQueryError{Call: call, Err: err, Retryable: temporary(err)}
}

func withDeadline[T any](parent context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()
	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		done <- result{v, err}
	}()
	select {
	case r := <-done:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func countable(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, policy.ErrWidth)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

func temporary(err error) bool {
	var t interface{ Temporary() bool }
	return errors.As(err, &t) && t.Temporary()
}

func round(v float64, places int32) float64 {
	return decimal.NewFromFloat(v).Round(places).InexactFloat64()
}

func (s *Service) audit(ctx context.Context, regime generator.Regime, releaseID string, req Request, rec Recommendation, code string) {
	if s.auditor == nil {
		return
	}
	raw, _ := json.Marshal(req)
	entry := store.AuditEntry{
		CreatedAt:           s.now(),
		Regime:              string(regime),
		ReleaseID:           releaseID,
		Code:                code,
		RequestJSON:         string(raw),
		Price:               rec.Price,
		ExpectedProfit:      rec.ExpectedProfit,
		PolicyExpectedValue: rec.PolicyExpectedValue,
		VaR5:                rec.VaR5,
		CVaR5:               rec.CVaR5,
		LatencyMS:           rec.LatencyMS,
	}
	if err := s.auditor.Append(context.WithoutCancel(ctx), entry); err != nil {
		logger.Warnf("recommend: audit append failed: %v", err)
	}
}
