package stages

import (
	"context"
	"fmt"
	"math"

	"github.com/raphalvezz/loocac/internal/artifact"
	"github.com/raphalvezz/loocac/internal/features"
	"github.com/raphalvezz/loocac/internal/pipeline"
)

// VerifySchema checks the encoder, buffers and policies agree before
// anything is published.
type VerifySchema struct {
	// ProbePolicies sends one observation per regime through the policy.
	ProbePolicies bool
}

func (VerifySchema) Meta() pipeline.StageMeta {
	return pipeline.StageMeta{Name: "verify_schema", Order: OrderVerify, Critical: true}
}

func (s VerifySchema) Handle(ctx context.Context, run *pipeline.Run) error {
	p := run.Features()
	if p == nil {
		return features.ErrNotFitted
	}
	// a reloaded copy must accept its own schemas
	if _, err := p.WithSchemas(p.Base, p.Subscription); err != nil {
		return err
	}
	for _, regime := range artifact.Regimes {
		schema, err := p.Schema(regime)
		if err != nil {
			return err
		}
		buf := run.Buffer(regime)
		if buf == nil {
			return fmt.Errorf("%w: no %s buffer", features.ErrSchemaMismatch, regime)
		}
		if !buf.Schema.Equal(schema) {
			return fmt.Errorf("%w: %s buffer schema differs from encoder", features.ErrSchemaMismatch, regime)
		}
		var first []float32
		for _, ep := range buf.Episodes {
			for i, obs := range ep.Observations {
				if len(obs) != schema.Width() {
					return fmt.Errorf("%w: %s row %d has width %d, schema %d", features.ErrSchemaMismatch, regime, i, len(obs), schema.Width())
				}
				if first == nil {
					first = obs
				}
			}
		}
		pol := run.Policy(regime)
		if pol == nil {
			return fmt.Errorf("no %s policy", regime)
		}
		if !s.ProbePolicies || first == nil {
			continue
		}
		action, err := pol.Predict(ctx, first)
		if err != nil {
			return fmt.Errorf("probe %s policy: %w", regime, err)
		}
		if math.IsNaN(float64(action)) || math.IsInf(float64(action), 0) {
			return fmt.Errorf("probe %s policy: non-finite action", regime)
		}
		q, err := pol.PredictValue(ctx, first, action)
		if err != nil {
			return fmt.Errorf("probe %s policy value: %w", regime, err)
		}
		if len(q) == 0 {
			return fmt.Errorf("probe %s policy value: empty quantiles", regime)
		}
	}
	return nil
}
