package stages

import (
	"context"
	"fmt"
	"time"

	"github.com/raphalvezz/loocac/internal/features"
	"github.com/raphalvezz/loocac/internal/generator"
	"github.com/raphalvezz/loocac/internal/logger"
	"github.com/raphalvezz/loocac/internal/pipeline"
	"github.com/raphalvezz/loocac/internal/policy"
)

// Train produces a regime's policy. With PolicyURL set the policy is
// trained and served elsewhere; the release only records where.
type Train struct {
	Regime        generator.Regime
	Trainer       policy.Trainer
	PolicyURL     string
	PolicyTimeout time.Duration
}

func (s Train) Meta() pipeline.StageMeta {
	return pipeline.StageMeta{Name: "train_" + string(s.Regime), Order: OrderTrain, Critical: true}
}

func (s Train) Handle(ctx context.Context, run *pipeline.Run) error {
	buf := run.Buffer(s.Regime)
	if buf == nil {
		return fmt.Errorf("no %s replay buffer", s.Regime)
	}
	if s.PolicyURL != "" {
		pol, err := policy.NewHTTPPolicy(s.PolicyURL, string(s.Regime), s.PolicyTimeout)
		if err != nil {
			return err
		}
		run.SetPolicyURL(s.PolicyURL)
		run.SetPolicy(s.Regime, pol)
		logger.Infof("train %s: using remote policy at %s", s.Regime, s.PolicyURL)
		return nil
	}
	trainer := s.Trainer
	if trainer == nil {
		trainer = policy.EmpiricalTrainer{}
	}
	pol, err := trainer.Train(ctx, buf)
	if err != nil {
		return err
	}
	run.SetPolicy(s.Regime, pol)
	logger.Infof("train %s: %d transitions", s.Regime, buf.Len())
	return nil
}

// FitEstimator fits the supervised profit point estimate. A failure only
// leaves the release without one.
type FitEstimator struct{}

func (FitEstimator) Meta() pipeline.StageMeta {
	return pipeline.StageMeta{Name: "fit_estimator", Order: OrderTrain}
}

func (FitEstimator) Handle(_ context.Context, run *pipeline.Run) error {
	ds, p := run.Dataset(), run.Features()
	if ds == nil || p == nil {
		return features.ErrNotFitted
	}
	est, err := policy.FitProfitEstimator(p, ds.Supervised)
	if err != nil {
		return err
	}
	run.SetEstimator(est)
	return nil
}
