// Package stages holds the concrete pipeline steps.
package stages

import (
	"context"
	"fmt"

	"github.com/raphalvezz/loocac/internal/features"
	"github.com/raphalvezz/loocac/internal/generator"
	"github.com/raphalvezz/loocac/internal/logger"
	"github.com/raphalvezz/loocac/internal/pipeline"
	"github.com/raphalvezz/loocac/internal/replay"
)

const (
	OrderGenerate = iota + 1
	OrderFit
	OrderBuffers
	OrderTrain
	OrderVerify
	OrderPublish
	OrderActivate
)

// Generate samples both transition sets and the supervised rows.
type Generate struct {
	Options generator.Options
}

func (Generate) Meta() pipeline.StageMeta {
	return pipeline.StageMeta{Name: "generate", Order: OrderGenerate, Critical: true}
}

func (s Generate) Handle(ctx context.Context, run *pipeline.Run) error {
	g, err := generator.New(run.Catalog(), s.Options)
	if err != nil {
		return err
	}
	ds, err := g.Generate(ctx)
	if err != nil {
		return err
	}
	run.SetDataset(ds)
	return nil
}

func observations(ts []generator.Transition) []generator.CampaignState {
	out := make([]generator.CampaignState, len(ts))
	for i := range ts {
		out[i] = ts[i].Observation
	}
	return out
}

// FitFeatures fits the encoder and scalers and fixes both schemas.
type FitFeatures struct{}

func (FitFeatures) Meta() pipeline.StageMeta {
	return pipeline.StageMeta{Name: "fit_features", Order: OrderFit, Critical: true}
}

func (FitFeatures) Handle(_ context.Context, run *pipeline.Run) error {
	ds := run.Dataset()
	if ds == nil {
		return fmt.Errorf("no dataset")
	}
	p, err := features.Fit(observations(ds.OneShot), observations(ds.Subscription))
	if err != nil {
		return err
	}
	logger.Infof("features: one_shot width=%d subscription width=%d", p.Base.Width(), p.Subscription.Width())
	run.SetFeatures(p)
	return nil
}

// BuildBuffer encodes one regime's transitions into a replay buffer.
type BuildBuffer struct {
	Regime generator.Regime
}

func (s BuildBuffer) Meta() pipeline.StageMeta {
	return pipeline.StageMeta{Name: "build_buffer_" + string(s.Regime), Order: OrderBuffers, Critical: true}
}

func (s BuildBuffer) Handle(ctx context.Context, run *pipeline.Run) error {
	ds, p := run.Dataset(), run.Features()
	if ds == nil || p == nil {
		return features.ErrNotFitted
	}
	ts := ds.OneShot
	if s.Regime == generator.RegimeSubscription {
		ts = ds.Subscription
	}
	buf, err := replay.Build(ctx, p, s.Regime, ts)
	if err != nil {
		return err
	}
	run.SetBuffer(s.Regime, buf)
	return nil
}
