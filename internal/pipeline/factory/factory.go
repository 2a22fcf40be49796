// Package factory assembles the standard regeneration pipeline.
package factory

import (
	"time"

	"github.com/raphalvezz/loocac/internal/artifact"
	"github.com/raphalvezz/loocac/internal/generator"
	"github.com/raphalvezz/loocac/internal/pipeline"
	"github.com/raphalvezz/loocac/internal/pipeline/stages"
	"github.com/raphalvezz/loocac/internal/policy"
)

type Config struct {
	Generation    generator.Options
	Store         *artifact.Store
	Trainer       policy.Trainer
	PolicyURL     string
	PolicyTimeout time.Duration
	ProbePolicies bool
	// Registry is reloaded after publish when set.
	Registry stages.Reloader
}

// Build returns generate → fit → buffers → train → verify → publish
// (→ activate).
func Build(cfg Config) *pipeline.Pipeline {
	list := []pipeline.Stage{
		stages.Generate{Options: cfg.Generation},
		stages.FitFeatures{},
		stages.FitEstimator{},
		stages.VerifySchema{ProbePolicies: cfg.ProbePolicies},
		stages.Publish{
			Store:              cfg.Store,
			SamplesPerScenario: samplesOf(cfg.Generation),
		},
	}
	for _, regime := range artifact.Regimes {
		list = append(list,
			stages.BuildBuffer{Regime: regime},
			stages.Train{Regime: regime, Trainer: cfg.Trainer, PolicyURL: cfg.PolicyURL, PolicyTimeout: cfg.PolicyTimeout},
		)
	}
	if cfg.Registry != nil {
		list = append(list, stages.Activate{Registry: cfg.Registry})
	}
	return pipeline.New("locac", list...)
}

func samplesOf(o generator.Options) int {
	if o.SamplesPerScenario <= 0 {
		return generator.DefaultSamplesPerScenario
	}
	return o.SamplesPerScenario
}
