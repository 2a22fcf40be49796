// Package replay packs an encoded transition set into the single synthetic
// episode an offline learner trains on.
package replay

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/raphalvezz/loocac/internal/features"
	"github.com/raphalvezz/loocac/internal/generator"
)

const chunkSize = 2048

// Episode holds normalised matrices. Terminated is always false.
type Episode struct {
	Observations [][]float32
	Actions      []float32
	Rewards      []float32
	Terminated   bool
}

func (e Episode) Len() int { return len(e.Actions) }

// Buffer is one regime's replay data plus the scalers that map actions and
// rewards into and out of the training space.
type Buffer struct {
	Regime       generator.Regime
	Schema       features.Schema
	ActionScaler features.ValueScaler
	RewardScaler features.ValueScaler
	Episodes     []Episode
}

func (b *Buffer) Len() int {
	n := 0
	for _, e := range b.Episodes {
		n += e.Len()
	}
	return n
}

// Build encodes every observation with the pipeline's regime schema and
// normalises actions and rewards with scalers fitted on this set only.
func Build(ctx context.Context, p *features.Pipeline, regime generator.Regime, transitions []generator.Transition) (*Buffer, error) {
	if len(transitions) == 0 {
		return nil, fmt.Errorf("build %s buffer: no transitions", regime)
	}
	schema, err := p.Schema(regime)
	if err != nil {
		return nil, err
	}
	actions := make([]float64, len(transitions))
	rewards := make([]float64, len(transitions))
	for i, tr := range transitions {
		actions[i] = tr.Action
		rewards[i] = tr.Reward
	}
	actionScaler, err := features.FitValues("action", actions)
	if err != nil {
		return nil, err
	}
	rewardScaler, err := features.FitValues("reward", rewards)
	if err != nil {
		return nil, err
	}

	ep := Episode{
		Observations: make([][]float32, len(transitions)),
		Actions:      make([]float32, len(transitions)),
		Rewards:      make([]float32, len(transitions)),
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for start := 0; start < len(transitions); start += chunkSize {
		end := min(start+chunkSize, len(transitions))
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			for i := start; i < end; i++ {
				vec, err := p.Transform(transitions[i].Observation, regime)
				if err != nil {
					return fmt.Errorf("encode %s transition %d: %w", regime, i, err)
				}
				ep.Observations[i] = vec
				ep.Actions[i] = float32(actionScaler.Normalize(actions[i]))
				ep.Rewards[i] = float32(rewardScaler.Normalize(rewards[i]))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &Buffer{
		Regime:       regime,
		Schema:       schema,
		ActionScaler: actionScaler,
		RewardScaler: rewardScaler,
		Episodes:     []Episode{ep},
	}, nil
}
