package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/raphalvezz/loocac/internal/generator"
	"github.com/raphalvezz/loocac/internal/logger"
	"github.com/raphalvezz/loocac/internal/replay"
	"github.com/raphalvezz/loocac/internal/risk"
)

const (
	DefaultActionBins = 21
	DefaultMinSupport = 5
	DefaultQuantiles  = 51
)

// EmpiricalTrainer is a tabular learner: per distinct state it bins the
// observed actions, keeps reward quantiles per bin and picks the bin with
// the best mean reward among bins with enough support.
type EmpiricalTrainer struct {
	ActionBins int
	MinSupport int
	Quantiles  int
}

func (t EmpiricalTrainer) withDefaults() EmpiricalTrainer {
	if t.ActionBins <= 0 {
		t.ActionBins = DefaultActionBins
	}
	if t.MinSupport <= 0 {
		t.MinSupport = DefaultMinSupport
	}
	if t.Quantiles < 2 {
		t.Quantiles = DefaultQuantiles
	}
	return t
}

type binStats struct {
	Count      int       `json:"count"`
	MeanAction float32   `json:"mean_action"`
	MeanReward float64   `json:"mean_reward"`
	Quantiles  []float32 `json:"quantiles,omitempty"`
}

type stateEntry struct {
	State    []float32  `json:"state"`
	ActionLo float32    `json:"action_lo"`
	ActionHi float32    `json:"action_hi"`
	Best     int        `json:"best"`
	Bins     []binStats `json:"bins"`
}

func (e *stateEntry) bin(action float32) int {
	n := len(e.Bins)
	if e.ActionHi <= e.ActionLo {
		return 0
	}
	pos := float64(action-e.ActionLo) / float64(e.ActionHi-e.ActionLo) * float64(n)
	return max(0, min(n-1, int(math.Floor(pos))))
}

// EmpiricalPolicy is the trained table. It is read-only after Train or Load.
type EmpiricalPolicy struct {
	Regime  generator.Regime `json:"regime"`
	Width   int              `json:"width"`
	Entries []stateEntry     `json:"entries"`

	index map[string]int
}

func (t EmpiricalTrainer) Train(ctx context.Context, buf *replay.Buffer) (Policy, error) {
	return t.TrainEmpirical(ctx, buf)
}

func (t EmpiricalTrainer) TrainEmpirical(ctx context.Context, buf *replay.Buffer) (*EmpiricalPolicy, error) {
	t = t.withDefaults()
	if buf == nil || buf.Len() == 0 {
		return nil, fmt.Errorf("train %s: empty buffer", bufRegime(buf))
	}
	type sample struct {
		action float32
		reward float32
	}
	groups := map[string][]sample{}
	states := map[string][]float32{}
	var order []string
	for _, ep := range buf.Episodes {
		for i := range ep.Actions {
			key := stateKey(ep.Observations[i])
			if _, ok := groups[key]; !ok {
				order = append(order, key)
				states[key] = ep.Observations[i]
			}
			groups[key] = append(groups[key], sample{ep.Actions[i], ep.Rewards[i]})
		}
	}
	p := &EmpiricalPolicy{Regime: buf.Regime, Width: buf.Schema.Width()}
	for n, key := range order {
		if n%64 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		samples := groups[key]
		entry := stateEntry{State: states[key], ActionLo: samples[0].action, ActionHi: samples[0].action}
		for _, s := range samples {
			entry.ActionLo = min(entry.ActionLo, s.action)
			entry.ActionHi = max(entry.ActionHi, s.action)
		}
		entry.Bins = make([]binStats, t.ActionBins)
		rewards := make([][]float64, t.ActionBins)
		actionSum := make([]float64, t.ActionBins)
		for _, s := range samples {
			b := entry.bin(s.action)
			rewards[b] = append(rewards[b], float64(s.reward))
			actionSum[b] += float64(s.action)
		}
		for b := range entry.Bins {
			if len(rewards[b]) == 0 {
				continue
			}
			stats := binStats{Count: len(rewards[b]), MeanAction: float32(actionSum[b] / float64(len(rewards[b])))}
			var sum float64
			for _, r := range rewards[b] {
				sum += r
			}
			stats.MeanReward = sum / float64(len(rewards[b]))
			stats.Quantiles = quantiles(rewards[b], t.Quantiles)
			entry.Bins[b] = stats
		}
		entry.Best = pickBest(entry.Bins, t.MinSupport)
		p.Entries = append(p.Entries, entry)
	}
	p.buildIndex()
	logger.Infof("policy: trained empirical %s policy states=%d samples=%d bins=%d", buf.Regime, len(p.Entries), buf.Len(), t.ActionBins)
	return p, nil
}

func bufRegime(buf *replay.Buffer) generator.Regime {
	if buf == nil {
		return ""
	}
	return buf.Regime
}

func quantiles(values []float64, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		q := float64(i) * 100 / float64(n-1)
		v, _ := risk.Percentile(values, q)
		out[i] = float32(v)
	}
	return out
}

func pickBest(bins []binStats, minSupport int) int {
	best, fallback := -1, -1
	for b, s := range bins {
		if s.Count == 0 {
			continue
		}
		if fallback < 0 || s.MeanReward > bins[fallback].MeanReward {
			fallback = b
		}
		if s.Count >= minSupport && (best < 0 || s.MeanReward > bins[best].MeanReward) {
			best = b
		}
	}
	if best < 0 {
		return fallback
	}
	return best
}

func (p *EmpiricalPolicy) buildIndex() {
	p.index = make(map[string]int, len(p.Entries))
	for i, e := range p.Entries {
		p.index[stateKey(e.State)] = i
	}
}

// lookup returns the exact entry or the nearest stored state.
func (p *EmpiricalPolicy) lookup(state []float32) (*stateEntry, error) {
	if len(p.Entries) == 0 {
		return nil, fmt.Errorf("%w: policy has no states", ErrMalformedOutput)
	}
	if len(state) != p.Width {
		return nil, fmt.Errorf("%w: got %d want %d", ErrWidth, len(state), p.Width)
	}
	if i, ok := p.index[stateKey(state)]; ok {
		return &p.Entries[i], nil
	}
	best, bestDist := 0, math.Inf(1)
	for i := range p.Entries {
		if d := sqDist(state, p.Entries[i].State); d < bestDist {
			best, bestDist = i, d
		}
	}
	return &p.Entries[best], nil
}

func (p *EmpiricalPolicy) Predict(_ context.Context, state []float32) (float32, error) {
	e, err := p.lookup(state)
	if err != nil {
		return 0, err
	}
	return e.Bins[e.Best].MeanAction, nil
}

func (p *EmpiricalPolicy) PredictValue(_ context.Context, state []float32, action float32) ([]float32, error) {
	e, err := p.lookup(state)
	if err != nil {
		return nil, err
	}
	b := e.bin(action)
	// nearest populated bin
	for d := 0; d < len(e.Bins); d++ {
		for _, c := range []int{b - d, b + d} {
			if c >= 0 && c < len(e.Bins) && e.Bins[c].Count > 0 {
				return append([]float32(nil), e.Bins[c].Quantiles...), nil
			}
		}
	}
	return nil, fmt.Errorf("%w: state has no populated bins", ErrMalformedOutput)
}

func (p *EmpiricalPolicy) WriteFile(path string) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}

// LoadEmpirical reads a policy written by WriteFile.
func LoadEmpirical(path string) (*EmpiricalPolicy, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var p EmpiricalPolicy
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode policy %s: %w", path, err)
	}
	if len(p.Entries) == 0 {
		return nil, fmt.Errorf("%w: policy %s has no states", ErrMalformedOutput, path)
	}
	for i, e := range p.Entries {
		if len(e.State) != p.Width || e.Best < 0 || e.Best >= len(e.Bins) || e.Bins[e.Best].Count == 0 {
			return nil, fmt.Errorf("%w: policy %s entry %d is inconsistent", ErrMalformedOutput, path, i)
		}
	}
	p.buildIndex()
	return &p, nil
}
