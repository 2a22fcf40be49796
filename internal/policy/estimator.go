package policy

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/raphalvezz/loocac/internal/features"
	"github.com/raphalvezz/loocac/internal/generator"
)

// ProfitEstimator is the supervised point estimate of profit for a state:
// the mean realised profit of training rows with the same encoded state,
// falling back to the global mean.
type ProfitEstimator struct {
	Width  int              `json:"width"`
	Global float64          `json:"global"`
	States []estimatorEntry `json:"states"`

	index map[string]float64
}

type estimatorEntry struct {
	State []float32 `json:"state"`
	Mean  float64   `json:"mean"`
	Count int       `json:"count"`
}

// FitProfitEstimator encodes rows with the one-shot schema.
func FitProfitEstimator(p *features.Pipeline, rows []generator.SupervisedRow) (*ProfitEstimator, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("fit profit estimator: no rows")
	}
	type acc struct {
		state []float32
		sum   float64
		n     int
	}
	groups := map[string]*acc{}
	var order []string
	var total float64
	for i, row := range rows {
		vec, err := p.Transform(row.State, generator.RegimeOneShot)
		if err != nil {
			return nil, fmt.Errorf("fit profit estimator row %d: %w", i, err)
		}
		key := stateKey(vec)
		a, ok := groups[key]
		if !ok {
			a = &acc{state: vec}
			groups[key] = a
			order = append(order, key)
		}
		a.sum += row.RealizedProfit
		a.n++
		total += row.RealizedProfit
	}
	est := &ProfitEstimator{Width: p.Base.Width(), Global: total / float64(len(rows))}
	for _, key := range order {
		a := groups[key]
		est.States = append(est.States, estimatorEntry{State: a.state, Mean: a.sum / float64(a.n), Count: a.n})
	}
	est.buildIndex()
	return est, nil
}

func (e *ProfitEstimator) buildIndex() {
	e.index = make(map[string]float64, len(e.States))
	for _, s := range e.States {
		e.index[stateKey(s.State)] = s.Mean
	}
}

// Predict takes a one-shot state vector.
func (e *ProfitEstimator) Predict(state []float32) (float64, error) {
	if len(state) != e.Width {
		return 0, fmt.Errorf("%w: got %d want %d", ErrWidth, len(state), e.Width)
	}
	if v, ok := e.index[stateKey(state)]; ok {
		return v, nil
	}
	return e.Global, nil
}

func (e *ProfitEstimator) WriteFile(path string) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}

func LoadProfitEstimator(path string) (*ProfitEstimator, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var e ProfitEstimator
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("decode profit estimator: %w", err)
	}
	e.buildIndex()
	return &e, nil
}
