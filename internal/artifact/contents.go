package artifact

import (
	"fmt"

	"github.com/raphalvezz/loocac/internal/features"
	"github.com/raphalvezz/loocac/internal/generator"
	"github.com/raphalvezz/loocac/internal/policy"
	"github.com/raphalvezz/loocac/internal/replay"
)

// Contents is everything a release is built from.
type Contents struct {
	Pipeline   *features.Pipeline
	Buffers    map[generator.Regime]*replay.Buffer
	Policies   map[generator.Regime]policy.Policy
	PolicyURL  string
	Estimator  *policy.ProfitEstimator
	Supervised []generator.SupervisedRow
}

// Write stores c into the staging directory and returns the manifest fields
// that describe it.
func (st *Staging) Write(c Contents) (Manifest, error) {
	m := Manifest{
		SchemaWidths: map[generator.Regime]int{},
		Policies:     map[generator.Regime]PolicyRef{},
	}
	if c.Pipeline == nil {
		return m, features.ErrNotFitted
	}
	if err := c.Pipeline.WriteFile(st.Path(FileFeatures)); err != nil {
		return m, err
	}
	scalers := map[generator.Regime]RegimeScalers{}
	for _, r := range Regimes {
		schema, err := c.Pipeline.Schema(r)
		if err != nil {
			return m, err
		}
		if err := features.WriteSchema(st.Path(SchemaFile(r)), schema); err != nil {
			return m, err
		}
		m.SchemaWidths[r] = schema.Width()

		buf, ok := c.Buffers[r]
		if !ok {
			return m, fmt.Errorf("%w: no %s replay buffer", ErrMissingArtifact, r)
		}
		if err := buf.WriteFile(st.Path(ReplayFile(r))); err != nil {
			return m, err
		}
		scalers[r] = RegimeScalers{Action: buf.ActionScaler, Reward: buf.RewardScaler}

		switch p := c.Policies[r].(type) {
		case nil:
			return m, fmt.Errorf("%w: no %s policy", ErrMissingArtifact, r)
		case *policy.HTTPPolicy:
			m.Policies[r] = PolicyRef{Kind: PolicyKindHTTP, URL: c.PolicyURL}
		case policy.Persistable:
			if err := p.WriteFile(st.Path(PolicyFile(r))); err != nil {
				return m, err
			}
			m.Policies[r] = PolicyRef{Kind: PolicyKindEmpirical}
		default:
			return m, fmt.Errorf("%s policy %T cannot be persisted", r, p)
		}
	}
	if err := st.WriteJSON(FileScalers, scalers); err != nil {
		return m, err
	}
	if c.Estimator != nil {
		if err := c.Estimator.WriteFile(st.Path(FileEstimator)); err != nil {
			return m, err
		}
	}
	if len(c.Supervised) > 0 {
		if err := generator.SaveSupervisedCSV(st.Path(FileSupervised), c.Supervised); err != nil {
			return m, err
		}
	}
	return m, nil
}
