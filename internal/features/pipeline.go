// Package features turns campaign states into fixed-order state vectors. The
// fitted Pipeline is shared by generation and serving and must not change
// after Fit or Load returns.
package features

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/raphalvezz/loocac/internal/generator"
)

type sourceKind int

const (
	sourceMissing sourceKind = iota
	sourceCategorical
	sourceBase
	sourceMemory
)

type columnSource struct {
	kind  sourceKind
	index int
}

// Pipeline is the fitted encoder, scalers and the two schemas.
type Pipeline struct {
	Encoder      *OneHotEncoder  `json:"encoder"`
	BaseScaler   *StandardScaler `json:"base_scaler"`
	MemoryScaler *StandardScaler `json:"memory_scaler"`
	Base         Schema          `json:"base_schema"`
	Subscription Schema          `json:"subscription_schema"`

	plans map[generator.Regime][]columnSource
}

// Fit learns the vocabulary from the one-shot observations and the memory
// scaler from the subscription observations.
func Fit(oneShot, subscription []generator.CampaignState) (*Pipeline, error) {
	if len(oneShot) == 0 || len(subscription) == 0 {
		return nil, fmt.Errorf("fit feature pipeline: empty transition set")
	}
	enc, err := FitOneHot(generator.CategoricalFields, oneShot)
	if err != nil {
		return nil, err
	}
	base, err := FitStandard(generator.BaseNumericFields, len(oneShot), func(i int, f string) float64 {
		v, _ := oneShot[i].Numeric(f)
		return v
	})
	if err != nil {
		return nil, err
	}
	memory, err := FitStandard(generator.MemoryFields, len(subscription), func(i int, f string) float64 {
		v, _ := subscription[i].Numeric(f)
		return v
	})
	if err != nil {
		return nil, err
	}
	baseCols := append(enc.FeatureNames(), base.Names()...)
	subCols := append(append([]string(nil), baseCols...), memory.Names()...)
	p := &Pipeline{
		Encoder:      enc,
		BaseScaler:   base,
		MemoryScaler: memory,
		Base:         Schema{Regime: generator.RegimeOneShot, Columns: baseCols},
		Subscription: Schema{Regime: generator.RegimeSubscription, Columns: subCols},
	}
	if err := p.Prepare(); err != nil {
		return nil, err
	}
	return p, nil
}

// Prepare checks that both schemas are satisfiable by the fitted encoder and
// scalers and caches the column mapping. Call once after unmarshalling.
func (p *Pipeline) Prepare() error {
	if p == nil || p.Encoder == nil || p.BaseScaler == nil {
		return ErrNotFitted
	}
	if err := p.Encoder.validate(); err != nil {
		return err
	}
	if p.Encoder.index == nil {
		p.Encoder.buildIndex()
	}
	p.Base.Regime = generator.RegimeOneShot
	p.Subscription.Regime = generator.RegimeSubscription
	plans := make(map[generator.Regime][]columnSource, 2)
	for _, schema := range []Schema{p.Base, p.Subscription} {
		plan, err := p.plan(schema)
		if err != nil {
			return err
		}
		plans[schema.Regime] = plan
	}
	p.plans = plans
	return nil
}

func (p *Pipeline) plan(schema Schema) ([]columnSource, error) {
	if err := schema.validate(); err != nil {
		return nil, err
	}
	produced := map[string]columnSource{}
	for i, name := range p.Encoder.FeatureNames() {
		produced[name] = columnSource{kind: sourceCategorical, index: i}
	}
	for i, name := range p.BaseScaler.Names() {
		produced[name] = columnSource{kind: sourceBase, index: i}
	}
	if schema.Regime == generator.RegimeSubscription {
		if p.MemoryScaler == nil {
			return nil, fmt.Errorf("%w: subscription schema needs a memory scaler", ErrSchemaMismatch)
		}
		for i, name := range p.MemoryScaler.Names() {
			produced[name] = columnSource{kind: sourceMemory, index: i}
		}
	}
	plan := make([]columnSource, len(schema.Columns))
	used := 0
	for i, col := range schema.Columns {
		src, ok := produced[col]
		switch {
		case ok:
			plan[i] = src
			used++
		case isMemoryField(col):
			plan[i] = columnSource{kind: sourceMissing}
		default:
			return nil, fmt.Errorf("%w: %s column %q is not produced by the fitted encoders", ErrSchemaMismatch, schema.Regime, col)
		}
	}
	if used != len(produced) {
		return nil, fmt.Errorf("%w: %s schema covers %d of %d encoded columns", ErrSchemaMismatch, schema.Regime, used, len(produced))
	}
	return plan, nil
}

func isMemoryField(col string) bool {
	for _, f := range generator.MemoryFields {
		if f == col {
			return true
		}
	}
	return false
}

// WithSchemas returns a copy of p that encodes against the given persisted
// column orders. It fails with ErrSchemaMismatch when they cannot be satisfied.
func (p *Pipeline) WithSchemas(base, subscription Schema) (*Pipeline, error) {
	if p == nil || p.Encoder == nil {
		return nil, ErrNotFitted
	}
	cp := &Pipeline{
		Encoder:      p.Encoder,
		BaseScaler:   p.BaseScaler,
		MemoryScaler: p.MemoryScaler,
		Base:         base,
		Subscription: subscription,
	}
	if err := cp.Prepare(); err != nil {
		return nil, err
	}
	return cp, nil
}

// Schema returns the persisted column order for regime.
func (p *Pipeline) Schema(regime generator.Regime) (Schema, error) {
	switch regime {
	case generator.RegimeOneShot:
		return p.Base, nil
	case generator.RegimeSubscription:
		return p.Subscription, nil
	}
	return Schema{}, fmt.Errorf("unknown regime %q", regime)
}

// Transform encodes state against the persisted schema of regime. The result
// length always equals the schema width.
func (p *Pipeline) Transform(state generator.CampaignState, regime generator.Regime) ([]float32, error) {
	if p == nil || p.plans == nil {
		return nil, ErrNotFitted
	}
	plan, ok := p.plans[regime]
	if !ok {
		return nil, fmt.Errorf("unknown regime %q", regime)
	}
	cat, err := p.Encoder.Transform(make([]float64, 0, p.Encoder.Width()), state)
	if err != nil {
		return nil, err
	}
	out := make([]float32, len(plan))
	for i, src := range plan {
		var v float64
		switch src.kind {
		case sourceCategorical:
			v = cat[src.index]
		case sourceBase:
			col := p.BaseScaler.Columns[src.index]
			raw, _ := state.Numeric(col.Name)
			v = col.Normalize(raw)
		case sourceMemory:
			col := p.MemoryScaler.Columns[src.index]
			raw, _ := state.Numeric(col.Name)
			v = col.Normalize(raw)
		}
		out[i] = float32(v)
	}
	return out, nil
}

// TransformBatch encodes many states with the same schema.
func (p *Pipeline) TransformBatch(states []generator.CampaignState, regime generator.Regime) ([][]float32, error) {
	out := make([][]float32, len(states))
	for i, s := range states {
		v, err := p.Transform(s, regime)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

// requiredCategorical are the fields a recommendation request must carry.
var requiredCategorical = []string{
	generator.FieldRegion, generator.FieldPlatform, generator.FieldTier,
	generator.FieldAgeBand, generator.FieldGender, generator.FieldContentType,
}

// Validate rejects states that cannot be encoded meaningfully.
func Validate(state generator.CampaignState, regime generator.Regime) error {
	if !regime.Valid() {
		return &EncodingError{Field: "regime", Value: string(regime), Reason: "unknown regime"}
	}
	for _, f := range requiredCategorical {
		v, _ := state.Categorical(f)
		if strings.TrimSpace(v) == "" {
			return &EncodingError{Field: f, Reason: "required"}
		}
	}
	fields := generator.BaseNumericFields
	if regime == generator.RegimeSubscription {
		fields = append(append([]string(nil), fields...), generator.MemoryFields...)
	}
	for _, f := range fields {
		v, _ := state.Numeric(f)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return &EncodingError{Field: f, Value: fmt.Sprint(v), Reason: "must be finite"}
		}
		if v < 0 {
			return &EncodingError{Field: f, Value: fmt.Sprint(v), Reason: "must be >= 0"}
		}
	}
	if state.Budget <= 0 {
		return &EncodingError{Field: generator.FieldBudget, Value: fmt.Sprint(state.Budget), Reason: "must be > 0"}
	}
	return nil
}

// WriteFile persists the fitted pipeline as JSON.
func (p *Pipeline) WriteFile(path string) error {
	if p == nil || p.Encoder == nil {
		return ErrNotFitted
	}
	raw, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}

// ReadFile loads and prepares a pipeline.
func ReadFile(path string) (*Pipeline, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var p Pipeline
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode feature pipeline: %w", err)
	}
	if err := p.Prepare(); err != nil {
		return nil, err
	}
	return &p, nil
}

// WriteSchema writes the ordered column names as a JSON list.
func WriteSchema(path string, s Schema) error {
	raw, err := json.MarshalIndent(s.Columns, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}

// ReadSchema reads a JSON column list written by WriteSchema.
func ReadSchema(path string, regime generator.Regime) (Schema, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Schema{}, err
	}
	var cols []string
	if err := json.Unmarshal(raw, &cols); err != nil {
		return Schema{}, fmt.Errorf("%w: decode %s schema: %v", ErrSchemaMismatch, regime, err)
	}
	return Schema{Regime: regime, Columns: cols}, nil
}
