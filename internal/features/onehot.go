package features

import (
	"fmt"
	"sort"

	"github.com/raphalvezz/loocac/internal/generator"
)

// OneHotEncoder expands categorical fields into indicator columns. Unknown
// values encode as all zeros for their field.
type OneHotEncoder struct {
	Fields     []string   `json:"fields"`
	Categories [][]string `json:"categories"`

	index []map[string]int
}

// FitOneHot collects the sorted vocabulary of each field.
func FitOneHot(fields []string, rows []generator.CampaignState) (*OneHotEncoder, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("fit one-hot encoder: no rows")
	}
	enc := &OneHotEncoder{Fields: append([]string(nil), fields...)}
	for _, field := range fields {
		seen := map[string]struct{}{}
		for _, row := range rows {
			v, ok := row.Categorical(field)
			if !ok {
				return nil, fmt.Errorf("fit one-hot encoder: unknown field %q", field)
			}
			seen[v] = struct{}{}
		}
		cats := make([]string, 0, len(seen))
		for v := range seen {
			cats = append(cats, v)
		}
		sort.Strings(cats)
		enc.Categories = append(enc.Categories, cats)
	}
	enc.buildIndex()
	return enc, nil
}

func (e *OneHotEncoder) buildIndex() {
	e.index = make([]map[string]int, len(e.Categories))
	for i, cats := range e.Categories {
		m := make(map[string]int, len(cats))
		for j, c := range cats {
			m[c] = j
		}
		e.index[i] = m
	}
}

func (e *OneHotEncoder) validate() error {
	if e == nil || len(e.Fields) == 0 {
		return ErrNotFitted
	}
	if len(e.Fields) != len(e.Categories) {
		return fmt.Errorf("%w: encoder has %d fields but %d category lists", ErrSchemaMismatch, len(e.Fields), len(e.Categories))
	}
	return nil
}

func (e *OneHotEncoder) lookup(i int, v string) (int, bool) {
	if e.index != nil {
		j, ok := e.index[i][v]
		return j, ok
	}
	for j, c := range e.Categories[i] {
		if c == v {
			return j, true
		}
	}
	return 0, false
}

// FeatureNames lists output columns as field_value in encoding order.
func (e *OneHotEncoder) FeatureNames() []string {
	var names []string
	for i, field := range e.Fields {
		for _, c := range e.Categories[i] {
			names = append(names, field+"_"+c)
		}
	}
	return names
}

func (e *OneHotEncoder) Width() int {
	n := 0
	for _, cats := range e.Categories {
		n += len(cats)
	}
	return n
}

// Transform appends the indicator block for state to dst.
func (e *OneHotEncoder) Transform(dst []float64, state generator.CampaignState) ([]float64, error) {
	if err := e.validate(); err != nil {
		return nil, err
	}
	for i, field := range e.Fields {
		v, ok := state.Categorical(field)
		if !ok {
			return nil, fmt.Errorf("%w: encoder field %q is not a campaign attribute", ErrSchemaMismatch, field)
		}
		block := make([]float64, len(e.Categories[i]))
		if j, known := e.lookup(i, v); known {
			block[j] = 1
		}
		dst = append(dst, block...)
	}
	return dst, nil
}
