package features

import (
	"fmt"

	"github.com/raphalvezz/loocac/internal/generator"
)

// Schema is the ordered column list a state vector must follow.
type Schema struct {
	Regime  generator.Regime `json:"regime"`
	Columns []string         `json:"columns"`
}

func (s Schema) Width() int { return len(s.Columns) }

// Equal compares column order exactly.
func (s Schema) Equal(o Schema) bool {
	if s.Regime != o.Regime || len(s.Columns) != len(o.Columns) {
		return false
	}
	for i := range s.Columns {
		if s.Columns[i] != o.Columns[i] {
			return false
		}
	}
	return true
}

func (s Schema) validate() error {
	if len(s.Columns) == 0 {
		return fmt.Errorf("%w: %s schema is empty", ErrSchemaMismatch, s.Regime)
	}
	seen := make(map[string]struct{}, len(s.Columns))
	for _, c := range s.Columns {
		if _, dup := seen[c]; dup {
			return fmt.Errorf("%w: %s schema repeats column %q", ErrSchemaMismatch, s.Regime, c)
		}
		seen[c] = struct{}{}
	}
	return nil
}
