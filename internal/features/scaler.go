package features

import (
	"fmt"
	"math"
)

// ValueScaler standardises a single column: (x - mean) / scale.
type ValueScaler struct {
	Name  string  `json:"name"`
	Mean  float64 `json:"mean"`
	Scale float64 `json:"scale"`
}

// FitValues uses the population standard deviation; a constant column gets scale 1.
func FitValues(name string, values []float64) (ValueScaler, error) {
	if len(values) == 0 {
		return ValueScaler{}, fmt.Errorf("fit scaler %s: no values", name)
	}
	var sum float64
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return ValueScaler{}, fmt.Errorf("fit scaler %s: non-finite value", name)
		}
		sum += v
	}
	mean := sum / float64(len(values))
	var ss float64
	for _, v := range values {
		d := v - mean
		ss += d * d
	}
	std := math.Sqrt(ss / float64(len(values)))
	if std == 0 || math.IsNaN(std) {
		std = 1
	}
	return ValueScaler{Name: name, Mean: mean, Scale: std}, nil
}

func (s ValueScaler) Normalize(x float64) float64 {
	return (x - s.Mean) / s.scale()
}

func (s ValueScaler) Denormalize(z float64) float64 {
	return z*s.scale() + s.Mean
}

func (s ValueScaler) scale() float64 {
	if s.Scale == 0 {
		return 1
	}
	return s.Scale
}

// StandardScaler is an ordered block of column scalers.
type StandardScaler struct {
	Columns []ValueScaler `json:"columns"`
}

// FitStandard fits one scaler per field; get extracts the value of field from row i.
func FitStandard(fields []string, n int, get func(i int, field string) float64) (*StandardScaler, error) {
	out := &StandardScaler{}
	values := make([]float64, n)
	for _, field := range fields {
		for i := 0; i < n; i++ {
			values[i] = get(i, field)
		}
		col, err := FitValues(field, values)
		if err != nil {
			return nil, err
		}
		out.Columns = append(out.Columns, col)
	}
	return out, nil
}

func (s *StandardScaler) Names() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return names
}
