// Package risk computes lower-tail statistics over a quantile sample.
package risk

import (
	"errors"
	"math"
	"sort"
)

// DefaultLevel is the tail percentile used for VaR and CVaR.
const DefaultLevel = 5.0

var (
	ErrEmptySample = errors.New("risk: empty quantile sample")
	ErrNonFinite   = errors.New("risk: non-finite value in quantile sample")
)

// Summary is the tail profile of one distribution.
type Summary struct {
	Mean float64
	VaR  float64
	CVaR float64
}

func sorted(values []float64) ([]float64, error) {
	if len(values) == 0 {
		return nil, ErrEmptySample
	}
	out := make([]float64, len(values))
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, ErrNonFinite
		}
		out[i] = v
	}
	sort.Float64s(out)
	return out, nil
}

// Percentile interpolates linearly between the closest ranks, q in [0,100].
func Percentile(values []float64, q float64) (float64, error) {
	s, err := sorted(values)
	if err != nil {
		return 0, err
	}
	return percentileSorted(s, q), nil
}

func percentileSorted(s []float64, q float64) float64 {
	q = math.Max(0, math.Min(100, q))
	h := float64(len(s)-1) * q / 100
	lo := int(math.Floor(h))
	if lo >= len(s)-1 {
		return s[len(s)-1]
	}
	frac := h - float64(lo)
	return s[lo] + frac*(s[lo+1]-s[lo])
}

// Tail returns VaR at level and CVaR as the mean of values at or below it.
// When no value falls at or below VaR, CVaR equals VaR.
func Tail(values []float64, level float64) (Summary, error) {
	s, err := sorted(values)
	if err != nil {
		return Summary{}, err
	}
	var total float64
	for _, v := range s {
		total += v
	}
	out := Summary{Mean: total / float64(len(s))}
	out.VaR = percentileSorted(s, level)

	var tail float64
	n := 0
	for _, v := range s {
		if v > out.VaR {
			break
		}
		tail += v
		n++
	}
	out.CVaR = out.VaR
	if n > 0 {
		out.CVaR = tail / float64(n)
	}
	return out, nil
}

// VaR5 and CVaR5 are shorthands at DefaultLevel.
func VaR5(values []float64) (float64, error) {
	s, err := Tail(values, DefaultLevel)
	return s.VaR, err
}

func CVaR5(values []float64) (float64, error) {
	s, err := Tail(values, DefaultLevel)
	return s.CVaR, err
}
