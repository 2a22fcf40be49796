// Package policy defines the contract with the offline learner and ships a
// reference trainer, a remote client and the supervised profit estimator.
package policy

import (
	"context"
	"encoding/binary"
	"errors"
	"math"

	"github.com/raphalvezz/loocac/internal/replay"
)

// Policy maps a normalised state vector to a normalised action and to the
// normalised reward quantiles of a (state, action) pair.
type Policy interface {
	Predict(ctx context.Context, state []float32) (float32, error)
	PredictValue(ctx context.Context, state []float32, action float32) ([]float32, error)
}

// Trainer turns a replay buffer into a Policy.
type Trainer interface {
	Train(ctx context.Context, buf *replay.Buffer) (Policy, error)
}

// Persistable policies can be written next to the other release artifacts.
type Persistable interface {
	Policy
	WriteFile(path string) error
}

var (
	ErrMalformedOutput = errors.New("policy returned malformed output")
	ErrWidth           = errors.New("state width does not match policy")
)

func stateKey(v []float32) string {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(x))
	}
	return string(buf)
}

func sqDist(a, b []float32) float64 {
	var d float64
	for i := range a {
		x := float64(a[i]) - float64(b[i])
		d += x * x
	}
	return d
}

func finite(vs ...float32) bool {
	for _, v := range vs {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}
