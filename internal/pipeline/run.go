package pipeline

import (
	"sync"
	"time"

	"github.com/raphalvezz/loocac/internal/artifact"
	"github.com/raphalvezz/loocac/internal/features"
	"github.com/raphalvezz/loocac/internal/generator"
	"github.com/raphalvezz/loocac/internal/policy"
	"github.com/raphalvezz/loocac/internal/replay"
	"github.com/raphalvezz/loocac/internal/scenario"
	"github.com/raphalvezz/loocac/internal/store"
)

// Run carries the outputs of one pipeline execution from stage to stage.
// Stages in the same order run concurrently, so every field is guarded.
type Run struct {
	ID        string
	Trigger   string
	StartedAt time.Time

	mu        sync.RWMutex
	catalog   *scenario.Catalog
	dataset   *generator.Dataset
	features  *features.Pipeline
	buffers   map[generator.Regime]*replay.Buffer
	policies  map[generator.Regime]policy.Policy
	estimator *policy.ProfitEstimator
	policyURL string
	manifest  *artifact.Manifest
	timings   []store.StageTiming
	warnings  []string
}

func NewRun(id, trigger string, catalog *scenario.Catalog) *Run {
	return &Run{
		ID:        id,
		Trigger:   trigger,
		StartedAt: time.Now(),
		catalog:   catalog,
		buffers:   make(map[generator.Regime]*replay.Buffer, 2),
		policies:  make(map[generator.Regime]policy.Policy, 2),
	}
}

func (r *Run) Catalog() *scenario.Catalog {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.catalog
}

func (r *Run) SetDataset(ds *generator.Dataset) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dataset = ds
}

func (r *Run) Dataset() *generator.Dataset {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.dataset
}

func (r *Run) SetFeatures(p *features.Pipeline) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.features = p
}

func (r *Run) Features() *features.Pipeline {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.features
}

func (r *Run) SetBuffer(regime generator.Regime, b *replay.Buffer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buffers[regime] = b
}

func (r *Run) Buffer(regime generator.Regime) *replay.Buffer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.buffers[regime]
}

func (r *Run) SetPolicy(regime generator.Regime, p policy.Policy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policies[regime] = p
}

func (r *Run) Policy(regime generator.Regime) policy.Policy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.policies[regime]
}

// SetPolicyURL records that policies are served out of process.
func (r *Run) SetPolicyURL(url string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policyURL = url
}

func (r *Run) SetEstimator(e *policy.ProfitEstimator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.estimator = e
}

func (r *Run) Estimator() *policy.ProfitEstimator {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.estimator
}

// Contents snapshots everything a release needs.
func (r *Run) Contents() artifact.Contents {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c := artifact.Contents{
		Pipeline:  r.features,
		Buffers:   make(map[generator.Regime]*replay.Buffer, len(r.buffers)),
		Policies:  make(map[generator.Regime]policy.Policy, len(r.policies)),
		PolicyURL: r.policyURL,
		Estimator: r.estimator,
	}
	for k, v := range r.buffers {
		c.Buffers[k] = v
	}
	for k, v := range r.policies {
		c.Policies[k] = v
	}
	if r.dataset != nil {
		c.Supervised = r.dataset.Supervised
	}
	return c
}

func (r *Run) SetManifest(m artifact.Manifest) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.manifest = &m
}

// Manifest is nil until the release has been published.
func (r *Run) Manifest() *artifact.Manifest {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.manifest == nil {
		return nil
	}
	m := *r.manifest
	return &m
}

func (r *Run) addTiming(t store.StageTiming) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.timings = append(r.timings, t)
}

func (r *Run) Timings() []store.StageTiming {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]store.StageTiming, len(r.timings))
	copy(out, r.timings)
	return out
}

func (r *Run) AddWarning(msg string) {
	if msg == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.warnings = append(r.warnings, msg)
}

func (r *Run) Warnings() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.warnings))
	copy(out, r.warnings)
	return out
}
