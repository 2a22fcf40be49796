package artifact

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/raphalvezz/loocac/internal/features"
	"github.com/raphalvezz/loocac/internal/generator"
	"github.com/raphalvezz/loocac/internal/policy"
)

// RegimeScalers map actions and rewards between real and training units.
type RegimeScalers struct {
	Action features.ValueScaler `json:"action"`
	Reward features.ValueScaler `json:"reward"`
}

// Bundle is a fully loaded, verified release. It is immutable once built.
type Bundle struct {
	Manifest  Manifest
	Pipeline  *features.Pipeline
	Scalers   map[generator.Regime]RegimeScalers
	Policies  map[generator.Regime]policy.Policy
	Estimator *policy.ProfitEstimator
	LoadedAt  time.Time
}

// LoadOptions tune how remote policies are reached.
type LoadOptions struct {
	PolicyTimeout time.Duration
}

// Load reads the current release.
func (s *Store) LoadCurrent(opts LoadOptions) (*Bundle, error) {
	id, err := s.Current()
	if err != nil {
		return nil, err
	}
	return s.Load(id, opts)
}

// Load verifies checksums and the schema contract before returning.
func (s *Store) Load(id string, opts LoadOptions) (*Bundle, error) {
	m, err := s.ReadManifest(id)
	if err != nil {
		return nil, err
	}
	dir := s.ReleaseDir(id)
	for name, want := range m.Files {
		got, err := fileSHA256(filepath.Join(dir, name))
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s/%s", ErrMissingArtifact, id, name)
		}
		if err != nil {
			return nil, err
		}
		if got != want {
			return nil, fmt.Errorf("%w: %s/%s", ErrChecksum, id, name)
		}
	}
	require := func(name string) (string, error) {
		if _, ok := m.Files[name]; !ok {
			return "", fmt.Errorf("%w: %s/%s", ErrMissingArtifact, id, name)
		}
		return filepath.Join(dir, name), nil
	}

	path, err := require(FileFeatures)
	if err != nil {
		return nil, err
	}
	fitted, err := features.ReadFile(path)
	if err != nil {
		return nil, err
	}
	schemas := map[generator.Regime]features.Schema{}
	for _, r := range Regimes {
		path, err := require(SchemaFile(r))
		if err != nil {
			return nil, err
		}
		sc, err := features.ReadSchema(path, r)
		if err != nil {
			return nil, err
		}
		if want, ok := m.SchemaWidths[r]; ok && want != sc.Width() {
			return nil, fmt.Errorf("%w: %s schema has %d columns, manifest says %d", features.ErrSchemaMismatch, r, sc.Width(), want)
		}
		schemas[r] = sc
	}
	pipeline, err := fitted.WithSchemas(schemas[generator.RegimeOneShot], schemas[generator.RegimeSubscription])
	if err != nil {
		return nil, err
	}

	path, err = require(FileScalers)
	if err != nil {
		return nil, err
	}
	scalers := map[generator.Regime]RegimeScalers{}
	if err := readJSON(path, &scalers); err != nil {
		return nil, err
	}
	for _, r := range Regimes {
		if _, ok := scalers[r]; !ok {
			return nil, fmt.Errorf("%w: %s scalers for %s", ErrMissingArtifact, id, r)
		}
	}

	policies := map[generator.Regime]policy.Policy{}
	for _, r := range Regimes {
		ref, ok := m.Policies[r]
		if !ok {
			return nil, fmt.Errorf("%w: %s policy for %s", ErrMissingArtifact, id, r)
		}
		switch ref.Kind {
		case PolicyKindEmpirical:
			path, err := require(PolicyFile(r))
			if err != nil {
				return nil, err
			}
			p, err := policy.LoadEmpirical(path)
			if err != nil {
				return nil, err
			}
			if p.Width != schemas[r].Width() {
				return nil, fmt.Errorf("%w: %s policy trained on width %d, schema has %d", features.ErrSchemaMismatch, r, p.Width, schemas[r].Width())
			}
			policies[r] = p
		case PolicyKindHTTP:
			p, err := policy.NewHTTPPolicy(ref.URL, string(r), opts.PolicyTimeout)
			if err != nil {
				return nil, err
			}
			policies[r] = p
		default:
			return nil, fmt.Errorf("%w: unknown policy kind %q", ErrVersionMismatch, ref.Kind)
		}
	}

	b := &Bundle{
		Manifest: m,
		Pipeline: pipeline,
		Scalers:  scalers,
		Policies: policies,
		LoadedAt: time.Now(),
	}
	if _, ok := m.Files[FileEstimator]; ok {
		est, err := policy.LoadProfitEstimator(filepath.Join(dir, FileEstimator))
		if err != nil {
			return nil, err
		}
		if est.Width != schemas[generator.RegimeOneShot].Width() {
			return nil, fmt.Errorf("%w: profit estimator width %d", features.ErrSchemaMismatch, est.Width)
		}
		b.Estimator = est
	}
	return b, nil
}

func readJSON(path string, v any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return nil
}
