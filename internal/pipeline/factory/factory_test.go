package factory

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphalvezz/loocac/internal/artifact"
	"github.com/raphalvezz/loocac/internal/generator"
	"github.com/raphalvezz/loocac/internal/pipeline"
	"github.com/raphalvezz/loocac/internal/pipeline/stages"
	"github.com/raphalvezz/loocac/internal/policy"
	"github.com/raphalvezz/loocac/internal/registry"
	"github.com/raphalvezz/loocac/internal/replay"
	"github.com/raphalvezz/loocac/internal/scenario"
)

func TestBuild_EndToEnd(t *testing.T) {
	st, err := artifact.NewStore(t.TempDir(), 3)
	require.NoError(t, err)
	reg := registry.New(func() (*artifact.Bundle, error) {
		return st.LoadCurrent(artifact.LoadOptions{})
	})

	p := Build(Config{
		Generation:    generator.Options{SamplesPerScenario: 30, Seed: 7},
		Store:         st,
		ProbePolicies: true,
		Registry:      reg,
	})
	assert.Equal(t, "generate", p.StageNames()[0])
	assert.Equal(t, "activate", p.StageNames()[len(p.StageNames())-1])

	run := pipeline.NewRun("run-1", "test", scenario.Default())
	require.NoError(t, p.Run(context.Background(), run))

	m := run.Manifest()
	require.NotNil(t, m)
	assert.EqualValues(t, 7, m.Seed)
	assert.Equal(t, 30, m.SamplesPerScenario)
	assert.Equal(t, 12, m.Scenarios)
	assert.NotEmpty(t, m.Fingerprint)

	cur, err := st.Current()
	require.NoError(t, err)
	assert.Equal(t, m.ReleaseID, cur)

	b, err := reg.Get()
	require.NoError(t, err)
	assert.Equal(t, m.ReleaseID, b.Manifest.ReleaseID)
	assert.NotNil(t, b.Estimator)
	assert.Len(t, b.Policies, 2)

	names := map[string]bool{}
	for _, tm := range run.Timings() {
		names[tm.Name] = true
	}
	for _, want := range []string{"generate", "fit_features", "build_buffer_one_shot", "build_buffer_subscription", "train_one_shot", "train_subscription", "fit_estimator", "verify_schema", "publish", "activate"} {
		assert.True(t, names[want], want)
	}
}

type brokenTrainer struct{}

func (brokenTrainer) Train(context.Context, *replay.Buffer) (policy.Policy, error) {
	return nil, errors.New("trainer crashed")
}

func TestBuild_FailureLeavesNoRelease(t *testing.T) {
	root := t.TempDir()
	st, err := artifact.NewStore(root, 3)
	require.NoError(t, err)

	p := Build(Config{
		Generation: generator.Options{SamplesPerScenario: 10, Seed: 1},
		Store:      st,
		Trainer:    brokenTrainer{},
	})
	err = p.Run(context.Background(), pipeline.NewRun("run-2", "test", scenario.Default()))
	var se *pipeline.StageError
	require.ErrorAs(t, err, &se)
	assert.Contains(t, se.Stage, "train_")

	_, err = st.Current()
	assert.ErrorIs(t, err, artifact.ErrNoRelease)
	ids, err := st.Releases()
	require.NoError(t, err)
	assert.Empty(t, ids)
	staged, err := os.ReadDir(filepath.Join(root, "staging"))
	require.NoError(t, err)
	assert.Empty(t, staged)
}

func TestBuild_RemotePolicyRecordsURL(t *testing.T) {
	st, err := artifact.NewStore(t.TempDir(), 3)
	require.NoError(t, err)
	p := Build(Config{
		Generation: generator.Options{SamplesPerScenario: 10, Seed: 3},
		Store:      st,
		PolicyURL:  "http://127.0.0.1:9/policy",
	})
	run := pipeline.NewRun("run-3", "test", scenario.Default())
	require.NoError(t, p.Run(context.Background(), run))
	m := run.Manifest()
	require.NotNil(t, m)
	for _, r := range artifact.Regimes {
		assert.Equal(t, artifact.PolicyKindHTTP, m.Policies[r].Kind)
		assert.Equal(t, "http://127.0.0.1:9/policy", m.Policies[r].URL)
	}
	_, isHTTP := run.Policy(generator.RegimeOneShot).(*policy.HTTPPolicy)
	assert.True(t, isHTTP)
	assert.Equal(t, stages.OrderTrain, stages.Train{Regime: generator.RegimeOneShot}.Meta().Order)
}
