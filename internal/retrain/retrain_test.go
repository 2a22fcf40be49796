package retrain

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphalvezz/loocac/internal/pipeline"
	"github.com/raphalvezz/loocac/internal/scenario"
	"github.com/raphalvezz/loocac/internal/store"
)

type fakeRunner struct {
	mu    sync.Mutex
	calls []string
	gate  chan struct{}
	err   error
}

func (f *fakeRunner) Run(ctx context.Context, run *pipeline.Run) error {
	f.mu.Lock()
	f.calls = append(f.calls, run.Trigger)
	f.mu.Unlock()
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return f.err
}

func (f *fakeRunner) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func TestTrigger_DoesNotBlock(t *testing.T) {
	runner := &fakeRunner{gate: make(chan struct{})}
	c, err := New(Config{Runner: runner})
	require.NoError(t, err)

	done := make(chan store.RunRecord, 1)
	go func() {
		rec, err := c.Trigger(Request{Trigger: "configure_market", Catalog: scenario.Default(), Config: json.RawMessage(`{"a":1}`)})
		assert.NoError(t, err)
		done <- rec
	}()
	var rec store.RunRecord
	select {
	case rec = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Trigger blocked on the running pipeline")
	}
	assert.Equal(t, store.RunQueued, rec.Status)
	assert.True(t, c.Busy())

	close(runner.gate)
	c.Wait()
	assert.False(t, c.Busy())

	got, err := c.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, store.RunSucceeded, got.Status)
	assert.False(t, got.StartedAt.IsZero())
	assert.False(t, got.FinishedAt.IsZero())
	assert.NoError(t, c.LastError())
}

func TestTrigger_CoalescesWhileRunning(t *testing.T) {
	runner := &fakeRunner{gate: make(chan struct{})}
	c, err := New(Config{Runner: runner})
	require.NoError(t, err)

	first, err := c.Trigger(Request{Trigger: "t1", Catalog: scenario.Default()})
	require.NoError(t, err)
	var ids []string
	for _, name := range []string{"t2", "t3", "t4"} {
		rec, err := c.Trigger(Request{Trigger: name, Catalog: scenario.Default()})
		require.NoError(t, err)
		ids = append(ids, rec.ID)
	}
	close(runner.gate)
	c.Wait()

	assert.Equal(t, []string{"t1", "t4"}, runner.Calls())
	ctx := context.Background()
	for i, id := range ids[:2] {
		rec, err := c.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, store.RunSuperseded, rec.Status, "run %d", i)
	}
	last, err := c.Get(ctx, ids[2])
	require.NoError(t, err)
	assert.Equal(t, store.RunSucceeded, last.Status)
	head, err := c.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, store.RunSucceeded, head.Status)

	list, err := c.List(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, list, 4)
}

func TestTrigger_FailureIsRecorded(t *testing.T) {
	runner := &fakeRunner{err: &pipeline.StageError{Stage: "train_one_shot", Critical: true, Err: errors.New("diverged")}}
	runs, err := store.NewRunStore(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	defer runs.Close()

	c, err := New(Config{Runner: runner, Runs: runs})
	require.NoError(t, err)
	rec, err := c.Trigger(Request{Trigger: "manual", Catalog: scenario.Default()})
	require.NoError(t, err)
	c.Wait()

	require.ErrorIs(t, c.LastError(), ErrRetrainFailure)
	var se *pipeline.StageError
	require.ErrorAs(t, c.LastError(), &se)
	assert.Equal(t, "train_one_shot", se.Stage)

	stored, err := runs.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, store.RunFailed, stored.Status)
	assert.Contains(t, stored.Error, "diverged")
}

func TestTrigger_RejectsEmptyCatalog(t *testing.T) {
	c, err := New(Config{Runner: &fakeRunner{}})
	require.NoError(t, err)
	_, err = c.Trigger(Request{Trigger: "manual"})
	assert.ErrorIs(t, err, scenario.ErrConfiguration)
	assert.False(t, c.Busy())
}

func TestNew_RequiresRunner(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}
