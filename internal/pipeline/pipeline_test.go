package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordStage struct {
	meta StageMeta
	err  error
	log  *[]string
	mu   *sync.Mutex
	hold time.Duration
}

func (s recordStage) Meta() StageMeta { return s.meta }

func (s recordStage) Handle(ctx context.Context, _ *Run) error {
	if s.hold > 0 {
		select {
		case <-time.After(s.hold):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	*s.log = append(*s.log, s.meta.Name)
	s.mu.Unlock()
	return s.err
}

func TestPipeline_RunsInOrder(t *testing.T) {
	var log []string
	var mu sync.Mutex
	mk := func(name string, order int) Stage {
		return recordStage{meta: StageMeta{Name: name, Order: order, Critical: true}, log: &log, mu: &mu}
	}
	p := New("test", mk("c", 3), mk("a", 1), mk("b", 2))
	assert.Equal(t, []string{"a", "b", "c"}, p.StageNames())

	run := NewRun("r1", "test", nil)
	require.NoError(t, p.Run(context.Background(), run))
	assert.Equal(t, []string{"a", "b", "c"}, log)

	timings := run.Timings()
	require.Len(t, timings, 3)
	for _, tm := range timings {
		assert.Empty(t, tm.Error)
	}
}

type concurrentStage struct {
	name    string
	active  *atomic.Int32
	peak    *atomic.Int32
	release chan struct{}
}

func (s concurrentStage) Meta() StageMeta { return StageMeta{Name: s.name, Order: 1, Critical: true} }

func (s concurrentStage) Handle(ctx context.Context, _ *Run) error {
	n := s.active.Add(1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}
	select {
	case <-s.release:
	case <-time.After(time.Second):
	case <-ctx.Done():
	}
	s.active.Add(-1)
	return nil
}

func TestPipeline_SameOrderRunsConcurrently(t *testing.T) {
	var active, peak atomic.Int32
	release := make(chan struct{})
	a := concurrentStage{name: "a", active: &active, peak: &peak, release: release}
	b := concurrentStage{name: "b", active: &active, peak: &peak, release: release}
	go func() {
		for i := 0; i < 1000 && peak.Load() < 2; i++ {
			time.Sleep(time.Millisecond)
		}
		close(release)
	}()
	require.NoError(t, New("test", a, b).Run(context.Background(), NewRun("r", "test", nil)))
	assert.EqualValues(t, 2, peak.Load())
}

func TestPipeline_CriticalFailureStops(t *testing.T) {
	var log []string
	var mu sync.Mutex
	boom := errors.New("boom")
	p := New("test",
		recordStage{meta: StageMeta{Name: "first", Order: 1, Critical: true}, err: boom, log: &log, mu: &mu},
		recordStage{meta: StageMeta{Name: "second", Order: 2, Critical: true}, log: &log, mu: &mu},
	)
	run := NewRun("r", "test", nil)
	err := p.Run(context.Background(), run)
	require.ErrorIs(t, err, boom)

	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "first", se.Stage)
	assert.Equal(t, 1, se.Order)
	assert.Equal(t, []string{"first"}, log)
	require.Len(t, run.Timings(), 1)
	assert.Equal(t, "boom", run.Timings()[0].Error)
}

func TestPipeline_NonCriticalBecomesWarning(t *testing.T) {
	var log []string
	var mu sync.Mutex
	p := New("test",
		recordStage{meta: StageMeta{Name: "optional", Order: 1}, err: errors.New("meh"), log: &log, mu: &mu},
		recordStage{meta: StageMeta{Name: "next", Order: 2, Critical: true}, log: &log, mu: &mu},
	)
	run := NewRun("r", "test", nil)
	require.NoError(t, p.Run(context.Background(), run))
	assert.Equal(t, []string{"optional", "next"}, log)
	require.Len(t, run.Warnings(), 1)
	assert.Contains(t, run.Warnings()[0], "optional")
}

func TestPipeline_StageTimeout(t *testing.T) {
	var log []string
	var mu sync.Mutex
	p := New("test", recordStage{
		meta: StageMeta{Name: "slow", Order: 1, Critical: true, Timeout: 10 * time.Millisecond},
		hold: time.Second, log: &log, mu: &mu,
	})
	err := p.Run(context.Background(), NewRun("r", "test", nil))
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
