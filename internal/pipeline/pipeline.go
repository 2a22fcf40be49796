// Package pipeline runs the regeneration and training chain as ordered,
// named stages.
package pipeline

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/raphalvezz/loocac/internal/logger"
	"github.com/raphalvezz/loocac/internal/store"
)

// Pipeline groups stages by order.
type Pipeline struct {
	name   string
	stages [][]Stage
}

func New(name string, stages ...Stage) *Pipeline {
	byOrder := make(map[int][]Stage)
	for _, st := range stages {
		if st == nil {
			continue
		}
		meta := st.Meta()
		byOrder[meta.Order] = append(byOrder[meta.Order], st)
	}
	keys := make([]int, 0, len(byOrder))
	for k := range byOrder {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	grouped := make([][]Stage, 0, len(keys))
	for _, k := range keys {
		grouped = append(grouped, byOrder[k])
	}
	return &Pipeline{name: name, stages: grouped}
}

// StageNames lists stages in execution order.
func (p *Pipeline) StageNames() []string {
	var out []string
	for _, group := range p.stages {
		for _, st := range group {
			out = append(out, st.Meta().Name)
		}
	}
	return out
}

// Run executes every order group in sequence and stops at the first
// critical failure.
func (p *Pipeline) Run(ctx context.Context, run *Run) error {
	if run == nil {
		return fmt.Errorf("nil pipeline run")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	started := time.Now()
	logger.Infof("[pipeline] %s run %s started (trigger=%s)", p.name, run.ID, run.Trigger)
	for _, group := range p.stages {
		if err := p.runGroup(ctx, run, group); err != nil {
			logger.Errorf("[pipeline] %s run %s failed after %s: %v", p.name, run.ID, time.Since(started).Round(time.Millisecond), err)
			return err
		}
	}
	logger.Infof("[pipeline] %s run %s finished in %s", p.name, run.ID, time.Since(started).Round(time.Millisecond))
	return nil
}

func (p *Pipeline) runGroup(ctx context.Context, run *Run, group []Stage) error {
	g, groupCtx := errgroup.WithContext(ctx)
	warnCh := make(chan *StageError, len(group))
	for _, st := range group {
		g.Go(func() error {
			meta := st.Meta()
			stageCtx := groupCtx
			if meta.Timeout > 0 {
				var cancel context.CancelFunc
				stageCtx, cancel = context.WithTimeout(groupCtx, meta.Timeout)
				defer cancel()
			}
			logger.Infof("[pipeline] %s stage %s started", p.name, meta.Name)
			begin := time.Now()
			err := st.Handle(stageCtx, run)
			elapsed := time.Since(begin)
			timing := store.StageTiming{Name: meta.Name, DurationMS: elapsed.Milliseconds()}
			if err == nil {
				run.addTiming(timing)
				logger.Infof("[pipeline] %s stage %s finished in %s", p.name, meta.Name, elapsed.Round(time.Millisecond))
				return nil
			}
			timing.Error = err.Error()
			run.addTiming(timing)
			sErr := &StageError{Stage: meta.Name, Order: meta.Order, Critical: meta.Critical, Err: err}
			if meta.Critical {
				return sErr
			}
			warnCh <- sErr
			return nil
		})
	}
	err := g.Wait()
	close(warnCh)
	for w := range warnCh {
		run.AddWarning(w.Error())
		logger.Warnf("[pipeline] %s %s (non-critical)", p.name, w.Error())
	}
	return err
}
