// Package retrain runs the regeneration pipeline in the background. A
// trigger never blocks; while one run is in flight, newer triggers
// collapse into a single queued run.
package retrain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/raphalvezz/loocac/internal/logger"
	"github.com/raphalvezz/loocac/internal/pipeline"
	"github.com/raphalvezz/loocac/internal/scenario"
	"github.com/raphalvezz/loocac/internal/store"
)

// ErrRetrainFailure wraps any pipeline failure of a background run. The
// release being served is left untouched.
var ErrRetrainFailure = errors.New("retrain failed")

// Runner is satisfied by *pipeline.Pipeline.
type Runner interface {
	Run(ctx context.Context, run *pipeline.Run) error
}

// RunStore persists run history; *store.RunStore implements it.
type RunStore interface {
	Save(ctx context.Context, rec store.RunRecord) error
	Get(ctx context.Context, id string) (store.RunRecord, error)
	List(ctx context.Context, limit int) ([]store.RunRecord, error)
}

type Observer interface {
	ObserveRetrain(status store.RunStatus, elapsed time.Duration)
}

// Request describes one trigger.
type Request struct {
	Trigger string
	Catalog *scenario.Catalog
	// Config is recorded with the run, e.g. the market document.
	Config json.RawMessage
}

type Config struct {
	Runner      Runner
	Runs        RunStore
	Observer    Observer
	MinInterval time.Duration
}

type queued struct {
	id  string
	req Request
}

type Coordinator struct {
	runner   Runner
	runs     RunStore
	observer Observer
	limiter  *rate.Limiter

	mu      sync.Mutex
	active  string
	pending *queued
	jobs    map[string]*store.RunRecord
	lastErr error
	wg      sync.WaitGroup

	baseCtx context.Context
}

func New(cfg Config) (*Coordinator, error) {
	if cfg.Runner == nil {
		return nil, fmt.Errorf("retrain: runner is required")
	}
	limit := rate.Inf
	if cfg.MinInterval > 0 {
		limit = rate.Every(cfg.MinInterval)
	}
	return &Coordinator{
		runner:   cfg.Runner,
		runs:     cfg.Runs,
		observer: cfg.Observer,
		limiter:  rate.NewLimiter(limit, 1),
		jobs:     make(map[string]*store.RunRecord),
		baseCtx:  context.Background(),
	}, nil
}

// SetContext injects the host context; cancelling it aborts runs.
func (c *Coordinator) SetContext(ctx context.Context) {
	if ctx != nil {
		c.baseCtx = ctx
	}
}

// Trigger records a run and returns at once. When a run is already in
// flight the new one is queued, replacing any earlier queued run.
func (c *Coordinator) Trigger(req Request) (store.RunRecord, error) {
	if req.Catalog == nil || req.Catalog.Len() == 0 {
		return store.RunRecord{}, fmt.Errorf("%w: empty scenario catalog", scenario.ErrConfiguration)
	}
	if req.Trigger == "" {
		req.Trigger = "manual"
	}
	rec := &store.RunRecord{
		ID:        uuid.NewString(),
		Trigger:   req.Trigger,
		Status:    store.RunQueued,
		Config:    req.Config,
		CreatedAt: time.Now(),
	}
	c.persist(*rec)

	c.mu.Lock()
	c.jobs[rec.ID] = rec
	if c.active != "" {
		if prev := c.pending; prev != nil {
			c.updateLocked(prev.id, func(r *store.RunRecord) {
				r.Status = store.RunSuperseded
				r.Error = "superseded by " + rec.ID
				r.FinishedAt = time.Now()
			})
		}
		c.pending = &queued{id: rec.ID, req: req}
		out := *rec
		c.mu.Unlock()
		logger.Infof("[retrain] run %s queued behind %s (trigger=%s)", rec.ID, c.activeID(), req.Trigger)
		return out, nil
	}
	c.active = rec.ID
	out := *rec
	c.wg.Add(1)
	c.mu.Unlock()

	logger.Infof("[retrain] run %s submitted (trigger=%s, scenarios=%d)", rec.ID, req.Trigger, req.Catalog.Len())
	go c.loop(queued{id: rec.ID, req: req})
	return out, nil
}

func (c *Coordinator) activeID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

func (c *Coordinator) loop(q queued) {
	defer c.wg.Done()
	for {
		c.execute(q)
		c.mu.Lock()
		next := c.pending
		c.pending = nil
		if next == nil {
			c.active = ""
			c.mu.Unlock()
			return
		}
		c.active = next.id
		c.mu.Unlock()
		q = *next
	}
}

func (c *Coordinator) execute(q queued) {
	ctx := c.baseCtx
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("[retrain] run %s panic: %v", q.id, r)
			c.finish(q.id, time.Now(), nil, fmt.Errorf("%w: panic: %v", ErrRetrainFailure, r))
		}
	}()
	if err := c.limiter.Wait(ctx); err != nil {
		c.finish(q.id, time.Now(), nil, fmt.Errorf("%w: %v", ErrRetrainFailure, err))
		return
	}
	started := time.Now()
	c.update(q.id, func(r *store.RunRecord) {
		r.Status = store.RunRunning
		r.StartedAt = started
	})
	logger.Infof("[retrain] run %s started", q.id)

	run := pipeline.NewRun(q.id, q.req.Trigger, q.req.Catalog)
	err := c.runner.Run(ctx, run)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrRetrainFailure, err)
	}
	c.finish(q.id, started, run, err)
}

func (c *Coordinator) finish(id string, started time.Time, run *pipeline.Run, err error) {
	status := store.RunSucceeded
	if err != nil {
		status = store.RunFailed
	}
	c.update(id, func(r *store.RunRecord) {
		r.Status = status
		r.FinishedAt = time.Now()
		if r.StartedAt.IsZero() {
			r.StartedAt = started
		}
		if err != nil {
			r.Error = err.Error()
		}
		if run == nil {
			return
		}
		r.Stages = run.Timings()
		if ds := run.Dataset(); ds != nil {
			r.Samples = ds.Len()
			r.Fingerprint = ds.Fingerprint
		}
		if m := run.Manifest(); m != nil {
			r.ReleaseID = m.ReleaseID
		}
	})
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
	elapsed := time.Since(started)
	if c.observer != nil {
		c.observer.ObserveRetrain(status, elapsed)
	}
	if err != nil {
		logger.Errorf("[retrain] run %s failed after %s: %v", id, elapsed.Round(time.Millisecond), err)
		return
	}
	logger.Infof("[retrain] run %s finished in %s", id, elapsed.Round(time.Millisecond))
}

func (c *Coordinator) update(id string, fn func(*store.RunRecord)) {
	c.mu.Lock()
	rec, ok := c.updateLockedCopy(id, fn)
	c.mu.Unlock()
	if ok {
		c.persist(rec)
	}
}

func (c *Coordinator) updateLocked(id string, fn func(*store.RunRecord)) {
	if rec, ok := c.updateLockedCopy(id, fn); ok {
		go c.persist(rec)
	}
}

func (c *Coordinator) updateLockedCopy(id string, fn func(*store.RunRecord)) (store.RunRecord, bool) {
	rec, ok := c.jobs[id]
	if !ok {
		return store.RunRecord{}, false
	}
	fn(rec)
	return *rec, true
}

func (c *Coordinator) persist(rec store.RunRecord) {
	if c.runs == nil {
		return
	}
	if err := c.runs.Save(context.WithoutCancel(c.baseCtx), rec); err != nil {
		logger.Warnf("[retrain] save run %s: %v", rec.ID, err)
	}
}

// Wait blocks until no run is in flight.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// Busy reports whether a run is in flight.
func (c *Coordinator) Busy() bool {
	return c.activeID() != ""
}

// LastError is the outcome of the most recent finished run.
func (c *Coordinator) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Get returns a run, preferring in-memory state for runs of this process.
func (c *Coordinator) Get(ctx context.Context, id string) (store.RunRecord, error) {
	c.mu.Lock()
	rec, ok := c.jobs[id]
	var out store.RunRecord
	if ok {
		out = *rec
	}
	c.mu.Unlock()
	if ok {
		return out, nil
	}
	if c.runs == nil {
		return store.RunRecord{}, store.ErrRunNotFound
	}
	return c.runs.Get(ctx, id)
}

// List returns the newest runs first.
func (c *Coordinator) List(ctx context.Context, limit int) ([]store.RunRecord, error) {
	if c.runs != nil {
		return c.runs.List(ctx, limit)
	}
	c.mu.Lock()
	out := make([]store.RunRecord, 0, len(c.jobs))
	for _, rec := range c.jobs {
		out = append(out, *rec)
	}
	c.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
