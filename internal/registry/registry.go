// Package registry owns the loaded release and swaps it atomically. Request
// handlers receive a *Registry; they never read artifacts directly.
package registry

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/raphalvezz/loocac/internal/artifact"
	"github.com/raphalvezz/loocac/internal/logger"
)

// ErrModelNotLoaded means no usable release is available.
var ErrModelNotLoaded = errors.New("model not loaded")

// LoadFunc produces a fully verified bundle.
type LoadFunc func() (*artifact.Bundle, error)

// Status is a point-in-time view for health endpoints.
type Status struct {
	Loaded    bool      `json:"loaded"`
	ReleaseID string    `json:"release_id,omitempty"`
	LoadedAt  time.Time `json:"loaded_at,omitempty"`
	LastError string    `json:"last_error,omitempty"`
	Reloads   int64     `json:"reloads"`
}

type Registry struct {
	load    LoadFunc
	current atomic.Pointer[artifact.Bundle]
	reloads atomic.Int64

	mu      sync.Mutex
	lastErr error
	hooks   []func(*artifact.Bundle)
}

func New(load LoadFunc) *Registry {
	return &Registry{load: load}
}

// OnSwap registers a callback run after each successful swap.
func (r *Registry) OnSwap(fn func(*artifact.Bundle)) {
	r.mu.Lock()
	r.hooks = append(r.hooks, fn)
	r.mu.Unlock()
}

// Get returns the current bundle. Callers keep using the returned pointer
// for the whole request even if a reload happens meanwhile.
func (r *Registry) Get() (*artifact.Bundle, error) {
	b := r.current.Load()
	if b == nil {
		return nil, ErrModelNotLoaded
	}
	return b, nil
}

// Reload loads the current release and swaps it in. On failure the bundle
// already being served stays in place.
func (r *Registry) Reload() (*artifact.Bundle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.load == nil {
		return nil, ErrModelNotLoaded
	}
	b, err := r.load()
	if err != nil {
		r.lastErr = err
		if errors.Is(err, artifact.ErrNoRelease) || errors.Is(err, artifact.ErrMissingArtifact) {
			err = fmt.Errorf("%w: %v", ErrModelNotLoaded, err)
		}
		if prev := r.current.Load(); prev != nil {
			logger.Warnf("registry: reload failed, keeping release %s: %v", prev.Manifest.ReleaseID, err)
		}
		return nil, err
	}
	r.swapLocked(b)
	return b, nil
}

// Swap installs b directly, e.g. right after a pipeline run built it.
func (r *Registry) Swap(b *artifact.Bundle) {
	if b == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.swapLocked(b)
}

func (r *Registry) swapLocked(b *artifact.Bundle) {
	prev := r.current.Swap(b)
	r.lastErr = nil
	r.reloads.Add(1)
	if prev != nil {
		logger.Infof("registry: release %s -> %s", prev.Manifest.ReleaseID, b.Manifest.ReleaseID)
	} else {
		logger.Infof("registry: release %s loaded", b.Manifest.ReleaseID)
	}
	for _, fn := range r.hooks {
		fn(b)
	}
}

func (r *Registry) Status() Status {
	st := Status{Reloads: r.reloads.Load()}
	if b := r.current.Load(); b != nil {
		st.Loaded = true
		st.ReleaseID = b.Manifest.ReleaseID
		st.LoadedAt = b.LoadedAt
	}
	r.mu.Lock()
	if r.lastErr != nil {
		st.LastError = r.lastErr.Error()
	}
	r.mu.Unlock()
	return st
}
