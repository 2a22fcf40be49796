package registry

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphalvezz/loocac/internal/artifact"
)

func bundle(id string) *artifact.Bundle {
	return &artifact.Bundle{Manifest: artifact.Manifest{ReleaseID: id}}
}

func TestRegistry_NotLoaded(t *testing.T) {
	r := New(func() (*artifact.Bundle, error) { return nil, artifact.ErrNoRelease })
	_, err := r.Get()
	assert.ErrorIs(t, err, ErrModelNotLoaded)

	_, err = r.Reload()
	assert.ErrorIs(t, err, ErrModelNotLoaded)
	st := r.Status()
	assert.False(t, st.Loaded)
	assert.NotEmpty(t, st.LastError)
}

func TestRegistry_ReloadKeepsServingOnFailure(t *testing.T) {
	next := bundle("r1")
	var loadErr error
	r := New(func() (*artifact.Bundle, error) { return next, loadErr })

	var swapped []string
	r.OnSwap(func(b *artifact.Bundle) { swapped = append(swapped, b.Manifest.ReleaseID) })

	_, err := r.Reload()
	require.NoError(t, err)
	b, err := r.Get()
	require.NoError(t, err)
	assert.Equal(t, "r1", b.Manifest.ReleaseID)

	loadErr = errors.New("checksum mismatch")
	next = nil
	_, err = r.Reload()
	assert.Error(t, err)
	b, err = r.Get()
	require.NoError(t, err)
	assert.Equal(t, "r1", b.Manifest.ReleaseID)
	assert.Equal(t, "checksum mismatch", r.Status().LastError)

	r.Swap(bundle("r2"))
	b, _ = r.Get()
	assert.Equal(t, "r2", b.Manifest.ReleaseID)
	assert.Equal(t, []string{"r1", "r2"}, swapped)
	assert.Empty(t, r.Status().LastError)
	assert.EqualValues(t, 2, r.Status().Reloads)
}

func TestRegistry_ConcurrentReadsDuringSwap(t *testing.T) {
	r := New(nil)
	r.Swap(bundle("a"))
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				b, err := r.Get()
				if err != nil || (b.Manifest.ReleaseID != "a" && b.Manifest.ReleaseID != "b") {
					t.Errorf("unexpected bundle %v %v", b, err)
					return
				}
			}
		}()
	}
	for j := 0; j < 100; j++ {
		if j%2 == 0 {
			r.Swap(bundle("b"))
		} else {
			r.Swap(bundle("a"))
		}
	}
	wg.Wait()
}
