package stages

import (
	"context"
	"fmt"

	"github.com/raphalvezz/loocac/internal/artifact"
	"github.com/raphalvezz/loocac/internal/pipeline"
)

// Publish writes the release into staging and swaps it in. Any failure
// discards the staging directory so no partial release becomes visible.
type Publish struct {
	Store              *artifact.Store
	SamplesPerScenario int
}

func (Publish) Meta() pipeline.StageMeta {
	return pipeline.StageMeta{Name: "publish", Order: OrderPublish, Critical: true}
}

func (s Publish) Handle(ctx context.Context, run *pipeline.Run) (err error) {
	if s.Store == nil {
		return fmt.Errorf("no artifact store")
	}
	st, err := s.Store.Stage("")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			st.Abort()
		}
	}()
	m, err := st.Write(run.Contents())
	if err != nil {
		return err
	}
	m.SamplesPerScenario = s.SamplesPerScenario
	if cat := run.Catalog(); cat != nil {
		m.Scenarios = cat.Len()
	}
	if ds := run.Dataset(); ds != nil {
		m.Fingerprint = ds.Fingerprint
		m.Seed = ds.Seed
	}
	if err = ctx.Err(); err != nil {
		return err
	}
	if err = st.Commit(ctx, m); err != nil {
		return err
	}
	committed, err := s.Store.ReadManifest(st.ID())
	if err != nil {
		return err
	}
	run.SetManifest(committed)
	return nil
}

// Reloader is satisfied by *registry.Registry.
type Reloader interface {
	Reload() (*artifact.Bundle, error)
}

// Activate makes the serving registry pick up the new release.
type Activate struct {
	Registry Reloader
}

func (Activate) Meta() pipeline.StageMeta {
	return pipeline.StageMeta{Name: "activate", Order: OrderActivate, Critical: true}
}

func (s Activate) Handle(_ context.Context, run *pipeline.Run) error {
	if s.Registry == nil {
		return nil
	}
	b, err := s.Registry.Reload()
	if err != nil {
		return err
	}
	if m := run.Manifest(); m != nil && b.Manifest.ReleaseID != m.ReleaseID {
		return fmt.Errorf("registry serves %s, expected %s", b.Manifest.ReleaseID, m.ReleaseID)
	}
	return nil
}
