package app

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/raphalvezz/loocac/internal/artifact"
	"github.com/raphalvezz/loocac/internal/config"
	cfgloader "github.com/raphalvezz/loocac/internal/config/loader"
	"github.com/raphalvezz/loocac/internal/logger"
	"github.com/raphalvezz/loocac/internal/observability"
	"github.com/raphalvezz/loocac/internal/pipeline"
	"github.com/raphalvezz/loocac/internal/recommend"
	"github.com/raphalvezz/loocac/internal/registry"
	"github.com/raphalvezz/loocac/internal/retrain"
	"github.com/raphalvezz/loocac/internal/scenario"
	"github.com/raphalvezz/loocac/internal/store"
	pricinghttp "github.com/raphalvezz/loocac/internal/transport/http/pricing"
)

const triggerAutoConfigure = "auto_configure"

// App owns every long-lived component: release registry, stores, retrain
// coordinator, market watcher and HTTP server.
type App struct {
	cfg *config.Config

	artifacts   *artifact.Store
	registry    *registry.Registry
	service     *recommend.Service
	pipeline    *pipeline.Pipeline
	coordinator *retrain.Coordinator
	market      *cfgloader.MarketLoader
	sync        *marketSync
	catalog     *scenario.Catalog
	runs        *store.RunStore
	audit       *store.AuditLog
	metrics     *observability.Metrics
	http        *pricinghttp.Server

	Summary *StartupSummary
}

// NewApp builds the application without starting it.
func NewApp(cfg *config.Config, opts ...AppBuilderOption) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	return buildAppWithWire(context.Background(), cfg, opts...)
}

// Run serves until ctx is cancelled. With serving.auto_configure set and
// no release loaded, it trains one first and only then opens the listener.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	defer a.Close()
	a.coordinator.SetContext(ctx)

	if a.Summary != nil {
		a.Summary.Print()
	}
	if a.cfg.Serving.AutoConfigure && !a.registry.Status().Loaded {
		logger.Infof("no release loaded, auto-configuring before serving")
		if _, err := a.Retrain(ctx, triggerAutoConfigure); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Errorf("✗ auto-configure failed, serving as not configured: %v", err)
		}
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := a.http.Start(ctx); err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})
	return group.Wait()
}

// Retrain runs the pipeline on the active catalog and blocks until it ends.
func (a *App) Retrain(ctx context.Context, trigger string) (store.RunRecord, error) {
	a.coordinator.SetContext(ctx)
	rec, err := a.coordinator.Trigger(retrain.Request{
		Trigger: trigger,
		Catalog: a.ActiveCatalog(),
		Config:  a.marketRaw(),
	})
	if err != nil {
		return rec, err
	}
	a.coordinator.Wait()
	final, err := a.coordinator.Get(context.WithoutCancel(ctx), rec.ID)
	if err != nil {
		return rec, err
	}
	if final.Status != store.RunSucceeded {
		return final, fmt.Errorf("%w: run %s %s: %s", retrain.ErrRetrainFailure, final.ID, final.Status, final.Error)
	}
	return final, nil
}

// ActiveCatalog prefers the market document over the configured table.
func (a *App) ActiveCatalog() *scenario.Catalog {
	if a.market != nil {
		if snap, ok := a.market.Snapshot(); ok && snap.Catalog != nil {
			return snap.Catalog
		}
	}
	return a.catalog
}

// BaseCatalog is the scenario table from generation.scenarios_path or the
// built-in article table.
func (a *App) BaseCatalog() *scenario.Catalog { return a.catalog }

func (a *App) marketRaw() []byte {
	if a.market == nil {
		return nil
	}
	if snap, ok := a.market.Snapshot(); ok {
		return snap.Raw
	}
	return nil
}

// Recommender exposes the serving path for offline reports.
func (a *App) Recommender() *recommend.Service { return a.service }

func (a *App) Artifacts() *artifact.Store { return a.artifacts }

func (a *App) Registry() *registry.Registry { return a.registry }

// Close waits for in-flight retrains and releases the stores.
func (a *App) Close() {
	if a == nil {
		return
	}
	if a.coordinator != nil {
		a.coordinator.Wait()
	}
	var errs []error
	if a.audit != nil {
		errs = append(errs, a.audit.Close())
		a.audit = nil
	}
	if a.runs != nil {
		errs = append(errs, a.runs.Close())
		a.runs = nil
	}
	if err := errors.Join(errs...); err != nil {
		logger.Warnf("close stores: %v", err)
	}
}
