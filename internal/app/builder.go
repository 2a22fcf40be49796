package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/raphalvezz/loocac/internal/artifact"
	"github.com/raphalvezz/loocac/internal/config"
	cfgloader "github.com/raphalvezz/loocac/internal/config/loader"
	"github.com/raphalvezz/loocac/internal/generator"
	"github.com/raphalvezz/loocac/internal/logger"
	"github.com/raphalvezz/loocac/internal/observability"
	"github.com/raphalvezz/loocac/internal/pipeline/factory"
	"github.com/raphalvezz/loocac/internal/policy"
	"github.com/raphalvezz/loocac/internal/recommend"
	"github.com/raphalvezz/loocac/internal/registry"
	"github.com/raphalvezz/loocac/internal/retrain"
	"github.com/raphalvezz/loocac/internal/scenario"
	"github.com/raphalvezz/loocac/internal/store"
	pricinghttp "github.com/raphalvezz/loocac/internal/transport/http/pricing"
)

// AppBuilder assembles an App. The function fields can be replaced in tests.
type AppBuilder struct {
	cfg *config.Config

	artifactStoreFn func(context.Context, config.ArtifactsConfig) (*artifact.Store, error)
	catalogFn       func(config.GenerationConfig) (*scenario.Catalog, error)
	trainerFn       func(config.TrainingConfig) policy.Trainer
	httpServerFn    func(pricinghttp.ServerConfig) (*pricinghttp.Server, error)
}

type AppBuilderOption func(*AppBuilder)

// WithTrainer replaces the reference trainer.
func WithTrainer(t policy.Trainer) AppBuilderOption {
	return func(b *AppBuilder) {
		b.trainerFn = func(config.TrainingConfig) policy.Trainer { return t }
	}
}

// WithArtifactStore skips the mirror setup and uses s directly.
func WithArtifactStore(s *artifact.Store) AppBuilderOption {
	return func(b *AppBuilder) {
		b.artifactStoreFn = func(context.Context, config.ArtifactsConfig) (*artifact.Store, error) { return s, nil }
	}
}

func NewAppBuilder(cfg *config.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:             cfg,
		artifactStoreFn: buildArtifactStore,
		catalogFn:       loadBaseCatalog,
		trainerFn:       buildTrainer,
		httpServerFn:    pricinghttp.NewServer,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *AppBuilder) Build(ctx context.Context) (_ *App, err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	logger.SetLevel(cfg.App.LogLevel)

	a := &App{cfg: cfg}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if cfg.Metrics.Enabled {
		a.metrics = observability.NewMetrics(cfg.Metrics.Namespace)
	}

	arts, err := b.artifactStoreFn(ctx, cfg.Artifacts)
	if err != nil {
		return nil, err
	}
	a.artifacts = arts
	a.registry = registry.New(func() (*artifact.Bundle, error) {
		return arts.LoadCurrent(artifact.LoadOptions{PolicyTimeout: cfg.Serving.PolicyTimeout()})
	})
	if a.metrics != nil {
		m := a.metrics
		a.registry.OnSwap(func(bundle *artifact.Bundle) {
			mf := bundle.Manifest
			m.ObserveRelease(mf.ReleaseID, mf.FormatVersion, mf.Fingerprint, bundle.LoadedAt)
		})
	}
	if _, err := a.registry.Reload(); err != nil {
		if errors.Is(err, registry.ErrModelNotLoaded) {
			logger.Warnf("✗ no usable release yet: %v", err)
		} else {
			logger.Errorf("✗ current release rejected, serving as not configured: %v", err)
		}
	}

	if a.runs, err = store.NewRunStore(cfg.Retrain.RunsPath); err != nil {
		return nil, err
	}
	if n, err := a.runs.MarkInterrupted(ctx); err != nil {
		return nil, err
	} else if n > 0 {
		logger.Warnf("marked %d unfinished retrain runs as failed", n)
	}
	if a.audit, err = store.NewAuditLog(cfg.Serving.AuditPath); err != nil {
		return nil, err
	}

	svcOpts := []recommend.Option{recommend.WithAuditor(a.audit)}
	var (
		retrainObs retrain.Observer
		marketObs  marketObserver
	)
	if a.metrics != nil {
		svcOpts = append(svcOpts, recommend.WithObserver(a.metrics))
		retrainObs = a.metrics
		marketObs = a.metrics
	}
	a.service = recommend.NewService(a.registry, recommend.Config{
		PolicyTimeout:    cfg.Serving.PolicyTimeout(),
		BreakerThreshold: cfg.Serving.BreakerThreshold,
		BreakerCooldown:  cfg.Serving.BreakerCooldown(),
	}, svcOpts...)

	a.pipeline = factory.Build(factory.Config{
		Generation:    generationOptions(cfg.Generation),
		Store:         arts,
		Trainer:       b.trainerFn(cfg.Training),
		PolicyURL:     cfg.Training.PolicyURL,
		PolicyTimeout: cfg.Serving.PolicyTimeout(),
		ProbePolicies: cfg.Training.ProbePolicies,
		Registry:      a.registry,
	})
	a.coordinator, err = retrain.New(retrain.Config{
		Runner:      a.pipeline,
		Runs:        a.runs,
		Observer:    retrainObs,
		MinInterval: cfg.Retrain.MinInterval(),
	})
	if err != nil {
		return nil, err
	}

	if a.catalog, err = b.catalogFn(cfg.Generation); err != nil {
		return nil, err
	}
	a.market, err = cfgloader.NewMarketLoader(cfg.Market.ConfigPath, cfgloader.Options{
		Watch:           cfg.Market.Watch,
		DefaultCPARatio: [2]float64{cfg.Market.CPARatioMin, cfg.Market.CPARatioMax},
	})
	if err != nil {
		return nil, err
	}
	a.sync = newMarketSync(a.market, a.coordinator, marketObs)
	a.market.Subscribe(a.sync.onChange)

	srvCfg := pricinghttp.ServerConfig{
		Addr:        cfg.App.HTTPAddr,
		CORSOrigins: cfg.Serving.CORSOrigins,
		Recommender: a.service,
		Registry:    a.registry,
		Market:      a.sync,
		Runs:        a.coordinator,
		Audit:       a.audit,
	}
	if a.metrics != nil {
		srvCfg.Metrics = a.metrics.Handler()
	}
	if a.http, err = b.httpServerFn(srvCfg); err != nil {
		return nil, err
	}

	a.Summary = newStartupSummary(cfg, a)
	return a, nil
}

func buildArtifactStore(ctx context.Context, cfg config.ArtifactsConfig) (*artifact.Store, error) {
	arts, err := artifact.NewStore(cfg.Dir, cfg.KeepReleases)
	if err != nil {
		return nil, err
	}
	if !cfg.Mirror.Enabled {
		return arts, nil
	}
	mirror, err := artifact.NewS3Mirror(ctx, artifact.S3Config{
		Bucket:   cfg.Mirror.Bucket,
		Region:   cfg.Mirror.Region,
		Endpoint: cfg.Mirror.Endpoint,
		Prefix:   cfg.Mirror.Prefix,
	})
	if err != nil {
		return nil, err
	}
	arts.SetMirror(mirror)
	if _, err := arts.Current(); err == nil || !cfg.Mirror.RestoreOnStart {
		return arts, nil
	}
	if id, err := arts.Restore(ctx, mirror); err != nil {
		logger.Warnf("artifact mirror restore skipped: %v", err)
	} else {
		logger.Infof("✓ restored release %s from s3://%s", id, cfg.Mirror.Bucket)
	}
	return arts, nil
}

func loadBaseCatalog(cfg config.GenerationConfig) (*scenario.Catalog, error) {
	if path := strings.TrimSpace(cfg.ScenariosPath); path != "" {
		return scenario.LoadFile(path)
	}
	return scenario.Default(), nil
}

func buildTrainer(cfg config.TrainingConfig) policy.Trainer {
	return policy.EmpiricalTrainer{
		ActionBins: cfg.ActionBins,
		MinSupport: cfg.MinSupport,
		Quantiles:  cfg.Quantiles,
	}
}

func generationOptions(cfg config.GenerationConfig) generator.Options {
	return generator.Options{
		SamplesPerScenario: cfg.SamplesPerScenario,
		Seed:               cfg.Seed,
		Balanced:           cfg.Balanced,
		Regions:            cfg.Regions,
		Platforms:          cfg.Platforms,
	}
}
