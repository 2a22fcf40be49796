//go:build !wireinject

package app

import (
	"context"

	"github.com/raphalvezz/loocac/internal/config"
)

func buildAppWithWire(ctx context.Context, cfg *config.Config, opts ...AppBuilderOption) (*App, error) {
	appBuilder := provideAppBuilder(cfg, opts...)
	app, err := provideAppFromBuilder(appBuilder, ctx)
	if err != nil {
		return nil, err
	}
	return app, nil
}

type appBuilderDeps interface {
	Build(context.Context) (*App, error)
}

func provideAppFromBuilder(b appBuilderDeps, ctx context.Context) (*App, error) {
	return b.Build(ctx)
}

func provideAppBuilder(cfg *config.Config, opts ...AppBuilderOption) *AppBuilder {
	return NewAppBuilder(cfg, opts...)
}
