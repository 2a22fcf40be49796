package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/raphalvezz/loocac/internal/app"
	"github.com/raphalvezz/loocac/internal/config"
	"github.com/raphalvezz/loocac/internal/logger"
)

func main() {
	cfgFlag := flag.String("config", "", "path to the YAML config (default $LOCAC_CONFIG or configs/locac.yaml)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfgPath := config.ResolvePath(*cfgFlag)
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	closeLogs, err := app.SetupLogging(cfg.App)
	defer closeLogs()
	if err != nil {
		log.Fatalf("setup logging: %v", err)
	}
	logger.Infof("✓ config loaded (env=%s, file=%s)", cfg.App.Env, cfgPath)

	a, err := app.NewApp(cfg)
	if err != nil {
		log.Fatalf("init app: %v", err)
	}
	if err := a.Run(ctx); err != nil {
		log.Fatalf("run: %v", err)
	}
}
