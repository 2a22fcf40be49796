// Command locac-pipeline runs one offline retrain (generate, build
// datasets, train, publish) and exits.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/raphalvezz/loocac/internal/app"
	"github.com/raphalvezz/loocac/internal/artifact"
	"github.com/raphalvezz/loocac/internal/config"
	"github.com/raphalvezz/loocac/internal/logger"
)

func main() {
	var (
		cfgFlag   = flag.String("config", "", "path to the YAML config")
		seed      = flag.Uint64("seed", 0, "override generation.seed")
		samples   = flag.Int("samples", 0, "override generation.samples_per_scenario")
		scenarios = flag.String("scenarios", "", "scenario table (JSON or YAML) instead of the built-in article table")
		market    = flag.String("market", "", "market document to train against")
		csvOut    = flag.String("csv", "", "copy the supervised dataset of the new release to this path")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(config.ResolvePath(*cfgFlag))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if *seed != 0 {
		cfg.Generation.Seed = *seed
	}
	if *samples > 0 {
		cfg.Generation.SamplesPerScenario = *samples
	}
	if *scenarios != "" {
		cfg.Generation.ScenariosPath = *scenarios
	}
	if *market != "" {
		cfg.Market.ConfigPath = *market
	}
	cfg.Market.Watch = false
	cfg.Retrain.MinIntervalSeconds = 0

	closeLogs, err := app.SetupLogging(cfg.App)
	defer closeLogs()
	if err != nil {
		log.Fatalf("setup logging: %v", err)
	}

	a, err := app.NewApp(cfg)
	if err != nil {
		log.Fatalf("init app: %v", err)
	}
	defer a.Close()

	rec, err := a.Retrain(ctx, "cli")
	if err != nil {
		log.Fatalf("retrain: %v", err)
	}
	logger.Infof("✓ release %s published (%d samples, run %s)", rec.ReleaseID, rec.Samples, rec.ID)

	if *csvOut != "" {
		src := filepath.Join(a.Artifacts().ReleaseDir(rec.ReleaseID), artifact.FileSupervised)
		if err := copyFile(src, *csvOut); err != nil {
			log.Fatalf("export supervised dataset: %v", err)
		}
		logger.Infof("supervised dataset written to %s", *csvOut)
	}
	fmt.Println(rec.ReleaseID)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	if dir := filepath.Dir(dst); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
