// Command locac-report prices every row of the scenario table with the
// current release and renders the result as a table and an HTML chart.
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
	"github.com/raphalvezz/loocac/internal/generator"
	"github.com/raphalvezz/loocac/internal/logger"
	"github.com/raphalvezz/loocac/internal/report"
)

func main() {
	var (
		cfgFlag  = flag.String("config", "", "path to the YAML config")
		out      = flag.String("out", "locac-report.html", "chart output path, empty to skip")
		regime   = flag.String("regime", string(generator.RegimeOneShot), "one_shot or subscription")
		region   = flag.String("region", "", "fixed region context")
		platform = flag.String("platform", "", "fixed platform context")
		train    = flag.Bool("train", true, "retrain when no release is loaded")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(config.ResolvePath(*cfgFlag))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	r := generator.Regime(*regime)
	if !r.Valid() {
		log.Fatalf("unknown regime %q", *regime)
	}
	cfg.Market.Watch = false

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

	if !a.Registry().Status().Loaded {
		if !*train {
			log.Fatalf("no release loaded; run locac-pipeline first or pass -train")
		}
		if _, err := a.Retrain(ctx, "report"); err != nil {
			log.Fatalf("retrain: %v", err)
		}
	}

	rows, err := report.Build(ctx, a.Recommender(), a.BaseCatalog(), report.Options{Regime: r, Region: *region, Platform: *platform})
	if err != nil {
		log.Fatalf("build report: %v", err)
	}
	if err := report.WriteTable(os.Stdout, rows); err != nil {
		log.Fatalf("write table: %v", err)
	}
	if *out == "" {
		return
	}
	f, err := os.Create(*out)
	if err != nil {
		log.Fatalf("create %s: %v", *out, err)
	}
	defer f.Close()
	if err := report.WriteChart(f, rows); err != nil {
		log.Fatalf("write chart: %v", err)
	}
	logger.Infof("✓ chart written to %s", *out)
}
