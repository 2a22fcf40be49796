package app

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/raphalvezz/loocac/internal/config"
	"github.com/raphalvezz/loocac/internal/scenario"
)

// StartupSummary is printed once before serving.
type StartupSummary struct {
	Release   ReleaseSummary
	Catalog   CatalogSummary
	Serving   ServingSummary
	Pipeline  []string
	Artifacts string
	Mirror    string
}

type ReleaseSummary struct {
	Loaded    bool
	ReleaseID string
	LastError string
}

type CatalogSummary struct {
	Source    string
	Scenarios int
	Tiers     map[scenario.Tier]int
}

type ServingSummary struct {
	Addr          string
	PolicyTimeout string
	Breaker       string
	AutoConfigure bool
	Metrics       bool
}

func newStartupSummary(cfg *config.Config, a *App) *StartupSummary {
	st := a.registry.Status()
	s := &StartupSummary{
		Release: ReleaseSummary{Loaded: st.Loaded, ReleaseID: st.ReleaseID, LastError: st.LastError},
		Serving: ServingSummary{
			Addr:          cfg.App.HTTPAddr,
			PolicyTimeout: cfg.Serving.PolicyTimeout().String(),
			Breaker:       fmt.Sprintf("%d failures / %s cooldown", cfg.Serving.BreakerThreshold, cfg.Serving.BreakerCooldown()),
			AutoConfigure: cfg.Serving.AutoConfigure,
			Metrics:       a.metrics != nil,
		},
		Artifacts: cfg.Artifacts.Dir,
		Mirror:    "-",
	}
	if a.pipeline != nil {
		s.Pipeline = a.pipeline.StageNames()
	}
	if m := cfg.Artifacts.Mirror; m.Enabled {
		s.Mirror = fmt.Sprintf("s3://%s/%s", m.Bucket, m.Prefix)
	}
	catalog := a.ActiveCatalog()
	s.Catalog = CatalogSummary{Source: catalogSource(cfg, a), Scenarios: catalog.Len(), Tiers: map[scenario.Tier]int{}}
	for _, sc := range catalog.Scenarios() {
		s.Catalog.Tiers[sc.Tier]++
	}
	return s
}

func catalogSource(cfg *config.Config, a *App) string {
	if a.market != nil {
		if _, ok := a.market.Snapshot(); ok {
			return "market document " + cfg.Market.ConfigPath
		}
	}
	if p := strings.TrimSpace(cfg.Generation.ScenariosPath); p != "" {
		return p
	}
	return "built-in article table"
}

func (s *StartupSummary) Print() { s.Fprint(os.Stdout) }

func (s *StartupSummary) Fprint(w io.Writer) {
	fmt.Fprintln(w, strings.Repeat("=", 80))
	fmt.Fprintf(w, "%*s\n", 40+len("LOCAC STARTUP SUMMARY")/2, "LOCAC STARTUP SUMMARY")
	fmt.Fprintln(w, strings.Repeat("=", 80))

	fmt.Fprintln(w, "[RELEASE]")
	if s.Release.Loaded {
		fmt.Fprintf(w, "  current: %s\n", s.Release.ReleaseID)
	} else {
		fmt.Fprintln(w, "  current: (not configured)")
	}
	if s.Release.LastError != "" {
		fmt.Fprintf(w, "  last error: %s\n", s.Release.LastError)
	}
	fmt.Fprintf(w, "  artifacts: %s (mirror %s)\n", s.Artifacts, s.Mirror)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[SCENARIOS]")
	fmt.Fprintf(w, "  source: %s\n", s.Catalog.Source)
	fmt.Fprintf(w, "  rows: %d\n", s.Catalog.Scenarios)
	tiers := make([]string, 0, len(s.Catalog.Tiers))
	for t := range s.Catalog.Tiers {
		tiers = append(tiers, string(t))
	}
	sort.Strings(tiers)
	for _, t := range tiers {
		fmt.Fprintf(w, "  - %s: %d\n", t, s.Catalog.Tiers[scenario.Tier(t)])
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[SERVING]")
	fmt.Fprintf(w, "  listen: %s\n", s.Serving.Addr)
	fmt.Fprintf(w, "  policy timeout: %s\n", s.Serving.PolicyTimeout)
	fmt.Fprintf(w, "  breaker: %s\n", s.Serving.Breaker)
	fmt.Fprintf(w, "  auto-configure: %t, metrics: %t\n", s.Serving.AutoConfigure, s.Serving.Metrics)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[PIPELINE]")
	fmt.Fprintf(w, "  stages: %s\n", formatList(s.Pipeline))
	fmt.Fprintln(w, strings.Repeat("=", 80))
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}
