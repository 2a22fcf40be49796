package config

import (
	"fmt"
	"net/url"
	"strings"
)

func validate(c *Config) error {
	if err := c.App.validate(); err != nil {
		return err
	}
	if err := c.Generation.validate(); err != nil {
		return err
	}
	if err := c.Artifacts.validate(); err != nil {
		return err
	}
	if err := c.Market.validate(); err != nil {
		return err
	}
	if err := c.Serving.validate(); err != nil {
		return err
	}
	if err := c.Training.validate(); err != nil {
		return err
	}
	if c.Retrain.MinIntervalSeconds < 0 {
		return fmt.Errorf("retrain.min_interval_seconds must be >= 0")
	}
	return nil
}

func (a *AppConfig) validate() error {
	switch a.LogLevel {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("app.log_level must be one of debug/info/warn/error, got %q", a.LogLevel)
	}
	if strings.TrimSpace(a.HTTPAddr) == "" {
		return fmt.Errorf("app.http_addr cannot be empty")
	}
	return nil
}

func (g *GenerationConfig) validate() error {
	if g.SamplesPerScenario <= 0 {
		return fmt.Errorf("generation.samples_per_scenario must be > 0")
	}
	return nil
}

func (a *ArtifactsConfig) validate() error {
	if strings.TrimSpace(a.Dir) == "" {
		return fmt.Errorf("artifacts.dir cannot be empty")
	}
	if a.KeepReleases < 1 {
		return fmt.Errorf("artifacts.keep_releases must be >= 1")
	}
	if a.Mirror.Enabled && strings.TrimSpace(a.Mirror.Bucket) == "" {
		return fmt.Errorf("artifacts.mirror.bucket is required when the mirror is enabled")
	}
	return nil
}

func (m *MarketConfig) validate() error {
	if m.CPARatioMin <= 0 || m.CPARatioMax >= 1 || m.CPARatioMin > m.CPARatioMax {
		return fmt.Errorf("market cpa ratio range [%g, %g] must satisfy 0 < min <= max < 1", m.CPARatioMin, m.CPARatioMax)
	}
	return nil
}

func (s *ServingConfig) validate() error {
	if s.PolicyTimeoutMS <= 0 {
		return fmt.Errorf("serving.policy_timeout_ms must be > 0")
	}
	if s.BreakerThreshold <= 0 {
		return fmt.Errorf("serving.breaker_threshold must be > 0")
	}
	if s.BreakerCooldownSeconds <= 0 {
		return fmt.Errorf("serving.breaker_cooldown_seconds must be > 0")
	}
	return nil
}

func (t *TrainingConfig) validate() error {
	if t.ActionBins < 2 {
		return fmt.Errorf("training.action_bins must be >= 2")
	}
	if t.Quantiles < 2 {
		return fmt.Errorf("training.quantiles must be >= 2")
	}
	if t.MinSupport < 1 {
		return fmt.Errorf("training.min_support must be >= 1")
	}
	if t.PolicyURL != "" {
		u, err := url.Parse(t.PolicyURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("training.policy_url %q is not an absolute URL", t.PolicyURL)
		}
	}
	return nil
}
