package config

import "strings"

const (
	defaultAppEnv             = "dev"
	defaultAppLogLevel        = "info"
	defaultAppHTTPAddr        = ":8000"
	defaultAppLogPath         = "data/logs/locac.log"
	defaultAppPolicyLogPath   = "data/logs/locac-policy.log"
	defaultSamplesPerScenario = 5000
	defaultSeed               = 42
	defaultArtifactsDir       = "data/artifacts"
	defaultKeepReleases       = 5
	defaultMirrorPrefix       = "locac"
	defaultMarketConfigPath   = "configs/market.json"
	defaultCPARatioMin        = 0.20
	defaultCPARatioMax        = 0.45
	defaultPolicyTimeoutMS    = 2000
	defaultBreakerThreshold   = 5
	defaultBreakerCooldown    = 30
	defaultAuditPath          = "data/db/audit.db"
	defaultActionBins         = 21
	defaultMinSupport         = 5
	defaultQuantiles          = 51
	defaultRunsPath           = "data/db/runs.db"
	defaultRetrainInterval    = 60
	defaultMetricsNamespace   = "locac"
)

func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Generation.applyDefaults(keys)
	c.Artifacts.applyDefaults(keys)
	c.Market.applyDefaults(keys)
	c.Serving.applyDefaults(keys)
	c.Training.applyDefaults(keys)
	c.Retrain.applyDefaults(keys)
	c.Metrics.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
		stringFieldDefault("app.policy_log_path", &a.PolicyLogPath, defaultAppPolicyLogPath),
	)
	a.LogLevel = strings.ToLower(strings.TrimSpace(a.LogLevel))
}

func (g *GenerationConfig) applyDefaults(keys keySet) {
	if g == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("generation.samples_per_scenario", &g.SamplesPerScenario, defaultSamplesPerScenario),
		// seed 0 is a valid seed when written explicitly
		fieldDefault{
			key:   "generation.seed",
			need:  func() bool { return g.Seed == 0 },
			apply: func() { g.Seed = defaultSeed },
		},
	)
	g.Regions = normalizeList(g.Regions)
	g.Platforms = normalizeList(g.Platforms)
}

func (a *ArtifactsConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("artifacts.dir", &a.Dir, defaultArtifactsDir),
		intFieldDefault("artifacts.keep_releases", &a.KeepReleases, defaultKeepReleases),
		stringFieldDefault("artifacts.mirror.prefix", &a.Mirror.Prefix, defaultMirrorPrefix),
	)
}

func (m *MarketConfig) applyDefaults(keys keySet) {
	if m == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("market.config_path", &m.ConfigPath, defaultMarketConfigPath),
		boolFieldDefault("market.watch", &m.Watch, true),
		floatFieldDefault("market.cpa_ratio_min", &m.CPARatioMin, defaultCPARatioMin),
		floatFieldDefault("market.cpa_ratio_max", &m.CPARatioMax, defaultCPARatioMax),
	)
}

func (s *ServingConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("serving.policy_timeout_ms", &s.PolicyTimeoutMS, defaultPolicyTimeoutMS),
		intFieldDefault("serving.breaker_threshold", &s.BreakerThreshold, defaultBreakerThreshold),
		intFieldDefault("serving.breaker_cooldown_seconds", &s.BreakerCooldownSeconds, defaultBreakerCooldown),
		stringFieldDefault("serving.audit_path", &s.AuditPath, defaultAuditPath),
		boolFieldDefault("serving.auto_configure", &s.AutoConfigure, true),
	)
	if !keys.isSet("serving.cors_origins") && len(s.CORSOrigins) == 0 {
		s.CORSOrigins = []string{"*"}
	}
	s.CORSOrigins = normalizeList(s.CORSOrigins)
}

func (t *TrainingConfig) applyDefaults(keys keySet) {
	if t == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("training.action_bins", &t.ActionBins, defaultActionBins),
		intFieldDefault("training.min_support", &t.MinSupport, defaultMinSupport),
		intFieldDefault("training.quantiles", &t.Quantiles, defaultQuantiles),
		boolFieldDefault("training.probe_policies", &t.ProbePolicies, true),
	)
	t.PolicyURL = strings.TrimSpace(t.PolicyURL)
}

func (r *RetrainConfig) applyDefaults(keys keySet) {
	if r == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("retrain.runs_path", &r.RunsPath, defaultRunsPath),
		intFieldDefault("retrain.min_interval_seconds", &r.MinIntervalSeconds, defaultRetrainInterval),
	)
}

func (m *MetricsConfig) applyDefaults(keys keySet) {
	if m == nil {
		return
	}
	applyFieldDefaults(keys,
		boolFieldDefault("metrics.enabled", &m.Enabled, true),
		stringFieldDefault("metrics.namespace", &m.Namespace, defaultMetricsNamespace),
	)
}

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return target != nil && strings.TrimSpace(*target) == "" },
		apply: func() { *target = def },
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return target != nil && *target <= 0 },
		apply: func() { *target = def },
	}
}

func floatFieldDefault(key string, target *float64, def float64) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return target != nil && *target <= 0 },
		apply: func() { *target = def },
	}
}

// boolFieldDefault only applies when the key is absent from the file.
func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return target != nil },
		apply: func() { *target = def },
	}
}

func normalizeList(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
