package config

import (
	"strings"
	"time"
)

// Config is the service configuration.
type Config struct {
	App        AppConfig        `toml:"app"`
	Generation GenerationConfig `toml:"generation"`
	Artifacts  ArtifactsConfig  `toml:"artifacts"`
	Market     MarketConfig     `toml:"market"`
	Serving    ServingConfig    `toml:"serving"`
	Training   TrainingConfig   `toml:"training"`
	Retrain    RetrainConfig    `toml:"retrain"`
	Metrics    MetricsConfig    `toml:"metrics"`
}

type AppConfig struct {
	Env           string `toml:"env"`
	LogLevel      string `toml:"log_level"`
	LogPath       string `toml:"log_path"`
	HTTPAddr      string `toml:"http_addr"`
	PolicyDump    bool   `toml:"policy_dump"`
	PolicyLogPath string `toml:"policy_log_path"`
}

// GenerationConfig drives the synthetic transition generator.
type GenerationConfig struct {
	SamplesPerScenario int      `toml:"samples_per_scenario"`
	Seed               uint64   `toml:"seed"`
	Balanced           bool     `toml:"balanced"`
	ScenariosPath      string   `toml:"scenarios_path"`
	Regions            []string `toml:"regions"`
	Platforms          []string `toml:"platforms"`
}

type ArtifactsConfig struct {
	Dir          string       `toml:"dir"`
	KeepReleases int          `toml:"keep_releases"`
	Mirror       MirrorConfig `toml:"mirror"`
}

// MirrorConfig enables copying releases to S3 and restoring from it.
type MirrorConfig struct {
	Enabled        bool   `toml:"enabled"`
	Bucket         string `toml:"bucket"`
	Region         string `toml:"region"`
	Endpoint       string `toml:"endpoint"`
	Prefix         string `toml:"prefix"`
	RestoreOnStart bool   `toml:"restore_on_start"`
}

// MarketConfig locates the configurator document.
type MarketConfig struct {
	ConfigPath  string  `toml:"config_path"`
	Watch       bool    `toml:"watch"`
	CPARatioMin float64 `toml:"cpa_ratio_min"`
	CPARatioMax float64 `toml:"cpa_ratio_max"`
}

type ServingConfig struct {
	PolicyTimeoutMS        int      `toml:"policy_timeout_ms"`
	BreakerThreshold       int      `toml:"breaker_threshold"`
	BreakerCooldownSeconds int      `toml:"breaker_cooldown_seconds"`
	CORSOrigins            []string `toml:"cors_origins"`
	AuditPath              string   `toml:"audit_path"`
	AutoConfigure          bool     `toml:"auto_configure"`
}

func (s ServingConfig) PolicyTimeout() time.Duration {
	return time.Duration(s.PolicyTimeoutMS) * time.Millisecond
}

func (s ServingConfig) BreakerCooldown() time.Duration {
	return time.Duration(s.BreakerCooldownSeconds) * time.Second
}

// TrainingConfig tunes the reference trainer. A non-empty PolicyURL
// switches to an out-of-process policy.
type TrainingConfig struct {
	ActionBins    int    `toml:"action_bins"`
	MinSupport    int    `toml:"min_support"`
	Quantiles     int    `toml:"quantiles"`
	PolicyURL     string `toml:"policy_url"`
	ProbePolicies bool   `toml:"probe_policies"`
}

type RetrainConfig struct {
	RunsPath           string `toml:"runs_path"`
	MinIntervalSeconds int    `toml:"min_interval_seconds"`
}

func (r RetrainConfig) MinInterval() time.Duration {
	return time.Duration(r.MinIntervalSeconds) * time.Second
}

type MetricsConfig struct {
	Enabled   bool   `toml:"enabled"`
	Namespace string `toml:"namespace"`
}

// keySet tracks which keys the file set explicitly.
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
