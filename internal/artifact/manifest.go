// Package artifact owns the on-disk release layout: versioned manifest,
// staging directories and the atomic swap of the current release.
package artifact

import (
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/raphalvezz/loocac/internal/generator"
)

const (
	// FormatVersion is written into every manifest.
	FormatVersion = "1.0.0"
	// SupportedFormats is the range this build can read.
	SupportedFormats = "^1.0"
)

var (
	ErrVersionMismatch = errors.New("artifact format version mismatch")
	ErrNoRelease       = errors.New("no current release")
	ErrMissingArtifact = errors.New("artifact missing")
	ErrChecksum        = errors.New("artifact checksum mismatch")
)

const (
	FileManifest        = "manifest.json"
	FileFeatures        = "features.json"
	FileScalers         = "scalers.json"
	FileEstimator       = "profit_estimator.json"
	FileSupervised      = "supervised.csv"
	fileSchemaPrefix    = "schema_"
	fileReplayPrefix    = "replay_"
	filePolicyPrefix    = "policy_"
	PolicyKindEmpirical = "empirical"
	PolicyKindHTTP      = "http"
)

func SchemaFile(r generator.Regime) string { return fileSchemaPrefix + string(r) + ".json" }
func ReplayFile(r generator.Regime) string { return fileReplayPrefix + string(r) + ".bin" }
func PolicyFile(r generator.Regime) string { return filePolicyPrefix + string(r) + ".json" }

// Regimes lists both reward regimes in a stable order.
var Regimes = []generator.Regime{generator.RegimeOneShot, generator.RegimeSubscription}

// PolicyRef says where a regime's policy lives.
type PolicyRef struct {
	Kind string `json:"kind"`
	URL  string `json:"url,omitempty"`
}

// Manifest describes one release. Encoder and schema travel together under
// the same FormatVersion and file checksums.
type Manifest struct {
	FormatVersion      string                         `json:"format_version"`
	ReleaseID          string                         `json:"release_id"`
	CreatedAt          time.Time                      `json:"created_at"`
	Seed               uint64                         `json:"seed"`
	SamplesPerScenario int                            `json:"samples_per_scenario"`
	Scenarios          int                            `json:"scenarios"`
	Fingerprint        string                         `json:"fingerprint"`
	SchemaWidths       map[generator.Regime]int       `json:"schema_widths"`
	Policies           map[generator.Regime]PolicyRef `json:"policies"`
	Files              map[string]string              `json:"files"`
}

// CheckVersion fails closed on any format outside SupportedFormats.
func (m Manifest) CheckVersion() error {
	v, err := semver.NewVersion(m.FormatVersion)
	if err != nil {
		return fmt.Errorf("%w: %q: %v", ErrVersionMismatch, m.FormatVersion, err)
	}
	c, err := semver.NewConstraint(SupportedFormats)
	if err != nil {
		return err
	}
	if !c.Check(v) {
		return fmt.Errorf("%w: release %s has format %s, supported %s", ErrVersionMismatch, m.ReleaseID, v, SupportedFormats)
	}
	return nil
}
