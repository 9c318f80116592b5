// Package config defines the proctor.yaml configuration schema.
//
// All values act as defaults for proctor run flags; CLI flags always
// override config values. Environment variable references in the file
// (${VAR}, ${VAR:-default}) are expanded at load time.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/pithecene-io/proctor/types"
)

// Config represents a proctor.yaml configuration file.
type Config struct {
	Suite      SuiteConfig      `yaml:"suite"`
	Postgres   PostgresConfig   `yaml:"postgres"`
	Store      StoreConfig      `yaml:"store"`
	Artifacts  ArtifactsConfig  `yaml:"artifacts"`
	Phases     []PhaseConfig    `yaml:"phases"`
	Supervisor SupervisorConfig `yaml:"supervisor"`
	Adapter    AdapterConfig    `yaml:"adapter"`
	Archive    ArchiveConfig    `yaml:"archive"`
}

// SuiteConfig identifies the application test suite to supervise.
type SuiteConfig struct {
	// Name labels the suite in reports and events.
	Name string `yaml:"name"`
	// Command is the base command line, e.g. ["./app-server", "--config", "app.conf"].
	Command []string `yaml:"command"`
	// ExtraArgs are appended to every phase's command line.
	ExtraArgs []string `yaml:"extra_args"`
}

// PostgresConfig holds administrative connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
}

// StoreConfig holds backing-store lifecycle settings.
type StoreConfig struct {
	// Prefix namespaces phase databases, e.g. "proctor" yields "proctor_unit".
	Prefix string `yaml:"prefix"`
	// DefaultDatabase is the shared store for phases without isolation.
	DefaultDatabase string `yaml:"default_database"`
	// ReferenceDatabase is the clone template source.
	ReferenceDatabase string `yaml:"reference_database"`
	// FilestoreRoot is the directory containing per-database filestores.
	FilestoreRoot string `yaml:"filestore_root"`
	// InitStatements run on a freshly created empty database, in order.
	InitStatements []string `yaml:"init_statements"`
}

// ArtifactsConfig holds artifact placement settings.
type ArtifactsConfig struct {
	// Dir is the root under which per-run directories are created.
	Dir string `yaml:"dir"`
}

// PhaseConfig is one test category in the run plan.
type PhaseConfig struct {
	Name string `yaml:"name"`
	// Isolation is one of "none", "fresh-empty", "clone-of-reference".
	// Empty means none.
	Isolation string `yaml:"isolation"`
	// Filter is the test selection filter passed to the suite.
	Filter string `yaml:"filter"`
	// Timeout is the phase's global deadline (e.g. "45m").
	Timeout Duration `yaml:"timeout"`
	// LinkFilestore links the phase's filestore namespace to the reference
	// namespace (UI phases needing uploaded assets).
	LinkFilestore bool `yaml:"link_filestore"`
	// Env holds environment overrides for the suite process.
	Env map[string]string `yaml:"env"`
	// StallThresholds overrides the default per-lifecycle-phase stall table,
	// keyed by lifecycle phase name (e.g. "testing: 3m").
	StallThresholds map[string]Duration `yaml:"stall_thresholds"`
}

// SupervisorConfig tunes the watchdog.
type SupervisorConfig struct {
	PollInterval      Duration `yaml:"poll_interval"`
	StallWarningLimit int      `yaml:"stall_warning_limit"`
	GracePeriod       Duration `yaml:"grace_period"`
}

// AdapterConfig holds completion-notification settings.
type AdapterConfig struct {
	// Type is "redis", "webhook", or empty to disable.
	Type    string            `yaml:"type"`
	URL     string            `yaml:"url"`
	Channel string            `yaml:"channel,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`
}

// ArchiveConfig holds artifact retention settings.
type ArchiveConfig struct {
	Bucket      string `yaml:"bucket"`
	Prefix      string `yaml:"prefix"`
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"`
	S3PathStyle bool   `yaml:"s3_path_style"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// DefaultPhaseTimeout applies when a phase omits its timeout.
const DefaultPhaseTimeout = 45 * time.Minute

// lifecyclePhases maps config keys to tracker lifecycle phases.
var lifecyclePhases = map[string]types.Phase{
	"starting":         types.PhaseStarting,
	"loading":          types.PhaseLoading,
	"ready":            types.PhaseReady,
	"testing":          types.PhaseTesting,
	"javascript_tests": types.PhaseJavascriptTests,
	"tour":             types.PhaseTour,
	"hoot_tests":       types.PhaseHootTests,
	"done":             types.PhaseDone,
}

// isolationModes maps config strings to isolation modes.
var isolationModes = map[string]types.IsolationMode{
	"":                   types.IsolationNone,
	"none":               types.IsolationNone,
	"fresh-empty":        types.IsolationFreshEmpty,
	"clone-of-reference": types.IsolationClone,
}

// Validate checks that required fields are present and enumerations valid.
func (c *Config) Validate() error {
	if len(c.Suite.Command) == 0 {
		return errors.New("suite.command is required")
	}
	seen := make(map[string]struct{}, len(c.Phases))
	for _, p := range c.Phases {
		if p.Name == "" {
			return errors.New("phase name is required")
		}
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("duplicate phase name %q", p.Name)
		}
		seen[p.Name] = struct{}{}
		if _, ok := isolationModes[p.Isolation]; !ok {
			return fmt.Errorf("phase %s: unknown isolation mode %q", p.Name, p.Isolation)
		}
		for key := range p.StallThresholds {
			if _, ok := lifecyclePhases[key]; !ok {
				return fmt.Errorf("phase %s: unknown lifecycle phase %q in stall_thresholds", p.Name, key)
			}
		}
	}
	return nil
}

// Descriptors converts configured phases into phase descriptors.
// When no phases are configured, DefaultPhases applies.
func (c *Config) Descriptors() ([]types.PhaseDescriptor, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if len(c.Phases) == 0 {
		return DefaultPhases(), nil
	}

	descriptors := make([]types.PhaseDescriptor, 0, len(c.Phases))
	for _, p := range c.Phases {
		desc := types.PhaseDescriptor{
			Name:          p.Name,
			Isolation:     isolationModes[p.Isolation],
			Filter:        p.Filter,
			BaseTimeout:   p.Timeout.Duration,
			LinkFilestore: p.LinkFilestore,
			Env:           p.Env,
		}
		if desc.BaseTimeout <= 0 {
			desc.BaseTimeout = DefaultPhaseTimeout
		}
		if len(p.StallThresholds) > 0 {
			desc.StallThresholds = make(map[types.Phase]time.Duration, len(p.StallThresholds))
			for key, d := range p.StallThresholds {
				desc.StallThresholds[lifecyclePhases[key]] = d.Duration
			}
		}
		descriptors = append(descriptors, desc)
	}
	return descriptors, nil
}

// DefaultPhases is the plan used when the config file names none: isolated
// unit tests, integration tests against a clone, then UI tours against a
// clone with the reference filestore linked in.
func DefaultPhases() []types.PhaseDescriptor {
	return []types.PhaseDescriptor{
		{
			Name:        "unit",
			Isolation:   types.IsolationFreshEmpty,
			Filter:      "unit",
			BaseTimeout: 30 * time.Minute,
		},
		{
			Name:        "integration",
			Isolation:   types.IsolationClone,
			Filter:      "integration",
			BaseTimeout: DefaultPhaseTimeout,
		},
		{
			Name:          "tour",
			Isolation:     types.IsolationClone,
			Filter:        "tour",
			BaseTimeout:   time.Hour,
			LinkFilestore: true,
		},
	}
}
