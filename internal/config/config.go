package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"apigate/internal/failure"

	"gopkg.in/yaml.v3"
)

// DefaultPath is the configuration file looked up in the workspace root.
const DefaultPath = "apigate.yaml"

// Config holds all apigate configuration.
type Config struct {
	// Project describes the tree being checked
	Project ProjectConfig `yaml:"project"`

	// Capability flags and the additivity check
	Features FeaturesConfig `yaml:"features"`

	// Pinned tool versions
	Pins PinsConfig `yaml:"pins"`

	// Per-revision build hook
	Build BuildConfig `yaml:"build"`

	// Artifact and report output
	Report ReportConfig `yaml:"report"`

	// Extra compatibility rules
	Rules RulesConfig `yaml:"rules"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// ProjectConfig configures snapshot extraction.
type ProjectConfig struct {
	Root     string   `yaml:"root"`     // crate or module root relative to the checkout
	Language string   `yaml:"language"` // rust, go
	Exclude  []string `yaml:"exclude"`  // doublestar globs relative to root
	Cfg      []string `yaml:"cfg"`      // extra cfg names or key=value pairs that count as set
}

// FeaturesConfig configures the feature additivity check.
type FeaturesConfig struct {
	// Flags to check one at a time. Empty means every feature declared in
	// Cargo.toml (Rust) and nothing for Go.
	Flags []string `yaml:"flags"`

	// Baseline is the feature set both sides of every comparison share.
	Baseline []string `yaml:"baseline"`

	// CheckAll also compares the baseline against all flags enabled at once.
	CheckAll bool `yaml:"check_all"`

	// Semver picks the feature set of the base/head comparison: "all"
	// enables every flag so gated items are checked too, "baseline" only
	// the baseline.
	Semver string `yaml:"semver"`

	// Concurrency bounds the number of flags extracted in parallel.
	Concurrency int `yaml:"concurrency"`
}

// PinsConfig locates the pinned version files.
type PinsConfig struct {
	CheckerFile   string `yaml:"checker_file"`
	ToolchainFile string `yaml:"toolchain_file"`

	// ToolchainCommand prints the installed toolchain version. Empty picks
	// "rustc --version" or "go version" from the project language.
	ToolchainCommand string `yaml:"toolchain_command"`
}

// ReportConfig configures the verdict outputs.
type ReportConfig struct {
	ArtifactDir     string `yaml:"artifact_dir"`
	ArtifactName    string `yaml:"artifact_name"`
	ReportName      string `yaml:"report_name"`
	Acknowledgments string `yaml:"acknowledgments"`
}

// RulesConfig configures the Differ rule table.
type RulesConfig struct {
	// File holds Mangle rules appended to the built-in table.
	File string `yaml:"file"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Project: ProjectConfig{
			Root:     ".",
			Language: "rust",
			Exclude:  []string{},
			Cfg:      []string{},
		},

		Features: FeaturesConfig{
			Flags:       []string{},
			Baseline:    []string{},
			Semver:      "all",
			Concurrency: 4,
		},

		Pins: PinsConfig{
			CheckerFile:   ".github/semver-checks-version",
			ToolchainFile: ".github/toolchain-version",
		},

		Build: DefaultBuildConfig(),

		Report: ReportConfig{
			ArtifactDir:     "semver-artifacts",
			ArtifactName:    "semver-break",
			ReportName:      "semver-report.json",
			Acknowledgments: ".github/semver-acknowledgments.yaml",
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults. Environment overrides apply in both cases.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, failure.Mark(fmt.Errorf("failed to read config: %w", err), failure.ErrConfig)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, failure.Mark(fmt.Errorf("failed to parse config %s: %w", path, err), failure.ErrConfig)
	}

	// Override with environment variables
	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if lang := os.Getenv("APIGATE_LANGUAGE"); lang != "" {
		c.Project.Language = strings.ToLower(strings.TrimSpace(lang))
	}
	if flags := os.Getenv("APIGATE_FEATURES"); flags != "" {
		c.Features.Flags = splitList(flags)
	}
	if dir := os.Getenv("APIGATE_ARTIFACT_DIR"); dir != "" {
		c.Report.ArtifactDir = dir
	}
	if level := os.Getenv("APIGATE_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// ValidLanguages lists the supported project languages.
var ValidLanguages = []string{"rust", "go"}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.validate(); err != nil {
		return failure.Mark(err, failure.ErrConfig)
	}
	return nil
}

func (c *Config) validate() error {
	validLanguage := false
	for _, l := range ValidLanguages {
		if c.Project.Language == l {
			validLanguage = true
			break
		}
	}
	if !validLanguage {
		return fmt.Errorf("invalid project language: %s (valid: %v)", c.Project.Language, ValidLanguages)
	}

	switch c.Features.Semver {
	case "", "all", "baseline":
	default:
		return fmt.Errorf("invalid features.semver: %s (valid: all, baseline)", c.Features.Semver)
	}

	if c.Features.Concurrency < 0 {
		return fmt.Errorf("features.concurrency must not be negative, got %d", c.Features.Concurrency)
	}

	for _, name := range []string{c.Report.ArtifactName, c.Report.ReportName} {
		if name == "" || strings.ContainsAny(name, `/\`) {
			return fmt.Errorf("report file names must be plain file names, got %q", name)
		}
	}
	if c.Report.ArtifactName == c.Report.ReportName {
		return fmt.Errorf("artifact and report must have different names, both are %q", c.Report.ArtifactName)
	}

	if _, err := c.Build.GetTimeout(); err != nil {
		return err
	}

	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid logging level: %s", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "console", "text", "json":
	default:
		return fmt.Errorf("invalid logging format: %s", c.Logging.Format)
	}

	return nil
}

// Resolve returns p relative to workspace unless it is absolute or empty.
func Resolve(workspace, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(workspace, p)
}
