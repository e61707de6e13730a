package config

import (
	"fmt"
	"time"
)

// BuildConfig configures the command run in each revision checkout before
// extraction, e.g. code generation or "cargo check".
type BuildConfig struct {
	// Command is run with the shell in the checkout. Empty skips the hook.
	Command string `yaml:"command"`

	// Timeout bounds one run of Command.
	Timeout string `yaml:"timeout"`

	// EnvVars are additional environment variables for the command.
	// Key examples: CARGO_TARGET_DIR, RUSTFLAGS, CGO_ENABLED
	EnvVars map[string]string `yaml:"env_vars,omitempty"`
}

// DefaultBuildConfig returns sensible defaults.
func DefaultBuildConfig() BuildConfig {
	return BuildConfig{
		Timeout: "10m",
		EnvVars: make(map[string]string),
	}
}

// GetTimeout returns the build timeout as a duration.
func (b BuildConfig) GetTimeout() (time.Duration, error) {
	if b.Timeout == "" {
		return 10 * time.Minute, nil
	}
	d, err := time.ParseDuration(b.Timeout)
	if err != nil {
		return 0, fmt.Errorf("invalid build.timeout %q: %w", b.Timeout, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("build.timeout must be positive, got %s", b.Timeout)
	}
	return d, nil
}
