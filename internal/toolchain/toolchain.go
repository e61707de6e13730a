// Package toolchain reads the pinned checker and toolchain versions and
// verifies that the installed tools match them.
package toolchain

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"unicode"

	"github.com/BurntSushi/toml"
	"github.com/cockroachdb/errors"

	"apigate/internal/failure"
	"apigate/internal/logging"
	"apigate/internal/version"
)

// Pins are the versions the run must use. An empty pin is unpinned.
type Pins struct {
	Checker   string `json:"checker,omitempty"`
	Toolchain string `json:"toolchain,omitempty"`
}

// LoadPins reads both pin files. A missing file leaves its pin empty; an
// unreadable or empty file is a configuration error.
func LoadPins(checkerPath, toolchainPath string) (Pins, error) {
	var p Pins
	var err error
	if p.Checker, err = readPin(checkerPath); err != nil {
		return Pins{}, err
	}
	if p.Toolchain, err = readPin(toolchainPath); err != nil {
		return Pins{}, err
	}
	logging.Boot("pins: checker=%q toolchain=%q", p.Checker, p.Toolchain)
	return p, nil
}

// rustToolchainFile is the rust-toolchain.toml layout, also accepted as a
// toolchain pin file.
type rustToolchainFile struct {
	Toolchain struct {
		Channel string `toml:"channel"`
	} `toml:"toolchain"`
}

func readPin(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logging.Get(logging.CategoryToolchain).Warn("pin file %s not found, version unpinned", path)
			return "", nil
		}
		return "", failure.Mark(errors.Wrapf(err, "read pin file %s", path), failure.ErrConfig)
	}

	text := string(data)
	if strings.Contains(text, "[toolchain]") {
		var f rustToolchainFile
		if _, err := toml.Decode(text, &f); err != nil {
			return "", failure.Mark(errors.Wrapf(err, "parse pin file %s", path), failure.ErrConfig)
		}
		if f.Toolchain.Channel != "" {
			return f.Toolchain.Channel, nil
		}
	}

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "[") {
			continue
		}
		return line, nil
	}
	return "", failure.Mark(errors.Newf("pin file %s is empty", path), failure.ErrConfig)
}

// Runner runs a command and returns its combined output.
type Runner func(ctx context.Context, name string, args ...string) (string, error)

// ExecRunner runs commands on the host.
func ExecRunner(ctx context.Context, name string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	return string(out), err
}

// DefaultCommand returns the version command for a project language.
func DefaultCommand(language string) string {
	if language == "go" {
		return "go version"
	}
	return "rustc --version"
}

// Verifier checks installed tools against pins.
type Verifier struct {
	run Runner
}

// NewVerifier creates a Verifier. A nil runner uses ExecRunner.
func NewVerifier(run Runner) *Verifier {
	if run == nil {
		run = ExecRunner
	}
	return &Verifier{run: run}
}

// VerifyChecker compares the checker pin with this binary's version.
func (v *Verifier) VerifyChecker(pin string) error {
	if pin == "" {
		return nil
	}
	if !version.Matches(pin) {
		return failure.ToolingUnavailable("apigate", pin, version.Version)
	}
	logging.Toolchain("checker version %s matches pin", version.Version)
	return nil
}

// VerifyToolchain runs command and checks that its output reports pin.
// It returns the tool's first output line.
func (v *Verifier) VerifyToolchain(ctx context.Context, pin, command string) (string, error) {
	if pin == "" {
		return "", nil
	}
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return "", failure.Mark(errors.New("empty toolchain command"), failure.ErrConfig)
	}
	tool := fields[0]

	out, err := v.run(ctx, tool, fields[1:]...)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if errors.Is(err, exec.ErrNotFound) {
			return "", failure.ToolingUnavailable(tool, pin, "not installed")
		}
		wrapped := errors.Wrapf(err, "%s failed: %s", command, strings.TrimSpace(out))
		return "", failure.Mark(wrapped, failure.ErrToolingUnavailable)
	}

	found := strings.TrimSpace(strings.SplitN(out, "\n", 2)[0])
	if !matchesVersion(found, pin) {
		return found, failure.ToolingUnavailable(tool, pin, found)
	}
	logging.Toolchain("%s matches pin %s", found, pin)
	return found, nil
}

// matchesVersion reports whether a tool's version line satisfies pin.
// Numeric pins match a version token exactly or as a prefix at a component
// boundary ("1.74" matches "1.74.1"). Channel pins match by name; "stable"
// matches any release that is not beta or nightly.
func matchesVersion(output, pin string) bool {
	pin = normalizeVersion(pin)
	if pin == "" {
		return true
	}
	if !strings.ContainsFunc(pin, unicode.IsDigit) {
		if pin == "stable" {
			return !strings.Contains(output, "nightly") && !strings.Contains(output, "beta")
		}
		return strings.Contains(output, pin)
	}
	for _, tok := range strings.FieldsFunc(output, func(r rune) bool {
		return unicode.IsSpace(r) || r == ',' || r == '(' || r == ')'
	}) {
		tok = normalizeVersion(tok)
		if tok == pin || strings.HasPrefix(tok, pin+".") || strings.HasPrefix(tok, pin+"-") {
			return true
		}
	}
	return false
}

func normalizeVersion(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "go")
	s = strings.TrimPrefix(s, "v")
	return s
}

// Check verifies both pins and logs the outcome.
func (v *Verifier) Check(ctx context.Context, pins Pins, command string) error {
	if err := v.VerifyChecker(pins.Checker); err != nil {
		return err
	}
	if _, err := v.VerifyToolchain(ctx, pins.Toolchain, command); err != nil {
		return err
	}
	return nil
}

// String renders the pins for reports.
func (p Pins) String() string {
	return fmt.Sprintf("checker %s, toolchain %s", orUnpinned(p.Checker), orUnpinned(p.Toolchain))
}

func orUnpinned(s string) string {
	if s == "" {
		return "unpinned"
	}
	return s
}
