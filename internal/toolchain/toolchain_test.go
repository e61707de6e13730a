package toolchain

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"apigate/internal/failure"
	"apigate/internal/version"
)

func writePin(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadPins(t *testing.T) {
	checker := writePin(t, "semver-checks-version", "# pinned by release tooling\n0.4.0\n")
	tc := writePin(t, "toolchain-version", "1.74.0\n")

	pins, err := LoadPins(checker, tc)
	require.NoError(t, err)
	assert.Equal(t, Pins{Checker: "0.4.0", Toolchain: "1.74.0"}, pins)
	assert.Equal(t, "checker 0.4.0, toolchain 1.74.0", pins.String())
}

func TestLoadPins_MissingFilesAreUnpinned(t *testing.T) {
	dir := t.TempDir()
	pins, err := LoadPins(filepath.Join(dir, "a"), "")
	require.NoError(t, err)
	assert.Equal(t, Pins{}, pins)
	assert.Equal(t, "checker unpinned, toolchain unpinned", pins.String())
}

func TestLoadPins_EmptyFile(t *testing.T) {
	_, err := LoadPins(writePin(t, "pin", "\n# nothing\n"), "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, failure.ErrConfig))
}

func TestLoadPins_RustToolchainToml(t *testing.T) {
	tc := writePin(t, "rust-toolchain.toml", "[toolchain]\nchannel = \"1.63.0\"\ncomponents = [\"clippy\"]\n")
	pins, err := LoadPins("", tc)
	require.NoError(t, err)
	assert.Equal(t, "1.63.0", pins.Toolchain)
}

func TestMatchesVersion(t *testing.T) {
	tests := []struct {
		output string
		pin    string
		want   bool
	}{
		{"rustc 1.74.0 (79e9716c9 2023-11-13)", "1.74.0", true},
		{"rustc 1.74.1 (a28077b28 2023-12-04)", "1.74", true},
		{"rustc 1.74.1 (a28077b28 2023-12-04)", "1.7", false},
		{"rustc 1.75.0 (82e1608df 2023-12-21)", "1.74.0", false},
		{"go version go1.22.3 linux/amd64", "1.22.3", true},
		{"go version go1.22.3 linux/amd64", "go1.22", true},
		{"rustc 1.77.0-nightly (abc 2024-01-01)", "1.77.0", true},
		{"rustc 1.77.0-nightly (abc 2024-01-01)", "nightly", true},
		{"rustc 1.77.0-nightly (abc 2024-01-01)", "stable", false},
		{"rustc 1.74.0 (79e9716c9 2023-11-13)", "stable", true},
		{"anything", "", true},
	}
	for _, tt := range tests {
		if got := matchesVersion(tt.output, tt.pin); got != tt.want {
			t.Errorf("matchesVersion(%q, %q) = %v, want %v", tt.output, tt.pin, got, tt.want)
		}
	}
}

func fakeRunner(out string, err error) (Runner, *[]string) {
	var calls []string
	return func(ctx context.Context, name string, args ...string) (string, error) {
		calls = append(calls, name)
		return out, err
	}, &calls
}

func TestVerifyToolchain(t *testing.T) {
	ctx := context.Background()

	t.Run("match", func(t *testing.T) {
		run, calls := fakeRunner("rustc 1.74.0 (79e9716c9 2023-11-13)\n", nil)
		found, err := NewVerifier(run).VerifyToolchain(ctx, "1.74.0", "rustc --version")
		require.NoError(t, err)
		assert.Equal(t, "rustc 1.74.0 (79e9716c9 2023-11-13)", found)
		assert.Equal(t, []string{"rustc"}, *calls)
	})

	t.Run("mismatch", func(t *testing.T) {
		run, _ := fakeRunner("rustc 1.80.0 (aaa 2024-07-21)\n", nil)
		_, err := NewVerifier(run).VerifyToolchain(ctx, "1.74.0", "rustc --version")
		require.Error(t, err)
		assert.True(t, errors.Is(err, failure.ErrToolingUnavailable))
		assert.Equal(t, failure.ExitFatal, failure.ExitCode(err))
		assert.NotEmpty(t, failure.Hints(err))
	})

	t.Run("not installed", func(t *testing.T) {
		run, _ := fakeRunner("", &exec.Error{Name: "rustc", Err: exec.ErrNotFound})
		_, err := NewVerifier(run).VerifyToolchain(ctx, "1.74.0", "rustc --version")
		require.Error(t, err)
		assert.True(t, errors.Is(err, failure.ErrToolingUnavailable))
		assert.Contains(t, err.Error(), "not installed")
	})

	t.Run("command fails", func(t *testing.T) {
		run, _ := fakeRunner("error: toolchain not found", errors.New("exit status 1"))
		_, err := NewVerifier(run).VerifyToolchain(ctx, "1.74.0", "rustc --version")
		require.Error(t, err)
		assert.True(t, errors.Is(err, failure.ErrToolingUnavailable))
	})

	t.Run("unpinned skips the tool", func(t *testing.T) {
		run, calls := fakeRunner("", nil)
		_, err := NewVerifier(run).VerifyToolchain(ctx, "", "rustc --version")
		require.NoError(t, err)
		assert.Empty(t, *calls)
	})

	t.Run("empty command", func(t *testing.T) {
		run, _ := fakeRunner("", nil)
		_, err := NewVerifier(run).VerifyToolchain(ctx, "1.74.0", "  ")
		assert.True(t, errors.Is(err, failure.ErrConfig))
	})
}

func TestVerifyChecker(t *testing.T) {
	v := NewVerifier(nil)
	require.NoError(t, v.VerifyChecker(""))
	require.NoError(t, v.VerifyChecker("v"+version.Version))

	err := v.VerifyChecker("0.0.1-other")
	require.Error(t, err)
	assert.True(t, errors.Is(err, failure.ErrToolingUnavailable))
}

func TestCheck(t *testing.T) {
	run, _ := fakeRunner("go version go1.24.1 linux/amd64", nil)
	err := NewVerifier(run).Check(context.Background(), Pins{Checker: version.Version, Toolchain: "1.24"}, DefaultCommand("go"))
	require.NoError(t, err)
	assert.Equal(t, "rustc --version", DefaultCommand("rust"))
}
