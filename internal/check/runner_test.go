package check

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"apigate/internal/config"
	"apigate/internal/failure"
	"apigate/internal/toolchain"
	"apigate/internal/verdict"
)

const cargoToml = `[package]
name = "parser"
version = "0.1.0"

[features]
std = []
`

func git(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
		"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com",
		"GIT_CONFIG_NOSYSTEM=1", "HOME="+dir,
	)
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %v: %s", args, out)
	return strings.TrimSpace(string(out))
}

func commit(t *testing.T, dir string, files map[string]string, msg string) string {
	t.Helper()
	for name, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0644))
		git(t, dir, "add", name)
	}
	git(t, dir, "commit", "-q", "-m", msg)
	return git(t, dir, "rev-parse", "HEAD")
}

// crateRepo creates a crate on main and a feature branch with headLib.
func crateRepo(t *testing.T, headLib string) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
	dir := t.TempDir()
	git(t, dir, "init", "-q", "-b", "main")
	commit(t, dir, map[string]string{
		"Cargo.toml": cargoToml,
		"src/lib.rs": "pub fn parse(s: &str) -> bool { true }\n",
	}, "base")
	git(t, dir, "checkout", "-q", "-b", "feature")
	commit(t, dir, map[string]string{"src/lib.rs": headLib}, "head")
	return dir
}

func newRunner(t *testing.T, dir string, mutate func(*config.Config)) (*Runner, string) {
	t.Helper()
	cfg := config.DefaultConfig()
	out := t.TempDir()
	cfg.Report.ArtifactDir = out
	if mutate != nil {
		mutate(cfg)
	}
	noEnv := func(string) string { return "" }
	r, err := NewRunner(dir, cfg, toolchain.Pins{}, WithGetenv(noEnv))
	require.NoError(t, err)
	return r, out
}

func trigger(pr string) verdict.TriggerInput {
	return verdict.TriggerInput{PR: pr, Base: "main", Head: "feature"}
}

func TestRun_SemverBreaking(t *testing.T) {
	dir := crateRepo(t, "pub fn parse(s: &str, strict: bool) -> bool { strict }\n")
	r, out := newRunner(t, dir, nil)

	report, err := r.Run(context.Background(), Semver, trigger("42"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, failure.ErrBreakingChange))
	assert.Equal(t, failure.ExitFail, failure.ExitCode(err))

	require.NotNil(t, report)
	assert.Equal(t, verdict.Fail, report.Verdict.Status)
	require.Len(t, report.Verdict.Breaking, 1)
	assert.Equal(t, "crate::parse", report.Verdict.Breaking[0].ID)
	assert.NotEmpty(t, report.BaseRev)

	data, err := os.ReadFile(filepath.Join(out, "semver-break"))
	require.NoError(t, err)
	assert.Equal(t, "42\n", string(data))
	assert.FileExists(t, filepath.Join(out, "semver-report.json"))
}

func TestRun_SemverAdditive(t *testing.T) {
	dir := crateRepo(t, "pub fn parse(s: &str) -> bool { true }\npub fn strict(s: &str) -> bool { true }\n")
	r, out := newRunner(t, dir, nil)

	report, err := r.Run(context.Background(), Semver, trigger("7"))
	require.NoError(t, err)
	assert.Equal(t, verdict.Pass, report.Verdict.Status)
	assert.Equal(t, 1, report.Summary.Added)

	assert.NoFileExists(t, filepath.Join(out, "semver-break"))
	assert.FileExists(t, filepath.Join(out, "semver-report.json"))
}

func TestRun_Acknowledged(t *testing.T) {
	dir := crateRepo(t, "pub fn parse(s: &str, strict: bool) -> bool { strict }\n")
	r, _ := newRunner(t, dir, nil)
	first, err := r.Run(context.Background(), Semver, trigger("42"))
	require.Error(t, err)

	acks := filepath.Join(t.TempDir(), "acks.yaml")
	require.NoError(t, os.WriteFile(acks, []byte("acknowledgments:\n  - fingerprint: "+first.Verdict.Fingerprint+"\n    reason: planned 2.0 change\n"), 0644))
	r, out := newRunner(t, dir, func(c *config.Config) { c.Report.Acknowledgments = acks })

	report, err := r.Run(context.Background(), Semver, trigger("42"))
	require.NoError(t, err)
	assert.Equal(t, verdict.Flagged, report.Verdict.Status)
	assert.FileExists(t, filepath.Join(out, "semver-break"))
}

func TestRun_BuildFailure(t *testing.T) {
	dir := crateRepo(t, "pub fn parse(s: &str, strict: bool) -> bool { strict }\n")
	r, out := newRunner(t, dir, func(c *config.Config) { c.Build.Command = "exit 3" })

	report, err := r.Run(context.Background(), Semver, trigger("42"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, failure.ErrBuildFailure))
	assert.Equal(t, verdict.Fail, report.Verdict.Status)
	assert.Contains(t, report.Verdict.Reason, "could not build revision")

	assert.NoFileExists(t, filepath.Join(out, "semver-break"))
	assert.FileExists(t, filepath.Join(out, "semver-report.json"))
}

func TestRun_MalformedTrigger(t *testing.T) {
	dir := crateRepo(t, "pub fn parse(s: &str, strict: bool) -> bool { strict }\n")
	r, out := newRunner(t, dir, nil)

	report, err := r.Run(context.Background(), Semver, trigger("abc"))
	require.Error(t, err)
	assert.Nil(t, report)
	assert.True(t, errors.Is(err, failure.ErrMalformedTrigger))

	entries, err := os.ReadDir(out)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRun_ToolchainMismatch(t *testing.T) {
	dir := crateRepo(t, "pub fn parse(s: &str) -> bool { true }\n")
	cfg := config.DefaultConfig()
	cfg.Report.ArtifactDir = t.TempDir()
	fake := toolchain.NewVerifier(func(ctx context.Context, name string, args ...string) (string, error) {
		return "rustc 1.70.0 (90c541806 2023-05-31)\n", nil
	})
	r, err := NewRunner(dir, cfg, toolchain.Pins{Toolchain: "1.74"},
		WithVerifier(fake), WithGetenv(func(string) string { return "" }))
	require.NoError(t, err)

	_, err = r.Run(context.Background(), Semver, trigger("1"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, failure.ErrToolingUnavailable))
	assert.Equal(t, failure.ExitFatal, failure.ExitCode(err))
}

func TestRun_Features(t *testing.T) {
	dir := crateRepo(t, `pub fn parse(s: &str) -> bool { true }

#[cfg(not(feature = "std"))]
pub fn parse_core(b: &[u8]) -> bool { true }
`)
	r, out := newRunner(t, dir, nil)

	report, err := r.Run(context.Background(), Features, trigger("9"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, failure.ErrBreakingChange))

	require.NotNil(t, report.Features)
	violations := report.Features.Violations()
	require.Len(t, violations, 1)
	assert.Equal(t, "std", violations[0].Flag)
	assert.Equal(t, "crate::parse_core", violations[0].Entry.ID)
	assert.FileExists(t, filepath.Join(out, "semver-break"))
}

func TestRun_FeaturesClean(t *testing.T) {
	dir := crateRepo(t, `pub fn parse(s: &str) -> bool { true }

#[cfg(feature = "std")]
pub fn parse_file(p: &std::path::Path) -> bool { true }
`)
	r, _ := newRunner(t, dir, nil)

	report, err := r.Run(context.Background(), Features, trigger("9"))
	require.NoError(t, err)
	assert.Equal(t, verdict.Pass, report.Verdict.Status)
	require.Len(t, report.Features.Results, 1)
	assert.Equal(t, 1, report.Features.Results[0].Added)
}

func TestNewRunner_InvalidConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Project.Language = "cobol"
	_, err := NewRunner(t.TempDir(), cfg, toolchain.Pins{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, failure.ErrConfig))
}

func TestSnapshotAndCompare(t *testing.T) {
	dir := crateRepo(t, "pub fn parse(s: &str, strict: bool) -> bool { strict }\n")
	r, _ := newRunner(t, dir, nil)
	ctx := context.Background()

	base, err := r.Snapshot(ctx, "main", nil)
	require.NoError(t, err)
	head, err := r.Snapshot(ctx, "feature", nil)
	require.NoError(t, err)
	_, ok := head.Lookup("crate::parse")
	assert.True(t, ok)

	report, err := r.Compare(base, head, verdict.Trigger{PR: 3, Base: "main", Head: "feature"})
	require.NoError(t, err)
	assert.Equal(t, verdict.Fail, report.Verdict.Status)
	assert.Equal(t, 1, report.Summary.ChangedIncompatibly)
}
