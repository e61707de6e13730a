// Package check composes revision access, extraction, the Differ, the
// additivity checker and the verdict reporter into the two CI checks.
package check

import (
	"context"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"

	"apigate/internal/additivity"
	"apigate/internal/compat"
	"apigate/internal/config"
	"apigate/internal/extract"
	"apigate/internal/failure"
	"apigate/internal/logging"
	"apigate/internal/revision"
	"apigate/internal/snapshot"
	"apigate/internal/toolchain"
	"apigate/internal/verdict"
	"apigate/internal/version"
)

// Kind names one of the two independent checks.
type Kind string

const (
	Semver   Kind = "semver"   // base vs head public interface
	Features Kind = "features" // flag-off vs flag-on on head
)

// Runner runs checks against one workspace. Configuration, pins and
// acknowledgments are loaded once by the caller and passed in.
type Runner struct {
	workspace string
	cfg       *config.Config
	pins      toolchain.Pins

	extractor *extract.Extractor
	differ    *compat.Differ
	verifier  *toolchain.Verifier
	acks      []verdict.Acknowledgment
	artifacts verdict.Artifacts
	getenv    verdict.Getenv
}

// Option customizes a Runner.
type Option func(*Runner)

// WithVerifier replaces the toolchain verifier.
func WithVerifier(v *toolchain.Verifier) Option {
	return func(r *Runner) { r.verifier = v }
}

// WithGetenv replaces the environment lookup used for trigger fallbacks.
func WithGetenv(getenv verdict.Getenv) Option {
	return func(r *Runner) { r.getenv = getenv }
}

// NewRunner builds a Runner for workspace.
func NewRunner(workspace string, cfg *config.Config, pins toolchain.Pins, opts ...Option) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ext, err := extract.New(extract.Options{
		Language: cfg.Project.Language,
		Root:     cfg.Project.Root,
		Exclude:  cfg.Project.Exclude,
		CfgFlags: cfg.Project.Cfg,
	})
	if err != nil {
		return nil, err
	}

	extra, err := compat.LoadRulesFile(config.Resolve(workspace, cfg.Rules.File))
	if err != nil {
		return nil, failure.Mark(err, failure.ErrConfig)
	}
	differ, err := compat.NewDiffer(extra...)
	if err != nil {
		return nil, failure.Mark(errors.Wrap(err, "compile rule table"), failure.ErrConfig)
	}

	acks, err := verdict.LoadAcknowledgments(config.Resolve(workspace, cfg.Report.Acknowledgments))
	if err != nil {
		return nil, err
	}

	r := &Runner{
		workspace: workspace,
		cfg:       cfg,
		pins:      pins,
		extractor: ext,
		differ:    differ,
		verifier:  toolchain.NewVerifier(nil),
		acks:      acks,
		artifacts: verdict.Artifacts{
			Dir:          config.Resolve(workspace, cfg.Report.ArtifactDir),
			ArtifactName: cfg.Report.ArtifactName,
			ReportName:   cfg.Report.ReportName,
		},
		getenv: os.Getenv,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Run validates the trigger, runs one check and writes the artifacts.
// A malformed trigger is rejected before anything is written. The returned
// error is nil for Pass and Flagged, marked failure.ErrBreakingChange or
// failure.ErrBuildFailure for Fail, and carries the fatal kind otherwise.
func (r *Runner) Run(ctx context.Context, kind Kind, in verdict.TriggerInput) (*verdict.Report, error) {
	trigger, err := verdict.ResolveTrigger(in, r.getenv)
	if err != nil {
		return nil, err
	}
	logging.Boot("%s check for PR #%d (%s..%s)", kind, trigger.PR, trigger.Base, trigger.Head)

	if err := r.verifier.Check(ctx, r.pins, r.toolchainCommand()); err != nil {
		return nil, err
	}

	var report *verdict.Report
	switch kind {
	case Semver:
		report, err = r.semver(ctx, trigger)
	case Features:
		report, err = r.features(ctx, trigger)
	default:
		return nil, failure.Mark(errors.Newf("unknown check %q", kind), failure.ErrConfig)
	}
	if err != nil {
		return nil, err
	}

	written, err := r.artifacts.Write(report)
	if err != nil {
		return report, err
	}
	for _, path := range written {
		logging.Get(logging.CategoryVerdict).Debug("wrote %s", path)
	}
	return report, report.Verdict.Err()
}

func (r *Runner) toolchainCommand() string {
	if r.cfg.Pins.ToolchainCommand != "" {
		return r.cfg.Pins.ToolchainCommand
	}
	return toolchain.DefaultCommand(r.cfg.Project.Language)
}

func (r *Runner) newReport(kind Kind, trigger verdict.Trigger) *verdict.Report {
	report := verdict.NewReport(string(kind), version.String(), trigger)
	report.Language = r.extractor.Language()
	return report
}

// checkout is a built worktree of one revision.
type checkout struct {
	wt      *revision.Worktree
	project string // project root inside the worktree
}

// prepare checks rev out and runs the build hook. A build failure is
// returned as-is for the caller to turn into a verdict.
func (r *Runner) prepare(ctx context.Context, repo *revision.Repo, rev string) (*checkout, error) {
	wt, err := repo.Checkout(ctx, rev)
	if err != nil {
		return nil, err
	}
	timeout, err := r.cfg.Build.GetTimeout()
	if err != nil {
		_ = wt.Remove(ctx)
		return nil, failure.Mark(err, failure.ErrConfig)
	}
	hook := revision.BuildHook{Command: r.cfg.Build.Command, Timeout: timeout, Env: r.cfg.Build.EnvVars}
	if _, err := hook.Run(ctx, wt.Dir, rev); err != nil {
		_ = wt.Remove(ctx)
		return nil, err
	}
	return &checkout{wt: wt, project: filepath.Join(wt.Dir, r.cfg.Project.Root)}, nil
}

func (c *checkout) remove() {
	if c != nil {
		_ = c.wt.Remove(context.Background())
	}
}

func (r *Runner) openRepo(ctx context.Context) (*revision.Repo, error) {
	repo, err := revision.Open(ctx, r.workspace)
	if err != nil {
		return nil, err
	}
	if err := repo.EnsureFullHistory(ctx); err != nil {
		return nil, err
	}
	return repo, nil
}

// semver compares head with the merge base of base and head.
func (r *Runner) semver(ctx context.Context, trigger verdict.Trigger) (*verdict.Report, error) {
	report := r.newReport(Semver, trigger)

	repo, err := r.openRepo(ctx)
	if err != nil {
		return nil, err
	}
	baseSHA, err := repo.Resolve(ctx, trigger.Base)
	if err != nil {
		return nil, err
	}
	headSHA, err := repo.Resolve(ctx, trigger.Head)
	if err != nil {
		return nil, err
	}
	mergeBase, err := repo.MergeBase(ctx, baseSHA, headSHA)
	if err != nil {
		return nil, err
	}
	report.BaseRev, report.HeadRev = mergeBase, headSHA

	snaps := make([]*snapshot.Snapshot, 2)
	for i, rev := range []string{mergeBase, headSHA} {
		snap, err := r.snapshotRevision(ctx, repo, rev)
		if err != nil {
			if errors.Is(err, failure.ErrBuildFailure) {
				report.Verdict = verdict.BuildFailed(err)
				logging.BuildError("%v", err)
				return report, nil
			}
			return nil, err
		}
		snaps[i] = snap
	}

	entries, err := r.differ.Diff(snaps[0], snaps[1])
	if err != nil {
		return nil, err
	}
	report.SetEntries(entries)
	report.Decide(r.acks)
	return report, nil
}

// snapshotRevision checks rev out, builds it and extracts its snapshot
// with the semver feature set.
func (r *Runner) snapshotRevision(ctx context.Context, repo *revision.Repo, rev string) (*snapshot.Snapshot, error) {
	co, err := r.prepare(ctx, repo, rev)
	if err != nil {
		return nil, err
	}
	defer co.remove()

	features, err := r.semverFeatures(co.project)
	if err != nil {
		return nil, failure.BuildFailure(rev, err)
	}
	return r.extractor.Extract(ctx, co.wt.Dir, rev, features)
}

func (r *Runner) semverFeatures(dir string) (extract.FeatureSet, error) {
	baseline := extract.NewFeatureSet(r.cfg.Features.Baseline...)
	if r.cfg.Features.Semver == "baseline" {
		return baseline, nil
	}
	flags, _, err := r.flags(dir)
	if err != nil {
		return nil, err
	}
	return baseline.Union(extract.NewFeatureSet(flags...)), nil
}

// flags returns the flags to check and their closure function. Rust flags
// default to every feature declared in Cargo.toml.
func (r *Runner) flags(dir string) ([]string, func(string) extract.FeatureSet, error) {
	if r.cfg.Project.Language != "rust" {
		return r.cfg.Features.Flags, nil, nil
	}
	manifest, err := extract.LoadCargoManifest(dir)
	if err != nil {
		return nil, nil, err
	}
	flags := r.cfg.Features.Flags
	if len(flags) == 0 {
		flags = manifest.FlagNames()
	}
	return flags, func(f string) extract.FeatureSet { return manifest.Closure(f) }, nil
}

// features checks every flag of head for additivity.
func (r *Runner) features(ctx context.Context, trigger verdict.Trigger) (*verdict.Report, error) {
	report := r.newReport(Features, trigger)

	repo, err := revision.Open(ctx, r.workspace)
	if err != nil {
		return nil, err
	}
	headSHA, err := repo.Resolve(ctx, trigger.Head)
	if err != nil {
		return nil, err
	}
	report.HeadRev = headSHA

	co, err := r.prepare(ctx, repo, headSHA)
	if err != nil {
		if errors.Is(err, failure.ErrBuildFailure) {
			report.Verdict = verdict.BuildFailed(err)
			return report, nil
		}
		return nil, err
	}
	defer co.remove()

	flags, closure, err := r.flags(co.project)
	if err != nil {
		report.Verdict = verdict.BuildFailed(failure.BuildFailure(headSHA, err))
		return report, nil
	}

	checker := additivity.NewChecker(r.extractor, r.differ, r.cfg.Features.Concurrency)
	feats, err := checker.Run(ctx, additivity.Plan{
		Dir:      co.wt.Dir,
		Rev:      headSHA,
		Baseline: extract.NewFeatureSet(r.cfg.Features.Baseline...),
		Flags:    flags,
		Closure:  closure,
		CheckAll: r.cfg.Features.CheckAll,
	})
	if err != nil {
		if errors.Is(err, failure.ErrBuildFailure) {
			report.Verdict = verdict.BuildFailed(err)
			return report, nil
		}
		return nil, err
	}
	report.Features = feats
	report.Decide(r.acks)
	return report, nil
}

// Compare diffs two stored snapshots without any checkout.
func (r *Runner) Compare(base, head *snapshot.Snapshot, trigger verdict.Trigger) (*verdict.Report, error) {
	report := r.newReport(Semver, trigger)
	report.BaseRev, report.HeadRev = base.Revision, head.Revision
	entries, err := r.differ.Diff(base, head)
	if err != nil {
		return nil, err
	}
	report.SetEntries(entries)
	report.Decide(r.acks)
	return report, nil
}

// Snapshot extracts one revision. An empty rev snapshots the workspace as
// it is on disk; anything else is checked out and built first.
func (r *Runner) Snapshot(ctx context.Context, rev string, features []string) (*snapshot.Snapshot, error) {
	fs := extract.NewFeatureSet(r.cfg.Features.Baseline...).Union(extract.NewFeatureSet(features...))
	if rev == "" {
		return r.extractor.Extract(ctx, r.workspace, "workspace", fs)
	}
	repo, err := revision.Open(ctx, r.workspace)
	if err != nil {
		return nil, err
	}
	sha, err := repo.Resolve(ctx, rev)
	if err != nil {
		return nil, err
	}
	co, err := r.prepare(ctx, repo, sha)
	if err != nil {
		return nil, err
	}
	defer co.remove()
	return r.extractor.Extract(ctx, co.wt.Dir, sha, fs)
}

// Flags lists the flags the features check would examine in the workspace.
func (r *Runner) Flags() ([]string, error) {
	flags, _, err := r.flags(filepath.Join(r.workspace, r.cfg.Project.Root))
	return flags, err
}
