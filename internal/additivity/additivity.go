// Package additivity checks that enabling a capability flag only adds to the
// public interface. For every flag the snapshot taken with the flag off is
// compared against the snapshot taken with it on; anything removed or changed
// incompatibly by turning the flag on is a violation.
package additivity

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"apigate/internal/compat"
	"apigate/internal/extract"
	"apigate/internal/logging"
	"apigate/internal/snapshot"
)

// AllFlags names the combination with every flag enabled at once.
const AllFlags = "(all)"

// Evaluate compares a baseline snapshot with a snapshot taken with more
// flags enabled and returns the violations: the entries that are breaking.
func Evaluate(baseline, flagged *snapshot.Snapshot) ([]compat.Entry, error) {
	entries, err := compat.Diff(baseline, flagged)
	if err != nil {
		return nil, err
	}
	return compat.BreakingOnly(entries), nil
}

// Snapshotter extracts a snapshot of a checked-out tree.
type Snapshotter interface {
	Extract(ctx context.Context, dir, rev string, features extract.FeatureSet) (*snapshot.Snapshot, error)
}

// Plan describes one additivity run over a single checkout.
type Plan struct {
	Dir string
	Rev string

	// Baseline is enabled on both sides of every comparison.
	Baseline extract.FeatureSet

	// Flags are checked one at a time.
	Flags []string

	// Closure expands a flag into everything it enables. Nil means the flag
	// enables only itself.
	Closure func(flag string) extract.FeatureSet

	// CheckAll adds one comparison with every flag enabled.
	CheckAll bool
}

func (p Plan) enabled(flags ...string) extract.FeatureSet {
	out := p.Baseline.Union(nil)
	for _, f := range flags {
		if p.Closure != nil {
			out = out.Union(p.Closure(f))
		} else {
			out = out.Union(extract.NewFeatureSet(f))
		}
	}
	return out
}

// Result is the outcome for one flag combination.
type Result struct {
	Flag       string         `json:"flag"`
	Enabled    []string       `json:"enabled"`
	Added      int            `json:"added"`
	Violations []compat.Entry `json:"violations,omitempty"`
}

// Report collects the results of a run, sorted by flag.
type Report struct {
	Revision string   `json:"revision"`
	Baseline []string `json:"baseline"`
	Results  []Result `json:"results"`
}

// Violation is a breaking entry attributed to the flag that caused it.
type Violation struct {
	Flag  string       `json:"flag"`
	Entry compat.Entry `json:"entry"`
}

// String renders the violation on one line.
func (v Violation) String() string {
	return fmt.Sprintf("feature %s: %s", v.Flag, v.Entry)
}

// Violations flattens the per-flag violations.
func (r *Report) Violations() []Violation {
	var out []Violation
	for _, res := range r.Results {
		for _, e := range res.Violations {
			out = append(out, Violation{Flag: res.Flag, Entry: e})
		}
	}
	return out
}

// Clean reports whether every flag was additive.
func (r *Report) Clean() bool { return len(r.Violations()) == 0 }

// Checker runs additivity checks concurrently.
type Checker struct {
	snapshotter Snapshotter
	differ      *compat.Differ
	concurrency int
}

// NewChecker creates a Checker. concurrency <= 0 means one flag at a time.
// A nil differ uses the built-in rule table.
func NewChecker(s Snapshotter, d *compat.Differ, concurrency int) *Checker {
	if concurrency <= 0 {
		concurrency = 1
	}
	if d == nil {
		d = compat.Default()
	}
	return &Checker{snapshotter: s, differ: d, concurrency: concurrency}
}

// Run extracts the baseline once, then every flag combination in parallel.
// The first extraction failure cancels the remaining work.
func (c *Checker) Run(ctx context.Context, plan Plan) (*Report, error) {
	timer := logging.StartTimer(logging.CategoryFeatures, "additivity check")
	defer timer.StopWithInfo()

	baseSet := plan.enabled()
	baseline, err := c.snapshotter.Extract(ctx, plan.Dir, plan.Rev, baseSet)
	if err != nil {
		return nil, err
	}

	type combo struct {
		name  string
		flags []string
	}
	var combos []combo
	seen := make(map[string]bool)
	for _, f := range plan.Flags {
		if f == "" || seen[f] || baseSet.Has(f) {
			continue
		}
		seen[f] = true
		combos = append(combos, combo{name: f, flags: []string{f}})
	}
	if plan.CheckAll && len(combos) > 1 {
		all := make([]string, 0, len(combos))
		for _, cb := range combos {
			all = append(all, cb.name)
		}
		combos = append(combos, combo{name: AllFlags, flags: all})
	}

	logging.Features("checking %d flag combinations against baseline [%s] (concurrency %d)",
		len(combos), baseSet, c.concurrency)

	results := make([]Result, len(combos))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, cb := range combos {
		g.Go(func() error {
			enabled := plan.enabled(cb.flags...)
			flagged, err := c.snapshotter.Extract(gctx, plan.Dir, plan.Rev, enabled)
			if err != nil {
				return fmt.Errorf("feature %s: %w", cb.name, err)
			}
			entries, err := c.differ.Diff(baseline, flagged)
			if err != nil {
				return fmt.Errorf("feature %s: %w", cb.name, err)
			}
			res := Result{Flag: cb.name, Enabled: enabled.Names(), Violations: compat.BreakingOnly(entries)}
			res.Added = compat.Summarize(entries).Added
			results[i] = res

			if len(res.Violations) > 0 {
				logging.Get(logging.CategoryFeatures).Warn("feature %s is not additive: %d violations", cb.name, len(res.Violations))
			} else {
				logging.FeaturesDebug("feature %s is additive (+%d symbols)", cb.name, res.Added)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Flag < results[j].Flag })
	return &Report{Revision: plan.Rev, Baseline: baseSet.Names(), Results: results}, nil
}
