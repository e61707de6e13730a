// Package verdict turns Differ entries and additivity violations into the
// single Pass/Fail/Flagged verdict of a run, writes the run artifacts and
// renders the report.
package verdict

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"

	"apigate/internal/additivity"
	"apigate/internal/compat"
	"apigate/internal/failure"
)

// Status is the aggregate outcome of a run.
type Status string

const (
	Pass    Status = "Pass"
	Fail    Status = "Fail"
	Flagged Status = "Flagged" // breaking, but acknowledged
)

// Verdict is the result of one check.
type Verdict struct {
	Status Status `json:"status"`

	// Reason explains a Fail that has no entries, e.g. a build failure.
	Reason string `json:"reason,omitempty"`

	// Breaking lists the breaking Differ entries.
	Breaking []compat.Entry `json:"breaking,omitempty"`

	// Violations lists the additivity violations.
	Violations []additivity.Violation `json:"violations,omitempty"`

	// Fingerprint identifies the breaking change set. Acknowledgments
	// must quote it exactly.
	Fingerprint string `json:"fingerprint,omitempty"`

	// Acknowledgment is the record that turned a Fail into Flagged.
	Acknowledgment *Acknowledgment `json:"acknowledgment,omitempty"`
}

// Evaluate builds the verdict. With no breaking entry and no violation the
// verdict is Pass. Otherwise it is Flagged when an acknowledgment matches
// the fingerprint of the change set and the pull request, and Fail when
// none does.
func Evaluate(entries []compat.Entry, violations []additivity.Violation, acks []Acknowledgment, trigger Trigger) Verdict {
	v := Verdict{
		Breaking:   compat.BreakingOnly(entries),
		Violations: violations,
	}
	if len(v.Breaking) == 0 && len(v.Violations) == 0 {
		v.Status = Pass
		return v
	}

	v.Fingerprint = Fingerprint(v.Breaking, v.Violations)
	for i := range acks {
		if acks[i].Matches(v.Fingerprint, trigger.PR) {
			v.Status = Flagged
			ack := acks[i]
			v.Acknowledgment = &ack
			return v
		}
	}
	v.Status = Fail
	return v
}

// BuildFailed is the verdict of a run whose revision could not be built.
func BuildFailed(err error) Verdict {
	return Verdict{Status: Fail, Reason: err.Error()}
}

// BreakingChange reports whether the verdict found a breaking change,
// acknowledged or not.
func (v Verdict) BreakingChange() bool {
	return len(v.Breaking) > 0 || len(v.Violations) > 0
}

// ExitCode maps the verdict to the process exit status.
func (v Verdict) ExitCode() int {
	if v.Status == Fail {
		return failure.ExitFail
	}
	return failure.ExitPass
}

// Err returns a failure.ErrBreakingChange error for a Fail verdict.
func (v Verdict) Err() error {
	if v.Status != Fail {
		return nil
	}
	if v.Reason != "" && !v.BreakingChange() {
		return failure.Mark(errors.New(v.Reason), failure.ErrBuildFailure)
	}
	n := len(v.Breaking) + len(v.Violations)
	return failure.Mark(errors.Newf("%d breaking changes (fingerprint %s)", n, v.Fingerprint), failure.ErrBreakingChange)
}

// Fingerprint hashes the sorted breaking change set. Entry order and the
// rendered signatures do not contribute; kinds, identities, details and the
// responsible flags do.
func Fingerprint(breaking []compat.Entry, violations []additivity.Violation) string {
	lines := make([]string, 0, len(breaking)+len(violations))
	for _, e := range breaking {
		lines = append(lines, fmt.Sprintf("diff\x1f%s\x1f%s\x1f%s", e.Kind, e.ID, e.Detail))
	}
	for _, v := range violations {
		lines = append(lines, fmt.Sprintf("feature:%s\x1f%s\x1f%s\x1f%s", v.Flag, v.Entry.Kind, v.Entry.ID, v.Entry.Detail))
	}
	sort.Strings(lines)
	return fmt.Sprintf("xxh64:%016x", xxhash.Sum64String(strings.Join(lines, "\n")))
}
