package verdict

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"apigate/internal/additivity"
	"apigate/internal/compat"
	"apigate/internal/logging"
)

// Report is everything one run found. It is written as semver-report.json
// and rendered for humans.
type Report struct {
	RunID       string    `json:"run_id"`
	Check       string    `json:"check"` // "semver" or "features"
	Tool        string    `json:"tool"`
	GeneratedAt time.Time `json:"generated_at"`
	Trigger     Trigger   `json:"trigger"`

	// BaseRev and HeadRev are the resolved commits that were compared.
	// BaseRev is the merge base of the trigger's base and head.
	BaseRev  string `json:"base_rev,omitempty"`
	HeadRev  string `json:"head_rev,omitempty"`
	Language string `json:"language,omitempty"`

	Summary  compat.Summary     `json:"summary"`
	Entries  []compat.Entry     `json:"entries"`
	Features *additivity.Report `json:"features,omitempty"`

	Verdict Verdict `json:"verdict"`
}

// NewReport starts a report with a fresh run id.
func NewReport(check, tool string, trigger Trigger) *Report {
	return &Report{
		RunID:       uuid.NewString(),
		Check:       check,
		Tool:        tool,
		GeneratedAt: time.Now().UTC(),
		Trigger:     trigger,
		Entries:     []compat.Entry{},
	}
}

// SetEntries records the Differ output.
func (r *Report) SetEntries(entries []compat.Entry) {
	if entries == nil {
		entries = []compat.Entry{}
	}
	r.Entries = entries
	r.Summary = compat.Summarize(entries)
}

// Decide evaluates the verdict from the recorded entries and features.
func (r *Report) Decide(acks []Acknowledgment) Verdict {
	var violations []additivity.Violation
	if r.Features != nil {
		violations = r.Features.Violations()
	}
	r.Verdict = Evaluate(r.Entries, violations, acks, r.Trigger)
	logging.WithRunID(logging.CategoryVerdict, r.RunID).Info("%s check: %s (%d breaking, %d violations)",
		r.Check, r.Verdict.Status, len(r.Verdict.Breaking), len(r.Verdict.Violations))
	return r.Verdict
}

// RenderJSON renders the machine-readable report.
func RenderJSON(r *Report) ([]byte, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "encode report")
	}
	return append(data, '\n'), nil
}

// Artifacts writes the run outputs into one directory.
type Artifacts struct {
	Dir          string
	ArtifactName string // holds the PR number when a breaking change is found
	ReportName   string
}

// Write removes any stale artifact, then writes the report and, on a
// breaking change, the artifact. It returns the paths written.
func (a Artifacts) Write(r *Report) ([]string, error) {
	if err := os.MkdirAll(a.Dir, 0755); err != nil {
		return nil, errors.Wrapf(err, "create artifact directory %s", a.Dir)
	}
	artifact := filepath.Join(a.Dir, a.ArtifactName)
	if err := os.Remove(artifact); err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "remove stale artifact %s", artifact)
	}

	var written []string
	data, err := RenderJSON(r)
	if err != nil {
		return nil, err
	}
	report := filepath.Join(a.Dir, a.ReportName)
	if err := writeFileAtomic(report, data); err != nil {
		return nil, err
	}
	written = append(written, report)

	if r.Verdict.BreakingChange() {
		if err := writeFileAtomic(artifact, []byte(fmt.Sprintf("%d\n", r.Trigger.PR))); err != nil {
			return written, err
		}
		written = append(written, artifact)
		logging.Verdict("breaking change artifact written to %s", artifact)
	}
	return written, nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+"-*")
	if err != nil {
		return errors.Wrapf(err, "write %s", path)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "write %s", path)
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "write %s", path)
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return errors.Wrapf(err, "write %s", path)
	}
	return errors.Wrapf(os.Rename(tmp.Name(), path), "write %s", path)
}
