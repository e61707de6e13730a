package verdict

import (
	"os"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"

	"apigate/internal/failure"
	"apigate/internal/logging"
)

// Acknowledgment records an intentional breaking change, e.g. one shipped
// with a major version bump.
type Acknowledgment struct {
	Fingerprint string `yaml:"fingerprint" json:"fingerprint"`
	// PR restricts the record to one pull request. Zero matches any.
	PR       int    `yaml:"pr,omitempty" json:"pr,omitempty"`
	Reason   string `yaml:"reason" json:"reason"`
	Approver string `yaml:"approver,omitempty" json:"approver,omitempty"`
}

// Matches reports whether the record covers the change set.
func (a Acknowledgment) Matches(fingerprint string, pr int) bool {
	if a.Fingerprint == "" || a.Fingerprint != fingerprint {
		return false
	}
	return a.PR == 0 || a.PR == pr
}

// AckFile is the on-disk allow-list.
type AckFile struct {
	Version         int              `yaml:"version"`
	Acknowledgments []Acknowledgment `yaml:"acknowledgments"`
}

// LoadAcknowledgments reads the allow-list. A missing file is an empty list.
func LoadAcknowledgments(path string) ([]Acknowledgment, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, failure.Mark(errors.Wrapf(err, "read acknowledgments %s", path), failure.ErrConfig)
	}

	var f AckFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, failure.Mark(errors.Wrapf(err, "parse acknowledgments %s", path), failure.ErrConfig)
	}
	for i, a := range f.Acknowledgments {
		if a.Fingerprint == "" {
			return nil, failure.Mark(errors.Newf("%s: acknowledgment %d has no fingerprint", path, i), failure.ErrConfig)
		}
		if a.Reason == "" {
			return nil, failure.Mark(errors.Newf("%s: acknowledgment %s has no reason", path, a.Fingerprint), failure.ErrConfig)
		}
	}
	logging.Verdict("loaded %d acknowledgments from %s", len(f.Acknowledgments), path)
	return f.Acknowledgments, nil
}
