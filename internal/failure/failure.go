// Package failure defines the error kinds a check run can end with and maps
// them to process exit codes.
package failure

import (
	"github.com/cockroachdb/errors"
)

// Error kinds. Wrap a concrete error with Mark so errors.Is keeps working
// through any amount of added context.
var (
	ErrBuildFailure       = errors.New("build failure")
	ErrBreakingChange     = errors.New("breaking change detected")
	ErrToolingUnavailable = errors.New("tooling unavailable")
	ErrMalformedTrigger   = errors.New("malformed trigger metadata")
	ErrShallowCheckout    = errors.New("shallow checkout")
	ErrConfig             = errors.New("invalid configuration")
)

// Exit codes reported to the CI gate.
const (
	ExitPass  = 0
	ExitFail  = 1
	ExitFatal = 2
)

// Mark tags err with kind.
func Mark(err error, kind error) error {
	if err == nil {
		return nil
	}
	return errors.Mark(err, kind)
}

// BuildFailure reports that rev could not be built or snapshotted.
func BuildFailure(rev string, cause error) error {
	err := errors.Wrapf(cause, "could not build revision %s", rev)
	return errors.Mark(err, ErrBuildFailure)
}

// ToolingUnavailable reports a tool missing or installed at the wrong version.
func ToolingUnavailable(tool, want, got string) error {
	err := errors.Newf("%s: want version %q, found %q", tool, want, got)
	err = errors.WithHint(err, "install the pinned version or update the pin file")
	return errors.Mark(err, ErrToolingUnavailable)
}

// MalformedTrigger reports invalid pull-request metadata.
func MalformedTrigger(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrMalformedTrigger)
}

// Kind returns the first known kind err is marked with, or nil.
func Kind(err error) error {
	for _, kind := range []error{
		ErrMalformedTrigger,
		ErrToolingUnavailable,
		ErrShallowCheckout,
		ErrConfig,
		ErrBuildFailure,
		ErrBreakingChange,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// ExitCode maps err to the process exit status.
// Build failures and breaking changes fail the gate; everything else aborts
// the job.
func ExitCode(err error) int {
	if err == nil {
		return ExitPass
	}
	switch Kind(err) {
	case ErrBuildFailure, ErrBreakingChange:
		return ExitFail
	default:
		return ExitFatal
	}
}

// Hints returns the remediation hints attached anywhere in err's chain.
func Hints(err error) []string {
	return errors.GetAllHints(err)
}
