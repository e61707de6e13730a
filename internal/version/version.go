// Package version holds the apigate release version. Release builds set it
// with -ldflags "-X apigate/internal/version.Version=...".
package version

import "strings"

var (
	Version = "0.4.0"
	Commit  = "dev"
)

// Matches reports whether pin names this build. A leading "v" is ignored on
// both sides.
func Matches(pin string) bool {
	return strings.TrimPrefix(strings.TrimSpace(pin), "v") == strings.TrimPrefix(Version, "v")
}

// String renders the version for the version command.
func String() string {
	return "apigate " + Version + " (" + Commit + ")"
}
