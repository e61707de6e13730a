package version

import "testing"

func TestMatches(t *testing.T) {
	old := Version
	defer func() { Version = old }()
	Version = "1.2.3"

	for pin, want := range map[string]bool{
		"1.2.3":    true,
		"v1.2.3":   true,
		" 1.2.3\n": true,
		"1.2":      false,
		"1.2.4":    false,
	} {
		if got := Matches(pin); got != want {
			t.Errorf("Matches(%q) = %v, want %v", pin, got, want)
		}
	}
}
