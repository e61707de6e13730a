// Package compat compares two interface snapshots and classifies every
// difference as additive or breaking.
package compat

import (
	"fmt"

	"apigate/internal/snapshot"
)

// ChangeKind is the classification of one Diff Entry.
type ChangeKind string

const (
	Added               ChangeKind = "Added"
	Removed             ChangeKind = "Removed"
	ChangedIncompatibly ChangeKind = "ChangedIncompatibly"
	ChangedCompatibly   ChangeKind = "ChangedCompatibly"
)

// Breaking reports whether a change of this kind can break downstream code.
func (k ChangeKind) Breaking() bool {
	return k == Removed || k == ChangedIncompatibly
}

// Entry is one difference between two snapshots.
type Entry struct {
	ID         string        `json:"id"`
	Kind       ChangeKind    `json:"kind"`
	SymbolKind snapshot.Kind `json:"symbol_kind"`
	Detail     string        `json:"detail"`
	Before     string        `json:"before,omitempty"`
	After      string        `json:"after,omitempty"`
}

// Breaking reports whether the entry is a breaking change.
func (e Entry) Breaking() bool { return e.Kind.Breaking() }

// String renders the entry on one line.
func (e Entry) String() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s(%s)", e.Kind, e.ID)
	}
	return fmt.Sprintf("%s(%s, %q)", e.Kind, e.ID, e.Detail)
}

// BreakingOnly filters entries down to the breaking ones.
func BreakingOnly(entries []Entry) []Entry {
	var out []Entry
	for _, e := range entries {
		if e.Breaking() {
			out = append(out, e)
		}
	}
	return out
}

// Summary counts entries per kind.
type Summary struct {
	Added               int `json:"added"`
	Removed             int `json:"removed"`
	ChangedIncompatibly int `json:"changed_incompatibly"`
	ChangedCompatibly   int `json:"changed_compatibly"`
}

// Summarize counts entries per kind.
func Summarize(entries []Entry) Summary {
	var s Summary
	for _, e := range entries {
		switch e.Kind {
		case Added:
			s.Added++
		case Removed:
			s.Removed++
		case ChangedIncompatibly:
			s.ChangedIncompatibly++
		case ChangedCompatibly:
			s.ChangedCompatibly++
		}
	}
	return s
}

// Breaking returns the number of breaking entries.
func (s Summary) Breaking() int { return s.Removed + s.ChangedIncompatibly }
