package compat

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"apigate/internal/logging"
	"apigate/internal/mangle"
	"apigate/internal/snapshot"
)

//go:embed rules.mg
var defaultRules string

// DefaultRules returns the built-in rule table source.
func DefaultRules() string { return defaultRules }

// Differ matches symbols between snapshots and classifies changes with a
// Mangle rule table. A Differ is safe for concurrent use.
type Differ struct {
	rules []string
}

// NewDiffer creates a Differ using the built-in rule table plus extra rule
// sources. The combined program is compiled once here so errors surface early.
func NewDiffer(extra ...string) (*Differ, error) {
	d := &Differ{rules: append([]string{defaultRules}, extra...)}
	if _, err := d.engine(); err != nil {
		return nil, err
	}
	return d, nil
}

// LoadRulesFile reads an extra rule file for NewDiffer. An empty path yields
// no extra rules.
func LoadRulesFile(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules %s: %w", path, err)
	}
	return []string{string(data)}, nil
}

var defaultDiffer = &Differ{rules: []string{defaultRules}}

// Default returns the Differ that uses only the built-in rule table.
func Default() *Differ { return defaultDiffer }

// Diff compares base and head with the built-in rule table.
func Diff(base, head *snapshot.Snapshot) ([]Entry, error) {
	return defaultDiffer.Diff(base, head)
}

func (d *Differ) engine() (*mangle.Engine, error) {
	e := mangle.NewEngine()
	for i, src := range d.rules {
		if err := e.LoadSchemaString(src); err != nil {
			return nil, fmt.Errorf("rule table fragment %d: %w", i, err)
		}
	}
	return e, nil
}

// matched is a symbol present in both snapshots that changed.
type matched struct {
	base, head snapshot.Symbol
	aspects    []aspect
	members    []string
}

// Diff computes the entries between base and head, sorted by identity.
// Identical snapshots yield no entries.
func (d *Differ) Diff(base, head *snapshot.Snapshot) ([]Entry, error) {
	timer := logging.StartTimer(logging.CategoryCompat, "diff")
	defer timer.Stop()

	baseByID := make(map[string]snapshot.Symbol, len(base.Symbols))
	for _, s := range base.Symbols {
		baseByID[s.ID] = s
	}
	headByID := make(map[string]snapshot.Symbol, len(head.Symbols))
	for _, s := range head.Symbols {
		headByID[s.ID] = s
	}

	var entries []Entry
	var changed []matched
	for _, b := range base.Symbols {
		h, ok := headByID[b.ID]
		if !ok {
			entries = append(entries, Entry{
				ID: b.ID, Kind: Removed, SymbolKind: b.Kind,
				Detail: fmt.Sprintf("removed %s", b.Kind), Before: b.Render(),
			})
			continue
		}
		m := matched{base: b, head: h, aspects: compareSymbols(b, h), members: addedMembers(b, h)}
		if len(m.aspects) > 0 || len(m.members) > 0 {
			changed = append(changed, m)
		}
	}
	for _, h := range head.Symbols {
		if _, ok := baseByID[h.ID]; !ok {
			entries = append(entries, Entry{
				ID: h.ID, Kind: Added, SymbolKind: h.Kind,
				Detail: fmt.Sprintf("added %s", h.Kind), After: h.Render(),
			})
		}
	}

	if len(changed) > 0 {
		classified, err := d.classify(changed, headByID)
		if err != nil {
			return nil, err
		}
		entries = append(entries, classified...)
	}

	sort.SliceStable(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	s := Summarize(entries)
	logging.Compat("%s..%s: %d added, %d removed, %d incompatible, %d compatible",
		base.Revision, head.Revision, s.Added, s.Removed, s.ChangedIncompatibly, s.ChangedCompatibly)
	return entries, nil
}

// classify asserts the aspect facts, runs the rule table and folds the
// result into one entry per changed symbol.
func (d *Differ) classify(changed []matched, headByID map[string]snapshot.Symbol) ([]Entry, error) {
	e, err := d.engine()
	if err != nil {
		return nil, err
	}

	var facts []mangle.Fact
	fact := func(pred string, args ...interface{}) {
		facts = append(facts, mangle.Fact{Predicate: pred, Args: args})
	}
	for _, m := range changed {
		id := m.base.ID
		fact("symbol_kind", id, "/"+string(m.base.Kind))
		if m.base.HasMarker(snapshot.MarkerNonExhaustive) {
			fact("non_exhaustive", id)
		}
		if m.base.HasMarker(snapshot.MarkerSealed) {
			fact("sealed", id)
		}
		for _, a := range m.aspects {
			fact("change", id, a.code, a.detail)
		}
		for _, member := range m.members {
			ms, required := memberSymbol(m.head, member, headByID)
			if required {
				fact("required_member", id, member)
			}
			fact("member_added", id, member, memberDetail(m.head, member, ms))
		}
	}
	if err := e.AddFacts(facts); err != nil {
		return nil, err
	}
	if err := e.Evaluate(); err != nil {
		return nil, err
	}

	incompatible, err := factPairs(e, "incompatible")
	if err != nil {
		return nil, err
	}
	compatible, err := factPairs(e, "compatible")
	if err != nil {
		return nil, err
	}
	logging.CompatDebug("rule table: %d facts, %d incompatible, %d compatible",
		len(facts), len(incompatible), len(compatible))

	var out []Entry
	for _, m := range changed {
		id := m.base.ID
		var bad, good []string
		details := make([]string, 0, len(m.aspects)+len(m.members))
		for _, a := range m.aspects {
			details = append(details, a.detail)
		}
		for _, member := range m.members {
			ms, _ := memberSymbol(m.head, member, headByID)
			details = append(details, memberDetail(m.head, member, ms))
		}
		for _, detail := range details {
			key := id + "\x00" + detail
			switch {
			case incompatible[key]:
				bad = append(bad, detail)
			case compatible[key]:
				good = append(good, detail)
			default:
				logging.CompatDebug("%s: unclassified change %q treated as incompatible", id, detail)
				bad = append(bad, detail)
			}
		}

		entry := Entry{
			ID: id, SymbolKind: m.head.Kind,
			Before: m.base.Render(), After: m.head.Render(),
		}
		if len(bad) > 0 {
			entry.Kind = ChangedIncompatibly
			entry.Detail = strings.Join(dedupe(bad), "; ")
		} else {
			entry.Kind = ChangedCompatibly
			entry.Detail = strings.Join(dedupe(good), "; ")
		}
		out = append(out, entry)
	}
	return out, nil
}

func factPairs(e *mangle.Engine, predicate string) (map[string]bool, error) {
	facts, err := e.GetFacts(predicate)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(facts))
	for _, f := range facts {
		sym, _ := f.Args[0].(string)
		detail, _ := f.Args[1].(string)
		out[sym+"\x00"+detail] = true
	}
	return out, nil
}

// memberSymbol finds the head symbol of a member and reports whether
// implementors must provide it.
func memberSymbol(owner snapshot.Symbol, member string, headByID map[string]snapshot.Symbol) (snapshot.Symbol, bool) {
	ms, ok := headByID[owner.ID+"::"+member]
	if !ok {
		ms, ok = headByID[owner.ID+"."+member]
	}
	if !ok {
		return snapshot.Symbol{}, owner.Kind == snapshot.KindTrait || owner.Kind == snapshot.KindInterface
	}
	switch ms.Kind {
	case snapshot.KindMethod, snapshot.KindType, snapshot.KindConst:
		return ms, !ms.HasMarker(snapshot.MarkerProvided)
	}
	return ms, false
}

func memberDetail(owner snapshot.Symbol, member string, ms snapshot.Symbol) string {
	switch {
	case ms.Kind == snapshot.KindField:
		return fmt.Sprintf("added field %s", member)
	case ms.Kind == snapshot.KindVariant:
		return fmt.Sprintf("added variant %s", member)
	case owner.Kind == snapshot.KindTrait || owner.Kind == snapshot.KindInterface:
		if ms.HasMarker(snapshot.MarkerProvided) {
			return fmt.Sprintf("added provided item %s", member)
		}
		return fmt.Sprintf("added required item %s", member)
	default:
		return fmt.Sprintf("added member %s", member)
	}
}

func dedupe(v []string) []string {
	seen := make(map[string]bool, len(v))
	out := v[:0]
	for _, x := range v {
		if !seen[x] {
			seen[x] = true
			out = append(out, x)
		}
	}
	return out
}
