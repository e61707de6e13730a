package compat

import (
	"fmt"
	"strings"

	"apigate/internal/snapshot"
)

// aspect is one structural difference of a matched symbol.
type aspect struct {
	code   string // Mangle name constant, e.g. "/param_added"
	detail string
}

// markerCodes lists markers in the order their aspects are reported.
var markerCodes = []snapshot.Marker{
	snapshot.MarkerNonExhaustive,
	snapshot.MarkerSealed,
	snapshot.MarkerConst,
	snapshot.MarkerAsync,
	snapshot.MarkerUnsafe,
	snapshot.MarkerProvided,
	snapshot.MarkerMutable,
}

// compareSymbols returns the aspects in which head differs from base.
// Members are compared separately, and removed members are reported
// through their own symbols.
func compareSymbols(base, head snapshot.Symbol) []aspect {
	if base.Kind != head.Kind {
		return []aspect{{"/kind_changed", fmt.Sprintf("changed from %s to %s", base.Kind, head.Kind)}}
	}

	var out []aspect
	add := func(code, format string, args ...interface{}) {
		out = append(out, aspect{code, fmt.Sprintf(format, args...)})
	}

	if base.Receiver != head.Receiver {
		add("/receiver_changed", "receiver changed from %s to %s", orNone(base.Receiver), orNone(head.Receiver))
	}

	n := len(base.Params)
	if len(head.Params) < n {
		n = len(head.Params)
	}
	for i := 0; i < n; i++ {
		if base.Params[i].Type != head.Params[i].Type {
			add("/param_type_changed", "parameter %s changed type from %s to %s",
				paramName(head.Params[i], i), base.Params[i].Type, head.Params[i].Type)
		}
	}
	for i := n; i < len(head.Params); i++ {
		add("/param_added", "added required parameter %s", paramName(head.Params[i], i))
	}
	for i := n; i < len(base.Params); i++ {
		add("/param_removed", "removed parameter %s", paramName(base.Params[i], i))
	}

	if br, hr := renderList(base.Results), renderList(head.Results); br != hr {
		add("/result_changed", "return type changed from %s to %s", br, hr)
	}
	if bg, hg := renderList(base.Generics), renderList(head.Generics); bg != hg {
		add("/generics_changed", "generic parameters changed from <%s> to <%s>",
			strings.Join(base.Generics, ", "), strings.Join(head.Generics, ", "))
	}

	if base.Type != head.Type {
		switch base.Kind {
		case snapshot.KindReexport:
			add("/reexport_changed", "re-export target changed from %s to %s", base.Type, head.Type)
		case snapshot.KindAlias:
			add("/type_changed", "alias target changed from %s to %s", base.Type, head.Type)
		case snapshot.KindTrait:
			add("/type_changed", "supertraits changed from %s to %s", orNone(base.Type), orNone(head.Type))
		case snapshot.KindVariant:
			add("/type_changed", "variant shape changed from %s to %s", orNone(base.Type), orNone(head.Type))
		default:
			add("/type_changed", "type changed from %s to %s", orNone(base.Type), orNone(head.Type))
		}
	}

	for _, m := range markerCodes {
		had, has := base.HasMarker(m), head.HasMarker(m)
		switch {
		case !had && has:
			add("/"+string(m)+"_added", "%s", markerDetail(m, true))
		case had && !has:
			add("/"+string(m)+"_removed", "%s", markerDetail(m, false))
		}
	}

	baseGates := toSet(base.Features)
	headGates := toSet(head.Features)
	for _, f := range head.Features {
		if !baseGates[f] {
			add("/gate_added", "now requires feature %s", f)
		}
	}
	for _, f := range base.Features {
		if !headGates[f] {
			add("/gate_removed", "no longer requires feature %s", f)
		}
	}

	if len(out) == 0 && structuralKey(base) != structuralKey(head) {
		// Not covered by any aspect above; the rule table leaves it
		// unclassified, which counts as incompatible.
		add("/signature_changed", "signature changed")
	}
	return out
}

// addedMembers returns the members head has that base lacks, in head order.
func addedMembers(base, head snapshot.Symbol) []string {
	had := toSet(base.Members)
	var out []string
	for _, m := range head.Members {
		if !had[m] {
			out = append(out, m)
		}
	}
	return out
}

// structuralKey renders the parts of a symbol that matter for compatibility.
// Parameter names and members are excluded.
func structuralKey(s snapshot.Symbol) string {
	k := s
	k.Members = nil
	k.Location = ""
	k.Params = make([]snapshot.Param, len(s.Params))
	for i, p := range s.Params {
		k.Params[i] = snapshot.Param{Type: p.Type}
	}
	return k.Render()
}

func markerDetail(m snapshot.Marker, added bool) string {
	switch m {
	case snapshot.MarkerNonExhaustive:
		if added {
			return "became non_exhaustive"
		}
		return "no longer non_exhaustive"
	case snapshot.MarkerSealed:
		if added {
			return "became sealed"
		}
		return "no longer sealed"
	case snapshot.MarkerProvided:
		if added {
			return "gained a default implementation"
		}
		return "lost its default implementation"
	case snapshot.MarkerMutable:
		if added {
			return "became mutable"
		}
		return "no longer mutable"
	}
	if added {
		return "became " + string(m)
	}
	return "no longer " + string(m)
}

func paramName(p snapshot.Param, i int) string {
	if p.Name != "" && p.Name != "_" {
		return p.Name
	}
	return fmt.Sprintf("#%d (%s)", i, p.Type)
}

func renderList(v []string) string {
	switch len(v) {
	case 0:
		return "()"
	case 1:
		return v[0]
	default:
		return "(" + strings.Join(v, ", ") + ")"
	}
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

func toSet(v []string) map[string]bool {
	out := make(map[string]bool, len(v))
	for _, x := range v {
		out[x] = true
	}
	return out
}
