// Package snapshot models the public interface of one revision: the set of
// publicly reachable symbols with their structural signatures. Snapshots have a
// canonical encoding so the same tree always yields the same bytes.
package snapshot

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Kind tags what sort of entity a symbol is.
type Kind string

const (
	KindModule    Kind = "module"
	KindStruct    Kind = "struct"
	KindEnum      Kind = "enum"
	KindUnion     Kind = "union"
	KindTrait     Kind = "trait"
	KindInterface Kind = "interface"
	KindType      Kind = "type"
	KindFunction  Kind = "function"
	KindMethod    Kind = "method"
	KindField     Kind = "field"
	KindVariant   Kind = "variant"
	KindConst     Kind = "const"
	KindStatic    Kind = "static"
	KindAlias     Kind = "alias"
	KindReexport  Kind = "reexport"
	KindImpl      Kind = "impl" // trait implementation, explicit or derived
)

// IsAggregate reports whether symbols of this kind own members.
func (k Kind) IsAggregate() bool {
	switch k {
	case KindStruct, KindEnum, KindUnion, KindTrait, KindInterface:
		return true
	}
	return false
}

// Marker is a compatibility-relevant attribute of a symbol.
type Marker string

const (
	MarkerNonExhaustive Marker = "non_exhaustive"
	MarkerSealed        Marker = "sealed"
	MarkerConst         Marker = "const"
	MarkerAsync         Marker = "async"
	MarkerUnsafe        Marker = "unsafe"
	MarkerProvided      Marker = "provided" // trait method with a default body
	MarkerMutable       Marker = "mutable"  // static mut
)

// Param is one positional parameter. Names are informational only; matching
// is positional by type.
type Param struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Symbol is one public entity and its structural signature.
type Symbol struct {
	// ID is the fully qualified identity, e.g. "crate::sha256::Hash::hash".
	ID       string   `json:"id"`
	Kind     Kind     `json:"kind"`
	Parent   string   `json:"parent,omitempty"`
	Receiver string   `json:"receiver,omitempty"`
	Params   []Param  `json:"params,omitempty"`
	Results  []string `json:"results,omitempty"`
	Generics []string `json:"generics,omitempty"`
	// Type is the value type of fields, consts and statics, the target of
	// aliases and the path of re-exports.
	Type     string   `json:"type,omitempty"`
	Members  []string `json:"members,omitempty"`
	Markers  []Marker `json:"markers,omitempty"`
	Features []string `json:"features,omitempty"`

	// Location is where the symbol was declared. It is not part of the
	// encoding, so moving code between files is not a change.
	Location string `json:"-"`
}

// Name returns the last path segment of the identity.
func (s Symbol) Name() string {
	id := s.ID
	if i := strings.LastIndex(id, "::"); i >= 0 {
		return id[i+2:]
	}
	if i := strings.LastIndex(id, "."); i >= 0 {
		return id[i+1:]
	}
	return id
}

// HasMarker reports whether m is set.
func (s Symbol) HasMarker(m Marker) bool {
	for _, got := range s.Markers {
		if got == m {
			return true
		}
	}
	return false
}

// Render returns a one-line, language-neutral rendering of the signature.
func (s Symbol) Render() string {
	var b strings.Builder
	if len(s.Markers) > 0 {
		for _, m := range s.Markers {
			b.WriteString("#")
			b.WriteString(string(m))
			b.WriteString(" ")
		}
	}
	b.WriteString(string(s.Kind))
	b.WriteString(" ")
	b.WriteString(s.ID)
	if len(s.Generics) > 0 {
		b.WriteString("<")
		b.WriteString(strings.Join(s.Generics, ", "))
		b.WriteString(">")
	}

	switch s.Kind {
	case KindFunction, KindMethod:
		b.WriteString("(")
		var parts []string
		if s.Receiver != "" {
			parts = append(parts, s.Receiver)
		}
		for _, p := range s.Params {
			if p.Name != "" {
				parts = append(parts, p.Name+": "+p.Type)
			} else {
				parts = append(parts, p.Type)
			}
		}
		b.WriteString(strings.Join(parts, ", "))
		b.WriteString(")")
		if len(s.Results) > 0 {
			b.WriteString(" -> ")
			if len(s.Results) == 1 {
				b.WriteString(s.Results[0])
			} else {
				b.WriteString("(" + strings.Join(s.Results, ", ") + ")")
			}
		}
	case KindField, KindConst, KindStatic:
		if s.Type != "" {
			b.WriteString(": ")
			b.WriteString(s.Type)
		}
	case KindAlias, KindReexport:
		b.WriteString(" = ")
		b.WriteString(s.Type)
	default:
		if s.Type != "" {
			b.WriteString(" ")
			b.WriteString(s.Type)
		}
		if len(s.Members) > 0 {
			b.WriteString(" { ")
			b.WriteString(strings.Join(s.Members, ", "))
			b.WriteString(" }")
		}
	}
	if len(s.Features) > 0 {
		b.WriteString(" [features: ")
		b.WriteString(strings.Join(s.Features, ", "))
		b.WriteString("]")
	}
	return b.String()
}

// Snapshot is the public interface of one revision under one feature set.
type Snapshot struct {
	Revision string   `json:"revision"`
	Language string   `json:"language"`
	Features []string `json:"features"`
	Symbols  []Symbol `json:"symbols"`

	// Aliases maps non-generic type alias names to their targets. It feeds
	// Normalize and is not encoded.
	Aliases map[string]string `json:"-"`

	index map[string]int
}

// New creates an empty snapshot.
func New(revision, language string, features []string) *Snapshot {
	feats := append([]string(nil), features...)
	sort.Strings(feats)
	if feats == nil {
		feats = []string{}
	}
	return &Snapshot{
		Revision: revision,
		Language: language,
		Features: feats,
		Symbols:  []Symbol{},
		Aliases:  make(map[string]string),
	}
}

// Add appends a symbol. A later symbol with an identity already present is
// dropped; callers feed files in sorted order so the survivor is stable.
func (s *Snapshot) Add(sym Symbol) bool {
	if s.index == nil {
		s.reindex()
	}
	if _, ok := s.index[sym.ID]; ok {
		return false
	}
	s.index[sym.ID] = len(s.Symbols)
	s.Symbols = append(s.Symbols, sym)
	return true
}

// Lookup finds a symbol by identity.
func (s *Snapshot) Lookup(id string) (Symbol, bool) {
	if s.index == nil || len(s.index) != len(s.Symbols) {
		s.reindex()
	}
	i, ok := s.index[id]
	if !ok {
		return Symbol{}, false
	}
	return s.Symbols[i], true
}

// Len returns the number of symbols.
func (s *Snapshot) Len() int { return len(s.Symbols) }

func (s *Snapshot) reindex() {
	s.index = make(map[string]int, len(s.Symbols))
	for i, sym := range s.Symbols {
		if _, ok := s.index[sym.ID]; !ok {
			s.index[sym.ID] = i
		}
	}
}

// Finalize sorts symbols and every set-valued field into canonical order.
func (s *Snapshot) Finalize() {
	for i := range s.Symbols {
		sym := &s.Symbols[i]
		sortStrings(&sym.Members)
		sortStrings(&sym.Features)
		sort.Slice(sym.Markers, func(a, b int) bool { return sym.Markers[a] < sym.Markers[b] })
		sym.Markers = compactMarkers(sym.Markers)
	}
	sort.SliceStable(s.Symbols, func(i, j int) bool { return s.Symbols[i].ID < s.Symbols[j].ID })

	deduped := s.Symbols[:0]
	for i, sym := range s.Symbols {
		if i > 0 && sym.ID == deduped[len(deduped)-1].ID {
			continue
		}
		deduped = append(deduped, sym)
	}
	s.Symbols = deduped
	sort.Strings(s.Features)
	s.reindex()
}

func sortStrings(v *[]string) {
	if len(*v) == 0 {
		*v = nil
		return
	}
	sort.Strings(*v)
	out := (*v)[:1]
	for _, x := range (*v)[1:] {
		if x != out[len(out)-1] {
			out = append(out, x)
		}
	}
	*v = out
}

func compactMarkers(m []Marker) []Marker {
	if len(m) == 0 {
		return nil
	}
	out := m[:1]
	for _, x := range m[1:] {
		if x != out[len(out)-1] {
			out = append(out, x)
		}
	}
	return out
}

// Encode returns the canonical encoding. It finalizes the snapshot first.
func (s *Snapshot) Encode() ([]byte, error) {
	s.Finalize()
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return append(data, '\n'), nil
}

// Digest returns a short content hash of the canonical encoding.
func (s *Snapshot) Digest() (string, error) {
	data, err := s.Encode()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("xxh64:%016x", xxhash.Sum64(data)), nil
}

// Decode parses a canonical encoding.
func Decode(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if s.Aliases == nil {
		s.Aliases = make(map[string]string)
	}
	s.Finalize()
	return &s, nil
}

// Listing renders one symbol per line in canonical order.
func (s *Snapshot) Listing() string {
	s.Finalize()
	var b strings.Builder
	for _, sym := range s.Symbols {
		b.WriteString(sym.Render())
		b.WriteString("\n")
	}
	return b.String()
}
