package snapshot

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSnapshot() *Snapshot {
	s := New("abc123", "rust", []string{"std", "alloc"})
	s.Add(Symbol{ID: "crate::parse", Kind: KindFunction,
		Params:  []Param{{Name: "s", Type: "&str"}},
		Results: []string{"Result"}})
	s.Add(Symbol{ID: "crate::Config", Kind: KindStruct,
		Members: []string{"strict", "depth", "strict"},
		Markers: []Marker{MarkerNonExhaustive}})
	s.Add(Symbol{ID: "crate::Config::depth", Kind: KindField, Parent: "crate::Config", Type: "u8"})
	return s
}

func TestEncodeIsDeterministic(t *testing.T) {
	a := sampleSnapshot()
	b := New("abc123", "rust", []string{"alloc", "std"})
	// Same symbols, different insertion order.
	b.Add(Symbol{ID: "crate::Config::depth", Kind: KindField, Parent: "crate::Config", Type: "u8"})
	b.Add(Symbol{ID: "crate::Config", Kind: KindStruct,
		Members: []string{"depth", "strict"},
		Markers: []Marker{MarkerNonExhaustive, MarkerNonExhaustive}})
	b.Add(Symbol{ID: "crate::parse", Kind: KindFunction,
		Params:  []Param{{Name: "s", Type: "&str"}},
		Results: []string{"Result"}})

	encA, err := a.Encode()
	require.NoError(t, err)
	encB, err := b.Encode()
	require.NoError(t, err)
	assert.Equal(t, string(encA), string(encB))

	digestA, err := a.Digest()
	require.NoError(t, err)
	digestB, err := b.Digest()
	require.NoError(t, err)
	assert.Equal(t, digestA, digestB)
	assert.Contains(t, digestA, "xxh64:")
}

func TestDecodeRoundTripPreservesSymbols(t *testing.T) {
	s := sampleSnapshot()
	data, err := s.Encode()
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)
	if diff := cmp.Diff(s.Symbols, decoded.Symbols); diff != "" {
		t.Errorf("symbols changed across decode (-want +got):\n%s", diff)
	}
	sym, ok := decoded.Lookup("crate::parse")
	require.True(t, ok)
	assert.Equal(t, KindFunction, sym.Kind)
}

func TestAddDropsDuplicateIdentity(t *testing.T) {
	s := New("r", "rust", nil)
	assert.True(t, s.Add(Symbol{ID: "crate::f", Kind: KindFunction}))
	assert.False(t, s.Add(Symbol{ID: "crate::f", Kind: KindConst}))
	sym, _ := s.Lookup("crate::f")
	assert.Equal(t, KindFunction, sym.Kind)
	assert.Equal(t, 1, s.Len())
}

func TestRender(t *testing.T) {
	tests := []struct {
		sym  Symbol
		want string
	}{
		{
			Symbol{ID: "crate::parse", Kind: KindFunction,
				Params: []Param{{Name: "s", Type: "&str"}, {Name: "strict", Type: "bool"}}, Results: []string{"Result"}},
			"function crate::parse(s: &str, strict: bool) -> Result",
		},
		{
			Symbol{ID: "crate::Engine::midstate", Kind: KindMethod, Receiver: "&self", Results: []string{"Midstate"}},
			"method crate::Engine::midstate(&self) -> Midstate",
		},
		{
			Symbol{ID: "crate::Kind", Kind: KindEnum, Members: []string{"A", "B"}, Markers: []Marker{MarkerNonExhaustive}},
			"#non_exhaustive enum crate::Kind { A, B }",
		},
		{
			Symbol{ID: "crate::Bytes", Kind: KindAlias, Type: "[u8; 32]", Features: []string{"std"}},
			"alias crate::Bytes = [u8; 32] [features: std]",
		},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.sym.Render())
	}
}

func TestSymbolName(t *testing.T) {
	assert.Equal(t, "parse", Symbol{ID: "crate::hex::parse"}.Name())
	assert.Equal(t, "Parse", Symbol{ID: "example.com/mod/pkg.Parse"}.Name())
	assert.Equal(t, "root", Symbol{ID: "root"}.Name())
}

func TestListing(t *testing.T) {
	s := sampleSnapshot()
	listing := s.Listing()
	assert.Equal(t,
		"#non_exhaustive struct crate::Config { depth, strict }\n"+
			"field crate::Config::depth: u8\n"+
			"function crate::parse(s: &str) -> Result\n",
		listing)
}
