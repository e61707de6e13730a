package extract

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"apigate/internal/compat"
	"apigate/internal/failure"
	"apigate/internal/snapshot"
)

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for rel, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	}
	return dir
}

var hashesCrate = map[string]string{
	"Cargo.toml": `[package]
name = "hashes"
version = "0.1.0"

[features]
std = ["alloc"]
alloc = []
`,
	"src/lib.rs": `
pub mod sha256;
mod internal;
#[cfg(feature = "alloc")]
pub mod vec;

pub use internal::Helper;

pub type Digest = [u8; 32];
`,
	"src/sha256.rs": `
pub struct Hash(Digest);

impl Hash {
    pub fn hash(data: &[u8]) -> Digest { todo!() }
}

#[cfg(feature = "std")]
impl std::error::Error for Hash {}
`,
	"src/internal.rs": `
pub struct Helper;
pub struct Hidden;

impl crate::sha256::Hash {
    pub fn from_internal() -> Self { todo!() }
}

impl Hidden {
    pub fn nope(&self) {}
}
`,
	"src/vec/mod.rs": `
pub fn to_vec() -> Vec<u8> { Vec::new() }
`,
	"src/main.rs": `fn main() {}`,
	"src/bin/tool.rs": `fn main() {}`,
	"src/generated.rs": `this is not rust`,
}

func TestExtractor_Rust(t *testing.T) {
	dir := writeTree(t, hashesCrate)
	ex, err := New(Options{Language: "rust", Exclude: []string{"src/generated.rs"}})
	require.NoError(t, err)
	assert.Equal(t, "rust", ex.Language())

	snap, err := ex.Extract(context.Background(), dir, "base", NewFeatureSet())
	require.NoError(t, err)

	ids := make(map[string]snapshot.Symbol)
	for _, s := range snap.Symbols {
		ids[s.ID] = s
	}

	assert.Contains(t, ids, "crate::sha256")
	assert.Contains(t, ids, "crate::sha256::Hash")
	assert.Contains(t, ids, "crate::Helper")
	assert.NotContains(t, ids, "crate::internal")
	assert.NotContains(t, ids, "crate::internal::Helper")
	assert.NotContains(t, ids, "crate::internal::Hidden::nope")

	// The re-export of a private module's item carries the item itself.
	assert.Equal(t, snapshot.KindStruct, ids["crate::Helper"].Kind)
	assert.NotContains(t, ids, "crate::vec")
	assert.NotContains(t, ids, "crate::sha256::Hash::impl std::error::Error")

	// Methods from an impl in a private module still belong to the public type.
	assert.Contains(t, ids, "crate::sha256::Hash::from_internal")

	// The Digest alias is resolved inside signatures.
	assert.Equal(t, []string{"[u8; 32]"}, ids["crate::sha256::Hash::hash"].Results)
	assert.Equal(t, snapshot.KindAlias, ids["crate::Digest"].Kind)

	std, err := ex.Extract(context.Background(), dir, "base", NewFeatureSet("std", "alloc"))
	require.NoError(t, err)
	v, ok := std.Lookup("crate::vec::to_vec")
	require.True(t, ok)
	assert.Equal(t, []string{"alloc"}, v.Features)
	_, ok = std.Lookup("crate::sha256::Hash::impl std::error::Error")
	assert.True(t, ok)
	assert.Equal(t, []string{"alloc", "std"}, std.Features)
}

func TestExtractor_Deterministic(t *testing.T) {
	dir := writeTree(t, hashesCrate)
	ex, err := New(Options{Language: "rust", Exclude: []string{"**/generated.rs"}})
	require.NoError(t, err)

	a, err := ex.Extract(context.Background(), dir, "head", NewFeatureSet("std"))
	require.NoError(t, err)
	b, err := ex.Extract(context.Background(), dir, "head", NewFeatureSet("std"))
	require.NoError(t, err)

	ea, err := a.Encode()
	require.NoError(t, err)
	eb, err := b.Encode()
	require.NoError(t, err)
	assert.Equal(t, string(ea), string(eb))
}

func TestExtractor_BuildFailure(t *testing.T) {
	dir := writeTree(t, hashesCrate)
	ex, err := New(Options{Language: "rust"})
	require.NoError(t, err)

	// generated.rs is not excluded and does not parse.
	_, err = ex.Extract(context.Background(), dir, "abc123", NewFeatureSet())
	require.Error(t, err)
	assert.True(t, errors.Is(err, failure.ErrBuildFailure))
	assert.Contains(t, err.Error(), "could not build revision abc123")

	_, err = ex.Extract(context.Background(), t.TempDir(), "empty", NewFeatureSet())
	require.Error(t, err)
	assert.True(t, errors.Is(err, failure.ErrBuildFailure))
}

func TestExtractor_UnknownLanguage(t *testing.T) {
	_, err := New(Options{Language: "cobol"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, failure.ErrConfig))
}

func TestExtractor_CrateRoot(t *testing.T) {
	files := map[string]string{}
	for k, v := range hashesCrate {
		if k != "src/generated.rs" {
			files["hashes/"+k] = v
		}
	}
	dir := writeTree(t, files)
	ex, err := New(Options{Language: "rust", Root: "hashes"})
	require.NoError(t, err)
	snap, err := ex.Extract(context.Background(), dir, "base", NewFeatureSet())
	require.NoError(t, err)
	_, ok := snap.Lookup("crate::sha256::Hash")
	assert.True(t, ok)
}

func TestRustModulePath(t *testing.T) {
	tests := map[string]string{
		"lib.rs":          "crate",
		"sha256.rs":       "crate::sha256",
		"hex/mod.rs":      "crate::hex",
		"hex/buf.rs":      "crate::hex::buf",
		"a/b/c/mod.rs":    "crate::a::b::c",
		"a/b/c/d/e.rs":    "crate::a::b::c::d::e",
		"serde_macros.rs": "crate::serde_macros",
	}
	for rel, want := range tests {
		got, ok := rustModulePath(rel)
		assert.True(t, ok, rel)
		assert.Equal(t, want, got, rel)
	}
}

func TestDropOrphans(t *testing.T) {
	in := []snapshot.Symbol{
		{ID: "crate::A"},
		{ID: "crate::A::x", Parent: "crate::A"},
		{ID: "crate::B::y", Parent: "crate::B"},
	}
	out := dropOrphans(in)
	require.Len(t, out, 2)
	assert.Equal(t, "crate::A::x", out[1].ID)
}

func TestExtractor_Go(t *testing.T) {
	if _, err := exec.LookPath("go"); err != nil {
		t.Skip("go toolchain not available")
	}
	dir := writeTree(t, map[string]string{
		"go.mod": "module example.com/lib\n\ngo 1.22\n",
		"lib.go": `package lib

// Parse parses s.
func Parse(s string) (int, error) { return 0, nil }

func helper() {}

type Options struct {
	Strict bool
	cache  map[string]int
}

func (o *Options) Apply(vals ...string) {}

type Codec interface {
	Encode(v any) ([]byte, error)
	seal()
}

type ID = string

const Version = "1"

func Map[T any, U comparable](in []T, f func(T) U) []U { return nil }
`,
		"extra.go": `//go:build extra

package lib

func Extra() {}
`,
		"internal/x/x.go": "package x\n\nfunc Hidden() {}\n",
		"cmd/tool/main.go": "package main\n\nfunc main() {}\n",
	})

	ex, err := New(Options{Language: "go"})
	require.NoError(t, err)
	snap, err := ex.Extract(context.Background(), dir, "base", NewFeatureSet())
	require.NoError(t, err)

	parse, ok := snap.Lookup("example.com/lib.Parse")
	require.True(t, ok)
	assert.Equal(t, []snapshot.Param{{Name: "s", Type: "string"}}, parse.Params)
	assert.Equal(t, []string{"int", "error"}, parse.Results)

	_, ok = snap.Lookup("example.com/lib.helper")
	assert.False(t, ok)
	_, ok = snap.Lookup("example.com/lib.Extra")
	assert.False(t, ok)
	_, ok = snap.Lookup("example.com/lib/internal/x.Hidden")
	assert.False(t, ok)

	opts, _ := snap.Lookup("example.com/lib.Options")
	assert.Equal(t, []string{"Strict"}, opts.Members)
	apply, _ := snap.Lookup("example.com/lib.Options.Apply")
	assert.Equal(t, "*Options", apply.Receiver)
	assert.Equal(t, []snapshot.Param{{Name: "vals", Type: "...string"}}, apply.Params)

	codec, _ := snap.Lookup("example.com/lib.Codec")
	assert.True(t, codec.HasMarker(snapshot.MarkerSealed))

	id, _ := snap.Lookup("example.com/lib.ID")
	assert.Equal(t, snapshot.KindAlias, id.Kind)

	m, _ := snap.Lookup("example.com/lib.Map")
	assert.Equal(t, []string{"T0 any", "T1 comparable"}, m.Generics)

	tagged, err := ex.Extract(context.Background(), dir, "base", NewFeatureSet("extra"))
	require.NoError(t, err)
	extra, ok := tagged.Lookup("example.com/lib.Extra")
	require.True(t, ok)
	assert.Equal(t, []string{"extra"}, extra.Features)
}

func TestExtractor_GoBuildFailure(t *testing.T) {
	if _, err := exec.LookPath("go"); err != nil {
		t.Skip("go toolchain not available")
	}
	dir := writeTree(t, map[string]string{
		"go.mod": "module example.com/bad\n\ngo 1.22\n",
		"bad.go": "package bad\n\nfunc F() int { return \"x\" }\n",
	})
	ex, err := New(Options{Language: "go"})
	require.NoError(t, err)
	_, err = ex.Extract(context.Background(), dir, "head", NewFeatureSet())
	require.Error(t, err)
	assert.True(t, errors.Is(err, failure.ErrBuildFailure))
}

func extractRust(t *testing.T, files map[string]string, features ...string) *snapshot.Snapshot {
	t.Helper()
	ex, err := New(Options{Language: "rust"})
	require.NoError(t, err)
	snap, err := ex.Extract(context.Background(), writeTree(t, files), "rev", NewFeatureSet(features...))
	require.NoError(t, err)
	return snap
}

func TestExtractor_ReexportFromPrivateModule(t *testing.T) {
	lib := `
mod inner;
pub use inner::parse;
pub use self::inner::Engine as HashEngine;
pub use core::fmt::Debug;
`
	base := extractRust(t, map[string]string{
		"src/lib.rs": lib,
		"src/inner.rs": `
pub fn parse(s: &str) -> bool { true }
pub struct Engine { buf: Vec<u8> }
impl Engine {
    pub fn input(&mut self, data: &[u8]) {}
}
`,
	})
	head := extractRust(t, map[string]string{
		"src/lib.rs": lib,
		"src/inner.rs": `
pub fn parse(s: &str, strict: bool) -> bool { strict }
pub struct Engine { buf: Vec<u8> }
impl Engine {
    pub fn input(&mut self, data: &[u8]) {}
}
`,
	})

	parse, ok := base.Lookup("crate::parse")
	require.True(t, ok)
	assert.Equal(t, snapshot.KindFunction, parse.Kind)
	_, ok = base.Lookup("crate::inner::parse")
	assert.False(t, ok)

	engine, ok := base.Lookup("crate::HashEngine")
	require.True(t, ok)
	assert.Equal(t, snapshot.KindStruct, engine.Kind)
	input, ok := base.Lookup("crate::HashEngine::input")
	require.True(t, ok)
	assert.Equal(t, "crate::HashEngine", input.Parent)

	// Paths into other crates stay re-exports.
	debug, ok := base.Lookup("crate::Debug")
	require.True(t, ok)
	assert.Equal(t, snapshot.KindReexport, debug.Kind)

	entries, err := compat.Diff(base, head)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "crate::parse", entries[0].ID)
	assert.Equal(t, compat.ChangedIncompatibly, entries[0].Kind)
	assert.Equal(t, "added required parameter strict", entries[0].Detail)
}

func TestExtractor_GlobReexport(t *testing.T) {
	lib := `
mod types;
pub use types::*;

pub fn version() -> u32 { 1 }
`
	base := extractRust(t, map[string]string{
		"src/lib.rs": lib,
		"src/types.rs": `
pub struct Config { pub name: String }
impl Config {
    pub fn new() -> Self { todo!() }
}
pub fn version() -> u64 { 2 }
struct Private;
`,
	})
	head := extractRust(t, map[string]string{
		"src/lib.rs": lib,
		"src/types.rs": `
pub struct Config { pub name: String }
pub fn version() -> u64 { 2 }
`,
	})

	ids := make(map[string]bool)
	for _, s := range base.Symbols {
		ids[s.ID] = true
	}
	assert.True(t, ids["crate::Config"])
	assert.True(t, ids["crate::Config::name"])
	assert.True(t, ids["crate::Config::new"])
	assert.False(t, ids["crate::Private"])
	assert.False(t, ids["crate::use types::*"])

	// Items declared in the module shadow glob imports.
	v, ok := base.Lookup("crate::version")
	require.True(t, ok)
	assert.Equal(t, []string{"u32"}, v.Results)

	entries, err := compat.Diff(base, head)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "crate::Config::new", entries[0].ID)
	assert.Equal(t, compat.Removed, entries[0].Kind)
}

func TestExtractor_GatedReexport(t *testing.T) {
	snap := extractRust(t, map[string]string{
		"src/lib.rs": `
mod io;
#[cfg(feature = "std")]
pub use io::read_all;
`,
		"src/io.rs": `pub fn read_all() -> Vec<u8> { Vec::new() }`,
	}, "std")

	sym, ok := snap.Lookup("crate::read_all")
	require.True(t, ok)
	assert.Equal(t, snapshot.KindFunction, sym.Kind)
	assert.Equal(t, []string{"std"}, sym.Features)

	off := extractRust(t, map[string]string{
		"src/lib.rs": `
mod io;
#[cfg(feature = "std")]
pub use io::read_all;
`,
		"src/io.rs": `pub fn read_all() -> Vec<u8> { Vec::new() }`,
	})
	_, ok = off.Lookup("crate::read_all")
	assert.False(t, ok)
}
