package extract

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeatureSet(t *testing.T) {
	fs := NewFeatureSet("std", " alloc ", "", "std")
	assert.True(t, fs.Has("alloc"))
	assert.False(t, fs.Has("serde"))
	assert.Equal(t, []string{"alloc", "std"}, fs.Names())
	assert.Equal(t, "alloc,std", fs.String())
	assert.Equal(t, "(none)", NewFeatureSet().String())

	u := fs.Union(NewFeatureSet("serde"))
	assert.Equal(t, []string{"alloc", "serde", "std"}, u.Names())
	assert.False(t, fs.Has("serde"), "union must not mutate the receiver")
}

func TestLoadCargoManifest(t *testing.T) {
	dir := t.TempDir()
	manifest := `[package]
name = "bitcoin_hashes"
version = "0.14.0"

[features]
default = ["std"]
std = ["alloc", "hex/std"]
alloc = ["hex/alloc"]
serde = ["dep:serde"]
small-hash = []
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Cargo.toml"), []byte(manifest), 0644))

	m, err := LoadCargoManifest(dir)
	require.NoError(t, err)
	assert.Equal(t, "bitcoin_hashes", m.Package.Name)
	assert.Equal(t, []string{"alloc", "serde", "small-hash", "std"}, m.FlagNames())

	assert.Equal(t, []string{"alloc", "std"}, m.Closure("std").Names())
	assert.Equal(t, []string{"serde"}, m.Closure("serde").Names())
	assert.Equal(t, []string{"alloc", "default", "std"}, m.Closure("default").Names())
}

func TestLoadCargoManifest_Errors(t *testing.T) {
	_, err := LoadCargoManifest(t.TempDir())
	assert.Error(t, err)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Cargo.toml"), []byte("[features\n"), 0644))
	_, err = LoadCargoManifest(dir)
	assert.Error(t, err)
}

func TestCargoManifest_NoFeatures(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Cargo.toml"), []byte("[package]\nname = \"x\"\n"), 0644))
	m, err := LoadCargoManifest(dir)
	require.NoError(t, err)
	assert.Empty(t, m.FlagNames())
	assert.Equal(t, []string{"x"}, m.Closure("x").Names())
}

func loadManifest(t *testing.T, manifest string) *CargoManifest {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Cargo.toml"), []byte(manifest), 0644))
	m, err := LoadCargoManifest(dir)
	require.NoError(t, err)
	return m
}

func TestCargoManifest_OptionalDependencies(t *testing.T) {
	t.Run("implicit feature", func(t *testing.T) {
		m := loadManifest(t, `[package]
name = "x"

[dependencies]
serde = { version = "1", optional = true }
hex = "0.4"
`)
		assert.Equal(t, []string{"serde"}, m.FlagNames())
		assert.Equal(t, []string{"serde"}, m.Closure("serde").Names())
	})

	t.Run("target dependency", func(t *testing.T) {
		m := loadManifest(t, `[package]
name = "x"

[target.'cfg(unix)'.dependencies]
libc = { version = "0.2", optional = true }
`)
		assert.Equal(t, []string{"libc"}, m.FlagNames())
	})

	t.Run("dependency feature enables the dependency", func(t *testing.T) {
		m := loadManifest(t, `[package]
name = "x"

[dependencies]
serde = { version = "1", optional = true }
hex = { version = "0.4", default-features = false }

[features]
std = ["serde/std", "hex/std"]
`)
		assert.Equal(t, []string{"serde", "std"}, m.FlagNames())
		assert.Equal(t, []string{"serde", "std"}, m.Closure("std").Names())
	})

	t.Run("weak dependency feature", func(t *testing.T) {
		m := loadManifest(t, `[package]
name = "x"

[dependencies]
serde = { version = "1", optional = true }

[features]
std = ["serde?/std"]
`)
		assert.Equal(t, []string{"std"}, m.Closure("std").Names())
	})

	t.Run("dep prefix hides the implicit feature", func(t *testing.T) {
		m := loadManifest(t, `[package]
name = "x"

[dependencies]
serde = { version = "1", optional = true }

[features]
serialize = ["dep:serde", "serde/std"]
`)
		assert.Equal(t, []string{"serialize"}, m.FlagNames())
		assert.Equal(t, []string{"serialize"}, m.Closure("serialize").Names())
	})
}
