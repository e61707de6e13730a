package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// FeatureSet is a set of enabled capability flags.
type FeatureSet map[string]bool

// NewFeatureSet builds a set from names.
func NewFeatureSet(names ...string) FeatureSet {
	fs := make(FeatureSet, len(names))
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			fs[n] = true
		}
	}
	return fs
}

// Has reports whether name is enabled.
func (fs FeatureSet) Has(name string) bool { return fs[name] }

// Names returns the enabled flags, sorted.
func (fs FeatureSet) Names() []string {
	out := make([]string, 0, len(fs))
	for n, on := range fs {
		if on {
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out
}

// Union returns a new set holding both.
func (fs FeatureSet) Union(other FeatureSet) FeatureSet {
	out := make(FeatureSet, len(fs)+len(other))
	for n, on := range fs {
		if on {
			out[n] = true
		}
	}
	for n, on := range other {
		if on {
			out[n] = true
		}
	}
	return out
}

// String renders the set for logs and reports.
func (fs FeatureSet) String() string {
	names := fs.Names()
	if len(names) == 0 {
		return "(none)"
	}
	return strings.Join(names, ",")
}

// CargoManifest is the subset of Cargo.toml that describes features.
type CargoManifest struct {
	Package struct {
		Name    string `toml:"name"`
		Version string `toml:"version"`
	} `toml:"package"`
	Features     map[string][]string `toml:"features"`
	Dependencies map[string]any      `toml:"dependencies"`
	Target       map[string]struct {
		Dependencies map[string]any `toml:"dependencies"`
	} `toml:"target"`

	optional map[string]bool
}

// LoadCargoManifest reads dir/Cargo.toml.
func LoadCargoManifest(dir string) (*CargoManifest, error) {
	path := filepath.Join(dir, "Cargo.toml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m CargoManifest
	if _, err := toml.Decode(string(data), &m); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if m.Features == nil {
		m.Features = make(map[string][]string)
	}
	m.optional = make(map[string]bool)
	m.collectOptional(m.Dependencies)
	for _, target := range m.Target {
		m.collectOptional(target.Dependencies)
	}
	return &m, nil
}

func (m *CargoManifest) collectOptional(deps map[string]any) {
	for name, spec := range deps {
		table, ok := spec.(map[string]any)
		if !ok {
			continue
		}
		if opt, _ := table["optional"].(bool); opt {
			m.optional[name] = true
		}
	}
}

// implicitFeature reports whether name is an optional dependency that Cargo
// exposes as a feature of the same name. A "dep:name" entry anywhere in the
// feature table suppresses it.
func (m *CargoManifest) implicitFeature(name string) bool {
	if m == nil || !m.optional[name] {
		return false
	}
	for _, entries := range m.Features {
		for _, e := range entries {
			if e == "dep:"+name {
				return false
			}
		}
	}
	return true
}

// FlagNames returns the declared feature names except "default", plus the
// implicit features of optional dependencies, sorted.
func (m *CargoManifest) FlagNames() []string {
	seen := make(map[string]bool, len(m.Features)+len(m.optional))
	out := make([]string, 0, len(m.Features))
	add := func(name string) {
		if name != "default" && !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	for name := range m.Features {
		add(name)
	}
	for name := range m.optional {
		if m.implicitFeature(name) {
			add(name)
		}
	}
	sort.Strings(out)
	return out
}

// Closure returns names plus every feature they transitively enable.
// "dep:foo" and "foo?/bar" enable no feature. "foo/bar" enables foo when foo
// is an optional dependency with an implicit feature.
func (m *CargoManifest) Closure(names ...string) FeatureSet {
	out := make(FeatureSet)
	var visit func(string)
	visit = func(name string) {
		if out[name] {
			return
		}
		out[name] = true
		if m == nil {
			return
		}
		for _, dep := range m.Features[name] {
			if strings.HasPrefix(dep, "dep:") {
				continue
			}
			if pkg, _, ok := strings.Cut(dep, "/"); ok {
				if !strings.HasSuffix(pkg, "?") && m.implicitFeature(pkg) {
					visit(pkg)
				}
				continue
			}
			visit(dep)
		}
	}
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			visit(n)
		}
	}
	return out
}
