package extract

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"apigate/internal/logging"
	"apigate/internal/snapshot"
)

// RustBackend extracts the public surface of a Cargo crate.
type RustBackend struct {
	opts Options
}

// NewRustBackend creates a Rust backend.
func NewRustBackend(opts Options) *RustBackend {
	return &RustBackend{opts: opts}
}

// Language returns "rust".
func (b *RustBackend) Language() string { return "rust" }

// Surface parses every source file of the crate at dir and keeps what is
// reachable from the crate root under features.
func (b *RustBackend) Surface(ctx context.Context, dir string, features FeatureSet) (*Surface, error) {
	crateDir := filepath.Join(dir, filepath.FromSlash(b.opts.Root))
	srcDir := filepath.Join(crateDir, "src")
	if _, err := os.Stat(filepath.Join(srcDir, "lib.rs")); err != nil {
		return nil, fmt.Errorf("no library target: %w", err)
	}

	files, err := b.sourceFiles(srcDir)
	if err != nil {
		return nil, err
	}

	// One parser per call: tree-sitter parsers are not shared across goroutines.
	registry := NewRegistry()
	registry.Register(NewRustParser())
	env := NewCfgEnv(features, b.opts.CfgFlags)

	surfaces := make(map[string]*FileSurface, len(files))
	var modules []string
	for _, rel := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		module, ok := rustModulePath(rel)
		if !ok {
			continue
		}
		content, err := os.ReadFile(filepath.Join(srcDir, filepath.FromSlash(rel)))
		if err != nil {
			return nil, err
		}
		fsurf, err := registry.Parse(ctx, FileUnit{
			Path:    path.Join(b.opts.Root, "src", rel),
			Module:  module,
			Content: content,
			Env:     env,
		})
		if err != nil {
			return nil, err
		}
		if _, dup := surfaces[module]; dup {
			logging.ExtractWarn("rust: module %s defined by more than one file; keeping the first", module)
			continue
		}
		surfaces[module] = fsurf
		modules = append(modules, module)
	}

	graph := buildModuleGraph(surfaces)
	reexports := newReexportIndex(graph, surfaces, modules)
	out := &Surface{Aliases: mergeAliases(surfaces, modules)}
	// Glob re-exports go last so items declared in the module win.
	var globbed []snapshot.Symbol

	for _, module := range modules {
		fsurf := surfaces[module]
		for _, item := range fsurf.Items {
			state, ok := graph[item.Module]
			if !ok || !state.compiled {
				continue
			}
			// Members and impls follow their owner; everything else needs a
			// public path from the crate root.
			if item.Symbol.Parent == "" && !state.reachable {
				continue
			}
			sym := item.Symbol
			sym.Features = append(append([]string(nil), state.gates...), sym.Features...)
			if sym.Kind == snapshot.KindReexport && sym.Parent == "" {
				if copies, ok := reexports.expand(item.Module, sym); ok {
					if isGlob(sym) {
						globbed = append(globbed, copies...)
					} else {
						out.Symbols = append(out.Symbols, copies...)
					}
					continue
				}
			}
			out.Symbols = append(out.Symbols, sym)
		}
	}
	out.Symbols = append(out.Symbols, globbed...)

	for _, module := range graph.sorted() {
		state := graph[module]
		if module == "crate" || !state.reachable {
			continue
		}
		out.Symbols = append(out.Symbols, snapshot.Symbol{
			ID:       module,
			Kind:     snapshot.KindModule,
			Features: state.gates,
		})
	}

	out.Symbols = dropOrphans(out.Symbols)
	return out, nil
}

// sourceFiles lists .rs files below srcDir as sorted slash paths, minus
// excluded files and binary targets.
func (b *RustBackend) sourceFiles(srcDir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(srcDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(srcDir, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if rel == "bin" {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(rel, ".rs") || rel == "main.rs" {
			return nil
		}
		if excluded(path.Join("src", rel), b.opts.Exclude) {
			logging.ExtractDebug("rust: excluded %s", rel)
			return nil
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

func excluded(rel string, patterns []string) bool {
	for _, pattern := range patterns {
		if ok, err := doublestar.Match(pattern, rel); err == nil && ok {
			return true
		}
	}
	return false
}

// rustModulePath maps a file below src/ to its module path.
func rustModulePath(rel string) (string, bool) {
	rel = strings.TrimSuffix(rel, ".rs")
	if rel == "lib" {
		return "crate", true
	}
	parts := strings.Split(rel, "/")
	if parts[len(parts)-1] == "mod" {
		parts = parts[:len(parts)-1]
	}
	if len(parts) == 0 {
		return "", false
	}
	return "crate::" + strings.Join(parts, "::"), true
}

type moduleState struct {
	compiled  bool // declared from a compiled module and enabled
	reachable bool // compiled and pub at every level
	gates     []string
}

type moduleGraph map[string]*moduleState

func (g moduleGraph) sorted() []string {
	out := make([]string, 0, len(g))
	for m := range g {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// buildModuleGraph resolves which modules are compiled and which are publicly
// reachable, starting from the crate root.
func buildModuleGraph(surfaces map[string]*FileSurface) moduleGraph {
	decls := make(map[string][]ModDecl)
	for _, fsurf := range surfaces {
		if !fsurf.Enabled {
			continue
		}
		for _, m := range fsurf.Mods {
			parent := m.Path[:strings.LastIndex(m.Path, "::")]
			decls[parent] = append(decls[parent], m)
		}
	}

	graph := moduleGraph{}
	root, ok := surfaces["crate"]
	if !ok || !root.Enabled {
		return graph
	}
	graph["crate"] = &moduleState{compiled: true, reachable: true}

	queue := []string{"crate"}
	for len(queue) > 0 {
		parent := queue[0]
		queue = queue[1:]
		ps := graph[parent]
		for _, m := range decls[parent] {
			if _, seen := graph[m.Path]; seen {
				continue
			}
			// An out-of-line module whose file switches itself off is not compiled.
			if fsurf, ok := surfaces[m.Path]; ok && !fsurf.Enabled {
				continue
			}
			graph[m.Path] = &moduleState{
				compiled:  true,
				reachable: ps.reachable && m.Public,
				gates:     append(append([]string(nil), ps.gates...), m.Features...),
			}
			queue = append(queue, m.Path)
		}
	}
	return graph
}

// mergeAliases collects non-generic type aliases. A name aliased to different
// targets in different modules is ambiguous and left unresolved.
func mergeAliases(surfaces map[string]*FileSurface, modules []string) map[string]string {
	out := make(map[string]string)
	conflicted := make(map[string]bool)
	for _, module := range modules {
		for name, target := range surfaces[module].Aliases {
			if prev, ok := out[name]; ok && prev != target {
				conflicted[name] = true
				continue
			}
			out[name] = target
		}
	}
	for name := range conflicted {
		delete(out, name)
	}
	return out
}

// dropOrphans removes members whose owner is not part of the surface, such
// as methods in an inherent impl of a private type.
func dropOrphans(symbols []snapshot.Symbol) []snapshot.Symbol {
	ids := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		if s.Parent == "" {
			ids[s.ID] = true
		}
	}
	// Parents can themselves be members (enum variants of a nested item), so
	// resolve until stable.
	for changed := true; changed; {
		changed = false
		for _, s := range symbols {
			if s.Parent != "" && !ids[s.ID] && ids[s.Parent] {
				ids[s.ID] = true
				changed = true
			}
		}
	}
	out := symbols[:0]
	for _, s := range symbols {
		if ids[s.ID] {
			out = append(out, s)
		}
	}
	return out
}
