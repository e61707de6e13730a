package extract

import (
	"strings"

	"apigate/internal/snapshot"
)

// maxReexportHops bounds chains like `pub use a::X` where a::X is itself a
// re-export.
const maxReexportHops = 8

// reexportIndex holds every item of the compiled modules, reachable or not,
// so `pub use` paths into private modules can be resolved to real items.
type reexportIndex struct {
	graph    moduleGraph
	items    map[string]Item
	members  map[string][]snapshot.Symbol
	byModule map[string][]string
}

func newReexportIndex(graph moduleGraph, surfaces map[string]*FileSurface, modules []string) *reexportIndex {
	idx := &reexportIndex{
		graph:    graph,
		items:    make(map[string]Item),
		members:  make(map[string][]snapshot.Symbol),
		byModule: make(map[string][]string),
	}
	for _, module := range modules {
		for _, item := range surfaces[module].Items {
			state, ok := graph[item.Module]
			if !ok || !state.compiled {
				continue
			}
			sym := item.Symbol
			sym.Features = append(append([]string(nil), state.gates...), sym.Features...)
			if sym.Parent != "" {
				idx.members[sym.Parent] = append(idx.members[sym.Parent], sym)
				continue
			}
			if _, dup := idx.items[sym.ID]; dup {
				continue
			}
			idx.items[sym.ID] = Item{Module: item.Module, Symbol: sym}
			if !isGlob(sym) {
				idx.byModule[item.Module] = append(idx.byModule[item.Module], sym.ID)
			}
		}
	}
	return idx
}

func isGlob(sym snapshot.Symbol) bool {
	return sym.Kind == snapshot.KindReexport && strings.HasSuffix(sym.ID, "::*")
}

func (idx *reexportIndex) known(id string) bool {
	if _, ok := idx.graph[id]; ok {
		return true
	}
	_, ok := idx.items[id]
	return ok
}

// resolvePath turns a use path written in module into a crate path. Paths
// into other crates do not resolve.
func (idx *reexportIndex) resolvePath(module, p string) (string, bool) {
	segs := strings.Split(p, "::")
	base := module
	switch segs[0] {
	case "crate":
		base, segs = "crate", segs[1:]
	case "self":
		segs = segs[1:]
	case "super":
		for len(segs) > 0 && segs[0] == "super" {
			i := strings.LastIndex(base, "::")
			if i < 0 {
				return "", false
			}
			base, segs = base[:i], segs[1:]
		}
	default:
		if !idx.known(module + "::" + segs[0]) {
			return "", false
		}
	}
	if len(segs) == 0 {
		return base, true
	}
	return base + "::" + strings.Join(segs, "::"), true
}

// follow resolves id through re-export chains to the item that defines it.
func (idx *reexportIndex) follow(id string) (Item, bool) {
	for hop := 0; hop < maxReexportHops; hop++ {
		item, ok := idx.items[id]
		if !ok {
			return Item{}, false
		}
		if item.Symbol.Kind != snapshot.KindReexport || isGlob(item.Symbol) {
			return item, true
		}
		next, ok := idx.resolvePath(item.Module, item.Symbol.Type)
		if !ok {
			return item, true
		}
		id = next
	}
	return Item{}, false
}

// expand replaces a reachable re-export of items that are not public under
// their own path with copies of those items under the re-exported names.
// It returns false when the re-export stays as it is.
func (idx *reexportIndex) expand(module string, re snapshot.Symbol) ([]snapshot.Symbol, bool) {
	target, ok := idx.resolvePath(module, re.Type)
	if !ok {
		return nil, false
	}

	if isGlob(re) {
		state, ok := idx.graph[target]
		if !ok || !state.compiled || state.reachable {
			return nil, false
		}
		var out []snapshot.Symbol
		for _, id := range idx.byModule[target] {
			item, ok := idx.follow(id)
			if !ok || item.Symbol.Kind == snapshot.KindReexport {
				continue
			}
			out = append(out, idx.copyAs(item.Symbol, module+"::"+id[len(target)+2:], re.Features)...)
		}
		return out, true
	}

	item, ok := idx.follow(target)
	if !ok || item.Symbol.Kind == snapshot.KindReexport {
		return nil, false
	}
	if state := idx.graph[item.Module]; state != nil && state.reachable {
		return nil, false
	}
	return idx.copyAs(item.Symbol, re.ID, re.Features), true
}

// copyAs renames sym and all of its members to the identity id. Features
// gating the re-export also gate the copies.
func (idx *reexportIndex) copyAs(sym snapshot.Symbol, id string, gates []string) []snapshot.Symbol {
	root := sym
	root.ID = id
	root.Features = append(append([]string(nil), gates...), sym.Features...)
	out := []snapshot.Symbol{root}

	var walk func(oldParent, newParent string, depth int)
	walk = func(oldParent, newParent string, depth int) {
		if depth > maxReexportHops {
			return
		}
		for _, m := range idx.members[oldParent] {
			oldID := m.ID
			m.ID = newParent + strings.TrimPrefix(oldID, oldParent)
			m.Parent = newParent
			m.Features = append(append([]string(nil), gates...), m.Features...)
			out = append(out, m)
			walk(oldID, m.ID, depth+1)
		}
	}
	walk(sym.ID, id, 0)
	return out
}
