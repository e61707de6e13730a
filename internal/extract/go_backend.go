package extract

import (
	"bufio"
	"context"
	"fmt"
	"go/build/constraint"
	"go/token"
	"go/types"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/tools/go/packages"

	"apigate/internal/logging"
	"apigate/internal/snapshot"
)

// GoBackend extracts the exported surface of a Go module. Build tags play the
// role of feature flags.
type GoBackend struct {
	opts Options
}

// NewGoBackend creates a Go backend.
func NewGoBackend(opts Options) *GoBackend {
	return &GoBackend{opts: opts}
}

// Language returns "go".
func (b *GoBackend) Language() string { return "go" }

// Surface loads every non-internal package of the module at dir with the
// enabled tags and collects its exported identifiers.
func (b *GoBackend) Surface(ctx context.Context, dir string, features FeatureSet) (*Surface, error) {
	root := filepath.Join(dir, filepath.FromSlash(b.opts.Root))
	fset := token.NewFileSet()
	cfg := &packages.Config{
		Mode: packages.NeedTypes | packages.NeedSyntax | packages.NeedName |
			packages.NeedFiles | packages.NeedTypesInfo | packages.NeedImports,
		Context: ctx,
		Fset:    fset,
		Dir:     root,
		Tests:   false,
	}
	if tags := features.Names(); len(tags) > 0 {
		cfg.BuildFlags = []string{"-tags=" + strings.Join(tags, ",")}
	}

	pkgs, err := packages.Load(cfg, "./...")
	if err != nil {
		return nil, fmt.Errorf("load packages: %w", err)
	}

	sort.Slice(pkgs, func(i, j int) bool { return pkgs[i].PkgPath < pkgs[j].PkgPath })

	out := &Surface{Aliases: map[string]string{}}
	gates := newGateCache(features)
	for _, pkg := range pkgs {
		if len(pkg.Errors) > 0 {
			return nil, fmt.Errorf("package %s: %s", pkg.PkgPath, pkg.Errors[0])
		}
		if !publicPackage(pkg) {
			logging.ExtractDebug("go: skipping %s", pkg.PkgPath)
			continue
		}
		if b.excludedPackage(root, pkg) {
			continue
		}
		w := &goWalker{pkg: pkg, fset: fset, gates: gates}
		out.Symbols = append(out.Symbols, w.walk()...)
	}
	return out, nil
}

func (b *GoBackend) excludedPackage(root string, pkg *packages.Package) bool {
	if len(b.opts.Exclude) == 0 || len(pkg.GoFiles) == 0 {
		return false
	}
	rel, err := filepath.Rel(root, filepath.Dir(pkg.GoFiles[0]))
	if err != nil {
		return false
	}
	return excluded(path.Join(filepath.ToSlash(rel), "x.go"), b.opts.Exclude)
}

// publicPackage reports whether importers outside the module can use pkg.
func publicPackage(pkg *packages.Package) bool {
	if pkg.Name == "main" || pkg.Types == nil {
		return false
	}
	for _, seg := range strings.Split(pkg.PkgPath, "/") {
		if seg == "internal" || seg == "testdata" {
			return false
		}
	}
	return true
}

type goWalker struct {
	pkg   *packages.Package
	fset  *token.FileSet
	gates *gateCache
}

func (w *goWalker) qualifier(p *types.Package) string {
	if p == w.pkg.Types {
		return ""
	}
	return p.Path()
}

func (w *goWalker) typeString(t types.Type) string {
	return types.TypeString(t, w.qualifier)
}

func (w *goWalker) location(pos token.Pos) string {
	p := w.fset.Position(pos)
	return fmt.Sprintf("%s:%d", filepath.Base(p.Filename), p.Line)
}

func (w *goWalker) walk() []snapshot.Symbol {
	scope := w.pkg.Types.Scope()
	syms := []snapshot.Symbol{{ID: w.pkg.PkgPath, Kind: snapshot.KindModule}}
	for _, name := range scope.Names() {
		obj := scope.Lookup(name)
		if !obj.Exported() {
			continue
		}
		id := w.pkg.PkgPath + "." + name
		feats := w.gates.forPos(w.fset, obj.Pos())
		switch o := obj.(type) {
		case *types.Func:
			sym := w.function(id, snapshot.KindFunction, o.Type().(*types.Signature), nil)
			sym.Features = feats
			sym.Location = w.location(o.Pos())
			syms = append(syms, sym)
		case *types.Const:
			syms = append(syms, snapshot.Symbol{
				ID: id, Kind: snapshot.KindConst, Type: w.typeString(o.Type()),
				Features: feats, Location: w.location(o.Pos()),
			})
		case *types.Var:
			syms = append(syms, snapshot.Symbol{
				ID: id, Kind: snapshot.KindStatic, Type: w.typeString(o.Type()),
				Markers:  []snapshot.Marker{snapshot.MarkerMutable},
				Features: feats, Location: w.location(o.Pos()),
			})
		case *types.TypeName:
			syms = append(syms, w.typeName(id, o, feats)...)
		}
	}
	return syms
}

func (w *goWalker) typeName(id string, obj *types.TypeName, feats []string) []snapshot.Symbol {
	if obj.IsAlias() {
		return []snapshot.Symbol{{
			ID: id, Kind: snapshot.KindAlias, Type: w.typeString(types.Unalias(obj.Type())),
			Features: feats, Location: w.location(obj.Pos()),
		}}
	}
	named, ok := obj.Type().(*types.Named)
	if !ok {
		return nil
	}

	var generics, declared []string
	for i := 0; i < named.TypeParams().Len(); i++ {
		tp := named.TypeParams().At(i)
		declared = append(declared, tp.Obj().Name())
		generics = append(generics, tp.Obj().Name()+" "+w.typeString(tp.Constraint()))
	}

	sym := snapshot.Symbol{
		ID:       id,
		Generics: generics,
		Features: feats,
		Location: w.location(obj.Pos()),
	}
	var members []snapshot.Symbol

	switch u := named.Underlying().(type) {
	case *types.Struct:
		sym.Kind = snapshot.KindStruct
		// Unkeyed literals of another package's struct are outside the Go 1
		// compatibility promise.
		sym.Markers = []snapshot.Marker{snapshot.MarkerNonExhaustive}
		for i := 0; i < u.NumFields(); i++ {
			f := u.Field(i)
			if !f.Exported() {
				continue
			}
			sym.Members = append(sym.Members, f.Name())
			members = append(members, snapshot.Symbol{
				ID: id + "." + f.Name(), Kind: snapshot.KindField, Parent: id,
				Type: w.typeString(f.Type()), Location: w.location(f.Pos()),
			})
		}
	case *types.Interface:
		sym.Kind = snapshot.KindInterface
		for i := 0; i < u.NumMethods(); i++ {
			m := u.Method(i)
			if !m.Exported() {
				sym.Markers = []snapshot.Marker{snapshot.MarkerSealed}
				continue
			}
			sym.Members = append(sym.Members, m.Name())
			ms := w.function(id+"."+m.Name(), snapshot.KindMethod, m.Type().(*types.Signature), declared)
			ms.Parent = id
			ms.Receiver = ""
			ms.Location = w.location(m.Pos())
			members = append(members, ms)
		}
		if !u.IsMethodSet() {
			sym.Type = "constraint"
		}
	default:
		sym.Kind = snapshot.KindType
		sym.Type = w.typeString(u)
	}

	for i := 0; i < named.NumMethods(); i++ {
		m := named.Method(i)
		if !m.Exported() {
			continue
		}
		ms := w.function(id+"."+m.Name(), snapshot.KindMethod, m.Type().(*types.Signature), declared)
		ms.Parent = id
		ms.Location = w.location(m.Pos())
		members = append(members, ms)
	}

	snapshot.RenameGenerics(&sym, declared)
	for i := range members {
		snapshot.RenameGenerics(&members[i], declared)
		members[i].Features = feats
	}
	return append([]snapshot.Symbol{sym}, members...)
}

func (w *goWalker) function(id string, kind snapshot.Kind, sig *types.Signature, outer []string) snapshot.Symbol {
	sym := snapshot.Symbol{ID: id, Kind: kind}
	if recv := sig.Recv(); recv != nil {
		sym.Receiver = w.typeString(recv.Type())
	}

	var declared []string
	for i := 0; i < sig.TypeParams().Len(); i++ {
		tp := sig.TypeParams().At(i)
		declared = append(declared, tp.Obj().Name())
		sym.Generics = append(sym.Generics, tp.Obj().Name()+" "+w.typeString(tp.Constraint()))
	}

	params := sig.Params()
	for i := 0; i < params.Len(); i++ {
		p := params.At(i)
		t := w.typeString(p.Type())
		if sig.Variadic() && i == params.Len()-1 {
			if s, ok := p.Type().(*types.Slice); ok {
				t = "..." + w.typeString(s.Elem())
			}
		}
		sym.Params = append(sym.Params, snapshot.Param{Name: p.Name(), Type: t})
	}
	results := sig.Results()
	for i := 0; i < results.Len(); i++ {
		sym.Results = append(sym.Results, w.typeString(results.At(i).Type()))
	}

	snapshot.RenameGenerics(&sym, append(append([]string(nil), outer...), declared...))
	return sym
}

// gateCache remembers the enabled build tags each file's //go:build line
// requires.
type gateCache struct {
	enabled FeatureSet
	files   map[string][]string
}

func newGateCache(enabled FeatureSet) *gateCache {
	return &gateCache{enabled: enabled, files: make(map[string][]string)}
}

func (c *gateCache) forPos(fset *token.FileSet, pos token.Pos) []string {
	if !pos.IsValid() || len(c.enabled) == 0 {
		return nil
	}
	file := fset.Position(pos).Filename
	if gates, ok := c.files[file]; ok {
		return gates
	}
	gates := c.read(file)
	c.files[file] = gates
	return gates
}

func (c *gateCache) read(file string) []string {
	f, err := os.Open(file)
	if err != nil {
		return nil
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "package ") {
			break
		}
		if !constraint.IsGoBuild(line) {
			continue
		}
		expr, err := constraint.Parse(line)
		if err != nil {
			logging.ExtractWarn("go: %s: bad build constraint: %v", file, err)
			return nil
		}
		seen := map[string]bool{}
		collectTags(expr, false, seen)
		var out []string
		for tag := range seen {
			if c.enabled.Has(tag) {
				out = append(out, tag)
			}
		}
		sort.Strings(out)
		return out
	}
	return nil
}

func collectTags(expr constraint.Expr, negated bool, seen map[string]bool) {
	switch e := expr.(type) {
	case *constraint.TagExpr:
		if !negated {
			seen[e.Tag] = true
		}
	case *constraint.NotExpr:
		collectTags(e.X, !negated, seen)
	case *constraint.AndExpr:
		collectTags(e.X, negated, seen)
		collectTags(e.Y, negated, seen)
	case *constraint.OrExpr:
		collectTags(e.X, negated, seen)
		collectTags(e.Y, negated, seen)
	}
}
