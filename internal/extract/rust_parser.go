package extract

import (
	"context"
	"fmt"
	"strings"
	"time"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/rust"

	"apigate/internal/logging"
	"apigate/internal/snapshot"
)

// RustParser implements FileParser for Rust source files using Tree-sitter.
// A RustParser is not safe for concurrent use; create one per worker.
type RustParser struct {
	parser *sitter.Parser
}

// NewRustParser creates a new Rust parser.
func NewRustParser() *RustParser {
	parser := sitter.NewParser()
	parser.SetLanguage(rust.GetLanguage())
	return &RustParser{parser: parser}
}

// Language returns "rust".
func (p *RustParser) Language() string { return "rust" }

// SupportedExtensions returns [".rs"].
func (p *RustParser) SupportedExtensions() []string { return []string{".rs"} }

// Parse extracts the items of one Rust file.
func (p *RustParser) Parse(ctx context.Context, unit FileUnit) (*FileSurface, error) {
	start := time.Now()

	tree, err := p.parser.ParseCtx(ctx, nil, unit.Content)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", unit.Path, err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		return nil, fmt.Errorf("%s:%d: syntax error", unit.Path, firstErrorLine(root))
	}

	w := &rustWalker{
		src:  unit.Content,
		path: unit.Path,
		env:  unit.Env,
		out: &FileSurface{
			Module:  unit.Module,
			Enabled: true,
			Aliases: make(map[string]string),
		},
	}
	w.walkItems(root, unit.Module)

	logging.ExtractDebug("rust: %s (%s) - %d items, %d mods in %v",
		unit.Path, unit.Module, len(w.out.Items), len(w.out.Mods), time.Since(start))
	return w.out, nil
}

func firstErrorLine(n *sitter.Node) int {
	if n.Type() == "ERROR" || n.IsMissing() {
		return int(n.StartPoint().Row) + 1
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		child := n.Child(i)
		if child.HasError() {
			return firstErrorLine(child)
		}
	}
	return int(n.StartPoint().Row) + 1
}

// itemMeta is what the outer attributes of an item say about it.
type itemMeta struct {
	enabled       bool
	hidden        bool
	nonExhaustive bool
	features      []string
	derives       []string
}

type rustWalker struct {
	src  []byte
	path string
	env  CfgEnv
	out  *FileSurface
}

func (w *rustWalker) text(n *sitter.Node) string {
	if n == nil {
		return ""
	}
	return string(w.src[n.StartByte():n.EndByte()])
}

func (w *rustWalker) location(n *sitter.Node) string {
	return fmt.Sprintf("%s:%d", w.path, int(n.StartPoint().Row)+1)
}

func (w *rustWalker) emit(module string, sym snapshot.Symbol) {
	w.out.Items = append(w.out.Items, Item{Module: module, Symbol: sym})
}

// visibility returns the item's visibility modifier with spaces removed.
func (w *rustWalker) visibility(n *sitter.Node) string {
	for i := 0; i < int(n.ChildCount()); i++ {
		child := n.Child(i)
		if child.Type() == "visibility_modifier" {
			return strings.Join(strings.Fields(w.text(child)), "")
		}
	}
	return ""
}

// isPub reports plain `pub`. pub(crate), pub(super) and pub(in path) do not
// reach outside the crate.
func (w *rustWalker) isPub(n *sitter.Node) bool {
	return w.visibility(n) == "pub"
}

// walkItems processes the items of a source file, inline module or impl-less
// declaration list. Outer attributes are siblings that precede their item.
func (w *rustWalker) walkItems(container *sitter.Node, module string) {
	var attrs []string
	for i := 0; i < int(container.NamedChildCount()); i++ {
		child := container.NamedChild(i)
		switch child.Type() {
		case "attribute_item":
			attrs = append(attrs, w.text(child))
			continue
		case "inner_attribute_item":
			if module == w.out.Module && container.Type() == "source_file" {
				meta := w.meta([]string{strings.Replace(w.text(child), "#!", "#", 1)})
				if !meta.enabled {
					w.out.Enabled = false
				}
			}
			continue
		case "line_comment", "block_comment":
			continue
		}

		meta := w.meta(attrs)
		attrs = nil
		if !meta.enabled || meta.hidden {
			continue
		}

		switch child.Type() {
		case "struct_item":
			w.structItem(child, module, meta, snapshot.KindStruct)
		case "union_item":
			w.structItem(child, module, meta, snapshot.KindUnion)
		case "enum_item":
			w.enumItem(child, module, meta)
		case "trait_item":
			w.traitItem(child, module, meta)
		case "impl_item":
			w.implItem(child, module, meta)
		case "function_item":
			if w.isPub(child) {
				id := module + "::" + w.text(child.ChildByFieldName("name"))
				sym := w.function(child, id, snapshot.KindFunction, meta, nil)
				w.emit(module, sym)
			}
		case "const_item", "static_item":
			if w.isPub(child) {
				w.emit(module, w.valueItem(child, module+"::"+w.text(child.ChildByFieldName("name")), meta))
			}
		case "type_item":
			w.typeItem(child, module, meta)
		case "mod_item":
			w.modItem(child, module, meta)
		case "use_declaration":
			if w.isPub(child) {
				w.useItem(child, module, meta)
			}
		}
	}
}

// meta interprets a run of outer attributes.
func (w *rustWalker) meta(attrs []string) itemMeta {
	m := itemMeta{enabled: true}
	for _, raw := range attrs {
		body := strings.TrimSpace(raw)
		body = strings.TrimPrefix(body, "#")
		body = strings.TrimSpace(body)
		body = strings.TrimPrefix(body, "[")
		body = strings.TrimSuffix(body, "]")
		w.applyAttr(strings.TrimSpace(body), &m)
	}
	return m
}

func (w *rustWalker) applyAttr(attr string, m *itemMeta) {
	name, args := attr, ""
	if i := strings.IndexAny(attr, "(="); i >= 0 {
		name = strings.TrimSpace(attr[:i])
		if attr[i] == '(' && strings.HasSuffix(attr, ")") {
			args = attr[i+1 : len(attr)-1]
		}
	}

	switch name {
	case "cfg":
		expr, err := ParseCfg(args)
		if err != nil {
			logging.ExtractWarn("rust: %s: treating unparsable cfg as disabled: %v", w.path, err)
			m.enabled = false
			return
		}
		if !expr.Eval(w.env) {
			m.enabled = false
		}
		m.features = append(m.features, expr.GatingFeatures()...)
	case "cfg_attr":
		parts := splitTopLevel(args)
		if len(parts) < 2 {
			return
		}
		expr, err := ParseCfg(parts[0])
		if err != nil || !expr.Eval(w.env) {
			return
		}
		for _, inner := range parts[1:] {
			w.applyAttr(inner, m)
		}
	case "non_exhaustive":
		m.nonExhaustive = true
	case "derive":
		for _, d := range splitTopLevel(args) {
			if d = snapshot.CanonicalType(d); d != "" {
				m.derives = append(m.derives, d)
			}
		}
	case "doc":
		if strings.TrimSpace(args) == "hidden" {
			m.hidden = true
		}
	}
}

func (m itemMeta) markers() []snapshot.Marker {
	if m.nonExhaustive {
		return []snapshot.Marker{snapshot.MarkerNonExhaustive}
	}
	return nil
}

// generics returns the rendered generic parameters (plus any where clause)
// and the declared parameter names in order.
func (w *rustWalker) generics(n *sitter.Node) (entries []string, declared []string) {
	if tp := n.ChildByFieldName("type_parameters"); tp != nil {
		for i := 0; i < int(tp.NamedChildCount()); i++ {
			param := tp.NamedChild(i)
			if param.Type() == "attribute_item" {
				continue
			}
			name := w.genericName(param)
			if name == "" {
				continue
			}
			declared = append(declared, name)
			entries = append(entries, snapshot.CanonicalType(w.text(param)))
		}
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		if child.Type() == "where_clause" {
			entries = append(entries, snapshot.CanonicalType(w.text(child)))
		}
	}
	return entries, declared
}

func (w *rustWalker) genericName(param *sitter.Node) string {
	switch param.Type() {
	case "lifetime", "type_identifier":
		return w.text(param)
	}
	for _, field := range []string{"name", "left"} {
		if c := param.ChildByFieldName(field); c != nil {
			if c.Type() == "lifetime" || c.Type() == "type_identifier" || c.Type() == "identifier" {
				return w.text(c)
			}
			return w.genericName(c)
		}
	}
	for i := 0; i < int(param.NamedChildCount()); i++ {
		c := param.NamedChild(i)
		if c.Type() == "lifetime" || c.Type() == "type_identifier" {
			return w.text(c)
		}
	}
	return ""
}

func (w *rustWalker) structItem(n *sitter.Node, module string, meta itemMeta, kind snapshot.Kind) {
	if !w.isPub(n) {
		return
	}
	id := module + "::" + w.text(n.ChildByFieldName("name"))
	generics, declared := w.generics(n)
	sym := snapshot.Symbol{
		ID:       id,
		Kind:     kind,
		Generics: generics,
		Markers:  meta.markers(),
		Features: meta.features,
		Location: w.location(n),
	}

	var fields []snapshot.Symbol
	hasPrivate := false
	if body := n.ChildByFieldName("body"); body != nil {
		switch body.Type() {
		case "field_declaration_list":
			fields, hasPrivate = w.namedFields(body, id)
		case "ordered_field_declaration_list":
			fields, hasPrivate = w.tupleFields(body, id)
		}
	}
	// A struct with a private field cannot be built outside the crate, so
	// growing it is as safe as growing a #[non_exhaustive] one.
	if hasPrivate && !meta.nonExhaustive {
		sym.Markers = append(sym.Markers, snapshot.MarkerNonExhaustive)
	}
	for i := range fields {
		sym.Members = append(sym.Members, fields[i].Name())
		snapshot.RenameGenerics(&fields[i], declared)
	}
	snapshot.RenameGenerics(&sym, declared)

	w.emit(module, sym)
	for _, f := range fields {
		w.emit(module, f)
	}
	w.derives(module, id, meta)
}

func (w *rustWalker) derives(module, owner string, meta itemMeta) {
	for _, d := range meta.derives {
		w.emit(module, snapshot.Symbol{
			ID:       owner + "::impl " + d,
			Kind:     snapshot.KindImpl,
			Parent:   owner,
			Type:     d,
			Features: meta.features,
		})
	}
}

func (w *rustWalker) namedFields(body *sitter.Node, owner string) ([]snapshot.Symbol, bool) {
	var fields []snapshot.Symbol
	var attrs []string
	hasPrivate := false
	for i := 0; i < int(body.NamedChildCount()); i++ {
		child := body.NamedChild(i)
		switch child.Type() {
		case "attribute_item":
			attrs = append(attrs, w.text(child))
			continue
		case "field_declaration":
		default:
			continue
		}
		meta := w.meta(attrs)
		attrs = nil
		if !meta.enabled {
			continue
		}
		if !w.isPub(child) || meta.hidden {
			hasPrivate = true
			continue
		}
		fields = append(fields, snapshot.Symbol{
			ID:       owner + "::" + w.text(child.ChildByFieldName("name")),
			Kind:     snapshot.KindField,
			Parent:   owner,
			Type:     snapshot.CanonicalType(w.text(child.ChildByFieldName("type"))),
			Features: meta.features,
			Location: w.location(child),
		})
	}
	return fields, hasPrivate
}

func (w *rustWalker) tupleFields(body *sitter.Node, owner string) ([]snapshot.Symbol, bool) {
	var fields []snapshot.Symbol
	var attrs []string
	vis := ""
	index := 0
	hasPrivate := false
	for i := 0; i < int(body.NamedChildCount()); i++ {
		child := body.NamedChild(i)
		switch child.Type() {
		case "attribute_item":
			attrs = append(attrs, w.text(child))
			continue
		case "visibility_modifier":
			vis = strings.Join(strings.Fields(w.text(child)), "")
			continue
		case "line_comment", "block_comment":
			continue
		}
		meta := w.meta(attrs)
		attrs = nil
		pub := vis == "pub"
		vis = ""
		if !meta.enabled {
			continue
		}
		pos := index
		index++
		if !pub || meta.hidden {
			hasPrivate = true
			continue
		}
		fields = append(fields, snapshot.Symbol{
			ID:       fmt.Sprintf("%s::%d", owner, pos),
			Kind:     snapshot.KindField,
			Parent:   owner,
			Type:     snapshot.CanonicalType(w.text(child)),
			Features: meta.features,
			Location: w.location(child),
		})
	}
	return fields, hasPrivate
}

func (w *rustWalker) enumItem(n *sitter.Node, module string, meta itemMeta) {
	if !w.isPub(n) {
		return
	}
	id := module + "::" + w.text(n.ChildByFieldName("name"))
	generics, declared := w.generics(n)
	sym := snapshot.Symbol{
		ID:       id,
		Kind:     snapshot.KindEnum,
		Generics: generics,
		Markers:  meta.markers(),
		Features: meta.features,
		Location: w.location(n),
	}

	var variants []snapshot.Symbol
	if body := n.ChildByFieldName("body"); body != nil {
		var attrs []string
		for i := 0; i < int(body.NamedChildCount()); i++ {
			child := body.NamedChild(i)
			if child.Type() == "attribute_item" {
				attrs = append(attrs, w.text(child))
				continue
			}
			if child.Type() != "enum_variant" {
				continue
			}
			vmeta := w.meta(attrs)
			attrs = nil
			if !vmeta.enabled || vmeta.hidden {
				continue
			}
			name := w.text(child.ChildByFieldName("name"))
			variant := snapshot.Symbol{
				ID:       id + "::" + name,
				Kind:     snapshot.KindVariant,
				Parent:   id,
				Markers:  vmeta.markers(),
				Features: vmeta.features,
				Location: w.location(child),
			}
			if vbody := child.ChildByFieldName("body"); vbody != nil {
				variant.Type = snapshot.CanonicalType(w.text(vbody))
			}
			snapshot.RenameGenerics(&variant, declared)
			variants = append(variants, variant)
			sym.Members = append(sym.Members, name)
		}
	}
	snapshot.RenameGenerics(&sym, declared)

	w.emit(module, sym)
	for _, v := range variants {
		w.emit(module, v)
	}
	w.derives(module, id, meta)
}

func (w *rustWalker) traitItem(n *sitter.Node, module string, meta itemMeta) {
	if !w.isPub(n) {
		return
	}
	id := module + "::" + w.text(n.ChildByFieldName("name"))
	generics, declared := w.generics(n)
	sym := snapshot.Symbol{
		ID:       id,
		Kind:     snapshot.KindTrait,
		Generics: generics,
		Features: meta.features,
		Location: w.location(n),
	}
	if bounds := n.ChildByFieldName("bounds"); bounds != nil {
		text := boundsText(w.text(bounds))
		sym.Type = text
		if isSealedBound(text) {
			sym.Markers = append(sym.Markers, snapshot.MarkerSealed)
		}
	}
	if hasKeyword(w, n, "unsafe") {
		sym.Markers = append(sym.Markers, snapshot.MarkerUnsafe)
	}

	var members []snapshot.Symbol
	if body := n.ChildByFieldName("body"); body != nil {
		var attrs []string
		for i := 0; i < int(body.NamedChildCount()); i++ {
			child := body.NamedChild(i)
			if child.Type() == "attribute_item" {
				attrs = append(attrs, w.text(child))
				continue
			}
			mmeta := w.meta(attrs)
			attrs = nil
			if !mmeta.enabled || mmeta.hidden {
				continue
			}
			name := w.text(child.ChildByFieldName("name"))
			switch child.Type() {
			case "function_signature_item", "function_item":
				m := w.function(child, id+"::"+name, snapshot.KindMethod, mmeta, declared)
				m.Parent = id
				if child.Type() == "function_item" {
					m.Markers = append(m.Markers, snapshot.MarkerProvided)
				}
				members = append(members, m)
			case "associated_type":
				m := snapshot.Symbol{
					ID:       id + "::" + name,
					Kind:     snapshot.KindType,
					Parent:   id,
					Features: mmeta.features,
					Location: w.location(child),
				}
				if b := child.ChildByFieldName("bounds"); b != nil {
					m.Type = boundsText(w.text(b))
				}
				if child.ChildByFieldName("default_type") != nil {
					m.Markers = append(m.Markers, snapshot.MarkerProvided)
				}
				snapshot.RenameGenerics(&m, declared)
				members = append(members, m)
			case "const_item":
				m := w.valueItem(child, id+"::"+name, mmeta)
				m.Parent = id
				if child.ChildByFieldName("value") != nil {
					m.Markers = append(m.Markers, snapshot.MarkerProvided)
				}
				snapshot.RenameGenerics(&m, declared)
				members = append(members, m)
			default:
				continue
			}
			sym.Members = append(sym.Members, name)
		}
	}
	snapshot.RenameGenerics(&sym, declared)

	w.emit(module, sym)
	for _, m := range members {
		w.emit(module, m)
	}
}

func boundsText(text string) string {
	return snapshot.CanonicalType(strings.TrimPrefix(strings.TrimSpace(text), ":"))
}

// isSealedBound recognizes the sealed-trait pattern: a supertrait whose last
// path segment is Sealed.
func isSealedBound(bounds string) bool {
	for _, b := range strings.Split(bounds, "+") {
		b = strings.TrimSpace(b)
		if i := strings.Index(b, "<"); i >= 0 {
			b = b[:i]
		}
		seg := b
		if i := strings.LastIndex(b, "::"); i >= 0 {
			seg = b[i+2:]
		}
		if seg == "Sealed" {
			return true
		}
	}
	return false
}

func hasKeyword(w *rustWalker, n *sitter.Node, kw string) bool {
	for i := 0; i < int(n.ChildCount()); i++ {
		c := n.Child(i)
		if c.Type() == kw {
			return true
		}
		if c.Type() == "function_modifiers" {
			for _, f := range strings.Fields(w.text(c)) {
				if f == kw {
					return true
				}
			}
		}
	}
	return false
}

func (w *rustWalker) implItem(n *sitter.Node, module string, meta itemMeta) {
	typeNode := n.ChildByFieldName("type")
	if typeNode == nil {
		return
	}
	owner := ownerID(module, w.text(typeNode))
	generics, declared := w.generics(n)

	if traitNode := n.ChildByFieldName("trait"); traitNode != nil {
		trait := snapshot.CanonicalType(w.text(traitNode))
		if hasNegation(w, n) {
			trait = "!" + trait
		}
		impl := snapshot.Symbol{
			ID:       owner + "::impl " + trait,
			Kind:     snapshot.KindImpl,
			Parent:   owner,
			Type:     trait,
			Generics: generics,
			Features: meta.features,
			Location: w.location(n),
		}
		snapshot.RenameGenerics(&impl, declared)
		// The identity must not depend on generic parameter names either.
		impl.ID = owner + "::impl " + impl.Type
		w.emit(module, impl)
		return
	}

	body := n.ChildByFieldName("body")
	if body == nil {
		return
	}
	var attrs []string
	for i := 0; i < int(body.NamedChildCount()); i++ {
		child := body.NamedChild(i)
		if child.Type() == "attribute_item" {
			attrs = append(attrs, w.text(child))
			continue
		}
		mmeta := w.meta(attrs)
		attrs = nil
		if !mmeta.enabled || mmeta.hidden || !w.isPub(child) {
			continue
		}
		mmeta.features = append(append([]string(nil), meta.features...), mmeta.features...)
		name := w.text(child.ChildByFieldName("name"))
		switch child.Type() {
		case "function_item":
			m := w.function(child, owner+"::"+name, snapshot.KindMethod, mmeta, declared)
			m.Parent = owner
			w.emit(module, m)
		case "const_item":
			c := w.valueItem(child, owner+"::"+name, mmeta)
			c.Parent = owner
			snapshot.RenameGenerics(&c, declared)
			w.emit(module, c)
		}
	}
}

func hasNegation(w *rustWalker, n *sitter.Node) bool {
	for i := 0; i < int(n.ChildCount()); i++ {
		if n.Child(i).Type() == "!" {
			return true
		}
	}
	return false
}

// ownerID resolves the self type of an impl block to a symbol identity.
func ownerID(module, typeText string) string {
	t := snapshot.CanonicalType(typeText)
	if i := strings.Index(t, "<"); i > 0 {
		t = t[:i]
	}
	switch {
	case strings.HasPrefix(t, "crate::"):
		return t
	case strings.HasPrefix(t, "self::"):
		return module + "::" + strings.TrimPrefix(t, "self::")
	case strings.HasPrefix(t, "super::"):
		parent := module
		if i := strings.LastIndex(module, "::"); i >= 0 {
			parent = module[:i]
		}
		return parent + "::" + strings.TrimPrefix(t, "super::")
	default:
		return module + "::" + t
	}
}

// function builds a function or method symbol. outer holds generic names
// declared by an enclosing impl or trait.
func (w *rustWalker) function(n *sitter.Node, id string, kind snapshot.Kind, meta itemMeta, outer []string) snapshot.Symbol {
	generics, declared := w.generics(n)
	sym := snapshot.Symbol{
		ID:       id,
		Kind:     kind,
		Generics: generics,
		Features: meta.features,
		Location: w.location(n),
	}
	for _, kw := range []string{"const", "async", "unsafe"} {
		if hasKeyword(w, n, kw) {
			sym.Markers = append(sym.Markers, snapshot.Marker(kw))
		}
	}

	if params := n.ChildByFieldName("parameters"); params != nil {
		for i := 0; i < int(params.NamedChildCount()); i++ {
			param := params.NamedChild(i)
			switch param.Type() {
			case "self_parameter":
				sym.Receiver = receiverText(w.text(param))
			case "parameter":
				sym.Params = append(sym.Params, snapshot.Param{
					Name: strings.TrimPrefix(w.text(param.ChildByFieldName("pattern")), "mut "),
					Type: snapshot.CanonicalType(w.text(param.ChildByFieldName("type"))),
				})
			case "variadic_parameter":
				sym.Params = append(sym.Params, snapshot.Param{Type: "..."})
			}
		}
	}
	if ret := n.ChildByFieldName("return_type"); ret != nil {
		sym.Results = []string{snapshot.CanonicalType(w.text(ret))}
	}

	all := append(append([]string(nil), outer...), declared...)
	snapshot.RenameGenerics(&sym, all)
	return sym
}

// receiverText canonicalizes a self parameter. `mut self` binds self mutably
// inside the body only, so it is the same API as `self`.
func receiverText(text string) string {
	t := snapshot.CanonicalType(text)
	if t == "mut self" {
		return "self"
	}
	if strings.HasPrefix(t, "mut self:") {
		return strings.TrimPrefix(t, "mut ")
	}
	return t
}

func (w *rustWalker) valueItem(n *sitter.Node, id string, meta itemMeta) snapshot.Symbol {
	kind := snapshot.KindConst
	if n.Type() == "static_item" {
		kind = snapshot.KindStatic
	}
	sym := snapshot.Symbol{
		ID:       id,
		Kind:     kind,
		Type:     snapshot.CanonicalType(w.text(n.ChildByFieldName("type"))),
		Features: meta.features,
		Location: w.location(n),
	}
	if kind == snapshot.KindStatic {
		for i := 0; i < int(n.NamedChildCount()); i++ {
			if n.NamedChild(i).Type() == "mutable_specifier" {
				sym.Markers = append(sym.Markers, snapshot.MarkerMutable)
			}
		}
	}
	return sym
}

func (w *rustWalker) typeItem(n *sitter.Node, module string, meta itemMeta) {
	name := w.text(n.ChildByFieldName("name"))
	target := snapshot.CanonicalType(w.text(n.ChildByFieldName("type")))
	generics, declared := w.generics(n)
	if len(declared) == 0 {
		w.out.Aliases[name] = target
	}
	if !w.isPub(n) {
		return
	}
	sym := snapshot.Symbol{
		ID:       module + "::" + name,
		Kind:     snapshot.KindAlias,
		Type:     target,
		Generics: generics,
		Features: meta.features,
		Location: w.location(n),
	}
	snapshot.RenameGenerics(&sym, declared)
	w.emit(module, sym)
}

func (w *rustWalker) modItem(n *sitter.Node, module string, meta itemMeta) {
	path := module + "::" + w.text(n.ChildByFieldName("name"))
	w.out.Mods = append(w.out.Mods, ModDecl{
		Path:     path,
		Public:   w.isPub(n),
		Features: meta.features,
	})
	if body := n.ChildByFieldName("body"); body != nil {
		w.walkItems(body, path)
	}
}

func (w *rustWalker) useItem(n *sitter.Node, module string, meta itemMeta) {
	arg := n.ChildByFieldName("argument")
	if arg == nil {
		return
	}
	for _, u := range expandUse("", w.text(arg)) {
		id := module + "::" + u.name
		if u.name == "*" {
			id = module + "::use " + u.path + "::*"
		}
		w.emit(module, snapshot.Symbol{
			ID:       id,
			Kind:     snapshot.KindReexport,
			Type:     u.path,
			Features: meta.features,
			Location: w.location(n),
		})
	}
}

type useEntry struct {
	name string
	path string
}

// expandUse flattens a use tree such as `a::{b, c::{d as e}, f::*}`.
func expandUse(prefix, tree string) []useEntry {
	tree = strings.Join(strings.Fields(tree), " ")
	tree = strings.NewReplacer(" ::", "::", ":: ", "::", "{ ", "{", " }", "}").Replace(tree)
	if tree == "" {
		return nil
	}
	if open := strings.Index(tree, "{"); open >= 0 && strings.HasSuffix(tree, "}") {
		head := tree[:open]
		var out []useEntry
		for _, part := range splitTopLevel(tree[open+1 : len(tree)-1]) {
			out = append(out, expandUse(prefix+head, part)...)
		}
		return out
	}

	path, name := prefix+tree, ""
	if p, alias, ok := strings.Cut(tree, " as "); ok {
		path = prefix + strings.TrimSpace(p)
		name = strings.TrimSpace(alias)
		if name == "_" {
			return nil
		}
	}
	if strings.HasSuffix(path, "::self") {
		path = strings.TrimSuffix(path, "::self")
	}
	if name == "" {
		name = path
		if i := strings.LastIndex(path, "::"); i >= 0 {
			name = path[i+2:]
		}
	}
	if name == "*" {
		path = strings.TrimSuffix(path, "::*")
	}
	return []useEntry{{name: name, path: path}}
}
