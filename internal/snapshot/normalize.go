package snapshot

import (
	"fmt"
	"strings"
)

var tightPunct = strings.NewReplacer(
	" <", "<",
	"< ", "<",
	" >", ">",
	"( ", "(",
	" )", ")",
	"[ ", "[",
	" ]", "]",
	" ,", ",",
	" ;", ";",
	" ::", "::",
	":: ", "::",
	"& ", "&",
)

// CanonicalType collapses whitespace in a type expression so formatting
// differences never show up as signature changes.
func CanonicalType(text string) string {
	text = strings.ReplaceAll(text, ",", ", ")
	text = strings.Join(strings.Fields(text), " ")
	// Two passes: the first can expose new pairs ("< &" -> "<&").
	text = tightPunct.Replace(text)
	text = tightPunct.Replace(text)
	text = strings.TrimSuffix(text, ",")
	text = strings.ReplaceAll(text, ", >", ">")
	text = strings.ReplaceAll(text, ",>", ">")
	text = strings.ReplaceAll(text, ",)", ")")
	return text
}

// RenameGenerics replaces declared generic parameter names with positional
// placeholders: lifetimes become 'l0, 'l1, ... and type or const parameters
// become T0, T1, ... Renaming `fn f<T>(x: T)` to `fn f<U>(x: U)` therefore
// produces an identical symbol.
func RenameGenerics(sym *Symbol, declared []string) {
	if len(declared) == 0 {
		return
	}
	mapping := make(map[string]string, len(declared))
	var lifetimes, types int
	for _, name := range declared {
		if name == "" {
			continue
		}
		if _, dup := mapping[name]; dup {
			continue
		}
		if strings.HasPrefix(name, "'") {
			mapping[name] = fmt.Sprintf("'l%d", lifetimes)
			lifetimes++
		} else {
			mapping[name] = fmt.Sprintf("T%d", types)
			types++
		}
	}
	rewriteTypes(sym, func(t string) string { return replaceIdents(t, mapping) })
}

// Normalize canonicalizes every signature and resolves type aliases. It is
// idempotent.
func (s *Snapshot) Normalize() {
	aliases := make(map[string]string, len(s.Aliases))
	for name, target := range s.Aliases {
		aliases[name] = CanonicalType(target)
	}
	resolve := func(t string) string {
		t = CanonicalType(t)
		if len(aliases) == 0 {
			return t
		}
		// Bounded so alias cycles cannot loop forever.
		for i := 0; i < 8; i++ {
			next := replaceIdents(t, aliases)
			if next == t {
				break
			}
			t = next
		}
		return t
	}
	for i := range s.Symbols {
		sym := &s.Symbols[i]
		if sym.Kind == KindAlias {
			// The alias itself keeps its own name; only its target resolves.
			sym.Type = resolve(sym.Type)
			for j := range sym.Generics {
				sym.Generics[j] = CanonicalType(sym.Generics[j])
			}
			continue
		}
		rewriteTypes(sym, resolve)
	}
	s.Finalize()
}

func rewriteTypes(sym *Symbol, fn func(string) string) {
	sym.Receiver = fn(sym.Receiver)
	sym.Type = fn(sym.Type)
	for i := range sym.Params {
		sym.Params[i].Type = fn(sym.Params[i].Type)
	}
	for i := range sym.Results {
		sym.Results[i] = fn(sym.Results[i])
	}
	for i := range sym.Generics {
		sym.Generics[i] = fn(sym.Generics[i])
	}
}

// replaceIdents rewrites whole identifiers (and 'lifetimes) found in mapping.
// Identifiers that follow "::" or "." are path segments and are left alone.
func replaceIdents(text string, mapping map[string]string) string {
	if text == "" || len(mapping) == 0 {
		return text
	}
	var b strings.Builder
	b.Grow(len(text))
	i := 0
	for i < len(text) {
		c := text[i]
		if !isIdentStart(c) && !(c == '\'' && i+1 < len(text) && isIdentStart(text[i+1])) {
			b.WriteByte(c)
			i++
			continue
		}
		j := i + 1
		for j < len(text) && isIdentPart(text[j]) {
			j++
		}
		word := text[i:j]
		qualified := (i >= 2 && text[i-2:i] == "::") || (i >= 1 && text[i-1] == '.')
		if repl, ok := mapping[word]; ok && !qualified {
			b.WriteString(repl)
		} else {
			b.WriteString(word)
		}
		i = j
	}
	return b.String()
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}
