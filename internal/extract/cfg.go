package extract

import (
	"fmt"
	"sort"
	"strings"
	"unicode"
)

// CfgEnv is the configuration a cfg predicate is evaluated against.
type CfgEnv struct {
	// Features are the enabled capability flags.
	Features FeatureSet
	// Flags are bare cfg names that count as set (e.g. "rust_v_1_46").
	Flags map[string]bool
	// Values are "key=value" pairs that count as set (e.g. "target_os=linux").
	Values map[string]bool
}

// NewCfgEnv builds an environment. Entries of flags containing '=' are
// treated as key/value pairs.
func NewCfgEnv(features FeatureSet, flags []string) CfgEnv {
	env := CfgEnv{
		Features: features,
		Flags:    make(map[string]bool),
		Values:   make(map[string]bool),
	}
	for _, f := range flags {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		if k, v, ok := strings.Cut(f, "="); ok {
			env.Values[strings.TrimSpace(k)+"="+strings.Trim(strings.TrimSpace(v), `"`)] = true
			continue
		}
		env.Flags[f] = true
	}
	return env
}

// CfgExpr is a parsed cfg predicate.
type CfgExpr struct {
	Op    string // "all", "any", "not", "name", "kv"
	Key   string
	Value string
	Args  []*CfgExpr
}

// Eval evaluates the predicate.
func (e *CfgExpr) Eval(env CfgEnv) bool {
	switch e.Op {
	case "all":
		for _, a := range e.Args {
			if !a.Eval(env) {
				return false
			}
		}
		return true
	case "any":
		for _, a := range e.Args {
			if a.Eval(env) {
				return true
			}
		}
		return false
	case "not":
		return !e.Args[0].Eval(env)
	case "kv":
		if e.Key == "feature" {
			return env.Features.Has(e.Value)
		}
		return env.Values[e.Key+"="+e.Value]
	default:
		return env.Flags[e.Key]
	}
}

// GatingFeatures returns the features the predicate positively requires,
// sorted. Features that only appear under not() are not gates.
func (e *CfgExpr) GatingFeatures() []string {
	seen := make(map[string]bool)
	e.collectFeatures(false, seen)
	out := make([]string, 0, len(seen))
	for f := range seen {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

func (e *CfgExpr) collectFeatures(negated bool, seen map[string]bool) {
	switch e.Op {
	case "kv":
		if e.Key == "feature" && !negated {
			seen[e.Value] = true
		}
	case "not":
		e.Args[0].collectFeatures(!negated, seen)
	default:
		for _, a := range e.Args {
			a.collectFeatures(negated, seen)
		}
	}
}

// ParseCfg parses the inside of a cfg attribute, e.g.
// `all(feature = "std", not(test))`.
func ParseCfg(src string) (*CfgExpr, error) {
	p := &cfgParser{src: src}
	expr, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos != len(p.src) {
		return nil, fmt.Errorf("cfg %q: unexpected trailing input at %d", src, p.pos)
	}
	return expr, nil
}

type cfgParser struct {
	src string
	pos int
}

func (p *cfgParser) skipSpace() {
	for p.pos < len(p.src) && unicode.IsSpace(rune(p.src[p.pos])) {
		p.pos++
	}
}

func (p *cfgParser) ident() string {
	p.skipSpace()
	start := p.pos
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		if c == '_' || c == ':' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') {
			p.pos++
			continue
		}
		break
	}
	return p.src[start:p.pos]
}

func (p *cfgParser) peek() byte {
	p.skipSpace()
	if p.pos >= len(p.src) {
		return 0
	}
	return p.src[p.pos]
}

func (p *cfgParser) str() (string, error) {
	if p.peek() != '"' {
		return "", fmt.Errorf("cfg %q: expected string at %d", p.src, p.pos)
	}
	p.pos++
	start := p.pos
	for p.pos < len(p.src) && p.src[p.pos] != '"' {
		p.pos++
	}
	if p.pos >= len(p.src) {
		return "", fmt.Errorf("cfg %q: unterminated string", p.src)
	}
	val := p.src[start:p.pos]
	p.pos++
	return val, nil
}

func (p *cfgParser) parseExpr() (*CfgExpr, error) {
	name := p.ident()
	if name == "" {
		return nil, fmt.Errorf("cfg %q: expected identifier at %d", p.src, p.pos)
	}
	switch p.peek() {
	case '=':
		p.pos++
		val, err := p.str()
		if err != nil {
			return nil, err
		}
		return &CfgExpr{Op: "kv", Key: name, Value: val}, nil
	case '(':
		p.pos++
		args, err := p.parseArgs()
		if err != nil {
			return nil, err
		}
		switch name {
		case "all", "any":
			return &CfgExpr{Op: name, Args: args}, nil
		case "not":
			if len(args) != 1 {
				return nil, fmt.Errorf("cfg %q: not() takes exactly one predicate", p.src)
			}
			return &CfgExpr{Op: "not", Args: args}, nil
		default:
			return nil, fmt.Errorf("cfg %q: unknown predicate %s()", p.src, name)
		}
	default:
		return &CfgExpr{Op: "name", Key: name}, nil
	}
}

func (p *cfgParser) parseArgs() ([]*CfgExpr, error) {
	var args []*CfgExpr
	for {
		if p.peek() == ')' {
			p.pos++
			return args, nil
		}
		arg, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
		switch p.peek() {
		case ',':
			p.pos++
		case ')':
		default:
			return nil, fmt.Errorf("cfg %q: expected ',' or ')' at %d", p.src, p.pos)
		}
	}
}

// splitTopLevel splits s on commas that are not nested in parentheses,
// brackets or string literals.
func splitTopLevel(s string) []string {
	var parts []string
	depth := 0
	inStr := false
	start := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"' && (i == 0 || s[i-1] != '\\'):
			inStr = !inStr
		case inStr:
		case c == '(' || c == '[' || c == '<' || c == '{':
			depth++
		case c == ')' || c == ']' || c == '>' || c == '}':
			depth--
		case c == ',' && depth == 0:
			parts = append(parts, strings.TrimSpace(s[start:i]))
			start = i + 1
		}
	}
	if tail := strings.TrimSpace(s[start:]); tail != "" {
		parts = append(parts, tail)
	}
	return parts
}
