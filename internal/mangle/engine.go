// Package mangle wraps the Google Mangle engine for rule tables that classify
// facts produced in Go code.
package mangle

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/mangle/analysis"
	"github.com/google/mangle/ast"
	_ "github.com/google/mangle/builtin"
	mengine "github.com/google/mangle/engine"
	"github.com/google/mangle/factstore"
	"github.com/google/mangle/parse"
)

// Fact is a predicate applied to Go values. Strings starting with "/" are
// Mangle name constants; other strings are string constants.
type Fact struct {
	Predicate string
	Args      []interface{}
}

// String renders the fact in Mangle syntax.
func (f Fact) String() string {
	parts := make([]string, len(f.Args))
	for i, a := range f.Args {
		switch v := a.(type) {
		case string:
			if strings.HasPrefix(v, "/") {
				parts[i] = v
			} else {
				parts[i] = fmt.Sprintf("%q", v)
			}
		default:
			parts[i] = fmt.Sprintf("%v", v)
		}
	}
	return fmt.Sprintf("%s(%s).", f.Predicate, strings.Join(parts, ", "))
}

// Engine holds a compiled program and a fact store. Load the program first,
// then add facts and call Evaluate.
type Engine struct {
	mu             sync.RWMutex
	fragments      []parse.SourceUnit
	programInfo    *analysis.ProgramInfo
	predicateIndex map[string]ast.PredicateSym
	store          factstore.FactStoreWithRemove
	factCount      int
}

// NewEngine creates an empty engine.
func NewEngine() *Engine {
	return &Engine{
		predicateIndex: make(map[string]ast.PredicateSym),
		store:          factstore.NewSimpleInMemoryStore(),
	}
}

// LoadSchemaString parses src and adds it to the program. Declarations and
// rules from all loaded fragments are analyzed together.
func (e *Engine) LoadSchemaString(src string) error {
	unit, err := parse.Unit(bytes.NewReader([]byte(src)))
	if err != nil {
		return fmt.Errorf("failed to parse rules: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.fragments = append(e.fragments, unit)
	if err := e.rebuildProgramLocked(); err != nil {
		e.fragments = e.fragments[:len(e.fragments)-1]
		return fmt.Errorf("failed to analyze rules: %w", err)
	}
	return nil
}

func (e *Engine) rebuildProgramLocked() error {
	var clauses []ast.Clause
	var decls []ast.Decl
	for _, fragment := range e.fragments {
		clauses = append(clauses, fragment.Clauses...)
		decls = append(decls, fragment.Decls...)
	}

	programInfo, err := analysis.AnalyzeOneUnit(parse.SourceUnit{Clauses: clauses, Decls: decls}, nil)
	if err != nil {
		return err
	}
	e.programInfo = programInfo
	e.predicateIndex = make(map[string]ast.PredicateSym, len(programInfo.Decls))
	for sym := range programInfo.Decls {
		e.predicateIndex[sym.Symbol] = sym
	}
	return nil
}

// AddFact inserts one fact. The predicate must be declared.
func (e *Engine) AddFact(predicate string, args ...interface{}) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	sym, ok := e.predicateIndex[predicate]
	if !ok {
		return fmt.Errorf("predicate %s is not declared", predicate)
	}
	if len(args) != sym.Arity {
		return fmt.Errorf("predicate %s expects %d args, got %d", predicate, sym.Arity, len(args))
	}

	terms := make([]ast.BaseTerm, len(args))
	for i, a := range args {
		c, err := toConstant(a)
		if err != nil {
			return fmt.Errorf("predicate %s arg %d: %w", predicate, i, err)
		}
		terms[i] = c
	}
	if e.store.Add(ast.Atom{Predicate: sym, Args: terms}) {
		e.factCount++
	}
	return nil
}

// AddFacts inserts facts in order and stops at the first error.
func (e *Engine) AddFacts(facts []Fact) error {
	for _, f := range facts {
		if err := e.AddFact(f.Predicate, f.Args...); err != nil {
			return err
		}
	}
	return nil
}

func toConstant(v interface{}) (ast.Constant, error) {
	switch x := v.(type) {
	case string:
		if strings.HasPrefix(x, "/") {
			return ast.Name(x)
		}
		return ast.String(x), nil
	case int:
		return ast.Number(int64(x)), nil
	case int64:
		return ast.Number(x), nil
	case bool:
		if x {
			return ast.Name("/true")
		}
		return ast.Name("/false")
	default:
		return ast.Constant{}, fmt.Errorf("unsupported value %T", v)
	}
}

// Evaluate runs the program to a fixpoint over the current facts.
func (e *Engine) Evaluate() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.programInfo == nil {
		return fmt.Errorf("no rules loaded")
	}
	if _, err := mengine.EvalProgramWithStats(e.programInfo, e.store); err != nil {
		return fmt.Errorf("evaluation failed: %w", err)
	}
	return nil
}

// GetFacts returns every fact of predicate, sorted by rendering.
func (e *Engine) GetFacts(predicate string) ([]Fact, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	sym, ok := e.predicateIndex[predicate]
	if !ok {
		return nil, fmt.Errorf("predicate %s is not declared", predicate)
	}

	var out []Fact
	err := e.store.GetFacts(ast.NewQuery(sym), func(atom ast.Atom) error {
		args := make([]interface{}, len(atom.Args))
		for i, arg := range atom.Args {
			args[i] = termValue(arg)
		}
		out = append(out, Fact{Predicate: predicate, Args: args})
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, err
}

// FactCount returns the number of facts added with AddFact.
func (e *Engine) FactCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.factCount
}

// Predicates returns the declared predicate names, sorted.
func (e *Engine) Predicates() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0, len(e.predicateIndex))
	for name := range e.predicateIndex {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func termValue(term ast.BaseTerm) interface{} {
	c, ok := term.(ast.Constant)
	if !ok {
		return fmt.Sprintf("%v", term)
	}
	switch c.Type {
	case ast.StringType, ast.NameType:
		return c.Symbol
	case ast.NumberType:
		return c.NumValue
	default:
		return c.String()
	}
}
