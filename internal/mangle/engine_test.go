package mangle

import (
	"testing"
)

func TestEngineLoadSchemaString(t *testing.T) {
	engine := NewEngine()
	if err := engine.LoadSchemaString(`Decl test_fact(X, Y).`); err != nil {
		t.Fatalf("LoadSchemaString() error = %v", err)
	}
	if got := engine.Predicates(); len(got) != 1 || got[0] != "test_fact" {
		t.Errorf("Predicates() = %v, want [test_fact]", got)
	}
}

func TestEngineLoadSchemaString_Invalid(t *testing.T) {
	engine := NewEngine()
	if err := engine.LoadSchemaString(`Decl broken(`); err == nil {
		t.Fatal("expected parse error")
	}
	// A failed fragment must not poison the program.
	if err := engine.LoadSchemaString(`Decl ok(X).`); err != nil {
		t.Fatalf("LoadSchemaString() after failure error = %v", err)
	}
}

func TestEngineAddFact(t *testing.T) {
	engine := NewEngine()
	if err := engine.LoadSchemaString(`Decl test_fact(X, Y).`); err != nil {
		t.Fatalf("LoadSchemaString() error = %v", err)
	}

	if err := engine.AddFact("test_fact", "hello", int64(42)); err != nil {
		t.Fatalf("AddFact() error = %v", err)
	}
	if err := engine.AddFact("test_fact", "hello"); err == nil {
		t.Error("expected arity error")
	}
	if err := engine.AddFact("missing", "x"); err == nil {
		t.Error("expected undeclared predicate error")
	}
	if err := engine.AddFact("test_fact", "x", 1.5); err == nil {
		t.Error("expected unsupported value error")
	}
	if engine.FactCount() != 1 {
		t.Errorf("FactCount() = %d, want 1", engine.FactCount())
	}
}

func TestEngineEvaluate(t *testing.T) {
	engine := NewEngine()
	rules := `
Decl edge(X, Y).
Decl kind(X, K).
Decl reach(X, Y).
Decl blocked(X).

reach(X, Y) :- edge(X, Y).
reach(X, Z) :- reach(X, Y), edge(Y, Z).
blocked(X) :- kind(X, /gate), !reach("a", X).
`
	if err := engine.LoadSchemaString(rules); err != nil {
		t.Fatalf("LoadSchemaString() error = %v", err)
	}
	err := engine.AddFacts([]Fact{
		{Predicate: "edge", Args: []interface{}{"a", "b"}},
		{Predicate: "edge", Args: []interface{}{"b", "c"}},
		{Predicate: "kind", Args: []interface{}{"c", "/gate"}},
		{Predicate: "kind", Args: []interface{}{"d", "/gate"}},
	})
	if err != nil {
		t.Fatalf("AddFacts() error = %v", err)
	}
	if err := engine.Evaluate(); err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}

	reach, err := engine.GetFacts("reach")
	if err != nil {
		t.Fatalf("GetFacts() error = %v", err)
	}
	if len(reach) != 3 {
		t.Errorf("reach facts = %v, want 3", reach)
	}

	blocked, err := engine.GetFacts("blocked")
	if err != nil {
		t.Fatalf("GetFacts() error = %v", err)
	}
	if len(blocked) != 1 || blocked[0].Args[0] != "d" {
		t.Errorf("blocked = %v, want [d]", blocked)
	}
}

func TestEngineEvaluate_NoRules(t *testing.T) {
	if err := NewEngine().Evaluate(); err == nil {
		t.Fatal("expected error without rules")
	}
}

func TestFactString(t *testing.T) {
	f := Fact{Predicate: "change", Args: []interface{}{"crate::parse", "/param_added", "added x", int64(3)}}
	want := `change("crate::parse", /param_added, "added x", 3).`
	if got := f.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
