package parser

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sansecio/sigscan/ast"
)

func mustParse(t *testing.T, input string) *ast.SignatureSet {
	t.Helper()
	p := New()
	set, err := p.Parse([]byte(input))
	if err != nil {
		t.Fatalf("failed to parse: %v", err)
	}
	return set
}

func TestParseMinimal(t *testing.T) {
	set := mustParse(t, `
patterns:
  - name: test
    pattern: "48 8B ?? C3"
`)
	if len(set.Signatures) != 1 {
		t.Fatalf("expected 1 signature, got %d", len(set.Signatures))
	}
	s := set.Signatures[0]
	if s.Name != "test" || s.Pattern != "48 8B ?? C3" {
		t.Errorf("unexpected signature %+v", s)
	}
	if s.Category != ast.CategoryData {
		t.Errorf("expected default category Data, got %v", s.Category)
	}
	if s.Expr != nil || s.Ops != nil || s.Count != nil || s.Index != nil {
		t.Errorf("expected no transformation or disambiguation, got %+v", s)
	}
}

func TestParseInfixOps(t *testing.T) {
	set := mustParse(t, `
patterns:
  - name: GetPlayer
    category: Function
    desc: returns the local player
    pattern: "48 8B 05 ?? ?? ?? ?? C3"
    ops: "[$ + 3].r + 4"
`)
	s := set.Signatures[0]
	if s.Category != ast.CategoryFunction {
		t.Errorf("expected Function, got %v", s.Category)
	}
	if s.Description != "returns the local player" {
		t.Errorf("unexpected description %q", s.Description)
	}
	if s.Expr == nil || s.Expr.Text != "[$ + 3].r + 4" || s.Expr.Postfix {
		t.Errorf("unexpected expr %+v", s.Expr)
	}
}

func TestParsePostfix(t *testing.T) {
	set := mustParse(t, `
patterns:
  - name: p
    pattern: "E8 ?? ?? ?? ??"
    postfix: "$ 1 + [sd] $ + 5 +"
`)
	e := set.Signatures[0].Expr
	if e == nil || !e.Postfix || e.Text != "$ 1 + [sd] $ + 5 +" {
		t.Errorf("unexpected expr %+v", e)
	}
}

func TestParseOpList(t *testing.T) {
	set := mustParse(t, `
patterns:
  - name: ops
    pattern: "E8 ?? ?? ?? ??"
    ops:
      - op: add
        value: 1
      - op: rel
        size: 4
      - op: abs
      - op: sub
        value: 0x10
      - op: expr
        expr: "$ & FFF"
`)
	ops := set.Signatures[0].Ops
	want := []ast.PointerOp{
		{Kind: ast.OpAdd, Value: 1},
		{Kind: ast.OpRel, Size: 4},
		{Kind: ast.OpAbs},
		{Kind: ast.OpSub, Value: 0x10},
		{Kind: ast.OpExpr, Expr: &ast.Expr{Text: "$ & FFF"}},
	}
	if len(ops) != len(want) {
		t.Fatalf("expected %d ops, got %d", len(want), len(ops))
	}
	for i := range want {
		if ops[i].String() != want[i].String() {
			t.Errorf("op %d = %v, want %v", i, ops[i], want[i])
		}
	}
}

func TestParseCountIndex(t *testing.T) {
	set := mustParse(t, `
patterns:
  - name: second
    pattern: "90 90"
    count: 3
    index: 1
`)
	s := set.Signatures[0]
	if s.Count == nil || *s.Count != 3 {
		t.Errorf("count = %v, want 3", s.Count)
	}
	if s.Index == nil || *s.Index != 1 {
		t.Errorf("index = %v, want 1", s.Index)
	}
}

func TestParseWarnings(t *testing.T) {
	tests := []struct {
		name  string
		entry string
		warn  string
	}{
		{"missing name", `pattern: "90"`, "missing name"},
		{"missing pattern", `name: x`, "missing pattern"},
		{"bad category", "name: x\n    pattern: \"90\"\n    category: Vtable", "unknown category"},
		{"zero count", "name: x\n    pattern: \"90\"\n    count: 0", "count must be at least 1"},
		{"negative index", "name: x\n    pattern: \"90\"\n    index: -1", "index must not be negative"},
		{"both forms", "name: x\n    pattern: \"90\"\n    ops: \"$\"\n    postfix: \"$\"", "mutually exclusive"},
		{"unknown op", "name: x\n    pattern: \"90\"\n    ops:\n      - op: mul", "unknown operation"},
		{"bad size", "name: x\n    pattern: \"90\"\n    ops:\n      - op: abs\n        size: 3", "invalid size 3"},
		{"empty expr op", "name: x\n    pattern: \"90\"\n    ops:\n      - op: expr", "without expression"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New()
			input := "patterns:\n  - " + tt.entry + "\n  - name: ok\n    pattern: \"C3\"\n"
			set, err := p.Parse([]byte(input))
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			if len(set.Signatures) != 1 || set.Signatures[0].Name != "ok" {
				t.Errorf("expected only the valid entry to survive, got %d", len(set.Signatures))
			}
			w := p.Warnings()
			if len(w) != 1 || !strings.Contains(w[0], tt.warn) {
				t.Errorf("warnings = %q, want one containing %q", w, tt.warn)
			}
		})
	}
}

func TestParseWarningsReset(t *testing.T) {
	p := New()
	if _, err := p.Parse([]byte("patterns:\n  - name: x\n")); err != nil {
		t.Fatal(err)
	}
	if len(p.Warnings()) != 1 {
		t.Fatalf("expected 1 warning, got %q", p.Warnings())
	}
	if _, err := p.Parse([]byte("patterns: []\n")); err != nil {
		t.Fatal(err)
	}
	if len(p.Warnings()) != 0 {
		t.Errorf("warnings not reset: %q", p.Warnings())
	}
}

func TestParseErrors(t *testing.T) {
	inputs := []string{
		"patterns: [",
		"patterns:\n  - name: x\n    unknown: 1\n",
		"patterns:\n  - name: x\n    pattern: \"90\"\n    ops: {a: 1}\n",
		"patterns: 5",
	}
	for _, in := range inputs {
		if _, err := New().Parse([]byte(in)); err == nil {
			t.Errorf("expected error for %q", in)
		}
	}
}

func TestParseEmpty(t *testing.T) {
	set := mustParse(t, "")
	if len(set.Signatures) != 0 {
		t.Errorf("expected no signatures, got %d", len(set.Signatures))
	}
}

func TestParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sigs.yaml")
	if err := os.WriteFile(path, []byte("patterns:\n  - name: f\n    pattern: \"CC\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	set, err := New().ParseFile(path)
	if err != nil {
		t.Fatalf("ParseFile() error = %v", err)
	}
	if len(set.Signatures) != 1 || set.Signatures[0].Name != "f" {
		t.Errorf("unexpected result %+v", set.Signatures)
	}

	if _, err := New().ParseFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestSchema(t *testing.T) {
	bts, err := Schema()
	if err != nil {
		t.Fatalf("Schema() error = %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(bts, &doc); err != nil {
		t.Fatalf("schema is not JSON: %v", err)
	}
	s := string(bts)
	for _, want := range []string{`"patterns"`, `"pattern"`, `"postfix"`, `"oneOf"`, `"rel"`} {
		if !strings.Contains(s, want) {
			t.Errorf("schema is missing %s", want)
		}
	}
}
