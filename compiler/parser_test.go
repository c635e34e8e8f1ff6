package compiler

import (
	"errors"
	"strings"
	"testing"
)

func parseExpr(t *testing.T, input string) Expr {
	t.Helper()
	p := NewParser(input)
	e := p.ParseExpression()
	if len(p.Errors()) > 0 {
		t.Fatalf("ParseExpression(%q): %v", input, p.Errors())
	}
	if e == nil {
		t.Fatalf("ParseExpression(%q): nil expression", input)
	}
	return e
}

func TestParserLiterals(t *testing.T) {
	tests := []struct {
		input string
		check func(Expr) bool
		desc  string
	}{
		{"42", func(e Expr) bool { return e.(*IntLit).Value == 42 }, "integer"},
		{"-5", func(e Expr) bool { return e.(*IntLit).Value == -5 }, "negative integer"},
		{`"hi"`, func(e Expr) bool { return e.(*StringLit).Value == "hi" }, "string"},
		{"true", func(e Expr) bool { return e.(*BoolLit).Value }, "true"},
		{"false", func(e Expr) bool { return !e.(*BoolLit).Value }, "false"},
		{"x", func(e Expr) bool { return e.(*Ident).Name == "x" }, "variable"},
	}

	for _, tc := range tests {
		e := parseExpr(t, tc.input)
		if !tc.check(e) {
			t.Errorf("%s: check failed for %q", tc.desc, tc.input)
		}
	}
}

func TestParserPrecedence(t *testing.T) {
	e := parseExpr(t, "1 + 2 * 3 == 7")
	eq, ok := e.(*BinaryExpr)
	if !ok || eq.Op != "==" {
		t.Fatalf("top = %#v, want ==", e)
	}
	add, ok := eq.Left.(*BinaryExpr)
	if !ok || add.Op != "+" {
		t.Fatalf("left = %#v, want +", eq.Left)
	}
	mul, ok := add.Right.(*BinaryExpr)
	if !ok || mul.Op != "*" {
		t.Fatalf("add.Right = %#v, want *", add.Right)
	}

	e = parseExpr(t, "10 - 3 - 2")
	sub := e.(*BinaryExpr)
	if inner, ok := sub.Left.(*BinaryExpr); !ok || inner.Op != "-" {
		t.Errorf("subtraction should be left associative, got %#v", e)
	}

	e = parseExpr(t, "(1 + 2) * 3")
	if top := e.(*BinaryExpr); top.Op != "*" {
		t.Errorf("parenthesised top = %s, want *", top.Op)
	}
}

func TestParserCallsAndIf(t *testing.T) {
	e := parseExpr(t, "if x < 0 then raise(\"neg\") else other.add(x, f(1))")
	ife, ok := e.(*IfExpr)
	if !ok {
		t.Fatalf("got %T, want *IfExpr", e)
	}
	if _, ok := ife.Then.(*RaiseExpr); !ok {
		t.Errorf("then = %T, want *RaiseExpr", ife.Then)
	}
	call, ok := ife.Else.(*CallExpr)
	if !ok {
		t.Fatalf("else = %T, want *CallExpr", ife.Else)
	}
	if call.Unit != "other" || call.Name != "add" || len(call.Args) != 2 {
		t.Errorf("remote call = %s.%s/%d", call.Unit, call.Name, len(call.Args))
	}
	local, ok := call.Args[1].(*CallExpr)
	if !ok || local.Unit != "" || local.Name != "f" {
		t.Errorf("arg = %#v, want local call f", call.Args[1])
	}

	e = parseExpr(t, "-f(x)")
	neg, ok := e.(*BinaryExpr)
	if !ok || neg.Op != "-" {
		t.Fatalf("unary minus = %#v, want 0 - f(x)", e)
	}
	if zero, ok := neg.Left.(*IntLit); !ok || zero.Value != 0 {
		t.Errorf("unary minus left = %#v", neg.Left)
	}
}

func TestParseFile(t *testing.T) {
	input := `unit math
@doc "adds two numbers"
def add(a, b) = a + b
defp twice(x) = x * 2
@override
def sign(x) = if x < 0 then -1 else 1
@override(original: [renameTo: old_calc, exported: true])
def calc() = twice(21)
`
	f, err := Parse(input)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if f.Unit == nil || f.Unit.Name != "math" {
		t.Fatalf("unit header = %#v", f.Unit)
	}
	if len(f.Nodes) != 7 {
		t.Fatalf("got %d nodes, want 7", len(f.Nodes))
	}

	if doc, ok := f.Nodes[0].(*DocDecl); !ok || doc.Text != "adds two numbers" {
		t.Errorf("node 0 = %#v, want doc", f.Nodes[0])
	}
	add := f.Nodes[1].(*FuncDecl)
	if add.Name != "add" || add.Arity() != 2 || add.Private {
		t.Errorf("add = %+v", add)
	}
	if add.SpanVal.Start.Line != 3 {
		t.Errorf("add line = %d, want 3", add.SpanVal.Start.Line)
	}
	if twice := f.Nodes[2].(*FuncDecl); !twice.Private {
		t.Error("defp should be private")
	}
	if d := f.Nodes[3].(*Directive); d.Name != "override" || len(d.Options) != 0 {
		t.Errorf("bare override = %+v", d)
	}

	d := f.Nodes[5].(*Directive)
	if len(d.Options) != 1 || d.Options[0].Key != "original" {
		t.Fatalf("override options = %+v", d.Options)
	}
	list, ok := d.Options[0].Value.(*OptionList)
	if !ok || len(list.Options) != 2 {
		t.Fatalf("original = %#v", d.Options[0].Value)
	}
	if id, ok := list.Options[0].Value.(*Ident); !ok || list.Options[0].Key != "renameTo" || id.Name != "old_calc" {
		t.Errorf("renameTo = %#v", list.Options[0])
	}
	if b, ok := list.Options[1].Value.(*BoolLit); !ok || list.Options[1].Key != "exported" || !b.Value {
		t.Errorf("exported = %#v", list.Options[1])
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"def f(a = 1", "expected , or )"},
		{"def f() 1", "expected =, got INTEGER"},
		{"@doc 42", "expected string after @doc"},
		{"@ def f() = 1", "expected directive name after @"},
		{"def f() = 1 +", "expected expression"},
		{"42", "expected def, defp or @directive"},
		{"def f() = 1\nunit late", "unit header must come first"},
		{`def f() = "open`, "unterminated string"},
	}

	for _, tc := range tests {
		_, err := Parse(tc.input)
		if err == nil {
			t.Errorf("Parse(%q): expected error", tc.input)
			continue
		}
		var ce *Error
		if !errors.As(err, &ce) {
			t.Errorf("Parse(%q): error %T is not *Error", tc.input, err)
			continue
		}
		if !strings.Contains(err.Error(), tc.want) {
			t.Errorf("Parse(%q) = %v, want it to mention %q", tc.input, err, tc.want)
		}
	}
}

func TestParseRecoversAfterError(t *testing.T) {
	f, err := Parse("def broken( = 1\ndef ok() = 2\n")
	if err == nil {
		t.Fatal("expected error")
	}
	var found bool
	for _, n := range f.Nodes {
		if fd, ok := n.(*FuncDecl); ok && fd.Name == "ok" {
			found = true
		}
	}
	if !found {
		t.Error("parser did not recover to the next def")
	}
}

func TestParseUnknownDirective(t *testing.T) {
	f, err := Parse("@deprecated(since: 2)\ndef f() = 1")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(f.Nodes) != 2 {
		t.Fatalf("got %d nodes, want 2", len(f.Nodes))
	}
	d, ok := f.Nodes[0].(*Directive)
	if !ok {
		t.Fatalf("node 0 = %T, want *Directive", f.Nodes[0])
	}
	if d.Name != "deprecated" || len(d.Options) != 1 || d.Options[0].Key != "since" {
		t.Errorf("directive = %+v", d)
	}
}
