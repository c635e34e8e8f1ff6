package compiler

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/chazu/repatch/ir"
	"github.com/chazu/repatch/objcode"
)

type fakeCatalog map[string][]ir.Signature

func (c fakeCatalog) Loaded(identity string) bool {
	_, ok := c[identity]
	return ok
}

func (c fakeCatalog) Exports(identity string) ([]ir.Signature, bool) {
	sigs, ok := c[identity]
	return sigs, ok
}

const mathSource = `unit math
@doc "adds"
def add(a, b) = a + b
defp twice(x) = x * 2
def four() = twice(2)
def fail(msg) = raise(msg)
def safe(x) = if x < 0 then fail("negative") else x
`

func mustSource(t *testing.T, text string) Source {
	t.Helper()
	src, err := ParseSource("math.rp", text)
	if err != nil {
		t.Fatalf("ParseSource: %v", err)
	}
	return src
}

func compileErr(t *testing.T, c *Compiler, text string, opts Options) *Error {
	t.Helper()
	_, err := c.CompileSource(context.Background(), mustSource(t, text), opts)
	var ce *Error
	if !errors.As(err, &ce) {
		t.Fatalf("CompileSource(%q) error = %v, want *Error", text, err)
	}
	return ce
}

func TestCompileSource(t *testing.T) {
	c := New(nil)
	out, err := c.CompileSource(context.Background(), mustSource(t, mathSource), nil)
	if err != nil {
		t.Fatalf("CompileSource: %v", err)
	}
	u := out.Unit

	if u.Identity() != "math" || u.SourceTag() != "math.rp" {
		t.Errorf("identity/tag = %q/%q", u.Identity(), u.SourceTag())
	}
	wantExports := []ir.Signature{
		{Name: "__info__", Arity: 1},
		{Name: "add", Arity: 2},
		{Name: "fail", Arity: 1},
		{Name: "four", Arity: 0},
		{Name: "safe", Arity: 1},
	}
	if diff := cmp.Diff(wantExports, u.Exports()); diff != "" {
		t.Errorf("exports mismatch (-want +got):\n%s", diff)
	}
	if err := u.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
	if u.Lookup(ir.Reflection) == nil {
		t.Error("reflection function not generated")
	}

	effects := map[string]string{
		"add":   EffectPure,
		"twice": EffectPure,
		"four":  EffectPure,
		"fail":  EffectRaises,
		"safe":  EffectRaises,
	}
	for name, want := range effects {
		var fn *ir.Function
		for _, f := range u.Functions() {
			if f.Name == name {
				fn = f
			}
		}
		if fn == nil {
			t.Errorf("%s missing", name)
			continue
		}
		if got := fn.Annotations["effect"]; got != want {
			t.Errorf("%s effect = %q, want %q", name, got, want)
		}
		if fn.Line != 0 || fn.Annotations[ir.AttrDoc] != "" {
			t.Errorf("%s kept debug info without debug_info", name)
		}
	}

	obj, err := objcode.Decode(out.Object)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if obj.HasChunk(objcode.ChunkIR) {
		t.Error("IR chunk written without embed_ir")
	}
}

func TestCompileSourceDebugInfo(t *testing.T) {
	out, err := New(nil).CompileSource(context.Background(), mustSource(t, mathSource), Options{FlagDebugInfo, FlagNoInfer})
	if err != nil {
		t.Fatalf("CompileSource: %v", err)
	}
	add := out.Unit.Lookup(ir.Signature{Name: "add", Arity: 2})
	if add.Line != 3 {
		t.Errorf("add line = %d, want 3", add.Line)
	}
	if diff := cmp.Diff(map[string]string{"doc": "adds"}, add.Annotations); diff != "" {
		t.Errorf("annotations mismatch (-want +got):\n%s", diff)
	}
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"undefined function", "def f() = g()", "undefined function g/0"},
		{"wrong arity", "def g(x) = x\ndef f() = g()", "call to g/0 with wrong arity"},
		{"undefined variable", "def f(a) = b", "undefined variable b"},
		{"duplicate", "def f() = 1\ndefp f() = 2", "function f/0 already defined"},
		{"duplicate parameter", "def f(a, a) = a", "duplicate parameter a"},
		{"directive", "@override\ndef f() = 1", "directive @override is only allowed in patch source"},
		{"unknown directive", "@deprecated\ndef f() = 1", "directive @deprecated is only allowed in patch source"},
	}

	c := New(nil)
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ce := compileErr(t, c, tc.input, nil)
			if !strings.Contains(ce.Error(), tc.want) {
				t.Errorf("error = %v, want it to mention %q", ce, tc.want)
			}
			if ce.Identity != "math" {
				t.Errorf("Identity = %q, want math", ce.Identity)
			}
		})
	}
}

func TestCompileRemoteCalls(t *testing.T) {
	catalog := fakeCatalog{"other": {{Name: "one", Arity: 0}}}
	c := New(catalog)
	ctx := context.Background()

	src := mustSource(t, "def f() = other.one() + other.two() + ghost.x()")
	out, err := c.CompileSource(ctx, src, nil)
	if err != nil {
		t.Fatalf("CompileSource: %v", err)
	}
	if len(out.Warnings) != 2 {
		t.Fatalf("got warnings %v, want 2", out.Warnings)
	}
	if !strings.Contains(out.Warnings[0].Message, "other.two/0 is not exported") {
		t.Errorf("warning[0] = %s", out.Warnings[0])
	}
	if !strings.Contains(out.Warnings[1].Message, "unknown unit ghost") {
		t.Errorf("warning[1] = %s", out.Warnings[1])
	}

	out, err = c.CompileSource(ctx, src, Options{FlagNoWarnUndefined})
	if err != nil {
		t.Fatalf("CompileSource nowarn: %v", err)
	}
	if len(out.Warnings) != 0 {
		t.Errorf("nowarn_undefined kept warnings: %v", out.Warnings)
	}

	ce := compileErr(t, c, "def f() = ghost.x()", Options{FlagWarningsAsErrors})
	if len(ce.Diagnostics) != 1 || ce.Diagnostics[0].Severity != SeverityError {
		t.Errorf("warnings_as_errors diagnostics = %v", ce.Diagnostics)
	}

	// Calls into the unit's own exports resolve without the catalog.
	if _, err := c.CompileSource(ctx, mustSource(t, "def g() = 1\ndef f() = math.g()"), Options{FlagWarningsAsErrors}); err != nil {
		t.Errorf("self remote call: %v", err)
	}
}

func TestCompileRedefinition(t *testing.T) {
	c := New(fakeCatalog{"math": nil})
	ctx := context.Background()
	src := mustSource(t, "def f() = 1")

	out, err := c.CompileSource(ctx, src, nil)
	if err != nil {
		t.Fatalf("CompileSource: %v", err)
	}
	if len(out.Warnings) != 1 || !strings.Contains(out.Warnings[0].Message, "unit math is already loaded") {
		t.Errorf("warnings = %v", out.Warnings)
	}

	ce := compileErr(t, c, "def f() = 1", Options{FlagWarningsAsErrors})
	if !strings.Contains(ce.Error(), "already loaded") {
		t.Errorf("error = %v", ce)
	}

	out, err = c.CompileSource(ctx, src, Options{FlagAllowRedefine, FlagWarningsAsErrors})
	if err != nil {
		t.Fatalf("allow_redefine: %v", err)
	}
	if len(out.Warnings) != 0 {
		t.Errorf("allow_redefine kept warnings: %v", out.Warnings)
	}

	// Forms compiles replace loaded units and are not checked.
	if _, err := c.CompileForms(ctx, "math", out.Unit, Options{FlagWarningsAsErrors}); err != nil {
		t.Errorf("CompileForms of a loaded unit: %v", err)
	}
}

func TestCompileFormsRoundTrip(t *testing.T) {
	c := New(nil)
	ctx := context.Background()
	opts := Options{FlagEmbedIR, FlagDebugInfo}

	first, err := c.CompileSource(ctx, mustSource(t, mathSource), opts)
	if err != nil {
		t.Fatalf("CompileSource: %v", err)
	}
	obj, err := objcode.Decode(first.Object)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	u, err := obj.Unit()
	if err != nil {
		t.Fatalf("Unit: %v", err)
	}
	flags, err := obj.Options()
	if err != nil {
		t.Fatalf("Options: %v", err)
	}

	second, err := c.CompileForms(ctx, "math", u, OptionsFromStrings(flags).ForForms())
	if err != nil {
		t.Fatalf("CompileForms: %v", err)
	}
	if !bytes.Equal(first.Object, second.Object) {
		t.Error("recompiling the decoded IR changed the object bytes")
	}
	if diff := cmp.Diff(first.Unit, second.Unit); diff != "" {
		t.Errorf("unit mismatch (-first +second):\n%s", diff)
	}
}

func TestCompileFormsChecks(t *testing.T) {
	c := New(nil)
	ctx := context.Background()
	base := ir.NewUnit(
		&ir.Attribute{Name: ir.AttrUnit, Value: "m"},
		&ir.Attribute{Name: ir.AttrExport, Signatures: []ir.Signature{{Name: "f", Arity: 0}}},
		&ir.Function{Name: "f", Body: &ir.Int{Value: 1}},
	)

	out, err := c.CompileForms(ctx, "m", base, nil)
	if err != nil {
		t.Fatalf("CompileForms: %v", err)
	}
	if out.Unit.Lookup(ir.Reflection) == nil {
		t.Error("reflection not added")
	}
	if got := out.Unit.Exports(); len(got) != 2 || got[1] != ir.Reflection {
		t.Errorf("exports = %v, want reflection appended", got)
	}
	if base.Lookup(ir.Reflection) != nil {
		t.Error("CompileForms modified its input")
	}

	if _, err := c.CompileForms(ctx, "m", base, Options{FlagFromSource}); err == nil {
		t.Error("from_source accepted for forms")
	}
	if _, err := c.CompileForms(ctx, "other", base, nil); err == nil {
		t.Error("identity mismatch accepted")
	}

	bad := base.Clone()
	bad.Decls[1].(*ir.Attribute).Signatures = append(bad.Decls[1].(*ir.Attribute).Signatures, ir.Signature{Name: "g", Arity: 1})
	_, err = c.CompileForms(ctx, "m", bad, nil)
	if err == nil || !strings.Contains(err.Error(), "exported function g/1 is not defined") {
		t.Errorf("undefined export error = %v", err)
	}

	late := base.Clone()
	late.Decls = append(late.Decls, &ir.Attribute{Name: ir.AttrDoc, Value: "late"})
	_, err = c.CompileForms(ctx, "m", late, nil)
	if err == nil || !strings.Contains(err.Error(), "declared after the first function") {
		t.Errorf("attribute order error = %v", err)
	}
}

func TestBuildContext(t *testing.T) {
	dir := t.TempDir()
	b := NewBuild(dir)
	c := New(nil)
	src := mustSource(t, mathSource)

	ctx := WithBuild(context.Background(), b)
	if _, err := c.CompileSource(ctx, src, Options{FlagListing}); err != nil {
		t.Fatalf("CompileSource: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "math.rpo")); err != nil {
		t.Errorf("artifact not written: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "math.rpl")); err != nil {
		t.Errorf("listing not written: %v", err)
	}

	detached := Detached(ctx)
	if BuildFrom(detached) != nil {
		t.Fatal("Detached context still carries the build")
	}
	src.Identity = "scratch"
	if _, err := c.CompileSource(detached, src, nil); err != nil {
		t.Fatalf("detached CompileSource: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "scratch.rpo")); !os.IsNotExist(err) {
		t.Errorf("detached compile wrote an artifact (stat err %v)", err)
	}
	if diff := cmp.Diff([]string{"math"}, b.Units()); diff != "" {
		t.Errorf("build units mismatch (-want +got):\n%s", diff)
	}
}

func TestCompileCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := New(nil).CompileSource(ctx, mustSource(t, mathSource), nil); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestParseFlags(t *testing.T) {
	opts, err := ParseFlags("embed_ir, debug_info,embed_ir")
	if err != nil {
		t.Fatalf("ParseFlags: %v", err)
	}
	if diff := cmp.Diff(Options{FlagEmbedIR, FlagDebugInfo}, opts); diff != "" {
		t.Errorf("flags mismatch (-want +got):\n%s", diff)
	}
	if _, err := ParseFlags("embed_ir,turbo"); err == nil {
		t.Error("unknown flag accepted")
	}
	got := Options{FlagFromSource, FlagEmbedIR, FlagListing}.ForForms()
	if diff := cmp.Diff(Options{FlagEmbedIR}, got); diff != "" {
		t.Errorf("ForForms mismatch (-want +got):\n%s", diff)
	}
}
