package ir

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func sampleUnit() *Unit {
	return NewUnit(
		&Attribute{Name: AttrUnit, Value: "math"},
		&Attribute{Name: AttrFile, Value: "math.rp"},
		&Attribute{Name: AttrExport, Signatures: []Signature{{"add", 2}}},
		&Function{Name: "add", Params: []string{"a", "b"}, Body: &BinOp{Op: "+", Left: &Var{"a"}, Right: &Var{"b"}}},
		&Function{Name: "twice", Params: []string{"x"}, Body: &Call{Name: "add", Args: []Expr{&Var{"x"}, &Var{"x"}}}},
	)
}

func TestParseSignature(t *testing.T) {
	tests := []struct {
		in      string
		want    Signature
		wantErr bool
	}{
		{"f/2", Signature{"f", 2}, false},
		{"__info__/1", Signature{"__info__", 1}, false},
		{"a/b/0", Signature{"a/b", 0}, false},
		{"f", Signature{}, true},
		{"/2", Signature{}, true},
		{"f/", Signature{}, true},
		{"f/-1", Signature{}, true},
	}
	for _, tc := range tests {
		got, err := ParseSignature(tc.in)
		if (err != nil) != tc.wantErr {
			t.Errorf("ParseSignature(%q) error = %v, wantErr %v", tc.in, err, tc.wantErr)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseSignature(%q) = %v, want %v", tc.in, got, tc.want)
		}
		if err == nil && got.String() != tc.in {
			t.Errorf("String() = %q, want %q", got.String(), tc.in)
		}
	}
}

func TestUnitAccessors(t *testing.T) {
	u := sampleUnit()
	if u.Identity() != "math" {
		t.Errorf("Identity = %q", u.Identity())
	}
	if u.SourceTag() != "math.rp" {
		t.Errorf("SourceTag = %q", u.SourceTag())
	}
	if got := u.FirstFunction(); got != 3 {
		t.Errorf("FirstFunction = %d, want 3", got)
	}
	want := []Signature{{"add", 2}, {"twice", 1}}
	if diff := cmp.Diff(want, u.Signatures()); diff != "" {
		t.Errorf("Signatures mismatch (-want +got):\n%s", diff)
	}
	if u.Lookup(Signature{"twice", 1}) == nil {
		t.Error("Lookup(twice/1) = nil")
	}
	if u.Lookup(Signature{"twice", 2}) != nil {
		t.Error("Lookup(twice/2) should be nil")
	}
	if err := u.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestUnitCloneIsDeep(t *testing.T) {
	u := sampleUnit()
	c := u.Clone()
	c.Lookup(Signature{"add", 2}).Name = "plus"
	c.SetExports(nil)
	if u.Lookup(Signature{"add", 2}) == nil {
		t.Fatal("renaming in the clone changed the original")
	}
	if len(u.Exports()) != 1 {
		t.Fatal("clearing exports in the clone changed the original")
	}
}

func TestSetExportsInsertsBeforeFunctions(t *testing.T) {
	u := NewUnit(
		&Attribute{Name: AttrUnit, Value: "m"},
		&Function{Name: "f", Body: &Int{Value: 1}},
	)
	u.SetExports([]Signature{{"f", 0}})
	if err := u.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if a, ok := u.Decls[1].(*Attribute); !ok || a.Name != AttrExport {
		t.Fatalf("Decls[1] = %#v, want export attribute", u.Decls[1])
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		unit *Unit
		want error
	}{
		{
			"duplicate",
			NewUnit(
				&Attribute{Name: AttrExport},
				&Function{Name: "f", Body: &Int{}},
				&Function{Name: "f", Body: &Int{}},
			),
			ErrDuplicateFunction,
		},
		{
			"no export",
			NewUnit(&Function{Name: "f", Body: &Int{}}),
			ErrExportAttribute,
		},
		{
			"two exports",
			NewUnit(&Attribute{Name: AttrExport}, &Attribute{Name: AttrExport}),
			ErrExportAttribute,
		},
		{
			"attribute after function",
			NewUnit(
				&Attribute{Name: AttrExport},
				&Function{Name: "f", Body: &Int{}},
				&Attribute{Name: AttrDoc, Value: "late"},
			),
			ErrAttributeOrder,
		},
	}
	for _, tc := range tests {
		err := tc.unit.Validate()
		if !errors.Is(err, tc.want) {
			t.Errorf("%s: Validate() = %v, want %v", tc.name, err, tc.want)
		}
	}
}

func TestFormatExpr(t *testing.T) {
	e := &If{
		Cond: &BinOp{Op: "<", Left: &Var{"x"}, Right: &Int{0}},
		Then: &Raise{Message: &Str{"neg"}},
		Else: &RemoteCall{Unit: "m", Name: "f", Args: []Expr{&Var{"x"}, &Bool{true}}},
	}
	want := `if (x < 0) then raise("neg") else m.f(x, true)`
	if got := FormatExpr(e); got != want {
		t.Errorf("FormatExpr = %q, want %q", got, want)
	}
}

func TestInspectVisitsCalls(t *testing.T) {
	e := &BinOp{Op: "+",
		Left:  &Call{Name: "g", Args: []Expr{&Call{Name: "h"}}},
		Right: &RemoteCall{Unit: "u", Name: "k", Args: []Expr{&Int{1}}},
	}
	var calls []string
	Inspect(e, func(n Expr) bool {
		switch n := n.(type) {
		case *Call:
			calls = append(calls, n.Signature().String())
		case *RemoteCall:
			calls = append(calls, n.Unit+"."+n.Signature().String())
		}
		return true
	})
	want := []string{"g/1", "h/0", "u.k/1"}
	if diff := cmp.Diff(want, calls); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}
}
