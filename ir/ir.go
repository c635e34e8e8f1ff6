// Package ir defines the declaration-level intermediate representation
// shared by the compiler, the object-code container, the process image and
// the patch engine.
//
// A Unit is an ordered sequence of Declarations. Declarations and
// expressions are closed variant types: every implementation lives in this
// package, so a type switch over them is exhaustive by construction.
package ir

import (
	"fmt"
	"strconv"
	"strings"
)

// ReflectionName is the name of the reflection function the compiler
// generates in every unit.
const ReflectionName = "__info__"

// Reflection is the signature of the generated reflection function.
var Reflection = Signature{Name: ReflectionName, Arity: 1}

// Well-known attribute names.
const (
	AttrUnit   = "unit"
	AttrFile   = "file"
	AttrExport = "export"
	AttrDoc    = "doc"
)

// ---------------------------------------------------------------------------
// Signature
// ---------------------------------------------------------------------------

// Signature identifies a callable by name and arity.
type Signature struct {
	Name  string
	Arity int
}

func (s Signature) String() string {
	return s.Name + "/" + strconv.Itoa(s.Arity)
}

// Less orders signatures by name, then arity.
func (s Signature) Less(o Signature) bool {
	if s.Name != o.Name {
		return s.Name < o.Name
	}
	return s.Arity < o.Arity
}

// ParseSignature parses the "name/arity" form produced by String.
func ParseSignature(s string) (Signature, error) {
	i := strings.LastIndexByte(s, '/')
	if i <= 0 || i == len(s)-1 {
		return Signature{}, fmt.Errorf("invalid signature %q: want name/arity", s)
	}
	arity, err := strconv.Atoi(s[i+1:])
	if err != nil || arity < 0 {
		return Signature{}, fmt.Errorf("invalid signature %q: bad arity", s)
	}
	return Signature{Name: s[:i], Arity: arity}, nil
}

// ---------------------------------------------------------------------------
// Declarations
// ---------------------------------------------------------------------------

// Declaration is one top-level element of a Unit: a *Function or an
// *Attribute.
type Declaration interface {
	decl() // marker method
}

// Function is the single clause-set of a callable signature.
type Function struct {
	Name        string
	Params      []string
	Body        Expr
	Annotations map[string]string // e.g. "doc", "effect"
	Line        int
}

func (*Function) decl() {}

// Arity returns the number of parameters.
func (f *Function) Arity() int { return len(f.Params) }

// Signature returns the (name, arity) pair of the function.
func (f *Function) Signature() Signature {
	return Signature{Name: f.Name, Arity: len(f.Params)}
}

// Clone returns a deep copy of the function.
func (f *Function) Clone() *Function {
	c := &Function{
		Name:   f.Name,
		Params: append([]string(nil), f.Params...),
		Body:   CloneExpr(f.Body),
		Line:   f.Line,
	}
	if f.Annotations != nil {
		c.Annotations = make(map[string]string, len(f.Annotations))
		for k, v := range f.Annotations {
			c.Annotations[k] = v
		}
	}
	return c
}

// Attribute is unit-level metadata. Scalar attributes use Value; the export
// list uses Signatures.
type Attribute struct {
	Name       string
	Value      string
	Signatures []Signature
}

func (*Attribute) decl() {}

// Clone returns a copy of the attribute.
func (a *Attribute) Clone() *Attribute {
	return &Attribute{
		Name:       a.Name,
		Value:      a.Value,
		Signatures: append([]Signature(nil), a.Signatures...),
	}
}

// CloneDecl deep-copies a declaration.
func CloneDecl(d Declaration) Declaration {
	switch d := d.(type) {
	case *Function:
		return d.Clone()
	case *Attribute:
		return d.Clone()
	default:
		panic(fmt.Sprintf("ir: unknown declaration %T", d))
	}
}
