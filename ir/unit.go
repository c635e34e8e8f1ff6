package ir

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Unit invariant violations reported by Validate.
var (
	ErrDuplicateFunction = errors.New("function defined more than once")
	ErrExportAttribute   = errors.New("unit must carry exactly one export attribute")
	ErrAttributeOrder    = errors.New("attribute declared after the first function")
)

// Unit is an ordered sequence of declarations.
type Unit struct {
	Decls []Declaration
}

// NewUnit builds a unit from declarations.
func NewUnit(decls ...Declaration) *Unit {
	return &Unit{Decls: decls}
}

// Clone returns a deep copy of the unit.
func (u *Unit) Clone() *Unit {
	c := &Unit{Decls: make([]Declaration, len(u.Decls))}
	for i, d := range u.Decls {
		c.Decls[i] = CloneDecl(d)
	}
	return c
}

// attribute returns the first attribute with the given name.
func (u *Unit) attribute(name string) *Attribute {
	for _, d := range u.Decls {
		if a, ok := d.(*Attribute); ok && a.Name == name {
			return a
		}
	}
	return nil
}

// Attribute returns the first attribute with the given name, or nil.
func (u *Unit) Attribute(name string) *Attribute {
	return u.attribute(name)
}

// Identity returns the value of the unit attribute.
func (u *Unit) Identity() string {
	if a := u.attribute(AttrUnit); a != nil {
		return a.Value
	}
	return ""
}

// SourceTag returns the value of the file attribute.
func (u *Unit) SourceTag() string {
	if a := u.attribute(AttrFile); a != nil {
		return a.Value
	}
	return ""
}

// Functions returns the function declarations in order.
func (u *Unit) Functions() []*Function {
	var fns []*Function
	for _, d := range u.Decls {
		if f, ok := d.(*Function); ok {
			fns = append(fns, f)
		}
	}
	return fns
}

// Lookup finds the function with the given signature.
func (u *Unit) Lookup(sig Signature) *Function {
	for _, d := range u.Decls {
		if f, ok := d.(*Function); ok && f.Signature() == sig {
			return f
		}
	}
	return nil
}

// Signatures returns the signatures of all functions in declaration order.
func (u *Unit) Signatures() []Signature {
	var sigs []Signature
	for _, f := range u.Functions() {
		sigs = append(sigs, f.Signature())
	}
	return sigs
}

// Exports returns a copy of the export list.
func (u *Unit) Exports() []Signature {
	if a := u.attribute(AttrExport); a != nil {
		return append([]Signature(nil), a.Signatures...)
	}
	return nil
}

// SetExports replaces the export list, adding an export attribute before
// the first function if the unit has none.
func (u *Unit) SetExports(sigs []Signature) {
	if a := u.attribute(AttrExport); a != nil {
		a.Signatures = append([]Signature(nil), sigs...)
		return
	}
	attr := &Attribute{Name: AttrExport, Signatures: append([]Signature(nil), sigs...)}
	i := u.FirstFunction()
	u.Decls = append(u.Decls, nil)
	copy(u.Decls[i+1:], u.Decls[i:])
	u.Decls[i] = attr
}

// FirstFunction returns the index of the first function declaration, or
// len(Decls) when the unit has none. Declarations inserted at this index
// keep every attribute ahead of every function.
func (u *Unit) FirstFunction() int {
	for i, d := range u.Decls {
		if _, ok := d.(*Function); ok {
			return i
		}
	}
	return len(u.Decls)
}

// Validate checks the unit invariants.
func (u *Unit) Validate() error {
	seen := make(map[Signature]bool)
	exports := 0
	sawFunction := false
	for _, d := range u.Decls {
		switch d := d.(type) {
		case *Function:
			sawFunction = true
			sig := d.Signature()
			if seen[sig] {
				return fmt.Errorf("%w: %s", ErrDuplicateFunction, sig)
			}
			seen[sig] = true
		case *Attribute:
			if sawFunction {
				return fmt.Errorf("%w: %s", ErrAttributeOrder, d.Name)
			}
			if d.Name == AttrExport {
				exports++
			}
		default:
			panic(fmt.Sprintf("ir: unknown declaration %T", d))
		}
	}
	if exports != 1 {
		return fmt.Errorf("%w (found %d)", ErrExportAttribute, exports)
	}
	return nil
}

// SortSignatures sorts sigs in place by name, then arity.
func SortSignatures(sigs []Signature) {
	sort.Slice(sigs, func(i, j int) bool { return sigs[i].Less(sigs[j]) })
}

// FormatSignatures renders a comma separated signature list.
func FormatSignatures(sigs []Signature) string {
	parts := make([]string, len(sigs))
	for i, s := range sigs {
		parts[i] = s.String()
	}
	return strings.Join(parts, ", ")
}

// Format renders the unit as readable text, one declaration per line.
func (u *Unit) Format() string {
	var sb strings.Builder
	for _, d := range u.Decls {
		switch d := d.(type) {
		case *Attribute:
			if d.Name == AttrExport {
				fmt.Fprintf(&sb, "@%s [%s]\n", d.Name, FormatSignatures(d.Signatures))
			} else {
				fmt.Fprintf(&sb, "@%s %q\n", d.Name, d.Value)
			}
		case *Function:
			fmt.Fprintf(&sb, "fn %s(%s) = %s", d.Name, strings.Join(d.Params, ", "), FormatExpr(d.Body))
			if eff, ok := d.Annotations["effect"]; ok {
				fmt.Fprintf(&sb, "  # %s", eff)
			}
			sb.WriteByte('\n')
		default:
			panic(fmt.Sprintf("ir: unknown declaration %T", d))
		}
	}
	return sb.String()
}
