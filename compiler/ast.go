package compiler

// ---------------------------------------------------------------------------
// AST: syntax tree for unit and patch source
// ---------------------------------------------------------------------------

// Position represents a source location.
type Position struct {
	Offset int // byte offset
	Line   int // 1-based line number
	Column int // 1-based column number
}

// Span represents a range in source code.
type Span struct {
	Start Position
	End   Position
}

// MakeSpan creates a span from start and end positions.
func MakeSpan(start, end Position) Span {
	return Span{Start: start, End: end}
}

// Node is the interface implemented by all top-level source nodes:
// *FuncDecl, *Directive and *DocDecl.
type Node interface {
	Span() Span
	node() // marker method
}

// ---------------------------------------------------------------------------
// Top-level nodes
// ---------------------------------------------------------------------------

// FuncDecl is a function definition: def (public) or defp (private).
type FuncDecl struct {
	SpanVal Span
	Name    string
	Params  []string
	Body    Expr
	Private bool
}

func (n *FuncDecl) Span() Span { return n.SpanVal }
func (n *FuncDecl) node()      {}

// Arity returns the number of parameters.
func (n *FuncDecl) Arity() int { return len(n.Params) }

// Directive is an annotation marker such as @override or
// @override(original: [renameTo: g]). Directives are metadata for the
// declaration that follows them and are never compiled.
type Directive struct {
	SpanVal Span
	Name    string
	Options []*Option
}

func (n *Directive) Span() Span { return n.SpanVal }
func (n *Directive) node()      {}

// DocDecl attaches documentation to the next function.
type DocDecl struct {
	SpanVal Span
	Text    string
}

func (n *DocDecl) Span() Span { return n.SpanVal }
func (n *DocDecl) node()      {}

// UnitDecl is the optional "unit name" header of a source file.
type UnitDecl struct {
	SpanVal Span
	Name    string
}

// File is a parsed source file.
type File struct {
	Unit  *UnitDecl // nil when the source has no header
	Nodes []Node
}

// ---------------------------------------------------------------------------
// Directive options
// ---------------------------------------------------------------------------

// Option is one key: value pair in a directive option list.
type Option struct {
	SpanVal Span
	Key     string
	Value   OptionValue
}

// OptionValue is the value side of an Option: *Ident, *BoolLit, *IntLit,
// *StringLit or *OptionList.
type OptionValue interface {
	Node
	optionValue() // marker method
}

// OptionList is a bracketed, nested option list.
type OptionList struct {
	SpanVal Span
	Options []*Option
}

func (n *OptionList) Span() Span   { return n.SpanVal }
func (n *OptionList) node()        {}
func (n *OptionList) optionValue() {}
func (n *Ident) optionValue()      {}
func (n *BoolLit) optionValue()    {}
func (n *IntLit) optionValue()     {}
func (n *StringLit) optionValue()  {}

// ---------------------------------------------------------------------------
// Expression nodes
// ---------------------------------------------------------------------------

// Expr is the interface for expression nodes.
type Expr interface {
	Node
	expr() // marker method
}

// IntLit represents an integer literal.
type IntLit struct {
	SpanVal Span
	Value   int64
}

func (n *IntLit) Span() Span { return n.SpanVal }
func (n *IntLit) node()      {}
func (n *IntLit) expr()      {}

// StringLit represents a string literal.
type StringLit struct {
	SpanVal Span
	Value   string
}

func (n *StringLit) Span() Span { return n.SpanVal }
func (n *StringLit) node()      {}
func (n *StringLit) expr()      {}

// BoolLit represents true or false.
type BoolLit struct {
	SpanVal Span
	Value   bool
}

func (n *BoolLit) Span() Span { return n.SpanVal }
func (n *BoolLit) node()      {}
func (n *BoolLit) expr()      {}

// Ident represents a variable reference.
type Ident struct {
	SpanVal Span
	Name    string
}

func (n *Ident) Span() Span { return n.SpanVal }
func (n *Ident) node()      {}
func (n *Ident) expr()      {}

// CallExpr represents name(args) or unit.name(args).
type CallExpr struct {
	SpanVal Span
	Unit    string // empty for local calls
	Name    string
	Args    []Expr
}

func (n *CallExpr) Span() Span { return n.SpanVal }
func (n *CallExpr) node()      {}
func (n *CallExpr) expr()      {}

// BinaryExpr represents left op right.
type BinaryExpr struct {
	SpanVal Span
	Op      string
	Left    Expr
	Right   Expr
}

func (n *BinaryExpr) Span() Span { return n.SpanVal }
func (n *BinaryExpr) node()      {}
func (n *BinaryExpr) expr()      {}

// IfExpr represents if cond then a else b.
type IfExpr struct {
	SpanVal Span
	Cond    Expr
	Then    Expr
	Else    Expr
}

func (n *IfExpr) Span() Span { return n.SpanVal }
func (n *IfExpr) node()      {}
func (n *IfExpr) expr()      {}

// RaiseExpr represents raise(message).
type RaiseExpr struct {
	SpanVal Span
	Message Expr
}

func (n *RaiseExpr) Span() Span { return n.SpanVal }
func (n *RaiseExpr) node()      {}
func (n *RaiseExpr) expr()      {}
