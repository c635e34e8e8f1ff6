package ir

import (
	"fmt"
	"strconv"
	"strings"
)

// Expr is a function body expression.
type Expr interface {
	expr() // marker method
}

// Int is an integer literal.
type Int struct{ Value int64 }

// Str is a string literal.
type Str struct{ Value string }

// Bool is a boolean literal.
type Bool struct{ Value bool }

// Var references a function parameter.
type Var struct{ Name string }

// Call is a call to a function of the same unit. Local calls may reach
// private functions.
type Call struct {
	Name string
	Args []Expr
}

// RemoteCall is a call to an exported function of another loaded unit.
type RemoteCall struct {
	Unit string
	Name string
	Args []Expr
}

// BinOp applies an arithmetic or comparison operator.
type BinOp struct {
	Op    string
	Left  Expr
	Right Expr
}

// If is a two-armed conditional.
type If struct {
	Cond Expr
	Then Expr
	Else Expr
}

// Raise aborts evaluation with a message.
type Raise struct{ Message Expr }

// Info reads unit metadata at runtime. It only appears in the body of the
// generated reflection function.
type Info struct{ Key Expr }

func (*Int) expr()        {}
func (*Str) expr()        {}
func (*Bool) expr()       {}
func (*Var) expr()        {}
func (*Call) expr()       {}
func (*RemoteCall) expr() {}
func (*BinOp) expr()      {}
func (*If) expr()         {}
func (*Raise) expr()      {}
func (*Info) expr()       {}

// Signature returns the callee signature of a local call.
func (c *Call) Signature() Signature {
	return Signature{Name: c.Name, Arity: len(c.Args)}
}

// Signature returns the callee signature of a remote call.
func (c *RemoteCall) Signature() Signature {
	return Signature{Name: c.Name, Arity: len(c.Args)}
}

// Inspect traverses e depth-first, calling fn for every node. Children are
// skipped when fn returns false.
func Inspect(e Expr, fn func(Expr) bool) {
	if e == nil || !fn(e) {
		return
	}
	switch e := e.(type) {
	case *Int, *Str, *Bool, *Var:
	case *Call:
		for _, a := range e.Args {
			Inspect(a, fn)
		}
	case *RemoteCall:
		for _, a := range e.Args {
			Inspect(a, fn)
		}
	case *BinOp:
		Inspect(e.Left, fn)
		Inspect(e.Right, fn)
	case *If:
		Inspect(e.Cond, fn)
		Inspect(e.Then, fn)
		Inspect(e.Else, fn)
	case *Raise:
		Inspect(e.Message, fn)
	case *Info:
		Inspect(e.Key, fn)
	default:
		panic(fmt.Sprintf("ir: unknown expression %T", e))
	}
}

// CloneExpr deep-copies an expression tree.
func CloneExpr(e Expr) Expr {
	switch e := e.(type) {
	case nil:
		return nil
	case *Int:
		return &Int{Value: e.Value}
	case *Str:
		return &Str{Value: e.Value}
	case *Bool:
		return &Bool{Value: e.Value}
	case *Var:
		return &Var{Name: e.Name}
	case *Call:
		return &Call{Name: e.Name, Args: cloneExprs(e.Args)}
	case *RemoteCall:
		return &RemoteCall{Unit: e.Unit, Name: e.Name, Args: cloneExprs(e.Args)}
	case *BinOp:
		return &BinOp{Op: e.Op, Left: CloneExpr(e.Left), Right: CloneExpr(e.Right)}
	case *If:
		return &If{Cond: CloneExpr(e.Cond), Then: CloneExpr(e.Then), Else: CloneExpr(e.Else)}
	case *Raise:
		return &Raise{Message: CloneExpr(e.Message)}
	case *Info:
		return &Info{Key: CloneExpr(e.Key)}
	default:
		panic(fmt.Sprintf("ir: unknown expression %T", e))
	}
}

func cloneExprs(es []Expr) []Expr {
	if es == nil {
		return nil
	}
	out := make([]Expr, len(es))
	for i, e := range es {
		out[i] = CloneExpr(e)
	}
	return out
}

// FormatExpr renders an expression in source syntax.
func FormatExpr(e Expr) string {
	var sb strings.Builder
	formatExpr(&sb, e)
	return sb.String()
}

func formatExpr(sb *strings.Builder, e Expr) {
	switch e := e.(type) {
	case nil:
		sb.WriteString("<nil>")
	case *Int:
		sb.WriteString(strconv.FormatInt(e.Value, 10))
	case *Str:
		sb.WriteString(strconv.Quote(e.Value))
	case *Bool:
		sb.WriteString(strconv.FormatBool(e.Value))
	case *Var:
		sb.WriteString(e.Name)
	case *Call:
		sb.WriteString(e.Name)
		formatArgs(sb, e.Args)
	case *RemoteCall:
		sb.WriteString(e.Unit)
		sb.WriteByte('.')
		sb.WriteString(e.Name)
		formatArgs(sb, e.Args)
	case *BinOp:
		sb.WriteByte('(')
		formatExpr(sb, e.Left)
		sb.WriteString(" " + e.Op + " ")
		formatExpr(sb, e.Right)
		sb.WriteByte(')')
	case *If:
		sb.WriteString("if ")
		formatExpr(sb, e.Cond)
		sb.WriteString(" then ")
		formatExpr(sb, e.Then)
		sb.WriteString(" else ")
		formatExpr(sb, e.Else)
	case *Raise:
		sb.WriteString("raise(")
		formatExpr(sb, e.Message)
		sb.WriteByte(')')
	case *Info:
		sb.WriteString("<info ")
		formatExpr(sb, e.Key)
		sb.WriteByte('>')
	default:
		panic(fmt.Sprintf("ir: unknown expression %T", e))
	}
}

func formatArgs(sb *strings.Builder, args []Expr) {
	sb.WriteByte('(')
	for i, a := range args {
		if i > 0 {
			sb.WriteString(", ")
		}
		formatExpr(sb, a)
	}
	sb.WriteByte(')')
}
