package compiler

import (
	"github.com/chazu/repatch/ir"
)

// ---------------------------------------------------------------------------
// Lowering: AST nodes to IR declarations
// ---------------------------------------------------------------------------

// lowerer turns top-level source nodes into an ir.Unit.
type lowerer struct {
	diags *diagnostics
}

// lowerSource builds the unit for src: unit, file and export attributes
// followed by the functions in source order and the reflection function.
func (l *lowerer) lowerSource(src Source) *ir.Unit {
	u := &ir.Unit{}
	u.Decls = append(u.Decls, &ir.Attribute{Name: ir.AttrUnit, Value: src.Identity})
	if src.File != "" {
		u.Decls = append(u.Decls, &ir.Attribute{Name: ir.AttrFile, Value: src.File})
	}
	exports := &ir.Attribute{Name: ir.AttrExport}
	u.Decls = append(u.Decls, exports)

	var doc *DocDecl
	for _, n := range src.Nodes {
		switch n := n.(type) {
		case *FuncDecl:
			fn := l.lowerFunc(n)
			if doc != nil {
				fn.Annotations = map[string]string{ir.AttrDoc: doc.Text}
			}
			doc = nil
			u.Decls = append(u.Decls, fn)
			if !n.Private {
				exports.Signatures = append(exports.Signatures, fn.Signature())
			}
		case *DocDecl:
			if doc != nil {
				l.diags.warnf(doc.SpanVal.Start.Line, "@doc is not followed by a function")
			}
			doc = n
		case *Directive:
			l.diags.errorf(n.SpanVal.Start.Line, "directive @%s is only allowed in patch source", n.Name)
		default:
			l.diags.errorf(n.Span().Start.Line, "unexpected top-level node %T", n)
		}
	}
	if doc != nil {
		l.diags.warnf(doc.SpanVal.Start.Line, "@doc is not followed by a function")
	}

	if u.Lookup(ir.Reflection) == nil {
		u.Decls = append(u.Decls, reflectionFunction())
		exports.Signatures = append(exports.Signatures, ir.Reflection)
	}
	ir.SortSignatures(exports.Signatures)
	return u
}

// reflectionFunction returns the generated __info__/1 function.
func reflectionFunction() *ir.Function {
	return &ir.Function{
		Name:   ir.ReflectionName,
		Params: []string{"key"},
		Body:   &ir.Info{Key: &ir.Var{Name: "key"}},
	}
}

func (l *lowerer) lowerFunc(n *FuncDecl) *ir.Function {
	fn := &ir.Function{Name: n.Name, Body: l.lowerExpr(n.Body), Line: n.SpanVal.Start.Line}
	if len(n.Params) > 0 {
		fn.Params = append([]string(nil), n.Params...)
	}
	return fn
}

func (l *lowerer) lowerExprs(es []Expr) []ir.Expr {
	if len(es) == 0 {
		return nil
	}
	out := make([]ir.Expr, len(es))
	for i, e := range es {
		out[i] = l.lowerExpr(e)
	}
	return out
}

func (l *lowerer) lowerExpr(e Expr) ir.Expr {
	switch e := e.(type) {
	case *IntLit:
		return &ir.Int{Value: e.Value}
	case *StringLit:
		return &ir.Str{Value: e.Value}
	case *BoolLit:
		return &ir.Bool{Value: e.Value}
	case *Ident:
		return &ir.Var{Name: e.Name}
	case *CallExpr:
		if e.Unit == "" {
			return &ir.Call{Name: e.Name, Args: l.lowerExprs(e.Args)}
		}
		return &ir.RemoteCall{Unit: e.Unit, Name: e.Name, Args: l.lowerExprs(e.Args)}
	case *BinaryExpr:
		return &ir.BinOp{Op: e.Op, Left: l.lowerExpr(e.Left), Right: l.lowerExpr(e.Right)}
	case *IfExpr:
		return &ir.If{Cond: l.lowerExpr(e.Cond), Then: l.lowerExpr(e.Then), Else: l.lowerExpr(e.Else)}
	case *RaiseExpr:
		return &ir.Raise{Message: l.lowerExpr(e.Message)}
	default:
		line := 0
		if e != nil {
			line = e.Span().Start.Line
		}
		l.diags.errorf(line, "cannot lower expression %T", e)
		return &ir.Int{}
	}
}
