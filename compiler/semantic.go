package compiler

import (
	"github.com/chazu/repatch/ir"
)

// ---------------------------------------------------------------------------
// Semantic checks over a lowered unit
// ---------------------------------------------------------------------------

// checker validates one unit. Structural problems and unresolved local
// references are errors; unresolved remote references are warnings.
type checker struct {
	diags    *diagnostics
	source   bool
	catalog  Catalog
	opts     Options
	identity string
	unit     *ir.Unit

	defined map[ir.Signature]*ir.Function
	arities map[string][]int
	exports map[ir.Signature]bool
}

func newChecker(diags *diagnostics, catalog Catalog, opts Options, identity string, u *ir.Unit) *checker {
	return &checker{
		diags:    diags,
		catalog:  catalog,
		opts:     opts,
		identity: identity,
		unit:     u,
		defined:  make(map[ir.Signature]*ir.Function),
		arities:  make(map[string][]int),
		exports:  make(map[ir.Signature]bool),
	}
}

func (c *checker) check() {
	c.checkStructure()
	c.checkRedefinition()
	for _, fn := range c.unit.Functions() {
		c.checkFunction(fn)
	}
}

// checkStructure verifies attribute placement, the unit and export
// attributes, duplicate signatures and the export list.
func (c *checker) checkStructure() {
	sawFunction := false
	exportAttrs := 0
	for _, d := range c.unit.Decls {
		switch d := d.(type) {
		case *ir.Attribute:
			if sawFunction {
				c.diags.errorf(0, "attribute @%s declared after the first function", d.Name)
			}
			switch d.Name {
			case ir.AttrExport:
				exportAttrs++
				for _, sig := range d.Signatures {
					c.exports[sig] = true
				}
			case ir.AttrUnit:
				if d.Value != c.identity {
					c.diags.errorf(0, "unit attribute %q does not match identity %q", d.Value, c.identity)
				}
			}
		case *ir.Function:
			sawFunction = true
			sig := d.Signature()
			if prev, ok := c.defined[sig]; ok {
				c.diags.errorf(d.Line, "function %s already defined (line %d)", sig, prev.Line)
				continue
			}
			c.defined[sig] = d
			c.arities[d.Name] = append(c.arities[d.Name], d.Arity())
		default:
			c.diags.errorf(0, "unknown declaration %T", d)
		}
	}
	if c.unit.Identity() == "" {
		c.diags.errorf(0, "unit has no unit attribute")
	}
	if exportAttrs != 1 {
		c.diags.errorf(0, "unit must have exactly one export attribute, found %d", exportAttrs)
	}
	for _, sig := range c.unit.Exports() {
		if _, ok := c.defined[sig]; !ok {
			c.diags.errorf(0, "exported function %s is not defined", sig)
		}
	}
}

// checkRedefinition warns when source for an already loaded unit is
// compiled. Forms compiles are how loaded units get replaced, so they are
// not checked.
func (c *checker) checkRedefinition() {
	if !c.source || c.catalog == nil || c.opts.Has(FlagAllowRedefine) {
		return
	}
	if c.catalog.Loaded(c.identity) {
		c.diags.warnf(0, "unit %s is already loaded; installing it replaces the running code", c.identity)
	}
}

func (c *checker) checkFunction(fn *ir.Function) {
	params := make(map[string]bool, len(fn.Params))
	for _, p := range fn.Params {
		if params[p] {
			c.diags.errorf(fn.Line, "%s: duplicate parameter %s", fn.Signature(), p)
		}
		params[p] = true
	}
	if fn.Body == nil {
		c.diags.errorf(fn.Line, "%s: missing body", fn.Signature())
		return
	}
	ir.Inspect(fn.Body, func(e ir.Expr) bool {
		switch e := e.(type) {
		case *ir.Var:
			if !params[e.Name] {
				c.diags.errorf(fn.Line, "%s: undefined variable %s", fn.Signature(), e.Name)
			}
		case *ir.Call:
			c.checkLocalCall(fn, e)
		case *ir.RemoteCall:
			c.checkRemoteCall(fn, e)
		case *ir.BinOp:
			if !validOps[e.Op] {
				c.diags.errorf(fn.Line, "%s: unknown operator %q", fn.Signature(), e.Op)
			}
		}
		return true
	})
}

var validOps = map[string]bool{
	"+": true, "-": true, "*": true, "/": true, "%": true,
	"==": true, "!=": true, "<": true, "<=": true, ">": true, ">=": true,
}

func (c *checker) checkLocalCall(fn *ir.Function, call *ir.Call) {
	sig := call.Signature()
	if _, ok := c.defined[sig]; ok {
		return
	}
	if arities := c.arities[call.Name]; len(arities) > 0 {
		c.diags.errorf(fn.Line, "%s: call to %s with wrong arity (defined with %v)", fn.Signature(), sig, arities)
		return
	}
	c.diags.errorf(fn.Line, "%s: undefined function %s", fn.Signature(), sig)
}

func (c *checker) checkRemoteCall(fn *ir.Function, call *ir.RemoteCall) {
	if c.opts.Has(FlagNoWarnUndefined) {
		return
	}
	sig := call.Signature()
	if call.Unit == c.identity {
		if !c.exports[sig] {
			c.diags.warnf(fn.Line, "%s: %s.%s is not exported", fn.Signature(), call.Unit, sig)
		}
		return
	}
	if c.catalog == nil || !c.catalog.Loaded(call.Unit) {
		c.diags.warnf(fn.Line, "%s: call to unknown unit %s", fn.Signature(), call.Unit)
		return
	}
	exports, _ := c.catalog.Exports(call.Unit)
	for _, e := range exports {
		if e == sig {
			return
		}
	}
	c.diags.warnf(fn.Line, "%s: %s.%s is not exported", fn.Signature(), call.Unit, sig)
}
