package image

import (
	"errors"
	"fmt"

	"github.com/chazu/repatch/ir"
)

// ErrDepth is returned when nested calls exceed the image's depth limit.
var ErrDepth = errors.New("evaluation depth limit exceeded")

// RuntimeError is raised by a running function: an explicit raise, a type
// mismatch or an arithmetic fault.
type RuntimeError struct {
	Unit     string
	Function ir.Signature
	Message  string
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("%s.%s: %s", e.Unit, e.Function, e.Message)
}

// evaluator interprets function bodies. It runs on the worker goroutine
// and reads the unit table directly.
type evaluator struct {
	im    *Image
	max   int
	depth int
}

// frame is one active call.
type frame struct {
	unit *loadedUnit
	fn   *ir.Function
	env  map[string]Value
}

func (f *frame) fail(format string, args ...interface{}) error {
	return &RuntimeError{Unit: f.unit.identity, Function: f.fn.Signature(), Message: fmt.Sprintf(format, args...)}
}

func (ev *evaluator) callExported(identity string, sig ir.Signature, args []Value) (Value, error) {
	lu, fn, err := ev.im.lookupExported(identity, sig)
	if err != nil {
		return Value{}, err
	}
	return ev.call(lu, fn, args)
}

func (ev *evaluator) call(lu *loadedUnit, fn *ir.Function, args []Value) (Value, error) {
	ev.depth++
	defer func() { ev.depth-- }()
	if ev.depth > ev.max {
		return Value{}, fmt.Errorf("%w (%d) calling %s.%s", ErrDepth, ev.max, lu.identity, fn.Signature())
	}
	env := make(map[string]Value, len(fn.Params))
	for i, p := range fn.Params {
		env[p] = args[i]
	}
	return ev.eval(&frame{unit: lu, fn: fn, env: env}, fn.Body)
}

func (ev *evaluator) evalArgs(f *frame, es []ir.Expr) ([]Value, error) {
	args := make([]Value, len(es))
	for i, e := range es {
		v, err := ev.eval(f, e)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	return args, nil
}

func (ev *evaluator) eval(f *frame, e ir.Expr) (Value, error) {
	switch e := e.(type) {
	case *ir.Int:
		return Int(e.Value), nil
	case *ir.Str:
		return String(e.Value), nil
	case *ir.Bool:
		return Bool(e.Value), nil

	case *ir.Var:
		v, ok := f.env[e.Name]
		if !ok {
			return Value{}, f.fail("unbound variable %s", e.Name)
		}
		return v, nil

	case *ir.Call:
		args, err := ev.evalArgs(f, e.Args)
		if err != nil {
			return Value{}, err
		}
		callee, ok := f.unit.funcs[e.Signature()]
		if !ok {
			return Value{}, f.fail("undefined function %s", e.Signature())
		}
		return ev.call(f.unit, callee, args)

	case *ir.RemoteCall:
		args, err := ev.evalArgs(f, e.Args)
		if err != nil {
			return Value{}, err
		}
		return ev.callExported(e.Unit, e.Signature(), args)

	case *ir.BinOp:
		l, err := ev.eval(f, e.Left)
		if err != nil {
			return Value{}, err
		}
		r, err := ev.eval(f, e.Right)
		if err != nil {
			return Value{}, err
		}
		return binop(f, e.Op, l, r)

	case *ir.If:
		c, err := ev.eval(f, e.Cond)
		if err != nil {
			return Value{}, err
		}
		if c.Kind != KindBool {
			return Value{}, f.fail("if condition is %s, not bool", c.Kind)
		}
		if c.Bool {
			return ev.eval(f, e.Then)
		}
		return ev.eval(f, e.Else)

	case *ir.Raise:
		m, err := ev.eval(f, e.Message)
		if err != nil {
			return Value{}, err
		}
		if m.Kind == KindString {
			return Value{}, f.fail("%s", m.Str)
		}
		return Value{}, f.fail("%s", m)

	case *ir.Info:
		k, err := ev.eval(f, e.Key)
		if err != nil {
			return Value{}, err
		}
		return info(f, k)

	default:
		return Value{}, f.fail("cannot evaluate %T", e)
	}
}

func info(f *frame, key Value) (Value, error) {
	if key.Kind != KindString {
		return Value{}, f.fail("info key must be a string, got %s", key.Kind)
	}
	switch key.Str {
	case ir.AttrUnit:
		return String(f.unit.identity), nil
	case ir.AttrFile:
		return String(f.unit.sourceTag), nil
	case "exports":
		return String(ir.FormatSignatures(f.unit.exports)), nil
	}
	if v, ok := f.unit.attrs[key.Str]; ok {
		return String(v), nil
	}
	return Value{}, f.fail("unknown info key %q", key.Str)
}

func binop(f *frame, op string, l, r Value) (Value, error) {
	switch op {
	case "==":
		return Bool(l.Equal(r)), nil
	case "!=":
		return Bool(!l.Equal(r)), nil
	}

	if op == "+" && l.Kind == KindString && r.Kind == KindString {
		return String(l.Str + r.Str), nil
	}
	if l.Kind == KindString && r.Kind == KindString {
		switch op {
		case "<":
			return Bool(l.Str < r.Str), nil
		case "<=":
			return Bool(l.Str <= r.Str), nil
		case ">":
			return Bool(l.Str > r.Str), nil
		case ">=":
			return Bool(l.Str >= r.Str), nil
		}
	}
	if l.Kind != KindInt || r.Kind != KindInt {
		return Value{}, f.fail("operator %s not defined on %s and %s", op, l.Kind, r.Kind)
	}

	a, b := l.Int, r.Int
	switch op {
	case "+":
		return Int(a + b), nil
	case "-":
		return Int(a - b), nil
	case "*":
		return Int(a * b), nil
	case "/":
		if b == 0 {
			return Value{}, f.fail("division by zero")
		}
		return Int(a / b), nil
	case "%":
		if b == 0 {
			return Value{}, f.fail("division by zero")
		}
		return Int(a % b), nil
	case "<":
		return Bool(a < b), nil
	case "<=":
		return Bool(a <= b), nil
	case ">":
		return Bool(a > b), nil
	case ">=":
		return Bool(a >= b), nil
	default:
		return Value{}, f.fail("unknown operator %s", op)
	}
}
