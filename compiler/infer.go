package compiler

import (
	"github.com/chazu/repatch/ir"
)

// Effect annotation values.
const (
	EffectPure   = "pure"
	EffectRaises = "raises"

	effectKey = "effect"
)

// inferEffects annotates every function with whether it may raise. A
// function raises if its body contains a raise, a remote call, or a local
// call to a function that raises. Iterates to a fixed point so mutual
// recursion settles.
func inferEffects(u *ir.Unit) {
	fns := u.Functions()
	raises := make(map[ir.Signature]bool, len(fns))

	for changed := true; changed; {
		changed = false
		for _, fn := range fns {
			sig := fn.Signature()
			if raises[sig] {
				continue
			}
			if bodyRaises(fn.Body, raises) {
				raises[sig] = true
				changed = true
			}
		}
	}

	for _, fn := range fns {
		if fn.Annotations == nil {
			fn.Annotations = make(map[string]string, 1)
		}
		if raises[fn.Signature()] {
			fn.Annotations[effectKey] = EffectRaises
		} else {
			fn.Annotations[effectKey] = EffectPure
		}
	}
}

func bodyRaises(body ir.Expr, raises map[ir.Signature]bool) bool {
	found := false
	ir.Inspect(body, func(e ir.Expr) bool {
		if found {
			return false
		}
		switch e := e.(type) {
		case *ir.Raise, *ir.RemoteCall:
			found = true
		case *ir.Call:
			found = raises[e.Signature()]
		}
		return !found
	})
	return found
}
