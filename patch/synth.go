package patch

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/chazu/repatch/compiler"
	"github.com/chazu/repatch/ir"
)

// StubMessage is the raise message of a synthesis stub. Stubs only exist so
// the patch can name retained functions; they never reach the final unit.
const StubMessage = "unimplemented stub invoked: "

// synthesisFlags are forced on the synthetic compile.
var synthesisFlags = compiler.Options{
	compiler.FlagEmbedIR,
	compiler.FlagAllowRedefine,
	compiler.FlagNoWarnUndefined,
	compiler.FlagNoInfer,
}

// SyntheticIdentity returns a fresh identity for the synthetic unit of one
// patch of target.
func SyntheticIdentity(target string) string {
	return target + "$patch$" + uuid.NewString()
}

// stubs builds one private placeholder per signature.
func stubs(sigs []ir.Signature) []compiler.Node {
	nodes := make([]compiler.Node, 0, len(sigs))
	for _, sig := range sigs {
		params := make([]string, sig.Arity)
		for i := range params {
			params[i] = fmt.Sprintf("arg%d", i+1)
		}
		nodes = append(nodes, &compiler.FuncDecl{
			Name:    sig.Name,
			Params:  params,
			Private: true,
			Body:    &compiler.RaiseExpr{Message: &compiler.StringLit{Value: StubMessage + sig.String()}},
		})
	}
	return nodes
}

// checkReserved rejects patch declarations of the generated reflection
// function.
func checkReserved(target string, nodes []compiler.Node) error {
	for _, n := range nodes {
		fn, ok := n.(*compiler.FuncDecl)
		if !ok || fn.Name != ir.ReflectionName || fn.Arity() != ir.Reflection.Arity {
			continue
		}
		return synthesisError(StagePatch, &compiler.Error{
			Identity: target,
			Diagnostics: []compiler.Diagnostic{{
				Severity: compiler.SeverityError,
				Line:     fn.SpanVal.Start.Line,
				Message:  fmt.Sprintf("function %s is reserved", ir.Reflection),
			}},
		})
	}
	return nil
}

// retainedSignatures lists the rewritten unit's functions, leaving out the
// reflection function.
func retainedSignatures(u *ir.Unit) []ir.Signature {
	var sigs []ir.Signature
	for _, sig := range u.Signatures() {
		if sig != ir.Reflection {
			sigs = append(sigs, sig)
		}
	}
	return sigs
}

// synthesize compiles the patch declarations inside a throwaway unit that
// also holds a stub for every retained signature, and returns the compiled
// patch functions. The compile is detached from any ambient build so the
// synthetic unit leaves no artifact behind; it is never installed.
func (e *Engine) synthesize(ctx context.Context, target string, rewritten *ir.Unit, nodes []compiler.Node, base compiler.Options) ([]*ir.Function, error) {
	if err := checkReserved(target, nodes); err != nil {
		return nil, err
	}
	retained := retainedSignatures(rewritten)
	isStub := make(map[ir.Signature]bool, len(retained))
	for _, sig := range retained {
		isStub[sig] = true
	}

	src := compiler.Source{
		Identity: e.newIdentity(target),
		Nodes:    append(append([]compiler.Node(nil), nodes...), stubs(retained)...),
	}
	opts := synthesisFlags
	if base.Has(compiler.FlagDebugInfo) {
		opts = opts.With(compiler.FlagDebugInfo)
	}
	log.Debugf("synthesizing %s with %d stubs", src.Identity, len(retained))

	out, err := e.compiler.CompileSource(compiler.Detached(ctx), src, opts)
	if err != nil {
		var ce *compiler.Error
		if errors.As(err, &ce) {
			return nil, synthesisError(StagePatch, ce)
		}
		return nil, &InternalError{Err: err}
	}

	var fns []*ir.Function
	for _, fn := range out.Unit.Functions() {
		sig := fn.Signature()
		if isStub[sig] || sig == ir.Reflection {
			continue
		}
		fns = append(fns, fn)
	}
	return fns, nil
}
