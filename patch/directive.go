package patch

import (
	"github.com/chazu/repatch/compiler"
	"github.com/chazu/repatch/ir"
)

// Directive is a validated @override directive. The zero value overrides
// the original and discards it.
type Directive struct {
	// RenameTo keeps the original implementation under this name.
	RenameTo string
	// Exported exports the renamed original. Ignored without RenameTo.
	Exported bool
}

// NameMapping maps each overridden signature to its directive.
type NameMapping map[ir.Signature]Directive

// Signatures returns the mapping keys sorted.
func (m NameMapping) Signatures() []ir.Signature {
	sigs := make([]ir.Signature, 0, len(m))
	for sig := range m {
		sigs = append(sigs, sig)
	}
	ir.SortSignatures(sigs)
	return sigs
}

const overrideDirective = "override"

// Directive option keys. The accepted shape is
//
//	@override(original: [renameTo: name, exported: bool])
const (
	optOriginal = "original"
	optRenameTo = "renameTo"
	optExported = "exported"
)

// ParseDirectives binds every @override directive to the function that
// immediately follows it. Other nodes between a directive and its function
// (such as @doc) pass through without clearing the pending directive.
// It returns the mapping and the nodes with every directive removed.
func ParseDirectives(nodes []compiler.Node) (NameMapping, []compiler.Node, error) {
	mapping := make(NameMapping)
	stripped := make([]compiler.Node, 0, len(nodes))

	var pending *Directive
	pendingLine := 0

	for _, n := range nodes {
		switch n := n.(type) {
		case *compiler.Directive:
			line := n.SpanVal.Start.Line
			if pending != nil {
				return nil, nil, &InvalidDirectiveError{Reason: UnresolvedOverride, Line: pendingLine}
			}
			if n.Name != overrideDirective {
				return nil, nil, &InvalidDirectiveError{Reason: InvalidOptions, Keys: []string{"@" + n.Name}, Line: line}
			}
			d, err := parseOptions(n.Options, line)
			if err != nil {
				return nil, nil, err
			}
			pending = &d
			pendingLine = line

		case *compiler.FuncDecl:
			if pending != nil {
				sig := ir.Signature{Name: n.Name, Arity: n.Arity()}
				if _, dup := mapping[sig]; dup {
					return nil, nil, &InvalidDirectiveError{
						Reason:     DuplicateOverride,
						Signatures: []ir.Signature{sig},
						Line:       pendingLine,
					}
				}
				if pending.RenameTo == n.Name {
					return nil, nil, &InvalidDirectiveError{
						Reason: InvalidOptions,
						Keys:   []string{optOriginal + "." + optRenameTo},
						Line:   pendingLine,
					}
				}
				mapping[sig] = *pending
				pending = nil
			}
			stripped = append(stripped, n)

		default:
			stripped = append(stripped, n)
		}
	}

	if pending != nil {
		return nil, nil, &InvalidDirectiveError{Reason: UnresolvedOverride, Line: pendingLine}
	}
	return mapping, stripped, nil
}

// parseOptions validates a directive's options against the closed record
// {original: {renameTo: name, exported: bool}}. Every unknown, repeated or
// ill-typed key is reported.
func parseOptions(opts []*compiler.Option, line int) (Directive, error) {
	var d Directive
	var bad []string
	seen := make(map[string]bool)

	for _, o := range opts {
		if o.Key != optOriginal || seen[o.Key] {
			bad = append(bad, o.Key)
			continue
		}
		seen[o.Key] = true
		list, ok := o.Value.(*compiler.OptionList)
		if !ok {
			bad = append(bad, o.Key)
			continue
		}
		for _, inner := range list.Options {
			key := optOriginal + "." + inner.Key
			if seen[key] {
				bad = append(bad, key)
				continue
			}
			seen[key] = true
			switch inner.Key {
			case optRenameTo:
				id, ok := inner.Value.(*compiler.Ident)
				if !ok {
					bad = append(bad, key)
					continue
				}
				d.RenameTo = id.Name
			case optExported:
				b, ok := inner.Value.(*compiler.BoolLit)
				if !ok {
					bad = append(bad, key)
					continue
				}
				d.Exported = b.Value
			default:
				bad = append(bad, key)
			}
		}
	}

	if len(bad) > 0 {
		return Directive{}, &InvalidDirectiveError{Reason: InvalidOptions, Keys: bad, Line: line}
	}
	return d, nil
}
