package patch

import (
	"github.com/chazu/repatch/ir"
)

// Rewrite applies the mapping to a copy of the original unit. Each
// overridden function is either renamed (body, parameters and annotations
// kept) or dropped. Every mapping key must match a function of the unit;
// the rest are reported together as NoBaseImplementation.
func Rewrite(original *ir.Unit, m NameMapping) (*ir.Unit, error) {
	consumed := make(map[ir.Signature]bool, len(m))
	out := &ir.Unit{Decls: make([]ir.Declaration, 0, len(original.Decls))}

	for _, d := range original.Decls {
		switch d := d.(type) {
		case *ir.Function:
			dir, ok := m[d.Signature()]
			if !ok {
				out.Decls = append(out.Decls, d.Clone())
				continue
			}
			consumed[d.Signature()] = true
			if dir.RenameTo == "" {
				continue
			}
			renamed := d.Clone()
			renamed.Name = dir.RenameTo
			out.Decls = append(out.Decls, renamed)
		case *ir.Attribute:
			out.Decls = append(out.Decls, d.Clone())
		default:
			return nil, &InternalError{Err: unknownDeclaration(d)}
		}
	}

	var missing []ir.Signature
	for _, sig := range m.Signatures() {
		if !consumed[sig] {
			missing = append(missing, sig)
		}
	}
	if len(missing) > 0 {
		return nil, &InvalidDirectiveError{Reason: NoBaseImplementation, Signatures: missing}
	}
	return out, nil
}
