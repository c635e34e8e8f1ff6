package patch

import (
	"github.com/chazu/repatch/ir"
)

// MergeExports computes the export list of the patched unit.
//
// The original list is kept in order, minus signatures overridden without
// a rename and minus every signature the patch declares. Renamed originals
// with exported set and public patch functions are then appended in sorted
// order. The patch's declared visibility is applied last and always wins:
// a private patch function is never exported, whatever the directive or
// the original list said.
func MergeExports(original []ir.Signature, m NameMapping, vis VisibilityMap) []ir.Signature {
	seen := make(map[ir.Signature]bool)
	var out []ir.Signature
	for _, sig := range original {
		if d, ok := m[sig]; ok && d.RenameTo == "" {
			continue
		}
		if _, ok := vis[sig]; ok {
			continue
		}
		if !seen[sig] {
			seen[sig] = true
			out = append(out, sig)
		}
	}

	var added []ir.Signature
	for sig, d := range m {
		if d.RenameTo != "" && d.Exported {
			added = append(added, ir.Signature{Name: d.RenameTo, Arity: sig.Arity})
		}
	}
	for sig, public := range vis {
		if public {
			added = append(added, sig)
		}
	}
	ir.SortSignatures(added)
	for _, sig := range added {
		if public, ok := vis[sig]; ok && !public {
			continue
		}
		if !seen[sig] {
			seen[sig] = true
			out = append(out, sig)
		}
	}
	return out
}

// Merge splices the compiled patch functions into the rewritten unit at its
// first function, so every attribute stays ahead of every function, and
// installs the export list. Its inputs are not modified.
func Merge(rewritten *ir.Unit, fns []*ir.Function, exports []ir.Signature) *ir.Unit {
	base := rewritten.Clone()
	at := base.FirstFunction()
	merged := &ir.Unit{Decls: make([]ir.Declaration, 0, len(base.Decls)+len(fns))}
	merged.Decls = append(merged.Decls, base.Decls[:at]...)
	for _, fn := range fns {
		merged.Decls = append(merged.Decls, fn.Clone())
	}
	merged.Decls = append(merged.Decls, base.Decls[at:]...)
	merged.SetExports(exports)
	return merged
}
