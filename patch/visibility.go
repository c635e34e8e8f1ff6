package patch

import (
	"github.com/chazu/repatch/compiler"
	"github.com/chazu/repatch/ir"
)

// VisibilityMap records the declared visibility of each patch function:
// true for def, false for defp.
type VisibilityMap map[ir.Signature]bool

// ScanVisibility reads the visibility of every function in nodes.
func ScanVisibility(nodes []compiler.Node) VisibilityMap {
	vis := make(VisibilityMap)
	for _, n := range nodes {
		if fn, ok := n.(*compiler.FuncDecl); ok {
			vis[ir.Signature{Name: fn.Name, Arity: fn.Arity()}] = !fn.Private
		}
	}
	return vis
}
