// Package locate answers "what AST node is the cursor on": both C8's
// static features (rename, definition fallback) and C12's evaluator
// need to turn an LSP cursor position into a concrete nixlang.Expr
// before they can do anything else with it.
package locate

import (
	"github.com/yvan-sraka/nixd/internal/ast"
	"github.com/yvan-sraka/nixd/internal/nixlang"
)

// NodeAt returns the innermost node whose source position is at or
// before offset, preferring the deepest (most specific) such node.
// nixlang nodes carry only a start position, not a full span, so this
// is a best-effort "nearest enclosing construct" search rather than an
// exact span containment test — adequate for an editor cursor, which
// is always on some token, not floating in whitespace between two
// unrelated expressions.
//
// ExprSelect is a special case: its Pos() is defined to equal its
// Base's Pos() (parser.go sets ExprSelect.Pos() to base.Pos()), and
// traversal visits a Select before descending into its Base, so a
// naive start-offset tie-break always lets the later-visited Base
// overwrite the Select at the same offset — an offset anywhere on a
// dotted path (`foo.bar.baz`) would otherwise always resolve to the
// innermost base node and never to the Select itself. Once the cursor
// has moved past the base (offset at or after the first PathPos entry)
// a Select's effective offset is pinned to the latest path segment at
// or before offset, so it outranks its Base on the tie and survives
// being overwritten by the recursion into it.
func NodeAt(root nixlang.Expr, positions *nixlang.Positions, offset int) nixlang.Expr {
	var best nixlang.Expr
	var bestOffset = -1

	v := &finder{positions: positions, targetOffset: offset}
	v.Self = v
	v.visit = func(e nixlang.Expr) {
		nodeOffset := positions.Resolve(e.Pos()).Offset
		if sel, ok := e.(*nixlang.ExprSelect); ok {
			if segOffset, ok := selectPathOffset(positions, sel, offset); ok {
				nodeOffset = segOffset
			}
		}
		if nodeOffset <= offset && nodeOffset >= bestOffset {
			best = e
			bestOffset = nodeOffset
		}
	}
	ast.Traverse(v, root)
	return best
}

// selectPathOffset reports the offset of the latest attribute-path
// segment of sel that starts at or before offset, provided offset has
// moved past the start of the path (PathPos[0]) — i.e. the cursor sits
// on the dotted path itself, not on the base expression it selects
// into. ok is false when offset precedes the path entirely, in which
// case the Select must not outrank its Base.
func selectPathOffset(positions *nixlang.Positions, sel *nixlang.ExprSelect, offset int) (int, bool) {
	if len(sel.PathPos) == 0 {
		return 0, false
	}
	first := positions.Resolve(sel.PathPos[0]).Offset
	if offset < first {
		return 0, false
	}
	best := first
	for _, p := range sel.PathPos {
		segOffset := positions.Resolve(p).Offset
		if segOffset <= offset {
			best = segOffset
		}
	}
	return best, true
}

// VarAt returns the ExprVar at offset, if the node located there is a
// variable reference; ok is false otherwise (e.g. cursor on a keyword,
// a literal, or between constructs).
func VarAt(root nixlang.Expr, positions *nixlang.Positions, offset int) (*nixlang.ExprVar, bool) {
	n := NodeAt(root, positions, offset)
	v, ok := n.(*nixlang.ExprVar)
	return v, ok
}

type finder struct {
	ast.Base
	positions    *nixlang.Positions
	targetOffset int
	visit        func(nixlang.Expr)
}

func (f *finder) VisitExpr(e nixlang.Expr) bool {
	f.visit(e)
	return true
}
