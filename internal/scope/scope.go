// Package scope answers scope and definition questions about an already
// parsed nixlang.Expr tree: given a node, what is its parent; given a
// variable reference, where was it bound; given a position, what names
// are visible. It mirrors the static Level/Displ fields the parser
// already stamped onto every nixlang.ExprVar, re-deriving the same
// answer from a parent map rather than needing the parser's own scope
// stack — so the same questions can be asked later, from a cached AST,
// by handlers that never touched the parser.
package scope

import (
	"github.com/yvan-sraka/nixd/internal/ast"
	"github.com/yvan-sraka/nixd/internal/nixlang"
)

// ParentMap maps every reachable node except the root to its direct
// syntactic parent. Built once per AST by GetParentMap and cached
// alongside it.
type ParentMap map[nixlang.Expr]nixlang.Expr

type parentCollector struct {
	ast.Base
	parents ParentMap
	stack   []nixlang.Expr
}

func (c *parentCollector) VisitExpr(e nixlang.Expr) bool {
	if len(c.stack) > 0 {
		c.parents[e] = c.stack[len(c.stack)-1]
	}
	return true
}

// GetParentMap builds the ParentMap for root by a single pre-order
// traversal, pushing each node before descending into its children and
// popping it on the way back out so every node records the node on top
// of the stack when it is visited: its immediate syntactic parent.
func GetParentMap(root nixlang.Expr) ParentMap {
	pm := make(ParentMap)
	c := &parentCollector{parents: pm}
	c.Self = c
	pushPop(c, root)
	return pm
}

// pushPop wraps Traverse so VisitExpr sees the correct "current parent"
// for every node: the collector's own Visit fires per-node (pre-order,
// since Base defaults to pre-order and parentCollector never overrides
// ShouldTraversePostOrder), but we need stack push/pop framing around
// each node's subtree, which a plain Visit callback cannot express by
// itself. We achieve this by overriding traversal at the call site: wrap
// every recursive Traverse call with a push before and pop after.
func pushPop(c *parentCollector, e nixlang.Expr) bool {
	if e == nil {
		return true
	}
	if !c.VisitExpr(e) {
		return false
	}
	c.stack = append(c.stack, e)
	ok := traverseChildren(c, e)
	c.stack = c.stack[:len(c.stack)-1]
	return ok
}

// traverseChildren visits e's direct children (not e itself, already
// handled by pushPop) using the same child enumeration ast.Traverse
// uses, so the two stay in lockstep with the spec's child-order
// contract.
func traverseChildren(c *parentCollector, e nixlang.Expr) bool {
	switch n := e.(type) {
	case *nixlang.ExprAttrs:
		for _, bind := range n.Bindings {
			if !pushPop(c, bind.Value) {
				return false
			}
		}
	case *nixlang.ExprLet:
		for _, bind := range n.Bindings {
			if !pushPop(c, bind.Value) {
				return false
			}
		}
		if !pushPop(c, n.Body) {
			return false
		}
	case *nixlang.ExprWith:
		if !pushPop(c, n.Env) {
			return false
		}
		if !pushPop(c, n.Body) {
			return false
		}
	case *nixlang.ExprLambda:
		for _, f := range n.Param.Formals {
			if f.Default != nil {
				if !pushPop(c, f.Default) {
					return false
				}
			}
		}
		if !pushPop(c, n.Body) {
			return false
		}
	case *nixlang.ExprCall:
		if !pushPop(c, n.Fn) {
			return false
		}
		if !pushPop(c, n.Arg) {
			return false
		}
	case *nixlang.ExprSelect:
		if !pushPop(c, n.Base) {
			return false
		}
		if n.Default != nil {
			if !pushPop(c, n.Default) {
				return false
			}
		}
	case *nixlang.ExprList:
		for _, el := range n.Elems {
			if !pushPop(c, el) {
				return false
			}
		}
	case *nixlang.ExprIf:
		if !pushPop(c, n.Cond) {
			return false
		}
		if !pushPop(c, n.Then) {
			return false
		}
		if !pushPop(c, n.Else) {
			return false
		}
	case *nixlang.ExprAssert:
		if !pushPop(c, n.Cond) {
			return false
		}
		if !pushPop(c, n.Body) {
			return false
		}
	case *nixlang.ExprUnary:
		if !pushPop(c, n.Operand) {
			return false
		}
	case *nixlang.ExprBinary:
		if !pushPop(c, n.Left) {
			return false
		}
		if !pushPop(c, n.Right) {
			return false
		}
	case *nixlang.ExprInt, *nixlang.ExprFloat, *nixlang.ExprString,
		*nixlang.ExprPath, *nixlang.ExprVar, *nixlang.ErrorExpr:
		// leaves: no children
	default:
		panic("scope: unhandled Expr variant in traverseChildren")
	}
	return true
}

// bindingNames returns the locally bound names a scope-introducing node
// contributes, in source order (nil for a with, which binds no names
// statically, and for a non-recursive attribute set).
func bindingNames(n nixlang.Expr) []nixlang.Symbol {
	switch e := n.(type) {
	case *nixlang.ExprAttrs:
		if !e.Recursive {
			return nil
		}
		names := make([]nixlang.Symbol, len(e.Bindings))
		for i, b := range e.Bindings {
			names[i] = b.Name
		}
		return names
	case *nixlang.ExprLet:
		names := make([]nixlang.Symbol, len(e.Bindings))
		for i, b := range e.Bindings {
			names[i] = b.Name
		}
		return names
	case *nixlang.ExprLambda:
		if e.Param.Formals != nil {
			names := make([]nixlang.Symbol, 0, len(e.Param.Formals)+1)
			for _, f := range e.Param.Formals {
				names = append(names, f.Name)
			}
			if e.Param.Name != "" {
				names = append(names, e.Param.Name)
			}
			return names
		}
		return []nixlang.Symbol{e.Param.Name}
	}
	return nil
}

// bindingPos returns the PosIdx of the name bound at displ within n, or
// (0, false) if n does not introduce that many bindings.
func bindingPos(n nixlang.Expr, displ int) (nixlang.PosIdx, bool) {
	switch e := n.(type) {
	case *nixlang.ExprAttrs:
		if !e.Recursive || displ < 0 || displ >= len(e.Bindings) {
			return 0, false
		}
		return e.Bindings[displ].Pos, true
	case *nixlang.ExprLet:
		if displ < 0 || displ >= len(e.Bindings) {
			return 0, false
		}
		return e.Bindings[displ].Pos, true
	case *nixlang.ExprLambda:
		if e.Param.Formals != nil {
			if displ < 0 {
				return 0, false
			}
			if displ < len(e.Param.Formals) {
				return e.Param.Formals[displ].Pos, true
			}
			if displ == len(e.Param.Formals) && e.Param.Name != "" {
				return e.Param.Pos, true
			}
			return 0, false
		}
		if displ == 0 {
			return e.Param.Pos, true
		}
		return 0, false
	}
	return 0, false
}

// IsEnvCreated reports whether parent introduces a lexical scope
// containing child, per the policy table: a recursive attribute set
// creates env for its binding values only; a non-recursive one never
// does; `let` creates env for every binding value and the body; `with
// e; body` creates env only for body (not e); a lambda creates env only
// for its body. Every other parent kind never creates env.
func IsEnvCreated(parent, child nixlang.Expr) bool {
	switch p := parent.(type) {
	case *nixlang.ExprAttrs:
		if !p.Recursive {
			return false
		}
		for _, b := range p.Bindings {
			if b.Value == child {
				return true
			}
		}
		return false
	case *nixlang.ExprLet:
		for _, b := range p.Bindings {
			if b.Value == child {
				return true
			}
		}
		return p.Body == child
	case *nixlang.ExprWith:
		return p.Body == child
	case *nixlang.ExprLambda:
		return p.Body == child
	}
	return false
}

// SearchEnvExpr walks up from v through parents, counting
// scope-introducing ancestors, and returns the ancestor whose
// accumulated level matches v.Level. Static resolution only applies
// when v.FromWith is false; with-bound variables are resolved
// dynamically at evaluation time and are reported unresolved here.
func SearchEnvExpr(v *nixlang.ExprVar, parents ParentMap) (nixlang.Expr, bool) {
	if v.FromWith {
		return nil, false
	}
	level := 0
	var cur nixlang.Expr = v
	for {
		parent, ok := parents[cur]
		if !ok {
			return nil, false
		}
		if IsEnvCreated(parent, cur) {
			level++
			if level == v.Level {
				return parent, true
			}
		}
		cur = parent
	}
}

// SearchDefinition resolves v all the way to the PosIdx of the name it
// binds to, by locating its enclosing scope via SearchEnvExpr and then
// converting v.Displ to a source position via GetDisplOf. Returns
// (0, false) for with-bound (unresolved) or otherwise unresolvable
// variables — callers must not guess.
func SearchDefinition(v *nixlang.ExprVar, parents ParentMap) (nixlang.PosIdx, bool) {
	scopeNode, ok := SearchEnvExpr(v, parents)
	if !ok {
		return 0, false
	}
	return GetDisplOf(scopeNode, v.Displ)
}

// GetDisplOf returns the PosIdx of the name bound at displ within the
// scope-introducing node.
func GetDisplOf(scopeNode nixlang.Expr, displ int) (nixlang.PosIdx, bool) {
	return bindingPos(scopeNode, displ)
}

// CollectSymbols walks the ancestors of expr, appending every locally
// bound name from each scope-introducing ancestor to out, innermost
// ancestor first. Duplicates (shadowing) are allowed and preserved.
func CollectSymbols(expr nixlang.Expr, parents ParentMap, out []nixlang.Symbol) []nixlang.Symbol {
	cur := expr
	for {
		parent, ok := parents[cur]
		if !ok {
			return out
		}
		if IsEnvCreated(parent, cur) {
			out = append(out, bindingNames(parent)...)
		}
		cur = parent
	}
}
