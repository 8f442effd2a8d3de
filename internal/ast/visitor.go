// Package ast provides a generic recursive visitor over the closed
// nixlang.Expr node-kind set. Each node kind gets a Visit*/Traverse*
// method pair: Visit* is the per-node callback (returning false aborts
// the whole traversal), Traverse* walks the node's children. Base implements both with the default
// "always recurse, forward to VisitExpr" behavior; embedders override
// just the hooks they care about and reach the rest of the tree through
// Self, a dynamic-dispatch indirection standing in for what a CRTP base
// class gets for free in a statically-dispatched language.
package ast

import (
	"fmt"

	"github.com/yvan-sraka/nixd/internal/nixlang"
)

// Visitor is the capability set a traversal can hook into. Embedding
// Base gives every method a default, so callers only override what they
// need.
type Visitor interface {
	ShouldTraversePostOrder() bool

	VisitExpr(e nixlang.Expr) bool

	VisitInt(e *nixlang.ExprInt) bool
	VisitFloat(e *nixlang.ExprFloat) bool
	VisitString(e *nixlang.ExprString) bool
	VisitPath(e *nixlang.ExprPath) bool
	VisitVar(e *nixlang.ExprVar) bool
	VisitAttrs(e *nixlang.ExprAttrs) bool
	VisitLet(e *nixlang.ExprLet) bool
	VisitWith(e *nixlang.ExprWith) bool
	VisitLambda(e *nixlang.ExprLambda) bool
	VisitCall(e *nixlang.ExprCall) bool
	VisitSelect(e *nixlang.ExprSelect) bool
	VisitList(e *nixlang.ExprList) bool
	VisitIf(e *nixlang.ExprIf) bool
	VisitAssert(e *nixlang.ExprAssert) bool
	VisitUnary(e *nixlang.ExprUnary) bool
	VisitBinary(e *nixlang.ExprBinary) bool
	VisitError(e *nixlang.ErrorExpr) bool

	TraverseInt(e *nixlang.ExprInt) bool
	TraverseFloat(e *nixlang.ExprFloat) bool
	TraverseString(e *nixlang.ExprString) bool
	TraversePath(e *nixlang.ExprPath) bool
	TraverseVar(e *nixlang.ExprVar) bool
	TraverseAttrs(e *nixlang.ExprAttrs) bool
	TraverseLet(e *nixlang.ExprLet) bool
	TraverseWith(e *nixlang.ExprWith) bool
	TraverseLambda(e *nixlang.ExprLambda) bool
	TraverseCall(e *nixlang.ExprCall) bool
	TraverseSelect(e *nixlang.ExprSelect) bool
	TraverseList(e *nixlang.ExprList) bool
	TraverseIf(e *nixlang.ExprIf) bool
	TraverseAssert(e *nixlang.ExprAssert) bool
	TraverseUnary(e *nixlang.ExprUnary) bool
	TraverseBinary(e *nixlang.ExprBinary) bool
	TraverseError(e *nixlang.ErrorExpr) bool
}

// Base is an embeddable default implementation of Visitor: every
// Visit<Kind> forwards to VisitExpr, and every Traverse<Kind> recurses
// into children honoring ShouldTraversePostOrder around a single
// Visit<Kind> call. Embed Base and override only the hooks you need —
// overriding a Traverse<Kind> replaces the recursion for that kind
// entirely, so call the embedded default explicitly if you still want
// the children visited.
//
// Self must be set to the outer (embedding) type so overridden methods
// are honored when Base's own Traverse<Kind> methods call back into the
// Visitor interface — this is the dynamic-dispatch substitute for CRTP's
// getDerived().
type Base struct {
	Self Visitor
}

func (b *Base) self() Visitor {
	if b.Self != nil {
		return b.Self
	}
	return b
}

func (b *Base) ShouldTraversePostOrder() bool { return false }

func (b *Base) VisitExpr(nixlang.Expr) bool { return true }

func (b *Base) VisitInt(e *nixlang.ExprInt) bool       { return b.self().VisitExpr(e) }
func (b *Base) VisitFloat(e *nixlang.ExprFloat) bool   { return b.self().VisitExpr(e) }
func (b *Base) VisitString(e *nixlang.ExprString) bool { return b.self().VisitExpr(e) }
func (b *Base) VisitPath(e *nixlang.ExprPath) bool     { return b.self().VisitExpr(e) }
func (b *Base) VisitVar(e *nixlang.ExprVar) bool       { return b.self().VisitExpr(e) }
func (b *Base) VisitAttrs(e *nixlang.ExprAttrs) bool   { return b.self().VisitExpr(e) }
func (b *Base) VisitLet(e *nixlang.ExprLet) bool       { return b.self().VisitExpr(e) }
func (b *Base) VisitWith(e *nixlang.ExprWith) bool     { return b.self().VisitExpr(e) }
func (b *Base) VisitLambda(e *nixlang.ExprLambda) bool { return b.self().VisitExpr(e) }
func (b *Base) VisitCall(e *nixlang.ExprCall) bool     { return b.self().VisitExpr(e) }
func (b *Base) VisitSelect(e *nixlang.ExprSelect) bool { return b.self().VisitExpr(e) }
func (b *Base) VisitList(e *nixlang.ExprList) bool     { return b.self().VisitExpr(e) }
func (b *Base) VisitIf(e *nixlang.ExprIf) bool         { return b.self().VisitExpr(e) }
func (b *Base) VisitAssert(e *nixlang.ExprAssert) bool { return b.self().VisitExpr(e) }
func (b *Base) VisitUnary(e *nixlang.ExprUnary) bool   { return b.self().VisitExpr(e) }
func (b *Base) VisitBinary(e *nixlang.ExprBinary) bool { return b.self().VisitExpr(e) }
func (b *Base) VisitError(e *nixlang.ErrorExpr) bool   { return b.self().VisitExpr(e) }

func (b *Base) TraverseInt(e *nixlang.ExprInt) bool {
	return b.self().VisitInt(e)
}

func (b *Base) TraverseFloat(e *nixlang.ExprFloat) bool {
	return b.self().VisitFloat(e)
}

func (b *Base) TraverseString(e *nixlang.ExprString) bool {
	return b.self().VisitString(e)
}

func (b *Base) TraversePath(e *nixlang.ExprPath) bool {
	return b.self().VisitPath(e)
}

func (b *Base) TraverseVar(e *nixlang.ExprVar) bool {
	return b.self().VisitVar(e)
}

func (b *Base) TraverseAttrs(e *nixlang.ExprAttrs) bool {
	post := b.self().ShouldTraversePostOrder()
	if !post {
		if !b.self().VisitAttrs(e) {
			return false
		}
	}
	for _, bind := range e.Bindings {
		if !Traverse(b.self(), bind.Value) {
			return false
		}
	}
	if post {
		return b.self().VisitAttrs(e)
	}
	return true
}

func (b *Base) TraverseLet(e *nixlang.ExprLet) bool {
	post := b.self().ShouldTraversePostOrder()
	if !post {
		if !b.self().VisitLet(e) {
			return false
		}
	}
	for _, bind := range e.Bindings {
		if !Traverse(b.self(), bind.Value) {
			return false
		}
	}
	if !Traverse(b.self(), e.Body) {
		return false
	}
	if post {
		return b.self().VisitLet(e)
	}
	return true
}

func (b *Base) TraverseWith(e *nixlang.ExprWith) bool {
	post := b.self().ShouldTraversePostOrder()
	if !post {
		if !b.self().VisitWith(e) {
			return false
		}
	}
	if !Traverse(b.self(), e.Env) {
		return false
	}
	if !Traverse(b.self(), e.Body) {
		return false
	}
	if post {
		return b.self().VisitWith(e)
	}
	return true
}

func (b *Base) TraverseLambda(e *nixlang.ExprLambda) bool {
	post := b.self().ShouldTraversePostOrder()
	if !post {
		if !b.self().VisitLambda(e) {
			return false
		}
	}
	for _, f := range e.Param.Formals {
		if f.Default != nil {
			if !Traverse(b.self(), f.Default) {
				return false
			}
		}
	}
	if !Traverse(b.self(), e.Body) {
		return false
	}
	if post {
		return b.self().VisitLambda(e)
	}
	return true
}

func (b *Base) TraverseCall(e *nixlang.ExprCall) bool {
	post := b.self().ShouldTraversePostOrder()
	if !post {
		if !b.self().VisitCall(e) {
			return false
		}
	}
	if !Traverse(b.self(), e.Fn) {
		return false
	}
	if !Traverse(b.self(), e.Arg) {
		return false
	}
	if post {
		return b.self().VisitCall(e)
	}
	return true
}

func (b *Base) TraverseSelect(e *nixlang.ExprSelect) bool {
	post := b.self().ShouldTraversePostOrder()
	if !post {
		if !b.self().VisitSelect(e) {
			return false
		}
	}
	if !Traverse(b.self(), e.Base) {
		return false
	}
	if e.Default != nil {
		if !Traverse(b.self(), e.Default) {
			return false
		}
	}
	if post {
		return b.self().VisitSelect(e)
	}
	return true
}

func (b *Base) TraverseList(e *nixlang.ExprList) bool {
	post := b.self().ShouldTraversePostOrder()
	if !post {
		if !b.self().VisitList(e) {
			return false
		}
	}
	for _, el := range e.Elems {
		if !Traverse(b.self(), el) {
			return false
		}
	}
	if post {
		return b.self().VisitList(e)
	}
	return true
}

func (b *Base) TraverseIf(e *nixlang.ExprIf) bool {
	post := b.self().ShouldTraversePostOrder()
	if !post {
		if !b.self().VisitIf(e) {
			return false
		}
	}
	if !Traverse(b.self(), e.Cond) {
		return false
	}
	if !Traverse(b.self(), e.Then) {
		return false
	}
	if !Traverse(b.self(), e.Else) {
		return false
	}
	if post {
		return b.self().VisitIf(e)
	}
	return true
}

func (b *Base) TraverseAssert(e *nixlang.ExprAssert) bool {
	post := b.self().ShouldTraversePostOrder()
	if !post {
		if !b.self().VisitAssert(e) {
			return false
		}
	}
	if !Traverse(b.self(), e.Cond) {
		return false
	}
	if !Traverse(b.self(), e.Body) {
		return false
	}
	if post {
		return b.self().VisitAssert(e)
	}
	return true
}

func (b *Base) TraverseUnary(e *nixlang.ExprUnary) bool {
	post := b.self().ShouldTraversePostOrder()
	if !post {
		if !b.self().VisitUnary(e) {
			return false
		}
	}
	if !Traverse(b.self(), e.Operand) {
		return false
	}
	if post {
		return b.self().VisitUnary(e)
	}
	return true
}

func (b *Base) TraverseBinary(e *nixlang.ExprBinary) bool {
	post := b.self().ShouldTraversePostOrder()
	if !post {
		if !b.self().VisitBinary(e) {
			return false
		}
	}
	if !Traverse(b.self(), e.Left) {
		return false
	}
	if !Traverse(b.self(), e.Right) {
		return false
	}
	if post {
		return b.self().VisitBinary(e)
	}
	return true
}

func (b *Base) TraverseError(e *nixlang.ErrorExpr) bool {
	return b.self().VisitError(e)
}

// Traverse dispatches e to the matching Traverse<Kind> method on v,
// covering every nixlang.Expr variant including ErrorExpr. traverse(nil)
// is a no-op that continues, matching the source contract.
func Traverse(v Visitor, e nixlang.Expr) bool {
	if e == nil {
		return true
	}
	switch n := e.(type) {
	case *nixlang.ExprInt:
		return v.TraverseInt(n)
	case *nixlang.ExprFloat:
		return v.TraverseFloat(n)
	case *nixlang.ExprString:
		return v.TraverseString(n)
	case *nixlang.ExprPath:
		return v.TraversePath(n)
	case *nixlang.ExprVar:
		return v.TraverseVar(n)
	case *nixlang.ExprAttrs:
		return v.TraverseAttrs(n)
	case *nixlang.ExprLet:
		return v.TraverseLet(n)
	case *nixlang.ExprWith:
		return v.TraverseWith(n)
	case *nixlang.ExprLambda:
		return v.TraverseLambda(n)
	case *nixlang.ExprCall:
		return v.TraverseCall(n)
	case *nixlang.ExprSelect:
		return v.TraverseSelect(n)
	case *nixlang.ExprList:
		return v.TraverseList(n)
	case *nixlang.ExprIf:
		return v.TraverseIf(n)
	case *nixlang.ExprAssert:
		return v.TraverseAssert(n)
	case *nixlang.ExprUnary:
		return v.TraverseUnary(n)
	case *nixlang.ExprBinary:
		return v.TraverseBinary(n)
	case *nixlang.ErrorExpr:
		return v.TraverseError(n)
	default:
		panic(fmt.Sprintf("ast: missing traverse case for %T", e))
	}
}
