package eval

import (
	"github.com/yvan-sraka/nixd/internal/locate"
	"github.com/yvan-sraka/nixd/internal/nixlang"
	"github.com/yvan-sraka/nixd/internal/scope"
)

// EnvAt reconstructs the Env/with-chain context in force immediately
// around target, by replaying every scope-introducing ancestor between
// root and target (in root-to-target order) the same way Eval would
// while actually running — except a lambda ancestor on this path binds
// Unknown placeholders, since no call site exists to supply real
// arguments when we're just walking the static tree toward a cursor
// rather than executing a call chain that happens to pass through it.
func EnvAt(parents scope.ParentMap, target nixlang.Expr) (*Env, *withFrame) {
	var chain []nixlang.Expr
	for cur := target; ; {
		p, ok := parents[cur]
		if !ok {
			break
		}
		chain = append(chain, p)
		cur = p
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	chain = append(chain, target)

	var env *Env
	var with *withFrame
	for i := 0; i+1 < len(chain); i++ {
		node, next := chain[i], chain[i+1]
		if !scope.IsEnvCreated(node, next) {
			continue
		}
		switch n := node.(type) {
		case *nixlang.ExprAttrs:
			env = buildBindingsFrame(n.Bindings, env, with)
		case *nixlang.ExprLet:
			env = buildBindingsFrame(n.Bindings, env, with)
		case *nixlang.ExprWith:
			env, with = pushWithFrame(n, env, with)
		case *nixlang.ExprLambda:
			env = staticLambdaFrame(n, env)
		}
	}
	return env, with
}

// HoverResult is the content evaluated hover returns: a one-line
// rendering of the value, or a diagnostic-style error message when the
// node couldn't be forced.
type HoverResult struct {
	Rendered string
	Err      string
}

// Hover evaluates (or statically shapes) the node at offset and renders
// it for display.
func Hover(root nixlang.Expr, positions *nixlang.Positions, parents scope.ParentMap, offset int, budget *Budget) HoverResult {
	node := locate.NodeAt(root, positions, offset)
	if node == nil {
		return HoverResult{Err: "no expression at this position"}
	}
	env, with := EnvAt(parents, node)
	v, err := Eval(node, env, with, budget)
	if err != nil {
		return HoverResult{Err: err.Error()}
	}
	return HoverResult{Rendered: render(v)}
}

// Definition resolves the variable at offset to the position it is
// bound at, purely via internal/scope (no evaluation needed: this is
// the evaluated-path counterpart to the static fallback, included here
// because a worker is better placed to resolve FromWith references
// once dynamic scope is actually available — though those remain
// unresolved even with a live evaluator, since the with target itself
// may vary by which branch of a conditional executed).
func Definition(root nixlang.Expr, positions *nixlang.Positions, parents scope.ParentMap, offset int) (nixlang.Position, bool) {
	v, ok := locate.VarAt(root, positions, offset)
	if !ok {
		return nixlang.Position{}, false
	}
	pos, ok := scope.SearchDefinition(v, parents)
	if !ok {
		return nixlang.Position{}, false
	}
	return positions.Resolve(pos), true
}

// CompletionResult is one candidate identifier for the controller's
// completion merge. Completion leaves Detail empty: fields are listed
// by name only.
type CompletionResult struct {
	Name   nixlang.Symbol
	Detail string
}

// Completion evaluates the attribute set the cursor is selecting into
// (e.name.<cursor>) and lists its field names. No field is forced and
// no per-field shape is rendered.
func Completion(root nixlang.Expr, positions *nixlang.Positions, parents scope.ParentMap, offset int, budget *Budget) []CompletionResult {
	node := locate.NodeAt(root, positions, offset)
	sel, ok := node.(*nixlang.ExprSelect)
	if !ok {
		return nil
	}
	env, with := EnvAt(parents, sel)
	v, err := Eval(sel.Base, env, with, budget)
	if err != nil {
		return nil
	}
	attrs, ok := v.(Attrs)
	if !ok {
		return nil
	}
	out := make([]CompletionResult, 0, len(attrs.Fields))
	for name := range attrs.Fields {
		out = append(out, CompletionResult{Name: name, Detail: ""})
	}
	return out
}
