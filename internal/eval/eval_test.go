package eval

import (
	"testing"

	"github.com/yvan-sraka/nixd/internal/locate"
	"github.com/yvan-sraka/nixd/internal/nixlang"
	"github.com/yvan-sraka/nixd/internal/scope"
)

func mustEval(t *testing.T, src string, steps int) Value {
	t.Helper()
	root, diags, _ := nixlang.Parse(src, "t.ex")
	if len(diags) != 0 {
		t.Fatalf("unexpected parse diagnostics for %q: %+v", src, diags)
	}
	v, err := Eval(root, nil, nil, NewBudget(steps))
	if err != nil {
		t.Fatalf("eval(%q) failed: %v", src, err)
	}
	return v
}

func TestArithmeticPrecedence(t *testing.T) {
	v := mustEval(t, "1 + 2 * 3", 1000)
	i, ok := v.(Int)
	if !ok || i.V != 7 {
		t.Errorf("got %+v, want Int 7", v)
	}
}

func TestLetForwardReference(t *testing.T) {
	v := mustEval(t, "let a = b; b = 1; in a", 1000)
	i, ok := v.(Int)
	if !ok || i.V != 1 {
		t.Errorf("got %+v, want Int 1", v)
	}
}

func TestRecAttrsSelfReference(t *testing.T) {
	v := mustEval(t, "(rec { a = b + 1; b = 2; }).a", 1000)
	i, ok := v.(Int)
	if !ok || i.V != 3 {
		t.Errorf("got %+v, want Int 3", v)
	}
}

func TestLambdaApplication(t *testing.T) {
	v := mustEval(t, "(x: x + 1) 41", 1000)
	i, ok := v.(Int)
	if !ok || i.V != 42 {
		t.Errorf("got %+v, want Int 42", v)
	}
}

func TestLambdaFormalsWithDefaultAndAlias(t *testing.T) {
	v := mustEval(t, "({a, b ? 10, ...}@args: a + b + args.a) { a = 1; }", 1000)
	i, ok := v.(Int)
	if !ok || i.V != 12 {
		t.Errorf("got %+v, want Int 12 (1 + 10 + 1)", v)
	}
}

func TestWithDynamicLookup(t *testing.T) {
	v := mustEval(t, "with { a = 10; }; a + 1", 1000)
	i, ok := v.(Int)
	if !ok || i.V != 11 {
		t.Errorf("got %+v, want Int 11", v)
	}
}

func TestListConcat(t *testing.T) {
	v := mustEval(t, "[1 2] ++ [3]", 1000)
	l, ok := v.(List)
	if !ok || len(l.Elems) != 3 {
		t.Errorf("got %+v, want a 3-element list", v)
	}
}

func TestSelectWithDefault(t *testing.T) {
	v := mustEval(t, "({}).missing or 5", 1000)
	i, ok := v.(Int)
	if !ok || i.V != 5 {
		t.Errorf("got %+v, want Int 5 from the `or` fallback", v)
	}
}

func TestIfComparison(t *testing.T) {
	v := mustEval(t, "if 1 < 2 then 10 else 20", 1000)
	i, ok := v.(Int)
	if !ok || i.V != 10 {
		t.Errorf("got %+v, want Int 10", v)
	}
}

func TestAssertFailurePropagatesError(t *testing.T) {
	root, diags, _ := nixlang.Parse("assert 1 > 2; 5", "t.ex")
	if len(diags) != 0 {
		t.Fatalf("unexpected parse diagnostics: %+v", diags)
	}
	_, err := Eval(root, nil, nil, NewBudget(1000))
	if err == nil {
		t.Fatalf("expected an assertion-failure error")
	}
}

func TestUpdateOperatorRightWins(t *testing.T) {
	v := mustEval(t, "({ a = 1; b = 2; } // { b = 3; }).b", 1000)
	i, ok := v.(Int)
	if !ok || i.V != 3 {
		t.Errorf("got %+v, want Int 3 (right side of // wins)", v)
	}
}

func TestBudgetExhaustionOnRunawayRecursion(t *testing.T) {
	root, diags, _ := nixlang.Parse("let f = x: f x; in f 1", "t.ex")
	if len(diags) != 0 {
		t.Fatalf("unexpected parse diagnostics: %+v", diags)
	}
	_, err := Eval(root, nil, nil, NewBudget(50))
	if err == nil {
		t.Fatalf("expected the iteration budget to be exceeded")
	}
}

func TestHoverOnUnappliedLambdaParameterRendersPlaceholder(t *testing.T) {
	src := "x: x"
	root, diags, positions := nixlang.Parse(src, "t.ex")
	if len(diags) != 0 {
		t.Fatalf("unexpected parse diagnostics: %+v", diags)
	}
	parents := scope.GetParentMap(root)

	lam := root.(*nixlang.ExprLambda)
	offset := positions.Resolve(lam.Body.Pos()).Offset

	result := Hover(root, positions, parents, offset, NewBudget(1000))
	if result.Err != "" {
		t.Fatalf("unexpected hover error: %s", result.Err)
	}
	if result.Rendered != "<parameter>" {
		t.Errorf("got %q, want <parameter>", result.Rendered)
	}
}

func TestDefinitionResolvesToBindingPosition(t *testing.T) {
	src := "let value = 1; in value"
	root, diags, positions := nixlang.Parse(src, "t.ex")
	if len(diags) != 0 {
		t.Fatalf("unexpected parse diagnostics: %+v", diags)
	}
	parents := scope.GetParentMap(root)

	let := root.(*nixlang.ExprLet)
	refVar, ok := locate.VarAt(root, positions, positions.Resolve(let.Body.Pos()).Offset)
	if !ok {
		t.Fatalf("expected the body to be a variable reference")
	}
	_ = refVar

	pos, ok := Definition(root, positions, parents, positions.Resolve(let.Body.Pos()).Offset)
	if !ok {
		t.Fatalf("expected a resolvable definition")
	}
	if pos.Line != positions.Resolve(let.Bindings[0].Pos).Line {
		t.Errorf("got definition at line %d, want the binding's line %d", pos.Line, positions.Resolve(let.Bindings[0].Pos).Line)
	}
}
