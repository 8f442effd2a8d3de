package nixlang

import "testing"

func TestParseLetInResolvesVariable(t *testing.T) {
	root, diags, _ := Parse("let x = 1; in x", "t.ex")
	if len(diags) != 0 {
		t.Fatalf("unexpected diagnostics: %+v", diags)
	}
	let, ok := root.(*ExprLet)
	if !ok {
		t.Fatalf("root is %T, want *ExprLet", root)
	}
	if len(let.Bindings) != 1 || let.Bindings[0].Name != "x" {
		t.Fatalf("unexpected bindings: %+v", let.Bindings)
	}
	v, ok := let.Body.(*ExprVar)
	if !ok {
		t.Fatalf("body is %T, want *ExprVar", let.Body)
	}
	if v.FromWith {
		t.Errorf("x should resolve lexically, not via with")
	}
	if v.Level != 1 || v.Displ != 0 {
		t.Errorf("got level=%d displ=%d, want level=1 displ=0", v.Level, v.Displ)
	}
}

func TestParseLetForwardReference(t *testing.T) {
	root, diags, _ := Parse("let a = b; b = 1; in a", "t.ex")
	if len(diags) != 0 {
		t.Fatalf("unexpected diagnostics: %+v", diags)
	}
	let := root.(*ExprLet)
	aVal := let.Bindings[0].Value.(*ExprVar)
	if aVal.Name != "b" || aVal.FromWith {
		t.Fatalf("a's value should resolve to b lexically, got %+v", aVal)
	}
	if aVal.Displ != 1 {
		t.Errorf("b is the second binding, want displ=1, got %d", aVal.Displ)
	}
}

func TestParseWithMarksFromWith(t *testing.T) {
	root, _, _ := Parse("with { a = 1; }; a", "t.ex")
	with := root.(*ExprWith)
	v, ok := with.Body.(*ExprVar)
	if !ok {
		t.Fatalf("body is %T, want *ExprVar", with.Body)
	}
	if !v.FromWith {
		t.Errorf("a should be marked FromWith since it's not lexically bound")
	}
}

func TestParseRecAttrsSelfReference(t *testing.T) {
	root, diags, _ := Parse("rec { a = 1; b = a; }", "t.ex")
	if len(diags) != 0 {
		t.Fatalf("unexpected diagnostics: %+v", diags)
	}
	attrs := root.(*ExprAttrs)
	if !attrs.Recursive {
		t.Fatalf("expected recursive attrs")
	}
	bVal := attrs.Bindings[1].Value.(*ExprVar)
	if bVal.FromWith {
		t.Errorf("b = a should resolve a lexically within rec {}")
	}
}

func TestParseNonRecAttrsDoesNotSelfReference(t *testing.T) {
	root, _, _ := Parse("{ a = 1; b = a; }", "t.ex")
	attrs := root.(*ExprAttrs)
	if attrs.Recursive {
		t.Fatalf("expected non-recursive attrs")
	}
	bVal := attrs.Bindings[1].Value.(*ExprVar)
	if bVal.Level != -1 {
		t.Errorf("non-rec attrs should not create scope for siblings, got level=%d", bVal.Level)
	}
}

func TestParseLambdaPlainParam(t *testing.T) {
	root, diags, _ := Parse("x: x + 1", "t.ex")
	if len(diags) != 0 {
		t.Fatalf("unexpected diagnostics: %+v", diags)
	}
	lam := root.(*ExprLambda)
	if lam.Param.Name != "x" {
		t.Fatalf("got param %+v", lam.Param)
	}
	bin := lam.Body.(*ExprBinary)
	left := bin.Left.(*ExprVar)
	if left.Level != 1 || left.Displ != 0 {
		t.Errorf("got level=%d displ=%d", left.Level, left.Displ)
	}
}

func TestParseLambdaFormals(t *testing.T) {
	root, diags, _ := Parse("{ a, b ? 2, ... }@args: a + b", "t.ex")
	if len(diags) != 0 {
		t.Fatalf("unexpected diagnostics: %+v", diags)
	}
	lam := root.(*ExprLambda)
	if len(lam.Param.Formals) != 2 || !lam.Param.Ellipsis || lam.Param.Name != "args" {
		t.Fatalf("got param %+v", lam.Param)
	}
	if lam.Param.Formals[1].Default == nil {
		t.Errorf("b should have a default")
	}
}

func TestParseAttrsVsFormalsDisambiguation(t *testing.T) {
	root, diags, _ := Parse("{ a = 1; }", "t.ex")
	if len(diags) != 0 {
		t.Fatalf("unexpected diagnostics: %+v", diags)
	}
	if _, ok := root.(*ExprAttrs); !ok {
		t.Fatalf("got %T, want *ExprAttrs", root)
	}

	root2, diags2, _ := Parse("{ a }: a", "t.ex")
	if len(diags2) != 0 {
		t.Fatalf("unexpected diagnostics: %+v", diags2)
	}
	if _, ok := root2.(*ExprLambda); !ok {
		t.Fatalf("got %T, want *ExprLambda", root2)
	}
}

func TestParseSelectWithDefault(t *testing.T) {
	root, diags, _ := Parse("a.b.c or 0", "t.ex")
	if len(diags) != 0 {
		t.Fatalf("unexpected diagnostics: %+v", diags)
	}
	sel := root.(*ExprSelect)
	if len(sel.Path) != 2 || sel.Path[0] != "b" || sel.Path[1] != "c" {
		t.Fatalf("got path %+v", sel.Path)
	}
	if sel.Default == nil {
		t.Errorf("expected a default from `or 0`")
	}
}

func TestParseIfAssertApplication(t *testing.T) {
	root, diags, _ := Parse("assert true; if f x then 1 else 2", "t.ex")
	if len(diags) != 0 {
		t.Fatalf("unexpected diagnostics: %+v", diags)
	}
	a := root.(*ExprAssert)
	ifE := a.Body.(*ExprIf)
	call := ifE.Cond.(*ExprCall)
	if _, ok := call.Fn.(*ExprVar); !ok {
		t.Fatalf("got %T, want *ExprVar as function", call.Fn)
	}
}

func TestParseListLiteral(t *testing.T) {
	root, diags, _ := Parse("[ 1 2 3 ]", "t.ex")
	if len(diags) != 0 {
		t.Fatalf("unexpected diagnostics: %+v", diags)
	}
	list := root.(*ExprList)
	if len(list.Elems) != 3 {
		t.Fatalf("got %d elems, want 3", len(list.Elems))
	}
}

func TestParseRecoversFromSyntaxError(t *testing.T) {
	root, diags, _ := Parse("let x = ", "t.ex")
	if len(diags) == 0 {
		t.Fatalf("expected at least one diagnostic")
	}
	containsErrorExpr := false
	var walk func(Expr)
	walk = func(e Expr) {
		if e == nil {
			return
		}
		if _, ok := e.(*ErrorExpr); ok {
			containsErrorExpr = true
		}
		switch n := e.(type) {
		case *ExprLet:
			for _, b := range n.Bindings {
				walk(b.Value)
			}
			walk(n.Body)
		}
	}
	walk(root)
	if !containsErrorExpr {
		t.Errorf("expected an ErrorExpr node somewhere in the recovered tree")
	}
}
