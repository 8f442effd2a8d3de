package statics

import (
	"testing"

	"github.com/yvan-sraka/nixd/internal/nixlang"
	"github.com/yvan-sraka/nixd/internal/protocol"
	"github.com/yvan-sraka/nixd/internal/scope"
)

func mustParse(t *testing.T, src string) (nixlang.Expr, *nixlang.Positions, scope.ParentMap) {
	t.Helper()
	root, diags, positions := nixlang.Parse(src, "t.ex")
	if len(diags) != 0 {
		t.Fatalf("unexpected parse diagnostics for %q: %+v", src, diags)
	}
	return root, positions, scope.GetParentMap(root)
}

func posAtByte(src string, offset int) protocol.Position {
	line, col := 0, 0
	for i := 0; i < offset && i < len(src); i++ {
		if src[i] == '\n' {
			line++
			col = 0
		} else {
			col++
		}
	}
	return protocol.Position{Line: line, Character: col}
}

func TestDocumentSymbolsLetAndAttrs(t *testing.T) {
	src := "let a = 1; b = { c = 2; }; in a"
	root, positions, _ := mustParse(t, src)
	syms := DocumentSymbols(root, positions, src)
	if len(syms) != 2 {
		t.Fatalf("got %d top-level symbols, want 2 (a, b)", len(syms))
	}
	if syms[0].Name != "a" || syms[1].Name != "b" {
		t.Errorf("got %q, %q, want a, b", syms[0].Name, syms[1].Name)
	}
	if len(syms[1].Children) != 1 || syms[1].Children[0].Name != "c" {
		t.Errorf("got %+v, want one child symbol named c", syms[1].Children)
	}
}

func TestDocumentSymbolsLambda(t *testing.T) {
	src := "x: x + 1"
	root, positions, _ := mustParse(t, src)
	syms := DocumentSymbols(root, positions, src)
	if len(syms) != 1 || syms[0].Kind != protocol.SymbolKindFunction {
		t.Fatalf("got %+v, want a single function symbol", syms)
	}
}

func TestDocumentLinksFindsPathAndURL(t *testing.T) {
	src := `{ a = ./foo.nix; b = "https://example.com"; c = "not a link"; }`
	root, positions, _ := mustParse(t, src)
	links := DocumentLinks(root, positions, src)
	if len(links) != 2 {
		t.Fatalf("got %d links, want 2", len(links))
	}
}

func TestDefinitionResolvesLetBinding(t *testing.T) {
	src := "let value = 1; in value"
	root, positions, parents := mustParse(t, src)
	let := root.(*nixlang.ExprLet)
	bodyOffset := positions.Resolve(let.Body.Pos()).Offset
	pos := posAtByte(src, bodyOffset)

	loc, ok := Definition(root, positions, parents, src, pos)
	if !ok {
		t.Fatalf("expected a resolvable definition")
	}
	wantLine := posAtByte(src, positions.Resolve(let.Bindings[0].Pos).Offset).Line
	if loc.Range.Start.Line != wantLine {
		t.Errorf("got line %d, want %d", loc.Range.Start.Line, wantLine)
	}
}

func TestDefinitionOnUnresolvableReturnsFalse(t *testing.T) {
	src := "with { a = 1; }; a"
	root, positions, parents := mustParse(t, src)
	with := root.(*nixlang.ExprWith)
	pos := posAtByte(src, positions.Resolve(with.Body.Pos()).Offset)

	if _, ok := Definition(root, positions, parents, src, pos); ok {
		t.Errorf("expected a with-bound reference to remain unresolved")
	}
}

func TestPrepareRenameOnReferenceSucceeds(t *testing.T) {
	src := "let value = 1; in value"
	root, positions, parents := mustParse(t, src)
	let := root.(*nixlang.ExprLet)
	pos := posAtByte(src, positions.Resolve(let.Body.Pos()).Offset)

	result, ok := PrepareRename(root, positions, parents, src, pos)
	if !ok {
		t.Fatalf("expected rename to be available on a variable reference")
	}
	if result.Placeholder != "value" {
		t.Errorf("got placeholder %q, want value", result.Placeholder)
	}
}

func TestPrepareRenameOnNonIdentifierFails(t *testing.T) {
	src := "1 + 2"
	root, positions, parents := mustParse(t, src)
	pos := posAtByte(src, 0)

	if _, ok := PrepareRename(root, positions, parents, src, pos); ok {
		t.Errorf("expected no rename available on a literal")
	}
}

func TestRenameCollectsAllReferences(t *testing.T) {
	src := "let value = 1; in value + value"
	root, positions, parents := mustParse(t, src)
	let := root.(*nixlang.ExprLet)
	pos := posAtByte(src, positions.Resolve(let.Bindings[0].Pos).Offset)

	edits, ok := Rename(root, positions, parents, src, pos, "renamed")
	if !ok {
		t.Fatalf("expected rename to succeed from the binder")
	}
	if len(edits) != 3 {
		t.Fatalf("got %d edits, want 3 (binder + two references)", len(edits))
	}
	for _, e := range edits {
		if e.NewText != "renamed" {
			t.Errorf("got NewText %q, want renamed", e.NewText)
		}
	}
}

func TestCompletionContextOnDottedPathReportsAttrName(t *testing.T) {
	src := "services.nginx.enable"
	root, positions, _ := mustParse(t, src)

	// Cursor on the "x" of "nginx", mid-path.
	pos := posAtByte(src, 13)
	if got := CompletionContext(root, positions, src, pos); got != ContextAttrName {
		t.Errorf("got %v, want ContextAttrName", got)
	}
}

func TestAttrPathAtIncludesSegmentUnderCursor(t *testing.T) {
	src := "services.nginx.enable"
	root, positions, _ := mustParse(t, src)

	// Cursor mid-way through "nginx", before "enable" has been typed.
	pos := posAtByte(src, 11)
	got := AttrPathAt(root, positions, src, pos)
	if got != "services.nginx" {
		t.Errorf("got %q, want services.nginx", got)
	}
}

func TestRenameLambdaFormal(t *testing.T) {
	src := "x: x + x"
	root, positions, parents := mustParse(t, src)
	lam := root.(*nixlang.ExprLambda)
	pos := posAtByte(src, positions.Resolve(lam.Param.Pos).Offset)

	edits, ok := Rename(root, positions, parents, src, pos, "y")
	if !ok {
		t.Fatalf("expected rename to succeed from a lambda formal")
	}
	if len(edits) != 3 {
		t.Fatalf("got %d edits, want 3 (formal + two references)", len(edits))
	}
}
