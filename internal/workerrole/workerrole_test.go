package workerrole

import (
	"encoding/json"
	"testing"

	"github.com/yvan-sraka/nixd/internal/nixlang"
	"github.com/yvan-sraka/nixd/internal/options"
	"github.com/yvan-sraka/nixd/internal/protocol"
	"github.com/yvan-sraka/nixd/internal/scope"
)

func parse(t *testing.T, src string) (nixlang.Expr, *nixlang.Positions) {
	t.Helper()
	root, diags, positions := nixlang.Parse(src, "t.ex")
	if len(diags) != 0 {
		t.Fatalf("unexpected diagnostics for %q: %+v", src, diags)
	}
	return root, positions
}

func mustMarshal(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return raw
}

func TestHandleHoverRendersForcedValue(t *testing.T) {
	src := "1 + 1"
	root, positions := parse(t, src)
	parents := scope.GetParentMap(root)

	params := protocol.HoverParams{TextDocumentPositionParams: protocol.TextDocumentPositionParams{
		Position: protocol.Position{Line: 0, Character: 0},
	}}
	result, err := handleHover(root, positions, parents, src, mustMarshal(t, params))
	if err != nil {
		t.Fatalf("handleHover: %v", err)
	}
	hover, ok := result.(protocol.Hover)
	if !ok {
		t.Fatalf("got %T, want protocol.Hover", result)
	}
	if hover.Contents.Value == "" {
		t.Errorf("expected non-empty rendered content for %q", src)
	}
}

func TestHandleHoverOutOfBoundsClampsToDocumentEnd(t *testing.T) {
	src := "1"
	root, positions := parse(t, src)
	parents := scope.GetParentMap(root)

	params := protocol.HoverParams{TextDocumentPositionParams: protocol.TextDocumentPositionParams{
		Position: protocol.Position{Line: 5, Character: 0},
	}}
	result, err := handleHover(root, positions, parents, src, mustMarshal(t, params))
	if err != nil {
		t.Fatalf("handleHover: %v", err)
	}
	hover := result.(protocol.Hover)
	if hover.Contents.Value == "" {
		t.Errorf("expected hover content for an out-of-bounds position clamped to the end of the document")
	}
}

func TestHandleCompletionListsAttrsFields(t *testing.T) {
	src := "let a = { x = 1; y = 2; }; in a.x"
	root, positions := parse(t, src)
	parents := scope.GetParentMap(root)

	offsetOfDot := 0
	for i, c := range src {
		if c == '.' {
			offsetOfDot = i
			break
		}
	}
	pos := posAt(src, offsetOfDot+1)
	params := protocol.CompletionParams{TextDocumentPositionParams: protocol.TextDocumentPositionParams{Position: pos}}

	result, err := handleCompletion(root, positions, parents, src, mustMarshal(t, params))
	if err != nil {
		t.Fatalf("handleCompletion: %v", err)
	}
	list, ok := result.(protocol.CompletionList)
	if !ok {
		t.Fatalf("got %T, want protocol.CompletionList", result)
	}
	if len(list.Items) != 2 {
		t.Errorf("got %d completion items, want 2 (x, y)", len(list.Items))
	}
}

func TestToProtocolDiagnosticsConvertsPosIdxToLineCharacter(t *testing.T) {
	src := "let in"
	_, diags, positions := nixlang.Parse(src, "bad.ex")
	if len(diags) == 0 {
		t.Fatalf("expected a parse diagnostic for %q", src)
	}
	out := toProtocolDiagnostics(diags, positions, src)
	if len(out) != len(diags) {
		t.Fatalf("got %d protocol diagnostics, want %d", len(out), len(diags))
	}
	if out[0].Severity != protocol.SeverityError {
		t.Errorf("got severity %v, want SeverityError", out[0].Severity)
	}
	if out[0].Source != "nixd" {
		t.Errorf("got source %q, want nixd", out[0].Source)
	}
}

func TestHandleOptionDeclarationNotFoundReturnsEmptyResult(t *testing.T) {
	idx := options.Load("")
	result, err := handleOptionDeclaration(idx, mustMarshal(t, protocol.OptionPathParams{Path: "services.foo.enable"}))
	if err != nil {
		t.Fatalf("handleOptionDeclaration: %v", err)
	}
	res := result.(protocol.OptionDeclarationResult)
	if res.Location.URI != "" {
		t.Errorf("got %+v, want empty result for an empty option index", res)
	}
}

func TestHandleOptionCompletionEmptyIndexReturnsNoItems(t *testing.T) {
	idx := options.Load("")
	result, err := handleOptionCompletion(idx, mustMarshal(t, protocol.OptionPathParams{Path: "services"}))
	if err != nil {
		t.Fatalf("handleOptionCompletion: %v", err)
	}
	res := result.(protocol.OptionCompletionResult)
	if len(res.Items) != 0 {
		t.Errorf("got %d items, want 0 for an empty option index", len(res.Items))
	}
}

func posAt(src string, offset int) protocol.Position {
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
