// Package workerrole is what a spawned worker process actually runs
// once it has decoded its InitFrame: RunEval parses the draft and
// answers evaluated queries, RunOption loads the option index and
// answers declaration/completion lookups. Both publish an initial
// nixd/ipc/finished notification once they've done their one-time setup
// (the worker equivalent of Controller.cpp's onFinished semaphore
// release) and then just sit on their own connection, replying to
// whatever the controller asks.
package workerrole

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/jsonrpc2"

	"github.com/yvan-sraka/nixd/internal/eval"
	"github.com/yvan-sraka/nixd/internal/nixlang"
	"github.com/yvan-sraka/nixd/internal/options"
	"github.com/yvan-sraka/nixd/internal/protocol"
	"github.com/yvan-sraka/nixd/internal/scope"
	"github.com/yvan-sraka/nixd/internal/statics"
	"github.com/yvan-sraka/nixd/internal/transport"
	"github.com/yvan-sraka/nixd/internal/worker"
)

// evalSteps bounds how much work a single query's evaluation may do
// before giving up, so a pathological expression returns a diagnostic
// instead of pinning this worker forever.
const evalSteps = 100000

func pathToURI(path string) protocol.DocumentURI {
	return protocol.DocumentURI("file://" + path)
}

// RunEval is the body of an eval-role worker: parse the draft named by
// the init frame once, publish its diagnostics, then answer hover,
// definition, and completion queries against that one fixed snapshot
// for as long as the connection stays open.
func RunEval(ctx context.Context, in io.Reader, out io.Writer, log zerolog.Logger) error {
	frame, err := worker.DecodeInitFrame(in)
	if err != nil {
		return err
	}

	root, diags, positions := nixlang.Parse(frame.Contents, frame.Path)
	parents := scope.GetParentMap(root)

	rwc := transport.Combine(in, out)
	router := transport.NewRouter(log)

	router.Register("nixd/ipc/textDocument/hover", func(ctx context.Context, conn *jsonrpc2.Conn, params json.RawMessage) (interface{}, error) {
		return handleHover(root, positions, parents, frame.Contents, params)
	})
	router.Register("nixd/ipc/textDocument/definition", func(ctx context.Context, conn *jsonrpc2.Conn, params json.RawMessage) (interface{}, error) {
		return handleDefinition(root, positions, parents, frame.Contents, params)
	})
	router.Register("nixd/ipc/textDocument/completion", func(ctx context.Context, conn *jsonrpc2.Conn, params json.RawMessage) (interface{}, error) {
		return handleCompletion(root, positions, parents, frame.Contents, params)
	})

	conn := transport.Serve(ctx, rwc, router)

	_ = conn.Notify(ctx, "nixd/ipc/diagnostic", protocol.EvalDiagnosticParams{
		URI:         pathToURI(frame.Path),
		Version:     frame.WorkspaceVersion,
		Diagnostics: toProtocolDiagnostics(diags, positions, frame.Contents),
	})
	_ = conn.Notify(ctx, "nixd/ipc/finished", protocol.WorkerFinishedParams{Version: frame.WorkspaceVersion})

	<-conn.DisconnectNotify()
	return nil
}

func handleHover(root nixlang.Expr, positions *nixlang.Positions, parents scope.ParentMap, contents string, params json.RawMessage) (interface{}, error) {
	var p protocol.HoverParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("workerrole: decoding hover params: %w", err)
	}
	offset := statics.OffsetAt(contents, p.Position)
	result := eval.Hover(root, positions, parents, offset, eval.NewBudget(evalSteps))
	if result.Err != "" {
		return protocol.Hover{Contents: protocol.MarkupContent{Kind: protocol.MarkupPlainText, Value: result.Err}}, nil
	}
	return protocol.Hover{Contents: protocol.MarkupContent{Kind: protocol.MarkupPlainText, Value: result.Rendered}}, nil
}

func handleDefinition(root nixlang.Expr, positions *nixlang.Positions, parents scope.ParentMap, contents string, params json.RawMessage) (interface{}, error) {
	var p protocol.DefinitionParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("workerrole: decoding definition params: %w", err)
	}
	offset := statics.OffsetAt(contents, p.Position)
	defPos, ok := eval.Definition(root, positions, parents, offset)
	if !ok {
		return nil, nil
	}
	pos := statics.PositionAt(contents, defPos.Offset)
	return protocol.Location{
		URI:   p.TextDocument.URI,
		Range: protocol.Range{Start: pos, End: pos},
	}, nil
}

func handleCompletion(root nixlang.Expr, positions *nixlang.Positions, parents scope.ParentMap, contents string, params json.RawMessage) (interface{}, error) {
	var p protocol.CompletionParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("workerrole: decoding completion params: %w", err)
	}
	offset := statics.OffsetAt(contents, p.Position)
	results := eval.Completion(root, positions, parents, offset, eval.NewBudget(evalSteps))
	items := make([]protocol.CompletionItem, 0, len(results))
	for _, r := range results {
		items = append(items, protocol.CompletionItem{
			Label:  string(r.Name),
			Kind:   protocol.CompletionItemKindField,
			Detail: r.Detail,
		})
	}
	return protocol.CompletionList{Items: items}, nil
}

// toProtocolDiagnostics converts parser diagnostics, which carry a
// PosIdx handle into positions, into the line/character positions the
// LSP wire format wants.
func toProtocolDiagnostics(diags []nixlang.Diagnostic, positions *nixlang.Positions, contents string) []protocol.Diagnostic {
	out := make([]protocol.Diagnostic, 0, len(diags))
	for _, d := range diags {
		pos := statics.PositionAt(contents, positions.Resolve(d.Pos).Offset)
		out = append(out, protocol.Diagnostic{
			Range:    protocol.Range{Start: pos, End: pos},
			Severity: protocol.SeverityError,
			Source:   "nixd",
			Message:  d.Message,
		})
	}
	return out
}

// RunOption is the body of an option-role worker: load the configured
// option snapshot once, then answer declaration/completion lookups
// against it for the life of the connection.
func RunOption(ctx context.Context, in io.Reader, out io.Writer, log zerolog.Logger) error {
	frame, err := worker.DecodeInitFrame(in)
	if err != nil {
		return err
	}

	idx := options.Load(frame.OptionsPath)

	rwc := transport.Combine(in, out)
	router := transport.NewRouter(log)
	router.Register("nixd/ipc/option/textDocument/declaration", func(ctx context.Context, conn *jsonrpc2.Conn, params json.RawMessage) (interface{}, error) {
		return handleOptionDeclaration(idx, params)
	})
	router.Register("nixd/ipc/textDocument/completion/options", func(ctx context.Context, conn *jsonrpc2.Conn, params json.RawMessage) (interface{}, error) {
		return handleOptionCompletion(idx, params)
	})
	conn := transport.Serve(ctx, rwc, router)

	_ = conn.Notify(ctx, "nixd/ipc/finished", protocol.WorkerFinishedParams{Version: frame.WorkspaceVersion})

	<-conn.DisconnectNotify()
	return nil
}

func handleOptionDeclaration(idx *options.Index, params json.RawMessage) (interface{}, error) {
	var p protocol.OptionPathParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("workerrole: decoding option path params: %w", err)
	}
	opt, ok := idx.Declaration(p.Path)
	if !ok {
		return protocol.OptionDeclarationResult{}, nil
	}
	return protocol.OptionDeclarationResult{
		Location: protocol.Location{
			URI: pathToURI(opt.Declared.File),
			Range: protocol.Range{
				Start: protocol.Position{Line: opt.Declared.Line - 1, Character: 0},
				End:   protocol.Position{Line: opt.Declared.Line - 1, Character: 0},
			},
		},
		Description: opt.Description,
	}, nil
}

func handleOptionCompletion(idx *options.Index, params json.RawMessage) (interface{}, error) {
	var p protocol.OptionPathParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("workerrole: decoding option path params: %w", err)
	}
	matches := idx.Complete(p.Path)
	items := make([]protocol.CompletionItem, 0, len(matches))
	for _, m := range matches {
		items = append(items, protocol.CompletionItem{
			Label:  m.Path,
			Kind:   protocol.CompletionItemKindModule,
			Detail: m.Type,
		})
	}
	return protocol.OptionCompletionResult{Items: items}, nil
}
