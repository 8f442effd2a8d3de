package controller

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/jsonrpc2"

	"github.com/yvan-sraka/nixd/internal/config"
	"github.com/yvan-sraka/nixd/internal/protocol"
	"github.com/yvan-sraka/nixd/internal/transport"
)

// fakeClientConn stands in for the real LSP client connection: a
// net.Pipe peer with an empty router, enough for Controller methods
// that call conn.Notify/conn.Call on it without a subprocess.
func fakeClientConn(t *testing.T) *jsonrpc2.Conn {
	t.Helper()
	serverSide, clientSide := net.Pipe()

	peerRouter := transport.NewRouter(zerolog.Nop())
	_ = transport.Serve(context.Background(), serverSide, peerRouter)

	ownRouter := transport.NewRouter(zerolog.Nop())
	conn := transport.Serve(context.Background(), clientSide, ownRouter)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func newTestController(t *testing.T) (*Controller, *jsonrpc2.Conn) {
	t.Helper()
	cfg := config.Config{EvalWorkers: 1, OptionsEnable: true}
	c := New(cfg, "/nonexistent-test-binary", zerolog.Nop())
	t.Cleanup(func() {
		c.evalPool.CloseAll()
		c.optionPool.CloseAll()
	})
	conn := fakeClientConn(t)
	return c, conn
}

func mustMarshal(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return raw
}

func TestHandleInitializeReportsExpectedCapabilities(t *testing.T) {
	c, conn := newTestController(t)
	result, err := c.handleInitialize(context.Background(), conn, mustMarshal(t, protocol.InitializeParams{}))
	if err != nil {
		t.Fatalf("handleInitialize: %v", err)
	}
	res, ok := result.(protocol.InitializeResult)
	if !ok {
		t.Fatalf("got %T, want protocol.InitializeResult", result)
	}
	if res.ServerInfo == nil || res.ServerInfo.Name != "nixd" {
		t.Errorf("got ServerInfo %+v, want Name=nixd", res.ServerInfo)
	}
	if !res.Capabilities.HoverProvider || !res.Capabilities.DefinitionProvider || !res.Capabilities.DeclarationProvider {
		t.Errorf("expected hover/definition/declaration providers set, got %+v", res.Capabilities)
	}
	if res.Capabilities.CompletionProvider == nil || len(res.Capabilities.CompletionProvider.TriggerCharacters) != 1 || res.Capabilities.CompletionProvider.TriggerCharacters[0] != "." {
		t.Errorf("got CompletionProvider %+v, want trigger character \".\"", res.Capabilities.CompletionProvider)
	}
	if res.Capabilities.RenameProvider == nil || !res.Capabilities.RenameProvider.PrepareProvider {
		t.Errorf("got RenameProvider %+v, want PrepareProvider true", res.Capabilities.RenameProvider)
	}
	if res.Capabilities.TextDocumentSync == nil || *res.Capabilities.TextDocumentSync.Change != protocol.SyncIncremental {
		t.Errorf("got TextDocumentSync %+v, want incremental sync", res.Capabilities.TextDocumentSync)
	}
}

func TestDidOpenThenDocumentSymbolSeesTheDraft(t *testing.T) {
	c, conn := newTestController(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	uri := protocol.DocumentURI("file:///tmp/doc.nix")
	openParams := protocol.DidOpenTextDocumentParams{
		TextDocument: protocol.TextDocumentItem{URI: uri, Version: 1, Text: "let a = 1; in a"},
	}
	if _, err := c.handleDidOpen(ctx, conn, mustMarshal(t, openParams)); err != nil {
		t.Fatalf("handleDidOpen: %v", err)
	}

	symParams := protocol.DocumentSymbolParams{TextDocument: protocol.TextDocumentIdentifier{URI: uri}}
	result, err := c.handleDocumentSymbol(ctx, conn, mustMarshal(t, symParams))
	if err != nil {
		t.Fatalf("handleDocumentSymbol: %v", err)
	}
	syms, ok := result.([]protocol.DocumentSymbol)
	if !ok {
		t.Fatalf("got %T, want []protocol.DocumentSymbol", result)
	}
	if len(syms) != 1 || syms[0].Name != "a" {
		t.Errorf("got symbols %+v, want a single symbol named a", syms)
	}
}

func TestDidCloseForgetsTheDraft(t *testing.T) {
	c, conn := newTestController(t)
	ctx := context.Background()

	uri := protocol.DocumentURI("file:///tmp/close.nix")
	_, _ = c.handleDidOpen(ctx, conn, mustMarshal(t, protocol.DidOpenTextDocumentParams{
		TextDocument: protocol.TextDocumentItem{URI: uri, Version: 1, Text: "1"},
	}))
	if _, ok := c.drafts.GetDraft("/tmp/close.nix"); !ok {
		t.Fatalf("expected draft to exist after didOpen")
	}

	_, err := c.handleDidClose(ctx, conn, mustMarshal(t, protocol.DidCloseTextDocumentParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: uri},
	}))
	if err != nil {
		t.Fatalf("handleDidClose: %v", err)
	}
	if _, ok := c.drafts.GetDraft("/tmp/close.nix"); ok {
		t.Errorf("expected draft to be removed after didClose")
	}
}

func TestHandleRenameNoEditsReturnsExpectedError(t *testing.T) {
	c, conn := newTestController(t)
	ctx := context.Background()

	uri := protocol.DocumentURI("file:///tmp/rename.nix")
	_, _ = c.handleDidOpen(ctx, conn, mustMarshal(t, protocol.DidOpenTextDocumentParams{
		TextDocument: protocol.TextDocumentItem{URI: uri, Version: 1, Text: "1 + 1"},
	}))

	_, err := c.handleRename(ctx, conn, mustMarshal(t, protocol.RenameParams{
		TextDocumentPositionParams: protocol.TextDocumentPositionParams{
			TextDocument: protocol.TextDocumentIdentifier{URI: uri},
			Position:     protocol.Position{Line: 0, Character: 0},
		},
		NewName: "x",
	}))
	if err == nil || err.Error() != "no rename edits available" {
		t.Errorf("got err %v, want \"no rename edits available\"", err)
	}
}

func TestHandleDeclarationDisabledByConfigReturnsNil(t *testing.T) {
	c, conn := newTestController(t)
	c.cfg.OptionsEnable = false
	ctx := context.Background()

	result, err := c.handleDeclaration(ctx, conn, mustMarshal(t, protocol.DeclarationParams{
		TextDocumentPositionParams: protocol.TextDocumentPositionParams{
			TextDocument: protocol.TextDocumentIdentifier{URI: "file:///tmp/d.nix"},
			Position:     protocol.Position{Line: 0, Character: 0},
		},
	}))
	if err != nil {
		t.Fatalf("handleDeclaration: %v", err)
	}
	if result != nil {
		t.Errorf("got %+v, want nil when options.enable is false", result)
	}
}

func TestHandleShutdownThenExitClosesDone(t *testing.T) {
	c, conn := newTestController(t)
	ctx := context.Background()

	if _, err := c.handleShutdown(ctx, conn, nil); err != nil {
		t.Fatalf("handleShutdown: %v", err)
	}
	if !c.shutdown.Load() {
		t.Errorf("expected shutdown flag set")
	}
	if _, err := c.handleExit(ctx, conn, nil); err != nil {
		t.Fatalf("handleExit: %v", err)
	}
	select {
	case <-c.Done:
	default:
		t.Errorf("expected Done to be closed after exit")
	}
	// A second exit must not panic on a double close.
	if _, err := c.handleExit(ctx, conn, nil); err != nil {
		t.Fatalf("second handleExit: %v", err)
	}
}
