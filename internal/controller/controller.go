// Package controller is the request pipeline the controller-role
// process runs. It owns the LSP client connection and answers every
// method of the server's external interface either straight from the
// static AST, by dispatching to a pool of spawned worker subprocesses,
// or — for completion — both at once, merged.
package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/jsonrpc2"

	"github.com/yvan-sraka/nixd/internal/astcache"
	"github.com/yvan-sraka/nixd/internal/config"
	"github.com/yvan-sraka/nixd/internal/draft"
	"github.com/yvan-sraka/nixd/internal/options"
	"github.com/yvan-sraka/nixd/internal/protocol"
	"github.com/yvan-sraka/nixd/internal/statics"
	"github.com/yvan-sraka/nixd/internal/transport"
	"github.com/yvan-sraka/nixd/internal/worker"
)

// Per-method worker deadlines; the option ones are the same constants
// internal/options already names for its own direct callers.
const (
	hoverDeadline          = 2 * time.Second
	definitionDeadline     = 1 * time.Second
	completionEvalDeadline = 2 * time.Second
	formattingDeadline     = 1 * time.Second

	// staticQueryDeadline bounds every astcache.Cache.WithAST call made
	// straight off an incoming request: WithAST blocks on ctx alone, so
	// a request whose client-side deadline never fires (or has none)
	// would otherwise wait forever on a document that never finishes
	// parsing.
	staticQueryDeadline = 500 * time.Millisecond
)

// Controller is the long-lived controller-role process state: the
// client connection's document/AST stores, the two worker pools, and
// the hot-reloadable config they're spawned with.
type Controller struct {
	log     zerolog.Logger
	binPath string

	cfgMu sync.RWMutex
	cfg   config.Config
	caps  protocol.ClientCapabilities

	drafts     *draft.Store
	asts       *astcache.Cache
	evalPool   *worker.Pool
	optionPool *worker.Pool

	version atomic.Int64

	diagMu      sync.Mutex
	diagVersion int

	clientMu sync.RWMutex
	client   *jsonrpc2.Conn

	shutdown atomic.Bool
	doneOnce sync.Once
	Done     chan struct{}
}

// New builds a Controller that spawns workers by re-executing binPath
// with -role=eval or -role=option — the same binary acting as its own
// worker, so there is no second executable to locate or package.
func New(cfg config.Config, binPath string, log zerolog.Logger) *Controller {
	c := &Controller{
		log:        log,
		binPath:    binPath,
		cfg:        cfg,
		drafts:     draft.NewStore(),
		asts:       astcache.New(4),
		evalPool:   worker.NewPool(worker.KindEval, cfg.EvalWorkers, binPath, log),
		optionPool: worker.NewPool(worker.KindOption, 1, binPath, log),
		Done:       make(chan struct{}),
	}
	c.evalPool.Handle("nixd/ipc/diagnostic", c.handleWorkerDiagnostic)
	c.evalPool.Handle("nixd/ipc/finished", c.handleWorkerFinished)
	c.optionPool.Handle("nixd/ipc/finished", c.handleWorkerFinished)
	return c
}

// Router builds the client-facing dispatch table: lifecycle, document
// sync, every textDocument/* language feature, and workspace
// configuration. It does not carry nixd/ipc/* — those notifications
// arrive on a worker's own connection, wired via Pool.Handle in New.
func (c *Controller) Router() *transport.Router {
	r := transport.NewRouter(c.log)
	r.Register("initialize", c.handleInitialize)
	r.Register("initialized", c.handleInitialized)
	r.Register("shutdown", c.handleShutdown)
	r.Register("exit", c.handleExit)
	r.Register("textDocument/didOpen", c.handleDidOpen)
	r.Register("textDocument/didChange", c.handleDidChange)
	r.Register("textDocument/didClose", c.handleDidClose)
	r.Register("textDocument/documentSymbol", c.handleDocumentSymbol)
	r.Register("textDocument/documentLink", c.handleDocumentLink)
	r.Register("textDocument/hover", c.handleHover)
	r.Register("textDocument/completion", c.handleCompletion)
	r.Register("textDocument/declaration", c.handleDeclaration)
	r.Register("textDocument/definition", c.handleDefinition)
	r.Register("textDocument/formatting", c.handleFormatting)
	r.Register("textDocument/rename", c.handleRename)
	r.Register("textDocument/prepareRename", c.handlePrepareRename)
	r.Register("workspace/didChangeConfiguration", c.handleDidChangeConfiguration)
	return r
}

// SetClientConn records the connection to the LSP client, used to
// forward publishDiagnostics notifications a worker reports over its
// own, separate connection.
func (c *Controller) SetClientConn(conn *jsonrpc2.Conn) {
	c.clientMu.Lock()
	c.client = conn
	c.clientMu.Unlock()
}

func (c *Controller) clientConn() *jsonrpc2.Conn {
	c.clientMu.RLock()
	defer c.clientMu.RUnlock()
	return c.client
}

func uriToPath(uri protocol.DocumentURI) string {
	return strings.TrimPrefix(string(uri), "file://")
}

func pathToURI(path string) protocol.DocumentURI {
	if strings.HasPrefix(path, "file://") {
		return protocol.DocumentURI(path)
	}
	return protocol.DocumentURI("file://" + path)
}

// decodeReply unmarshals a worker.Reply's raw JSON result into out,
// failing for the zero Reply (no worker answered in time).
func decodeReply(result interface{}, out interface{}) error {
	raw, ok := result.(json.RawMessage)
	if !ok || len(raw) == 0 {
		return fmt.Errorf("controller: no usable worker reply")
	}
	return json.Unmarshal(raw, out)
}

// --- lifecycle ---

func (c *Controller) handleInitialize(ctx context.Context, conn *jsonrpc2.Conn, params json.RawMessage) (interface{}, error) {
	var p protocol.InitializeParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("controller: decoding initialize params: %w", err)
	}
	c.cfgMu.Lock()
	c.caps = p.Capabilities
	c.cfgMu.Unlock()

	openClose := true
	change := protocol.SyncIncremental
	includeText := false
	return protocol.InitializeResult{
		ServerInfo: &protocol.ServerInfo{Name: "nixd", Version: "0.1.0"},
		Capabilities: protocol.ServerCapabilities{
			TextDocumentSync: &protocol.TextDocumentSyncOptions{
				OpenClose: &openClose,
				Change:    &change,
				Save:      &protocol.SaveOptions{IncludeText: &includeText},
			},
			HoverProvider:              true,
			DeclarationProvider:        true,
			DefinitionProvider:         true,
			DocumentLinkProvider:       &protocol.DocumentLinkOptions{ResolveProvider: false},
			DocumentSymbolProvider:     true,
			DocumentFormattingProvider: true,
			RenameProvider:             &protocol.RenameOptions{PrepareProvider: true},
			CompletionProvider:         &protocol.CompletionOptions{TriggerCharacters: []string{"."}},
		},
	}, nil
}

func (c *Controller) handleInitialized(ctx context.Context, conn *jsonrpc2.Conn, params json.RawMessage) (interface{}, error) {
	c.spawnOptionWorker(ctx)

	c.cfgMu.RLock()
	caps := c.caps
	c.cfgMu.RUnlock()
	if caps.Workspace != nil && caps.Workspace.Configuration != nil && *caps.Workspace.Configuration {
		go c.fetchConfig(conn)
	}
	return nil, nil
}

// fetchConfig asks the client for its "nixd" settings section, the way
// Server::fetchConfig does via WorkspaceConfiguration, and reloads the
// option worker if anything changed.
func (c *Controller) fetchConfig(conn *jsonrpc2.Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var result []json.RawMessage
	params := protocol.ConfigurationParams{Items: []protocol.ConfigurationItem{{Section: "nixd"}}}
	if err := conn.Call(ctx, "workspace/configuration", params, &result); err != nil || len(result) == 0 {
		return
	}
	c.cfgMu.Lock()
	c.cfg = config.Merge(c.cfg, result[0], c.log)
	c.cfgMu.Unlock()
	c.spawnOptionWorker(ctx)
}

func (c *Controller) handleShutdown(ctx context.Context, conn *jsonrpc2.Conn, params json.RawMessage) (interface{}, error) {
	c.shutdown.Store(true)
	return nil, nil
}

func (c *Controller) handleExit(ctx context.Context, conn *jsonrpc2.Conn, params json.RawMessage) (interface{}, error) {
	c.evalPool.CloseAll()
	c.optionPool.CloseAll()
	c.doneOnce.Do(func() { close(c.Done) })
	return nil, nil
}

// --- text document synchronization ---

func (c *Controller) handleDidOpen(ctx context.Context, conn *jsonrpc2.Conn, params json.RawMessage) (interface{}, error) {
	var p protocol.DidOpenTextDocumentParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("controller: decoding didOpen params: %w", err)
	}
	c.addDocument(ctx, conn, uriToPath(p.TextDocument.URI), p.TextDocument.Text, p.TextDocument.Version)
	return nil, nil
}

func (c *Controller) handleDidChange(ctx context.Context, conn *jsonrpc2.Conn, params json.RawMessage) (interface{}, error) {
	var p protocol.DidChangeTextDocumentParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("controller: decoding didChange params: %w", err)
	}
	path := uriToPath(p.TextDocument.URI)
	if _, ok := c.drafts.GetDraft(path); !ok {
		c.log.Warn().Str("path", path).Msg("didChange on an unopened document")
		return nil, nil
	}

	var contents string
	for _, change := range p.ContentChanges {
		var err error
		contents, err = c.drafts.ApplyChange(path, p.TextDocument.Version, change)
		if err != nil {
			// Client desync is preferable to silently wrong state:
			// drop the draft rather than limp along.
			c.log.Warn().Err(err).Str("path", path).Msg("failed to apply change, dropping draft")
			c.drafts.RemoveDraft(path)
			c.asts.Forget(path)
			return nil, nil
		}
	}
	c.addDocument(ctx, conn, path, contents, p.TextDocument.Version)
	return nil, nil
}

func (c *Controller) handleDidClose(ctx context.Context, conn *jsonrpc2.Conn, params json.RawMessage) (interface{}, error) {
	var p protocol.DidCloseTextDocumentParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("controller: decoding didClose params: %w", err)
	}
	path := uriToPath(p.TextDocument.URI)
	c.asts.Forget(path)
	c.drafts.RemoveDraft(path)
	return nil, nil
}

// addDocument clears diagnostics immediately (richer ones arrive later
// via nixd/ipc/diagnostic), registers the draft, schedules a parse, and
// bumps the workspace version — in that order, so a client never sees
// stale diagnostics survive past the point its edit was accepted, and
// so the fresh evaluator worker spawned for the new workspace version
// always sees the draft it's meant to evaluate already in the store.
func (c *Controller) addDocument(ctx context.Context, conn *jsonrpc2.Conn, path, contents string, version int) {
	v := version
	_ = conn.Notify(ctx, "textDocument/publishDiagnostics", protocol.PublishDiagnosticsParams{
		URI: pathToURI(path), Version: &v, Diagnostics: []protocol.Diagnostic{},
	})
	c.drafts.AddDraft(path, version, contents)
	c.asts.SchedParse(ctx, path, contents, version)
	c.updateWorkspaceVersion(ctx, path, contents, version)
}

func (c *Controller) updateWorkspaceVersion(ctx context.Context, path, contents string, version int) {
	wv := c.version.Add(1)
	frame := worker.InitFrame{Path: path, Contents: contents, Version: version, WorkspaceVersion: int(wv)}
	body, err := worker.EncodeInitFrame(frame)
	if err != nil {
		c.log.Warn().Err(err).Msg("encoding eval worker init frame")
		return
	}
	if _, err := c.evalPool.Spawn(ctx, version, body); err != nil {
		c.log.Warn().Err(err).Msg("spawning eval worker")
	}
}

func (c *Controller) spawnOptionWorker(ctx context.Context) {
	c.cfgMu.RLock()
	optionsPath := c.cfg.OptionsPath
	c.cfgMu.RUnlock()

	wv := int(c.version.Load())
	frame := worker.InitFrame{OptionsPath: optionsPath, WorkspaceVersion: wv}
	body, err := worker.EncodeInitFrame(frame)
	if err != nil {
		c.log.Warn().Err(err).Msg("encoding option worker init frame")
		return
	}
	if _, err := c.optionPool.Spawn(ctx, wv, body); err != nil {
		c.log.Warn().Err(err).Msg("spawning option worker")
	}
}

// --- language features: static path ---

func (c *Controller) handleDocumentSymbol(ctx context.Context, conn *jsonrpc2.Conn, params json.RawMessage) (interface{}, error) {
	var p protocol.DocumentSymbolParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("controller: decoding documentSymbol params: %w", err)
	}
	path := uriToPath(p.TextDocument.URI)
	d, ok := c.drafts.GetDraft(path)
	if !ok {
		return []protocol.DocumentSymbol{}, nil
	}
	qctx, cancel := context.WithTimeout(ctx, staticQueryDeadline)
	defer cancel()
	var result []protocol.DocumentSymbol
	if err := c.asts.WithAST(qctx, path, 0, func(e *astcache.Entry) {
		result = statics.DocumentSymbols(e.Root, e.Positions, d.Contents)
	}); err != nil {
		return []protocol.DocumentSymbol{}, nil
	}
	return result, nil
}

func (c *Controller) handleDocumentLink(ctx context.Context, conn *jsonrpc2.Conn, params json.RawMessage) (interface{}, error) {
	var p protocol.DocumentLinkParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("controller: decoding documentLink params: %w", err)
	}
	path := uriToPath(p.TextDocument.URI)
	d, ok := c.drafts.GetDraft(path)
	if !ok {
		return []protocol.DocumentLink{}, nil
	}
	qctx, cancel := context.WithTimeout(ctx, staticQueryDeadline)
	defer cancel()
	var result []protocol.DocumentLink
	if err := c.asts.WithAST(qctx, path, 0, func(e *astcache.Entry) {
		result = statics.DocumentLinks(e.Root, e.Positions, d.Contents)
	}); err != nil {
		return []protocol.DocumentLink{}, nil
	}
	return result, nil
}

func (c *Controller) handlePrepareRename(ctx context.Context, conn *jsonrpc2.Conn, params json.RawMessage) (interface{}, error) {
	var p protocol.PrepareRenameParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("controller: decoding prepareRename params: %w", err)
	}
	path := uriToPath(p.TextDocument.URI)
	d, ok := c.drafts.GetDraft(path)
	if !ok {
		return nil, fmt.Errorf("no rename edits available")
	}
	qctx, cancel := context.WithTimeout(ctx, staticQueryDeadline)
	defer cancel()
	var result protocol.PrepareRenameResult
	var found bool
	_ = c.asts.WithAST(qctx, path, 0, func(e *astcache.Entry) {
		result, found = statics.PrepareRename(e.Root, e.Positions, e.Parents, d.Contents, p.Position)
	})
	if !found {
		return nil, fmt.Errorf("no rename edits available")
	}
	return result, nil
}

func (c *Controller) handleRename(ctx context.Context, conn *jsonrpc2.Conn, params json.RawMessage) (interface{}, error) {
	var p protocol.RenameParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("controller: decoding rename params: %w", err)
	}
	path := uriToPath(p.TextDocument.URI)
	d, ok := c.drafts.GetDraft(path)
	if !ok {
		return nil, fmt.Errorf("no rename edits available")
	}
	qctx, cancel := context.WithTimeout(ctx, staticQueryDeadline)
	defer cancel()
	var edits []protocol.TextEdit
	var found bool
	_ = c.asts.WithAST(qctx, path, 0, func(e *astcache.Entry) {
		edits, found = statics.Rename(e.Root, e.Positions, e.Parents, d.Contents, p.Position, p.NewName)
	})
	if !found {
		return nil, fmt.Errorf("no rename edits available")
	}
	return protocol.WorkspaceEdit{Changes: map[protocol.DocumentURI][]protocol.TextEdit{p.TextDocument.URI: edits}}, nil
}

// --- language features: worker-dispatch and merged paths ---

func (c *Controller) handleHover(ctx context.Context, conn *jsonrpc2.Conn, params json.RawMessage) (interface{}, error) {
	var p protocol.HoverParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("controller: decoding hover params: %w", err)
	}
	replies := worker.AskWorkers(ctx, c.evalPool, "nixd/ipc/textDocument/hover", p, hoverDeadline)
	hasContent := func(r worker.Reply) bool {
		var h protocol.Hover
		return decodeReply(r.Result, &h) == nil && h.Contents.Value != ""
	}
	best := worker.LatestMatchOr(replies, hasContent, worker.Reply{})
	if best.Result == nil {
		return nil, nil
	}
	var h protocol.Hover
	if err := decodeReply(best.Result, &h); err != nil {
		return nil, nil
	}
	return h, nil
}

func (c *Controller) handleDefinition(ctx context.Context, conn *jsonrpc2.Conn, params json.RawMessage) (interface{}, error) {
	var p protocol.DefinitionParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("controller: decoding definition params: %w", err)
	}
	// Prefer an evaluated location: in most cases it is more useful than
	// the static fallback.
	replies := worker.AskWorkers(ctx, c.evalPool, "nixd/ipc/textDocument/definition", p, definitionDeadline)
	hasLocation := func(r worker.Reply) bool {
		var loc protocol.Location
		return decodeReply(r.Result, &loc) == nil && loc.URI != ""
	}
	best := worker.LatestMatchOr(replies, hasLocation, worker.Reply{})
	if best.Result != nil {
		var loc protocol.Location
		if err := decodeReply(best.Result, &loc); err == nil {
			return loc, nil
		}
	}

	path := uriToPath(p.TextDocument.URI)
	d, ok := c.drafts.GetDraft(path)
	if !ok {
		return nil, nil
	}
	qctx, cancel := context.WithTimeout(ctx, staticQueryDeadline)
	defer cancel()
	var result interface{}
	_ = c.asts.WithAST(qctx, path, 0, func(e *astcache.Entry) {
		if loc, found := statics.Definition(e.Root, e.Positions, e.Parents, d.Contents, p.Position); found {
			loc.URI = p.TextDocument.URI
			result = loc
		}
	})
	return result, nil
}

func (c *Controller) handleDeclaration(ctx context.Context, conn *jsonrpc2.Conn, params json.RawMessage) (interface{}, error) {
	c.cfgMu.RLock()
	enabled := c.cfg.OptionsEnable
	c.cfgMu.RUnlock()
	if !enabled {
		return nil, nil
	}

	var p protocol.DeclarationParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("controller: decoding declaration params: %w", err)
	}
	path := uriToPath(p.TextDocument.URI)
	d, ok := c.drafts.GetDraft(path)
	if !ok {
		return nil, nil
	}
	qctx, cancel := context.WithTimeout(ctx, staticQueryDeadline)
	defer cancel()
	var attrPath string
	_ = c.asts.WithAST(qctx, path, 0, func(e *astcache.Entry) {
		attrPath = statics.AttrPathAt(e.Root, e.Positions, d.Contents, p.Position)
	})
	if attrPath == "" {
		return nil, nil
	}

	replies := worker.AskWorkers(ctx, c.optionPool, "nixd/ipc/option/textDocument/declaration",
		protocol.OptionPathParams{Path: attrPath}, options.DeclarationDeadline)
	hasResult := func(r worker.Reply) bool {
		var res protocol.OptionDeclarationResult
		return decodeReply(r.Result, &res) == nil && res.Location.URI != ""
	}
	best := worker.LatestMatchOr(replies, hasResult, worker.Reply{})
	if best.Result == nil {
		return nil, nil
	}
	var res protocol.OptionDeclarationResult
	if err := decodeReply(best.Result, &res); err != nil {
		return nil, nil
	}
	return res.Location, nil
}

func (c *Controller) handleCompletion(ctx context.Context, conn *jsonrpc2.Conn, params json.RawMessage) (interface{}, error) {
	var p protocol.CompletionParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("controller: decoding completion params: %w", err)
	}
	path := uriToPath(p.TextDocument.URI)
	d, ok := c.drafts.GetDraft(path)
	if !ok {
		return nil, fmt.Errorf("controller: requested completion on unknown draft %s", path)
	}

	qctx, cancel := context.WithTimeout(ctx, staticQueryDeadline)
	defer cancel()
	var kind statics.Context
	var attrPath string
	_ = c.asts.WithAST(qctx, path, 0, func(e *astcache.Entry) {
		kind = statics.CompletionContext(e.Root, e.Positions, d.Contents, p.Position)
		attrPath = statics.AttrPathAt(e.Root, e.Positions, d.Contents, p.Position)
	})

	fromOptions := func() (protocol.CompletionList, bool) {
		c.cfgMu.RLock()
		enabled := c.cfg.OptionsEnable
		c.cfgMu.RUnlock()
		if !enabled {
			return protocol.CompletionList{}, false
		}
		replies := worker.AskWorkers(ctx, c.optionPool, "nixd/ipc/textDocument/completion/options",
			protocol.OptionPathParams{Path: attrPath}, options.CompletionDeadline)
		nonEmpty := func(r worker.Reply) bool {
			var res protocol.OptionCompletionResult
			return decodeReply(r.Result, &res) == nil && len(res.Items) > 0
		}
		best := worker.LatestMatchOr(replies, nonEmpty, worker.Reply{})
		if best.Result == nil {
			return protocol.CompletionList{}, false
		}
		var res protocol.OptionCompletionResult
		if err := decodeReply(best.Result, &res); err != nil {
			return protocol.CompletionList{}, false
		}
		return protocol.CompletionList{Items: res.Items}, true
	}

	fromEval := func() (protocol.CompletionList, bool) {
		replies := worker.AskWorkers(ctx, c.evalPool, "nixd/ipc/textDocument/completion", p, completionEvalDeadline)
		nonEmpty := func(r worker.Reply) bool {
			var list protocol.CompletionList
			return decodeReply(r.Result, &list) == nil && len(list.Items) > 0
		}
		best := worker.LatestMatchOr(replies, nonEmpty, worker.Reply{})
		if best.Result == nil {
			return protocol.CompletionList{}, false
		}
		var list protocol.CompletionList
		if err := decodeReply(best.Result, &list); err != nil {
			return protocol.CompletionList{}, false
		}
		return list, true
	}

	switch kind {
	case statics.ContextAttrName:
		if list, ok := fromOptions(); ok {
			return list, nil
		}
		return protocol.CompletionList{IsIncomplete: true}, nil
	case statics.ContextValue:
		if list, ok := fromEval(); ok {
			return list, nil
		}
		return protocol.CompletionList{IsIncomplete: true}, nil
	default:
		merged := protocol.CompletionList{IsIncomplete: true}
		if list, ok := fromOptions(); ok {
			merged.Items = append(merged.Items, list.Items...)
		}
		if list, ok := fromEval(); ok {
			merged.Items = append(merged.Items, list.Items...)
		}
		return merged, nil
	}
}

func (c *Controller) handleFormatting(ctx context.Context, conn *jsonrpc2.Conn, params json.RawMessage) (interface{}, error) {
	var p protocol.DocumentFormattingParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("controller: decoding formatting params: %w", err)
	}
	path := uriToPath(p.TextDocument.URI)
	d, ok := c.drafts.GetDraft(path)
	if !ok {
		return nil, fmt.Errorf("controller: formatting requested on unknown draft %s", path)
	}
	c.cfgMu.RLock()
	command := c.cfg.FormattingCommand
	c.cfgMu.RUnlock()
	if command == "" {
		return nil, fmt.Errorf("no formatting response received")
	}

	fctx, cancel := context.WithTimeout(ctx, formattingDeadline)
	defer cancel()
	cmd := exec.CommandContext(fctx, command)
	cmd.Stdin = strings.NewReader(d.Contents)
	out, err := cmd.Output()
	if err != nil {
		c.log.Warn().Err(err).Str("command", command).Msg("cannot summon external formatting command")
		return nil, fmt.Errorf("no formatting response received")
	}

	edit := protocol.TextEdit{
		Range: protocol.Range{
			Start: protocol.Position{Line: 0, Character: 0},
			End:   protocol.Position{Line: math.MaxInt32, Character: math.MaxInt32},
		},
		NewText: string(out),
	}
	return []protocol.TextEdit{edit}, nil
}

// --- workspace configuration ---

func (c *Controller) handleDidChangeConfiguration(ctx context.Context, conn *jsonrpc2.Conn, params json.RawMessage) (interface{}, error) {
	var p protocol.DidChangeConfigurationParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("controller: decoding didChangeConfiguration params: %w", err)
	}
	c.cfgMu.Lock()
	c.cfg = config.Merge(c.cfg, p.Settings, c.log)
	c.cfgMu.Unlock()
	c.spawnOptionWorker(ctx)
	return nil, nil
}

// --- internal IPC (worker -> controller) ---

// handleWorkerDiagnostic forwards a worker's evaluation diagnostics to
// the client, dropping anything older than the most recent workspace
// version already published — matching Server::onEvalDiagnostic's
// DiagStatus.WorkspaceVersion monotonicity guard.
func (c *Controller) handleWorkerDiagnostic(ctx context.Context, conn *jsonrpc2.Conn, params json.RawMessage) (interface{}, error) {
	var diag protocol.EvalDiagnosticParams
	if err := json.Unmarshal(params, &diag); err != nil {
		return nil, fmt.Errorf("controller: decoding worker diagnostic: %w", err)
	}

	c.diagMu.Lock()
	if diag.Version < c.diagVersion {
		c.diagMu.Unlock()
		return nil, nil
	}
	c.diagVersion = diag.Version
	c.diagMu.Unlock()

	client := c.clientConn()
	if client == nil {
		return nil, nil
	}
	version := diag.Version
	_ = client.Notify(ctx, "textDocument/publishDiagnostics", protocol.PublishDiagnosticsParams{
		URI: diag.URI, Version: &version, Diagnostics: diag.Diagnostics,
	})
	return nil, nil
}

func (c *Controller) handleWorkerFinished(ctx context.Context, conn *jsonrpc2.Conn, params json.RawMessage) (interface{}, error) {
	c.log.Debug().Msg("worker reported finished")
	return nil, nil
}
