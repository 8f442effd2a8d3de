// Package protocol defines the LSP wire types this server speaks:
// textDocument/{documentLink,documentSymbol,hover,completion,declaration,
// definition,formatting,rename,prepareRename}, the lifecycle and sync
// notifications, and the internal controller-worker IPC params that
// mirror their public counterparts. Envelope framing (request id,
// method dispatch, batching) is sourcegraph/jsonrpc2's job; this package
// only defines the JSON shapes that travel inside params/result.
package protocol

import "encoding/json"

type DocumentURI string

// Position is 0-based; Character counts UTF-16 code units, per the LSP
// spec, regardless of the file's actual encoding.
type Position struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

type Location struct {
	URI   DocumentURI `json:"uri"`
	Range Range       `json:"range"`
}

// --- lifecycle ---

type InitializeParams struct {
	ProcessID             *int                   `json:"processId,omitempty"`
	RootURI               *DocumentURI           `json:"rootUri,omitempty"`
	ClientInfo             *ClientInfo            `json:"clientInfo,omitempty"`
	InitializationOptions json.RawMessage        `json:"initializationOptions,omitempty"`
	Capabilities           ClientCapabilities     `json:"capabilities"`
}

type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

type ClientCapabilities struct {
	Workspace    *WorkspaceClientCapabilities    `json:"workspace,omitempty"`
	TextDocument *TextDocumentClientCapabilities `json:"textDocument,omitempty"`
}

type WorkspaceClientCapabilities struct {
	Configuration *bool `json:"configuration,omitempty"`
}

type TextDocumentClientCapabilities struct {
	Rename *RenameClientCapabilities `json:"rename,omitempty"`
}

type RenameClientCapabilities struct {
	PrepareSupport *bool `json:"prepareSupport,omitempty"`
}

type InitializeResult struct {
	Capabilities ServerCapabilities `json:"capabilities"`
	ServerInfo   *ServerInfo        `json:"serverInfo,omitempty"`
}

type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

type ServerCapabilities struct {
	TextDocumentSync       *TextDocumentSyncOptions `json:"textDocumentSync,omitempty"`
	HoverProvider          bool                      `json:"hoverProvider,omitempty"`
	DeclarationProvider    bool                      `json:"declarationProvider,omitempty"`
	DefinitionProvider     bool                      `json:"definitionProvider,omitempty"`
	DocumentSymbolProvider bool                      `json:"documentSymbolProvider,omitempty"`
	DocumentLinkProvider   *DocumentLinkOptions      `json:"documentLinkProvider,omitempty"`
	DocumentFormattingProvider bool                  `json:"documentFormattingProvider,omitempty"`
	RenameProvider         *RenameOptions            `json:"renameProvider,omitempty"`
	CompletionProvider     *CompletionOptions        `json:"completionProvider,omitempty"`
}

type TextDocumentSyncKind int

const (
	SyncNone        TextDocumentSyncKind = 0
	SyncFull        TextDocumentSyncKind = 1
	SyncIncremental TextDocumentSyncKind = 2
)

type TextDocumentSyncOptions struct {
	OpenClose *bool                 `json:"openClose,omitempty"`
	Change    *TextDocumentSyncKind `json:"change,omitempty"`
	Save      *SaveOptions          `json:"save,omitempty"`
}

type SaveOptions struct {
	IncludeText *bool `json:"includeText,omitempty"`
}

type DocumentLinkOptions struct {
	ResolveProvider bool `json:"resolveProvider"`
}

type RenameOptions struct {
	PrepareProvider bool `json:"prepareProvider"`
}

type CompletionOptions struct {
	TriggerCharacters []string `json:"triggerCharacters,omitempty"`
}

// --- document sync ---

type TextDocumentItem struct {
	URI        DocumentURI `json:"uri"`
	LanguageID string      `json:"languageId"`
	Version    int         `json:"version"`
	Text       string      `json:"text"`
}

type TextDocumentIdentifier struct {
	URI DocumentURI `json:"uri"`
}

type VersionedTextDocumentIdentifier struct {
	URI     DocumentURI `json:"uri"`
	Version int         `json:"version"`
}

type TextDocumentPositionParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
	Position     Position               `json:"position"`
}

type DidOpenTextDocumentParams struct {
	TextDocument TextDocumentItem `json:"textDocument"`
}

type DidChangeTextDocumentParams struct {
	TextDocument   VersionedTextDocumentIdentifier  `json:"textDocument"`
	ContentChanges []TextDocumentContentChangeEvent `json:"contentChanges"`
}

// TextDocumentContentChangeEvent is either a full-document replacement
// (Range nil) or an incremental edit (Range set).
type TextDocumentContentChangeEvent struct {
	Range       *Range  `json:"range,omitempty"`
	RangeLength *uint32 `json:"rangeLength,omitempty"`
	Text        string  `json:"text"`
}

type DidCloseTextDocumentParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
}

// --- diagnostics ---

type DiagnosticSeverity int

const (
	SeverityError       DiagnosticSeverity = 1
	SeverityWarning     DiagnosticSeverity = 2
	SeverityInformation DiagnosticSeverity = 3
	SeverityHint        DiagnosticSeverity = 4
)

type Diagnostic struct {
	Range    Range              `json:"range"`
	Severity DiagnosticSeverity `json:"severity,omitempty"`
	Source   string             `json:"source,omitempty"`
	Message  string             `json:"message"`
}

type PublishDiagnosticsParams struct {
	URI         DocumentURI  `json:"uri"`
	Version     *int         `json:"version,omitempty"`
	Diagnostics []Diagnostic `json:"diagnostics"`
}

// --- hover ---

type MarkupKind string

const (
	MarkupPlainText MarkupKind = "plaintext"
	MarkupMarkdown  MarkupKind = "markdown"
)

type MarkupContent struct {
	Kind  MarkupKind `json:"kind"`
	Value string     `json:"value"`
}

type HoverParams struct {
	TextDocumentPositionParams
}

type Hover struct {
	Contents MarkupContent `json:"contents"`
	Range    *Range        `json:"range,omitempty"`
}

// --- declaration / definition ---

type DeclarationParams struct {
	TextDocumentPositionParams
}

type DefinitionParams struct {
	TextDocumentPositionParams
}

// --- document symbol ---

type DocumentSymbolParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
}

type SymbolKind int

const (
	SymbolKindVariable SymbolKind = 13
	SymbolKindFunction SymbolKind = 12
	SymbolKindField    SymbolKind = 8
)

type DocumentSymbol struct {
	Name           string           `json:"name"`
	Kind           SymbolKind       `json:"kind"`
	Range          Range            `json:"range"`
	SelectionRange Range            `json:"selectionRange"`
	Children       []DocumentSymbol `json:"children,omitempty"`
}

// --- document link ---

type DocumentLinkParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
}

type DocumentLink struct {
	Range  Range        `json:"range"`
	Target *DocumentURI `json:"target,omitempty"`
}

// --- rename ---

type RenameParams struct {
	TextDocumentPositionParams
	NewName string `json:"newName"`
}

type PrepareRenameParams struct {
	TextDocumentPositionParams
}

type PrepareRenameResult struct {
	Range       Range  `json:"range"`
	Placeholder string `json:"placeholder"`
}

type TextEdit struct {
	Range   Range  `json:"range"`
	NewText string `json:"newText"`
}

type WorkspaceEdit struct {
	Changes map[DocumentURI][]TextEdit `json:"changes"`
}

// --- formatting ---

type FormattingOptions struct {
	TabSize      int  `json:"tabSize"`
	InsertSpaces bool `json:"insertSpaces"`
}

type DocumentFormattingParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
	Options      FormattingOptions      `json:"options"`
}

// --- completion ---

type CompletionTriggerKind int

const (
	CompletionInvoked           CompletionTriggerKind = 1
	CompletionTriggerCharacter  CompletionTriggerKind = 2
	CompletionIncompleteRetrigger CompletionTriggerKind = 3
)

type CompletionContext struct {
	TriggerKind      CompletionTriggerKind `json:"triggerKind"`
	TriggerCharacter *string               `json:"triggerCharacter,omitempty"`
}

type CompletionParams struct {
	TextDocumentPositionParams
	Context *CompletionContext `json:"context,omitempty"`
}

type CompletionItemKind int

const (
	CompletionItemKindVariable CompletionItemKind = 6
	CompletionItemKindField    CompletionItemKind = 5
	CompletionItemKindFunction CompletionItemKind = 3
	CompletionItemKindModule   CompletionItemKind = 9
)

type CompletionItem struct {
	Label  string             `json:"label"`
	Kind   CompletionItemKind `json:"kind,omitempty"`
	Detail string             `json:"detail,omitempty"`
}

type CompletionList struct {
	IsIncomplete bool             `json:"isIncomplete"`
	Items        []CompletionItem `json:"items"`
}

// --- workspace configuration ---

type DidChangeConfigurationParams struct {
	Settings json.RawMessage `json:"settings"`
}

type ConfigurationParams struct {
	Items []ConfigurationItem `json:"items"`
}

type ConfigurationItem struct {
	Section string `json:"section,omitempty"`
}

// --- internal controller<->worker IPC ---
//
// These mirror their public textDocument/* counterparts field-for-field
// so the controller can forward a request to a worker with no
// translation; option methods instead take an OptionPathParams naming
// a dotted attribute path, since option workers never see a text
// document.

type EvalDiagnosticParams struct {
	URI         DocumentURI  `json:"uri"`
	Version     int          `json:"version"`
	Diagnostics []Diagnostic `json:"diagnostics"`
}

type WorkerFinishedParams struct {
	Version int `json:"version"`
}

type OptionPathParams struct {
	Path string `json:"path"`
}

type OptionDeclarationResult struct {
	Location    Location `json:"location"`
	Description string   `json:"description,omitempty"`
}

type OptionCompletionResult struct {
	Items []CompletionItem `json:"items"`
}
