package lsp

import (
	"context"
	"encoding/json"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/necessary-nu/tracey/internal/daemon"
	"github.com/necessary-nu/tracey/internal/logging"
	"github.com/necessary-nu/tracey/internal/model"
	"github.com/necessary-nu/tracey/internal/paths"
	"github.com/necessary-nu/tracey/internal/query"
)

// diagnosticsDebounce is the quiet period after a change before
// diagnostics are recomputed.
const diagnosticsDebounce = 300 * time.Millisecond

// callTimeout bounds every daemon RPC issued on behalf of an editor
// request.
const callTimeout = 15 * time.Second

// Server is the language-server bridge.
type Server struct {
	root   string
	client *daemon.Client
	logger *logging.Logger
	t      *transport

	docMu sync.Mutex
	docs  map[string]string // uri -> current text

	diagMu     sync.Mutex
	diagTimers map[string]*time.Timer

	shutdownSeen bool
}

// NewServer creates the bridge over the given streams.
func NewServer(root string, client *daemon.Client, logger *logging.Logger, in io.Reader, out io.Writer) *Server {
	return &Server{
		root:       root,
		client:     client,
		logger:     logger,
		t:          newTransport(in, out),
		docs:       make(map[string]string),
		diagTimers: make(map[string]*time.Timer),
	}
}

// Run serves until the client disconnects or sends exit.
func (s *Server) Run() error {
	for {
		msg, err := s.t.read()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}

		if msg.Method == "exit" {
			return nil
		}
		s.handle(msg)
	}
}

func (s *Server) handle(msg *rpcMessage) {
	switch msg.Method {
	case "initialize":
		s.reply(msg, s.initializeResult())
	case "initialized":
		// No-op.
	case "shutdown":
		s.shutdownSeen = true
		s.reply(msg, nil)

	case "textDocument/didOpen":
		var p didOpenParams
		unmarshal(msg.Params, &p)
		s.didOpen(p)
	case "textDocument/didChange":
		var p didChangeParams
		unmarshal(msg.Params, &p)
		s.didChange(p)
	case "textDocument/didSave":
		var p didSaveParams
		unmarshal(msg.Params, &p)
		s.didSave(p)
	case "textDocument/didClose":
		var p didCloseParams
		unmarshal(msg.Params, &p)
		s.didClose(p)

	case "textDocument/hover":
		s.replyWith(msg, s.hover)
	case "textDocument/definition":
		s.replyWith(msg, s.definition)
	case "textDocument/implementation":
		s.replyWith(msg, s.implementation)
	case "textDocument/references":
		s.replyWith(msg, s.references)
	case "textDocument/completion":
		s.replyWith(msg, s.completion)
	case "textDocument/codeLens":
		s.handleCodeLens(msg)
	case "textDocument/codeAction":
		s.handleCodeAction(msg)
	case "textDocument/documentSymbol":
		s.handleDocumentSymbol(msg)
	case "workspace/symbol":
		s.handleWorkspaceSymbol(msg)
	case "textDocument/prepareRename":
		s.handlePrepareRename(msg)
	case "textDocument/rename":
		s.handleRename(msg)

	default:
		if msg.ID != nil {
			s.replyError(msg, codeMethodNotFound, "unhandled method "+msg.Method)
		}
	}
}

func (s *Server) initializeResult() interface{} {
	return map[string]interface{}{
		"capabilities": map[string]interface{}{
			"textDocumentSync": map[string]interface{}{
				"openClose": true,
				"change":    1, // full sync
				"save":      map[string]interface{}{"includeText": true},
			},
			"hoverProvider":          true,
			"definitionProvider":     true,
			"implementationProvider": true,
			"referencesProvider":     true,
			"completionProvider": map[string]interface{}{
				"triggerCharacters": []string{"[", " ", "."},
			},
			"codeLensProvider":       map[string]interface{}{"resolveProvider": false},
			"codeActionProvider":     true,
			"documentSymbolProvider": true,
			"workspaceSymbolProvider": true,
			"renameProvider": map[string]interface{}{
				"prepareProvider": true,
			},
		},
		"serverInfo": map[string]interface{}{
			"name": "tracey",
		},
	}
}

// replyWith runs a position-based feature handler.
func (s *Server) replyWith(msg *rpcMessage, fn func(ctx context.Context, p textDocumentPositionParams) (interface{}, error)) {
	var p textDocumentPositionParams
	if err := json.Unmarshal(msg.Params, &p); err != nil {
		s.replyError(msg, codeInvalidParams, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	result, err := fn(ctx, p)
	if err != nil {
		s.replyError(msg, codeRequestFailed, err.Error())
		return
	}
	s.reply(msg, result)
}

func (s *Server) reply(msg *rpcMessage, result interface{}) {
	if msg.ID == nil {
		return
	}
	_ = s.t.write(&rpcMessage{ID: msg.ID, Result: result})
}

func (s *Server) replyError(msg *rpcMessage, code int, message string) {
	if msg.ID == nil {
		return
	}
	_ = s.t.write(&rpcMessage{ID: msg.ID, Error: &rpcError{Code: code, Message: message}})
}

func (s *Server) notify(method string, params interface{}) {
	data, err := json.Marshal(params)
	if err != nil {
		return
	}
	_ = s.t.write(&rpcMessage{Method: method, Params: data})
}

// Document lifecycle: every event funnels into the daemon's VFS
// overlay, then diagnostics are recomputed.

func (s *Server) didOpen(p didOpenParams) {
	uri := p.TextDocument.URI
	s.docMu.Lock()
	s.docs[uri] = p.TextDocument.Text
	s.docMu.Unlock()

	s.vfs(daemon.MethodVfsOpen, uri, p.TextDocument.Text)
	s.scheduleDiagnostics(uri, 0)
}

func (s *Server) didChange(p didChangeParams) {
	if len(p.ContentChanges) == 0 {
		return
	}
	uri := p.TextDocument.URI
	text := p.ContentChanges[len(p.ContentChanges)-1].Text

	s.docMu.Lock()
	s.docs[uri] = text
	s.docMu.Unlock()

	s.vfs(daemon.MethodVfsChange, uri, text)
	s.scheduleDiagnostics(uri, diagnosticsDebounce)
}

func (s *Server) didSave(p didSaveParams) {
	s.scheduleDiagnostics(p.TextDocument.URI, 0)
}

func (s *Server) didClose(p didCloseParams) {
	uri := p.TextDocument.URI
	s.docMu.Lock()
	delete(s.docs, uri)
	s.docMu.Unlock()

	s.vfs(daemon.MethodVfsClose, uri, "")
	// Clear diagnostics for the closed document.
	s.notify("textDocument/publishDiagnostics", publishDiagnosticsParams{
		URI:         uri,
		Diagnostics: []diagnostic{},
	})
}

func (s *Server) vfs(method, uri, content string) {
	rel, ok := s.uriToRel(uri)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	if err := s.client.Call(ctx, method, daemon.VfsParams{Path: rel, Content: content}, nil); err != nil {
		s.logger.Warn("VFS call failed", map[string]interface{}{
			"method": method,
			"error":  err.Error(),
		})
	}
}

// scheduleDiagnostics debounces per document; a newer change cancels
// the pending publish.
func (s *Server) scheduleDiagnostics(uri string, delay time.Duration) {
	s.diagMu.Lock()
	defer s.diagMu.Unlock()

	if t, ok := s.diagTimers[uri]; ok {
		t.Stop()
	}
	if delay == 0 {
		go s.publishDiagnostics(uri)
		return
	}
	s.diagTimers[uri] = time.AfterFunc(delay, func() {
		s.publishDiagnostics(uri)
	})
}

func (s *Server) publishDiagnostics(uri string) {
	rel, ok := s.uriToRel(uri)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	var report query.ValidationReport
	if err := s.client.Call(ctx, daemon.MethodValidate, nil, &report); err != nil {
		return
	}

	text := s.docText(uri)
	var diags []diagnostic
	appendIssues := func(issues []model.Issue, severity int) {
		for _, is := range issues {
			if is.File != rel {
				continue
			}
			diags = append(diags, diagnostic{
				Range:    lineRange(text, is.Line),
				Severity: severity,
				Code:     is.Code,
				Source:   "tracey",
				Message:  diagMessage(is),
			})
		}
	}
	appendIssues(report.Errors, severityError)
	appendIssues(report.Warnings, severityWarning)
	if diags == nil {
		diags = []diagnostic{}
	}

	s.notify("textDocument/publishDiagnostics", publishDiagnosticsParams{
		URI:         uri,
		Diagnostics: diags,
	})
}

func diagMessage(is model.Issue) string {
	msg := is.Message
	if len(is.Suggestions) > 0 {
		msg += " (did you mean " + strings.Join(is.Suggestions, ", ") + "?)"
	}
	return msg
}

// uriToRel converts a file:// URI to a canonical workspace path.
func (s *Server) uriToRel(uri string) (string, bool) {
	path, ok := uriToPath(uri)
	if !ok || !paths.IsWithin(path, s.root) {
		return "", false
	}
	return paths.Canonicalize(path, s.root), true
}

func (s *Server) relToURI(rel string) string {
	return pathToURI(paths.Join(s.root, rel))
}

func uriToPath(uri string) (string, bool) {
	if !strings.HasPrefix(uri, "file://") {
		return "", false
	}
	u, err := url.Parse(uri)
	if err != nil {
		return "", false
	}
	return u.Path, true
}

func pathToURI(path string) string {
	return "file://" + path
}

// docText returns the open-document text, or the on-disk content.
func (s *Server) docText(uri string) string {
	s.docMu.Lock()
	text, ok := s.docs[uri]
	s.docMu.Unlock()
	if ok {
		return text
	}
	if path, pok := uriToPath(uri); pok {
		if data, err := readFile(path); err == nil {
			return data
		}
	}
	return ""
}

func unmarshal(raw json.RawMessage, out interface{}) {
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, out)
	}
}
