package web

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/net/websocket"

	"github.com/necessary-nu/tracey/internal/daemon"
	"github.com/necessary-nu/tracey/internal/errors"
	"github.com/necessary-nu/tracey/internal/paths"
)

func (s *Server) registerRoutes() {
	s.router.HandleFunc("/api/config", s.handleConfig)
	s.router.HandleFunc("/api/spec", s.handleSpec)
	s.router.HandleFunc("/api/forward", s.handleForward)
	s.router.HandleFunc("/api/reverse", s.handleReverse)
	s.router.HandleFunc("/api/file", s.handleFile)
	s.router.HandleFunc("/api/version", s.handleVersion)
	s.router.HandleFunc("/api/check-git", s.handleCheckGit)
	s.router.HandleFunc("/api/file-range", s.handleFileRange)
	s.router.HandleFunc("/api/status", s.handleStatus)
	s.router.HandleFunc("/api/validate", s.handleValidate)
	s.router.HandleFunc("/api/health", s.handleHealth)
	s.router.Handle("/ws", websocket.Handler(s.handleWS))
	s.router.HandleFunc("/", s.handleIndex)
}

func (s *Server) callCtx(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), 30*time.Second)
}

// call proxies one RPC and writes the raw result.
func (s *Server) call(w http.ResponseWriter, r *http.Request, method string, params interface{}) {
	ctx, cancel := s.callCtx(r)
	defer cancel()

	var result json.RawMessage
	if err := s.client.Call(ctx, method, params, &result); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	if !requireGet(w, r) {
		return
	}
	s.call(w, r, daemon.MethodConfig, nil)
}

func (s *Server) handleSpec(w http.ResponseWriter, r *http.Request) {
	if !requireGet(w, r) {
		return
	}
	s.call(w, r, daemon.MethodSpec, daemon.FilterParams{
		Spec: r.URL.Query().Get("spec"),
		Impl: r.URL.Query().Get("impl"),
	})
}

func (s *Server) handleForward(w http.ResponseWriter, r *http.Request) {
	if !requireGet(w, r) {
		return
	}
	s.call(w, r, daemon.MethodForward, daemon.FilterParams{
		Spec: r.URL.Query().Get("spec"),
		Impl: r.URL.Query().Get("impl"),
	})
}

func (s *Server) handleReverse(w http.ResponseWriter, r *http.Request) {
	if !requireGet(w, r) {
		return
	}
	s.call(w, r, daemon.MethodUnmapped, daemon.FilterParams{
		Spec: r.URL.Query().Get("spec"),
		Impl: r.URL.Query().Get("impl"),
	})
}

// handleFile returns file content plus the daemon's view of its units
// and references.
func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	if !requireGet(w, r) {
		return
	}
	q := r.URL.Query()
	rel := q.Get("path")
	if rel == "" {
		writeError(w, errors.New(errors.RangeInvalid, "path parameter is required"))
		return
	}

	abs := paths.Join(s.root, rel)
	if !paths.IsWithin(abs, s.root) {
		writeError(w, errors.New(errors.RangeInvalid, "path is outside the workspace"))
		return
	}

	ctx, cancel := s.callCtx(r)
	defer cancel()

	var detail json.RawMessage
	err := s.client.Call(ctx, daemon.MethodFile, daemon.FilterParams{
		Spec: q.Get("spec"),
		Impl: q.Get("impl"),
		Path: rel,
	}, &detail)
	if err != nil {
		writeError(w, err)
		return
	}

	content, rerr := os.ReadFile(abs)
	if rerr != nil {
		writeError(w, errors.Wrap(errors.FileNotFound, rel, rerr))
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"path":    rel,
		"content": string(content),
		"detail":  detail,
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	if !requireGet(w, r) {
		return
	}
	s.call(w, r, daemon.MethodVersion, nil)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !requireGet(w, r) {
		return
	}
	s.call(w, r, daemon.MethodStatus, nil)
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	if !requireGet(w, r) {
		return
	}
	s.call(w, r, daemon.MethodValidate, nil)
}

// handleHealth reports bridge and daemon liveness without touching the
// model.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !requireGet(w, r) {
		return
	}
	ctx, cancel := s.callCtx(r)
	defer cancel()

	status := "healthy"
	if err := s.client.Call(ctx, daemon.MethodPing, nil, nil); err != nil {
		status = "degraded: " + err.Error()
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

func (s *Server) handleCheckGit(w http.ResponseWriter, r *http.Request) {
	if !requireGet(w, r) {
		return
	}
	rel := r.URL.Query().Get("path")
	abs := paths.Join(s.root, rel)
	if !paths.IsWithin(abs, s.root) {
		writeError(w, errors.New(errors.RangeInvalid, "path is outside the workspace"))
		return
	}

	inGit := false
	for dir := abs; ; {
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			inGit = true
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir || !paths.IsWithin(dir, s.root) {
			break
		}
		dir = parent
	}
	writeJSON(w, http.StatusOK, map[string]bool{"inGit": inGit})
}

// handleFileRange implements GET and PATCH /api/file-range over the
// daemon's range surface.
func (s *Server) handleFileRange(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		q := r.URL.Query()
		start, err1 := strconv.Atoi(q.Get("start"))
		end, err2 := strconv.Atoi(q.Get("end"))
		if err1 != nil || err2 != nil {
			writeError(w, errors.New(errors.RangeInvalid, "start and end must be integers"))
			return
		}
		s.call(w, r, daemon.MethodFileRangeFetch, daemon.FileRangeParams{
			Path:  q.Get("path"),
			Start: start,
			End:   end,
		})

	case http.MethodPatch:
		var body struct {
			Path     string `json:"path"`
			Start    int    `json:"start"`
			End      int    `json:"end"`
			Content  string `json:"content"`
			FileHash string `json:"fileHash"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, errors.New(errors.RangeInvalid, "malformed body: "+err.Error()))
			return
		}
		s.call(w, r, daemon.MethodFileRangePatch, daemon.FileRangeParams{
			Path:     body.Path,
			Start:    body.Start,
			End:      body.End,
			Content:  body.Content,
			FileHash: body.FileHash,
		})

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(indexHTML))
}

func requireGet(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// errorBody is the structured error shape of the HTTP surface.
type errorBody struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, err error) {
	code := errors.CodeOf(err)
	body := errorBody{Code: string(code), Message: err.Error()}
	if te, ok := err.(*errors.TraceyError); ok {
		body.Message = te.Message
		body.Details = te.Details
	}
	writeJSON(w, statusFor(code), body)
}

// statusFor maps error codes to HTTP statuses: 409 on hash conflicts,
// 400 on invalid ranges, 422 on UTF-8 splits.
func statusFor(code errors.ErrorCode) int {
	switch code {
	case errors.HashConflict:
		return http.StatusConflict
	case errors.RangeInvalid:
		return http.StatusBadRequest
	case errors.RangeNotUTF8:
		return http.StatusUnprocessableEntity
	case errors.FileNotFound, errors.RuleNotFound, errors.SpecNotFound, errors.ImplNotFound:
		return http.StatusNotFound
	case errors.DeadlineExceeded:
		return http.StatusGatewayTimeout
	case errors.DaemonUnavailable, errors.ProtocolMismatch:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// indexHTML is the minimal built-in dashboard shell. The full
// front-end is developed separately and talks to the same JSON API.
const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>tracey</title>
<style>
body { font-family: ui-monospace, monospace; margin: 2rem; }
pre { background: #f4f4f4; padding: 1rem; overflow: auto; }
</style>
</head>
<body>
<h1>tracey</h1>
<p>Model version: <span id="version">?</span></p>
<pre id="status">loading…</pre>
<script>
fetch('/api/status').then(r => r.json()).then(s => {
  document.getElementById('status').textContent = JSON.stringify(s, null, 2);
});
const ws = new WebSocket('ws://' + location.host + '/ws');
ws.onmessage = ev => {
  const msg = JSON.parse(ev.data);
  if (msg.type === 'version') {
    document.getElementById('version').textContent = msg.version;
    fetch('/api/status').then(r => r.json()).then(s => {
      document.getElementById('status').textContent = JSON.stringify(s, null, 2);
    });
  }
};
</script>
</body>
</html>
`
