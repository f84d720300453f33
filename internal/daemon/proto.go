// Package daemon owns the workspace model: it serializes rebuilds and
// queries, broadcasts version changes, and serves protocol bridges over
// a per-workspace local socket.
package daemon

import (
	"encoding/json"

	"github.com/necessary-nu/tracey/internal/errors"
)

// Request is one newline-delimited frame sent by a client.
type Request struct {
	ID         string          `json:"id"`
	Method     string          `json:"method"`
	Params     json.RawMessage `json:"params,omitempty"`
	DeadlineMs int             `json:"deadline_ms,omitempty"`
}

// Response is one frame sent by the server. Frames with an empty ID
// and a Method set are server-push notifications.
type Response struct {
	ID     string          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Error  *WireError      `json:"error,omitempty"`
}

// WireError is the error shape carried on the socket.
type WireError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func wireError(err error) *WireError {
	if te, ok := err.(*errors.TraceyError); ok {
		return &WireError{Code: string(te.Code), Message: te.Message, Details: te.Details}
	}
	return &WireError{Code: string(errors.InternalError), Message: err.Error()}
}

// Method names understood by the daemon.
const (
	MethodPing      = "ping"
	MethodVersion   = "version"
	MethodSubscribe = "subscribe"
	MethodShutdown  = "shutdown"
	MethodReload    = "reload"

	MethodStatus    = "status"
	MethodUncovered = "uncovered"
	MethodUntested  = "untested"
	MethodStale     = "stale"
	MethodUnmapped  = "unmapped"
	MethodRule      = "rule"
	MethodValidate  = "validate"
	MethodConfig    = "config"
	MethodSpec      = "spec"
	MethodForward   = "forward"
	MethodFile      = "file"

	MethodVfsOpen   = "vfs_open"
	MethodVfsChange = "vfs_change"
	MethodVfsClose  = "vfs_close"

	MethodFileRangeFetch = "file_range_fetch"
	MethodFileRangePatch = "file_range_patch"

	MethodConfigInclude = "config_include"
	MethodConfigExclude = "config_exclude"
)

// NotifyVersion is the push notification emitted on every publish.
const NotifyVersion = "version"

// VersionParams is the payload of a version notification.
type VersionParams struct {
	Version uint64 `json:"version"`
}

// VfsParams is the payload of vfs_open/vfs_change/vfs_close.
type VfsParams struct {
	Path    string `json:"path"`
	Content string `json:"content,omitempty"`
}

// FilterParams narrows query results by spec/impl and base-ID prefix.
type FilterParams struct {
	Spec   string `json:"spec,omitempty"`
	Impl   string `json:"impl,omitempty"`
	Prefix string `json:"prefix,omitempty"`
	Path   string `json:"path,omitempty"`
}

// RuleParams selects one requirement.
type RuleParams struct {
	ID string `json:"id"`
}

// FileRangeParams addresses a byte range of a workspace file.
type FileRangeParams struct {
	Path     string `json:"path"`
	Start    int    `json:"start"`
	End      int    `json:"end"`
	Content  string `json:"content,omitempty"`
	FileHash string `json:"fileHash,omitempty"`
}

// ConfigPatternParams adds an include/exclude pattern to a spec or
// impl.
type ConfigPatternParams struct {
	Spec    string `json:"spec"`
	Impl    string `json:"impl,omitempty"`
	Pattern string `json:"pattern"`
}
