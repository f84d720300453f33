// Package mcp exposes the daemon's query surface to AI agents as MCP
// tools over stdio.
//
// Every tool response begins with an overall status line and a delta
// block describing what changed since the session's previous query.
package mcp

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/necessary-nu/tracey/internal/daemon"
	"github.com/necessary-nu/tracey/internal/query"
	"github.com/necessary-nu/tracey/internal/version"
)

// Bridge is the AI tool bridge. It holds the shared RPC client and the
// per-session delta state.
type Bridge struct {
	client *daemon.Client

	mu        sync.Mutex
	sessionID string
	lastSeen  *query.StatusReport
}

// New creates the bridge and its MCP server with all tools registered.
func New(client *daemon.Client) (*Bridge, *server.MCPServer) {
	b := &Bridge{
		client:    client,
		sessionID: uuid.NewString(),
	}

	s := server.NewMCPServer(
		"tracey",
		version.Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(instructions),
	)

	for _, t := range b.tools() {
		s.AddTool(t.def, t.handler)
	}
	return b, s
}

// Serve runs the MCP server on stdio until EOF.
func Serve(s *server.MCPServer) error {
	return server.ServeStdio(s)
}

const instructions = `tracey tracks bidirectional traceability between Markdown
specifications and the code that implements them. Requirements are defined with
PREFIX[id] markers in spec files and referenced from source comments with
PREFIX[verb id] annotations. Use tracey_status first to see overall coverage,
then drill into uncovered, untested, stale, or unmapped work.`

type tool struct {
	def     mcp.Tool
	handler server.ToolHandlerFunc
}

func (b *Bridge) tools() []tool {
	specImplOpts := []mcp.ToolOption{
		mcp.WithString("spec", mcp.Description("Restrict to one spec by name")),
		mcp.WithString("impl", mcp.Description("Restrict to one implementation by name")),
	}

	listTool := func(name, desc, method, title string) tool {
		opts := append([]mcp.ToolOption{
			mcp.WithDescription(desc),
			mcp.WithString("prefix", mcp.Description("Restrict to base IDs starting with this prefix")),
		}, specImplOpts...)
		return tool{
			def: mcp.NewTool(name, opts...),
			handler: func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
				params := daemon.FilterParams{
					Spec:   req.GetString("spec", ""),
					Impl:   req.GetString("impl", ""),
					Prefix: req.GetString("prefix", ""),
				}
				var groups []query.Group
				if err := b.client.Call(ctx, method, params, &groups); err != nil {
					return mcp.NewToolResultError(err.Error()), nil
				}
				return b.respond(ctx, query.RenderGroups(title, groups))
			},
		}
	}

	return []tool{
		{
			def: mcp.NewTool("tracey_status",
				mcp.WithDescription("Coverage totals and percentages per (spec, implementation) pair."),
			),
			handler: func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
				var report query.StatusReport
				if err := b.client.Call(ctx, daemon.MethodStatus, nil, &report); err != nil {
					return mcp.NewToolResultError(err.Error()), nil
				}
				return b.respond(ctx, query.RenderStatus(report))
			},
		},
		listTool("tracey_uncovered",
			"Requirements with no impl reference at their current version, grouped by section.",
			daemon.MethodUncovered, "uncovered"),
		listTool("tracey_untested",
			"Requirements with no verify reference at their current version, grouped by section.",
			daemon.MethodUntested, "untested"),
		listTool("tracey_stale",
			"Requirements whose impl references pin an older version than the current one.",
			daemon.MethodStale, "stale"),
		{
			def: mcp.NewTool("tracey_unmapped",
				append([]mcp.ToolOption{
					mcp.WithDescription("Reverse coverage: directories and files with unreferenced code units. Pass a path to zoom into one file's units."),
					mcp.WithString("path", mcp.Description("Zoom to one file's unit list")),
				}, specImplOpts...)...,
			),
			handler: func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
				params := daemon.FilterParams{
					Spec: req.GetString("spec", ""),
					Impl: req.GetString("impl", ""),
					Path: req.GetString("path", ""),
				}
				var results []query.UnmappedResult
				if err := b.client.Call(ctx, daemon.MethodUnmapped, params, &results); err != nil {
					return mcp.NewToolResultError(err.Error()), nil
				}
				return b.respond(ctx, query.RenderUnmapped(results))
			},
		},
		{
			def: mcp.NewTool("tracey_rule",
				mcp.WithDescription("Full requirement text plus every reference across implementations."),
				mcp.WithString("id", mcp.Required(), mcp.Description("Requirement base ID, e.g. auth.login")),
			),
			handler: func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
				id := req.GetString("id", "")
				if id == "" {
					return mcp.NewToolResultError("'id' is required"), nil
				}
				var detail query.RuleDetail
				if err := b.client.Call(ctx, daemon.MethodRule, daemon.RuleParams{ID: id}, &detail); err != nil {
					return mcp.NewToolResultError(err.Error()), nil
				}
				return b.respond(ctx, query.RenderRule(&detail))
			},
		},
		{
			def: mcp.NewTool("tracey_validate",
				mcp.WithDescription("Full validation report: parse, merge, versioning, and filesystem problems."),
			),
			handler: func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
				var report query.ValidationReport
				if err := b.client.Call(ctx, daemon.MethodValidate, nil, &report); err != nil {
					return mcp.NewToolResultError(err.Error()), nil
				}
				return b.respond(ctx, query.RenderValidation(report))
			},
		},
		{
			def: mcp.NewTool("tracey_config",
				mcp.WithDescription("Workspace root plus the configured specs and implementations."),
			),
			handler: func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
				var raw map[string]interface{}
				if err := b.client.Call(ctx, daemon.MethodConfig, nil, &raw); err != nil {
					return mcp.NewToolResultError(err.Error()), nil
				}
				return b.respond(ctx, fmt.Sprintf("%+v", raw))
			},
		},
	}
}

// respond prefixes a tool payload with the status line and the delta
// since the previous query of this session.
func (b *Bridge) respond(ctx context.Context, body string) (*mcp.CallToolResult, error) {
	var report query.StatusReport
	if err := b.client.Call(ctx, daemon.MethodStatus, nil, &report); err != nil {
		// The payload is still useful without the header.
		return mcp.NewToolResultText(body), nil
	}

	header := query.StatusLine(report) + "\n" + b.delta(&report) + "\n\n"
	return mcp.NewToolResultText(header + body), nil
}

// delta renders what changed since this session's last query.
func (b *Bridge) delta(current *query.StatusReport) string {
	b.mu.Lock()
	prev := b.lastSeen
	b.lastSeen = current
	b.mu.Unlock()

	if prev == nil {
		return "delta: first query of this session"
	}
	if prev.Version == current.Version {
		return "delta: no model changes since last query"
	}

	var changes []string
	prevPairs := make(map[string]query.PairStatus, len(prev.Pairs))
	for _, p := range prev.Pairs {
		prevPairs[p.Spec+"/"+p.Impl] = p
	}
	for _, p := range current.Pairs {
		key := p.Spec + "/" + p.Impl
		old, ok := prevPairs[key]
		if !ok {
			changes = append(changes, fmt.Sprintf("%s added", key))
			continue
		}
		if old.Stats != p.Stats {
			changes = append(changes, fmt.Sprintf("%s impl %d→%d covered, %d→%d stale, %d→%d uncovered",
				key,
				old.Stats.CoveredImpl, p.Stats.CoveredImpl,
				old.Stats.Stale, p.Stats.Stale,
				old.Stats.Uncovered, p.Stats.Uncovered))
		}
	}

	if len(changes) == 0 {
		return fmt.Sprintf("delta: model rebuilt (v%d → v%d), coverage unchanged", prev.Version, current.Version)
	}
	out := fmt.Sprintf("delta: v%d → v%d", prev.Version, current.Version)
	for _, ch := range changes {
		out += "\n  " + ch
	}
	return out
}
