// Package dispatcher routes MCP JSON-RPC requests to tool handlers,
// applying admission control and audit recording around each call.
package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/woodwosj/OdooDevMCP/pkg/audit"
	"github.com/woodwosj/OdooDevMCP/pkg/bootstrap"
	"github.com/woodwosj/OdooDevMCP/pkg/protocol"
	"github.com/woodwosj/OdooDevMCP/pkg/ratelimit"
	"github.com/woodwosj/OdooDevMCP/pkg/tools"
)

const logPrefix = "dispatcher:dispatch"

// ServerName is reported in the initialize handshake.
const ServerName = "odoo-dev-mcp"

// MCPProtocolVersion is the MCP revision this server speaks.
const MCPProtocolVersion = "2024-11-05"

// Options configures a Dispatcher.
type Options struct {
	Registry *tools.Registry
	Service  *tools.Service
	Limiter  *ratelimit.Limiter
	Limits   *bootstrap.ResolvedLimits
	Audit    *audit.Sink

	// Tenant scopes rate limiting and audit lines, normally the
	// backing database name.
	Tenant string
	// User is the identity recorded on audit lines. Authentication
	// happens upstream, so one identity covers the whole surface.
	User string
	// Version is reported in the initialize handshake.
	Version string
}

// Dispatcher is the stateless MCP request router. All mutable state
// lives in the limiter and the audit sink.
type Dispatcher struct {
	registry *tools.Registry
	service  *tools.Service
	limiter  *ratelimit.Limiter
	limits   *bootstrap.ResolvedLimits
	audit    *audit.Sink
	tenant   string
	user     string
	version  string
}

// New creates a Dispatcher.
func New(opts Options) *Dispatcher {
	if opts.User == "" {
		opts.User = "system"
	}
	if opts.Version == "" {
		opts.Version = "1.0.0"
	}
	return &Dispatcher{
		registry: opts.Registry,
		service:  opts.Service,
		limiter:  opts.Limiter,
		limits:   opts.Limits,
		audit:    opts.Audit,
		tenant:   opts.Tenant,
		user:     opts.User,
		version:  opts.Version,
	}
}

type serverInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type serverCapabilities struct {
	Tools     struct{} `json:"tools"`
	Resources struct{} `json:"resources"`
}

type initializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	ServerInfo      serverInfo         `json:"serverInfo"`
	Capabilities    serverCapabilities `json:"capabilities"`
}

type toolEntry struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

type toolsListResult struct {
	Tools []toolEntry `json:"tools"`
}

type toolsCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type contentItem struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type toolsCallResult struct {
	Content []contentItem `json:"content"`
}

type resourcesListResult struct {
	Resources []tools.Resource `json:"resources"`
}

type resourcesReadParams struct {
	URI string `json:"uri"`
}

type resourcesReadResult struct {
	Contents []tools.ResourceContent `json:"contents"`
}

// Dispatch routes one request to its handler and always returns a
// response. A panic inside a handler is answered as an internal error;
// a single bad call must never take the server down.
func (d *Dispatcher) Dispatch(ctx context.Context, req *protocol.Request) (resp *protocol.Response) {
	var id interface{}
	if req != nil {
		id = req.ID
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error(fmt.Sprintf("%s - panic handling request: %v", logPrefix, r))
			resp = protocol.NewError(id, protocol.CodeInternalError, "Internal error", nil)
		}
	}()

	if req == nil {
		return protocol.NewError(nil, protocol.CodeInvalidRequest, "Invalid Request", "Request must be a JSON object")
	}
	if req.JSONRPC != protocol.JSONRPCVersion {
		return protocol.NewError(req.ID, protocol.CodeInvalidRequest, "Invalid Request", "jsonrpc must be '2.0'")
	}
	if req.Method == "" {
		return protocol.NewError(req.ID, protocol.CodeInvalidRequest, "Invalid Request", "method is required")
	}

	slog.Debug(fmt.Sprintf("%s - method=%s id=%v", logPrefix, req.Method, req.ID))

	switch req.Method {
	case "initialize":
		return d.handleInitialize(req)
	case "tools/list":
		return d.handleToolsList(req)
	case "tools/call":
		return d.handleToolsCall(ctx, req)
	case "resources/list":
		return d.handleResourcesList(req)
	case "resources/read":
		return d.handleResourcesRead(ctx, req)
	default:
		return protocol.NewError(req.ID, protocol.CodeMethodNotFound, "Method not found", fmt.Sprintf("Unknown method: %s", req.Method))
	}
}

func (d *Dispatcher) handleInitialize(req *protocol.Request) *protocol.Response {
	return protocol.NewResult(req.ID, initializeResult{
		ProtocolVersion: MCPProtocolVersion,
		ServerInfo:      serverInfo{Name: ServerName, Version: d.version},
	})
}

func (d *Dispatcher) handleToolsList(req *protocol.Request) *protocol.Response {
	descriptors := d.registry.List()
	entries := make([]toolEntry, 0, len(descriptors))
	for _, desc := range descriptors {
		entries = append(entries, toolEntry{
			Name:        desc.Name,
			Description: desc.Description,
			InputSchema: desc.InputSchema,
		})
	}
	return protocol.NewResult(req.ID, toolsListResult{Tools: entries})
}

func (d *Dispatcher) handleToolsCall(ctx context.Context, req *protocol.Request) *protocol.Response {
	var params toolsCallParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return protocol.NewError(req.ID, protocol.CodeInvalidParams, "Invalid params", fmt.Sprintf("Failed to parse params: %v", err))
		}
	}
	if params.Name == "" {
		return protocol.NewError(req.ID, protocol.CodeInvalidParams, "Invalid params", "Tool name is required")
	}

	desc, ok := d.registry.Get(params.Name)
	if !ok {
		return protocol.NewError(req.ID, protocol.CodeMethodNotFound, "Tool not found", fmt.Sprintf("Unknown tool: %s", params.Name))
	}

	// Admission happens before the handler runs; a rejection must not
	// execute anything.
	category := desc.Category
	if d.limits != nil {
		category = d.limits.CategoryFor(params.Name, desc.Category)
	}
	if category != "" && d.limiter != nil {
		if err := d.limiter.Admit(category, d.tenant); err != nil {
			var limitErr *ratelimit.LimitError
			if errors.As(err, &limitErr) {
				slog.Warn(fmt.Sprintf("%s - Rate limit hit for %s (%s)", logPrefix, params.Name, category))
				d.record(params.Name, audit.OutcomeRateLimited, 0, []audit.Field{audit.F("category", category)})
				return protocol.NewError(req.ID, protocol.CodeRateLimited, "Rate limit exceeded", limitErr.Error())
			}
			return protocol.NewError(req.ID, protocol.CodeInternalError, "Internal error", nil)
		}
	}

	slog.Info(fmt.Sprintf("%s - Calling tool %s", logPrefix, params.Name))

	start := time.Now()
	result, err := desc.Handler(ctx, params.Arguments)
	duration := time.Since(start)
	if err != nil {
		return d.errorResponse(req.ID, params.Name, duration, err)
	}

	text, marshalErr := json.MarshalIndent(result.Data, "", "  ")
	if marshalErr != nil {
		slog.Error(fmt.Sprintf("%s - Result encoding failed for %s: %v", logPrefix, params.Name, marshalErr))
		d.record(params.Name, audit.OutcomeError, duration, []audit.Field{audit.F("error", "result encoding failed")})
		return protocol.NewError(req.ID, protocol.CodeInternalError, "Tool execution failed", "result encoding failed")
	}

	d.record(params.Name, audit.OutcomeOK, duration, result.Audit)

	return protocol.NewResult(req.ID, toolsCallResult{
		Content: []contentItem{{Type: "text", Text: string(text)}},
	})
}

func (d *Dispatcher) handleResourcesList(req *protocol.Request) *protocol.Response {
	return protocol.NewResult(req.ID, resourcesListResult{Resources: d.service.ListResources()})
}

func (d *Dispatcher) handleResourcesRead(ctx context.Context, req *protocol.Request) *protocol.Response {
	var params resourcesReadParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return protocol.NewError(req.ID, protocol.CodeInvalidParams, "Invalid params", fmt.Sprintf("Failed to parse params: %v", err))
		}
	}
	if params.URI == "" {
		return protocol.NewError(req.ID, protocol.CodeInvalidParams, "Invalid params", "Resource URI is required")
	}

	start := time.Now()
	content, err := d.service.ReadResource(ctx, params.URI)
	duration := time.Since(start)
	if err != nil {
		return d.errorResponse(req.ID, "resources/read", duration, err)
	}

	d.record("resources/read", audit.OutcomeOK, duration, []audit.Field{audit.F("uri", params.URI)})

	return protocol.NewResult(req.ID, resourcesReadResult{
		Contents: []tools.ResourceContent{*content},
	})
}

// errorResponse maps a handler error to the wire and records it. Full
// detail stays in slog and the audit trail; the wire carries only the
// handler's redacted message.
func (d *Dispatcher) errorResponse(id interface{}, tool string, duration time.Duration, err error) *protocol.Response {
	var te *tools.ToolError
	if !errors.As(err, &te) {
		slog.Error(fmt.Sprintf("%s - Tool %s failed: %v", logPrefix, tool, err))
		d.record(tool, audit.OutcomeError, duration, []audit.Field{audit.F("error", err.Error())})
		return protocol.NewError(id, protocol.CodeInternalError, "Tool execution failed", "internal error")
	}

	switch te.Kind {
	case tools.KindValidation, tools.KindNotFound:
		d.record(tool, audit.OutcomeError, duration, []audit.Field{audit.F("error", te.Message)})
		return protocol.NewError(id, protocol.CodeInvalidParams, "Invalid params", te.Message)
	case tools.KindRateLimited:
		d.record(tool, audit.OutcomeRateLimited, duration, nil)
		return protocol.NewError(id, protocol.CodeRateLimited, "Rate limit exceeded", te.Message)
	case tools.KindTimeout:
		d.record(tool, audit.OutcomeTimeout, duration, []audit.Field{audit.F("error", te.Message)})
		return protocol.NewError(id, protocol.CodeTimeout, "Operation timed out", te.Message)
	default:
		slog.Error(fmt.Sprintf("%s - Tool %s failed: %s", logPrefix, tool, te.Message))
		d.record(tool, audit.OutcomeError, duration, []audit.Field{audit.F("error", te.Message)})
		return protocol.NewError(id, protocol.CodeInternalError, "Tool execution failed", te.Message)
	}
}

func (d *Dispatcher) record(tool, outcome string, duration time.Duration, fields []audit.Field) {
	if d.audit == nil {
		return
	}
	d.audit.Record(audit.Event{
		Tenant:   d.tenant,
		User:     d.user,
		Tool:     tool,
		Outcome:  outcome,
		Duration: duration,
		Fields:   fields,
	})
}
