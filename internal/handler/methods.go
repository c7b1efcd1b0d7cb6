package handler

import (
	"context"
	"encoding/json"

	"github.com/mcpanvil/core/internal/backend"
	"github.com/mcpanvil/core/internal/domain/auth"
	"github.com/mcpanvil/core/internal/middleware"
	"github.com/mcpanvil/core/internal/protocol"
)

type initializeParams struct {
	ProtocolVersion string                 `json:"protocolVersion"`
	Capabilities    map[string]interface{} `json:"capabilities"`
	ClientInfo      struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"clientInfo"`
}

type initializeResult struct {
	ProtocolVersion string                 `json:"protocolVersion"`
	Capabilities    map[string]interface{} `json:"capabilities"`
	ServerInfo      backend.Implementation `json:"serverInfo"`
	Instructions    string                 `json:"instructions,omitempty"`
}

type listParams struct {
	Cursor string `json:"cursor,omitempty"`
}

type listToolsResult struct {
	Tools      []backend.Tool `json:"tools"`
	NextCursor string         `json:"nextCursor,omitempty"`
}

type listResourcesResult struct {
	Resources  []backend.Resource `json:"resources"`
	NextCursor string             `json:"nextCursor,omitempty"`
}

type listResourceTemplatesResult struct {
	ResourceTemplates []backend.ResourceTemplate `json:"resourceTemplates"`
	NextCursor        string                      `json:"nextCursor,omitempty"`
}

type listPromptsResult struct {
	Prompts    []backend.Prompt `json:"prompts"`
	NextCursor string           `json:"nextCursor,omitempty"`
}

type readResourceParams struct {
	URI string `json:"uri"`
}

type readResourceResult struct {
	Contents []backend.ResourceContents `json:"contents"`
}

type getPromptParams struct {
	Name      string            `json:"name"`
	Arguments map[string]string `json:"arguments,omitempty"`
}

type getPromptResult struct {
	Description string                  `json:"description,omitempty"`
	Messages    []backend.PromptMessage `json:"messages"`
}

type subscribeParams struct {
	URI string `json:"uri"`
}

type setLevelParams struct {
	Level string `json:"level"`
}

// dispatch routes req to the backend operation named by its method (spec
// §4.7's dispatch table). It is always invoked from within the middleware
// pipeline, after security_validate/auth/monitoring_pre have run.
func (h *Handler) dispatch(ctx context.Context, conn *Connection, rc *middleware.RequestContext) (interface{}, *protocol.Error) {
	req := rc.Request

	switch req.Method {
	case "initialize":
		return h.handleInitialize(ctx, conn, req.Params)
	case "notifications/initialized":
		conn.MarkReady()
		return nil, nil
	case "ping":
		return struct{}{}, nil
	case "tools/list":
		return h.handleListTools(ctx, rc, req.Params)
	case "tools/call":
		return h.handleCallTool(ctx, rc, req.Params)
	case "resources/list":
		return h.handleListResources(ctx, rc, req.Params)
	case "resources/read":
		return h.handleReadResource(ctx, rc, req.Params)
	case "resources/templates/list":
		return h.handleListResourceTemplates(ctx, rc, req.Params)
	case "resources/subscribe":
		return h.handleSubscribe(ctx, rc, req.Params)
	case "resources/unsubscribe":
		return h.handleUnsubscribe(ctx, rc, req.Params)
	case "prompts/list":
		return h.handleListPrompts(ctx, rc, req.Params)
	case "prompts/get":
		return h.handleGetPrompt(ctx, rc, req.Params)
	case "completion/complete":
		return h.handleComplete(ctx, rc, req.Params)
	case "logging/setLevel":
		return h.handleSetLevel(ctx, rc, req.Params)
	default:
		return nil, protocol.MethodNotFound(req.Method)
	}
}

func (h *Handler) handleInitialize(ctx context.Context, conn *Connection, raw json.RawMessage) (interface{}, *protocol.Error) {
	params, perr := decodeParams[initializeParams](raw)
	if perr != nil {
		return nil, perr
	}

	negotiated := protocol.Negotiate(protocol.Version(params.ProtocolVersion))

	if !conn.beginInitialize(string(negotiated)) {
		return nil, protocol.InvalidRequest("initialize already called on this connection")
	}

	dctx, cancel := h.withDeadline(ctx)
	defer cancel()

	if err := h.backend.Initialize(dctx, backend.Config{}); err != nil {
		return nil, mapBackendError(err)
	}
	info, err := h.backend.ServerInfo(dctx)
	if err != nil {
		return nil, mapBackendError(err)
	}

	return initializeResult{
		ProtocolVersion: string(negotiated),
		Capabilities:    info.Capabilities,
		ServerInfo:      info.Implementation,
		Instructions:    info.Instructions,
	}, nil
}

func (h *Handler) handleListTools(ctx context.Context, rc *middleware.RequestContext, raw json.RawMessage) (interface{}, *protocol.Error) {
	if _, perr := h.requireAuth(rc); perr != nil {
		return nil, perr
	}
	params, perr := decodeParams[listParams](raw)
	if perr != nil {
		return nil, perr
	}
	dctx, cancel := h.withDeadline(ctx)
	defer cancel()
	page, err := h.backend.ListTools(dctx, params.Cursor)
	if err != nil {
		return nil, mapBackendError(err)
	}
	return listToolsResult{Tools: page.Items, NextCursor: page.NextCursor}, nil
}

func (h *Handler) handleCallTool(ctx context.Context, rc *middleware.RequestContext, raw json.RawMessage) (interface{}, *protocol.Error) {
	ac, perr := h.requireAuth(rc)
	if perr != nil {
		return nil, perr
	}
	call, perr := decodeParams[backend.ToolCall](raw)
	if perr != nil {
		return nil, perr
	}
	if perr := requirePermission(ac, call.Name); perr != nil {
		return nil, perr
	}

	dctx, cancel := h.withDeadline(ctx)
	defer cancel()
	result, err := h.backend.CallTool(dctx, call)
	if err != nil {
		// Tool-execution failures surface as a successful JSON-RPC
		// response with isError=true (spec §6), never as a protocol
		// error — except genuine backend/transport failure.
		return nil, mapBackendError(err)
	}
	return result, nil
}

func (h *Handler) handleListResources(ctx context.Context, rc *middleware.RequestContext, raw json.RawMessage) (interface{}, *protocol.Error) {
	if _, perr := h.requireAuth(rc); perr != nil {
		return nil, perr
	}
	params, perr := decodeParams[listParams](raw)
	if perr != nil {
		return nil, perr
	}
	dctx, cancel := h.withDeadline(ctx)
	defer cancel()
	page, err := h.backend.ListResources(dctx, params.Cursor)
	if err != nil {
		return nil, mapBackendError(err)
	}
	return listResourcesResult{Resources: page.Items, NextCursor: page.NextCursor}, nil
}

func (h *Handler) handleReadResource(ctx context.Context, rc *middleware.RequestContext, raw json.RawMessage) (interface{}, *protocol.Error) {
	if _, perr := h.requireAuth(rc); perr != nil {
		return nil, perr
	}
	params, perr := decodeParams[readResourceParams](raw)
	if perr != nil {
		return nil, perr
	}
	if params.URI == "" {
		return nil, protocol.InvalidParams("uri is required")
	}
	dctx, cancel := h.withDeadline(ctx)
	defer cancel()
	contents, err := h.backend.ReadResource(dctx, params.URI)
	if err != nil {
		return nil, protocol.ResourceNotFound(params.URI)
	}
	return readResourceResult{Contents: contents}, nil
}

func (h *Handler) handleListResourceTemplates(ctx context.Context, rc *middleware.RequestContext, raw json.RawMessage) (interface{}, *protocol.Error) {
	if _, perr := h.requireAuth(rc); perr != nil {
		return nil, perr
	}
	params, perr := decodeParams[listParams](raw)
	if perr != nil {
		return nil, perr
	}
	dctx, cancel := h.withDeadline(ctx)
	defer cancel()
	page, err := h.backend.ListResourceTemplates(dctx, params.Cursor)
	if err != nil {
		return nil, mapBackendError(err)
	}
	return listResourceTemplatesResult{ResourceTemplates: page.Items, NextCursor: page.NextCursor}, nil
}

func (h *Handler) handleSubscribe(ctx context.Context, rc *middleware.RequestContext, raw json.RawMessage) (interface{}, *protocol.Error) {
	ac, perr := h.requireAuth(rc)
	if perr != nil {
		return nil, perr
	}
	if perr := requireRole(ac, auth.RoleAdmin, auth.RoleOperator); perr != nil {
		return nil, perr
	}
	params, perr := decodeParams[subscribeParams](raw)
	if perr != nil {
		return nil, perr
	}
	dctx, cancel := h.withDeadline(ctx)
	defer cancel()
	if err := h.backend.Subscribe(dctx, params.URI); err != nil {
		return nil, mapBackendError(err)
	}
	return struct{}{}, nil
}

func (h *Handler) handleUnsubscribe(ctx context.Context, rc *middleware.RequestContext, raw json.RawMessage) (interface{}, *protocol.Error) {
	ac, perr := h.requireAuth(rc)
	if perr != nil {
		return nil, perr
	}
	if perr := requireRole(ac, auth.RoleAdmin, auth.RoleOperator); perr != nil {
		return nil, perr
	}
	params, perr := decodeParams[subscribeParams](raw)
	if perr != nil {
		return nil, perr
	}
	dctx, cancel := h.withDeadline(ctx)
	defer cancel()
	if err := h.backend.Unsubscribe(dctx, params.URI); err != nil {
		return nil, mapBackendError(err)
	}
	return struct{}{}, nil
}

func (h *Handler) handleListPrompts(ctx context.Context, rc *middleware.RequestContext, raw json.RawMessage) (interface{}, *protocol.Error) {
	if _, perr := h.requireAuth(rc); perr != nil {
		return nil, perr
	}
	params, perr := decodeParams[listParams](raw)
	if perr != nil {
		return nil, perr
	}
	dctx, cancel := h.withDeadline(ctx)
	defer cancel()
	page, err := h.backend.ListPrompts(dctx, params.Cursor)
	if err != nil {
		return nil, mapBackendError(err)
	}
	return listPromptsResult{Prompts: page.Items, NextCursor: page.NextCursor}, nil
}

func (h *Handler) handleGetPrompt(ctx context.Context, rc *middleware.RequestContext, raw json.RawMessage) (interface{}, *protocol.Error) {
	if _, perr := h.requireAuth(rc); perr != nil {
		return nil, perr
	}
	params, perr := decodeParams[getPromptParams](raw)
	if perr != nil {
		return nil, perr
	}
	dctx, cancel := h.withDeadline(ctx)
	defer cancel()
	description, messages, err := h.backend.GetPrompt(dctx, params.Name, params.Arguments)
	if err != nil {
		return nil, mapBackendError(err)
	}
	return getPromptResult{Description: description, Messages: messages}, nil
}

func (h *Handler) handleComplete(ctx context.Context, rc *middleware.RequestContext, raw json.RawMessage) (interface{}, *protocol.Error) {
	if _, perr := h.requireAuth(rc); perr != nil {
		return nil, perr
	}
	params, perr := decodeParams[backend.CompletionRequest](raw)
	if perr != nil {
		return nil, perr
	}
	dctx, cancel := h.withDeadline(ctx)
	defer cancel()
	result, err := h.backend.Complete(dctx, params)
	if err != nil {
		return nil, mapBackendError(err)
	}
	return result, nil
}

func (h *Handler) handleSetLevel(ctx context.Context, rc *middleware.RequestContext, raw json.RawMessage) (interface{}, *protocol.Error) {
	ac, perr := h.requireAuth(rc)
	if perr != nil {
		return nil, perr
	}
	if perr := requireRole(ac, auth.RoleAdmin); perr != nil {
		return nil, perr
	}
	params, perr := decodeParams[setLevelParams](raw)
	if perr != nil {
		return nil, perr
	}
	dctx, cancel := h.withDeadline(ctx)
	defer cancel()
	if err := h.backend.SetLogLevel(dctx, params.Level); err != nil {
		return nil, mapBackendError(err)
	}
	return struct{}{}, nil
}
