// Package backend defines the contract an application plugs into the
// dispatch core (spec §4.1). The core never knows what a backend's tools,
// resources, or prompts actually do — it only validates shapes, attaches
// auth context, and enforces deadlines around the calls below.
package backend

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrNotSupported is returned by the optional hooks when a backend doesn't
// implement them; the request handler maps it to a protocol error without
// treating it as a crash.
var ErrNotSupported = errors.New("backend: operation not supported")

// ServerInfo describes a backend's identity and declared capabilities.
// server_info() is pure and may be called repeatedly (spec §4.1).
type ServerInfo struct {
	Version        string                 `json:"version"`
	Capabilities   map[string]interface{} `json:"capabilities"`
	Implementation Implementation         `json:"implementation"`
	Instructions   string                 `json:"instructions,omitempty"`
}

// Implementation names the backend implementation for the initialize handshake.
type Implementation struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Tool describes an invocable backend operation.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// ToolCall is the params shape for tools/call.
type ToolCall struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
}

// ContentBlock is one element of a tool result or prompt message body.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// ToolResult is the result shape for tools/call. Invalid tool *input* and
// tool *execution* failures both surface here with IsError=true — spec §3
// is explicit that this is never a JSON-RPC protocol error.
type ToolResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

// ErrorResult builds a ToolResult representing a failed call, wrapping msg
// as the sole text content block.
func ErrorResult(msg string) ToolResult {
	return ToolResult{Content: []ContentBlock{{Type: "text", Text: msg}}, IsError: true}
}

// Resource describes a readable backend resource.
type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// ResourceTemplate describes a parameterized resource URI pattern.
type ResourceTemplate struct {
	URITemplate string `json:"uriTemplate"`
	Name        string `json:"name,omitempty"`
}

// ResourceContents is one item returned by reading a resource.
type ResourceContents struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType,omitempty"`
	Text     string `json:"text,omitempty"`
	Blob     string `json:"blob,omitempty"`
}

// Prompt describes a parameterized message template.
type Prompt struct {
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Arguments   []PromptArgument `json:"arguments,omitempty"`
}

// PromptArgument describes one named input a prompt accepts.
type PromptArgument struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
}

// PromptMessage is one turn returned by get_prompt.
type PromptMessage struct {
	Role    string         `json:"role"`
	Content []ContentBlock `json:"content"`
}

// Page is a cursor-paginated listing, shared by list_tools/list_resources/list_prompts.
type Page[T any] struct {
	Items      []T
	NextCursor string
}

// CompletionRequest is the params shape for completion/complete.
type CompletionRequest struct {
	Ref      map[string]interface{} `json:"ref"`
	Argument map[string]string      `json:"argument"`
}

// CompletionResult is the result of a completion request.
type CompletionResult struct {
	Values  []string `json:"values"`
	Total   int      `json:"total,omitempty"`
	HasMore bool     `json:"hasMore,omitempty"`
}

// Config is the backend-specific configuration payload handed to Initialize.
// The core treats it opaquely; the concrete backend decides its shape.
type Config map[string]interface{}

// Backend is the contract an application implements to plug into the
// dispatch core (spec §4.1). All methods are fallible with a
// backend-defined error; the request handler (C7) converts those errors
// into protocol errors at its boundary and never panics on a backend error.
type Backend interface {
	// Initialize prepares the backend for use with the given configuration.
	Initialize(ctx context.Context, cfg Config) error

	// ServerInfo returns capability/version metadata. Pure, repeatable.
	ServerInfo(ctx context.Context) (ServerInfo, error)

	// HealthCheck reports backend liveness; a non-nil error fails health.
	HealthCheck(ctx context.Context) error

	ListTools(ctx context.Context, cursor string) (Page[Tool], error)
	CallTool(ctx context.Context, call ToolCall) (ToolResult, error)

	ListResources(ctx context.Context, cursor string) (Page[Resource], error)
	ReadResource(ctx context.Context, uri string) ([]ResourceContents, error)

	ListPrompts(ctx context.Context, cursor string) (Page[Prompt], error)
	GetPrompt(ctx context.Context, name string, arguments map[string]string) (string, []PromptMessage, error)

	// ListResourceTemplates, Subscribe, Unsubscribe, Complete, and
	// SetLogLevel are optional; a backend that doesn't implement one
	// returns ErrNotSupported and the handler maps that to a protocol
	// error rather than failing the whole dispatch table.
	ListResourceTemplates(ctx context.Context, cursor string) (Page[ResourceTemplate], error)
	Subscribe(ctx context.Context, uri string) error
	Unsubscribe(ctx context.Context, uri string) error
	Complete(ctx context.Context, req CompletionRequest) (CompletionResult, error)
	SetLogLevel(ctx context.Context, level string) error
}
