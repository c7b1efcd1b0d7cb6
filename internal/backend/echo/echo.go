// Package echo is a minimal backend.Backend used by the demo binary and by
// the handler/transport test suites to exercise dispatch without a real
// application behind it.
package echo

import (
	"context"
	"fmt"
	"sync"

	"github.com/mcpanvil/core/internal/backend"
)

// Backend implements backend.Backend with a single "echo" tool and a
// "fail" tool that always returns a tool-execution error, so callers can
// exercise both the success and isError=true paths of spec §8 scenario 1/2.
type Backend struct {
	backend.Unimplemented

	mu    sync.Mutex
	ready bool
}

// New creates an uninitialized echo backend.
func New() *Backend { return &Backend{} }

func (b *Backend) Initialize(_ context.Context, _ backend.Config) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ready = true
	return nil
}

func (b *Backend) ServerInfo(context.Context) (backend.ServerInfo, error) {
	return backend.ServerInfo{
		Version: "1.0.0",
		Capabilities: map[string]interface{}{
			"tools":     map[string]interface{}{},
			"resources": map[string]interface{}{},
			"prompts":   map[string]interface{}{},
		},
		Implementation: backend.Implementation{Name: "echo-backend", Version: "1.0.0"},
	}, nil
}

func (b *Backend) HealthCheck(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.ready {
		return fmt.Errorf("echo backend: not initialized")
	}
	return nil
}

func (b *Backend) ListTools(context.Context, string) (backend.Page[backend.Tool], error) {
	return backend.Page[backend.Tool]{Items: []backend.Tool{
		{Name: "echo", Description: "echoes the given message back"},
		{Name: "fail", Description: "always returns a tool execution error"},
	}}, nil
}

func (b *Backend) CallTool(_ context.Context, call backend.ToolCall) (backend.ToolResult, error) {
	switch call.Name {
	case "echo":
		msg, _ := call.Arguments["message"].(string)
		return backend.ToolResult{Content: []backend.ContentBlock{{Type: "text", Text: "Echo: " + msg}}}, nil
	case "fail":
		return backend.ErrorResult("tool execution failed: intentional failure"), nil
	default:
		return backend.ErrorResult(fmt.Sprintf("unknown tool: %s", call.Name)), nil
	}
}

func (b *Backend) ListResources(context.Context, string) (backend.Page[backend.Resource], error) {
	return backend.Page[backend.Resource]{Items: []backend.Resource{
		{URI: "echo://greeting", Name: "greeting", MimeType: "text/plain"},
	}}, nil
}

func (b *Backend) ReadResource(_ context.Context, uri string) ([]backend.ResourceContents, error) {
	if uri != "echo://greeting" {
		return nil, fmt.Errorf("%w: %s", errUnknownResource, uri)
	}
	return []backend.ResourceContents{{URI: uri, MimeType: "text/plain", Text: "hello from echo backend"}}, nil
}

func (b *Backend) ListPrompts(context.Context, string) (backend.Page[backend.Prompt], error) {
	return backend.Page[backend.Prompt]{Items: []backend.Prompt{
		{Name: "greet", Arguments: []backend.PromptArgument{{Name: "name", Required: true}}},
	}}, nil
}

func (b *Backend) GetPrompt(_ context.Context, name string, arguments map[string]string) (string, []backend.PromptMessage, error) {
	if name != "greet" {
		return "", nil, fmt.Errorf("%w: %s", errUnknownPrompt, name)
	}
	who := arguments["name"]
	if who == "" {
		who = "there"
	}
	return "a friendly greeting", []backend.PromptMessage{
		{Role: "user", Content: []backend.ContentBlock{{Type: "text", Text: "Hello, " + who + "!"}}},
	}, nil
}

var errUnknownResource = jsonError("unknown resource")
var errUnknownPrompt = jsonError("unknown prompt")

type jsonError string

func (e jsonError) Error() string { return string(e) }
