// Command mcpanvild is the demonstration binary wiring the core MCP
// dispatch engine, its middleware pipeline, and a pluggable backend behind
// the stdio and HTTP+SSE transports.
package main

import "github.com/mcpanvil/core/cmd/mcpanvild/cmd"

func main() {
	cmd.Execute()
}
