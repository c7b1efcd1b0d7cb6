// Package cmd provides the mcpanvild CLI commands.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mcpanvil/core/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "mcpanvild",
	Short: "mcpanvild - MCP server core demonstration binary",
	Long: `mcpanvild wires the core MCP dispatch engine, its security
middleware pipeline, and a pluggable application backend behind either a
stdio or HTTP+SSE transport.

Configuration is loaded from mcpanvil.yaml in the current directory,
$HOME/.mcpanvil/, or /etc/mcpanvil/, with environment variable overrides
under the MCPANVIL_ prefix (e.g. MCPANVIL_SERVER_HTTP_ADDR=:9090).

Commands:
  run           Start the server (stdio or HTTP+SSE per config)
  keys create   Mint a new API key against the configured key store
  version       Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./mcpanvil.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
