// Package cmd wires the CLI entry points: the HTTP API server, the
// standalone webtool MCP server, and version info.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "aichat",
	Short: "AI chat engine for the CMS admin backend",
	Long: `aichat streams AI chat completions over SSE for the CMS admin
backend, with tool orchestration (web search, page retrieval, external
MCP servers) and prompt-injection defenses built in.

Running aichat without a subcommand starts the HTTP API server.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
