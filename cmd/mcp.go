package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	mcpSdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/quillcms/aichat/internal/config"
	"github.com/quillcms/aichat/internal/log"
	"github.com/quillcms/aichat/internal/webtool"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run the web tools as a standalone MCP server on stdio",
	Long: `Serves the built-in web tools (search, get_webpage_content) over the
Model Context Protocol on stdin/stdout, so other MCP clients can use
them without running the full chat server.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMCP(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

func runMCP(parent context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Logs go to stderr; stdout belongs to the MCP transport.
	logger := log.New(log.Config{})

	provider, err := webtool.New(webtool.Config{
		SearXNG: cfg.SearXNG,
		Scraper: cfg.WebScraper,
	}, logger)
	if err != nil {
		return fmt.Errorf("creating web tools: %w", err)
	}

	logger.Info("webtool MCP server ready", "version", Version, "transport", "stdio")

	if err := provider.Run(ctx, &mcpSdk.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("MCP server: %w", err)
	}

	logger.Info("MCP server shut down gracefully")
	return nil
}
