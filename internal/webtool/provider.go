// Package webtool is the built-in tool provider: web search via SearXNG
// and readable page retrieval. It is exposed over MCP so the registry
// consumes it exactly like any external provider, either in-process or
// as a standalone stdio server.
package webtool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/quillcms/aichat/internal/config"
	"github.com/quillcms/aichat/internal/log"
)

// ProviderName is the registry provider id for the built-in tools.
// Qualified tool names become "web_search" and "web_get_webpage_content".
const ProviderName = "web"

// SearchInput is the input for the search tool.
type SearchInput struct {
	Query string `json:"query" jsonschema:"the search query"`
	Limit int    `json:"limit,omitempty" jsonschema:"maximum number of results (default 5, max 10)"`
}

// FetchInput is the input for the get_webpage_content tool.
type FetchInput struct {
	URL string `json:"url" jsonschema:"the URL of the webpage to fetch"`
}

// Provider bundles the web tools behind an MCP server.
type Provider struct {
	server   *mcp.Server
	searcher *Searcher
	fetcher  *Fetcher
	logger   log.Logger
}

// Config carries the webtool settings.
type Config struct {
	SearXNG config.SearXNGConfig
	Scraper config.WebScraperConfig
}

// New creates the provider and registers its tools.
func New(cfg Config, logger log.Logger) (*Provider, error) {
	searcher, err := NewSearcher(cfg.SearXNG.BaseURL, logger)
	if err != nil {
		return nil, fmt.Errorf("creating searcher: %w", err)
	}

	p := &Provider{
		server: mcp.NewServer(&mcp.Implementation{
			Name:    "aichat-webtool",
			Version: "1.0.0",
		}, nil),
		searcher: searcher,
		fetcher:  NewFetcher(cfg.Scraper, logger),
		logger:   logger.With("component", "webtool"),
	}

	if err := p.registerTools(); err != nil {
		return nil, err
	}
	return p, nil
}

// Fetcher returns the page fetcher for direct use by the orchestrator's
// URL auto-attachment.
func (p *Provider) Fetcher() *Fetcher {
	return p.fetcher
}

func (p *Provider) registerTools() error {
	searchSchema, err := jsonschema.For[SearchInput](nil)
	if err != nil {
		return fmt.Errorf("schema for search: %w", err)
	}
	mcp.AddTool(p.server, &mcp.Tool{
		Name:        "search",
		Description: "Search the web. Returns relevant results with titles, URLs, and content snippets.",
		InputSchema: searchSchema,
	}, p.handleSearch)

	fetchSchema, err := jsonschema.For[FetchInput](nil)
	if err != nil {
		return fmt.Errorf("schema for get_webpage_content: %w", err)
	}
	mcp.AddTool(p.server, &mcp.Tool{
		Name:        "get_webpage_content",
		Description: "Fetch a webpage and extract its readable article text.",
		InputSchema: fetchSchema,
	}, p.handleFetch)

	return nil
}

// handleSearch handles the search MCP tool call.
func (p *Provider) handleSearch(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (*mcp.CallToolResult, any, error) {
	results, err := p.searcher.Search(ctx, input.Query, input.Limit)
	if err != nil {
		return errorResult(fmt.Sprintf("search failed: %v", err)), nil, nil
	}
	return jsonResult(results), nil, nil
}

// handleFetch handles the get_webpage_content MCP tool call.
func (p *Provider) handleFetch(ctx context.Context, _ *mcp.CallToolRequest, input FetchInput) (*mcp.CallToolResult, any, error) {
	page, err := p.fetcher.Fetch(ctx, input.URL)
	if err != nil {
		return errorResult(fmt.Sprintf("fetch failed: %v", err)), nil, nil
	}
	return jsonResult(page), nil, nil
}

// Transport connects the server over an in-memory pipe and returns the
// client side for the registry to dial.
func (p *Provider) Transport(ctx context.Context) (mcp.Transport, error) {
	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	if _, err := p.server.Connect(ctx, serverTransport, nil); err != nil {
		return nil, fmt.Errorf("connecting in-process webtool server: %w", err)
	}
	return clientTransport, nil
}

// Run serves the provider on the given transport until ctx is done.
// Used by the standalone stdio mode.
func (p *Provider) Run(ctx context.Context, transport mcp.Transport) error {
	p.logger.Info("webtool MCP server running")
	return p.server.Run(ctx, transport)
}

// jsonResult wraps a value as a JSON text content result.
func jsonResult(v any) *mcp.CallToolResult {
	data, err := json.Marshal(v)
	if err != nil {
		return errorResult(fmt.Sprintf("marshaling result: %v", err))
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: msg}},
	}
}
