package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/quillcms/aichat/internal/api"
	"github.com/quillcms/aichat/internal/backend"
	"github.com/quillcms/aichat/internal/chat"
	"github.com/quillcms/aichat/internal/config"
	"github.com/quillcms/aichat/internal/guard"
	"github.com/quillcms/aichat/internal/log"
	"github.com/quillcms/aichat/internal/prompt"
	"github.com/quillcms/aichat/internal/registry"
	"github.com/quillcms/aichat/internal/sanitize"
	"github.com/quillcms/aichat/internal/webtool"
)

// Server timeout configuration.
const (
	readHeaderTimeout = 10 * time.Second
	readTimeout       = 30 * time.Second
	writeTimeout      = 2 * time.Minute // SSE streaming needs a long window
	idleTimeout       = 2 * time.Minute
	shutdownTimeout   = 30 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// runServe initializes every layer and runs the HTTP API server until
// SIGINT/SIGTERM.
func runServe(parent context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := log.New(log.Config{JSON: true})
	logger.Info("starting aichat server", "version", Version, "provider", cfg.Provider, "model", cfg.Model)

	be, err := backend.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating backend: %w", err)
	}

	sanitizer := sanitize.New(sanitize.ModeEscape)
	builder := prompt.NewBuilder(sanitizer, logger)

	reg := registry.New(logger)
	var fetcher chat.PageFetcher
	if cfg.EnableWebTools {
		provider, err := webtool.New(webtool.Config{
			SearXNG: cfg.SearXNG,
			Scraper: cfg.WebScraper,
		}, logger)
		if err != nil {
			return fmt.Errorf("creating web tools: %w", err)
		}
		fetcher = provider.Fetcher()

		transport, err := provider.Transport(ctx)
		if err != nil {
			return fmt.Errorf("starting web tools: %w", err)
		}
		reg.AddProvider(webtool.ProviderName, transport, 0)
	}
	addExternalProviders(reg, cfg, logger)
	reg.Initialize(ctx)
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		reg.Shutdown(shutdownCtx)
	}()

	orchestrator := chat.New(be, reg, builder, sanitizer, fetcher, cfg, logger)

	apiServer, err := api.NewServer(api.ServerConfig{
		Logger:       logger,
		Orchestrator: orchestrator,
		Catalog:      reg,
		Limiter:      guard.NewLimiter(cfg.RateLimit),
		Validator:    guard.NewValidator(cfg.MaxMessageLength, cfg.EnableContentFilter),
		CORSOrigins:  cfg.CORSOrigins,
		TrustProxy:   cfg.TrustProxy,
		RateBurst:    cfg.RateBurst,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}

	logger.Info("HTTP server ready",
		"addr", cfg.Addr,
		"api", "/api/*",
		"health", "/health, /ready",
		"tools_degraded", reg.Degraded(),
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down HTTP server")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down: %w", err)
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server: %w", err)
		}
	}

	logger.Info("server stopped")
	return nil
}

// addExternalProviders registers the configured external MCP servers as
// subprocess providers. A misconfigured server is logged and skipped;
// the registry handles connection failures itself.
func addExternalProviders(reg *registry.Registry, cfg *config.Config, logger log.Logger) {
	for _, name := range cfg.MCP.EnabledServers() {
		server := cfg.MCP.Servers[name]

		cmd := exec.Command(server.Command, server.Args...)
		cmd.Env = append(os.Environ(), server.EnvSlice()...)

		timeout := time.Duration(cfg.MCP.Timeout) * time.Second
		if server.Timeout > 0 {
			timeout = time.Duration(server.Timeout) * time.Second
		}

		reg.AddProvider(name, &mcp.CommandTransport{Command: cmd}, timeout)
		logger.Info("registered external MCP provider", "name", name, "command", server.Command)
	}
}
