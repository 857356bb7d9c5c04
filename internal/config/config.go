// Package config provides application configuration management with
// multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.aichat/config.yaml or ./config.yaml)
//  3. Default values
//
// Security: sensitive values (API keys, MCP server env) are masked in
// MarshalJSON/String and never logged in the clear.
//
// Error handling: sentinel errors for errors.Is checks, wrapped with
// fmt.Errorf("%w: details", ErrXxx).
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingAPIKey indicates a required API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidProvider indicates the model provider is not supported.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrInvalidModelName indicates the model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidTemperature indicates the temperature value is out of range.
	ErrInvalidTemperature = errors.New("invalid temperature")

	// ErrInvalidMaxTokens indicates the max tokens value is out of range.
	ErrInvalidMaxTokens = errors.New("invalid max tokens")

	// ErrInvalidRateLimit indicates the per-user rate limit is out of range.
	ErrInvalidRateLimit = errors.New("invalid rate limit")

	// ErrInvalidMessageLength indicates the message length cap is out of range.
	ErrInvalidMessageLength = errors.New("invalid max message length")

	// ErrInvalidConversationLength indicates the history cap is out of range.
	ErrInvalidConversationLength = errors.New("invalid max conversation length")

	// ErrInvalidMCPServer indicates an MCP server entry is malformed.
	ErrInvalidMCPServer = errors.New("invalid MCP server")

	// ErrInvalidAddr indicates the server listen address is invalid.
	ErrInvalidAddr = errors.New("invalid listen address")
)

// Model provider identifiers used in Config.Provider.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Config stores application configuration.
// SECURITY: sensitive fields are explicitly masked in MarshalJSON().
// When adding new sensitive fields (API keys, tokens), update MarshalJSON.
type Config struct {
	// Model backend selection
	Provider    string  `mapstructure:"provider" json:"provider"` // "openai" (default) or "anthropic"
	Model       string  `mapstructure:"model" json:"model"`
	APIKey      string  `mapstructure:"api_key" json:"api_key"` // SENSITIVE: masked in MarshalJSON
	APIBase     string  `mapstructure:"api_base" json:"api_base"`
	Temperature float32 `mapstructure:"temperature" json:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens" json:"max_tokens"`

	// Chat behavior
	EnableWebTools        bool   `mapstructure:"enable_web_tools" json:"enable_web_tools"`
	WebToolsAutoCall      bool   `mapstructure:"web_tools_auto_call" json:"web_tools_auto_call"`
	MaxConversationLength int    `mapstructure:"max_conversation_length" json:"max_conversation_length"`
	CustomInstructions    string `mapstructure:"custom_instructions" json:"custom_instructions"`
	EnableThinking        bool   `mapstructure:"enable_thinking" json:"enable_thinking"`

	// Inbound gatekeeping
	RateLimit           int  `mapstructure:"rate_limit" json:"rate_limit"` // messages per user per minute
	MaxMessageLength    int  `mapstructure:"max_message_length" json:"max_message_length"`
	EnableContentFilter bool `mapstructure:"enable_content_filter" json:"enable_content_filter"`

	// Tool provider configuration (see mcp.go)
	MCP MCPConfig `mapstructure:"mcp" json:"mcp"`

	// Built-in web tool configuration (see tools.go)
	SearXNG    SearXNGConfig    `mapstructure:"searxng" json:"searxng"`
	WebScraper WebScraperConfig `mapstructure:"web_scraper" json:"web_scraper"`

	// HTTP server configuration (serve mode only)
	Addr        string   `mapstructure:"addr" json:"addr"`
	CORSOrigins []string `mapstructure:"cors_origins" json:"cors_origins"`
	TrustProxy  bool     `mapstructure:"trust_proxy" json:"trust_proxy"` // Trust X-Real-IP/X-Forwarded-For (set true behind reverse proxy)
	RateBurst   int      `mapstructure:"rate_burst" json:"rate_burst"`   // per-IP token bucket burst
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".aichat")

	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".") // Also support current directory

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		// Configuration file not found is not an error, use default values
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."},
			"config_name", "config.yaml")
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// Fail fast before anything else touches the config.
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults() {
	// Model backend defaults
	viper.SetDefault("provider", ProviderOpenAI)
	viper.SetDefault("model", "gpt-4o-mini")
	viper.SetDefault("temperature", 0.7)
	viper.SetDefault("max_tokens", 2048)

	// Chat behavior defaults
	viper.SetDefault("enable_web_tools", true)
	viper.SetDefault("web_tools_auto_call", true)
	viper.SetDefault("max_conversation_length", 20)
	viper.SetDefault("enable_thinking", false)

	// Gatekeeping defaults
	viper.SetDefault("rate_limit", 10)
	viper.SetDefault("max_message_length", 4000)
	viper.SetDefault("enable_content_filter", true)

	// MCP defaults
	viper.SetDefault("mcp.timeout", 5)

	// SearXNG defaults
	viper.SetDefault("searxng.base_url", "http://localhost:8888")

	// WebScraper defaults
	viper.SetDefault("web_scraper.parallelism", 2)
	viper.SetDefault("web_scraper.delay_ms", 1000)
	viper.SetDefault("web_scraper.timeout_ms", 30000)

	// Server defaults
	viper.SetDefault("addr", ":8080")
	viper.SetDefault("cors_origins", []string{"http://localhost:4200"})
	viper.SetDefault("trust_proxy", false)
	viper.SetDefault("rate_burst", 20)
}

// bindEnvVariables binds environment variables explicitly.
// Secrets never appear in the config file in typical deployments; the API
// key comes in through AICHAT_API_KEY.
func bindEnvVariables() {
	// Hardcoded keys cannot fail to bind; a panic here is a bug, not a
	// runtime condition.
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("api_key", "AICHAT_API_KEY")
	mustBind("api_base", "AICHAT_API_BASE")
	mustBind("provider", "AICHAT_PROVIDER")
	mustBind("model", "AICHAT_MODEL")

	mustBind("addr", "AICHAT_ADDR")
	mustBind("cors_origins", "AICHAT_CORS_ORIGINS")
	mustBind("trust_proxy", "AICHAT_TRUST_PROXY")

	mustBind("searxng.base_url", "AICHAT_SEARXNG_URL")
}

// maskedValue is the placeholder for masked sensitive data.
// Full-width blocks avoid accidental substring matches against real secrets.
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging.
// Secrets of 8 bytes or fewer are fully masked; longer ones keep the first
// and last 2 characters for debug utility.
//
// This defends against accidental logging of real secrets, nothing more.
// If logs are compromised, rotate the secrets.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with explicit sensitive field masking.
//
// Sensitive fields masked:
//   - APIKey
//   - MCP server Env values (via MCPServer.MarshalJSON)
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.APIKey = maskSecret(a.APIKey)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
