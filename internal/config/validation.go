package config

import (
	"fmt"
	"slices"
)

// Validate validates configuration values.
// Returns sentinel errors that can be checked with errors.Is().
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	// 1. Provider and model validation
	validProviders := []string{ProviderOpenAI, ProviderAnthropic}
	if !slices.Contains(validProviders, c.Provider) {
		return fmt.Errorf("%w: %q is not valid, must be one of: %v",
			ErrInvalidProvider, c.Provider, validProviders)
	}

	if c.Model == "" {
		return fmt.Errorf("%w: model cannot be empty", ErrInvalidModelName)
	}

	if c.APIKey == "" {
		return fmt.Errorf("%w: set AICHAT_API_KEY or api_key in config.yaml", ErrMissingAPIKey)
	}

	// Temperature range: 0.0 (deterministic) to 2.0 (maximum creativity)
	if c.Temperature < 0.0 || c.Temperature > 2.0 {
		return fmt.Errorf("%w: must be between 0.0 and 2.0, got %.2f", ErrInvalidTemperature, c.Temperature)
	}

	if c.MaxTokens < 1 || c.MaxTokens > 200000 {
		return fmt.Errorf("%w: must be between 1 and 200,000, got %d", ErrInvalidMaxTokens, c.MaxTokens)
	}

	// 2. Gatekeeping validation
	if c.RateLimit < 1 || c.RateLimit > 1000 {
		return fmt.Errorf("%w: must be between 1 and 1000, got %d", ErrInvalidRateLimit, c.RateLimit)
	}

	if c.MaxMessageLength < 1 || c.MaxMessageLength > 1000000 {
		return fmt.Errorf("%w: must be between 1 and 1,000,000, got %d", ErrInvalidMessageLength, c.MaxMessageLength)
	}

	if c.MaxConversationLength < 1 || c.MaxConversationLength > 1000 {
		return fmt.Errorf("%w: must be between 1 and 1000, got %d", ErrInvalidConversationLength, c.MaxConversationLength)
	}

	// 3. MCP server validation: an enabled server without a command can
	// never hand-shake, reject it up front instead of at connect time.
	for name, srv := range c.MCP.Servers {
		if srv.Enabled && srv.Command == "" {
			return fmt.Errorf("%w: %q is enabled but has no command", ErrInvalidMCPServer, name)
		}
	}

	// 4. Server validation (serve mode)
	if c.Addr == "" {
		return fmt.Errorf("%w: addr cannot be empty", ErrInvalidAddr)
	}

	return nil
}
