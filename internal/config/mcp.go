package config

import (
	"encoding/json"
	"fmt"
	"sort"
)

// MCPConfig controls tool provider (MCP server) behavior.
type MCPConfig struct {
	Timeout int                  `mapstructure:"timeout" json:"timeout"` // Handshake timeout in seconds (default: 5)
	Servers map[string]MCPServer `mapstructure:"servers" json:"servers"` // Keyed by provider name
}

// MCPServer defines a single subprocess-based MCP server.
type MCPServer struct {
	Command string            `mapstructure:"command" json:"command"` // Required: executable path (e.g., "npx")
	Args    []string          `mapstructure:"args" json:"args"`       // Optional: command arguments
	Env     map[string]string `mapstructure:"env" json:"env"`         // Optional: environment variables - SECURITY: may contain API keys/tokens
	Enabled bool              `mapstructure:"enabled" json:"enabled"`
	Timeout int               `mapstructure:"timeout" json:"timeout"` // Optional: per-server handshake timeout (overrides global)
}

// MarshalJSON implements json.Marshaler with sensitive field masking.
// All Env values are masked as they may contain API keys or tokens.
func (m MCPServer) MarshalJSON() ([]byte, error) {
	type alias MCPServer
	a := alias(m)
	if a.Env != nil {
		maskedEnv := make(map[string]string, len(a.Env))
		for k, v := range a.Env {
			maskedEnv[k] = maskSecret(v)
		}
		a.Env = maskedEnv
	}
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal mcp server: %w", err)
	}
	return data, nil
}

// EnvSlice returns the Env map in the "KEY=value" slice form expected by
// exec.Cmd, in deterministic order.
func (m MCPServer) EnvSlice() []string {
	if len(m.Env) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m.Env))
	for k := range m.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	result := make([]string, 0, len(keys))
	for _, k := range keys {
		result = append(result, fmt.Sprintf("%s=%s", k, m.Env[k]))
	}
	return result
}

// EnabledServers returns the names of enabled servers in deterministic order.
func (c MCPConfig) EnabledServers() []string {
	names := make([]string, 0, len(c.Servers))
	for name, srv := range c.Servers {
		if srv.Enabled {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
