package backend

import (
	"errors"
	"testing"

	"github.com/sashabaranov/go-openai"

	"github.com/quillcms/aichat/internal/config"
	"github.com/quillcms/aichat/internal/log"
)

func testConfig(provider string) *config.Config {
	return &config.Config{
		Provider:    provider,
		Model:       "test-model",
		APIKey:      "test-key",
		Temperature: 0.7,
		MaxTokens:   1024,
	}
}

func TestNew_ProviderSelection(t *testing.T) {
	tests := []struct {
		provider string
		wantName string
	}{
		{config.ProviderOpenAI, "openai"},
		{config.ProviderAnthropic, "anthropic"},
	}

	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			b, err := New(testConfig(tt.provider), log.NewNop())
			if err != nil {
				t.Fatalf("New(%q) error: %v", tt.provider, err)
			}
			if b.Name() != tt.wantName {
				t.Errorf("Name() = %q, want %q", b.Name(), tt.wantName)
			}
		})
	}
}

func TestNew_UnknownProvider(t *testing.T) {
	_, err := New(testConfig("gemini"), log.NewNop())
	if !errors.Is(err, ErrUnknownProvider) {
		t.Fatalf("New() error = %v, want ErrUnknownProvider", err)
	}
}

func TestToOpenAIMessages(t *testing.T) {
	msgs := []Message{
		{Role: RoleSystem, Content: "be helpful"},
		{Role: RoleUser, Content: "hi"},
		{Role: RoleAssistant, ToolCalls: []ToolCall{
			{ID: "call_1", Name: "web_search", Arguments: `{"query":"go"}`},
		}},
		{Role: RoleTool, Content: "result text", ToolCallID: "call_1"},
	}

	got := toOpenAIMessages(msgs)
	if len(got) != 4 {
		t.Fatalf("got %d messages, want 4", len(got))
	}

	if got[0].Role != openai.ChatMessageRoleSystem || got[0].Content != "be helpful" {
		t.Errorf("system message = %+v", got[0])
	}
	if got[2].Role != openai.ChatMessageRoleAssistant {
		t.Errorf("assistant role = %q", got[2].Role)
	}
	if len(got[2].ToolCalls) != 1 || got[2].ToolCalls[0].ID != "call_1" {
		t.Errorf("assistant tool calls = %+v", got[2].ToolCalls)
	}
	if got[2].ToolCalls[0].Function.Arguments != `{"query":"go"}` {
		t.Errorf("tool call arguments = %q", got[2].ToolCalls[0].Function.Arguments)
	}
	if got[3].Role != openai.ChatMessageRoleTool || got[3].ToolCallID != "call_1" {
		t.Errorf("tool message = %+v", got[3])
	}
}

func TestToOpenAITools(t *testing.T) {
	defs := []ToolDef{{
		Name:        "web_search",
		Description: "search the web",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{"query": map[string]any{"type": "string"}},
		},
	}}

	got := toOpenAITools(defs)
	if len(got) != 1 {
		t.Fatalf("got %d tools, want 1", len(got))
	}
	if got[0].Type != openai.ToolTypeFunction {
		t.Errorf("tool type = %q", got[0].Type)
	}
	if got[0].Function.Name != "web_search" {
		t.Errorf("tool name = %q", got[0].Function.Name)
	}
}

func TestToAnthropicMessages(t *testing.T) {
	msgs := []Message{
		{Role: RoleSystem, Content: "be helpful"},
		{Role: RoleUser, Content: "hi"},
		{Role: RoleAssistant, Content: "checking", ToolCalls: []ToolCall{
			{ID: "toolu_1", Name: "web_search", Arguments: `{"query":"go"}`},
		}},
		{Role: RoleTool, Content: "result text", ToolCallID: "toolu_1"},
	}

	system, got := toAnthropicMessages(msgs)
	if system != "be helpful" {
		t.Errorf("system = %q, want %q", system, "be helpful")
	}
	// System message is lifted out; 3 conversation messages remain.
	if len(got) != 3 {
		t.Fatalf("got %d messages, want 3", len(got))
	}
}

func TestToAnthropicSchema(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{"type": "string"},
		},
		"required": []any{"url"},
	}

	got := toAnthropicSchema(schema)
	if got.Properties == nil {
		t.Error("properties not carried over")
	}
	if len(got.Required) != 1 || got.Required[0] != "url" {
		t.Errorf("required = %v, want [url]", got.Required)
	}
}
