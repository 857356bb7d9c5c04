// Package backend adapts vendor model APIs to one normalized streaming
// representation. Each provider family gets a strategy implementation
// selected once at construction; the orchestrator never sees vendor
// types.
package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/quillcms/aichat/internal/config"
	"github.com/quillcms/aichat/internal/log"
)

var (
	// ErrUnknownProvider indicates the configured provider has no adapter.
	ErrUnknownProvider = errors.New("unknown model provider")
)

// Role identifies who authored a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry in the conversation sent to the model.
type Message struct {
	Role    Role
	Content string

	// ToolCalls carries the tool invocations an assistant message
	// requested, replayed verbatim on the continuation call.
	ToolCalls []ToolCall

	// ToolCallID links a RoleTool message to the assistant tool call it
	// answers.
	ToolCallID string
}

// ToolCall is a fully accumulated tool invocation request.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string // raw JSON text
}

// ToolDef describes one callable tool offered to the model.
type ToolDef struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON schema
}

// ToolCallDelta is one streamed fragment of a tool call. Index keys the
// accumulator entry; ID and Name arrive on the first fragment, Arguments
// in arbitrary pieces after that.
type ToolCallDelta struct {
	Index     int
	ID        string
	Name      string
	Arguments string
}

// FinishReason signals how the model ended its response.
type FinishReason string

const (
	FinishNone      FinishReason = ""
	FinishStop      FinishReason = "stop"
	FinishToolCalls FinishReason = "tool_calls"
)

// Chunk is the normalized unit of streamed model output. A chunk carries
// zero or more of: a text delta, a reasoning delta, tool-call fragments,
// and a finish signal.
type Chunk struct {
	Text      string
	Reasoning string
	ToolCalls []ToolCallDelta
	Finish    FinishReason
}

// Stream is a lazy, finite, non-restartable sequence of chunks.
// Recv returns io.EOF when the stream is exhausted; any other error is a
// transport failure that terminates the turn. Close releases the
// underlying connection and is safe to call more than once.
type Stream interface {
	Recv() (Chunk, error)
	Close() error
}

// Request is one streaming completion request. An empty Tools slice
// means no tool block is sent at all.
type Request struct {
	Messages    []Message
	Tools       []ToolDef
	Temperature float32
	MaxTokens   int
}

// Backend is the strategy interface implemented once per provider
// family.
type Backend interface {
	// Name returns the provider identifier for logging.
	Name() string
	// Stream opens a streaming completion. The returned Stream must be
	// closed by the caller.
	Stream(ctx context.Context, req Request) (Stream, error)
}

// New selects the adapter for the configured provider.
func New(cfg *config.Config, logger log.Logger) (Backend, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		return NewOpenAI(cfg, logger), nil
	case config.ProviderAnthropic:
		return NewAnthropic(cfg, logger), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
	}
}
