package backend

import (
	"context"
	"fmt"

	"github.com/sashabaranov/go-openai"

	"github.com/quillcms/aichat/internal/config"
	"github.com/quillcms/aichat/internal/log"
)

// OpenAI streams completions from any OpenAI-compatible endpoint
// (OpenAI itself, or self-hosted gateways speaking the same protocol).
type OpenAI struct {
	client *openai.Client
	model  string
	logger log.Logger
}

// NewOpenAI creates the OpenAI-compatible adapter. cfg.APIBase overrides
// the endpoint for compatible gateways.
func NewOpenAI(cfg *config.Config, logger log.Logger) *OpenAI {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.APIBase != "" {
		clientCfg.BaseURL = cfg.APIBase
	}
	return &OpenAI{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
		logger: logger.With("component", "backend", "provider", config.ProviderOpenAI),
	}
}

// Name implements Backend.
func (o *OpenAI) Name() string { return config.ProviderOpenAI }

// Stream implements Backend.
func (o *OpenAI) Stream(ctx context.Context, req Request) (Stream, error) {
	oreq := openai.ChatCompletionRequest{
		Model:       o.model,
		Messages:    toOpenAIMessages(req.Messages),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      true,
	}

	if len(req.Tools) > 0 {
		oreq.Tools = toOpenAITools(req.Tools)
		oreq.ToolChoice = "auto"
	}

	s, err := o.client.CreateChatCompletionStream(ctx, oreq)
	if err != nil {
		return nil, fmt.Errorf("opening completion stream: %w", err)
	}

	o.logger.Debug("stream opened", "model", o.model, "tools", len(req.Tools))
	return &openaiStream{s: s}, nil
}

// openaiStream normalizes go-openai stream responses into Chunks.
type openaiStream struct {
	s *openai.ChatCompletionStream
}

// Recv implements Stream. io.EOF from the underlying stream passes
// through unchanged.
func (s *openaiStream) Recv() (Chunk, error) {
	resp, err := s.s.Recv()
	if err != nil {
		return Chunk{}, err
	}
	if len(resp.Choices) == 0 {
		return Chunk{}, nil
	}

	choice := resp.Choices[0]
	chunk := Chunk{
		Text:      choice.Delta.Content,
		Reasoning: choice.Delta.ReasoningContent,
	}

	for _, tc := range choice.Delta.ToolCalls {
		delta := ToolCallDelta{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		}
		if tc.Index != nil {
			delta.Index = *tc.Index
		}
		chunk.ToolCalls = append(chunk.ToolCalls, delta)
	}

	switch choice.FinishReason {
	case openai.FinishReasonNull, "":
	case openai.FinishReasonToolCalls:
		chunk.Finish = FinishToolCalls
	default:
		// stop, length, content_filter all end the turn as plain text
		chunk.Finish = FinishStop
	}

	return chunk, nil
}

// Close implements Stream.
func (s *openaiStream) Close() error {
	s.s.Close()
	return nil
}

func toOpenAIMessages(msgs []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		om := openai.ChatCompletionMessage{Content: m.Content}
		switch m.Role {
		case RoleSystem:
			om.Role = openai.ChatMessageRoleSystem
		case RoleUser:
			om.Role = openai.ChatMessageRoleUser
		case RoleAssistant:
			om.Role = openai.ChatMessageRoleAssistant
			for _, tc := range m.ToolCalls {
				om.ToolCalls = append(om.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: tc.Arguments,
					},
				})
			}
		case RoleTool:
			om.Role = openai.ChatMessageRoleTool
			om.ToolCallID = m.ToolCallID
		}
		out = append(out, om)
	}
	return out
}

func toOpenAITools(tools []ToolDef) []openai.Tool {
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return out
}
