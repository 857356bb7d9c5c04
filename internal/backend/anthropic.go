package backend

import (
	"context"
	"encoding/json"
	"io"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/quillcms/aichat/internal/config"
	"github.com/quillcms/aichat/internal/log"
)

// Anthropic streams completions from the Anthropic Messages API.
type Anthropic struct {
	client      anthropic.Client
	model       string
	temperature float32
	logger      log.Logger
}

// NewAnthropic creates the Anthropic adapter.
func NewAnthropic(cfg *config.Config, logger log.Logger) *Anthropic {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.APIBase != "" {
		opts = append(opts, option.WithBaseURL(cfg.APIBase))
	}
	return &Anthropic{
		client:      anthropic.NewClient(opts...),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		logger:      logger.With("component", "backend", "provider", config.ProviderAnthropic),
	}
}

// Name implements Backend.
func (a *Anthropic) Name() string { return config.ProviderAnthropic }

// Stream implements Backend.
func (a *Anthropic) Stream(ctx context.Context, req Request) (Stream, error) {
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(a.model),
		MaxTokens:   int64(req.MaxTokens),
		Temperature: anthropic.Float(float64(req.Temperature)),
	}

	system, messages := toAnthropicMessages(req.Messages)
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	params.Messages = messages

	if len(req.Tools) > 0 {
		params.Tools = toAnthropicTools(req.Tools)
	}

	s := a.client.Messages.NewStreaming(ctx, params)
	a.logger.Debug("stream opened", "model", a.model, "tools", len(req.Tools))
	return &anthropicStream{s: s}, nil
}

// anthropicStream normalizes Anthropic message stream events into
// Chunks. Tool-use blocks are keyed by their content block index, which
// the accumulator treats the same way as an OpenAI tool-call index.
type anthropicStream struct {
	s      *ssestream.Stream[anthropic.MessageStreamEventUnion]
	finish FinishReason
}

// Recv implements Stream. Events that carry no payload for the
// orchestrator (message_start, block stops) are skipped.
func (s *anthropicStream) Recv() (Chunk, error) {
	for s.s.Next() {
		event := s.s.Current()
		switch variant := event.AsAny().(type) {
		case anthropic.ContentBlockStartEvent:
			if block, ok := variant.ContentBlock.AsAny().(anthropic.ToolUseBlock); ok {
				return Chunk{ToolCalls: []ToolCallDelta{{
					Index: int(variant.Index),
					ID:    block.ID,
					Name:  block.Name,
				}}}, nil
			}
		case anthropic.ContentBlockDeltaEvent:
			switch delta := variant.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				return Chunk{Text: delta.Text}, nil
			case anthropic.ThinkingDelta:
				return Chunk{Reasoning: delta.Thinking}, nil
			case anthropic.InputJSONDelta:
				return Chunk{ToolCalls: []ToolCallDelta{{
					Index:     int(variant.Index),
					Arguments: delta.PartialJSON,
				}}}, nil
			}
		case anthropic.MessageDeltaEvent:
			if string(variant.Delta.StopReason) == "tool_use" {
				s.finish = FinishToolCalls
			} else {
				s.finish = FinishStop
			}
		case anthropic.MessageStopEvent:
			return Chunk{Finish: s.finish}, nil
		}
	}

	if err := s.s.Err(); err != nil {
		return Chunk{}, err
	}
	return Chunk{}, io.EOF
}

// Close implements Stream.
func (s *anthropicStream) Close() error {
	return s.s.Close()
}

// toAnthropicMessages splits out the system prompt (Anthropic carries it
// as a top-level parameter) and converts the rest. Tool results become
// user-role tool_result blocks per the Messages API shape.
func toAnthropicMessages(msgs []Message) (string, []anthropic.MessageParam) {
	var system string
	out := make([]anthropic.MessageParam, 0, len(msgs))

	for _, m := range msgs {
		switch m.Role {
		case RoleSystem:
			system = m.Content
		case RoleUser:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case RoleAssistant:
			blocks := make([]anthropic.ContentBlockParamUnion, 0, 1+len(m.ToolCalls))
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				blocks = append(blocks, anthropic.ContentBlockParamUnion{
					OfToolUse: &anthropic.ToolUseBlockParam{
						ID:    tc.ID,
						Name:  tc.Name,
						Input: json.RawMessage(tc.Arguments),
					},
				})
			}
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		case RoleTool:
			out = append(out, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false)))
		}
	}

	return system, out
}

func toAnthropicTools(tools []ToolDef) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		out = append(out, anthropic.ToolUnionParam{OfTool: &anthropic.ToolParam{
			Name:        t.Name,
			Description: anthropic.String(t.Description),
			InputSchema: toAnthropicSchema(t.Parameters),
		}})
	}
	return out
}

// toAnthropicSchema lifts a plain JSON schema map into the typed input
// schema parameter. Only object schemas are expected here.
func toAnthropicSchema(schema map[string]any) anthropic.ToolInputSchemaParam {
	param := anthropic.ToolInputSchemaParam{}
	if props, ok := schema["properties"]; ok {
		param.Properties = props
	}
	if req, ok := schema["required"].([]any); ok {
		required := make([]string, 0, len(req))
		for _, r := range req {
			if s, ok := r.(string); ok {
				required = append(required, s)
			}
		}
		param.Required = required
	} else if req, ok := schema["required"].([]string); ok {
		param.Required = req
	}
	return param
}
