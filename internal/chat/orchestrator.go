// Package chat drives one conversational turn: it streams the model's
// reply, reassembles tool-call fragments, executes tools through the
// registry, and issues the continuation call that produces the final
// narrative. Output is an ordered event stream the transport relays
// directly to the client.
package chat

import (
	"context"
	"errors"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/quillcms/aichat/internal/backend"
	"github.com/quillcms/aichat/internal/config"
	"github.com/quillcms/aichat/internal/log"
	"github.com/quillcms/aichat/internal/prompt"
	"github.com/quillcms/aichat/internal/registry"
	"github.com/quillcms/aichat/internal/sanitize"
	"github.com/quillcms/aichat/internal/webtool"
)

// defaultSystemPrompt is the operator-authored base instruction set.
const defaultSystemPrompt = "You are the AI assistant of a content management system. " +
	"Help the operator draft, improve, and reason about content. " +
	"Be concise and factual. When tool results are available, ground your answer in them."

// reasoningSeparator is emitted once at the reasoning/answer boundary.
const reasoningSeparator = "\n\n---\n\n"

// ToolRegistry is the orchestrator's view of the tool layer.
type ToolRegistry interface {
	Tools() []registry.Descriptor
	Call(ctx context.Context, qualifiedName string, arguments map[string]any) registry.Result
}

// PageFetcher retrieves webpage content for URL auto-attachment.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) (webtool.Page, error)
}

// Request is one inbound chat turn.
type Request struct {
	UserID  string
	Message string
	History []backend.Message // prior user/assistant messages, oldest first
}

// Orchestrator runs turns. Construct once at startup; safe for
// concurrent turns.
type Orchestrator struct {
	backend   backend.Backend
	registry  ToolRegistry
	builder   *prompt.Builder
	sanitizer *sanitize.Sanitizer
	fetcher   PageFetcher // nil disables URL auto-attachment
	cfg       *config.Config
	logger    log.Logger
}

// New creates an Orchestrator. fetcher may be nil.
func New(b backend.Backend, reg ToolRegistry, builder *prompt.Builder, sanitizer *sanitize.Sanitizer, fetcher PageFetcher, cfg *config.Config, logger log.Logger) *Orchestrator {
	return &Orchestrator{
		backend:   b,
		registry:  reg,
		builder:   builder,
		sanitizer: sanitizer,
		fetcher:   fetcher,
		cfg:       cfg,
		logger:    logger.With("component", "chat"),
	}
}

// Stream runs one turn and returns its event channel. The channel is
// closed after a terminal event (end or error); every started turn gets
// exactly one terminal event unless the client disconnects first, in
// which case the turn stops promptly and pending tool calls are skipped.
func (o *Orchestrator) Stream(ctx context.Context, req Request) <-chan Event {
	events := make(chan Event, 16)
	go func() {
		defer close(events)
		o.run(ctx, req, events)
	}()
	return events
}

// turnState tracks delta forwarding across the initial and continuation
// streams.
type turnState struct {
	sawReasoning  bool
	separatorSent bool
}

func (o *Orchestrator) run(ctx context.Context, req Request, events chan<- Event) {
	turnID := uuid.NewString()
	logger := o.logger.With("turn", turnID, "user", req.UserID)

	if !emit(ctx, events, Event{Type: EventStart, Payload: StartPayload{
		ID:        turnID,
		CreatedAt: time.Now().UnixMilli(),
	}}) {
		return
	}

	messages := o.buildMessages(ctx, req, logger)
	tools := o.toolDefs()

	state := &turnState{}
	text, calls, err := o.streamOnce(ctx, backend.Request{
		Messages:    messages,
		Tools:       tools,
		Temperature: o.cfg.Temperature,
		MaxTokens:   o.cfg.MaxTokens,
	}, state, events, logger)
	if err != nil {
		o.fail(ctx, events, logger, err)
		return
	}

	if len(calls) > 0 {
		messages = o.executeTools(ctx, messages, text, calls, events, logger)
		if ctx.Err() != nil {
			logger.Info("client disconnected, skipping continuation")
			return
		}

		// Continuation: tool definitions removed so the model cannot
		// loop back into another round of calls.
		if _, _, err := o.streamOnce(ctx, backend.Request{
			Messages:    messages,
			Temperature: o.cfg.Temperature,
			MaxTokens:   o.cfg.MaxTokens,
		}, state, events, logger); err != nil {
			o.fail(ctx, events, logger, err)
			return
		}
	}

	emit(ctx, events, Event{Type: EventEnd, Payload: EndPayload{ID: turnID}})
	logger.Debug("turn completed", "tool_calls", len(calls))
}

// buildMessages assembles the conversation for this turn: system prompt
// with operator instructions at high trust, bounded history, and the
// user message with any auto-attached page content at low trust.
func (o *Orchestrator) buildMessages(ctx context.Context, req Request, logger log.Logger) []backend.Message {
	system := defaultSystemPrompt
	if o.cfg.CustomInstructions != "" {
		system = o.builder.Build(system, map[string]string{
			"operator instructions": o.cfg.CustomInstructions,
		}, prompt.TrustHigh)
	}

	history := req.History
	if max := o.cfg.MaxConversationLength; len(history) > max {
		history = history[len(history)-max:]
	}

	userContent := req.Message
	if url, ok := detectPageRequest(req.Message); ok && o.fetcher != nil && o.cfg.EnableWebTools && o.cfg.WebToolsAutoCall {
		page, err := o.fetcher.Fetch(ctx, url)
		if err != nil {
			// Degrade to a plain chat turn; the model can still call
			// the fetch tool itself.
			logger.Warn("auto-attach fetch failed", "url", url, "err", err)
		} else {
			userContent = o.builder.Build(req.Message, map[string]string{
				"webpage " + url: page.Text,
			}, prompt.TrustLow)
		}
	}

	messages := make([]backend.Message, 0, len(history)+2)
	messages = append(messages, backend.Message{Role: backend.RoleSystem, Content: system})
	messages = append(messages, history...)
	messages = append(messages, backend.Message{Role: backend.RoleUser, Content: userContent})
	return messages
}

// toolDefs converts the registry catalog for the backend. Nil when web
// tools are disabled or the registry is degraded, so no tool block is
// sent at all.
func (o *Orchestrator) toolDefs() []backend.ToolDef {
	if !o.cfg.EnableWebTools || o.registry == nil {
		return nil
	}
	descriptors := o.registry.Tools()
	if len(descriptors) == 0 {
		return nil
	}
	defs := make([]backend.ToolDef, 0, len(descriptors))
	for _, d := range descriptors {
		defs = append(defs, backend.ToolDef{
			Name:        d.QualifiedName,
			Description: d.Description,
			Parameters:  d.Schema,
		})
	}
	return defs
}

// streamOnce consumes one backend stream: forwards text deltas as
// message events, routes reasoning deltas, and accumulates tool-call
// fragments. Returns the concatenated assistant text and any completed
// tool calls.
func (o *Orchestrator) streamOnce(ctx context.Context, req backend.Request, state *turnState, events chan<- Event, logger log.Logger) (string, []invocation, error) {
	stream, err := o.backend.Stream(ctx, req)
	if err != nil {
		return "", nil, err
	}
	defer func() { _ = stream.Close() }()

	acc := newAccumulator()
	var text strings.Builder
	var finish backend.FinishReason

	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", nil, err
		}
		if ctx.Err() != nil {
			return "", nil, ctx.Err()
		}

		if chunk.Reasoning != "" && o.cfg.EnableThinking {
			state.sawReasoning = true
			if !emit(ctx, events, Event{Type: EventMessage, Payload: MessagePayload{Content: chunk.Reasoning}}) {
				return "", nil, ctx.Err()
			}
		}

		if chunk.Text != "" {
			if state.sawReasoning && !state.separatorSent {
				state.separatorSent = true
				if !emit(ctx, events, Event{Type: EventMessage, Payload: MessagePayload{Content: reasoningSeparator}}) {
					return "", nil, ctx.Err()
				}
			}
			text.WriteString(chunk.Text)
			if !emit(ctx, events, Event{Type: EventMessage, Payload: MessagePayload{Content: chunk.Text}}) {
				return "", nil, ctx.Err()
			}
		}

		for _, delta := range chunk.ToolCalls {
			acc.add(delta)
		}

		if chunk.Finish != backend.FinishNone {
			finish = chunk.Finish
		}
	}

	if finish == backend.FinishToolCalls && !acc.empty() {
		return text.String(), acc.finish(logger), nil
	}
	return text.String(), nil, nil
}

// executeTools runs every accumulated call in order, emitting phase and
// result events, and returns the message list extended with the
// assistant tool-call message and one tool-result message per call.
// A cancelled context skips the remaining calls.
func (o *Orchestrator) executeTools(ctx context.Context, messages []backend.Message, assistantText string, calls []invocation, events chan<- Event, logger log.Logger) []backend.Message {
	toolCalls := make([]backend.ToolCall, 0, len(calls))
	for _, c := range calls {
		toolCalls = append(toolCalls, backend.ToolCall{ID: c.ID, Name: c.Name, Arguments: c.RawArgs})
	}
	messages = append(messages, backend.Message{
		Role:      backend.RoleAssistant,
		Content:   assistantText,
		ToolCalls: toolCalls,
	})

	for _, call := range calls {
		if ctx.Err() != nil {
			logger.Info("client disconnected, skipping pending tool calls")
			return messages
		}

		if !emit(ctx, events, Event{Type: EventToolCall, Payload: ToolCallPayload{Tool: call.Name, Status: ToolStatusStarting}}) {
			return messages
		}
		if !emit(ctx, events, Event{Type: EventToolCall, Payload: ToolCallPayload{Tool: call.Name, Status: ToolStatusExecuting}}) {
			return messages
		}

		result := o.registry.Call(ctx, call.Name, call.Args)

		payload := ToolResultPayload{Tool: call.Name}
		var content string
		if result.Success {
			payload.Status = ToolStatusCompleted
			payload.Result = result.Content
			// Tool output is untrusted external content; it never
			// reaches the model raw.
			sanitized, report := o.sanitizer.Sanitize(result.Content, "tool result")
			if !report.Clean() {
				logger.Info("tool result sanitized", "tool", call.Name, "threats", report.Threats)
			}
			content = sanitized
		} else {
			payload.Status = ToolStatusFailed
			payload.Result = result.Error
			content = "tool failed: " + result.Error
			logger.Warn("tool call failed", "tool", call.Name, "err", result.Error)
		}
		if !emit(ctx, events, Event{Type: EventToolResult, Payload: payload}) {
			return messages
		}

		messages = append(messages, backend.Message{
			Role:       backend.RoleTool,
			Content:    content,
			ToolCallID: call.ID,
		})
	}
	return messages
}

// fail reports a backend transport error and terminates the turn. A
// cancelled context means the client is gone; nothing is emitted.
func (o *Orchestrator) fail(ctx context.Context, events chan<- Event, logger log.Logger, err error) {
	if ctx.Err() != nil {
		logger.Info("turn cancelled", "err", err)
		return
	}
	logger.Error("turn failed", "err", err)
	emit(ctx, events, Event{Type: EventError, Payload: ErrorPayload{
		Code:    CodeStreamError,
		Message: err.Error(),
	}})
}

// emit delivers one event unless the client disconnected.
func emit(ctx context.Context, events chan<- Event, ev Event) bool {
	select {
	case <-ctx.Done():
		return false
	case events <- ev:
		return true
	}
}

var urlPattern = regexp.MustCompile(`https?://[^\s<>"']+`)

// analysisHints are verbs suggesting the user wants a page read, in
// English and Chinese.
var analysisHints = []string{
	"summarize", "summarise", "summary", "analyze", "analyse",
	"read", "review", "explain", "translate", "look at",
	"总结", "分析", "阅读", "解读", "翻译", "概括", "看看",
}

// detectPageRequest reports whether the message looks like a request to
// analyze a specific page. Best-effort heuristic, not a contract: a
// bare URL or a URL plus an analysis verb triggers auto-attachment.
func detectPageRequest(message string) (string, bool) {
	url := urlPattern.FindString(message)
	if url == "" {
		return "", false
	}

	remainder := strings.TrimSpace(strings.Replace(message, url, "", 1))
	if remainder == "" {
		return url, true
	}

	lower := strings.ToLower(message)
	for _, hint := range analysisHints {
		if strings.Contains(lower, hint) {
			return url, true
		}
	}
	return "", false
}
