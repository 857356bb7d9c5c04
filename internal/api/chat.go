package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/quillcms/aichat/internal/backend"
	"github.com/quillcms/aichat/internal/chat"
	"github.com/quillcms/aichat/internal/guard"
	"github.com/quillcms/aichat/internal/log"
)

// TurnStreamer is the chat handler's view of the orchestrator.
type TurnStreamer interface {
	Stream(ctx context.Context, req chat.Request) <-chan chat.Event
}

// Error codes the handler emits before a turn starts.
const (
	codeInvalidRequest = "INVALID_REQUEST"
	codeRateLimited    = "RATE_LIMITED"
	codeInvalidMessage = "INVALID_MESSAGE"
)

// historyMessage is one prior turn in the client-supplied history.
type historyMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// streamInput is the request body for POST /api/chat/stream.
type streamInput struct {
	Message string           `json:"message"`
	UserID  string           `json:"userId"`
	History []historyMessage `json:"history,omitempty"`
}

// chatHandler serves the SSE chat endpoint.
type chatHandler struct {
	orchestrator TurnStreamer
	limiter      *guard.Limiter
	validator    *guard.Validator
	logger       log.Logger
}

// stream handles POST /api/chat/stream. The response is an SSE stream
// of orchestrator events; guard rejections arrive as a terminal error
// event on the stream rather than an HTTP status, so clients have one
// error path.
func (h *chatHandler) stream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	var input streamInput
	r.Body = http.MaxBytesReader(w, r.Body, 1024*1024)
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		_ = writeEvent(w, flusher, string(chat.EventError), chat.ErrorPayload{
			Code:    codeInvalidRequest,
			Message: "invalid request body",
		})
		return
	}

	if input.UserID == "" {
		_ = writeEvent(w, flusher, string(chat.EventError), chat.ErrorPayload{
			Code:    codeInvalidRequest,
			Message: "userId is required",
		})
		return
	}

	if err := h.limiter.Allow(input.UserID); err != nil {
		h.writeGuardError(w, flusher, input.UserID, err)
		return
	}
	if err := h.validator.Validate(input.Message); err != nil {
		h.writeGuardError(w, flusher, input.UserID, err)
		return
	}

	ctx := r.Context()
	h.logger.Debug("SSE stream started", "user", input.UserID)

	events := h.orchestrator.Stream(ctx, chat.Request{
		UserID:  input.UserID,
		Message: input.Message,
		History: toBackendHistory(input.History),
	})

	count := 0
	for ev := range events {
		if err := writeEvent(w, flusher, string(ev.Type), ev.Payload); err != nil {
			// Write failure usually means the connection closed.
			h.logger.Debug("writing event", "err", err)
			for range events {
			}
			return
		}
		count++
	}

	h.logger.Info("SSE stream completed", "user", input.UserID, "events", count)
}

// writeGuardError maps guard rejections to terminal SSE error events.
func (h *chatHandler) writeGuardError(w io.Writer, f http.Flusher, userID string, err error) {
	code := codeInvalidMessage
	if errors.Is(err, guard.ErrRateLimited) {
		code = codeRateLimited
	}
	h.logger.Warn("message rejected", "user", userID, "code", code, "err", err)
	_ = writeEvent(w, f, string(chat.EventError), chat.ErrorPayload{
		Code:    code,
		Message: err.Error(),
	})
}

// toBackendHistory converts client history, dropping roles a client has
// no business replaying (system, tool).
func toBackendHistory(history []historyMessage) []backend.Message {
	if len(history) == 0 {
		return nil
	}
	out := make([]backend.Message, 0, len(history))
	for _, m := range history {
		role := backend.Role(m.Role)
		if role != backend.RoleUser && role != backend.RoleAssistant {
			continue
		}
		out = append(out, backend.Message{Role: role, Content: m.Content})
	}
	return out
}

// writeEvent writes a single SSE event with JSON-encoded data.
// SSE format: "event: <type>\ndata: <json>\n\n"
func writeEvent[T any](w io.Writer, flusher http.Flusher, event string, data T) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}

	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData); err != nil {
		return fmt.Errorf("write event: %w", err)
	}

	flusher.Flush()
	return nil
}
