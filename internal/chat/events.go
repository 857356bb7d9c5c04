package chat

// EventType identifies one outbound event kind.
type EventType string

const (
	EventStart      EventType = "start"
	EventMessage    EventType = "message"
	EventToolCall   EventType = "tool_call"
	EventToolResult EventType = "tool_result"
	EventEnd        EventType = "end"
	EventError      EventType = "error"
)

// Tool execution statuses carried by tool_call and tool_result events.
const (
	ToolStatusStarting  = "starting"
	ToolStatusExecuting = "executing"
	ToolStatusCompleted = "completed"
	ToolStatusFailed    = "failed"
)

// Error codes carried by error events.
const (
	CodeStreamError = "STREAM_ERROR"
)

// Event is one typed unit of orchestrator output, relayed verbatim by
// the transport layer. Exactly one payload field set per type.
type Event struct {
	Type    EventType
	Payload any
}

// StartPayload opens a turn.
type StartPayload struct {
	ID        string `json:"id"`
	CreatedAt int64  `json:"createdAt"`
}

// MessagePayload carries one text delta.
type MessagePayload struct {
	Content string `json:"content"`
}

// ToolCallPayload announces a tool invocation phase.
type ToolCallPayload struct {
	Tool   string `json:"tool"`
	Status string `json:"status"`
}

// ToolResultPayload carries the outcome of one tool invocation.
type ToolResultPayload struct {
	Tool   string `json:"tool"`
	Status string `json:"status"`
	Result string `json:"result,omitempty"`
}

// EndPayload closes a turn.
type EndPayload struct {
	ID string `json:"id"`
}

// ErrorPayload terminates a turn abnormally.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
