package chat

import (
	"encoding/json"
	"strings"

	"github.com/quillcms/aichat/internal/backend"
	"github.com/quillcms/aichat/internal/log"
)

// invocation is one fully accumulated tool call, ready to execute.
type invocation struct {
	ID      string
	Name    string
	RawArgs string
	Args    map[string]any
}

// accumulator reassembles tool calls from streamed fragments. Entries
// are created on first sight of an index, in arrival order; argument
// fragments are concatenated, never overwritten, so chunk boundaries
// that split a JSON token reassemble correctly.
type accumulator struct {
	order   []int
	entries map[int]*accEntry
}

type accEntry struct {
	id   string
	name string
	args strings.Builder
}

func newAccumulator() *accumulator {
	return &accumulator{entries: make(map[int]*accEntry)}
}

// add applies one fragment.
func (a *accumulator) add(d backend.ToolCallDelta) {
	e, ok := a.entries[d.Index]
	if !ok {
		e = &accEntry{}
		a.entries[d.Index] = e
		a.order = append(a.order, d.Index)
	}
	if d.ID != "" {
		e.id = d.ID
	}
	if d.Name != "" {
		e.name = d.Name
	}
	e.args.WriteString(d.Arguments)
}

// empty reports whether no fragments arrived.
func (a *accumulator) empty() bool {
	return len(a.order) == 0
}

// finish parses every entry's argument buffer and returns the calls in
// arrival order. A buffer that is not valid JSON degrades to empty
// arguments with a logged warning; a parse failure is never fatal.
func (a *accumulator) finish(logger log.Logger) []invocation {
	out := make([]invocation, 0, len(a.order))
	for _, idx := range a.order {
		e := a.entries[idx]

		raw := e.args.String()
		if raw == "" {
			raw = "{}"
		}

		var args map[string]any
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			logger.Warn("tool call arguments are not valid JSON, using empty object",
				"tool", e.name, "err", err)
			raw = "{}"
			args = map[string]any{}
		}
		if args == nil {
			args = map[string]any{}
		}

		out = append(out, invocation{
			ID:      e.id,
			Name:    e.name,
			RawArgs: raw,
			Args:    args,
		})
	}
	return out
}
