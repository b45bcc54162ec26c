package copilot

import (
	"encoding/json"

	"github.com/nvimtools/copilot-agent/pkg/tools"
)

// StreamEvent is the sealed union of events a completion stream produces.
// Consumers switch exhaustively on the concrete type; end of stream is
// signalled by io.EOF from StreamReader.Recv, not by an event.
type StreamEvent interface {
	streamEvent()
}

// TextEvent is a fragment of assistant text, emitted in arrival order.
type TextEvent struct {
	Content string
}

// ToolCallEvent is a fully assembled tool call: id and name are known and
// Arguments is syntactically valid JSON (the empty object if the model sent
// no argument fragments). Type is whatever the fragments carried, defaulting
// to "function".
type ToolCallEvent struct {
	ID        string
	Type      string
	Name      string
	Arguments string
}

func (TextEvent) streamEvent()     {}
func (ToolCallEvent) streamEvent() {}

// UnmarshalArguments decodes the call's argument JSON into v.
func (e ToolCallEvent) UnmarshalArguments(v any) error {
	return json.Unmarshal([]byte(e.Arguments), v)
}

// ToolCall converts the event into the shape the tool registry dispatches on.
func (e ToolCallEvent) ToolCall() tools.ToolCall {
	typ := e.Type
	if typ == "" {
		typ = "function"
	}
	return tools.ToolCall{
		ID:   e.ID,
		Type: typ,
		Function: tools.FunctionCall{
			Name:      e.Name,
			Arguments: e.Arguments,
		},
	}
}
