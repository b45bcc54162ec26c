// Package tools holds the tool abstraction exposed to the language model:
// tool declarations with JSON schemas, the name-keyed registry used for
// dispatch, and the delta types tool calls arrive as on the wire.
package tools

import (
	"context"
	"encoding/json"

	"github.com/google/jsonschema-go/jsonschema"
)

// Handler executes a tool call and produces its result.
type Handler func(ctx context.Context, call ToolCall) (*ToolCallResult, error)

// Tool is a capability declared to the model. Parameters describes the
// expected input object; Handler is invoked when the model calls the tool.
// Handler and Category are never serialized to the provider.
type Tool struct {
	Type     string              `json:"type"`
	Function *FunctionDefinition `json:"function,omitempty"`

	Category string  `json:"-"`
	Handler  Handler `json:"-"`
}

type FunctionDefinition struct {
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	Parameters  *jsonschema.Schema `json:"parameters,omitempty"`
}

func (t Tool) Name() string {
	if t.Function == nil {
		return ""
	}
	return t.Function.Name
}

// ToolCall is a fully assembled call issued by the model.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

type FunctionCall struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// UnmarshalArguments decodes the call's argument JSON into v. An empty
// argument string is treated as the empty object.
func (c ToolCall) UnmarshalArguments(v any) error {
	args := c.Function.Arguments
	if args == "" {
		args = "{}"
	}
	return json.Unmarshal([]byte(args), v)
}

// ToolCallDelta is one streamed fragment of a tool call. Fragments sharing an
// Index belong to the same logical call; Arguments fragments concatenate in
// arrival order.
type ToolCallDelta struct {
	Index    *int          `json:"index,omitempty"`
	ID       string        `json:"id,omitempty"`
	Type     string        `json:"type,omitempty"`
	Function FunctionDelta `json:"function,omitempty"`
}

type FunctionDelta struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// ToolCallResult is the uniform outcome of a tool invocation.
type ToolCallResult struct {
	Output  string `json:"output"`
	IsError bool   `json:"is_error,omitempty"`
}

func ResultSuccess(output string) *ToolCallResult {
	return &ToolCallResult{Output: output}
}

func ResultError(output string) *ToolCallResult {
	return &ToolCallResult{Output: output, IsError: true}
}
