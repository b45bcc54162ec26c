package tools

import (
	"context"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
)

// SchemaFor derives a JSON schema from a Go parameter struct. Field
// descriptions come from `jsonschema` struct tags.
func SchemaFor[T any]() (*jsonschema.Schema, error) {
	schema, err := jsonschema.For[T](nil)
	if err != nil {
		return nil, fmt.Errorf("deriving schema: %w", err)
	}
	return schema, nil
}

// MustSchemaFor is SchemaFor for static tool declarations, where a failure is
// a programming error.
func MustSchemaFor[T any]() *jsonschema.Schema {
	schema, err := SchemaFor[T]()
	if err != nil {
		panic(err)
	}
	return schema
}

// NewHandler wraps a typed tool function into a Handler, decoding the call's
// argument JSON into the parameter struct first.
func NewHandler[T any](fn func(ctx context.Context, params T) (*ToolCallResult, error)) Handler {
	return func(ctx context.Context, call ToolCall) (*ToolCallResult, error) {
		var params T
		if err := call.UnmarshalArguments(&params); err != nil {
			return nil, fmt.Errorf("invalid arguments for %s: %w", call.Function.Name, err)
		}
		return fn(ctx, params)
	}
}
