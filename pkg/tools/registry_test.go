package tools

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func staticTool(name, output string) Tool {
	return Tool{
		Type:     "function",
		Function: &FunctionDefinition{Name: name},
		Handler: func(context.Context, ToolCall) (*ToolCallResult, error) {
			return ResultSuccess(output), nil
		},
	}
}

func callFor(name, args string) ToolCall {
	return ToolCall{
		ID:   "call_1",
		Type: "function",
		Function: FunctionCall{
			Name:      name,
			Arguments: args,
		},
	}
}

func TestRegistry_Invoke(t *testing.T) {
	t.Parallel()

	r := NewRegistry(staticTool("greet", "hello"))

	result, err := r.Invoke(t.Context(), callFor("greet", "{}"))
	require.NoError(t, err)
	assert.Equal(t, "hello", result.Output)
	assert.False(t, result.IsError)
}

func TestRegistry_InvokeUnknownTool(t *testing.T) {
	t.Parallel()

	r := NewRegistry()

	_, err := r.Invoke(t.Context(), callFor("nope", "{}"))
	assert.ErrorIs(t, err, ErrToolNotFound)
	assert.ErrorContains(t, err, "nope")
}

func TestRegistry_InvokeCancelledContext(t *testing.T) {
	t.Parallel()

	invoked := false
	r := NewRegistry(Tool{
		Type:     "function",
		Function: &FunctionDefinition{Name: "greet"},
		Handler: func(context.Context, ToolCall) (*ToolCallResult, error) {
			invoked = true
			return ResultSuccess("hello"), nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Invoke(ctx, callFor("greet", "{}"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, invoked, "the handler must not run on a dead context")
}

func TestRegistry_InvokeNilResult(t *testing.T) {
	t.Parallel()

	r := NewRegistry(Tool{
		Type:     "function",
		Function: &FunctionDefinition{Name: "quiet"},
		Handler: func(context.Context, ToolCall) (*ToolCallResult, error) {
			return nil, nil
		},
	})

	result, err := r.Invoke(t.Context(), callFor("quiet", ""))
	require.NoError(t, err)
	assert.Equal(t, "", result.Output)
	assert.False(t, result.IsError)
}

func TestRegistry_InvokeHandlerError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	r := NewRegistry(Tool{
		Type:     "function",
		Function: &FunctionDefinition{Name: "explode"},
		Handler: func(context.Context, ToolCall) (*ToolCallResult, error) {
			return nil, boom
		},
	})

	_, err := r.Invoke(t.Context(), callFor("explode", "{}"))
	assert.ErrorIs(t, err, boom)
}

func TestRegistry_DefinitionsOrder(t *testing.T) {
	t.Parallel()

	r := NewRegistry(staticTool("b", ""), staticTool("a", ""), staticTool("c", ""))

	var names []string
	for _, def := range r.Definitions() {
		names = append(names, def.Name())
	}
	assert.Equal(t, []string{"b", "a", "c"}, names)
}

func TestRegistry_RegisterReplaces(t *testing.T) {
	t.Parallel()

	r := NewRegistry(staticTool("greet", "old"))
	r.Register(staticTool("greet", "new"))

	result, err := r.Invoke(t.Context(), callFor("greet", "{}"))
	require.NoError(t, err)
	assert.Equal(t, "new", result.Output)
	assert.Len(t, r.Definitions(), 1)
}

func TestToolCall_UnmarshalArguments(t *testing.T) {
	t.Parallel()

	var params struct {
		Query string `json:"query"`
	}

	err := callFor("search", `{"query":"go"}`).UnmarshalArguments(&params)
	require.NoError(t, err)
	assert.Equal(t, "go", params.Query)

	// An empty argument string decodes as the empty object.
	params.Query = ""
	err = callFor("search", "").UnmarshalArguments(&params)
	require.NoError(t, err)
	assert.Empty(t, params.Query)
}

func TestNewHandler_DecodesParams(t *testing.T) {
	t.Parallel()

	type params struct {
		N int `json:"n"`
	}
	handler := NewHandler(func(_ context.Context, p params) (*ToolCallResult, error) {
		return ResultSuccess("got it"), nil
	})

	result, err := handler(t.Context(), callFor("typed", `{"n":3}`))
	require.NoError(t, err)
	assert.Equal(t, "got it", result.Output)

	_, err = handler(t.Context(), callFor("typed", `{"n":`))
	assert.ErrorContains(t, err, "invalid arguments")
}
