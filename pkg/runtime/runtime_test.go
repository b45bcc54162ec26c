package runtime

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvimtools/copilot-agent/pkg/chat"
	"github.com/nvimtools/copilot-agent/pkg/config"
	"github.com/nvimtools/copilot-agent/pkg/copilot"
	"github.com/nvimtools/copilot-agent/pkg/session"
	"github.com/nvimtools/copilot-agent/pkg/tools"
)

// fakeStream replays scripted events, then err (io.EOF when unset).
type fakeStream struct {
	events []copilot.StreamEvent
	err    error
	closed bool
}

func (s *fakeStream) Recv() (copilot.StreamEvent, error) {
	if len(s.events) == 0 {
		if s.err != nil {
			return nil, s.err
		}
		return nil, io.EOF
	}
	ev := s.events[0]
	s.events = s.events[1:]
	return ev, nil
}

func (s *fakeStream) Close() error {
	s.closed = true
	return nil
}

// fakeProvider hands out scripted streams in order.
type fakeProvider struct {
	streams []*fakeStream
	calls   int
	err     error
	onCall  func(messages []chat.Message, toolDefs []tools.Tool)
}

func (p *fakeProvider) Model() string { return "fake-model" }

func (p *fakeProvider) CreateChatCompletionStream(_ context.Context, messages []chat.Message, toolDefs []tools.Tool) (copilot.Stream, error) {
	if p.onCall != nil {
		p.onCall(messages, toolDefs)
	}
	if p.err != nil {
		return nil, p.err
	}
	if p.calls >= len(p.streams) {
		return nil, errors.New("no more scripted streams")
	}
	s := p.streams[p.calls]
	p.calls++
	return s, nil
}

func echoTool(name string) tools.Tool {
	return tools.Tool{
		Type:     "function",
		Function: &tools.FunctionDefinition{Name: name},
		Handler: func(_ context.Context, call tools.ToolCall) (*tools.ToolCallResult, error) {
			return tools.ResultSuccess("echo:" + call.Function.Arguments), nil
		},
	}
}

func agentConfig() config.AgentConfig {
	return config.AgentConfig{MaxIterations: 5, Timeout: time.Minute}
}

func TestExecuteAutonomously_RequiresTool(t *testing.T) {
	t.Parallel()

	rt := New(&fakeProvider{}, tools.NewRegistry(), agentConfig())

	_, err := rt.ExecuteAutonomously(t.Context(), AgentCall{})
	assert.ErrorIs(t, err, ErrNoTool)
}

func TestExecuteAutonomously_InitialToolFailurePropagates(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{onCall: func([]chat.Message, []tools.Tool) {
		t.Error("provider must not be called when the initial tool fails")
	}}
	rt := New(provider, tools.NewRegistry(), agentConfig())

	result, err := rt.ExecuteAutonomously(t.Context(), AgentCall{Tool: "missing"})
	require.ErrorIs(t, err, tools.ErrToolNotFound)
	assert.Nil(t, result)
	assert.Empty(t, rt.ActiveRequests())
}

func TestExecuteAutonomously_AutoExecuteDisabled(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{onCall: func([]chat.Message, []tools.Tool) {
		t.Error("provider must not be called with auto-execute disabled")
	}}
	disabled := false
	cfg := agentConfig()
	cfg.AutoExecute = &disabled

	rt := New(provider, tools.NewRegistry(echoTool("probe")), cfg)

	result, err := rt.ExecuteAutonomously(t.Context(), AgentCall{Tool: "probe", Input: []byte(`{"x":1}`)})
	require.NoError(t, err)

	assert.Equal(t, StopDisabled, result.Stopped)
	assert.Equal(t, 0, result.Iterations)
	require.Len(t, result.Segments, 1)
	assert.Equal(t, SegmentInitial, result.Segments[0].Kind)
	assert.Equal(t, `echo:{"x":1}`, result.Segments[0].Text)
	require.Len(t, result.Actions, 1)
	assert.True(t, result.Actions[0].Success)
}

func TestExecuteAutonomously_CompletesWithoutToolCalls(t *testing.T) {
	t.Parallel()

	stream := &fakeStream{events: []copilot.StreamEvent{
		copilot.TextEvent{Content: "All "},
		copilot.TextEvent{Content: "good."},
	}}
	rt := New(&fakeProvider{streams: []*fakeStream{stream}}, tools.NewRegistry(echoTool("probe")), agentConfig())

	result, err := rt.ExecuteAutonomously(t.Context(), AgentCall{Tool: "probe"})
	require.NoError(t, err)

	assert.Equal(t, StopCompleted, result.Stopped)
	assert.Equal(t, 0, result.Iterations)
	require.Len(t, result.Segments, 2)
	assert.Equal(t, SegmentInitial, result.Segments[0].Kind)
	assert.Equal(t, SegmentAnalysis, result.Segments[1].Kind)
	assert.Equal(t, "All good.", result.Segments[1].Text)
	assert.True(t, stream.closed)
}

func TestExecuteAutonomously_ToolLoopThenAnalysis(t *testing.T) {
	t.Parallel()

	first := &fakeStream{events: []copilot.StreamEvent{
		copilot.TextEvent{Content: "Let me check."},
		copilot.ToolCallEvent{ID: "call_1", Name: "echo", Arguments: `{"x":1}`},
	}}
	second := &fakeStream{events: []copilot.StreamEvent{
		copilot.TextEvent{Content: "Done."},
	}}
	provider := &fakeProvider{streams: []*fakeStream{first, second}}
	rt := New(provider, tools.NewRegistry(echoTool("probe"), echoTool("echo")), agentConfig())

	result, err := rt.ExecuteAutonomously(t.Context(), AgentCall{Tool: "probe"})
	require.NoError(t, err)

	assert.Equal(t, StopCompleted, result.Stopped)
	assert.Equal(t, 1, result.Iterations)

	require.Len(t, result.Segments, 3)
	assert.Equal(t, SegmentInitial, result.Segments[0].Kind)
	assert.Equal(t, SegmentToolResults, result.Segments[1].Kind)
	assert.Equal(t, 1, result.Segments[1].Iteration)
	assert.Contains(t, result.Segments[1].Text, `echo (call_1): echo:{"x":1}`)
	assert.Equal(t, SegmentAnalysis, result.Segments[2].Kind)
	assert.Equal(t, "Done.", result.Segments[2].Text)

	// Initial tool plus the requested one.
	require.Len(t, result.Actions, 2)
	assert.Equal(t, "probe", result.Actions[0].Tool)
	assert.Equal(t, "echo", result.Actions[1].Tool)
}

func TestExecuteAutonomously_MaxIterationsBound(t *testing.T) {
	t.Parallel()

	wantsMore := func(id string) *fakeStream {
		return &fakeStream{events: []copilot.StreamEvent{
			copilot.ToolCallEvent{ID: id, Name: "echo", Arguments: "{}"},
		}}
	}
	provider := &fakeProvider{streams: []*fakeStream{wantsMore("c1"), wantsMore("c2")}}

	cfg := agentConfig()
	cfg.MaxIterations = 1
	rt := New(provider, tools.NewRegistry(echoTool("probe"), echoTool("echo")), cfg)

	result, err := rt.ExecuteAutonomously(t.Context(), AgentCall{Tool: "probe"})
	require.NoError(t, err)

	assert.Equal(t, StopMaxIterations, result.Stopped)
	assert.Equal(t, 1, result.Iterations)
	assert.Equal(t, 1, provider.calls, "the loop must stop before a second completion")
}

func TestExecuteAutonomously_ToolFailureFedBack(t *testing.T) {
	t.Parallel()

	first := &fakeStream{events: []copilot.StreamEvent{
		copilot.ToolCallEvent{ID: "call_1", Name: "missing", Arguments: "{}"},
	}}
	second := &fakeStream{events: []copilot.StreamEvent{
		copilot.TextEvent{Content: "Understood."},
	}}

	var conversations [][]chat.Message
	provider := &fakeProvider{
		streams: []*fakeStream{first, second},
		onCall: func(messages []chat.Message, _ []tools.Tool) {
			conversations = append(conversations, messages)
		},
	}
	rt := New(provider, tools.NewRegistry(echoTool("probe")), agentConfig())

	result, err := rt.ExecuteAutonomously(t.Context(), AgentCall{Tool: "probe"})
	require.NoError(t, err)

	assert.Equal(t, StopCompleted, result.Stopped)

	// The failure went back to the model as text, not as an error.
	require.Len(t, conversations, 2)
	feedback := conversations[1][len(conversations[1])-1]
	assert.Equal(t, chat.MessageRoleUser, feedback.Role)
	assert.Contains(t, feedback.Content, "Error executing missing")

	require.Len(t, result.Actions, 2)
	assert.False(t, result.Actions[1].Success)
	assert.NotEmpty(t, result.Actions[1].Error)
}

func TestExecuteAutonomously_Timeout(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{onCall: func([]chat.Message, []tools.Tool) {
		t.Error("provider must not be called after the deadline")
	}}
	cfg := agentConfig()
	cfg.Timeout = time.Nanosecond

	rt := New(provider, tools.NewRegistry(echoTool("probe")), cfg)

	result, err := rt.ExecuteAutonomously(t.Context(), AgentCall{Tool: "probe"})
	require.NoError(t, err)

	assert.Equal(t, StopTimeout, result.Stopped)
	require.Len(t, result.Segments, 1)
	assert.Equal(t, SegmentInitial, result.Segments[0].Kind)
}

func TestExecuteAutonomously_CancellationBetweenIterations(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())

	// The initial tool cancels the context, so the loop must stop before
	// the first completion request.
	cancelling := tools.Tool{
		Type:     "function",
		Function: &tools.FunctionDefinition{Name: "probe"},
		Handler: func(context.Context, tools.ToolCall) (*tools.ToolCallResult, error) {
			cancel()
			return tools.ResultSuccess("done"), nil
		},
	}
	provider := &fakeProvider{onCall: func([]chat.Message, []tools.Tool) {
		t.Error("provider must not be called after cancellation")
	}}
	rt := New(provider, tools.NewRegistry(cancelling), agentConfig())

	result, err := rt.ExecuteAutonomously(ctx, AgentCall{Tool: "probe"})
	require.NoError(t, err)
	assert.Equal(t, StopCancelled, result.Stopped)
}

func TestExecuteAutonomously_CancellationMidStream(t *testing.T) {
	t.Parallel()

	stream := &fakeStream{
		events: []copilot.StreamEvent{copilot.TextEvent{Content: "partial"}},
		err:    context.Canceled,
	}
	rt := New(&fakeProvider{streams: []*fakeStream{stream}}, tools.NewRegistry(echoTool("probe")), agentConfig())

	result, err := rt.ExecuteAutonomously(t.Context(), AgentCall{Tool: "probe"})
	require.NoError(t, err)
	assert.Equal(t, StopCancelled, result.Stopped)
}

func TestExecuteAutonomously_ContextRegistry(t *testing.T) {
	t.Parallel()

	var seen []string
	provider := &fakeProvider{streams: []*fakeStream{{}}}
	rt := New(provider, tools.NewRegistry(echoTool("probe")), agentConfig())
	provider.onCall = func([]chat.Message, []tools.Tool) {
		seen = rt.ActiveRequests()
	}

	result, err := rt.ExecuteAutonomously(t.Context(), AgentCall{RequestID: "req-42", Tool: "probe"})
	require.NoError(t, err)

	assert.Equal(t, "req-42", result.RequestID)
	assert.Equal(t, []string{"req-42"}, seen, "the context must be registered while the loop runs")
	assert.Empty(t, rt.ActiveRequests(), "the context must be released on exit")
}

func TestExecuteAutonomously_GeneratesRequestID(t *testing.T) {
	t.Parallel()

	rt := New(&fakeProvider{streams: []*fakeStream{{}}}, tools.NewRegistry(echoTool("probe")), agentConfig())

	result, err := rt.ExecuteAutonomously(t.Context(), AgentCall{Tool: "probe"})
	require.NoError(t, err)
	assert.NotEmpty(t, result.RequestID)
}

func TestExecuteAutonomously_PersistsConversation(t *testing.T) {
	t.Parallel()

	stream := &fakeStream{events: []copilot.StreamEvent{
		copilot.TextEvent{Content: "Analysis."},
	}}
	store := session.NewInMemoryStore()
	rt := New(&fakeProvider{streams: []*fakeStream{stream}},
		tools.NewRegistry(echoTool("probe")), agentConfig(),
		WithSessionStore(store))

	_, err := rt.ExecuteAutonomously(t.Context(), AgentCall{Tool: "probe", SessionID: "sess-1"})
	require.NoError(t, err)

	msgs, err := store.Messages(t.Context(), "sess-1")
	require.NoError(t, err)
	require.NotEmpty(t, msgs)
	for _, m := range msgs {
		assert.NotEqual(t, chat.MessageRoleSystem, m.Role, "the system prompt must not be persisted")
	}
	assert.Equal(t, chat.MessageRoleAssistant, msgs[len(msgs)-1].Role)
	assert.Equal(t, "Analysis.", msgs[len(msgs)-1].Content)
}

func TestSendDirectMessage(t *testing.T) {
	t.Parallel()

	var toolDefs [][]tools.Tool
	provider := &fakeProvider{
		streams: []*fakeStream{{events: []copilot.StreamEvent{
			copilot.TextEvent{Content: "Hi there."},
		}}},
		onCall: func(_ []chat.Message, defs []tools.Tool) {
			toolDefs = append(toolDefs, defs)
		},
	}
	store := session.NewInMemoryStore()
	rt := New(provider, tools.NewRegistry(echoTool("probe")), agentConfig(), WithSessionStore(store))

	result, err := rt.SendDirectMessage(t.Context(), DirectMessage{Content: "hello", SessionID: "sess-1"})
	require.NoError(t, err)

	assert.Equal(t, StopCompleted, result.Stopped)
	assert.Equal(t, "Hi there.", result.Text())
	require.Len(t, toolDefs, 1)
	assert.Empty(t, toolDefs[0], "direct messages carry no tool declarations")

	msgs, err := store.Messages(t.Context(), "sess-1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, chat.MessageRoleUser, msgs[0].Role)
	assert.Equal(t, chat.MessageRoleAssistant, msgs[1].Role)
}

func TestSendDirectMessage_UsesHistory(t *testing.T) {
	t.Parallel()

	var conversations [][]chat.Message
	provider := &fakeProvider{
		streams: []*fakeStream{
			{events: []copilot.StreamEvent{copilot.TextEvent{Content: "First."}}},
			{events: []copilot.StreamEvent{copilot.TextEvent{Content: "Second."}}},
		},
		onCall: func(messages []chat.Message, _ []tools.Tool) {
			conversations = append(conversations, messages)
		},
	}
	rt := New(provider, tools.NewRegistry(), agentConfig(), WithSessionStore(session.NewInMemoryStore()))

	_, err := rt.SendDirectMessage(t.Context(), DirectMessage{Content: "one", SessionID: "sess-1"})
	require.NoError(t, err)
	_, err = rt.SendDirectMessage(t.Context(), DirectMessage{Content: "two", SessionID: "sess-1"})
	require.NoError(t, err)

	require.Len(t, conversations, 2)
	// system + user on the first turn; system + prior exchange + user after.
	assert.Len(t, conversations[0], 2)
	assert.Len(t, conversations[1], 4)
}

func TestSendDirectMessage_ProviderError(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{err: errors.New("upstream down")}
	rt := New(provider, tools.NewRegistry(), agentConfig())

	_, err := rt.SendDirectMessage(t.Context(), DirectMessage{Content: "hello"})
	assert.ErrorContains(t, err, "upstream down")
}
