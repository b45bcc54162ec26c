// Package runtime drives the autonomous agent loop. It executes the caller's
// initial tool, then repeatedly sends the conversation, parses the streamed
// reply and runs requested tools until the model stops asking for tools or a
// bound (iterations, wall-clock timeout, cancellation) is hit.
package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/nvimtools/copilot-agent/pkg/chat"
	"github.com/nvimtools/copilot-agent/pkg/concurrent"
	"github.com/nvimtools/copilot-agent/pkg/config"
	"github.com/nvimtools/copilot-agent/pkg/copilot"
	"github.com/nvimtools/copilot-agent/pkg/session"
	"github.com/nvimtools/copilot-agent/pkg/tools"
)

var ErrNoTool = errors.New("no tool specified")

const systemPrompt = `You are an autonomous coding assistant running inside an editor.
A tool has already been executed on the user's behalf; its output is given to you.
Use the available tools when further action is needed. When no more tool calls are
required, reply with your final analysis in plain text.`

// Provider issues streaming chat completions. *copilot.Client satisfies it;
// tests substitute stubs.
type Provider interface {
	Model() string
	CreateChatCompletionStream(ctx context.Context, messages []chat.Message, toolDefs []tools.Tool) (copilot.Stream, error)
}

var _ Provider = (*copilot.Client)(nil)

// AgentCall is one request to ExecuteAutonomously.
type AgentCall struct {
	RequestID   string          `json:"request_id,omitempty"`
	Participant string          `json:"participant,omitempty"`
	SessionID   string          `json:"session_id,omitempty"`
	Tool        string          `json:"tool"`
	Input       json.RawMessage `json:"input,omitempty"`
}

// DirectMessage is one request to SendDirectMessage.
type DirectMessage struct {
	RequestID   string `json:"request_id,omitempty"`
	Participant string `json:"participant,omitempty"`
	SessionID   string `json:"session_id,omitempty"`
	Content     string `json:"content"`
}

// Runtime owns the loop, the tool registry and the process-wide registries:
// active execution contexts by request id and conversation history by
// session id. Each registry key is written only by the call that owns it.
type Runtime struct {
	provider Provider
	registry *tools.Registry
	cfg      config.AgentConfig
	sessions session.Store
	active   *concurrent.Map[string, *ExecutionContext]
	logger   *slog.Logger
}

type Opt func(*Runtime)

func WithSessionStore(store session.Store) Opt {
	return func(r *Runtime) { r.sessions = store }
}

func WithLogger(logger *slog.Logger) Opt {
	return func(r *Runtime) { r.logger = logger }
}

func New(provider Provider, registry *tools.Registry, cfg config.AgentConfig, opts ...Opt) *Runtime {
	r := &Runtime{
		provider: provider,
		registry: registry,
		cfg:      cfg,
		sessions: session.NewInMemoryStore(),
		active:   concurrent.NewMap[string, *ExecutionContext](),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ActiveRequests lists the request ids with a live execution context.
func (r *Runtime) ActiveRequests() []string {
	return r.active.Keys()
}

// ExecuteAutonomously runs the full loop for one agent call.
//
// The initial tool call is structural: its failure propagates and the loop
// never starts. Tool calls issued by the model during iterations are
// conversational: their failures are reported back to the model as text.
// Hitting the iteration cap, the timeout or cancellation ends the loop as a
// success carrying the output accumulated so far.
func (r *Runtime) ExecuteAutonomously(ctx context.Context, call AgentCall) (*Result, error) {
	if call.Tool == "" {
		return nil, ErrNoTool
	}
	if call.RequestID == "" {
		call.RequestID = uuid.NewString()
	}

	ec := newExecutionContext(ctx, call.RequestID, call.Participant, call.SessionID)
	r.active.Store(call.RequestID, ec)
	defer r.active.Delete(call.RequestID)

	result, err := r.run(ctx, ec, call)
	if result != nil {
		result.Actions = ec.Actions()
		result.Iterations = ec.Iteration()
	}
	return result, err
}

func (r *Runtime) run(ctx context.Context, ec *ExecutionContext, call AgentCall) (*Result, error) {
	initial, err := r.invokeInitialTool(ctx, ec, call)
	if err != nil {
		return nil, err
	}

	result := &Result{RequestID: call.RequestID}
	result.append(SegmentInitial, 0, initial.Output)

	if !r.cfg.AutoExecuteEnabled() {
		r.logger.Debug("Auto-execute disabled; returning initial result", "request_id", call.RequestID)
		result.Stopped = StopDisabled
		return result, nil
	}

	conversation := []chat.Message{
		chat.SystemMessage(systemPrompt),
		chat.UserMessage(seedMessage(call.Tool, call.Input, initial.Output)),
	}
	declarations := r.registry.Definitions()

	for {
		if stop, ok := r.shouldStop(ec); ok {
			result.Stopped = stop
			break
		}

		text, calls, err := r.step(ctx, conversation, declarations)
		if err != nil {
			if isCancellation(err) {
				r.logger.Debug("Loop cancelled mid-stream", "request_id", call.RequestID)
				result.Stopped = StopCancelled
				break
			}
			return nil, err
		}

		if len(calls) == 0 {
			result.append(SegmentAnalysis, ec.Iteration(), text)
			result.Stopped = StopCompleted
			if text != "" {
				conversation = append(conversation, chat.AssistantMessage(text))
			}
			break
		}

		toolSummary := r.invokeRequestedTools(ctx, ec, calls)

		conversation = append(conversation,
			chat.AssistantMessage(text),
			chat.UserMessage("Tool results:\n"+toolSummary+
				"\nContinue with more tool calls if needed, otherwise give your final analysis."),
		)
		result.append(SegmentToolResults, ec.Iteration()+1, toolSummary)
		ec.nextIteration()
	}

	r.persistConversation(ctx, call.SessionID, conversation)
	return result, nil
}

// invokeInitialTool executes the caller's requested tool. Its failure is
// logged as a failed action and then propagated.
func (r *Runtime) invokeInitialTool(ctx context.Context, ec *ExecutionContext, call AgentCall) (*tools.ToolCallResult, error) {
	toolCall := tools.ToolCall{
		ID:   "initial-" + call.RequestID,
		Type: "function",
		Function: tools.FunctionCall{
			Name:      call.Tool,
			Arguments: string(call.Input),
		},
	}

	result, err := r.registry.Invoke(ctx, toolCall)
	if err != nil {
		ec.record(call.Tool, string(call.Input), "", err)
		return nil, fmt.Errorf("executing initial tool %s: %w", call.Tool, err)
	}
	ec.record(call.Tool, string(call.Input), result.Output, nil)
	return result, nil
}

// shouldStop evaluates the iteration guards. Order matters only for which
// reason is reported; whichever bound trips first wins.
func (r *Runtime) shouldStop(ec *ExecutionContext) (StopReason, bool) {
	switch {
	case ec.Iteration() >= r.cfg.MaxIterations:
		r.logger.Debug("Iteration limit reached", "request_id", ec.RequestID, "iterations", ec.Iteration())
		return StopMaxIterations, true
	case ec.Cancelled():
		r.logger.Debug("Cancellation observed", "request_id", ec.RequestID)
		return StopCancelled, true
	case ec.Elapsed() > r.cfg.Timeout:
		r.logger.Debug("Timeout exceeded", "request_id", ec.RequestID, "elapsed", ec.Elapsed())
		return StopTimeout, true
	default:
		return "", false
	}
}

// step sends the conversation and fully consumes the response stream,
// returning the assistant's text and any tool calls it issued.
func (r *Runtime) step(ctx context.Context, conversation []chat.Message, declarations []tools.Tool) (string, []copilot.ToolCallEvent, error) {
	stream, err := r.provider.CreateChatCompletionStream(ctx, conversation, declarations)
	if err != nil {
		return "", nil, err
	}
	defer stream.Close()

	var text strings.Builder
	var calls []copilot.ToolCallEvent
	for {
		event, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return text.String(), calls, nil
		}
		if err != nil {
			return text.String(), calls, err
		}
		switch e := event.(type) {
		case copilot.TextEvent:
			text.WriteString(e.Content)
		case copilot.ToolCallEvent:
			calls = append(calls, e)
		}
	}
}

// invokeRequestedTools runs every call the model issued. A failing tool is
// reported back as error text, never as an error: the model gets to adapt.
// Each line carries the tool name and call id so the model can correlate
// results with its calls.
func (r *Runtime) invokeRequestedTools(ctx context.Context, ec *ExecutionContext, calls []copilot.ToolCallEvent) string {
	var sb strings.Builder
	for _, event := range calls {
		result, err := r.registry.Invoke(ctx, event.ToolCall())

		var content string
		if err != nil {
			content = fmt.Sprintf("Error executing %s: %v", event.Name, err)
			ec.record(event.Name, event.Arguments, "", err)
		} else {
			content = result.Output
			ec.record(event.Name, event.Arguments, result.Output, nil)
		}
		fmt.Fprintf(&sb, "%s (%s): %s\n", event.Name, event.ID, content)
	}
	return sb.String()
}

// SendDirectMessage sends a plain chat message against the session's
// history. Tool calls in the reply stream are ignored; only text is
// collected.
func (r *Runtime) SendDirectMessage(ctx context.Context, msg DirectMessage) (*Result, error) {
	if msg.RequestID == "" {
		msg.RequestID = uuid.NewString()
	}

	ec := newExecutionContext(ctx, msg.RequestID, msg.Participant, msg.SessionID)
	r.active.Store(msg.RequestID, ec)
	defer r.active.Delete(msg.RequestID)

	conversation := []chat.Message{chat.SystemMessage(systemPrompt)}
	if history := r.loadHistory(ctx, msg.SessionID); len(history) > 0 {
		conversation = append(conversation, history...)
	}
	userMsg := chat.UserMessage(msg.Content)
	conversation = append(conversation, userMsg)

	text, _, err := r.step(ctx, conversation, nil)
	if err != nil && !isCancellation(err) {
		return nil, err
	}

	result := &Result{RequestID: msg.RequestID, Stopped: StopCompleted}
	if isCancellation(err) {
		result.Stopped = StopCancelled
	}
	result.append(SegmentAnalysis, 0, text)

	r.persistConversation(ctx, msg.SessionID, []chat.Message{userMsg, chat.AssistantMessage(text)})
	return result, nil
}

// loadHistory returns the stored conversation for a session, if any.
func (r *Runtime) loadHistory(ctx context.Context, sessionID string) []chat.Message {
	if sessionID == "" || r.sessions == nil {
		return nil
	}
	msgs, err := r.sessions.Messages(ctx, sessionID)
	if err != nil && !errors.Is(err, session.ErrNotFound) {
		r.logger.Warn("Failed to load session history", "session_id", sessionID, "error", err)
	}
	return msgs
}

// persistConversation appends this run's messages (minus the system prompt)
// to the session, creating the session on first use.
func (r *Runtime) persistConversation(ctx context.Context, sessionID string, conversation []chat.Message) {
	if sessionID == "" || r.sessions == nil {
		return
	}

	var msgs []chat.Message
	for _, m := range conversation {
		if m.Role == chat.MessageRoleSystem {
			continue
		}
		msgs = append(msgs, m)
	}
	if len(msgs) == 0 {
		return
	}

	if _, err := r.sessions.GetSession(ctx, sessionID); errors.Is(err, session.ErrNotFound) {
		if err := r.sessions.AddSession(ctx, session.New(sessionID, msgs[0].Content)); err != nil {
			r.logger.Warn("Failed to create session", "session_id", sessionID, "error", err)
			return
		}
	}
	if err := r.sessions.AddMessages(ctx, sessionID, msgs...); err != nil {
		r.logger.Warn("Failed to persist conversation", "session_id", sessionID, "error", err)
	}
}

// seedMessage summarizes the initial tool execution for the model.
func seedMessage(tool string, input json.RawMessage, output string) string {
	in := string(input)
	if in == "" {
		in = "{}"
	}
	return fmt.Sprintf(
		"I executed the tool %q with input %s. The result was:\n\n%s\n\nAnalyze this result and decide whether further tool calls are needed.",
		tool, in, output)
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
