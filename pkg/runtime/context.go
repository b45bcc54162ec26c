package runtime

import (
	"context"
	"time"

	"github.com/nvimtools/copilot-agent/pkg/concurrent"
)

// AgentAction is one append-only log entry of the execution history. It is
// written once per tool invocation and never mutated afterwards.
type AgentAction struct {
	Tool      string    `json:"tool"`
	Input     string    `json:"input"`
	Result    string    `json:"result,omitempty"`
	Error     string    `json:"error,omitempty"`
	Success   bool      `json:"success"`
	Timestamp time.Time `json:"timestamp"`
}

// ExecutionContext is the per-invocation state of one autonomous run. It is
// owned exclusively by the loop call that created it and is removed from the
// active registry on every exit path.
type ExecutionContext struct {
	RequestID   string
	Participant string
	SessionID   string
	StartTime   time.Time

	ctx       context.Context
	iteration int
	history   *concurrent.Slice[AgentAction]
}

func newExecutionContext(ctx context.Context, requestID, participant, sessionID string) *ExecutionContext {
	return &ExecutionContext{
		RequestID:   requestID,
		Participant: participant,
		SessionID:   sessionID,
		StartTime:   time.Now(),
		ctx:         ctx,
		history:     concurrent.NewSlice[AgentAction](),
	}
}

// Iteration returns the monotonic iteration counter; it is never reset
// within a call.
func (ec *ExecutionContext) Iteration() int {
	return ec.iteration
}

func (ec *ExecutionContext) nextIteration() {
	ec.iteration++
}

// Elapsed is the wall-clock time since the loop started.
func (ec *ExecutionContext) Elapsed() time.Duration {
	return time.Since(ec.StartTime)
}

// Cancelled reports whether cooperative cancellation has been observed.
func (ec *ExecutionContext) Cancelled() bool {
	return ec.ctx.Err() != nil
}

func (ec *ExecutionContext) record(tool, input string, result string, err error) {
	action := AgentAction{
		Tool:      tool,
		Input:     input,
		Timestamp: time.Now(),
	}
	if err != nil {
		action.Error = err.Error()
	} else {
		action.Result = result
		action.Success = true
	}
	ec.history.Append(action)
}

// Actions returns a snapshot of the history for diagnostics.
func (ec *ExecutionContext) Actions() []AgentAction {
	return ec.history.All()
}
