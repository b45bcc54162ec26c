package copilot

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"

	"github.com/nvimtools/copilot-agent/pkg/chat"
	"github.com/nvimtools/copilot-agent/pkg/tools"
)

const (
	dataPrefix   = "data:"
	doneSentinel = "[DONE]"

	// Large completions can carry whole files in a single argument fragment.
	maxLineSize = 1024 * 1024
)

// Stream is the consumer-side view of a completion stream.
type Stream interface {
	Recv() (StreamEvent, error)
	Close() error
}

// StreamReader converts the raw SSE byte stream of a chat completion into a
// lazy sequence of StreamEvents. It buffers partial lines across reads,
// accumulates tool-call fragments by index and emits each logical tool call
// exactly once, as soon as its id, name and argument JSON are complete.
//
// The sequence is finite and non-restartable: Recv returns io.EOF after the
// [DONE] sentinel or the underlying stream closes. Malformed lines are
// skipped, never surfaced as errors.
type StreamReader struct {
	ctx     context.Context
	body    io.ReadCloser
	scanner *bufio.Scanner

	pending []StreamEvent
	chunks  map[int]*toolCallChunk
	order   []int
	done    bool
	err     error
}

// toolCallChunk accumulates the fragments of one logical tool call.
type toolCallChunk struct {
	id   string
	typ  string
	name string
	args strings.Builder
}

// complete reports whether the chunk can be emitted mid-stream. Providers
// send the id and name before any argument bytes, so an empty argument
// string means the arguments have not arrived yet, not that there are none;
// only non-empty, syntactically valid argument JSON completes a chunk here.
func (c *toolCallChunk) complete() bool {
	if c.id == "" || c.name == "" {
		return false
	}
	args := c.args.String()
	return args != "" && json.Valid([]byte(args))
}

// flushable reports whether the chunk can be emitted at end of stream,
// where no further argument fragments can arrive. A call that never
// received argument bytes flushes with the empty object.
func (c *toolCallChunk) flushable() bool {
	if c.id == "" || c.name == "" {
		return false
	}
	args := c.args.String()
	return args == "" || json.Valid([]byte(args))
}

func (c *toolCallChunk) event() ToolCallEvent {
	args := c.args.String()
	if args == "" {
		args = "{}"
	}
	typ := c.typ
	if typ == "" {
		typ = "function"
	}
	return ToolCallEvent{ID: c.id, Type: typ, Name: c.name, Arguments: args}
}

// NewStreamReader wraps the response body of a streaming completion request.
// The reader owns the body and closes it via Close.
func NewStreamReader(ctx context.Context, body io.ReadCloser) *StreamReader {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &StreamReader{
		ctx:     ctx,
		body:    body,
		scanner: scanner,
		chunks:  make(map[int]*toolCallChunk),
	}
}

// Recv returns the next event. It returns io.EOF once the stream has ended,
// and the context's error if cancellation is observed; in the latter case
// in-flight partial tool calls are dropped without a flush.
func (r *StreamReader) Recv() (StreamEvent, error) {
	for {
		if len(r.pending) > 0 {
			ev := r.pending[0]
			r.pending = r.pending[1:]
			return ev, nil
		}
		if r.err != nil {
			return nil, r.err
		}
		if r.done {
			return nil, io.EOF
		}
		if err := r.ctx.Err(); err != nil {
			r.done = true
			return nil, err
		}

		if !r.scanner.Scan() {
			if err := r.scanner.Err(); err != nil {
				r.err = err
				return nil, err
			}
			// Natural close: the scanner has already delivered any
			// unterminated trailing line as a final token.
			r.finish()
			continue
		}
		r.processLine(r.scanner.Text())
	}
}

// Close releases the underlying response body. Pending accumulator state is
// discarded.
func (r *StreamReader) Close() error {
	r.done = true
	return r.body.Close()
}

// processLine handles one complete line. Blank lines, lines without the data
// prefix and payloads that fail to decode are ignored so that a single bad
// frame never aborts the stream.
func (r *StreamReader) processLine(line string) {
	line = strings.TrimSuffix(line, "\r")
	if line == "" || !strings.HasPrefix(line, dataPrefix) {
		return
	}
	payload := strings.TrimSpace(line[len(dataPrefix):])
	if payload == "" {
		return
	}
	if payload == doneSentinel {
		r.finish()
		return
	}

	var chunk chat.CompletionChunk
	if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
		slog.Debug("Skipping malformed stream chunk", "error", err)
		return
	}
	if len(chunk.Choices) == 0 {
		return
	}

	// Only the first choice is consumed.
	delta := chunk.Choices[0].Delta

	if delta.Content != "" {
		r.pending = append(r.pending, TextEvent{Content: delta.Content})
	}

	for _, fragment := range delta.ToolCalls {
		r.mergeFragment(fragment)
	}
}

// mergeFragment routes one tool-call fragment into its accumulator slot and
// emits the call the moment it becomes complete.
func (r *StreamReader) mergeFragment(fragment tools.ToolCallDelta) {
	if fragment.Index == nil {
		return
	}
	idx := *fragment.Index

	acc, ok := r.chunks[idx]
	if !ok {
		acc = &toolCallChunk{}
		r.chunks[idx] = acc
		r.order = append(r.order, idx)
	}

	if fragment.ID != "" {
		acc.id = fragment.ID
	}
	if fragment.Type != "" {
		acc.typ = fragment.Type
	}
	if fragment.Function.Name != "" {
		acc.name = fragment.Function.Name
	}
	if fragment.Function.Arguments != "" {
		acc.args.WriteString(fragment.Function.Arguments)
	}

	if acc.complete() {
		r.pending = append(r.pending, acc.event())
		r.evict(idx)
	}
}

// finish flushes accumulator entries that are complete and terminates the
// sequence. Incomplete entries are discarded, never emitted.
func (r *StreamReader) finish() {
	if r.done {
		return
	}
	for _, idx := range r.order {
		acc, ok := r.chunks[idx]
		if !ok {
			continue
		}
		if acc.flushable() {
			r.pending = append(r.pending, acc.event())
		} else {
			slog.Debug("Discarding incomplete tool call at stream end", "index", idx, "name", acc.name)
		}
		delete(r.chunks, idx)
	}
	r.order = nil
	r.done = true
}

func (r *StreamReader) evict(idx int) {
	delete(r.chunks, idx)
	for i, v := range r.order {
		if v == idx {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}
