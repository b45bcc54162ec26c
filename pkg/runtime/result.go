package runtime

import (
	"fmt"
	"strings"
)

type SegmentKind string

const (
	SegmentInitial     SegmentKind = "initial"
	SegmentToolResults SegmentKind = "tool_results"
	SegmentAnalysis    SegmentKind = "analysis"
)

// StopReason records why the loop terminated. Every reason other than a
// propagated structural error is a success outcome.
type StopReason string

const (
	StopCompleted     StopReason = "completed"
	StopDisabled      StopReason = "auto_execute_disabled"
	StopMaxIterations StopReason = "max_iterations"
	StopTimeout       StopReason = "timeout"
	StopCancelled     StopReason = "cancelled"
)

// Segment is one ordered piece of the aggregated result. Segments strictly
// follow real-time occurrence: initial, then per-iteration tool results,
// then the final analysis.
type Segment struct {
	Kind      SegmentKind `json:"kind"`
	Iteration int         `json:"iteration"`
	Text      string      `json:"text"`
}

// Result is the aggregated outcome of one autonomous run.
type Result struct {
	RequestID  string        `json:"request_id"`
	Segments   []Segment     `json:"segments"`
	Actions    []AgentAction `json:"actions"`
	Iterations int           `json:"iterations"`
	Stopped    StopReason    `json:"stopped"`
}

func (r *Result) append(kind SegmentKind, iteration int, text string) {
	if text == "" {
		return
	}
	r.Segments = append(r.Segments, Segment{Kind: kind, Iteration: iteration, Text: text})
}

// Text renders the segments in order as the display string returned to the
// editor.
func (r *Result) Text() string {
	var sb strings.Builder
	for _, seg := range r.Segments {
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		if seg.Kind == SegmentToolResults {
			fmt.Fprintf(&sb, "**Tool results (iteration %d):**\n", seg.Iteration)
		}
		sb.WriteString(strings.TrimRight(seg.Text, "\n"))
	}
	return sb.String()
}
