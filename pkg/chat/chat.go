// Package chat defines the wire types shared between the Copilot transport
// and the agent runtime: conversation messages, the outbound request body and
// the incremental response chunks of a streamed chat completion.
package chat

import "github.com/nvimtools/copilot-agent/pkg/tools"

type MessageRole string

const (
	MessageRoleSystem    MessageRole = "system"
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
)

// Message is a single role-tagged entry in a conversation.
type Message struct {
	Role    MessageRole `json:"role"`
	Content string      `json:"content"`
	Name    string      `json:"name,omitempty"`
}

func UserMessage(content string) Message {
	return Message{Role: MessageRoleUser, Content: content}
}

func AssistantMessage(content string) Message {
	return Message{Role: MessageRoleAssistant, Content: content}
}

func SystemMessage(content string) Message {
	return Message{Role: MessageRoleSystem, Content: content}
}

// CompletionRequest is the JSON body POSTed to the chat-completions endpoint.
type CompletionRequest struct {
	Model      string       `json:"model"`
	Messages   []Message    `json:"messages"`
	Stream     bool         `json:"stream"`
	Tools      []tools.Tool `json:"tools,omitempty"`
	ToolChoice string       `json:"tool_choice,omitempty"`
}

// CompletionChunk is one decoded SSE frame of a streamed completion.
type CompletionChunk struct {
	ID      string   `json:"id,omitempty"`
	Object  string   `json:"object,omitempty"`
	Created int64    `json:"created,omitempty"`
	Model   string   `json:"model,omitempty"`
	Choices []Choice `json:"choices"`
}

type Choice struct {
	Index        int    `json:"index"`
	Delta        Delta  `json:"delta"`
	FinishReason string `json:"finish_reason,omitempty"`
}

// Delta carries the incremental payload of one chunk. Content and ToolCalls
// may both be absent; tool-call fragments arrive interleaved across chunks.
type Delta struct {
	Role      string                `json:"role,omitempty"`
	Content   string                `json:"content,omitempty"`
	ToolCalls []tools.ToolCallDelta `json:"tool_calls,omitempty"`
}
