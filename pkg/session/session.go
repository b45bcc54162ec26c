// Package session persists per-session conversation history. Each editor
// chat session owns one Session; concurrent calls with different session ids
// never touch each other's state.
package session

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nvimtools/copilot-agent/pkg/chat"
)

const maxTitleLength = 48

// Session is one conversation with its metadata.
type Session struct {
	ID        string         `json:"id"`
	Title     string         `json:"title,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	Messages  []chat.Message `json:"messages,omitempty"`
}

// Summary is lightweight session metadata for listing.
type Summary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Messages  int       `json:"messages"`
}

// New creates a session. The title is derived from the first prompt.
func New(id, firstPrompt string) *Session {
	if id == "" {
		id = uuid.NewString()
	}
	return &Session{
		ID:        id,
		Title:     TitleFromPrompt(firstPrompt),
		CreatedAt: time.Now(),
	}
}

// TitleFromPrompt derives a short session title from the opening prompt.
func TitleFromPrompt(prompt string) string {
	title := strings.Join(strings.Fields(prompt), " ")
	if len(title) > maxTitleLength {
		title = strings.TrimSpace(title[:maxTitleLength]) + "…"
	}
	return title
}
