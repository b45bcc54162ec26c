// Package copilot implements the GitHub Copilot chat-completions transport:
// request construction, session-token exchange, model listing and the
// streaming response parser.
package copilot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/nvimtools/copilot-agent/pkg/chat"
	"github.com/nvimtools/copilot-agent/pkg/httpclient"
	"github.com/nvimtools/copilot-agent/pkg/tools"
	"github.com/nvimtools/copilot-agent/pkg/version"
)

const (
	DefaultChatCompletionsURL = "https://api.githubcopilot.com/chat/completions"
	DefaultModelsURL          = "https://api.githubcopilot.com/models"

	editorVersionHeader     = "Editor-Version"
	editorPluginHeader      = "Editor-Plugin-Version"
	copilotIntegrationIDKey = "Copilot-Integration-Id"
)

var _ Stream = (*StreamReader)(nil)

// RequestErrorKind classifies a failed completion request before any
// streaming has begun.
type RequestErrorKind string

const (
	RequestErrorPermission RequestErrorKind = "permission"
	RequestErrorNotFound   RequestErrorKind = "not_found"
	RequestErrorBlocked    RequestErrorKind = "blocked"
)

// RequestError is a non-2xx response from the completions endpoint.
type RequestError struct {
	Kind       RequestErrorKind
	StatusCode int
	Body       string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("chat request failed (%s): status %d: %s", e.Kind, e.StatusCode, e.Body)
}

func classifyStatus(code int) RequestErrorKind {
	switch code {
	case http.StatusUnauthorized, http.StatusForbidden:
		return RequestErrorPermission
	case http.StatusNotFound:
		return RequestErrorNotFound
	default:
		return RequestErrorBlocked
	}
}

// TokenSource supplies the bearer token attached to every request.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticTokenSource returns the same token on every call.
type StaticTokenSource string

func (s StaticTokenSource) Token(context.Context) (string, error) {
	return string(s), nil
}

// Client talks to the Copilot chat-completions API.
type Client struct {
	httpClient     *http.Client
	completionsURL string
	modelsURL      string
	model          string
	tokens         TokenSource
	editorVersion  string
	integrationID  string
	logger         *slog.Logger
}

type ClientOpt func(*Client)

func WithHTTPClient(hc *http.Client) ClientOpt {
	return func(c *Client) { c.httpClient = hc }
}

func WithCompletionsURL(url string) ClientOpt {
	return func(c *Client) { c.completionsURL = url }
}

func WithModelsURL(url string) ClientOpt {
	return func(c *Client) { c.modelsURL = url }
}

func WithEditorVersion(v string) ClientOpt {
	return func(c *Client) { c.editorVersion = v }
}

func WithIntegrationID(id string) ClientOpt {
	return func(c *Client) { c.integrationID = id }
}

func WithLogger(logger *slog.Logger) ClientOpt {
	return func(c *Client) { c.logger = logger }
}

func NewClient(model string, tokens TokenSource, opts ...ClientOpt) *Client {
	c := &Client{
		httpClient:     httpclient.New(),
		completionsURL: DefaultChatCompletionsURL,
		modelsURL:      DefaultModelsURL,
		model:          model,
		tokens:         tokens,
		editorVersion:  "Neovim/0.11.0",
		integrationID:  "vscode-chat",
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Model() string {
	return c.model
}

// CreateChatCompletionStream sends the conversation plus tool declarations
// and hands back a StreamReader over the response body.
//
// An already-cancelled context fails before the request is sent. Non-2xx
// responses surface as a typed *RequestError; malformed frames inside an
// established stream are the parser's concern and are skipped there.
func (c *Client) CreateChatCompletionStream(ctx context.Context, messages []chat.Message, toolDefs []tools.Tool) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	reqBody := chat.CompletionRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   true,
	}
	if len(toolDefs) > 0 {
		reqBody.Tools = toolDefs
		reqBody.ToolChoice = "auto"
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("encoding chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.completionsURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building chat request: %w", err)
	}
	if err := c.setHeaders(ctx, req); err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	c.logger.Debug("Sending chat completion request",
		"model", c.model,
		"messages", len(messages),
		"tools", len(toolDefs))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending chat request: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		return nil, &RequestError{
			Kind:       classifyStatus(resp.StatusCode),
			StatusCode: resp.StatusCode,
			Body:       string(bytes.TrimSpace(body)),
		}
	}
	if resp.Body == nil {
		return nil, errors.New("chat response has no body")
	}

	return NewStreamReader(ctx, resp.Body), nil
}

func (c *Client) setHeaders(ctx context.Context, req *http.Request) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("resolving bearer token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(editorVersionHeader, c.editorVersion)
	req.Header.Set(editorPluginHeader, "copilot-agent/"+version.Version)
	req.Header.Set(copilotIntegrationIDKey, c.integrationID)
	return nil
}
