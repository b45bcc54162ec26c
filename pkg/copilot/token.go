package copilot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/nvimtools/copilot-agent/pkg/httpclient"
)

const (
	DefaultTokenExchangeURL = "https://api.github.com/copilot_internal/v2/token"

	tokenCacheKey = "copilot-session-token"

	// Refresh slightly before the provider-reported expiry so an in-flight
	// request never races the token's end of life.
	tokenExpiryMargin = 60 * time.Second
)

var ErrNoGitHubToken = errors.New("github oauth token is not configured")

// ExchangingTokenSource trades a long-lived GitHub OAuth token for the
// short-lived Copilot session token the completions API requires, caching it
// until shortly before expiry. Acquiring the OAuth token itself (device flow)
// is the editor plugin's job; this type only consumes it.
type ExchangingTokenSource struct {
	githubToken string
	exchangeURL string
	httpClient  *http.Client
	cache       *gocache.Cache
}

type TokenOpt func(*ExchangingTokenSource)

func WithExchangeURL(url string) TokenOpt {
	return func(s *ExchangingTokenSource) { s.exchangeURL = url }
}

func WithTokenHTTPClient(hc *http.Client) TokenOpt {
	return func(s *ExchangingTokenSource) { s.httpClient = hc }
}

func NewExchangingTokenSource(githubToken string, opts ...TokenOpt) *ExchangingTokenSource {
	s := &ExchangingTokenSource{
		githubToken: githubToken,
		exchangeURL: DefaultTokenExchangeURL,
		httpClient:  httpclient.New(),
		cache:       gocache.New(gocache.NoExpiration, 5*time.Minute),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type sessionToken struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}

// Token returns a valid Copilot session token, exchanging the GitHub token
// if the cached one is missing or about to expire.
func (s *ExchangingTokenSource) Token(ctx context.Context) (string, error) {
	if s.githubToken == "" {
		return "", ErrNoGitHubToken
	}
	if cached, ok := s.cache.Get(tokenCacheKey); ok {
		return cached.(string), nil
	}

	tok, err := s.exchange(ctx)
	if err != nil {
		return "", err
	}

	ttl := time.Until(time.Unix(tok.ExpiresAt, 0)) - tokenExpiryMargin
	if ttl > 0 {
		s.cache.Set(tokenCacheKey, tok.Token, ttl)
	}
	return tok.Token, nil
}

func (s *ExchangingTokenSource) exchange(ctx context.Context) (*sessionToken, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.exchangeURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building token exchange request: %w", err)
	}
	req.Header.Set("Authorization", "token "+s.githubToken)
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("exchanging github token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, &RequestError{
			Kind:       classifyStatus(resp.StatusCode),
			StatusCode: resp.StatusCode,
			Body:       string(body),
		}
	}

	var tok sessionToken
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return nil, fmt.Errorf("decoding session token: %w", err)
	}
	if tok.Token == "" {
		return nil, errors.New("token exchange returned an empty token")
	}

	slog.Debug("Exchanged github token for copilot session token",
		"expires_at", time.Unix(tok.ExpiresAt, 0))
	return &tok, nil
}
