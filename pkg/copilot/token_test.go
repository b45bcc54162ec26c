package copilot

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExchangingTokenSource_Exchange(t *testing.T) {
	t.Parallel()

	var exchanges atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		exchanges.Add(1)
		assert.Equal(t, "token gh-oauth", r.Header.Get("Authorization"))
		fmt.Fprintf(w, `{"token":"session-token","expires_at":%d}`, time.Now().Add(time.Hour).Unix())
	}))
	defer srv.Close()

	tokens := NewExchangingTokenSource("gh-oauth", WithExchangeURL(srv.URL))

	tok, err := tokens.Token(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "session-token", tok)

	// Second call is served from the cache.
	tok, err = tokens.Token(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "session-token", tok)
	assert.Equal(t, int32(1), exchanges.Load())
}

func TestExchangingTokenSource_ExpiredTokenNotCached(t *testing.T) {
	t.Parallel()

	var exchanges atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		exchanges.Add(1)
		// Expiry within the refresh margin, so the token must not be cached.
		fmt.Fprintf(w, `{"token":"short-lived","expires_at":%d}`, time.Now().Add(10*time.Second).Unix())
	}))
	defer srv.Close()

	tokens := NewExchangingTokenSource("gh-oauth", WithExchangeURL(srv.URL))

	for range 2 {
		tok, err := tokens.Token(t.Context())
		require.NoError(t, err)
		assert.Equal(t, "short-lived", tok)
	}
	assert.Equal(t, int32(2), exchanges.Load())
}

func TestExchangingTokenSource_NoGitHubToken(t *testing.T) {
	t.Parallel()

	tokens := NewExchangingTokenSource("")

	_, err := tokens.Token(t.Context())
	assert.ErrorIs(t, err, ErrNoGitHubToken)
}

func TestExchangingTokenSource_ExchangeRejected(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad credentials", http.StatusUnauthorized)
	}))
	defer srv.Close()

	tokens := NewExchangingTokenSource("gh-oauth", WithExchangeURL(srv.URL))

	_, err := tokens.Token(t.Context())

	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, RequestErrorPermission, reqErr.Kind)
}
