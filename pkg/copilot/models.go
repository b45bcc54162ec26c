package copilot

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kofalt/go-memoize"
)

// Model is one entry of the Copilot model catalog.
type Model struct {
	ID      string `json:"id"`
	Name    string `json:"name,omitempty"`
	Vendor  string `json:"vendor,omitempty"`
	Version string `json:"version,omitempty"`
}

type modelCatalog struct {
	Data []Model `json:"data"`
}

const modelsCacheKey = "model-catalog"

// ModelCatalog lists the models available to the authenticated user,
// memoizing the fetch since the catalog changes rarely.
type ModelCatalog struct {
	client *Client
	cache  *memoize.Memoizer
}

func NewModelCatalog(client *Client) *ModelCatalog {
	return &ModelCatalog{
		client: client,
		cache:  memoize.NewMemoizer(10*time.Minute, time.Hour),
	}
}

// Models returns the catalog, fetching at most once per cache window.
func (m *ModelCatalog) Models(ctx context.Context) ([]Model, error) {
	result, err, _ := m.cache.Memoize(modelsCacheKey, func() (any, error) {
		return m.fetch(ctx)
	})
	if err != nil {
		return nil, err
	}
	return result.([]Model), nil
}

func (m *ModelCatalog) fetch(ctx context.Context) ([]Model, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.client.modelsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building models request: %w", err)
	}
	if err := m.client.setHeaders(ctx, req); err != nil {
		return nil, err
	}

	resp, err := m.client.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching model catalog: %w", err)
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

	var catalog modelCatalog
	if err := json.NewDecoder(resp.Body).Decode(&catalog); err != nil {
		return nil, fmt.Errorf("decoding model catalog: %w", err)
	}
	return catalog.Data, nil
}
