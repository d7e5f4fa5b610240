package engineadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/linkpellow/scrapegoat/internal/models"
)

// ProviderAdapter is the top engine tier: a third-party scraping API
// (residential-proxy rendering service, structured-data provider, ...).
// The concrete vendor is a deployment concern; this adapter speaks a
// generic "render and extract" JSON contract so swapping providers does
// not ripple into the orchestrator.
type ProviderAdapter struct {
	client   *http.Client
	endpoint string
	apiKey   string
}

// NewProviderAdapter builds a ProviderAdapter against a configured
// provider endpoint.
func NewProviderAdapter(endpoint, apiKey string) *ProviderAdapter {
	return &ProviderAdapter{client: &http.Client{}, endpoint: endpoint, apiKey: apiKey}
}

func (a *ProviderAdapter) Engine() models.Engine { return models.EngineProvider }

type providerRequestBody struct {
	URL         string            `json:"url"`
	SelectorMap map[string]string `json:"selector_map"`
}

type providerResponseBody struct {
	Items      []Item `json:"items"`
	RawHTML    string `json:"raw_html"`
	HTTPStatus int    `json:"http_status"`
}

func (a *ProviderAdapter) Fetch(ctx context.Context, req Request) (Result, error) {
	if a.endpoint == "" {
		return Result{}, fmt.Errorf("engineadapter(provider): no endpoint configured")
	}

	payload, err := json.Marshal(providerRequestBody{URL: req.URL, SelectorMap: req.SelectorMap})
	if err != nil {
		return Result{}, fmt.Errorf("engineadapter(provider): encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(payload))
	if err != nil {
		return Result{}, fmt.Errorf("engineadapter(provider): build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("engineadapter(provider): request failed: %w", err)
	}
	defer resp.Body.Close()

	var body providerResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Result{}, fmt.Errorf("engineadapter(provider): decode response: %w", err)
	}

	return Result{Items: body.Items, RawHTML: body.RawHTML, HTTPStatus: body.HTTPStatus}, nil
}
