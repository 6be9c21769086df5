package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// TavilyEndpoint is the Tavily search API.
const TavilyEndpoint = "https://api.tavily.com/search"

// Tavily is the primary job search provider.
type Tavily struct {
	apiKey   string
	endpoint string
	http     *http.Client
}

// NewTavily creates a Tavily searcher. An empty endpoint uses TavilyEndpoint.
func NewTavily(apiKey, endpoint string, timeout time.Duration) *Tavily {
	if endpoint == "" {
		endpoint = TavilyEndpoint
	}
	return &Tavily{apiKey: apiKey, endpoint: endpoint, http: newHTTPClient(timeout)}
}

// Name returns the provider name.
func (t *Tavily) Name() string { return "tavily" }

type tavilyRequest struct {
	APIKey      string `json:"api_key"`
	Query       string `json:"query"`
	MaxResults  int    `json:"max_results"`
	SearchDepth string `json:"search_depth"`
}

type tavilyResponse struct {
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Content string `json:"content"`
	} `json:"results"`
}

// Search runs query against Tavily.
func (t *Tavily) Search(ctx context.Context, query string, max int) ([]Record, error) {
	if t.apiKey == "" {
		return nil, fmt.Errorf("%w: tavily: no api key", ErrUnavailable)
	}
	payload, err := json.Marshal(tavilyRequest{APIKey: t.apiKey, Query: query, MaxResults: max, SearchDepth: "basic"})
	if err != nil {
		return nil, fmt.Errorf("search: tavily: marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("search: tavily: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	body, err := do(t.http, req, "tavily")
	if err != nil {
		return nil, err
	}
	var decoded tavilyResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("%w: tavily: decode: %v", ErrUnavailable, err)
	}
	out := make([]Record, 0, len(decoded.Results))
	for _, r := range decoded.Results {
		out = append(out, Record{Title: r.Title, URL: r.URL, Content: r.Content})
	}
	return out, nil
}
