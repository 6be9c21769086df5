package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// FirecrawlEndpoint is the Firecrawl scrape API.
const FirecrawlEndpoint = "https://api.firecrawl.dev/v1/scrape"

// Firecrawl scrapes a posting into markdown.
type Firecrawl struct {
	apiKey   string
	endpoint string
	maxChars int
	http     *http.Client
}

// NewFirecrawl creates a Firecrawl fetcher. An empty endpoint uses
// FirecrawlEndpoint.
func NewFirecrawl(apiKey, endpoint string, timeout time.Duration) *Firecrawl {
	if endpoint == "" {
		endpoint = FirecrawlEndpoint
	}
	return &Firecrawl{apiKey: apiKey, endpoint: endpoint, maxChars: DefaultPageChars, http: newHTTPClient(timeout)}
}

// Name returns the provider name.
func (f *Firecrawl) Name() string { return "firecrawl" }

type firecrawlResponse struct {
	Success bool `json:"success"`
	Data    struct {
		Markdown string `json:"markdown"`
	} `json:"data"`
	Error string `json:"error"`
}

// Fetch scrapes url.
func (f *Firecrawl) Fetch(ctx context.Context, url string) (*Page, error) {
	if f.apiKey == "" {
		return nil, fmt.Errorf("%w: firecrawl: no api key", ErrUnavailable)
	}
	payload, err := json.Marshal(map[string]any{"url": url, "formats": []string{"markdown"}, "onlyMainContent": true})
	if err != nil {
		return nil, fmt.Errorf("search: firecrawl: marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("search: firecrawl: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+f.apiKey)

	body, err := do(f.http, req, "firecrawl")
	if err != nil {
		return nil, err
	}
	var decoded firecrawlResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("%w: firecrawl: decode: %v", ErrUnavailable, err)
	}
	if !decoded.Success || decoded.Data.Markdown == "" {
		return nil, fmt.Errorf("%w: firecrawl: scrape failed: %s", ErrUnavailable, decoded.Error)
	}
	return &Page{URL: url, Text: clip(decoded.Data.Markdown, f.maxChars)}, nil
}
