package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// BraveEndpoint is the Brave web search API.
const BraveEndpoint = "https://api.search.brave.com/res/v1/web/search"

// Brave is the backup job search provider.
type Brave struct {
	apiKey   string
	endpoint string
	http     *http.Client
}

// NewBrave creates a Brave searcher. An empty endpoint uses BraveEndpoint.
func NewBrave(apiKey, endpoint string, timeout time.Duration) *Brave {
	if endpoint == "" {
		endpoint = BraveEndpoint
	}
	return &Brave{apiKey: apiKey, endpoint: endpoint, http: newHTTPClient(timeout)}
}

// Name returns the provider name.
func (b *Brave) Name() string { return "brave" }

type braveResponse struct {
	Web struct {
		Results []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
		} `json:"results"`
	} `json:"web"`
}

// Search runs query against Brave.
func (b *Brave) Search(ctx context.Context, query string, max int) ([]Record, error) {
	if b.apiKey == "" {
		return nil, fmt.Errorf("%w: brave: no api key", ErrUnavailable)
	}
	q := url.Values{}
	q.Set("q", query)
	q.Set("count", strconv.Itoa(max))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("search: brave: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", b.apiKey)

	body, err := do(b.http, req, "brave")
	if err != nil {
		return nil, err
	}
	var decoded braveResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("%w: brave: decode: %v", ErrUnavailable, err)
	}
	out := make([]Record, 0, len(decoded.Web.Results))
	for _, r := range decoded.Web.Results {
		out = append(out, Record{Title: r.Title, URL: r.URL, Content: r.Description})
	}
	return out, nil
}
