// Package search holds the external lookup providers: web search for job
// postings and page fetchers for posting details.
package search

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrUnavailable marks a provider failure that a fallback provider may
// recover from: transport errors, non-2xx responses, or an open guard.
var ErrUnavailable = errors.New("search: provider unavailable")

// Record is one search hit.
type Record struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
}

// Searcher runs a web search query.
type Searcher interface {
	Name() string
	Search(ctx context.Context, query string, max int) ([]Record, error)
}

// Page is fetched page text.
type Page struct {
	URL  string
	Text string
}

// Fetcher retrieves the readable text of a page.
type Fetcher interface {
	Name() string
	Fetch(ctx context.Context, url string) (*Page, error)
}

// DefaultTimeout applies when a provider is built without an HTTP client.
const DefaultTimeout = 30 * time.Second

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{Timeout: timeout}
}

// do sends req and returns the body of a 2xx response. Everything else is
// reported as ErrUnavailable.
func do(hc *http.Client, req *http.Request, provider string) ([]byte, error) {
	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, provider, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: read body: %v", ErrUnavailable, provider, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: %s: status %s", ErrUnavailable, provider, resp.Status)
	}
	return body, nil
}
