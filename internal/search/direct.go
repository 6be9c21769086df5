package search

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/net/html"
)

// DefaultPageChars caps the text returned for one page.
const DefaultPageChars = 10000

// Direct fetches a page over plain HTTP and strips it to visible text.
type Direct struct {
	userAgent string
	maxChars  int
	http      *http.Client
}

// NewDirect creates a Direct fetcher.
func NewDirect(timeout time.Duration) *Direct {
	return &Direct{
		userAgent: "Mozilla/5.0 (compatible; jobscout/1.0)",
		maxChars:  DefaultPageChars,
		http:      newHTTPClient(timeout),
	}
}

// Name returns the provider name.
func (d *Direct) Name() string { return "direct" }

// Fetch downloads url and extracts its text.
func (d *Direct) Fetch(ctx context.Context, url string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("search: direct: %w", err)
	}
	req.Header.Set("User-Agent", d.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	body, err := do(d.http, req, "direct")
	if err != nil {
		return nil, err
	}
	text, err := HTMLText(body)
	if err != nil {
		return nil, fmt.Errorf("%w: direct: parse: %v", ErrUnavailable, err)
	}
	if text == "" {
		return nil, fmt.Errorf("%w: direct: empty page", ErrUnavailable)
	}
	return &Page{URL: url, Text: clip(text, d.maxChars)}, nil
}

var skipElements = map[string]bool{
	"script": true, "style": true, "noscript": true, "svg": true,
	"nav": true, "footer": true, "header": true, "iframe": true,
}

var blockElements = map[string]bool{
	"p": true, "div": true, "li": true, "br": true, "tr": true, "section": true,
	"article": true, "h1": true, "h2": true, "h3": true, "h4": true, "ul": true, "ol": true,
}

// HTMLText returns the visible text of an HTML document, one block per line.
func HTMLText(doc []byte) (string, error) {
	root, err := html.Parse(bytes.NewReader(doc))
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && skipElements[n.Data] {
			return
		}
		if n.Type == html.TextNode {
			if t := strings.Join(strings.Fields(n.Data), " "); t != "" {
				if sb.Len() > 0 && !strings.HasSuffix(sb.String(), "\n") {
					sb.WriteByte(' ')
				}
				sb.WriteString(t)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && blockElements[n.Data] && sb.Len() > 0 && !strings.HasSuffix(sb.String(), "\n") {
			sb.WriteByte('\n')
		}
	}
	walk(root)
	return strings.TrimSpace(sb.String()), nil
}

func clip(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	cut := s[:n]
	for len(cut) > 0 && !utf8.ValidString(cut) {
		cut = cut[:len(cut)-1]
	}
	return cut
}
