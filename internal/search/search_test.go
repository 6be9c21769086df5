package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTavily_Search(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var req tavilyRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "tvly-key", req.APIKey)
		assert.Equal(t, "go developer remote", req.Query)
		assert.Equal(t, 8, req.MaxResults)
		fmt.Fprint(w, `{"results":[{"title":"Go Dev","url":"https://jobs.example/1","content":"Acme is hiring"}]}`)
	}))
	defer srv.Close()

	recs, err := NewTavily("tvly-key", srv.URL, time.Second).Search(context.Background(), "go developer remote", 8)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, Record{Title: "Go Dev", URL: "https://jobs.example/1", Content: "Acme is hiring"}, recs[0])
}

func TestTavily_NoKey(t *testing.T) {
	_, err := NewTavily("", "", time.Second).Search(context.Background(), "q", 1)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestTavily_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewTavily("k", srv.URL, time.Second).Search(context.Background(), "q", 1)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Contains(t, err.Error(), "429")
}

func TestBrave_Search(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "brv-key", r.Header.Get("X-Subscription-Token"))
		assert.Equal(t, "rust engineer", r.URL.Query().Get("q"))
		assert.Equal(t, "5", r.URL.Query().Get("count"))
		fmt.Fprint(w, `{"web":{"results":[{"title":"Rust Eng","url":"https://b/1","description":"Remote"}]}}`)
	}))
	defer srv.Close()

	recs, err := NewBrave("brv-key", srv.URL, time.Second).Search(context.Background(), "rust engineer", 5)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "Remote", recs[0].Content)
}

func TestBrave_BadJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `not json`)
	}))
	defer srv.Close()

	_, err := NewBrave("k", srv.URL, time.Second).Search(context.Background(), "q", 1)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestFirecrawl_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer fc-key", r.Header.Get("Authorization"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "https://jobs.example/1", body["url"])
		fmt.Fprint(w, `{"success":true,"data":{"markdown":"# Go Dev\nSalary: 100k"}}`)
	}))
	defer srv.Close()

	page, err := NewFirecrawl("fc-key", srv.URL, time.Second).Fetch(context.Background(), "https://jobs.example/1")
	require.NoError(t, err)
	assert.Contains(t, page.Text, "Salary: 100k")
}

func TestFirecrawl_Unsuccessful(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"success":false,"error":"blocked"}`)
	}))
	defer srv.Close()

	_, err := NewFirecrawl("k", srv.URL, time.Second).Fetch(context.Background(), "https://x")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Contains(t, err.Error(), "blocked")
}

func TestDirect_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.Header.Get("User-Agent"), "jobscout")
		fmt.Fprint(w, `<html><head><style>.x{}</style><script>var a=1;</script></head>
<body><nav>Home</nav><h1>Senior Go Engineer</h1><p>Salary:   $150k</p><ul><li>Go</li><li>Kubernetes</li></ul></body></html>`)
	}))
	defer srv.Close()

	page, err := NewDirect(time.Second).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Contains(t, page.Text, "Senior Go Engineer")
	assert.Contains(t, page.Text, "Salary: $150k")
	assert.Contains(t, page.Text, "Kubernetes")
	assert.NotContains(t, page.Text, "var a")
	assert.NotContains(t, page.Text, "Home")
}

func TestDirect_Clipped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "<p>%s</p>", strings.Repeat("word ", 5000))
	}))
	defer srv.Close()

	page, err := NewDirect(time.Second).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(page.Text), DefaultPageChars)
}

func TestClip_RuneBoundary(t *testing.T) {
	s := "abécd" // é is two bytes at offsets 2-3
	assert.Equal(t, "ab", clip(s, 3))
	assert.Equal(t, "abé", clip(s, 4))
	assert.Equal(t, s, clip(s, 100))
}

func TestGuard_TripsAndRecovers(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	g := NewGuard(2, time.Minute)
	g.now = func() time.Time { return now }

	boom := errors.New("boom")
	g.Record(boom)
	assert.True(t, g.Allow())
	g.Record(boom)
	assert.False(t, g.Allow())

	now = now.Add(2 * time.Minute)
	assert.True(t, g.Allow())
	g.Record(nil)
	assert.Equal(t, 0, g.failures)
}

type fakeSearcher struct {
	calls int
	err   error
}

func (f *fakeSearcher) Name() string { return "fake" }
func (f *fakeSearcher) Search(ctx context.Context, q string, max int) ([]Record, error) {
	f.calls++
	return nil, f.err
}

func TestGuardedSearcher_FailsFast(t *testing.T) {
	inner := &fakeSearcher{err: ErrUnavailable}
	gs := WithGuard(inner, NewGuard(1, time.Hour))

	_, err := gs.Search(context.Background(), "q", 1)
	assert.ErrorIs(t, err, ErrUnavailable)
	_, err = gs.Search(context.Background(), "q", 1)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Contains(t, err.Error(), "cooling down")
	assert.Equal(t, 1, inner.calls)
}
