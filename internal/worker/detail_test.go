package worker

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zulandar/jobscout/internal/llm"
	"github.com/zulandar/jobscout/internal/models"
	"github.com/zulandar/jobscout/internal/search"
)

const detailJSON = `{"salary":"$150k","description":"Build APIs. Own services. Mentor others. Extra sentence.","requirements":["Go","SQL"],"benefits":["Remote"],"apply_url":""}`

func pageFor(url string) (*search.Page, error) {
	return &search.Page{URL: url, Text: "Job posting text for " + url}, nil
}

func detailCandidates() []Candidate {
	return []Candidate{
		{Title: "Go Dev", Org: "Acme", Score: 90, Locator: "https://a"},
		{Title: "SRE", Org: "Initech", Score: 70, Locator: "https://b"},
	}
}

func TestNewDetail_Validation(t *testing.T) {
	_, err := NewDetail(nil, nil, llm.NewMock())
	assert.Error(t, err)
	_, err = NewDetail(&fakeFetcher{name: "direct", fn: pageFor}, nil, nil)
	assert.Error(t, err)
	w, err := NewDetail(nil, &fakeFetcher{name: "direct", fn: pageFor}, llm.NewMock())
	require.NoError(t, err)
	assert.Equal(t, "direct", w.scraper.Name())
}

func TestDetail_EnrichesSelected(t *testing.T) {
	scraper := &fakeFetcher{name: "firecrawl", fn: pageFor}
	w, err := NewDetail(scraper, &fakeFetcher{name: "direct", fn: pageFor}, llm.NewMock(detailJSON))
	require.NoError(t, err)
	em := &recEmitter{}

	task := NewTask(w.Name(), Input{Candidates: detailCandidates(), Locators: []string{"https://a", "https://unknown"}})
	res, err := w.Run(context.Background(), task, ApproveAll{}, em)
	require.NoError(t, err)

	assert.Equal(t, models.KindEnrichedResults, res.Kind)
	assert.Equal(t, []string{"https://a"}, scraper.urls)
	require.Len(t, res.Candidates, 2)
	d := res.Candidates[0].Details
	require.NotNil(t, d)
	assert.Equal(t, "$150k", d.Salary)
	assert.Equal(t, "Build APIs. Own services. Mentor others.", d.Description)
	assert.Equal(t, "https://a", d.ApplyLocator)
	assert.Nil(t, res.Candidates[1].Details)
	assert.Contains(t, res.Content, "Go Dev at Acme")
	assert.Contains(t, em.statuses, "scraping")
}

func TestDetail_NoKnownLocators(t *testing.T) {
	w, err := NewDetail(&fakeFetcher{name: "firecrawl", fn: pageFor}, nil, llm.NewMock(detailJSON))
	require.NoError(t, err)

	_, err = w.Run(context.Background(), NewTask(w.Name(), Input{Candidates: detailCandidates(), Locators: []string{"https://zzz"}}), ApproveAll{}, NopEmitter{})
	assert.ErrorIs(t, err, ErrInputInvalid)

	_, err = w.Run(context.Background(), NewTask(w.Name(), Input{Candidates: detailCandidates()}), ApproveAll{}, NopEmitter{})
	assert.ErrorIs(t, err, ErrInputInvalid)
}

func TestDetail_FallsBackToDirect(t *testing.T) {
	scraper := &fakeFetcher{name: "firecrawl", fn: func(string) (*search.Page, error) {
		return nil, fmt.Errorf("%w: firecrawl: status 402", search.ErrUnavailable)
	}}
	direct := &fakeFetcher{name: "direct", fn: pageFor}
	w, err := NewDetail(scraper, direct, llm.NewMock(detailJSON))
	require.NoError(t, err)

	res, err := w.Run(context.Background(), NewTask(w.Name(), Input{Candidates: detailCandidates(), Locators: []string{"https://b"}}), ApproveAll{}, NopEmitter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"https://b"}, direct.urls)
	assert.Equal(t, "$150k", res.Candidates[1].Details.Salary)
}

func TestDetail_FetchFailureMarksEntry(t *testing.T) {
	fail := func(string) (*search.Page, error) {
		return nil, fmt.Errorf("%w: unreachable", search.ErrUnavailable)
	}
	w, err := NewDetail(&fakeFetcher{name: "firecrawl", fn: fail}, &fakeFetcher{name: "direct", fn: fail}, llm.NewMock(detailJSON))
	require.NoError(t, err)

	res, err := w.Run(context.Background(), NewTask(w.Name(), Input{Candidates: detailCandidates(), Locators: []string{"https://a", "https://b"}}), ApproveAll{}, NopEmitter{})
	require.NoError(t, err)
	for _, c := range res.Candidates {
		require.NotNil(t, c.Details)
		assert.Equal(t, FetchFailedDescription, c.Details.Description)
	}
}

func TestDetail_UnreadableExtraction(t *testing.T) {
	w, err := NewDetail(&fakeFetcher{name: "firecrawl", fn: pageFor}, nil, llm.NewMock("no json at all"))
	require.NoError(t, err)
	res, err := w.Run(context.Background(), NewTask(w.Name(), Input{Candidates: detailCandidates(), Locators: []string{"https://a"}}), ApproveAll{}, NopEmitter{})
	require.NoError(t, err)
	assert.Equal(t, FetchFailedDescription, res.Candidates[0].Details.Description)
}

func TestDetail_InterruptsBeforeFetching(t *testing.T) {
	scraper := &fakeFetcher{name: "firecrawl", fn: pageFor}
	w, err := NewDetail(scraper, nil, llm.NewMock(detailJSON))
	require.NoError(t, err)
	g := &gate{}
	task := NewTask(w.Name(), Input{Candidates: detailCandidates(), Locators: []string{"https://a", "https://b"}})

	_, err = w.Run(context.Background(), task, g, NopEmitter{})
	_, ok := AsInterrupt(err)
	require.True(t, ok)
	assert.Empty(t, scraper.urls)

	g.granted = true
	task.Rewind()
	_, err = w.Run(context.Background(), task, g, NopEmitter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a", "https://b"}, scraper.urls)
	assert.Equal(t, 1, g.interrupts)
}

func TestLimitSentences(t *testing.T) {
	assert.Equal(t, "A. B! C?", limitSentences("A. B! C? D.", 3))
	assert.Equal(t, "Only one", limitSentences("  Only one  ", 3))
}
