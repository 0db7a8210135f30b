package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newsward/newsward/pkg/domain"
)

// fakeStrategy returns canned output, used to pin down fallback ordering
type fakeStrategy struct {
	name string
	text string
	err  error
}

func (f *fakeStrategy) Name() string { return f.name }
func (f *fakeStrategy) Extract(_ *url.URL, _ string) (*Extracted, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &Extracted{Title: "title from " + f.name, Text: f.text}, nil
}

func articlePage() string {
	var b strings.Builder
	b.WriteString(`<!DOCTYPE html><html><head><title>Market Report</title></head><body><article><h1>Market Report</h1>`)
	for i := 0; i < 20; i++ {
		fmt.Fprintf(&b, "<p>Paragraph %d covers the quarterly results in considerable detail, "+
			"describing revenue trends, analyst expectations and forward guidance for the sector.</p>", i)
	}
	b.WriteString(`</article></body></html>`)
	return b.String()
}

func TestScraper_Extract(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(articlePage())) //nolint:errcheck
	}))
	defer srv.Close()

	s := New(Config{MinTextLength: 300})
	result, err := s.Extract(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.NotEmpty(t, result.Strategy)
	assert.Greater(t, result.ContentLength, 300)
	assert.Contains(t, result.Text, "quarterly results")
	assert.Equal(t, "en", result.DetectedLanguage)
	assert.False(t, result.NeedsTranslation)
	assert.False(t, result.ScrapedAt.IsZero())
}

func TestScraper_Extract_FallbackOrder(t *testing.T) {
	longText := strings.Repeat("enough real article text here. ", 30)

	s := New(Config{MinTextLength: 100})
	s.strategies = []Strategy{
		&fakeStrategy{name: "first", text: "too short"},
		&fakeStrategy{name: "second", text: longText},
		&fakeStrategy{name: "third", text: longText},
	}

	result, err := s.Extract(context.Background(), serveOnce(t, "<html></html>"))
	require.NoError(t, err)
	assert.Equal(t, "second", result.Strategy, "first strategy under the minimum, second one used")
	assert.Contains(t, result.Errors, "first")
	assert.NotContains(t, result.Errors, "third", "chain stops at the first accepting strategy")
}

func TestScraper_Extract_AllStrategiesFail(t *testing.T) {
	s := New(Config{MinTextLength: 100})
	s.strategies = []Strategy{
		&fakeStrategy{name: "first", err: errors.New("parse failure")},
		&fakeStrategy{name: "second", text: "tiny"},
	}

	result, err := s.Extract(context.Background(), serveOnce(t, "<html></html>"))
	require.Error(t, err)
	assert.Len(t, result.Errors, 2, "one entry per attempted strategy")
	assert.Contains(t, result.Errors["first"], "parse failure")
	assert.Contains(t, result.Errors["second"], "below minimum")
}

func TestScraper_Extract_FetchError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	s := New(Config{MaxRetries: 1})
	result, err := s.Extract(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, result.Errors, "fetch")
}

func TestScraper_Extract_InvalidURL(t *testing.T) {
	s := New(Config{})
	result, err := s.Extract(context.Background(), "not a url")
	require.Error(t, err)
	assert.Contains(t, result.Errors, "url_validation")
}

func TestScraper_ExtractStories(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(articlePage())) //nolint:errcheck
	}))
	defer srv.Close()

	stories := []*domain.Story{
		{ID: "a", Title: "fresh", URL: srv.URL},
		{ID: "b", Title: "already scraped", URL: srv.URL,
			FullText: strings.Repeat("existing text ", 10)},
	}

	s := New(Config{MinTextLength: 300, RequestDelay: time.Millisecond})
	stats := s.ExtractStories(context.Background(), stories)

	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Succeeded)
	assert.Equal(t, 1, stats.AlreadyHadText)

	assert.Equal(t, domain.ScrapingSuccess, stories[0].ScrapingStatus)
	assert.NotEmpty(t, stories[0].FullText)
	assert.NotEmpty(t, stories[0].ScraperUsed)
	assert.Equal(t, 1, stats.StrategiesUsed[stories[0].ScraperUsed])

	assert.Equal(t, domain.ScrapingSkipped, stories[1].ScrapingStatus)
	assert.Equal(t, strings.Repeat("existing text ", 10), stories[1].FullText, "existing text untouched")
}

func TestScraper_ExtractStories_Failure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	stories := []*domain.Story{{ID: "a", Title: "broken", URL: srv.URL}}
	s := New(Config{MaxRetries: 1})
	stats := s.ExtractStories(context.Background(), stories)

	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, domain.ScrapingFailed, stories[0].ScrapingStatus)
	assert.NotEmpty(t, stories[0].ScrapingErrors)
}

func TestScraper_ExtractStories_UsesDecodedURL(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(articlePage())) //nolint:errcheck
	}))
	defer srv.Close()

	stories := []*domain.Story{{
		ID:         "a",
		Title:      "redirected",
		URL:        "https://news.google.com/rss/articles/abc",
		DecodedURL: srv.URL + "/real-article",
	}}
	s := New(Config{MinTextLength: 300})
	s.ExtractStories(context.Background(), stories)

	assert.Equal(t, "/real-article", gotPath)
	assert.Equal(t, domain.ScrapingSuccess, stories[0].ScrapingStatus)
}

// serveOnce spins up a server returning fixed HTML and registers cleanup
func serveOnce(t *testing.T, html string) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(html)) //nolint:errcheck
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}
