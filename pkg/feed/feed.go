package feed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-pkgz/lgr"
	"github.com/microcosm-cc/bluemonday"
	"github.com/mmcdole/gofeed"

	"github.com/newsward/newsward/pkg/dedup"
	"github.com/newsward/newsward/pkg/domain"
)

// Config holds feed search settings
type Config struct {
	Query        string        `yaml:"query" json:"query" jsonschema:"description=Search query for news"`
	LookbackDays int           `yaml:"lookback_days" json:"lookback_days" jsonschema:"default=1,description=How many days back to search"`
	Language     string        `yaml:"language" json:"language" jsonschema:"default=en,description=Feed language"`
	Country      string        `yaml:"country" json:"country" jsonschema:"default=US,description=Feed country"`
	Timeout      time.Duration `yaml:"timeout" json:"timeout" jsonschema:"default=30s,description=Feed fetch timeout"`
	UserAgent    string        `yaml:"user_agent" json:"user_agent" jsonschema:"description=User agent for feed fetches"`
}

// Client fetches news story candidates from the Google News search feed
type Client struct {
	httpClient   *http.Client
	baseURL      string
	query        string
	lookbackDays int
	language     string
	country      string
	userAgent    string
	sanitizer    *bluemonday.Policy
}

// Option adjusts client construction
type Option func(*Client)

// WithBaseURL overrides the feed host, used in tests
func WithBaseURL(baseURL string) Option {
	return func(c *Client) { c.baseURL = baseURL }
}

// NewClient creates a feed client for the configured search
func NewClient(cfg Config, opts ...Option) *Client {
	if cfg.LookbackDays == 0 {
		cfg.LookbackDays = 1
	}
	if cfg.Language == "" {
		cfg.Language = "en"
	}
	if cfg.Country == "" {
		cfg.Country = "US"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"
	}

	c := &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		baseURL:      "https://news.google.com",
		query:        cfg.Query,
		lookbackDays: cfg.LookbackDays,
		language:     cfg.Language,
		country:      cfg.Country,
		userAgent:    cfg.UserAgent,
		sanitizer:    bluemonday.StrictPolicy(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// searchURL builds the RSS search endpoint for the configured query
func (c *Client) searchURL() string {
	params := url.Values{}
	params.Set("q", fmt.Sprintf("%s when:%dd", c.query, c.lookbackDays))
	params.Set("hl", c.language)
	params.Set("gl", c.country)
	params.Set("ceid", fmt.Sprintf("%s:%s", c.country, c.language))
	return c.baseURL + "/rss/search?" + params.Encode()
}

// Fetch retrieves and parses the search feed into story candidates
func (c *Client) Fetch(ctx context.Context) ([]*domain.Story, error) {
	feedURL := c.searchURL()
	lgr.Printf("[INFO] fetching news for query %q, lookback %d days", c.query, c.lookbackDays)

	body, err := c.fetch(ctx, feedURL)
	if err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}
	defer body.Close()

	parsed, err := gofeed.NewParser().Parse(body)
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	stories := make([]*domain.Story, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		if item.Link == "" {
			lgr.Printf("[WARN] feed item %q has no URL, skipping", item.Title)
			continue
		}

		title, source := splitTitleSource(item.Title)

		story := &domain.Story{
			ID:          domain.StoryID(title, source),
			Title:       title,
			URL:         item.Link,
			Source:      source,
			Description: strings.TrimSpace(c.sanitizer.Sanitize(item.Description)),
		}
		if item.PublishedParsed != nil {
			story.Date = item.PublishedParsed.Format(time.RFC3339)
		} else {
			story.Date = item.Published
		}
		if dedup.IsRedirectURL(item.Link) {
			story.RedirectURL = item.Link
		}

		stories = append(stories, story)
	}

	lgr.Printf("[INFO] fetched %d story candidates from feed", len(stories))
	return stories, nil
}

func (c *Client) fetch(ctx context.Context, feedURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch URL: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	return resp.Body, nil
}

// splitTitleSource separates the publisher suffix Google News appends to
// item titles ("Headline - Publisher"). The last separator wins since
// headlines themselves may contain dashes.
func splitTitleSource(title string) (headline, source string) {
	idx := strings.LastIndex(title, " - ")
	if idx < 0 {
		return strings.TrimSpace(title), ""
	}
	return strings.TrimSpace(title[:idx]), strings.TrimSpace(title[idx+3:])
}
