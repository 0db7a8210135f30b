package scraper

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-pkgz/lgr"
	"github.com/go-pkgz/repeater/v2"

	"github.com/newsward/newsward/pkg/domain"
)

// minExistingText is the full-text length below which a story is considered
// not yet scraped, matching the summarizer's notion of usable text
const minExistingText = 50

// Config holds extraction settings
type Config struct {
	Timeout        time.Duration `yaml:"timeout" json:"timeout" jsonschema:"default=30s,description=HTTP fetch timeout per article"`
	MaxRetries     int           `yaml:"max_retries" json:"max_retries" jsonschema:"default=3,description=Fetch retry attempts"`
	RequestDelay   time.Duration `yaml:"request_delay" json:"request_delay" jsonschema:"default=1s,description=Politeness delay between article fetches"`
	MinTextLength  int           `yaml:"min_text_length" json:"min_text_length" jsonschema:"default=500,description=Minimum characters for a strategy result to count as a real article"`
	UserAgent      string        `yaml:"user_agent" json:"user_agent" jsonschema:"description=User agent for article fetches"`
	TargetLanguage string        `yaml:"target_language" json:"target_language" jsonschema:"default=en,description=Language articles are expected in"`
}

// Result is a successful extraction
type Result struct {
	Title            string
	Text             string
	Byline           string
	Strategy         string
	DetectedLanguage string
	NeedsTranslation bool
	ContentLength    int
	ScrapedAt        time.Time
	Errors           map[string]string // failures of earlier strategies, kept for diagnostics
}

// Stats summarizes one extraction pass over a batch
type Stats struct {
	Total          int
	AlreadyHadText int
	Succeeded      int
	Failed         int
	StrategiesUsed map[string]int
}

// Scraper pulls article text through an ordered chain of fallback
// extraction strategies
type Scraper struct {
	client        *http.Client
	strategies    []Strategy
	maxRetries    int
	requestDelay  time.Duration
	minTextLength int
	userAgent     string
	targetLang    string
}

// New creates a scraper with the default strategy chain
func New(cfg Config) *Scraper {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RequestDelay == 0 {
		cfg.RequestDelay = time.Second
	}
	if cfg.MinTextLength == 0 {
		cfg.MinTextLength = 500
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"
	}
	if cfg.TargetLanguage == "" {
		cfg.TargetLanguage = "en"
	}

	return &Scraper{
		client:        &http.Client{Timeout: cfg.Timeout},
		strategies:    defaultStrategies(),
		maxRetries:    cfg.MaxRetries,
		requestDelay:  cfg.RequestDelay,
		minTextLength: cfg.MinTextLength,
		userAgent:     cfg.UserAgent,
		targetLang:    cfg.TargetLanguage,
	}
}

// Extract fetches the document and runs the strategy chain. A non-nil error
// means total failure, the returned result still carries the per-strategy
// error map for diagnostics.
func (s *Scraper) Extract(ctx context.Context, rawURL string) (*Result, error) {
	result := &Result{Errors: make(map[string]string)}

	pageURL, err := url.Parse(rawURL)
	if err != nil || pageURL.Scheme == "" || pageURL.Host == "" {
		result.Errors["url_validation"] = fmt.Sprintf("invalid URL: %s", rawURL)
		return result, fmt.Errorf("invalid URL %q", rawURL)
	}

	doc, err := s.fetch(ctx, rawURL)
	if err != nil {
		result.Errors["fetch"] = err.Error()
		return result, fmt.Errorf("fetch %s: %w", rawURL, err)
	}

	for _, strategy := range s.strategies {
		extracted, err := strategy.Extract(pageURL, doc)
		if err != nil {
			result.Errors[strategy.Name()] = err.Error()
			continue
		}
		if len(strings.TrimSpace(extracted.Text)) <= s.minTextLength {
			result.Errors[strategy.Name()] = fmt.Sprintf("extracted only %d characters, below minimum %d",
				len(strings.TrimSpace(extracted.Text)), s.minTextLength)
			continue
		}

		// first accepting strategy wins
		result.Title = extracted.Title
		result.Byline = extracted.Byline
		result.Text = normalizeText(extracted.Text)
		result.Strategy = strategy.Name()
		result.ContentLength = len(result.Text)
		result.ScrapedAt = time.Now()
		result.DetectedLanguage = detectLanguage(result.Text)
		result.NeedsTranslation = result.DetectedLanguage != "" && result.DetectedLanguage != s.targetLang

		lgr.Printf("[INFO] extracted %d characters from %s using %s", result.ContentLength, rawURL, result.Strategy)
		if result.NeedsTranslation {
			lgr.Printf("[INFO] article at %s detected as %q, needs translation", rawURL, result.DetectedLanguage)
		}
		return result, nil
	}

	return result, fmt.Errorf("all extraction strategies failed for %s", rawURL)
}

// fetch retrieves the raw document with bounded retries and backoff
func (s *Scraper) fetch(ctx context.Context, rawURL string) (string, error) {
	var body string
	retrier := repeater.NewBackoff(s.maxRetries, 500*time.Millisecond, repeater.WithMaxDelay(10*time.Second))
	err := retrier.Do(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
		if err != nil {
			return err
		}
		req.Header.Set("User-Agent", s.userAgent)
		addBrowserHeaders(req)

		resp, err := s.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("unexpected status code %d", resp.StatusCode)
		}

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		body = string(data)
		return nil
	})
	if err != nil {
		return "", err
	}
	return body, nil
}

// ExtractStories runs extraction for a batch, skipping stories that already
// carry usable text, and records outcomes on each story in place
func (s *Scraper) ExtractStories(ctx context.Context, stories []*domain.Story) Stats {
	stats := Stats{Total: len(stories), StrategiesUsed: make(map[string]int)}

	for i, story := range stories {
		if len(strings.TrimSpace(story.FullText)) > minExistingText {
			story.ScrapingStatus = domain.ScrapingSkipped
			story.ScrapingReason = "already has full text"
			story.ScrapingErrors = nil
			stats.AlreadyHadText++
			continue
		}

		result, err := s.Extract(ctx, story.ArticleURL())
		if err != nil {
			story.ScrapingStatus = domain.ScrapingFailed
			story.ScrapingReason = err.Error()
			story.ScrapingErrors = result.Errors
			story.ScraperUsed = ""
			stats.Failed++
			lgr.Printf("[WARN] failed to extract content for story %s: %v", story.ID, err)
		} else {
			story.FullText = result.Text
			story.ScrapingStatus = domain.ScrapingSuccess
			story.ScrapingReason = fmt.Sprintf("extracted %d characters", result.ContentLength)
			story.ScrapingErrors = result.Errors
			story.ScraperUsed = result.Strategy
			story.DetectedLanguage = result.DetectedLanguage
			story.NeedsTranslation = result.NeedsTranslation

			// extraction metadata sometimes beats what the feed gave us
			if result.Title != "" && len(result.Title) > len(story.Title) {
				story.Title = result.Title
			}
			if result.Byline != "" && story.Byline == "" {
				story.Byline = result.Byline
			}

			stats.Succeeded++
			stats.StrategiesUsed[result.Strategy]++
		}

		// politeness delay between article fetches, not after the last one
		if i < len(stories)-1 {
			select {
			case <-ctx.Done():
				lgr.Printf("[WARN] extraction interrupted: %v", ctx.Err())
				return stats
			case <-time.After(s.requestDelay):
			}
		}
	}

	lgr.Printf("[INFO] extraction complete: %d scraped, %d failed, %d already had text",
		stats.Succeeded, stats.Failed, stats.AlreadyHadText)
	return stats
}
