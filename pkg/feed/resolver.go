package feed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-pkgz/lgr"

	"github.com/newsward/newsward/pkg/dedup"
	"github.com/newsward/newsward/pkg/domain"
)

// ResolveStats summarizes one redirect resolution pass
type ResolveStats struct {
	Total     int
	Found     int // stories carrying an indirect redirect URL
	Decoded   int
	Failed    int
	DirectURL int
}

// Resolver turns aggregator redirect URLs into the real article URLs
type Resolver struct {
	client    *http.Client
	userAgent string
}

// NewResolver creates a resolver with a bounded redirect-following client
func NewResolver(timeout time.Duration, userAgent string) *Resolver {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Resolver{
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(_ *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return fmt.Errorf("too many redirects")
				}
				return nil
			},
		},
		userAgent: userAgent,
	}
}

// Resolve follows the redirect chain for an aggregator URL. When the chain
// ends still on the aggregator domain, the interstitial page is parsed for
// the article target.
func (r *Resolver) Resolve(ctx context.Context, redirectURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, redirectURL, http.NoBody)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	if r.userAgent != "" {
		req.Header.Set("User-Agent", r.userAgent)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("follow redirects: %w", err)
	}
	defer resp.Body.Close()

	finalURL := resp.Request.URL.String()
	if !dedup.IsRedirectURL(finalURL) {
		return finalURL, nil
	}

	// still on the aggregator, the target hides in the interstitial page
	target, err := extractTarget(resp.Body, finalURL)
	if err != nil {
		return "", fmt.Errorf("resolve interstitial: %w", err)
	}
	return target, nil
}

// extractTarget pulls the article URL out of an aggregator interstitial page
func extractTarget(body io.Reader, pageURL string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return "", fmt.Errorf("parse page: %w", err)
	}

	if href, ok := doc.Find("a[rel=nofollow]").First().Attr("href"); ok && isArticleTarget(href) {
		return href, nil
	}
	if href, ok := doc.Find("link[rel=canonical]").First().Attr("href"); ok && isArticleTarget(href) {
		return href, nil
	}

	var found string
	doc.Find("a[href]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		href, _ := sel.Attr("href")
		if isArticleTarget(href) {
			found = href
			return false
		}
		return true
	})
	if found != "" {
		return found, nil
	}
	return "", fmt.Errorf("no article target found in %s", pageURL)
}

func isArticleTarget(href string) bool {
	return strings.HasPrefix(href, "http") && !dedup.IsRedirectURL(href) &&
		!strings.Contains(href, "google.com")
}

// ResolveStories decodes redirect URLs for a batch, storing results in
// DecodedURL. Failures keep the indirect URL and never abort the batch.
func (r *Resolver) ResolveStories(ctx context.Context, stories []*domain.Story) ResolveStats {
	stats := ResolveStats{Total: len(stories)}

	for _, story := range stories {
		indirect := story.RedirectURL
		if indirect == "" && dedup.IsRedirectURL(story.URL) {
			indirect = story.URL
		}
		if indirect == "" {
			stats.DirectURL++
			continue
		}
		stats.Found++

		decoded, err := r.Resolve(ctx, indirect)
		if err != nil {
			stats.Failed++
			lgr.Printf("[WARN] failed to resolve redirect for story %s: %v", story.ID, err)
			continue
		}

		story.RedirectURL = indirect
		story.DecodedURL = decoded
		stats.Decoded++
		lgr.Printf("[DEBUG] resolved %s -> %s", indirect, decoded)
	}

	lgr.Printf("[INFO] redirect resolution complete: %d decoded, %d failed, %d direct",
		stats.Decoded, stats.Failed, stats.DirectURL)
	return stats
}
