package dedup

import (
	"crypto/md5" //nolint:gosec // content addressing, not security
	"encoding/hex"
	"net/url"
	"strings"

	"github.com/go-pkgz/lgr"

	"github.com/newsward/newsward/pkg/domain"
)

// trackingParams are query parameters that vary between shares of the same
// article and must not influence the URL hash
var trackingParams = map[string]bool{
	"utm_source": true, "utm_medium": true, "utm_campaign": true,
	"utm_term": true, "utm_content": true,
	"fbclid": true, "gclid": true, "msclkid": true,
	"ref": true, "source": true, "campaign_id": true,
	"_ga": true, "_gac": true, "_gid": true,
	"mc_cid": true, "mc_eid": true,
}

// SimilarityScorer reports semantic similarity between two stories.
// The default implementation is a declared placeholder that never matches,
// callers may enable semantic checks and must observe zero extra removals.
type SimilarityScorer interface {
	Score(a, b *domain.Story) (score float64, reason string)
}

// noopScorer is the placeholder scorer, always zero similarity
type noopScorer struct{}

func (noopScorer) Score(_, _ *domain.Story) (float64, string) {
	return 0.0, "semantic similarity not implemented"
}

// Stats summarizes one deduplication pass
type Stats struct {
	TotalInput   int
	ByID         int
	ByURL        int
	ByHeadline   int
	BySemantic   int // placeholder path, always 0
	UniqueOutput int
}

// Deduplicator removes stories already seen by id, normalized URL hash or
// normalized headline hash
type Deduplicator struct {
	existingIDs    map[string]bool
	urlHashes      map[string]bool
	headlineHashes map[string]bool
	scorer         SimilarityScorer
}

// New creates a deduplicator with the placeholder similarity scorer
func New() *Deduplicator {
	return &Deduplicator{
		existingIDs:    make(map[string]bool),
		urlHashes:      make(map[string]bool),
		headlineHashes: make(map[string]bool),
		scorer:         noopScorer{},
	}
}

// LoadExisting rebuilds the dedup index from persisted stories
func (d *Deduplicator) LoadExisting(stories []*domain.Story) {
	d.existingIDs = make(map[string]bool, len(stories))
	d.urlHashes = make(map[string]bool, len(stories))
	d.headlineHashes = make(map[string]bool, len(stories))

	for _, story := range stories {
		d.existingIDs[story.ID] = true
		// indirect redirect URLs are not stable enough to hash
		if !IsRedirectURL(story.URL) {
			d.urlHashes[urlHash(story.URL)] = true
		}
		d.headlineHashes[headlineHash(story.Title)] = true
	}

	lgr.Printf("[INFO] dedup index loaded: %d ids, %d url hashes, %d headline hashes",
		len(d.existingIDs), len(d.urlHashes), len(d.headlineHashes))
}

// Dedupe filters duplicates out of candidates, both against the loaded index
// and within the batch itself. Check order per candidate: id, URL, headline.
func (d *Deduplicator) Dedupe(candidates []*domain.Story, enableSemantic bool) ([]*domain.Story, Stats) {
	stats := Stats{TotalInput: len(candidates)}

	batchIDs := make(map[string]bool)
	batchURLs := make(map[string]bool)
	batchHeadlines := make(map[string]bool)

	unique := make([]*domain.Story, 0, len(candidates))
	for _, story := range candidates {
		duplicate := false
		reason := ""

		switch {
		case d.existingIDs[story.ID] || batchIDs[story.ID]:
			duplicate = true
			reason = "story_id"
			stats.ByID++
		case !IsRedirectURL(story.URL):
			h := urlHash(story.URL)
			if d.urlHashes[h] || batchURLs[h] {
				duplicate = true
				reason = "url"
				stats.ByURL++
			} else {
				batchURLs[h] = true
			}
		}

		if !duplicate {
			h := headlineHash(story.Title)
			if d.headlineHashes[h] || batchHeadlines[h] {
				duplicate = true
				reason = "headline"
				stats.ByHeadline++
			} else {
				batchHeadlines[h] = true
			}
		}

		if !duplicate && enableSemantic {
			// the scorer is a placeholder, never contributes removals
			if score, _ := d.scorer.Score(story, nil); score > 0 {
				duplicate = true
				reason = "semantic"
				stats.BySemantic++
			}
		}

		if duplicate {
			lgr.Printf("[DEBUG] duplicate (%s): %s [%s]", reason, truncate(story.Title, 50), story.Source)
			continue
		}

		batchIDs[story.ID] = true
		unique = append(unique, story)
	}

	stats.UniqueOutput = len(unique)
	lgr.Printf("[INFO] dedup complete: %d in, %d unique (%d by id, %d by url, %d by headline, %d by semantic)",
		stats.TotalInput, stats.UniqueOutput, stats.ByID, stats.ByURL, stats.ByHeadline, stats.BySemantic)
	return unique, stats
}

// IsRedirectURL reports whether a URL points at the Google News redirect
// service rather than the article itself
func IsRedirectURL(u string) bool {
	if u == "" {
		return false
	}
	return strings.Contains(u, "news.google.com") &&
		(strings.Contains(u, "/articles/") || strings.Contains(u, "/read/"))
}

// NormalizeURL lower-cases the URL, drops the fragment and strips tracking
// query parameters, keeping the remaining parameters in their original order
func NormalizeURL(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		lgr.Printf("[WARN] failed to normalize url %s: %v", raw, err)
		return strings.ToLower(raw)
	}

	kept := make([]string, 0)
	for _, pair := range strings.Split(parsed.RawQuery, "&") {
		if pair == "" {
			continue
		}
		key := pair
		if idx := strings.Index(pair, "="); idx >= 0 {
			key = pair[:idx]
		}
		if !trackingParams[key] {
			kept = append(kept, pair)
		}
	}

	normalized := parsed.Scheme + "://" + parsed.Host + parsed.Path
	if len(kept) > 0 {
		normalized += "?" + strings.Join(kept, "&")
	}
	return strings.ToLower(normalized)
}

// NormalizeHeadline collapses whitespace, strips quote punctuation and
// trailing punctuation, and lower-cases the headline
func NormalizeHeadline(headline string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(headline)), " ")
	for _, punct := range []string{`"`, "'", "“", "”", "‘", "’"} {
		normalized = strings.ReplaceAll(normalized, punct, "")
	}
	return strings.TrimRight(normalized, ".,!?;:")
}

func urlHash(u string) string {
	sum := md5.Sum([]byte(NormalizeURL(u))) //nolint:gosec // content addressing
	return hex.EncodeToString(sum[:])
}

func headlineHash(h string) string {
	sum := md5.Sum([]byte(NormalizeHeadline(h))) //nolint:gosec // content addressing
	return hex.EncodeToString(sum[:])
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
