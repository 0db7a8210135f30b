package filter

import (
	"fmt"
	"strings"

	"github.com/go-pkgz/lgr"

	"github.com/newsward/newsward/pkg/domain"
)

// SourceClass is the admission class of a story's publisher
type SourceClass string

// source classes
const (
	SourceConfirmed SourceClass = "confirmed" // trusted, skips relevance checking
	SourceAccepted  SourceClass = "accepted"  // allowed, relevance-checked
	SourceBanned    SourceClass = "banned"
	SourceEmpty     SourceClass = "empty"
)

// Config holds admission rules. All matches are case-insensitive substring tests.
type Config struct {
	ConfirmedSources       []string `yaml:"confirmed_sources" json:"confirmed_sources" jsonschema:"description=Trusted sources that skip relevance checking"`
	AcceptedSources        []string `yaml:"accepted_sources" json:"accepted_sources" jsonschema:"description=Allowed sources subject to relevance checking"`
	BannedHeadlineKeywords []string `yaml:"banned_headline_keywords" json:"banned_headline_keywords" jsonschema:"description=Reject stories whose headline contains any of these"`
	BannedURLKeywords      []string `yaml:"banned_url_keywords" json:"banned_url_keywords" jsonschema:"description=Reject stories whose URL contains any of these"`
}

// Stats summarizes one filtering pass
type Stats struct {
	Total    int
	Passed   int
	Rejected int
	Errors   int
	Reasons  map[string]int
	ByClass  map[SourceClass]int
}

// Filter applies source and keyword admission rules to stories
type Filter struct {
	confirmedSources []string
	acceptedSources  []string
	bannedHeadline   []string
	bannedURL        []string
}

// New creates a filter from config, lower-casing keyword lists once
func New(cfg Config) *Filter {
	f := &Filter{
		confirmedSources: lowerAll(cfg.ConfirmedSources),
		acceptedSources:  lowerAll(cfg.AcceptedSources),
		bannedHeadline:   lowerAll(cfg.BannedHeadlineKeywords),
		bannedURL:        lowerAll(cfg.BannedURLKeywords),
	}
	lgr.Printf("[INFO] filter initialized: %d confirmed sources, %d accepted sources, %d banned headline keywords, %d banned url keywords",
		len(f.confirmedSources), len(f.acceptedSources), len(f.bannedHeadline), len(f.bannedURL))
	return f
}

// IsSourceAllowed classifies a source. Confirmed matches take priority over
// accepted ones, anything unmatched is banned.
func (f *Filter) IsSourceAllowed(source string) (allowed bool, class SourceClass) {
	if source == "" {
		return false, SourceEmpty
	}
	sourceLower := strings.ToLower(source)

	for _, confirmed := range f.confirmedSources {
		if strings.Contains(sourceLower, confirmed) {
			return true, SourceConfirmed
		}
	}
	for _, accepted := range f.acceptedSources {
		if strings.Contains(sourceLower, accepted) {
			return true, SourceAccepted
		}
	}
	return false, SourceBanned
}

// FilterStory applies admission rules in order: source, headline keywords,
// URL keywords. The first failing check determines the rejection reason.
func (f *Filter) FilterStory(story *domain.Story) (keep bool, reason string, class SourceClass) {
	allowed, class := f.IsSourceAllowed(story.Source)
	if !allowed {
		return false, fmt.Sprintf("source %q not in confirmed or accepted sources", story.Source), class
	}

	if found := matchKeywords(story.Title, f.bannedHeadline); len(found) > 0 {
		return false, fmt.Sprintf("headline contains banned keywords: %s", strings.Join(found, ", ")), class
	}

	if found := matchKeywords(story.URL, f.bannedURL); len(found) > 0 {
		return false, fmt.Sprintf("url contains banned keywords: %s", strings.Join(found, ", ")), class
	}

	return true, fmt.Sprintf("passed all filters (source: %s)", class), class
}

// FilterStories applies admission rules to every story in place. Records are
// never dropped from the list, downstream stages react to the status.
func (f *Filter) FilterStories(stories []*domain.Story) Stats {
	stats := Stats{
		Total:   len(stories),
		Reasons: make(map[string]int),
		ByClass: make(map[SourceClass]int),
	}

	for _, story := range stories {
		keep, reason, class := f.filterOne(story, &stats)
		story.FilterReason = reason
		if story.FilterStatus == domain.FilterError {
			continue
		}
		if keep {
			story.FilterStatus = domain.FilterPassed
			stats.Passed++
			stats.ByClass[class]++
			continue
		}
		story.FilterStatus = domain.FilterRejected
		stats.Rejected++
		stats.Reasons[reasonCategory(reason)]++
		lgr.Printf("[INFO] filtered out: %s - %s", reason, truncate(story.Title, 80))
	}

	lgr.Printf("[INFO] filtering complete: %d/%d passed (%d confirmed, %d accepted), %d rejected, %d errors",
		stats.Passed, stats.Total, stats.ByClass[SourceConfirmed], stats.ByClass[SourceAccepted],
		stats.Rejected, stats.Errors)
	return stats
}

// filterOne shields the batch from a panic on one malformed record
func (f *Filter) filterOne(story *domain.Story, stats *Stats) (keep bool, reason string, class SourceClass) {
	defer func() {
		if r := recover(); r != nil {
			lgr.Printf("[ERROR] filter error on story %s: %v", story.ID, r)
			story.FilterStatus = domain.FilterError
			keep, reason = false, fmt.Sprintf("filter error: %v", r)
			stats.Errors++
		}
	}()
	return f.FilterStory(story)
}

func matchKeywords(text string, keywords []string) []string {
	if text == "" || len(keywords) == 0 {
		return nil
	}
	textLower := strings.ToLower(text)
	var found []string
	for _, kw := range keywords {
		if strings.Contains(textLower, kw) {
			found = append(found, kw)
		}
	}
	return found
}

// reasonCategory folds a detailed reason into its aggregate bucket
func reasonCategory(reason string) string {
	if idx := strings.Index(reason, ":"); idx > 0 {
		return reason[:idx]
	}
	return reason
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, strings.ToLower(s))
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
