package relevance

import (
	"fmt"
	"strings"

	"github.com/go-pkgz/lgr"

	"github.com/newsward/newsward/pkg/domain"
	"github.com/newsward/newsward/pkg/filter"
)

// Config holds relevance checking settings
type Config struct {
	Keywords []string `yaml:"keywords" json:"keywords" jsonschema:"description=Topic keywords a story must mention to be posted"`
	Strategy string   `yaml:"strategy" json:"strategy" jsonschema:"default=substring,description=Matching strategy (substring is the only one implemented)"`
}

// Stats summarizes one relevance pass
type Stats struct {
	Total            int
	Relevant         int
	NotRelevant      int
	ConfirmedSkipped int
	KeywordsMatched  map[string]int
}

// Checker gates stories from non-confirmed sources on topic keywords
type Checker struct {
	keywords []string
	strategy string
}

// New creates a relevance checker. Unknown strategies fall back to substring.
func New(cfg Config) *Checker {
	strategy := cfg.Strategy
	if strategy == "" {
		strategy = "substring"
	}
	if strategy != "substring" {
		lgr.Printf("[WARN] unknown relevance strategy %q, falling back to substring", strategy)
		strategy = "substring"
	}

	keywords := make([]string, 0, len(cfg.Keywords))
	for _, kw := range cfg.Keywords {
		keywords = append(keywords, strings.ToLower(kw))
	}
	if len(keywords) == 0 {
		lgr.Printf("[WARN] no relevance keywords configured, all stories will be considered relevant")
	}

	return &Checker{keywords: keywords, strategy: strategy}
}

// IsRelevant checks one story. Confirmed sources pass without evaluation,
// an empty keyword list passes everything.
func (c *Checker) IsRelevant(story *domain.Story, class filter.SourceClass) (relevant bool, reason string) {
	if class == filter.SourceConfirmed {
		return true, "confirmed source, relevance check skipped"
	}
	if len(c.keywords) == 0 {
		return true, "no relevance keywords configured"
	}
	return c.checkSubstring(story)
}

func (c *Checker) checkSubstring(story *domain.Story) (bool, string) {
	// prefer the summary, fall back to the headline
	text := story.Summary
	if text == "" {
		text = story.Title
	}
	if text == "" {
		return false, "no text available for relevance checking"
	}

	textLower := strings.ToLower(text)
	var matched []string
	for _, kw := range c.keywords {
		if strings.Contains(textLower, kw) {
			matched = append(matched, kw)
		}
	}

	if len(matched) > 0 {
		return true, fmt.Sprintf("matched relevance keywords: %s", strings.Join(matched, ", "))
	}
	return false, fmt.Sprintf("no relevance keywords found, checked: %s", strings.Join(c.keywords, ", "))
}

// CheckStories evaluates relevance for every story in place. The source
// class per story id comes from re-running the admission filter's source
// check, duplicated deliberately so the two stages stay independent.
func (c *Checker) CheckStories(stories []*domain.Story, classByID map[string]filter.SourceClass) Stats {
	stats := Stats{Total: len(stories), KeywordsMatched: make(map[string]int)}

	for _, story := range stories {
		class, ok := classByID[story.ID]
		if !ok {
			class = filter.SourceAccepted
		}

		relevant, reason := c.IsRelevant(story, class)
		if relevant {
			story.RelevanceStatus = domain.RelevanceRelevant
		} else {
			story.RelevanceStatus = domain.RelevanceNotRelevant
		}
		story.RelevanceReason = reason

		switch {
		case class == filter.SourceConfirmed:
			stats.ConfirmedSkipped++
		case relevant:
			stats.Relevant++
			for _, kw := range matchedKeywords(reason) {
				stats.KeywordsMatched[kw]++
			}
		default:
			stats.NotRelevant++
		}
	}

	lgr.Printf("[INFO] relevance check complete: %d total, %d relevant, %d not relevant, %d confirmed skipped",
		stats.Total, stats.Relevant, stats.NotRelevant, stats.ConfirmedSkipped)
	return stats
}

// matchedKeywords extracts the keyword list back out of a match reason
func matchedKeywords(reason string) []string {
	const prefix = "matched relevance keywords: "
	if !strings.HasPrefix(reason, prefix) {
		return nil
	}
	return strings.Split(strings.TrimPrefix(reason, prefix), ", ")
}
