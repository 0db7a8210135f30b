package publisher

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/go-pkgz/lgr"

	"github.com/newsward/newsward/pkg/domain"
)

// Facet marks a byte range of post text as a link
type Facet struct {
	ByteStart int
	ByteEnd   int
	URI       string
}

// Post is prepared platform post content
type Post struct {
	Text     string
	Facets   []Facet
	LinkURL  string // article URL for the external embed card
	Title    string
	Subtitle string
}

// Client submits a prepared post to the social platform
type Client interface {
	Post(ctx context.Context, post Post) error
}

// Config holds publisher settings
type Config struct {
	Handle       string        `yaml:"handle" json:"handle" jsonschema:"description=Bluesky handle"`
	AppPassword  string        `yaml:"app_password" json:"app_password" jsonschema:"description=Bluesky app password"`
	PostInterval time.Duration `yaml:"post_interval" json:"post_interval" jsonschema:"default=30m,description=Minimum time between posts"`
}

// Stats summarizes one posting pass
type Stats struct {
	Total       int
	Posted      int
	Failed      int
	Skipped     int
	RateLimited int
}

// Publisher posts stories with a minimum interval between successful posts.
// At most one story goes out per batch run.
type Publisher struct {
	client       Client
	postInterval time.Duration
	lastPostTime time.Time
}

// New creates a publisher over the given client
func New(client Client, postInterval time.Duration) *Publisher {
	if postInterval == 0 {
		postInterval = 30 * time.Minute
	}
	return &Publisher{client: client, postInterval: postInterval}
}

// SetLastPostTime seeds the rate limiter, normally from the store on startup
func (p *Publisher) SetLastPostTime(t time.Time) {
	p.lastPostTime = t
	lgr.Printf("[INFO] last successful post time set to %s", t.Format(time.RFC3339))
}

// CanPostNow reports whether the rate limit allows a post
func (p *Publisher) CanPostNow() (bool, string) {
	if p.lastPostTime.IsZero() {
		return true, "no previous posts"
	}

	elapsed := time.Since(p.lastPostTime)
	if elapsed >= p.postInterval {
		return true, fmt.Sprintf("sufficient time elapsed: %s", elapsed.Round(time.Second))
	}
	return false, fmt.Sprintf("rate limit active, %s remaining", (p.postInterval - elapsed).Round(time.Second))
}

// PostStory posts one story and records the outcome on it
func (p *Publisher) PostStory(ctx context.Context, story *domain.Story) (domain.PostStatus, string) {
	if story.Summary == "" {
		return domain.PostFailed, "no summary available for posting"
	}

	allowed, reason := p.CanPostNow()
	if !allowed {
		return domain.PostSkipped, "rate limited: " + reason
	}

	post := buildPost(story)
	if err := p.client.Post(ctx, post); err != nil {
		lgr.Printf("[WARN] failed to post story %s: %v", story.ID, err)
		return domain.PostFailed, fmt.Sprintf("post failed: %v", err)
	}

	p.lastPostTime = time.Now()
	lgr.Printf("[INFO] posted story %s", story.ID)
	return domain.PostPosted, "posted successfully at " + p.lastPostTime.Format(time.RFC3339)
}

// buildPost turns a formatted summary into platform post content. The
// trailing markdown source link is flattened into link text with a facet,
// the article URL carried for the external embed card.
func buildPost(story *domain.Story) Post {
	text, facets := flattenMarkdownLink(story.Summary)
	return Post{
		Text:     text,
		Facets:   facets,
		LinkURL:  story.ArticleURL(),
		Title:    story.Title,
		Subtitle: story.Source,
	}
}

var markdownLinkRe = regexp.MustCompile(`\[([^\]]+)\]\((https?://[^)]+)\)`)

// flattenMarkdownLink rewrites markdown links to their visible text with a
// link facet over the text's byte range. The platform renders plain text,
// markdown markup would show up verbatim.
func flattenMarkdownLink(text string) (string, []Facet) {
	matches := markdownLinkRe.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return text, nil
	}

	var out []byte
	var facets []Facet
	prev := 0
	for _, m := range matches {
		out = append(out, text[prev:m[0]]...)
		name := text[m[2]:m[3]]
		uri := text[m[4]:m[5]]
		facets = append(facets, Facet{ByteStart: len(out), ByteEnd: len(out) + len(name), URI: uri})
		out = append(out, name...)
		prev = m[1]
	}
	out = append(out, text[prev:]...)
	return string(out), facets
}

// PostStories walks candidates in order and posts at most one. Stories
// already posted are skipped, stories without summaries marked failed,
// irrelevant ones skipped.
func (p *Publisher) PostStories(ctx context.Context, stories []*domain.Story) Stats {
	stats := Stats{Total: len(stories)}

	for _, story := range stories {
		if story.PostStatus == domain.PostPosted {
			stats.Skipped++
			lgr.Printf("[DEBUG] skipping story %s, already posted", story.ID)
			continue
		}
		if story.Summary == "" {
			story.PostStatus = domain.PostFailed
			story.PostReason = "no summary available"
			stats.Failed++
			continue
		}
		if story.RelevanceStatus == domain.RelevanceNotRelevant {
			story.PostStatus = domain.PostSkipped
			story.PostReason = "story not relevant"
			stats.Skipped++
			continue
		}

		status, reason := p.PostStory(ctx, story)
		story.PostStatus = status
		story.PostReason = reason

		switch status {
		case domain.PostPosted:
			story.PostedAt = p.lastPostTime.Format(time.RFC3339)
			stats.Posted++
			// one post per run, the rate limit would reject the rest anyway
			lgr.Printf("[INFO] posting complete: story %s posted, remaining candidates deferred to next run", story.ID)
			return stats
		case domain.PostFailed:
			stats.Failed++
		case domain.PostSkipped:
			stats.RateLimited++
		}
	}

	lgr.Printf("[INFO] posting complete: %d posted, %d failed, %d skipped, %d rate limited",
		stats.Posted, stats.Failed, stats.Skipped, stats.RateLimited)
	return stats
}
