package summary

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/go-pkgz/lgr"
	"github.com/sashabaranov/go-openai"

	"github.com/newsward/newsward/pkg/domain"
)

// minFullText is the full-text length below which a story is summarized by
// its headline alone
const minFullText = 50

// maxInputChars bounds the article text sent to the model
const maxInputChars = 4000

// minSummaryChars is the smallest budget worth keeping for the summary text;
// a byline that would shrink it further is dropped
const minSummaryChars = 30

// videoIndicators mark URLs whose content is video, summarized as a headline
// with a prefix instead of a completion call
var videoIndicators = []string{
	"youtube.com",
	"youtu.be",
	"vimeo.com",
	"twitch.tv",
	"dailymotion.com",
	"video.",
	"/video/",
	"/watch?v=",
	"/player/",
	"/embed/",
	"stream.",
	"play.",
}

// Config holds summarization settings
type Config struct {
	APIKey      string  `yaml:"api_key" json:"api_key" jsonschema:"description=OpenAI API key"`
	Endpoint    string  `yaml:"endpoint" json:"endpoint" jsonschema:"description=Alternative OpenAI-compatible endpoint"`
	Model       string  `yaml:"model" json:"model" jsonschema:"default=gpt-4o-mini,description=Model for summarization"`
	MaxLength   int     `yaml:"max_length" json:"max_length" jsonschema:"default=300,description=Hard cap on counted summary characters"`
	RetryCount  int     `yaml:"retry_count" json:"retry_count" jsonschema:"default=2,description=Extra attempts when the completion runs over budget"`
	Temperature float64 `yaml:"temperature" json:"temperature" jsonschema:"default=0.3,description=Sampling temperature"`
}

// Stats summarizes one batch pass
type Stats struct {
	Total           int
	Summarized      int
	UsedVideoPrefix int
	UsedCompletion  int
	UsedCondensed   int
	UsedHeadline    int
	Failed          int
}

// outcome classifies how a single summary was produced
type outcome int

const (
	outcomeVideo outcome = iota
	outcomeCompletion
	outcomeCondensed
	outcomeHeadline
	outcomeFailed // every completion attempt failed, headline used instead
)

// Summarizer generates short story summaries within a character budget.
// Without a usable API key it degrades to headline-only summaries.
type Summarizer struct {
	client      *openai.Client
	model       string
	maxLength   int
	retryCount  int
	temperature float32
	enabled     bool
}

// New creates a summarizer. An empty API key disables the completion path.
func New(cfg Config) *Summarizer {
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.MaxLength == 0 {
		cfg.MaxLength = 300
	}
	if cfg.RetryCount == 0 {
		cfg.RetryCount = 2
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.3
	}

	s := &Summarizer{
		model:       cfg.Model,
		maxLength:   cfg.MaxLength,
		retryCount:  cfg.RetryCount,
		temperature: float32(cfg.Temperature),
	}

	if cfg.APIKey == "" {
		lgr.Printf("[WARN] no summarization API key configured, using headline fallback only")
		return s
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.Endpoint != "" {
		clientConfig.BaseURL = cfg.Endpoint
	}
	s.client = openai.NewClientWithConfig(clientConfig)
	s.enabled = true
	lgr.Printf("[INFO] summarizer initialized with model %s, max length %d", cfg.Model, cfg.MaxLength)
	return s
}

// SummarizeStory produces the final formatted summary for one story,
// including byline and source link
func (s *Summarizer) SummarizeStory(ctx context.Context, story *domain.Story) (string, outcome) {
	var text string
	var how outcome

	switch {
	case isVideoContent(story.ArticleURL()):
		text = "Video: " + story.Title
		how = outcomeVideo
	case len(strings.TrimSpace(story.FullText)) < minFullText:
		text = story.Title
		how = outcomeHeadline
	default:
		text, how = s.generateSummary(ctx, story)
	}

	return s.formatFinal(text, story), how
}

// isVideoContent reports whether the URL points at a video platform
func isVideoContent(rawURL string) bool {
	if rawURL == "" {
		return false
	}
	lower := strings.ToLower(rawURL)
	for _, indicator := range videoIndicators {
		if strings.Contains(lower, indicator) {
			return true
		}
	}
	return false
}

// bylineSuffix builds the appended byline, stripping a redundant leading "By"
func bylineSuffix(byline string) string {
	clean := strings.TrimSpace(byline)
	if clean == "" {
		return ""
	}
	if len(clean) > 3 && strings.EqualFold(clean[:3], "by ") {
		clean = clean[3:]
	}
	return fmt.Sprintf(" By %s.", clean)
}

// usableByline returns the byline suffix, or empty when scraped author
// metadata is so long it would leave less than minSummaryChars for the text
func (s *Summarizer) usableByline(story *domain.Story) string {
	byline := bylineSuffix(story.Byline)
	if byline == "" {
		return ""
	}
	sourceChars := len(story.Source) + 3
	if s.maxLength-len(byline)-sourceChars-5 < minSummaryChars {
		lgr.Printf("[WARN] byline for %s too long (%d chars), dropping", story.ID, len(byline))
		return ""
	}
	return byline
}

// budget computes the characters available for the summary text itself. The
// appended URL never counts, only summary, byline and source name do.
func (s *Summarizer) budget(story *domain.Story) int {
	bylineChars := len(s.usableByline(story))
	sourceChars := len(story.Source) + 3 // " []" markdown markers
	b := s.maxLength - bylineChars - sourceChars - 5
	if b < minSummaryChars {
		b = minSummaryChars
	}
	return b
}

// truncate cuts text to at most max bytes, backing up to a rune boundary
func truncate(text string, max int) string {
	if max < 0 {
		max = 0
	}
	if len(text) <= max {
		return text
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}

// generateSummary calls the model with bounded retries, condensing the best
// over-length candidate as a last step before falling back to the headline
func (s *Summarizer) generateSummary(ctx context.Context, story *domain.Story) (string, outcome) {
	if !s.enabled {
		return story.Title, outcomeHeadline
	}

	available := s.budget(story)

	var lastOverLength string
	for attempt := 0; attempt <= s.retryCount; attempt++ {
		text, err := s.completeArticle(ctx, story, available, attempt)
		if err != nil {
			lgr.Printf("[WARN] summarization attempt %d failed for %s: %v", attempt+1, story.ID, err)
			continue
		}
		if text == "" {
			lgr.Printf("[WARN] empty summary on attempt %d for %s", attempt+1, story.ID)
			continue
		}
		if len(text) <= available {
			return text, outcomeCompletion
		}
		lgr.Printf("[WARN] summary over budget for %s: %d > %d chars (attempt %d)",
			story.ID, len(text), available, attempt+1)
		lastOverLength = text
	}

	if lastOverLength != "" {
		condensed, err := s.condense(ctx, lastOverLength, available)
		if err != nil {
			lgr.Printf("[WARN] condensation failed for %s: %v", story.ID, err)
		} else if condensed != "" && len(condensed) <= available {
			return condensed, outcomeCondensed
		} else {
			lgr.Printf("[WARN] condensed summary for %s still over budget", story.ID)
		}
	}

	lgr.Printf("[WARN] all summarization attempts failed for %s, falling back to headline", story.ID)
	return story.Title, outcomeFailed
}

// completeArticle makes one completion call, tightening the brevity
// instruction with each attempt
func (s *Summarizer) completeArticle(ctx context.Context, story *domain.Story, maxChars, attempt int) (string, error) {
	var brevity string
	switch attempt {
	case 0:
		brevity = fmt.Sprintf("in under %d characters", maxChars)
	case 1:
		brevity = fmt.Sprintf("in under %d characters. Be very concise", maxChars)
	default:
		brevity = fmt.Sprintf("in under %d characters. Be extremely brief and concise", maxChars)
	}

	systemPrompt := fmt.Sprintf("You are a news summarizer. Summarize the article %s. "+
		"Focus on the key facts and main points. Do not include bylines, source names, "+
		"or URLs in your summary as they will be added separately.", brevity)

	fullText := story.FullText
	if len(fullText) > maxInputChars {
		fullText = fullText[:maxInputChars]
	}
	userPrompt := fmt.Sprintf("Article title: %s\n\nArticle text: %s", story.Title, fullText)

	return s.chat(ctx, systemPrompt, userPrompt, min(150, maxChars/3), s.temperature)
}

// condense asks the model to shrink an over-length summary
func (s *Summarizer) condense(ctx context.Context, text string, maxChars int) (string, error) {
	systemPrompt := fmt.Sprintf("You are a text condenser. Take the given summary and make it more concise "+
		"while keeping all key information. Output must be under %d characters. "+
		"Be extremely brief and to the point.", maxChars)
	userPrompt := "Condense this summary: " + text

	return s.chat(ctx, systemPrompt, userPrompt, min(100, maxChars/3), 0.1)
}

func (s *Summarizer) chat(ctx context.Context, systemPrompt, userPrompt string, maxTokens int, temperature float32) (string, error) {
	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       s.model,
		Temperature: temperature,
		MaxTokens:   maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("completion call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("completion returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// formatFinal appends byline and source link while keeping the counted
// length at or below the cap. The URL itself never counts.
func (s *Summarizer) formatFinal(text string, story *domain.Story) string {
	byline := s.usableByline(story)
	sourceLink := fmt.Sprintf(" [%s](%s)", story.Source, story.ArticleURL())

	countedMeta := len(byline) + len(story.Source) + 3
	available := s.maxLength - countedMeta
	if len(text) > available {
		text = truncate(text, available-3) + "..."
		lgr.Printf("[WARN] summary for %s truncated to fit character limit", story.ID)
	}

	return text + byline + sourceLink
}

// SummarizeStories fills in summaries for stories that lack one and returns
// batch stats. Stories are updated in place.
func (s *Summarizer) SummarizeStories(ctx context.Context, stories []*domain.Story) Stats {
	stats := Stats{Total: len(stories)}

	for _, story := range stories {
		if story.Summary != "" {
			continue
		}

		text, how := s.SummarizeStory(ctx, story)
		story.Summary = text
		stats.Summarized++

		switch how {
		case outcomeVideo:
			stats.UsedVideoPrefix++
		case outcomeCompletion:
			stats.UsedCompletion++
		case outcomeCondensed:
			stats.UsedCondensed++
		case outcomeHeadline:
			stats.UsedHeadline++
		case outcomeFailed:
			stats.UsedHeadline++
			stats.Failed++
		}
	}

	lgr.Printf("[INFO] summarization complete: %d summarized, %d completion, %d condensed, %d headline, %d video, %d failed",
		stats.Summarized, stats.UsedCompletion, stats.UsedCondensed, stats.UsedHeadline, stats.UsedVideoPrefix, stats.Failed)
	return stats
}
