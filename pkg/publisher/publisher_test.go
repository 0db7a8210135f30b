package publisher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newsward/newsward/pkg/domain"
)

// mockClient records posts and fails on demand
type mockClient struct {
	posts []Post
	err   error
}

func (m *mockClient) Post(_ context.Context, post Post) error {
	if m.err != nil {
		return m.err
	}
	m.posts = append(m.posts, post)
	return nil
}

func postableStory(id string) *domain.Story {
	return &domain.Story{
		ID:      id,
		Title:   "Story " + id,
		URL:     "https://example.com/" + id,
		Source:  "Example News",
		Summary: "Summary for " + id + " [Example News](https://example.com/" + id + ")",
	}
}

func TestPublisher_CanPostNow(t *testing.T) {
	p := New(&mockClient{}, 30*time.Minute)

	allowed, reason := p.CanPostNow()
	assert.True(t, allowed)
	assert.Equal(t, "no previous posts", reason)

	p.SetLastPostTime(time.Now().Add(-10 * time.Minute))
	allowed, reason = p.CanPostNow()
	assert.False(t, allowed)
	assert.Contains(t, reason, "rate limit active")

	p.SetLastPostTime(time.Now().Add(-time.Hour))
	allowed, reason = p.CanPostNow()
	assert.True(t, allowed)
	assert.Contains(t, reason, "sufficient time elapsed")
}

func TestPublisher_PostStory(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		client := &mockClient{}
		p := New(client, 30*time.Minute)

		status, reason := p.PostStory(context.Background(), postableStory("a"))
		assert.Equal(t, domain.PostPosted, status)
		assert.Contains(t, reason, "posted successfully")
		require.Len(t, client.posts, 1)
		assert.Equal(t, "Summary for a Example News", client.posts[0].Text)
		require.Len(t, client.posts[0].Facets, 1)
		assert.Equal(t, "https://example.com/a", client.posts[0].Facets[0].URI)
	})

	t.Run("no summary fails", func(t *testing.T) {
		p := New(&mockClient{}, 30*time.Minute)
		story := postableStory("a")
		story.Summary = ""

		status, reason := p.PostStory(context.Background(), story)
		assert.Equal(t, domain.PostFailed, status)
		assert.Contains(t, reason, "no summary")
	})

	t.Run("rate limited skips", func(t *testing.T) {
		p := New(&mockClient{}, 30*time.Minute)
		p.SetLastPostTime(time.Now())

		status, reason := p.PostStory(context.Background(), postableStory("a"))
		assert.Equal(t, domain.PostSkipped, status)
		assert.Contains(t, reason, "rate limited")
	})

	t.Run("client error fails", func(t *testing.T) {
		p := New(&mockClient{err: errors.New("network down")}, 30*time.Minute)

		status, reason := p.PostStory(context.Background(), postableStory("a"))
		assert.Equal(t, domain.PostFailed, status)
		assert.Contains(t, reason, "network down")
	})
}

func TestPublisher_PostStories_OnePerRun(t *testing.T) {
	client := &mockClient{}
	p := New(client, 30*time.Minute)

	stories := []*domain.Story{postableStory("a"), postableStory("b"), postableStory("c")}
	stats := p.PostStories(context.Background(), stories)

	assert.Equal(t, 1, stats.Posted, "only one story posted per run")
	assert.Len(t, client.posts, 1)
	assert.Equal(t, domain.PostPosted, stories[0].PostStatus)
	assert.NotEmpty(t, stories[0].PostedAt)
	assert.Equal(t, domain.PostStatus(""), stories[1].PostStatus, "later candidates untouched")
}

func TestPublisher_PostStories_Filtering(t *testing.T) {
	client := &mockClient{}
	p := New(client, 30*time.Minute)

	alreadyPosted := postableStory("posted")
	alreadyPosted.PostStatus = domain.PostPosted
	noSummary := postableStory("nosummary")
	noSummary.Summary = ""
	irrelevant := postableStory("irrelevant")
	irrelevant.RelevanceStatus = domain.RelevanceNotRelevant
	good := postableStory("good")

	stats := p.PostStories(context.Background(), []*domain.Story{alreadyPosted, noSummary, irrelevant, good})

	assert.Equal(t, 1, stats.Posted)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 2, stats.Skipped)

	assert.Equal(t, domain.PostFailed, noSummary.PostStatus)
	assert.Equal(t, domain.PostSkipped, irrelevant.PostStatus)
	assert.Equal(t, "story not relevant", irrelevant.PostReason)
	assert.Equal(t, domain.PostPosted, good.PostStatus)
	require.Len(t, client.posts, 1)
}

func TestPublisher_PostStories_RateLimited(t *testing.T) {
	p := New(&mockClient{}, 30*time.Minute)
	p.SetLastPostTime(time.Now())

	stats := p.PostStories(context.Background(), []*domain.Story{postableStory("a"), postableStory("b")})
	assert.Equal(t, 0, stats.Posted)
	assert.Equal(t, 2, stats.RateLimited)
}

func TestFlattenMarkdownLink(t *testing.T) {
	t.Run("trailing source link", func(t *testing.T) {
		text, facets := flattenMarkdownLink("Big news today. By Jane. [Example](https://example.com/x)")
		assert.Equal(t, "Big news today. By Jane. Example", text)
		require.Len(t, facets, 1)
		assert.Equal(t, "https://example.com/x", facets[0].URI)
		assert.Equal(t, "Example", text[facets[0].ByteStart:facets[0].ByteEnd])
	})

	t.Run("no link", func(t *testing.T) {
		text, facets := flattenMarkdownLink("plain text")
		assert.Equal(t, "plain text", text)
		assert.Empty(t, facets)
	})

	t.Run("multiple links", func(t *testing.T) {
		text, facets := flattenMarkdownLink("[a](https://a.example) and [b](https://b.example)")
		assert.Equal(t, "a and b", text)
		require.Len(t, facets, 2)
		assert.Equal(t, "a", text[facets[0].ByteStart:facets[0].ByteEnd])
		assert.Equal(t, "b", text[facets[1].ByteStart:facets[1].ByteEnd])
	})
}
