package pipeline

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newsward/newsward/pkg/domain"
	"github.com/newsward/newsward/pkg/feed"
	"github.com/newsward/newsward/pkg/filter"
	"github.com/newsward/newsward/pkg/publisher"
	"github.com/newsward/newsward/pkg/relevance"
	"github.com/newsward/newsward/pkg/scraper"
	"github.com/newsward/newsward/pkg/store"
	"github.com/newsward/newsward/pkg/summary"
)

type fakeFetcher struct {
	stories []*domain.Story
	err     error
}

func (f *fakeFetcher) Fetch(_ context.Context) ([]*domain.Story, error) {
	return f.stories, f.err
}

type fakeResolver struct{ calls int }

func (f *fakeResolver) ResolveStories(_ context.Context, stories []*domain.Story) feed.ResolveStats {
	f.calls++
	return feed.ResolveStats{Total: len(stories)}
}

// fakeExtractor marks every story scraped with canned text
type fakeExtractor struct{ seen []*domain.Story }

func (f *fakeExtractor) ExtractStories(_ context.Context, stories []*domain.Story) scraper.Stats {
	f.seen = append(f.seen, stories...)
	for _, story := range stories {
		story.FullText = "Extracted article text long enough to summarize properly for the test run."
		story.ScrapingStatus = domain.ScrapingSuccess
		story.ScraperUsed = "trafilatura"
	}
	return scraper.Stats{Total: len(stories), Succeeded: len(stories)}
}

// fakeSummarizer stamps headline summaries
type fakeSummarizer struct{}

func (fakeSummarizer) SummarizeStories(_ context.Context, stories []*domain.Story) summary.Stats {
	stats := summary.Stats{Total: len(stories)}
	for _, story := range stories {
		if story.Summary != "" {
			continue
		}
		story.Summary = story.Title + " [" + story.Source + "](" + story.ArticleURL() + ")"
		stats.Summarized++
	}
	return stats
}

// fakePoster posts the first candidate it sees
type fakePoster struct {
	lastPostTime time.Time
	posted       []string
}

func (f *fakePoster) SetLastPostTime(t time.Time) { f.lastPostTime = t }

func (f *fakePoster) PostStories(_ context.Context, stories []*domain.Story) publisher.Stats {
	stats := publisher.Stats{Total: len(stories)}
	for _, story := range stories {
		if story.PostStatus == domain.PostPosted {
			continue
		}
		story.PostStatus = domain.PostPosted
		story.PostReason = "posted"
		story.PostedAt = time.Now().Format(time.RFC3339)
		f.posted = append(f.posted, story.ID)
		stats.Posted++
		break
	}
	return stats
}

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	tmp, err := os.CreateTemp("", "pipeline-test-*.db")
	require.NoError(t, err)
	require.NoError(t, tmp.Close())
	t.Cleanup(func() { os.Remove(tmp.Name()) })

	st, err := store.New(store.Config{DSN: "file:" + tmp.Name() + "?cache=shared&mode=rwc"})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func testPipeline(t *testing.T, fetcher *fakeFetcher, st *store.Store) (*Pipeline, *fakeExtractor, *fakePoster) {
	t.Helper()
	extractor := &fakeExtractor{}
	poster := &fakePoster{}
	fltr := filter.New(filter.Config{
		AcceptedSources:        []string{"Example News", "Daily Post"},
		BannedHeadlineKeywords: []string{"opinion"},
	})
	checker := relevance.New(relevance.Config{})

	p := New(fetcher, &fakeResolver{}, extractor, fakeSummarizer{}, poster, st, fltr, checker)
	return p, extractor, poster
}

func TestPipeline_Run(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	// already-known story, seeded into the store
	known := &domain.Story{
		ID:           domain.StoryID("Known Story", "Example News"),
		Title:        "Known Story",
		URL:          "https://example.com/known",
		Source:       "Example News",
		FilterStatus: domain.FilterPassed,
	}
	require.NoError(t, st.Save(ctx, known))

	candidates := []*domain.Story{
		{ID: known.ID, Title: "Known Story", URL: "https://example.com/known", Source: "Example News"},
		{ID: domain.StoryID("Banned Story", "Tabloid Weekly"), Title: "Banned Story",
			URL: "https://tabloid.example/banned", Source: "Tabloid Weekly"},
		{ID: domain.StoryID("Clean Story", "Example News"), Title: "Clean Story",
			URL: "https://example.com/clean", Source: "Example News"},
	}

	p, extractor, poster := testPipeline(t, &fakeFetcher{stories: candidates}, st)
	require.NoError(t, p.Run(ctx))

	// duplicate removed, banned rejected, clean processed
	require.Len(t, extractor.seen, 1)
	assert.Equal(t, "Clean Story", extractor.seen[0].Title)

	banned, err := st.Get(ctx, candidates[1].ID)
	require.NoError(t, err)
	require.NotNil(t, banned, "rejected stories are still persisted")
	assert.Equal(t, domain.FilterRejected, banned.FilterStatus)
	assert.Contains(t, banned.FilterReason, "not in confirmed or accepted sources")
	assert.Empty(t, banned.Summary, "rejected stories never advance")

	clean, err := st.Get(ctx, candidates[2].ID)
	require.NoError(t, err)
	require.NotNil(t, clean)
	assert.Equal(t, domain.FilterPassed, clean.FilterStatus)
	assert.Equal(t, domain.ScrapingSuccess, clean.ScrapingStatus)
	assert.NotEmpty(t, clean.Summary)

	// one story posted out of the eligible set
	assert.Len(t, poster.posted, 1)
	posted, err := st.Get(ctx, poster.posted[0])
	require.NoError(t, err)
	assert.Equal(t, domain.PostPosted, posted.PostStatus)
	assert.NotEmpty(t, posted.PostedAt)
}

func TestPipeline_Run_FetchFailureIsFatal(t *testing.T) {
	st := setupTestStore(t)
	p, _, _ := testPipeline(t, &fakeFetcher{err: errors.New("feed unreachable")}, st)

	err := p.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "feed unreachable")
}

func TestPipeline_Run_SeedsLastPostTime(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	postedAt := time.Now().Add(-2 * time.Hour).UTC().Truncate(time.Second)
	require.NoError(t, st.Save(ctx, &domain.Story{
		ID:           domain.StoryID("Old Post", "Example News"),
		Title:        "Old Post",
		URL:          "https://example.com/old",
		Source:       "Example News",
		FilterStatus: domain.FilterPassed,
		PostStatus:   domain.PostPosted,
		PostedAt:     postedAt.Format(time.RFC3339),
	}))

	p, _, poster := testPipeline(t, &fakeFetcher{}, st)
	require.NoError(t, p.Run(ctx))
	assert.Equal(t, postedAt, poster.lastPostTime.UTC())
}

func TestPipeline_Run_MergePreservesContent(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	// previously processed story re-appears in the feed without the URL/headline
	// sets loaded (simulates a fresh deduplicator miss), merge must keep its text
	stored := &domain.Story{
		ID:             domain.StoryID("Returning Story", "Example News"),
		Title:          "Returning Story",
		URL:            "https://example.com/returning",
		Source:         "Example News",
		FullText:       "previously extracted text kept across runs, definitely longer than the skip threshold",
		Summary:        "previous summary [Example News](https://example.com/returning)",
		FilterStatus:   domain.FilterPassed,
		ScrapingStatus: domain.ScrapingSuccess,
		PostStatus:     domain.PostPosted,
		PostedAt:       time.Now().Format(time.RFC3339),
	}
	require.NoError(t, st.Save(ctx, stored))

	merged := store.Merge(stored, &domain.Story{
		ID:           stored.ID,
		Title:        stored.Title,
		URL:          stored.URL,
		Source:       stored.Source,
		FilterStatus: domain.FilterPending,
	})
	assert.Equal(t, stored.FullText, merged.FullText)
	assert.Equal(t, stored.Summary, merged.Summary)
	assert.Equal(t, domain.PostPosted, merged.PostStatus)
	assert.Equal(t, domain.FilterPending, merged.FilterStatus, "filter axis refreshed")
}
