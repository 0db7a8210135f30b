package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/go-pkgz/lgr"

	"github.com/newsward/newsward/pkg/dedup"
	"github.com/newsward/newsward/pkg/domain"
	"github.com/newsward/newsward/pkg/feed"
	"github.com/newsward/newsward/pkg/filter"
	"github.com/newsward/newsward/pkg/publisher"
	"github.com/newsward/newsward/pkg/relevance"
	"github.com/newsward/newsward/pkg/scraper"
	"github.com/newsward/newsward/pkg/store"
	"github.com/newsward/newsward/pkg/summary"
)

// Fetcher pulls story candidates from the news feed
type Fetcher interface {
	Fetch(ctx context.Context) ([]*domain.Story, error)
}

// Resolver decodes aggregator redirect URLs
type Resolver interface {
	ResolveStories(ctx context.Context, stories []*domain.Story) feed.ResolveStats
}

// Extractor pulls article text for stories
type Extractor interface {
	ExtractStories(ctx context.Context, stories []*domain.Story) scraper.Stats
}

// Summarizer fills in story summaries
type Summarizer interface {
	SummarizeStories(ctx context.Context, stories []*domain.Story) summary.Stats
}

// Poster publishes stories and tracks the posting rate limit
type Poster interface {
	PostStories(ctx context.Context, stories []*domain.Story) publisher.Stats
	SetLastPostTime(t time.Time)
}

// Storage persists story records
type Storage interface {
	GetAll(ctx context.Context) ([]*domain.Story, error)
	Get(ctx context.Context, id string) (*domain.Story, error)
	Save(ctx context.Context, story *domain.Story) error
	LastSuccessfulPostTime(ctx context.Context) (time.Time, error)
	PostableStories(ctx context.Context) ([]*domain.Story, error)
}

// Pipeline runs one full ingestion batch: fetch, dedupe, filter, resolve,
// scrape, summarize, relevance-check, persist and post
type Pipeline struct {
	fetcher    Fetcher
	resolver   Resolver
	extractor  Extractor
	summarizer Summarizer
	poster     Poster
	storage    Storage
	filter     *filter.Filter
	relevance  *relevance.Checker
}

// New assembles a pipeline from its stages
func New(fetcher Fetcher, resolver Resolver, extractor Extractor, summarizer Summarizer,
	poster Poster, storage Storage, fltr *filter.Filter, checker *relevance.Checker) *Pipeline {
	return &Pipeline{
		fetcher:    fetcher,
		resolver:   resolver,
		extractor:  extractor,
		summarizer: summarizer,
		poster:     poster,
		storage:    storage,
		filter:     fltr,
		relevance:  checker,
	}
}

// Run executes one batch. A feed fetch failure is fatal for the run,
// per-story failures are recorded on the story and never abort the batch.
func (p *Pipeline) Run(ctx context.Context) error {
	started := time.Now()
	lgr.Printf("[INFO] pipeline run started")

	candidates, err := p.fetcher.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("fetch candidates: %w", err)
	}

	existing, err := p.storage.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("load existing stories: %w", err)
	}

	dd := dedup.New()
	dd.LoadExisting(existing)
	unique, dedupStats := dd.Dedupe(candidates, false)
	lgr.Printf("[INFO] dedup: %d in, %d unique (%d by id, %d by url, %d by headline)",
		dedupStats.TotalInput, dedupStats.UniqueOutput, dedupStats.ByID, dedupStats.ByURL, dedupStats.ByHeadline)

	// re-ingested stories keep the content earned in previous runs. Dedupe
	// already drops candidates whose ID is stored, so this resolves nothing
	// unless that rule changes; the merge contract holds either way.
	for i, story := range unique {
		stored, err := p.storage.Get(ctx, story.ID)
		if err != nil {
			lgr.Printf("[WARN] lookup failed for story %s: %v", story.ID, err)
			continue
		}
		if stored != nil {
			unique[i] = store.Merge(stored, story)
		}
	}

	filterStats := p.filter.FilterStories(unique)
	lgr.Printf("[INFO] filter: %d passed, %d rejected, %d errors",
		filterStats.Passed, filterStats.Rejected, filterStats.Errors)

	passed := make([]*domain.Story, 0, len(unique))
	for _, story := range unique {
		if story.FilterStatus == domain.FilterPassed {
			passed = append(passed, story)
		}
	}

	p.resolver.ResolveStories(ctx, passed)
	p.extractor.ExtractStories(ctx, passed)
	p.summarizer.SummarizeStories(ctx, passed)

	classByID := make(map[string]filter.SourceClass, len(passed))
	for _, story := range passed {
		_, class := p.filter.IsSourceAllowed(story.Source)
		classByID[story.ID] = class
	}
	p.relevance.CheckStories(passed, classByID)

	p.saveAll(ctx, unique)

	if err := p.post(ctx); err != nil {
		lgr.Printf("[WARN] posting stage failed: %v", err)
	}

	lgr.Printf("[INFO] pipeline run finished in %s", time.Since(started).Round(time.Millisecond))
	return nil
}

// post publishes at most one eligible story from the store
func (p *Pipeline) post(ctx context.Context) error {
	lastPost, err := p.storage.LastSuccessfulPostTime(ctx)
	if err != nil {
		return fmt.Errorf("load last post time: %w", err)
	}
	if !lastPost.IsZero() {
		p.poster.SetLastPostTime(lastPost)
	}

	postable, err := p.storage.PostableStories(ctx)
	if err != nil {
		return fmt.Errorf("load postable stories: %w", err)
	}
	lgr.Printf("[INFO] %d stories eligible for posting", len(postable))

	p.poster.PostStories(ctx, postable)
	p.saveAll(ctx, postable)
	return nil
}

func (p *Pipeline) saveAll(ctx context.Context, stories []*domain.Story) {
	for _, story := range stories {
		if err := p.storage.Save(ctx, story); err != nil {
			lgr.Printf("[WARN] failed to save story %s: %v", story.ID, err)
		}
	}
}
