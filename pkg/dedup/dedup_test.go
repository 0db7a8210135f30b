package dedup

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/newsward/newsward/pkg/domain"
)

func story(id, title, url string) *domain.Story {
	return &domain.Story{ID: id, Title: title, URL: url, Source: "Example News"}
}

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "tracking params stripped",
			in:   "https://x.com/a?utm_source=y&id=1",
			want: "https://x.com/a?id=1",
		},
		{
			name: "no params unchanged",
			in:   "https://x.com/a",
			want: "https://x.com/a",
		},
		{
			name: "fragment dropped",
			in:   "https://x.com/a#section",
			want: "https://x.com/a",
		},
		{
			name: "lower-cased",
			in:   "https://X.com/A",
			want: "https://x.com/a",
		},
		{
			name: "all params tracking",
			in:   "https://x.com/a?utm_source=y&fbclid=z&gclid=w",
			want: "https://x.com/a",
		},
		{
			name: "param order preserved",
			in:   "https://x.com/a?b=2&utm_medium=m&a=1",
			want: "https://x.com/a?b=2&a=1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeURL(tt.in))
		})
	}
}

func TestNormalizeURL_TrackingParamsHashIdentically(t *testing.T) {
	assert.Equal(t,
		urlHash("https://x.com/a?utm_source=y&id=1"),
		urlHash("https://x.com/a?id=1"))
}

func TestNormalizeHeadline(t *testing.T) {
	want := NormalizeHeadline("Team Wins!")
	assert.Equal(t, want, NormalizeHeadline("team wins"))
	assert.Equal(t, want, NormalizeHeadline("  Team   Wins  "))
	assert.Equal(t, want, NormalizeHeadline(`"Team Wins"...`))
	assert.NotEqual(t, want, NormalizeHeadline("Team Loses"))
}

func TestIsRedirectURL(t *testing.T) {
	assert.True(t, IsRedirectURL("https://news.google.com/articles/CBMiabc"))
	assert.True(t, IsRedirectURL("https://news.google.com/read/CBMiabc"))
	assert.False(t, IsRedirectURL("https://news.google.com/home"))
	assert.False(t, IsRedirectURL("https://example.com/articles/1"))
	assert.False(t, IsRedirectURL(""))
}

func TestDeduplicator_ByID(t *testing.T) {
	d := New()
	d.LoadExisting([]*domain.Story{story("id1", "Old Story", "https://example.com/old")})

	unique, stats := d.Dedupe([]*domain.Story{
		story("id1", "Fresh Headline", "https://example.com/fresh"),
		story("id2", "Another Headline", "https://example.com/another"),
	}, false)

	assert.Len(t, unique, 1)
	assert.Equal(t, "id2", unique[0].ID)
	assert.Equal(t, 1, stats.ByID)
	assert.Equal(t, 1, stats.UniqueOutput)
}

func TestDeduplicator_ByURL(t *testing.T) {
	d := New()
	d.LoadExisting([]*domain.Story{story("id1", "Old Story", "https://example.com/a?id=1")})

	unique, stats := d.Dedupe([]*domain.Story{
		story("id2", "Reshared Story", "https://example.com/a?utm_source=tw&id=1"),
	}, false)

	assert.Empty(t, unique)
	assert.Equal(t, 1, stats.ByURL)
}

func TestDeduplicator_RedirectURLSkipsURLCheck(t *testing.T) {
	d := New()
	d.LoadExisting([]*domain.Story{story("id1", "Old Story", "https://news.google.com/articles/CBMione")})

	// same redirect domain but different headline: URL hash must not apply
	unique, stats := d.Dedupe([]*domain.Story{
		story("id2", "Completely Different", "https://news.google.com/articles/CBMitwo"),
	}, false)

	assert.Len(t, unique, 1)
	assert.Zero(t, stats.ByURL)
}

func TestDeduplicator_ByHeadline(t *testing.T) {
	d := New()
	d.LoadExisting([]*domain.Story{story("id1", "Team Wins!", "https://example.com/a")})

	unique, stats := d.Dedupe([]*domain.Story{
		story("id2", "  team   wins  ", "https://other.com/b"),
	}, false)

	assert.Empty(t, unique)
	assert.Equal(t, 1, stats.ByHeadline)
}

func TestDeduplicator_WithinBatch(t *testing.T) {
	d := New()

	unique, stats := d.Dedupe([]*domain.Story{
		story("id1", "Team Wins", "https://example.com/a"),
		story("id1", "Team Wins", "https://example.com/a"),
		story("id2", "Other News", "https://example.com/b"),
	}, false)

	assert.Len(t, unique, 2)
	assert.Equal(t, 1, stats.ByID)
}

func TestDeduplicator_SemanticPlaceholderRemovesNothing(t *testing.T) {
	d := New()
	batch := []*domain.Story{
		story("id1", "Team Wins", "https://example.com/a"),
		story("id2", "Squad Victorious", "https://example.com/b"),
	}

	uniqueOff, statsOff := d.Dedupe(batch, false)
	d2 := New()
	uniqueOn, statsOn := d2.Dedupe(batch, true)

	assert.Equal(t, len(uniqueOff), len(uniqueOn), "semantic placeholder must not remove anything")
	assert.Zero(t, statsOff.BySemantic)
	assert.Zero(t, statsOn.BySemantic)
}
