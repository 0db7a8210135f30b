package domain

import (
	"crypto/md5" //nolint:gosec // content addressing, not security
	"encoding/hex"
	"fmt"
)

// FilterStatus tracks the admission filter outcome for a story
type FilterStatus string

// filter statuses
const (
	FilterPending  FilterStatus = "pending"
	FilterPassed   FilterStatus = "passed"
	FilterRejected FilterStatus = "rejected"
	FilterError    FilterStatus = "error"
)

// ScrapingStatus tracks the content extraction outcome for a story
type ScrapingStatus string

// scraping statuses
const (
	ScrapingPending ScrapingStatus = "pending"
	ScrapingSuccess ScrapingStatus = "success"
	ScrapingFailed  ScrapingStatus = "failed"
	ScrapingSkipped ScrapingStatus = "skipped"
)

// RelevanceStatus tracks the relevance check outcome for a story
type RelevanceStatus string

// relevance statuses
const (
	RelevancePending     RelevanceStatus = "pending"
	RelevanceRelevant    RelevanceStatus = "relevant"
	RelevanceNotRelevant RelevanceStatus = "not_relevant"
	RelevanceSkipped     RelevanceStatus = "skipped"
)

// PostStatus tracks the publishing outcome for a story
type PostStatus string

// post statuses
const (
	PostPending PostStatus = "pending"
	PostPosted  PostStatus = "posted"
	PostFailed  PostStatus = "failed"
	PostSkipped PostStatus = "skipped"
)

// ParseFilterStatus converts a string to FilterStatus
func ParseFilterStatus(s string) (FilterStatus, error) {
	switch FilterStatus(s) {
	case FilterPending, FilterPassed, FilterRejected, FilterError:
		return FilterStatus(s), nil
	}
	return "", fmt.Errorf("unknown filter status %q", s)
}

// ParseScrapingStatus converts a string to ScrapingStatus
func ParseScrapingStatus(s string) (ScrapingStatus, error) {
	switch ScrapingStatus(s) {
	case ScrapingPending, ScrapingSuccess, ScrapingFailed, ScrapingSkipped:
		return ScrapingStatus(s), nil
	}
	return "", fmt.Errorf("unknown scraping status %q", s)
}

// ParseRelevanceStatus converts a string to RelevanceStatus
func ParseRelevanceStatus(s string) (RelevanceStatus, error) {
	switch RelevanceStatus(s) {
	case RelevancePending, RelevanceRelevant, RelevanceNotRelevant, RelevanceSkipped:
		return RelevanceStatus(s), nil
	}
	return "", fmt.Errorf("unknown relevance status %q", s)
}

// ParsePostStatus converts a string to PostStatus
func ParsePostStatus(s string) (PostStatus, error) {
	switch PostStatus(s) {
	case PostPending, PostPosted, PostFailed, PostSkipped:
		return PostStatus(s), nil
	}
	return "", fmt.Errorf("unknown post status %q", s)
}

// Story is the unit of work flowing through the pipeline. Four independent
// status axes record what each stage did to it, so a partially processed
// story can be picked up again on the next run without redoing work.
type Story struct {
	ID          string
	Title       string
	URL         string
	DecodedURL  string // direct article URL after redirect resolution
	RedirectURL string // original indirect feed URL, kept for diagnostics
	Date        string
	Source      string
	Byline      string
	Description string
	FullText    string
	Summary     string

	FilterStatus    FilterStatus
	FilterReason    string
	ScrapingStatus  ScrapingStatus
	ScrapingReason  string
	RelevanceStatus RelevanceStatus
	RelevanceReason string
	PostStatus      PostStatus
	PostReason      string

	ScrapingErrors   map[string]string // strategy name -> error message
	ScraperUsed      string
	DetectedLanguage string
	NeedsTranslation bool
	PostedAt         string // RFC3339, set only on successful post
}

// StoryID derives the stable story identifier from title and source.
// Redirect URLs are volatile between fetches, so they never participate.
func StoryID(title, source string) string {
	sum := md5.Sum([]byte(title + ":" + source)) //nolint:gosec // content addressing
	return hex.EncodeToString(sum[:])
}

// ArticleURL returns the best URL for reading the article, preferring the
// resolved direct URL over the feed one.
func (s *Story) ArticleURL() string {
	if s.DecodedURL != "" {
		return s.DecodedURL
	}
	return s.URL
}

// Postable reports whether the story satisfies all publish-eligibility
// rules: it has a summary, passed filtering, was not posted yet, and was
// not found irrelevant.
func (s *Story) Postable() bool {
	if s.Summary == "" {
		return false
	}
	if s.FilterStatus != FilterPassed {
		return false
	}
	if s.PostStatus == PostPosted {
		return false
	}
	if s.RelevanceStatus != "" && s.RelevanceStatus != RelevanceRelevant {
		return false
	}
	return true
}
