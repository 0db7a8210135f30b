package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-pkgz/repeater/v2"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // pure Go SQLite driver

	"github.com/newsward/newsward/pkg/domain"
)

//go:embed schema.sql
var schema string

// Store persists story records in SQLite. Access is last-writer-wins, the
// supervising process guarantees a single active pipeline run.
type Store struct {
	conn *sqlx.DB
}

// Config represents storage configuration
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// New opens the database and initializes the schema
func New(cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		cfg.DSN = "file:newsward.db?cache=shared&mode=rwc"
	}

	conn, err := sqlx.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		conn.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		conn.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		conn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			return nil, fmt.Errorf("execute %s: %w", pragma, err)
		}
	}

	if _, err := conn.Exec(schema); err != nil {
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &Store{conn: conn}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.conn.Close()
}

// storyRow is the database representation of a story
type storyRow struct {
	ID               string `db:"story_id"`
	Title            string `db:"title"`
	URL              string `db:"url"`
	DecodedURL       string `db:"decoded_url"`
	RedirectURL      string `db:"redirect_url"`
	Date             string `db:"date"`
	Source           string `db:"source"`
	Byline           string `db:"byline"`
	Description      string `db:"description"`
	FullText         string `db:"full_text"`
	Summary          string `db:"summary"`
	FilterStatus     string `db:"filter_status"`
	FilterReason     string `db:"filter_reason"`
	ScrapingStatus   string `db:"scraping_status"`
	ScrapingReason   string `db:"scraping_reason"`
	RelevanceStatus  string `db:"relevance_status"`
	RelevanceReason  string `db:"relevance_reason"`
	PostStatus       string `db:"post_status"`
	PostReason       string `db:"post_reason"`
	ScrapingErrors   string `db:"scraping_errors"`
	ScraperUsed      string `db:"scraper_used"`
	DetectedLanguage string `db:"detected_language"`
	NeedsTranslation bool   `db:"needs_translation"`
	PostedAt         string `db:"posted_at"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func toRow(story *domain.Story) (*storyRow, error) {
	row := &storyRow{
		ID:               story.ID,
		Title:            story.Title,
		URL:              story.URL,
		DecodedURL:       story.DecodedURL,
		RedirectURL:      story.RedirectURL,
		Date:             story.Date,
		Source:           story.Source,
		Byline:           story.Byline,
		Description:      story.Description,
		FullText:         story.FullText,
		Summary:          story.Summary,
		FilterStatus:     string(story.FilterStatus),
		FilterReason:     story.FilterReason,
		ScrapingStatus:   string(story.ScrapingStatus),
		ScrapingReason:   story.ScrapingReason,
		RelevanceStatus:  string(story.RelevanceStatus),
		RelevanceReason:  story.RelevanceReason,
		PostStatus:       string(story.PostStatus),
		PostReason:       story.PostReason,
		ScraperUsed:      story.ScraperUsed,
		DetectedLanguage: story.DetectedLanguage,
		NeedsTranslation: story.NeedsTranslation,
		PostedAt:         story.PostedAt,
	}

	if len(story.ScrapingErrors) > 0 {
		data, err := json.Marshal(story.ScrapingErrors)
		if err != nil {
			return nil, fmt.Errorf("marshal scraping errors: %w", err)
		}
		row.ScrapingErrors = string(data)
	}
	return row, nil
}

func (r *storyRow) toDomain() (*domain.Story, error) {
	story := &domain.Story{
		ID:               r.ID,
		Title:            r.Title,
		URL:              r.URL,
		DecodedURL:       r.DecodedURL,
		RedirectURL:      r.RedirectURL,
		Date:             r.Date,
		Source:           r.Source,
		Byline:           r.Byline,
		Description:      r.Description,
		FullText:         r.FullText,
		Summary:          r.Summary,
		FilterStatus:     domain.FilterStatus(r.FilterStatus),
		FilterReason:     r.FilterReason,
		ScrapingStatus:   domain.ScrapingStatus(r.ScrapingStatus),
		ScrapingReason:   r.ScrapingReason,
		RelevanceStatus:  domain.RelevanceStatus(r.RelevanceStatus),
		RelevanceReason:  r.RelevanceReason,
		PostStatus:       domain.PostStatus(r.PostStatus),
		PostReason:       r.PostReason,
		ScraperUsed:      r.ScraperUsed,
		DetectedLanguage: r.DetectedLanguage,
		NeedsTranslation: r.NeedsTranslation,
		PostedAt:         r.PostedAt,
	}

	if r.ScrapingErrors != "" {
		if err := json.Unmarshal([]byte(r.ScrapingErrors), &story.ScrapingErrors); err != nil {
			return nil, fmt.Errorf("unmarshal scraping errors for %s: %w", r.ID, err)
		}
	}
	return story, nil
}

// Save creates or fully overwrites a story record keyed by its id
func (s *Store) Save(ctx context.Context, story *domain.Story) error {
	if story.ID == "" {
		return errors.New("story id is empty")
	}

	row, err := toRow(story)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO stories (
			story_id, title, url, decoded_url, redirect_url, date, source, byline,
			description, full_text, summary,
			filter_status, filter_reason, scraping_status, scraping_reason,
			relevance_status, relevance_reason, post_status, post_reason,
			scraping_errors, scraper_used, detected_language, needs_translation, posted_at
		) VALUES (
			:story_id, :title, :url, :decoded_url, :redirect_url, :date, :source, :byline,
			:description, :full_text, :summary,
			:filter_status, :filter_reason, :scraping_status, :scraping_reason,
			:relevance_status, :relevance_reason, :post_status, :post_reason,
			:scraping_errors, :scraper_used, :detected_language, :needs_translation, :posted_at
		)
		ON CONFLICT(story_id) DO UPDATE SET
			title = excluded.title,
			url = excluded.url,
			decoded_url = excluded.decoded_url,
			redirect_url = excluded.redirect_url,
			date = excluded.date,
			source = excluded.source,
			byline = excluded.byline,
			description = excluded.description,
			full_text = excluded.full_text,
			summary = excluded.summary,
			filter_status = excluded.filter_status,
			filter_reason = excluded.filter_reason,
			scraping_status = excluded.scraping_status,
			scraping_reason = excluded.scraping_reason,
			relevance_status = excluded.relevance_status,
			relevance_reason = excluded.relevance_reason,
			post_status = excluded.post_status,
			post_reason = excluded.post_reason,
			scraping_errors = excluded.scraping_errors,
			scraper_used = excluded.scraper_used,
			detected_language = excluded.detected_language,
			needs_translation = excluded.needs_translation,
			posted_at = excluded.posted_at,
			updated_at = CURRENT_TIMESTAMP
	`

	retrier := repeater.NewBackoff(5, 50*time.Millisecond, repeater.WithMaxDelay(2*time.Second))
	return retrier.Do(ctx, func() error {
		if _, err := s.conn.NamedExecContext(ctx, query, row); err != nil {
			if isLockError(err) {
				return err // retried by repeater
			}
			return &criticalError{err: fmt.Errorf("save story %s: %w", story.ID, err)}
		}
		return nil
	})
}

// Exists checks if a story with the given id is persisted
func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := s.conn.GetContext(ctx, &exists, "SELECT EXISTS(SELECT 1 FROM stories WHERE story_id = ?)", id)
	if err != nil {
		return false, fmt.Errorf("check story exists: %w", err)
	}
	return exists, nil
}

// Get retrieves a story by id, returns nil without error when not found
func (s *Store) Get(ctx context.Context, id string) (*domain.Story, error) {
	var row storyRow
	err := s.conn.GetContext(ctx, &row, "SELECT * FROM stories WHERE story_id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get story %s: %w", id, err)
	}
	return row.toDomain()
}

// GetAll retrieves every persisted story
func (s *Store) GetAll(ctx context.Context) ([]*domain.Story, error) {
	var rows []storyRow
	if err := s.conn.SelectContext(ctx, &rows, "SELECT * FROM stories ORDER BY created_at"); err != nil {
		return nil, fmt.Errorf("get all stories: %w", err)
	}
	return rowsToDomain(rows)
}

// statusColumns maps a status axis name to its column, keeping GetByStatus
// safe from arbitrary column injection
var statusColumns = map[string]string{
	"filter_status":    "filter_status",
	"scraping_status":  "scraping_status",
	"relevance_status": "relevance_status",
	"post_status":      "post_status",
}

// GetByStatus retrieves stories matching a value on one of the four status axes
func (s *Store) GetByStatus(ctx context.Context, axis, value string) ([]*domain.Story, error) {
	column, ok := statusColumns[axis]
	if !ok {
		return nil, fmt.Errorf("unknown status axis %q", axis)
	}

	var rows []storyRow
	query := fmt.Sprintf("SELECT * FROM stories WHERE %s = ? ORDER BY created_at", column)
	if err := s.conn.SelectContext(ctx, &rows, query, value); err != nil {
		return nil, fmt.Errorf("get stories by %s=%s: %w", axis, value, err)
	}
	return rowsToDomain(rows)
}

// GetByFilterStatus retrieves stories with the given filter status
func (s *Store) GetByFilterStatus(ctx context.Context, status domain.FilterStatus) ([]*domain.Story, error) {
	return s.GetByStatus(ctx, "filter_status", string(status))
}

// Delete removes a story, reports whether it existed. Maintenance operation,
// the pipeline itself never deletes.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	res, err := s.conn.ExecContext(ctx, "DELETE FROM stories WHERE story_id = ?", id)
	if err != nil {
		return false, fmt.Errorf("delete story %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// Count returns the total number of persisted stories
func (s *Store) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.conn.GetContext(ctx, &count, "SELECT count(*) FROM stories"); err != nil {
		return 0, fmt.Errorf("count stories: %w", err)
	}
	return count, nil
}

// LastSuccessfulPostTime returns the most recent posted_at among posted
// stories, zero time when nothing was posted yet
func (s *Store) LastSuccessfulPostTime(ctx context.Context) (time.Time, error) {
	var postedAt sql.NullString
	err := s.conn.GetContext(ctx, &postedAt,
		"SELECT max(posted_at) FROM stories WHERE post_status = ? AND posted_at != ''", string(domain.PostPosted))
	if err != nil {
		return time.Time{}, fmt.Errorf("last successful post time: %w", err)
	}
	if !postedAt.Valid || postedAt.String == "" {
		return time.Time{}, nil
	}

	ts, err := time.Parse(time.RFC3339, postedAt.String)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse posted_at %q: %w", postedAt.String, err)
	}
	return ts, nil
}

// PostableStories returns stories eligible for publishing: summarized,
// passed filtering, not yet posted and not found irrelevant
func (s *Store) PostableStories(ctx context.Context) ([]*domain.Story, error) {
	query := `
		SELECT * FROM stories
		WHERE summary != ''
		  AND filter_status = ?
		  AND post_status != ?
		  AND (relevance_status = '' OR relevance_status = ?)
		ORDER BY created_at
	`
	var rows []storyRow
	err := s.conn.SelectContext(ctx, &rows, query,
		string(domain.FilterPassed), string(domain.PostPosted), string(domain.RelevanceRelevant))
	if err != nil {
		return nil, fmt.Errorf("get postable stories: %w", err)
	}
	return rowsToDomain(rows)
}

// Merge combines a re-ingested candidate with its stored record: content
// and processing fields already earned by previous runs are preserved,
// only the filter axis is reset so admission rules are re-applied.
func Merge(stored, candidate *domain.Story) *domain.Story {
	merged := *stored
	merged.FilterStatus = candidate.FilterStatus
	merged.FilterReason = candidate.FilterReason

	// fresher feed metadata wins when the stored record has none
	if merged.Date == "" {
		merged.Date = candidate.Date
	}
	if merged.Description == "" {
		merged.Description = candidate.Description
	}
	return &merged
}

func rowsToDomain(rows []storyRow) ([]*domain.Story, error) {
	stories := make([]*domain.Story, 0, len(rows))
	for i := range rows {
		story, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		stories = append(stories, story)
	}
	return stories, nil
}

// criticalError wraps an error to signal repeater to stop retrying
type criticalError struct {
	err error
}

func (e *criticalError) Error() string {
	return e.err.Error()
}

// isLockError checks if an error is a SQLite lock/busy error
func isLockError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "SQLITE_BUSY") ||
		strings.Contains(errStr, "database is locked") ||
		strings.Contains(errStr, "database table is locked")
}
