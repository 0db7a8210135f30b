package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/newsward/newsward/pkg/feed"
	"github.com/newsward/newsward/pkg/filter"
	"github.com/newsward/newsward/pkg/publisher"
	"github.com/newsward/newsward/pkg/relevance"
	"github.com/newsward/newsward/pkg/scraper"
	"github.com/newsward/newsward/pkg/summary"
)

//go:generate go run ../../cmd/schema/main.go schema.json

// Config holds the application configuration
type Config struct {
	Feed      feed.Config      `yaml:"feed" json:"feed" jsonschema:"description=News feed search configuration"`
	Filter    filter.Config    `yaml:"filter" json:"filter" jsonschema:"description=Source and keyword admission rules"`
	Relevance relevance.Config `yaml:"relevance" json:"relevance" jsonschema:"description=Relevance keyword configuration"`
	Scraper   scraper.Config   `yaml:"scraper" json:"scraper" jsonschema:"description=Article content extraction configuration"`
	Summary   summary.Config   `yaml:"summary" json:"summary" jsonschema:"description=Summarization configuration"`
	Publisher publisher.Config `yaml:"publisher" json:"publisher" jsonschema:"description=Bluesky publishing configuration"`

	Database struct {
		DSN             string `yaml:"dsn" json:"dsn" jsonschema:"default=file:newsward.db?cache=shared&mode=rwc,description=Database connection string"`
		MaxOpenConns    int    `yaml:"max_open_conns" json:"max_open_conns" jsonschema:"default=10,description=Maximum number of open connections"`
		MaxIdleConns    int    `yaml:"max_idle_conns" json:"max_idle_conns" jsonschema:"default=5,description=Maximum number of idle connections"`
		ConnMaxLifetime int    `yaml:"conn_max_lifetime" json:"conn_max_lifetime" jsonschema:"default=3600,description=Connection maximum lifetime in seconds"`
	} `yaml:"database" json:"database" jsonschema:"description=Database configuration"`

	Schedule struct {
		RunInterval time.Duration `yaml:"run_interval" json:"run_interval" jsonschema:"default=30m,description=Time between pipeline runs"`
	} `yaml:"schedule" json:"schedule" jsonschema:"description=Scheduler configuration"`
}

// Load reads configuration from a YAML file with environment expansion
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // file path comes from CLI flag
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Feed.LookbackDays == 0 {
		cfg.Feed.LookbackDays = 1
	}
	if cfg.Feed.Language == "" {
		cfg.Feed.Language = "en"
	}
	if cfg.Feed.Country == "" {
		cfg.Feed.Country = "US"
	}
	if cfg.Feed.Timeout == 0 {
		cfg.Feed.Timeout = 30 * time.Second
	}

	if cfg.Relevance.Strategy == "" {
		cfg.Relevance.Strategy = "substring"
	}

	if cfg.Scraper.Timeout == 0 {
		cfg.Scraper.Timeout = 30 * time.Second
	}
	if cfg.Scraper.MaxRetries == 0 {
		cfg.Scraper.MaxRetries = 3
	}
	if cfg.Scraper.RequestDelay == 0 {
		cfg.Scraper.RequestDelay = time.Second
	}
	if cfg.Scraper.MinTextLength == 0 {
		cfg.Scraper.MinTextLength = 500
	}
	if cfg.Scraper.TargetLanguage == "" {
		cfg.Scraper.TargetLanguage = "en"
	}

	if cfg.Summary.Model == "" {
		cfg.Summary.Model = "gpt-4o-mini"
	}
	if cfg.Summary.MaxLength == 0 {
		cfg.Summary.MaxLength = 300
	}
	if cfg.Summary.RetryCount == 0 {
		cfg.Summary.RetryCount = 2
	}
	if cfg.Summary.Temperature == 0 {
		cfg.Summary.Temperature = 0.3
	}

	if cfg.Publisher.PostInterval == 0 {
		cfg.Publisher.PostInterval = 30 * time.Minute
	}

	if cfg.Database.DSN == "" {
		cfg.Database.DSN = "file:newsward.db?cache=shared&mode=rwc"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 10
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 3600
	}

	if cfg.Schedule.RunInterval == 0 {
		cfg.Schedule.RunInterval = 30 * time.Minute
	}
}

// validate checks configuration for correctness
func validate(cfg *Config) error {
	if cfg.Feed.Query == "" {
		return fmt.Errorf("feed.query is required")
	}
	if cfg.Feed.LookbackDays < 1 {
		return fmt.Errorf("feed.lookback_days must be at least 1")
	}
	if cfg.Scraper.Timeout < time.Second {
		return fmt.Errorf("scraper.timeout must be at least 1 second")
	}
	if cfg.Scraper.MinTextLength < 0 {
		return fmt.Errorf("scraper.min_text_length must be non-negative")
	}
	if cfg.Summary.MaxLength < 50 {
		return fmt.Errorf("summary.max_length must be at least 50")
	}
	if cfg.Summary.Temperature < 0 || cfg.Summary.Temperature > 2 {
		return fmt.Errorf("summary.temperature must be between 0 and 2")
	}
	if cfg.Publisher.PostInterval < time.Minute {
		return fmt.Errorf("publisher.post_interval must be at least 1 minute")
	}
	return nil
}

// Secrets returns values that must be masked in logs
func (c *Config) Secrets() []string {
	var secrets []string
	if c.Summary.APIKey != "" {
		secrets = append(secrets, c.Summary.APIKey)
	}
	if c.Publisher.AppPassword != "" {
		secrets = append(secrets, c.Publisher.AppPassword)
	}
	return secrets
}
