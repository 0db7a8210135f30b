package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/go-pkgz/lgr"
	"github.com/jessevdk/go-flags"

	"github.com/newsward/newsward/pkg/config"
	"github.com/newsward/newsward/pkg/feed"
	"github.com/newsward/newsward/pkg/filter"
	"github.com/newsward/newsward/pkg/pipeline"
	"github.com/newsward/newsward/pkg/publisher"
	"github.com/newsward/newsward/pkg/relevance"
	"github.com/newsward/newsward/pkg/scraper"
	"github.com/newsward/newsward/pkg/store"
	"github.com/newsward/newsward/pkg/summary"
)

// Opts with all CLI options
type Opts struct {
	Config   string        `short:"c" long:"config" env:"CONFIG" default:"config.yml" description:"config file path"`
	Once     bool          `long:"once" description:"run a single batch and exit"`
	Interval time.Duration `long:"interval" env:"INTERVAL" description:"time between runs, overrides config"`

	Debug   bool `long:"dbg" env:"DEBUG" description:"debug mode"`
	Version bool `short:"V" long:"version" description:"show version info"`
	NoColor bool `long:"no-color" env:"NO_COLOR" description:"disable color output"`
}

var revision = "unknown"

func main() {
	var opts Opts
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	if opts.Version {
		fmt.Printf("Version: %s\nGolang: %s\n", revision, runtime.Version())
		os.Exit(0)
	}

	cfg, err := config.Load(opts.Config)
	if err != nil {
		setupLog(opts.Debug, opts.NoColor)
		log.Printf("[ERROR] failed to load config: %v", err)
		os.Exit(1)
	}

	setupLog(opts.Debug, opts.NoColor, cfg.Secrets()...)
	log.Printf("[INFO] starting newsward version %s", revision)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan
		log.Print("[INFO] termination signal received")
		cancel()
	}()

	if err := run(ctx, cfg, opts); err != nil {
		log.Printf("[ERROR] %v", err)
		os.Exit(1)
	}
	log.Print("[INFO] shutdown complete")
}

// run assembles the pipeline and executes it once or on a ticker
func run(ctx context.Context, cfg *config.Config, opts Opts) error {
	st, err := store.New(store.Config{
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: time.Duration(cfg.Database.ConnMaxLifetime) * time.Second,
	})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	bluesky := publisher.NewBlueskyClient(cfg.Publisher.Handle, cfg.Publisher.AppPassword)

	p := pipeline.New(
		feed.NewClient(cfg.Feed),
		feed.NewResolver(cfg.Scraper.Timeout, cfg.Scraper.UserAgent),
		scraper.New(cfg.Scraper),
		summary.New(cfg.Summary),
		publisher.New(bluesky, cfg.Publisher.PostInterval),
		st,
		filter.New(cfg.Filter),
		relevance.New(cfg.Relevance),
	)

	if opts.Once {
		return p.Run(ctx)
	}

	interval := cfg.Schedule.RunInterval
	if opts.Interval > 0 {
		interval = opts.Interval
	}
	log.Printf("[INFO] running every %s", interval)

	// first run right away, then on the ticker; shutdown lands between runs
	if err := p.Run(ctx); err != nil {
		lgr.Printf("[WARN] pipeline run failed: %v", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := p.Run(ctx); err != nil {
				lgr.Printf("[WARN] pipeline run failed: %v", err)
			}
		}
	}
}

func setupLog(dbg, noColor bool, secs ...string) {
	logOpts := []lgr.Option{lgr.Msec, lgr.LevelBraces}
	if dbg {
		logOpts = []lgr.Option{lgr.Debug, lgr.CallerFile, lgr.CallerFunc, lgr.Msec, lgr.LevelBraces, lgr.StackTraceOnError}
	}

	if !noColor {
		colorizer := lgr.Mapper{
			ErrorFunc:  func(s string) string { return color.New(color.FgHiRed).Sprint(s) },
			WarnFunc:   func(s string) string { return color.New(color.FgRed).Sprint(s) },
			InfoFunc:   func(s string) string { return color.New(color.FgYellow).Sprint(s) },
			DebugFunc:  func(s string) string { return color.New(color.FgWhite).Sprint(s) },
			CallerFunc: func(s string) string { return color.New(color.FgBlue).Sprint(s) },
			TimeFunc:   func(s string) string { return color.New(color.FgCyan).Sprint(s) },
		}
		logOpts = append(logOpts, lgr.Map(colorizer))
	}

	if len(secs) > 0 {
		logOpts = append(logOpts, lgr.Secret(secs...))
	}
	lgr.SetupStdLogger(logOpts...)
	lgr.Setup(logOpts...)
}
