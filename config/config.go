package config

import (
	"fmt"
	"net/url"
	"time"
)

// PageSize is the number of entries the origin renders per listing page.
const PageSize = 15

// Crawl modes.
const (
	ModeIncremental = "incremental"
	ModeRefresh     = "refresh"
)

// Config holds scraper configuration.
type Config struct {
	BaseURL          string
	VerificationHost string
	BlockMarkers     []string
	UserAgent        string
	Referer          string

	MaxPages    int
	Workers     int
	Timeout     time.Duration
	MaxAttempts int

	RetryBackoff    time.Duration
	RetryBackoffMax time.Duration

	// Pre-request pacing: uniform in [MinDelay, BaseDelay] plus AttemptStep
	// per retry attempt, capped at MaxDelay. CrawlDelay is a hard floor
	// between any two requests.
	MinDelay    time.Duration
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	AttemptStep time.Duration
	CrawlDelay  time.Duration

	InterPageMin time.Duration
	InterPageMax time.Duration

	EnrichDetails  bool
	DetailDelayMin time.Duration
	DetailDelayMax time.Duration

	DedupeMaxSize             int
	EarlyExitThreshold        int
	MaxConsecutiveFailedPages int
	Mode                      string

	DatabasePath string
	OutputFile   string
	OutputFormat string // html, csv, json, xlsx or all
	MetricsAddr  string
	LogFile      string
	Verbose      bool

	// DebugDir, when set, receives a copy of every fetched listing page.
	DebugDir string
}

// DefaultConfig returns conservative defaults honouring the origin's crawl delay.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:          "https://book.douban.com/people",
		VerificationHost: "sec.douban.com",
		BlockMarkers:     []string{"禁止访问"},
		UserAgent:        "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36",
		Referer:          "https://book.douban.com/",

		MaxPages:    0,
		Workers:     5,
		Timeout:     30 * time.Second,
		MaxAttempts: 5,

		RetryBackoff:    5 * time.Second,
		RetryBackoffMax: 20 * time.Second,

		MinDelay:    3 * time.Second,
		BaseDelay:   5 * time.Second,
		MaxDelay:    20 * time.Second,
		AttemptStep: 500 * time.Millisecond,
		CrawlDelay:  3 * time.Second,

		InterPageMin: 2 * time.Second,
		InterPageMax: 5 * time.Second,

		EnrichDetails:  false,
		DetailDelayMin: 5 * time.Second,
		DetailDelayMax: 10 * time.Second,

		DedupeMaxSize:             10000,
		EarlyExitThreshold:        3,
		MaxConsecutiveFailedPages: 5,
		Mode:                      ModeIncremental,

		DatabasePath: "shelf.db",
		OutputFile:   "output/collection.html",
		OutputFormat: "html",
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base URL cannot be empty")
	}

	parsedURL, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("base URL must include a host")
	}

	if c.MaxPages < 0 {
		return fmt.Errorf("max pages cannot be negative")
	}
	if c.Workers <= 0 || c.Workers > 5 {
		return fmt.Errorf("workers must be between 1 and 5")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("max attempts must be positive")
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("retry backoff cannot be negative")
	}
	if c.RetryBackoffMax < 0 {
		return fmt.Errorf("retry backoff max cannot be negative")
	}
	if c.RetryBackoffMax > 0 && c.RetryBackoff > c.RetryBackoffMax {
		return fmt.Errorf("retry backoff (%s) cannot exceed retry backoff max (%s)", c.RetryBackoff, c.RetryBackoffMax)
	}
	if c.MinDelay < 0 || c.BaseDelay < 0 || c.MaxDelay < 0 || c.AttemptStep < 0 || c.CrawlDelay < 0 {
		return fmt.Errorf("pacing delays cannot be negative")
	}
	if c.MinDelay > c.BaseDelay {
		return fmt.Errorf("min delay (%s) cannot exceed base delay (%s)", c.MinDelay, c.BaseDelay)
	}
	if c.InterPageMin < 0 || c.InterPageMin > c.InterPageMax {
		return fmt.Errorf("inter-page delay window is invalid")
	}
	if c.DetailDelayMin < 0 || c.DetailDelayMin > c.DetailDelayMax {
		return fmt.Errorf("detail delay window is invalid")
	}
	if c.DedupeMaxSize <= 0 {
		return fmt.Errorf("dedupe max size must be positive")
	}
	if c.EarlyExitThreshold <= 0 {
		return fmt.Errorf("early exit threshold must be positive")
	}
	if c.MaxConsecutiveFailedPages <= 0 {
		return fmt.Errorf("max consecutive failed pages must be positive")
	}
	if c.Mode != ModeIncremental && c.Mode != ModeRefresh {
		return fmt.Errorf("mode must be incremental or refresh")
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.OutputFile == "" {
		return fmt.Errorf("output file cannot be empty")
	}
	switch c.OutputFormat {
	case "html", "csv", "json", "xlsx", "all":
	default:
		return fmt.Errorf("output format must be html, csv, json, xlsx, or all")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}

	return nil
}

// PageURL builds the listing URL for a zero-based page index.
func (c *Config) PageURL(ownerID string, page int) string {
	return fmt.Sprintf("%s/%s/collect?start=%d", c.BaseURL, url.PathEscape(ownerID), page*PageSize)
}
