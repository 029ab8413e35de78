package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name: "too many workers",
			mutate: func(cfg *Config) {
				cfg.Workers = 6
			},
			wantErr: "workers",
		},
		{
			name: "zero workers",
			mutate: func(cfg *Config) {
				cfg.Workers = 0
			},
			wantErr: "workers",
		},
		{
			name: "negative max pages",
			mutate: func(cfg *Config) {
				cfg.MaxPages = -1
			},
			wantErr: "max pages",
		},
		{
			name: "empty base url",
			mutate: func(cfg *Config) {
				cfg.BaseURL = ""
			},
			wantErr: "base URL",
		},
		{
			name: "invalid url format",
			mutate: func(cfg *Config) {
				cfg.BaseURL = "http://"
			},
			wantErr: "base URL",
		},
		{
			name: "negative timeout",
			mutate: func(cfg *Config) {
				cfg.Timeout = -1 * time.Second
			},
			wantErr: "timeout",
		},
		{
			name: "zero attempts",
			mutate: func(cfg *Config) {
				cfg.MaxAttempts = 0
			},
			wantErr: "max attempts",
		},
		{
			name: "backoff above cap",
			mutate: func(cfg *Config) {
				cfg.RetryBackoff = time.Minute
			},
			wantErr: "retry backoff",
		},
		{
			name: "min delay above base",
			mutate: func(cfg *Config) {
				cfg.MinDelay = 10 * time.Second
			},
			wantErr: "min delay",
		},
		{
			name: "unknown mode",
			mutate: func(cfg *Config) {
				cfg.Mode = "append"
			},
			wantErr: "mode",
		},
		{
			name: "unknown format",
			mutate: func(cfg *Config) {
				cfg.OutputFormat = "pdf"
			},
			wantErr: "output format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate, got %v", err)
	}
}

func TestPageURL(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BaseURL = "http://example.test/people"

	tests := []struct {
		page int
		want string
	}{
		{page: 0, want: "http://example.test/people/reader/collect?start=0"},
		{page: 1, want: "http://example.test/people/reader/collect?start=15"},
		{page: 4, want: "http://example.test/people/reader/collect?start=60"},
	}
	for _, tt := range tests {
		if got := cfg.PageURL("reader", tt.page); got != tt.want {
			t.Errorf("PageURL(%d) = %q, want %q", tt.page, got, tt.want)
		}
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("SHELF_PAGES", "7")
	t.Setenv("SHELF_WORKERS", "3")
	t.Setenv("SHELF_CRAWL_DELAY", "750ms")
	t.Setenv("SHELF_MODE", "REFRESH")
	t.Setenv("SHELF_ENRICH", "true")
	t.Setenv("SHELF_DEBUG_DIR", "pages")

	cfg := DefaultConfig()
	if err := cfg.ApplyEnv(); err != nil {
		t.Fatalf("apply env: %v", err)
	}
	if cfg.MaxPages != 7 || cfg.Workers != 3 {
		t.Fatalf("pages/workers = %d/%d, want 7/3", cfg.MaxPages, cfg.Workers)
	}
	if cfg.CrawlDelay != 750*time.Millisecond {
		t.Fatalf("crawl delay = %v, want 750ms", cfg.CrawlDelay)
	}
	if cfg.Mode != ModeRefresh {
		t.Fatalf("mode = %q, want %q", cfg.Mode, ModeRefresh)
	}
	if !cfg.EnrichDetails {
		t.Fatalf("expected enrich details enabled")
	}
	if cfg.DebugDir != "pages" {
		t.Fatalf("debug dir = %q, want pages", cfg.DebugDir)
	}
}

func TestApplyEnvRejectsBadInt(t *testing.T) {
	t.Setenv("SHELF_PAGES", "many")
	cfg := DefaultConfig()
	if err := cfg.ApplyEnv(); err == nil || !strings.Contains(err.Error(), "SHELF_PAGES") {
		t.Fatalf("expected SHELF_PAGES error, got %v", err)
	}
}

func TestLoadEnvFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("SHELF_TEST_COOKIE=bid=abc\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("SHELF_TEST_COOKIE", "")
	os.Unsetenv("SHELF_TEST_COOKIE")

	if err := LoadEnvFiles(filepath.Join(dir, "missing.env"), path); err != nil {
		t.Fatalf("load env files: %v", err)
	}
	if got, ok := EnvString("SHELF_TEST_COOKIE"); !ok || got != "bid=abc" {
		t.Fatalf("cookie = %q (%v), want bid=abc", got, ok)
	}
}
