package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// LoadEnvFiles loads KEY=VALUE pairs from the given files into the process
// environment. Missing files are ignored; variables already set win.
func LoadEnvFiles(paths ...string) error {
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load env file %q: %w", path, err)
		}
	}
	return nil
}

// EnvString returns the trimmed value of key when it is set and non-empty.
func EnvString(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	return value, true
}

// EnvInt parses key as an integer.
func EnvInt(key string) (int, bool, error) {
	raw, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return value, true, nil
}

// EnvDuration parses key as a Go duration such as "750ms" or "5s".
func EnvDuration(key string) (time.Duration, bool, error) {
	raw, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return value, true, nil
}

// EnvBool parses key with strconv.ParseBool.
func EnvBool(key string) (bool, bool, error) {
	raw, ok := EnvString(key)
	if !ok {
		return false, false, nil
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false, fmt.Errorf("%s: %w", key, err)
	}
	return value, true, nil
}

// ApplyEnv overlays SHELF_* environment variables onto c.
func (c *Config) ApplyEnv() error {
	if v, ok := EnvString("SHELF_BASE_URL"); ok {
		c.BaseURL = v
	}
	if v, ok := EnvString("SHELF_DB"); ok {
		c.DatabasePath = v
	}
	if v, ok := EnvString("SHELF_OUTPUT"); ok {
		c.OutputFile = v
	}
	if v, ok := EnvString("SHELF_FORMAT"); ok {
		c.OutputFormat = strings.ToLower(v)
	}
	if v, ok := EnvString("SHELF_METRICS_ADDR"); ok {
		c.MetricsAddr = v
	}
	if v, ok := EnvString("SHELF_LOG_FILE"); ok {
		c.LogFile = v
	}
	if v, ok := EnvString("SHELF_DEBUG_DIR"); ok {
		c.DebugDir = v
	}
	if v, ok := EnvString("SHELF_MODE"); ok {
		c.Mode = strings.ToLower(v)
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"SHELF_PAGES", &c.MaxPages},
		{"SHELF_WORKERS", &c.Workers},
		{"SHELF_MAX_ATTEMPTS", &c.MaxAttempts},
	}
	for _, item := range ints {
		value, ok, err := EnvInt(item.key)
		if err != nil {
			return err
		}
		if ok {
			*item.dst = value
		}
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"SHELF_TIMEOUT", &c.Timeout},
		{"SHELF_MIN_DELAY", &c.MinDelay},
		{"SHELF_BASE_DELAY", &c.BaseDelay},
		{"SHELF_CRAWL_DELAY", &c.CrawlDelay},
		{"SHELF_RETRY_BACKOFF", &c.RetryBackoff},
		{"SHELF_RETRY_BACKOFF_MAX", &c.RetryBackoffMax},
	}
	for _, item := range durations {
		value, ok, err := EnvDuration(item.key)
		if err != nil {
			return err
		}
		if ok {
			*item.dst = value
		}
	}

	if v, ok, err := EnvBool("SHELF_ENRICH"); err != nil {
		return err
	} else if ok {
		c.EnrichDetails = v
	}
	return nil
}
