package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/aluiziolira/go-scrape-shelf/config"
	"github.com/aluiziolira/go-scrape-shelf/models"
	"github.com/aluiziolira/go-scrape-shelf/parser"
	"github.com/aluiziolira/go-scrape-shelf/report"
	"github.com/aluiziolira/go-scrape-shelf/scraper"
	"github.com/aluiziolira/go-scrape-shelf/store"
)

func main() {
	if err := config.LoadEnvFiles(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	cfg := config.DefaultConfig()
	if err := cfg.ApplyEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid environment: %v\n", err)
		os.Exit(1)
	}
	cookieDefault, _ := config.EnvString("SHELF_COOKIE")
	ownerDefault, _ := config.EnvString("SHELF_OWNER")

	ownerID := flag.String("owner", ownerDefault, "Owner id whose collection is crawled")
	displayName := flag.String("name", "", "Display name stored for the owner")
	cookie := flag.String("cookie", cookieDefault, "Session cookie sent with every request")
	maxPages := flag.Int("pages", cfg.MaxPages, "Maximum listing pages to crawl (0 = until the listing ends)")
	workers := flag.Int("workers", cfg.Workers, "Extraction workers per page (1-5)")
	mode := flag.String("mode", cfg.Mode, "Crawl mode: incremental or refresh")
	startDate := flag.String("start", "", "Only keep entries reviewed on or after this date (YYYY[-MM[-DD]])")
	endDate := flag.String("end", "", "Only keep entries reviewed on or before this date (YYYY[-MM[-DD]])")
	maxAttempts := flag.Int("max-attempts", cfg.MaxAttempts, "Attempts per listing page")
	enrich := flag.Bool("enrich", cfg.EnrichDetails, "Fetch detail pages for entries missing author or publish date")
	dbPath := flag.String("db", cfg.DatabasePath, "SQLite database path")
	outputFile := flag.String("output", cfg.OutputFile, "Report file path")
	outputFormat := flag.String("format", cfg.OutputFormat, "Report format: html, csv, json, xlsx, or all")
	exportOnly := flag.Bool("export", false, "Skip crawling and only render the stored collection")
	noReport := flag.Bool("no-report", false, "Do not render a report after crawling")
	baseURL := flag.String("base-url", cfg.BaseURL, "Base URL of the people listing")
	metricsAddr := flag.String("metrics-addr", cfg.MetricsAddr, "Prometheus metrics listen address (e.g. :9090)")
	logFile := flag.String("log-file", cfg.LogFile, "Also write JSON logs to this rotated file")
	debugDir := flag.String("debug-dir", cfg.DebugDir, "Save every fetched listing page into this directory")
	rating := flag.String("rating", "", "Only render records with this rating (e.g. 5星 or 未评分)")
	verbose := flag.Bool("v", false, "Enable verbose logging")

	flag.Parse()

	cfg.BaseURL = *baseURL
	cfg.MaxPages = *maxPages
	cfg.Workers = *workers
	cfg.Mode = strings.ToLower(*mode)
	cfg.MaxAttempts = *maxAttempts
	cfg.EnrichDetails = *enrich
	cfg.DatabasePath = *dbPath
	cfg.OutputFile = *outputFile
	cfg.OutputFormat = strings.ToLower(*outputFormat)
	cfg.MetricsAddr = *metricsAddr
	cfg.LogFile = *logFile
	cfg.DebugDir = *debugDir
	cfg.Verbose = *verbose

	logger, level := newLogger(cfg.Verbose, cfg.LogFile)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}
	if *ownerID == "" {
		slog.Error("an owner id is required (-owner or SHELF_OWNER)")
		os.Exit(1)
	}

	var rng *models.DateRange
	if *startDate != "" || *endDate != "" {
		if *startDate == "" || *endDate == "" {
			slog.Error("date range needs both -start and -end")
			os.Exit(1)
		}
		parsed, err := parser.ParseRange(*startDate, *endDate)
		if err != nil {
			slog.Error("invalid date range", slog.Any("error", err))
			os.Exit(1)
		}
		rng = &parsed
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg.DatabasePath)
	if err != nil {
		slog.Error("opening store", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Error("close store", slog.Any("error", err))
		}
	}()

	if *exportOnly {
		if err := exportReport(ctx, st, cfg, *ownerID, *rating, rng); err != nil {
			slog.Error("export failed", slog.Any("error", err))
			os.Exit(1)
		}
		return
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received, stopping after the current page")
	}()

	metrics := scraper.NewMetrics()
	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		metricsServer = &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		slog.Info("metrics server enabled", slog.String("addr", cfg.MetricsAddr))
	}

	var observer scraper.Observer = scraper.SlogObserver{Logger: logger}
	if isTerminal(os.Stderr) {
		observer = scraper.MultiObserver{observer, &progressLine{w: os.Stderr}}
	}

	fetcher := scraper.NewFetcher(cfg, metrics)
	s, err := scraper.NewScraper(cfg, st, fetcher, observer, metrics)
	if err != nil {
		slog.Error("initialising scraper", slog.Any("error", err))
		os.Exit(1)
	}

	slog.Info("starting crawl",
		slog.String("owner_id", *ownerID),
		slog.String("mode", cfg.Mode),
		slog.Int("pages", cfg.MaxPages),
		slog.Int("workers", cfg.Workers),
		slog.Bool("enrich", cfg.EnrichDetails),
	)

	startTime := time.Now()
	result, err := s.Run(ctx, scraper.RunRequest{
		OwnerID:     *ownerID,
		DisplayName: *displayName,
		Credential:  scraper.Credential{Cookie: *cookie},
		Range:       rng,
	})
	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", slog.Any("error", err))
		}
		cancel()
	}
	if result == nil {
		slog.Error("crawl failed", slog.Any("error", err))
		os.Exit(1)
	}
	if err != nil {
		slog.Error("crawl finished with persistence errors", slog.Any("error", err))
	}

	printSummary(result, time.Since(startTime))

	if !*noReport {
		// Rendering reads the store, so a cancelled crawl still gets its report.
		if err := exportReport(context.WithoutCancel(ctx), st, cfg, *ownerID, *rating, rng); err != nil {
			slog.Error("export failed", slog.Any("error", err))
			os.Exit(1)
		}
	}

	if result.Session.Status != models.StatusSuccess {
		os.Exit(2)
	}
}

func exportReport(ctx context.Context, st *store.Store, cfg *config.Config, ownerID, rating string, rng *models.DateRange) error {
	var (
		snap *models.Snapshot
		err  error
	)
	if rating != "" {
		snap, err = st.ExportByRating(ctx, ownerID, rating, rng)
	} else {
		snap, err = st.Export(ctx, ownerID, rng)
	}
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	renderer, err := report.NewRenderer(cfg.OutputFormat, cfg.OutputFile)
	if err != nil {
		return err
	}
	if err := renderer.Render(snap); err != nil {
		return fmt.Errorf("render %s: %w", cfg.OutputFormat, err)
	}
	slog.Info("report written",
		slog.String("path", renderer.Path()),
		slog.Int("books", len(snap.Books)),
	)
	return nil
}

// progressLine redraws one status line with the crawl's percentage.
type progressLine struct {
	w      io.Writer
	status string
	pct    int
}

func (p *progressLine) Log(string) {}

func (p *progressLine) Status(text string) {
	p.status = text
	p.draw()
}

func (p *progressLine) Progress(pct int) {
	p.pct = pct
	p.draw()
}

func (p *progressLine) draw() {
	if p.pct > 0 {
		fmt.Fprintf(p.w, "\r\033[K%s (%d%%)", p.status, p.pct)
		return
	}
	fmt.Fprintf(p.w, "\r\033[K%s", p.status)
}

func printSummary(result *models.RunResult, duration time.Duration) {
	session := result.Session
	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	fmt.Printf("Crawl %s\n", session.Status)

	fmt.Printf("  Pages:         %d\n", session.PagesCrawled)
	fmt.Printf("  Records:       %d\n", session.BooksFound)
	fmt.Printf("  New/updated:   %d/%d\n", session.NewBooks, session.UpdatedBooks)
	fmt.Printf("  With review:   %d\n", session.ReviewsFound)
	fmt.Printf("  Requests:      %d\n", result.RequestCount)
	fmt.Printf("  Retries:       %d\n", result.RetryCount)
	fmt.Printf("  Failed pages:  %v\n", session.FailedPages)
	if len(result.ErrorsByType) > 0 {
		fmt.Printf("  Error types:   %v\n", result.ErrorsByType)
	}
	if session.ErrorMessage != "" {
		fmt.Printf("  Message:       %s\n", session.ErrorMessage)
	}
	itemsPerSec := 0.0
	if duration.Seconds() > 0 {
		itemsPerSec = float64(session.BooksFound) / duration.Seconds()
	}
	fmt.Printf("  Duration:      %v\n", duration.Round(time.Millisecond))
	fmt.Printf("  Items/sec:     %.2f\n", itemsPerSec)
	fmt.Printf("  Session:       %s\n", session.ID)
	fmt.Println(separator)
}

// newLogger logs text to a terminal and JSON otherwise. When logFile is set,
// JSON records are also written to a size-rotated file.
func newLogger(verbose bool, logFile string) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if logFile == "" {
		if isTerminal(os.Stdout) {
			handler = slog.NewTextHandler(os.Stdout, opts)
		} else {
			handler = slog.NewJSONHandler(os.Stdout, opts)
		}
		return slog.New(handler), level
	}

	if err := os.MkdirAll(filepath.Dir(logFile), 0o750); err != nil {
		fmt.Fprintf(os.Stderr, "create log directory: %v\n", err)
	}
	rotator := &lumberjack.Logger{
		Filename:   logFile,
		MaxSize:    5,
		MaxBackups: 3,
		MaxAge:     30,
		Compress:   true,
	}
	handler = slog.NewJSONHandler(io.MultiWriter(os.Stdout, rotator), opts)
	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
