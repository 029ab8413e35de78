// Package scraper fetches an owner's paginated collection listing and drives
// each page through the entry pipeline into the record store.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/aluiziolira/go-scrape-shelf/config"
	"github.com/aluiziolira/go-scrape-shelf/models"
	"github.com/aluiziolira/go-scrape-shelf/parser"
	"github.com/aluiziolira/go-scrape-shelf/pipeline"
)

// State is the lifecycle position of a Scraper.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateCompleted
	StateStopped
	StateSoftBlocked
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateStopped:
		return "stopped"
	case StateSoftBlocked:
		return "soft_blocked"
	case StateError:
		return "error"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Store is the persistence the orchestrator needs.
type Store interface {
	pipeline.Store
	CanonicalURLs(ctx context.Context, ownerID string) (map[string]struct{}, error)
	Clear(ctx context.Context, ownerID string) error
	RecordSession(ctx context.Context, session *models.CrawlSession) error
	UpsertOwnerProfile(ctx context.Context, ownerID, displayName string, crawledAt time.Time) error
}

// RunRequest describes one crawl.
type RunRequest struct {
	OwnerID     string
	DisplayName string
	Credential  Credential
	// MaxPages caps the pages visited; zero falls back to the configured
	// cap, and a configured zero means no cap.
	MaxPages int
	Range    *models.DateRange
	// Mode is config.ModeIncremental or config.ModeRefresh; empty uses the
	// configured mode.
	Mode string
}

// Scraper orchestrates crawl runs. A Scraper runs one crawl at a time.
type Scraper struct {
	cfg      *config.Config
	store    Store
	fetcher  PageFetcher
	observer safeObserver
	Metrics  *Metrics
	now      func() time.Time

	state atomic.Int32

	requestCount atomic.Int64
	retryCount   atomic.Int64

	mu           sync.Mutex
	errorsByType map[string]int
}

// NewScraper builds a scraper. A nil observer discards progress and nil
// metrics get a fresh registry.
func NewScraper(cfg *config.Config, store Store, fetcher PageFetcher, observer Observer, metrics *Metrics) (*Scraper, error) {
	if cfg == nil {
		return nil, errors.New("scraper: config is required")
	}
	if store == nil {
		return nil, errors.New("scraper: store is required")
	}
	if fetcher == nil {
		return nil, errors.New("scraper: fetcher is required")
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Scraper{
		cfg:          cfg,
		store:        store,
		fetcher:      fetcher,
		observer:     newSafeObserver(observer),
		Metrics:      metrics,
		now:          time.Now,
		errorsByType: make(map[string]int),
	}, nil
}

// State reports the current lifecycle state.
func (s *Scraper) State() State {
	return State(s.state.Load())
}

// Run crawls one owner's collection until the listing ends, the page cap is
// reached, the date range is exhausted, the origin soft-blocks, or ctx is
// cancelled. The session is always recorded; the returned error is reserved
// for invalid requests and persistence failures of the session itself.
func (s *Scraper) Run(ctx context.Context, req RunRequest) (*models.RunResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if req.OwnerID == "" {
		return nil, errors.New("scraper: owner id is required")
	}
	cur := s.state.Load()
	if State(cur) == StateRunning || !s.state.CompareAndSwap(cur, int32(StateRunning)) {
		return nil, ErrAlreadyRunning
	}
	s.resetCounters()

	session := &models.CrawlSession{
		ID:          uuid.NewString(),
		OwnerID:     req.OwnerID,
		StartedAt:   s.now(),
		FailedPages: []int{},
	}
	s.observer.Status("running")
	s.observer.Log(fmt.Sprintf("starting crawl of %s", req.OwnerID))

	status, message := s.safeCrawl(ctx, req, session)
	session.Status = status
	session.ErrorMessage = message
	session.EndedAt = s.now()

	result := &models.RunResult{
		Session:      session,
		RequestCount: int(s.requestCount.Load()),
		RetryCount:   int(s.retryCount.Load()),
		ErrorsByType: s.snapshotErrors(),
	}

	// The session and profile land even when the run was cancelled.
	persistCtx := context.WithoutCancel(ctx)
	var persistErr error
	if err := s.store.RecordSession(persistCtx, session); err != nil {
		persistErr = fmt.Errorf("record session: %w", err)
		slog.Error("failed to record crawl session", slog.String("session", session.ID), slog.Any("error", err))
	}
	if status == models.StatusSuccess {
		if err := s.store.UpsertOwnerProfile(persistCtx, req.OwnerID, req.DisplayName, session.EndedAt); err != nil {
			persistErr = errors.Join(persistErr, fmt.Errorf("update owner profile: %w", err))
			slog.Error("failed to update owner profile", slog.String("owner_id", req.OwnerID), slog.Any("error", err))
		}
	}

	s.state.Store(int32(stateFor(status)))
	s.observer.Status(string(status))
	s.observer.Log(fmt.Sprintf("crawl %s: %d pages, %d records (%d new, %d updated), %d with review, %d failed pages",
		status, session.PagesCrawled, session.BooksFound, session.NewBooks, session.UpdatedBooks,
		session.ReviewsFound, len(session.FailedPages)))

	return result, persistErr
}

func stateFor(status models.SessionStatus) State {
	switch status {
	case models.StatusSuccess:
		return StateCompleted
	case models.StatusStopped:
		return StateStopped
	case models.StatusSoftBlocked:
		return StateSoftBlocked
	}
	return StateError
}

// safeCrawl converts a panic anywhere in the crawl into an error status.
func (s *Scraper) safeCrawl(ctx context.Context, req RunRequest, session *models.CrawlSession) (status models.SessionStatus, message string) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("crawl panicked", slog.String("owner_id", req.OwnerID), slog.Any("panic", r))
			status, message = models.StatusError, fmt.Sprintf("unexpected failure: %v", r)
		}
	}()
	return s.crawl(ctx, req, session)
}

func (s *Scraper) crawl(ctx context.Context, req RunRequest, session *models.CrawlSession) (models.SessionStatus, string) {
	maxPages := req.MaxPages
	if maxPages <= 0 {
		maxPages = s.cfg.MaxPages
	}
	mode := req.Mode
	if mode == "" {
		mode = s.cfg.Mode
	}

	seen := map[string]struct{}{}
	if mode == config.ModeRefresh {
		if err := s.store.Clear(ctx, req.OwnerID); err != nil {
			return models.StatusError, fmt.Sprintf("clear stored records: %v", err)
		}
		s.observer.Log("refresh mode: cleared stored records")
	} else {
		existing, err := s.store.CanonicalURLs(ctx, req.OwnerID)
		if err != nil {
			return models.StatusError, fmt.Sprintf("load stored records: %v", err)
		}
		seen = existing
	}

	var enricher pipeline.Enricher
	if s.cfg.EnrichDetails {
		if uf, ok := s.fetcher.(URLFetcher); ok {
			enricher = NewDetailEnricher(uf, req.Credential, NewPacer(s.cfg), s.cfg.DetailDelayMin, s.cfg.DetailDelayMax)
		}
	}

	p, err := pipeline.New(s.store, pipeline.Options{
		OwnerID:            req.OwnerID,
		Workers:            s.cfg.Workers,
		Range:              req.Range,
		Seen:               seen,
		DedupeMaxSize:      s.cfg.DedupeMaxSize,
		EarlyExitThreshold: s.cfg.EarlyExitThreshold,
		Enricher:           enricher,
		Log:                s.observer.Log,
	})
	if err != nil {
		return models.StatusError, err.Error()
	}
	if req.Range != nil {
		s.observer.Log(fmt.Sprintf("keeping entries reviewed within %s", req.Range))
	}

	policy := retryPolicy{
		maxAttempts: s.cfg.MaxAttempts,
		backoff:     s.cfg.RetryBackoff,
		backoffMax:  s.cfg.RetryBackoffMax,
	}
	consecutiveFailed := 0

	for page := 0; maxPages <= 0 || page < maxPages; page++ {
		if ctx.Err() != nil {
			return models.StatusStopped, ""
		}
		s.observer.Status(fmt.Sprintf("fetching page %d", page+1))

		fetched, err := fetchWithRetry(ctx, s.countingFetcher(), PageRequest{
			OwnerID:    req.OwnerID,
			Index:      page,
			Credential: req.Credential,
		}, policy, s.onFailedAttempt(page, policy.maxAttempts))

		var soft *SoftBlockedError
		switch {
		case err == nil:
		case errors.As(err, &soft):
			s.recordError(err)
			s.observer.Log("origin served a verification page; the credential has likely expired")
			return models.StatusSoftBlocked, soft.Error()
		case ctx.Err() != nil:
			return models.StatusStopped, ""
		case errors.Is(err, ErrPageExhausted):
			reason := fmt.Sprintf("failed after %d attempts", policy.maxAttempts)
			if status, msg, stop := s.pageFailed(ctx, session, page, maxPages, &consecutiveFailed, reason); stop {
				return status, msg
			}
			continue
		default:
			return models.StatusError, err.Error()
		}

		s.capturePage(fetched)
		doc, err := fetched.Document()
		if err != nil {
			reason := fmt.Sprintf("could not be parsed (%v)", err)
			if status, msg, stop := s.pageFailed(ctx, session, page, maxPages, &consecutiveFailed, reason); stop {
				return status, msg
			}
			continue
		}
		consecutiveFailed = 0
		session.PagesCrawled++
		s.Metrics.IncPage("fetched")
		if parser.DetectLoginPrompt(doc) {
			s.observer.Log("page asks to sign in; results may be incomplete")
		}

		entries := parser.FindEntries(doc)
		if len(entries) == 0 {
			s.observer.Log(fmt.Sprintf("page %d is empty, end of collection", page+1))
			break
		}

		result, err := p.ProcessPage(ctx, page, entries)
		session.BooksFound += result.Saved
		session.ReviewsFound += result.WithReview
		session.NewBooks += result.New
		session.UpdatedBooks += result.Updated
		s.Metrics.AddRecords(result.New, result.Updated)
		if err != nil {
			if ctx.Err() != nil {
				return models.StatusStopped, ""
			}
			return models.StatusError, err.Error()
		}

		if maxPages > 0 {
			s.observer.Progress((page + 1) * 100 / maxPages)
		}
		if result.StopEarly {
			break
		}
		if err := s.interPageDelay(ctx, page, maxPages); err != nil {
			return models.StatusStopped, ""
		}
	}

	if metrics := p.GetMetrics(); metrics != nil {
		slog.Debug("pipeline summary",
			slog.Any("processed", metrics["processed_records"]),
			slog.Any("validation_errors", metrics["validation_errors"]),
		)
	}
	return models.StatusSuccess, ""
}

// pageFailed records a listing page that produced no entries. stop reports
// whether the run ends, with the status to end it on.
func (s *Scraper) pageFailed(ctx context.Context, session *models.CrawlSession, page, maxPages int, consecutive *int, reason string) (status models.SessionStatus, msg string, stop bool) {
	s.Metrics.IncPage("failed")
	session.FailedPages = append(session.FailedPages, page)
	*consecutive++
	s.observer.Log(fmt.Sprintf("page %d %s, skipping", page+1, reason))
	if *consecutive > s.cfg.MaxConsecutiveFailedPages {
		return models.StatusError, fmt.Sprintf("%d consecutive pages failed", *consecutive), true
	}
	if err := s.interPageDelay(ctx, page, maxPages); err != nil {
		return models.StatusStopped, "", true
	}
	return "", "", false
}

// capturePage writes the raw listing body to the debug directory, when one
// is configured, as debug_page_N.html with N one-based.
func (s *Scraper) capturePage(page *Page) {
	dir := s.cfg.DebugDir
	if dir == "" || page == nil {
		return
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		slog.Warn("create debug directory", slog.String("dir", dir), slog.Any("error", err))
		return
	}
	path := filepath.Join(dir, fmt.Sprintf("debug_page_%d.html", page.Index+1))
	if err := os.WriteFile(path, page.Body, 0o644); err != nil {
		slog.Warn("write debug page", slog.String("path", path), slog.Any("error", err))
		return
	}
	slog.Debug("saved listing page", slog.String("path", path))
}

// interPageDelay sleeps between pages, skipping the wait after the last one.
func (s *Scraper) interPageDelay(ctx context.Context, page, maxPages int) error {
	if maxPages > 0 && page+1 >= maxPages {
		return nil
	}
	return sleepCtx(ctx, uniformDelay(s.cfg.InterPageMin, s.cfg.InterPageMax))
}

func (s *Scraper) onFailedAttempt(page, maxAttempts int) attemptHook {
	return func(attempt int, err error, retrying bool, wait time.Duration) {
		s.recordError(err)
		slog.Warn("page attempt failed",
			slog.Int("page", page+1),
			slog.Int("attempt", attempt),
			slog.String("category", errorTypeLabel(err)),
			slog.Any("error", err),
		)
		if retrying {
			s.retryCount.Add(1)
			s.Metrics.IncRetries()
			s.observer.Log(fmt.Sprintf("page %d attempt %d/%d failed, retrying in %s", page+1, attempt, maxAttempts, wait.Round(time.Millisecond)))
		}
	}
}

func (s *Scraper) recordError(err error) {
	category := errorTypeLabel(err)
	s.mu.Lock()
	s.errorsByType[category]++
	s.mu.Unlock()
	s.Metrics.IncError(category)
}

func (s *Scraper) snapshotErrors() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.errorsByType))
	for k, v := range s.errorsByType {
		out[k] = v
	}
	return out
}

func (s *Scraper) resetCounters() {
	s.requestCount.Store(0)
	s.retryCount.Store(0)
	s.mu.Lock()
	s.errorsByType = make(map[string]int)
	s.mu.Unlock()
}

// countingFetcher counts listing attempts made on behalf of this run.
func (s *Scraper) countingFetcher() PageFetcher {
	return fetcherFunc(func(ctx context.Context, req PageRequest) (*Page, error) {
		s.requestCount.Add(1)
		return s.fetcher.Fetch(ctx, req)
	})
}

type fetcherFunc func(ctx context.Context, req PageRequest) (*Page, error)

func (f fetcherFunc) Fetch(ctx context.Context, req PageRequest) (*Page, error) {
	return f(ctx, req)
}
