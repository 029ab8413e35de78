// Package pipeline turns the entries of one listing page into stored records:
// concurrent extraction, an ordered filter pass, and concurrent upserts.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/PuerkitoBio/goquery"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/aluiziolira/go-scrape-shelf/models"
	"github.com/aluiziolira/go-scrape-shelf/parser"
)

const (
	// MaxWorkers bounds per-page concurrency so request pacing stays polite.
	MaxWorkers = 5

	defaultDedupeSize         = 10000
	defaultEarlyExitThreshold = 3
)

var (
	// ErrNoStore is returned by New when no record store is supplied.
	ErrNoStore = errors.New("pipeline: store is required")
	// ErrNoOwner is returned by New when the owner id is empty.
	ErrNoOwner = errors.New("pipeline: owner id is required")
)

// Store persists one record; false means the write failed and was logged.
type Store interface {
	Upsert(ctx context.Context, rec *models.BookRecord) bool
}

// Enricher fills author and publish date from an entry's detail page.
type Enricher interface {
	Enrich(ctx context.Context, rec *models.BookRecord) error
}

// Options configures a Pipeline for one crawl run.
type Options struct {
	OwnerID string
	Workers int
	// Range, when set, keeps only entries whose review date falls inside it.
	Range *models.DateRange
	// Seen holds the canonical URLs stored before the run started. It is
	// only read, to tell new records from updated ones.
	Seen               map[string]struct{}
	DedupeMaxSize      int
	EarlyExitThreshold int
	Enricher           Enricher
	// Log receives human-readable progress lines; nil discards them.
	Log func(string)
}

// PageResult summarizes what one page contributed to the run.
type PageResult struct {
	Entries    int
	Kept       int
	Saved      int
	WithReview int
	New        int
	Updated    int
	OutOfRange int
	Skipped    int
	SaveFailed int
	// StopEarly is set once enough consecutive entries predate the range.
	StopEarly bool
}

// Pipeline processes listing pages for a single owner. ProcessPage must not
// be called concurrently; entries within a page are handled in parallel.
type Pipeline struct {
	store   Store
	opts    Options
	workers int

	dedupe *lru.Cache[string, struct{}]
	// tooOld counts consecutive entries older than the range, across pages.
	tooOld int

	metrics metrics
}

// New builds a pipeline bound to store.
func New(store Store, opts Options) (*Pipeline, error) {
	if store == nil {
		return nil, ErrNoStore
	}
	if opts.OwnerID == "" {
		return nil, ErrNoOwner
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}
	if workers > MaxWorkers {
		workers = MaxWorkers
	}
	size := opts.DedupeMaxSize
	if size <= 0 {
		size = defaultDedupeSize
	}
	if opts.EarlyExitThreshold <= 0 {
		opts.EarlyExitThreshold = defaultEarlyExitThreshold
	}

	dedupe, err := lru.New[string, struct{}](size)
	if err != nil {
		return nil, fmt.Errorf("create dedupe cache: %w", err)
	}

	return &Pipeline{
		store:   store,
		opts:    opts,
		workers: workers,
		dedupe:  dedupe,
		metrics: newMetrics(),
	}, nil
}

// ProcessPage extracts, filters and stores the entries of one page. Entries
// that fail individually are counted and skipped. A cancelled context stops
// entries that have not started; in-flight upserts are allowed to finish.
func (p *Pipeline) ProcessPage(ctx context.Context, page int, entries []*goquery.Selection) (PageResult, error) {
	result := PageResult{Entries: len(entries)}
	if len(entries) == 0 {
		return result, nil
	}

	records, err := p.extract(ctx, page, entries)
	if err != nil {
		return result, err
	}

	kept := p.filter(records, &result)
	result.Kept = len(kept)

	if err := p.save(ctx, kept, &result); err != nil {
		return result, err
	}

	p.logf("page %d: %d entries, %d kept, %d saved (%d new, %d updated), %d skipped, %d out of range, %d not saved",
		page+1, result.Entries, result.Kept, result.Saved, result.New, result.Updated,
		result.Skipped, result.OutOfRange, result.SaveFailed)
	return result, nil
}

// GetMetrics returns a snapshot of the internal counters.
func (p *Pipeline) GetMetrics() map[string]interface{} {
	return p.metrics.snapshot()
}

func (p *Pipeline) extract(ctx context.Context, page int, entries []*goquery.Selection) ([]*models.BookRecord, error) {
	records := make([]*models.BookRecord, len(entries))
	var (
		mu       sync.Mutex
		panicked []int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i, sel := range entries {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					p.metrics.addValidation("extract_panic")
					mu.Lock()
					panicked = append(panicked, i)
					mu.Unlock()
					slog.Warn("entry extraction panicked",
						slog.Int("page", page),
						slog.Int("entry", i),
						slog.Any("panic", r),
					)
				}
			}()
			if err := gctx.Err(); err != nil {
				return err
			}

			rec := parser.ExtractEntry(sel)
			if rec == nil {
				return nil
			}
			rec.OwnerID = p.opts.OwnerID
			if p.opts.Enricher != nil && needsDetail(rec) {
				if err := p.opts.Enricher.Enrich(gctx, rec); err != nil {
					p.metrics.addValidation("enrich_failed")
					slog.Debug("detail enrichment failed",
						slog.String("url", rec.CanonicalURL),
						slog.Any("error", err),
					)
				}
			}
			records[i] = rec
			return nil
		})
	}
	err := g.Wait()
	slices.Sort(panicked)
	for _, i := range panicked {
		p.logf("page %d entry %d skipped: extraction failed", page+1, i+1)
	}
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// filter walks records in listing order so early exit and dedupe see the
// same sequence the origin serves.
func (p *Pipeline) filter(records []*models.BookRecord, result *PageResult) []*models.BookRecord {
	kept := make([]*models.BookRecord, 0, len(records))
	for _, rec := range records {
		if rec == nil {
			result.Skipped++
			continue
		}
		if err := parser.ValidateRecord(rec); err != nil {
			p.metrics.addValidation("missing_url")
			result.Skipped++
			p.logf("skipped entry %q: no detail link", rec.Title)
			continue
		}

		if rng := p.opts.Range; rng != nil {
			when, ok := parser.ParseLenientDate(rec.ReviewDate)
			switch {
			case !ok:
				p.metrics.addValidation("undated")
				result.OutOfRange++
				continue
			case when.Before(rng.Start):
				result.OutOfRange++
				p.tooOld++
				if p.tooOld >= p.opts.EarlyExitThreshold {
					result.StopEarly = true
					p.logf("%d consecutive entries predate %s, stopping", p.tooOld, rng)
					return kept
				}
				continue
			case when.After(rng.End):
				result.OutOfRange++
				continue
			}
			p.tooOld = 0
		}

		if p.dedupe.Contains(rec.CanonicalURL) {
			p.metrics.addValidation("duplicate_url")
			result.Skipped++
			p.logf("skipped duplicate %s", rec.CanonicalURL)
			continue
		}
		p.dedupe.Add(rec.CanonicalURL, struct{}{})
		kept = append(kept, rec)
	}
	return kept
}

func (p *Pipeline) save(ctx context.Context, kept []*models.BookRecord, result *PageResult) error {
	var saved, withReview, created, updated atomic.Int64
	var (
		mu     sync.Mutex
		failed []string
	)

	// Upserts run detached from cancellation once started, so a stop request
	// never leaves a half-written page.
	storeCtx := context.WithoutCancel(ctx)

	var g errgroup.Group
	g.SetLimit(p.workers)
	for _, rec := range kept {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if !p.store.Upsert(storeCtx, rec) {
				p.metrics.addValidation("save_failed")
				mu.Lock()
				failed = append(failed, rec.CanonicalURL)
				mu.Unlock()
				return nil
			}
			saved.Add(1)
			if _, existed := p.opts.Seen[rec.CanonicalURL]; existed {
				updated.Add(1)
			} else {
				created.Add(1)
			}
			if rec.HasReview() {
				withReview.Add(1)
			}
			p.metrics.incrementProcessed()
			return nil
		})
	}
	_ = g.Wait()

	slices.Sort(failed)
	for _, url := range failed {
		p.logf("could not save %s", url)
	}
	result.SaveFailed = len(failed)
	result.Saved = int(saved.Load())
	result.WithReview = int(withReview.Load())
	result.New = int(created.Load())
	result.Updated = int(updated.Load())
	return ctx.Err()
}

func (p *Pipeline) logf(format string, args ...any) {
	if p.opts.Log != nil {
		p.opts.Log(fmt.Sprintf(format, args...))
	}
}

func needsDetail(rec *models.BookRecord) bool {
	return rec.CanonicalURL != "" &&
		(rec.Author == models.UnknownAuthor || rec.PublishDate == models.UnknownPublishDate)
}

type metrics struct {
	mu         sync.Mutex
	processed  int64
	validation map[string]int
}

func newMetrics() metrics {
	return metrics{
		validation: make(map[string]int),
	}
}

func (m *metrics) incrementProcessed() {
	m.mu.Lock()
	m.processed++
	m.mu.Unlock()
}

func (m *metrics) addValidation(kind string) {
	m.mu.Lock()
	m.validation[kind]++
	m.mu.Unlock()
}

func (m *metrics) snapshot() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	copyValidation := make(map[string]int, len(m.validation))
	for k, v := range m.validation {
		copyValidation[k] = v
	}

	return map[string]interface{}{
		"processed_records": m.processed,
		"validation_errors": copyValidation,
	}
}
