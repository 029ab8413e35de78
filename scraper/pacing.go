package scraper

import (
	"context"
	"math/rand/v2"
	"time"

	"golang.org/x/time/rate"

	"github.com/aluiziolira/go-scrape-shelf/config"
)

// Pacer spaces requests out. Every request first sleeps a jittered delay
// that grows with the attempt number, then waits on a limiter that enforces
// the origin's crawl delay between any two requests.
type Pacer struct {
	minDelay    time.Duration
	baseDelay   time.Duration
	maxDelay    time.Duration
	attemptStep time.Duration
	limiter     *rate.Limiter
}

// NewPacer builds a pacer from the pacing section of cfg.
func NewPacer(cfg *config.Config) *Pacer {
	limit := rate.Inf
	if cfg.CrawlDelay > 0 {
		limit = rate.Every(cfg.CrawlDelay)
	}
	return &Pacer{
		minDelay:    cfg.MinDelay,
		baseDelay:   cfg.BaseDelay,
		maxDelay:    cfg.MaxDelay,
		attemptStep: cfg.AttemptStep,
		limiter:     rate.NewLimiter(limit, 1),
	}
}

// Delay returns the pre-request delay for a zero-based attempt.
func (p *Pacer) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := uniformDelay(p.minDelay, p.baseDelay) + time.Duration(attempt)*p.attemptStep
	if p.maxDelay > 0 && d > p.maxDelay {
		d = p.maxDelay
	}
	return d
}

// Wait sleeps the pre-request delay and then takes a limiter token.
func (p *Pacer) Wait(ctx context.Context, attempt int) error {
	if err := sleepCtx(ctx, p.Delay(attempt)); err != nil {
		return err
	}
	return p.limiter.Wait(ctx)
}

// Floor only waits for the crawl-delay limiter.
func (p *Pacer) Floor(ctx context.Context) error {
	return p.limiter.Wait(ctx)
}

// Between sleeps a uniform random duration in [lo, hi].
func (p *Pacer) Between(ctx context.Context, lo, hi time.Duration) error {
	return sleepCtx(ctx, uniformDelay(lo, hi))
}

// uniformDelay returns a random duration in [lo, hi].
func uniformDelay(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo+1)
}

// sleepCtx sleeps for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
