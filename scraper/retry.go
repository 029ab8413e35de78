package scraper

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

type retryPolicy struct {
	maxAttempts int
	backoff     time.Duration
	backoffMax  time.Duration
}

// delay returns the wait after the given one-based failed attempt.
func (rp retryPolicy) delay(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}

	base := rp.backoff
	if base <= 0 {
		base = 100 * time.Millisecond
	}

	limit := rp.backoffMax
	if limit <= 0 {
		limit = time.Duration(math.MaxInt64)
	}
	delay := base
	for i := 1; i < attempt && delay < limit; i++ {
		if delay > limit/2 {
			delay = limit
			break
		}
		delay *= 2
	}
	return min(delay, limit)
}

// attemptHook observes each failed attempt; retrying reports whether another
// attempt follows.
type attemptHook func(attempt int, err error, retrying bool, wait time.Duration)

// fetchWithRetry calls fetch up to maxAttempts times. Soft blocks and
// cancellation end the loop at once; exhausting the attempts returns
// ErrPageExhausted wrapping the last error.
func fetchWithRetry(ctx context.Context, fetcher PageFetcher, req PageRequest, policy retryPolicy, hook attemptHook) (*Page, error) {
	attempts := policy.maxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		req.Attempt = attempt
		page, err := fetcher.Fetch(ctx, req)
		if err == nil {
			return page, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		var soft *SoftBlockedError
		if errors.As(err, &soft) {
			return nil, err
		}

		lastErr = err
		retrying := attempt+1 < attempts
		wait := time.Duration(0)
		if retrying {
			wait = policy.delay(attempt + 1)
		}
		if hook != nil {
			hook(attempt+1, err, retrying, wait)
		}
		if !retrying {
			break
		}
		if err := sleepCtx(ctx, wait); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("page %d after %d attempts: %w: %w", req.Index, attempts, ErrPageExhausted, lastErr)
}
