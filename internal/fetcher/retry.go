package fetcher

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"
)

// RetryConfig bounds how often and how patiently a failed fetch is repeated.
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       float64 // fraction of the delay, 0.2 = ±20%
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: time.Second,
		MaxDelay:     10 * time.Second,
		Multiplier:   2,
		Jitter:       0.2,
	}
}

// AttemptFetcher is implemented by fetchers that report how many attempts a fetch took.
type AttemptFetcher interface {
	FetchAttempts(ctx context.Context, url string) (html string, attempts int, err error)
}

// AttemptHook observes every failed attempt, e.g. for logging and metrics.
type AttemptHook func(url string, attempt int, err error, next time.Duration)

// Retrying wraps a Fetcher and repeats retryable failures with exponential backoff.
type Retrying struct {
	next   Fetcher
	cfg    RetryConfig
	onFail AttemptHook
	sleep  func(ctx context.Context, d time.Duration) error

	mu  sync.Mutex
	rnd *rand.Rand
}

type RetryOption func(*Retrying)

// WithSleep replaces the wait between attempts.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) RetryOption {
	return func(r *Retrying) { r.sleep = fn }
}

func WithAttemptHook(h AttemptHook) RetryOption {
	return func(r *Retrying) { r.onFail = h }
}

func NewRetrying(next Fetcher, cfg RetryConfig, opts ...RetryOption) *Retrying {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = 1
	}
	r := &Retrying{
		next:  next,
		cfg:   cfg,
		sleep: sleepCtx,
		rnd:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Retrying) Fetch(ctx context.Context, url string) (string, error) {
	html, _, err := r.FetchAttempts(ctx, url)
	return html, err
}

func (r *Retrying) FetchAttempts(ctx context.Context, url string) (string, int, error) {
	var lastErr error
	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		html, err := r.next.Fetch(ctx, url)
		if err == nil {
			return html, attempt, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return "", attempt, ctx.Err()
		}
		if !Retryable(err) || attempt == r.cfg.MaxAttempts {
			return "", attempt, err
		}

		wait := r.Backoff(attempt)
		if r.onFail != nil {
			r.onFail(url, attempt, err, wait)
		}
		if err := r.sleep(ctx, wait); err != nil {
			return "", attempt, err
		}
	}
	return "", r.cfg.MaxAttempts, lastErr
}

// Backoff returns the wait after the given failed attempt:
// InitialDelay·Multiplier^(attempt-1), capped at MaxDelay, then jittered.
func (r *Retrying) Backoff(attempt int) time.Duration {
	d := float64(r.cfg.InitialDelay) * math.Pow(r.cfg.Multiplier, float64(attempt-1))
	if limit := float64(r.cfg.MaxDelay); limit > 0 && d > limit {
		d = limit
	}
	if r.cfg.Jitter > 0 {
		r.mu.Lock()
		f := r.rnd.Float64()
		r.mu.Unlock()
		d *= 1 + r.cfg.Jitter*(2*f-1)
	}
	return time.Duration(d)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
