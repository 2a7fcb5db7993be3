package fetcher

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

type scriptedFetcher struct {
	errs  []error
	calls int
}

func (f *scriptedFetcher) Fetch(ctx context.Context, url string) (string, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return "", f.errs[i]
	}
	return "<html></html>", nil
}

func noSleep(waits *[]time.Duration) RetryOption {
	return WithSleep(func(ctx context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return ctx.Err()
	})
}

func TestRetryRecoversFromTransientErrors(t *testing.T) {
	f := &scriptedFetcher{errs: []error{
		fmt.Errorf("%w: connection reset", ErrNavigation),
		&StatusError{Code: 502},
	}}
	var waits []time.Duration
	r := NewRetrying(f, DefaultRetryConfig(), noSleep(&waits))

	_, attempts, err := r.FetchAttempts(context.Background(), "http://shop.test/p")
	if err != nil {
		t.Fatal(err)
	}
	if attempts != 3 || f.calls != 3 {
		t.Errorf("attempts = %d, calls = %d; want 3", attempts, f.calls)
	}
	if len(waits) != 2 {
		t.Fatalf("waits = %v, want 2", waits)
	}
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	f := &scriptedFetcher{errs: []error{&StatusError{Code: 404}}}
	var waits []time.Duration
	r := NewRetrying(f, DefaultRetryConfig(), noSleep(&waits))

	_, attempts, err := r.FetchAttempts(context.Background(), "http://shop.test/p")
	if !errors.Is(err, ErrStatus) {
		t.Fatalf("error = %v, want ErrStatus", err)
	}
	if attempts != 1 || len(waits) != 0 {
		t.Errorf("attempts = %d, waits = %v; want a single attempt", attempts, waits)
	}
}

func TestRetryGivesUpAfterMaxAttempts(t *testing.T) {
	timeout := fmt.Errorf("%w: deadline", ErrTimeout)
	f := &scriptedFetcher{errs: []error{timeout, timeout, timeout, timeout}}
	var waits []time.Duration
	r := NewRetrying(f, DefaultRetryConfig(), noSleep(&waits))

	_, attempts, err := r.FetchAttempts(context.Background(), "http://shop.test/p")
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("error = %v, want ErrTimeout", err)
	}
	if attempts != 3 || f.calls != 3 {
		t.Errorf("attempts = %d, calls = %d; want 3", attempts, f.calls)
	}
}

func TestRetryHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	f := &scriptedFetcher{errs: []error{ErrNavigation, ErrNavigation}}
	r := NewRetrying(f, DefaultRetryConfig(), WithSleep(func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}))

	_, _, err := r.FetchAttempts(ctx, "http://shop.test/p")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if f.calls != 1 {
		t.Errorf("calls = %d, want 1", f.calls)
	}
}

func TestBackoff(t *testing.T) {
	cfg := DefaultRetryConfig()
	cfg.Jitter = 0
	r := NewRetrying(&scriptedFetcher{}, cfg)

	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second, 10 * time.Second}
	for i, w := range want {
		if got := r.Backoff(i + 1); got != w {
			t.Errorf("Backoff(%d) = %v, want %v", i+1, got, w)
		}
	}

	jittered := NewRetrying(&scriptedFetcher{}, DefaultRetryConfig())
	for i := 0; i < 100; i++ {
		d := jittered.Backoff(2)
		if d < 1600*time.Millisecond || d > 2400*time.Millisecond {
			t.Fatalf("jittered backoff %v outside ±20%% of 2s", d)
		}
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{context.Canceled, false},
		{fmt.Errorf("%w: x", ErrTimeout), true},
		{fmt.Errorf("%w: x", ErrNavigation), true},
		{&StatusError{Code: 429}, true},
		{&StatusError{Code: 500}, true},
		{&StatusError{Code: 403}, false},
		{errors.New("something else"), false},
	}
	for _, tt := range tests {
		if got := Retryable(tt.err); got != tt.want {
			t.Errorf("Retryable(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestErrorLabel(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("%w: deadline", ErrTimeout), "timeout"},
		{fmt.Errorf("wrapped: %w", &StatusError{Code: 503}), "status"},
		{fmt.Errorf("%w: dns", ErrNavigation), "navigation"},
		{errors.New("boom"), "error"},
	}
	for _, tt := range tests {
		if got := ErrorLabel(tt.err); got != tt.want {
			t.Errorf("ErrorLabel(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
