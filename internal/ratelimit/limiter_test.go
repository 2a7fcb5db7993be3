package ratelimit

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"
)

// fakeClock advances its own time whenever someone sleeps on it.
type fakeClock struct {
	mu    sync.Mutex
	now   time.Time
	slept time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	c.slept += d
	return nil
}

func TestPermitsAreSpacedByMinDelay(t *testing.T) {
	clock := newFakeClock()
	l := New(Config{MinDelay: 2 * time.Second, MaxDelay: 5 * time.Second, Concurrency: 1},
		WithClock(clock), WithRand(rand.New(rand.NewSource(1))))

	const n = 10
	start := clock.Now()
	for i := 0; i < n; i++ {
		p, err := l.Acquire(context.Background())
		if err != nil {
			t.Fatalf("Acquire #%d: %v", i, err)
		}
		p.Release()
	}

	elapsed := clock.Now().Sub(start)
	if lo := (n - 1) * 2 * time.Second; elapsed < lo {
		t.Errorf("%d permits took %v, want at least %v", n, elapsed, lo)
	}
	if hi := (n - 1) * 5 * time.Second; elapsed > hi {
		t.Errorf("%d permits took %v, want at most %v", n, elapsed, hi)
	}
}

func TestFixedDelay(t *testing.T) {
	clock := newFakeClock()
	l := New(Config{MinDelay: time.Second, MaxDelay: time.Second}, WithClock(clock))

	for i := 0; i < 4; i++ {
		p, err := l.Acquire(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		p.Release()
	}
	if clock.slept != 3*time.Second {
		t.Errorf("slept %v, want 3s", clock.slept)
	}
}

func TestConcurrencyBound(t *testing.T) {
	l := New(Config{Concurrency: 2}, WithClock(newFakeClock()))

	p1, err := l.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := l.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := l.Acquire(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("third Acquire error = %v, want deadline exceeded", err)
	}

	p1.Release()
	if _, err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
}

func TestAcquireHonoursCancellation(t *testing.T) {
	l := New(Config{MinDelay: time.Hour, MaxDelay: time.Hour})

	p, err := l.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	p.Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := l.Acquire(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Acquire error = %v, want canceled", err)
	}
	if len(l.sem) != 0 {
		t.Errorf("slot leaked after cancelled acquire: %d held", len(l.sem))
	}
}
