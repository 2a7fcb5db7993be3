// Package ratelimit spaces outgoing page fetches and bounds how many are in flight.
package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Clock abstracts time so tests can run the limiter deterministically.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Config controls request cadence.
type Config struct {
	MinDelay    time.Duration
	MaxDelay    time.Duration
	Concurrency int
}

// Limiter hands out permits. Successive permits are at least a random
// delay in [MinDelay, MaxDelay] apart and at most Concurrency are held at once.
type Limiter struct {
	cfg   Config
	clock Clock
	sem   chan struct{}

	mu      sync.Mutex
	rnd     *rand.Rand
	next    time.Time
	started bool
}

type Option func(*Limiter)

func WithClock(c Clock) Option {
	return func(l *Limiter) { l.clock = c }
}

func WithRand(r *rand.Rand) Option {
	return func(l *Limiter) { l.rnd = r }
}

func New(cfg Config, opts ...Option) *Limiter {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.MaxDelay < cfg.MinDelay {
		cfg.MaxDelay = cfg.MinDelay
	}
	l := &Limiter{
		cfg:   cfg,
		clock: realClock{},
		sem:   make(chan struct{}, cfg.Concurrency),
		rnd:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Permit must be released once the fetch it guards is done.
type Permit struct {
	l *Limiter
}

func (p Permit) Release() {
	if p.l == nil {
		return
	}
	select {
	case <-p.l.sem:
	default:
	}
}

// Acquire blocks until a concurrency slot is free and the cadence allows
// another request, or until ctx is done.
func (l *Limiter) Acquire(ctx context.Context) (Permit, error) {
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return Permit{}, ctx.Err()
	}
	// Both cases may be ready at once; cancellation wins.
	if err := ctx.Err(); err != nil {
		<-l.sem
		return Permit{}, err
	}

	if wait := l.reserve(); wait > 0 {
		if err := l.clock.Sleep(ctx, wait); err != nil {
			<-l.sem
			return Permit{}, err
		}
	}
	return Permit{l: l}, nil
}

// reserve books the next slot and returns how long the caller has to wait for it.
func (l *Limiter) reserve() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	at := now
	if l.started && l.next.After(now) {
		at = l.next
	}
	l.started = true
	l.next = at.Add(l.delay())
	return at.Sub(now)
}

func (l *Limiter) delay() time.Duration {
	spread := l.cfg.MaxDelay - l.cfg.MinDelay
	if spread <= 0 {
		return l.cfg.MinDelay
	}
	return l.cfg.MinDelay + time.Duration(l.rnd.Int63n(int64(spread)+1))
}
