// Package ratelimit gates inbound events per user. State is in-process so
// the gate keeps working when redis is down.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

type bucket struct {
	windowStart  time.Time
	used         int
	blockedUntil time.Time
}

// Limiter allows Points consumptions per Window for each key. The call that
// exceeds the budget blocks the key for Block, during which every call is
// refused with the remaining block time.
type Limiter struct {
	points int
	window time.Duration
	block  time.Duration
	now    func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
}

type Option func(*Limiter)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

func New(points int, window, block time.Duration, opts ...Option) *Limiter {
	l := &Limiter{
		points:  points,
		window:  window,
		block:   block,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Consume takes one point for key. When refused it returns how long the
// caller should wait before trying again.
func (l *Limiter) Consume(key string) (bool, time.Duration) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{windowStart: now}
		l.buckets[key] = b
	}

	if now.Before(b.blockedUntil) {
		return false, b.blockedUntil.Sub(now)
	}
	if now.Sub(b.windowStart) >= l.window {
		b.windowStart = now
		b.used = 0
	}

	b.used++
	if b.used > l.points {
		if l.block > 0 {
			b.blockedUntil = now.Add(l.block)
			return false, l.block
		}
		return false, b.windowStart.Add(l.window).Sub(now)
	}
	return true, 0
}

// Prune forgets keys whose window and block have both lapsed.
func (l *Limiter) Prune() int {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, b := range l.buckets {
		if now.Sub(b.windowStart) >= l.window && !now.Before(b.blockedUntil) {
			delete(l.buckets, key)
			removed++
		}
	}
	return removed
}

// Run prunes on every tick until ctx is done.
func (l *Limiter) Run(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Prune()
		}
	}
}

func (l *Limiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
