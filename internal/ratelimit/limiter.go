// Package ratelimit gates every outbound call to the destination CRM.
//
// Three independent bounds apply: a concurrency cap on in-flight requests, a
// steady-state requests/second limiter, and a burst reservoir that refills
// fully on a fixed interval. A 429 from any gated call arms a global
// cool-off; the state is process-local, so the effective rate across several
// worker processes is N times the configured one (operationally handled by
// per-account worker affinity).
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type Options struct {
	MaxConcurrent int           // in-flight cap, default 5
	PerSecond     int           // steady-state rps, default 10
	Reservoir     int           // burst tokens, default 100
	RefillEvery   time.Duration // full reservoir refill, default 60s
	Cooldown      time.Duration // global pause after a 429, default 60s
}

func (o *Options) fill() {
	if o.MaxConcurrent <= 0 {
		o.MaxConcurrent = 5
	}
	if o.PerSecond <= 0 {
		o.PerSecond = 10
	}
	if o.Reservoir <= 0 {
		o.Reservoir = 100
	}
	if o.RefillEvery <= 0 {
		o.RefillEvery = time.Minute
	}
	if o.Cooldown <= 0 {
		o.Cooldown = time.Minute
	}
}

type Limiter struct {
	opts  Options
	slots chan struct{}
	lim   *rate.Limiter

	mu         sync.Mutex
	tokens     int
	lastRefill time.Time
	coolUntil  time.Time
}

func New(opts Options) *Limiter {
	opts.fill()
	return &Limiter{
		opts:       opts,
		slots:      make(chan struct{}, opts.MaxConcurrent),
		lim:        rate.NewLimiter(rate.Limit(opts.PerSecond), 1),
		tokens:     opts.Reservoir,
		lastRefill: time.Now(),
	}
}

// Schedule runs fn once the cool-off, reservoir and concurrency bounds
// allow, in that order: callers waiting out a cool-off or an empty
// reservoir hold no concurrency slot, so a cancelled caller leaves without
// occupying capacity. The error from fn is returned untouched; retry
// policy belongs to the caller.
func (l *Limiter) Schedule(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := l.waitCooldown(ctx); err != nil {
		return err
	}
	if err := l.takeToken(ctx); err != nil {
		return err
	}

	select {
	case l.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-l.slots }()

	if err := l.lim.Wait(ctx); err != nil {
		return err
	}
	return fn(ctx)
}

// On429 arms the global cool-off. Dispatch already in flight finishes; new
// dispatch waits the cool-off out.
func (l *Limiter) On429() {
	l.mu.Lock()
	l.coolUntil = time.Now().Add(l.opts.Cooldown)
	l.mu.Unlock()
}

func (l *Limiter) waitCooldown(ctx context.Context) error {
	for {
		l.mu.Lock()
		d := time.Until(l.coolUntil)
		l.mu.Unlock()
		if d <= 0 {
			return nil
		}
		t := time.NewTimer(d)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
	}
}

// takeToken blocks until the reservoir has a token, refilling it in full
// whenever a refill interval has elapsed.
func (l *Limiter) takeToken(ctx context.Context) error {
	for {
		l.mu.Lock()
		if elapsed := time.Since(l.lastRefill); elapsed >= l.opts.RefillEvery {
			l.tokens = l.opts.Reservoir
			l.lastRefill = time.Now()
		}
		if l.tokens > 0 {
			l.tokens--
			l.mu.Unlock()
			return nil
		}
		wait := l.opts.RefillEvery - time.Since(l.lastRefill)
		l.mu.Unlock()

		if wait <= 0 {
			continue
		}
		t := time.NewTimer(wait)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
	}
}
