// Package pool provides request throttling: a bounded-concurrency gate
// combined with rolling-window rate limiting for outbound calls.
package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Config configures a RequestPool.
type Config struct {
	// MaxConcurrent bounds the number of callers holding a slot at once.
	MaxConcurrent int `yaml:"max_concurrent" json:"max_concurrent"`

	// RequestsPerMinute bounds admissions within one rolling window.
	RequestsPerMinute int `yaml:"requests_per_minute" json:"requests_per_minute"`

	// Window is the rolling-window length. The contract is per-minute;
	// it is configurable so tests can shrink it.
	Window time.Duration `yaml:"window" json:"window"`
}

// DefaultConfig returns the default pool configuration.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent:     10,
		RequestsPerMinute: 60,
		Window:            time.Minute,
	}
}

// recheckSlack is added to every rate-limit wait so the oldest window
// entry has rolled out by the time the caller rechecks.
const recheckSlack = 100 * time.Millisecond

// RequestPool admits callers only while a concurrency slot is free and
// fewer than RequestsPerMinute admissions happened in the trailing
// window. Every successful Acquire must be paired with exactly one
// Release; use Do for a scoped acquire/release.
type RequestPool struct {
	config Config
	logger *zap.Logger
	slots  *semaphore.Weighted
	active atomic.Int64

	mu        sync.Mutex
	admitted  []time.Time
	now       func() time.Time
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// New creates a RequestPool. Zero or negative config fields fall back
// to the defaults.
func New(config Config, logger *zap.Logger) *RequestPool {
	def := DefaultConfig()
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = def.MaxConcurrent
	}
	if config.RequestsPerMinute <= 0 {
		config.RequestsPerMinute = def.RequestsPerMinute
	}
	if config.Window <= 0 {
		config.Window = def.Window
	}
	return &RequestPool{
		config:    config,
		logger:    logger.With(zap.String("component", "request_pool")),
		slots:     semaphore.NewWeighted(int64(config.MaxConcurrent)),
		now:       time.Now,
		sleepFunc: sleepCtx,
	}
}

// Acquire blocks until a concurrency slot is free and the rolling
// window has room, then records the admission. It returns the context
// error if ctx is cancelled while waiting.
func (p *RequestPool) Acquire(ctx context.Context) error {
	if err := p.slots.Acquire(ctx, 1); err != nil {
		return err
	}

	for {
		wait, admitted := p.tryAdmit()
		if admitted {
			p.active.Add(1)
			return nil
		}

		p.logger.Debug("rate limit reached, waiting",
			zap.Duration("wait", wait),
			zap.Int("requests_per_minute", p.config.RequestsPerMinute),
		)

		if err := p.sleepFunc(ctx, wait); err != nil {
			p.slots.Release(1)
			return err
		}
	}
}

// Release frees one concurrency slot. It must be called exactly once
// per successful Acquire.
func (p *RequestPool) Release() {
	p.active.Add(-1)
	p.slots.Release(1)
}

// Do runs fn inside an acquire/release pair. The slot is released on
// every exit path, including panics.
func (p *RequestPool) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := p.Acquire(ctx); err != nil {
		return err
	}
	defer p.Release()
	return fn(ctx)
}

// Active returns the number of callers currently holding a slot.
func (p *RequestPool) Active() int {
	return int(p.active.Load())
}

// tryAdmit purges admissions older than the window and either records
// a new admission or returns how long to wait before rechecking.
func (p *RequestPool) tryAdmit() (time.Duration, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	cutoff := now.Add(-p.config.Window)
	kept := p.admitted[:0]
	for _, t := range p.admitted {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	p.admitted = kept

	if len(p.admitted) < p.config.RequestsPerMinute {
		p.admitted = append(p.admitted, now)
		return 0, true
	}

	oldest := p.admitted[0]
	wait := p.config.Window - now.Sub(oldest) + recheckSlack
	if wait < recheckSlack {
		wait = recheckSlack
	}
	return wait, false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
