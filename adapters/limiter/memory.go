// Package limiter provides fixed-window attempt counters for the login rate limiter.
package limiter

import (
	"context"
	"sync"
	"time"

	"github.com/layer-3/turnstile/ports"
)

type window struct {
	count   int
	resetAt time.Time
}

const defaultPruneInterval = time.Minute

// MemoryCounter is an in-process fixed-window counter. Elapsed windows are
// dropped by Hit at most once per prune interval.
type MemoryCounter struct {
	mu            sync.Mutex
	windows       map[string]*window
	now           func() time.Time
	pruneInterval time.Duration
	lastPrune     time.Time
}

// Option configures a MemoryCounter
type Option func(*MemoryCounter)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(c *MemoryCounter) { c.now = now }
}

// WithPruneInterval sets how often Hit sweeps elapsed windows
func WithPruneInterval(d time.Duration) Option {
	return func(c *MemoryCounter) { c.pruneInterval = d }
}

// NewMemoryCounter creates a new in-memory attempt counter
func NewMemoryCounter(opts ...Option) *MemoryCounter {
	c := &MemoryCounter{
		windows:       make(map[string]*window),
		now:           time.Now,
		pruneInterval: defaultPruneInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.lastPrune = c.now()
	return c
}

var _ ports.AttemptCounter = (*MemoryCounter)(nil)

// Hit records one attempt for key. The window starts at the first attempt
// and is only reset once it has elapsed.
func (c *MemoryCounter) Hit(ctx context.Context, key string, size time.Duration) (int, time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if now.Sub(c.lastPrune) >= c.pruneInterval {
		c.prune(now)
	}

	w, ok := c.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(size)}
		c.windows[key] = w
	}
	w.count++

	return w.count, w.resetAt, nil
}

// Prune drops windows that have already elapsed
func (c *MemoryCounter) Prune() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.prune(c.now())
}

// Len returns the number of tracked keys
func (c *MemoryCounter) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.windows)
}

func (c *MemoryCounter) prune(now time.Time) int {
	c.lastPrune = now
	n := 0
	for key, w := range c.windows {
		if !now.Before(w.resetAt) {
			delete(c.windows, key)
			n++
		}
	}
	return n
}
