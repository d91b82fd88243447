package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// ConnectionLimiter is a fixed-window counter for one connection's inbound messages.
// It is not safe for concurrent use; call it from the connection's read loop only.
type ConnectionLimiter struct {
	clock       clockwork.Clock
	window      time.Duration
	max         int
	windowStart time.Time
	count       int
}

func NewConnectionLimiter(clock clockwork.Clock, window time.Duration, max int) *ConnectionLimiter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &ConnectionLimiter{clock: clock, window: window, max: max, windowStart: clock.Now()}
}

// Allow admits one event. A non-positive window or max disables the limiter.
func (l *ConnectionLimiter) Allow() bool {
	if l.window <= 0 || l.max <= 0 {
		return true
	}
	now := l.clock.Now()
	if now.Sub(l.windowStart) >= l.window {
		l.windowStart = now
		l.count = 0
	}
	if l.count >= l.max {
		return false
	}
	l.count++
	return true
}

const evictThreshold = 1024

type counter struct {
	windowStart time.Time
	count       int
}

// KeyedLimiter keeps one fixed window per scope key and is shared across sessions.
type KeyedLimiter struct {
	clock  clockwork.Clock
	window time.Duration
	max    int

	mu       sync.Mutex
	counters map[string]*counter
}

func NewKeyedLimiter(clock clockwork.Clock, window time.Duration, max int) *KeyedLimiter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &KeyedLimiter{clock: clock, window: window, max: max, counters: make(map[string]*counter)}
}

// Allow admits one event for key. The context is unused; it matches remote limiters.
func (l *KeyedLimiter) Allow(_ context.Context, key string) (bool, error) {
	if l.window <= 0 || l.max <= 0 {
		return true, nil
	}
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.counters[key]
	if !ok {
		if len(l.counters) >= evictThreshold {
			l.evictLocked(now)
		}
		c = &counter{windowStart: now}
		l.counters[key] = c
	}
	if now.Sub(c.windowStart) >= l.window {
		c.windowStart = now
		c.count = 0
	}
	if c.count >= l.max {
		return false, nil
	}
	c.count++
	return true, nil
}

func (l *KeyedLimiter) evictLocked(now time.Time) {
	for key, c := range l.counters {
		if now.Sub(c.windowStart) >= l.window {
			delete(l.counters, key)
		}
	}
}
