package adapters

import (
	"context"
	"sync"
	"time"

	ports "github.com/ZanzyTHEbar/parley/parley/pipeline/ports"
	"golang.org/x/time/rate"
)

// maxLimiterKeys bounds memory when many distinct callers show up.
const maxLimiterKeys = 4096

// KeyedLimiter is a per-key token bucket built on x/time/rate.
type KeyedLimiter struct {
	mu       sync.Mutex
	limiters map[string]*keyedEntry
	every    time.Duration
	burst    int
	idle     time.Duration
}

type keyedEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewKeyedLimiter allows burst requests per key, refilled one token per interval.
func NewKeyedLimiter(burst int, interval time.Duration) *KeyedLimiter {
	return &KeyedLimiter{
		limiters: make(map[string]*keyedEntry),
		every:    interval,
		burst:    burst,
		idle:     10 * time.Minute,
	}
}

// Acquire takes a token for key without waiting.
func (l *KeyedLimiter) Acquire(ctx context.Context, key string) (release func(), err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	now := time.Now()
	entry, ok := l.limiters[key]
	if !ok {
		if len(l.limiters) >= maxLimiterKeys {
			l.pruneLocked(now)
		}
		entry = &keyedEntry{limiter: rate.NewLimiter(rate.Every(l.every), l.burst)}
		l.limiters[key] = entry
	}
	entry.lastSeen = now
	allowed := entry.limiter.AllowN(now, 1)
	l.mu.Unlock()

	if !allowed {
		return nil, ErrRateLimitExceeded
	}
	return func() {}, nil
}

func (l *KeyedLimiter) pruneLocked(now time.Time) {
	for k, e := range l.limiters {
		if now.Sub(e.lastSeen) > l.idle {
			delete(l.limiters, k)
		}
	}
}

// ErrRateLimitExceeded is returned when the rate limit is exceeded.
var ErrRateLimitExceeded = &RateLimitError{Message: "rate limit exceeded"}

type RateLimitError struct {
	Message string
}

func (e *RateLimitError) Error() string {
	return e.Message
}

// Ensure KeyedLimiter implements the RateLimiter interface.
var _ ports.RateLimiter = (*KeyedLimiter)(nil)
