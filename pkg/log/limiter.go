package log

import (
	"sync"
	"time"
)

// Limiter is a per-site token bucket used to silence log lines that would
// otherwise fire on every heartbeat or every rejected RPC. Unlike the
// module-scoped rate-limited sinks this pattern is modeled on, a Limiter is
// an explicit collaborator: callers own an instance and pass it around
// instead of reaching for process-wide state.
type Limiter struct {
	mu      sync.Mutex
	burst   int
	refill  time.Duration
	buckets map[string]*bucket
}

type bucket struct {
	tokens   int
	lastFill time.Time
}

// NewLimiter creates a Limiter that allows burst log lines per site, then
// refills one token every refill duration.
func NewLimiter(burst int, refill time.Duration) *Limiter {
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		burst:   burst,
		refill:  refill,
		buckets: make(map[string]*bucket),
	}
}

// Allow reports whether a log line tagged with site may fire now. Call sites
// are free-form strings ("append-reject", "snapshot-chunk-oo") chosen by the
// caller, not derived from the message text.
func (l *Limiter) Allow(site string) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	b, ok := l.buckets[site]
	if !ok {
		b = &bucket{tokens: l.burst - 1, lastFill: now}
		l.buckets[site] = b
		return true
	}

	if l.refill > 0 {
		elapsed := now.Sub(b.lastFill)
		refills := int(elapsed / l.refill)
		if refills > 0 {
			b.tokens += refills
			if b.tokens > l.burst {
				b.tokens = l.burst
			}
			b.lastFill = b.lastFill.Add(time.Duration(refills) * l.refill)
		}
	}

	if b.tokens <= 0 {
		return false
	}
	b.tokens--
	return true
}
