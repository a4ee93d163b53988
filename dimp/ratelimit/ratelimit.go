// Package ratelimit throttles inbound messages per sender.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/TheusHen/dimp/dimp/identity"
)

const (
	defaultIdleTTL = 10 * time.Minute
	sweepEvery     = 512
)

// Limiter keeps one token bucket per sender and drops buckets that have been
// idle for longer than the configured TTL. A nil *Limiter allows everything.
type Limiter struct {
	limit   rate.Limit
	burst   int
	idleTTL time.Duration

	mu      sync.Mutex
	senders map[identity.ID]*bucket
	hits    uint64
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// New returns nil when rps or burst is not positive, which disables limiting.
func New(rps float64, burst int, idleTTL time.Duration) *Limiter {
	if rps <= 0 || burst <= 0 {
		return nil
	}
	if idleTTL <= 0 {
		idleTTL = defaultIdleTTL
	}
	return &Limiter{
		limit:   rate.Limit(rps),
		burst:   burst,
		idleTTL: idleTTL,
		senders: make(map[identity.ID]*bucket),
	}
}

// Allow consumes one token of sender's bucket at now. Terminals of the same
// user share a bucket.
func (l *Limiter) Allow(sender identity.ID, now time.Time) bool {
	if l == nil || sender.IsZero() {
		return true
	}
	sender = sender.Bare()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.senders[sender]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.senders[sender] = b
	}
	b.lastSeen = now
	allowed := b.limiter.AllowN(now, 1)

	l.hits++
	if l.hits%sweepEvery == 0 {
		l.sweep(now)
	}
	return allowed
}

func (l *Limiter) sweep(now time.Time) {
	cutoff := now.Add(-l.idleTTL)
	for id, b := range l.senders {
		if b.lastSeen.Before(cutoff) {
			delete(l.senders, id)
		}
	}
}

// Len returns the number of tracked senders.
func (l *Limiter) Len() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.senders)
}
