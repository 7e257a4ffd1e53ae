// ABOUTME: Sliding-window counters for per-identity rate limiting and lockout
// ABOUTME: Thread-safe, memory-bounded via stale eviction and an LRU key cap

package limiter

import (
	"container/list"
	"sync"
	"time"
)

// DefaultMaxKeys caps the number of distinct tracked keys. When exceeded the
// least recently touched key is dropped, which at worst forgets old counts.
const DefaultMaxKeys = 16384

// bucket holds the event timestamps for one key.
type bucket struct {
	times   []time.Time
	element *list.Element
}

// tracker is a sliding-window event counter keyed by string. Events older
// than the window are evicted on every touch, and the number of distinct
// keys is bounded by LRU eviction. Counters are process-lifetime only: a
// restart resets every window by design.
type tracker struct {
	mu      sync.Mutex
	window  time.Duration
	maxKeys int
	seen    map[string]*bucket
	order   *list.List // keys in recency order, most recent at back
}

func newTracker(window time.Duration, maxKeys int) *tracker {
	if maxKeys <= 0 {
		maxKeys = DefaultMaxKeys
	}
	return &tracker{
		window:  window,
		maxKeys: maxKeys,
		seen:    make(map[string]*bucket),
		order:   list.New(),
	}
}

// touchLocked returns the bucket for key, creating it (and evicting the
// least recently used key if at capacity). Must be called with mu held.
func (t *tracker) touchLocked(key string) *bucket {
	if b, ok := t.seen[key]; ok {
		t.order.MoveToBack(b.element)
		return b
	}

	if len(t.seen) >= t.maxKeys {
		front := t.order.Front()
		if front != nil {
			oldKey, _ := front.Value.(string)
			t.order.Remove(front)
			delete(t.seen, oldKey)
		}
	}

	b := &bucket{element: t.order.PushBack(key)}
	t.seen[key] = b
	return b
}

// pruneLocked drops timestamps older than the window. Must hold mu.
func (t *tracker) pruneLocked(b *bucket, now time.Time) {
	cutoff := now.Add(-t.window)
	kept := b.times[:0]
	for _, ts := range b.times {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	b.times = kept
}

// RateLimiter is a strict count-in-window admission check keyed by
// (identity, endpoint). It is not a token bucket: there is no burst
// allowance, only the count of events in the trailing window.
type RateLimiter struct {
	t *tracker
}

// NewRateLimiter creates a rate limiter with the given window. maxKeys <= 0
// uses DefaultMaxKeys.
func NewRateLimiter(window time.Duration, maxKeys int) *RateLimiter {
	return &RateLimiter{t: newTracker(window, maxKeys)}
}

// Allow reports whether the identity may make another request to endpoint
// under the given per-window limit, recording the request if admitted. The
// check-and-record is atomic so concurrent requests cannot both observe
// "count < limit" and over-admit.
func (r *RateLimiter) Allow(identity, endpoint string, limit int) bool {
	if limit <= 0 {
		return false
	}

	key := identity + ":" + endpoint
	now := time.Now()

	r.t.mu.Lock()
	defer r.t.mu.Unlock()

	b := r.t.touchLocked(key)
	r.t.pruneLocked(b, now)

	if len(b.times) >= limit {
		return false
	}
	b.times = append(b.times, now)
	return true
}

// Lockout tracks failed authentication attempts per identity and reports
// whether the identity is locked out. It is independent of rate limiting:
// separate keys, separate window.
type Lockout struct {
	t         *tracker
	threshold int
}

// NewLockout creates a lockout guard that locks an identity once threshold
// failures fall within the trailing window.
func NewLockout(threshold int, window time.Duration, maxKeys int) *Lockout {
	return &Lockout{t: newTracker(window, maxKeys), threshold: threshold}
}

// RecordFailure records a failed attempt for the identity.
func (l *Lockout) RecordFailure(identity string) {
	now := time.Now()

	l.t.mu.Lock()
	defer l.t.mu.Unlock()

	b := l.t.touchLocked(identity)
	l.t.pruneLocked(b, now)
	b.times = append(b.times, now)
}

// IsLocked reports whether the identity has reached the failure threshold
// within the window. Callers check this before attempting the slow password
// comparison, so a locked identity never reaches the hash verify.
func (l *Lockout) IsLocked(identity string) bool {
	l.t.mu.Lock()
	defer l.t.mu.Unlock()

	b, ok := l.t.seen[identity]
	if !ok {
		return false
	}
	l.t.pruneLocked(b, time.Now())
	return len(b.times) >= l.threshold
}
