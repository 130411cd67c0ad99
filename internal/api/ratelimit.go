// Throttling for the admin control plane. Steering operations
// (mitigations, warning clears, cascade cancels) are routine steward
// traffic; shock operations (forced triggers, raw pressure writes)
// rewrite kernel state directly and get a much smaller budget.
package api

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// OpClass partitions admin operations by how much world state they move.
type OpClass int

const (
	// OpSteer is corrective traffic: mitigations and warning/cascade edits.
	OpSteer OpClass = iota
	// OpShock is direct state injection: forced triggers, raw pressure.
	OpShock
)

type budget struct {
	max    int
	window time.Duration
}

type throttleKey struct {
	ip    string
	class OpClass
}

type bucket struct {
	tokens    int
	lastReset time.Time
}

// Throttle enforces per-caller budgets on the admin control plane,
// bucketed by (caller IP, operation class).
type Throttle struct {
	mu      sync.Mutex
	buckets map[throttleKey]*bucket
	budgets map[OpClass]budget
}

// NewThrottle creates a throttle with the default control-plane budgets:
// 60 steering operations and 12 shocks per caller per hour. A warden on
// a 10-minute cycle uses at most 6 steers an hour; anything near the
// shock budget is a runaway client, not a steward.
func NewThrottle() *Throttle {
	t := &Throttle{
		buckets: make(map[throttleKey]*bucket),
		budgets: map[OpClass]budget{
			OpSteer: {max: 60, window: time.Hour},
			OpShock: {max: 12, window: time.Hour},
		},
	}
	// Periodic cleanup of stale buckets.
	go func() {
		for {
			time.Sleep(time.Hour)
			t.cleanup()
		}
	}()
	return t
}

// Allow reports whether the caller still has budget for this operation
// class, consuming one token if so.
func (t *Throttle) Allow(ip string, class OpClass) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	bgt := t.budgets[class]
	key := throttleKey{ip: ip, class: class}
	b, ok := t.buckets[key]
	now := time.Now()

	if !ok || now.Sub(b.lastReset) >= bgt.window {
		t.buckets[key] = &bucket{tokens: bgt.max - 1, lastReset: now}
		return true
	}

	if b.tokens > 0 {
		b.tokens--
		return true
	}
	return false
}

// RetryAfter returns seconds until the caller's window for this class resets.
func (t *Throttle) RetryAfter(ip string, class OpClass) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	b, ok := t.buckets[throttleKey{ip: ip, class: class}]
	if !ok {
		return 0
	}
	remaining := t.budgets[class].window - time.Since(b.lastReset)
	if remaining < 0 {
		return 0
	}
	return int(remaining.Seconds()) + 1
}

func (t *Throttle) cleanup() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	for key, b := range t.buckets {
		if now.Sub(b.lastReset) > 2*t.budgets[key.class].window {
			delete(t.buckets, key)
		}
	}
}

// Throttled wraps an admin handler with the class budget. Returns 429
// with a Retry-After header when the caller's budget is exhausted.
func Throttled(t *Throttle, class OpClass, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !t.Allow(ip, class) {
			w.Header().Set("Retry-After", strconv.Itoa(t.RetryAfter(ip, class)))
			writeError(w, http.StatusTooManyRequests, "control plane budget exhausted")
			return
		}
		next(w, r)
	}
}

// clientIP extracts the caller address, preferring X-Forwarded-For for
// proxied requests and stripping the port from RemoteAddr.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.IndexByte(xff, ','); idx >= 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	ip := r.RemoteAddr
	if idx := strings.LastIndexByte(ip, ':'); idx >= 0 {
		ip = ip[:idx]
	}
	return ip
}
