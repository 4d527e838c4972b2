// Package ratelimit throttles actors per action class.
//
// The limiter is purely in-memory: counts are lost on restart, which is
// acceptable because it only protects against bursts of repeated taps on
// the same control.
package ratelimit

import (
	"fmt"
	"sync"
	"time"

	"github.com/PengC8899/didi-bot/internal/clock"
	"github.com/PengC8899/didi-bot/internal/order"
)

// Class groups actions that share a quota.
type Class string

const (
	ClassApply   Class = "apply"
	ClassApprove Class = "approve"
	ClassReject  Class = "reject"
	ClassDone    Class = "done"
	ClassCancel  Class = "cancel"
	ClassCommand Class = "generic-command"
)

// Default quota: one action per 5 seconds per (actor, class).
const (
	DefaultWindow = 5 * time.Second
	DefaultLimit  = 1
)

// Limiter decides whether an actor may perform an action of a class now.
// Allow both checks and records: a nil return consumes one slot.
type Limiter interface {
	Allow(actorID int64, class Class) error
}

type key struct {
	actor int64
	class Class
}

// Window is a sliding-window Limiter. Each (actor, class) pair may perform
// at most limit actions within any window-long interval.
//
// Thread-safety: Allow is atomic per key; a single mutex guards the map and
// is never held across I/O.
type Window struct {
	mu     sync.Mutex
	clock  clock.Clock
	window time.Duration
	limit  int
	seen   map[key][]time.Time
	swept  time.Time
}

// Option configures a Window limiter.
type Option func(*Window)

// WithClock sets the time source (default: clock.Real()).
func WithClock(c clock.Clock) Option {
	return func(w *Window) { w.clock = c }
}

// NewWindow creates a limiter allowing limit actions per window.
// Non-positive arguments fall back to the defaults.
func NewWindow(window time.Duration, limit int, opts ...Option) *Window {
	if window <= 0 {
		window = DefaultWindow
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	w := &Window{
		clock:  clock.Real(),
		window: window,
		limit:  limit,
		seen:   make(map[key][]time.Time),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Allow records an action for (actorID, class) or returns a RateLimited
// error if the quota for the current window is used up.
func (w *Window) Allow(actorID int64, class Class) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.clock.Now()
	k := key{actor: actorID, class: class}
	if now.Sub(w.swept) >= w.window {
		w.sweep(now)
	}

	kept := w.prune(k, now)
	if len(kept) >= w.limit {
		retry := w.window - now.Sub(kept[0])
		return &order.Error{
			Code:    order.CodeRateLimited,
			Message: fmt.Sprintf("%s: limit %d per %s reached, retry in %s", class, w.limit, w.window, retry),
		}
	}

	w.seen[k] = append(kept, now)
	return nil
}

// prune drops the timestamps of k that fell out of the window and deletes
// the key once none remain.
func (w *Window) prune(k key, now time.Time) []time.Time {
	kept := w.seen[k][:0]
	for _, ts := range w.seen[k] {
		if now.Sub(ts) < w.window {
			kept = append(kept, ts)
		}
	}
	if len(kept) == 0 {
		delete(w.seen, k)
		return nil
	}
	w.seen[k] = kept
	return kept
}

// sweep prunes every key. It runs at most once per window, so idle actors
// do not accumulate.
func (w *Window) sweep(now time.Time) {
	for k := range w.seen {
		w.prune(k, now)
	}
	w.swept = now
}

// Len returns the number of (actor, class) pairs currently tracked.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.seen)
}

// Reset forgets all recorded actions.
func (w *Window) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.seen = make(map[key][]time.Time)
}

// Unlimited is a Limiter that allows everything.
type Unlimited struct{}

// Allow always returns nil.
func (Unlimited) Allow(int64, Class) error { return nil }
