// Package ratelimit provides sliding-window limiters for websocket
// connections and for keyed HTTP throttles such as login attempts.
package ratelimit

import (
	"sync"
	"time"
)

const (
	defaultLimit  = 20
	defaultWindow = 5 * time.Second
)

// Window is a sliding-window limiter for a single subject.
type Window struct {
	mu     sync.Mutex
	events []time.Time
	limit  int
	window time.Duration
}

// NewWindow constructs a Window, falling back to defaults for invalid inputs.
func NewWindow(limit int, window time.Duration) *Window {
	if limit <= 0 {
		limit = defaultLimit
	}
	if window <= 0 {
		window = defaultWindow
	}
	return &Window{
		events: make([]time.Time, 0, limit+8),
		limit:  limit,
		window: window,
	}
}

// Allow reports whether an event at now is permitted and records it if so.
func (w *Window) Allow(now time.Time) bool {
	ok, _ := w.Reserve(now)
	return ok
}

// Reserve is Allow that also reports how long until the oldest event in the
// window expires when the event is rejected.
func (w *Window) Reserve(now time.Time) (bool, time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pruneLocked(now)
	if len(w.events) >= w.limit {
		return false, w.events[0].Add(w.window).Sub(now)
	}
	w.events = append(w.events, now)
	return true, 0
}

// idle reports whether the window holds no events newer than now-window.
func (w *Window) idle(now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pruneLocked(now)
	return len(w.events) == 0
}

func (w *Window) pruneLocked(now time.Time) {
	cut := now.Add(-w.window)
	dst := w.events[:0]
	for _, t := range w.events {
		if t.After(cut) {
			dst = append(dst, t)
		}
	}
	w.events = dst
}
