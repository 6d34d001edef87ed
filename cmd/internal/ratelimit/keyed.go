package ratelimit

import (
	"sync"
	"time"
)

// sweepEvery bounds how often Keyed drops idle windows.
const sweepEvery = time.Minute

// Keyed holds one Window per key, e.g. per client IP.
type Keyed struct {
	mu        sync.Mutex
	windows   map[string]*Window
	limit     int
	window    time.Duration
	lastSweep time.Time
}

// NewKeyed returns a keyed limiter allowing limit events per window for each key.
func NewKeyed(limit int, window time.Duration) *Keyed {
	if limit <= 0 {
		limit = defaultLimit
	}
	if window <= 0 {
		window = defaultWindow
	}
	return &Keyed{
		windows: make(map[string]*Window),
		limit:   limit,
		window:  window,
	}
}

// Allow records an event for key at now. When rejected, retryAfter is the
// time until the key regains capacity. An empty key is never limited.
func (k *Keyed) Allow(key string, now time.Time) (ok bool, retryAfter time.Duration) {
	if key == "" {
		return true, 0
	}

	k.mu.Lock()
	if now.Sub(k.lastSweep) >= sweepEvery {
		k.sweepLocked(now)
		k.lastSweep = now
	}
	w, found := k.windows[key]
	if !found {
		w = NewWindow(k.limit, k.window)
		k.windows[key] = w
	}
	k.mu.Unlock()

	return w.Reserve(now)
}

// Reset forgets key, e.g. after a successful login.
func (k *Keyed) Reset(key string) {
	k.mu.Lock()
	delete(k.windows, key)
	k.mu.Unlock()
}

// Len returns the number of tracked keys.
func (k *Keyed) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.windows)
}

func (k *Keyed) sweepLocked(now time.Time) {
	for key, w := range k.windows {
		if w.idle(now) {
			delete(k.windows, key)
		}
	}
}
