package bridge

import (
	"sync"
	"time"
)

const defaultDebounceDelay = 100 * time.Millisecond

// debouncer suppresses bursts of file events for the same key. Editors
// and atomic renames produce several fsnotify events per logical write.
type debouncer struct {
	delay time.Duration

	mu    sync.Mutex
	last  map[string]time.Time
	calls int
}

func newDebouncer(delay time.Duration) *debouncer {
	if delay <= 0 {
		delay = defaultDebounceDelay
	}
	return &debouncer{
		delay: delay,
		last:  make(map[string]time.Time),
	}
}

// ShouldEmit reports whether an event for key should pass through.
// Nil-safe; empty keys are never tracked and always pass.
func (d *debouncer) ShouldEmit(key string) bool {
	if d == nil {
		return true
	}
	if key == "" {
		return true
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()

	d.calls++
	if d.calls >= 100 {
		d.calls = 0
		d.cleanupLocked(now)
	}

	if prev, ok := d.last[key]; ok && now.Sub(prev) < d.delay {
		return false
	}
	d.last[key] = now
	return true
}

func (d *debouncer) cleanupLocked(now time.Time) {
	maxAge := 10 * d.delay
	for key, seen := range d.last {
		if now.Sub(seen) > maxAge {
			delete(d.last, key)
		}
	}
}
