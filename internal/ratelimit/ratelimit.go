// Package ratelimit implements the per-connection sliding windows that guard
// the message dispatcher: one window for control messages and one for audio
// frames. State lives with the connection and is discarded on disconnect.
package ratelimit

import (
	"sync"
	"time"
)

// Window is a sliding-window counter: at most limit events inside any
// interval of length window are admitted. The boundary is exact: the
// limit-th event in a window succeeds and the (limit+1)-th is rejected.
//
// All methods are safe for concurrent use.
type Window struct {
	mu     sync.Mutex
	window time.Duration
	limit  int
	stamps []time.Time

	// now is swappable for tests.
	now func() time.Time
}

// NewWindow creates a sliding window admitting limit events per window.
func NewWindow(window time.Duration, limit int) *Window {
	return &Window{
		window: window,
		limit:  limit,
		stamps: make([]time.Time, 0, limit),
		now:    time.Now,
	}
}

// Allow records one event and reports whether it is within budget.
// Rejected events are not recorded, so a client that keeps sending while
// limited does not push its recovery point further out.
func (w *Window) Allow() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	cutoff := now.Add(-w.window)

	// Drop timestamps that have slid out of the window.
	keep := 0
	for ; keep < len(w.stamps); keep++ {
		if w.stamps[keep].After(cutoff) {
			break
		}
	}
	if keep > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[keep:]...)
	}

	if len(w.stamps) >= w.limit {
		return false
	}
	w.stamps = append(w.stamps, now)
	return true
}

// SetClock replaces the window's clock. Test hook.
func (w *Window) SetClock(now func() time.Time) {
	w.mu.Lock()
	w.now = now
	w.mu.Unlock()
}

// Limiter bundles the two windows a connection carries.
type Limiter struct {
	control *Window
	audio   *Window
}

// Config holds the window lengths and budgets for a [Limiter].
type Config struct {
	ControlWindow time.Duration
	ControlLimit  int
	AudioWindow   time.Duration
	AudioLimit    int
}

// New creates a per-connection Limiter from cfg.
func New(cfg Config) *Limiter {
	return &Limiter{
		control: NewWindow(cfg.ControlWindow, cfg.ControlLimit),
		audio:   NewWindow(cfg.AudioWindow, cfg.AudioLimit),
	}
}

// AllowControl admits one control message.
func (l *Limiter) AllowControl() bool { return l.control.Allow() }

// AllowAudio admits one audio frame.
func (l *Limiter) AllowAudio() bool { return l.audio.Allow() }
