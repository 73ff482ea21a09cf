package ratelimit

import (
	"testing"
	"time"
)

func TestWindow_ExactBoundary(t *testing.T) {
	t.Parallel()
	w := NewWindow(time.Second, 3)
	for i := range 3 {
		if !w.Allow() {
			t.Fatalf("event %d rejected, want admitted", i+1)
		}
	}
	if w.Allow() {
		t.Error("event 4 admitted, want rejected")
	}
}

func TestWindow_RejectedEventsNotRecorded(t *testing.T) {
	t.Parallel()
	base := time.Unix(1700000000, 0)
	clock := base
	w := NewWindow(time.Second, 2)
	w.SetClock(func() time.Time { return clock })

	w.Allow()
	w.Allow()

	// A burst of rejected events must not push the recovery point out.
	for range 10 {
		clock = clock.Add(50 * time.Millisecond)
		if w.Allow() {
			t.Fatal("event admitted while over budget")
		}
	}

	// One second after the first admitted event its timestamp slides out.
	clock = base.Add(time.Second + time.Millisecond)
	if !w.Allow() {
		t.Error("event rejected after the window slid past the first admission")
	}
}

func TestWindow_Slides(t *testing.T) {
	t.Parallel()
	base := time.Unix(1700000000, 0)
	clock := base
	w := NewWindow(time.Second, 2)
	w.SetClock(func() time.Time { return clock })

	w.Allow() // t=0
	clock = base.Add(600 * time.Millisecond)
	w.Allow() // t=0.6

	clock = base.Add(900 * time.Millisecond)
	if w.Allow() {
		t.Error("third event inside the window admitted")
	}

	// t=1.1: the t=0 event has expired, the t=0.6 event has not.
	clock = base.Add(1100 * time.Millisecond)
	if !w.Allow() {
		t.Error("event rejected after the oldest admission expired")
	}
	if w.Allow() {
		t.Error("window holds t=0.6 and t=1.1, a third event must be rejected")
	}
}

func TestLimiter_IndependentWindows(t *testing.T) {
	t.Parallel()
	l := New(Config{
		ControlWindow: time.Second,
		ControlLimit:  1,
		AudioWindow:   time.Second,
		AudioLimit:    2,
	})

	if !l.AllowControl() {
		t.Fatal("first control message rejected")
	}
	if l.AllowControl() {
		t.Error("second control message admitted, want rejected")
	}

	// Exhausting the control budget must not touch the audio budget.
	if !l.AllowAudio() || !l.AllowAudio() {
		t.Error("audio frames rejected within budget")
	}
	if l.AllowAudio() {
		t.Error("third audio frame admitted, want rejected")
	}
}
