package session

import (
	"testing"
	"time"

	"github.com/setcue/setcue/internal/match"
	"github.com/setcue/setcue/internal/protocol"
)

func override(m *Manager, conn Conn, p *protocol.ManualOverridePayload) {
	m.HandleManualOverride(conn, p, time.Now())
}

func TestOverride_NoSession(t *testing.T) {
	m := newTestManager(nil)
	conn := newFakeConn("c1")

	override(m, conn, &protocol.ManualOverridePayload{Action: protocol.ActionNextSlide})
	if got := conn.lastError(t); got.Code != protocol.CodeNoSession {
		t.Errorf("code = %q, want NO_SESSION", got.Code)
	}
}

func TestOverride_NextSlideWithinSong(t *testing.T) {
	m := newTestManager(nil)
	c1, c2 := newFakeConn("c1"), newFakeConn("c2")
	startSession(t, m, c1, "ev1")
	startSession(t, m, c2, "ev1")
	c1.clear()
	c2.clear()

	override(m, c1, &protocol.ManualOverridePayload{Action: protocol.ActionNextSlide})

	if song, slide, line := position(t, m, c1); song != 0 || slide != 1 || line != 2 {
		t.Fatalf("position = (%d, %d, %d), want (0, 1, 2)", song, slide, line)
	}

	// Manual moves broadcast to the whole event, flagged as manual.
	for _, conn := range []*fakeConn{c1, c2} {
		updates := conn.byType(protocol.TypeDisplayUpdate)
		if len(updates) != 1 {
			t.Fatalf("conn %s got %d DISPLAY_UPDATE, want 1", conn.id, len(updates))
		}
		d := displayOf(t, updates[0])
		if d.SlideIndex != 1 || d.IsAutoAdvance {
			t.Errorf("conn %s display = %+v, want slide 1 manual", conn.id, d)
		}
		if d.MatchConfidence != 0 {
			t.Errorf("conn %s MatchConfidence = %v, want 0", conn.id, d.MatchConfidence)
		}
		if len(conn.byType(protocol.TypeSongChanged)) != 0 {
			t.Errorf("conn %s got SONG_CHANGED for a within-song move", conn.id)
		}
	}

	// Within-song moves keep auto-follow on.
	s := m.SessionFor(c1)
	s.mu.Lock()
	autoFollow := s.autoFollow
	s.mu.Unlock()
	if !autoFollow {
		t.Error("autoFollow disabled by a slide-only move")
	}
}

func TestOverride_NextSlideCrossesSongBoundary(t *testing.T) {
	m := newTestManager(nil)
	conn := newFakeConn("c1")
	startSession(t, m, conn, "ev1")

	// Amazing Grace has two slides; two NEXTs land on Holy Forever.
	override(m, conn, &protocol.ManualOverridePayload{Action: protocol.ActionNextSlide})
	conn.clear()
	override(m, conn, &protocol.ManualOverridePayload{Action: protocol.ActionNextSlide})

	if song, slide, _ := position(t, m, conn); song != 1 || slide != 0 {
		t.Fatalf("position = (%d, %d), want (1, 0)", song, slide)
	}

	msgs := conn.messages()
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want SONG_CHANGED + DISPLAY_UPDATE", len(msgs))
	}
	if msgs[0].Type != protocol.TypeSongChanged {
		t.Errorf("first message = %q, want SONG_CHANGED", msgs[0].Type)
	}
	p := msgs[0].Payload.(protocol.SongChangedPayload)
	if p.SongID != "hf" || p.SongIndex != 1 || p.TotalSlides != 1 {
		t.Errorf("SONG_CHANGED = %+v", p)
	}
	if msgs[1].Type != protocol.TypeDisplayUpdate {
		t.Errorf("second message = %q, want DISPLAY_UPDATE", msgs[1].Type)
	}

	// A manual song change parks auto-follow.
	s := m.SessionFor(conn)
	s.mu.Lock()
	autoFollow := s.autoFollow
	s.mu.Unlock()
	if autoFollow {
		t.Error("autoFollow still on after a manual song change")
	}
}

func TestOverride_PrevSlideCrossesBack(t *testing.T) {
	m := newTestManager(nil)
	conn := newFakeConn("c1")
	startSession(t, m, conn, "ev1")

	idx := 1
	override(m, conn, &protocol.ManualOverridePayload{Action: protocol.ActionGoToItem, ItemIndex: &idx})
	conn.clear()

	// PREV from the second song's first slide lands on the first song's
	// last slide.
	override(m, conn, &protocol.ManualOverridePayload{Action: protocol.ActionPrevSlide})

	if song, slide, line := position(t, m, conn); song != 0 || slide != 1 || line != 2 {
		t.Errorf("position = (%d, %d, %d), want (0, 1, 2)", song, slide, line)
	}
	if len(conn.byType(protocol.TypeSongChanged)) != 1 {
		t.Error("crossing back did not announce the song change")
	}
}

func TestOverride_BoundaryNoOps(t *testing.T) {
	m := newTestManager(nil)
	conn := newFakeConn("c1")
	startSession(t, m, conn, "ev1")
	conn.clear()

	// At the very start of the setlist PREV has nowhere to go.
	override(m, conn, &protocol.ManualOverridePayload{Action: protocol.ActionPrevSlide})
	if msgs := conn.messages(); len(msgs) != 0 {
		t.Errorf("got %d messages for a no-op PREV, want 0", len(msgs))
	}

	// Walk to the very end, then NEXT is a no-op too.
	for range 2 {
		override(m, conn, &protocol.ManualOverridePayload{Action: protocol.ActionNextSlide})
	}
	conn.clear()
	override(m, conn, &protocol.ManualOverridePayload{Action: protocol.ActionNextSlide})
	if msgs := conn.messages(); len(msgs) != 0 {
		t.Errorf("got %d messages for a no-op NEXT, want 0", len(msgs))
	}
	if song, slide, _ := position(t, m, conn); song != 1 || slide != 0 {
		t.Errorf("position = (%d, %d), want (1, 0)", song, slide)
	}
}

func TestOverride_GoToCurrentSlideIsIdempotent(t *testing.T) {
	m := newTestManager(nil)
	conn := newFakeConn("c1")
	startSession(t, m, conn, "ev1")
	conn.clear()

	idx := 0
	override(m, conn, &protocol.ManualOverridePayload{Action: protocol.ActionGoToSlide, SlideIndex: &idx})
	if msgs := conn.messages(); len(msgs) != 0 {
		t.Errorf("got %d messages for a same-position override, want 0", len(msgs))
	}
}

func TestOverride_GoToSlideOutOfRange(t *testing.T) {
	m := newTestManager(nil)
	c1, c2 := newFakeConn("c1"), newFakeConn("c2")
	startSession(t, m, c1, "ev1")
	startSession(t, m, c2, "ev1")
	c1.clear()
	c2.clear()

	idx := 7
	override(m, c1, &protocol.ManualOverridePayload{Action: protocol.ActionGoToSlide, SlideIndex: &idx})

	if got := c1.lastError(t); got.Code != protocol.CodeValidationError {
		t.Errorf("code = %q, want VALIDATION_ERROR", got.Code)
	}
	if len(c2.messages()) != 0 {
		t.Error("validation error leaked to other connections")
	}
	if _, slide, _ := position(t, m, c1); slide != 0 {
		t.Errorf("slide = %d after a rejected override, want 0", slide)
	}
}

func TestOverride_GoToItemBySongID(t *testing.T) {
	m := newTestManager(nil)
	conn := newFakeConn("c1")
	startSession(t, m, conn, "ev1")
	conn.clear()

	override(m, conn, &protocol.ManualOverridePayload{Action: protocol.ActionGoToItem, SongID: "hf"})
	if song, slide, _ := position(t, m, conn); song != 1 || slide != 0 {
		t.Errorf("position = (%d, %d), want (1, 0)", song, slide)
	}

	// itemId resolves against the same song ids.
	conn.clear()
	override(m, conn, &protocol.ManualOverridePayload{Action: protocol.ActionGoToItem, ItemID: "ag"})
	if song, _, _ := position(t, m, conn); song != 0 {
		t.Errorf("song = %d, want 0", song)
	}
}

func TestOverride_GoToItemWithSlide(t *testing.T) {
	m := newTestManager(nil)
	conn := newFakeConn("c1")
	startSession(t, m, conn, "ev1")

	// Move away first so targeting (ag, slide 1) is a real change.
	override(m, conn, &protocol.ManualOverridePayload{Action: protocol.ActionGoToItem, SongID: "hf"})
	conn.clear()

	idx := 1
	override(m, conn, &protocol.ManualOverridePayload{
		Action: protocol.ActionGoToItem, SongID: "ag", SlideIndex: &idx,
	})
	if song, slide, line := position(t, m, conn); song != 0 || slide != 1 || line != 2 {
		t.Errorf("position = (%d, %d, %d), want (0, 1, 2)", song, slide, line)
	}

	// The slide index validates against the target song, not the current one.
	conn.clear()
	bad := 5
	override(m, conn, &protocol.ManualOverridePayload{
		Action: protocol.ActionGoToItem, SongID: "hf", SlideIndex: &bad,
	})
	if got := conn.lastError(t); got.Code != protocol.CodeValidationError {
		t.Errorf("code = %q, want VALIDATION_ERROR", got.Code)
	}
}

func TestOverride_UnknownTargets(t *testing.T) {
	m := newTestManager(nil)
	conn := newFakeConn("c1")
	startSession(t, m, conn, "ev1")
	conn.clear()

	cases := []*protocol.ManualOverridePayload{
		{Action: protocol.ActionGoToItem, SongID: "missing"},
		{Action: protocol.ActionGoToItem, ItemID: "missing"},
		{Action: protocol.OverrideAction("SIDEWAYS")},
	}
	bad := 9
	cases = append(cases, &protocol.ManualOverridePayload{Action: protocol.ActionGoToItem, ItemIndex: &bad})

	for _, p := range cases {
		conn.clear()
		override(m, conn, p)
		if got := conn.lastError(t); got.Code != protocol.CodeValidationError {
			t.Errorf("action %+v code = %q, want VALIDATION_ERROR", p, got.Code)
		}
	}
}

func TestOverride_ClearsFollowState(t *testing.T) {
	m := newTestManager(nil)
	conn := newFakeConn("c1")
	startSession(t, m, conn, "ev1")

	s := m.SessionFor(conn)
	s.mu.Lock()
	s.buffer = "amazing grace how sweet the sound"
	s.pendingSwitch = &match.SuggestedSwitch{SongIndex: 1}
	s.pendingSwitchCount = 1
	s.endTriggerLine = 0
	s.endTriggerHits = 1
	s.mu.Unlock()

	override(m, conn, &protocol.ManualOverridePayload{Action: protocol.ActionNextSlide})

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.buffer != "" {
		t.Errorf("buffer = %q after override, want empty", s.buffer)
	}
	if s.pendingSwitch != nil || s.pendingSwitchCount != 0 {
		t.Error("pending switch debounce not cleared")
	}
	if s.endTriggerHits != 0 || s.endTriggerLine != -1 {
		t.Error("end-trigger debounce not cleared")
	}
	if s.songCtx.CurrentLine != 2 {
		t.Errorf("matcher context line = %d, want 2", s.songCtx.CurrentLine)
	}
}
