package session

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/setcue/setcue/internal/protocol"
)

// HandleManualOverride applies an operator slide or item change. Manual moves
// may go backward; a manual song change additionally disables auto-follow for
// the session until it reconnects. An override that resolves to the current
// position is a no-op and broadcasts nothing.
func (m *Manager) HandleManualOverride(conn Conn, p *protocol.ManualOverridePayload, receivedAt time.Time) {
	s, g := m.lookup(conn)
	if s == nil {
		m.sendError(conn, protocol.NewError(protocol.CodeNoSession,
			"MANUAL_OVERRIDE requires an active session"), receivedAt)
		return
	}

	// Snapshot before taking the session lock; broadcasting must not touch
	// the group lock from under it.
	conns := g.conns()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	songIdx, slideIdx, err := s.resolveOverride(p)
	if err != nil {
		m.sendError(conn, protocol.NewError(protocol.CodeValidationError, err.Error()), receivedAt)
		return
	}

	if songIdx == s.songIndex && slideIdx == s.slideIndex {
		return
	}

	songChanged := songIdx != s.songIndex
	s.songIndex = songIdx
	s.slideIndex = slideIdx
	song := s.currentSong()
	s.lineIndex = song.Slides[slideIdx].StartLine

	// Buffered speech belongs to the position the operator just left; keep it
	// and the matcher would immediately pull the display back.
	s.buffer = ""
	s.resetPendingSwitch()
	s.resetEndTrigger()
	s.rebuildContext()

	if songChanged {
		s.autoFollow = false
		s.lastSwitchAt = m.now()
		slog.Info("manual song change",
			"session_id", s.id,
			"song_id", song.ID,
			"song_index", songIdx,
			"action", string(p.Action),
		)
		m.broadcastTo(conns, protocol.ServerMessage{
			Type:    protocol.TypeSongChanged,
			Payload: s.songChangedPayload(),
		})
	}

	m.broadcastTo(conns, protocol.ServerMessage{
		Type:    protocol.TypeDisplayUpdate,
		Payload: s.displayPayload(0, false),
	})
}

// resolveOverride maps an override action to a target (song, slide) position.
// NEXT_SLIDE and PREV_SLIDE cross song boundaries; at the very start or end
// of the setlist they resolve to the current position. Callers hold s.mu.
func (s *Session) resolveOverride(p *protocol.ManualOverridePayload) (songIdx, slideIdx int, err error) {
	switch p.Action {
	case protocol.ActionNextSlide:
		song := s.currentSong()
		if s.slideIndex+1 < len(song.Slides) {
			return s.songIndex, s.slideIndex + 1, nil
		}
		if s.songIndex+1 < len(s.event.Songs) {
			return s.songIndex + 1, 0, nil
		}
		return s.songIndex, s.slideIndex, nil

	case protocol.ActionPrevSlide:
		if s.slideIndex > 0 {
			return s.songIndex, s.slideIndex - 1, nil
		}
		if s.songIndex > 0 {
			prev := s.event.Songs[s.songIndex-1]
			return s.songIndex - 1, len(prev.Slides) - 1, nil
		}
		return s.songIndex, s.slideIndex, nil

	case protocol.ActionGoToSlide:
		if p.SlideIndex == nil {
			return 0, 0, fmt.Errorf("GO_TO_SLIDE requires slideIndex")
		}
		song := s.currentSong()
		if *p.SlideIndex < 0 || *p.SlideIndex >= len(song.Slides) {
			return 0, 0, fmt.Errorf("slideIndex %d out of range [0, %d)", *p.SlideIndex, len(song.Slides))
		}
		return s.songIndex, *p.SlideIndex, nil

	case protocol.ActionGoToItem:
		idx := -1
		switch {
		case p.SongID != "":
			idx = s.event.SongByID(p.SongID)
			if idx < 0 {
				return 0, 0, fmt.Errorf("unknown songId %q", p.SongID)
			}
		case p.ItemID != "":
			idx = s.event.SongByID(p.ItemID)
			if idx < 0 {
				return 0, 0, fmt.Errorf("unknown itemId %q", p.ItemID)
			}
		case p.ItemIndex != nil:
			idx = *p.ItemIndex
			if idx < 0 || idx >= len(s.event.Songs) {
				return 0, 0, fmt.Errorf("itemIndex %d out of range [0, %d)", idx, len(s.event.Songs))
			}
		default:
			return 0, 0, fmt.Errorf("GO_TO_ITEM requires songId, itemId, or itemIndex")
		}

		target := 0
		if p.SlideIndex != nil {
			song := s.event.Songs[idx]
			if *p.SlideIndex < 0 || *p.SlideIndex >= len(song.Slides) {
				return 0, 0, fmt.Errorf("slideIndex %d out of range [0, %d)", *p.SlideIndex, len(song.Slides))
			}
			target = *p.SlideIndex
		}
		return idx, target, nil

	default:
		return 0, 0, fmt.Errorf("unsupported override action %q", p.Action)
	}
}
