// Package session implements the heart of the Setcue server: the session
// registry, the event-scoped broadcast fabric, the shared streaming-STT
// lifecycle, and the per-session follow pipeline that turns transcripts into
// authoritative display updates.
//
// One Session exists per connection. Sessions bound to the same event share
// the event snapshot (read-only) and one streaming STT handle; everything
// else (rolling buffer, matcher context, debounce counters) is owned by the
// session exclusively. Each session's work (inbound frames and transcript
// callbacks alike) is serialised by the session's own mutex.
package session

import (
	"sync"
	"time"

	"github.com/setcue/setcue/internal/match"
	"github.com/setcue/setcue/internal/protocol"
	"github.com/setcue/setcue/internal/setlist"
)

// Conn is the transport surface the session layer writes to. The server
// implements it over a WebSocket with a per-connection write lock, so Send is
// safe for concurrent use and messages are delivered in call order.
type Conn interface {
	// ID identifies the connection for registry bookkeeping and logging.
	ID() string

	// Send encodes and writes one server message. Failures are per-recipient
	// and never propagate to other connections.
	Send(msg protocol.ServerMessage) error
}

// Session is the per-connection follow state. All mutable fields are guarded
// by mu; the manager locks it for every inbound frame and every transcript
// callback, which gives each session the required serialised view.
type Session struct {
	mu sync.Mutex

	// Immutable after creation.
	id       string
	conn     Conn
	eventID  string
	event    *setlist.Event
	joinedAt time.Time

	// Current position.
	songIndex  int
	slideIndex int
	lineIndex  int

	// Rolling transcript buffer (raw, pre-cleaning) and the confidence of
	// the last accepted match.
	buffer         string
	lastConfidence float64

	// autoFollow enables automatic advancement and switching. Cleared by a
	// manual song change; never re-enabled automatically.
	autoFollow bool

	matchCfg match.Config
	songCtx  match.Context

	// Song-switch debounce state.
	pendingSwitch      *match.SuggestedSwitch
	pendingSwitchCount int
	lastSwitchAt       time.Time

	// End-trigger debounce state.
	endTriggerLine  int
	endTriggerHits  int
	endTriggerFirst time.Time

	closed bool
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// EventID returns the bound event id.
func (s *Session) EventID() string { return s.eventID }

// currentSong returns the song in focus. Callers hold s.mu.
func (s *Session) currentSong() *setlist.Song {
	return s.event.Songs[s.songIndex]
}

// rebuildContext rebuilds the matcher context at the session's current line.
// Callers hold s.mu.
func (s *Session) rebuildContext() {
	s.songCtx = match.NewContext(s.currentSong(), s.lineIndex, s.matchCfg.UseBigramEndOfSlide)
}

// resetEndTrigger clears the end-words debounce state. Callers hold s.mu.
func (s *Session) resetEndTrigger() {
	s.endTriggerLine = -1
	s.endTriggerHits = 0
	s.endTriggerFirst = time.Time{}
}

// resetPendingSwitch clears the song-switch debounce state. Callers hold s.mu.
func (s *Session) resetPendingSwitch() {
	s.pendingSwitch = nil
	s.pendingSwitchCount = 0
}

// Snapshot is the externally visible position of a session, used to
// synchronise a later-joining session to an existing one.
type Snapshot struct {
	SongIndex      int
	SlideIndex     int
	Buffer         string
	LastConfidence float64
}

// snapshot captures the sync-relevant state.
func (s *Session) snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		SongIndex:      s.songIndex,
		SlideIndex:     s.slideIndex,
		Buffer:         s.buffer,
		LastConfidence: s.lastConfidence,
	}
}

// displayPayload builds the authoritative DISPLAY_UPDATE for the session's
// current position. Callers hold s.mu.
func (s *Session) displayPayload(confidence float64, isAutoAdvance bool) protocol.DisplayUpdatePayload {
	song := s.currentSong()
	slide := song.Slides[s.slideIndex]
	line := s.lineIndex
	return protocol.DisplayUpdatePayload{
		LineText:        song.Lines[line],
		SlideText:       slide.Text,
		SlideLines:      slide.Lines,
		SlideIndex:      s.slideIndex,
		LineIndex:       &line,
		SongID:          song.ID,
		SongTitle:       song.Title,
		MatchConfidence: confidence,
		IsAutoAdvance:   isAutoAdvance,
	}
}

// songChangedPayload builds the SONG_CHANGED announcement for the current
// song. Callers hold s.mu.
func (s *Session) songChangedPayload() protocol.SongChangedPayload {
	song := s.currentSong()
	return protocol.SongChangedPayload{
		SongID:      song.ID,
		SongTitle:   song.Title,
		SongIndex:   s.songIndex,
		TotalSlides: len(song.Slides),
	}
}

// setlistPayload converts the compiled event snapshot into the wire form sent
// in SESSION_STARTED, complete enough for projector clients to render
// offline.
func setlistPayload(ev *setlist.Event) []protocol.SetlistSong {
	out := make([]protocol.SetlistSong, len(ev.Songs))
	for i, song := range ev.Songs {
		ws := protocol.SetlistSong{
			ID:               song.ID,
			Title:            song.Title,
			Artist:           song.Artist,
			Lines:            song.Lines,
			LineToSlideIndex: song.LineToSlide,
		}
		for _, slide := range song.Slides {
			ws.Slides = append(ws.Slides, protocol.SetlistSlide{
				Lines:     slide.Lines,
				SlideText: slide.Text,
			})
		}
		out[i] = ws
	}
	return out
}

// settingsPayload converts stored event settings into the broadcast form.
func settingsPayload(st setlist.Settings) protocol.EventSettingsUpdatedPayload {
	return protocol.EventSettingsUpdatedPayload{
		ProjectorFont:  st.ProjectorFont,
		BibleMode:      st.BibleMode,
		BibleVersionID: st.BibleVersionID,
		BibleFollow:    st.BibleFollow,
	}
}
