package session

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/setcue/setcue/internal/match"
	"github.com/setcue/setcue/internal/protocol"
	"github.com/setcue/setcue/pkg/provider/stt"
)

// maxDeltaBufferWords bounds the raw rolling buffer for delta-mode providers;
// cumulative providers replace the buffer wholesale so no bound is needed.
const maxDeltaBufferWords = 100

// handleTranscript is the entry point for every transcript the shared stream
// produces: it broadcasts TRANSCRIPT_UPDATE to the whole event first, then
// runs the follow pipeline independently for each session. The broadcast
// happens before any session processing so clients always see the transcript
// before any display change it caused.
func (m *Manager) handleTranscript(eventID string, handle stt.StreamHandle, t stt.Transcript) {
	if strings.TrimSpace(t.Text) == "" {
		return
	}

	g := m.groupFor(eventID)
	if g == nil {
		return
	}

	g.mu.Lock()
	if g.stream.handle != handle {
		// Transcript from a handle the watchdog already replaced.
		g.mu.Unlock()
		return
	}
	now := m.now()
	if !g.stream.lastAudioAt.IsZero() {
		m.metrics.TranscriptLatency.Record(context.Background(),
			now.Sub(g.stream.lastAudioAt).Seconds())
	}
	g.stream.lastTranscriptAt = now
	mode := g.stream.mode
	sessions := make([]*Session, len(g.sessions))
	copy(sessions, g.sessions)
	conns := make([]Conn, len(g.sessions))
	for i, s := range g.sessions {
		conns[i] = s.conn
	}
	g.mu.Unlock()

	m.broadcastTo(conns, protocol.ServerMessage{
		Type: protocol.TypeTranscriptUpdate,
		Payload: protocol.TranscriptUpdatePayload{
			Text:       t.Text,
			IsFinal:    t.IsFinal,
			Confidence: t.Confidence,
		},
	})

	for _, s := range sessions {
		m.processTranscript(s, conns, t, mode)
	}
}

// handleStreamError routes a stream-level failure to the session whose audio
// most recently fed the stream and marks the handle for restart on the next
// audio frame.
func (m *Manager) handleStreamError(eventID string, handle stt.StreamHandle, err error) {
	g := m.groupFor(eventID)
	if g == nil {
		return
	}

	g.mu.Lock()
	if g.stream.handle != handle {
		g.mu.Unlock()
		return
	}
	g.stream.needsRestart = true
	var conn Conn
	if g.stream.lastWriter != nil {
		conn = g.stream.lastWriter.conn
	}
	g.mu.Unlock()

	slog.Warn("stt stream error", "event_id", eventID, "err", err)
	if conn != nil {
		msg := protocol.NewError(protocol.CodeSTTError,
			"transcription backend reported a stream error")
		msg.StampTiming(time.Time{})
		m.send(conn, msg)
	}
	m.metrics.RecordError(context.Background(), string(protocol.CodeSTTError))
}

// processTranscript folds one transcript into a session's rolling buffer and,
// when auto-follow is active, runs the matcher and acts on the outcome.
// conns is the event's connection snapshot for any resulting broadcasts.
func (m *Manager) processTranscript(s *Session, conns []Conn, t stt.Transcript, mode stt.TranscriptMode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	switch mode {
	case stt.ModeCumulative:
		s.buffer = t.Text
	default:
		if s.buffer == "" {
			s.buffer = t.Text
		} else {
			s.buffer = s.buffer + " " + t.Text
		}
		s.buffer = match.LastWords(s.buffer, maxDeltaBufferWords)
	}

	if !s.autoFollow {
		return
	}
	if !t.IsFinal && !m.allowPartial {
		return
	}

	cleaned := match.CleanBuffer(s.buffer, s.matchCfg.BufferWindowWords)
	if match.WordCount(cleaned) < s.matchCfg.MinBufferWords {
		return
	}

	start := time.Now()
	multi := match.FindBestMatchAcrossAllSongs(cleaned, s.event.Songs, s.songIndex, s.songCtx, s.matchCfg)
	m.metrics.MatchDuration.Record(context.Background(), time.Since(start).Seconds())

	if s.matchCfg.Debug {
		slog.Debug("match result",
			"session_id", s.id,
			"buffer", cleaned,
			"line", multi.Current.LineIndex,
			"confidence", multi.Current.Confidence,
			"line_end", multi.Current.IsLineEnd,
			"reason", multi.Current.AdvanceReason,
			"suggested", multi.Suggested != nil,
		)
	}

	if m.maybeSwitch(s, conns, multi.Suggested) {
		return
	}

	r := multi.Current
	if !r.MatchFound {
		return
	}
	s.lastConfidence = r.Confidence

	if r.IsLineEnd {
		m.applyAdvance(s, conns, r)
	}
}

// maybeSwitch runs the song-switch debounce. Returns true when a switch was
// performed (the caller's match result belongs to the old song and must be
// discarded).
func (m *Manager) maybeSwitch(s *Session, conns []Conn, sug *match.SuggestedSwitch) bool {
	if sug == nil {
		s.resetPendingSwitch()
		return false
	}

	// Quiet period after any song change, manual ones included.
	if !s.lastSwitchAt.IsZero() && m.now().Sub(s.lastSwitchAt) < m.followCfg.SwitchCooldown {
		return false
	}

	if s.pendingSwitch != nil && s.pendingSwitch.SongIndex == sug.SongIndex {
		s.pendingSwitchCount++
	} else {
		s.pendingSwitch = sug
		s.pendingSwitchCount = 1
	}

	if s.pendingSwitchCount < m.followCfg.SwitchDebounceMatches {
		return false
	}

	if sug.Confidence >= m.followCfg.AutoSwitchFloor {
		m.performSwitch(s, conns, sug)
		return true
	}

	// Confident enough to mention, not enough to act. The suggestion goes to
	// this session's own connection only; the operator decides.
	msg := protocol.ServerMessage{
		Type: protocol.TypeSongSuggestion,
		Payload: protocol.SongSuggestionPayload{
			SuggestedSongID:    sug.SongID,
			SuggestedSongTitle: sug.SongTitle,
			SuggestedSongIndex: sug.SongIndex,
			Confidence:         sug.Confidence,
			MatchedLine:        sug.MatchedLine,
		},
	}
	msg.StampTiming(time.Time{})
	m.send(s.conn, msg)
	s.resetPendingSwitch()
	return false
}

// performSwitch moves the session to the suggested song and line and
// broadcasts the change. Callers hold s.mu.
func (m *Manager) performSwitch(s *Session, conns []Conn, sug *match.SuggestedSwitch) {
	s.songIndex = sug.SongIndex
	s.lineIndex = sug.MatchedLineIndex
	song := s.currentSong()
	s.slideIndex = song.LineToSlide[s.lineIndex]
	s.buffer = ""
	s.lastConfidence = sug.Confidence
	s.lastSwitchAt = m.now()
	s.resetPendingSwitch()
	s.resetEndTrigger()
	s.rebuildContext()

	slog.Info("auto song switch",
		"session_id", s.id,
		"song_id", sug.SongID,
		"song_index", sug.SongIndex,
		"confidence", sug.Confidence,
	)
	m.metrics.SongSwitches.Add(context.Background(), 1)

	m.broadcastTo(conns, protocol.ServerMessage{
		Type:    protocol.TypeSongChanged,
		Payload: s.songChangedPayload(),
	})
	m.broadcastTo(conns, protocol.ServerMessage{
		Type:    protocol.TypeDisplayUpdate,
		Payload: s.displayPayload(sug.Confidence, true),
	})
}

// applyAdvance acts on an accepted line-end result: the end-words trigger is
// debounced, jumps are not, and slides only ever move forward under
// auto-follow. A display update is broadcast only when the slide actually
// changes. Callers hold s.mu.
func (m *Manager) applyAdvance(s *Session, conns []Conn, r match.Result) {
	if r.AdvanceReason == match.ReasonEndWords {
		now := m.now()
		if s.endTriggerLine == s.songCtx.CurrentLine &&
			now.Sub(s.endTriggerFirst) <= m.followCfg.EndTriggerDebounceWindow {
			s.endTriggerHits++
		} else {
			s.endTriggerLine = s.songCtx.CurrentLine
			s.endTriggerHits = 1
			s.endTriggerFirst = now
		}
		if s.endTriggerHits < m.followCfg.EndTriggerDebounceMatches {
			return
		}
	}
	s.resetEndTrigger()

	song := s.currentSong()
	target := r.NextLineIndex
	if target < 0 || target >= len(song.Lines) {
		return
	}

	newSlide := song.LineToSlide[target]
	if newSlide < s.slideIndex {
		// Auto-follow never moves the display backward; repeated refrains
		// earlier in the song must not rewind the projector.
		return
	}

	s.lineIndex = target
	if newSlide == s.slideIndex {
		// Position advanced within the slide; nothing visible changed.
		s.rebuildContext()
		return
	}

	s.slideIndex = newSlide
	s.rebuildContext()
	// Keep only the matched line: older buffered words belong to already
	// displayed slides and would re-trigger matches against them.
	s.buffer = song.Lines[target]

	m.metrics.RecordSlideAdvance(context.Background(), r.AdvanceReason)
	m.broadcastTo(conns, protocol.ServerMessage{
		Type:    protocol.TypeDisplayUpdate,
		Payload: s.displayPayload(r.Confidence, true),
	})
}
