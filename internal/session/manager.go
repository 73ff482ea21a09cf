package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/setcue/setcue/internal/config"
	"github.com/setcue/setcue/internal/match"
	"github.com/setcue/setcue/internal/observe"
	"github.com/setcue/setcue/internal/protocol"
	"github.com/setcue/setcue/internal/setlist"
	"github.com/setcue/setcue/pkg/provider/stt"
)

// eventGroup holds everything shared by the sessions bound to one event: the
// immutable setlist snapshot, the operator-adjustable settings, and the
// shared STT stream. sessions is kept in join order; its first element is the
// sync source for later joiners.
type eventGroup struct {
	mu       sync.Mutex
	id       string
	event    *setlist.Event
	sessions []*Session
	settings setlist.Settings
	stream   eventStream
}

// conns snapshots the group's connections for a broadcast.
func (g *eventGroup) conns() []Conn {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Conn, len(g.sessions))
	for i, s := range g.sessions {
		out[i] = s.conn
	}
	return out
}

// Config holds the manager's dependencies and policy knobs.
type Config struct {
	// Loader resolves event ids to compiled setlist snapshots.
	Loader setlist.Loader

	// Provider is the streaming STT backend. Chunk backends arrive here
	// pre-wrapped by the provider registry; the manager never branches on
	// provider identity, only on TranscriptMode and RequiredFormat.
	Provider stt.StreamingProvider

	// Matcher carries the matcher thresholds; clamped on construction.
	Matcher config.MatcherConfig

	// Follow carries the debounce and watchdog knobs; defaults applied on
	// construction.
	Follow config.FollowConfig

	// Metrics receives the pipeline instruments. Nil selects the package
	// default.
	Metrics *observe.Metrics
}

// Manager owns the session registry and implements the message dispatch
// surface the transport calls into. All exported methods are safe for
// concurrent use.
//
// Lock order: Manager.mu, then eventGroup.mu, then Session.mu; a method may
// skip levels but never acquires a higher lock while holding a lower one.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session // by connection id
	groups   map[string]*eventGroup

	loader       setlist.Loader
	provider     stt.StreamingProvider
	matchCfg     match.Config
	allowPartial bool
	followCfg    config.FollowConfig
	metrics      *observe.Metrics

	// now is swappable for tests.
	now func() time.Time
}

// NewManager creates a Manager from cfg.
func NewManager(cfg Config) *Manager {
	mc := cfg.Matcher.Clamped()
	fc := cfg.Follow
	fc.ApplyDefaults()

	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}

	matchCfg := match.NewConfig(
		mc.SimilarityThreshold,
		mc.MinBufferWords,
		mc.BufferWindowWords,
		mc.BigramEndOfSlide(),
	)
	matchCfg.Debug = mc.Debug

	return &Manager{
		sessions:     make(map[string]*Session),
		groups:       make(map[string]*eventGroup),
		loader:       cfg.Loader,
		provider:     cfg.Provider,
		matchCfg:     matchCfg,
		allowPartial: mc.PartialMatching(),
		followCfg:    fc,
		metrics:      metrics,
		now:          time.Now,
	}
}

// SetClock replaces the manager's clock. Test hook.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

// SessionFor returns the session bound to the connection, or nil.
func (m *Manager) SessionFor(conn Conn) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[conn.ID()]
}

// ActiveSessions reports the number of live sessions.
func (m *Manager) ActiveSessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Close tears down every session and stream. Called on server shutdown.
func (m *Manager) Close() {
	m.mu.Lock()
	groups := make([]*eventGroup, 0, len(m.groups))
	for _, g := range m.groups {
		groups = append(groups, g)
	}
	n := len(m.sessions)
	m.sessions = make(map[string]*Session)
	m.groups = make(map[string]*eventGroup)
	m.mu.Unlock()

	for _, g := range groups {
		g.mu.Lock()
		m.closeStream(&g.stream)
		g.sessions = nil
		g.mu.Unlock()
	}
	if n > 0 {
		m.metrics.ActiveSessions.Add(context.Background(), -int64(n))
	}
}

// ── Frame handlers ────────────────────────────────────────────────────────────

// HandleStartSession binds the connection to an event and creates its
// session. On success the connection receives SESSION_STARTED followed by a
// DISPLAY_UPDATE for the current slide.
func (m *Manager) HandleStartSession(ctx context.Context, conn Conn, p *protocol.StartSessionPayload, receivedAt time.Time) {
	m.mu.Lock()
	_, exists := m.sessions[conn.ID()]
	m.mu.Unlock()
	if exists {
		m.sendError(conn, protocol.NewError(protocol.CodeSessionExists,
			"connection already owns a session"), receivedAt)
		return
	}

	event, err := m.loadEvent(ctx, p.EventID)
	if err != nil {
		var msg protocol.ServerMessage
		switch {
		case errors.Is(err, setlist.ErrEventNotFound):
			msg = protocol.NewError(protocol.CodeEventNotFound,
				fmt.Sprintf("event %q not found", p.EventID))
		case errors.Is(err, errEmptySetlist):
			msg = protocol.NewError(protocol.CodeEmptySetlist,
				fmt.Sprintf("event %q has no playable songs", p.EventID))
		default:
			slog.Error("event load failed", "event_id", p.EventID, "err", err)
			msg = protocol.NewError(protocol.CodeInternalError, "event load failed")
		}
		m.sendError(conn, msg, receivedAt)
		return
	}

	s := &Session{
		id:         uuid.NewString(),
		conn:       conn,
		eventID:    p.EventID,
		joinedAt:   m.now(),
		autoFollow: true,
		matchCfg:   m.matchCfg,
	}
	s.resetEndTrigger()

	m.mu.Lock()
	if _, raced := m.sessions[conn.ID()]; raced {
		m.mu.Unlock()
		m.sendError(conn, protocol.NewError(protocol.CodeSessionExists,
			"connection already owns a session"), receivedAt)
		return
	}
	g := m.groups[p.EventID]
	if g == nil {
		g = &eventGroup{id: p.EventID, event: event}
		g.stream.eventID = p.EventID
		m.groups[p.EventID] = g
	}
	m.sessions[conn.ID()] = s
	m.mu.Unlock()

	g.mu.Lock()
	// Sessions on the same event share one snapshot; the first binder wins.
	s.event = g.event
	if len(g.sessions) > 0 {
		// Sync to the earliest-joined open session so a late projector
		// mirrors the operator's position.
		snap := g.sessions[0].snapshot()
		s.songIndex = snap.SongIndex
		s.slideIndex = snap.SlideIndex
		s.buffer = snap.Buffer
		s.lastConfidence = snap.LastConfidence
	}
	// Finish position and matcher-context initialisation before the session
	// is appended: transcript callbacks walk g.sessions and read songCtx and
	// lineIndex the moment the session is visible.
	line, lerr := s.event.Songs[s.songIndex].FirstLineOfSlide(s.slideIndex)
	if lerr != nil {
		// The synced position always names a slide of the shared snapshot,
		// so this cannot fail; reset to the setlist start rather than carry
		// a position the display cannot render.
		slog.Error("synced position out of range",
			"session_id", s.id, "event_id", s.eventID, "err", lerr)
		s.songIndex, s.slideIndex, line = 0, 0, 0
	}
	s.lineIndex = line
	s.rebuildContext()
	g.sessions = append(g.sessions, s)
	settings := g.settings
	g.mu.Unlock()

	m.metrics.ActiveSessions.Add(ctx, 1)
	slog.Info("session started",
		"session_id", s.id,
		"event_id", s.eventID,
		"conn_id", conn.ID(),
		"songs", len(s.event.Songs),
	)

	s.mu.Lock()
	display := s.displayPayload(0, false)
	started := protocol.ServerMessage{
		Type: protocol.TypeSessionStarted,
		Payload: protocol.SessionStartedPayload{
			SessionID:         s.id,
			EventID:           s.eventID,
			EventName:         s.event.Name,
			TotalSongs:        len(s.event.Songs),
			CurrentSongIndex:  s.songIndex,
			CurrentSlideIndex: s.slideIndex,
			Setlist:           setlistPayload(s.event),
			InitialDisplay:    &display,
		},
	}
	s.mu.Unlock()

	started.StampTiming(receivedAt)
	m.send(conn, started)

	update := protocol.ServerMessage{Type: protocol.TypeDisplayUpdate, Payload: display}
	update.StampTiming(receivedAt)
	m.send(conn, update)

	// A joiner does not change settings, but it needs the current values.
	if settings != (setlist.Settings{}) {
		msg := protocol.ServerMessage{
			Type:    protocol.TypeEventSettingsUpdated,
			Payload: settingsPayload(settings),
		}
		msg.StampTiming(receivedAt)
		m.send(conn, msg)
	}
}

// errEmptySetlist marks a loaded event with no playable songs.
var errEmptySetlist = errors.New("session: setlist has no songs")

// loadEvent loads and sanity-checks the event snapshot. Songs that compiled
// to zero lines cannot be displayed or matched and are dropped.
func (m *Manager) loadEvent(ctx context.Context, eventID string) (*setlist.Event, error) {
	event, err := m.loader.LoadEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}

	playable := make([]*setlist.Song, 0, len(event.Songs))
	for _, song := range event.Songs {
		if len(song.Lines) > 0 && len(song.Slides) > 0 {
			playable = append(playable, song)
		}
	}
	if len(playable) == 0 {
		return nil, errEmptySetlist
	}
	return &setlist.Event{ID: event.ID, Name: event.Name, Songs: playable}, nil
}

// HandleAudioData routes one audio frame to the event's shared STT stream,
// opening it lazily on the first frame and applying the watchdog restart
// policy.
func (m *Manager) HandleAudioData(ctx context.Context, conn Conn, p *protocol.AudioDataPayload, receivedAt time.Time) {
	s, g := m.lookup(conn)
	if s == nil {
		m.sendError(conn, protocol.NewError(protocol.CodeNoSession,
			"AUDIO_DATA requires an active session"), receivedAt)
		return
	}

	// With no STT backend configured audio is accepted and dropped; manual
	// override still works.
	if m.provider == nil {
		return
	}

	if req := m.provider.RequiredFormat(); req != nil && p.Format != nil {
		if !req.Accepts(p.Format.SampleRate, p.Format.Channels, p.Format.Encoding) {
			m.sendError(conn, protocol.NewErrorDetails(protocol.CodeAudioFormatUnsupported,
				"declared audio format is not supported by the transcription backend",
				map[string]any{
					"observed": p.Format,
					"expected": map[string]any{
						"sampleRate": req.SampleRate,
						"channels":   req.Channels,
						"encoding":   req.Encoding,
					},
				}), receivedAt)
			return
		}
	}

	raw, err := p.AudioBytes()
	if err != nil {
		m.sendError(conn, protocol.NewError(protocol.CodeValidationError,
			"audio payload is not valid base64"), receivedAt)
		return
	}

	g.mu.Lock()
	es := &g.stream
	if req := m.provider.RequiredFormat(); req != nil {
		es.cfg = stt.StreamConfig{
			SampleRate: req.SampleRate,
			Channels:   req.Channels,
			Encoding:   req.Encoding,
		}
	} else if p.Format != nil {
		es.cfg = stt.StreamConfig{
			SampleRate: p.Format.SampleRate,
			Channels:   p.Format.Channels,
			Encoding:   p.Format.Encoding,
		}
	}
	if err := m.ensureStream(es); err != nil {
		g.mu.Unlock()
		slog.Error("stt stream start failed", "event_id", s.eventID, "err", err)
		m.sendError(conn, protocol.NewError(protocol.CodeSTTError,
			"transcription stream could not be started"), receivedAt)
		return
	}
	es.lastWriter = s
	es.lastAudioAt = m.now()
	sendErr := es.handle.SendAudio(raw)
	if sendErr != nil {
		es.needsRestart = true
	}
	g.mu.Unlock()

	if sendErr != nil {
		slog.Warn("stt audio write failed", "session_id", s.id, "err", sendErr)
		m.sendError(conn, protocol.NewError(protocol.CodeSTTError,
			"transcription stream rejected audio; it will be restarted"), receivedAt)
	}
}

// HandleEventSettings applies the operator's settings change and broadcasts
// the result to every connection on the event.
func (m *Manager) HandleEventSettings(ctx context.Context, conn Conn, p *protocol.EventSettingsPayload, receivedAt time.Time) {
	s, g := m.lookup(conn)
	if s == nil {
		m.sendError(conn, protocol.NewError(protocol.CodeNoSession,
			"UPDATE_EVENT_SETTINGS requires an active session"), receivedAt)
		return
	}

	g.mu.Lock()
	if p.ProjectorFont != nil {
		g.settings.ProjectorFont = *p.ProjectorFont
	}
	if p.BibleMode != nil {
		g.settings.BibleMode = *p.BibleMode
	}
	if p.BibleVersionID != nil {
		g.settings.BibleVersionID = *p.BibleVersionID
	}
	if p.BibleFollow != nil {
		g.settings.BibleFollow = *p.BibleFollow
	}
	payload := settingsPayload(g.settings)
	g.mu.Unlock()

	slog.Info("event settings updated", "event_id", s.eventID, "session_id", s.id)
	m.broadcast(g, protocol.ServerMessage{
		Type:    protocol.TypeEventSettingsUpdated,
		Payload: payload,
	})
}

// HandleStopSession ends the session explicitly. Only this connection
// receives SESSION_ENDED.
func (m *Manager) HandleStopSession(ctx context.Context, conn Conn, receivedAt time.Time) {
	s := m.remove(conn)
	if s == nil {
		m.sendError(conn, protocol.NewError(protocol.CodeNoSession,
			"STOP_SESSION requires an active session"), receivedAt)
		return
	}

	msg := protocol.ServerMessage{
		Type: protocol.TypeSessionEnded,
		Payload: protocol.SessionEndedPayload{
			SessionID: s.id,
			Reason:    protocol.EndReasonUserStopped,
		},
	}
	msg.StampTiming(receivedAt)
	m.send(conn, msg)
}

// HandlePing answers with a fresh timestamp and timing metadata. A session is
// not required.
func (m *Manager) HandlePing(conn Conn, receivedAt time.Time) {
	msg := protocol.ServerMessage{
		Type:    protocol.TypePong,
		Payload: protocol.PongPayload{Timestamp: m.now().UnixMilli()},
	}
	msg.StampTiming(receivedAt)
	m.send(conn, msg)
}

// HandleDisconnect releases everything the connection owned. No message is
// sent; the transport is already gone.
func (m *Manager) HandleDisconnect(conn Conn) {
	if s := m.remove(conn); s != nil {
		slog.Info("session closed on disconnect", "session_id", s.id, "event_id", s.eventID)
	}
}

// ── Registry plumbing ─────────────────────────────────────────────────────────

// lookup resolves a connection to its session and event group.
func (m *Manager) lookup(conn Conn) (*Session, *eventGroup) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.sessions[conn.ID()]
	if s == nil {
		return nil, nil
	}
	return s, m.groups[s.eventID]
}

// remove unbinds the connection's session. When the last session leaves an
// event, the shared STT stream closes and the group is dropped.
func (m *Manager) remove(conn Conn) *Session {
	m.mu.Lock()
	s := m.sessions[conn.ID()]
	if s == nil {
		m.mu.Unlock()
		return nil
	}
	delete(m.sessions, conn.ID())
	g := m.groups[s.eventID]

	var empty bool
	if g != nil {
		g.mu.Lock()
		for i, other := range g.sessions {
			if other == s {
				g.sessions = append(g.sessions[:i], g.sessions[i+1:]...)
				break
			}
		}
		empty = len(g.sessions) == 0
		if empty {
			m.closeStream(&g.stream)
		}
		g.mu.Unlock()
		if empty {
			delete(m.groups, s.eventID)
		}
	}
	m.mu.Unlock()

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	m.metrics.ActiveSessions.Add(context.Background(), -1)
	return s
}

// groupFor returns the event group for an event id, or nil.
func (m *Manager) groupFor(eventID string) *eventGroup {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.groups[eventID]
}

// ── Outbound plumbing ─────────────────────────────────────────────────────────

// send writes one message to one connection, logging per-recipient failures.
func (m *Manager) send(conn Conn, msg protocol.ServerMessage) {
	if err := conn.Send(msg); err != nil {
		slog.Warn("send failed", "conn_id", conn.ID(), "type", string(msg.Type), "err", err)
	}
}

// broadcast fans one message out to every connection on the event.
// Best-effort, at-most-once per open connection; failures are logged and do
// not affect other recipients. Must not be called with a Session lock held;
// use broadcastTo with a pre-snapshotted connection list there.
func (m *Manager) broadcast(g *eventGroup, msg protocol.ServerMessage) {
	m.broadcastTo(g.conns(), msg)
}

// broadcastTo fans one message out to an already-snapshotted connection list.
func (m *Manager) broadcastTo(conns []Conn, msg protocol.ServerMessage) {
	msg.StampTiming(time.Time{})
	for _, c := range conns {
		m.send(c, msg)
	}
	m.metrics.RecordBroadcast(context.Background(), string(msg.Type), int64(len(conns)))
}

// sendError delivers an ERROR frame to the originating connection only and
// counts it by stable code.
func (m *Manager) sendError(conn Conn, msg protocol.ServerMessage, receivedAt time.Time) {
	msg.StampTiming(receivedAt)
	m.send(conn, msg)
	if p, ok := msg.Payload.(protocol.ErrorPayload); ok {
		m.metrics.RecordError(context.Background(), string(p.Code))
	}
}
