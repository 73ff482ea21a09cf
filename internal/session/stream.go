package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/setcue/setcue/pkg/provider/stt"
)

// eventStream is the shared streaming-STT handle for one event. Every session
// bound to the event is a subscriber: transcripts fan out to all of them, and
// the handle lives until the last session leaves the event or the manager
// shuts down.
//
// The stream also carries the watchdog state: when audio keeps flowing but no
// transcript has been observed for the stale window, the next audio frame
// tears the handle down and opens a fresh one, subject to the restart
// cooldown.
type eventStream struct {
	eventID string

	handle stt.StreamHandle
	mode   stt.TranscriptMode
	cfg    stt.StreamConfig

	// lastWriter is the session whose audio frame most recently fed the
	// stream. Stream-level errors are routed to it.
	lastWriter *Session

	lastAudioAt      time.Time
	lastTranscriptAt time.Time
	lastRestartAt    time.Time

	// needsRestart is set on stream-level error; the next audio frame
	// recreates the handle regardless of staleness.
	needsRestart bool
}

// open starts a streaming session and wires its transcript and error
// channels into the manager. Callers hold the group lock.
func (m *Manager) openStream(es *eventStream) error {
	handle, err := m.provider.StartStream(context.Background(), es.cfg)
	if err != nil {
		return fmt.Errorf("session: start stt stream: %w", err)
	}

	now := m.now()
	es.handle = handle
	es.mode = m.provider.TranscriptMode()
	es.lastTranscriptAt = now
	es.needsRestart = false
	m.metrics.ActiveStreams.Add(context.Background(), 1)

	go m.readTranscripts(es.eventID, handle)
	go m.readStreamErrors(es.eventID, handle)

	slog.Info("stt stream opened", "event_id", es.eventID)
	return nil
}

// closeStream tears the handle down. Callers hold the group lock.
func (m *Manager) closeStream(es *eventStream) {
	if es.handle == nil {
		return
	}
	if err := es.handle.Close(); err != nil {
		slog.Warn("stt stream close error", "event_id", es.eventID, "err", err)
	}
	es.handle = nil
	m.metrics.ActiveStreams.Add(context.Background(), -1)
	slog.Info("stt stream closed", "event_id", es.eventID)
}

// ensureStream lazily opens the stream on the first audio frame and applies
// the restart policy: an errored handle restarts as soon as the cooldown
// allows, and a stale handle (audio flowing, no transcripts for the stale
// window) restarts the same way. A working stream is never touched.
// Callers hold the group lock.
func (m *Manager) ensureStream(es *eventStream) error {
	now := m.now()

	if es.handle != nil {
		stale := !es.lastAudioAt.IsZero() &&
			now.Sub(es.lastTranscriptAt) >= m.followCfg.STTStale
		if (es.needsRestart || stale) &&
			now.Sub(es.lastRestartAt) >= m.followCfg.STTRestartCooldown {
			slog.Warn("restarting stt stream",
				"event_id", es.eventID,
				"errored", es.needsRestart,
				"stale", stale,
			)
			m.closeStream(es)
			es.lastRestartAt = now
		}
	}

	if es.handle == nil {
		return m.openStream(es)
	}
	return nil
}

// readTranscripts pumps one handle's transcripts into the follow pipeline.
// The goroutine ends when the handle closes its channel.
func (m *Manager) readTranscripts(eventID string, handle stt.StreamHandle) {
	for t := range handle.Transcripts() {
		m.handleTranscript(eventID, handle, t)
	}
}

// readStreamErrors surfaces stream-level failures: the last writer's
// connection gets an STT_ERROR, and the handle is marked for restart at the
// next audio frame.
func (m *Manager) readStreamErrors(eventID string, handle stt.StreamHandle) {
	for err := range handle.Errors() {
		m.handleStreamError(eventID, handle, err)
	}
}
