// Package protocol defines the WebSocket wire protocol for the Setcue
// lyric-follow server: the tagged-union client and server message types, the
// strict frame decoder, and the stable error codes.
//
// Every frame is a single UTF-8 JSON object with a required "type" string and
// an optional "payload" object. Decoding is strict: unknown types, malformed
// JSON, and schema failures each map to one stable [ErrorCode] so that
// clients can branch on code rather than message text.
package protocol

import "time"

// ClientType enumerates the client→server message types.
type ClientType string

const (
	TypeStartSession        ClientType = "START_SESSION"
	TypeUpdateEventSettings ClientType = "UPDATE_EVENT_SETTINGS"
	TypeAudioData           ClientType = "AUDIO_DATA"
	TypeManualOverride      ClientType = "MANUAL_OVERRIDE"
	TypeStopSession         ClientType = "STOP_SESSION"
	TypePing                ClientType = "PING"
)

// ServerType enumerates the server→client message types.
type ServerType string

const (
	TypeSessionStarted       ServerType = "SESSION_STARTED"
	TypeEventSettingsUpdated ServerType = "EVENT_SETTINGS_UPDATED"
	TypeTranscriptUpdate     ServerType = "TRANSCRIPT_UPDATE"
	TypeDisplayUpdate        ServerType = "DISPLAY_UPDATE"
	TypeSongChanged          ServerType = "SONG_CHANGED"
	TypeSongSuggestion       ServerType = "SONG_SUGGESTION"
	TypeSessionEnded         ServerType = "SESSION_ENDED"
	TypeError                ServerType = "ERROR"
	TypePong                 ServerType = "PONG"
)

// ErrorCode is a stable, machine-readable error identifier carried in ERROR
// payloads. Codes never change meaning between releases.
type ErrorCode string

const (
	CodeInvalidJSON            ErrorCode = "INVALID_JSON"
	CodeValidationError        ErrorCode = "VALIDATION_ERROR"
	CodeUnknownType            ErrorCode = "UNKNOWN_TYPE"
	CodeRateLimited            ErrorCode = "RATE_LIMITED"
	CodeSessionExists          ErrorCode = "SESSION_EXISTS"
	CodeNoSession              ErrorCode = "NO_SESSION"
	CodeEventNotFound          ErrorCode = "EVENT_NOT_FOUND"
	CodeEmptySetlist           ErrorCode = "EMPTY_SETLIST"
	CodeAudioFormatUnsupported ErrorCode = "AUDIO_FORMAT_UNSUPPORTED"
	CodeSTTError               ErrorCode = "STT_ERROR"
	CodeInternalError          ErrorCode = "INTERNAL_ERROR"
)

// OverrideAction enumerates the MANUAL_OVERRIDE actions.
type OverrideAction string

const (
	ActionNextSlide OverrideAction = "NEXT_SLIDE"
	ActionPrevSlide OverrideAction = "PREV_SLIDE"
	ActionGoToSlide OverrideAction = "GO_TO_SLIDE"
	ActionGoToItem  OverrideAction = "GO_TO_ITEM"
)

// IsValid reports whether a is a recognised override action.
func (a OverrideAction) IsValid() bool {
	switch a {
	case ActionNextSlide, ActionPrevSlide, ActionGoToSlide, ActionGoToItem:
		return true
	}
	return false
}

// ── Client payloads ───────────────────────────────────────────────────────────

// StartSessionPayload binds the connection to an event.
type StartSessionPayload struct {
	EventID string `json:"eventId"`
}

// EventSettingsPayload carries the operator-adjustable event settings.
// Nil fields are "leave unchanged".
type EventSettingsPayload struct {
	ProjectorFont  *string `json:"projectorFont,omitempty"`
	BibleMode      *bool   `json:"bibleMode,omitempty"`
	BibleVersionID *string `json:"bibleVersionId,omitempty"`
	BibleFollow    *bool   `json:"bibleFollow,omitempty"`
}

// AudioFormat describes the declared encoding of an audio frame.
type AudioFormat struct {
	SampleRate int    `json:"sampleRate,omitempty"`
	Channels   int    `json:"channels,omitempty"`
	Encoding   string `json:"encoding,omitempty"`
}

// AudioDataPayload carries one base64-encoded audio frame.
type AudioDataPayload struct {
	Data   string       `json:"data"`
	Format *AudioFormat `json:"format,omitempty"`
}

// ManualOverridePayload carries an operator slide or item change.
type ManualOverridePayload struct {
	Action     OverrideAction `json:"action"`
	SlideIndex *int           `json:"slideIndex,omitempty"`
	SongID     string         `json:"songId,omitempty"`
	ItemIndex  *int           `json:"itemIndex,omitempty"`
	ItemID     string         `json:"itemId,omitempty"`
}

// ── Server payloads ───────────────────────────────────────────────────────────

// Timing is the optional latency-telemetry block attached to server messages.
// It is computed from wall clocks only; no control decision depends on it.
type Timing struct {
	ServerReceivedAt int64 `json:"serverReceivedAt,omitempty"`
	ServerSentAt     int64 `json:"serverSentAt"`
	ProcessingTimeMs int64 `json:"processingTimeMs,omitempty"`
}

// ServerMessage is the envelope for every server→client frame.
type ServerMessage struct {
	Type    ServerType `json:"type"`
	Payload any        `json:"payload,omitempty"`
	Timing  *Timing    `json:"timing,omitempty"`
}

// SetlistSong is the compiled per-song data sent in SESSION_STARTED so that
// projector clients can render offline.
type SetlistSong struct {
	ID               string         `json:"id"`
	Title            string         `json:"title"`
	Artist           string         `json:"artist,omitempty"`
	Lines            []string       `json:"lines"`
	Slides           []SetlistSlide `json:"slides,omitempty"`
	LineToSlideIndex []int          `json:"lineToSlideIndex,omitempty"`
}

// SetlistSlide is one compiled slide inside a [SetlistSong].
type SetlistSlide struct {
	Lines     []string `json:"lines"`
	SlideText string   `json:"slideText"`
}

// SessionStartedPayload acknowledges a successful START_SESSION.
type SessionStartedPayload struct {
	SessionID         string                `json:"sessionId"`
	EventID           string                `json:"eventId"`
	EventName         string                `json:"eventName"`
	TotalSongs        int                   `json:"totalSongs"`
	CurrentSongIndex  int                   `json:"currentSongIndex"`
	CurrentSlideIndex int                   `json:"currentSlideIndex"`
	Setlist           []SetlistSong         `json:"setlist"`
	InitialDisplay    *DisplayUpdatePayload `json:"initialDisplay,omitempty"`
}

// EventSettingsUpdatedPayload echoes the applied settings to every client on
// the event.
type EventSettingsUpdatedPayload struct {
	ProjectorFont  string `json:"projectorFont,omitempty"`
	BibleMode      bool   `json:"bibleMode"`
	BibleVersionID string `json:"bibleVersionId,omitempty"`
	BibleFollow    bool   `json:"bibleFollow"`
}

// TranscriptUpdatePayload carries one transcript (partial or final).
type TranscriptUpdatePayload struct {
	Text       string  `json:"text"`
	IsFinal    bool    `json:"isFinal"`
	Confidence float64 `json:"confidence,omitempty"`
}

// DisplayUpdatePayload is the authoritative display state broadcast whenever
// the current slide changes.
type DisplayUpdatePayload struct {
	LineText        string   `json:"lineText"`
	SlideText       string   `json:"slideText,omitempty"`
	SlideLines      []string `json:"slideLines,omitempty"`
	SlideIndex      int      `json:"slideIndex"`
	LineIndex       *int     `json:"lineIndex,omitempty"`
	SongID          string   `json:"songId"`
	SongTitle       string   `json:"songTitle"`
	MatchConfidence float64  `json:"matchConfidence,omitempty"`
	IsAutoAdvance   bool     `json:"isAutoAdvance"`
}

// SongChangedPayload announces that the session moved to a different song.
type SongChangedPayload struct {
	SongID      string `json:"songId"`
	SongTitle   string `json:"songTitle"`
	SongIndex   int    `json:"songIndex"`
	TotalSlides int    `json:"totalSlides"`
}

// SongSuggestionPayload proposes a song switch to the operator without
// acting on it.
type SongSuggestionPayload struct {
	SuggestedSongID    string  `json:"suggestedSongId"`
	SuggestedSongTitle string  `json:"suggestedSongTitle"`
	SuggestedSongIndex int     `json:"suggestedSongIndex"`
	Confidence         float64 `json:"confidence"`
	MatchedLine        string  `json:"matchedLine"`
}

// SessionEndedPayload is the final message on a session.
type SessionEndedPayload struct {
	SessionID string `json:"sessionId"`
	Reason    string `json:"reason"`
}

// Session end reasons.
const (
	EndReasonUserStopped = "user_stopped"
	EndReasonError       = "error"
	EndReasonTimeout     = "timeout"
)

// ErrorPayload carries a stable code, a human-readable message, and optional
// structured details.
type ErrorPayload struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// PongPayload answers a PING.
type PongPayload struct {
	Timestamp int64 `json:"timestamp"`
}

// NewError builds an ERROR server message.
func NewError(code ErrorCode, message string) ServerMessage {
	return ServerMessage{
		Type:    TypeError,
		Payload: ErrorPayload{Code: code, Message: message},
	}
}

// NewErrorDetails builds an ERROR server message with structured details.
func NewErrorDetails(code ErrorCode, message string, details map[string]any) ServerMessage {
	return ServerMessage{
		Type:    TypeError,
		Payload: ErrorPayload{Code: code, Message: message, Details: details},
	}
}

// StampTiming attaches a timing block computed from receivedAt and the
// current clock. A zero receivedAt omits the received/processing fields
// (server-initiated messages have no inbound frame to measure from).
func (m *ServerMessage) StampTiming(receivedAt time.Time) {
	now := time.Now()
	t := &Timing{ServerSentAt: now.UnixMilli()}
	if !receivedAt.IsZero() {
		t.ServerReceivedAt = receivedAt.UnixMilli()
		t.ProcessingTimeMs = now.Sub(receivedAt).Milliseconds()
	}
	m.Timing = t
}
