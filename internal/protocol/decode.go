package protocol

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
)

// ClientMessage is a decoded, validated client frame. Exactly one of the
// payload pointers matching Type is non-nil.
type ClientMessage struct {
	Type ClientType

	StartSession   *StartSessionPayload
	EventSettings  *EventSettingsPayload
	AudioData      *AudioDataPayload
	ManualOverride *ManualOverridePayload
}

// DecodeError pairs a stable [ErrorCode] with the underlying decode failure.
type DecodeError struct {
	Code ErrorCode
	Err  error
}

func (e *DecodeError) Error() string { return fmt.Sprintf("protocol: %s: %v", e.Code, e.Err) }

func (e *DecodeError) Unwrap() error { return e.Err }

func decodeErr(code ErrorCode, format string, args ...any) *DecodeError {
	return &DecodeError{Code: code, Err: fmt.Errorf(format, args...)}
}

// envelope is the raw frame shape before payload dispatch.
type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// eventIDPattern is the opaque URL-safe id format accepted by START_SESSION:
// 1–64 characters of letters, digits, hyphen, and underscore.
var eventIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidEventID reports whether id passes the opaque id format check.
func ValidEventID(id string) bool {
	return eventIDPattern.MatchString(id)
}

// Decode parses and validates one client frame. Failures return a
// [*DecodeError] whose Code is one of INVALID_JSON, UNKNOWN_TYPE, or
// VALIDATION_ERROR; the frame must then be dropped without touching session
// state.
func Decode(frame []byte) (ClientMessage, error) {
	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return ClientMessage{}, decodeErr(CodeInvalidJSON, "frame is not a JSON object: %w", err)
	}
	if env.Type == "" {
		return ClientMessage{}, decodeErr(CodeValidationError, "frame is missing the type field")
	}

	msg := ClientMessage{Type: ClientType(env.Type)}
	switch msg.Type {
	case TypeStartSession:
		p, err := unmarshalPayload[StartSessionPayload](env.Payload, true)
		if err != nil {
			return ClientMessage{}, err
		}
		if !ValidEventID(p.EventID) {
			return ClientMessage{}, decodeErr(CodeValidationError, "eventId %q is not a valid id", p.EventID)
		}
		msg.StartSession = p

	case TypeUpdateEventSettings:
		p, err := unmarshalPayload[EventSettingsPayload](env.Payload, false)
		if err != nil {
			return ClientMessage{}, err
		}
		msg.EventSettings = p

	case TypeAudioData:
		p, err := unmarshalPayload[AudioDataPayload](env.Payload, true)
		if err != nil {
			return ClientMessage{}, err
		}
		if p.Data == "" {
			return ClientMessage{}, decodeErr(CodeValidationError, "AUDIO_DATA requires a data field")
		}
		if _, err := base64.StdEncoding.DecodeString(p.Data); err != nil {
			return ClientMessage{}, decodeErr(CodeValidationError, "AUDIO_DATA data is not valid base64: %v", err)
		}
		msg.AudioData = p

	case TypeManualOverride:
		p, err := unmarshalPayload[ManualOverridePayload](env.Payload, true)
		if err != nil {
			return ClientMessage{}, err
		}
		if !p.Action.IsValid() {
			return ClientMessage{}, decodeErr(CodeValidationError, "MANUAL_OVERRIDE action %q is not recognised", p.Action)
		}
		if p.Action == ActionGoToSlide && p.SlideIndex == nil {
			return ClientMessage{}, decodeErr(CodeValidationError, "GO_TO_SLIDE requires slideIndex")
		}
		if p.Action == ActionGoToItem && p.ItemIndex == nil && p.ItemID == "" && p.SongID == "" {
			return ClientMessage{}, decodeErr(CodeValidationError, "GO_TO_ITEM requires itemIndex, itemId, or songId")
		}
		if p.SlideIndex != nil && *p.SlideIndex < 0 {
			return ClientMessage{}, decodeErr(CodeValidationError, "slideIndex must not be negative")
		}
		if p.ItemIndex != nil && *p.ItemIndex < 0 {
			return ClientMessage{}, decodeErr(CodeValidationError, "itemIndex must not be negative")
		}
		msg.ManualOverride = p

	case TypeStopSession, TypePing:
		// No payload.

	default:
		return ClientMessage{}, decodeErr(CodeUnknownType, "unrecognised message type %q", env.Type)
	}

	return msg, nil
}

// AudioBytes decodes the base64 audio data. Decode already validated the
// encoding, so failures here indicate a caller bug.
func (p *AudioDataPayload) AudioBytes() ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(p.Data)
	if err != nil {
		return nil, errors.New("protocol: audio payload was not validated")
	}
	return raw, nil
}

// unmarshalPayload decodes raw into T with unknown fields rejected. When
// required is true, an absent payload is a validation error.
func unmarshalPayload[T any](raw json.RawMessage, required bool) (*T, error) {
	p := new(T)
	if len(raw) == 0 {
		if required {
			return nil, decodeErr(CodeValidationError, "payload is required")
		}
		return p, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(p); err != nil {
		return nil, decodeErr(CodeValidationError, "payload does not match schema: %w", err)
	}
	return p, nil
}

// Encode serialises a server message to one JSON frame.
func Encode(msg ServerMessage) ([]byte, error) {
	return json.Marshal(msg)
}
