package protocol

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

// code extracts the stable error code from a Decode failure.
func code(t *testing.T, err error) ErrorCode {
	t.Helper()
	var de *DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("error %v is not a *DecodeError", err)
	}
	return de.Code
}

func TestDecode_StartSession(t *testing.T) {
	t.Parallel()
	msg, err := Decode([]byte(`{"type":"START_SESSION","payload":{"eventId":"evt_123"}}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if msg.Type != TypeStartSession {
		t.Errorf("Type = %q, want %q", msg.Type, TypeStartSession)
	}
	if msg.StartSession == nil || msg.StartSession.EventID != "evt_123" {
		t.Errorf("StartSession = %+v, want eventId evt_123", msg.StartSession)
	}
}

func TestDecode_InvalidJSON(t *testing.T) {
	t.Parallel()
	for _, frame := range []string{"not json", "{truncated", `[1, 2]`} {
		_, err := Decode([]byte(frame))
		if err == nil {
			t.Errorf("Decode(%q) succeeded", frame)
			continue
		}
		if got := code(t, err); got != CodeInvalidJSON {
			t.Errorf("Decode(%q) code = %q, want %q", frame, got, CodeInvalidJSON)
		}
	}
}

func TestDecode_MissingType(t *testing.T) {
	t.Parallel()
	_, err := Decode([]byte(`{"payload":{}}`))
	if got := code(t, err); got != CodeValidationError {
		t.Errorf("code = %q, want %q", got, CodeValidationError)
	}
}

func TestDecode_UnknownType(t *testing.T) {
	t.Parallel()
	_, err := Decode([]byte(`{"type":"SELF_DESTRUCT"}`))
	if got := code(t, err); got != CodeUnknownType {
		t.Errorf("code = %q, want %q", got, CodeUnknownType)
	}
}

func TestDecode_BadEventID(t *testing.T) {
	t.Parallel()
	frames := []string{
		`{"type":"START_SESSION"}`,
		`{"type":"START_SESSION","payload":{}}`,
		`{"type":"START_SESSION","payload":{"eventId":""}}`,
		`{"type":"START_SESSION","payload":{"eventId":"has spaces"}}`,
		`{"type":"START_SESSION","payload":{"eventId":"` + strings.Repeat("x", 65) + `"}}`,
	}
	for _, frame := range frames {
		_, err := Decode([]byte(frame))
		if err == nil {
			t.Errorf("Decode(%q) succeeded", frame)
			continue
		}
		if got := code(t, err); got != CodeValidationError {
			t.Errorf("Decode(%q) code = %q, want %q", frame, got, CodeValidationError)
		}
	}
}

func TestValidEventID(t *testing.T) {
	t.Parallel()
	valid := []string{"a", "evt_123", "ABC-def_9", strings.Repeat("x", 64)}
	for _, id := range valid {
		if !ValidEventID(id) {
			t.Errorf("ValidEventID(%q) = false, want true", id)
		}
	}
	invalid := []string{"", "has spaces", "slash/", strings.Repeat("x", 65), "ümlaut"}
	for _, id := range invalid {
		if ValidEventID(id) {
			t.Errorf("ValidEventID(%q) = true, want false", id)
		}
	}
}

func TestDecode_AudioData(t *testing.T) {
	t.Parallel()
	data := base64.StdEncoding.EncodeToString([]byte{0x01, 0x02, 0x03, 0x04})
	frame := fmt.Sprintf(`{"type":"AUDIO_DATA","payload":{"data":%q,"format":{"sampleRate":16000,"channels":1,"encoding":"pcm16"}}}`, data)

	msg, err := Decode([]byte(frame))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	raw, err := msg.AudioData.AudioBytes()
	if err != nil {
		t.Fatalf("AudioBytes: %v", err)
	}
	if len(raw) != 4 {
		t.Errorf("len(raw) = %d, want 4", len(raw))
	}
	if f := msg.AudioData.Format; f == nil || f.SampleRate != 16000 || f.Channels != 1 || f.Encoding != "pcm16" {
		t.Errorf("Format = %+v", msg.AudioData.Format)
	}
}

func TestDecode_AudioDataValidation(t *testing.T) {
	t.Parallel()
	frames := []string{
		`{"type":"AUDIO_DATA"}`,
		`{"type":"AUDIO_DATA","payload":{}}`,
		`{"type":"AUDIO_DATA","payload":{"data":""}}`,
		`{"type":"AUDIO_DATA","payload":{"data":"not!!base64"}}`,
	}
	for _, frame := range frames {
		_, err := Decode([]byte(frame))
		if err == nil {
			t.Errorf("Decode(%q) succeeded", frame)
			continue
		}
		if got := code(t, err); got != CodeValidationError {
			t.Errorf("Decode(%q) code = %q, want %q", frame, got, CodeValidationError)
		}
	}
}

func TestDecode_ManualOverride(t *testing.T) {
	t.Parallel()
	msg, err := Decode([]byte(`{"type":"MANUAL_OVERRIDE","payload":{"action":"GO_TO_SLIDE","slideIndex":2}}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	p := msg.ManualOverride
	if p.Action != ActionGoToSlide {
		t.Errorf("Action = %q, want %q", p.Action, ActionGoToSlide)
	}
	if p.SlideIndex == nil || *p.SlideIndex != 2 {
		t.Errorf("SlideIndex = %v, want 2", p.SlideIndex)
	}
}

func TestDecode_ManualOverrideValidation(t *testing.T) {
	t.Parallel()
	frames := []string{
		`{"type":"MANUAL_OVERRIDE"}`,
		`{"type":"MANUAL_OVERRIDE","payload":{"action":"SIDEWAYS"}}`,
		`{"type":"MANUAL_OVERRIDE","payload":{"action":"GO_TO_SLIDE"}}`,
		`{"type":"MANUAL_OVERRIDE","payload":{"action":"GO_TO_SLIDE","slideIndex":-1}}`,
		`{"type":"MANUAL_OVERRIDE","payload":{"action":"GO_TO_ITEM"}}`,
		`{"type":"MANUAL_OVERRIDE","payload":{"action":"GO_TO_ITEM","itemIndex":-2}}`,
	}
	for _, frame := range frames {
		_, err := Decode([]byte(frame))
		if err == nil {
			t.Errorf("Decode(%q) succeeded", frame)
			continue
		}
		if got := code(t, err); got != CodeValidationError {
			t.Errorf("Decode(%q) code = %q, want %q", frame, got, CodeValidationError)
		}
	}
}

func TestDecode_ManualOverrideGoToItemVariants(t *testing.T) {
	t.Parallel()
	frames := []string{
		`{"type":"MANUAL_OVERRIDE","payload":{"action":"GO_TO_ITEM","itemIndex":1}}`,
		`{"type":"MANUAL_OVERRIDE","payload":{"action":"GO_TO_ITEM","songId":"s1"}}`,
		`{"type":"MANUAL_OVERRIDE","payload":{"action":"GO_TO_ITEM","itemId":"i1","slideIndex":0}}`,
		`{"type":"MANUAL_OVERRIDE","payload":{"action":"NEXT_SLIDE"}}`,
		`{"type":"MANUAL_OVERRIDE","payload":{"action":"PREV_SLIDE"}}`,
	}
	for _, frame := range frames {
		if _, err := Decode([]byte(frame)); err != nil {
			t.Errorf("Decode(%q): %v", frame, err)
		}
	}
}

func TestDecode_UnknownPayloadFieldsRejected(t *testing.T) {
	t.Parallel()
	_, err := Decode([]byte(`{"type":"START_SESSION","payload":{"eventId":"e1","surprise":true}}`))
	if err == nil {
		t.Fatal("unknown payload field accepted")
	}
	if got := code(t, err); got != CodeValidationError {
		t.Errorf("code = %q, want %q", got, CodeValidationError)
	}
}

func TestDecode_NoPayloadTypes(t *testing.T) {
	t.Parallel()
	for _, typ := range []ClientType{TypeStopSession, TypePing} {
		msg, err := Decode([]byte(fmt.Sprintf(`{"type":%q}`, typ)))
		if err != nil {
			t.Errorf("Decode(%q): %v", typ, err)
			continue
		}
		if msg.Type != typ {
			t.Errorf("Type = %q, want %q", msg.Type, typ)
		}
	}
}

func TestDecode_EventSettingsOptionalPayload(t *testing.T) {
	t.Parallel()
	msg, err := Decode([]byte(`{"type":"UPDATE_EVENT_SETTINGS"}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if msg.EventSettings == nil {
		t.Fatal("EventSettings = nil, want empty payload")
	}

	msg, err = Decode([]byte(`{"type":"UPDATE_EVENT_SETTINGS","payload":{"bibleMode":true}}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if msg.EventSettings.BibleMode == nil || !*msg.EventSettings.BibleMode {
		t.Errorf("BibleMode = %v, want true", msg.EventSettings.BibleMode)
	}
	if msg.EventSettings.ProjectorFont != nil {
		t.Errorf("ProjectorFont = %v, want nil (unset)", msg.EventSettings.ProjectorFont)
	}
}

func TestEncode_Shape(t *testing.T) {
	t.Parallel()
	msg := NewError(CodeNoSession, "no active session")
	data, err := Encode(msg)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	var decoded struct {
		Type    string `json:"type"`
		Payload struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.Type != string(TypeError) {
		t.Errorf("type = %q, want %q", decoded.Type, TypeError)
	}
	if decoded.Payload.Code != string(CodeNoSession) {
		t.Errorf("code = %q, want %q", decoded.Payload.Code, CodeNoSession)
	}
	if decoded.Payload.Message == "" {
		t.Error("message is empty")
	}
}

func TestNewErrorDetails(t *testing.T) {
	t.Parallel()
	msg := NewErrorDetails(CodeAudioFormatUnsupported, "bad format", map[string]any{"observed": "mp3"})
	p, ok := msg.Payload.(ErrorPayload)
	if !ok {
		t.Fatalf("payload type = %T", msg.Payload)
	}
	if p.Details["observed"] != "mp3" {
		t.Errorf("details = %v", p.Details)
	}
}

func TestStampTiming(t *testing.T) {
	t.Parallel()
	received := time.Now().Add(-20 * time.Millisecond)
	msg := ServerMessage{Type: TypePong, Payload: PongPayload{Timestamp: received.UnixMilli()}}
	msg.StampTiming(received)

	if msg.Timing == nil {
		t.Fatal("Timing = nil")
	}
	if msg.Timing.ServerReceivedAt != received.UnixMilli() {
		t.Errorf("ServerReceivedAt = %d, want %d", msg.Timing.ServerReceivedAt, received.UnixMilli())
	}
	if msg.Timing.ServerSentAt < msg.Timing.ServerReceivedAt {
		t.Error("ServerSentAt precedes ServerReceivedAt")
	}
	if msg.Timing.ProcessingTimeMs < 0 {
		t.Errorf("ProcessingTimeMs = %d, want >= 0", msg.Timing.ProcessingTimeMs)
	}

	var initiated ServerMessage
	initiated.StampTiming(time.Time{})
	if initiated.Timing.ServerReceivedAt != 0 || initiated.Timing.ProcessingTimeMs != 0 {
		t.Errorf("server-initiated timing = %+v, want only ServerSentAt", initiated.Timing)
	}
}
