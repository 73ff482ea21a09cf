// Package stt defines the provider contracts for speech-to-text backends.
//
// Two shapes of provider exist. A streaming provider holds a live connection
// to a transcription service: once a stream is open it accepts raw PCM audio
// chunks and asynchronously emits Transcript values. A chunk provider is a
// one-shot transcribe function for batch engines that have no streaming API.
//
// Providers also declare how their transcripts relate to one another
// (cumulative vs delta); the session's rolling-buffer policy branches on
// that property, never on provider identity.
//
// Implementations must be safe for concurrent use.
package stt

import "context"

// Transcript is one speech-to-text result, partial or final.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string

	// IsFinal indicates an authoritative result; partials may be revised.
	IsFinal bool

	// Confidence is the provider's confidence in [0, 1]. Zero when the
	// provider does not report confidence.
	Confidence float64
}

// TranscriptMode describes how consecutive transcripts from a provider
// relate to each other.
type TranscriptMode int

const (
	// ModeCumulative providers re-emit the whole utterance each time; the
	// consumer replaces its buffer with each transcript.
	ModeCumulative TranscriptMode = iota

	// ModeDelta providers emit only new speech; the consumer appends.
	ModeDelta
)

// StreamConfig describes the audio format and recognition hints for a new
// streaming session.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz (e.g., 16000).
	SampleRate int

	// Channels is the number of audio channels; 1 for mono.
	Channels int

	// Encoding names the PCM encoding, e.g. "pcm_s16le".
	Encoding string

	// Language is the BCP-47 language tag for recognition. Empty lets the
	// provider auto-detect where supported.
	Language string
}

// FormatRequirement is the audio format a streaming vendor insists on.
// Frames declaring a different format must be rejected before they reach
// the vendor.
type FormatRequirement struct {
	SampleRate int
	Channels   int
	Encoding   string
}

// Accepts reports whether a declared (sampleRate, channels, encoding)
// satisfies the requirement. Zero values in the declaration are treated as
// "unspecified" and pass; the requirement only rejects explicit mismatches.
func (r FormatRequirement) Accepts(sampleRate, channels int, encoding string) bool {
	if sampleRate != 0 && sampleRate != r.SampleRate {
		return false
	}
	if channels != 0 && channels != r.Channels {
		return false
	}
	if encoding != "" && encoding != r.Encoding {
		return false
	}
	return true
}

// StreamHandle is an open streaming transcription session.
//
// Callers must call Close when the handle is no longer needed; failing to do
// so leaks goroutines and network connections inside the provider. All
// methods are safe for concurrent use.
type StreamHandle interface {
	// SendAudio delivers one chunk of raw PCM audio. The chunk must match
	// the StreamConfig the stream was opened with. Calling SendAudio after
	// Close returns an error.
	SendAudio(chunk []byte) error

	// Transcripts returns the channel of partial and final transcripts.
	// The channel is closed when the stream ends.
	Transcripts() <-chan Transcript

	// Errors returns the channel of stream-level failures. An error on
	// this channel means the stream is no longer usable; the owner should
	// close the handle and open a new one. The channel is closed when the
	// stream ends.
	Errors() <-chan error

	// Close terminates the stream, flushes pending audio, and releases all
	// resources. Calling Close more than once is safe.
	Close() error
}

// StreamingProvider is a live streaming transcription backend.
type StreamingProvider interface {
	// StartStream opens a new streaming session ready to accept audio.
	StartStream(ctx context.Context, cfg StreamConfig) (StreamHandle, error)

	// TranscriptMode reports the provider's cumulative/delta behaviour.
	TranscriptMode() TranscriptMode

	// RequiredFormat returns the audio format the vendor insists on, or
	// nil when any declared format is accepted.
	RequiredFormat() *FormatRequirement
}

// ChunkProvider is a one-shot transcription backend for engines without a
// streaming API. Each call transcribes one self-contained audio chunk.
type ChunkProvider interface {
	// Transcribe runs batch transcription on one PCM chunk. An empty
	// transcript with a nil error means the chunk contained no speech.
	Transcribe(ctx context.Context, pcm []byte, cfg StreamConfig) (Transcript, error)
}
