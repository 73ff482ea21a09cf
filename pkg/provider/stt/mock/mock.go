// Package mock provides test doubles for the stt package interfaces.
//
// Use StreamingProvider to verify that the caller starts streams with the
// expected StreamConfig. Use Handle to feed controlled Transcript values and
// inspect which audio chunks were delivered. ChunkProvider scripts one-shot
// Transcribe results.
//
// Example:
//
//	h := mock.NewHandle()
//	p := &mock.StreamingProvider{Handle: h}
//	handle, _ := p.StartStream(ctx, cfg)
//	h.TranscriptsCh <- stt.Transcript{Text: "amazing grace", IsFinal: true}
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/setcue/setcue/pkg/provider/stt"
)

// StartStreamCall records a single invocation of StreamingProvider.StartStream.
type StartStreamCall struct {
	// Ctx is the context passed to StartStream.
	Ctx context.Context
	// Cfg is the StreamConfig passed to StartStream.
	Cfg stt.StreamConfig
}

// StreamingProvider is a mock implementation of stt.StreamingProvider.
type StreamingProvider struct {
	mu sync.Mutex

	// Handle is the StreamHandle returned by StartStream. If nil, StartStream
	// returns a fresh Handle with buffered channels.
	Handle stt.StreamHandle

	// Mode is returned by TranscriptMode. Zero value is ModeCumulative.
	Mode stt.TranscriptMode

	// Format is returned by RequiredFormat. Nil accepts any format.
	Format *stt.FormatRequirement

	// StartStreamErr, if non-nil, is returned as the error from StartStream.
	StartStreamErr error

	// StartStreamCalls records every call to StartStream.
	StartStreamCalls []StartStreamCall
}

// StartStream records the call and returns Handle, StartStreamErr.
func (p *StreamingProvider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.StreamHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartStreamCalls = append(p.StartStreamCalls, StartStreamCall{Ctx: ctx, Cfg: cfg})
	if p.StartStreamErr != nil {
		return nil, p.StartStreamErr
	}
	if p.Handle != nil {
		return p.Handle, nil
	}
	return NewHandle(), nil
}

// TranscriptMode returns Mode.
func (p *StreamingProvider) TranscriptMode() stt.TranscriptMode { return p.Mode }

// RequiredFormat returns Format.
func (p *StreamingProvider) RequiredFormat() *stt.FormatRequirement { return p.Format }

// Reset clears all recorded calls. Thread-safe.
func (p *StreamingProvider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartStreamCalls = nil
}

// Ensure StreamingProvider implements stt.StreamingProvider at compile time.
var _ stt.StreamingProvider = (*StreamingProvider)(nil)

// SendAudioCall records a single invocation of Handle.SendAudio.
type SendAudioCall struct {
	// Chunk is a copy of the audio bytes that were passed to SendAudio.
	Chunk []byte
}

// Handle is a mock implementation of stt.StreamHandle. Tests send Transcript
// values on TranscriptsCh (and errors on ErrorsCh) to drive the consumer;
// both channels close when the handle is closed.
type Handle struct {
	mu sync.Mutex

	// TranscriptsCh is the channel returned by Transcripts(). Tests send the
	// transcripts they want the consumer to receive.
	TranscriptsCh chan stt.Transcript

	// ErrorsCh is the channel returned by Errors().
	ErrorsCh chan error

	// SendAudioErr, if non-nil, is returned by every SendAudio call.
	SendAudioErr error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// SendAudioCalls records every call to SendAudio in order.
	SendAudioCalls []SendAudioCall

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int

	closed bool
}

// NewHandle returns a Handle with buffered transcript and error channels.
func NewHandle() *Handle {
	return &Handle{
		TranscriptsCh: make(chan stt.Transcript, 16),
		ErrorsCh:      make(chan error, 16),
	}
}

// SendAudio records a copy of the chunk and returns SendAudioErr.
func (h *Handle) SendAudio(chunk []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return errors.New("mock: handle is closed")
	}
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	h.SendAudioCalls = append(h.SendAudioCalls, SendAudioCall{Chunk: cp})
	return h.SendAudioErr
}

// Transcripts returns TranscriptsCh.
func (h *Handle) Transcripts() <-chan stt.Transcript { return h.TranscriptsCh }

// Errors returns ErrorsCh.
func (h *Handle) Errors() <-chan error { return h.ErrorsCh }

// Close counts the call, closes both channels on first call, and returns
// CloseErr.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.CloseCallCount++
	if !h.closed {
		h.closed = true
		close(h.TranscriptsCh)
		close(h.ErrorsCh)
	}
	return h.CloseErr
}

// Audio returns a concatenation of every chunk delivered via SendAudio.
func (h *Handle) Audio() []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []byte
	for _, c := range h.SendAudioCalls {
		out = append(out, c.Chunk...)
	}
	return out
}

// Ensure Handle implements stt.StreamHandle at compile time.
var _ stt.StreamHandle = (*Handle)(nil)

// TranscribeCall records a single invocation of ChunkProvider.Transcribe.
type TranscribeCall struct {
	// PCM is a copy of the audio passed to Transcribe.
	PCM []byte
	// Cfg is the StreamConfig passed to Transcribe.
	Cfg stt.StreamConfig
}

// ChunkProvider is a mock implementation of stt.ChunkProvider. Results are
// returned in order; after the script is exhausted the zero Transcript is
// returned.
type ChunkProvider struct {
	mu sync.Mutex

	// Results are returned one per Transcribe call, in order.
	Results []stt.Transcript

	// Err, if non-nil, is returned by every Transcribe call.
	Err error

	// TranscribeCalls records every call to Transcribe.
	TranscribeCalls []TranscribeCall

	next int
}

// Transcribe records the call and returns the next scripted result.
func (p *ChunkProvider) Transcribe(ctx context.Context, pcm []byte, cfg stt.StreamConfig) (stt.Transcript, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	p.TranscribeCalls = append(p.TranscribeCalls, TranscribeCall{PCM: cp, Cfg: cfg})
	if p.Err != nil {
		return stt.Transcript{}, p.Err
	}
	if p.next < len(p.Results) {
		r := p.Results[p.next]
		p.next++
		return r, nil
	}
	return stt.Transcript{}, nil
}

// Ensure ChunkProvider implements stt.ChunkProvider at compile time.
var _ stt.ChunkProvider = (*ChunkProvider)(nil)
