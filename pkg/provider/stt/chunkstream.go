package stt

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"
)

// Chunk-stream adapter defaults.
const (
	// defaultRMSThreshold is the root-mean-square energy level (in 16-bit
	// PCM units) below which audio is considered silent. The maximum for
	// 16-bit audio is 32 767; 300 corresponds to near-silence.
	defaultRMSThreshold = 300.0

	defaultSilenceThresholdMs  = 500
	defaultMaxBufferDurationMs = 10_000
	defaultInferTimeout        = 30 * time.Second

	chunkStreamBitsPerSample = 16
)

// Compile-time assertion that ChunkStreamer implements StreamingProvider.
var _ StreamingProvider = (*ChunkStreamer)(nil)

// ChunkStreamOption is a functional option for [NewChunkStreamer].
type ChunkStreamOption func(*ChunkStreamer)

// WithSilenceThresholdMs sets the consecutive-silence duration (ms) that
// triggers a flush of the accumulated speech buffer to the chunk provider.
// Shorter values transcribe more responsively at the cost of splitting
// utterances. Defaults to 500 ms.
func WithSilenceThresholdMs(ms int) ChunkStreamOption {
	return func(c *ChunkStreamer) { c.silenceThresholdMs = ms }
}

// WithMaxBufferDurationMs sets the maximum duration of audio (ms) that may
// accumulate before a flush is forced regardless of silence. Defaults to
// 10 000 ms.
func WithMaxBufferDurationMs(ms int) ChunkStreamOption {
	return func(c *ChunkStreamer) { c.maxBufferDurationMs = ms }
}

// WithRMSThreshold sets the silence energy floor in 16-bit PCM units.
func WithRMSThreshold(v float64) ChunkStreamOption {
	return func(c *ChunkStreamer) { c.rmsThreshold = v }
}

// ChunkStreamer adapts a [ChunkProvider] into a [StreamingProvider].
//
// Batch engines like whisper.cpp have no streaming API, so the adapter
// simulates one: incoming PCM is buffered, an energy-based silence detector
// segments utterances, and each completed utterance runs through the chunk
// provider as one inference. Every emitted transcript covers only new speech,
// so the adapter reports [ModeDelta].
type ChunkStreamer struct {
	chunk ChunkProvider

	silenceThresholdMs  int
	maxBufferDurationMs int
	rmsThreshold        float64
}

// NewChunkStreamer wraps chunk in a streaming adapter.
func NewChunkStreamer(chunk ChunkProvider, opts ...ChunkStreamOption) *ChunkStreamer {
	c := &ChunkStreamer{
		chunk:               chunk,
		silenceThresholdMs:  defaultSilenceThresholdMs,
		maxBufferDurationMs: defaultMaxBufferDurationMs,
		rmsThreshold:        defaultRMSThreshold,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// TranscriptMode reports delta delivery: each transcript is a fresh
// utterance, never a restatement of earlier speech.
func (c *ChunkStreamer) TranscriptMode() TranscriptMode { return ModeDelta }

// RequiredFormat accepts any declared format; the chunk provider receives the
// stream's own StreamConfig with every inference.
func (c *ChunkStreamer) RequiredFormat() *FormatRequirement { return nil }

// StartStream opens a simulated streaming session over the chunk provider.
func (c *ChunkStreamer) StartStream(ctx context.Context, cfg StreamConfig) (StreamHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("stt: context already cancelled: %w", err)
	}

	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}

	s := &chunkSession{
		chunk:               c.chunk,
		cfg:                 cfg,
		silenceThresholdMs:  c.silenceThresholdMs,
		maxBufferDurationMs: c.maxBufferDurationMs,
		rmsThreshold:        c.rmsThreshold,

		audio:       make(chan []byte, 256),
		transcripts: make(chan Transcript, 64),
		errs:        make(chan error, 1),
		done:        make(chan struct{}),
	}

	s.wg.Add(1)
	go s.processLoop(ctx)

	return s, nil
}

// chunkSession is one simulated streaming session. All buffering and silence
// state is confined to the processLoop goroutine.
type chunkSession struct {
	chunk ChunkProvider
	cfg   StreamConfig

	silenceThresholdMs  int
	maxBufferDurationMs int
	rmsThreshold        float64

	audio       chan []byte
	transcripts chan Transcript
	errs        chan error

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// SendAudio queues a PCM chunk for silence analysis and buffering.
func (s *chunkSession) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return errors.New("stt: chunk stream is closed")
	default:
	}
	select {
	case s.audio <- chunk:
		return nil
	case <-s.done:
		return errors.New("stt: chunk stream is closed")
	}
}

// Transcripts returns the channel of utterance transcripts.
func (s *chunkSession) Transcripts() <-chan Transcript { return s.transcripts }

// Errors returns the channel of inference failures.
func (s *chunkSession) Errors() <-chan error { return s.errs }

// Close terminates the session after flushing any buffered speech.
func (s *chunkSession) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.wg.Wait()
	})
	return nil
}

// processLoop is the single goroutine responsible for silence detection,
// audio buffering, and inference dispatch.
func (s *chunkSession) processLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.transcripts)
	defer close(s.errs)

	var (
		buffer    []byte
		hadSpeech bool
		silenceMs int
	)

	bytesPerMs := s.cfg.SampleRate * s.cfg.Channels * (chunkStreamBitsPerSample / 8) / 1000
	if bytesPerMs <= 0 {
		bytesPerMs = 32
	}
	maxBufferBytes := s.maxBufferDurationMs * bytesPerMs

	doFlush := func(fc context.Context) {
		if len(buffer) == 0 || !hadSpeech {
			buffer = nil
			hadSpeech = false
			silenceMs = 0
			return
		}

		pcm := buffer
		buffer = nil
		hadSpeech = false
		silenceMs = 0

		t, err := s.chunk.Transcribe(fc, pcm, s.cfg)
		if err != nil {
			select {
			case s.errs <- fmt.Errorf("stt: chunk inference: %w", err):
			default:
			}
			return
		}
		if t.Text == "" {
			return
		}
		t.IsFinal = true

		// Prefer the buffered send so a transcript produced by the final
		// flush is still delivered after done has closed.
		select {
		case s.transcripts <- t:
			return
		default:
		}
		select {
		case s.transcripts <- t:
		case <-s.done:
		}
	}

	flushWithTimeout := func() {
		fc, cancel := context.WithTimeout(context.Background(), defaultInferTimeout)
		defer cancel()
		doFlush(fc)
	}

	consume := func(chunk []byte) {
		rms := computeRMS(chunk)
		chunkMs := chunkDurationMs(chunk, s.cfg.SampleRate, s.cfg.Channels)

		if rms < s.rmsThreshold {
			// Silent chunk: only relevant once speech has started.
			// Leading silence before any speech is discarded.
			if hadSpeech {
				silenceMs += chunkMs
				buffer = append(buffer, chunk...)
				if silenceMs >= s.silenceThresholdMs {
					doFlush(ctx)
				}
			}
		} else {
			hadSpeech = true
			silenceMs = 0
			buffer = append(buffer, chunk...)
			if maxBufferBytes > 0 && len(buffer) >= maxBufferBytes {
				doFlush(ctx)
			}
		}
	}

	// drainPending consumes chunks already queued when the session winds
	// down, so audio sent just before Close still reaches the final flush.
	drainPending := func() {
		for {
			select {
			case chunk := <-s.audio:
				consume(chunk)
			default:
				return
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			drainPending()
			flushWithTimeout()
			return

		case <-s.done:
			drainPending()
			flushWithTimeout()
			return

		case chunk := <-s.audio:
			consume(chunk)
		}
	}
}

// computeRMS returns the root-mean-square energy of a 16-bit signed
// little-endian PCM buffer, in PCM sample units (0–32 767). Returns 0 for
// buffers shorter than one sample.
func computeRMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		sample := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		v := float64(sample)
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}

// chunkDurationMs returns the duration of a PCM chunk in milliseconds.
// Returns 0 for invalid inputs.
func chunkDurationMs(chunk []byte, sampleRate, channels int) int {
	if sampleRate <= 0 || channels <= 0 {
		return 0
	}
	bytesPerSec := sampleRate * channels * (chunkStreamBitsPerSample / 8)
	return len(chunk) * 1000 / bytesPerSec
}
