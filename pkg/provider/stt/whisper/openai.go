package whisper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/setcue/setcue/pkg/provider/stt"
)

// DefaultOpenAIModel is the default hosted transcription model.
const DefaultOpenAIModel = oai.AudioModelWhisper1

// Compile-time assertion that OpenAIProvider implements stt.ChunkProvider.
var _ stt.ChunkProvider = (*OpenAIProvider)(nil)

// OpenAIOption is a functional option for OpenAIProvider.
type OpenAIOption func(*openaiConfig)

type openaiConfig struct {
	baseURL  string
	language string
	timeout  time.Duration
}

// WithOpenAIBaseURL overrides the default OpenAI API base URL. Useful for
// OpenAI-compatible transcription gateways.
func WithOpenAIBaseURL(url string) OpenAIOption {
	return func(c *openaiConfig) {
		c.baseURL = url
	}
}

// WithOpenAILanguage sets the default ISO-639-1 language hint.
func WithOpenAILanguage(lang string) OpenAIOption {
	return func(c *openaiConfig) {
		c.language = lang
	}
}

// WithOpenAITimeout sets a per-request HTTP timeout.
func WithOpenAITimeout(d time.Duration) OpenAIOption {
	return func(c *openaiConfig) {
		c.timeout = d
	}
}

// OpenAIProvider implements stt.ChunkProvider using the hosted OpenAI audio
// transcription API. Each call uploads one WAV-wrapped PCM chunk.
type OpenAIProvider struct {
	client   oai.Client
	model    string
	language string
}

// NewOpenAI constructs an OpenAIProvider. apiKey must be non-empty; an empty
// model selects DefaultOpenAIModel (whisper-1).
func NewOpenAI(apiKey, model string, opts ...OpenAIOption) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, errors.New("whisper: openai apiKey must not be empty")
	}
	if model == "" {
		model = DefaultOpenAIModel
	}

	cfg := &openaiConfig{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &OpenAIProvider{
		client:   oai.NewClient(reqOpts...),
		model:    model,
		language: cfg.language,
	}, nil
}

// Transcribe implements stt.ChunkProvider. The PCM chunk is wrapped in a WAV
// container before upload; the hosted API does not accept raw PCM.
func (p *OpenAIProvider) Transcribe(ctx context.Context, pcm []byte, cfg stt.StreamConfig) (stt.Transcript, error) {
	if len(pcm) == 0 {
		return stt.Transcript{}, nil
	}

	sampleRate := cfg.SampleRate
	if sampleRate == 0 {
		sampleRate = defaultSampleRate
	}
	channels := cfg.Channels
	if channels == 0 {
		channels = 1
	}

	wav := encodeWAV(pcm, sampleRate, channels)

	params := oai.AudioTranscriptionNewParams{
		Model: p.model,
		File:  oai.File(bytes.NewReader(wav), "audio.wav", "audio/wav"),
	}
	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}
	if lang != "" {
		params.Language = param.NewOpt(lang)
	}

	resp, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: openai transcribe: %w", err)
	}

	return stt.Transcript{Text: resp.Text, IsFinal: true}, nil
}
