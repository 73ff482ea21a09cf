package config

import (
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
server:
  listen_addr: ":9090"
  log_level: debug
rate_limit:
  control_window: 5s
  control_limit: 10
  audio_window: 2s
  audio_limit: 50
matcher:
  similarity_threshold: 0.8
  min_buffer_words: 4
  buffer_window_words: 20
  allow_partial: false
follow:
  switch_debounce_matches: 3
  auto_switch_floor: 0.6
setlist:
  postgres_dsn: "postgres://localhost/setcue"
providers:
  stt:
    name: deepgram
    api_key: key123
    model: nova-3
    options:
      silence_threshold_ms: 500
`

func TestLoadFromReader(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Server.ListenAddr != ":9090" {
		t.Errorf("ListenAddr = %q, want :9090", cfg.Server.ListenAddr)
	}
	if cfg.Server.LogLevel != LogDebug {
		t.Errorf("LogLevel = %q, want debug", cfg.Server.LogLevel)
	}
	if cfg.RateLimit.ControlWindow != 5*time.Second {
		t.Errorf("ControlWindow = %v, want 5s", cfg.RateLimit.ControlWindow)
	}
	if cfg.Matcher.SimilarityThreshold != 0.8 {
		t.Errorf("SimilarityThreshold = %v, want 0.8", cfg.Matcher.SimilarityThreshold)
	}
	if cfg.Matcher.PartialMatching() {
		t.Error("PartialMatching = true, want false (explicitly disabled)")
	}
	if cfg.Follow.SwitchDebounceMatches != 3 {
		t.Errorf("SwitchDebounceMatches = %d, want 3", cfg.Follow.SwitchDebounceMatches)
	}
	if cfg.Follow.AutoSwitchFloor != 0.6 {
		t.Errorf("AutoSwitchFloor = %v, want 0.6", cfg.Follow.AutoSwitchFloor)
	}
	if cfg.Providers.STT.Name != "deepgram" || cfg.Providers.STT.Model != "nova-3" {
		t.Errorf("STT = %+v", cfg.Providers.STT)
	}
	if v := OptionInt(cfg.Providers.STT, "silence_threshold_ms"); v != 500 {
		t.Errorf("silence_threshold_ms = %d, want 500", v)
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	_, err := LoadFromReader(strings.NewReader("server:\n  listen_adr: \":8080\"\n"))
	if err == nil {
		t.Fatal("misspelled field accepted")
	}
}

func TestLoadFromReader_EmptyUsesDefaults(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("ListenAddr = %q, want :8080", cfg.Server.ListenAddr)
	}
	if cfg.RateLimit.ControlWindow != 10*time.Second || cfg.RateLimit.ControlLimit != 30 {
		t.Errorf("control rate limit = %v/%d, want 10s/30", cfg.RateLimit.ControlWindow, cfg.RateLimit.ControlLimit)
	}
	if cfg.RateLimit.AudioLimit != 120 {
		t.Errorf("AudioLimit = %d, want 120", cfg.RateLimit.AudioLimit)
	}
	if cfg.Matcher.SimilarityThreshold != DefaultSimilarityThreshold {
		t.Errorf("SimilarityThreshold = %v, want %v", cfg.Matcher.SimilarityThreshold, DefaultSimilarityThreshold)
	}
	if !cfg.Matcher.PartialMatching() {
		t.Error("PartialMatching = false, want true by default")
	}
	if !cfg.Matcher.BigramEndOfSlide() {
		t.Error("BigramEndOfSlide = false, want true by default")
	}
	if cfg.Follow.STTStale != 10*time.Second {
		t.Errorf("STTStale = %v, want 10s", cfg.Follow.STTStale)
	}
	if cfg.Follow.SwitchCooldown != 3*time.Second {
		t.Errorf("SwitchCooldown = %v, want 3s", cfg.Follow.SwitchCooldown)
	}
	if cfg.Follow.AutoSwitchFloor != 0.50 {
		t.Errorf("AutoSwitchFloor = %v, want 0.50", cfg.Follow.AutoSwitchFloor)
	}
	if cfg.Follow.EndTriggerDebounceWindow != 1800*time.Millisecond {
		t.Errorf("EndTriggerDebounceWindow = %v, want 1.8s", cfg.Follow.EndTriggerDebounceWindow)
	}
}

func TestMatcherConfig_Clamped(t *testing.T) {
	cases := []struct {
		name string
		in   MatcherConfig
		want MatcherConfig
	}{
		{
			name: "zero values get defaults",
			in:   MatcherConfig{},
			want: MatcherConfig{SimilarityThreshold: 0.70, MinBufferWords: 3, BufferWindowWords: 15},
		},
		{
			name: "threshold clamped low",
			in:   MatcherConfig{SimilarityThreshold: 0.001, MinBufferWords: 3, BufferWindowWords: 15},
			want: MatcherConfig{SimilarityThreshold: 0.05, MinBufferWords: 3, BufferWindowWords: 15},
		},
		{
			name: "threshold clamped high",
			in:   MatcherConfig{SimilarityThreshold: 1.5, MinBufferWords: 3, BufferWindowWords: 15},
			want: MatcherConfig{SimilarityThreshold: 1, MinBufferWords: 3, BufferWindowWords: 15},
		},
		{
			name: "window clamped high",
			in:   MatcherConfig{SimilarityThreshold: 0.7, MinBufferWords: 3, BufferWindowWords: 500},
			want: MatcherConfig{SimilarityThreshold: 0.7, MinBufferWords: 3, BufferWindowWords: 100},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.in.Clamped()
			if got.SimilarityThreshold != tc.want.SimilarityThreshold {
				t.Errorf("SimilarityThreshold = %v, want %v", got.SimilarityThreshold, tc.want.SimilarityThreshold)
			}
			if got.MinBufferWords != tc.want.MinBufferWords {
				t.Errorf("MinBufferWords = %d, want %d", got.MinBufferWords, tc.want.MinBufferWords)
			}
			if got.BufferWindowWords != tc.want.BufferWindowWords {
				t.Errorf("BufferWindowWords = %d, want %d", got.BufferWindowWords, tc.want.BufferWindowWords)
			}
			if got.AllowPartial == nil || got.UseBigramEndOfSlide == nil {
				t.Error("Clamped left nil optional flags")
			}
		})
	}
}

func TestValidate_Errors(t *testing.T) {
	bad := []string{
		"server:\n  log_level: loud\n",
		"server:\n  tls:\n    cert_file: /etc/cert.pem\n",
		"follow:\n  auto_switch_floor: 1.5\n",
	}
	for _, y := range bad {
		if _, err := LoadFromReader(strings.NewReader(y)); err == nil {
			t.Errorf("config %q accepted, want validation error", y)
		}
	}
}

func TestValidate_UnknownProviderNameIsOnlyAWarning(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader("providers:\n  stt:\n    name: exotic\n"))
	if err != nil {
		t.Fatalf("unknown provider name rejected: %v", err)
	}
	if cfg.Providers.STT.Name != "exotic" {
		t.Errorf("Name = %q, want exotic", cfg.Providers.STT.Name)
	}
}
