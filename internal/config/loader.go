package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt":        {"deepgram", "whisper", "whisper-openai", "whisper-native"},
	"embeddings": {"openai", "mock"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills zero-valued fields of cfg with their documented
// defaults. Matcher knobs are additionally clamped into valid ranges.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.RateLimit.ControlWindow <= 0 {
		cfg.RateLimit.ControlWindow = defaultRateWindow
	}
	if cfg.RateLimit.ControlLimit <= 0 {
		cfg.RateLimit.ControlLimit = defaultControlLimit
	}
	if cfg.RateLimit.AudioWindow <= 0 {
		cfg.RateLimit.AudioWindow = defaultRateWindow
	}
	if cfg.RateLimit.AudioLimit <= 0 {
		cfg.RateLimit.AudioLimit = defaultAudioLimit
	}
	cfg.Matcher = cfg.Matcher.Clamped()
	cfg.Follow.ApplyDefaults()
}

const (
	defaultRateWindow   = 10 * time.Second
	defaultControlLimit = 30
	defaultAudioLimit   = 120
)

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)

	if cfg.Setlist.PostgresDSN == "" && !cfg.Setlist.FallbackToMock {
		slog.Warn("setlist.postgres_dsn is empty and fallback_to_mock is off; START_SESSION will fail for every event")
	}
	if cfg.Providers.Embeddings.Name != "" && cfg.Setlist.EmbeddingDimensions <= 0 {
		slog.Warn("providers.embeddings is configured but setlist.embedding_dimensions is not set; defaulting to 1536")
	}
	if cfg.Providers.STT.Name == "" {
		slog.Warn("no STT provider configured; sessions will accept audio but never produce transcripts")
	}

	if cfg.Follow.AutoSwitchFloor > 1 {
		errs = append(errs, fmt.Errorf("follow.auto_switch_floor %.2f is out of range (0, 1]", cfg.Follow.AutoSwitchFloor))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
