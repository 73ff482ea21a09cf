// Command setcue is the main entry point for the Setcue live lyric-follow
// server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/setcue/setcue/internal/config"
	"github.com/setcue/setcue/internal/health"
	"github.com/setcue/setcue/internal/observe"
	"github.com/setcue/setcue/internal/ratelimit"
	"github.com/setcue/setcue/internal/server"
	"github.com/setcue/setcue/internal/session"
	"github.com/setcue/setcue/internal/setlist"
	"github.com/setcue/setcue/internal/setlist/postgres"
	"github.com/setcue/setcue/pkg/provider/embeddings"
	emock "github.com/setcue/setcue/pkg/provider/embeddings/mock"
	oaembed "github.com/setcue/setcue/pkg/provider/embeddings/openai"
	"github.com/setcue/setcue/pkg/provider/stt"
	"github.com/setcue/setcue/pkg/provider/stt/deepgram"
	"github.com/setcue/setcue/pkg/provider/stt/whisper"
	"github.com/setcue/setcue/pkg/provider/stt/whispercpp"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "setcue: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "setcue: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("setcue starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "setcue",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	var sttProvider stt.StreamingProvider
	if name := cfg.Providers.STT.Name; name != "" {
		sttProvider, err = reg.CreateSTT(cfg.Providers.STT)
		if err != nil {
			slog.Error("failed to create stt provider", "name", name, "err", err)
			return 1
		}
		slog.Info("provider created", "kind", "stt", "name", name)
	}

	var embedder embeddings.Provider
	if name := cfg.Providers.Embeddings.Name; name != "" {
		embedder, err = reg.CreateEmbeddings(cfg.Providers.Embeddings)
		if err != nil {
			slog.Error("failed to create embeddings provider", "name", name, "err", err)
			return 1
		}
		slog.Info("provider created", "kind", "embeddings", "name", name)
	}

	// ── Setlist store ─────────────────────────────────────────────────────────
	var (
		loader   setlist.Loader
		store    *postgres.Store
		checkers []health.Checker
	)
	switch {
	case cfg.Setlist.PostgresDSN != "":
		store, err = postgres.New(ctx, cfg.Setlist.PostgresDSN, cfg.Setlist.EmbeddingDimensions)
		if err != nil {
			slog.Error("failed to connect setlist store", "err", err)
			return 1
		}
		defer store.Close()
		loader = store
		checkers = append(checkers, health.Checker{Name: "database", Check: store.Ping})
		slog.Info("setlist store connected")
	case cfg.Setlist.FallbackToMock:
		loader = &setlist.MockLoader{}
		slog.Warn("no setlist store configured, serving the built-in demo event")
	default:
		slog.Error("setlist.postgres_dsn is required unless setlist.fallback_to_mock is set")
		return 1
	}

	// ── Session manager + server ──────────────────────────────────────────────
	manager := session.NewManager(session.Config{
		Loader:   loader,
		Provider: sttProvider,
		Matcher:  cfg.Matcher,
		Follow:   cfg.Follow,
	})

	limits := ratelimit.Config{
		ControlWindow: cfg.RateLimit.ControlWindow,
		ControlLimit:  cfg.RateLimit.ControlLimit,
		AudioWindow:   cfg.RateLimit.AudioWindow,
		AudioLimit:    cfg.RateLimit.AudioLimit,
	}

	opts := []server.Option{server.WithHealthCheckers(checkers...)}
	if store != nil {
		opts = append(opts, server.WithSearch(store, embedder))
	}
	srv := server.New(cfg.Server, limits, manager, opts...)

	printStartupSummary(cfg, store != nil)
	slog.Info("server ready, press Ctrl+C to shut down")

	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
// Streaming backends register directly; chunk backends (the whisper family)
// are wrapped in a [stt.ChunkStreamer] so the session layer only ever sees
// streaming providers.
func registerBuiltinProviders(reg *config.Registry) {
	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.StreamingProvider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := config.OptionString(entry, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.StreamingProvider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := config.OptionString(entry, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		p, err := whisper.New(entry.BaseURL, opts...)
		if err != nil {
			return nil, err
		}
		return stt.NewChunkStreamer(p, chunkStreamOptions(entry)...), nil
	})

	reg.RegisterSTT("whisper-openai", func(entry config.ProviderEntry) (stt.StreamingProvider, error) {
		var opts []whisper.OpenAIOption
		if entry.BaseURL != "" {
			opts = append(opts, whisper.WithOpenAIBaseURL(entry.BaseURL))
		}
		if lang := config.OptionString(entry, "language"); lang != "" {
			opts = append(opts, whisper.WithOpenAILanguage(lang))
		}
		p, err := whisper.NewOpenAI(entry.APIKey, entry.Model, opts...)
		if err != nil {
			return nil, err
		}
		return stt.NewChunkStreamer(p, chunkStreamOptions(entry)...), nil
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.StreamingProvider, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = config.OptionString(entry, "model_path")
		}
		var opts []whispercpp.Option
		if lang := config.OptionString(entry, "language"); lang != "" {
			opts = append(opts, whispercpp.WithLanguage(lang))
		}
		p, err := whispercpp.New(modelPath, opts...)
		if err != nil {
			return nil, err
		}
		return stt.NewChunkStreamer(p, chunkStreamOptions(entry)...), nil
	})

	// ── Embeddings ────────────────────────────────────────────────────────────

	reg.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		return oaembed.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterEmbeddings("mock", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		return &emock.Provider{}, nil
	})
}

// chunkStreamOptions maps the shared silence-detection knobs from a provider
// Options block onto [stt.ChunkStreamOption] values.
func chunkStreamOptions(entry config.ProviderEntry) []stt.ChunkStreamOption {
	var opts []stt.ChunkStreamOption
	if ms := config.OptionInt(entry, "silence_threshold_ms"); ms > 0 {
		opts = append(opts, stt.WithSilenceThresholdMs(ms))
	}
	if ms := config.OptionInt(entry, "max_buffer_duration_ms"); ms > 0 {
		opts = append(opts, stt.WithMaxBufferDurationMs(ms))
	}
	return opts
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, hasStore bool) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         Setcue startup summary        ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider("Embeddings", cfg.Providers.Embeddings.Name, cfg.Providers.Embeddings.Model)
	storeValue := "demo (in-memory)"
	if hasStore {
		storeValue = "postgres"
	}
	fmt.Printf("║  Setlist store   : %-19s ║\n", storeValue)
	fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	if cfg.Server.TLS != nil {
		fmt.Printf("║  TLS             : %-19s ║\n", "enabled")
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
