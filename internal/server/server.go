// Package server is the HTTP/WebSocket transport for the Setcue lyric-follow
// server: the /ws endpoint with its per-connection read loop, rate limiting,
// and frame dispatch into the session manager, plus the operational endpoints
// (/healthz, /readyz, /metrics, /search).
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/setcue/setcue/internal/config"
	"github.com/setcue/setcue/internal/health"
	"github.com/setcue/setcue/internal/observe"
	"github.com/setcue/setcue/internal/protocol"
	"github.com/setcue/setcue/internal/ratelimit"
	"github.com/setcue/setcue/internal/session"
	"github.com/setcue/setcue/pkg/provider/embeddings"
)

// maxFrameBytes is the read limit per WebSocket frame. Base64-encoded audio
// chunks dominate; one second of 16 kHz mono s16le PCM is ~43 KiB encoded.
const maxFrameBytes = 1 << 20

// shutdownTimeout bounds graceful HTTP shutdown once the run context ends.
const shutdownTimeout = 10 * time.Second

// Server owns the HTTP listener and routes WebSocket frames into the session
// manager.
type Server struct {
	cfg     config.ServerConfig
	limits  ratelimit.Config
	manager *session.Manager
	metrics *observe.Metrics

	searcher SongSearcher
	embedder embeddings.Provider
	checkers []health.Checker

	httpSrv *http.Server
}

// Option is a functional option for [New].
type Option func(*Server)

// WithSearch enables the /search endpoint. embedder may be nil, in which case
// search falls back to title matching only.
func WithSearch(searcher SongSearcher, embedder embeddings.Provider) Option {
	return func(s *Server) {
		s.searcher = searcher
		s.embedder = embedder
	}
}

// WithHealthCheckers adds readiness checks to /readyz.
func WithHealthCheckers(checkers ...health.Checker) Option {
	return func(s *Server) { s.checkers = append(s.checkers, checkers...) }
}

// WithMetrics overrides the default metrics instance. Test hook.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// New creates a Server around manager. cfg supplies the listen address and
// TLS settings, limits the per-connection rate budgets.
func New(cfg config.ServerConfig, limits ratelimit.Config, manager *session.Manager, opts ...Option) *Server {
	s := &Server{
		cfg:     cfg,
		limits:  limits,
		manager: manager,
		metrics: observe.DefaultMetrics(),
	}
	for _, o := range opts {
		o(s)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.Handle("GET /metrics", promhttp.Handler())
	health.New(s.checkers...).Register(mux)
	if s.searcher != nil {
		mux.HandleFunc("GET /search", s.handleSearch)
	}

	s.httpSrv = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           observe.Middleware(s.metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the configured HTTP handler. Test hook for httptest.
func (s *Server) Handler() http.Handler { return s.httpSrv.Handler }

// Run serves HTTP(S) until ctx is cancelled, then shuts down gracefully and
// tears down all sessions.
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		if tls := s.cfg.TLS; tls != nil {
			slog.Info("listening", "addr", s.cfg.ListenAddr, "tls", true)
			err = s.httpSrv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			slog.Info("listening", "addr", s.cfg.ListenAddr, "tls", false)
			err = s.httpSrv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := s.httpSrv.Shutdown(shutdownCtx)
		s.manager.Close()
		return err
	})

	return g.Wait()
}

// handleWS upgrades the connection and runs its read loop. Each connection
// gets its own rate limiter; both die with the connection.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Setcue operator and projector clients run on arbitrary origins
		// (local apps, venue networks); auth happens at the event level.
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Warn("websocket accept failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	ws.SetReadLimit(maxFrameBytes)

	conn := newWSConn(ws)
	limiter := ratelimit.New(s.limits)
	log := observe.Logger(r.Context())
	log.Info("client connected", "conn_id", conn.ID(), "remote", r.RemoteAddr)

	defer func() {
		s.manager.HandleDisconnect(conn)
		ws.Close(websocket.StatusNormalClosure, "")
		log.Info("client disconnected", "conn_id", conn.ID())
	}()

	ctx := r.Context()
	for {
		typ, frame, err := ws.Read(ctx)
		if err != nil {
			return
		}
		if typ != websocket.MessageText {
			s.sendError(conn, protocol.NewError(protocol.CodeInvalidJSON,
				"frames must be UTF-8 JSON text messages"), time.Now())
			continue
		}
		s.dispatch(ctx, conn, limiter, frame)
	}
}

// dispatch decodes, rate-limits, and routes one inbound frame. A rejected
// frame is dropped without touching session state; the connection stays open.
func (s *Server) dispatch(ctx context.Context, conn *wsConn, limiter *ratelimit.Limiter, frame []byte) {
	receivedAt := time.Now()

	msg, err := protocol.Decode(frame)
	if err != nil {
		var de *protocol.DecodeError
		code := protocol.CodeInternalError
		if errors.As(err, &de) {
			code = de.Code
		}
		s.sendError(conn, protocol.NewError(code, err.Error()), receivedAt)
		return
	}

	// Audio frames have their own, much larger budget; everything else is a
	// control message.
	if msg.Type == protocol.TypeAudioData {
		if !limiter.AllowAudio() {
			s.metrics.RecordRateLimitDrop(ctx, "audio")
			s.sendError(conn, protocol.NewError(protocol.CodeRateLimited,
				"audio frame budget exceeded"), receivedAt)
			return
		}
	} else if !limiter.AllowControl() {
		s.metrics.RecordRateLimitDrop(ctx, "control")
		s.sendError(conn, protocol.NewError(protocol.CodeRateLimited,
			"control message budget exceeded"), receivedAt)
		return
	}

	switch msg.Type {
	case protocol.TypeStartSession:
		s.manager.HandleStartSession(ctx, conn, msg.StartSession, receivedAt)
	case protocol.TypeUpdateEventSettings:
		s.manager.HandleEventSettings(ctx, conn, msg.EventSettings, receivedAt)
	case protocol.TypeAudioData:
		s.manager.HandleAudioData(ctx, conn, msg.AudioData, receivedAt)
	case protocol.TypeManualOverride:
		s.manager.HandleManualOverride(conn, msg.ManualOverride, receivedAt)
	case protocol.TypeStopSession:
		s.manager.HandleStopSession(ctx, conn, receivedAt)
	case protocol.TypePing:
		s.manager.HandlePing(conn, receivedAt)
	}
}

// sendError delivers an ERROR frame and counts it.
func (s *Server) sendError(conn *wsConn, msg protocol.ServerMessage, receivedAt time.Time) {
	msg.StampTiming(receivedAt)
	if err := conn.Send(msg); err != nil {
		slog.Warn("error send failed", "conn_id", conn.ID(), "err", err)
	}
	if p, ok := msg.Payload.(protocol.ErrorPayload); ok {
		s.metrics.RecordError(context.Background(), string(p.Code))
	}
}
