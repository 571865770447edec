// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/jeranaias/murmur/internal/dialogue"
	"github.com/jeranaias/murmur/internal/events"
	"github.com/jeranaias/murmur/internal/logging"
	"github.com/jeranaias/murmur/internal/ollama"
	"github.com/jeranaias/murmur/internal/router"
)

// DefaultAddr is the loopback listen address.
const DefaultAddr = "127.0.0.1:8787"

// Controller is the dialogue surface exposed to clients.
type Controller interface {
	Handle(ctx context.Context, utterance string) (dialogue.Outcome, error)
	Stop()
	Clear()
	ToggleTTS() bool
	TTSEnabled() bool
	SwitchContext()
}

// Backend reports model server state.
type Backend interface {
	CheckRunning(ctx context.Context) error
	ListRunning(ctx context.Context) ([]ollama.RunningModel, error)
}

// Config holds server settings.
type Config struct {
	// Addr is the listen address (default: 127.0.0.1:8787)
	Addr string

	// Auth enables bearer token checks when set and enabled
	Auth *AuthConfig

	// RateLimit is requests per minute per client (default: 120)
	RateLimit int

	// AllowedOrigins lists WebSocket origins. Empty means same-origin only;
	// "*" allows any origin.
	AllowedOrigins []string
}

// ============================================================================
// STATS
// ============================================================================

// Stats counts server activity.
type Stats struct {
	mu        sync.Mutex
	StartTime time.Time `json:"start_time"`
	Calls     int64     `json:"calls"`
	Chats     int64     `json:"chats"`
	Events    int64     `json:"events"`
	Dropped   int64     `json:"dropped_clients"`
}

// NewStats creates zeroed counters.
func NewStats() *Stats {
	return &Stats{StartTime: time.Now()}
}

func (s *Stats) recordDecision(d router.Decision) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.IsCall() {
		s.Calls++
	} else {
		s.Chats++
	}
}

func (s *Stats) recordEvent() {
	s.mu.Lock()
	s.Events++
	s.mu.Unlock()
}

func (s *Stats) recordDropped() {
	s.mu.Lock()
	s.Dropped++
	s.mu.Unlock()
}

// Snapshot returns a copy safe to read.
func (s *Stats) Snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		StartTime: s.StartTime,
		Calls:     s.Calls,
		Chats:     s.Chats,
		Events:    s.Events,
		Dropped:   s.Dropped,
	}
}

// ============================================================================
// SERVER
// ============================================================================

// Server serves the dialogue over HTTP and WebSocket.
type Server struct {
	cfg      Config
	ctl      Controller
	backend  Backend
	hub      *Hub
	stats    *Stats
	mux      *http.ServeMux
	upgrader websocket.Upgrader
	log      zerolog.Logger

	// ctx scopes utterances dispatched from sockets
	ctx    context.Context
	cancel context.CancelFunc

	server *http.Server
}

// New creates a server. The server's hub becomes the only reader of bus.
func New(ctl Controller, backend Backend, bus *events.Bus, cfg Config) *Server {
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	logger := logging.For("server")
	stats := NewStats()
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		cfg:     cfg,
		ctl:     ctl,
		backend: backend,
		hub:     NewHub(bus, ctl, stats, logger),
		stats:   stats,
		mux:     http.NewServeMux(),
		log:     logger,
		ctx:     ctx,
		cancel:  cancel,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin(),
	}
	s.setupRoutes()
	return s
}

// Hub returns the event fan-out.
func (s *Server) Hub() *Hub {
	return s.hub
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("GET /ws", s.handleWS)
	s.mux.HandleFunc("POST /utterance", s.handleUtterance)
	s.mux.HandleFunc("POST /stop", s.handleAction(s.ctl.Stop))
	s.mux.HandleFunc("POST /clear", s.handleAction(s.ctl.Clear))
	s.mux.HandleFunc("POST /tts", s.handleTTS)
	s.mux.HandleFunc("POST /unload", s.handleAction(s.ctl.SwitchContext))
	s.mux.HandleFunc("GET /models", s.handleModels)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /stats", s.handleStats)
}

// Handler returns the routes wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	return Chain(
		RecoveryMiddleware(s.log),
		LoggingMiddleware(s.log),
		RateLimitMiddleware(NewRateLimiter(s.cfg.RateLimit, 0), s.log),
		AuthMiddleware(s.cfg.Auth, s.log),
	)(s.mux)
}

func (s *Server) checkOrigin() func(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		// gorilla's default same-origin check
		return nil
	}
	allowed := make(map[string]bool, len(s.cfg.AllowedOrigins))
	for _, o := range s.cfg.AllowedOrigins {
		allowed[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || allowed["*"] || allowed[origin]
	}
}

// ============================================================================
// HANDLERS
// ============================================================================

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	s.hub.attach(s.ctx, conn)
}

// utteranceResponse is returned by POST /utterance.
type utteranceResponse struct {
	Decision string `json:"decision"`
	Thinking bool   `json:"thinking,omitempty"`
	Function string `json:"function,omitempty"`
	Result   string `json:"result,omitempty"`
	Error    string `json:"error,omitempty"`
	Seq      uint64 `json:"seq,omitempty"`
}

func (s *Server) handleUtterance(w http.ResponseWriter, r *http.Request) {
	var req ClientMessage
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxMessageSize)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	out, err := s.ctl.Handle(r.Context(), req.Text)
	if errors.Is(err, dialogue.ErrEmptyUtterance) {
		s.writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	s.stats.recordDecision(out.Decision)

	resp := utteranceResponse{
		Decision: out.Decision.Kind.String(),
		Thinking: out.Decision.Thinking,
		Function: out.Decision.Name,
		Result:   out.Result,
	}
	if out.Err != nil {
		resp.Error = out.Err.Error()
	}
	if out.Session != nil {
		resp.Seq = out.Session.Seq()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAction(fn func()) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fn()
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleTTS(w http.ResponseWriter, r *http.Request) {
	enabled := s.ctl.ToggleTTS()
	s.writeJSON(w, http.StatusOK, map[string]bool{"enabled": enabled})
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	if s.backend == nil {
		s.writeError(w, http.StatusServiceUnavailable, "no backend configured")
		return
	}
	models, err := s.backend.ListRunning(r.Context())
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	if models == nil {
		models = []ollama.RunningModel{}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"models": models})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status":  "ok",
		"clients": s.hub.Clients(),
		"tts":     s.ctl.TTSEnabled(),
	}
	code := http.StatusOK
	if s.backend != nil {
		if err := s.backend.CheckRunning(r.Context()); err != nil {
			status["status"] = "degraded"
			status["backend"] = err.Error()
			code = http.StatusServiceUnavailable
		}
	}
	s.writeJSON(w, code, status)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	snap := s.stats.Snapshot()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"uptime_seconds":  int64(time.Since(snap.StartTime).Seconds()),
		"calls":           snap.Calls,
		"chats":           snap.Chats,
		"events":          snap.Events,
		"dropped_clients": snap.Dropped,
		"clients":         s.hub.Clients(),
	})
}

// ============================================================================
// SERVER LIFECYCLE
// ============================================================================

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	go s.hub.Run(hubCtx)

	errc := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.cfg.Addr).Msg("server listening")
		errc <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errc:
		s.cancel()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Shutdown stops accepting requests and closes client sockets.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	s.hub.closeAll()
	if s.server == nil {
		return nil
	}
	s.log.Info().Msg("server shutting down")
	return s.server.Shutdown(ctx)
}

// ============================================================================
// HELPERS
// ============================================================================

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Debug().Err(err).Msg("write response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"message": message,
			"code":    status,
		},
	})
}
