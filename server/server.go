// Package server exposes the agent over HTTP and WebSocket for clients other
// than the terminal REPL.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/becomeliminal/nim-recall/engine"
	"github.com/becomeliminal/nim-recall/memory"
	"github.com/becomeliminal/nim-recall/observability"
)

// Engine runs one conversational round.
type Engine interface {
	Run(ctx context.Context, userMessage string) (*engine.Output, error)
}

// Memory is the maintenance surface of the memory manager.
type Memory interface {
	History(ctx context.Context) ([]memory.Turn, error)
	Rebuild(ctx context.Context) (memory.RebuildStats, error)
	IndexAvailable() bool
}

// Server routes HTTP requests to the engine and the memory manager.
type Server struct {
	engine   Engine
	memory   Memory // nil disables /v1/history and /v1/reindex
	gatherer prometheus.Gatherer
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server's logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// WithGatherer serves metrics from g on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// New creates a server.
func New(eng Engine, mem Memory, opts ...Option) *Server {
	s := &Server{
		engine:   eng,
		memory:   mem,
		gatherer: prometheus.DefaultGatherer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "SERVER")
	return s
}

// Router returns the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", observability.Handler(s.gatherer))

	r.Post("/v1/chat", s.handleChat)
	r.Get("/v1/history", s.handleHistory)
	r.Post("/v1/reindex", s.handleReindex)
	r.Get("/ws", s.handleWS)

	return r
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

type chatRequest struct {
	Message string `json:"message"`
}

type chatResponse struct {
	TurnID   string        `json:"turn_id"`
	Reply    string        `json:"reply"`
	Context  []memory.Turn `json:"context"`
	Degraded bool          `json:"degraded"`
}

type wsFrame struct {
	TurnID   string `json:"turn_id,omitempty"`
	Reply    string `json:"reply,omitempty"`
	Degraded bool   `json:"degraded,omitempty"`
	Error    string `json:"error,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"index_available": s.memory != nil && s.memory.IndexAvailable(),
	})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	out, err := s.engine.Run(r.Context(), req.Message)
	if errors.Is(err, engine.ErrEmptyMessage) {
		respondError(w, http.StatusBadRequest, "empty_message", "message is required")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "round_failed", err.Error())
		return
	}

	turns := out.Context
	if turns == nil {
		turns = []memory.Turn{}
	}
	respondJSON(w, http.StatusOK, chatResponse{
		TurnID:   out.TurnID,
		Reply:    out.Text,
		Context:  turns,
		Degraded: out.Degraded,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.memory == nil {
		respondError(w, http.StatusServiceUnavailable, "memory_unavailable", "memory is not configured")
		return
	}
	turns, err := s.memory.History(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "history_failed", err.Error())
		return
	}
	if turns == nil {
		turns = []memory.Turn{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"turns": turns})
}

func (s *Server) handleReindex(w http.ResponseWriter, r *http.Request) {
	if s.memory == nil {
		respondError(w, http.StatusServiceUnavailable, "memory_unavailable", "memory is not configured")
		return
	}
	stats, err := s.memory.Rebuild(r.Context())
	if errors.Is(err, memory.ErrIndexUnavailable) {
		respondError(w, http.StatusServiceUnavailable, "index_unavailable", err.Error())
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "reindex_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// handleWS runs one round per inbound text frame and answers each with one
// frame, in order.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	connID := uuid.NewString()
	logger := s.logger.With("conn_id", connID)
	logger.Info("websocket connected")
	defer logger.Info("websocket disconnected")

	conn.SetReadLimit(1 << 20)
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		frame := s.runFrame(r.Context(), data)
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteJSON(frame); err != nil {
			logger.Warn("websocket write failed", "err", err)
			return
		}
	}
}

func (s *Server) runFrame(ctx context.Context, data []byte) wsFrame {
	var req chatRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return wsFrame{Error: "invalid message: " + err.Error()}
	}
	out, err := s.engine.Run(ctx, req.Message)
	if err != nil {
		return wsFrame{Error: err.Error()}
	}
	return wsFrame{TurnID: out.TurnID, Reply: out.Text, Degraded: out.Degraded}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return io.EOF
	}
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: strings.TrimSpace(message), Code: code})
}
