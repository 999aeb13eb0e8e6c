// Package server exposes the host over HTTP: catalog listing, direct
// invocation, chat runs streamed as server-sent events, and the
// confirmation queue.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/armatrix/toolhost"
	"github.com/armatrix/toolhost/catalog"
	"github.com/armatrix/toolhost/confirm"
	"github.com/armatrix/toolhost/mcp"
)

// Server wires the host into a chi router.
type Server struct {
	host   *toolhost.Host
	router *chi.Mux
	logger *slog.Logger
}

// New constructs a Server with middleware and routes configured.
func New(host *toolhost.Host, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		host:   host,
		router: chi.NewRouter(),
		logger: logger,
	}
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)

	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/tools", s.handleListTools)
		r.Post("/tools/call", s.handleCall)

		r.Get("/servers", s.handleListServers)
		r.Post("/servers/{key}", s.handleStartServer)
		r.Delete("/servers/{key}", s.handleStopServer)

		r.Post("/chat", s.handleChat)

		r.Get("/confirmations", s.handlePendingConfirmations)
		r.Get("/confirmations/{id}", s.handleGetConfirmation)
		r.Post("/confirmations/{id}/resolve", s.handleResolveConfirmation)
	})

	return s
}

// Router exposes the root HTTP handler.
func (s *Server) Router() http.Handler { return s.router }

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListTools(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"tools": s.host.ListTools()})
}

type callRequest struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

type callResponse struct {
	Content string `json:"content"`
	IsError bool   `json:"is_error"`
}

func (s *Server) handleCall(w http.ResponseWriter, r *http.Request) {
	var req callRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	res, err := s.host.Invoke(r.Context(), req.Name, req.Arguments)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, callResponse{Content: res.Content, IsError: res.IsError})
}

func (s *Server) handleListServers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"servers": s.host.Servers()})
}

func (s *Server) handleStartServer(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	var cfg mcp.ServerConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := s.host.StartServer(r.Context(), key, cfg); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"server": key, "status": "ready"})
}

func (s *Server) handleStopServer(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if err := s.host.StopServer(key); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"server": key, "status": "stopped"})
}

type chatRequest struct {
	SessionID string `json:"session_id"`
	Input     string `json:"input"`
}

// handleChat starts a run and streams its events as SSE frames until the
// run completes, errors, or suspends for confirmation.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	stream, err := s.host.Chat(r.Context(), req.SessionID, req.Input)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	s.streamEvents(w, r, stream)
}

func (s *Server) handlePendingConfirmations(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"pending": s.host.PendingConfirmations()})
}

func (s *Server) handleGetConfirmation(w http.ResponseWriter, r *http.Request) {
	req, err := s.host.GetConfirmation(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, req)
}

type resolveRequest struct {
	Approved          bool           `json:"approved"`
	ModifiedArguments map[string]any `json:"modified_arguments"`
}

// handleResolveConfirmation records the decision and streams the resumed
// run's events.
func (s *Server) handleResolveConfirmation(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	stream, err := s.host.ResolveConfirmation(r.Context(), chi.URLParam(r, "id"), req.Approved, req.ModifiedArguments)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	s.streamEvents(w, r, stream)
}

// streamEvents relays an event stream as SSE frames, with the event type
// in the event field and the JSON payload in data.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request, stream *toolhost.EventStream) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for stream.Next() {
		ev := stream.Current()
		payload, err := json.Marshal(ev)
		if err != nil {
			s.logger.Warn("drop unmarshalable event", "type", ev.Type(), "err", err)
			continue
		}
		if _, err := w.Write([]byte("event: " + string(ev.Type()) + "\ndata: " + string(payload) + "\n\n")); err != nil {
			return
		}
		flusher.Flush()

		select {
		case <-r.Context().Done():
			return
		default:
		}
	}
}

// ListenAndServe runs the server until the listener fails.
func (s *Server) ListenAndServe(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("http server listening", "addr", addr)
	return srv.ListenAndServe()
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, mcp.ErrServerNotFound),
		errors.Is(err, confirm.ErrNotFound),
		errors.Is(err, toolhost.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, mcp.ErrServerExists):
		return http.StatusConflict
	case errors.Is(err, confirm.ErrAlreadyResolved),
		errors.Is(err, confirm.ErrExpired),
		errors.Is(err, toolhost.ErrSessionBusy),
		errors.Is(err, toolhost.ErrSessionSuspended),
		errors.Is(err, toolhost.ErrNotSuspended):
		return http.StatusConflict
	case errors.Is(err, catalog.ErrBadName), errors.Is(err, mcp.ErrInvalidConfig):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
