package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"presenced/internal/status"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// DefaultStatus is what GET /status/{user_id} reports for a user whose
// key is absent or expired.
const DefaultStatus = "disconnected"

type Server struct {
	httpServer *http.Server
	svc        *status.Service
	hub        *status.Hub
}

func New(addr string, svc *status.Service, hub *status.Hub) *Server {
	s := &Server{svc: svc, hub: hub}
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/status", s.handleUpdateStatus)
	mux.HandleFunc("/status/", s.handleGetStatus)
	mux.HandleFunc("/ws", s.handleWS)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) Start() error {
	slog.Info("presence server listening", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the route table for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}
	var req struct {
		UserID string `json:"user_id"`
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	ev, err := s.svc.UpdateStatus(r.Context(), req.UserID, req.Status)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}
	userID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/status/"), "/")
	if userID == "" {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "user id missing"})
		return
	}
	value, ok, err := s.svc.GetStatus(r.Context(), userID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if !ok {
		value = DefaultStatus
	}
	writeJSON(w, http.StatusOK, value)
}

func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, status.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
	case errors.Is(err, status.ErrStoreUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleWS runs one delivery loop per connection: every event published
// after the subscription is forwarded as one JSON text frame, in publish
// order. A lagged subscription logs the miss and resumes from the oldest
// retained event; no synthetic frame is sent (the current value is always
// recoverable via GET /status/{user_id}). The loop ends on hub shutdown,
// write failure or peer close, and that unregisters the subscription.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sub, err := s.hub.Subscribe()
	if err != nil {
		return
	}
	defer sub.Close()

	connID := uuid.NewString()
	slog.Info("subscriber connected", "conn_id", connID, "remote", r.RemoteAddr)
	defer slog.Info("subscriber disconnected", "conn_id", connID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	// clients never send frames; reading only detects peer close
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		ev, err := sub.Recv(ctx)
		if err != nil {
			var lag *status.LagError
			if errors.As(err, &lag) {
				slog.Warn("subscriber lagged", "conn_id", connID, "missed", lag.Missed)
				continue
			}
			return
		}
		if err := conn.WriteJSON(ev); err != nil {
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
