package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	types "github.com/sebas/callrouter/api/types/v1"
)

// SessionProvider provides session views for the API.
// Implemented by dispatcher.Dispatcher.
type SessionProvider interface {
	Snapshots() []types.Session
	Recent() []types.Session
	Queue() []types.Session
	Stats() types.StatsResponse
}

// GatewayStatus reports the gateway event stream state.
// Implemented by ari.Client.
type GatewayStatus interface {
	Connected() bool
}

// Server provides the HTTP API of the call router (headless, API only)
type Server struct {
	addr       string
	httpServer *http.Server
	sessions   SessionProvider
	gateway    GatewayStatus
	logger     *slog.Logger
	templates  *Templates
	startTime  time.Time
}

// NewServer creates a new API server. ws, if non-nil, serves the
// notification websocket; gw may be nil.
func NewServer(addr string, sessions SessionProvider, gw GatewayStatus, ws http.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		addr:      addr,
		sessions:  sessions,
		gateway:   gw,
		logger:    logger,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()

	// Health and stats
	mux.HandleFunc("/api/v1/health", s.handleHealth)
	mux.HandleFunc("/api/v1/stats", s.handleStats)

	// Sessions and queue
	mux.HandleFunc("/api/v1/sessions", s.handleSessions)
	mux.HandleFunc("/api/v1/queue", s.handleQueue)

	// Live notifications
	if ws != nil {
		mux.Handle("/api/v1/ws", ws)
	}

	// Status page
	templates, err := NewTemplates()
	if err != nil {
		logger.Error("[API] Failed to parse templates, status page disabled", "error", err)
	} else {
		s.templates = templates
		mux.HandleFunc("GET /{$}", s.handleDashboard)
	}

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Handler returns the API handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening for HTTP requests
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.logger.Info("[API] Starting HTTP API server", "addr", ln.Addr().String())
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("[API] Server error", "error", err)
		}
	}()
	return nil
}

// Stop gracefully shuts down the server
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// --- Health & Stats ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, s.health())
}

func (s *Server) health() types.HealthResponse {
	response := types.HealthResponse{
		Status:       "ok",
		Uptime:       int64(time.Since(s.startTime).Seconds()),
		GatewayState: "unknown",
	}
	if s.gateway != nil {
		if s.gateway.Connected() {
			response.GatewayState = "connected"
		} else {
			response.Status = "degraded"
			response.GatewayState = "disconnected"
		}
	}
	return response
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, s.sessions.Stats())
}

// --- Sessions ---

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := types.SessionsResponse{
		Active: nonNil(s.sessions.Snapshots()),
		Recent: nonNil(s.sessions.Recent()),
	}
	s.writeJSON(w, response)
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	queued := nonNil(s.sessions.Queue())
	s.writeJSON(w, types.QueueResponse{Length: len(queued), Sessions: queued})
}

// --- Status page ---

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	data := TemplateData{
		Title:   "Call Router",
		Health:  s.health(),
		Stats:   s.sessions.Stats(),
		Active:  s.sessions.Snapshots(),
		Queue:   s.sessions.Queue(),
		Recent:  s.sessions.Recent(),
		Refresh: 5,
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.templates.RenderDashboard(w, data); err != nil {
		s.logger.Error("[API] Failed to render status page", "error", err)
	}
}

func nonNil(list []types.Session) []types.Session {
	if list == nil {
		return []types.Session{}
	}
	return list
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("[API] Failed to encode JSON", "error", err)
	}
}
