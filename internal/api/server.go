// Package api provides the HTTP API for observing a running simulation.
// GET endpoints are public (read-only observation).
// POST endpoints require a bearer key checked against a bcrypt hash.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/talgya/townsfolk/internal/agents"
	"github.com/talgya/townsfolk/internal/engine"
	"github.com/talgya/townsfolk/internal/journal"
)

// Server serves simulation state over HTTP.
type Server struct {
	Sim          *engine.Simulation
	Eng          *engine.Engine
	Hub          *Hub             // nil disables /api/v1/stream
	Journal      *journal.Journal // nil disables ?source=journal on /api/v1/events
	Port         int
	AdminKeyHash string       // bcrypt hash of the admin bearer key. Empty = POST disabled.
	Limiter      *RateLimiter // applied to the stream and admin endpoints
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Public endpoints.
	mux.HandleFunc("/api/v1/status", s.handleStatus)
	mux.HandleFunc("/api/v1/stats", s.handleStats)
	mux.HandleFunc("/api/v1/agents", s.handleAgents)
	mux.HandleFunc("/api/v1/agent/", s.handleAgentDetail)
	mux.HandleFunc("/api/v1/resources", s.handleResources)
	mux.HandleFunc("/api/v1/resource/", s.handleResourceDetail)
	mux.HandleFunc("/api/v1/conversations", s.handleConversations)
	mux.HandleFunc("/api/v1/events", s.handleEvents)
	if s.Hub != nil {
		mux.HandleFunc("/api/v1/stream", RateLimitMiddleware(s.Limiter, s.Hub.ServeWS))
	}

	// Admin endpoints.
	mux.HandleFunc("/api/v1/speed", RateLimitMiddleware(s.Limiter, s.adminOnly(s.handleSpeed)))
	mux.HandleFunc("/api/v1/despawn/", RateLimitMiddleware(s.Limiter, s.adminOnly(s.handleDespawn)))

	return corsMiddleware(mux)
}

// Start begins serving in a goroutine. The returned server is used for shutdown.
func (s *Server) Start() *http.Server {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("HTTP API starting", "addr", srv.Addr, "admin_auth", s.AdminKeyHash != "", "stream", s.Hub != nil)

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()
	return srv
}

// Shutdown stops srv, waiting up to five seconds for open requests.
func Shutdown(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Warn("HTTP shutdown", "error", err)
	}
}

// corsMiddleware adds CORS headers for allowed frontend origins.
// CORS_ORIGINS is a comma-separated list; localhost dev servers are always allowed.
func corsMiddleware(next http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:5173": true,
		"http://localhost:3000": true,
	}
	if env := os.Getenv("CORS_ORIGINS"); env != "" {
		for _, origin := range strings.Split(env, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				allowedOrigins[origin] = true
			}
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// checkBearerToken returns true if the request's bearer key matches the admin hash.
func (s *Server) checkBearerToken(r *http.Request) bool {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || token == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(s.AdminKeyHash), []byte(token)) == nil
}

// adminOnly wraps a handler to require bearer auth on POST requests.
// GET requests pass through.
func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			if s.AdminKeyHash == "" {
				http.Error(w, "admin endpoints disabled (no admin key hash configured)", http.StatusForbidden)
				return
			}
			if !s.checkBearerToken(r) {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		next(w, r)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats := s.Sim.Stats()
	status := map[string]any{
		"tick":          s.Sim.CurrentTick(),
		"agents":        stats.Agents,
		"resources":     stats.Resources,
		"occupied":      stats.Occupied,
		"queued":        stats.Queued,
		"conversations": stats.Conversations,
		"avg_need":      stats.AvgNeedRatio,
	}
	if clock := s.Sim.Clock(); clock != nil {
		status["sim_time"] = clock.String()
		status["time_of_day"] = clock.CurrentTimeOfDay()
	}
	if s.Eng != nil {
		status["speed"] = s.Eng.Speed()
		status["running"] = s.Eng.Running()
	}
	if s.Hub != nil {
		status["stream_clients"] = s.Hub.Clients()
	}
	writeJSON(w, status)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Sim.Stats())
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	list := s.Sim.Agents()
	if state := r.URL.Query().Get("state"); state != "" {
		filtered := list[:0]
		for _, a := range list {
			if a.State.String() == state {
				filtered = append(filtered, a)
			}
		}
		list = filtered
	}
	writeJSON(w, list)
}

func (s *Server) handleAgentDetail(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r.URL.Path, "/api/v1/agent/")
	if err != nil {
		http.Error(w, "invalid agent id", http.StatusBadRequest)
		return
	}
	snap, ok := s.Sim.Agent(agents.AgentID(id))
	if !ok {
		http.Error(w, "agent not found", http.StatusNotFound)
		return
	}
	writeJSON(w, snap)
}

func (s *Server) handleResources(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Sim.Resources())
}

func (s *Server) handleResourceDetail(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r.URL.Path, "/api/v1/resource/")
	if err != nil {
		http.Error(w, "invalid resource id", http.StatusBadRequest)
		return
	}
	snap, ok := s.Sim.Resource(agents.ResourceID(id))
	if !ok {
		http.Error(w, "resource not found", http.StatusNotFound)
		return
	}
	writeJSON(w, snap)
}

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Sim.Conversations())
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	if r.URL.Query().Get("source") == "journal" {
		if s.Journal == nil {
			http.Error(w, "journal disabled", http.StatusNotFound)
			return
		}
		events, err := s.Journal.RecentEvents(r.Context(), limit)
		if err != nil {
			slog.Error("journal query", "error", err)
			http.Error(w, "journal query failed", http.StatusInternalServerError)
			return
		}
		writeJSON(w, events)
		return
	}

	writeJSON(w, s.Sim.RecentEvents(limit, r.URL.Query().Get("category")))
}

func (s *Server) handleSpeed(w http.ResponseWriter, r *http.Request) {
	if s.Eng == nil {
		http.Error(w, "engine not running", http.StatusServiceUnavailable)
		return
	}
	if r.Method == http.MethodPost {
		var req struct {
			Speed float64 `json:"speed"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if req.Speed < 0 || req.Speed > 1000 {
			http.Error(w, "speed must be 0-1000", http.StatusBadRequest)
			return
		}
		s.Eng.SetSpeed(req.Speed)
		slog.Info("speed changed", "speed", req.Speed)
	}

	writeJSON(w, map[string]float64{"speed": s.Eng.Speed()})
}

func (s *Server) handleDespawn(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id, err := parseID(r.URL.Path, "/api/v1/despawn/")
	if err != nil {
		http.Error(w, "invalid agent id", http.StatusBadRequest)
		return
	}
	if !s.Sim.Deregister(agents.AgentID(id)) {
		http.Error(w, "agent not found", http.StatusNotFound)
		return
	}
	slog.Info("agent despawned by admin", "agent", id)
	writeJSON(w, map[string]any{"despawned": id})
}

func parseID(path, prefix string) (uint64, error) {
	return strconv.ParseUint(strings.Trim(strings.TrimPrefix(path, prefix), "/"), 10, 64)
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}
