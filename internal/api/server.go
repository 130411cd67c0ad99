// Package api provides the HTTP API for observing and steering the
// chaos kernel. GET endpoints are public (read-only observation). POST
// endpoints require a bearer token (admin control plane).
// See design doc Section 8.4.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/talgya/chaos-world/internal/cascade"
	"github.com/talgya/chaos-world/internal/chaos"
	"github.com/talgya/chaos-world/internal/manager"
	"github.com/talgya/chaos-world/internal/narrative"
	"github.com/talgya/chaos-world/internal/persistence"
	"github.com/talgya/chaos-world/internal/pressure"
	"github.com/talgya/chaos-world/internal/warning"
)

// Server serves the kernel state over HTTP.
type Server struct {
	Engine    *chaos.Engine
	Manager   *manager.Manager
	Warnings  *warning.System
	Moderator *narrative.Moderator
	Cascades  *cascade.Engine
	Store     *pressure.Store
	DB        *persistence.DB
	Port      int
	AdminKey  string // Bearer token for POST endpoints. Empty = POST disabled.

	started time.Time
}

// Start begins serving the HTTP API in a goroutine.
func (s *Server) Start() {
	s.started = time.Now()
	throttle := NewThrottle()

	mux := http.NewServeMux()

	// Public endpoints (GET, read-only).
	mux.HandleFunc("/api/v1/status", s.handleStatus)
	mux.HandleFunc("/api/v1/regions", s.handleRegions)
	mux.HandleFunc("/api/v1/events", s.handleEvents)
	mux.HandleFunc("/api/v1/warnings", s.handleWarnings)
	mux.HandleFunc("/api/v1/cascades", s.handleCascades)
	mux.HandleFunc("/api/v1/narrative", s.handleNarrative)
	mux.HandleFunc("/api/v1/history", s.handleHistory)
	mux.HandleFunc("/api/v1/health", s.handleHealth)

	// Admin endpoints (POST, require bearer token). Steering operations
	// share one budget; state-injecting shocks get a tighter one.
	mux.HandleFunc("/api/v1/mitigation", s.adminOnly(Throttled(throttle, OpSteer, s.handleMitigation)))
	mux.HandleFunc("/api/v1/trigger", s.adminOnly(Throttled(throttle, OpShock, s.handleTrigger)))
	mux.HandleFunc("/api/v1/pressure", s.adminOnly(Throttled(throttle, OpShock, s.handlePressure)))
	mux.HandleFunc("/api/v1/cascade/cancel", s.adminOnly(Throttled(throttle, OpSteer, s.handleCascadeCancel)))
	mux.HandleFunc("/api/v1/warning/clear", s.adminOnly(Throttled(throttle, OpSteer, s.handleWarningClear)))
	mux.HandleFunc("/api/v1/pause", s.adminOnly(s.handlePause))
	mux.HandleFunc("/api/v1/resume", s.adminOnly(s.handleResume))

	addr := fmt.Sprintf(":%d", s.Port)
	slog.Info("HTTP API starting", "addr", addr, "admin_auth", s.AdminKey != "")

	go func() {
		handler := corsMiddleware(mux)
		if err := http.ListenAndServe(addr, handler); err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}()
}

// corsMiddleware adds CORS headers for allowed frontend origins.
// Set CORS_ORIGINS env var to a comma-separated list of allowed origins.
// Localhost dev servers are always allowed.
func corsMiddleware(next http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:5173": true,
		"http://localhost:4173": true,
		"http://localhost:3000": true,
	}
	if env := os.Getenv("CORS_ORIGINS"); env != "" {
		for _, origin := range strings.Split(env, ",") {
			origin = strings.TrimSpace(origin)
			if origin != "" {
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

// checkBearerToken returns true if the request has a valid admin bearer token.
func (s *Server) checkBearerToken(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	return strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.AdminKey
}

// adminOnly wraps a handler to require bearer token auth on POST requests.
func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if s.AdminKey == "" {
			http.Error(w, "admin endpoints disabled (no CHAOS_ADMIN_KEY set)", http.StatusForbidden)
			return
		}
		if !s.checkBearerToken(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	regions := s.Engine.Regions()
	events := s.Engine.ActiveEvents()
	stats := s.Engine.Stats()

	writeJSON(w, map[string]any{
		"state":         s.Manager.State().String(),
		"uptime":        humanize.Time(s.started),
		"global_score":  s.Engine.GlobalScore(),
		"global_level":  s.Engine.GlobalLevel().String(),
		"regions":       len(regions),
		"active_events": len(events),
		"warnings":      len(s.Warnings.Active()),
		"tension":       s.Moderator.Tension(),
		"engagement":    s.Moderator.Engagement(),
		"stats":         stats,
	})
}

func (s *Server) handleRegions(w http.ResponseWriter, r *http.Request) {
	type regionEntry struct {
		Region  string             `json:"region"`
		Score   float64            `json:"score"`
		Level   string             `json:"level"`
		Fatigue float64            `json:"fatigue"`
		Events  int                `json:"active_events"`
		Sources map[string]float64 `json:"sources"`
	}

	var out []regionEntry
	for _, rd := range s.Engine.Regions() {
		sources := map[string]float64{}
		if s.Store != nil {
			for c, v := range s.Store.Region(rd.Region) {
				sources[string(c)] = v
			}
		}
		out = append(out, regionEntry{
			Region:  rd.Region,
			Score:   rd.Score,
			Level:   rd.Level.String(),
			Fatigue: rd.Fatigue,
			Events:  len(rd.ActiveEventIDs),
			Sources: sources,
		})
	}
	writeJSON(w, map[string]any{"regions": out})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	type eventEntry struct {
		ID          uuid.UUID `json:"id"`
		Type        string    `json:"type"`
		Severity    int       `json:"severity"`
		Status      string    `json:"status"`
		Regions     []string  `json:"regions"`
		Description string    `json:"description"`
		ExpiresIn   string    `json:"expires_in"`
	}

	var out []eventEntry
	for _, ev := range s.Engine.ActiveEvents() {
		out = append(out, eventEntry{
			ID:          ev.ID,
			Type:        ev.Type,
			Severity:    ev.Severity,
			Status:      ev.Status.String(),
			Regions:     ev.Regions,
			Description: ev.Description,
			ExpiresIn:   humanize.Time(ev.ExpiresAt),
		})
	}
	writeJSON(w, map[string]any{"events": out})
}

func (s *Server) handleWarnings(w http.ResponseWriter, r *http.Request) {
	type warningEntry struct {
		ID          uuid.UUID `json:"id"`
		Region      string    `json:"region"`
		EventType   string    `json:"event_type"`
		Phase       string    `json:"phase"`
		Severity    int       `json:"severity"`
		Description string    `json:"description"`
		ExpiresIn   string    `json:"expires_in"`
	}

	var out []warningEntry
	for _, wn := range s.Warnings.Active() {
		out = append(out, warningEntry{
			ID:          wn.ID,
			Region:      wn.Region,
			EventType:   wn.EventType,
			Phase:       wn.Phase.String(),
			Severity:    wn.Severity,
			Description: wn.Description,
			ExpiresIn:   humanize.Time(wn.ExpiresAt),
		})
	}
	writeJSON(w, map[string]any{"warnings": out, "stats": s.Warnings.Stats()})
}

func (s *Server) handleCascades(w http.ResponseWriter, r *http.Request) {
	if s.Cascades == nil {
		writeJSON(w, map[string]any{"cascades": []cascade.Event{}})
		return
	}
	writeJSON(w, map[string]any{"cascades": s.Cascades.Scheduled(), "stats": s.Cascades.Stats()})
}

func (s *Server) handleNarrative(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"tension":    s.Moderator.Tension(),
		"engagement": s.Moderator.Engagement(),
		"themes":     s.Moderator.Themes(),
		"beats":      s.Moderator.Beats(),
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.DB == nil {
		writeJSON(w, map[string]any{"history": []persistence.HistoryRecord{}})
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	records, err := s.DB.RecentHistory(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("history query failed: %v", err))
		return
	}
	writeJSON(w, map[string]any{"history": records})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Manager.Health())
}

func (s *Server) handleMitigation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Action        string  `json:"action"` // "apply" (default) or "remove"
		ID            string  `json:"id,omitempty"`
		Type          string  `json:"type"`
		Effectiveness float64 `json:"effectiveness"`
		DurationHours float64 `json:"duration_hours"`
		Target        string  `json:"target"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.Action == "remove" {
		id, err := uuid.Parse(req.ID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid mitigation id")
			return
		}
		if !s.Engine.RemoveMitigation(id) {
			writeError(w, http.StatusNotFound, "unknown mitigation id")
			return
		}
		writeJSON(w, map[string]any{"success": true})
		return
	}

	id, err := s.Engine.ApplyMitigation(req.Type, req.Effectiveness, req.DurationHours, req.Target)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, map[string]any{"success": true, "id": id})
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Type     string   `json:"type"`
		Severity int      `json:"severity"`
		Regions  []string `json:"regions"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	ev, err := s.Engine.ForceTriggerEvent(req.Type, req.Severity, req.Regions)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, map[string]any{"success": true, "event": ev})
}

func (s *Server) handlePressure(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Region  string             `json:"region"`
		Sources map[string]float64 `json:"sources"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	sources := make(map[pressure.Category]float64, len(req.Sources))
	for k, v := range req.Sources {
		sources[pressure.Category(k)] = v
	}
	if err := s.Engine.UpdatePressure(req.Region, sources); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, map[string]any{"success": true})
}

func (s *Server) handleCascadeCancel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	id, err := uuid.Parse(req.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid cascade id")
		return
	}
	if s.Cascades == nil || !s.Cascades.Cancel(id) {
		writeError(w, http.StatusNotFound, "cascade not cancellable (unknown, fired, or already cancelled)")
		return
	}
	writeJSON(w, map[string]any{"success": true})
}

func (s *Server) handleWarningClear(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Region string `json:"region"`
		Phase  string `json:"phase"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	var phase warning.Phase
	switch req.Phase {
	case "rumor":
		phase = warning.PhaseRumor
	case "early":
		phase = warning.PhaseEarly
	case "imminent":
		phase = warning.PhaseImminent
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown phase %q", req.Phase))
		return
	}

	if !s.Warnings.ClearWarning(req.Region, phase) {
		writeError(w, http.StatusNotFound, "no warning at that phase in that region")
		return
	}
	writeJSON(w, map[string]any{"success": true})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if !s.Manager.Pause() {
		writeError(w, http.StatusConflict, "not running")
		return
	}
	writeJSON(w, map[string]any{"success": true, "state": s.Manager.State().String()})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if !s.Manager.Resume() {
		writeError(w, http.StatusConflict, "not paused")
		return
	}
	writeJSON(w, map[string]any{"success": true, "state": s.Manager.State().String()})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("JSON encode failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, reason string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"success": false, "reason": reason})
}
