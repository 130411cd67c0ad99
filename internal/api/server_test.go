package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/talgya/chaos-world/internal/chaos"
	"github.com/talgya/chaos-world/internal/entropy"
	"github.com/talgya/chaos-world/internal/manager"
	"github.com/talgya/chaos-world/internal/narrative"
	"github.com/talgya/chaos-world/internal/pressure"
	"github.com/talgya/chaos-world/internal/warning"
)

func newTestServer(adminKey string) *Server {
	store := pressure.NewStore()
	rng := entropy.Seeded(1)
	warnings := warning.NewSystem(rng, nil, time.Minute)
	moderator := narrative.NewModerator()
	engine := chaos.NewEngine(store, warnings, nil, moderator, nil, rng, time.Minute)
	mgr := manager.New(engine, moderator, nil, store, nil, manager.DefaultIntervals())

	return &Server{
		Engine:    engine,
		Manager:   mgr,
		Warnings:  warnings,
		Moderator: moderator,
		Store:     store,
		AdminKey:  adminKey,
	}
}

func TestAdminOnly(t *testing.T) {
	tests := []struct {
		name       string
		adminKey   string
		method     string
		authHeader string
		wantStatus int
	}{
		{"GET rejected", "secret", http.MethodGet, "Bearer secret", http.StatusMethodNotAllowed},
		{"no key configured", "", http.MethodPost, "Bearer anything", http.StatusForbidden},
		{"missing token", "secret", http.MethodPost, "", http.StatusUnauthorized},
		{"wrong token", "secret", http.MethodPost, "Bearer wrong", http.StatusUnauthorized},
		{"valid token", "secret", http.MethodPost, "Bearer secret", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(tt.adminKey)
			handler := s.adminOnly(func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, map[string]any{"success": true})
			})

			req := httptest.NewRequest(tt.method, "/api/v1/trigger", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			rec := httptest.NewRecorder()
			handler(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestHandleStatus(t *testing.T) {
	s := newTestServer("")
	if err := s.Engine.UpdatePressure("r1", map[pressure.Category]float64{pressure.Economic: 0.5}); err != nil {
		t.Fatalf("UpdatePressure() error = %v", err)
	}

	rec := httptest.NewRecorder()
	s.handleStatus(rec, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if body["state"] != "new" {
		t.Errorf("state = %v, want new", body["state"])
	}
	if body["regions"] != float64(1) {
		t.Errorf("regions = %v, want 1", body["regions"])
	}
	if body["global_level"] == nil {
		t.Error("missing global_level")
	}
}

func TestHandlePressureRoundTrip(t *testing.T) {
	s := newTestServer("secret")

	body := `{"region":"r1","sources":{"economic":0.7,"social":0.3}}`
	rec := httptest.NewRecorder()
	s.handlePressure(rec, httptest.NewRequest(http.MethodPost, "/api/v1/pressure", strings.NewReader(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("pressure push status = %d: %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	s.handleRegions(rec, httptest.NewRequest(http.MethodGet, "/api/v1/regions", nil))

	var resp struct {
		Regions []struct {
			Region  string             `json:"region"`
			Score   float64            `json:"score"`
			Sources map[string]float64 `json:"sources"`
		} `json:"regions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(resp.Regions) != 1 || resp.Regions[0].Region != "r1" {
		t.Fatalf("regions = %+v", resp.Regions)
	}
	if resp.Regions[0].Sources["economic"] != 0.7 {
		t.Errorf("economic source = %v, want 0.7", resp.Regions[0].Sources["economic"])
	}
	if resp.Regions[0].Score == 0 {
		t.Error("score not computed")
	}
}

func TestHandlePressureRejectsBadInput(t *testing.T) {
	s := newTestServer("secret")

	tests := []struct {
		name string
		body string
	}{
		{"malformed JSON", `{`},
		{"out of range", `{"region":"r1","sources":{"economic":1.5}}`},
		{"unknown category", `{"region":"r1","sources":{"arcane":0.5}}`},
		{"empty region", `{"region":"","sources":{"economic":0.5}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			s.handlePressure(rec, httptest.NewRequest(http.MethodPost, "/api/v1/pressure", strings.NewReader(tt.body)))
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestHandleTrigger(t *testing.T) {
	s := newTestServer("secret")

	rec := httptest.NewRecorder()
	s.handleTrigger(rec, httptest.NewRequest(http.MethodPost, "/api/v1/trigger",
		strings.NewReader(`{"type":"economic_crisis","severity":3,"regions":["r1"]}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Success bool        `json:"success"`
		Event   chaos.Event `json:"event"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if !resp.Success || resp.Event.Type != "economic_crisis" {
		t.Errorf("response = %+v", resp)
	}

	// Invalid severity surfaces as a client error.
	rec = httptest.NewRecorder()
	s.handleTrigger(rec, httptest.NewRequest(http.MethodPost, "/api/v1/trigger",
		strings.NewReader(`{"type":"economic_crisis","severity":9,"regions":["r1"]}`)))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d for bad severity, want 400", rec.Code)
	}
}

func TestHandleWarningClear(t *testing.T) {
	s := newTestServer("secret")

	rec := httptest.NewRecorder()
	s.handleWarningClear(rec, httptest.NewRequest(http.MethodPost, "/api/v1/warning/clear",
		strings.NewReader(`{"region":"r1","phase":"ominous"}`)))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d for unknown phase, want 400", rec.Code)
	}

	rec = httptest.NewRecorder()
	s.handleWarningClear(rec, httptest.NewRequest(http.MethodPost, "/api/v1/warning/clear",
		strings.NewReader(`{"region":"r1","phase":"rumor"}`)))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d with no active warning, want 404", rec.Code)
	}

	// Start a warning, then clear it through the handler.
	s.Warnings.CheckAndTrigger("r1", 0.5, pressure.Economic, 2)
	rec = httptest.NewRecorder()
	s.handleWarningClear(rec, httptest.NewRequest(http.MethodPost, "/api/v1/warning/clear",
		strings.NewReader(`{"region":"r1","phase":"rumor"}`)))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d clearing a live warning, want 200", rec.Code)
	}
	if got := len(s.Warnings.Active()); got != 0 {
		t.Errorf("active warnings = %d after clear, want 0", got)
	}
}

func TestHandlePauseConflict(t *testing.T) {
	s := newTestServer("secret")

	// Manager never started: pause must report conflict, not success.
	rec := httptest.NewRecorder()
	s.handlePause(rec, httptest.NewRequest(http.MethodPost, "/api/v1/pause", nil))
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
}

func TestThrottleClassBudgets(t *testing.T) {
	th := NewThrottle()
	th.budgets[OpSteer] = budget{max: 3, window: time.Minute}
	th.budgets[OpShock] = budget{max: 1, window: time.Minute}

	for i := 0; i < 3; i++ {
		if !th.Allow("1.2.3.4", OpSteer) {
			t.Fatalf("steer %d denied inside the budget", i+1)
		}
	}
	if th.Allow("1.2.3.4", OpSteer) {
		t.Error("steer allowed past the budget")
	}

	// Shocks draw from their own, tighter budget.
	if !th.Allow("1.2.3.4", OpShock) {
		t.Error("shock denied with a full shock budget")
	}
	if th.Allow("1.2.3.4", OpShock) {
		t.Error("shock allowed past the budget")
	}

	// Another caller has its own buckets.
	if !th.Allow("5.6.7.8", OpSteer) {
		t.Error("separate caller denied")
	}

	if th.RetryAfter("1.2.3.4", OpSteer) <= 0 {
		t.Error("RetryAfter = 0 for an exhausted caller")
	}
	if th.RetryAfter("9.9.9.9", OpSteer) != 0 {
		t.Error("RetryAfter > 0 for an unseen caller")
	}
}

func TestThrottledHandlerRejects(t *testing.T) {
	th := NewThrottle()
	th.budgets[OpShock] = budget{max: 1, window: time.Minute}

	calls := 0
	handler := Throttled(th, OpShock, func(w http.ResponseWriter, r *http.Request) {
		calls++
		writeJSON(w, map[string]any{"success": true})
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/trigger", nil)
	req.RemoteAddr = "1.2.3.4:5555"

	rec := httptest.NewRecorder()
	handler(rec, req)
	if rec.Code != http.StatusOK || calls != 1 {
		t.Fatalf("first call: status = %d, calls = %d", rec.Code, calls)
	}

	rec = httptest.NewRecorder()
	handler(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d past the budget, want 429", rec.Code)
	}
	if calls != 1 {
		t.Errorf("handler reached %d times, want 1", calls)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After header on 429")
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		forwarded  string
		want       string
	}{
		{"plain remote addr", "1.2.3.4:5555", "", "1.2.3.4"},
		{"forwarded single", "10.0.0.1:80", "8.8.8.8", "8.8.8.8"},
		{"forwarded chain", "10.0.0.1:80", "8.8.8.8, 10.0.0.2", "8.8.8.8"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			if got := clientIP(req); got != tt.want {
				t.Errorf("clientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}
