// Package warden implements the autonomous kernel steward.
// It observes chaos state via the API, decides on interventions via Haiku,
// and acts via the admin control endpoints.
package warden

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// KernelSnapshot holds all data collected during an observation cycle.
type KernelSnapshot struct {
	Status   KernelStatus   `json:"status"`
	Regions  []RegionInfo   `json:"regions"`
	Warnings []WarningInfo  `json:"warnings"`
	Cascades []CascadeInfo  `json:"cascades"`
	History  []HistoryEntry `json:"history"`
}

// KernelStatus mirrors GET /api/v1/status.
type KernelStatus struct {
	State        string  `json:"state"`
	GlobalScore  float64 `json:"global_score"`
	GlobalLevel  string  `json:"global_level"`
	Regions      int     `json:"regions"`
	ActiveEvents int     `json:"active_events"`
	Warnings     int     `json:"warnings"`
	Tension      float64 `json:"tension"`
	Engagement   float64 `json:"engagement"`
}

// RegionInfo mirrors items from GET /api/v1/regions.
type RegionInfo struct {
	Region  string             `json:"region"`
	Score   float64            `json:"score"`
	Level   string             `json:"level"`
	Fatigue float64            `json:"fatigue"`
	Events  int                `json:"active_events"`
	Sources map[string]float64 `json:"sources"`
}

// WarningInfo mirrors items from GET /api/v1/warnings.
type WarningInfo struct {
	ID        string `json:"id"`
	Region    string `json:"region"`
	EventType string `json:"event_type"`
	Phase     string `json:"phase"`
	Severity  int    `json:"severity"`
}

// CascadeInfo mirrors items from GET /api/v1/cascades.
type CascadeInfo struct {
	ID          string   `json:"id"`
	EventType   string   `json:"event_type"`
	Severity    int      `json:"severity"`
	ScheduledAt string   `json:"scheduled_at"`
	Regions     []string `json:"regions"`
}

// HistoryEntry mirrors items from GET /api/v1/history.
type HistoryEntry struct {
	RecordedAt  string `json:"recorded_at"`
	EventType   string `json:"event_type"`
	Severity    int    `json:"severity"`
	Description string `json:"description"`
}

// Observer fetches kernel state from the API.
type Observer struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewObserver creates an Observer targeting the given API base URL.
func NewObserver(baseURL string) *Observer {
	return &Observer{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Observe fetches all five read endpoints and returns a KernelSnapshot.
func (o *Observer) Observe() (*KernelSnapshot, error) {
	snap := &KernelSnapshot{}

	if err := o.fetchJSON("/api/v1/status", &snap.Status); err != nil {
		return nil, fmt.Errorf("fetch status: %w", err)
	}

	var regions struct {
		Regions []RegionInfo `json:"regions"`
	}
	if err := o.fetchJSON("/api/v1/regions", &regions); err != nil {
		return nil, fmt.Errorf("fetch regions: %w", err)
	}
	snap.Regions = regions.Regions

	var warnings struct {
		Warnings []WarningInfo `json:"warnings"`
	}
	if err := o.fetchJSON("/api/v1/warnings", &warnings); err != nil {
		return nil, fmt.Errorf("fetch warnings: %w", err)
	}
	snap.Warnings = warnings.Warnings

	var cascades struct {
		Cascades []CascadeInfo `json:"cascades"`
	}
	if err := o.fetchJSON("/api/v1/cascades", &cascades); err != nil {
		return nil, fmt.Errorf("fetch cascades: %w", err)
	}
	snap.Cascades = cascades.Cascades

	var history struct {
		History []HistoryEntry `json:"history"`
	}
	if err := o.fetchJSON("/api/v1/history?limit=10", &history); err != nil {
		return nil, fmt.Errorf("fetch history: %w", err)
	}
	snap.History = history.History

	return snap, nil
}

// fetchJSON GETs a path and decodes the JSON response into target.
func (o *Observer) fetchJSON(path string, target any) error {
	resp, err := o.HTTPClient.Get(o.BaseURL + path)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("GET %s returned %d: %s", path, resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
