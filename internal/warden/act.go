package warden

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ActionResult is the response from the admin control endpoints.
type ActionResult struct {
	Success bool   `json:"success"`
	Reason  string `json:"reason,omitempty"`
}

// Actor executes interventions via the admin API.
type Actor struct {
	BaseURL    string
	AdminKey   string
	HTTPClient *http.Client
}

// NewActor creates an Actor targeting the given API base URL with admin auth.
func NewActor(baseURL, adminKey string) *Actor {
	return &Actor{
		BaseURL:  baseURL,
		AdminKey: adminKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Act routes a validated decision to its admin endpoint.
func (a *Actor) Act(d *Decision) (*ActionResult, error) {
	switch d.Action {
	case "mitigate":
		return a.post("/api/v1/mitigation", map[string]any{
			"type":           d.Intervention.Category,
			"effectiveness":  d.Intervention.Effectiveness,
			"duration_hours": d.Intervention.DurationHours,
			"target":         d.Intervention.Region,
		})
	case "clear_warning":
		return a.post("/api/v1/warning/clear", map[string]any{
			"region": d.Intervention.Region,
			"phase":  d.Intervention.Phase,
		})
	case "cancel_cascade":
		return a.post("/api/v1/cascade/cancel", map[string]any{
			"id": d.Intervention.CascadeID,
		})
	}
	return nil, fmt.Errorf("unroutable action %q", d.Action)
}

func (a *Actor) post(path string, payload map[string]any) (*ActionResult, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequest("POST", a.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.AdminKey)

	resp, err := a.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("POST %s: %w", path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s failed (%d): %s", path, resp.StatusCode, string(respBody))
	}

	var result ActionResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return &result, nil
}
