package warden

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/talgya/chaos-world/internal/textgen"
)

const systemPrompt = `You are the Warden, an autonomous steward of a living game world's chaos kernel. The kernel turns regional pressure into disruptive events: warnings escalate toward crises, and crises cascade into further crises.

Your role: observe kernel health and recommend zero or one gentle intervention per cycle. You are a steward, not a god. Chaos is the point of this world; you only trim its worst excesses.

## Core Values (in priority order)

1. ANTI-SPIRAL — Intervene when a region is in a runaway loop: critical chaos level, multiple imminent warnings, or a long cascade queue all feeding each other.

2. ANTI-SATURATION — When several regions sit fatigued at once the world has gone numb. Apply mitigations so pressure can fall and events regain meaning.

3. RESPECT FOR CHAOS — Use the lightest touch possible. A cleared warning or a modest mitigation beats cancelling cascades outright. Never try to make a region safe — only to keep it interesting. When in doubt, do nothing.

## Available Actions

- "none" — No intervention needed. This is the RIGHT choice most of the time.
- "mitigate" — Apply a pressure mitigation to a region. Fields: region, category (economic, political, social, environmental, diplomatic, temporal, or "all"), effectiveness (0-0.5), duration_hours (1-48).
- "clear_warning" — Clear one warning. Fields: region, phase (rumor, early, imminent).
- "cancel_cascade" — Cancel one scheduled cascade. Fields: cascade_id.

## Response Format

Respond with ONLY valid JSON (no markdown, no explanation outside the JSON):
{
  "action": "none",
  "rationale": "Brief explanation of your assessment and why this action (or inaction) is appropriate.",
  "intervention": null
}

For interventions:
{
  "action": "mitigate",
  "rationale": "Saltmere is critical on economic pressure with two cascades queued — damping the source.",
  "intervention": {
    "region": "saltmere",
    "category": "economic",
    "effectiveness": 0.3,
    "duration_hours": 24
  }
}

## Important Rules

- Respond ONLY with JSON. No prose, no markdown fences.
- "action" must be one of: "none", "mitigate", "clear_warning", "cancel_cascade"
- When action is "none", set "intervention" to null.
- Consider trends (recent history), not just current state. A region repeatedly hit by severity 4+ events needs relief sooner than one that spiked once.`

// Decision represents Haiku's recommended action.
type Decision struct {
	Action       string        `json:"action"`
	Rationale    string        `json:"rationale"`
	Intervention *Intervention `json:"intervention"`
}

// Intervention is the payload for the admin control endpoints.
type Intervention struct {
	Region        string  `json:"region,omitempty"`
	Category      string  `json:"category,omitempty"`
	Effectiveness float64 `json:"effectiveness,omitempty"`
	DurationHours float64 `json:"duration_hours,omitempty"`
	Phase         string  `json:"phase,omitempty"`
	CascadeID     string  `json:"cascade_id,omitempty"`
}

// Decide sends the snapshot to Haiku and returns a Decision.
func Decide(client *textgen.Client, snap *KernelSnapshot, health *KernelHealth, memory string) (*Decision, error) {
	prompt := formatSnapshot(snap, health)
	if memory != "" {
		prompt += "\n" + memory
	}

	slog.Debug("warden prompt", "length", len(prompt))

	resp, err := client.Complete(systemPrompt, prompt, 512)
	if err != nil {
		return nil, fmt.Errorf("haiku call: %w", err)
	}

	// Strip markdown fences if Haiku wraps them anyway.
	resp = strings.TrimSpace(resp)
	resp = strings.TrimPrefix(resp, "```json")
	resp = strings.TrimPrefix(resp, "```")
	resp = strings.TrimSuffix(resp, "```")
	resp = strings.TrimSpace(resp)

	var decision Decision
	if err := json.Unmarshal([]byte(resp), &decision); err != nil {
		return nil, fmt.Errorf("parse decision (raw: %s): %w", resp, err)
	}

	if err := enforceGuardrails(&decision); err != nil {
		return nil, fmt.Errorf("guardrail violation: %w", err)
	}

	return &decision, nil
}

var validCategories = map[string]bool{
	"economic": true, "political": true, "social": true,
	"environmental": true, "diplomatic": true, "temporal": true,
	"all": true,
}

var validPhases = map[string]bool{
	"rumor": true, "early": true, "imminent": true,
}

// enforceGuardrails validates and clamps the decision within safe bounds.
func enforceGuardrails(d *Decision) error {
	switch d.Action {
	case "none":
		d.Intervention = nil
		return nil

	case "mitigate", "clear_warning", "cancel_cascade":
		if d.Intervention == nil {
			return fmt.Errorf("action %q requires an intervention payload", d.Action)
		}

	default:
		return fmt.Errorf("unknown action %q", d.Action)
	}

	switch d.Action {
	case "mitigate":
		if d.Intervention.Region == "" {
			return fmt.Errorf("mitigate requires a region")
		}
		if !validCategories[d.Intervention.Category] {
			return fmt.Errorf("unknown mitigation category %q", d.Intervention.Category)
		}
		// The warden trims excess; it never shuts a pressure source off.
		if d.Intervention.Effectiveness > 0.5 {
			slog.Warn("warden effectiveness capped", "requested", d.Intervention.Effectiveness, "capped", 0.5)
			d.Intervention.Effectiveness = 0.5
		}
		if d.Intervention.Effectiveness <= 0 {
			return fmt.Errorf("effectiveness %.2f must be positive", d.Intervention.Effectiveness)
		}
		if d.Intervention.DurationHours > 48 {
			slog.Warn("warden duration capped", "requested", d.Intervention.DurationHours, "capped", 48)
			d.Intervention.DurationHours = 48
		}
		if d.Intervention.DurationHours <= 0 {
			d.Intervention.DurationHours = 12
		}

	case "clear_warning":
		if d.Intervention.Region == "" {
			return fmt.Errorf("clear_warning requires a region")
		}
		if !validPhases[d.Intervention.Phase] {
			return fmt.Errorf("unknown warning phase %q", d.Intervention.Phase)
		}

	case "cancel_cascade":
		if d.Intervention.CascadeID == "" {
			return fmt.Errorf("cancel_cascade requires a cascade_id")
		}
	}

	return nil
}

// formatSnapshot builds a concise prompt from the kernel snapshot.
func formatSnapshot(snap *KernelSnapshot, health *KernelHealth) string {
	var b strings.Builder

	s := snap.Status
	fmt.Fprintf(&b, "## Kernel State\n")
	fmt.Fprintf(&b, "Global chaos: %.2f (%s) | Active events: %d | Warnings: %d\n",
		s.GlobalScore, s.GlobalLevel, s.ActiveEvents, s.Warnings)
	fmt.Fprintf(&b, "Narrative tension: %.2f | Engagement: %.2f\n", s.Tension, s.Engagement)
	fmt.Fprintf(&b, "Triage: %s (critical regions %d, imminent warnings %d, fatigued %d, pending cascades %d)\n\n",
		health.CrisisLevel, health.CriticalRegions, health.ImminentWarnings, health.FatiguedRegions, health.PendingCascades)

	fmt.Fprintf(&b, "## Regions\n")
	for _, r := range snap.Regions {
		fmt.Fprintf(&b, "- %s: score %.2f (%s), fatigue %.2f, events %d", r.Region, r.Score, r.Level, r.Fatigue, r.Events)
		if top, v := dominantSource(r.Sources); top != "" {
			fmt.Fprintf(&b, ", dominant %s %.2f", top, v)
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")

	if len(snap.Warnings) > 0 {
		fmt.Fprintf(&b, "## Active Warnings\n")
		for _, w := range snap.Warnings {
			fmt.Fprintf(&b, "- %s: %s at %s (severity %d)\n", w.Region, w.EventType, w.Phase, w.Severity)
		}
		b.WriteString("\n")
	}

	if len(snap.Cascades) > 0 {
		fmt.Fprintf(&b, "## Scheduled Cascades\n")
		for _, c := range snap.Cascades {
			fmt.Fprintf(&b, "- %s: %s severity %d in %v (id %s)\n", c.ScheduledAt, c.EventType, c.Severity, c.Regions, c.ID)
		}
		b.WriteString("\n")
	}

	if len(snap.History) > 0 {
		fmt.Fprintf(&b, "## Recent Events (newest first)\n")
		for i, e := range snap.History {
			if i >= 5 {
				break
			}
			fmt.Fprintf(&b, "- %s severity %d: %s\n", e.EventType, e.Severity, e.Description)
		}
	}

	return b.String()
}

func dominantSource(sources map[string]float64) (string, float64) {
	best, bestVal := "", -1.0
	for c, v := range sources {
		if v > bestVal || (v == bestVal && c < best) {
			best, bestVal = c, v
		}
	}
	if bestVal < 0 {
		return "", 0
	}
	return best, bestVal
}
