package cascade

import (
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/talgya/chaos-world/internal/textgen"
)

// knownEventTypes gates which proposed event types are accepted.
var knownEventTypes = map[string]bool{
	"economic_crisis":     true,
	"political_upheaval":  true,
	"social_unrest":       true,
	"natural_disaster":    true,
	"diplomatic_incident": true,
	"temporal_anomaly":    true,
}

// proposeLocked asks the reasoning collaborator for additional cascade
// candidates. Any failure — no client, API error, malformed output —
// degrades silently to rule-based cascades only.
func (e *Engine) proposeLocked(trigger Trigger) []*Event {
	if !e.texter.Enabled() {
		return nil
	}

	text, err := textgen.CascadeProposals(e.texter, trigger.EventType, trigger.Severity, trigger.Regions)
	if err != nil {
		slog.Debug("cascade reasoning unavailable", "error", err)
		return nil
	}

	var out []*Event
	for _, p := range parseProposals(text) {
		ev := &Event{
			ID:             uuid.New(),
			TriggerEventID: trigger.EventID,
			EventType:      p.eventType,
			Severity:       clampSeverity(p.severity),
			ScheduledAt:    e.clock().Add(time.Duration(p.delayHours * float64(e.hourScale))),
			Regions:        p.regions,
			FromReasoning:  true,
		}
		if len(ev.Regions) == 0 {
			ev.Regions = append([]string(nil), trigger.Regions...)
		}
		out = append(out, ev)
		e.stats.Proposed++
	}
	return out
}

type proposal struct {
	eventType  string
	severity   int
	delayHours float64
	regions    []string
}

// parseProposals reads "event_type | severity | delay_hours | r1,r2"
// lines. Malformed lines are skipped, not fatal.
func parseProposals(text string) []proposal {
	var out []proposal
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.Split(line, "|")
		if len(parts) < 3 {
			continue
		}

		eventType := strings.TrimSpace(parts[0])
		if !knownEventTypes[eventType] {
			continue
		}

		severity, err := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil {
			continue
		}

		delay, err := strconv.ParseFloat(strings.TrimSpace(parts[2]), 64)
		if err != nil || delay < 0 {
			continue
		}

		var regions []string
		if len(parts) >= 4 {
			for _, r := range strings.Split(parts[3], ",") {
				if r = strings.TrimSpace(r); r != "" {
					regions = append(regions, r)
				}
			}
		}

		out = append(out, proposal{
			eventType:  eventType,
			severity:   severity,
			delayHours: delay,
			regions:    regions,
		})
	}
	return out
}
