// Package warning implements the three-phase escalation that precedes a
// chaos event: Rumor, then Early, then Imminent, then the real thing.
// Each phase runs a fixed window; on expiry a probability draw decides
// whether the warning escalates or fades away.
// See design doc Section 3.2.
package warning

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/talgya/chaos-world/internal/entropy"
	"github.com/talgya/chaos-world/internal/pressure"
	"github.com/talgya/chaos-world/internal/textgen"
)

// Chaos thresholds for starting and escalating warnings.
const (
	startThreshold    = 0.4
	escalateThreshold = 0.7
)

// Phase is the escalation stage of a warning.
type Phase uint8

const (
	PhaseRumor Phase = iota
	PhaseEarly
	PhaseImminent
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseRumor:
		return "rumor"
	case PhaseEarly:
		return "early"
	case PhaseImminent:
		return "imminent"
	}
	return "unknown"
}

// Duration returns the phase window in sim-hours.
func (p Phase) Duration() float64 {
	switch p {
	case PhaseRumor:
		return 8
	case PhaseEarly:
		return 4
	case PhaseImminent:
		return 1
	}
	return 0
}

// EscalationProbability is the chance the warning advances (instead of
// fading) when its window expires.
func (p Phase) EscalationProbability() float64 {
	switch p {
	case PhaseRumor:
		return 0.6
	case PhaseEarly:
		return 0.8
	case PhaseImminent:
		return 0.9
	}
	return 0
}

// Next returns the following phase. ok is false at Imminent: escalating
// past it fires the real event.
func (p Phase) Next() (Phase, bool) {
	switch p {
	case PhaseRumor:
		return PhaseEarly, true
	case PhaseEarly:
		return PhaseImminent, true
	}
	return PhaseImminent, false
}

// Warning is an active escalation instance for a (region, event type)
// pair. At most one exists per pair.
type Warning struct {
	ID                    uuid.UUID `json:"id"`
	Region                string    `json:"region"`
	EventType             string    `json:"event_type"`
	Phase                 Phase     `json:"phase"`
	Severity              int       `json:"severity"`
	Description           string    `json:"description"`
	TriggeredAt           time.Time `json:"triggered_at"`
	ExpiresAt             time.Time `json:"expires_at"`
	EscalationProbability float64   `json:"escalation_probability"`
}

// Fired describes a warning that escalated past Imminent — the caller
// turns it into a real chaos event.
type Fired struct {
	Region    string
	EventType string
	Severity  int
}

// Stats counts warning outcomes.
type Stats struct {
	Started   int `json:"started"`
	Escalated int `json:"escalated"`
	Prevented int `json:"prevented"`
	Fired     int `json:"fired"`
}

// System owns all active warnings.
type System struct {
	mu     sync.Mutex
	active map[string]*Warning // keyed region|eventType
	order  []string
	rng    entropy.Source
	texter *textgen.Client
	clock  func() time.Time

	// hourScale converts sim-hours to wall time (1 sim-hour = hourScale).
	hourScale time.Duration

	stats Stats
}

// NewSystem creates a warning system. texter may be nil; descriptions
// then always use the deterministic templates.
func NewSystem(rng entropy.Source, texter *textgen.Client, hourScale time.Duration) *System {
	if hourScale <= 0 {
		hourScale = time.Minute
	}
	return &System{
		active:    make(map[string]*Warning),
		rng:       rng,
		texter:    texter,
		clock:     time.Now,
		hourScale: hourScale,
	}
}

// SetClock overrides the time source (testing).
func (s *System) SetClock(clock func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = clock
}

func key(region, eventType string) string {
	return region + "|" + eventType
}

// CheckAndTrigger inspects a region's weighted chaos level and starts or
// escalates the warning for the dominant pressure category's event type.
// Returns true if a warning was started or escalated. Below the start
// threshold this is a no-op.
func (s *System) CheckAndTrigger(region string, chaosLevel float64, dominant pressure.Category, severity int) bool {
	if chaosLevel < startThreshold {
		return false
	}

	eventType := dominant.EventType()

	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(region, eventType)
	w, exists := s.active[k]
	if !exists {
		s.startLocked(region, eventType, severity)
		return true
	}

	// An existing warning only jumps a phase early under sustained high
	// chaos; it cannot skip phases.
	if chaosLevel >= escalateThreshold {
		if next, ok := w.Phase.Next(); ok {
			s.escalateLocked(w, next)
			return true
		}
	}
	return false
}

// Tick processes expired warning windows: each rolls against its
// escalation probability and either advances or fades. A warning
// escalating past Imminent is returned for the caller to fire.
func (s *System) Tick() []Fired {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	var fired []Fired

	for _, k := range append([]string(nil), s.order...) {
		w, ok := s.active[k]
		if !ok || now.Before(w.ExpiresAt) {
			continue
		}

		if s.rng.Float() >= w.EscalationProbability {
			// Faded without escalating.
			s.removeLocked(k)
			s.stats.Prevented++
			slog.Debug("warning faded", "region", w.Region, "event_type", w.EventType, "phase", w.Phase.String())
			continue
		}

		next, more := w.Phase.Next()
		if !more {
			// End of Imminent: the real event fires.
			s.removeLocked(k)
			s.stats.Fired++
			fired = append(fired, Fired{Region: w.Region, EventType: w.EventType, Severity: w.Severity})
			slog.Info("warning escalated to event", "region", w.Region, "event_type", w.EventType, "severity", w.Severity)
			continue
		}
		s.escalateLocked(w, next)
	}

	return fired
}

// ClearWarning removes a region's warning at the given phase (player
// intervention). Counts as prevented. Returns false if no warning in
// that region sits at that phase.
func (s *System) ClearWarning(region string, phase Phase) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range s.order {
		w := s.active[k]
		if w.Region == region && w.Phase == phase {
			s.removeLocked(k)
			s.stats.Prevented++
			slog.Info("warning cleared", "region", region, "phase", phase.String())
			return true
		}
	}
	return false
}

// Active returns a snapshot of all active warnings in start order.
func (s *System) Active() []Warning {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Warning, 0, len(s.order))
	for _, k := range s.order {
		out = append(out, *s.active[k])
	}
	return out
}

// Stats returns outcome counters.
func (s *System) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Restore replaces active warnings from a saved snapshot.
func (s *System) Restore(warnings []Warning) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.active = make(map[string]*Warning, len(warnings))
	s.order = s.order[:0]
	for i := range warnings {
		w := warnings[i]
		k := key(w.Region, w.EventType)
		s.active[k] = &w
		s.order = append(s.order, k)
	}
}

func (s *System) startLocked(region, eventType string, severity int) {
	now := s.clock()
	w := &Warning{
		ID:                    uuid.New(),
		Region:                region,
		EventType:             eventType,
		Phase:                 PhaseRumor,
		Severity:              severity,
		Description:           s.describe(PhaseRumor, eventType, region),
		TriggeredAt:           now,
		ExpiresAt:             now.Add(s.phaseWindow(PhaseRumor)),
		EscalationProbability: PhaseRumor.EscalationProbability(),
	}
	k := key(region, eventType)
	s.active[k] = w
	s.order = append(s.order, k)
	s.stats.Started++
	slog.Info("warning started", "region", region, "event_type", eventType, "severity", severity)
}

func (s *System) escalateLocked(w *Warning, next Phase) {
	now := s.clock()
	w.Phase = next
	w.TriggeredAt = now
	w.ExpiresAt = now.Add(s.phaseWindow(next))
	w.EscalationProbability = next.EscalationProbability()
	w.Description = s.describe(next, w.EventType, w.Region)
	s.stats.Escalated++
	slog.Info("warning escalated", "region", w.Region, "event_type", w.EventType, "phase", next.String())
}

func (s *System) removeLocked(k string) {
	delete(s.active, k)
	for i, o := range s.order {
		if o == k {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

func (s *System) phaseWindow(p Phase) time.Duration {
	return time.Duration(p.Duration() * float64(s.hourScale))
}

// describe produces warning prose, preferring the Haiku client but always
// succeeding via the deterministic templates.
func (s *System) describe(phase Phase, eventType, region string) string {
	if s.texter.Enabled() {
		if text, err := textgen.WarningText(s.texter, phase.String(), eventType, region); err == nil && text != "" {
			return text
		} else if err != nil {
			slog.Debug("warning text generation failed, using template", "error", err)
		}
	}
	return FallbackText(phase, eventType)
}

// String summarizes a warning for logs.
func (w Warning) String() string {
	return fmt.Sprintf("%s/%s@%s", w.Region, w.EventType, w.Phase)
}
