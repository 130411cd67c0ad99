// Package chaos is the orchestrator of the kernel: it converts pressure
// into chaos scores, decides which events fire, and coordinates the
// warning, cascade, and narrative subsystems each tick.
// See design doc Section 3.5.
package chaos

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Level is the discretized severity of current chaos.
type Level uint8

const (
	LevelStable Level = iota
	LevelLow
	LevelModerate
	LevelHigh
	LevelCritical
)

// LevelFor discretizes a normalized chaos score.
func LevelFor(score float64) Level {
	switch {
	case score < 0.3:
		return LevelStable
	case score < 0.6:
		return LevelLow
	case score < 0.8:
		return LevelModerate
	case score < 0.92:
		return LevelHigh
	}
	return LevelCritical
}

// String returns the level name.
func (l Level) String() string {
	switch l {
	case LevelStable:
		return "stable"
	case LevelLow:
		return "low"
	case LevelModerate:
		return "moderate"
	case LevelHigh:
		return "high"
	case LevelCritical:
		return "critical"
	}
	return "unknown"
}

// Status is the lifecycle stage of a chaos event. Transitions are
// monotonic: Pending→Active→{Resolving→Resolved | Cancelled}.
type Status uint8

const (
	StatusPending Status = iota
	StatusActive
	StatusResolving
	StatusResolved
	StatusCancelled
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusActive:
		return "active"
	case StatusResolving:
		return "resolving"
	case StatusResolved:
		return "resolved"
	case StatusCancelled:
		return "cancelled"
	}
	return "unknown"
}

// CanTransition reports whether moving to the target status is legal.
// No back-transitions exist.
func (s Status) CanTransition(to Status) bool {
	switch s {
	case StatusPending:
		return to == StatusActive || to == StatusCancelled
	case StatusActive:
		return to == StatusResolving || to == StatusCancelled
	case StatusResolving:
		return to == StatusResolved
	}
	return false
}

// Event is a disruptive occurrence in the world.
type Event struct {
	ID          uuid.UUID `json:"id"`
	Type        string    `json:"type"`
	Severity    int       `json:"severity"` // 1..5
	Status      Status    `json:"status"`
	Regions     []string  `json:"affected_regions"`
	Global      bool      `json:"global_event"`
	Description string    `json:"description"`

	TriggeredAt   time.Time `json:"triggered_at"`
	DurationHours float64   `json:"duration_hours"`
	ExpiresAt     time.Time `json:"expires_at"`

	ImmediateEffects  map[string]float64 `json:"immediate_effects,omitempty"`
	OngoingEffects    map[string]float64 `json:"ongoing_effects,omitempty"`
	ResolutionEffects map[string]float64 `json:"resolution_effects,omitempty"`

	CascadeProbability float64  `json:"cascade_probability"`
	CascadeTargets     []string `json:"cascade_targets,omitempty"`
	CooldownHours      float64  `json:"cooldown_hours"`
}

// NewEvent validates invariants at construction time. A non-global event
// with no affected regions would corrupt downstream region matching, so
// it is rejected here rather than caught later.
func NewEvent(eventType string, severity int, regions []string, global bool, durationHours float64) (*Event, error) {
	if eventType == "" {
		return nil, fmt.Errorf("empty event type")
	}
	if severity < 1 || severity > 5 {
		return nil, fmt.Errorf("severity %d outside 1..5", severity)
	}
	if !global && len(regions) == 0 {
		return nil, fmt.Errorf("non-global event must affect at least one region")
	}
	if durationHours <= 0 {
		return nil, fmt.Errorf("duration %.2f must be positive", durationHours)
	}
	return &Event{
		ID:            uuid.New(),
		Type:          eventType,
		Severity:      severity,
		Status:        StatusPending,
		Regions:       regions,
		Global:        global,
		DurationHours: durationHours,
	}, nil
}

// Fire activates a pending event. Expiry is computed here, at trigger
// time, never before.
func (e *Event) Fire(now time.Time, hourScale time.Duration) error {
	if err := e.Transition(StatusActive); err != nil {
		return err
	}
	e.TriggeredAt = now
	e.ExpiresAt = now.Add(time.Duration(e.DurationHours * float64(hourScale)))
	return nil
}

// Transition moves the event to a new lifecycle status, enforcing
// monotonic ordering.
func (e *Event) Transition(to Status) error {
	if !e.Status.CanTransition(to) {
		return fmt.Errorf("illegal status transition %s → %s", e.Status, to)
	}
	e.Status = to
	return nil
}
