package chaos

import (
	"time"

	"github.com/google/uuid"

	"github.com/talgya/chaos-world/internal/cascade"
	"github.com/talgya/chaos-world/internal/narrative"
	"github.com/talgya/chaos-world/internal/pressure"
	"github.com/talgya/chaos-world/internal/warning"
)

// Snapshot is the full kernel state as an opaque serializable blob. The
// persistence layer stores it; it carries no storage-format knowledge.
type Snapshot struct {
	SavedAt     time.Time                  `json:"saved_at"`
	GlobalScore float64                    `json:"global_score"`
	Pressure    map[string]pressure.Vector `json:"pressure"`
	Regions     []RegionalData             `json:"regions"`
	Events      []Event                    `json:"events"`
	Settled     []Event                    `json:"settled"`
	Mitigations []Mitigation               `json:"mitigations"`
	Stats       Stats                      `json:"stats"`

	Warnings []warning.Warning     `json:"warnings"`
	Cascades []cascade.Event       `json:"cascades"`
	Themes   []narrative.Theme     `json:"themes"`
	Beats    []narrative.StoryBeat `json:"beats"`

	Tension    float64 `json:"tension"`
	Engagement float64 `json:"engagement"`
}

// Export captures the state of the engine and every subsystem it owns
// references to.
func (e *Engine) Export() Snapshot {
	e.mu.Lock()

	snap := Snapshot{
		SavedAt:     e.clock(),
		GlobalScore: e.globalScore,
		Pressure:    make(map[string]pressure.Vector, len(e.regionOrder)),
		Stats:       e.stats,
	}
	for _, region := range e.regionOrder {
		snap.Pressure[region] = e.press.Region(region)
		snap.Regions = append(snap.Regions, *e.regions[region])
	}
	for _, id := range e.eventOrder {
		snap.Events = append(snap.Events, *e.events[id])
	}
	snap.Settled = append(snap.Settled, e.settled...)
	for _, id := range e.mitigationOrder {
		snap.Mitigations = append(snap.Mitigations, *e.mitigations[id])
	}
	e.mu.Unlock()

	snap.Warnings = e.warnings.Active()
	if e.cascades != nil {
		snap.Cascades = e.cascades.Scheduled()
	}
	snap.Themes = e.moderator.Themes()
	snap.Beats = e.moderator.Beats()
	snap.Tension = e.moderator.Tension()
	snap.Engagement = e.moderator.Engagement()
	return snap
}

// Import replaces the state of the engine and its subsystems from a
// saved snapshot.
func (e *Engine) Import(snap Snapshot) error {
	e.mu.Lock()

	e.regions = make(map[string]*RegionalData, len(snap.Regions))
	e.regionOrder = e.regionOrder[:0]
	now := e.clock()
	for i := range snap.Regions {
		rd := snap.Regions[i]
		e.regions[rd.Region] = &rd
		e.regionOrder = append(e.regionOrder, rd.Region)
		if vec, ok := snap.Pressure[rd.Region]; ok {
			if err := e.press.Merge(rd.Region, vec); err != nil {
				e.mu.Unlock()
				return err
			}
		}
		e.recomputeRegionLocked(&rd, now)
	}

	e.events = make(map[uuid.UUID]*Event, len(snap.Events))
	e.eventOrder = e.eventOrder[:0]
	for i := range snap.Events {
		ev := snap.Events[i]
		e.events[ev.ID] = &ev
		e.eventOrder = append(e.eventOrder, ev.ID)
	}
	e.settled = append(e.settled[:0], snap.Settled...)

	e.mitigations = make(map[uuid.UUID]*Mitigation, len(snap.Mitigations))
	e.mitigationOrder = e.mitigationOrder[:0]
	for i := range snap.Mitigations {
		m := snap.Mitigations[i]
		e.mitigations[m.ID] = &m
		e.mitigationOrder = append(e.mitigationOrder, m.ID)
	}

	e.stats = snap.Stats
	e.recomputeGlobalLocked()
	e.mu.Unlock()

	e.warnings.Restore(snap.Warnings)
	if e.cascades != nil {
		e.cascades.Restore(snap.Cascades)
	}
	e.moderator.Restore(snap.Themes, snap.Beats, snap.Tension, snap.Engagement)
	return nil
}
