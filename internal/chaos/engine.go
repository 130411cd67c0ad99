package chaos

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/talgya/chaos-world/internal/cascade"
	"github.com/talgya/chaos-world/internal/entropy"
	"github.com/talgya/chaos-world/internal/narrative"
	"github.com/talgya/chaos-world/internal/pressure"
	"github.com/talgya/chaos-world/internal/warning"
)

const (
	defaultDecayFactor     = 0.9
	defaultFatigueSkip     = 0.8  // above this, a region sits out trigger checks
	defaultFatigueStep     = 0.25 // added per fired event
	defaultFatigueDecay    = 0.02 // removed per sim-hour
	defaultPressureDecay   = 0.01 // fractional pressure loss per sim-hour
	resolveGraceHours      = 1.0  // sim-hours an event lingers in Resolving
	settledEventLimit      = 256
	defaultCascadeDuration = 24.0
)

// RegionalData is the per-region chaos rollup. The engine is its only
// writer.
type RegionalData struct {
	Region         string      `json:"region"`
	Score          float64     `json:"score"` // normalized chaos score
	Level          Level       `json:"level"`
	Fatigue        float64     `json:"fatigue"` // [0,1], decays toward 0
	ActiveEventIDs []uuid.UUID `json:"active_event_ids"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// Mitigation scales down matched pressure categories until it expires.
type Mitigation struct {
	ID            uuid.UUID `json:"id"`
	Type          string    `json:"type"` // pressure category name, or "all"
	Effectiveness float64   `json:"effectiveness"`
	Target        string    `json:"target"` // region name, or "" for global
	AppliedAt     time.Time `json:"applied_at"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// Stats counts orchestrator outcomes.
type Stats struct {
	EventsFired        int `json:"events_fired"`
	EventsForced       int `json:"events_forced"`
	WarningEvents      int `json:"warning_events"`
	CascadeEvents      int `json:"cascade_events"`
	FatigueSkips       int `json:"fatigue_skips"`
	RegionFailures     int `json:"region_failures"`
	MitigationsApplied int `json:"mitigations_applied"`
}

// Engine owns regional chaos state and all chaos events, and drives the
// warning, cascade, and narrative subsystems.
type Engine struct {
	mu        sync.Mutex
	press     *pressure.Store
	warnings  *warning.System
	cascades  *cascade.Engine // nil = cascading degraded, never fatal
	moderator *narrative.Moderator
	policy    TriggerPolicy
	rng       entropy.Source
	clock     func() time.Time
	hourScale time.Duration

	regions     map[string]*RegionalData
	regionOrder []string
	events      map[uuid.UUID]*Event
	eventOrder  []uuid.UUID
	settled     []Event // bounded history of resolved/cancelled events

	mitigations     map[uuid.UUID]*Mitigation
	mitigationOrder []uuid.UUID

	connected map[string][]string
	sinks     []EventSink

	globalScore float64
	globalLevel Level
	lastDecay   time.Time

	// Tunables, set before the first tick.
	DecayFactor      float64
	FatigueThreshold float64
	FatigueIncrement float64
	FatigueDecay     float64
	PressureDecay    float64

	stats Stats
}

// NewEngine wires the orchestrator to its subsystems. cascades may be
// nil; the engine then skips cascade scheduling but keeps firing events.
func NewEngine(store *pressure.Store, warnings *warning.System, cascades *cascade.Engine, moderator *narrative.Moderator, policy TriggerPolicy, rng entropy.Source, hourScale time.Duration) *Engine {
	if hourScale <= 0 {
		hourScale = time.Minute
	}
	if policy == nil {
		policy = NewDefaultPolicy()
	}
	return &Engine{
		press:            store,
		warnings:         warnings,
		cascades:         cascades,
		moderator:        moderator,
		policy:           policy,
		rng:              rng,
		clock:            time.Now,
		hourScale:        hourScale,
		regions:          make(map[string]*RegionalData),
		events:           make(map[uuid.UUID]*Event),
		mitigations:      make(map[uuid.UUID]*Mitigation),
		connected:        make(map[string][]string),
		DecayFactor:      defaultDecayFactor,
		FatigueThreshold: defaultFatigueSkip,
		FatigueIncrement: defaultFatigueStep,
		FatigueDecay:     defaultFatigueDecay,
		PressureDecay:    defaultPressureDecay,
	}
}

// SetClock overrides the time source (testing).
func (e *Engine) SetClock(clock func() time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.clock = clock
}

// SetConnectedRegions installs the region adjacency used for cascade
// spreading.
func (e *Engine) SetConnectedRegions(connected map[string][]string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.connected = connected
}

// RegisterSink adds a receiver for fired events.
func (e *Engine) RegisterSink(sink EventSink) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sinks = append(e.sinks, sink)
}

// UpdatePressure validates and merges incoming category values for a
// region, scales them through active mitigations, and recomputes the
// regional and global chaos rollups. Out-of-range inputs are rejected
// outright so upstream bugs surface.
func (e *Engine) UpdatePressure(region string, sources map[pressure.Category]float64) error {
	if err := pressure.Validate(sources); err != nil {
		return fmt.Errorf("update pressure for %q: %w", region, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock()
	scaled := make(map[pressure.Category]float64, len(sources))
	for c, v := range sources {
		scaled[c] = e.mitigateLocked(region, c, v, now)
	}

	if err := e.press.Merge(region, scaled); err != nil {
		return err
	}

	rd, ok := e.regions[region]
	if !ok {
		rd = &RegionalData{Region: region}
		e.regions[region] = rd
		e.regionOrder = append(e.regionOrder, region)
	}
	e.recomputeRegionLocked(rd, now)
	e.recomputeGlobalLocked()
	return nil
}

// mitigateLocked scales one incoming category value down through every
// active mitigation matching its category and region.
func (e *Engine) mitigateLocked(region string, c pressure.Category, v float64, now time.Time) float64 {
	for _, id := range e.mitigationOrder {
		m := e.mitigations[id]
		if now.After(m.ExpiresAt) {
			continue
		}
		if m.Target != "" && m.Target != region {
			continue
		}
		if m.Type != "all" && m.Type != string(c) {
			continue
		}
		v *= 1 - m.Effectiveness
	}
	return v
}

func (e *Engine) recomputeRegionLocked(rd *RegionalData, now time.Time) {
	vec := e.press.Region(rd.Region)
	rd.Score = clamp01(vec.Total() * e.DecayFactor)
	rd.Level = LevelFor(rd.Score)
	rd.UpdatedAt = now
}

// recomputeGlobalLocked sets the world chaos score to the
// pressure-weighted mean across regions.
func (e *Engine) recomputeGlobalLocked() {
	var weightedSum, totalWeight float64
	mean := make(pressure.Vector)
	for _, region := range e.regionOrder {
		rd := e.regions[region]
		vec := e.press.Region(region)
		total := vec.Total()
		weightedSum += rd.Score * total
		totalWeight += total
		for c, v := range vec {
			mean[c] += v
		}
	}
	if totalWeight > 0 {
		e.globalScore = clamp01(weightedSum / totalWeight)
	} else {
		e.globalScore = 0
	}
	e.globalLevel = LevelFor(e.globalScore)
	if n := len(e.regionOrder); n > 0 {
		for c := range mean {
			mean[c] /= float64(n)
		}
	}
	e.press.SetGlobal(mean)
}

// CheckEventTriggers runs one trigger pass over every region in stable
// insertion order. Fatigued regions are skipped (counted as prevented).
// A failure in one region is logged and never aborts the others. Newly
// fired events are submitted to the cascade engine in one batch after
// all regions resolve.
func (e *Engine) CheckEventTriggers() []Event {
	e.mu.Lock()

	now := e.clock()
	e.expireMitigationsLocked(now)

	var fired []*Event
	for _, region := range e.regionOrder {
		if ev := e.checkRegionLocked(region, now); ev != nil {
			fired = append(fired, ev)
		}
	}

	// Cascade scheduling happens strictly after all triggers resolve so
	// a cascade from one region cannot influence another in this tick.
	for _, ev := range fired {
		e.submitCascadesLocked(ev)
	}

	out := make([]Event, 0, len(fired))
	for _, ev := range fired {
		out = append(out, *ev)
	}
	sinks := append([]EventSink(nil), e.sinks...)
	e.mu.Unlock()

	notifySinks(sinks, out)
	return out
}

// checkRegionLocked evaluates a single region. Panics are contained so
// one bad region never stops the rest of the pass.
func (e *Engine) checkRegionLocked(region string, now time.Time) (ev *Event) {
	defer func() {
		if r := recover(); r != nil {
			e.stats.RegionFailures++
			slog.Error("region trigger check failed", "region", region, "panic", r)
			ev = nil
		}
	}()

	rd := e.regions[region]
	if rd.Fatigue > e.FatigueThreshold {
		e.stats.FatigueSkips++
		slog.Debug("region fatigued, skipping", "region", region, "fatigue", rd.Fatigue)
		return nil
	}

	vec := e.press.Region(region)
	dominant, _ := vec.Dominant()
	weight := e.moderator.EventWeight(dominant.EventType())
	weighted := clamp01(rd.Score * weight)

	e.warnings.CheckAndTrigger(region, weighted, dominant, severityForLevel(rd.Level))

	tmpl, fire := e.policy.ShouldFire(region, weighted, dominant, e.rng)
	if !fire {
		return nil
	}

	event, err := NewEvent(tmpl.Type, tmpl.Severity, []string{region}, false, tmpl.DurationHours)
	if err != nil {
		e.stats.RegionFailures++
		slog.Error("policy produced invalid event", "region", region, "error", err)
		return nil
	}
	event.CascadeProbability = tmpl.CascadeProbability
	event.CooldownHours = tmpl.CooldownHours
	event.Description = fmt.Sprintf("%s strikes %s (severity %d)", event.Type, region, event.Severity)

	e.fireLocked(event, rd, now)
	e.stats.EventsFired++
	return event
}

// fireLocked activates an event and books it against its regions.
func (e *Engine) fireLocked(event *Event, rd *RegionalData, now time.Time) {
	if err := event.Fire(now, e.hourScale); err != nil {
		slog.Error("event activation failed", "event_id", event.ID, "error", err)
		return
	}
	e.events[event.ID] = event
	e.eventOrder = append(e.eventOrder, event.ID)

	if rd != nil {
		rd.Fatigue = clamp01(rd.Fatigue + e.FatigueIncrement)
		rd.ActiveEventIDs = append(rd.ActiveEventIDs, event.ID)
	} else {
		for _, region := range event.Regions {
			if r, ok := e.regions[region]; ok {
				r.Fatigue = clamp01(r.Fatigue + e.FatigueIncrement)
				r.ActiveEventIDs = append(r.ActiveEventIDs, event.ID)
			}
		}
	}

	slog.Info("chaos event fired",
		"event_id", event.ID,
		"type", event.Type,
		"severity", event.Severity,
		"regions", event.Regions,
		"expires_at", event.ExpiresAt,
	)
}

// submitCascadesLocked hands one fired event to the cascade engine. A
// missing cascade engine degrades to no cascading, never a crash.
func (e *Engine) submitCascadesLocked(ev *Event) {
	if e.cascades == nil {
		slog.Debug("cascade engine unavailable, skipping cascades", "event_id", ev.ID)
		return
	}

	ctx := cascade.Context{
		Modifiers: map[string]float64{
			"narrative": e.moderator.EventWeight(ev.Type),
		},
		ConnectedRegions: e.connected,
	}
	e.cascades.ProcessEventCascades(cascade.Trigger{
		EventID:   ev.ID,
		EventType: ev.Type,
		Severity:  ev.Severity,
		Regions:   ev.Regions,
	}, ctx)
}

// ProcessWarnings advances warning windows and fires the real events
// behind warnings that escalated past Imminent.
func (e *Engine) ProcessWarnings() []Event {
	fired := e.warnings.Tick()
	if len(fired) == 0 {
		return nil
	}

	e.mu.Lock()
	now := e.clock()
	var out []Event
	for _, f := range fired {
		event, err := NewEvent(f.EventType, f.Severity, []string{f.Region}, false, 12+12*float64(f.Severity))
		if err != nil {
			slog.Error("warning produced invalid event", "region", f.Region, "error", err)
			continue
		}
		event.Description = fmt.Sprintf("%s erupts in %s after mounting warnings (severity %d)", f.EventType, f.Region, f.Severity)
		e.fireLocked(event, nil, now)
		e.submitCascadesLocked(event)
		e.stats.WarningEvents++
		out = append(out, *event)
	}
	sinks := append([]EventSink(nil), e.sinks...)
	e.mu.Unlock()

	notifySinks(sinks, out)
	return out
}

// ProcessDueCascades fires all scheduled cascades whose time has come
// and applies them as real events. Cascade-born events are themselves
// submitted for further cascading on this pass.
func (e *Engine) ProcessDueCascades() []Event {
	if e.cascades == nil {
		return nil
	}
	due := e.cascades.ProcessDue()
	if len(due) == 0 {
		return nil
	}

	e.mu.Lock()
	now := e.clock()
	var out []Event
	for _, c := range due {
		event, err := NewEvent(c.EventType, c.Severity, c.Regions, len(c.Regions) == 0, defaultCascadeDuration)
		if err != nil {
			slog.Error("cascade produced invalid event", "cascade_id", c.ID, "error", err)
			continue
		}
		event.Description = fmt.Sprintf("%s spreads to %v in the wake of earlier chaos (severity %d)", c.EventType, c.Regions, c.Severity)
		e.fireLocked(event, nil, now)
		e.submitCascadesLocked(event)
		e.stats.CascadeEvents++
		out = append(out, *event)
	}
	sinks := append([]EventSink(nil), e.sinks...)
	e.mu.Unlock()

	notifySinks(sinks, out)
	return out
}

// ForceTriggerEvent bypasses probability checks (admin and testing) but
// still goes through cascade scheduling and sink notification.
func (e *Engine) ForceTriggerEvent(eventType string, severity int, regions []string) (Event, error) {
	event, err := NewEvent(eventType, severity, regions, len(regions) == 0, 12+12*float64(severity))
	if err != nil {
		return Event{}, err
	}
	event.Description = fmt.Sprintf("%s called down upon %v (severity %d)", eventType, regions, severity)

	e.mu.Lock()
	e.fireLocked(event, nil, e.clock())
	e.submitCascadesLocked(event)
	e.stats.EventsForced++
	out := *event
	sinks := append([]EventSink(nil), e.sinks...)
	e.mu.Unlock()

	notifySinks(sinks, []Event{out})
	return out, nil
}

// ApplyMitigation records a pressure-scaling mitigation. Effectiveness
// outside [0,1], an unknown category, or an unknown target region are
// explicit failures that leave stored mitigations untouched.
func (e *Engine) ApplyMitigation(mitigationType string, effectiveness, durationHours float64, target string) (uuid.UUID, error) {
	if effectiveness < 0 || effectiveness > 1 {
		return uuid.Nil, fmt.Errorf("effectiveness %.3f outside [0,1]", effectiveness)
	}
	if durationHours <= 0 {
		return uuid.Nil, fmt.Errorf("duration %.2f must be positive", durationHours)
	}
	if mitigationType != "all" && !pressure.Category(mitigationType).Valid() {
		return uuid.Nil, fmt.Errorf("unknown mitigation type %q", mitigationType)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if target != "" {
		if _, ok := e.regions[target]; !ok {
			return uuid.Nil, fmt.Errorf("unknown target region %q", target)
		}
	}

	now := e.clock()
	m := &Mitigation{
		ID:            uuid.New(),
		Type:          mitigationType,
		Effectiveness: effectiveness,
		Target:        target,
		AppliedAt:     now,
		ExpiresAt:     now.Add(time.Duration(durationHours * float64(e.hourScale))),
	}
	e.mitigations[m.ID] = m
	e.mitigationOrder = append(e.mitigationOrder, m.ID)
	e.stats.MitigationsApplied++
	slog.Info("mitigation applied", "id", m.ID, "type", m.Type, "effectiveness", m.Effectiveness, "target", target)
	return m.ID, nil
}

// RemoveMitigation drops a mitigation. Returns false for unknown ids.
func (e *Engine) RemoveMitigation(id uuid.UUID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.mitigations[id]; !ok {
		return false
	}
	e.removeMitigationLocked(id)
	slog.Info("mitigation removed", "id", id)
	return true
}

func (e *Engine) removeMitigationLocked(id uuid.UUID) {
	delete(e.mitigations, id)
	for i, o := range e.mitigationOrder {
		if o == id {
			e.mitigationOrder = append(e.mitigationOrder[:i], e.mitigationOrder[i+1:]...)
			break
		}
	}
}

func (e *Engine) expireMitigationsLocked(now time.Time) {
	for _, id := range append([]uuid.UUID(nil), e.mitigationOrder...) {
		if m := e.mitigations[id]; m != nil && now.After(m.ExpiresAt) {
			e.removeMitigationLocked(id)
			slog.Debug("mitigation expired", "id", id)
		}
	}
}

// ResolveTick ages active events through Resolving into Resolved,
// applies resolution pressure relief, and decays fatigue and ambient
// pressure with elapsed sim time.
func (e *Engine) ResolveTick() {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock()
	if e.lastDecay.IsZero() {
		e.lastDecay = now
	}
	hours := now.Sub(e.lastDecay).Seconds() / (float64(e.hourScale) / float64(time.Second))
	e.lastDecay = now

	grace := time.Duration(resolveGraceHours * float64(e.hourScale))

	remaining := e.eventOrder[:0]
	for _, id := range e.eventOrder {
		ev := e.events[id]
		switch ev.Status {
		case StatusActive:
			if !now.Before(ev.ExpiresAt) {
				if err := ev.Transition(StatusResolving); err == nil {
					slog.Debug("event resolving", "event_id", ev.ID, "type", ev.Type)
				}
			}
		case StatusResolving:
			if now.Sub(ev.ExpiresAt) >= grace {
				if err := ev.Transition(StatusResolved); err == nil {
					e.settleLocked(ev, now)
					continue
				}
			}
		case StatusResolved, StatusCancelled:
			e.settleLocked(ev, now)
			continue
		}
		remaining = append(remaining, id)
	}
	e.eventOrder = remaining

	// Fatigue and ambient pressure decay.
	if hours > 0 {
		for _, region := range e.regionOrder {
			rd := e.regions[region]
			rd.Fatigue = maxFloat(0, rd.Fatigue-e.FatigueDecay*hours)

			vec := e.press.Region(region)
			if len(vec) > 0 {
				decayed := make(map[pressure.Category]float64, len(vec))
				for c, v := range vec {
					decayed[c] = maxFloat(0, v*(1-e.PressureDecay*hours))
				}
				if err := e.press.Merge(region, decayed); err == nil {
					e.recomputeRegionLocked(rd, now)
				}
			}
		}
		e.recomputeGlobalLocked()
	}
}

// settleLocked retires a finished event: drops it from region rollups,
// applies resolution relief to the source pressure category, and moves
// it into the bounded settled history.
func (e *Engine) settleLocked(ev *Event, now time.Time) {
	for _, region := range ev.Regions {
		rd, ok := e.regions[region]
		if !ok {
			continue
		}
		for i, id := range rd.ActiveEventIDs {
			if id == ev.ID {
				rd.ActiveEventIDs = append(rd.ActiveEventIDs[:i], rd.ActiveEventIDs[i+1:]...)
				break
			}
		}

		// Resolution feedback: the event burns off some of the pressure
		// that spawned it.
		if c, ok := pressure.CategoryForEvent(ev.Type); ok {
			vec := e.press.Region(region)
			relief := 0.05 * float64(ev.Severity)
			next := maxFloat(0, vec[c]-relief)
			if err := e.press.Merge(region, map[pressure.Category]float64{c: next}); err == nil {
				e.recomputeRegionLocked(rd, now)
			}
		}
	}

	delete(e.events, ev.ID)
	e.settled = append(e.settled, *ev)
	if len(e.settled) > settledEventLimit {
		e.settled = e.settled[len(e.settled)-settledEventLimit:]
	}
	slog.Info("event settled", "event_id", ev.ID, "type", ev.Type, "status", ev.Status.String())
}

// ActiveEvents returns all unsettled events in fire order.
func (e *Engine) ActiveEvents() []Event {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Event, 0, len(e.eventOrder))
	for _, id := range e.eventOrder {
		if ev, ok := e.events[id]; ok {
			out = append(out, *ev)
		}
	}
	return out
}

// SettledEvents returns the bounded history of finished events.
func (e *Engine) SettledEvents() []Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Event(nil), e.settled...)
}

// Region returns a copy of one region's rollup.
func (e *Engine) Region(region string) (RegionalData, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rd, ok := e.regions[region]
	if !ok {
		return RegionalData{}, false
	}
	return *rd, true
}

// Regions returns all regional rollups in insertion order.
func (e *Engine) Regions() []RegionalData {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]RegionalData, 0, len(e.regionOrder))
	for _, region := range e.regionOrder {
		out = append(out, *e.regions[region])
	}
	return out
}

// Mitigations returns active mitigations in application order.
func (e *Engine) Mitigations() []Mitigation {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Mitigation, 0, len(e.mitigationOrder))
	for _, id := range e.mitigationOrder {
		out = append(out, *e.mitigations[id])
	}
	return out
}

// GlobalScore returns the pressure-weighted world chaos score.
func (e *Engine) GlobalScore() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.globalScore
}

// GlobalLevel returns the discretized world chaos level.
func (e *Engine) GlobalLevel() Level {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.globalLevel
}

// Stats returns orchestrator counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// notifySinks delivers fired events outside the engine lock so a sink
// may safely call back into accessors.
func notifySinks(sinks []EventSink, events []Event) {
	for _, ev := range events {
		for _, s := range sinks {
			s.OnChaosEvent(ev)
		}
	}
}

// severityForLevel seeds warning severity from the chaos level.
func severityForLevel(l Level) int {
	switch l {
	case LevelStable:
		return 1
	case LevelLow:
		return 2
	case LevelModerate:
		return 3
	case LevelHigh:
		return 4
	}
	return 5
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
