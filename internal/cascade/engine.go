package cascade

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/talgya/chaos-world/internal/entropy"
	"github.com/talgya/chaos-world/internal/textgen"
)

const (
	minSeverity = 1
	maxSeverity = 5

	// Chance each connected region is dragged into a spreading cascade.
	spreadChance = 0.3

	defaultHistoryLimit = 256
)

// Trigger is the slice of a primary event the engine needs. Cross-
// component references stay id-based; the engine never holds the
// orchestrator's event objects.
type Trigger struct {
	EventID   uuid.UUID
	EventType string
	Severity  int
	Regions   []string
}

// Context carries per-tick modifiers into probability calculations.
type Context struct {
	// Modifiers multiply into every rule's effective probability
	// (narrative weight, regional damping, and so on), keyed by name
	// for logging.
	Modifiers map[string]float64

	// ConnectedRegions maps a region to its neighbors for spread rolls.
	ConnectedRegions map[string][]string
}

// Event is a scheduled-but-unfired cascade instance.
type Event struct {
	ID             uuid.UUID `json:"id"`
	TriggerEventID uuid.UUID `json:"trigger_event_id"`
	EventType      string    `json:"event_type"`
	Severity       int       `json:"severity"`
	ScheduledAt    time.Time `json:"scheduled_at"`
	Regions        []string  `json:"regions"`
	Triggered      bool      `json:"triggered"`
	Cancelled      bool      `json:"cancelled"`
	FromReasoning  bool      `json:"from_reasoning,omitempty"`
}

// Stats counts cascade outcomes.
type Stats struct {
	Scheduled int `json:"scheduled"`
	Fired     int `json:"fired"`
	Cancelled int `json:"cancelled"`
	Proposed  int `json:"proposed"` // accepted reasoning-based candidates
}

// Engine owns cascade rules, the scheduled queue, and a bounded history
// of settled (fired or cancelled) cascades.
type Engine struct {
	mu           sync.Mutex
	rules        []Rule
	scheduled    map[uuid.UUID]*Event
	order        []uuid.UUID
	history      []Event
	historyLimit int
	rng          entropy.Source
	texter       *textgen.Client
	clock        func() time.Time
	hourScale    time.Duration
	stats        Stats
}

// NewEngine creates a cascade engine with the given rulebook. A nil
// texter disables reasoning-based proposals.
func NewEngine(rules []Rule, rng entropy.Source, texter *textgen.Client, hourScale time.Duration) *Engine {
	if hourScale <= 0 {
		hourScale = time.Minute
	}
	return &Engine{
		rules:        rules,
		scheduled:    make(map[uuid.UUID]*Event),
		historyLimit: defaultHistoryLimit,
		rng:          rng,
		texter:       texter,
		clock:        time.Now,
		hourScale:    hourScale,
	}
}

// SetClock overrides the time source (testing).
func (e *Engine) SetClock(clock func() time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.clock = clock
}

// Probability computes the effective cascade probability for a rule and
// trigger severity, clamped to [0,1] no matter how large the modifiers.
func (e *Engine) Probability(r Rule, severity int, ctx Context) float64 {
	p := r.BaseProbability * severityMultiplier(severity)
	for _, m := range ctx.Modifiers {
		p *= m
	}
	return clamp01(p)
}

// severityMultiplier scales probability by trigger severity: a minor
// event rarely cascades, a catastrophic one almost always does.
func severityMultiplier(severity int) float64 {
	return 0.5 + 0.25*float64(clampSeverity(severity)-1)
}

// ProcessEventCascades evaluates every matching rule against a freshly
// fired trigger event and schedules the cascades that pass their rolls.
// Reasoning-based candidates, when available, merge in with priority.
func (e *Engine) ProcessEventCascades(trigger Trigger, ctx Context) []Event {
	e.mu.Lock()
	defer e.mu.Unlock()

	var batch []*Event

	// Reasoning candidates go first so rule-based duplicates defer to them.
	for _, p := range e.proposeLocked(trigger) {
		batch = append(batch, p)
	}

	for _, r := range e.rules {
		if r.TriggerEventType != trigger.EventType {
			continue
		}
		if !e.ruleApplies(r, trigger) {
			continue
		}
		p := e.Probability(r, trigger.Severity, ctx)
		if e.rng.Float() >= p {
			continue
		}

		ev := &Event{
			ID:             uuid.New(),
			TriggerEventID: trigger.EventID,
			EventType:      r.CascadeEventType,
			Severity:       cascadeSeverity(trigger.Severity, r),
			ScheduledAt:    e.clock().Add(e.delayFor(r, trigger.Severity)),
			Regions:        e.regionsFor(r, trigger, ctx),
		}
		if dup := findDuplicate(batch, ev); dup != nil {
			// A reasoning candidate already covers this (type, regions);
			// it wins.
			continue
		}
		batch = append(batch, ev)
	}

	out := make([]Event, 0, len(batch))
	for _, ev := range batch {
		e.scheduled[ev.ID] = ev
		e.order = append(e.order, ev.ID)
		e.stats.Scheduled++
		out = append(out, *ev)
		slog.Info("cascade scheduled",
			"cascade_id", ev.ID,
			"trigger_event", trigger.EventID,
			"event_type", ev.EventType,
			"severity", ev.Severity,
			"due", ev.ScheduledAt,
			"regions", ev.Regions,
		)
	}
	return out
}

// ruleApplies checks a rule's optional severity and region gates.
func (e *Engine) ruleApplies(r Rule, trigger Trigger) bool {
	if r.RequiredSeverity > 0 && trigger.Severity < r.RequiredSeverity {
		return false
	}
	if len(r.RequiredRegions) > 0 {
		found := false
		for _, req := range r.RequiredRegions {
			for _, reg := range trigger.Regions {
				if req == reg {
					found = true
					break
				}
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// cascadeSeverity derives the secondary event's severity from the
// trigger, the rule modifier, and the cascade type bonus, clamped 1..5.
func cascadeSeverity(triggerSeverity int, r Rule) int {
	raw := float64(triggerSeverity) + r.SeverityModifier + r.Type.severityBonus()
	return clampSeverity(int(raw + 0.5))
}

// delayFor picks the cascade delay. Immediate cascades land within two
// hours. Delayed ones draw from the rule's range, compressed toward the
// minimum as trigger severity rises; every other type draws the range
// uncompressed.
func (e *Engine) delayFor(r Rule, severity int) time.Duration {
	var hours float64
	switch r.Type {
	case TypeImmediate:
		hours = 0.1 + e.rng.Float()*1.9
	case TypeDelayed:
		span := r.DelayMaxHours - r.DelayMinHours
		if span < 0 {
			span = 0
		}
		compression := 1.0 - 0.125*float64(clampSeverity(severity)-1)
		hours = r.DelayMinHours + e.rng.Float()*span*compression
	default:
		span := r.DelayMaxHours - r.DelayMinHours
		if span < 0 {
			span = 0
		}
		hours = r.DelayMinHours + e.rng.Float()*span
	}
	return time.Duration(hours * float64(e.hourScale))
}

// regionsFor picks affected regions: immediate and amplifying cascades
// stay where the trigger hit; other types may spread to each connected
// region with an independent roll.
func (e *Engine) regionsFor(r Rule, trigger Trigger, ctx Context) []string {
	regions := append([]string(nil), trigger.Regions...)
	if r.Type == TypeImmediate || r.Type == TypeAmplifying {
		return regions
	}

	seen := make(map[string]bool, len(regions))
	for _, reg := range regions {
		seen[reg] = true
	}
	for _, reg := range trigger.Regions {
		for _, neighbor := range ctx.ConnectedRegions[reg] {
			if seen[neighbor] {
				continue
			}
			if e.rng.Float() < spreadChance {
				regions = append(regions, neighbor)
				seen[neighbor] = true
			}
		}
	}
	return regions
}

// ProcessDue fires all scheduled cascades whose time has come, moves
// them to history, and returns them for the orchestrator to apply.
func (e *Engine) ProcessDue() []Event {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock()
	var due []Event

	remaining := e.order[:0]
	for _, id := range e.order {
		ev, ok := e.scheduled[id]
		if !ok {
			continue
		}
		if ev.Cancelled || now.Before(ev.ScheduledAt) {
			remaining = append(remaining, id)
			continue
		}
		ev.Triggered = true
		delete(e.scheduled, id)
		e.pushHistoryLocked(*ev)
		e.stats.Fired++
		due = append(due, *ev)
		slog.Info("cascade fired", "cascade_id", ev.ID, "event_type", ev.EventType, "severity", ev.Severity)
	}
	e.order = remaining
	return due
}

// Cancel marks a scheduled cascade as cancelled. Idempotent: returns
// false for unknown ids and for cascades already triggered or cancelled.
func (e *Engine) Cancel(id uuid.UUID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	ev, ok := e.scheduled[id]
	if !ok || ev.Triggered || ev.Cancelled {
		return false
	}
	ev.Cancelled = true
	delete(e.scheduled, id)
	for i, o := range e.order {
		if o == id {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
	e.pushHistoryLocked(*ev)
	e.stats.Cancelled++
	slog.Info("cascade cancelled", "cascade_id", id)
	return true
}

// Scheduled returns a snapshot of the pending queue in schedule order.
func (e *Engine) Scheduled() []Event {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Event, 0, len(e.order))
	for _, id := range e.order {
		if ev, ok := e.scheduled[id]; ok {
			out = append(out, *ev)
		}
	}
	return out
}

// History returns settled cascades, most recent last.
func (e *Engine) History() []Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Event(nil), e.history...)
}

// Stats returns outcome counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// Restore replaces the pending queue from a saved snapshot. Settled
// entries go to history.
func (e *Engine) Restore(events []Event) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.scheduled = make(map[uuid.UUID]*Event, len(events))
	e.order = e.order[:0]
	for i := range events {
		ev := events[i]
		if ev.Triggered || ev.Cancelled {
			e.pushHistoryLocked(ev)
			continue
		}
		e.scheduled[ev.ID] = &ev
		e.order = append(e.order, ev.ID)
	}
}

func (e *Engine) pushHistoryLocked(ev Event) {
	e.history = append(e.history, ev)
	if len(e.history) > e.historyLimit {
		e.history = e.history[len(e.history)-e.historyLimit:]
	}
}

// findDuplicate reports an existing batch entry with the same event type
// and at least one overlapping region.
func findDuplicate(batch []*Event, candidate *Event) *Event {
	for _, ev := range batch {
		if ev.EventType != candidate.EventType {
			continue
		}
		for _, a := range ev.Regions {
			for _, b := range candidate.Regions {
				if a == b {
					return ev
				}
			}
		}
	}
	return nil
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

func clampSeverity(s int) int {
	if s < minSeverity {
		return minSeverity
	}
	if s > maxSeverity {
		return maxSeverity
	}
	return s
}
