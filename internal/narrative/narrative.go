// Package narrative weights event generation by active story context.
// Themes and story beats raise or suppress the probability of matching
// event types so world chaos never tramples an ongoing plotline.
// See design doc Section 3.4.
package narrative

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Priority ranks how strongly a theme bends event weighting.
type Priority uint8

const (
	PriorityBackground Priority = iota
	PrioritySupporting
	PriorityCentral
	PriorityCritical
)

// String returns the priority name.
func (p Priority) String() string {
	switch p {
	case PriorityBackground:
		return "background"
	case PrioritySupporting:
		return "supporting"
	case PriorityCentral:
		return "central"
	case PriorityCritical:
		return "critical"
	}
	return "unknown"
}

// amplify is the multiplier for events matching a theme of this priority.
func (p Priority) amplify() float64 {
	switch p {
	case PrioritySupporting:
		return 1.2
	case PriorityCentral:
		return 1.4
	case PriorityCritical:
		return 1.8
	}
	return 1.0
}

// suppress is the multiplier for events NOT matching a theme of this
// priority. Only Central and Critical themes protect their plotline by
// pushing unrelated chaos down.
func (p Priority) suppress() float64 {
	switch p {
	case PriorityCentral:
		return 0.6
	case PriorityCritical:
		return 0.3
	}
	return 1.0
}

// Theme is a weighting context: while active, chaos events related to it
// become more likely and (for Central/Critical themes) unrelated events
// become less likely.
type Theme struct {
	ID             uuid.UUID  `json:"id"`
	Name           string     `json:"name"`
	Priority       Priority   `json:"priority"`
	WeightModifier float64    `json:"weight_modifier"` // Extra multiplier on matches, 1.0 = neutral.
	RelatedEvents  []string   `json:"related_events"`
	ActiveUntil    *time.Time `json:"active_until,omitempty"` // nil = no expiry
}

func (t *Theme) expired(now time.Time) bool {
	return t.ActiveUntil != nil && now.After(*t.ActiveUntil)
}

func (t *Theme) matches(eventType string) bool {
	for _, e := range t.RelatedEvents {
		if e == eventType {
			return true
		}
	}
	return false
}

// StoryBeat is a point of dramatic activity contributing to the world's
// current tension and engagement levels.
type StoryBeat struct {
	ID          uuid.UUID  `json:"id"`
	Description string     `json:"description"`
	Tension     float64    `json:"tension"`    // [0,1]
	Engagement  float64    `json:"engagement"` // [0,1]
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

func (b *StoryBeat) expired(now time.Time) bool {
	return b.ExpiresAt != nil && now.After(*b.ExpiresAt)
}

// Moderator owns all narrative state and computes event weights.
type Moderator struct {
	mu         sync.Mutex
	themes     map[uuid.UUID]*Theme
	themeOrder []uuid.UUID
	beats      []*StoryBeat
	tension    float64
	engagement float64
	clock      func() time.Time
}

// NewModerator creates a moderator with neutral tension and engagement.
func NewModerator() *Moderator {
	return &Moderator{
		themes:     make(map[uuid.UUID]*Theme),
		tension:    0.5,
		engagement: 0.5,
		clock:      time.Now,
	}
}

// SetClock overrides the time source (testing).
func (m *Moderator) SetClock(clock func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clock = clock
}

// AddTheme registers a theme and returns its id.
func (m *Moderator) AddTheme(name string, priority Priority, relatedEvents []string, weightModifier float64, activeUntil *time.Time) (uuid.UUID, error) {
	if name == "" {
		return uuid.Nil, fmt.Errorf("empty theme name")
	}
	if weightModifier <= 0 {
		return uuid.Nil, fmt.Errorf("weight modifier %.3f must be positive", weightModifier)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	id := uuid.New()
	m.themes[id] = &Theme{
		ID:             id,
		Name:           name,
		Priority:       priority,
		WeightModifier: weightModifier,
		RelatedEvents:  relatedEvents,
		ActiveUntil:    activeUntil,
	}
	m.themeOrder = append(m.themeOrder, id)
	return id, nil
}

// RemoveTheme drops a theme. Returns false for unknown ids.
func (m *Moderator) RemoveTheme(id uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.themes[id]; !ok {
		return false
	}
	delete(m.themes, id)
	for i, tid := range m.themeOrder {
		if tid == id {
			m.themeOrder = append(m.themeOrder[:i], m.themeOrder[i+1:]...)
			break
		}
	}
	return true
}

// AddBeat records a story beat. Tension and engagement contributions are
// clamped to [0,1].
func (m *Moderator) AddBeat(description string, tension, engagement float64, expiresAt *time.Time) uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()

	beat := &StoryBeat{
		ID:          uuid.New(),
		Description: description,
		Tension:     clamp01(tension),
		Engagement:  clamp01(engagement),
		CreatedAt:   m.clock(),
		ExpiresAt:   expiresAt,
	}
	m.beats = append(m.beats, beat)
	return beat.ID
}

// Analyze purges expired themes and beats, then recomputes tension and
// engagement. Runs on its own tick loop.
func (m *Moderator) Analyze() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()
	m.purgeLocked(now)

	// Tension: mean of active beat tensions plus a bump per high-priority
	// theme still in play.
	tension := 0.0
	engagement := 0.5
	if len(m.beats) > 0 {
		tSum, eSum := 0.0, 0.0
		for _, b := range m.beats {
			tSum += b.Tension
			eSum += b.Engagement
		}
		tension = tSum / float64(len(m.beats))
		engagement = eSum / float64(len(m.beats))
	}
	for _, id := range m.themeOrder {
		switch m.themes[id].Priority {
		case PriorityCritical:
			tension += 0.15
		case PriorityCentral:
			tension += 0.05
		}
	}

	m.tension = clamp01(tension)
	m.engagement = clamp01(engagement)
}

// SetTension overrides the computed tension level (admin/testing).
func (m *Moderator) SetTension(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tension = clamp01(v)
}

// SetEngagement overrides the computed engagement level (admin/testing).
func (m *Moderator) SetEngagement(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.engagement = clamp01(v)
}

// Tension returns the current tension level.
func (m *Moderator) Tension() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tension
}

// Engagement returns the current engagement level.
func (m *Moderator) Engagement() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.engagement
}

// EventWeight returns the probability multiplier for one event type.
func (m *Moderator) EventWeight(eventType string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.weightLocked(eventType, m.clock())
}

// EventWeights returns multipliers for a set of event types in one pass.
func (m *Moderator) EventWeights(eventTypes []string) map[string]float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()
	out := make(map[string]float64, len(eventTypes))
	for _, e := range eventTypes {
		out[e] = m.weightLocked(e, now)
	}
	return out
}

func (m *Moderator) weightLocked(eventType string, now time.Time) float64 {
	m.purgeLocked(now)

	w := 1.0
	for _, id := range m.themeOrder {
		t := m.themes[id]
		if t.matches(eventType) {
			w *= t.Priority.amplify() * t.WeightModifier
		} else {
			w *= t.Priority.suppress()
		}
	}

	// Global modifier: protect a climax, inject drama into a lull, and
	// re-engage a drifting audience.
	if m.tension > 0.8 {
		w *= 0.4
	} else if m.tension < 0.3 {
		w *= 1.4
	}
	if m.engagement < 0.4 {
		w *= 1.5
	}

	return w
}

// purgeLocked drops expired themes and beats. Called lazily from every
// weighting and analysis path.
func (m *Moderator) purgeLocked(now time.Time) {
	for i := 0; i < len(m.themeOrder); {
		id := m.themeOrder[i]
		if m.themes[id].expired(now) {
			delete(m.themes, id)
			m.themeOrder = append(m.themeOrder[:i], m.themeOrder[i+1:]...)
			continue
		}
		i++
	}

	n := 0
	for _, b := range m.beats {
		if !b.expired(now) {
			m.beats[n] = b
			n++
		}
	}
	m.beats = m.beats[:n]
}

// Themes returns a snapshot of active themes in insertion order.
func (m *Moderator) Themes() []Theme {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Theme, 0, len(m.themeOrder))
	for _, id := range m.themeOrder {
		out = append(out, *m.themes[id])
	}
	return out
}

// Beats returns a snapshot of active story beats.
func (m *Moderator) Beats() []StoryBeat {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]StoryBeat, 0, len(m.beats))
	for _, b := range m.beats {
		out = append(out, *b)
	}
	return out
}

// Restore replaces all narrative state from a saved snapshot.
func (m *Moderator) Restore(themes []Theme, beats []StoryBeat, tension, engagement float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.themes = make(map[uuid.UUID]*Theme, len(themes))
	m.themeOrder = m.themeOrder[:0]
	for i := range themes {
		t := themes[i]
		m.themes[t.ID] = &t
		m.themeOrder = append(m.themeOrder, t.ID)
	}
	m.beats = m.beats[:0]
	for i := range beats {
		b := beats[i]
		m.beats = append(m.beats, &b)
	}
	m.tension = clamp01(tension)
	m.engagement = clamp01(engagement)
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
