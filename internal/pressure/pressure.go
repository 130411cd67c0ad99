// Package pressure holds per-region and global pressure vectors.
// Pressure is the raw fuel of the chaos kernel: a scalar [0,1] tension
// level per source category, merged from other game subsystems.
// See design doc Section 3.1.
package pressure

import (
	"fmt"
	"sync"
)

// Category identifies a pressure source.
type Category string

const (
	Economic      Category = "economic"
	Political     Category = "political"
	Social        Category = "social"
	Environmental Category = "environmental"
	Diplomatic    Category = "diplomatic"
	Temporal      Category = "temporal"
)

// Categories returns all known categories in canonical order.
func Categories() []Category {
	return []Category{Economic, Political, Social, Environmental, Diplomatic, Temporal}
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case Economic, Political, Social, Environmental, Diplomatic, Temporal:
		return true
	}
	return false
}

// EventType maps a pressure category to the event family it feeds.
func (c Category) EventType() string {
	switch c {
	case Economic:
		return "economic_crisis"
	case Political:
		return "political_upheaval"
	case Social:
		return "social_unrest"
	case Environmental:
		return "natural_disaster"
	case Diplomatic:
		return "diplomatic_incident"
	case Temporal:
		return "temporal_anomaly"
	}
	return "unknown"
}

// CategoryForEvent is the reverse of Category.EventType.
func CategoryForEvent(eventType string) (Category, bool) {
	for _, c := range Categories() {
		if c.EventType() == eventType {
			return c, true
		}
	}
	return "", false
}

// Vector maps categories to scalar pressure in [0,1].
// A missing category means zero pressure.
type Vector map[Category]float64

// Total sums all category values.
func (v Vector) Total() float64 {
	total := 0.0
	for _, val := range v {
		total += val
	}
	return total
}

// Dominant returns the category with the highest value. Ties resolve in
// canonical category order so results are stable across runs.
func (v Vector) Dominant() (Category, float64) {
	best := Economic
	bestVal := -1.0
	for _, c := range Categories() {
		if val, ok := v[c]; ok && val > bestVal {
			best = c
			bestVal = val
		}
	}
	if bestVal < 0 {
		return Economic, 0
	}
	return best, bestVal
}

// Clone returns an independent copy of the vector.
func (v Vector) Clone() Vector {
	out := make(Vector, len(v))
	for c, val := range v {
		out[c] = val
	}
	return out
}

// Validate rejects unknown categories and out-of-range values. Inputs
// outside [0,1] are a bug in the upstream feed and must surface, not be
// silently clamped.
func Validate(sources map[Category]float64) error {
	for c, val := range sources {
		if !c.Valid() {
			return fmt.Errorf("unknown pressure category %q", c)
		}
		if val < 0 || val > 1 {
			return fmt.Errorf("pressure %q = %.3f outside [0,1]", c, val)
		}
	}
	return nil
}

// Store holds per-region and global pressure vectors. Regions iterate in
// insertion order so tick processing is reproducible under a seeded RNG.
type Store struct {
	mu      sync.RWMutex
	regions map[string]Vector
	order   []string
	global  Vector
}

// NewStore creates an empty pressure store.
func NewStore() *Store {
	return &Store{
		regions: make(map[string]Vector),
		global:  make(Vector),
	}
}

// Merge validates and applies incoming category values for a region.
// Values replace the stored value per category (the feed pushes absolute
// levels, not deltas). Unknown regions are created on first merge.
func (s *Store) Merge(region string, sources map[Category]float64) error {
	if region == "" {
		return fmt.Errorf("empty region")
	}
	if err := Validate(sources); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.regions[region]
	if !ok {
		v = make(Vector)
		s.regions[region] = v
		s.order = append(s.order, region)
	}
	for c, val := range sources {
		v[c] = val
	}
	return nil
}

// Region returns a copy of the region's vector, or an empty vector if
// the region is unknown.
func (s *Store) Region(region string) Vector {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.regions[region]; ok {
		return v.Clone()
	}
	return make(Vector)
}

// Regions returns all region names in insertion order.
func (s *Store) Regions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// SetGlobal replaces the global pressure vector.
func (s *Store) SetGlobal(v Vector) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.global = v.Clone()
}

// Global returns a copy of the global pressure vector.
func (s *Store) Global() Vector {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.global.Clone()
}
