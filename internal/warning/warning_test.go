package warning

import (
	"testing"
	"time"

	"github.com/talgya/chaos-world/internal/pressure"
)

type stubSource struct{ v float64 }

func (s stubSource) Float() float64 { return s.v }
func (s stubSource) IntN(n int) int { return int(s.v * float64(n)) }

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestPhaseProgression(t *testing.T) {
	tests := []struct {
		phase    Phase
		duration float64
		prob     float64
		next     Phase
		more     bool
	}{
		{PhaseRumor, 8, 0.6, PhaseEarly, true},
		{PhaseEarly, 4, 0.8, PhaseImminent, true},
		{PhaseImminent, 1, 0.9, PhaseImminent, false},
	}

	for _, tt := range tests {
		t.Run(tt.phase.String(), func(t *testing.T) {
			if got := tt.phase.Duration(); got != tt.duration {
				t.Errorf("Duration() = %.1f, want %.1f", got, tt.duration)
			}
			if got := tt.phase.EscalationProbability(); got != tt.prob {
				t.Errorf("EscalationProbability() = %.1f, want %.1f", got, tt.prob)
			}
			next, more := tt.phase.Next()
			if next != tt.next || more != tt.more {
				t.Errorf("Next() = %s, %v, want %s, %v", next, more, tt.next, tt.more)
			}
		})
	}
}

func TestCheckAndTriggerThresholds(t *testing.T) {
	s := NewSystem(stubSource{0.99}, nil, time.Minute)
	s.SetClock(fixedClock(t0))

	if s.CheckAndTrigger("r1", 0.39, pressure.Economic, 2) {
		t.Error("warning started below the start threshold")
	}
	if !s.CheckAndTrigger("r1", 0.45, pressure.Economic, 2) {
		t.Fatal("warning did not start above the start threshold")
	}

	active := s.Active()
	if len(active) != 1 {
		t.Fatalf("active = %d, want 1", len(active))
	}
	w := active[0]
	if w.Phase != PhaseRumor {
		t.Errorf("phase = %s, want rumor", w.Phase)
	}
	if w.EscalationProbability != 0.6 {
		t.Errorf("escalation probability = %.2f, want 0.60", w.EscalationProbability)
	}
	if !w.ExpiresAt.Equal(t0.Add(8 * time.Minute)) {
		t.Errorf("expiry = %v, want start + 8 sim-hours", w.ExpiresAt)
	}
	if w.Description == "" {
		t.Error("warning has no description")
	}

	// Chaos between the thresholds holds the current phase.
	if s.CheckAndTrigger("r1", 0.65, pressure.Economic, 2) {
		t.Error("warning escalated below the escalation threshold")
	}
	// Sustained high chaos escalates exactly one phase.
	if !s.CheckAndTrigger("r1", 0.75, pressure.Economic, 2) {
		t.Error("warning did not escalate above the escalation threshold")
	}
	if got := s.Active()[0].Phase; got != PhaseEarly {
		t.Errorf("phase = %s after escalation, want early", got)
	}
}

func TestOneWarningPerRegionAndType(t *testing.T) {
	s := NewSystem(stubSource{0.99}, nil, time.Minute)
	s.SetClock(fixedClock(t0))

	s.CheckAndTrigger("r1", 0.5, pressure.Economic, 2)
	s.CheckAndTrigger("r1", 0.5, pressure.Economic, 2) // same pair, no-op
	s.CheckAndTrigger("r1", 0.5, pressure.Social, 2)   // different type
	s.CheckAndTrigger("r2", 0.5, pressure.Economic, 2) // different region

	if got := len(s.Active()); got != 3 {
		t.Errorf("active = %d, want 3 distinct (region, type) warnings", got)
	}
	if got := s.Stats().Started; got != 3 {
		t.Errorf("started = %d, want 3", got)
	}
}

func TestTickEscalatesOrFades(t *testing.T) {
	tests := []struct {
		name          string
		draw          float64 // pinned RNG: draw < probability escalates
		wantPhase     Phase
		wantActive    int
		wantPrevented int
	}{
		{"escalates", 0.0, PhaseEarly, 1, 0},
		{"fades", 0.99, PhaseRumor, 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			now := t0
			s := NewSystem(stubSource{tt.draw}, nil, time.Minute)
			s.SetClock(func() time.Time { return now })

			s.CheckAndTrigger("r1", 0.5, pressure.Economic, 2)

			// Before the window expires nothing happens.
			if fired := s.Tick(); len(fired) != 0 {
				t.Fatalf("Tick() fired %d before expiry", len(fired))
			}

			now = now.Add(8 * time.Minute) // past the Rumor window
			if fired := s.Tick(); len(fired) != 0 {
				t.Fatalf("Tick() fired %d from Rumor", len(fired))
			}

			if got := len(s.Active()); got != tt.wantActive {
				t.Fatalf("active = %d, want %d", got, tt.wantActive)
			}
			if tt.wantActive > 0 {
				if got := s.Active()[0].Phase; got != tt.wantPhase {
					t.Errorf("phase = %s, want %s", got, tt.wantPhase)
				}
			}
			if got := s.Stats().Prevented; got != tt.wantPrevented {
				t.Errorf("prevented = %d, want %d", got, tt.wantPrevented)
			}
		})
	}
}

func TestTickFiresPastImminent(t *testing.T) {
	now := t0
	s := NewSystem(stubSource{0.0}, nil, time.Minute) // every roll escalates
	s.SetClock(func() time.Time { return now })

	s.CheckAndTrigger("r1", 0.5, pressure.Environmental, 4)

	// Rumor (8h) → Early (4h) → Imminent (1h) → fires.
	for _, window := range []time.Duration{8, 4} {
		now = now.Add(window * time.Minute)
		if fired := s.Tick(); len(fired) != 0 {
			t.Fatalf("fired %d mid-escalation", len(fired))
		}
	}
	now = now.Add(1 * time.Minute)
	fired := s.Tick()
	if len(fired) != 1 {
		t.Fatalf("fired = %d past Imminent, want 1", len(fired))
	}
	f := fired[0]
	if f.Region != "r1" || f.EventType != "natural_disaster" || f.Severity != 4 {
		t.Errorf("fired = %+v, want r1/natural_disaster/4", f)
	}
	if got := len(s.Active()); got != 0 {
		t.Errorf("active = %d after firing, want 0", got)
	}
	stats := s.Stats()
	if stats.Escalated != 2 || stats.Fired != 1 {
		t.Errorf("stats = %+v, want 2 escalations and 1 fired", stats)
	}
}

func TestClearWarning(t *testing.T) {
	s := NewSystem(stubSource{0.99}, nil, time.Minute)
	s.SetClock(fixedClock(t0))

	s.CheckAndTrigger("r1", 0.5, pressure.Political, 3)

	if s.ClearWarning("r1", PhaseEarly) {
		t.Error("ClearWarning() = true for the wrong phase")
	}
	if s.ClearWarning("r2", PhaseRumor) {
		t.Error("ClearWarning() = true for the wrong region")
	}
	if !s.ClearWarning("r1", PhaseRumor) {
		t.Fatal("ClearWarning() = false for a live warning")
	}
	if got := len(s.Active()); got != 0 {
		t.Errorf("active = %d after clear, want 0", got)
	}
	if got := s.Stats().Prevented; got != 1 {
		t.Errorf("prevented = %d, want 1", got)
	}
}

func TestRestore(t *testing.T) {
	s := NewSystem(stubSource{0.99}, nil, time.Minute)
	s.SetClock(fixedClock(t0))
	s.CheckAndTrigger("r1", 0.5, pressure.Economic, 2)
	s.CheckAndTrigger("r2", 0.5, pressure.Social, 3)

	saved := s.Active()

	fresh := NewSystem(stubSource{0.99}, nil, time.Minute)
	fresh.SetClock(fixedClock(t0))
	fresh.Restore(saved)

	got := fresh.Active()
	if len(got) != len(saved) {
		t.Fatalf("restored %d warnings, want %d", len(got), len(saved))
	}
	for i := range saved {
		if got[i].ID != saved[i].ID || got[i].Phase != saved[i].Phase {
			t.Errorf("restored[%d] = %+v, want %+v", i, got[i], saved[i])
		}
	}
}

func TestFallbackTextAlwaysSucceeds(t *testing.T) {
	for _, phase := range []Phase{PhaseRumor, PhaseEarly, PhaseImminent} {
		for _, c := range pressure.Categories() {
			if FallbackText(phase, c.EventType()) == "" {
				t.Errorf("no template for (%s, %s)", phase, c.EventType())
			}
		}
		if FallbackText(phase, "uncatalogued_event") == "" {
			t.Errorf("no catch-all text at phase %s", phase)
		}
	}
}
