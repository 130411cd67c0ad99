package drift

import (
	"testing"
	"time"

	"github.com/talgya/chaos-world/internal/pressure"
)

// storeSink validates and applies drift pushes the way the engine does.
type storeSink struct {
	store *pressure.Store
}

func (s *storeSink) UpdatePressure(region string, sources map[pressure.Category]float64) error {
	return s.store.Merge(region, sources)
}

func TestBaselineBounds(t *testing.T) {
	g := New(7, []string{"r1", "r2", "r3"}, time.Minute)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	g.SetClock(func() time.Time { return now })

	for step := 0; step < 200; step++ {
		for i := range g.Regions() {
			for _, c := range pressure.Categories() {
				b := g.Baseline(i, c)
				if b < 0 || b > g.Amplitude {
					t.Fatalf("baseline(%d, %s) = %.4f at step %d, outside [0, %.2f]", i, c, b, step, g.Amplitude)
				}
			}
		}
		now = now.Add(3 * time.Minute)
	}
}

func TestBaselineDeterministicPerSeed(t *testing.T) {
	clock := func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	a := New(7, []string{"r1"}, time.Minute)
	a.SetClock(clock)
	b := New(7, []string{"r1"}, time.Minute)
	b.SetClock(clock)
	other := New(8, []string{"r1"}, time.Minute)
	other.SetClock(clock)

	same, different := 0, 0
	for _, c := range pressure.Categories() {
		if a.Baseline(0, c) == b.Baseline(0, c) {
			same++
		}
		if a.Baseline(0, c) != other.Baseline(0, c) {
			different++
		}
	}
	if same != len(pressure.Categories()) {
		t.Errorf("same seed agreed on %d/%d categories", same, len(pressure.Categories()))
	}
	if different == 0 {
		t.Error("different seeds produced identical baselines for every category")
	}
}

func TestStepNudgesTowardBaseline(t *testing.T) {
	g := New(7, []string{"r1"}, time.Minute)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	g.SetClock(func() time.Time { return now })

	store := pressure.NewStore()
	sink := &storeSink{store: store}

	// Pushed pressure well above any ambient baseline must shrink toward
	// it, a fraction per step, not snap to it.
	if err := store.Merge("r1", map[pressure.Category]float64{pressure.Economic: 0.9}); err != nil {
		t.Fatalf("Merge() error = %v", err)
	}

	if err := g.Step(store, sink); err != nil {
		t.Fatalf("Step() error = %v", err)
	}

	after := store.Region("r1")[pressure.Economic]
	baseline := g.Baseline(0, pressure.Economic)
	want := 0.9 + (baseline-0.9)*g.Approach
	if diff := after - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("economic after step = %.4f, want %.4f", after, want)
	}
	if after >= 0.9 {
		t.Errorf("economic = %.4f did not shrink from 0.9", after)
	}
	// One step must not erase most of the pushed pressure.
	if after < 0.8 {
		t.Errorf("economic = %.4f, one step removed too much", after)
	}
}

func TestStepOutputsAlwaysValid(t *testing.T) {
	g := New(3, []string{"r1", "r2"}, time.Minute)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	g.SetClock(func() time.Time { return now })

	store := pressure.NewStore()
	sink := &storeSink{store: store}

	for step := 0; step < 100; step++ {
		if err := g.Step(store, sink); err != nil {
			t.Fatalf("Step() error at %d: %v", step, err)
		}
		now = now.Add(time.Minute)
	}

	for _, region := range g.Regions() {
		for c, v := range store.Region(region) {
			if v < 0 || v > 1 {
				t.Errorf("%s/%s = %.4f outside [0,1]", region, c, v)
			}
		}
	}
}
