package manager

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/talgya/chaos-world/internal/chaos"
	"github.com/talgya/chaos-world/internal/entropy"
	"github.com/talgya/chaos-world/internal/narrative"
	"github.com/talgya/chaos-world/internal/pressure"
	"github.com/talgya/chaos-world/internal/warning"
)

func newTestManager() *Manager {
	store := pressure.NewStore()
	rng := entropy.Seeded(1)
	warnings := warning.NewSystem(rng, nil, time.Minute)
	moderator := narrative.NewModerator()
	engine := chaos.NewEngine(store, warnings, nil, moderator, nil, rng, time.Minute)

	// Long intervals: lifecycle tests never want a tick to actually run.
	intervals := Intervals{
		Drift:     time.Hour,
		Triggers:  time.Hour,
		Warnings:  time.Hour,
		Cascades:  time.Hour,
		Narrative: time.Hour,
		Resolve:   time.Hour,
		Health:    time.Hour,
		Snapshot:  time.Hour,
	}
	return New(engine, moderator, nil, store, nil, intervals)
}

func TestStartStop(t *testing.T) {
	m := newTestManager()
	if m.State() != StateNew {
		t.Fatalf("initial state = %s, want new", m.State())
	}

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if m.State() != StateRunning {
		t.Errorf("state = %s after start, want running", m.State())
	}
	if err := m.Start(context.Background()); err == nil {
		t.Error("second Start() succeeded while running")
	}

	// Stop must join every loop; a hang here fails via the test timeout.
	m.Stop()
	if m.State() != StateStopped {
		t.Errorf("state = %s after stop, want stopped", m.State())
	}
	m.Stop() // idempotent
	if m.State() != StateStopped {
		t.Errorf("state = %s after second stop, want stopped", m.State())
	}
}

func TestPauseResume(t *testing.T) {
	m := newTestManager()

	if m.Pause() {
		t.Error("Pause() = true before start")
	}
	if m.Resume() {
		t.Error("Resume() = true before start")
	}

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer m.Stop()

	if !m.Pause() {
		t.Fatal("Pause() = false while running")
	}
	if m.State() != StatePaused {
		t.Errorf("state = %s after pause, want paused", m.State())
	}
	if m.Pause() {
		t.Error("Pause() = true while already paused")
	}

	if !m.Resume() {
		t.Fatal("Resume() = false while paused")
	}
	if m.State() != StateRunning {
		t.Errorf("state = %s after resume, want running", m.State())
	}
	if m.Resume() {
		t.Error("Resume() = true while already running")
	}
}

func TestStopWhilePaused(t *testing.T) {
	m := newTestManager()
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	m.Pause()
	m.Stop()
	if m.State() != StateStopped {
		t.Errorf("state = %s, want stopped", m.State())
	}
}

func TestHealthAggregation(t *testing.T) {
	m := newTestManager()
	for _, name := range []string{"a", "b", "c", "d"} {
		m.components[name] = &componentHealth{}
		m.loopNames = append(m.loopNames, name)
	}

	fail := func(name string, times int) {
		for i := 0; i < times; i++ {
			m.recordError(name, errors.New("boom"))
		}
	}

	if got := m.Health().Aggregate; got != "healthy" {
		t.Errorf("aggregate = %q with no errors, want healthy", got)
	}

	// Below the consecutive threshold a component stays healthy.
	fail("a", 2)
	if got := m.Health().Aggregate; got != "healthy" {
		t.Errorf("aggregate = %q below threshold, want healthy", got)
	}

	// One of four unhealthy: 75% healthy is degraded.
	fail("a", 1)
	report := m.Health()
	if report.Aggregate != "degraded" {
		t.Errorf("aggregate = %q with 3/4 healthy, want degraded", report.Aggregate)
	}
	for _, c := range report.Components {
		if c.Name == "a" && c.Healthy {
			t.Error("component a reported healthy after 3 consecutive errors")
		}
	}

	// A success resets the consecutive count but not the total.
	m.recordSuccess("a")
	report = m.Health()
	if report.Aggregate != "healthy" {
		t.Errorf("aggregate = %q after recovery, want healthy", report.Aggregate)
	}
	for _, c := range report.Components {
		if c.Name == "a" && c.TotalErrors != 3 {
			t.Errorf("total errors = %d after recovery, want 3", c.TotalErrors)
		}
	}

	// Half healthy is critical, one of four is failing.
	fail("a", 3)
	fail("b", 3)
	if got := m.Health().Aggregate; got != "critical" {
		t.Errorf("aggregate = %q with 2/4 healthy, want critical", got)
	}
	fail("c", 3)
	if got := m.Health().Aggregate; got != "failing" {
		t.Errorf("aggregate = %q with 1/4 healthy, want failing", got)
	}
}

func TestErrorHistoryBounded(t *testing.T) {
	m := newTestManager()
	m.components["a"] = &componentHealth{}
	m.loopNames = append(m.loopNames, "a")

	for i := 0; i < errorHistoryLimit*3; i++ {
		m.recordError("a", errors.New("boom"))
	}

	report := m.Health()
	if got := len(report.Components[0].Recent); got != errorHistoryLimit {
		t.Errorf("recent errors = %d, want capped at %d", got, errorHistoryLimit)
	}
	if got := report.Components[0].TotalErrors; got != errorHistoryLimit*3 {
		t.Errorf("total errors = %d, want %d", got, errorHistoryLimit*3)
	}
}

func TestSafeCallContainsPanics(t *testing.T) {
	err := safeCall(func() error { panic("kaboom") })
	if err == nil {
		t.Fatal("safeCall() swallowed a panic without error")
	}

	if err := safeCall(func() error { return nil }); err != nil {
		t.Errorf("safeCall() error = %v for a clean call", err)
	}
}

func TestPausedLoopSkipsTicks(t *testing.T) {
	store := pressure.NewStore()
	rng := entropy.Seeded(1)
	engine := chaos.NewEngine(store, warning.NewSystem(rng, nil, time.Minute), nil, narrative.NewModerator(), nil, rng, time.Minute)
	moderator := narrative.NewModerator()

	m := New(engine, moderator, nil, store, nil, Intervals{
		Drift:     time.Hour,
		Triggers:  5 * time.Millisecond,
		Warnings:  time.Hour,
		Cascades:  time.Hour,
		Narrative: time.Hour,
		Resolve:   time.Hour,
		Health:    time.Hour,
		Snapshot:  time.Hour,
	})

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	m.Pause()
	time.Sleep(50 * time.Millisecond)
	m.Stop()

	// Trigger ticks were due many times over; all were skipped while
	// paused, so the component recorded neither errors nor activity that
	// could mark it unhealthy.
	for _, c := range m.Health().Components {
		if c.Name == "event_triggers" && c.TotalErrors != 0 {
			t.Errorf("paused loop recorded %d errors", c.TotalErrors)
		}
	}
}
