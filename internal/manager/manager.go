// Package manager supervises the kernel: it owns the lifecycle of every
// tick loop, pauses and resumes them as a unit, and tracks per-component
// error history for the health endpoint. One component failing never
// stops another component's loop.
// See design doc Section 3.6.
package manager

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/talgya/chaos-world/internal/chaos"
	"github.com/talgya/chaos-world/internal/drift"
	"github.com/talgya/chaos-world/internal/narrative"
	"github.com/talgya/chaos-world/internal/pressure"
)

// State is the supervisor lifecycle stage.
type State uint8

const (
	StateNew State = iota
	StateRunning
	StatePaused
	StateStopped
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// Intervals configures each tick loop's period.
type Intervals struct {
	Drift     time.Duration
	Triggers  time.Duration
	Warnings  time.Duration
	Cascades  time.Duration
	Narrative time.Duration
	Resolve   time.Duration
	Health    time.Duration
	Snapshot  time.Duration
}

// DefaultIntervals is tuned for a 1 sim-hour = 1 real-minute world.
func DefaultIntervals() Intervals {
	return Intervals{
		Drift:     15 * time.Second,
		Triggers:  30 * time.Second,
		Warnings:  10 * time.Second,
		Cascades:  10 * time.Second,
		Narrative: time.Minute,
		Resolve:   20 * time.Second,
		Health:    30 * time.Second,
		Snapshot:  5 * time.Minute,
	}
}

// Snapshotter persists kernel snapshots. Optional.
type Snapshotter interface {
	SaveSnapshot(snap chaos.Snapshot) error
}

const (
	errorHistoryLimit = 16
	// A component is unhealthy after this many consecutive failures.
	unhealthyAfter = 3
)

type errRecord struct {
	At      time.Time `json:"at"`
	Message string    `json:"message"`
}

type componentHealth struct {
	consecutive int
	total       int
	recent      []errRecord
}

// ComponentReport is one component's health for the status surface.
type ComponentReport struct {
	Name        string      `json:"name"`
	Healthy     bool        `json:"healthy"`
	TotalErrors int         `json:"total_errors"`
	Consecutive int         `json:"consecutive_errors"`
	Recent      []errRecord `json:"recent_errors,omitempty"`
}

// Report aggregates component health.
type Report struct {
	Aggregate  string            `json:"aggregate"` // healthy, degraded, critical, failing
	Components []ComponentReport `json:"components"`
}

// Manager owns and supervises every kernel tick loop.
type Manager struct {
	engine    *chaos.Engine
	moderator *narrative.Moderator
	driftGen  *drift.Generator // nil = no ambient feed
	store     *pressure.Store
	saver     Snapshotter // nil = no periodic snapshots
	intervals Intervals

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	wg     sync.WaitGroup
	paused atomic.Bool

	healthMu   sync.Mutex
	components map[string]*componentHealth
	loopNames  []string
}

// New creates a supervisor over the kernel. driftGen and saver may be nil.
func New(engine *chaos.Engine, moderator *narrative.Moderator, driftGen *drift.Generator, store *pressure.Store, saver Snapshotter, intervals Intervals) *Manager {
	return &Manager{
		engine:     engine,
		moderator:  moderator,
		driftGen:   driftGen,
		store:      store,
		saver:      saver,
		intervals:  intervals,
		components: make(map[string]*componentHealth),
	}
}

// Start launches every tick loop. Returns an error if already running.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateRunning || m.state == StatePaused {
		return fmt.Errorf("manager already %s", m.state)
	}

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.state = StateRunning
	m.paused.Store(false)

	m.launch(ctx, "pressure_drift", m.intervals.Drift, func() error {
		if m.driftGen == nil {
			return nil
		}
		return m.driftGen.Step(m.store, m.engine)
	})
	m.launch(ctx, "event_triggers", m.intervals.Triggers, func() error {
		m.engine.CheckEventTriggers()
		return nil
	})
	m.launch(ctx, "warning_escalation", m.intervals.Warnings, func() error {
		m.engine.ProcessWarnings()
		return nil
	})
	m.launch(ctx, "cascade_due", m.intervals.Cascades, func() error {
		m.engine.ProcessDueCascades()
		return nil
	})
	m.launch(ctx, "narrative_analysis", m.intervals.Narrative, func() error {
		m.moderator.Analyze()
		return nil
	})
	m.launch(ctx, "event_resolution", m.intervals.Resolve, func() error {
		m.engine.ResolveTick()
		return nil
	})
	m.launch(ctx, "health_check", m.intervals.Health, func() error {
		report := m.Health()
		slog.Info("health check", "aggregate", report.Aggregate, "components", len(report.Components))
		return nil
	})
	if m.saver != nil {
		m.launch(ctx, "snapshot", m.intervals.Snapshot, func() error {
			return m.saver.SaveSnapshot(m.engine.Export())
		})
	}

	slog.Info("chaos manager started", "loops", len(m.loopNames))
	return nil
}

// launch starts one supervised loop. Pause is checked at the top of each
// iteration, never mid-computation, so pausing cannot leave state
// half-updated.
func (m *Manager) launch(ctx context.Context, name string, interval time.Duration, fn func() error) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	m.healthMu.Lock()
	if _, ok := m.components[name]; !ok {
		m.components[name] = &componentHealth{}
		m.loopNames = append(m.loopNames, name)
	}
	m.healthMu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if m.paused.Load() {
					continue
				}
				if err := safeCall(fn); err != nil {
					m.recordError(name, err)
					slog.Error("tick loop error", "component", name, "error", err)
				} else {
					m.recordSuccess(name)
				}
			}
		}
	}()
}

// safeCall contains panics from a loop body so the loop survives to its
// next interval.
func safeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

// Pause suspends all loops at their next iteration boundary. Returns
// false if not running.
func (m *Manager) Pause() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateRunning {
		return false
	}
	m.paused.Store(true)
	m.state = StatePaused
	slog.Info("chaos manager paused")
	return true
}

// Resume restarts paused loops. Returns false if not paused.
func (m *Manager) Resume() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StatePaused {
		return false
	}
	m.paused.Store(false)
	m.state = StateRunning
	slog.Info("chaos manager resumed")
	return true
}

// Stop cancels every loop and waits for all of them to exit. No loop
// outlives this call.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.state != StateRunning && m.state != StatePaused {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.mu.Unlock()

	cancel()
	m.wg.Wait()

	m.mu.Lock()
	m.state = StateStopped
	m.mu.Unlock()
	slog.Info("chaos manager stopped")
}

// State returns the supervisor lifecycle stage.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) recordError(name string, err error) {
	m.healthMu.Lock()
	defer m.healthMu.Unlock()

	c := m.components[name]
	c.consecutive++
	c.total++
	c.recent = append(c.recent, errRecord{At: time.Now(), Message: err.Error()})
	if len(c.recent) > errorHistoryLimit {
		c.recent = c.recent[len(c.recent)-errorHistoryLimit:]
	}
}

func (m *Manager) recordSuccess(name string) {
	m.healthMu.Lock()
	defer m.healthMu.Unlock()
	m.components[name].consecutive = 0
}

// Health reports per-component and aggregate health. Aggregate tiers
// follow the fraction of components currently healthy.
func (m *Manager) Health() Report {
	m.healthMu.Lock()
	defer m.healthMu.Unlock()

	report := Report{}
	healthy := 0
	for _, name := range m.loopNames {
		c := m.components[name]
		ok := c.consecutive < unhealthyAfter
		if ok {
			healthy++
		}
		report.Components = append(report.Components, ComponentReport{
			Name:        name,
			Healthy:     ok,
			TotalErrors: c.total,
			Consecutive: c.consecutive,
			Recent:      append([]errRecord(nil), c.recent...),
		})
	}

	switch {
	case len(report.Components) == 0 || healthy == len(report.Components):
		report.Aggregate = "healthy"
	case float64(healthy)/float64(len(report.Components)) >= 0.6:
		report.Aggregate = "degraded"
	case float64(healthy)/float64(len(report.Components)) >= 0.3:
		report.Aggregate = "critical"
	default:
		report.Aggregate = "failing"
	}
	return report
}
