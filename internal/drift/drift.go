// Package drift synthesizes ambient pressure from smooth noise fields.
// It stands in for the cross-system pressure feed: each tick it nudges
// every region's category pressure toward a slowly wandering baseline,
// so the world breathes even with no other subsystems attached.
// See design doc Section 7.1.
package drift

import (
	"fmt"
	"time"

	opensimplex "github.com/ojrac/opensimplex-go"

	"github.com/talgya/chaos-world/internal/pressure"
)

// Sink is the engine-side contract the generator pushes into. The same
// strict [0,1] validation applies to drift as to any external feed.
type Sink interface {
	UpdatePressure(region string, sources map[pressure.Category]float64) error
}

// Generator produces ambient pressure values per (region, category)
// from independent normalized noise fields.
type Generator struct {
	noise   map[pressure.Category]opensimplex.Noise
	regions []string
	start   time.Time
	clock   func() time.Time

	// Amplitude caps the ambient baseline; real crises come from pushed
	// pressure, not drift.
	Amplitude float64

	// Approach is the fraction of the gap to the baseline closed per step.
	Approach float64

	// WavelengthHours stretches the noise over sim time.
	WavelengthHours float64

	hourScale time.Duration
}

// New creates a drift generator over the given regions. Noise fields
// are seeded deterministically per category.
func New(seed int64, regions []string, hourScale time.Duration) *Generator {
	if hourScale <= 0 {
		hourScale = time.Minute
	}
	noise := make(map[pressure.Category]opensimplex.Noise, len(pressure.Categories()))
	for i, c := range pressure.Categories() {
		noise[c] = opensimplex.NewNormalized(seed + int64(i))
	}
	return &Generator{
		noise:           noise,
		regions:         regions,
		start:           time.Now(),
		clock:           time.Now,
		Amplitude:       0.35,
		Approach:        0.1,
		WavelengthHours: 24,
		hourScale:       hourScale,
	}
}

// SetClock overrides the time source (testing).
func (g *Generator) SetClock(clock func() time.Time) {
	g.clock = clock
	g.start = clock()
}

// Baseline returns the ambient pressure target for one region and
// category at the current sim time. Always within [0, Amplitude].
func (g *Generator) Baseline(regionIndex int, c pressure.Category) float64 {
	elapsed := g.clock().Sub(g.start)
	simHours := elapsed.Seconds() / (float64(g.hourScale) / float64(time.Second))
	t := simHours / g.WavelengthHours

	// Regions sit far apart on the noise field so they drift independently.
	x := float64(regionIndex) * 7.3
	return g.noise[c].Eval2(x, t) * g.Amplitude
}

// Step reads current pressure through the sink's store and pushes each
// region's vector a fraction of the way toward the ambient baseline.
func (g *Generator) Step(store *pressure.Store, sink Sink) error {
	var firstErr error
	for i, region := range g.regions {
		current := store.Region(region)
		next := make(map[pressure.Category]float64, len(pressure.Categories()))
		for _, c := range pressure.Categories() {
			baseline := g.Baseline(i, c)
			v := current[c]
			next[c] = clamp01(v + (baseline-v)*g.Approach)
		}
		if err := sink.UpdatePressure(region, next); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("drift push to %q: %w", region, err)
		}
	}
	return firstErr
}

// Regions returns the region list the generator drives.
func (g *Generator) Regions() []string {
	return append([]string(nil), g.regions...)
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
