package chaos

import (
	"github.com/talgya/chaos-world/internal/entropy"
	"github.com/talgya/chaos-world/internal/pressure"
)

// Template is the shape of an event a policy wants fired.
type Template struct {
	Type               string
	Severity           int
	DurationHours      float64
	CascadeProbability float64
	CooldownHours      float64
}

// TriggerPolicy decides whether an event fires for a region given its
// weighted chaos. Supplied by the hosting game; the default below is a
// plain threshold-and-draw policy.
type TriggerPolicy interface {
	ShouldFire(region string, weighted float64, dominant pressure.Category, rng entropy.Source) (Template, bool)
}

// EventSink receives fired events. Connected systems register one
// explicitly instead of being probed for capabilities at runtime.
type EventSink interface {
	OnChaosEvent(ev Event)
}

// PressureSource pushes category pressure into the engine on its own
// schedule. The engine is the sink side of this contract.
type PressureSource interface {
	Pressure(region string) map[pressure.Category]float64
}

// defaultPolicy fires with probability proportional to weighted chaos
// above a floor, with severity scaled by how far past the floor the
// region sits.
type defaultPolicy struct {
	floor    float64 // weighted chaos below this never fires
	baseRate float64 // per-check probability multiplier
}

// NewDefaultPolicy returns the stock trigger policy.
func NewDefaultPolicy() TriggerPolicy {
	return &defaultPolicy{floor: 0.55, baseRate: 0.25}
}

func (p *defaultPolicy) ShouldFire(region string, weighted float64, dominant pressure.Category, rng entropy.Source) (Template, bool) {
	if weighted < p.floor {
		return Template{}, false
	}

	prob := p.baseRate * (weighted - p.floor) / (1 - p.floor)
	if rng.Float() >= prob {
		return Template{}, false
	}

	severity := 1 + int(4*(weighted-p.floor)/(1-p.floor))
	if severity > 5 {
		severity = 5
	}

	return Template{
		Type:               dominant.EventType(),
		Severity:           severity,
		DurationHours:      12 + 12*float64(severity),
		CascadeProbability: 0.3 + 0.1*float64(severity),
		CooldownHours:      24,
	}, true
}
