// Package cascade schedules secondary chaos events as probabilistic
// consequences of primary ones. Static rules map trigger event types to
// cascade event types; scheduled instances sit in a queue until due.
// See design doc Section 3.3.
package cascade

// Type classifies how a cascade rule behaves.
type Type uint8

const (
	TypeImmediate Type = iota
	TypeDelayed
	TypeConditional
	TypeAmplifying
	TypeMitigating
)

// String returns the cascade type name.
func (t Type) String() string {
	switch t {
	case TypeImmediate:
		return "immediate"
	case TypeDelayed:
		return "delayed"
	case TypeConditional:
		return "conditional"
	case TypeAmplifying:
		return "amplifying"
	case TypeMitigating:
		return "mitigating"
	}
	return "unknown"
}

// severityBonus nudges the cascade severity by type: amplifying cascades
// hit harder, mitigating ones soften the blow.
func (t Type) severityBonus() float64 {
	switch t {
	case TypeAmplifying:
		return 1
	case TypeMitigating:
		return -1
	}
	return 0
}

// Rule is a static trigger→cascade relationship.
type Rule struct {
	TriggerEventType string  `json:"trigger_event_type"`
	CascadeEventType string  `json:"cascade_event_type"`
	Type             Type    `json:"type"`
	BaseProbability  float64 `json:"base_probability"`
	DelayMinHours    float64 `json:"delay_min_hours"`
	DelayMaxHours    float64 `json:"delay_max_hours"`
	SeverityModifier float64 `json:"severity_modifier"`

	// Optional gates. RequiredSeverity 0 means any; empty RequiredRegions
	// means any region.
	RequiredSeverity int      `json:"required_severity,omitempty"`
	RequiredRegions  []string `json:"required_regions,omitempty"`
}

// DefaultRules is the shipped cascade rulebook covering the six event
// families.
func DefaultRules() []Rule {
	return []Rule{
		{TriggerEventType: "economic_crisis", CascadeEventType: "social_unrest", Type: TypeDelayed, BaseProbability: 0.7, DelayMinHours: 12, DelayMaxHours: 48, SeverityModifier: 0.5},
		{TriggerEventType: "economic_crisis", CascadeEventType: "political_upheaval", Type: TypeConditional, BaseProbability: 0.4, DelayMinHours: 24, DelayMaxHours: 72, SeverityModifier: 0, RequiredSeverity: 4},
		{TriggerEventType: "political_upheaval", CascadeEventType: "social_unrest", Type: TypeImmediate, BaseProbability: 0.8, DelayMinHours: 1, DelayMaxHours: 12, SeverityModifier: 0},
		{TriggerEventType: "political_upheaval", CascadeEventType: "diplomatic_incident", Type: TypeDelayed, BaseProbability: 0.5, DelayMinHours: 12, DelayMaxHours: 36, SeverityModifier: -0.5},
		{TriggerEventType: "social_unrest", CascadeEventType: "economic_crisis", Type: TypeDelayed, BaseProbability: 0.45, DelayMinHours: 24, DelayMaxHours: 96, SeverityModifier: -0.5},
		{TriggerEventType: "social_unrest", CascadeEventType: "social_unrest", Type: TypeAmplifying, BaseProbability: 0.3, DelayMinHours: 6, DelayMaxHours: 24, SeverityModifier: 0.5, RequiredSeverity: 3},
		{TriggerEventType: "natural_disaster", CascadeEventType: "economic_crisis", Type: TypeDelayed, BaseProbability: 0.6, DelayMinHours: 12, DelayMaxHours: 48, SeverityModifier: -1},
		{TriggerEventType: "natural_disaster", CascadeEventType: "social_unrest", Type: TypeConditional, BaseProbability: 0.5, DelayMinHours: 24, DelayMaxHours: 72, SeverityModifier: 0, RequiredSeverity: 4},
		{TriggerEventType: "diplomatic_incident", CascadeEventType: "political_upheaval", Type: TypeDelayed, BaseProbability: 0.4, DelayMinHours: 24, DelayMaxHours: 96, SeverityModifier: 0},
		{TriggerEventType: "diplomatic_incident", CascadeEventType: "economic_crisis", Type: TypeMitigating, BaseProbability: 0.35, DelayMinHours: 12, DelayMaxHours: 48, SeverityModifier: -0.5},
		{TriggerEventType: "temporal_anomaly", CascadeEventType: "natural_disaster", Type: TypeImmediate, BaseProbability: 0.55, DelayMinHours: 0.5, DelayMaxHours: 6, SeverityModifier: 0.5},
		{TriggerEventType: "temporal_anomaly", CascadeEventType: "social_unrest", Type: TypeDelayed, BaseProbability: 0.4, DelayMinHours: 6, DelayMaxHours: 24, SeverityModifier: -1},
	}
}
