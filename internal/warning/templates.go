package warning

import "fmt"

// Deterministic warning prose keyed by (phase, event type). This is the
// hard-contract fallback: it must succeed for every combination, so the
// final format string covers anything not in the table.
var templates = map[Phase]map[string]string{
	PhaseRumor: {
		"economic_crisis":     "Merchants whisper of empty coffers and debts coming due.",
		"political_upheaval":  "Quiet meetings multiply behind closed doors.",
		"social_unrest":       "Grumbling in the markets grows a little too loud.",
		"natural_disaster":    "The animals are restless, and the old folk watch the sky.",
		"diplomatic_incident": "An envoy left the table early, and nobody will say why.",
		"temporal_anomaly":    "Clocks in the district have begun to disagree.",
	},
	PhaseEarly: {
		"economic_crisis":     "Prices lurch daily; lenders are calling in what they can.",
		"political_upheaval":  "Officials resign without explanation as factions pick sides.",
		"social_unrest":       "Crowds gather at dusk, and the watch doubles its patrols.",
		"natural_disaster":    "Tremors and strange tides put the coast villages on edge.",
		"diplomatic_incident": "Border posts have closed, and couriers ride through the night.",
		"temporal_anomaly":    "Hours slip; travelers arrive before the letters announcing them.",
	},
	PhaseImminent: {
		"economic_crisis":     "The banks have barred their doors. It is a matter of days.",
		"political_upheaval":  "Troops move in the capital. The old order hangs by a thread.",
		"social_unrest":       "The square is full and the mood is past turning.",
		"natural_disaster":    "Evacuations have begun. What comes next cannot be stopped.",
		"diplomatic_incident": "Ultimatums have been delivered. The reply is overdue.",
		"temporal_anomaly":    "The anomaly is visible now, wide as a city gate.",
	},
}

// FallbackText returns deterministic warning prose. Always succeeds.
func FallbackText(phase Phase, eventType string) string {
	if byType, ok := templates[phase]; ok {
		if text, ok := byType[eventType]; ok {
			return text
		}
	}
	return fmt.Sprintf("Signs of a coming %s grow clearer (%s stage).", eventType, phase)
}
