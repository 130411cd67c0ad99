// Prompt builders for the narrative surfaces of the kernel. Each returns
// an error on any failure; callers fall back to deterministic templates.
package textgen

import (
	"fmt"
)

const chroniclerSystem = `You are the chronicler of a fractured world where pressure builds along economic, political, social, environmental, diplomatic and temporal fault lines. Write tense, grounded prose. Never break character or reference the simulation.`

// WarningText creates a short rumor/omen line for an escalating warning.
func WarningText(client *Client, phase, eventType, region string) (string, error) {
	if !client.Enabled() {
		return "", fmt.Errorf("text generation not configured")
	}

	prompt := fmt.Sprintf(
		"A warning at the %q stage points toward a coming %s in the region of %s. Write one or two sentences of in-world rumor or omen matching that stage's urgency.",
		phase, eventType, region)

	return client.Complete(chroniclerSystem, prompt, 120)
}

// EventText creates prose for a chaos event that has just fired.
func EventText(client *Client, eventType string, severity int, regions []string) (string, error) {
	if !client.Enabled() {
		return "", fmt.Errorf("text generation not configured")
	}

	prompt := fmt.Sprintf(
		"A %s of severity %d (1-5) has struck the following regions: %v. Narrate it in two or three sentences.",
		eventType, severity, regions)

	return client.Complete(chroniclerSystem, prompt, 200)
}

const cascadeSystem = `You analyze consequences in a world simulation. Given a primary event, propose zero to three plausible secondary events. Answer ONLY with lines of the form:
event_type | severity (1-5) | delay_hours | comma,separated,regions
Use event types from: economic_crisis, political_upheaval, social_unrest, natural_disaster, diplomatic_incident, temporal_anomaly. No other text.`

// CascadeProposals asks for structured secondary-event candidates.
// The caller parses the result; a malformed response degrades silently
// to rule-based cascades only.
func CascadeProposals(client *Client, eventType string, severity int, regions []string) (string, error) {
	if !client.Enabled() {
		return "", fmt.Errorf("text generation not configured")
	}

	prompt := fmt.Sprintf("Primary event: %s, severity %d, regions %v.", eventType, severity, regions)
	return client.Complete(cascadeSystem, prompt, 200)
}
