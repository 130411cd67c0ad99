package warden

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
)

const (
	memoryFile    = "warden_memory.json"
	maxRecords    = 10
	promptRecords = 5 // how many recent records to include in the Haiku prompt
)

// CycleRecord captures what happened in a single warden cycle.
type CycleRecord struct {
	At          time.Time `json:"at"`
	Action      string    `json:"action"`
	GlobalScore float64   `json:"global_score"`
	CrisisLevel string    `json:"crisis_level"`
	Region      string    `json:"region,omitempty"`
	Rationale   string    `json:"rationale,omitempty"`
}

// CycleMemory manages a ring of recent warden cycle records.
type CycleMemory struct {
	Records []CycleRecord `json:"records"`
}

// LoadMemory reads the memory file from disk. Returns empty memory if not found.
func LoadMemory() *CycleMemory {
	data, err := os.ReadFile(memoryFile)
	if err != nil {
		return &CycleMemory{}
	}
	var mem CycleMemory
	if err := json.Unmarshal(data, &mem); err != nil {
		slog.Warn("warden memory corrupted, starting fresh", "error", err)
		return &CycleMemory{}
	}
	return &mem
}

// Save writes the memory to disk.
func (m *CycleMemory) Save() {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		slog.Error("failed to marshal warden memory", "error", err)
		return
	}
	if err := os.WriteFile(memoryFile, data, 0644); err != nil {
		slog.Error("failed to write warden memory", "error", err)
	}
}

// Record adds a cycle record, trimming to maxRecords.
func (m *CycleMemory) Record(r CycleRecord) {
	m.Records = append(m.Records, r)
	if len(m.Records) > maxRecords {
		m.Records = m.Records[len(m.Records)-maxRecords:]
	}
}

// FormatForPrompt summarizes the last N cycles for the Haiku prompt, so
// the warden does not hammer the same region every cycle.
func (m *CycleMemory) FormatForPrompt() string {
	if len(m.Records) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("## Recent Warden Cycles\n")

	start := 0
	if len(m.Records) > promptRecords {
		start = len(m.Records) - promptRecords
	}
	for _, r := range m.Records[start:] {
		fmt.Fprintf(&b, "- %s: action=%s, global=%.2f, crisis=%s",
			r.At.Format(time.RFC3339), r.Action, r.GlobalScore, r.CrisisLevel)
		if r.Region != "" {
			fmt.Fprintf(&b, ", region=%s", r.Region)
		}
		b.WriteString("\n")
	}
	return b.String()
}
