package warden

// KernelHealth holds derived diagnostic signals computed from a snapshot.
// Runs before Haiku — deterministic and free.
type KernelHealth struct {
	GlobalScore      float64
	CriticalRegions  int // level critical
	HighRegions      int // level high or critical
	FatiguedRegions  int // fatigue > 0.8
	ImminentWarnings int
	PendingCascades  int
	RecentSevere     int    // severity >= 4 events in recent history
	CrisisLevel      string // "CRITICAL", "WARNING", "WATCH", "HEALTHY"
}

// Triage computes a KernelHealth from the snapshot's data.
func Triage(snap *KernelSnapshot) *KernelHealth {
	h := &KernelHealth{
		GlobalScore: snap.Status.GlobalScore,
	}

	for _, r := range snap.Regions {
		switch r.Level {
		case "critical":
			h.CriticalRegions++
			h.HighRegions++
		case "high":
			h.HighRegions++
		}
		if r.Fatigue > 0.8 {
			h.FatiguedRegions++
		}
	}

	for _, w := range snap.Warnings {
		if w.Phase == "imminent" {
			h.ImminentWarnings++
		}
	}

	h.PendingCascades = len(snap.Cascades)

	for _, e := range snap.History {
		if e.Severity >= 4 {
			h.RecentSevere++
		}
	}

	// Crisis thresholds. A single critical region is an emergency even
	// when the global score looks calm; averages hide local fires.
	h.CrisisLevel = "HEALTHY"
	switch {
	case h.CriticalRegions > 0:
		h.CrisisLevel = "CRITICAL"
	case h.GlobalScore >= 0.8:
		h.CrisisLevel = "CRITICAL"
	case h.ImminentWarnings >= 2:
		h.CrisisLevel = "CRITICAL"
	case h.HighRegions > 0 || h.ImminentWarnings == 1:
		h.CrisisLevel = "WARNING"
	case h.GlobalScore >= 0.6 || h.PendingCascades >= 3:
		h.CrisisLevel = "WATCH"
	}

	return h
}
