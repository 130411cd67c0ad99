package persistence

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/talgya/chaos-world/internal/chaos"
	"github.com/talgya/chaos-world/internal/pressure"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "chaos.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestLoadSnapshotEmpty(t *testing.T) {
	db := openTestDB(t)

	_, ok, err := db.LoadSnapshot()
	if err != nil {
		t.Fatalf("LoadSnapshot() error = %v", err)
	}
	if ok {
		t.Error("LoadSnapshot() ok = true on a fresh database")
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	db := openTestDB(t)

	snap := chaos.Snapshot{
		SavedAt:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		GlobalScore: 0.42,
		Pressure: map[string]pressure.Vector{
			"r1": {pressure.Economic: 0.7, pressure.Social: 0.2},
		},
		Regions: []chaos.RegionalData{
			{Region: "r1", Score: 0.63, Level: chaos.LevelModerate, Fatigue: 0.25},
		},
		Tension:    0.6,
		Engagement: 0.5,
	}

	if err := db.SaveSnapshot(snap); err != nil {
		t.Fatalf("SaveSnapshot() error = %v", err)
	}

	got, ok, err := db.LoadSnapshot()
	if err != nil || !ok {
		t.Fatalf("LoadSnapshot() = ok %v, err %v", ok, err)
	}
	if got.GlobalScore != snap.GlobalScore {
		t.Errorf("global score = %.2f, want %.2f", got.GlobalScore, snap.GlobalScore)
	}
	if got.Pressure["r1"][pressure.Economic] != 0.7 {
		t.Errorf("pressure r1/economic = %.2f, want 0.70", got.Pressure["r1"][pressure.Economic])
	}
	if len(got.Regions) != 1 || got.Regions[0].Level != chaos.LevelModerate {
		t.Errorf("regions = %+v", got.Regions)
	}

	// Saving again replaces the single row, never appends.
	snap.GlobalScore = 0.9
	if err := db.SaveSnapshot(snap); err != nil {
		t.Fatalf("SaveSnapshot() error = %v", err)
	}
	got, _, err = db.LoadSnapshot()
	if err != nil {
		t.Fatalf("LoadSnapshot() error = %v", err)
	}
	if got.GlobalScore != 0.9 {
		t.Errorf("global score after resave = %.2f, want 0.90", got.GlobalScore)
	}
}

func TestEventHistory(t *testing.T) {
	db := openTestDB(t)

	first := chaos.Event{ID: uuid.New(), Type: "economic_crisis", Severity: 3, Regions: []string{"r1"}, Description: "banks close"}
	second := chaos.Event{ID: uuid.New(), Type: "social_unrest", Severity: 2, Regions: []string{"r1", "r2"}, Description: "crowds gather"}

	for _, ev := range []chaos.Event{first, second} {
		if err := db.AppendEvent(ev); err != nil {
			t.Fatalf("AppendEvent() error = %v", err)
		}
	}

	records, err := db.RecentHistory(10)
	if err != nil {
		t.Fatalf("RecentHistory() error = %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}
	// Newest first.
	if records[0].EventID != second.ID.String() || records[1].EventID != first.ID.String() {
		t.Errorf("history order = %q, %q, want newest first", records[0].EventID, records[1].EventID)
	}
	if records[0].EventType != "social_unrest" || records[0].Severity != 2 {
		t.Errorf("record = %+v", records[0])
	}
}

func TestTrimHistory(t *testing.T) {
	db := openTestDB(t)
	db.historyKeep = 5

	for i := 0; i < 12; i++ {
		ev := chaos.Event{ID: uuid.New(), Type: "social_unrest", Severity: 1, Regions: []string{"r1"}}
		if err := db.AppendEvent(ev); err != nil {
			t.Fatalf("AppendEvent() error = %v", err)
		}
	}

	records, err := db.RecentHistory(100)
	if err != nil {
		t.Fatalf("RecentHistory() error = %v", err)
	}
	if len(records) != 5 {
		t.Errorf("records = %d after trim, want 5", len(records))
	}
}

func TestMetaRoundTrip(t *testing.T) {
	db := openTestDB(t)

	if err := db.SaveMeta("schema_version", "1"); err != nil {
		t.Fatalf("SaveMeta() error = %v", err)
	}
	if err := db.SaveMeta("schema_version", "2"); err != nil {
		t.Fatalf("SaveMeta() error = %v", err)
	}

	got, err := db.GetMeta("schema_version")
	if err != nil {
		t.Fatalf("GetMeta() error = %v", err)
	}
	if got != "2" {
		t.Errorf("meta = %q, want 2", got)
	}

	if _, err := db.GetMeta("missing"); err == nil {
		t.Error("GetMeta() succeeded for a missing key")
	}
}
