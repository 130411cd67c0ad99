// Package persistence provides SQLite-based kernel state storage. The
// kernel hands over opaque snapshots; this layer owns the file format.
// See design doc Section 8.3.
package persistence

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/chaos-world/internal/chaos"
)

// Default number of history rows kept after a trim.
const defaultHistoryKeep = 1000

// DB wraps a SQLite connection for kernel state persistence.
type DB struct {
	conn        *sqlx.DB
	historyKeep int
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db := &DB{conn: conn, historyKeep: defaultHistoryKeep}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS snapshot (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		saved_at TEXT NOT NULL,
		state_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		recorded_at TEXT NOT NULL,
		event_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		severity INTEGER NOT NULL,
		regions_json TEXT NOT NULL,
		description TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS kernel_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_history_type ON history(event_type);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// SaveSnapshot writes the full kernel state (single-row replace).
func (db *DB) SaveSnapshot(snap chaos.Snapshot) error {
	blob, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = db.conn.Exec(
		"INSERT OR REPLACE INTO snapshot (id, saved_at, state_json) VALUES (1, ?, ?)",
		snap.SavedAt.Format(time.RFC3339), string(blob),
	)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}

	slog.Info("kernel snapshot saved",
		"regions", len(snap.Regions),
		"events", len(snap.Events),
		"warnings", len(snap.Warnings),
		"cascades", len(snap.Cascades),
	)
	return nil
}

// LoadSnapshot reads the last saved kernel state. ok is false when no
// snapshot exists.
func (db *DB) LoadSnapshot() (chaos.Snapshot, bool, error) {
	var blob string
	err := db.conn.Get(&blob, "SELECT state_json FROM snapshot WHERE id = 1")
	if err == sql.ErrNoRows {
		return chaos.Snapshot{}, false, nil
	}
	if err != nil {
		return chaos.Snapshot{}, false, fmt.Errorf("load snapshot: %w", err)
	}

	var snap chaos.Snapshot
	if err := json.Unmarshal([]byte(blob), &snap); err != nil {
		return chaos.Snapshot{}, false, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return snap, true, nil
}

// HistoryRecord is one fired event in the bounded history log.
type HistoryRecord struct {
	RecordedAt  string `db:"recorded_at" json:"recorded_at"`
	EventID     string `db:"event_id" json:"event_id"`
	EventType   string `db:"event_type" json:"event_type"`
	Severity    int    `db:"severity" json:"severity"`
	RegionsJSON string `db:"regions_json" json:"-"`
	Description string `db:"description" json:"description"`
}

// AppendEvent records a fired chaos event and trims old rows.
func (db *DB) AppendEvent(ev chaos.Event) error {
	regions, _ := json.Marshal(ev.Regions)
	_, err := db.conn.Exec(
		"INSERT INTO history (recorded_at, event_id, event_type, severity, regions_json, description) VALUES (?, ?, ?, ?, ?, ?)",
		time.Now().Format(time.RFC3339), ev.ID.String(), ev.Type, ev.Severity, string(regions), ev.Description,
	)
	if err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return db.TrimHistory(db.historyKeep)
}

// OnChaosEvent implements the engine's event sink: every fired event
// lands in history. Persistence failures are logged, never fatal to the
// tick that fired the event.
func (db *DB) OnChaosEvent(ev chaos.Event) {
	if err := db.AppendEvent(ev); err != nil {
		slog.Error("history append failed", "event_id", ev.ID, "error", err)
	}
}

// RecentHistory returns the most recent N history records, newest first.
func (db *DB) RecentHistory(limit int) ([]HistoryRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var records []HistoryRecord
	err := db.conn.Select(&records,
		"SELECT recorded_at, event_id, event_type, severity, regions_json, description FROM history ORDER BY id DESC LIMIT ?",
		limit,
	)
	return records, err
}

// TrimHistory deletes all but the most recent keep rows.
func (db *DB) TrimHistory(keep int) error {
	_, err := db.conn.Exec(
		"DELETE FROM history WHERE id NOT IN (SELECT id FROM history ORDER BY id DESC LIMIT ?)",
		keep,
	)
	return err
}

// SaveMeta stores a key-value pair in kernel metadata.
func (db *DB) SaveMeta(key, value string) error {
	_, err := db.conn.Exec(
		"INSERT OR REPLACE INTO kernel_meta (key, value) VALUES (?, ?)",
		key, value,
	)
	return err
}

// GetMeta retrieves a metadata value.
func (db *DB) GetMeta(key string) (string, error) {
	var value string
	err := db.conn.Get(&value, "SELECT value FROM kernel_meta WHERE key = ?", key)
	return value, err
}
