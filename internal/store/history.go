package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// historySchema holds every trigger the dispatcher fired.
const historySchema = `
CREATE TABLE IF NOT EXISTS trigger_history (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp_ns   INTEGER NOT NULL,
    device         TEXT NOT NULL,
    layer          TEXT NOT NULL,
    event_kind     TEXT NOT NULL,
    event_value    TEXT NOT NULL,
    trigger_kind   TEXT NOT NULL,
    trigger_value  TEXT NOT NULL,
    outcome        TEXT NOT NULL,
    error          TEXT
);

CREATE INDEX IF NOT EXISTS idx_history_timestamp ON trigger_history(timestamp_ns);
CREATE INDEX IF NOT EXISTS idx_history_device ON trigger_history(device, timestamp_ns);
`

// History is the SQLite trigger history store.
type History struct {
	db *sql.DB
}

// TriggerRecord is one fired trigger.
type TriggerRecord struct {
	ID           int64
	Time         time.Time
	Device       string
	Layer        string
	EventKind    string
	EventValue   string
	TriggerKind  string
	TriggerValue string
	Outcome      string
	Error        string
}

// OpenHistory opens or creates the history database at the given path.
func OpenHistory(path string) (*History, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}

	if _, err := db.Exec(historySchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply history schema: %w", err)
	}

	return &History{db: db}, nil
}

// Close closes the database connection.
func (h *History) Close() error {
	if h.db != nil {
		return h.db.Close()
	}
	return nil
}

// Record inserts one fired trigger.
func (h *History) Record(r *TriggerRecord) error {
	if r.Time.IsZero() {
		r.Time = time.Now()
	}
	result, err := h.db.Exec(`
		INSERT INTO trigger_history (timestamp_ns, device, layer, event_kind, event_value, trigger_kind, trigger_value, outcome, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Time.UnixNano(), r.Device, r.Layer, r.EventKind, r.EventValue, r.TriggerKind, r.TriggerValue, r.Outcome, r.Error,
	)
	if err != nil {
		return fmt.Errorf("insert trigger record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get last insert id: %w", err)
	}
	r.ID = id
	return nil
}

// Recent returns the most recent records, newest first.
func (h *History) Recent(limit int) ([]TriggerRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := h.db.Query(`
		SELECT id, timestamp_ns, device, layer, event_kind, event_value, trigger_kind, trigger_value, outcome, error
		FROM trigger_history ORDER BY timestamp_ns DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query trigger history: %w", err)
	}
	defer rows.Close()

	var records []TriggerRecord
	for rows.Next() {
		var r TriggerRecord
		var ns int64
		var errText sql.NullString
		if err := rows.Scan(&r.ID, &ns, &r.Device, &r.Layer, &r.EventKind, &r.EventValue, &r.TriggerKind, &r.TriggerValue, &r.Outcome, &errText); err != nil {
			return nil, fmt.Errorf("scan trigger record: %w", err)
		}
		r.Time = time.Unix(0, ns)
		r.Error = errText.String
		records = append(records, r)
	}
	return records, rows.Err()
}

// CountByDevice returns how many triggers each device has fired.
func (h *History) CountByDevice() (map[string]int64, error) {
	rows, err := h.db.Query(`SELECT device, COUNT(*) FROM trigger_history GROUP BY device`)
	if err != nil {
		return nil, fmt.Errorf("count trigger history: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var device string
		var n int64
		if err := rows.Scan(&device, &n); err != nil {
			return nil, fmt.Errorf("scan trigger count: %w", err)
		}
		counts[device] = n
	}
	return counts, rows.Err()
}
