package storage

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite database connection
type DB struct {
	conn *sql.DB
	path string
}

// Open opens or creates the SQLite database
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db := &DB{conn: conn, path: path}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return db, nil
}

// OpenReadOnly opens an existing database for inspection. The schema is
// not touched.
func OpenReadOnly(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return &DB{conn: conn, path: path}, nil
}

// Query runs a raw read query
func (db *DB) Query(query string, args ...interface{}) (*sql.Rows, error) {
	return db.conn.Query(query, args...)
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// migrate creates the database schema
func (db *DB) migrate() error {
	schema := `
	-- Relay state changes
	CREATE TABLE IF NOT EXISTS relay_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		relay_id TEXT NOT NULL,
		prev_state TEXT NOT NULL,
		new_state TEXT NOT NULL,
		source TEXT NOT NULL,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_relay_events_relay ON relay_events(relay_id);
	CREATE INDEX IF NOT EXISTS idx_relay_events_timestamp ON relay_events(timestamp);

	-- Schedule rule changes
	CREATE TABLE IF NOT EXISTS schedule_changes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		relay_id TEXT NOT NULL,
		action TEXT NOT NULL,
		rule_json TEXT,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_schedule_changes_relay ON schedule_changes(relay_id);
	`

	_, err := db.conn.Exec(schema)
	return err
}

// --- Relay Event Operations ---

// InsertRelayEvent records a relay state change
func (db *DB) InsertRelayEvent(e *RelayEvent) (int64, error) {
	query := `INSERT INTO relay_events (relay_id, prev_state, new_state, source, timestamp)
		VALUES (?, ?, ?, ?, ?)`

	result, err := db.conn.Exec(query, e.RelayID, e.PrevState, e.NewState, e.Source, e.Timestamp)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// GetRelayEvents retrieves the most recent events for a relay, newest first.
// An empty relayID returns events for every relay.
func (db *DB) GetRelayEvents(relayID string, limit int) ([]*RelayEvent, error) {
	query := `SELECT id, relay_id, prev_state, new_state, source, timestamp
		FROM relay_events WHERE (? = '' OR relay_id = ?)
		ORDER BY timestamp DESC, id DESC LIMIT ?`

	rows, err := db.conn.Query(query, relayID, relayID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*RelayEvent
	for rows.Next() {
		e := &RelayEvent{}
		if err := rows.Scan(&e.ID, &e.RelayID, &e.PrevState, &e.NewState, &e.Source, &e.Timestamp); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// --- Schedule Change Operations ---

// InsertScheduleChange records a schedule mutation
func (db *DB) InsertScheduleChange(c *ScheduleChange) (int64, error) {
	query := `INSERT INTO schedule_changes (relay_id, action, rule_json, timestamp)
		VALUES (?, ?, ?, ?)`

	var rule sql.NullString
	if c.RuleJSON != "" {
		rule = sql.NullString{String: c.RuleJSON, Valid: true}
	}
	result, err := db.conn.Exec(query, c.RelayID, c.Action, rule, c.Timestamp)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// GetScheduleChanges retrieves the most recent schedule changes, newest first
func (db *DB) GetScheduleChanges(relayID string, limit int) ([]*ScheduleChange, error) {
	query := `SELECT id, relay_id, action, rule_json, timestamp
		FROM schedule_changes WHERE (? = '' OR relay_id = ?)
		ORDER BY timestamp DESC, id DESC LIMIT ?`

	rows, err := db.conn.Query(query, relayID, relayID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var changes []*ScheduleChange
	for rows.Next() {
		c := &ScheduleChange{}
		var rule sql.NullString
		if err := rows.Scan(&c.ID, &c.RelayID, &c.Action, &rule, &c.Timestamp); err != nil {
			return nil, err
		}
		c.RuleJSON = rule.String
		changes = append(changes, c)
	}
	return changes, rows.Err()
}

// --- Maintenance ---

// Stats returns row counts and the relay event time span
func (db *DB) Stats() (*Stats, error) {
	s := &Stats{}
	if err := db.conn.QueryRow("SELECT COUNT(*) FROM relay_events").Scan(&s.RelayEvents); err != nil {
		return nil, err
	}
	if err := db.conn.QueryRow("SELECT COUNT(*) FROM schedule_changes").Scan(&s.ScheduleChanges); err != nil {
		return nil, err
	}
	if s.RelayEvents == 0 {
		return s, nil
	}

	first, err := db.boundary("ASC")
	if err != nil {
		return nil, err
	}
	last, err := db.boundary("DESC")
	if err != nil {
		return nil, err
	}
	s.FirstEvent, s.LastEvent = first, last
	return s, nil
}

func (db *DB) boundary(order string) (time.Time, error) {
	var t time.Time
	err := db.conn.QueryRow("SELECT timestamp FROM relay_events ORDER BY timestamp " + order + " LIMIT 1").Scan(&t)
	return t, err
}

// PruneBefore deletes journal rows older than cutoff
func (db *DB) PruneBefore(cutoff time.Time) (int64, error) {
	var total int64
	for _, table := range []string{"relay_events", "schedule_changes"} {
		result, err := db.conn.Exec("DELETE FROM "+table+" WHERE timestamp < ?", cutoff)
		if err != nil {
			return total, fmt.Errorf("failed to prune %s: %w", table, err)
		}
		n, _ := result.RowsAffected()
		total += n
	}
	return total, nil
}
