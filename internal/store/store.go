// Package store is the SQLite database kept next to the task state. It holds
// the mailbox queue and the lifecycle event log.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// DefaultSender is used for messages submitted without a sender.
const DefaultSender = "anonymous"

// Store provides access to the taskpilot database.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the SQLite database at the given path.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// WAL lets `mailbox send` write while a run is reading.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS messages (
		seq          INTEGER PRIMARY KEY AUTOINCREMENT,
		id           TEXT NOT NULL UNIQUE,
		sender       TEXT NOT NULL DEFAULT 'anonymous',
		content      TEXT NOT NULL,
		priority     INTEGER NOT NULL DEFAULT 1,
		received_at  DATETIME NOT NULL,
		consumed     INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS events (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		event_id    TEXT NOT NULL,
		run_id      TEXT NOT NULL,
		event_type  TEXT NOT NULL,
		payload     TEXT DEFAULT '{}',
		timestamp   DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_run ON events(run_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	// Columns added after the first release.
	s.addColumnIfMissing("messages", "metadata", "TEXT DEFAULT '{}'")
	s.addColumnIfMissing("messages", "consumed_at", "DATETIME")

	return nil
}

// addColumnIfMissing adds a column to a table if it doesn't exist yet.
func (s *Store) addColumnIfMissing(table, column, colDef string) {
	rows, err := s.db.Query("PRAGMA table_info(" + table + ")")
	if err != nil {
		return
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull int
		var dfltValue *string
		var pk int
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return
		}
		if name == column {
			return
		}
	}
	rows.Close()

	s.db.Exec("ALTER TABLE " + table + " ADD COLUMN " + column + " " + colDef)
}

// AddMessage queues a message. ID, sender and received_at are filled in
// when empty. The stored message is returned with its sequence number.
func (s *Store) AddMessage(m Message) (*Message, error) {
	if strings.TrimSpace(m.Content) == "" {
		return nil, fmt.Errorf("message content is empty")
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Sender == "" {
		m.Sender = DefaultSender
	}
	if m.ReceivedAt.IsZero() {
		m.ReceivedAt = time.Now().UTC()
	}
	meta, err := json.Marshal(m.Metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}

	res, err := s.db.Exec(
		`INSERT INTO messages (id, sender, content, priority, metadata, received_at, consumed)
		 VALUES (?, ?, ?, ?, ?, ?, 0)`,
		m.ID, m.Sender, m.Content, m.Priority, string(meta), m.ReceivedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	m.Seq, _ = res.LastInsertId()
	m.Consumed = false
	m.ConsumedAt = nil
	return &m, nil
}

const messageColumns = `seq, id, sender, content, priority, metadata, received_at, consumed, consumed_at`

// GetMessage returns a message by ID.
func (s *Store) GetMessage(id string) (*Message, error) {
	rows, err := s.db.Query(`SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("get message: %w", err)
		}
		return nil, fmt.Errorf("message %s not found", id)
	}
	return scanMessage(rows)
}

// ListMessages returns messages in arrival order.
func (s *Store) ListMessages(includeConsumed bool) ([]Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages`
	if !includeConsumed {
		query += ` WHERE consumed = 0`
	}
	query += ` ORDER BY seq`
	return s.queryMessages(query)
}

// UnconsumedMessages returns the messages not yet merged, in arrival order.
func (s *Store) UnconsumedMessages() ([]Message, error) {
	return s.ListMessages(false)
}

// MarkConsumed flags the given messages as merged. Already consumed
// messages are left untouched; the number of newly consumed rows is returned.
func (s *Store) MarkConsumed(ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	total := 0
	for _, id := range ids {
		res, err := tx.Exec(
			`UPDATE messages SET consumed = 1, consumed_at = ? WHERE id = ? AND consumed = 0`,
			now, id,
		)
		if err != nil {
			return 0, fmt.Errorf("mark consumed %s: %w", id, err)
		}
		n, _ := res.RowsAffected()
		total += int(n)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return total, nil
}

func (s *Store) queryMessages(query string, args ...any) ([]Message, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}

func scanMessage(rows *sql.Rows) (*Message, error) {
	var m Message
	var meta sql.NullString
	var consumed int
	var consumedAt sql.NullTime
	err := rows.Scan(
		&m.Seq, &m.ID, &m.Sender, &m.Content, &m.Priority, &meta,
		&m.ReceivedAt, &consumed, &consumedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan message: %w", err)
	}
	m.Consumed = consumed != 0
	if consumedAt.Valid {
		t := consumedAt.Time
		m.ConsumedAt = &t
	}
	if meta.Valid && meta.String != "" && meta.String != "null" {
		if err := json.Unmarshal([]byte(meta.String), &m.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata of %s: %w", m.ID, err)
		}
	}
	return &m, nil
}

// AddEvent records a lifecycle event.
func (s *Store) AddEvent(e Event) error {
	if e.EventID == "" {
		e.EventID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.Payload == "" {
		e.Payload = "{}"
	}
	_, err := s.db.Exec(
		`INSERT INTO events (event_id, run_id, event_type, payload, timestamp) VALUES (?, ?, ?, ?, ?)`,
		e.EventID, e.RunID, e.Type, e.Payload, e.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// ListEvents returns the last limit events of a run in chronological order.
// An empty runID lists every run; limit <= 0 means no limit.
func (s *Store) ListEvents(runID string, limit int) ([]Event, error) {
	query := `SELECT id, event_id, run_id, event_type, payload, timestamp FROM events`
	var args []any
	if runID != "" {
		query += ` WHERE run_id = ?`
		args = append(args, runID)
	}
	query += ` ORDER BY id DESC`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.EventID, &e.RunID, &e.Type, &e.Payload, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events, nil
}

// DeleteEvents removes the event log of a run.
func (s *Store) DeleteEvents(runID string) (int, error) {
	res, err := s.db.Exec(`DELETE FROM events WHERE run_id = ?`, runID)
	if err != nil {
		return 0, fmt.Errorf("delete events: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
