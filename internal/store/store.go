// Package store provides optional SQLite-backed persistence for the
// message manager (§4.10): when enqueueWhileDisconnected is set, a
// process restart would otherwise drop queued messages. This is an
// add-on the core engine never imports directly; a host application
// wires it in by feeding PendingMessage rows back through
// message.Manager.Send on startup.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// PendingMessage is one queued-while-disconnected message, durable
// across a process restart.
type PendingMessage struct {
	ID        int64
	Sequence  string
	Text      string
	MaxWaitMs int
	CreatedAt time.Time
}

// Store is a SQLite-backed durable queue of pending outgoing messages.
type Store struct {
	db *sql.DB
}

// Open creates or opens the store at dbPath, applying schema
// migrations as needed.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s, err := New(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an already-open *sql.DB, applying schema migrations. This
// is the seam tests use to substitute a pure-Go driver for an
// in-memory database.
func New(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS pending_messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		sequence TEXT NOT NULL,
		text TEXT NOT NULL,
		max_wait_ms INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_pending_messages_sequence ON pending_messages(sequence, id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Enqueue persists a message submitted while disconnected. The
// returned id is also the durable row id, usable with Remove.
func (s *Store) Enqueue(sequence, text string, maxWaitMs int) (int64, error) {
	now := time.Now()
	res, err := s.db.Exec(`
		INSERT INTO pending_messages (sequence, text, max_wait_ms, created_at)
		VALUES (?, ?, ?, ?)
	`, sequence, text, maxWaitMs, now)
	if err != nil {
		return 0, fmt.Errorf("enqueue pending message: %w", err)
	}
	return res.LastInsertId()
}

// Remove deletes a pending message once it has actually been
// submitted to the control-request manager.
func (s *Store) Remove(id int64) error {
	_, err := s.db.Exec(`DELETE FROM pending_messages WHERE id = ?`, id)
	return err
}

// LoadPending returns every durable pending message in submission
// order, for replay through message.Manager.Send at startup.
func (s *Store) LoadPending() ([]PendingMessage, error) {
	rows, err := s.db.Query(`
		SELECT id, sequence, text, max_wait_ms, created_at
		FROM pending_messages
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("load pending messages: %w", err)
	}
	defer rows.Close()

	var out []PendingMessage
	for rows.Next() {
		var m PendingMessage
		if err := rows.Scan(&m.ID, &m.Sequence, &m.Text, &m.MaxWaitMs, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan pending message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
