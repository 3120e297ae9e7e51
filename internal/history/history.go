package history

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Store is the bounded local persistence behind the in-memory state: chat
// history restored across sessions and the queue of error reports that
// could not reach the server. Both tables are trimmed to a fixed cap, oldest
// entries first.
type Store struct {
	db               *sql.DB
	maxConversations int
	maxPending       int
}

func New(path string, maxConversations, maxPending int) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 30000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return nil, fmt.Errorf("applying pragma %q: %w", pragma, err)
		}
	}

	schema := `
	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		data TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_updated ON conversations(updated_at DESC);
	CREATE TABLE IF NOT EXISTS pending_reports (
		id TEXT PRIMARY KEY,
		data TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_pending_created ON pending_reports(created_at);
	`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if maxConversations <= 0 {
		maxConversations = 50
	}
	if maxPending <= 0 {
		maxPending = 50
	}

	return &Store{db: db, maxConversations: maxConversations, maxPending: maxPending}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SaveConversation upserts one conversation snapshot and trims the table to
// the most recently active entries.
func (s *Store) SaveConversation(id string, data []byte, updatedAt time.Time) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.Exec(`
		INSERT OR REPLACE INTO conversations (id, data, updated_at)
		VALUES (?, ?, ?)
	`, id, string(data), updatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("storing conversation: %w", err)
	}

	_, err = tx.Exec(`
		DELETE FROM conversations WHERE id NOT IN (
			SELECT id FROM conversations ORDER BY updated_at DESC LIMIT ?
		)
	`, s.maxConversations)
	if err != nil {
		return fmt.Errorf("trimming conversations: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	committed = true
	return nil
}

// Snapshot is one persisted conversation blob.
type Snapshot struct {
	ID        string
	Data      []byte
	UpdatedAt time.Time
}

// Conversations returns every persisted conversation, most recent first.
func (s *Store) Conversations() ([]Snapshot, error) {
	rows, err := s.db.Query(`
		SELECT id, data, updated_at FROM conversations ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var snapshots []Snapshot
	for rows.Next() {
		var snap Snapshot
		var data string
		var updated int64
		if err := rows.Scan(&snap.ID, &data, &updated); err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}
		snap.Data = []byte(data)
		snap.UpdatedAt = time.UnixMilli(updated)
		snapshots = append(snapshots, snap)
	}
	return snapshots, rows.Err()
}

// DeleteConversation removes one conversation from the history.
func (s *Store) DeleteConversation(id string) error {
	_, err := s.db.Exec(`DELETE FROM conversations WHERE id = ?`, id)
	return err
}

// EnqueueReport stores an error report that could not be delivered. When the
// queue is full the oldest entries give way.
func (s *Store) EnqueueReport(id string, data []byte) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.Exec(`
		INSERT OR REPLACE INTO pending_reports (id, data, created_at)
		VALUES (?, ?, ?)
	`, id, string(data), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("storing report: %w", err)
	}

	_, err = tx.Exec(`
		DELETE FROM pending_reports WHERE id NOT IN (
			SELECT id FROM pending_reports ORDER BY created_at DESC LIMIT ?
		)
	`, s.maxPending)
	if err != nil {
		return fmt.Errorf("trimming reports: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	committed = true
	return nil
}

// PendingReport is one queued error report.
type PendingReport struct {
	ID   string
	Data []byte
}

// PendingReports returns queued reports, oldest first.
func (s *Store) PendingReports(limit int) ([]PendingReport, error) {
	rows, err := s.db.Query(`
		SELECT id, data FROM pending_reports ORDER BY created_at ASC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying reports: %w", err)
	}
	defer rows.Close()

	var reports []PendingReport
	for rows.Next() {
		var r PendingReport
		var data string
		if err := rows.Scan(&r.ID, &data); err != nil {
			return nil, fmt.Errorf("scanning report: %w", err)
		}
		r.Data = []byte(data)
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

// AckReport removes a report delivered to the server.
func (s *Store) AckReport(id string) error {
	_, err := s.db.Exec(`DELETE FROM pending_reports WHERE id = ?`, id)
	return err
}

// PendingCount returns the number of queued reports.
func (s *Store) PendingCount() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM pending_reports`).Scan(&n)
	return n, err
}
