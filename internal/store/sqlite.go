// Package store persists session records and configuration in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/wardenhq/warden/internal/session"
)

// SQLiteStore implements session.Storage plus a small config key/value
// table backing `warden config get/set`.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0750); err != nil {
		return nil, fmt.Errorf("failed to create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			user_id INTEGER NOT NULL,
			working_dir TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			last_used DATETIME NOT NULL,
			total_cost REAL NOT NULL DEFAULT 0,
			total_turns INTEGER NOT NULL DEFAULT 0,
			message_count INTEGER NOT NULL DEFAULT 0,
			tools_used TEXT NOT NULL DEFAULT '[]'
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id);`,
		`CREATE TABLE IF NOT EXISTS configuration (
			key TEXT PRIMARY KEY,
			value TEXT
		);`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("failed to init schema: %w", err)
		}
	}
	return nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Save upserts a session record. Sessions without an identifier are a
// programming error upstream; rejecting them keeps the table free of
// empty keys.
func (s *SQLiteStore) Save(ctx context.Context, sess *session.Session) error {
	if sess.ID == "" {
		return fmt.Errorf("refusing to save session with empty id")
	}

	toolsJSON, err := json.Marshal(sess.ToolsUsed)
	if err != nil {
		return fmt.Errorf("failed to marshal tools: %w", err)
	}

	query := `INSERT INTO sessions
		(id, user_id, working_dir, created_at, last_used, total_cost, total_turns, message_count, tools_used)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			last_used = excluded.last_used,
			total_cost = excluded.total_cost,
			total_turns = excluded.total_turns,
			message_count = excluded.message_count,
			tools_used = excluded.tools_used`
	_, err = s.db.ExecContext(ctx, query,
		sess.ID, sess.UserID, sess.WorkingDir,
		sess.CreatedAt.UTC(), sess.LastUsed.UTC(),
		sess.TotalCost, sess.TotalTurns, sess.MessageCount, string(toolsJSON),
	)
	return err
}

// Load returns the session for id, or (nil, nil) when absent.
func (s *SQLiteStore) Load(ctx context.Context, id string) (*session.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, working_dir, created_at, last_used, total_cost, total_turns, message_count, tools_used
		 FROM sessions WHERE id = ?`, id)

	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return sess, err
}

// Delete removes the session for id. Deleting an unknown id is not an
// error.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	return err
}

// ListByUser returns all sessions owned by userID.
func (s *SQLiteStore) ListByUser(ctx context.Context, userID int64) ([]*session.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, working_dir, created_at, last_used, total_cost, total_turns, message_count, tools_used
		 FROM sessions WHERE user_id = ?`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSessions(rows)
}

// ListAll returns every persisted session.
func (s *SQLiteStore) ListAll(ctx context.Context) ([]*session.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, working_dir, created_at, last_used, total_cost, total_turns, message_count, tools_used
		 FROM sessions`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSessions(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*session.Session, error) {
	var sess session.Session
	var createdAt, lastUsed time.Time
	var toolsJSON string

	err := row.Scan(&sess.ID, &sess.UserID, &sess.WorkingDir,
		&createdAt, &lastUsed,
		&sess.TotalCost, &sess.TotalTurns, &sess.MessageCount, &toolsJSON)
	if err != nil {
		return nil, err
	}

	sess.CreatedAt = createdAt.UTC()
	sess.LastUsed = lastUsed.UTC()
	if err := json.Unmarshal([]byte(toolsJSON), &sess.ToolsUsed); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tools for session %s: %w", sess.ID, err)
	}
	return &sess, nil
}

func collectSessions(rows *sql.Rows) ([]*session.Session, error) {
	var sessions []*session.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// SetConfig stores a configuration value.
func (s *SQLiteStore) SetConfig(key, value string) error {
	query := `INSERT INTO configuration (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`
	_, err := s.db.Exec(query, key, value)
	return err
}

// GetConfig returns the stored value for key, or "" when unset.
func (s *SQLiteStore) GetConfig(key string) (string, error) {
	row := s.db.QueryRow(`SELECT value FROM configuration WHERE key = ?`, key)
	var value string
	if err := row.Scan(&value); err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", err
	}
	return value, nil
}
