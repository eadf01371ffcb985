// Package store persists completed sessions and source reliability to a
// local SQLite database.
//
// The coordinator archives every terminal session here through its
// completion hook, and reliability priors are saved on shutdown and
// restored on the next start so learned source trust survives restarts.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/Organized-AI/claude-code-optimize-sub000/internal/coordinator"
)

// ///////////////////////////////////////////////
// Store
// ///////////////////////////////////////////////

// Store wraps the SQLite database holding session history and reliability.
type Store struct {
	db *sql.DB
}

// Open creates (or opens) the database at path and applies the schema.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}
	return s, nil
}

// migrate creates the tables.
func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			state TEXT NOT NULL,
			start_time DATETIME NOT NULL,
			completed_at DATETIME,
			confidence REAL NOT NULL,
			accuracy REAL NOT NULL,
			reason TEXT,
			sources TEXT,
			agents TEXT,
			input_tokens INTEGER NOT NULL DEFAULT 0,
			output_tokens INTEGER NOT NULL DEFAULT 0,
			cache_creation_tokens INTEGER NOT NULL DEFAULT 0,
			cache_read_tokens INTEGER NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS source_reliability (
			source TEXT PRIMARY KEY,
			reliability REAL NOT NULL,
			updated_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_state ON sessions(state);
		CREATE INDEX IF NOT EXISTS idx_sessions_start ON sessions(start_time);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ///////////////////////////////////////////////
// Sessions
// ///////////////////////////////////////////////

// SaveSession upserts one terminal session.
func (s *Store) SaveSession(sess coordinator.Session) error {
	sourcesJSON, _ := json.Marshal(sess.Sources)
	agentsJSON, _ := json.Marshal(sess.Agents())

	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO sessions
			(id, state, start_time, completed_at, confidence, accuracy, reason, sources, agents,
			 input_tokens, output_tokens, cache_creation_tokens, cache_read_tokens)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, sess.ID, string(sess.State), sess.StartTime, sess.CompletedAt, sess.Confidence,
		sess.AccuracyScore, sess.Reason, string(sourcesJSON), string(agentsJSON),
		sess.Usage.InputTokens, sess.Usage.OutputTokens,
		sess.Usage.CacheCreationInputTokens, sess.Usage.CacheReadInputTokens)
	return err
}

// RecentSessions returns up to limit sessions, newest first.
func (s *Store) RecentSessions(limit int) ([]coordinator.Session, error) {
	rows, err := s.db.Query(`
		SELECT id, state, start_time, completed_at, confidence, accuracy, reason, sources,
			input_tokens, output_tokens, cache_creation_tokens, cache_read_tokens
		FROM sessions
		ORDER BY start_time DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []coordinator.Session
	for rows.Next() {
		var sess coordinator.Session
		var state, sourcesJSON string
		var completedAt sql.NullTime

		err := rows.Scan(&sess.ID, &state, &sess.StartTime, &completedAt, &sess.Confidence,
			&sess.AccuracyScore, &sess.Reason, &sourcesJSON,
			&sess.Usage.InputTokens, &sess.Usage.OutputTokens,
			&sess.Usage.CacheCreationInputTokens, &sess.Usage.CacheReadInputTokens)
		if err != nil {
			return nil, err
		}
		sess.State = coordinator.State(state)
		if completedAt.Valid {
			sess.CompletedAt = completedAt.Time
		}
		json.Unmarshal([]byte(sourcesJSON), &sess.Sources)
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// SessionCount returns the number of stored sessions.
func (s *Store) SessionCount() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM sessions`).Scan(&n)
	return n, err
}

// ///////////////////////////////////////////////
// Reliability
// ///////////////////////////////////////////////

// SaveReliability upserts the per-source reliability priors.
func (s *Store) SaveReliability(rel map[string]float64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	for source, value := range rel {
		if _, err := tx.Exec(`
			INSERT OR REPLACE INTO source_reliability (source, reliability, updated_at)
			VALUES (?, ?, ?)
		`, source, value, now); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// LoadReliability returns the persisted priors; an empty map when none were
// ever saved.
func (s *Store) LoadReliability() (map[string]float64, error) {
	rows, err := s.db.Query(`SELECT source, reliability FROM source_reliability`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rel := make(map[string]float64)
	for rows.Next() {
		var source string
		var value float64
		if err := rows.Scan(&source, &value); err != nil {
			return nil, err
		}
		rel[source] = value
	}
	return rel, rows.Err()
}
