// Package store implements SQLite-backed persistence collaborators.
// The orchestration core only touches the session.Store contract; everything
// here is replaceable without the core noticing.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"omnidev/internal/logging"
	"omnidev/internal/session"
	"omnidev/internal/types"
)

// SessionStore persists sessions to a local SQLite database.
type SessionStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

// OpenSessionStore initializes the SQLite database at the given path,
// creating the schema if needed.
func OpenSessionStore(path string) (*SessionStore, error) {
	timer := logging.StartTimer(logging.CategoryStore, "OpenSessionStore")
	defer timer.Stop()

	logging.Store("opening session store at %s", path)

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	s := &SessionStore{db: db, dbPath: path}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SessionStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			id           TEXT PRIMARY KEY,
			project_root TEXT NOT NULL,
			current_mode TEXT NOT NULL,
			mode_history TEXT NOT NULL DEFAULT '[]',
			created_at   TIMESTAMP NOT NULL,
			updated_at   TIMESTAMP NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("create sessions table: %w", err)
	}
	return nil
}

// Save upserts a session. Called at session end and on mode changes; cheap
// enough that callers need not batch.
func (s *SessionStore) Save(ctx context.Context, sess *session.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	history, err := json.Marshal(sess.History())
	if err != nil {
		return fmt.Errorf("marshal mode history: %w", err)
	}

	logging.StoreDebug("saving session id=%s mode=%s transitions=%d",
		sess.ID, sess.CurrentMode(), len(sess.History()))

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, project_root, current_mode, mode_history, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   current_mode = excluded.current_mode,
		   mode_history = excluded.mode_history,
		   updated_at   = excluded.updated_at`,
		sess.ID, sess.ProjectRoot, string(sess.CurrentMode()), string(history),
		sess.CreatedAt.UTC(), time.Now().UTC(),
	)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("failed to save session %s: %v", sess.ID, err)
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Load restores a session by id. Returns (nil, nil) when the id is unknown.
func (s *SessionStore) Load(ctx context.Context, id string) (*session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT project_root, current_mode, mode_history, created_at FROM sessions WHERE id = ?`, id)

	var projectRoot, mode, historyJSON string
	var createdAt time.Time
	if err := row.Scan(&projectRoot, &mode, &historyJSON, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}

	var history []session.ModeTransition
	if err := json.Unmarshal([]byte(historyJSON), &history); err != nil {
		// A corrupt history is not worth failing the load over.
		logging.Get(logging.CategoryStore).Warn("session %s has corrupt mode history: %v", id, err)
		history = nil
	}

	logging.StoreDebug("loaded session id=%s mode=%s", id, mode)
	return session.Restore(id, projectRoot, types.Mode(mode), history, createdAt), nil
}

// Close releases the database handle.
func (s *SessionStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	logging.Store("closing session store %s", s.dbPath)
	return s.db.Close()
}
