// Package session holds the working state of one assistant session: its
// identity, project root, current behavioral mode, and mode-transition
// history. The orchestration core owns a Session exclusively for its
// lifetime; persistence at session end is delegated to a Store.
package session

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"omnidev/internal/logging"
	"omnidev/internal/types"
)

// ModeTransition records one mode switch.
type ModeTransition struct {
	From types.Mode `json:"from"`
	To   types.Mode `json:"to"`
	At   time.Time  `json:"at"`
}

// Session is the mutable per-session state. CurrentMode is mutated only by
// the mode detector; all access goes through guarded accessors so status
// readers on other goroutines see a consistent view.
type Session struct {
	ID          string
	ProjectRoot string
	CreatedAt   time.Time

	mu          sync.RWMutex
	currentMode types.Mode
	history     []ModeTransition
	files       map[string]bool // Observed file paths, for file-type ratio heuristics
}

// New creates a session rooted at projectRoot, starting in developer mode.
func New(projectRoot string) *Session {
	s := &Session{
		ID:          uuid.NewString(),
		ProjectRoot: projectRoot,
		CreatedAt:   time.Now(),
		currentMode: types.ModeDeveloper,
		files:       make(map[string]bool),
	}
	logging.Session("created session id=%s root=%s", s.ID, projectRoot)
	return s
}

// Restore rebuilds a session from persisted fields.
func Restore(id, projectRoot string, mode types.Mode, history []ModeTransition, createdAt time.Time) *Session {
	if mode == "" {
		mode = types.ModeDeveloper
	}
	return &Session{
		ID:          id,
		ProjectRoot: projectRoot,
		CreatedAt:   createdAt,
		currentMode: mode,
		history:     history,
		files:       make(map[string]bool),
	}
}

// CurrentMode returns the active behavioral mode.
func (s *Session) CurrentMode() types.Mode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentMode
}

// SetMode switches the active mode, recording the transition. Setting the
// current mode again is a no-op.
func (s *Session) SetMode(m types.Mode) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m == s.currentMode {
		return false
	}
	s.history = append(s.history, ModeTransition{From: s.currentMode, To: m, At: time.Now()})
	logging.Session("mode change session=%s %s -> %s", s.ID, s.currentMode, m)
	s.currentMode = m
	return true
}

// History returns a copy of the mode-transition history.
func (s *Session) History() []ModeTransition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ModeTransition, len(s.history))
	copy(out, s.history)
	return out
}

// RecordFile notes that a file was observed this session.
func (s *Session) RecordFile(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[path] = true
}

// FileCount returns how many distinct files were observed.
func (s *Session) FileCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.files)
}

// TestFileRatio returns the fraction of observed files that look like test
// files. Returns 0 when nothing was observed yet.
func (s *Session) TestFileRatio() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.files) == 0 {
		return 0
	}
	tests := 0
	for path := range s.files {
		if isTestFile(path) {
			tests++
		}
	}
	return float64(tests) / float64(len(s.files))
}

// Context returns the explicit context object handed to plugins and workers.
func (s *Session) Context() types.AssistContext {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return types.AssistContext{
		SessionID:   s.ID,
		ProjectRoot: s.ProjectRoot,
		CurrentMode: s.currentMode,
	}
}

func isTestFile(path string) bool {
	base := filepath.Base(path)
	return strings.HasSuffix(base, "_test.go") ||
		strings.HasPrefix(base, "test_") ||
		strings.Contains(base, ".test.") ||
		strings.Contains(base, ".spec.")
}

// Store is the persistence collaborator contract. Implementations own their
// own durability guarantees; the core only calls Load at session start and
// Save at session end.
type Store interface {
	Load(ctx context.Context, id string) (*Session, error)
	Save(ctx context.Context, s *Session) error
}
