package checkpoint

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/inkwellhq/inkwell/internal/run"
)

// Store manages checkpoint sessions on disk, one JSON file per session
// under baseDir. Mutations are serialized through the store's lock; the
// engine's pause path and the controller's actions can touch the same
// session from different goroutines.
type Store struct {
	mu      sync.Mutex
	baseDir string // defaults to ~/.inkwell/sessions
}

// NewStore creates a Store rooted at baseDir.
func NewStore(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

// DefaultStore returns a Store at ~/.inkwell/sessions, creating the
// directory if needed.
func DefaultStore() (*Store, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("get home dir: %w", err)
	}
	dir := filepath.Join(home, ".inkwell", "sessions")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}
	return &Store{baseDir: dir}, nil
}

func (s *Store) sessionPath(id string) string {
	return filepath.Join(s.baseDir, id+".json")
}

// Get reads a session by ID.
func (s *Store) Get(id string) (*Session, error) {
	var sess Session
	if err := run.ReadJSON(s.sessionPath(id), &sess); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("session %s not found", id)
		}
		return nil, err
	}
	return &sess, nil
}

// Update performs an atomic read-modify-write of a session and returns the
// updated session. LastActivity is not touched; actions that count as user
// interaction must set it explicitly via Touch inside fn.
func (s *Store) Update(id string, fn func(*Session)) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.update(id, fn)
}

// update is Update without the lock, for callers already holding it.
func (s *Store) update(id string, fn func(*Session)) (*Session, error) {
	sess, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	fn(sess)
	if err := run.WriteJSON(s.sessionPath(id), sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Touch refreshes the session's last-interaction time to now.
func Touch(sess *Session) {
	sess.LastActivity = time.Now().UTC().Format(time.RFC3339)
}

// EnsureActive returns the active session for a run, creating one lazily on
// the first pause. On reuse the paused stage is updated. At most one active
// session exists per (user, run) pair.
func (s *Store) EnsureActive(runID, userID string, stage int) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, err := s.ActiveForRun(runID); err == nil && existing != nil {
		if existing.UserID != userID {
			return nil, fmt.Errorf("run %s already has an active session owned by another user", runID)
		}
		return s.update(existing.ID, func(sess *Session) {
			sess.Stage = stage
		})
	}

	now := time.Now().UTC().Format(time.RFC3339)
	sess := &Session{
		ID:           uuid.NewString(),
		RunID:        runID,
		UserID:       userID,
		Stage:        stage,
		Status:       StatusActive,
		LastActivity: now,
		CreatedAt:    now,
	}
	if err := os.MkdirAll(s.baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", s.baseDir, err)
	}
	if err := run.WriteJSON(s.sessionPath(sess.ID), sess); err != nil {
		return nil, fmt.Errorf("write session: %w", err)
	}
	return sess, nil
}

// ActiveForRun returns the active session for a run, or nil if none exists.
func (s *Store) ActiveForRun(runID string) (*Session, error) {
	sessions, err := s.List()
	if err != nil {
		return nil, err
	}
	for i := range sessions {
		if sessions[i].RunID == runID && sessions[i].Status == StatusActive {
			return &sessions[i], nil
		}
	}
	return nil, nil
}

// CancelActive marks the run's active session cancelled, if there is one.
func (s *Store) CancelActive(runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.ActiveForRun(runID)
	if err != nil || sess == nil {
		return err
	}
	_, err = s.update(sess.ID, func(sess *Session) {
		sess.Status = StatusCancelled
	})
	return err
}

// List returns all sessions.
func (s *Store) List() ([]Session, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read dir %s: %w", s.baseDir, err)
	}

	var sessions []Session
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		sess, err := s.Get(strings.TrimSuffix(name, ".json"))
		if err != nil {
			continue // skip broken entries
		}
		sessions = append(sessions, *sess)
	}
	return sessions, nil
}

// SweepExpired marks every active session past its expiry window as expired
// and returns the number swept.
func (s *Store) SweepExpired(window time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, err := s.List()
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	swept := 0
	for _, sess := range sessions {
		if sess.Status != StatusActive || !sess.ExpiredAt(now, window) {
			continue
		}
		if _, err := s.update(sess.ID, func(sess *Session) {
			sess.Status = StatusExpired
		}); err != nil {
			return swept, err
		}
		swept++
	}
	return swept, nil
}
