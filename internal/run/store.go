package run

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Store manages run state on disk. One directory per run under baseDir,
// with the run record in run.json. Mutations are serialized through the
// store's lock; reads go straight to the atomically written files.
type Store struct {
	mu      sync.Mutex
	baseDir string // defaults to ~/.inkwell/runs
}

// NewStore creates a Store rooted at baseDir.
func NewStore(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

// DefaultStore returns a Store at ~/.inkwell/runs, creating the directory if needed.
func DefaultStore() (*Store, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("get home dir: %w", err)
	}
	dir := filepath.Join(home, ".inkwell", "runs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}
	return &Store{baseDir: dir}, nil
}

// BaseDir returns the store's root directory.
func (s *Store) BaseDir() string {
	return s.baseDir
}

func (s *Store) runDir(id string) string {
	return filepath.Join(s.baseDir, id)
}

func (s *Store) runPath(id string) string {
	return filepath.Join(s.runDir(id), "run.json")
}

// Create persists a new run. The run must not already exist.
func (s *Store) Create(r *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.runDir(r.ID)
	if _, err := os.Stat(dir); err == nil {
		return fmt.Errorf("run %s already exists", r.ID)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	if r.CreatedAt == "" {
		r.CreatedAt = now
	}
	r.UpdatedAt = now

	if err := WriteJSON(s.runPath(r.ID), r); err != nil {
		return fmt.Errorf("write run.json: %w", err)
	}
	return nil
}

// Get reads the run state for an ID.
func (s *Store) Get(id string) (*Run, error) {
	var r Run
	if err := ReadJSON(s.runPath(id), &r); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("run %s not found", id)
		}
		return nil, err
	}
	return &r, nil
}

// Update performs an atomic read-modify-write of the run state and returns
// the updated run. The store lock holds for the whole cycle, so concurrent
// updates cannot lose each other's writes.
func (s *Store) Update(id string, fn func(*Run)) (*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	fn(r)
	r.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	if err := WriteJSON(s.runPath(id), r); err != nil {
		return nil, err
	}
	return r, nil
}

// List returns all runs, optionally filtered by status, newest first.
// Pass "" for statusFilter to return all runs.
func (s *Store) List(statusFilter string) ([]Run, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read dir %s: %w", s.baseDir, err)
	}

	var runs []Run
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		r, err := s.Get(entry.Name())
		if err != nil {
			continue // skip broken entries
		}
		if statusFilter == "" || r.Status == statusFilter {
			runs = append(runs, *r)
		}
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].CreatedAt > runs[j].CreatedAt
	})
	return runs, nil
}

// Delete removes all data for a run.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.runDir(id)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return fmt.Errorf("run %s not found", id)
	}
	return os.RemoveAll(dir)
}
