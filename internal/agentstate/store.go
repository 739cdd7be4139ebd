package agentstate

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// Store reads and writes the agent state document at path. Read-modify-write
// cycles hold an exclusive flock on path + ".lock" so concurrent hook
// processes cannot lose each other's updates; writes go through a temp file
// and rename so readers never see a partial document.
type Store struct {
	path string
	mu   sync.Mutex // flock is per file descriptor, not per goroutine
	lock *flock.Flock
}

// NewStore creates a Store for the document at path. The parent directory is
// created if needed; the document itself is created on first write.
func NewStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create agent state directory: %w", err)
	}
	return &Store{
		path: path,
		lock: flock.New(path + ".lock"),
	}, nil
}

// Path returns the document path.
func (s *Store) Path() string {
	return s.path
}

// Load reads the state document under a shared lock.
// A missing document is an empty state.
func (s *Store) Load() (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.lock.RLock(); err != nil {
		return nil, fmt.Errorf("lock agent state: %w", err)
	}
	defer func() { _ = s.lock.Unlock() }()

	return s.read()
}

// Save replaces the state document under an exclusive lock.
func (s *Store) Save(state *State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("lock agent state: %w", err)
	}
	defer func() { _ = s.lock.Unlock() }()

	return s.write(state)
}

// Update loads the state, applies fn and saves the result, all under one
// exclusive lock. If fn returns an error nothing is written.
func (s *Store) Update(fn func(*State) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("lock agent state: %w", err)
	}
	defer func() { _ = s.lock.Unlock() }()

	state, err := s.read()
	if err != nil {
		return err
	}
	if err := fn(state); err != nil {
		return err
	}
	return s.write(state)
}

// Get returns the record for sessionID or ErrUnknownSession.
func (s *Store) Get(sessionID string) (*AgentRecord, error) {
	state, err := s.Load()
	if err != nil {
		return nil, err
	}
	i := state.find(sessionID)
	if i < 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}
	rec := state.Agents[i]
	return &rec, nil
}

// List returns every record, most recently active first.
func (s *Store) List() ([]AgentRecord, error) {
	state, err := s.Load()
	if err != nil {
		return nil, err
	}
	agents := make([]AgentRecord, len(state.Agents))
	copy(agents, state.Agents)
	sort.SliceStable(agents, func(i, j int) bool {
		return agents[i].LastActivity.After(agents[j].LastActivity)
	})
	return agents, nil
}

// AgentName returns the display name for sessionID, or fallback when the
// session has no record or an empty name.
func (s *Store) AgentName(sessionID, fallback string) (string, error) {
	rec, err := s.Get(sessionID)
	if err != nil {
		if errors.Is(err, ErrUnknownSession) {
			return fallback, nil
		}
		return "", err
	}
	if rec.Name == "" {
		return fallback, nil
	}
	return rec.Name, nil
}

// StartTask marks sessionID busy with task, creating the record if needed.
// An empty name keeps the existing one.
func (s *Store) StartTask(sessionID, name, task string, now time.Time) (*AgentRecord, error) {
	if sessionID == "" {
		return nil, errors.New("start task: empty session id")
	}

	var out AgentRecord
	err := s.Update(func(state *State) error {
		i := state.find(sessionID)
		if i < 0 {
			state.Agents = append(state.Agents, AgentRecord{SessionID: sessionID})
			i = len(state.Agents) - 1
		}
		rec := &state.Agents[i]
		if name != "" {
			rec.Name = name
		}
		rec.Status = StatusBusy
		rec.CurrentTask = task
		rec.LastActivity = now
		out = *rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Register sets the display name of sessionID without touching its status
// or task. A new record starts idle.
func (s *Store) Register(sessionID, name string, now time.Time) (*AgentRecord, error) {
	if sessionID == "" || name == "" {
		return nil, errors.New("register agent: session id and name are required")
	}

	var out AgentRecord
	err := s.Update(func(state *State) error {
		i := state.find(sessionID)
		if i < 0 {
			state.Agents = append(state.Agents, AgentRecord{SessionID: sessionID, Status: StatusIdle})
			i = len(state.Agents) - 1
		}
		rec := &state.Agents[i]
		rec.Name = name
		rec.LastActivity = now
		out = *rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Complete marks sessionID idle and stamps its activity time. CurrentTask is
// left untouched. An unknown session returns ErrUnknownSession and writes
// nothing.
func (s *Store) Complete(sessionID string, now time.Time) (*AgentRecord, error) {
	var out AgentRecord
	err := s.Update(func(state *State) error {
		i := state.find(sessionID)
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
		}
		rec := &state.Agents[i]
		rec.Status = StatusIdle
		rec.LastActivity = now
		out = *rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Prune removes idle records last active before cutoff and returns their
// session ids. With dryRun the document is left unchanged.
func (s *Store) Prune(cutoff time.Time, dryRun bool) ([]string, error) {
	var pruned []string
	errDryRun := errors.New("dry run")

	err := s.Update(func(state *State) error {
		kept := state.Agents[:0]
		for _, rec := range state.Agents {
			if rec.Status == StatusIdle && rec.LastActivity.Before(cutoff) {
				pruned = append(pruned, rec.SessionID)
				continue
			}
			kept = append(kept, rec)
		}
		if dryRun {
			return errDryRun
		}
		state.Agents = kept
		return nil
	})
	if err != nil && !errors.Is(err, errDryRun) {
		return nil, err
	}
	return pruned, nil
}

func (s *Store) read() (*State, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &State{}, nil
		}
		return nil, fmt.Errorf("read agent state: %w", err)
	}
	if len(data) == 0 {
		return &State{}, nil
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parse agent state: %w", err)
	}
	return &state, nil
}

func (s *Store) write(state *State) error {
	if state.Agents == nil {
		state.Agents = []AgentRecord{}
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal agent state: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp agent state: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write agent state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync agent state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close agent state: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("replace agent state: %w", err)
	}
	return nil
}
