// Package coordinator provides session-scoped, non-blocking file locks shared
// by cooperating agent processes. Hooks acquire locks before a tool touches
// a file and release them afterwards; abandoned locks are reclaimed once they
// expire.
package coordinator

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidArgument is returned when a path or session id is empty.
var ErrInvalidArgument = errors.New("invalid lock argument")

// FileLock represents an exclusive lock on a file held by an agent session.
type FileLock struct {
	Path       string    `json:"path"`
	SessionID  string    `json:"session_id"`
	AgentName  string    `json:"agent_name"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Expired reports whether the lock's expiry has passed at now.
func (l FileLock) Expired(now time.Time) bool {
	return now.After(l.ExpiresAt)
}

// AcquireResult is the outcome of an acquire attempt.
// Acquired is false when another session holds a live lock; Holder then
// describes that lock.
type AcquireResult struct {
	Acquired   bool
	Reacquired bool // the session already held the lock
	Lock       FileLock
	Holder     *FileLock
}

// Tx is the transactional view of the lock table handed to Store callbacks.
type Tx interface {
	// Get returns the lock on path, or nil if there is none.
	Get(path string) (*FileLock, error)
	// Put inserts or replaces the lock keyed by lock.Path.
	Put(lock FileLock) error
	// Delete removes the lock on path. Deleting a missing lock is not an error.
	Delete(path string) error
	// List returns every lock ordered by path.
	List() ([]FileLock, error)
}

// Store persists locks. Update must run fn atomically with respect to every
// other Update on the same store, including ones from other processes.
type Store interface {
	Update(ctx context.Context, fn func(Tx) error) error
	View(ctx context.Context, fn func(Tx) error) error
}

// --- Status API types ---

// CheckLockRequest checks whether a file is currently locked.
type CheckLockRequest struct {
	FilePath string `json:"file_path"`
}

// CheckLockResponse returns the lock status for a file.
type CheckLockResponse struct {
	Locked    bool       `json:"locked"`
	HeldBy    string     `json:"held_by,omitempty"`
	AgentName string     `json:"agent_name,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// ListLocksResponse returns every lock in the store.
type ListLocksResponse struct {
	Locks []FileLock `json:"locks"`
}

// AgentStatus is one agent row in the status API.
type AgentStatus struct {
	SessionID    string    `json:"session_id"`
	Name         string    `json:"name"`
	Status       string    `json:"status"`
	CurrentTask  string    `json:"current_task,omitempty"`
	LastActivity time.Time `json:"last_activity"`
}

// ListAgentsResponse returns every known agent.
type ListAgentsResponse struct {
	Agents []AgentStatus `json:"agents"`
}
