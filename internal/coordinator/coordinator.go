package coordinator

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/gren-lsp/agentlock/internal/toolpaths"
)

// DefaultTTL is used when no WithTTL option is given.
const DefaultTTL = 10 * time.Minute

// Coordinator implements acquire, release and expiry cleanup on top of a Store.
// "Already locked" and "not owned" are reported through return values; only
// store failures are returned as errors.
type Coordinator struct {
	store   Store
	ttl     time.Duration
	now     func() time.Time
	metrics *Metrics
	root    string
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithTTL sets how long a lock stays live without being re-acquired.
func WithTTL(ttl time.Duration) Option {
	return func(c *Coordinator) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.now = now
	}
}

// WithMetrics records outcomes on m.
func WithMetrics(m *Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// WithRoot resolves relative paths given to Check against root instead of
// the process working directory.
func WithRoot(root string) Option {
	return func(c *Coordinator) {
		c.root = root
	}
}

// New creates a Coordinator backed by store.
func New(store Store, opts ...Option) *Coordinator {
	c := &Coordinator{
		store: store,
		ttl:   DefaultTTL,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TTL returns the configured lock lifetime.
func (c *Coordinator) TTL() time.Duration {
	return c.ttl
}

// Acquire takes the lock on path for sessionID. It succeeds when the path is
// unlocked, when the existing lock has expired, or when sessionID already
// holds it; in the last case the existing row is kept and its expiry pushed
// out. It never waits for another holder.
func (c *Coordinator) Acquire(ctx context.Context, path, sessionID, agentName string) (AcquireResult, error) {
	if path == "" || sessionID == "" {
		return AcquireResult{}, fmt.Errorf("%w: path=%q session=%q", ErrInvalidArgument, path, sessionID)
	}
	path = filepath.Clean(path)

	var res AcquireResult
	err := c.store.Update(ctx, func(tx Tx) error {
		res = AcquireResult{}
		now := c.now()

		existing, err := tx.Get(path)
		if err != nil {
			return err
		}
		if existing != nil && existing.SessionID != sessionID && !existing.Expired(now) {
			held := *existing
			res.Holder = &held
			return nil
		}

		lock := FileLock{
			Path:       path,
			SessionID:  sessionID,
			AgentName:  agentName,
			AcquiredAt: now,
			ExpiresAt:  now.Add(c.ttl),
		}
		if existing != nil && existing.SessionID == sessionID {
			lock.AcquiredAt = existing.AcquiredAt
			if lock.AgentName == "" {
				lock.AgentName = existing.AgentName
			}
			res.Reacquired = true
		}
		if err := tx.Put(lock); err != nil {
			return err
		}
		res.Acquired = true
		res.Lock = lock
		return nil
	})
	if err != nil {
		return AcquireResult{}, fmt.Errorf("acquire lock on %s: %w", path, err)
	}

	c.metrics.observeAcquire(res)
	return res, nil
}

// Release drops the lock on path if sessionID owns it. It returns false when
// the path is unlocked or held by someone else.
func (c *Coordinator) Release(ctx context.Context, path, sessionID string) (bool, error) {
	if path == "" || sessionID == "" {
		return false, fmt.Errorf("%w: path=%q session=%q", ErrInvalidArgument, path, sessionID)
	}
	path = filepath.Clean(path)

	var released bool
	err := c.store.Update(ctx, func(tx Tx) error {
		released = false
		existing, err := tx.Get(path)
		if err != nil {
			return err
		}
		if existing == nil || existing.SessionID != sessionID {
			return nil
		}
		if err := tx.Delete(path); err != nil {
			return err
		}
		released = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("release lock on %s: %w", path, err)
	}

	c.metrics.observeRelease(released)
	return released, nil
}

// CleanupExpired removes every lock whose expiry has passed and returns how
// many were removed.
func (c *Coordinator) CleanupExpired(ctx context.Context) (int, error) {
	var removed int
	err := c.store.Update(ctx, func(tx Tx) error {
		removed = 0
		now := c.now()
		locks, err := tx.List()
		if err != nil {
			return err
		}
		for _, l := range locks {
			if !l.Expired(now) {
				continue
			}
			if err := tx.Delete(l.Path); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("cleanup expired locks: %w", err)
	}

	c.metrics.observeExpired(removed)
	return removed, nil
}

// ReleaseSession drops every lock held by sessionID and returns the released
// paths in order.
func (c *Coordinator) ReleaseSession(ctx context.Context, sessionID string) ([]string, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: empty session", ErrInvalidArgument)
	}

	var released []string
	err := c.store.Update(ctx, func(tx Tx) error {
		released = nil
		locks, err := tx.List()
		if err != nil {
			return err
		}
		for _, l := range locks {
			if l.SessionID != sessionID {
				continue
			}
			if err := tx.Delete(l.Path); err != nil {
				return err
			}
			released = append(released, l.Path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("release locks for session %s: %w", sessionID, err)
	}

	for range released {
		c.metrics.observeRelease(true)
	}
	return released, nil
}

// Check returns the live lock on path, or nil if the path is free. Locks are
// keyed by absolute path, so a relative path is resolved against the root
// first.
func (c *Coordinator) Check(ctx context.Context, path string) (*FileLock, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty path", ErrInvalidArgument)
	}
	path = toolpaths.Canonical(path, c.root)

	var live *FileLock
	err := c.store.View(ctx, func(tx Tx) error {
		live = nil
		existing, err := tx.Get(path)
		if err != nil {
			return err
		}
		if existing != nil && !existing.Expired(c.now()) {
			live = existing
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("check lock on %s: %w", path, err)
	}
	return live, nil
}

// List returns every stored lock, including expired ones not yet cleaned up.
func (c *Coordinator) List(ctx context.Context) ([]FileLock, error) {
	var locks []FileLock
	err := c.store.View(ctx, func(tx Tx) error {
		var err error
		locks, err = tx.List()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list locks: %w", err)
	}
	return locks, nil
}

// Now returns the coordinator's current time.
func (c *Coordinator) Now() time.Time {
	return c.now()
}
