package hook

import (
	"context"
	"errors"
	"fmt"

	"github.com/gren-lsp/agentlock/internal/cleanup"
	"github.com/gren-lsp/agentlock/internal/log"
)

// PostTool releases the locks the matching PreTool took, recomputing the
// file set from the same payload. A lock that is missing or owned by someone
// else is a warning. Every path is attempted; store errors are returned
// together once all releases and the opportunistic cleanup have run.
func (r *Runner) PostTool(ctx context.Context, p *Payload) error {
	if err := r.validate(); err != nil {
		return err
	}
	paths := r.targets(p)
	if len(paths) == 0 {
		return nil
	}
	session := p.Session()
	if session == "" {
		return fmt.Errorf("post-tool %s: %w", p.ToolName, ErrMissingSession)
	}

	out := r.printer()
	var errs []error
	for _, path := range paths {
		released, err := r.Locks.Release(ctx, path, session)
		if err != nil {
			out.Warn("releasing %s: %v", path, err)
			r.logger().Error("release failed", "session", session, "path", path, "error", err)
			errs = append(errs, err)
			continue
		}
		if !released {
			out.Warn("no lock on %s held by this session", path)
			r.logger().Warn("release skipped", "session", session, "path", path)
			r.record(log.LogEvent{
				Event:     log.EventLockReleaseFailed,
				SessionID: session,
				Tool:      p.ToolName,
				Path:      path,
				Message:   "not held by session",
			})
			continue
		}
		out.Released(path)
		r.record(log.LogEvent{
			Event:     log.EventLockReleased,
			SessionID: session,
			Tool:      p.ToolName,
			Path:      path,
		})
	}

	r.maybeCleanup(ctx, session)
	return errors.Join(errs...)
}

// maybeCleanup reclaims expired locks with probability CleanupProbability.
// It never fails the hook.
func (r *Runner) maybeCleanup(ctx context.Context, session string) {
	var removed int
	ran, err := cleanup.Opportunistic(ctx, r.CleanupProbability, r.Roll, func(ctx context.Context) error {
		n, err := r.Locks.CleanupExpired(ctx)
		removed = n
		return err
	})
	if !ran {
		return
	}
	if err != nil {
		r.logger().Warn("expired lock cleanup failed", "error", err)
		return
	}
	if removed > 0 {
		r.printer().Cleaned(removed)
		r.record(log.LogEvent{
			Event:     log.EventLocksExpired,
			SessionID: session,
			Count:     removed,
		})
	}
}
