package hook

import (
	"context"
	"fmt"

	"github.com/gren-lsp/agentlock/internal/log"
)

// PreTool acquires a lock on every file the tool will touch, in argument
// order, stopping at the first file held by another session. On any failure
// the locks taken so far in this call are released before returning, so the
// session never keeps part of the set. A blocked call returns a
// *BlockedError.
func (r *Runner) PreTool(ctx context.Context, p *Payload) error {
	if err := r.validate(); err != nil {
		return err
	}
	paths := r.targets(p)
	if len(paths) == 0 {
		return nil
	}
	session := p.Session()
	if session == "" {
		return fmt.Errorf("pre-tool %s: %w", p.ToolName, ErrMissingSession)
	}

	agent, err := r.agentName(p)
	if err != nil {
		return err
	}

	out := r.printer()
	var held []string
	for _, path := range paths {
		res, err := r.Locks.Acquire(ctx, path, session, agent)
		if err != nil {
			r.rollback(ctx, p, held)
			return err
		}
		if !res.Acquired {
			r.rollback(ctx, p, held)

			blocked := &BlockedError{Path: path}
			if res.Holder != nil {
				blocked.HeldBy = res.Holder.SessionID
				blocked.AgentName = res.Holder.AgentName
			}
			out.Blocked(path, blocked.holder())
			r.record(log.LogEvent{
				Event:     log.EventLockBlocked,
				SessionID: session,
				Agent:     agent,
				Tool:      p.ToolName,
				Path:      path,
				HeldBy:    blocked.HeldBy,
			})
			r.logger().Info("tool blocked", "session", session, "tool", p.ToolName, "path", path, "held_by", blocked.HeldBy)
			return blocked
		}

		held = append(held, res.Lock.Path)
		out.Locked(res.Lock.Path)
		r.record(log.LogEvent{
			Event:     log.EventLockAcquired,
			SessionID: session,
			Agent:     agent,
			Tool:      p.ToolName,
			Path:      res.Lock.Path,
		})
	}

	r.logger().Debug("locks acquired", "session", session, "tool", p.ToolName, "count", len(held))
	return nil
}

// rollback releases held in reverse order. Failures are logged; the caller
// is already on an error path.
func (r *Runner) rollback(ctx context.Context, p *Payload, held []string) {
	session := p.Session()
	for i := len(held) - 1; i >= 0; i-- {
		path := held[i]
		released, err := r.Locks.Release(ctx, path, session)
		switch {
		case err != nil:
			r.logger().Error("rollback release failed", "session", session, "path", path, "error", err)
			r.printer().Warn("could not roll back lock on %s: %v", path, err)
		case !released:
			r.logger().Warn("rollback found lock already gone", "session", session, "path", path)
		default:
			r.record(log.LogEvent{
				Event:     log.EventLockRollback,
				SessionID: session,
				Tool:      p.ToolName,
				Path:      path,
			})
		}
	}
}
