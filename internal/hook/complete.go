package hook

import (
	"context"
	"errors"
	"fmt"

	"github.com/gren-lsp/agentlock/internal/log"
	"github.com/gren-lsp/agentlock/internal/notify"
)

// Complete marks the session's agent idle, keeping its current task, and
// notifies the orchestrator with a history excerpt. Every failure is
// returned, including an unknown session.
func (r *Runner) Complete(ctx context.Context, p *Payload) error {
	session := p.Session()
	if session == "" {
		return fmt.Errorf("agent-complete: %w", ErrMissingSession)
	}
	if r.Agents == nil {
		return errors.New("hook runner has no agent store")
	}
	if r.Notifier == nil {
		return errors.New("hook runner has no orchestrator notifier")
	}

	rec, err := r.Agents.Complete(session, r.now())
	if err != nil {
		return fmt.Errorf("completing agent: %w", err)
	}

	name := rec.Name
	if name == "" {
		name = r.DefaultAgentName
	}

	excerpt, err := r.historyProvider(p).Excerpt(ctx, session, r.HistoryLimit)
	if err != nil {
		return fmt.Errorf("fetching history for %s: %w", session, err)
	}

	message := p.Message
	if message == "" {
		message = completionMessage(name, rec.CurrentTask)
	}

	err = r.Notifier.Notify(ctx, notify.Notification{
		Event:     notify.EventAgentCompleted,
		Message:   message,
		AgentName: name,
		SessionID: session,
		History:   excerpt,
	})
	if err != nil {
		return fmt.Errorf("notifying orchestrator: %w", err)
	}

	r.record(log.LogEvent{
		Event:     log.EventAgentCompleted,
		SessionID: session,
		Agent:     name,
		Task:      rec.CurrentTask,
		Message:   message,
	})
	r.logger().Info("agent completed", "session", session, "agent", name)
	r.printer().Success("%s is idle", name)
	return nil
}

func completionMessage(name, task string) string {
	if task == "" {
		return fmt.Sprintf("Agent %s completed its task", name)
	}
	return fmt.Sprintf("Agent %s completed task: %s", name, task)
}
