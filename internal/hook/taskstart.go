package hook

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gren-lsp/agentlock/internal/log"
)

// TaskStart records that the session's agent is busy with the submitted
// prompt, creating the agent record on first sight.
func (r *Runner) TaskStart(ctx context.Context, p *Payload) error {
	session := p.Session()
	if session == "" {
		return fmt.Errorf("task-start: %w", ErrMissingSession)
	}
	if r.Agents == nil {
		return errors.New("hook runner has no agent store")
	}

	name := p.AgentName
	if name == "" {
		existing, err := r.Agents.AgentName(session, "")
		if err != nil {
			return fmt.Errorf("resolving agent name: %w", err)
		}
		if existing == "" {
			name = GeneratedName(session)
		}
	}

	task := strings.TrimSpace(p.Prompt)
	rec, err := r.Agents.StartTask(session, name, task, r.now())
	if err != nil {
		return fmt.Errorf("starting task: %w", err)
	}

	r.record(log.LogEvent{
		Event:     log.EventTaskStarted,
		SessionID: session,
		Agent:     rec.Name,
		Task:      task,
	})
	r.logger().Info("task started", "session", session, "agent", rec.Name)
	return nil
}

// GeneratedName derives a display name from a session id.
func GeneratedName(session string) string {
	if len(session) > 8 {
		session = session[:8]
	}
	return "agent-" + session
}
