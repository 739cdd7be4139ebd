// Package hook implements the agentlock hook handlers invoked by the host
// around tool calls and agent lifecycle events. Each handler is a single pass
// over one payload; the caller maps a nil error to exit code 0 and any error
// to exit code 1.
package hook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gren-lsp/agentlock/internal/agentstate"
	"github.com/gren-lsp/agentlock/internal/cleanup"
	"github.com/gren-lsp/agentlock/internal/coordinator"
	"github.com/gren-lsp/agentlock/internal/history"
	"github.com/gren-lsp/agentlock/internal/log"
	"github.com/gren-lsp/agentlock/internal/notify"
	"github.com/gren-lsp/agentlock/internal/toolpaths"
	"github.com/gren-lsp/agentlock/internal/ui"
)

var (
	// ErrBlocked is matched by the error PreTool returns when another
	// session holds one of the requested files.
	ErrBlocked = errors.New("file locked by another agent")

	// ErrMissingSession is returned when a payload that needs a session id
	// has none.
	ErrMissingSession = errors.New("payload has no session_id")
)

// BlockedError names the file and holder that stopped a pre-tool hook.
type BlockedError struct {
	Path      string
	HeldBy    string
	AgentName string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("%s is locked by %s", e.Path, e.holder())
}

func (e *BlockedError) Unwrap() error { return ErrBlocked }

func (e *BlockedError) holder() string {
	if e.AgentName != "" {
		return fmt.Sprintf("%s (session %s)", e.AgentName, e.HeldBy)
	}
	return "session " + e.HeldBy
}

// Runner carries the stores and collaborators shared by every hook.
type Runner struct {
	Locks   *coordinator.Coordinator
	Agents  *agentstate.Store
	Journal *log.Logger // optional
	Logger  *slog.Logger
	Out     *ui.Printer

	Tools            toolpaths.Sets
	Registry         *toolpaths.Registry // nil uses the built-in tools
	DefaultAgentName string

	// CleanupProbability is the chance a post-tool hook also reclaims
	// expired locks. Roll supplies the draw.
	CleanupProbability float64
	Roll               cleanup.Roll

	HistoryLimit int
	// History builds the excerpt source for a completion payload. Nil uses
	// the transcript, then the journal.
	History  func(p *Payload) history.Provider
	Notifier notify.Notifier

	Now func() time.Time
}

func (r *Runner) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return log.Discard()
}

func (r *Runner) printer() *ui.Printer {
	if r.Out != nil {
		return r.Out
	}
	return ui.NewPrinter(nil, nil)
}

// record appends to the journal. Journal failures are diagnostic only.
func (r *Runner) record(event log.LogEvent) {
	if r.Journal == nil {
		return
	}
	if event.Time.IsZero() {
		event.Time = r.now().UTC()
	}
	if err := r.Journal.Append(event); err != nil {
		r.logger().Warn("journal append failed", "event", event.Event, "error", err)
	}
}

// agentName resolves the display name for p's session: the agent record,
// then the payload's agent_name, then the configured default.
func (r *Runner) agentName(p *Payload) (string, error) {
	fallback := p.AgentName
	if fallback == "" {
		fallback = r.DefaultAgentName
	}
	if r.Agents == nil {
		return fallback, nil
	}
	name, err := r.Agents.AgentName(p.Session(), fallback)
	if err != nil {
		return "", fmt.Errorf("resolving agent name: %w", err)
	}
	return name, nil
}

func (r *Runner) historyProvider(p *Payload) history.Provider {
	if r.History != nil {
		return r.History(p)
	}
	return history.Chain{
		history.TranscriptProvider{Path: p.TranscriptPath},
		history.JournalProvider{Journal: r.Journal},
	}
}

// targets returns the canonical files p's tool touches, or nil when the
// tool does not take part in locking.
func (r *Runner) targets(p *Payload) []string {
	if p.ToolName == "" {
		r.logger().Debug("no tool name in payload")
		return nil
	}
	kind := r.Tools.Classify(p.ToolName)
	if kind == toolpaths.KindNone {
		r.logger().Debug("tool does not touch files", "tool", p.ToolName)
		return nil
	}
	reg := r.Registry
	if reg == nil {
		reg = toolpaths.DefaultRegistry()
	}
	paths := reg.Extract(p.ToolName, p.Arguments(), p.Cwd)
	if len(paths) == 0 {
		r.logger().Debug("no file paths resolved", "tool", p.ToolName, "kind", kind.String())
	}
	return paths
}

func (r *Runner) validate() error {
	if r.Locks == nil {
		return errors.New("hook runner has no lock coordinator")
	}
	return nil
}

// Run dispatches to the handler for event.
func (r *Runner) Run(ctx context.Context, event Event, p *Payload) error {
	switch event {
	case EventPreTool:
		return r.PreTool(ctx, p)
	case EventPostTool:
		return r.PostTool(ctx, p)
	case EventTaskStart:
		return r.TaskStart(ctx, p)
	case EventAgentComplete:
		return r.Complete(ctx, p)
	default:
		return fmt.Errorf("unknown hook event %q", event)
	}
}

// Event names a hook entry point.
type Event string

const (
	EventPreTool       Event = "pre-tool"
	EventPostTool      Event = "post-tool"
	EventTaskStart     Event = "task-start"
	EventAgentComplete Event = "agent-complete"
)

// Events lists every hook in the order they are documented.
var Events = []Event{EventPreTool, EventPostTool, EventTaskStart, EventAgentComplete}
