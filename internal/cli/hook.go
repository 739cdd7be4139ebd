// hook.go implements "agentlock hook <event>", the entry point Claude Code
// runs around tool calls and agent lifecycle events.
package cli

import (
	"context"
	"errors"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/gren-lsp/agentlock/internal/hook"
	"github.com/gren-lsp/agentlock/internal/ui"
)

var hookCmd = &cobra.Command{
	Use:   "hook <pre-tool|post-tool|task-start|agent-complete>",
	Short: "Run a Claude Code hook",
	Long: `Read one hook payload as JSON on stdin and run the named hook.

  pre-tool        lock every file the tool will touch, or block the call
  post-tool       release the tool's locks and reclaim expired ones
  task-start      mark the session's agent busy with the submitted prompt
  agent-complete  mark the agent idle and notify the orchestrator

Exit status is 0 when the tool may proceed and 1 when it is blocked or the
hook failed.`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"pre-tool", "post-tool", "task-start", "agent-complete"},
	RunE:      runHook,
}

var hookTimeout time.Duration

func init() {
	hookCmd.Flags().DurationVar(&hookTimeout, "timeout", 30*time.Second, "Abort the hook after this long")
}

func runHook(cmd *cobra.Command, args []string) error {
	event := hook.Event(args[0])
	if !knownEvent(event) {
		return &exitError{code: 1, err: errors.New("unknown hook " + args[0])}
	}
	out := ui.NewPrinter(cmd.OutOrStdout(), cmd.ErrOrStderr())
	stdin := cmd.InOrStdin()
	if stdin == io.Reader(os.Stdin) && !stdinIsPiped() {
		out.Failure("agentlock hook %s expects a JSON payload on stdin", event)
		return &exitError{code: 1, err: errors.New("no payload on stdin"), silent: true}
	}
	return runHookWith(cmd.Context(), event, stdin, out)
}

func knownEvent(event hook.Event) bool {
	for _, e := range hook.Events {
		if e == event {
			return true
		}
	}
	return false
}

// runHookWith is the single error boundary for a hook invocation. Every
// failure becomes exit status 1 with the reason printed once.
func runHookWith(ctx context.Context, event hook.Event, stdin io.Reader, out *ui.Printer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, hookTimeout)
	defer cancel()

	fail := func(err error) error {
		out.Failure("agentlock %s: %v", event, err)
		return &exitError{code: 1, err: err, silent: true}
	}

	payload, err := hook.ParsePayload(stdin)
	if err != nil {
		return fail(err)
	}

	root, err := resolveRoot(payload.Cwd)
	if err != nil {
		return fail(err)
	}
	p, err := openProject(root)
	if err != nil {
		return fail(err)
	}
	defer p.Close()

	runner, err := p.hookRunner(out)
	if err != nil {
		return fail(err)
	}

	err = runner.Run(ctx, event, payload)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, hook.ErrBlocked):
		// The blocked line is already on stderr.
		return &exitError{code: 1, err: err, silent: true}
	default:
		p.logger.Error("hook failed", "event", string(event), "session", payload.Session(), "error", err)
		return fail(err)
	}
}

// stdinIsPiped reports whether stdin is not a terminal.
func stdinIsPiped() bool {
	return !ui.IsTerminal(os.Stdin)
}
