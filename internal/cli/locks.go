// locks.go implements "agentlock locks" for inspecting and managing file locks.
package cli

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/gren-lsp/agentlock/internal/coordinator"
	"github.com/gren-lsp/agentlock/internal/log"
	"github.com/gren-lsp/agentlock/internal/toolpaths"
	"github.com/gren-lsp/agentlock/internal/ui"
)

var locksCmd = &cobra.Command{
	Use:   "locks",
	Short: "Inspect and manage file locks",
}

var locksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every lock, including expired ones not yet reclaimed",
	Args:  cobra.NoArgs,
	RunE:  runLocksList,
}

var locksReleaseCmd = &cobra.Command{
	Use:   "release [path]",
	Short: "Release a lock held by a session",
	Long: `Release the lock on path held by --session, or every lock the session
holds with --all. Use this to clear locks left by an agent that was stopped
before its post-tool hook ran.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLocksRelease,
}

var locksCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove expired locks now",
	Args:  cobra.NoArgs,
	RunE:  runLocksCleanup,
}

var (
	releaseSessionFlag string
	releaseAllFlag     bool
)

func init() {
	locksReleaseCmd.Flags().StringVar(&releaseSessionFlag, "session", "", "Session that holds the lock")
	locksReleaseCmd.Flags().BoolVar(&releaseAllFlag, "all", false, "Release every lock held by the session")
	_ = locksReleaseCmd.MarkFlagRequired("session")

	locksCmd.AddCommand(locksListCmd)
	locksCmd.AddCommand(locksReleaseCmd)
	locksCmd.AddCommand(locksCleanupCmd)
}

func openCurrentProject() (*project, error) {
	root, err := resolveRoot("")
	if err != nil {
		return nil, err
	}
	return openProject(root)
}

func runLocksList(cmd *cobra.Command, args []string) error {
	p, err := openCurrentProject()
	if err != nil {
		return err
	}
	defer p.Close()

	locks, err := p.coord.List(cmd.Context())
	if err != nil {
		return err
	}
	if len(locks) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No locks held.")
		return nil
	}
	locksTable(locks, p.coord.Now()).Render(cmd.OutOrStdout())
	return nil
}

func locksTable(locks []coordinator.FileLock, now time.Time) ui.Table {
	t := ui.Table{Columns: []string{"PATH", "AGENT", "SESSION", "ACQUIRED", "EXPIRES"}}
	for _, l := range locks {
		expires := ui.Ago(l.ExpiresAt, now)
		if l.Expired(now) {
			expires = "expired " + expires
		}
		t.Rows = append(t.Rows, []string{
			l.Path,
			l.AgentName,
			l.SessionID,
			ui.Ago(l.AcquiredAt, now),
			expires,
		})
	}
	return t
}

func runLocksRelease(cmd *cobra.Command, args []string) error {
	if releaseAllFlag == (len(args) == 1) {
		return errors.New("give either a path or --all")
	}

	p, err := openCurrentProject()
	if err != nil {
		return err
	}
	defer p.Close()

	out := ui.NewPrinter(cmd.OutOrStdout(), cmd.ErrOrStderr())
	ctx := cmd.Context()

	if releaseAllFlag {
		paths, err := p.coord.ReleaseSession(ctx, releaseSessionFlag)
		if err != nil {
			return err
		}
		for _, path := range paths {
			out.Released(path)
			recordRelease(p, path)
		}
		out.Success("Released %d lock(s) held by %s", len(paths), releaseSessionFlag)
		return nil
	}

	wd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting working directory: %w", err)
	}
	path := toolpaths.Canonical(args[0], wd)
	released, err := p.coord.Release(ctx, path, releaseSessionFlag)
	if err != nil {
		return err
	}
	if !released {
		return fmt.Errorf("%s is not locked by session %s", path, releaseSessionFlag)
	}
	out.Released(path)
	recordRelease(p, path)
	return nil
}

func recordRelease(p *project, path string) {
	err := p.journal.Append(log.LogEvent{
		Event:     log.EventLockReleased,
		SessionID: releaseSessionFlag,
		Path:      path,
		Message:   "released from the command line",
	})
	if err != nil {
		p.logger.Warn("journal append failed", "error", err)
	}
}

func runLocksCleanup(cmd *cobra.Command, args []string) error {
	p, err := openCurrentProject()
	if err != nil {
		return err
	}
	defer p.Close()

	removed, err := p.coord.CleanupExpired(cmd.Context())
	if err != nil {
		return err
	}
	out := ui.NewPrinter(cmd.OutOrStdout(), cmd.ErrOrStderr())
	if removed == 0 {
		out.Success("No expired locks")
		return nil
	}
	out.Cleaned(removed)
	if err := p.journal.Append(log.LogEvent{Event: log.EventLocksExpired, Count: removed}); err != nil {
		p.logger.Warn("journal append failed", "error", err)
	}
	return nil
}
