// watch.go implements "agentlock watch", the live lock dashboard.
package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/gren-lsp/agentlock/internal/tui"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch locks and agents live",
	Long: `Show a dashboard of held locks and agent activity that refreshes on an
interval. Without a terminal a single snapshot is printed.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

var watchIntervalFlag time.Duration

func init() {
	watchCmd.Flags().DurationVar(&watchIntervalFlag, "interval", time.Second, "Refresh interval")
}

func runWatch(cmd *cobra.Command, args []string) error {
	p, err := openCurrentProject()
	if err != nil {
		return err
	}
	defer p.Close()

	return tui.Run(cmd.Context(), p.snapshot, watchIntervalFlag, cmd.InOrStdin(), cmd.OutOrStdout())
}

// snapshot reads the current locks and agents for the dashboard.
func (p *project) snapshot(ctx context.Context) (tui.Snapshot, error) {
	locks, err := p.coord.List(ctx)
	if err != nil {
		return tui.Snapshot{}, err
	}
	agents, err := p.agents.List()
	if err != nil {
		return tui.Snapshot{}, err
	}

	now := p.coord.Now()
	snap := tui.Snapshot{
		Project: p.root,
		Locks:   locksTable(locks, now),
		Agents:  agentsTable(agents, time.Now()),
	}
	for _, l := range locks {
		if l.Expired(now) {
			snap.Expired++
		}
	}
	return snap, nil
}
