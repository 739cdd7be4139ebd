// status.go implements the "agentlock status" command showing locks and agents.
package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/gren-lsp/agentlock/internal/agentstate"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show live locks and agent activity",
	Long: `Display the locks currently held, how many have expired without being
reclaimed, and what each known agent is doing.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	p, err := openCurrentProject()
	if err != nil {
		return err
	}
	defer p.Close()

	locks, err := p.coord.List(cmd.Context())
	if err != nil {
		return err
	}
	agents, err := p.agents.List()
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	now := p.coord.Now()

	live, expired := 0, 0
	for _, l := range locks {
		if l.Expired(now) {
			expired++
		} else {
			live++
		}
	}
	busy := 0
	for _, a := range agents {
		if a.Status == agentstate.StatusBusy {
			busy++
		}
	}

	fmt.Fprintln(w, "agentlock status")
	fmt.Fprintf(w, "Project: %s\n", p.root)
	fmt.Fprintf(w, "Lock TTL: %s\n\n", p.coord.TTL())

	fmt.Fprintf(w, "Locks: %d live", live)
	if expired > 0 {
		fmt.Fprintf(w, ", %d expired (run: agentlock locks cleanup)", expired)
	}
	fmt.Fprintln(w)
	if len(locks) > 0 {
		locksTable(locks, now).Render(w)
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Agents: %d busy, %d idle\n", busy, len(agents)-busy)
	if len(agents) > 0 {
		agentsTable(agents, time.Now()).Render(w)
	}
	return nil
}
