// clean.go implements the "agentlock clean" command for pruning stale state.
package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/gren-lsp/agentlock/internal/cleanup"
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Prune stale agent records and old journal events",
	Long: `Remove idle agent records that have not been active for a while, and
optionally trim the event journal.

By default, removes idle agents older than the configured retention_days
(default 30). Busy agents are never pruned. Use --keep-events to keep only
the N most recent journal events. Use --dry-run to preview what would be
removed.`,
	Args: cobra.NoArgs,
	RunE: runClean,
}

var (
	maxAgeFlag     int
	keepEventsFlag int
	dryRunFlag     bool
)

func init() {
	cleanCmd.Flags().IntVar(&maxAgeFlag, "max-age-days", 0, "Prune idle agents inactive this many days (0 = use config)")
	cleanCmd.Flags().IntVar(&keepEventsFlag, "keep-events", 0, "Keep only the last N journal events (0 = keep all)")
	cleanCmd.Flags().BoolVar(&dryRunFlag, "dry-run", false, "Preview what would be removed without deleting")
}

func runClean(cmd *cobra.Command, args []string) error {
	p, err := openCurrentProject()
	if err != nil {
		return err
	}
	defer p.Close()

	w := cmd.OutOrStdout()
	maxAge := maxAgeFlag
	if maxAge <= 0 {
		maxAge = p.cfg.Agents.RetentionDays
	}

	pruned, err := cleanup.PruneAgents(p.agents, maxAge, dryRunFlag, time.Now())
	if err != nil {
		return fmt.Errorf("cleanup failed: %w", err)
	}

	verb := "Removed"
	if dryRunFlag {
		verb = "Would remove"
	}

	if len(pruned) == 0 {
		fmt.Fprintln(w, "No agents to clean up.")
	} else {
		for _, session := range pruned {
			fmt.Fprintf(w, "  %s agent %s\n", verb, session)
		}
		fmt.Fprintf(w, "%s %d agent record(s).\n", verb, len(pruned))
	}

	if keepEventsFlag > 0 {
		dropped, err := cleanup.TrimJournal(p.journal.Path(), keepEventsFlag, dryRunFlag)
		if err != nil {
			return fmt.Errorf("trimming journal: %w", err)
		}
		fmt.Fprintf(w, "%s %d journal event(s).\n", verb, dropped)
	}

	return nil
}
