// agents.go implements "agentlock agents" for the agent session registry.
package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/gren-lsp/agentlock/internal/agentstate"
	"github.com/gren-lsp/agentlock/internal/log"
	"github.com/gren-lsp/agentlock/internal/ui"
)

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "Inspect and register agent sessions",
}

var agentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List known agents, most recently active first",
	Args:  cobra.NoArgs,
	RunE:  runAgentsList,
}

var agentsRegisterCmd = &cobra.Command{
	Use:   "register",
	Short: "Create or rename an agent session",
	Long: `Register a session under a display name before its first prompt, so
lock messages name the agent instead of the default. With --task the agent
is also marked busy.`,
	Args: cobra.NoArgs,
	RunE: runAgentsRegister,
}

var (
	registerSessionFlag string
	registerNameFlag    string
	registerTaskFlag    string
)

func init() {
	agentsRegisterCmd.Flags().StringVar(&registerSessionFlag, "session", "", "Session id")
	agentsRegisterCmd.Flags().StringVar(&registerNameFlag, "name", "", "Display name")
	agentsRegisterCmd.Flags().StringVar(&registerTaskFlag, "task", "", "Current task (marks the agent busy)")
	_ = agentsRegisterCmd.MarkFlagRequired("session")
	_ = agentsRegisterCmd.MarkFlagRequired("name")

	agentsCmd.AddCommand(agentsListCmd)
	agentsCmd.AddCommand(agentsRegisterCmd)
}

func runAgentsList(cmd *cobra.Command, args []string) error {
	p, err := openCurrentProject()
	if err != nil {
		return err
	}
	defer p.Close()

	agents, err := p.agents.List()
	if err != nil {
		return err
	}
	if len(agents) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No agents registered.")
		return nil
	}
	agentsTable(agents, time.Now()).Render(cmd.OutOrStdout())
	return nil
}

func agentsTable(agents []agentstate.AgentRecord, now time.Time) ui.Table {
	t := ui.Table{Columns: []string{"NAME", "STATUS", "SESSION", "LAST ACTIVE", "TASK"}}
	for _, a := range agents {
		task := a.CurrentTask
		if len(task) > 60 {
			task = task[:57] + "..."
		}
		t.Rows = append(t.Rows, []string{
			a.Name,
			string(a.Status),
			a.SessionID,
			ui.Ago(a.LastActivity, now),
			task,
		})
	}
	return t
}

func runAgentsRegister(cmd *cobra.Command, args []string) error {
	p, err := openCurrentProject()
	if err != nil {
		return err
	}
	defer p.Close()

	now := time.Now()
	var rec *agentstate.AgentRecord
	if registerTaskFlag != "" {
		rec, err = p.agents.StartTask(registerSessionFlag, registerNameFlag, registerTaskFlag, now)
	} else {
		rec, err = p.agents.Register(registerSessionFlag, registerNameFlag, now)
	}
	if err != nil {
		return err
	}

	if registerTaskFlag != "" {
		if err := p.journal.Append(log.LogEvent{
			Event:     log.EventTaskStarted,
			SessionID: rec.SessionID,
			Agent:     rec.Name,
			Task:      rec.CurrentTask,
		}); err != nil {
			p.logger.Warn("journal append failed", "error", err)
		}
	}

	ui.NewPrinter(cmd.OutOrStdout(), cmd.ErrOrStderr()).Success("Registered %s as %s (%s)", rec.SessionID, rec.Name, rec.Status)
	return nil
}
