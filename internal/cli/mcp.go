// mcp.go implements "agentlock mcp", a stdio MCP server agents can register
// to look up lock holders.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/gren-lsp/agentlock/internal/coordinator"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve read-only lock lookups over MCP on stdio",
	Long: `Run a Model Context Protocol server on stdin/stdout with the tools
check_lock, list_locks and list_agents. Register it in .mcp.json with
"command": "agentlock", "args": ["mcp"].`,
	Args: cobra.NoArgs,
	RunE: runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	p, err := openCurrentProject()
	if err != nil {
		return err
	}
	defer p.Close()

	m := &coordinator.MCP{Coord: p.coord, Agents: p.agents}
	return m.Serve(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout())
}
