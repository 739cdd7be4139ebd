// init.go implements the "agentlock init" command.
package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/gren-lsp/agentlock/internal/agentdoc"
	"github.com/gren-lsp/agentlock/internal/config"
	"github.com/gren-lsp/agentlock/internal/ui"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize agentlock in the current project",
	Long: `Create .agentlock/ with a default config.yaml, add a coordination section
to CLAUDE.md, and print the Claude Code hook settings that run agentlock
around file tools.`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

var (
	forceFlag         bool
	skipClaudeMDFlag  bool
	writeSettingsFlag bool
	binaryFlag        string
)

func init() {
	initCmd.Flags().BoolVar(&forceFlag, "force", false, "Overwrite an existing config.yaml")
	initCmd.Flags().BoolVar(&skipClaudeMDFlag, "no-claude-md", false, "Do not touch CLAUDE.md")
	initCmd.Flags().BoolVar(&writeSettingsFlag, "write-settings", false, "Write .claude/settings.json if it does not exist")
	initCmd.Flags().StringVar(&binaryFlag, "binary", "agentlock", "Command the hooks should run")
}

const stateGitignore = "*\n!.gitignore\n!config.yaml\n"

func runInit(cmd *cobra.Command, args []string) error {
	dir := dirFlag
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("getting working directory: %w", err)
		}
		dir = wd
	}

	out := ui.NewPrinter(cmd.OutOrStdout(), cmd.ErrOrStderr())
	w := cmd.OutOrStdout()

	cfg, err := config.ReadConfig(dir)
	switch {
	case err == nil && !forceFlag:
		out.Warn("%s/config.yaml already exists, keeping it (use --force to overwrite)", config.Dir)
	case err != nil && !errors.Is(err, os.ErrNotExist) && !forceFlag:
		return err
	default:
		cfg = config.DefaultConfig()
		if err := config.WriteConfig(dir, cfg); err != nil {
			return err
		}
		out.Success("Wrote %s/config.yaml", config.Dir)
	}

	ignorePath := filepath.Join(dir, config.Dir, ".gitignore")
	if _, err := os.Stat(ignorePath); errors.Is(err, os.ErrNotExist) {
		if err := os.WriteFile(ignorePath, []byte(stateGitignore), 0644); err != nil {
			return fmt.Errorf("writing %s: %w", ignorePath, err)
		}
	}

	if !skipClaudeMDFlag {
		if err := agentdoc.WriteCLAUDEMD(dir, agentdoc.Coordination(cfg, nil)); err != nil {
			return err
		}
		out.Success("Added the coordination section to CLAUDE.md")
	}

	settings, err := agentdoc.ClaudeSettings(binaryFlag, cfg.ToolSets())
	if err != nil {
		return err
	}

	if writeSettingsFlag {
		path := filepath.Join(dir, ".claude", "settings.json")
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists; merge the hooks printed by 'agentlock init' by hand", path)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return fmt.Errorf("creating .claude directory: %w", err)
		}
		if err := os.WriteFile(path, []byte(settings), 0644); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
		out.Success("Wrote .claude/settings.json")
		return nil
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Add these hooks to .claude/settings.json:")
	fmt.Fprintln(w)
	fmt.Fprint(w, settings)
	return nil
}
