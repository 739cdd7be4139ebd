// Package cli defines Cobra command definitions for the agentlock CLI.
// This file contains the root command, global flags and exit handling.
package cli

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/gren-lsp/agentlock/internal/ui"
)

var (
	dirFlag string
	verbose bool
	version = "dev" // set via ldflags at build time
)

var rootCmd = &cobra.Command{
	Use:   "agentlock",
	Short: "File locks and session tracking for concurrent Claude Code agents",
	Long: `agentlock keeps several Claude Code agents from editing the same file at
once. Its hooks lock files before a tool runs and release them afterwards,
track which agent is working on what, and tell the orchestrator when an
agent finishes.`,
	Version:       version,
	SilenceErrors: true,
	SilenceUsage:  true,
}

// exitError carries a process exit code. The message has already been shown
// to the user when silent is set.
type exitError struct {
	code   int
	err    error
	silent bool
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

// Execute runs the root command. Called from main.
func Execute() {
	err := rootCmd.Execute()
	if err == nil {
		return
	}

	code := 1
	var exitErr *exitError
	if errors.As(err, &exitErr) {
		code = exitErr.code
		if exitErr.silent {
			os.Exit(code)
		}
	}
	ui.Stdio().Failure("%v", err)
	os.Exit(code)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dirFlag, "dir", "", "Project root (default: hook payload cwd, then the working directory)")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Mirror diagnostic logs to stderr")

	rootCmd.AddCommand(hookCmd)
	rootCmd.AddCommand(locksCmd)
	rootCmd.AddCommand(agentsCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(cleanCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(mcpCmd)
}
