// Package cmd implements the bitk-engine CLI, grounded on the teacher's
// own cobra root command: a persistent --config flag, env/file layered
// configuration via internal/config, and subcommands that replace the
// teacher's TUI launch with the headless engine's daemon and admin
// operations.
package cmd

import (
	"github.com/spf13/cobra"
)

var (
	version = "dev"
	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:     "bitk-engine",
	Short:   "Issue Execution Engine: supervises AI coding CLIs against tracked issues",
	Long:    `bitk-engine spawns and supervises external AI coding CLI subprocesses on behalf of tracked issues, normalizes their output into a uniform log stream, and exposes live updates over an HTTP/SSE boundary.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: ~/.config/bitk/config.yaml)")

	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(dbResetCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the version string (called from main with ldflags).
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}
