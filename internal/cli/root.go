// Package cli defines the Cobra command tree for the agentk CLI.
// This file contains the root command, global flags and Execute.
package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// exitInterrupted is the status of a run stopped by SIGINT.
const exitInterrupted = 130

// errInterrupted makes Execute exit with exitInterrupted.
var errInterrupted = errors.New("interrupted")

var (
	rootFlag string
	modeFlag string
	version  = "dev" // set via ldflags at build time
)

var rootCmd = &cobra.Command{
	Use:   "agentk",
	Short: "Coordinate a team of LLM coding agents",
	Long: `agentk runs a team of agent CLI processes against a shared task
store. Tasks carry dependencies; ready tasks are handed to their assigned
agent, and each agent records one result. The council command asks several
LLM backends the same question and has a chairman synthesize an answer.`,
	Version:       version,
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the root command. Called from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, errInterrupted) {
			fmt.Fprintln(os.Stderr, "Interrupted.")
			os.Exit(exitInterrupted)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootFlag, "root", "", "Workspace root (default: $AGENTK_ROOT or the current directory)")
	rootCmd.PersistentFlags().StringVar(&modeFlag, "mode", "", "Agent mode: dev or ml (default: from config)")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(taskCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(sessionCmd)
	rootCmd.AddCommand(councilCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(logCmd)
	rootCmd.AddCommand(cleanCmd)
	rootCmd.AddCommand(doctorCmd)
}
