package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "swarmgate",
	Short: "Risk-gated agent workflow engine",
	Long: `Swarmgate classifies incoming work requests by risk and complexity,
selects an execution plan, and drives it through a swarm of worker
agents with verification and human confirmation gates.

Core capabilities:
- Classifies requests into risk tiers T0 through T3
- Selects direct, fixed, or phased execution plans
- Runs phase tasks on parallel workers with stall replacement
- Gates irreversible work behind human confirmation
- Persists decisions and workflow history for audit`,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
}
