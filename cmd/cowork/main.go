package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "cowork",
	Short: "cowork - agent task orchestrator",
	Long: `cowork runs agent tasks against local workspaces. The daemon owns the task
lifecycle, gates risky tool calls behind human approval and suppresses
redundant tool calls. The CLI and TUI talk to it over HTTP.`,
	SilenceUsage: true,
}

var (
	apiAddr    string
	configPath string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&apiAddr, "api", "http://127.0.0.1:7466", "API server address")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ~/.cowork/config.yaml)")

	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(workspaceCmd)
	rootCmd.AddCommand(taskCmd)
	rootCmd.AddCommand(approvalCmd)
	rootCmd.AddCommand(tuiCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
