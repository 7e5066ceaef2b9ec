package main

import (
	"github.com/spf13/cobra"
)

// Global flags.
var (
	verbose bool
	output  string
)

// Output format constants.
const (
	jsonFormat = "json"
	textFormat = "text"
)

// rootCmd is the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "cascade",
	Short: "A minimalist workflow orchestration engine",
	Long: `Cascade runs workflow graphs of small nodes connected by named actions.

Flows are defined in YAML or in Go, share state through scoped memory,
and branch, loop, and fan out by triggering actions.`,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", textFormat, "Output format (text, json)")

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}
