package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// Version information set by ldflags.
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "cascade version %s\n", version)
		if version != "dev" {
			fmt.Fprintf(cmd.OutOrStdout(), "  commit:     %s\n", commit)
			fmt.Fprintf(cmd.OutOrStdout(), "  built:      %s\n", buildDate)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "  go version: %s\n", runtime.Version())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
