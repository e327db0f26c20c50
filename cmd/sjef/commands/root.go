// Package commands implements the sjef command-line front end: a thin
// demonstration driver over pkg/sjef, covering project creation, launch,
// status, kill and cleanup. It deliberately does not reimplement the
// original's interactive prompt/pager front end.
package commands

import (
	"github.com/spf13/cobra"
)

var (
	suffixFlag  string
	backendFlag string
)

var rootCmd = &cobra.Command{
	Use:   "sjef",
	Short: "Run and track scientific computation jobs",
	Long:  `sjef creates, launches, and tracks job-execution projects against local or remote backends.`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&suffixFlag, "suffix", "s", "", "project suffix, used when the path has no extension")
	rootCmd.PersistentFlags().StringVarP(&backendFlag, "backend", "b", "", "backend name to select on construction")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "enable debug logging")
}
