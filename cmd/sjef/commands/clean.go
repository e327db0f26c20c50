package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var cleanKeep int

var cleanCmd = &cobra.Command{
	Use:   "clean <project>",
	Short: "Delete the oldest run directories beyond the keep count",
	Args:  cobra.ExactArgs(1),
	RunE:  runClean,
}

func init() {
	rootCmd.AddCommand(cleanCmd)
	cleanCmd.Flags().IntVarP(&cleanKeep, "keep", "k", 1, "number of run directories to retain")
}

func runClean(cmd *cobra.Command, args []string) error {
	p, err := openProject(args[0])
	if err != nil {
		return fmt.Errorf("open project: %w", err)
	}
	defer p.Close()

	if err := p.Clean(cleanKeep); err != nil {
		return fmt.Errorf("clean: %w", err)
	}

	fmt.Printf("cleaned %s, keeping %d run directories\n", p.Directory(), cleanKeep)
	return nil
}
