package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var killCmd = &cobra.Command{
	Use:   "kill <project>",
	Short: "Terminate the project's in-flight job, if any",
	Args:  cobra.ExactArgs(1),
	RunE:  runKill,
}

func init() {
	rootCmd.AddCommand(killCmd)
}

func runKill(cmd *cobra.Command, args []string) error {
	p, err := openProject(args[0])
	if err != nil {
		return fmt.Errorf("open project: %w", err)
	}
	defer p.Close()

	if err := p.Kill(context.Background(), 0); err != nil {
		return fmt.Errorf("kill: %w", err)
	}

	fmt.Println(formatStatus(p))
	return nil
}
