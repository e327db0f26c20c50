package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var newCmd = &cobra.Command{
	Use:   "new <project>",
	Short: "Create (or open) a project directory",
	Args:  cobra.ExactArgs(1),
	RunE:  runNew,
}

func init() {
	rootCmd.AddCommand(newCmd)
}

func runNew(cmd *cobra.Command, args []string) error {
	p, err := openProject(args[0])
	if err != nil {
		return fmt.Errorf("create project: %w", err)
	}
	defer p.Close()

	fmt.Printf("project %q ready at %s (backend %s)\n", p.Name(), p.Directory(), p.Property("backend"))
	return nil
}
