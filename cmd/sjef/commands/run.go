package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	runForce   bool
	runWait    bool
	runOptions string
)

var runCmd = &cobra.Command{
	Use:   "run <project>",
	Short: "Launch the project's current backend command",
	Args:  cobra.ExactArgs(1),
	RunE:  runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().BoolVarP(&runForce, "force", "f", false, "run even if run_needed would report false")
	runCmd.Flags().BoolVarP(&runWait, "wait", "w", false, "block until the job reaches a terminal status")
	runCmd.Flags().StringVarP(&runOptions, "options", "o", "", "extra backend command-line options")
}

func runRun(cmd *cobra.Command, args []string) error {
	p, err := openProject(args[0])
	if err != nil {
		return fmt.Errorf("open project: %w", err)
	}
	defer p.Close()

	verbosity := 0
	if debug, _ := cmd.Root().PersistentFlags().GetBool("debug"); debug {
		verbosity = 1
	}

	ran, err := p.Run(context.Background(), verbosity, runForce, runWait, runOptions)
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}
	if !ran {
		fmt.Println("run not needed")
		return nil
	}

	fmt.Println(formatStatus(p))
	return nil
}
