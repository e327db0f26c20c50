package commands

import (
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/sjef-go/sjef/pkg/sjef"
	"github.com/sjef-go/sjef/pkg/sjef/hooks"
)

var statusCmd = &cobra.Command{
	Use:   "status <project>",
	Short: "Print the project's current status",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	p, err := openProject(args[0])
	if err != nil {
		return fmt.Errorf("open project: %w", err)
	}
	defer p.Close()

	fmt.Println(formatStatus(p))
	return nil
}

// statusColor maps a status to an ANSI color code, used only when stdout is
// a terminal.
func statusColor(s hooks.Status) string {
	switch s {
	case hooks.StatusCompleted:
		return "32" // green
	case hooks.StatusRunning, hooks.StatusWaiting:
		return "33" // yellow
	case hooks.StatusFailed, hooks.StatusKilled:
		return "31" // red
	default:
		return "37" // white
	}
}

func formatStatus(p *sjef.Project) string {
	msg := p.StatusMessage()
	if !isatty.IsTerminal(os.Stdout.Fd()) {
		return msg
	}
	return "\x1b[" + statusColor(p.Status()) + "m" + msg + "\x1b[0m"
}
