// Command sjef is a thin CLI front end over pkg/sjef: create, launch, check
// status, kill, and clean up job-execution projects.
package main

import (
	"fmt"
	"os"

	"github.com/sjef-go/sjef/cmd/sjef/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
