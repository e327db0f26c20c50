package shell

import (
	"os"
	"syscall"
)

// processAlive reports whether pid names a live process. On POSIX systems
// os.FindProcess always succeeds, so liveness is checked by sending the
// null signal.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
