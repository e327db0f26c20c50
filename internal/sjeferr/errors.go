// Package sjeferr defines the error taxonomy shared across sjef's
// subsystems. Each kind is a distinct sentinel or typed error so callers can
// distinguish them with errors.Is/errors.As instead of matching strings.
package sjeferr

import "fmt"

// Sentinel kinds that carry no payload beyond a message.
var (
	// ErrConfig covers an unknown project suffix, an invalid backend key,
	// a malformed backend file, or an invalid run-command template.
	ErrConfig = sentinel("config error")

	// ErrLockIO is returned when a lock file cannot be created or opened.
	ErrLockIO = sentinel("lock i/o error")

	// ErrPropertyStore covers property-file load failure or an
	// unrecoverable writer collision.
	ErrPropertyStore = sentinel("property store error")

	// ErrTransfer is returned when an archive-sync invocation reports an
	// error marker in its stderr.
	ErrTransfer = sentinel("transfer error")

	// ErrUnsupported is returned for operations with no implementation on
	// the current platform (e.g. async local execution without nohup).
	ErrUnsupported = sentinel("unsupported operation")

	// ErrNotFound covers a missing project or a backend unknown by name.
	ErrNotFound = sentinel("not found")

	// ErrInterrupted is a caller-observable cancellation, e.g. a poll task
	// torn down mid-cycle.
	ErrInterrupted = sentinel("interrupted")

	// ErrEnvironmentUnset is returned by path expansion when a referenced
	// environment variable is unbound and has no documented default.
	ErrEnvironmentUnset = sentinel("environment variable unset")
)

type sentinelError string

func sentinel(msg string) error { return sentinelError(msg) }

func (e sentinelError) Error() string { return string(e) }

// ShellExecError is returned by a synchronous shell command that exits
// non-zero. It carries enough context for a caller to report what ran,
// where, and what both output streams contained.
type ShellExecError struct {
	Host     string
	Command  string
	ExitCode int
	Stdout   string
	Stderr   string
}

func (e *ShellExecError) Error() string {
	host := e.Host
	if host == "" {
		host = "localhost"
	}
	return fmt.Sprintf("command failed on %s with exit code %d: %s", host, e.ExitCode, e.Command)
}

// Wrap annotates err with a message while preserving its Is/As chain via
// fmt.Errorf's %w verb, matching the plain wrapping style used throughout
// this module's call sites.
func Wrap(kind error, msg string, err error) error {
	if err == nil {
		return fmt.Errorf("%s: %w", msg, kind)
	}
	return fmt.Errorf("%s: %w: %w", msg, kind, err)
}
