// Package hooks defines the per-suffix customization capability table: the
// seven routines a project suffix (e.g. "molpro") may override to teach the
// core package how to read its own output, rewrite itself after a rename,
// and pick sensible defaults. The core never branches on a suffix string
// outside this table, mirroring how original_source/.../sjef-customization.cpp
// keeps every program-specific special case in one file.
package hooks

import "strings"

// Status is the project/job status enum. It is defined here, rather than in
// internal/job, so that both internal/job and pkg/sjef can depend on hooks
// without hooks needing to depend back on either.
type Status int

const (
	StatusUnknown Status = iota
	StatusRunning
	StatusWaiting
	StatusCompleted
	StatusUnevaluated
	StatusKilled
	StatusFailed
)

// String returns the user-visible status message, not including job number
// or backend (the caller appends those when available).
func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "Running"
	case StatusWaiting:
		return "Waiting"
	case StatusCompleted:
		return "Completed"
	case StatusUnevaluated:
		return "Unevaluated"
	case StatusKilled:
		return "Killed"
	case StatusFailed:
		return "Failed"
	default:
		return "Not found"
	}
}

// Context carries the read-only project facts a hook needs: its suffix, a
// lazy accessor for the cached output XML, a property lookup, and the
// project's filename resolver. Hooks never touch the filesystem or property
// store directly so they stay unit-testable.
type Context struct {
	Suffix   string
	XML      func() (string, error)
	Property func(key string) string
	Filename func(stem, suffix string) (string, error)
}

// Table is the capability table: one function field per hook. Callers
// invoke every field without a nil check; Default returns a Table with
// every field set, and a customization is built from it by replacing the
// fields it changes.
type Table struct {
	// InputFromOutput reconstructs the launch input from a completed run's
	// output, used by run_needed when no run_input_hash was recorded.
	InputFromOutput func(ctx Context) (string, error)

	// StatusFromOutput inspects a completed run's output for a custom
	// terminal status (e.g. an <error> element), falling back to current.
	StatusFromOutput func(ctx Context, current Status) Status

	// ReferencedFileContents expands one input line that references an
	// external file (e.g. "geometry=h2o.xyz") into that file's contents,
	// for input-hash computation. A line with no reference is returned
	// unchanged.
	ReferencedFileContents func(ctx Context, line string) (string, error)

	// RewriteInputFile patches references to oldName inside the input file
	// at path after a rename/move, in place.
	RewriteInputFile func(ctx Context, path, oldName, newName string) error

	// CustomInitialisation runs once at project construction, before the
	// backend registry is loaded.
	CustomInitialisation func(ctx Context) error

	// CustomRunPreface runs immediately before template expansion of the
	// launch command, e.g. to rotate output backups.
	CustomRunPreface func(ctx Context) error

	// DefaultBackend names the backend to select when a project has none
	// recorded yet.
	DefaultBackend func(ctx Context) string
}

// Default returns a Table of generic, suffix-agnostic behaviour: no input
// reconstruction, status passed through unchanged, referenced-file lines
// returned verbatim, no rewriting, no preface work, and "local" as the
// default backend. Per-program customizations (the molpro-specific
// behaviour original_source ships) are out of scope here; callers that need
// one register it by replacing the relevant field.
func Default() Table {
	return Table{
		InputFromOutput: func(Context) (string, error) { return "", nil },
		StatusFromOutput: func(_ Context, current Status) Status {
			return current
		},
		ReferencedFileContents: func(_ Context, line string) (string, error) {
			return line, nil
		},
		RewriteInputFile:     func(Context, string, string, string) error { return nil },
		CustomInitialisation: func(Context) error { return nil },
		CustomRunPreface:     func(Context) error { return nil },
		DefaultBackend:       func(Context) string { return "local" },
	}
}

// Registry looks up a Table by project suffix, falling back to Default()
// for any suffix without a registered customization.
type Registry struct {
	tables map[string]Table
}

// NewRegistry returns a Registry containing only the generic default,
// reachable regardless of suffix.
func NewRegistry() *Registry {
	return &Registry{tables: map[string]Table{}}
}

// Register installs a customization table for suffix, matched
// case-insensitively.
func (r *Registry) Register(suffix string, t Table) {
	r.tables[strings.ToLower(suffix)] = t
}

// For returns the Table registered for suffix, or Default() if none was
// registered.
func (r *Registry) For(suffix string) Table {
	if t, ok := r.tables[strings.ToLower(suffix)]; ok {
		return t
	}
	return Default()
}
