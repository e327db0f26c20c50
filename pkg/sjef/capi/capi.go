// Package capi is a flat, allocation-explicit mirror of the original
// project's C-ABI surface (original_source/lib/sjef-c.h /
// original_source/lib/sjef-c.cpp): one function per Project operation,
// plain strings/ints/bools in and out, no Go object ever crossing what
// would be the FFI boundary. It exists so a future cgo shim has a faithful,
// already-flattened Go API to wrap rather than pkg/sjef's richer object
// graph. Every exported function here is a thin adapter over a *Project
// looked up (and lazily opened, matching the original's auto-open-on-use
// behaviour) from a process-wide registry keyed by project path.
package capi

import (
	"context"
	"sync"

	"github.com/sjef-go/sjef/internal/backend"
	"github.com/sjef-go/sjef/pkg/sjef"
)

var (
	mu       sync.Mutex
	projects = map[string]*sjef.Project{}
)

// Open registers path as a tracked project, constructing it if necessary.
// It reports false if the path was already open, mirroring sjef_project_open
// rejecting a double-open rather than silently succeeding.
func Open(path string) bool {
	mu.Lock()
	defer mu.Unlock()
	if _, ok := projects[path]; ok {
		return false
	}
	p, err := sjef.New(path, sjef.DefaultOptions())
	if err != nil {
		return false
	}
	projects[path] = p
	return true
}

// Close releases a tracked project and forgets it. A no-op if not open.
func Close(path string) {
	mu.Lock()
	defer mu.Unlock()
	p, ok := projects[path]
	if !ok {
		return
	}
	p.Close()
	delete(projects, path)
}

// lookup returns the tracked project for path, opening it first if needed,
// matching every sjef_project_* function's "if (projects.count == 0)
// sjef_project_open(project)" guard.
func lookup(path string) (*sjef.Project, bool) {
	mu.Lock()
	p, ok := projects[path]
	mu.Unlock()
	if ok {
		return p, true
	}
	if !Open(path) {
		return nil, false
	}
	mu.Lock()
	p, ok = projects[path]
	mu.Unlock()
	return p, ok
}

// Copy mirrors sjef_project_copy.
func Copy(path, destination string, keepHash bool) bool {
	p, ok := lookup(path)
	if !ok {
		return false
	}
	return p.Copy(destination, true, keepHash, false, 0, true) == nil
}

// Move mirrors sjef_project_move: on success the source project is closed,
// matching the original's call to sjef_project_close after a successful move.
func Move(path, destination string) bool {
	p, ok := lookup(path)
	if !ok {
		return false
	}
	if err := p.Move(destination, true, true); err != nil {
		return false
	}
	Close(path)
	return true
}

// Erase mirrors sjef_project_erase: closes the project first if tracked,
// then deletes its directory regardless of tracked state.
func Erase(path, defaultSuffix string) {
	Close(path)
	sjef.Erase(path, defaultSuffix)
}

// Import mirrors sjef_project_import.
func Import(path, file string) bool {
	p, ok := lookup(path)
	if !ok {
		return false
	}
	return p.ImportFile(file, true) == nil
}

// Export mirrors sjef_project_export.
func Export(path, file string) bool {
	p, ok := lookup(path)
	if !ok {
		return false
	}
	return p.ExportFile("", file, true) == nil
}

// RunNeeded mirrors sjef_project_run_needed.
func RunNeeded(path string) bool {
	p, ok := lookup(path)
	if !ok {
		return false
	}
	needed, err := p.RunNeeded(0)
	return err == nil && needed
}

// Run mirrors sjef_project_run.
func Run(path, backendName, options string, verbosity int, force, wait bool) bool {
	p, ok := lookup(path)
	if !ok {
		return false
	}
	if backendName != "" {
		if err := p.ChangeBackend(backendName, false); err != nil {
			return false
		}
	}
	ran, err := p.Run(context.Background(), verbosity, force, wait, options)
	return err == nil && ran
}

// Status mirrors sjef_project_status, returning the currently recorded
// status without waiting for the poll loop.
func Status(path string, verbosity int) int {
	p, ok := lookup(path)
	if !ok {
		return 0
	}
	return int(p.Status())
}

// StatusMessage mirrors sjef_project_status_message.
func StatusMessage(path string, verbosity int) string {
	p, ok := lookup(path)
	if !ok {
		return ""
	}
	return p.StatusMessage()
}

// Kill mirrors sjef_project_kill.
func Kill(path string) {
	p, ok := lookup(path)
	if !ok {
		return
	}
	p.Kill(context.Background(), 0)
}

// PropertySet mirrors sjef_project_property_set.
func PropertySet(path, key, value string) {
	p, ok := lookup(path)
	if !ok {
		return
	}
	p.SetProperty(key, value)
}

// PropertyGet mirrors sjef_project_property_get.
func PropertyGet(path, key string) string {
	p, ok := lookup(path)
	if !ok {
		return ""
	}
	return p.Property(key)
}

// PropertyDelete mirrors sjef_project_property_delete.
func PropertyDelete(path, key string) {
	p, ok := lookup(path)
	if !ok {
		return
	}
	p.DeleteProperty(key)
}

// PropertyNames mirrors the sjef_project_property_rewind/_next iteration
// pair, collapsed into a single call: Go has no FFI-shaped cursor state to
// preserve across calls, so the whole key list is returned at once.
func PropertyNames(path string) []string {
	p, ok := lookup(path)
	if !ok {
		return nil
	}
	names, err := p.Properties()
	if err != nil {
		return nil
	}
	return names
}

// Filename mirrors sjef_project_filename.
func Filename(path string) string {
	p, ok := lookup(path)
	if !ok {
		return ""
	}
	return p.Directory()
}

// Name mirrors sjef_project_name.
func Name(path string) string {
	p, ok := lookup(path)
	if !ok {
		return ""
	}
	return p.Name()
}

// ProjectHash mirrors sjef_project_project_hash.
func ProjectHash(path string) uint64 {
	p, ok := lookup(path)
	if !ok {
		return 0
	}
	h, err := p.ProjectHash()
	if err != nil {
		return 0
	}
	return h
}

// InputHash mirrors sjef_project_input_hash.
func InputHash(path string) uint64 {
	p, ok := lookup(path)
	if !ok {
		return 0
	}
	h, err := p.InputHash()
	if err != nil {
		return 0
	}
	return h
}

// ChangeBackend mirrors sjef_project_change_backend.
func ChangeBackend(path, backendName string) bool {
	p, ok := lookup(path)
	if !ok {
		return false
	}
	return p.ChangeBackend(backendName, false) == nil
}

// BackendNames mirrors sjef_project_backend_names.
func BackendNames(path string) []string {
	p, ok := lookup(path)
	if !ok {
		return nil
	}
	return p.BackendNames()
}

// templateNodes parses a backend's run_command template, returning nil if
// the backend is unregistered or the template fails to parse.
func templateNodes(p *sjef.Project, backendName string) []backend.Node {
	runCommand, ok := p.BackendRunCommand(backendName)
	if !ok {
		return nil
	}
	nodes, err := backend.ParseTemplate(runCommand)
	if err != nil {
		return nil
	}
	return nodes
}

// BackendParameterNames mirrors sjef_project_backend_parameters(def=0),
// returning the parameter names referenced in a backend's run_command
// template, in template order.
func BackendParameterNames(path, backendName string) []string {
	p, ok := lookup(path)
	if !ok {
		return nil
	}
	var names []string
	for _, n := range templateNodes(p, backendName) {
		if n.IsSubstitution {
			names = append(names, n.Name)
		}
	}
	return names
}

// BackendParameterDefaults mirrors sjef_project_backend_parameters(def=1),
// returning each referenced parameter's template default (empty string if
// it has none), in the same order as BackendParameterNames.
func BackendParameterDefaults(path, backendName string) []string {
	p, ok := lookup(path)
	if !ok {
		return nil
	}
	var defaults []string
	for _, n := range templateNodes(p, backendName) {
		if n.IsSubstitution {
			defaults = append(defaults, n.Default)
		}
	}
	return defaults
}

// BackendParameterDocumentation mirrors
// sjef_project_backend_parameter_documentation.
func BackendParameterDocumentation(path, backendName, parameter string) string {
	p, ok := lookup(path)
	if !ok {
		return ""
	}
	for _, n := range templateNodes(p, backendName) {
		if n.IsSubstitution && n.Name == parameter {
			return n.Doc
		}
	}
	return ""
}

// backendParameterKey namespaces a backend parameter under the project's
// property store, matching the "Backend/<name>/<param>" key pkg/sjef.Run
// itself reads when rendering the run_command template.
func backendParameterKey(backendName, parameter string) string {
	return "Backend/" + backendName + "/" + parameter
}

// BackendParameterGet mirrors sjef_project_backend_parameter_get.
func BackendParameterGet(path, backendName, parameter string) string {
	p, ok := lookup(path)
	if !ok {
		return ""
	}
	return p.Property(backendParameterKey(backendName, parameter))
}

// BackendParameterSet mirrors sjef_project_backend_parameter_set.
func BackendParameterSet(path, backendName, parameter, value string) {
	p, ok := lookup(path)
	if !ok {
		return
	}
	p.SetProperty(backendParameterKey(backendName, parameter), value)
}

// BackendParameterDelete mirrors sjef_project_backend_parameter_delete.
func BackendParameterDelete(path, backendName, parameter string) {
	p, ok := lookup(path)
	if !ok {
		return
	}
	p.DeleteProperty(backendParameterKey(backendName, parameter))
}

// ExpandPath mirrors sjef_expand_path.
func ExpandPath(path, defaultSuffix string) (string, error) {
	return sjef.ExpandPath(path, defaultSuffix)
}
