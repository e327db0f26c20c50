package sjef

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sjef-go/sjef/internal/backend"
	"github.com/sjef-go/sjef/internal/job"
	"github.com/sjef-go/sjef/internal/plist"
	"github.com/sjef-go/sjef/internal/sjeferr"
	"github.com/sjef-go/sjef/pkg/sjef/hooks"
)

// jobController lazily creates the Controller bound to the project's
// current backend, mirroring the original's on-demand m_job.reset(new
// util::Job(*this)).
func (p *Project) jobController() (*job.Controller, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.controller != nil {
		return p.controller, nil
	}

	be, ok := p.backend.Get(p.currentBackend)
	if !ok {
		return nil, sjefConfigError("backend " + p.currentBackend + " is not registered")
	}
	ctl, err := job.New(p, be)
	if err != nil {
		return nil, err
	}
	p.controller = ctl
	return ctl, nil
}

// resetJobController discards the current controller (closing it first) so
// the next jobController() call builds a fresh one against the
// newly-selected backend.
func (p *Project) resetJobController() error {
	p.mu.Lock()
	ctl := p.controller
	p.controller = nil
	p.mu.Unlock()

	if ctl == nil {
		return nil
	}
	return ctl.Close()
}

// InputHash hashes the concatenation of each launch-input-file line with
// its customization-hook-expanded referenced-file contents, per spec.md
// §4.G.
func (p *Project) InputHash() (uint64, error) {
	inputPath, err := p.Filename("inp", "", -1)
	if err != nil {
		return 0, err
	}

	lines, err := readLines(inputPath)
	if err != nil {
		lines = nil // missing input file hashes as empty, matching the original's ifstream-of-nothing
	}

	ctx := p.HookContext()
	var b strings.Builder
	for _, line := range lines {
		expanded, err := p.hooks.ReferencedFileContents(ctx, line)
		if err != nil {
			return 0, err
		}
		b.WriteString(expanded)
		b.WriteByte('\n')
	}
	return fnv64a(b.String()), nil
}

// RunNeeded reports whether Run should actually launch the backend command,
// per spec.md §4.G's run_needed invariant.
func (p *Project) RunNeeded(verbosity int) (bool, error) {
	status := p.Status()
	if status == hooks.StatusFailed || status == hooks.StatusKilled {
		return true, nil
	}
	if status == hooks.StatusRunning || status == hooks.StatusWaiting {
		return false, nil
	}

	inputPath, err := p.Filename("inp", "", -1)
	if err != nil {
		return false, err
	}
	if _, err := statExists(inputPath); err != nil {
		return false, nil
	}

	xmlPath, err := p.Filename("xml", "", 0)
	if err != nil {
		return false, err
	}
	if _, err := statExists(xmlPath); err != nil {
		return true, nil
	}

	runInputHash := p.Property("run_input_hash")
	if runInputHash == "" {
		lines, err := readLines(inputPath)
		if err != nil {
			return false, err
		}
		canonical := canonicalizeWhitespace(strings.Join(lines, "\n"))
		reconstructed, err := p.hooks.InputFromOutput(p.HookContext())
		if err != nil {
			return false, err
		}
		return canonical != reconstructed, nil
	}

	recorded, err := strconv.ParseUint(runInputHash, 10, 64)
	if err != nil {
		return true, nil
	}
	current, err := p.InputHash()
	if err != nil {
		return false, err
	}
	return recorded != current, nil
}

// Run launches the project's current backend command. It returns false
// without launching when the job is already running/waiting, or when force
// is false and RunNeeded reports false. It allocates a fresh run/
// directory, expands the backend's run-command template, and starts the
// Controller asynchronously; when wait is set it then blocks in Wait until
// the status is terminal, per original_source's Project::run.
func (p *Project) Run(ctx context.Context, verbosity int, force, wait bool, options string) (bool, error) {
	if status := p.Status(); status == hooks.StatusRunning || status == hooks.StatusWaiting {
		return false, nil
	}

	be, ok := p.backend.Get(p.currentBackend)
	if !ok {
		return false, sjefConfigError("backend " + p.currentBackend + " is not registered")
	}

	if !force {
		needed, err := p.RunNeeded(verbosity)
		if err != nil {
			return false, err
		}
		if !needed {
			return false, nil
		}
	}

	inputHash, err := p.InputHash()
	if err != nil {
		return false, err
	}
	if err := p.store.Set("run_input_hash", strconv.FormatUint(inputHash, 10)); err != nil {
		return false, err
	}

	if err := p.hooks.CustomRunPreface(p.HookContext()); err != nil {
		return false, err
	}

	rundir, err := p.RunDirectoryNew()
	if err != nil {
		return false, err
	}
	stem := strings.TrimSuffix(filepath.Base(rundir), "."+p.suffix)

	p.clearXMLCache()

	command, err := buildRunCommand(be, p, verbosity, options, stem)
	if err != nil {
		return false, err
	}

	ctl, err := p.jobController()
	if err != nil {
		return false, err
	}

	if _, err := ctl.Run(ctx, command, verbosity, false); err != nil {
		return false, err
	}

	if wait {
		if err := p.Wait(ctx, 100000); err != nil {
			return false, err
		}
	}

	return true, nil
}

// buildRunCommand expands the backend's run_command template and appends
// the launch input filename, matching the word-splitting/quoting the
// original performs in Project::run.
func buildRunCommand(be backend.Backend, p *Project, verbosity int, options, stem string) (string, error) {
	nodes, err := backend.ParseTemplate(be.RunCommand)
	if err != nil {
		return "", err
	}
	lookup := func(name string) (string, bool) {
		v := p.Property("Backend/" + be.Name + "/" + name)
		return v, v != ""
	}
	rendered := backend.Render(nodes, lookup)

	fields := strings.Fields(rendered)
	if len(fields) == 0 {
		return "", sjefConfigError("backend " + be.Name + " has an empty run_command")
	}

	executable := fields[0]
	var quoted []string
	for _, f := range fields[1:] {
		quoted = append(quoted, "'"+f+"'")
	}

	optionString := options
	if optionString != "" && !strings.HasSuffix(optionString, " ") {
		optionString += " "
	}
	if verbosity > 0 && be.Name != "__dummy" {
		optionString += "-v "
	}

	parts := []string{executable}
	parts = append(parts, quoted...)
	parts = append(parts, optionString+stem+".inp")
	return strings.Join(parts, " "), nil
}

// Wait spins with exponential backoff, capped at maxMicroseconds between
// polls, until the project reaches a terminal status.
func (p *Project) Wait(ctx context.Context, maxMicroseconds int) error {
	if _, err := p.jobController(); err != nil {
		return err
	}

	microseconds := 1
	for {
		status := p.Status()
		if status != hooks.StatusUnknown && status != hooks.StatusRunning && status != hooks.StatusWaiting {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(microseconds) * time.Microsecond):
		}
		microseconds *= 2
		if microseconds > maxMicroseconds {
			microseconds = maxMicroseconds
		}
	}
}

// Kill terminates the project's in-flight job, if any.
func (p *Project) Kill(ctx context.Context, verbosity int) error {
	status := p.Status()
	if status != hooks.StatusRunning && status != hooks.StatusWaiting {
		return nil
	}
	ctl, err := p.jobController()
	if err != nil {
		return err
	}
	return ctl.Kill(ctx, verbosity)
}

// XML returns the project's output XML, repaired per the xml-repair routine
// (spec.md §7), caching the result per run number once status is completed
// (matching the original's m_xml_cached behaviour).
func (p *Project) XML(run int, sync bool) (string, error) {
	if p.Status() != hooks.StatusCompleted {
		return p.fileXML(run)
	}

	p.mu.Lock()
	cached, ok := p.xmlCache[run]
	p.mu.Unlock()
	if ok {
		return cached, nil
	}

	content, err := p.fileXML(run)
	if err != nil {
		return "", err
	}

	p.mu.Lock()
	p.xmlCache[run] = content
	p.mu.Unlock()
	return content, nil
}

// clearXMLCache drops every memoized XML entry, invalidating it for a fresh
// run the way original_source's Project::run clears m_xml_cached.
func (p *Project) clearXMLCache() {
	p.mu.Lock()
	p.xmlCache = make(map[int]string)
	p.mu.Unlock()
}

func (p *Project) fileXML(run int) (string, error) {
	path, err := p.Filename("xml", "", run)
	if err != nil {
		return "", err
	}
	raw, err := readFileTrimmed(path)
	if err != nil {
		return plist.Repair("", nil), nil
	}
	return plist.Repair(raw, nil), nil
}

func sjefConfigError(msg string) error {
	return sjeferr.Wrap(sjeferr.ErrConfig, msg, nil)
}

func canonicalizeWhitespace(s string) string {
	s = strings.ReplaceAll(s, "\r", "")
	for strings.Contains(s, "\n\n") {
		s = strings.ReplaceAll(s, "\n\n", "\n")
	}
	s = strings.TrimRight(s, "\n")
	s = strings.TrimLeft(s, "\n")
	return s
}

func statExists(path string) (bool, error) {
	if _, err := os.Stat(path); err != nil {
		return false, err
	}
	return true, nil
}

func readLines(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	text := strings.TrimRight(string(data), "\n")
	if text == "" {
		return nil, nil
	}
	return strings.Split(text, "\n"), nil
}

func readFileTrimmed(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(data), "\n"), nil
}
