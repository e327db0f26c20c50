// Package sjef implements the Project façade: the object a caller
// constructs once per job-execution project directory, binding together the
// property store, backend registry, recent-projects list and job
// controller. Modeled on original_source/src/sjef/sjef.cpp's Project class,
// structured the way the teacher's internal/fs.LinearFS binds config.Config,
// cache.Cache and repo.Repository into one façade with a Close() lifecycle.
package sjef

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/sjef-go/sjef/internal/backend"
	"github.com/sjef-go/sjef/internal/config"
	"github.com/sjef-go/sjef/internal/job"
	"github.com/sjef-go/sjef/internal/lock"
	"github.com/sjef-go/sjef/internal/pathutil"
	"github.com/sjef-go/sjef/internal/recent"
	"github.com/sjef-go/sjef/internal/sjeferr"
	"github.com/sjef-go/sjef/internal/store"
	"github.com/sjef-go/sjef/pkg/sjef/hooks"
)

var logger = log.New(os.Stderr, "[sjef] ", log.LstdFlags)

// PropertyFile is the name of the property file inside a project directory.
const PropertyFile = "Info.plist"

var suffixKeys = []string{"inp", "out", "xml"}

// Options configures project construction; DefaultOptions returns
// original_source's default construction arguments.
type Options struct {
	// DefaultSuffix is used when filename has no extension.
	DefaultSuffix string
	// Suffixes maps the logical roles "inp"/"out"/"xml" to the file
	// extension used for each; unset roles default to their own name.
	Suffixes map[string]string
	// Construct, when false, only opens the directory and Locker without
	// running the full construction sequence (hook, recent-list, backend
	// selection). Used internally for slave/run-directory copies.
	Construct bool
	// RecordAsRecent adds the project to the per-suffix recent list.
	RecordAsRecent bool
	// Hooks overrides the customization-hook table; nil uses hooks.Default().
	Hooks *hooks.Table
}

// DefaultOptions returns the usual construction options (full construction,
// recorded as recent). New uses only the Options it is given.
func DefaultOptions() Options {
	return Options{Construct: true, RecordAsRecent: true}
}

// Project is one job-execution project: a directory holding an input file,
// output artifacts, a property store, and zero or more run/ subdirectories.
type Project struct {
	filename string // absolute project directory, with suffix
	suffix   string
	suffixes map[string]string

	store   *store.Store
	locker  *lock.Locker
	recent  *recent.List
	backend *backend.Registry
	hooks   hooks.Table
	cfg     *config.Config

	currentBackend string
	reservedFiles  []string

	mu         sync.Mutex
	controller *job.Controller
	xmlCache   map[int]string // run number -> repaired XML, valid only while status is completed
}

// New constructs or opens a project at path, per spec.md §4.G's
// eight-step construction sequence.
func New(path string, opts Options) (*Project, error) {
	suffix, err := projectSuffix(path, opts.DefaultSuffix)
	if err != nil {
		return nil, err
	}

	expanded, err := pathutil.Expand(path, suffix)
	if err != nil {
		return nil, err
	}

	if info, statErr := os.Stat(expanded); statErr == nil {
		if !info.IsDir() {
			return nil, sjeferr.Wrap(sjeferr.ErrConfig, "project path is not a directory: "+expanded, nil)
		}
	} else if os.IsNotExist(statErr) {
		if err := os.MkdirAll(expanded, 0o755); err != nil {
			return nil, sjeferr.Wrap(sjeferr.ErrConfig, "create project directory "+expanded, err)
		}
	} else {
		return nil, sjeferr.Wrap(sjeferr.ErrConfig, "stat project directory "+expanded, statErr)
	}

	locker, err := lock.For(expanded, "")
	if err != nil {
		return nil, err
	}

	suffixes := map[string]string{}
	for _, k := range suffixKeys {
		suffixes[k] = k
	}
	for k, v := range opts.Suffixes {
		suffixes[k] = v
	}

	bolt, err := locker.Bolt(expanded)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(filepath.Join(expanded, PropertyFile), expanded)
	if err != nil {
		bolt.Release()
		return nil, err
	}

	cfg, err := config.Load()
	if err != nil {
		bolt.Release()
		return nil, err
	}

	ht := hooks.Default()
	if opts.Hooks != nil {
		ht = *opts.Hooks
	}

	p := &Project{
		filename: expanded,
		suffix:   suffix,
		suffixes: suffixes,
		store:    st,
		locker:   locker,
		hooks:    ht,
		cfg:      cfg,
		xmlCache: make(map[int]string),
	}

	bolt.Release()

	if !opts.Construct {
		return p, nil
	}

	if err := p.finishConstruction(opts); err != nil {
		return nil, err
	}

	return p, nil
}

func (p *Project) finishConstruction(opts Options) error {
	if names, err := p.store.Names(); err == nil && len(names) == 0 {
		if err := p.store.Set("_status", strconv.Itoa(int(hooks.StatusUnevaluated))); err != nil {
			return err
		}
	}

	if err := p.hooks.CustomInitialisation(p.HookContext()); err != nil {
		return sjeferr.Wrap(sjeferr.ErrConfig, "custom initialisation for "+p.filename, err)
	}

	nimport, _ := strconv.Atoi(p.Property("IMPORTED"))
	for i := 0; i < nimport; i++ {
		if f := p.Property("IMPORT" + strconv.Itoa(i)); f != "" {
			p.reservedFiles = append(p.reservedFiles, f)
		}
	}

	root := config.ConfigRoot()
	rl, err := recent.Open(root, p.suffix)
	if err != nil {
		return err
	}
	p.recent = rl

	if opts.RecordAsRecent && !p.isRunDirectorySlave() {
		if err := p.recent.Edit(p.filename, ""); err != nil {
			return err
		}
	}

	reg, err := backend.Load(root, p.suffix)
	if err != nil {
		return err
	}
	p.backend = reg

	if p.Name() != "" && !strings.HasPrefix(p.Name(), ".") {
		be := p.Property("backend")
		if _, ok := p.backend.Get(be); !ok {
			be = p.hooks.DefaultBackend(p.HookContext())
		}
		if err := p.ChangeBackend(be, true); err != nil {
			return err
		}

		initial := p.Status()
		if initial == hooks.StatusRunning || initial == hooks.StatusWaiting {
			ctl, err := p.jobController()
			if err != nil {
				return err
			}
			status, err := ctl.GetStatus(context.Background(), 0)
			if err == nil && status == hooks.StatusUnknown {
				if err := p.store.Set("_status", strconv.Itoa(int(hooks.StatusCompleted))); err != nil {
					return err
				}
			}
		}
	}

	return nil
}

// isRunDirectorySlave reports whether this project lives inside another
// project's run/ subdirectory (mirrors the parent-directory check in the
// original constructor's recent_edit guard).
func (p *Project) isRunDirectorySlave() bool {
	parent := filepath.Dir(p.filename)
	if filepath.Base(parent) != "run" {
		return false
	}
	_, err := os.Stat(filepath.Join(filepath.Dir(parent), PropertyFile))
	return err == nil
}

func projectSuffix(path, defaultSuffix string) (string, error) {
	ext := strings.TrimPrefix(filepath.Ext(strings.TrimRight(path, string(filepath.Separator))), ".")
	if ext == "" {
		ext = defaultSuffix
	}
	if ext == "" {
		return "", sjeferr.Wrap(sjeferr.ErrConfig, "cannot deduce project suffix for \""+path+"\"", nil)
	}
	return ext, nil
}

// Close releases the project's job controller, if one was created.
func (p *Project) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.controller != nil {
		err := p.controller.Close()
		p.controller = nil
		return err
	}
	return nil
}

// Directory returns the project's absolute directory. Satisfies job.Project.
func (p *Project) Directory() string { return p.filename }

// Stem is an alias for Name, satisfying job.Project.
func (p *Project) Stem() string { return p.Name() }

// Name returns the project's base name (directory stem without suffix).
func (p *Project) Name() string {
	base := filepath.Base(p.filename)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Suffix returns the project suffix (extension without the leading dot).
func (p *Project) Suffix() string { return p.suffix }

// Property returns the value of key, or "" if unset or on a read error
// (errors are logged, matching the original's never-throws read path).
// Satisfies job.Project.
func (p *Project) Property(key string) string {
	v, err := p.store.Get(key)
	if err != nil {
		logger.Printf("property read failed for %s: %v", key, err)
		return ""
	}
	return v
}

// Properties returns every registered property name.
func (p *Project) Properties() ([]string, error) {
	return p.store.Names()
}

// SetProperty writes a single property. Satisfies job.Project.
func (p *Project) SetProperty(key, value string) error {
	return p.store.Set(key, value)
}

// SetProperties writes a whole map atomically.
func (p *Project) SetProperties(values map[string]string) error {
	return p.store.SetMany(values)
}

// DeleteProperty removes key, if present.
func (p *Project) DeleteProperty(key string) error {
	return p.store.Delete(key)
}

// Hooks returns the project's customization-hook table. Satisfies
// job.Project.
func (p *Project) Hooks() hooks.Table { return p.hooks }

// HookContext returns the read-only view hooks are invoked with. Satisfies
// job.Project.
func (p *Project) HookContext() hooks.Context {
	return hooks.Context{
		Suffix:   p.suffix,
		Property: p.Property,
		XML: func() (string, error) {
			return p.XML(-1, false)
		},
		Filename: func(stem, suffix string) (string, error) {
			return p.Filename(suffix, stem, -1)
		},
	}
}

// Filename resolves the path of one file belonging to this project. suffix
// is a logical role ("inp"/"out"/"xml", translated through the project's
// suffix map) or a literal extension if unregistered; name overrides the
// project's own stem; run selects a run/ subdirectory (-1 means the project
// directory itself).
func (p *Project) Filename(suffix, name string, run int) (string, error) {
	dir := p.filename
	if run > -1 {
		rd, err := p.RunDirectory(run)
		if err != nil {
			return "", err
		}
		dir = rd
	}

	base := strings.TrimSuffix(filepath.Base(dir), filepath.Ext(filepath.Base(dir)))
	if mapped, ok := p.suffixes[suffix]; ok {
		suffix = mapped
	}

	switch {
	case suffix != "" && name == "":
		return filepath.Join(dir, base+"."+suffix), nil
	case suffix != "" && name != "":
		return filepath.Join(dir, name+"."+suffix), nil
	case name != "":
		return filepath.Join(dir, name), nil
	default:
		return dir, nil
	}
}

// RunDirectoryBasename is the stem a run/ subdirectory uses for sequence
// number run: "<name>_<run>" with spaces folded to underscores.
func (p *Project) RunDirectoryBasename(run int) string {
	return strings.ReplaceAll(p.Name(), " ", "_") + "_" + strconv.Itoa(run)
}

// RunDirectory resolves the path of run/ subdirectory number run (0 or
// negative means "the project directory itself" / "the most recent run",
// per spec.md §4.G).
func (p *Project) RunDirectory(run int) (string, error) {
	if run < 0 {
		return p.filename, nil
	}
	sequence, err := p.runVerify(run)
	if err != nil {
		return "", err
	}
	if sequence < 1 {
		return p.filename, nil
	}
	list, err := p.runList()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(p.filename, "run", list[sequence-1]+"."+p.suffix)
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return "", sjeferr.Wrap(sjeferr.ErrNotFound, "run directory "+dir, err)
	}
	return dir, nil
}

func (p *Project) runVerify(run int) (int, error) {
	list, err := p.runList()
	if err != nil {
		return 0, err
	}
	if run > 0 {
		if len(list) >= run {
			return run, nil
		}
		return 0, nil
	}
	current, _ := strconv.Atoi(p.Property("current_run"))
	if current > 0 {
		return current, nil
	}
	if len(list) == 0 {
		return 0, nil
	}
	return len(list), nil
}

// runList returns the live run/ stems named by the run_directories
// property, pruning any stem whose directory no longer exists (and
// persisting the pruned list, matching the original's self-healing read).
func (p *Project) runList() ([]string, error) {
	raw := p.Property("run_directories")
	var kept []string
	for _, stem := range strings.Fields(raw) {
		if info, err := os.Stat(filepath.Join(p.filename, "run", stem+"."+p.suffix)); err == nil && info.IsDir() {
			kept = append(kept, stem)
		}
	}
	if strings.Join(kept, " ") != strings.TrimSpace(raw) {
		if err := p.store.Set("run_directories", strings.Join(kept, " ")); err != nil {
			return nil, err
		}
	}
	return kept, nil
}

// ProjectHash returns the project's stable identity, allocating one (seeded
// from a random UUID, per the original's random_string-then-hash scheme) on
// first access.
func (p *Project) ProjectHash() (uint64, error) {
	existing := p.Property("project_hash")
	if existing != "" {
		v, err := strconv.ParseUint(existing, 10, 64)
		if err == nil {
			return v, nil
		}
	}
	h := fnv64a(uuid.New().String())
	if err := p.store.Set("project_hash", strconv.FormatUint(h, 10)); err != nil {
		return 0, err
	}
	return h, nil
}

// Status returns the project's current status, read from the _status
// property (unevaluated if unset).
func (p *Project) Status() hooks.Status {
	raw := p.Property("_status")
	if raw == "" {
		return hooks.StatusUnevaluated
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return hooks.StatusUnevaluated
	}
	return hooks.Status(n)
}

// StatusMessage is the human-readable status, with job number and backend
// appended when known, per spec.md §7.
func (p *Project) StatusMessage() string {
	status := p.Status()
	msg := status.String()
	if status != hooks.StatusUnknown && p.Property("jobnumber") != "" {
		msg += ", job number " + p.Property("jobnumber") + " on backend " + p.Property("backend")
	}
	return msg
}
