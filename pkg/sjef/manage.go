package sjef

import (
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sjef-go/sjef/internal/config"
	"github.com/sjef-go/sjef/internal/pathutil"
	"github.com/sjef-go/sjef/internal/recent"
	"github.com/sjef-go/sjef/internal/sjeferr"
	"github.com/sjef-go/sjef/internal/store"
	"github.com/sjef-go/sjef/pkg/sjef/hooks"
)

// ChangeBackend selects the active backend by name, validating it exists in
// the registry. Changing backend while a job is running/waiting is
// rejected, matching original_source's change_backend.
func (p *Project) ChangeBackend(name string, force bool) error {
	if name == "" {
		name = "local"
	}
	unchanged := p.Property("backend") == name && p.currentBackend == name
	if !force && unchanged {
		return nil
	}
	if !unchanged && p.currentBackend != "" {
		if status := p.Status(); status == hooks.StatusRunning || status == hooks.StatusWaiting {
			return sjefConfigError("cannot change backend when job is running or waiting")
		}
		if err := p.store.Delete("jobnumber"); err != nil {
			return err
		}
		if err := p.resetJobController(); err != nil {
			return err
		}
	}
	if !unchanged {
		if _, ok := p.backend.Get(name); !ok {
			return sjeferr.Wrap(sjeferr.ErrNotFound, "backend "+name+" is not registered", nil)
		}
		if err := p.store.Set("backend", name); err != nil {
			return err
		}
	}
	p.currentBackend = name
	return nil
}

// BackendNames returns every registered backend name except the reserved
// dummy test backend.
func (p *Project) BackendNames() []string {
	var names []string
	for _, n := range p.backend.Names() {
		if n != "__dummy" {
			names = append(names, n)
		}
	}
	return names
}

// BackendRunCommand returns the named backend's raw run_command template,
// used by pkg/sjef/capi to enumerate the {parameter} placeholders it
// references.
func (p *Project) BackendRunCommand(name string) (string, bool) {
	b, ok := p.backend.Get(name)
	if !ok {
		return "", false
	}
	return b.RunCommand, true
}

// ExpandPath expands path and gives it defaultSuffix, per
// original_source's sjef::expand_path.
func ExpandPath(path, defaultSuffix string) (string, error) {
	return pathutil.Expand(path, defaultSuffix)
}

// RunDirectoryNew allocates the next run/<stem> directory, records it in
// run_directories, clears jobnumber, resets current_run to 0, and populates
// it with a slave copy of the project, per spec.md §4.G.
func (p *Project) RunDirectoryNew() (string, error) {
	list, err := p.runList()
	if err != nil {
		return "", err
	}

	var stem string
	for seq := len(list) + 1; ; seq++ {
		stem = p.RunDirectoryBasename(seq)
		if !containsString(list, stem) {
			break
		}
	}
	list = append(list, stem)
	if err := p.store.Set("run_directories", strings.Join(list, " ")); err != nil {
		return "", err
	}

	runRoot := filepath.Join(p.filename, "run")
	if err := os.MkdirAll(runRoot, 0o755); err != nil {
		return "", sjeferr.Wrap(sjeferr.ErrConfig, "create run directory "+runRoot, err)
	}

	if err := p.store.Delete("jobnumber"); err != nil {
		return "", err
	}
	if err := p.store.Set("current_run", "0"); err != nil {
		return "", err
	}

	dest := filepath.Join(runRoot, stem+"."+p.suffix)
	if err := p.copyAsSlave(dest); err != nil {
		return "", err
	}
	return dest, nil
}

// Clean deletes the oldest run/ directories until at most
// keepRunDirectories remain (one more is always kept while the job is
// live), per spec.md §4.G.
func (p *Project) Clean(keepRunDirectories int) error {
	if status := p.Status(); status == hooks.StatusRunning || status == hooks.StatusWaiting {
		keepRunDirectories++
	}
	for {
		list, err := p.runList()
		if err != nil {
			return err
		}
		if len(list) <= keepRunDirectories {
			return nil
		}
		if err := p.runDelete(1); err != nil {
			return err
		}
	}
}

// runDelete removes run/ directory number run (1-based, per run_list order)
// and prunes it from run_directories.
func (p *Project) runDelete(run int) error {
	if status := p.Status(); status == hooks.StatusRunning || status == hooks.StatusWaiting {
		return sjefConfigError("cannot delete run directory when job is running or waiting")
	}
	sequence, err := p.runVerify(run)
	if err != nil {
		return err
	}
	if sequence == 0 {
		return nil
	}
	dir, err := p.RunDirectory(sequence)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return sjeferr.Wrap(sjeferr.ErrConfig, "remove run directory "+dir, err)
	}
	_, err = p.runList() // re-reads and re-persists run_directories with the removed stem gone
	return err
}

// Move relocates the project directory to destination, propagating
// filename-derived property values and recent-list membership. It refuses
// to move a running/waiting project, per the original's Project::move.
func (p *Project) Move(destination string, force, history bool) error {
	if status := p.Status(); status == hooks.StatusRunning || status == hooks.StatusWaiting {
		return sjefConfigError("cannot move project while running or waiting")
	}

	dest, err := pathAbsWithSuffix(destination, p.suffix)
	if err != nil {
		return err
	}
	if force {
		os.RemoveAll(dest)
	}

	nameSave := p.Name()
	filenameSave := p.filename

	if err := copyDir(p.filename, dest, false); err != nil {
		return sjeferr.Wrap(sjeferr.ErrConfig, "move project to "+dest, err)
	}
	p.filename = dest
	st, err := store.Open(filepath.Join(dest, PropertyFile), dest)
	if err != nil {
		return err
	}
	p.store = st
	if err := p.forceFileNames(nameSave); err != nil {
		return err
	}

	add := ""
	if history {
		add = p.filename
	}
	if p.recent != nil {
		if err := p.recent.Edit(add, filenameSave); err != nil {
			return err
		}
	}

	if err := os.RemoveAll(filenameSave); err != nil {
		return sjeferr.Wrap(sjeferr.ErrConfig, "remove old project directory "+filenameSave, err)
	}
	return nil
}

// Copy duplicates the project to destination. keepHash preserves
// project_hash in the copy; slave strips run_directories and forces a
// non-recursive, non-history copy (used internally by RunDirectoryNew).
func (p *Project) Copy(destination string, force, keepHash, slave bool, keepRunDirectories int, history bool) error {
	dest, err := pathAbsWithSuffix(destination, p.suffix)
	if err != nil {
		return err
	}
	if slave {
		keepRunDirectories = 0
	}
	if force {
		os.RemoveAll(dest)
	}
	if _, err := os.Stat(dest); err == nil {
		return sjefConfigError("copy destination " + dest + " already exists")
	}

	if err := copyDir(p.filename, dest, slave); err != nil {
		return err
	}

	dp, err := New(dest, Options{Construct: false, Suffixes: p.suffixes})
	if err != nil {
		return err
	}
	defer dp.Close()

	if err := dp.forceFileNames(p.Name()); err != nil {
		return err
	}
	if !slave && history {
		root := config.ConfigRoot()
		rl, err := recent.Open(root, dp.suffix)
		if err != nil {
			return err
		}
		if err := rl.Edit(dp.filename, ""); err != nil {
			return err
		}
	}
	if err := dp.store.Delete("jobnumber"); err != nil {
		return err
	}
	if slave {
		if err := dp.store.Delete("run_directories"); err != nil {
			return err
		}
	}
	if err := dp.Clean(keepRunDirectories); err != nil {
		return err
	}
	if !keepHash {
		if err := dp.store.Delete("project_hash"); err != nil {
			return err
		}
	}
	return nil
}

// copyAsSlave is RunDirectoryNew's use of Copy: no recursion into nested
// run/ directories, no history entry, fresh hash.
func (p *Project) copyAsSlave(dest string) error {
	return p.Copy(dest, false, false, true, 0, false)
}

// Erase removes a project directory outright and drops its recent-list
// entry. Unlike Move/Copy it does not require an already-open Project.
func Erase(path, defaultSuffix string) error {
	proj, err := New(path, Options{DefaultSuffix: defaultSuffix, Construct: true, RecordAsRecent: false})
	if err != nil {
		return err
	}
	dir := proj.filename
	suffix := proj.suffix
	if err := proj.Close(); err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return sjeferr.Wrap(sjeferr.ErrConfig, "erase project "+dir, err)
	}
	root := config.ConfigRoot()
	rl, err := recent.Open(root, suffix)
	if err != nil {
		return err
	}
	return rl.Edit("", dir)
}

// forceFileNames renames every file in the project directory whose stem
// equals oldName and whose extension is a registered suffix, to the
// project's current name, rewriting property values and the input file's
// internal self-references as it goes.
func (p *Project) forceFileNames(oldName string) error {
	entries, err := os.ReadDir(p.filename)
	if err != nil {
		return sjeferr.Wrap(sjeferr.ErrConfig, "read project directory "+p.filename, err)
	}

	names, err := p.Properties()
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.TrimPrefix(filepath.Ext(entry.Name()), ".")
		stem := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		if stem != oldName || ext == "" || !p.isRegisteredSuffix(ext) {
			continue
		}

		newName := p.Name() + "." + ext
		oldPath := filepath.Join(p.filename, entry.Name())
		newPath := filepath.Join(p.filename, newName)
		if err := os.Rename(oldPath, newPath); err != nil {
			return sjeferr.Wrap(sjeferr.ErrConfig, "rename "+oldPath+" to "+newPath, err)
		}

		if ext == "inp" {
			if err := p.hooks.RewriteInputFile(p.HookContext(), newPath, oldName, p.Name()); err != nil {
				return err
			}
		}

		for _, key := range names {
			if p.Property(key) == entry.Name() {
				if err := p.store.Set(key, newName); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (p *Project) isRegisteredSuffix(ext string) bool {
	for _, v := range p.suffixes {
		if v == ext {
			return true
		}
	}
	return false
}

// ImportFile copies an external file into the project directory (or its
// canonical input/output/xml slot, if its extension matches one of the
// project's registered suffixes), recording it as an IMPORT<i> property.
func (p *Project) ImportFile(path string, overwrite bool) error {
	base := filepath.Base(path)
	dest := filepath.Join(p.filename, base)
	for _, suffix := range p.suffixes {
		if filepath.Ext(path) == "."+suffix {
			dest = filepath.Join(p.filename, p.Name()+"."+suffix)
		}
	}

	if overwrite {
		os.Remove(dest)
	}
	if err := copyFile(path, dest); err != nil {
		return sjeferr.Wrap(sjeferr.ErrConfig, "import "+path, err)
	}

	nimport, _ := strconv.Atoi(p.Property("IMPORTED"))
	if err := p.store.Set("IMPORT"+strconv.Itoa(nimport), filepath.Base(dest)); err != nil {
		return err
	}
	return p.store.Set("IMPORTED", strconv.Itoa(nimport+1))
}

// ExportFile copies a file from the project directory out to an external
// path.
func (p *Project) ExportFile(name, destination string, overwrite bool) error {
	from := filepath.Join(p.filename, name)
	if overwrite {
		os.Remove(destination)
	}
	if err := copyFile(from, destination); err != nil {
		return sjeferr.Wrap(sjeferr.ErrConfig, "export "+from, err)
	}
	return nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// copyDir recursively copies source into destination (which must not
// already exist), skipping the Locker's own lock file and, when
// skipRunDirectory is set, any nested run/ subdirectory. Mirrors
// original_source's free function copyDir.
func copyDir(source, destination string, skipRunDirectory bool) error {
	info, err := os.Stat(source)
	if err != nil || !info.IsDir() {
		return sjeferr.Wrap(sjeferr.ErrConfig, "source directory "+source+" does not exist or is not a directory", err)
	}
	if _, err := os.Stat(destination); err == nil {
		return sjeferr.Wrap(sjeferr.ErrConfig, "destination directory "+destination+" already exists", nil)
	}
	if err := os.MkdirAll(destination, 0o755); err != nil {
		return sjeferr.Wrap(sjeferr.ErrConfig, "create destination directory "+destination, err)
	}

	entries, err := os.ReadDir(source)
	if err != nil {
		return sjeferr.Wrap(sjeferr.ErrConfig, "read source directory "+source, err)
	}
	for _, entry := range entries {
		src := filepath.Join(source, entry.Name())
		dst := filepath.Join(destination, entry.Name())
		if entry.IsDir() {
			if skipRunDirectory && entry.Name() == "run" {
				continue
			}
			if err := copyDir(src, dst, skipRunDirectory); err != nil {
				return err
			}
			continue
		}
		if strings.HasSuffix(entry.Name(), ".lock") {
			continue
		}
		if err := copyFile(src, dst); err != nil {
			return err
		}
	}

	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}

func pathAbsWithSuffix(path, suffix string) (string, error) {
	return pathutil.Expand(path, suffix)
}
