// Package backend implements the Backend Registry: loading and merging
// per-user and per-site backend definitions, kept as alternate XML/YAML
// encodings of one canonical map, per spec.md §4.D and the "canonical map
// representation" design note in spec.md §9. Structurally this mirrors the
// teacher's internal/config.Config (YAML-backed struct with a DefaultConfig
// fallback and an env-var overlay); the registry generalizes that single
// struct into a named map of records loaded from two locations.
package backend

import (
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/sjef-go/sjef/internal/sjeferr"
)

// Backend is a named record describing how to launch, observe, and kill a
// program on a target host.
type Backend struct {
	Name          string `xml:"name,attr" yaml:"-"`
	Host          string `xml:"host,attr" yaml:"host"`
	Cache         string `xml:"cache,attr" yaml:"cache"`
	RunCommand    string `xml:"run_command,attr" yaml:"run_command"`
	RunJobNumber  string `xml:"run_jobnumber,attr" yaml:"run_jobnumber"`
	StatusCommand string `xml:"status_command,attr" yaml:"status_command"`
	StatusRunning string `xml:"status_running,attr" yaml:"status_running"`
	StatusWaiting string `xml:"status_waiting,attr" yaml:"status_waiting"`
	KillCommand   string `xml:"kill_command,attr" yaml:"kill_command"`
}

// IsLocal reports whether the backend runs on this machine.
func (b Backend) IsLocal() bool { return b.Host == "" || b.Host == "localhost" }

// Local is the reserved default backend, synthesised when no site/user file
// defines one.
func Local() Backend {
	return Backend{
		Name:          "local",
		Host:          "",
		Cache:         "",
		RunCommand:    "{%%command}",
		RunJobNumber:  `([0-9]+)`,
		StatusCommand: "ps",
		StatusRunning: `\sR\s`,
		StatusWaiting: `\sS\s`,
		KillCommand:   "kill",
	}
}

// Dummy is the reserved in-memory test backend. It is always registered,
// never persisted, and its "launch command" is handled specially by
// internal/job: it writes canned .out/.xml content instead of invoking a
// shell at all (see spec.md §9's Open Question on the __dummy contract).
func Dummy() Backend {
	return Backend{
		Name:          "__dummy",
		Host:          "",
		Cache:         "",
		RunCommand:    "__dummy__",
		RunJobNumber:  `([0-9]+)`,
		StatusCommand: "true",
		StatusRunning: `running`,
		StatusWaiting: `waiting`,
		KillCommand:   "true",
	}
}

// Registry is the in-memory canonical map of backend name to record.
type Registry struct {
	backends map[string]Backend
}

// NewRegistry returns a registry containing only the reserved entries.
func NewRegistry() *Registry {
	r := &Registry{backends: map[string]Backend{}}
	r.backends["local"] = Local()
	r.backends["__dummy"] = Dummy()
	return r
}

// Get returns the named backend and whether it was found.
func (r *Registry) Get(name string) (Backend, bool) {
	b, ok := r.backends[name]
	return b, ok
}

// Put inserts or overwrites a backend by name.
func (r *Registry) Put(b Backend) {
	r.backends[b.Name] = b
}

// Names returns every registered backend name, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.backends))
	for n := range r.backends {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Load reads the site-wide file then the per-user file (if present) for the
// given suffix under root, merging with per-user entries overriding
// same-named site entries, and ensures "local" and "__dummy" are present.
func Load(root, suffix string) (*Registry, error) {
	r := NewRegistry()

	siteDir := filepath.Join(root, "site", suffix)
	userDir := filepath.Join(root, suffix)

	if err := mergeFrom(r, siteDir); err != nil {
		return nil, err
	}
	if err := mergeFrom(r, userDir); err != nil {
		return nil, err
	}

	if _, ok := r.Get("local"); !ok {
		r.Put(Local())
	}
	r.Put(Dummy())

	return r, nil
}

func mergeFrom(r *Registry, dir string) error {
	xmlPath := filepath.Join(dir, "backends.xml")
	yamlPath := filepath.Join(dir, "backends.yaml")

	if m, err := loadXML(xmlPath); err == nil {
		for _, b := range m {
			r.Put(b)
		}
	} else if !os.IsNotExist(err) {
		return sjeferr.Wrap(sjeferr.ErrConfig, "load "+xmlPath, err)
	}

	if m, err := loadYAML(yamlPath); err == nil {
		for _, b := range m {
			r.Put(b)
		}
	} else if !os.IsNotExist(err) {
		return sjeferr.Wrap(sjeferr.ErrConfig, "load "+yamlPath, err)
	}

	return nil
}

func loadYAML(path string) (map[string]Backend, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw map[string]Backend
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, sjeferr.Wrap(sjeferr.ErrConfig, "parse yaml backend file "+path, err)
	}
	for name, b := range raw {
		b.Name = name
		raw[name] = b
	}
	return raw, nil
}
