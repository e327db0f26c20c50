package backend

import (
	"encoding/xml"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/sjef-go/sjef/internal/sjeferr"
)

type xmlBackends struct {
	XMLName  xml.Name  `xml:"backends"`
	Backends []Backend `xml:"backend"`
}

func loadXML(path string) (map[string]Backend, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc xmlBackends
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, sjeferr.Wrap(sjeferr.ErrConfig, "parse xml backend file "+path, err)
	}
	out := make(map[string]Backend, len(doc.Backends))
	for _, b := range doc.Backends {
		out[b.Name] = b
	}
	return out, nil
}

func saveXML(path string, backends map[string]Backend) error {
	doc := xmlBackends{Backends: backendsSorted(backends)}
	data, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return sjeferr.Wrap(sjeferr.ErrConfig, "marshal xml backend file "+path, err)
	}
	return os.WriteFile(path, append([]byte(xml.Header), data...), 0o644)
}

func saveYAML(path string, backends map[string]Backend) error {
	data, err := yaml.Marshal(backends)
	if err != nil {
		return sjeferr.Wrap(sjeferr.ErrConfig, "marshal yaml backend file "+path, err)
	}
	return os.WriteFile(path, data, 0o644)
}

func backendsSorted(m map[string]Backend) []Backend {
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Strings(names)
	out := make([]Backend, 0, len(names))
	for _, n := range names {
		out = append(out, m[n])
	}
	return out
}
