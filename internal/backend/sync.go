package backend

import (
	"os"
	"path/filepath"
)

// Format names an on-disk backend-config encoding.
type Format string

const (
	FormatXML  Format = "xml"
	FormatYAML Format = "yaml"
)

// SyncBackendConfigFile reconciles the XML and YAML backend-config files
// for suffix under dir. If both exist and their canonical maps agree, it is
// a no-op. Otherwise the newer file is re-emitted in the older format.
// Returns the format that was written to, or "" if no write occurred.
func SyncBackendConfigFile(dir, suffix string) (Format, error) {
	xmlPath := filepath.Join(dir, suffix, "backends.xml")
	yamlPath := filepath.Join(dir, suffix, "backends.yaml")

	xmlInfo, xmlErr := os.Stat(xmlPath)
	yamlInfo, yamlErr := os.Stat(yamlPath)

	xmlExists := xmlErr == nil
	yamlExists := yamlErr == nil

	switch {
	case !xmlExists && !yamlExists:
		return "", nil
	case xmlExists && !yamlExists:
		m, err := loadXML(xmlPath)
		if err != nil {
			return "", err
		}
		if err := saveYAML(yamlPath, m); err != nil {
			return "", err
		}
		return FormatYAML, nil
	case !xmlExists && yamlExists:
		m, err := loadYAML(yamlPath)
		if err != nil {
			return "", err
		}
		if err := saveXML(xmlPath, m); err != nil {
			return "", err
		}
		return FormatXML, nil
	}

	xmlMap, err := loadXML(xmlPath)
	if err != nil {
		return "", err
	}
	yamlMap, err := loadYAML(yamlPath)
	if err != nil {
		return "", err
	}
	if equalBackendMaps(xmlMap, yamlMap) {
		return "", nil
	}

	if xmlInfo.ModTime().After(yamlInfo.ModTime()) {
		if err := saveYAML(yamlPath, xmlMap); err != nil {
			return "", err
		}
		return FormatYAML, nil
	}
	if err := saveXML(xmlPath, yamlMap); err != nil {
		return "", err
	}
	return FormatXML, nil
}

func equalBackendMaps(a, b map[string]Backend) bool {
	if len(a) != len(b) {
		return false
	}
	for name, ab := range a {
		bb, ok := b[name]
		if !ok || ab != bb {
			return false
		}
	}
	return true
}
