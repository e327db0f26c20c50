// Package pathutil expands and normalizes the project and file paths that
// the rest of sjef operates on: leading "~", "$VAR"/"${VAR}" environment
// references, relative-to-cwd resolution, and suffix enforcement.
package pathutil

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/sjef-go/sjef/internal/sjeferr"
)

// Expand resolves path to an absolute, native-separator path. If
// defaultSuffix is non-empty and the result's extension differs from it,
// ".<defaultSuffix>" is appended. Expand is idempotent:
// Expand(Expand(p, s), s) == Expand(p, s).
func Expand(path string, defaultSuffix string) (string, error) {
	expanded, err := expandHome(path)
	if err != nil {
		return "", err
	}

	expanded, err = expandEnv(expanded)
	if err != nil {
		return "", err
	}

	expanded = filepath.FromSlash(expanded)

	if !filepath.IsAbs(expanded) {
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("resolve cwd: %w", err)
		}
		expanded = filepath.Join(cwd, expanded)
	}

	expanded = strings.TrimRight(expanded, string(filepath.Separator))
	if expanded == "" {
		expanded = string(filepath.Separator)
	}

	if defaultSuffix != "" {
		if ext := strings.TrimPrefix(filepath.Ext(expanded), "."); ext != defaultSuffix {
			expanded = expanded + "." + defaultSuffix
		}
	}

	return expanded, nil
}

func expandHome(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") || strings.HasPrefix(path, `~\`) {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

// expandEnv expands ${VAR} and $VAR references anywhere in path, applying the
// documented platform defaults (TMPDIR -> /tmp on non-Windows; on Windows,
// HOME -> USERPROFILE and TMPDIR -> TEMP).
func expandEnv(path string) (string, error) {
	var missing string
	expanded := os.Expand(path, func(name string) string {
		if v, ok := lookupEnv(name); ok {
			return v
		}
		if v, ok := defaultFor(name); ok {
			return v
		}
		missing = name
		return ""
	})
	if missing != "" {
		return "", sjeferr.Wrap(sjeferr.ErrEnvironmentUnset, "environment variable "+missing+" referenced in path but not set", nil)
	}
	return expanded, nil
}

func lookupEnv(name string) (string, bool) {
	if runtime.GOOS == "windows" {
		switch name {
		case "HOME":
			name = "USERPROFILE"
		case "TMPDIR":
			name = "TEMP"
		}
	}
	return os.LookupEnv(name)
}

func defaultFor(name string) (string, bool) {
	if name == "TMPDIR" && runtime.GOOS != "windows" {
		return "/tmp", true
	}
	return "", false
}
