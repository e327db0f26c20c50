// Package config carries the ambient, process-wide settings that every
// pkg/sjef.Project loads once at construction: where the config root
// lives, plus default suffix, default backend and recent-list cap values
// that pkg/sjef stores but does not consult. Shaped directly on the
// teacher's internal/config/config.go (YAML-backed struct, DefaultConfig,
// env override, injectable getenv for tests).
package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/sjef-go/sjef/internal/recent"
	"github.com/sjef-go/sjef/internal/sjeferr"
)

// Config is the process-wide settings document, rooted at
// <CONFIG_ROOT>/config.yaml.
type Config struct {
	// DefaultSuffix is the configured default project suffix. pkg/sjef.New
	// does not consult it; a path without an extension still takes its
	// suffix from Options.DefaultSuffix.
	DefaultSuffix string `yaml:"default_suffix"`
	// DefaultBackend is the configured default backend name. pkg/sjef does
	// not consult it; a project without a backend gets the one named by the
	// DefaultBackend customization hook.
	DefaultBackend string `yaml:"default_backend"`
	// RecentListCap is the configured recent-list size, replaced by
	// recent.MaxEntries when not positive. internal/recent does not consult
	// it; recent lists are always capped at recent.MaxEntries.
	RecentListCap int `yaml:"recent_list_cap"`
}

// DefaultConfig returns the built-in defaults, matching spec.md's own
// fallbacks where it names one explicitly (the 128-entry recent-list cap).
func DefaultConfig() *Config {
	return &Config{
		DefaultSuffix:  "sjef",
		DefaultBackend: "local",
		RecentListCap:  recent.MaxEntries,
	}
}

// Load loads configuration using the real environment.
func Load() (*Config, error) {
	return LoadWithEnv(os.Getenv)
}

// LoadWithEnv loads configuration using the provided environment lookup
// function, so tests can supply isolated values instead of the process
// environment.
func LoadWithEnv(getenv func(string) string) (*Config, error) {
	cfg := DefaultConfig()

	path := filepath.Join(configRootWithEnv(getenv), "config.yaml")
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, sjeferr.Wrap(sjeferr.ErrConfig, "parse config file "+path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, sjeferr.Wrap(sjeferr.ErrConfig, "read config file "+path, err)
	}

	if suffix := getenv("SJEF_DEFAULT_SUFFIX"); suffix != "" {
		cfg.DefaultSuffix = suffix
	}
	if backend := getenv("SJEF_DEFAULT_BACKEND"); backend != "" {
		cfg.DefaultBackend = backend
	}
	if cfg.RecentListCap <= 0 {
		cfg.RecentListCap = recent.MaxEntries
	}

	return cfg, nil
}

// ConfigRoot returns the real process environment's config root: the
// SJEF_CONFIG directory if set, else ~/.sjef, per spec.md §6.
func ConfigRoot() string {
	return configRootWithEnv(os.Getenv)
}

func configRootWithEnv(getenv func(string) string) string {
	if root := getenv("SJEF_CONFIG"); root != "" {
		return root
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".sjef")
}
