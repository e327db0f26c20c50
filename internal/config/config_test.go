package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sjef-go/sjef/internal/recent"
)

func mockEnv(env map[string]string) func(string) string {
	return func(key string) string {
		return env[key]
	}
}

func TestDefaultConfig(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()

	if cfg.DefaultSuffix != "sjef" {
		t.Errorf("DefaultSuffix = %q, want %q", cfg.DefaultSuffix, "sjef")
	}
	if cfg.DefaultBackend != "local" {
		t.Errorf("DefaultBackend = %q, want %q", cfg.DefaultBackend, "local")
	}
	if cfg.RecentListCap != recent.MaxEntries {
		t.Errorf("RecentListCap = %d, want %d", cfg.RecentListCap, recent.MaxEntries)
	}
}

func TestLoadWithConfigFile(t *testing.T) {
	t.Parallel()
	tmpDir := t.TempDir()
	configContent := `
default_suffix: mol
default_backend: cluster
recent_list_cap: 64
`
	if err := os.WriteFile(filepath.Join(tmpDir, "config.yaml"), []byte(configContent), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	env := mockEnv(map[string]string{"SJEF_CONFIG": tmpDir})

	cfg, err := LoadWithEnv(env)
	if err != nil {
		t.Fatalf("LoadWithEnv() error: %v", err)
	}
	if cfg.DefaultSuffix != "mol" {
		t.Errorf("DefaultSuffix = %q, want %q", cfg.DefaultSuffix, "mol")
	}
	if cfg.DefaultBackend != "cluster" {
		t.Errorf("DefaultBackend = %q, want %q", cfg.DefaultBackend, "cluster")
	}
	if cfg.RecentListCap != 64 {
		t.Errorf("RecentListCap = %d, want 64", cfg.RecentListCap)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	t.Parallel()
	tmpDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(tmpDir, "config.yaml"), []byte("default_backend: cluster\n"), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	env := mockEnv(map[string]string{
		"SJEF_CONFIG":          tmpDir,
		"SJEF_DEFAULT_BACKEND": "remote-gpu",
	})

	cfg, err := LoadWithEnv(env)
	if err != nil {
		t.Fatalf("LoadWithEnv() error: %v", err)
	}
	if cfg.DefaultBackend != "remote-gpu" {
		t.Errorf("DefaultBackend = %q, want %q (env override)", cfg.DefaultBackend, "remote-gpu")
	}
}

func TestLoadNoConfigFile(t *testing.T) {
	t.Parallel()
	tmpDir := t.TempDir()
	env := mockEnv(map[string]string{"SJEF_CONFIG": tmpDir})

	cfg, err := LoadWithEnv(env)
	if err != nil {
		t.Fatalf("LoadWithEnv() error: %v", err)
	}
	if cfg.DefaultSuffix != "sjef" {
		t.Errorf("DefaultSuffix = %q, want default %q", cfg.DefaultSuffix, "sjef")
	}
	if cfg.RecentListCap != recent.MaxEntries {
		t.Errorf("RecentListCap = %d, want default %d", cfg.RecentListCap, recent.MaxEntries)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	t.Parallel()
	tmpDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(tmpDir, "config.yaml"), []byte("default_suffix: [oops\n"), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	env := mockEnv(map[string]string{"SJEF_CONFIG": tmpDir})

	if _, err := LoadWithEnv(env); err == nil {
		t.Error("LoadWithEnv() with invalid YAML should return error")
	}
}

func TestConfigRootFallsBackToHome(t *testing.T) {
	t.Parallel()
	env := mockEnv(map[string]string{})
	home, _ := os.UserHomeDir()
	want := filepath.Join(home, ".sjef")
	if got := configRootWithEnv(env); got != want {
		t.Errorf("configRootWithEnv() = %q, want %q", got, want)
	}
}

func TestConfigRootHonoursSjefConfig(t *testing.T) {
	t.Parallel()
	env := mockEnv(map[string]string{"SJEF_CONFIG": "/custom/config/path"})
	if got := configRootWithEnv(env); got != "/custom/config/path" {
		t.Errorf("configRootWithEnv() = %q, want %q", got, "/custom/config/path")
	}
}

func TestRecentListCapNeverZero(t *testing.T) {
	t.Parallel()
	tmpDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(tmpDir, "config.yaml"), []byte("recent_list_cap: 0\n"), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	env := mockEnv(map[string]string{"SJEF_CONFIG": tmpDir})

	cfg, err := LoadWithEnv(env)
	if err != nil {
		t.Fatalf("LoadWithEnv() error: %v", err)
	}
	if cfg.RecentListCap != recent.MaxEntries {
		t.Errorf("RecentListCap = %d, want fallback %d", cfg.RecentListCap, recent.MaxEntries)
	}
}
