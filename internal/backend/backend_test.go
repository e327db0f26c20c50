package backend

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadEnsuresLocalAndDummy(t *testing.T) {
	dir := t.TempDir()
	r, err := Load(dir, "molpro")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, ok := r.Get("local"); !ok {
		t.Fatalf("expected synthesised local backend")
	}
	if _, ok := r.Get("__dummy"); !ok {
		t.Fatalf("expected in-memory __dummy backend")
	}
}

func TestLoadMergesUserOverSite(t *testing.T) {
	dir := t.TempDir()
	siteDir := filepath.Join(dir, "site", "molpro")
	userDir := filepath.Join(dir, "molpro")
	if err := os.MkdirAll(siteDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(userDir, 0o755); err != nil {
		t.Fatal(err)
	}

	site := map[string]Backend{
		"cluster": {Name: "cluster", Host: "cluster.example.org", RunCommand: "site-command"},
	}
	user := map[string]Backend{
		"cluster": {Name: "cluster", Host: "cluster.example.org", RunCommand: "user-command"},
	}
	if err := saveYAML(filepath.Join(siteDir, "backends.yaml"), site); err != nil {
		t.Fatal(err)
	}
	if err := saveYAML(filepath.Join(userDir, "backends.yaml"), user); err != nil {
		t.Fatal(err)
	}

	r, err := Load(dir, "molpro")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	got, ok := r.Get("cluster")
	if !ok {
		t.Fatalf("expected cluster backend")
	}
	if got.RunCommand != "user-command" {
		t.Fatalf("expected user override to win, got %q", got.RunCommand)
	}
}

func TestSyncBackendConfigFileNoOpWhenAgreeing(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "molpro")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	backends := map[string]Backend{
		"cluster": {Name: "cluster", Host: "h", RunCommand: "c"},
	}
	if err := saveXML(filepath.Join(sub, "backends.xml"), backends); err != nil {
		t.Fatal(err)
	}
	if err := saveYAML(filepath.Join(sub, "backends.yaml"), backends); err != nil {
		t.Fatal(err)
	}

	format, err := SyncBackendConfigFile(dir, "molpro")
	if err != nil {
		t.Fatalf("SyncBackendConfigFile: %v", err)
	}
	if format != "" {
		t.Fatalf("expected no-op, got write to %q", format)
	}
}

func TestSyncBackendConfigFileWritesOlderFormat(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "molpro")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}

	older := map[string]Backend{"cluster": {Name: "cluster", Host: "h", RunCommand: "old"}}
	newer := map[string]Backend{"cluster": {Name: "cluster", Host: "h", RunCommand: "new"}}

	xmlPath := filepath.Join(sub, "backends.xml")
	yamlPath := filepath.Join(sub, "backends.yaml")

	if err := saveXML(xmlPath, older); err != nil {
		t.Fatal(err)
	}
	oldTime := time.Now().Add(-time.Hour)
	if err := os.Chtimes(xmlPath, oldTime, oldTime); err != nil {
		t.Fatal(err)
	}

	if err := saveYAML(yamlPath, newer); err != nil {
		t.Fatal(err)
	}

	format, err := SyncBackendConfigFile(dir, "molpro")
	if err != nil {
		t.Fatalf("SyncBackendConfigFile: %v", err)
	}
	if format != FormatXML {
		t.Fatalf("expected xml to be re-written (it was older), got %q", format)
	}

	m, err := loadXML(xmlPath)
	if err != nil {
		t.Fatal(err)
	}
	if m["cluster"].RunCommand != "new" {
		t.Fatalf("expected xml updated to new content, got %q", m["cluster"].RunCommand)
	}
}

func TestParseTemplateAndRender(t *testing.T) {
	nodes, err := ParseTemplate("molpro {-m %%memory:256!memory in MB} input.inp")
	if err != nil {
		t.Fatalf("ParseTemplate: %v", err)
	}

	values := map[string]string{}
	render := func(name string) (string, bool) {
		v, ok := values[name]
		return v, ok
	}

	got := Render(nodes, render)
	if got != "molpro -m 256 input.inp" {
		t.Fatalf("unexpected render with default: %q", got)
	}

	values["memory"] = "1024"
	got = Render(nodes, render)
	if got != "molpro -m 1024 input.inp" {
		t.Fatalf("unexpected render with explicit value: %q", got)
	}
}

func TestParseTemplateRejectsUnknownForm(t *testing.T) {
	if _, err := ParseTemplate("{no-marker-here}"); err == nil {
		t.Fatalf("expected error for a substitution missing the %%%% marker")
	}
}

func TestParseTemplateElidesWhenUnsetAndNoDefault(t *testing.T) {
	nodes, err := ParseTemplate("cmd{ --opt=%%flag}")
	if err != nil {
		t.Fatalf("ParseTemplate: %v", err)
	}
	got := Render(nodes, func(string) (string, bool) { return "", false })
	if got != "cmd" {
		t.Fatalf("expected elision, got %q", got)
	}
}
